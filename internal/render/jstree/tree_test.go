package jstree

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/formpilot/internal/render"
)

var callPattern = regexp.MustCompile(`window\.__formpilot\.call\(("[a-zA-Z]+"), (\[.*\])\) :`)

// fakePage stands in for a browser tab. It answers primitive calls from a
// table keyed by operation name and forgets its primitives on navigate.
type fakePage struct {
	installed bool
	replies   map[string]string
	calls     []fakeCall
	failWith  error
}

type fakeCall struct {
	op   string
	args []interface{}
}

func (p *fakePage) Evaluate(ctx context.Context, expr string) (string, error) {
	if p.failWith != nil {
		return "", p.failWith
	}
	if strings.Contains(expr, "window.__formpilot = {") {
		p.installed = true
		return "installed", nil
	}
	m := callPattern.FindStringSubmatch(expr)
	if m == nil {
		return "", errors.New("unexpected expression")
	}
	if !p.installed {
		return `{"missing":true}`, nil
	}
	var op string
	var args []interface{}
	if err := json.Unmarshal([]byte(m[1]), &op); err != nil {
		return "", err
	}
	if err := json.Unmarshal([]byte(m[2]), &args); err != nil {
		return "", err
	}
	p.calls = append(p.calls, fakeCall{op: op, args: args})
	if r, ok := p.replies[op]; ok {
		return r, nil
	}
	return `{"ok":true,"result":true}`, nil
}

func (p *fakePage) navigate() { p.installed = false }

func TestCall_InstallsPrimitivesOnDemand(t *testing.T) {
	ctx := context.Background()
	page := &fakePage{replies: map[string]string{
		"query": `{"ok":true,"result":["j1","j2"]}`,
	}}
	tree := New(page, nil)

	handles, err := tree.Query(ctx, "//input", render.Document)
	require.NoError(t, err)
	assert.Equal(t, []render.Handle{"j1", "j2"}, handles)
	assert.Equal(t, 1, tree.Installs())

	_, err = tree.Query(ctx, "//input", render.Document)
	require.NoError(t, err)
	assert.Equal(t, 1, tree.Installs(), "primitives should only be installed once per document")

	page.navigate()
	_, err = tree.Query(ctx, "//input", render.Document)
	require.NoError(t, err)
	assert.Equal(t, 2, tree.Installs())

	require.Len(t, page.calls, 3)
	assert.Equal(t, []interface{}{"//input", ""}, page.calls[0].args)
}

func TestDescribe_DecodesNodeInfo(t *testing.T) {
	page := &fakePage{installed: true, replies: map[string]string{
		"describe": `{"ok":true,"result":{"tag":"li","id":"","name":"","type":"","role":"option","value":"","checked":false,"text":"Master's Degree","data_value":"c7696"}}`,
	}}
	tree := New(page, nil)

	info, err := tree.Describe(context.Background(), "j7")
	require.NoError(t, err)
	assert.Equal(t, "li", info.Tag)
	assert.Equal(t, "option", info.Role)
	assert.Equal(t, "Master's Degree", info.Text)
	require.NotNil(t, info.DataValue)
	assert.Equal(t, "c7696", *info.DataValue)
}

func TestCall_StaleAndErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Stale", func(t *testing.T) {
		page := &fakePage{installed: true, replies: map[string]string{
			"click": `{"ok":false,"stale":true,"error":"stale handle j3"}`,
		}}
		err := New(page, nil).Click(ctx, "j3")
		assert.ErrorIs(t, err, render.ErrStale)
	})

	t.Run("ScriptError", func(t *testing.T) {
		page := &fakePage{installed: true, replies: map[string]string{
			"query": `{"ok":false,"error":"The string '//input[' is not a valid XPath expression."}`,
		}}
		_, err := New(page, nil).Query(ctx, "//input[", render.Document)
		require.Error(t, err)
		assert.NotErrorIs(t, err, render.ErrStale)
		assert.Contains(t, err.Error(), "not a valid XPath")
	})

	t.Run("EvaluatorError", func(t *testing.T) {
		page := &fakePage{failWith: errors.New("target closed")}
		err := New(page, nil).Focus(ctx, "j1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "target closed")
	})

	t.Run("Canceled", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		err := New(&fakePage{installed: true}, nil).Blur(canceled, "j1")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("MalformedReply", func(t *testing.T) {
		page := &fakePage{installed: true, replies: map[string]string{"ownKeys": `not json`}}
		_, err := New(page, nil).OwnKeys(ctx, "j1")
		assert.Error(t, err)
	})
}

func TestInvokeHandler_SendsEvent(t *testing.T) {
	page := &fakePage{installed: true}
	tree := New(page, nil)

	ev := render.Event{Kind: render.EventChange, Name: "school", Value: `O'Brien "Academy"`, Type: "text"}
	require.NoError(t, tree.InvokeHandler(context.Background(), "j9", "__reactProps$k", "onChange", ev))

	require.Len(t, page.calls, 1)
	call := page.calls[0]
	assert.Equal(t, "invoke", call.op)
	require.Len(t, call.args, 4)
	assert.Equal(t, "j9", call.args[0])
	assert.Equal(t, "__reactProps$k", call.args[1])
	assert.Equal(t, "onChange", call.args[2])
	sent, ok := call.args[3].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "CHANGE", sent["kind"])
	assert.Equal(t, `O'Brien "Academy"`, sent["value"])
}

func TestHasHandlerAndOwnKeys(t *testing.T) {
	page := &fakePage{installed: true, replies: map[string]string{
		"hasHandler": `{"ok":true,"result":true}`,
		"ownKeys":    `{"ok":true,"result":["__reactFiber$k","__reactProps$k"]}`,
	}}
	tree := New(page, nil)
	ctx := context.Background()

	ok, err := tree.HasHandler(ctx, "j1", "_vei", "onInput")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := tree.OwnKeys(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, []string{"__reactFiber$k", "__reactProps$k"}, keys)
}

func TestPrimitivesScriptIsEmbedded(t *testing.T) {
	assert.Contains(t, primitivesScript, "window.__formpilot = {")
	for _, op := range []string{"query", "describe", "focus", "blur", "setValue", "setText", "dispatch", "click", "ownKeys", "hasHandler", "invoke"} {
		assert.Contains(t, primitivesScript, op+": function", "primitive %s should be defined", op)
	}
}
