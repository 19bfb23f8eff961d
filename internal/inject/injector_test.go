package inject_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/inject"
	"github.com/xkilldash9x/formpilot/internal/render"
	"github.com/xkilldash9x/formpilot/internal/render/memtree"
)

const formDoc = `<html><body>
<form>
  <input id="first" name="firstName" value="stale">
  <input id="phone" name="phone" type="tel">
  <input id="remote" name="remote" type="checkbox">
  <input id="relocate" name="relocate" type="checkbox" checked>
</form>
</body></html>`

const reactKey = "__reactProps$k3x9"

func fastConfig(framework string) config.InjectorConfig {
	return config.InjectorConfig{
		Framework:     framework,
		HandlerSettle: time.Millisecond,
		BlurDelay:     time.Millisecond,
		KeystrokeMin:  0,
		KeystrokeMax:  time.Millisecond,
	}
}

func setup(t *testing.T) (*memtree.Tree, context.Context) {
	t.Helper()
	tree, err := memtree.ParseString(formDoc)
	require.NoError(t, err)
	return tree, context.Background()
}

func handleOf(t *testing.T, tree *memtree.Tree, xpath string) render.Handle {
	t.Helper()
	handles, err := tree.Query(context.Background(), xpath, render.Document)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	return handles[0]
}

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestNewBridge(t *testing.T) {
	for _, tc := range []struct {
		framework string
		want      string
	}{
		{"react", "react"},
		{"React", "react"},
		{"vue", "vue"},
		{"native", "native"},
		{"", "native"},
	} {
		b, err := inject.NewBridge(tc.framework)
		require.NoError(t, err, tc.framework)
		assert.Equal(t, tc.want, b.Name())
	}

	_, err := inject.NewBridge("angular")
	assert.Error(t, err)
}

func TestInject_ReactHandlerPath(t *testing.T) {
	defer goleak.VerifyNone(t)
	tree, ctx := setup(t)

	var seen []render.Event
	tree.AttachHandler("//input[@id='first']", reactKey, "onChange", func(ev render.Event) error {
		seen = append(seen, ev)
		return nil
	})

	inj := inject.New(tree, inject.ReactBridge{}, fastConfig("react"), nil)
	h := handleOf(t, tree, "//input[@id='first']")

	out, err := inj.Inject(ctx, h, "Ada")
	require.NoError(t, err)
	assert.True(t, out.Succeeded)
	assert.Equal(t, schemas.StrategyInternalState, out.Strategy)

	require.Len(t, seen, 2)
	assert.Equal(t, "", seen[0].Value, "the handler is first called with an empty value")
	assert.Equal(t, "Ada", seen[1].Value)
	assert.Equal(t, render.EventChange, seen[1].Kind)
	assert.Equal(t, "firstName", seen[1].Name)

	events, err := tree.Events(h)
	require.NoError(t, err)
	assert.Equal(t, []string{"focus", "handler:onChange", "handler:onChange", "input", "change", "blur"}, events)

	_, focused := tree.Focused()
	assert.False(t, focused, "the field should be blurred afterwards")
}

func TestInject_VueInvokers(t *testing.T) {
	tree, ctx := setup(t)
	var calls []string
	record := func(name string) memtree.HandlerFunc {
		return func(ev render.Event) error {
			calls = append(calls, name+"="+ev.Value)
			return nil
		}
	}
	tree.AttachHandler("//input[@id='first']", "_vei", "onInput", record("onInput"))
	tree.AttachHandler("//input[@id='first']", "_vei", "onChange", record("onChange"))

	inj := inject.New(tree, inject.VueBridge{}, fastConfig("vue"), nil)
	out, err := inj.Inject(ctx, handleOf(t, tree, "//input[@id='first']"), "Grace")
	require.NoError(t, err)
	assert.True(t, out.Succeeded)
	assert.Equal(t, schemas.StrategyInternalState, out.Strategy)
	assert.Equal(t, []string{"onInput=", "onChange=", "onInput=Grace", "onChange=Grace"}, calls)
}

func TestInject_NativeFallbackIsLogged(t *testing.T) {
	tree, ctx := setup(t)
	logger, logs := newObservedLogger()

	inj := inject.New(tree, inject.ReactBridge{}, fastConfig("react"), logger)
	h := handleOf(t, tree, "//input[@id='first']")

	out, err := inj.Inject(ctx, h, "Ada")
	require.NoError(t, err)
	assert.True(t, out.Succeeded, "native events still set the value")
	assert.Equal(t, schemas.StrategyNativeEventFallback, out.Strategy)

	degraded := logs.FilterField(zap.String("error_kind", string(schemas.ErrorInjectionDegraded)))
	assert.Equal(t, 1, degraded.Len())

	events, err := tree.Events(h)
	require.NoError(t, err)
	assert.Equal(t, []string{"focus", "input", "change", "blur"}, events)
}

func TestInject_FailingHandlerDegrades(t *testing.T) {
	tree, ctx := setup(t)
	tree.AttachHandler("//input[@id='first']", reactKey, "onChange", func(render.Event) error {
		return errors.New("synthetic event pool exhausted")
	})

	inj := inject.New(tree, inject.ReactBridge{}, fastConfig("react"), nil)
	out, err := inj.Inject(ctx, handleOf(t, tree, "//input[@id='first']"), "Ada")
	require.NoError(t, err)
	assert.True(t, out.Succeeded)
	assert.Equal(t, schemas.StrategyNativeEventFallback, out.Strategy)
}

func TestInject_Idempotent(t *testing.T) {
	tree, ctx := setup(t)
	tree.AttachHandler("//input[@id='first']", reactKey, "onChange", func(render.Event) error { return nil })

	inj := inject.New(tree, nil, fastConfig("native"), nil)
	assert.Equal(t, "native", inj.Bridge().Name())

	h := handleOf(t, tree, "//input[@id='first']")
	for i := 0; i < 2; i++ {
		out, err := inj.Inject(ctx, h, "Ada")
		require.NoError(t, err)
		assert.True(t, out.Succeeded)
	}
	info, err := tree.Describe(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "Ada", info.Value)
}

func TestInject_StaleAndCanceled(t *testing.T) {
	tree, ctx := setup(t)
	inj := inject.New(tree, inject.ReactBridge{}, fastConfig("react"), nil)
	h := handleOf(t, tree, "//input[@id='first']")

	tree.Rerender()
	_, err := inj.Inject(ctx, h, "Ada")
	assert.ErrorIs(t, err, render.ErrStale)

	fresh := handleOf(t, tree, "//input[@id='first']")
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = inj.Inject(cctx, fresh, "Ada")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestType_FiresPerKeystroke(t *testing.T) {
	tree, ctx := setup(t)
	var values []string
	tree.AttachHandler("//input[@id='phone']", reactKey, "onChange", func(ev render.Event) error {
		values = append(values, ev.Value)
		return nil
	})

	inj := inject.New(tree, inject.ReactBridge{}, fastConfig("react"), nil)
	h := handleOf(t, tree, "//input[@id='phone']")

	out, err := inj.Type(ctx, h, "555")
	require.NoError(t, err)
	assert.True(t, out.Succeeded)
	assert.Equal(t, schemas.StrategyInternalState, out.Strategy)
	assert.Equal(t, []string{"", "5", "55", "555"}, values)

	events, err := tree.Events(h)
	require.NoError(t, err)
	inputs := 0
	for _, e := range events {
		if e == "input" {
			inputs++
		}
	}
	assert.Equal(t, 4, inputs, "one input event for the clear and one per character")
	assert.Equal(t, "blur", events[len(events)-1])
}

func TestSetChecked(t *testing.T) {
	tree, ctx := setup(t)
	inj := inject.New(tree, inject.ReactBridge{}, fastConfig("react"), nil)

	t.Run("already in state does not click", func(t *testing.T) {
		h := handleOf(t, tree, "//input[@id='relocate']")
		out, err := inj.SetChecked(ctx, h, true)
		require.NoError(t, err)
		assert.True(t, out.Succeeded)
		assert.Equal(t, schemas.StrategyInternalState, out.Strategy)

		events, err := tree.Events(h)
		require.NoError(t, err)
		assert.NotContains(t, events, "click")
	})

	t.Run("differing state clicks once", func(t *testing.T) {
		h := handleOf(t, tree, "//input[@id='remote']")
		out, err := inj.SetChecked(ctx, h, true)
		require.NoError(t, err)
		assert.True(t, out.Succeeded)

		info, err := tree.Describe(ctx, h)
		require.NoError(t, err)
		assert.True(t, info.Checked)

		events, err := tree.Events(h)
		require.NoError(t, err)
		assert.Equal(t, []string{"click", "input", "change"}, events)

		out, err = inj.SetChecked(ctx, h, false)
		require.NoError(t, err)
		assert.True(t, out.Succeeded)
	})
}
