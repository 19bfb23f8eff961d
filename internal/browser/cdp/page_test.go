package cdp

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/formpilot/internal/config"
)

func TestPickTarget(t *testing.T) {
	targets := []*target.Info{
		{TargetID: "sw", Type: "service_worker", URL: "https://careers.example.test/sw.js"},
		{TargetID: "blank", Type: "page", URL: "about:blank"},
		{TargetID: "mail", Type: "page", URL: "https://mail.example.test/inbox"},
		{TargetID: "apply", Type: "page", URL: "https://careers.example.test/apply/my-experience"},
	}

	got, err := pickTarget(targets, "careers.example.test/apply")
	require.NoError(t, err)
	assert.Equal(t, target.ID("apply"), got.TargetID, "only page targets are considered")

	got, err = pickTarget(targets, "")
	require.NoError(t, err)
	assert.Equal(t, target.ID("mail"), got.TargetID, "blank tabs are skipped without a filter")

	_, err = pickTarget(targets, "workday")
	assert.ErrorContains(t, err, `no open tab matches "workday"`)

	_, err = pickTarget(targets[:2], "")
	assert.ErrorContains(t, err, "no open tab to attach to")
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		arg   string
		name  string
		value interface{}
	}{
		{"--window-size=1280,900", "window-size", "1280,900"},
		{"--no-first-run", "no-first-run", true},
		{" lang=en-US ", "lang", "en-US"},
		{"--", "", true},
	}
	for _, tt := range tests {
		name, value := parseArg(tt.arg)
		assert.Equal(t, tt.name, name, tt.arg)
		assert.Equal(t, tt.value, value, tt.arg)
	}
}

func TestAllocatorOptions_AppendsConfiguredFlags(t *testing.T) {
	base := allocatorOptions(config.BrowserConfig{})
	withArgs := allocatorOptions(config.BrowserConfig{Args: []string{"--lang=en-US", "--", "--mute-audio"}})
	assert.Len(t, withArgs, len(base)+2, "empty flag names are dropped")
}

func TestDecodeString(t *testing.T) {
	var out string
	require.NoError(t, decodeString(&runtime.RemoteObject{Type: runtime.TypeString, Value: []byte(`"{\"ok\":true}"`)}, &out))
	assert.Equal(t, `{"ok":true}`, out)

	err := decodeString(&runtime.RemoteObject{Type: runtime.TypeUndefined}, &out)
	assert.ErrorContains(t, err, "returned undefined")

	err = decodeString(nil, &out)
	assert.ErrorContains(t, err, "returned nothing")
}

func TestDescribeException(t *testing.T) {
	exc := &runtime.ExceptionDetails{Text: "Uncaught"}
	assert.Equal(t, "Uncaught", describeException(exc))

	exc.Exception = &runtime.RemoteObject{Description: "TypeError: x is not a function"}
	assert.Equal(t, "TypeError: x is not a function", describeException(exc))
}

func TestRun_RequiresConnectedTab(t *testing.T) {
	p := &Page{}
	_, err := p.Evaluate(context.Background(), "1")
	assert.ErrorContains(t, err, "not connected")
	assert.NoError(t, p.Close())
}
