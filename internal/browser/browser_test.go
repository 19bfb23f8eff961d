package browser_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
)

// scriptedPage answers every evaluation with a primitives reply.
type scriptedPage struct {
	navigated []string
	navErr    error
	closed    bool
	evals     int
}

func (p *scriptedPage) Evaluate(ctx context.Context, expression string) (string, error) {
	p.evals++
	return `{"ok":true,"result":[]}`, nil
}

func (p *scriptedPage) Navigate(ctx context.Context, url string) error {
	p.navigated = append(p.navigated, url)
	return p.navErr
}

func (p *scriptedPage) Close() error {
	p.closed = true
	return nil
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser()

	bad := cfg
	bad.Engine = "selenium"
	_, err := browser.Open(context.Background(), bad, nil)
	assert.ErrorContains(t, err, "browser.engine must be")

	bad = cfg
	bad.Engine = config.EnginePlaywright
	bad.RemoteURL = "ws://127.0.0.1:9222"
	_, err = browser.Open(context.Background(), bad, nil)
	assert.ErrorContains(t, err, "only supported by the chromedp engine")
}

func TestSession(t *testing.T) {
	page := &scriptedPage{}
	s := browser.Wrap(page, nil)
	require.NotNil(t, s.Tree())
	assert.Same(t, page, s.Page())

	handles, err := s.Tree().Query(context.Background(), "//input", "")
	require.NoError(t, err)
	assert.Empty(t, handles)
	assert.Equal(t, 1, page.evals, "the tree evaluates through the page")

	assert.ErrorContains(t, s.Goto(context.Background(), ""), "no url")
	require.NoError(t, s.Goto(context.Background(), "https://careers.example.test/apply"))
	assert.Equal(t, []string{"https://careers.example.test/apply"}, page.navigated)

	page.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	assert.Error(t, s.Goto(context.Background(), "https://nowhere.test"))

	require.NoError(t, s.Close())
	assert.True(t, page.closed)
}
