// Package browser opens a live page with the configured engine and exposes
// it as a render tree.
package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser/cdp"
	"github.com/xkilldash9x/formpilot/internal/browser/pw"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/render"
	"github.com/xkilldash9x/formpilot/internal/render/jstree"
)

// Page is a live browser tab.
type Page interface {
	jstree.Evaluator
	Navigate(ctx context.Context, url string) error
	Close() error
}

var (
	_ Page = (*cdp.Page)(nil)
	_ Page = (*pw.Page)(nil)
)

// Open starts (or attaches to) a browser according to cfg.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (Page, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Engine {
	case config.EnginePlaywright:
		return pw.Open(ctx, cfg, logger)
	default:
		return cdp.Open(ctx, cfg, logger)
	}
}

// Session is an open page together with the render tree over it.
type Session struct {
	page Page
	tree *jstree.Tree
}

// NewSession opens a page and, when url is not empty, navigates to it.
func NewSession(ctx context.Context, cfg config.BrowserConfig, url string, logger *zap.Logger) (*Session, error) {
	page, err := Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s := Wrap(page, logger)
	if url != "" {
		if err := page.Navigate(ctx, url); err != nil {
			_ = page.Close()
			return nil, err
		}
	}
	return s, nil
}

// Wrap builds a Session over an already open page.
func Wrap(page Page, logger *zap.Logger) *Session {
	return &Session{page: page, tree: jstree.New(page, logger)}
}

// Tree returns the render tree over the session's page.
func (s *Session) Tree() render.Tree { return s.tree }

// Page returns the underlying page.
func (s *Session) Page() Page { return s.page }

// Goto navigates the session's page.
func (s *Session) Goto(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("no url to navigate to")
	}
	return s.page.Navigate(ctx, url)
}

// Close closes the page.
func (s *Session) Close() error {
	return s.page.Close()
}
