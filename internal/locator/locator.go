// Package locator finds nodes through ordered selector strategies. The first
// strategy that yields a node wins; with a timeout the whole ordered list is
// retried on an interval until something matches.
package locator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/render"
	"github.com/xkilldash9x/formpilot/internal/waiter"
)

// Match is a resolved node and the selector that found it.
type Match struct {
	Handle render.Handle
	// Index is the position of Spec in the list that was resolved.
	Index int
	Spec  schemas.SelectorSpec
}

// Fallback reports whether a selector other than the first one matched.
func (m Match) Fallback() bool { return m.Index > 0 }

// Locator resolves selector lists against a render tree.
type Locator struct {
	tree   render.Tree
	cfg    config.LocatorConfig
	logger *zap.Logger
}

// New creates a Locator.
func New(tree render.Tree, cfg config.LocatorConfig, logger *zap.Logger) *Locator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &Locator{tree: tree, cfg: cfg, logger: observability.Named(logger, "locator")}
}

// DefaultTimeout is the configured timeout for callers without their own.
func (l *Locator) DefaultTimeout() time.Duration { return l.cfg.DefaultTimeout }

// Resolve finds the first node matched by specs, in spec order, across the
// whole document.
func (l *Locator) Resolve(ctx context.Context, specs []schemas.SelectorSpec, timeout time.Duration) (Match, error) {
	return l.ResolveWithin(ctx, render.Document, specs, timeout)
}

// ResolveWithin is Resolve restricted to descendants of scope.
//
// A timeout of zero performs a single pass with no delay. Cancellation is
// returned as the context error; exhaustion as a *NotFoundError.
func (l *Locator) ResolveWithin(ctx context.Context, scope render.Handle, specs []schemas.SelectorSpec, timeout time.Duration) (Match, error) {
	var match Match
	found, err := waiter.Poll(ctx, l.cfg.PollInterval, timeout, func(ctx context.Context) (bool, error) {
		m, ok, err := l.pass(ctx, scope, specs)
		if err != nil || !ok {
			return false, err
		}
		match = m
		return true, nil
	})
	if err != nil {
		return Match{}, err
	}
	if !found {
		return Match{}, NewNotFoundError(specs, timeout)
	}
	if match.Fallback() {
		l.logger.Info("Resolved through fallback selector.",
			zap.Int("index", match.Index),
			zap.Stringer("selector", match.Spec),
		)
	}
	return match, nil
}

// pass tries every spec once. Per-spec failures are treated as "no match";
// only context errors and a stale scope abort the pass.
func (l *Locator) pass(ctx context.Context, scope render.Handle, specs []schemas.SelectorSpec) (Match, bool, error) {
	for i, spec := range specs {
		expr, err := Compile(spec)
		if err != nil {
			l.logger.Warn("Skipping invalid selector.", zap.Int("index", i), zap.Error(err))
			continue
		}
		if !scope.IsZero() {
			expr = Scoped(expr)
		}
		handles, err := l.tree.Query(ctx, expr, scope)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Match{}, false, ctxErr
			}
			if !scope.IsZero() && errors.Is(err, render.ErrStale) {
				return Match{}, false, err
			}
			l.logger.Debug("Selector query failed.", zap.Stringer("selector", spec), zap.Error(err))
			continue
		}
		if len(handles) > 0 {
			return Match{Handle: handles[0], Index: i, Spec: spec}, true, nil
		}
	}
	return Match{}, false, nil
}

// Exists reports whether any node matches expr right now.
func (l *Locator) Exists(ctx context.Context, expr string) (bool, error) {
	handles, err := l.tree.Query(ctx, expr, render.Document)
	if err != nil {
		return false, err
	}
	return len(handles) > 0, nil
}
