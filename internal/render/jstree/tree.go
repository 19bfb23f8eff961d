// Package jstree implements render.Tree on top of any JavaScript evaluator
// attached to a live page. A small primitives script is installed into the
// page on first use; it keeps weak references to the nodes it hands out so a
// re-rendered node surfaces as render.ErrStale instead of a silent miss.
package jstree

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/render"
)

//go:embed js_scripts/primitives.js
var primitivesScript string

// Evaluator runs a JavaScript expression in the page and returns its result,
// which for every expression this package sends is a string.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string) (string, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, expression string) (string, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, expression string) (string, error) {
	return f(ctx, expression)
}

type reply struct {
	OK      bool            `json:"ok"`
	Stale   bool            `json:"stale"`
	Missing bool            `json:"missing"`
	Error   string          `json:"error"`
	Result  json.RawMessage `json:"result"`
}

// Tree is a render.Tree backed by a page evaluator.
type Tree struct {
	eval   Evaluator
	logger *zap.Logger

	mu       sync.Mutex
	installs int
}

var _ render.Tree = (*Tree)(nil)

// New wraps an evaluator. The primitives are installed lazily.
func New(eval Evaluator, logger *zap.Logger) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tree{eval: eval, logger: logger.Named("jstree")}
}

// Installs reports how many times the primitives script has been injected.
// A count above one means the page navigated at least once.
func (t *Tree) Installs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.installs
}

func (t *Tree) Query(ctx context.Context, xpath string, scope render.Handle) ([]render.Handle, error) {
	var handles []render.Handle
	if err := t.call(ctx, "query", &handles, xpath, scope); err != nil {
		return nil, err
	}
	return handles, nil
}

func (t *Tree) Describe(ctx context.Context, h render.Handle) (render.NodeInfo, error) {
	var info render.NodeInfo
	err := t.call(ctx, "describe", &info, h)
	return info, err
}

func (t *Tree) Focus(ctx context.Context, h render.Handle) error {
	return t.call(ctx, "focus", nil, h)
}

func (t *Tree) Blur(ctx context.Context, h render.Handle) error {
	return t.call(ctx, "blur", nil, h)
}

func (t *Tree) SetValue(ctx context.Context, h render.Handle, value string) error {
	return t.call(ctx, "setValue", nil, h, value)
}

func (t *Tree) SetText(ctx context.Context, h render.Handle, text string) error {
	return t.call(ctx, "setText", nil, h, text)
}

func (t *Tree) Dispatch(ctx context.Context, h render.Handle, eventType string) error {
	return t.call(ctx, "dispatch", nil, h, eventType)
}

func (t *Tree) Click(ctx context.Context, h render.Handle) error {
	return t.call(ctx, "click", nil, h)
}

func (t *Tree) OwnKeys(ctx context.Context, h render.Handle) ([]string, error) {
	var keys []string
	if err := t.call(ctx, "ownKeys", &keys, h); err != nil {
		return nil, err
	}
	return keys, nil
}

func (t *Tree) HasHandler(ctx context.Context, h render.Handle, key, name string) (bool, error) {
	var ok bool
	err := t.call(ctx, "hasHandler", &ok, h, key, name)
	return ok, err
}

func (t *Tree) InvokeHandler(ctx context.Context, h render.Handle, key, name string, ev render.Event) error {
	return t.call(ctx, "invoke", nil, h, key, name, ev)
}

// call runs one primitive. When the page has lost the primitives (fresh
// document after navigation) they are installed and the call is retried once.
func (t *Tree) call(ctx context.Context, op string, out interface{}, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if args == nil {
		args = []interface{}{}
	}
	expr := fmt.Sprintf(
		`(window.__formpilot && window.__formpilot.version === 1) ? window.__formpilot.call(%s, %s) : '{"missing":true}'`,
		jsonEncode(op), jsonEncode(args),
	)

	for attempt := 0; attempt < 2; attempt++ {
		raw, err := t.eval.Evaluate(ctx, expr)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("jstree: evaluating %s failed: %w", op, err)
		}

		var r reply
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return fmt.Errorf("jstree: malformed reply to %s: %w", op, err)
		}
		if r.Missing {
			if err := t.install(ctx); err != nil {
				return err
			}
			continue
		}
		if !r.OK {
			if r.Stale {
				return fmt.Errorf("%w: %s", render.ErrStale, r.Error)
			}
			return fmt.Errorf("jstree: %s failed: %s", op, r.Error)
		}
		if out != nil && len(r.Result) > 0 {
			if err := json.Unmarshal(r.Result, out); err != nil {
				return fmt.Errorf("jstree: failed to decode %s result: %w", op, err)
			}
		}
		return nil
	}
	return fmt.Errorf("jstree: primitives unavailable after install")
}

func (t *Tree) install(ctx context.Context) error {
	t.logger.Debug("Installing page primitives.")
	if _, err := t.eval.Evaluate(ctx, primitivesScript+"\n'installed'"); err != nil {
		return fmt.Errorf("jstree: failed to install primitives: %w", err)
	}
	t.mu.Lock()
	t.installs++
	t.mu.Unlock()
	return nil
}

// jsonEncode renders v as a JavaScript literal.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `null`
	}
	return string(b)
}
