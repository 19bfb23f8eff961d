// Package inject writes values into framework-managed inputs so the
// framework's own state sees the change. The framework handler is called
// directly when the bridge can reach it; native input and change events are
// always dispatched as a backup.
package inject

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/render"
	"github.com/xkilldash9x/formpilot/internal/waiter"
)

// Outcome describes a completed injection.
type Outcome struct {
	// Succeeded is true when the node reads back the requested state.
	Succeeded bool
	Strategy  schemas.Strategy
}

// Injector writes values through a HandlerBridge.
type Injector struct {
	tree   render.Tree
	bridge HandlerBridge
	cfg    config.InjectorConfig
	logger *zap.Logger
}

// New creates an Injector. A nil bridge behaves as NativeBridge.
func New(tree render.Tree, bridge HandlerBridge, cfg config.InjectorConfig, logger *zap.Logger) *Injector {
	if bridge == nil {
		bridge = NativeBridge{}
	}
	return &Injector{
		tree:   tree,
		bridge: bridge,
		cfg:    cfg,
		logger: observability.Named(logger, "injector"),
	}
}

// Bridge returns the bridge in use.
func (i *Injector) Bridge() HandlerBridge { return i.bridge }

// Inject sets a text value. The error is non-nil only for a stale handle or
// cancellation; every other failure shows up as an unsuccessful Outcome.
func (i *Injector) Inject(ctx context.Context, h render.Handle, value string) (Outcome, error) {
	info, err := i.tree.Describe(ctx, h)
	if err != nil {
		return Outcome{}, i.fatalOr(err, "describe")
	}
	if err := i.tree.Focus(ctx, h); err != nil {
		if fatal := i.fatalOr(err, "focus"); fatal != nil {
			return Outcome{}, fatal
		}
	}

	strategy, err := i.viaHandlers(ctx, h, info, value)
	if err != nil {
		return Outcome{}, err
	}

	if err := i.writeNative(ctx, h, value); err != nil {
		return Outcome{}, err
	}
	return i.finish(ctx, h, value, strategy)
}

// Type enters value one character at a time, firing input per character
// with a jittered pause, the way a person types a phone number.
func (i *Injector) Type(ctx context.Context, h render.Handle, value string) (Outcome, error) {
	info, err := i.tree.Describe(ctx, h)
	if err != nil {
		return Outcome{}, i.fatalOr(err, "describe")
	}
	if err := i.tree.Focus(ctx, h); err != nil {
		if fatal := i.fatalOr(err, "focus"); fatal != nil {
			return Outcome{}, fatal
		}
	}
	refs, err := i.probe(ctx, h)
	if err != nil {
		return Outcome{}, err
	}

	strategy := schemas.StrategyNativeEventFallback
	if len(refs) > 0 {
		strategy = schemas.StrategyInternalState
	}

	for _, step := range append([]string{""}, prefixes(value)...) {
		if err := i.tree.SetValue(ctx, h, step); err != nil {
			if fatal := i.fatalOr(err, "set value"); fatal != nil {
				return Outcome{}, fatal
			}
		}
		if err := i.tree.Dispatch(ctx, h, "input"); err != nil {
			if fatal := i.fatalOr(err, "dispatch input"); fatal != nil {
				return Outcome{}, fatal
			}
		}
		for _, ref := range refs {
			if err := i.tree.InvokeHandler(ctx, h, ref.Key, ref.Name, eventFor(ref, info, step)); err != nil {
				if fatal := i.fatalOr(err, "invoke handler"); fatal != nil {
					return Outcome{}, fatal
				}
				strategy = schemas.StrategyNativeEventFallback
			}
		}
		if step != "" {
			if err := waiter.Sleep(ctx, waiter.Jitter(i.cfg.KeystrokeMin, i.cfg.KeystrokeMax)); err != nil {
				return Outcome{}, err
			}
		}
	}

	if err := i.tree.Dispatch(ctx, h, "change"); err != nil {
		if fatal := i.fatalOr(err, "dispatch change"); fatal != nil {
			return Outcome{}, fatal
		}
	}
	return i.finish(ctx, h, value, strategy)
}

// SetChecked brings a checkbox to the desired state by clicking it, and only
// when its current state differs. The checked property is never assigned
// directly, since the framework would not see that.
func (i *Injector) SetChecked(ctx context.Context, h render.Handle, desired bool) (Outcome, error) {
	info, err := i.tree.Describe(ctx, h)
	if err != nil {
		return Outcome{}, i.fatalOr(err, "describe")
	}
	if info.Checked == desired {
		i.logger.Debug("Checkbox already in desired state.", zap.Bool("checked", desired))
		return Outcome{Succeeded: true, Strategy: schemas.StrategyInternalState}, nil
	}

	if err := i.tree.Click(ctx, h); err != nil {
		if fatal := i.fatalOr(err, "click"); fatal != nil {
			return Outcome{}, fatal
		}
		return Outcome{Strategy: schemas.StrategyInternalState}, nil
	}
	if err := waiter.Sleep(ctx, i.cfg.HandlerSettle); err != nil {
		return Outcome{}, err
	}

	after, err := i.tree.Describe(ctx, h)
	if err != nil {
		return Outcome{}, i.fatalOr(err, "verify")
	}
	if after.Checked != desired {
		i.logger.Warn("Checkbox did not reach desired state.", zap.Bool("desired", desired))
	}
	return Outcome{Succeeded: after.Checked == desired, Strategy: schemas.StrategyInternalState}, nil
}

// viaHandlers clears and then sets the value through the framework handlers.
// It reports which strategy ended up carrying the value.
func (i *Injector) viaHandlers(ctx context.Context, h render.Handle, info render.NodeInfo, value string) (schemas.Strategy, error) {
	refs, err := i.probe(ctx, h)
	if err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return schemas.StrategyNativeEventFallback, nil
	}

	invoke := func(v string) (bool, error) {
		for _, ref := range refs {
			if err := i.tree.InvokeHandler(ctx, h, ref.Key, ref.Name, eventFor(ref, info, v)); err != nil {
				if fatal := i.fatalOr(err, "invoke handler"); fatal != nil {
					return false, fatal
				}
				return false, nil
			}
		}
		return true, nil
	}

	if _, err := invoke(""); err != nil {
		return "", err
	}
	if err := waiter.Sleep(ctx, i.cfg.HandlerSettle); err != nil {
		return "", err
	}
	ok, err := invoke(value)
	if err != nil {
		return "", err
	}
	if !ok {
		return schemas.StrategyNativeEventFallback, nil
	}
	return schemas.StrategyInternalState, nil
}

func (i *Injector) probe(ctx context.Context, h render.Handle) ([]HandlerRef, error) {
	refs, err := i.bridge.Probe(ctx, i.tree, h)
	if err != nil {
		if fatal := i.fatalOr(err, "probe"); fatal != nil {
			return nil, fatal
		}
		return nil, nil
	}
	return refs, nil
}

// writeNative sets the DOM value through the native setter and fires the
// events a real edit would.
func (i *Injector) writeNative(ctx context.Context, h render.Handle, value string) error {
	if err := i.tree.SetValue(ctx, h, value); err != nil {
		if fatal := i.fatalOr(err, "set value"); fatal != nil {
			return fatal
		}
	}
	for _, ev := range []string{"input", "change"} {
		if err := i.tree.Dispatch(ctx, h, ev); err != nil {
			if fatal := i.fatalOr(err, "dispatch "+ev); fatal != nil {
				return fatal
			}
		}
	}
	return nil
}

// finish waits out the blur delay, blurs and verifies by reading back.
func (i *Injector) finish(ctx context.Context, h render.Handle, value string, strategy schemas.Strategy) (Outcome, error) {
	if err := waiter.Sleep(ctx, i.cfg.BlurDelay); err != nil {
		return Outcome{}, err
	}
	if err := i.tree.Blur(ctx, h); err != nil {
		if fatal := i.fatalOr(err, "blur"); fatal != nil {
			return Outcome{}, fatal
		}
	}

	after, err := i.tree.Describe(ctx, h)
	if err != nil {
		return Outcome{}, i.fatalOr(err, "verify")
	}
	if strategy == schemas.StrategyNativeEventFallback {
		i.logger.Warn("No framework handler reached; relying on native events.",
			zap.String("error_kind", string(schemas.ErrorInjectionDegraded)),
			zap.String("bridge", i.bridge.Name()),
		)
	}
	ok := after.Value == value
	if !ok {
		i.logger.Warn("Value did not stick.", zap.String("want", value), zap.String("got", after.Value))
	}
	return Outcome{Succeeded: ok, Strategy: strategy}, nil
}

// fatalOr returns err when it must stop the injection (stale node or
// cancellation) and nil after logging when the injection can degrade.
func (i *Injector) fatalOr(err error, op string) error {
	if errors.Is(err, render.ErrStale) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	i.logger.Debug("Tree operation failed; continuing degraded.", zap.String("op", op), zap.Error(err))
	return nil
}

// prefixes returns every non-empty leading substring of s, rune-aligned.
func prefixes(s string) []string {
	runes := []rune(s)
	out := make([]string, len(runes))
	for n := range runes {
		out[n] = string(runes[:n+1])
	}
	return out
}
