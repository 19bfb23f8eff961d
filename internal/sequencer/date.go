package sequencer

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/locator"
	"github.com/xkilldash9x/formpilot/internal/render"
)

const (
	inputIDSuffix   = "-input"
	displayIDSuffix = "-display"
)

// fillDate writes a DATE_PAIR. The month half goes through the field's own
// address and the year half through its year address; a year-only value uses
// the year address when there is one. Each half is a plain text input whose
// visible mirror (same id ending in -display) is updated as well.
func (s *Sequencer) fillDate(ctx context.Context, sections *locator.Sections, f schemas.FieldDescriptor, res *schemas.StepResult, logger *zap.Logger) error {
	month, year, err := f.Value.DateParts()
	if err != nil {
		return err
	}

	type half struct {
		value     string
		suffix    string
		selectors []schemas.SelectorSpec
		record    bool
	}
	var halves []half
	if month != "" {
		halves = append(halves,
			half{value: month, suffix: f.Suffix, selectors: f.Selectors, record: true},
			half{value: year, suffix: f.YearSuffix, selectors: f.YearSelectors},
		)
	} else if f.HasYearAddress() {
		halves = append(halves, half{value: year, suffix: f.YearSuffix, selectors: f.YearSelectors, record: true})
	} else {
		halves = append(halves, half{value: year, suffix: f.Suffix, selectors: f.Selectors, record: true})
	}

	succeeded := true
	strategy := schemas.StrategyInternalState
	for _, h := range halves {
		var target *schemas.StepResult
		if h.record {
			target = res
		}
		match, err := s.resolve(ctx, sections, f.Section, h.suffix, h.selectors, target)
		if err != nil {
			return err
		}
		out, err := s.deps.Injector.Inject(ctx, match.Handle, h.value)
		if err != nil {
			return err
		}
		succeeded = succeeded && out.Succeeded
		if out.Strategy == schemas.StrategyNativeEventFallback {
			strategy = out.Strategy
		}
		if err := s.updateDisplay(ctx, match.Handle, h.value); err != nil {
			return err
		}
	}
	res.Succeeded, res.StrategyUsed = succeeded, strategy
	logger.Debug("Date written.", zap.String("month", month), zap.String("year", year))
	return nil
}

// updateDisplay copies value into the -display mirror of an -input node.
// A missing mirror is not an error; only staleness and cancellation are.
func (s *Sequencer) updateDisplay(ctx context.Context, h render.Handle, value string) error {
	info, err := s.tree.Describe(ctx, h)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(info.ID, inputIDSuffix) {
		return nil
	}
	displayID := strings.TrimSuffix(info.ID, inputIDSuffix) + displayIDSuffix
	expr, err := locator.Compile(schemas.ByExactID(displayID))
	if err != nil {
		return nil
	}
	handles, err := s.tree.Query(ctx, expr, render.Document)
	if err != nil || len(handles) == 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	if err := s.tree.SetText(ctx, handles[0], value); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
