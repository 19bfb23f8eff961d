// Package sequencer runs the fill steps of a page in order. Each step locates
// its node afresh, fills it through the injector or the option matcher, and is
// retried only when the node was missing or went stale. A failing step never
// stops the run; every step ends up in the report.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/form"
	"github.com/xkilldash9x/formpilot/internal/inject"
	"github.com/xkilldash9x/formpilot/internal/locator"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/options"
	"github.com/xkilldash9x/formpilot/internal/render"
	"github.com/xkilldash9x/formpilot/internal/waiter"
)

// Policy is the immutable timing and retry policy of a run.
type Policy struct {
	// Form names the form in reports.
	Form        string
	MaxAttempts int
	Backoff     time.Duration
	SettleDelay time.Duration
	ClickSettle time.Duration
}

// PolicyFromConfig copies the sequencer section of the configuration.
func PolicyFromConfig(form string, cfg config.SequencerConfig) Policy {
	return Policy{
		Form:        form,
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
		SettleDelay: cfg.SettleDelay,
		ClickSettle: cfg.ClickSettle,
	}
}

// Deps are the components a Sequencer drives. They must share its tree.
type Deps struct {
	Locator  *locator.Locator
	Injector *inject.Injector
	Matcher  *options.Matcher
}

// Sequencer runs pages against one render tree.
type Sequencer struct {
	tree   render.Tree
	deps   Deps
	policy Policy
	logger *zap.Logger
}

// New creates a Sequencer.
func New(tree render.Tree, deps Deps, policy Policy, logger *zap.Logger) *Sequencer {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Sequencer{
		tree:   tree,
		deps:   deps,
		policy: policy,
		logger: observability.Named(logger, "sequencer"),
	}
}

// Assemble wires a Sequencer and its components from configuration. A
// non-empty framework overrides injector.framework.
func Assemble(tree render.Tree, cfg config.Interface, formName, framework string, logger *zap.Logger) (*Sequencer, error) {
	injCfg := cfg.Injector()
	if framework != "" {
		injCfg.Framework = framework
	}
	bridge, err := inject.NewBridge(injCfg.Framework)
	if err != nil {
		return nil, err
	}
	loc := locator.New(tree, cfg.Locator(), logger)
	deps := Deps{
		Locator:  loc,
		Injector: inject.New(tree, bridge, injCfg, logger),
		Matcher:  options.New(tree, loc, cfg.Matcher(), logger),
	}
	return New(tree, deps, PolicyFromConfig(formName, cfg.Sequencer()), logger), nil
}

// Run fills every field of page in order and returns one result per field.
//
// The returned error is non-nil only when ctx ends the run early. The report
// is complete even then: steps that never ran are recorded as canceled.
func (s *Sequencer) Run(ctx context.Context, page form.Page) (schemas.SequenceReport, error) {
	report := schemas.SequenceReport{
		RunID:     uuid.NewString(),
		Form:      s.policy.Form,
		Page:      page.Name,
		Framework: s.deps.Injector.Bridge().Name(),
		StartedAt: time.Now(),
		Results:   make([]schemas.StepResult, 0, len(page.Fields)),
	}
	logger := s.logger.With(zap.String("run_id", report.RunID), zap.String("page", page.Name))
	logger.Info("Starting page run.", zap.Int("steps", len(page.Fields)))

	// Section prefixes are the only state kept across steps.
	sections := locator.NewSections(s.deps.Locator, page.Sections, logger)

	for i, field := range page.Fields {
		if i > 0 {
			if err := waiter.Sleep(ctx, s.policy.SettleDelay); err != nil {
				return s.abort(report, page.Fields[i:], err, logger), err
			}
		}
		res := s.runStep(ctx, sections, field, logger)
		report.Results = append(report.Results, res)
		if res.ErrorKind == schemas.ErrorCanceled {
			return s.abort(report, page.Fields[i+1:], ctx.Err(), logger), ctx.Err()
		}
	}

	report.FinishedAt = time.Now()
	sum := report.Summary()
	logger.Info("Page run complete.",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("degraded", sum.Degraded),
		zap.Int("low_confidence", sum.LowConfidence),
	)
	return report, nil
}

// abort records the remaining fields as canceled.
func (s *Sequencer) abort(report schemas.SequenceReport, rest []schemas.FieldDescriptor, cause error, logger *zap.Logger) schemas.SequenceReport {
	for _, f := range rest {
		report.Results = append(report.Results, schemas.StepResult{
			FieldName:     f.Name,
			Kind:          f.Kind,
			SelectorIndex: -1,
			ErrorKind:     schemas.ErrorCanceled,
			Detail:        "run canceled before this step",
		})
	}
	report.FinishedAt = time.Now()
	logger.Warn("Page run canceled.", zap.Int("skipped", len(rest)), zap.Error(cause))
	return report
}

func (s *Sequencer) runStep(ctx context.Context, sections *locator.Sections, field schemas.FieldDescriptor, logger *zap.Logger) schemas.StepResult {
	start := time.Now()
	res := schemas.StepResult{FieldName: field.Name, Kind: field.Kind, SelectorIndex: -1}
	logger = logger.With(zap.String("field", field.Name), zap.String("kind", string(field.Kind)))

	if err := field.Validate(); err != nil {
		res.ErrorKind = schemas.ErrorSequenceStepFailed
		res.Detail = err.Error()
		logger.Error("Invalid field descriptor.", zap.Error(err))
		return res
	}

	var err error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		res.Attempts = attempt
		err = s.execute(ctx, sections, field, &res, logger)
		if err == nil || !retryable(err) || attempt == s.policy.MaxAttempts {
			break
		}
		logger.Info("Retrying step.", zap.Int("attempt", attempt), zap.Duration("backoff", s.policy.Backoff), zap.Error(err))
		if werr := waiter.Sleep(ctx, s.policy.Backoff); werr != nil {
			err = werr
			break
		}
	}
	res.Duration = time.Since(start)

	if err != nil {
		res.Succeeded = false
		res.ErrorKind = classify(ctx, err)
		res.Detail = err.Error()
	} else if !res.Succeeded && res.ErrorKind == schemas.ErrorNone {
		res.ErrorKind = schemas.ErrorSequenceStepFailed
		if res.StrategyUsed == schemas.StrategyNativeEventFallback {
			res.ErrorKind = schemas.ErrorInjectionDegraded
		}
		if res.Detail == "" {
			res.Detail = "value did not read back"
		}
	}

	fields := []zap.Field{
		zap.Int("attempts", res.Attempts),
		zap.Duration("duration", res.Duration),
		zap.String("strategy", string(res.StrategyUsed)),
	}
	switch {
	case res.Succeeded:
		logger.Info("Step succeeded.", fields...)
	case field.Optional || res.ErrorKind == schemas.ErrorCanceled:
		logger.Info("Step did not complete.", append(fields, zap.String("error_kind", string(res.ErrorKind)), zap.String("detail", res.Detail))...)
	default:
		logger.Warn("Step failed.", append(fields, zap.String("error_kind", string(res.ErrorKind)), zap.String("detail", res.Detail))...)
	}
	return res
}

// execute performs one attempt of a step, recording what it learns in res.
func (s *Sequencer) execute(ctx context.Context, sections *locator.Sections, f schemas.FieldDescriptor, res *schemas.StepResult, logger *zap.Logger) error {
	// Only results of the final attempt are reported.
	res.Succeeded, res.StrategyUsed, res.MatchTier, res.LowConfidence = false, schemas.StrategyNone, schemas.TierNone, false

	switch f.Kind {
	case schemas.KindText, schemas.KindTextArea:
		match, err := s.resolve(ctx, sections, f.Section, f.Suffix, f.Selectors, res)
		if err != nil {
			return err
		}
		var out inject.Outcome
		if f.Keystrokes {
			out, err = s.deps.Injector.Type(ctx, match.Handle, f.Value.String())
		} else {
			out, err = s.deps.Injector.Inject(ctx, match.Handle, f.Value.String())
		}
		if err != nil {
			return err
		}
		res.Succeeded, res.StrategyUsed = out.Succeeded, out.Strategy
		return nil

	case schemas.KindCheckbox:
		match, err := s.resolve(ctx, sections, f.Section, f.Suffix, f.Selectors, res)
		if err != nil {
			return err
		}
		out, err := s.deps.Injector.SetChecked(ctx, match.Handle, f.Value.Bool())
		if err != nil {
			return err
		}
		res.Succeeded, res.StrategyUsed = out.Succeeded, out.Strategy
		return nil

	case schemas.KindCombobox:
		return s.selectOption(ctx, sections, f, res)

	case schemas.KindDatePair:
		return s.fillDate(ctx, sections, f, res, logger)

	case schemas.KindClick:
		match, err := s.resolve(ctx, sections, f.Section, f.Suffix, f.Selectors, res)
		if err != nil {
			return err
		}
		if err := s.tree.Click(ctx, match.Handle); err != nil {
			return err
		}
		if err := waiter.Sleep(ctx, s.policy.ClickSettle); err != nil {
			return err
		}
		res.Succeeded = true
		return nil
	}
	return fmt.Errorf("unsupported field kind %q", f.Kind)
}

func (s *Sequencer) selectOption(ctx context.Context, sections *locator.Sections, f schemas.FieldDescriptor, res *schemas.StepResult) error {
	specs, offset, discovered, err := s.address(ctx, sections, f.Section, f.Suffix, f.Selectors)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return locator.NewNotFoundError(nil, 0)
	}
	sel, err := s.deps.Matcher.Select(ctx, options.Request{
		Control: specs,
		List:    f.ListSelectors,
		Want: options.Want{
			Text:          f.Value.String(),
			Code:          f.Code,
			FallbackIndex: f.FallbackIndex,
		},
	})
	if !sel.Control.Handle.IsZero() {
		recordMatch(res, sel.Control, offset, discovered)
	}
	if err != nil {
		return err
	}
	res.Succeeded = true
	res.MatchTier = sel.Tier
	res.LowConfidence = sel.LowConfidence
	return nil
}

// address builds the ordered selector list of a node: the section-derived
// exact id first, then the configured selectors. offset is the number of
// section selectors in front; discovered is false when the section prefix
// came from its fallback.
func (s *Sequencer) address(ctx context.Context, sections *locator.Sections, section, suffix string, selectors []schemas.SelectorSpec) (specs []schemas.SelectorSpec, offset int, discovered bool, err error) {
	discovered = true
	if suffix != "" {
		prefix, ok, perr := sections.Prefix(ctx, section)
		switch {
		case perr == nil:
			specs = append(specs, schemas.ByExactID(prefix+suffix))
			offset, discovered = 1, ok
		case ctx.Err() != nil:
			return nil, 0, false, ctx.Err()
		default:
			discovered = false
			s.logger.Debug("Section address unavailable; using selectors only.", zap.String("section", section), zap.Error(perr))
		}
	}
	return append(specs, selectors...), offset, discovered, nil
}

func (s *Sequencer) resolve(ctx context.Context, sections *locator.Sections, section, suffix string, selectors []schemas.SelectorSpec, res *schemas.StepResult) (locator.Match, error) {
	specs, offset, discovered, err := s.address(ctx, sections, section, suffix, selectors)
	if err != nil {
		return locator.Match{}, err
	}
	if len(specs) == 0 {
		return locator.Match{}, locator.NewNotFoundError(nil, 0)
	}
	match, err := s.deps.Locator.Resolve(ctx, specs, s.deps.Locator.DefaultTimeout())
	if err != nil {
		return locator.Match{}, err
	}
	if res != nil {
		recordMatch(res, match, offset, discovered)
	}
	return match, nil
}

// recordMatch notes which selector found the node. SelectorIndex counts the
// configured selectors only; a section address leaves it at -1.
func recordMatch(res *schemas.StepResult, m locator.Match, offset int, discovered bool) {
	res.SelectorIndex = m.Index - offset
	if res.SelectorIndex < 0 {
		res.SelectorIndex = -1
	}
	res.SelectorFallback = m.Index > 0 || !discovered
}

// retryable reports whether another attempt could find what this one missed.
func retryable(err error) bool {
	return errors.Is(err, locator.ErrNodeNotFound) || errors.Is(err, render.ErrStale)
}

// classify maps a step error to its report kind. Only the run's own context
// ending counts as cancellation.
func classify(ctx context.Context, err error) schemas.ErrorKind {
	switch {
	case ctx.Err() != nil:
		return schemas.ErrorCanceled
	case errors.Is(err, locator.ErrNodeNotFound), errors.Is(err, render.ErrStale):
		return schemas.ErrorNodeNotFound
	case errors.Is(err, options.ErrNoMatchingOption):
		return schemas.ErrorNoMatchingOption
	}
	return schemas.ErrorSequenceStepFailed
}
