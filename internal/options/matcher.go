// Package options drives custom dropdowns: it opens the control, enumerates
// the options of the list that appears, picks one by tiered matching and
// clicks it. A failed pick closes the list again so the page is left usable.
package options

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/locator"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/render"
	"github.com/xkilldash9x/formpilot/internal/waiter"
)

const optionXPath = ".//*[@role='option']"

// DefaultListSelectors find the option container when a field names none.
func DefaultListSelectors() []schemas.SelectorSpec {
	return []schemas.SelectorSpec{
		schemas.ByXPath("//ul[@role='listbox']"),
		schemas.ByAttribute("role", "listbox"),
	}
}

// Request describes one dropdown selection.
type Request struct {
	Control []schemas.SelectorSpec
	// List defaults to DefaultListSelectors.
	List []schemas.SelectorSpec
	Want
}

// Selection is the result of Select. Control is set whenever the control was
// found, including when Select then fails to match an option.
type Selection struct {
	Control       locator.Match
	Tier          schemas.MatchTier
	LowConfidence bool
	Text          string
	Index         int
}

// Matcher selects options in custom dropdowns.
type Matcher struct {
	tree     render.Tree
	loc      *locator.Locator
	cfg      config.MatcherConfig
	synonyms Synonyms
	logger   *zap.Logger
}

// New creates a Matcher. Without configured synonym groups the default degree
// groups are used.
func New(tree render.Tree, loc *locator.Locator, cfg config.MatcherConfig, logger *zap.Logger) *Matcher {
	groups := cfg.Synonyms
	if len(groups) == 0 {
		groups = config.DefaultSynonyms()
	}
	return &Matcher{
		tree:     tree,
		loc:      loc,
		cfg:      cfg,
		synonyms: NewSynonyms(groups),
		logger:   observability.Named(logger, "options"),
	}
}

// Select opens the control and clicks the best matching option.
//
// A control that cannot be found returns the locator error unchanged so the
// caller may retry. A list that never appears, or one with no acceptable
// option, returns a *NoMatchingOptionError after clicking outside to close it.
// Other failures once the control is open also close the list and return the
// original error.
func (m *Matcher) Select(ctx context.Context, req Request) (Selection, error) {
	control, err := m.loc.Resolve(ctx, req.Control, m.loc.DefaultTimeout())
	if err != nil {
		return Selection{Index: -1}, err
	}
	sel := Selection{Control: control, Index: -1}

	if err := m.tree.Click(ctx, control.Handle); err != nil {
		return sel, err
	}
	if err := waiter.Sleep(ctx, m.cfg.SettleDelay); err != nil {
		return sel, err
	}

	listSpecs := req.List
	if len(listSpecs) == 0 {
		listSpecs = DefaultListSelectors()
	}
	list, err := m.loc.Resolve(ctx, listSpecs, m.cfg.ListTimeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sel, ctxErr
		}
		m.logger.Warn("Option list did not appear.", zap.Error(err))
		return sel, m.fail(ctx, &NoMatchingOptionError{Text: req.Text, Code: req.Code, Candidates: -1, Err: err})
	}

	candidates, err := m.Enumerate(ctx, list.Handle)
	if err != nil {
		m.logger.Warn("Could not read option list; closing it.", zap.Error(err))
		return sel, m.closeList(ctx, err)
	}
	for _, c := range candidates {
		m.logger.Debug("Option available.", zap.String("text", c.VisibleText), zap.Stringp("data_value", c.InternalValueCode))
	}

	idx, tier := Pick(candidates, req.Want, m.synonyms)
	if idx < 0 {
		return sel, m.fail(ctx, &NoMatchingOptionError{Text: req.Text, Code: req.Code, Candidates: len(candidates)})
	}

	chosen := candidates[idx]
	if err := m.tree.Click(ctx, chosen.Handle); err != nil {
		m.logger.Warn("Could not click option; closing list.", zap.String("text", chosen.VisibleText), zap.Error(err))
		return sel, m.closeList(ctx, err)
	}
	if err := waiter.Sleep(ctx, m.cfg.OptionSettle); err != nil {
		return sel, err
	}

	sel.Tier = tier
	sel.LowConfidence = tier == schemas.TierPositional
	sel.Text = chosen.VisibleText
	sel.Index = idx
	if sel.LowConfidence {
		m.logger.Warn("Option chosen by position; low confidence.",
			zap.Int("index", idx), zap.String("text", chosen.VisibleText), zap.String("wanted", req.Text))
	} else {
		m.logger.Info("Option selected.", zap.String("tier", string(tier)), zap.String("text", chosen.VisibleText))
	}
	return sel, nil
}

// Enumerate lists the options below list, in document order.
func (m *Matcher) Enumerate(ctx context.Context, list render.Handle) ([]Candidate, error) {
	handles, err := m.tree.Query(ctx, optionXPath, list)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(handles))
	for _, h := range handles {
		info, err := m.tree.Describe(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{
			VisibleText:       info.Text,
			InternalValueCode: info.DataValue,
			Handle:            h,
		})
	}
	return out, nil
}

// fail closes the list and returns cause.
func (m *Matcher) fail(ctx context.Context, cause error) error {
	m.logger.Warn("No matching option; closing list.", zap.Error(cause))
	return m.closeList(ctx, cause)
}

// closeList clicks the body so an open list does not outlive a failed
// selection, then returns cause unchanged. Only a context error from the
// close replaces it.
func (m *Matcher) closeList(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		return cause
	}
	body, err := m.loc.Resolve(ctx, []schemas.SelectorSpec{schemas.ByXPath("//body")}, 0)
	if err == nil {
		err = m.tree.Click(ctx, body.Handle)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		m.logger.Debug("Could not close option list.", zap.Error(err))
	}
	return cause
}
