package schemas

import (
	"time"
)

// -- Report Schemas --

// Strategy records how a value reached the framework.
type Strategy string

const (
	StrategyInternalState       Strategy = "INTERNAL_STATE"
	StrategyNativeEventFallback Strategy = "NATIVE_EVENT_FALLBACK"
	// StrategyNone is used by steps that never inject (clicks, failed lookups).
	StrategyNone Strategy = ""
)

// ErrorKind classifies a failed step.
type ErrorKind string

const (
	ErrorNone               ErrorKind = ""
	ErrorNodeNotFound       ErrorKind = "NODE_NOT_FOUND"
	ErrorNoMatchingOption   ErrorKind = "NO_MATCHING_OPTION"
	ErrorInjectionDegraded  ErrorKind = "INJECTION_DEGRADED"
	ErrorSequenceStepFailed ErrorKind = "SEQUENCE_STEP_FAILED"
	ErrorCanceled           ErrorKind = "CANCELED"
)

// MatchTier names the option-matching rule that picked a dropdown option.
type MatchTier string

const (
	TierNone       MatchTier = ""
	TierExactText  MatchTier = "EXACT_TEXT"
	TierExactCode  MatchTier = "EXACT_CODE"
	TierContains   MatchTier = "CONTAINS"
	TierSynonym    MatchTier = "SYNONYM"
	TierPositional MatchTier = "POSITIONAL"
)

// StepResult is the outcome of one field step.
type StepResult struct {
	FieldName    string    `json:"field_name"`
	Kind         FieldKind `json:"kind"`
	Succeeded    bool      `json:"succeeded"`
	StrategyUsed Strategy  `json:"strategy_used,omitempty"`
	Attempts     int       `json:"attempts"`
	// SelectorIndex is the position of the selector that matched, -1 when
	// the node was addressed through its section prefix or never found.
	SelectorIndex int `json:"selector_index"`
	// SelectorFallback is set when a selector other than the primary one matched.
	SelectorFallback bool          `json:"selector_fallback,omitempty"`
	MatchTier        MatchTier     `json:"match_tier,omitempty"`
	LowConfidence    bool          `json:"low_confidence,omitempty"`
	ErrorKind        ErrorKind     `json:"error_kind,omitempty"`
	Detail           string        `json:"detail,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// SequenceReport aggregates the results of one page run, in step order.
type SequenceReport struct {
	RunID      string       `json:"run_id"`
	Form       string       `json:"form"`
	Page       string       `json:"page"`
	Framework  string       `json:"framework"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []StepResult `json:"results"`
}

// ReportSummary counts results by outcome.
type ReportSummary struct {
	Total         int `json:"total"`
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`
	Degraded      int `json:"degraded"`
	LowConfidence int `json:"low_confidence"`
	Fallbacks     int `json:"selector_fallbacks"`
	Canceled      int `json:"canceled"`
}

// Summary tallies the report. Degraded counts successful steps that only got
// through the native event path.
func (r SequenceReport) Summary() ReportSummary {
	s := ReportSummary{Total: len(r.Results)}
	for _, res := range r.Results {
		if res.Succeeded {
			s.Succeeded++
		} else {
			s.Failed++
		}
		if res.StrategyUsed == StrategyNativeEventFallback {
			s.Degraded++
		}
		if res.LowConfidence {
			s.LowConfidence++
		}
		if res.SelectorFallback {
			s.Fallbacks++
		}
		if res.ErrorKind == ErrorCanceled {
			s.Canceled++
		}
	}
	return s
}

// Failed returns the results that did not succeed.
func (r SequenceReport) Failed() []StepResult {
	var out []StepResult
	for _, res := range r.Results {
		if !res.Succeeded {
			out = append(out, res)
		}
	}
	return out
}
