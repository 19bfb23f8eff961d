package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// TextReporter writes a human-readable table per page as soon as it arrives.
type TextReporter struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

// NewTextReporter creates a text reporter that takes ownership of writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(report *schemas.SequenceReport) error {
	if report == nil {
		return fmt.Errorf("nil report")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Form %s, page %s (run %s, framework %s)\n", orDash(report.Form), orDash(report.Page), report.RunID, orDash(report.Framework))

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tKIND\tRESULT\tSTRATEGY\tATTEMPTS\tSELECTOR\tMATCH\tDURATION\tDETAIL")
	for _, res := range report.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			res.FieldName,
			res.Kind,
			outcome(res),
			orDash(string(res.StrategyUsed)),
			res.Attempts,
			selector(res),
			match(res),
			res.Duration.Round(time.Millisecond),
			res.Detail,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := report.Summary()
	fmt.Fprintf(&b, "%d/%d succeeded, %d failed, %d degraded, %d low confidence, %d selector fallbacks",
		s.Succeeded, s.Total, s.Failed, s.Degraded, s.LowConfidence, s.Fallbacks)
	if s.Canceled > 0 {
		fmt.Fprintf(&b, ", %d canceled", s.Canceled)
	}
	b.WriteString("\n\n")

	_, err := io.WriteString(r.writer, b.String())
	return err
}

func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Close()
}

func outcome(res schemas.StepResult) string {
	if res.Succeeded {
		return "ok"
	}
	if res.ErrorKind != schemas.ErrorNone {
		return string(res.ErrorKind)
	}
	return "FAILED"
}

// selector shows which configured selector found the node. Nodes addressed
// through a section prefix have no selector index.
func selector(res schemas.StepResult) string {
	var s string
	switch {
	case res.SelectorIndex >= 0:
		s = "#" + strconv.Itoa(res.SelectorIndex)
	case res.Succeeded:
		s = "section"
	default:
		s = "-"
	}
	if res.SelectorFallback {
		s += " (fallback)"
	}
	return s
}

func match(res schemas.StepResult) string {
	if res.MatchTier == schemas.TierNone {
		return "-"
	}
	if res.LowConfidence {
		return string(res.MatchTier) + " (low confidence)"
	}
	return string(res.MatchTier)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
