package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonReport is one page report with its summary alongside.
type jsonReport struct {
	*schemas.SequenceReport
	Summary schemas.ReportSummary `json:"summary"`
}

// JSONReporter buffers page reports and writes them as one JSON array on
// Close. It is safe for concurrent use.
type JSONReporter struct {
	writer  io.WriteCloser
	logger  *zap.Logger
	mu      sync.Mutex
	reports []jsonReport
}

// NewJSONReporter creates a JSON reporter that takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{
		writer:  writer,
		logger:  observability.GetLogger().Named("json_reporter"),
		reports: []jsonReport{},
	}
}

func (r *JSONReporter) Write(report *schemas.SequenceReport) error {
	if report == nil {
		return fmt.Errorf("nil report")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, jsonReport{SequenceReport: report, Summary: report.Summary()})
	return nil
}

// Close encodes every report and closes the writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	encodeErr := encoder.Encode(r.reports)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode JSON report", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode JSON output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("Wrote JSON report", zap.Int("pages", len(r.reports)))
	return nil
}
