package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// Reporter renders sequence reports to an output.
type Reporter interface {
	// Write adds one page report.
	Write(report *schemas.SequenceReport) error
	// Close finalizes the output and closes any underlying file.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("text" or "json") writing to outputPath,
// or to stdout when the path is empty or "stdout".
func New(format, outputPath string) (Reporter, error) {
	switch format {
	case "text", "json":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	if outputPath == "" || outputPath == "stdout" {
		return ToWriter(format, os.Stdout)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}
	return NewWithWriter(format, f)
}

// ToWriter creates a reporter over a writer it does not own; Close leaves
// the writer open.
func ToWriter(format string, w io.Writer) (Reporter, error) {
	return NewWithWriter(format, &nopWriteCloser{w})
}

// NewWithWriter creates a reporter that takes ownership of writer.
func NewWithWriter(format string, writer io.WriteCloser) (Reporter, error) {
	switch format {
	case "text":
		return NewTextReporter(writer), nil
	case "json":
		return NewJSONReporter(writer), nil
	}
	writer.Close()
	return nil, fmt.Errorf("unsupported output format: %s", format)
}
