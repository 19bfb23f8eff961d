package locator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// ErrNodeNotFound is the sentinel matched by every NotFoundError.
var ErrNodeNotFound = errors.New("node not found")

// NotFoundError reports that no selector matched before the timeout.
type NotFoundError struct {
	Selectors []schemas.SelectorSpec
	Timeout   time.Duration
}

// Error implements the error interface by formatting the message on the fly.
func (e *NotFoundError) Error() string {
	names := make([]string, len(e.Selectors))
	for i, s := range e.Selectors {
		names[i] = s.String()
	}
	return fmt.Sprintf("node not found after %s matching any of [%s]", e.Timeout, strings.Join(names, ", "))
}

// Is lets errors.Is(err, ErrNodeNotFound) classify the failure.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNodeNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(specs []schemas.SelectorSpec, timeout time.Duration) *NotFoundError {
	return &NotFoundError{Selectors: specs, Timeout: timeout}
}
