package options

import (
	"errors"
	"fmt"
)

// ErrNoMatchingOption is the sentinel matched by every NoMatchingOptionError.
var ErrNoMatchingOption = errors.New("no matching option")

// NoMatchingOptionError reports that the list opened but nothing in it
// satisfied any tier, or that the list never appeared.
type NoMatchingOptionError struct {
	Text string
	Code string
	// Candidates is the number of options enumerated; -1 when no list was found.
	Candidates int
	// Err is the list lookup failure. It is not unwrapped, so a missing list
	// is never retried as a missing node.
	Err error
}

func (e *NoMatchingOptionError) Error() string {
	want := fmt.Sprintf("%q", e.Text)
	if e.Code != "" {
		want += fmt.Sprintf(" (code %q)", e.Code)
	}
	if e.Candidates < 0 {
		return fmt.Sprintf("no option list appeared for %s: %v", want, e.Err)
	}
	return fmt.Sprintf("none of %d options matched %s", e.Candidates, want)
}

// Is lets errors.Is(err, ErrNoMatchingOption) classify the failure.
func (e *NoMatchingOptionError) Is(target error) bool {
	return target == ErrNoMatchingOption
}
