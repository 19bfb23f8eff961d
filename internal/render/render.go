// Package render defines the boundary between the form-filling engine and a
// live or simulated document. Every engine component talks to a Tree; nothing
// above this package knows whether the document lives in a browser tab or in
// memory.
package render

import (
	"context"
	"errors"
	"strings"
)

// ErrStale is returned when a Handle refers to a node that has been detached
// or replaced by a re-render.
var ErrStale = errors.New("render: stale node handle")

// Handle is an opaque weak reference to a node. Handles must not be kept
// across suspension points; re-resolve instead.
type Handle string

// IsZero reports whether the handle is empty. An empty handle used as a query
// scope means "the whole document".
func (h Handle) IsZero() bool { return h == "" }

// Document is the scope value for whole-document queries.
const Document Handle = ""

// NodeInfo is a read-only snapshot of a node at the time it was described.
type NodeInfo struct {
	Tag     string `json:"tag"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Value   string `json:"value"`
	Checked bool   `json:"checked"`
	// Text is the visible text with whitespace collapsed.
	Text string `json:"text"`
	// DataValue carries the data-value attribute, the usual home of an
	// option's internal code.
	DataValue *string `json:"data_value"`
}

// IsCheckable reports whether the node is a checkbox or radio input.
func (n NodeInfo) IsCheckable() bool {
	if n.Tag != "input" {
		return n.Role == "checkbox"
	}
	t := strings.ToLower(n.Type)
	return t == "checkbox" || t == "radio"
}

// EventKind tags the synthetic event carried to a framework handler.
type EventKind string

const (
	EventInput  EventKind = "INPUT"
	EventChange EventKind = "CHANGE"
	EventClick  EventKind = "CLICK"
)

// Event is the synthetic event handed to a framework handler. Backends turn it
// into the envelope the framework expects: a target carrying value, name,
// checked and type, the same object as currentTarget, bubbles set, and no-op
// preventDefault, stopPropagation and persist functions.
type Event struct {
	Kind    EventKind `json:"kind"`
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Checked bool      `json:"checked"`
	Type    string    `json:"type"`
}

// Tree is the mutable, framework-managed document the engine acts on.
//
// All methods are safe to call from a single goroutine at a time; the engine
// never issues concurrent calls. Methods taking a Handle return ErrStale
// (possibly wrapped) when the node is gone.
type Tree interface {
	// Query evaluates an XPath 1.0 expression below scope (or the whole
	// document for the zero Handle) and returns matches in document order.
	Query(ctx context.Context, xpath string, scope Handle) ([]Handle, error)
	Describe(ctx context.Context, h Handle) (NodeInfo, error)

	Focus(ctx context.Context, h Handle) error
	Blur(ctx context.Context, h Handle) error
	// SetValue assigns the value property through the native setter, bypassing
	// any framework-installed accessor.
	SetValue(ctx context.Context, h Handle, value string) error
	// SetText replaces the text content of a display node.
	SetText(ctx context.Context, h Handle, text string) error
	// Dispatch fires a bubbling DOM event ("input", "change") on the node.
	Dispatch(ctx context.Context, h Handle, eventType string) error
	// Click activates the node as a user click would, including the checked
	// toggle on checkable inputs.
	Click(ctx context.Context, h Handle) error

	// OwnKeys lists the node object's own property names.
	OwnKeys(ctx context.Context, h Handle) ([]string, error)
	// HasHandler reports whether node[key][name] is a callable.
	HasHandler(ctx context.Context, h Handle, key, name string) (bool, error)
	// InvokeHandler calls node[key][name] with the envelope built from ev.
	InvokeHandler(ctx context.Context, h Handle, key, name string, ev Event) error
}

// NormalizeText collapses runs of whitespace and trims the result, the same
// way XPath's normalize-space does.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
