package schemas

import (
	"fmt"
	"strings"
)

// -- Selector Schemas --

// SelectorKind tags the variant held by a SelectorSpec.
type SelectorKind string

const (
	SelectorExactID           SelectorKind = "exact_id"
	SelectorIDSuffix          SelectorKind = "id_suffix"
	SelectorAttribute         SelectorKind = "attribute"
	SelectorAriaLabelContains SelectorKind = "aria_label_substring"
	SelectorRole              SelectorKind = "role"
	SelectorXPath             SelectorKind = "xpath"
)

// TextMatchMode controls how a role selector compares the visible text of a node.
type TextMatchMode string

const (
	TextEquals   TextMatchMode = "equals"
	TextContains TextMatchMode = "contains"
	TextPrefix   TextMatchMode = "prefix"
)

// TextPredicate is a serializable predicate over normalized visible text.
// An empty Text matches any node.
type TextPredicate struct {
	Mode TextMatchMode `json:"mode"`
	Text string        `json:"text"`
}

// SelectorSpec is one strategy for finding a node. Only the fields relevant to
// Kind are populated; use the By* constructors rather than building it by hand.
type SelectorSpec struct {
	Kind      SelectorKind  `json:"kind"`
	Value     string        `json:"value,omitempty"`
	Attribute string        `json:"attribute,omitempty"`
	Role      string        `json:"role,omitempty"`
	Text      TextPredicate `json:"text,omitempty"`
}

func ByExactID(id string) SelectorSpec {
	return SelectorSpec{Kind: SelectorExactID, Value: id}
}

func ByIDSuffix(suffix string) SelectorSpec {
	return SelectorSpec{Kind: SelectorIDSuffix, Value: suffix}
}

func ByAttribute(name, value string) SelectorSpec {
	return SelectorSpec{Kind: SelectorAttribute, Attribute: name, Value: value}
}

// ByAriaLabelSubstring matches nodes whose aria-label contains s, ignoring case.
func ByAriaLabelSubstring(s string) SelectorSpec {
	return SelectorSpec{Kind: SelectorAriaLabelContains, Value: s}
}

func ByRolePredicate(role string, pred TextPredicate) SelectorSpec {
	if pred.Mode == "" {
		pred.Mode = TextEquals
	}
	return SelectorSpec{Kind: SelectorRole, Role: role, Text: pred}
}

// ByXPath is the raw escape hatch for selectors the typed variants cannot express.
func ByXPath(expr string) SelectorSpec {
	return SelectorSpec{Kind: SelectorXPath, Value: expr}
}

// Validate reports whether the spec carries the fields its kind requires.
func (s SelectorSpec) Validate() error {
	switch s.Kind {
	case SelectorExactID, SelectorIDSuffix, SelectorAriaLabelContains, SelectorXPath:
		if s.Value == "" {
			return fmt.Errorf("selector %s requires a value", s.Kind)
		}
	case SelectorAttribute:
		if s.Attribute == "" {
			return fmt.Errorf("selector %s requires an attribute name", s.Kind)
		}
	case SelectorRole:
		if s.Role == "" {
			return fmt.Errorf("selector %s requires a role", s.Kind)
		}
		switch s.Text.Mode {
		case TextEquals, TextContains, TextPrefix:
		default:
			return fmt.Errorf("selector %s has unknown text mode %q", s.Kind, s.Text.Mode)
		}
	default:
		return fmt.Errorf("unknown selector kind %q", s.Kind)
	}
	return nil
}

// String renders the spec in a compact, log-friendly form.
func (s SelectorSpec) String() string {
	switch s.Kind {
	case SelectorExactID:
		return "#" + s.Value
	case SelectorIDSuffix:
		return "[id$=" + s.Value + "]"
	case SelectorAttribute:
		return "[" + s.Attribute + "=" + s.Value + "]"
	case SelectorAriaLabelContains:
		return "[aria-label*=" + s.Value + " i]"
	case SelectorRole:
		var b strings.Builder
		b.WriteString("[role=" + s.Role + "]")
		if s.Text.Text != "" {
			b.WriteString(fmt.Sprintf("{text %s %q}", s.Text.Mode, s.Text.Text))
		}
		return b.String()
	case SelectorXPath:
		return "xpath:" + s.Value
	}
	return string(s.Kind)
}
