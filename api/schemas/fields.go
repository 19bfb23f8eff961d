package schemas

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// -- Field Schemas --

// FieldKind determines which component fills a field.
type FieldKind string

const (
	KindText     FieldKind = "TEXT"
	KindTextArea FieldKind = "TEXTAREA"
	KindCheckbox FieldKind = "CHECKBOX"
	KindCombobox FieldKind = "COMBOBOX"
	KindDatePair FieldKind = "DATE_PAIR"
	// KindClick activates a control (an "Add" button, for instance) whose side
	// effects later steps depend on.
	KindClick FieldKind = "CLICK"
)

// ParseFieldKind accepts kinds case-insensitively.
func ParseFieldKind(s string) (FieldKind, error) {
	k := FieldKind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindText, KindTextArea, KindCheckbox, KindCombobox, KindDatePair, KindClick:
		return k, nil
	case "":
		return KindText, nil
	}
	return "", fmt.Errorf("unknown field kind %q", s)
}

// FieldValue holds either a string or a boolean.
type FieldValue struct {
	text   string
	flag   bool
	isBool bool
}

func TextValue(s string) FieldValue { return FieldValue{text: s} }

func BoolValue(b bool) FieldValue { return FieldValue{flag: b, isBool: true} }

// IsBool reports whether the value is a boolean.
func (v FieldValue) IsBool() bool { return v.isBool }

// Bool returns the boolean form. Text values are parsed leniently so a
// checkbox may be configured with "yes" or "true".
func (v FieldValue) Bool() bool {
	if v.isBool {
		return v.flag
	}
	switch strings.ToLower(strings.TrimSpace(v.text)) {
	case "yes", "y", "on", "checked":
		return true
	}
	b, _ := strconv.ParseBool(strings.TrimSpace(v.text))
	return b
}

// String returns the textual form.
func (v FieldValue) String() string {
	if v.isBool {
		return strconv.FormatBool(v.flag)
	}
	return v.text
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.isBool {
		return json.Marshal(v.flag)
	}
	return json.Marshal(v.text)
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = BoolValue(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("field value must be a string or boolean: %w", err)
	}
	*v = TextValue(s)
	return nil
}

// DateParts splits a DATE_PAIR value of the form "MM/YYYY" or "YYYY".
// The month is empty for year-only values.
func (v FieldValue) DateParts() (month, year string, err error) {
	s := strings.TrimSpace(v.String())
	if s == "" {
		return "", "", fmt.Errorf("empty date value")
	}
	if m, y, ok := strings.Cut(s, "/"); ok {
		m, y = strings.TrimSpace(m), strings.TrimSpace(y)
		n, err := strconv.Atoi(m)
		if err != nil || !isDigits(m) || len(m) > 2 || n < 1 || n > 12 {
			return "", "", fmt.Errorf("invalid month in date %q", s)
		}
		if !isDigits(y) || len(y) != 4 {
			return "", "", fmt.Errorf("invalid year in date %q", s)
		}
		return fmt.Sprintf("%02d", n), y, nil
	}
	if !isDigits(s) || len(s) != 4 {
		return "", "", fmt.Errorf("invalid year %q", s)
	}
	return "", s, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FieldDescriptor describes one field-fill step. It is immutable once built.
type FieldDescriptor struct {
	Name      string         `json:"name"`
	Kind      FieldKind      `json:"kind"`
	Selectors []SelectorSpec `json:"selectors,omitempty"`
	Value     FieldValue     `json:"value"`

	// Section and Suffix address the field as prefix(Section)+Suffix, tried
	// before Selectors.
	Section string `json:"section,omitempty"`
	Suffix  string `json:"suffix,omitempty"`

	// Combobox options.
	Code          string         `json:"code,omitempty"`
	CodeBook      string         `json:"code_book,omitempty"`
	FallbackIndex *int           `json:"fallback_index,omitempty"`
	ListSelectors []SelectorSpec `json:"list_selectors,omitempty"`

	// YearSelectors and YearSuffix locate the year half of a DATE_PAIR. The
	// month half uses the field's own address. A year-only value with no year
	// address is written through the field's own address.
	YearSelectors []SelectorSpec `json:"year_selectors,omitempty"`
	YearSuffix    string         `json:"year_suffix,omitempty"`

	// Keystrokes types text one character at a time.
	Keystrokes bool `json:"keystrokes,omitempty"`
	// Optional fields are expected to be missing on some pages.
	Optional bool `json:"optional,omitempty"`
}

// Validate checks the structural requirements of a descriptor.
func (f FieldDescriptor) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("field name is required")
	}
	if len(f.Selectors) == 0 && f.Suffix == "" {
		return fmt.Errorf("field %q needs at least one selector or a section suffix", f.Name)
	}
	if f.Suffix != "" && f.Section == "" {
		return fmt.Errorf("field %q has a suffix but no section", f.Name)
	}
	for i, s := range f.Selectors {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("field %q selector %d: %w", f.Name, i, err)
		}
	}
	for i, s := range f.ListSelectors {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("field %q list selector %d: %w", f.Name, i, err)
		}
	}
	for i, s := range f.YearSelectors {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("field %q year selector %d: %w", f.Name, i, err)
		}
	}
	switch f.Kind {
	case KindDatePair:
		month, _, err := f.Value.DateParts()
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		if month != "" && !f.HasYearAddress() {
			return fmt.Errorf("field %q: a month/year date needs year selectors or a year suffix", f.Name)
		}
		if f.YearSuffix != "" && f.Section == "" {
			return fmt.Errorf("field %q has a year suffix but no section", f.Name)
		}
	case KindCombobox:
		if f.Value.String() == "" && f.Code == "" && f.FallbackIndex == nil {
			return fmt.Errorf("field %q: combobox needs text, code or fallback index", f.Name)
		}
		if f.FallbackIndex != nil && *f.FallbackIndex < 0 {
			return fmt.Errorf("field %q: fallback index must not be negative", f.Name)
		}
	case KindText, KindTextArea, KindCheckbox, KindClick:
	default:
		return fmt.Errorf("field %q: unknown kind %q", f.Name, f.Kind)
	}
	return nil
}

// HasYearAddress reports whether the year half of a DATE_PAIR has its own address.
func (f FieldDescriptor) HasYearAddress() bool {
	return len(f.YearSelectors) > 0 || f.YearSuffix != ""
}

// SectionDef declares a family of fields sharing a runtime-generated id prefix.
// The prefix is recovered from an anchor field whose id starts with
// AnchorPrefix and ends with AnchorSuffix.
type SectionDef struct {
	Name           string `json:"name"`
	AnchorPrefix   string `json:"anchor_prefix"`
	AnchorSuffix   string `json:"anchor_suffix"`
	Separator      string `json:"separator"`
	FallbackPrefix string `json:"fallback_prefix"`
}
