package form

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// fileYAML is the on-disk shape of a form definition.
type fileYAML struct {
	Name      string                       `yaml:"name"`
	Framework string                       `yaml:"framework"`
	CodeBooks map[string]map[string]string `yaml:"code_books"`
	Pages     []pageYAML                   `yaml:"pages"`
}

type pageYAML struct {
	Name     string        `yaml:"name"`
	URL      string        `yaml:"url"`
	Sections []sectionYAML `yaml:"sections"`
	Fields   []fieldYAML   `yaml:"fields"`
}

type sectionYAML struct {
	Name           string `yaml:"name"`
	AnchorPrefix   string `yaml:"anchor_prefix"`
	AnchorSuffix   string `yaml:"anchor_suffix"`
	Separator      string `yaml:"separator"`
	FallbackPrefix string `yaml:"fallback_prefix"`
}

type fieldYAML struct {
	Name          string         `yaml:"name"`
	Kind          string         `yaml:"kind"`
	Selectors     []selectorYAML `yaml:"selectors"`
	Value         valueYAML      `yaml:"value"`
	Section       string         `yaml:"section"`
	Suffix        string         `yaml:"suffix"`
	Code          string         `yaml:"code"`
	CodeBook      string         `yaml:"code_book"`
	FallbackIndex *int           `yaml:"fallback_index"`
	List          []selectorYAML `yaml:"list"`
	YearSelectors []selectorYAML `yaml:"year_selectors"`
	YearSuffix    string         `yaml:"year_suffix"`
	Keystrokes    bool           `yaml:"keystrokes"`
	Optional      bool           `yaml:"optional"`
}

// valueYAML decodes a YAML boolean to a boolean FieldValue and every other
// scalar to its text, so 2015 and "2015" read the same.
type valueYAML struct {
	schemas.FieldValue
}

// UnmarshalYAML implements custom YAML unmarshaling for field values.
func (v *valueYAML) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: field value must be a scalar", node.Line)
	}
	if node.ShortTag() == "!!bool" {
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		v.FieldValue = schemas.BoolValue(b)
		return nil
	}
	if node.ShortTag() == "!!null" {
		v.FieldValue = schemas.TextValue("")
		return nil
	}
	v.FieldValue = schemas.TextValue(node.Value)
	return nil
}

// selectorYAML accepts one selector in shorthand. A bare string is an XPath
// expression; a mapping names exactly one strategy:
//
//	- id: education-4--schoolName
//	- id_suffix: --schoolName
//	- attr: data-automation-id
//	  value: school
//	- aria_label: school or university
//	- role: button
//	  text: Add
//	  match: contains
//	- xpath: //input[@name='school']
type selectorYAML struct {
	spec schemas.SelectorSpec
}

type selectorFields struct {
	ID        string `yaml:"id"`
	IDSuffix  string `yaml:"id_suffix"`
	Attr      string `yaml:"attr"`
	Value     string `yaml:"value"`
	AriaLabel string `yaml:"aria_label"`
	Role      string `yaml:"role"`
	Text      string `yaml:"text"`
	Match     string `yaml:"match"`
	XPath     string `yaml:"xpath"`
}

// UnmarshalYAML implements custom YAML unmarshaling for selectors.
func (s *selectorYAML) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s.spec = schemas.ByXPath(node.Value)
		return nil

	case yaml.MappingNode:
		var f selectorFields
		if err := node.Decode(&f); err != nil {
			return err
		}
		var specs []schemas.SelectorSpec
		if f.ID != "" {
			specs = append(specs, schemas.ByExactID(f.ID))
		}
		if f.IDSuffix != "" {
			specs = append(specs, schemas.ByIDSuffix(f.IDSuffix))
		}
		if f.Attr != "" {
			specs = append(specs, schemas.ByAttribute(f.Attr, f.Value))
		}
		if f.AriaLabel != "" {
			specs = append(specs, schemas.ByAriaLabelSubstring(f.AriaLabel))
		}
		if f.Role != "" {
			mode := schemas.TextMatchMode(strings.ToLower(f.Match))
			switch mode {
			case "", schemas.TextEquals, schemas.TextContains, schemas.TextPrefix:
			default:
				return fmt.Errorf("line %d: unknown text match %q", node.Line, f.Match)
			}
			specs = append(specs, schemas.ByRolePredicate(f.Role, schemas.TextPredicate{Mode: mode, Text: f.Text}))
		}
		if f.XPath != "" {
			specs = append(specs, schemas.ByXPath(f.XPath))
		}
		if len(specs) != 1 {
			return fmt.Errorf("line %d: a selector names exactly one of id, id_suffix, attr, aria_label, role, xpath (got %d)", node.Line, len(specs))
		}
		s.spec = specs[0]
		return nil
	}
	return fmt.Errorf("line %d: selector must be a string or a mapping", node.Line)
}

func specsOf(in []selectorYAML) []schemas.SelectorSpec {
	if len(in) == 0 {
		return nil
	}
	out := make([]schemas.SelectorSpec, len(in))
	for i, s := range in {
		out[i] = s.spec
	}
	return out
}
