// Package form loads form definitions: which fields a page has, how to find
// them and what to put in them. Definitions are YAML files; nothing about a
// particular form is compiled into the engine.
package form

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// Definition is a loaded, validated form file.
type Definition struct {
	Name string
	// Framework overrides injector.framework for this form when set.
	Framework string
	Pages     []Page
}

// Page is the ordered list of fill steps for one page of a form, plus the
// dynamic sections its fields may address.
type Page struct {
	Name     string
	URL      string
	Sections []schemas.SectionDef
	Fields   []schemas.FieldDescriptor
}

// Page returns the named page.
func (d *Definition) Page(name string) (Page, error) {
	for _, p := range d.Pages {
		if p.Name == name {
			return p, nil
		}
	}
	names := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		names[i] = p.Name
	}
	return Page{}, fmt.Errorf("form %q has no page %q (pages: %s)", d.Name, name, strings.Join(names, ", "))
}

// LoadFile loads and validates a form definition. A leading ~ is expanded.
func LoadFile(path string) (*Definition, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand form path %s: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read form file %s: %w", expanded, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("form file %s: %w", expanded, err)
	}
	return def, nil
}

// Parse decodes YAML form data, resolves code books and validates the result.
func Parse(data []byte) (*Definition, error) {
	var raw fileYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse form YAML: %w", err)
	}
	def, err := build(raw)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func build(raw fileYAML) (*Definition, error) {
	books := make(map[string]map[string]string, len(raw.CodeBooks))
	for name, entries := range raw.CodeBooks {
		book := make(map[string]string, len(entries))
		for text, code := range entries {
			book[bookKey(text)] = code
		}
		books[name] = book
	}

	def := &Definition{Name: raw.Name, Framework: raw.Framework}
	for _, rp := range raw.Pages {
		page := Page{Name: rp.Name, URL: rp.URL}
		for _, rs := range rp.Sections {
			page.Sections = append(page.Sections, schemas.SectionDef{
				Name:           rs.Name,
				AnchorPrefix:   rs.AnchorPrefix,
				AnchorSuffix:   rs.AnchorSuffix,
				Separator:      rs.Separator,
				FallbackPrefix: rs.FallbackPrefix,
			})
		}
		for _, rf := range rp.Fields {
			field, err := buildField(rf, books)
			if err != nil {
				return nil, fmt.Errorf("page %q: %w", rp.Name, err)
			}
			page.Fields = append(page.Fields, field)
		}
		def.Pages = append(def.Pages, page)
	}
	return def, nil
}

func buildField(rf fieldYAML, books map[string]map[string]string) (schemas.FieldDescriptor, error) {
	kind, err := schemas.ParseFieldKind(rf.Kind)
	if err != nil {
		return schemas.FieldDescriptor{}, fmt.Errorf("field %q: %w", rf.Name, err)
	}
	f := schemas.FieldDescriptor{
		Name:          rf.Name,
		Kind:          kind,
		Selectors:     specsOf(rf.Selectors),
		Value:         rf.Value.FieldValue,
		Section:       rf.Section,
		Suffix:        rf.Suffix,
		Code:          rf.Code,
		CodeBook:      rf.CodeBook,
		FallbackIndex: rf.FallbackIndex,
		ListSelectors: specsOf(rf.List),
		YearSelectors: specsOf(rf.YearSelectors),
		YearSuffix:    rf.YearSuffix,
		Keystrokes:    rf.Keystrokes,
		Optional:      rf.Optional,
	}
	if f.CodeBook != "" && f.Code == "" {
		book, ok := books[f.CodeBook]
		if !ok {
			return f, fmt.Errorf("field %q: unknown code book %q", f.Name, f.CodeBook)
		}
		code, ok := book[bookKey(f.Value.String())]
		if !ok {
			return f, fmt.Errorf("field %q: code book %q has no entry for %q", f.Name, f.CodeBook, f.Value.String())
		}
		f.Code = code
	}
	return f, nil
}

func bookKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Validate checks every page. Sections referenced by fields must be declared
// on the same page and names must be unique.
func (d *Definition) Validate() error {
	if len(d.Pages) == 0 {
		return fmt.Errorf("form %q declares no pages", d.Name)
	}
	pages := make(map[string]bool, len(d.Pages))
	for _, p := range d.Pages {
		if p.Name == "" {
			return fmt.Errorf("form %q has a page without a name", d.Name)
		}
		if pages[p.Name] {
			return fmt.Errorf("form %q declares page %q twice", d.Name, p.Name)
		}
		pages[p.Name] = true
		if err := p.Validate(); err != nil {
			return fmt.Errorf("page %q: %w", p.Name, err)
		}
	}
	return nil
}

// Validate checks the sections and fields of one page.
func (p Page) Validate() error {
	sections := make(map[string]bool, len(p.Sections))
	for _, s := range p.Sections {
		if s.Name == "" {
			return fmt.Errorf("section without a name")
		}
		if sections[s.Name] {
			return fmt.Errorf("section %q declared twice", s.Name)
		}
		if s.AnchorPrefix == "" && s.AnchorSuffix == "" {
			return fmt.Errorf("section %q needs an anchor prefix or suffix", s.Name)
		}
		sections[s.Name] = true
	}

	names := make(map[string]bool, len(p.Fields))
	for _, f := range p.Fields {
		if err := f.Validate(); err != nil {
			return err
		}
		if names[f.Name] {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		names[f.Name] = true
		if f.Section != "" && !sections[f.Section] {
			return fmt.Errorf("field %q uses undeclared section %q", f.Name, f.Section)
		}
	}
	return nil
}
