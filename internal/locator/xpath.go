package locator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

const (
	upperASCII = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerASCII = "abcdefghijklmnopqrstuvwxyz"
)

var attrNamePattern = regexp.MustCompile(`^[A-Za-z_][-A-Za-z0-9_.:]*$`)

// Compile turns a selector spec into an XPath 1.0 expression over the whole
// document. The same expression runs in htmlquery and in document.evaluate.
func Compile(spec schemas.SelectorSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	switch spec.Kind {
	case schemas.SelectorExactID:
		return fmt.Sprintf("//*[@id=%s]", Literal(spec.Value)), nil

	case schemas.SelectorIDSuffix:
		lit := Literal(spec.Value)
		// XPath 1.0 has no ends-with. The length guard keeps substring's start
		// index at 1 or more for ids shorter than the suffix.
		return fmt.Sprintf("//*[@id and string-length(@id) >= string-length(%s) and substring(@id, string-length(@id) - string-length(%s) + 1) = %s]", lit, lit, lit), nil

	case schemas.SelectorAttribute:
		if !attrNamePattern.MatchString(spec.Attribute) {
			return "", fmt.Errorf("invalid attribute name %q", spec.Attribute)
		}
		if spec.Value == "" {
			return fmt.Sprintf("//*[@%s]", spec.Attribute), nil
		}
		return fmt.Sprintf("//*[@%s=%s]", spec.Attribute, Literal(spec.Value)), nil

	case schemas.SelectorAriaLabelContains:
		return fmt.Sprintf("//*[contains(translate(@aria-label, '%s', '%s'), %s)]",
			upperASCII, lowerASCII, Literal(strings.ToLower(spec.Value))), nil

	case schemas.SelectorRole:
		expr := fmt.Sprintf("//*[@role=%s]", Literal(spec.Role))
		return expr + textPredicate(spec.Text), nil

	case schemas.SelectorXPath:
		return spec.Value, nil
	}
	return "", fmt.Errorf("unknown selector kind %q", spec.Kind)
}

// Scoped rewrites a document-rooted expression so it evaluates relative to
// the context node. Every branch of a union is rewritten.
func Scoped(expr string) string {
	branches := splitUnion(expr)
	for i, b := range branches {
		branches[i] = scopeBranch(b)
	}
	return strings.Join(branches, "|")
}

// scopeBranch prefixes b with "." when it is an absolute path. A leading
// parenthesised group is scoped recursively.
func scopeBranch(b string) string {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n') {
		i++
	}
	if i == len(b) {
		return b
	}
	switch b[i] {
	case '/':
		return b[:i] + "." + b[i:]
	case '(':
		if end := closingParen(b, i); end > 0 {
			return b[:i+1] + Scoped(b[i+1:end]) + b[end:]
		}
	}
	return b
}

// closingParen returns the index of the ")" matching the "(" at open, or -1.
func closingParen(expr string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitUnion splits expr on top-level "|", ignoring bars inside predicates,
// function calls and string literals.
func splitUnion(expr string) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case c == '|' && depth == 0:
			parts = append(parts, expr[start:i])
			start = i + 1
		}
	}
	return append(parts, expr[start:])
}

// IDPrefixSuffix matches elements whose id starts with prefix and ends with suffix.
func IDPrefixSuffix(prefix, suffix string) string {
	p, s := Literal(prefix), Literal(suffix)
	return fmt.Sprintf(
		"//*[@id and starts-with(@id, %s) and string-length(@id) >= string-length(%s) + string-length(%s) and substring(@id, string-length(@id) - string-length(%s) + 1) = %s]",
		p, p, s, s, s,
	)
}

func textPredicate(pred schemas.TextPredicate) string {
	text := strings.Join(strings.Fields(pred.Text), " ")
	if text == "" {
		return ""
	}
	lit := Literal(text)
	switch pred.Mode {
	case schemas.TextContains:
		return fmt.Sprintf("[contains(normalize-space(.), %s)]", lit)
	case schemas.TextPrefix:
		return fmt.Sprintf("[starts-with(normalize-space(.), %s)]", lit)
	default:
		return fmt.Sprintf("[normalize-space(.)=%s]", lit)
	}
}

// Literal quotes s as an XPath string literal. XPath 1.0 has no escape
// syntax, so strings holding both quote characters are built with concat().
func Literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	var b strings.Builder
	b.WriteString("concat(")
	for i, part := range parts {
		if i > 0 {
			b.WriteString(`, "'", `)
		}
		b.WriteString("'" + part + "'")
	}
	b.WriteString(")")
	return b.String()
}
