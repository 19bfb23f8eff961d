package options

import (
	"strings"
	"unicode"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/render"
)

// Candidate is one enumerated option of an open list.
type Candidate struct {
	VisibleText string
	// InternalValueCode is the option's data-value, if it has one.
	InternalValueCode *string
	Handle            render.Handle
}

// Want is what a caller is looking for in a list.
type Want struct {
	Text          string
	Code          string
	FallbackIndex *int
}

// Synonyms holds groups of interchangeable labels in normalized form.
type Synonyms struct {
	groups [][]string
}

// NewSynonyms normalizes the configured groups. Labels that normalize to
// nothing are dropped.
func NewSynonyms(groups [][]string) Synonyms {
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		var norm []string
		for _, label := range g {
			if n := normalize(label); n != "" {
				norm = append(norm, n)
			}
		}
		if len(norm) > 0 {
			out = append(out, norm)
		}
	}
	return Synonyms{groups: out}
}

// groupsOf returns the indexes of the groups with a label appearing as whole
// words in text.
func (s Synonyms) groupsOf(text string) []int {
	padded := " " + normalize(text) + " "
	var idx []int
	for i, g := range s.groups {
		for _, label := range g {
			if strings.Contains(padded, " "+label+" ") {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

// Related reports whether a and b share a synonym group.
func (s Synonyms) Related(a, b string) bool {
	ga := s.groupsOf(a)
	if len(ga) == 0 {
		return false
	}
	for _, j := range s.groupsOf(b) {
		for _, i := range ga {
			if i == j {
				return true
			}
		}
	}
	return false
}

// Pick chooses an option by tier: exact text, exact code, contains, synonym
// and finally the positional fallback. Within a tier the first candidate in
// list order wins. It returns -1 and TierNone when nothing qualifies.
func Pick(candidates []Candidate, want Want, syn Synonyms) (int, schemas.MatchTier) {
	text := render.NormalizeText(want.Text)
	lower := strings.ToLower(text)

	if text != "" {
		for i, c := range candidates {
			if strings.EqualFold(render.NormalizeText(c.VisibleText), text) {
				return i, schemas.TierExactText
			}
		}
	}

	if code := strings.TrimSpace(want.Code); code != "" {
		for i, c := range candidates {
			if c.InternalValueCode != nil && strings.TrimSpace(*c.InternalValueCode) == code {
				return i, schemas.TierExactCode
			}
		}
	}

	if lower != "" {
		for i, c := range candidates {
			if contains(c.VisibleText, lower) {
				return i, schemas.TierContains
			}
		}
		for i, c := range candidates {
			if syn.Related(text, c.VisibleText) {
				return i, schemas.TierSynonym
			}
		}
	}

	if want.FallbackIndex != nil {
		if i := *want.FallbackIndex; i >= 0 && i < len(candidates) {
			return i, schemas.TierPositional
		}
	}
	return -1, schemas.TierNone
}

// shortInput is the longest wanted text matched as a whole word only, so an
// abbreviation like "MA" does not hit the inside of "Diploma".
const shortInput = 3

// contains reports whether the option text holds want, which is already
// lowercased. Short inputs must match a whole word.
func contains(optionText, want string) bool {
	if len([]rune(want)) <= shortInput {
		return strings.Contains(" "+normalize(optionText)+" ", " "+normalize(want)+" ")
	}
	return strings.Contains(strings.ToLower(render.NormalizeText(optionText)), want)
}

// normalize lowercases s, drops apostrophes and periods so "Master's" and
// "M.S." compare as "masters" and "ms", and turns every other non-alphanumeric
// run into a single space.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '\'' || r == '’' || r == '.':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
