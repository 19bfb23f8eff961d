package locator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/locator"
	"github.com/xkilldash9x/formpilot/internal/render"
	"github.com/xkilldash9x/formpilot/internal/render/memtree"
)

const educationDoc = `<html><body>
<div data-automation-id="education-section">
  <input id="education-4--school" name="school" aria-label="School or University">
  <input id="education-4--degree" data-automation-id="degree">
  <button role="button"> Add   Another </button>
  <span role="button">Delete</span>
</div>
<div id="other"><input id="other--school"></div>
<p id="quote" title="it's a &quot;test&quot;">x</p>
</body></html>`

func newLocator(t *testing.T, doc string) (*locator.Locator, *memtree.Tree) {
	t.Helper()
	tree, err := memtree.ParseString(doc)
	require.NoError(t, err)
	return locator.New(tree, config.LocatorConfig{PollInterval: 5 * time.Millisecond}, nil), tree
}

func idOf(t *testing.T, tree render.Tree, h render.Handle) string {
	t.Helper()
	info, err := tree.Describe(context.Background(), h)
	require.NoError(t, err)
	return info.ID
}

// -- Selector Compilation --

func TestCompile_EachKindMatchesExpectedNode(t *testing.T) {
	loc, tree := newLocator(t, educationDoc)
	ctx := context.Background()

	testCases := []struct {
		name     string
		spec     schemas.SelectorSpec
		expectID string
	}{
		{"ExactID", schemas.ByExactID("education-4--degree"), "education-4--degree"},
		{"IDSuffix", schemas.ByIDSuffix("--school"), "education-4--school"},
		{"Attribute", schemas.ByAttribute("data-automation-id", "degree"), "education-4--degree"},
		{"AriaLabelIgnoresCase", schemas.ByAriaLabelSubstring("SCHOOL OR"), "education-4--school"},
		{"XPath", schemas.ByXPath("//div[@id='other']/input"), "other--school"},
		{"LiteralWithBothQuotes", schemas.ByAttribute("title", `it's a "test"`), "quote"},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			m, err := loc.Resolve(ctx, []schemas.SelectorSpec{tt.spec}, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.expectID, idOf(t, tree, m.Handle))
		})
	}
}

func TestCompile_RolePredicates(t *testing.T) {
	loc, tree := newLocator(t, educationDoc)
	ctx := context.Background()

	for _, pred := range []schemas.TextPredicate{
		{Mode: schemas.TextEquals, Text: "Add Another"},
		{Mode: schemas.TextContains, Text: "Another"},
		{Mode: schemas.TextPrefix, Text: "Add"},
	} {
		m, err := loc.Resolve(ctx, []schemas.SelectorSpec{schemas.ByRolePredicate("button", pred)}, 0)
		require.NoError(t, err, "mode %s", pred.Mode)
		info, err := tree.Describe(ctx, m.Handle)
		require.NoError(t, err)
		assert.Equal(t, "button", info.Tag)
	}

	m, err := loc.Resolve(ctx, []schemas.SelectorSpec{schemas.ByRolePredicate("button", schemas.TextPredicate{Text: "Delete"})}, 0)
	require.NoError(t, err)
	info, err := tree.Describe(ctx, m.Handle)
	require.NoError(t, err)
	assert.Equal(t, "span", info.Tag)
}

func TestLiteral(t *testing.T) {
	assert.Equal(t, "'plain'", locator.Literal("plain"))
	assert.Equal(t, `"it's"`, locator.Literal("it's"))
	assert.Equal(t, `concat('a"b', "'", 'c')`, locator.Literal(`a"b'c`))
}

func TestCompile_RejectsBadAttributeName(t *testing.T) {
	_, err := locator.Compile(schemas.ByAttribute("bad name]", "x"))
	assert.Error(t, err)
	_, err = locator.Compile(schemas.ByExactID(""))
	assert.Error(t, err)
}

// -- Resolution Order --

func TestResolve_FirstSatisfiedSpecWins(t *testing.T) {
	loc, tree := newLocator(t, educationDoc)
	ctx := context.Background()

	specs := []schemas.SelectorSpec{
		schemas.ByExactID("education-4--school"),
		schemas.ByExactID("education-4--degree"),
	}
	m, err := loc.Resolve(ctx, specs, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Index)
	assert.False(t, m.Fallback())
	assert.Equal(t, "education-4--school", idOf(t, tree, m.Handle))

	// A spec matching several nodes yields the first in document order.
	m, err = loc.Resolve(ctx, []schemas.SelectorSpec{schemas.ByIDSuffix("school")}, 0)
	require.NoError(t, err)
	assert.Equal(t, "education-4--school", idOf(t, tree, m.Handle))
}

func TestResolve_SuffixFallbackWhenPrefixDrifted(t *testing.T) {
	loc, tree := newLocator(t, educationDoc)

	// The last-known-good prefix was education-17; the page now renders education-4.
	specs := []schemas.SelectorSpec{
		schemas.ByExactID("education-17--school"),
		schemas.ByIDSuffix("--school"),
	}
	m, err := loc.Resolve(context.Background(), specs, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Index)
	assert.True(t, m.Fallback())
	assert.Equal(t, "education-4--school", idOf(t, tree, m.Handle))
}

func TestResolve_InvalidSpecIsSkipped(t *testing.T) {
	loc, tree := newLocator(t, educationDoc)
	specs := []schemas.SelectorSpec{
		schemas.ByXPath("//input[@id="),
		schemas.ByExactID("education-4--degree"),
	}
	m, err := loc.Resolve(context.Background(), specs, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Index)
	assert.Equal(t, "education-4--degree", idOf(t, tree, m.Handle))
}

func TestResolve_ZeroTimeoutIsImmediate(t *testing.T) {
	tree, err := memtree.ParseString(educationDoc)
	require.NoError(t, err)
	loc := locator.New(tree, config.LocatorConfig{PollInterval: time.Second}, nil)

	start := time.Now()
	_, err = loc.Resolve(context.Background(), []schemas.SelectorSpec{schemas.ByExactID("missing")}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, locator.ErrNodeNotFound))
	var nf *locator.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, time.Duration(0), nf.Timeout)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestResolve_PollsUntilNodeAppears(t *testing.T) {
	defer goleak.VerifyNone(t)
	loc, tree := newLocator(t, educationDoc)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(30 * time.Millisecond)
		_ = tree.Append("//body", `<input id="late--field">`)
	}()

	m, err := loc.Resolve(context.Background(), []schemas.SelectorSpec{schemas.ByIDSuffix("--field")}, time.Second)
	<-done
	require.NoError(t, err)
	assert.Equal(t, "late--field", idOf(t, tree, m.Handle))
}

func TestResolve_TimeoutAndCancellation(t *testing.T) {
	loc, _ := newLocator(t, educationDoc)
	specs := []schemas.SelectorSpec{schemas.ByExactID("never")}

	start := time.Now()
	_, err := loc.Resolve(context.Background(), specs, 40*time.Millisecond)
	assert.ErrorIs(t, err, locator.ErrNodeNotFound)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = loc.Resolve(ctx, specs, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, locator.ErrNodeNotFound)
}

func TestResolveWithin_Scope(t *testing.T) {
	loc, tree := newLocator(t, educationDoc)
	ctx := context.Background()

	scope, err := loc.Resolve(ctx, []schemas.SelectorSpec{schemas.ByExactID("other")}, 0)
	require.NoError(t, err)

	m, err := loc.ResolveWithin(ctx, scope.Handle, []schemas.SelectorSpec{schemas.ByIDSuffix("--school")}, 0)
	require.NoError(t, err)
	assert.Equal(t, "other--school", idOf(t, tree, m.Handle), "lookup must not escape the scope")

	tree.Rerender()
	_, err = loc.ResolveWithin(ctx, scope.Handle, []schemas.SelectorSpec{schemas.ByIDSuffix("--school")}, 0)
	assert.ErrorIs(t, err, render.ErrStale)
}

func TestResolve_ShortIDsBesideSuffixMatch(t *testing.T) {
	loc, tree := newLocator(t, `<html><body><div id="x1"></div><input id="sec-1--name"></body></html>`)

	specs := []schemas.SelectorSpec{
		schemas.ByExactID("x"),
		schemas.ByIDSuffix("--name"),
	}
	var (
		m   locator.Match
		err error
	)
	require.NotPanics(t, func() {
		m, err = loc.Resolve(context.Background(), specs, 0)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Index)
	assert.Equal(t, "sec-1--name", idOf(t, tree, m.Handle))
}

func TestScoped(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"//a", ".//a"},
		{".//a", ".//a"},
		{"input", "input"},
		{"//a | //b", ".//a | .//b"},
		{"//a[@x='|'] | /b", ".//a[@x='|'] | ./b"},
		{"//a[contains(., 'x|y')]", ".//a[contains(., 'x|y')]"},
		{"(//a | //b)[1]", "(.//a | .//b)[1]"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, locator.Scoped(tc.in), "input %q", tc.in)
	}
}

func TestResolveWithin_UnionStaysInScope(t *testing.T) {
	loc, tree := newLocator(t, educationDoc)
	ctx := context.Background()

	scope, err := loc.Resolve(ctx, []schemas.SelectorSpec{schemas.ByExactID("other")}, 0)
	require.NoError(t, err)

	// The first branch has no match inside the scope; the second must not
	// reach the education inputs that come earlier in the document.
	spec := schemas.ByXPath("//span | //input")
	m, err := loc.ResolveWithin(ctx, scope.Handle, []schemas.SelectorSpec{spec}, 0)
	require.NoError(t, err)
	assert.Equal(t, "other--school", idOf(t, tree, m.Handle))
}

// -- Sections --

func TestSections_PrefixDiscoveryAndCache(t *testing.T) {
	loc, tree := newLocator(t, educationDoc)
	ctx := context.Background()
	sections := locator.NewSections(loc, []schemas.SectionDef{{
		Name:           "education",
		AnchorPrefix:   "education-",
		AnchorSuffix:   "--school",
		FallbackPrefix: "education-17--",
	}}, nil)

	prefix, discovered, err := sections.Prefix(ctx, "education")
	require.NoError(t, err)
	assert.True(t, discovered)
	assert.Equal(t, "education-4--", prefix)

	// Cached for the rest of the run even if the anchor disappears.
	_, err = tree.Remove("//*[@id='education-4--school']")
	require.NoError(t, err)
	prefix, discovered, err = sections.Prefix(ctx, "education")
	require.NoError(t, err)
	assert.True(t, discovered)
	assert.Equal(t, "education-4--", prefix)

	spec, err := sections.Address(ctx, "education", "degree")
	require.NoError(t, err)
	assert.Equal(t, schemas.ByExactID("education-4--degree"), spec)

	sections.Reset()
	prefix, discovered, err = sections.Prefix(ctx, "education")
	require.NoError(t, err)
	assert.False(t, discovered)
	assert.Equal(t, "education-17--", prefix)

	_, _, err = sections.Prefix(ctx, "unknown")
	assert.Error(t, err)
}

func TestSections_FallbackIsLoggedAndNotCached(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	loc, tree := newLocator(t, `<html><body><div id="work"></div></body></html>`)
	ctx := context.Background()
	sections := locator.NewSections(loc, []schemas.SectionDef{{
		Name:           "work",
		AnchorPrefix:   "workExperience-",
		AnchorSuffix:   "--jobTitle",
		FallbackPrefix: "workExperience-6--",
	}}, zap.New(core))

	prefix, discovered, err := sections.Prefix(ctx, "work")
	require.NoError(t, err)
	assert.False(t, discovered)
	assert.Equal(t, "workExperience-6--", prefix)
	require.Equal(t, 1, logs.FilterMessageSnippet("degraded mode").Len())

	// The section renders after the add action; the next lookup discovers it.
	require.NoError(t, tree.Append("//div[@id='work']", `<input id="workExperience-61--jobTitle">`))
	prefix, discovered, err = sections.Prefix(ctx, "work")
	require.NoError(t, err)
	assert.True(t, discovered)
	assert.Equal(t, "workExperience-61--", prefix)
}

func TestSections_NoFallbackConfigured(t *testing.T) {
	loc, _ := newLocator(t, `<html><body></body></html>`)
	sections := locator.NewSections(loc, []schemas.SectionDef{{
		Name: "x", AnchorPrefix: "x-", AnchorSuffix: "--y",
	}}, nil)
	_, _, err := sections.Prefix(context.Background(), "x")
	assert.ErrorIs(t, err, locator.ErrNodeNotFound)
}
