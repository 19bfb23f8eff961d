package locator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// DefaultSeparator splits a generated id into its section prefix and field suffix.
const DefaultSeparator = "--"

// Sections recovers the runtime-generated id prefix of repeated form sections,
// e.g. "education-17--" from an anchor such as "education-17--school".
//
// A recovered prefix is cached until Reset; a fallback prefix never is, so a
// section that renders late is picked up on the next lookup.
type Sections struct {
	loc    *Locator
	defs   map[string]schemas.SectionDef
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewSections creates a resolver for the given section definitions.
func NewSections(loc *Locator, defs []schemas.SectionDef, logger *zap.Logger) *Sections {
	byName := make(map[string]schemas.SectionDef, len(defs))
	for _, d := range defs {
		if d.Separator == "" {
			d.Separator = DefaultSeparator
		}
		byName[d.Name] = d
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sections{
		loc:    loc,
		defs:   byName,
		logger: logger.Named("sections"),
		cache:  make(map[string]string),
	}
}

// Reset forgets cached prefixes. The sequencer calls it at the start of a run.
func (s *Sections) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]string)
}

// Prefix returns the id prefix of the named section, separator included.
// The returned bool is false when the fallback prefix had to be used.
func (s *Sections) Prefix(ctx context.Context, name string) (string, bool, error) {
	def, ok := s.defs[name]
	if !ok {
		return "", false, fmt.Errorf("unknown section %q", name)
	}

	s.mu.Lock()
	cached, hit := s.cache[name]
	s.mu.Unlock()
	if hit {
		return cached, true, nil
	}

	prefix, err := s.discover(ctx, def)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		s.logger.Warn("Section anchor unavailable; using fallback prefix (degraded mode).",
			zap.String("section", name),
			zap.String("fallback", def.FallbackPrefix),
			zap.Error(err),
		)
		if def.FallbackPrefix == "" {
			return "", false, err
		}
		return def.FallbackPrefix, false, nil
	}

	s.mu.Lock()
	s.cache[name] = prefix
	s.mu.Unlock()
	s.logger.Debug("Section prefix resolved.", zap.String("section", name), zap.String("prefix", prefix))
	return prefix, true, nil
}

// Address builds the exact-id selector for a field of a section.
func (s *Sections) Address(ctx context.Context, section, suffix string) (schemas.SelectorSpec, error) {
	prefix, _, err := s.Prefix(ctx, section)
	if err != nil {
		return schemas.SelectorSpec{}, err
	}
	return schemas.ByExactID(prefix + suffix), nil
}

func (s *Sections) discover(ctx context.Context, def schemas.SectionDef) (string, error) {
	expr := IDPrefixSuffix(def.AnchorPrefix, def.AnchorSuffix)
	m, err := s.loc.Resolve(ctx, []schemas.SelectorSpec{schemas.ByXPath(expr)}, 0)
	if err != nil {
		return "", err
	}
	info, err := s.loc.tree.Describe(ctx, m.Handle)
	if err != nil {
		return "", err
	}
	idx := strings.Index(info.ID, def.Separator)
	if idx < 0 {
		return "", fmt.Errorf("anchor id %q has no separator %q", info.ID, def.Separator)
	}
	return info.ID[:idx] + def.Separator, nil
}
