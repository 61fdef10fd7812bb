package privacy

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/raaihank/case-sentinel/patterns"
)

// ErrInvalidPattern is returned when a registry entry cannot be compiled or
// breaks the capture-group rules of its family.
var ErrInvalidPattern = errors.New("invalid pattern")

// Family groups patterns by detection technique. Families are evaluated in
// declaration order.
type Family int

const (
	FamilyStructural Family = iota
	FamilyName
	FamilyContextual
)

func (f Family) String() string {
	switch f {
	case FamilyStructural:
		return "structural"
	case FamilyName:
		return "names"
	case FamilyContextual:
		return "contextual"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// Guard forbids a rune class directly before and after a match. It stands in
// for the lookaround assertions RE2 does not support.
type Guard int

const (
	GuardNone Guard = iota
	GuardDigit
	GuardAlnum
	GuardWord
)

func parseGuard(s string) (Guard, error) {
	switch s {
	case "", "none":
		return GuardNone, nil
	case "digit":
		return GuardDigit, nil
	case "alnum":
		return GuardAlnum, nil
	case "word":
		return GuardWord, nil
	}
	return GuardNone, fmt.Errorf("unknown guard %q", s)
}

// tail is appended to the compiled expression so the engine itself picks the
// longest alternative that is not followed by a forbidden rune.
func (g Guard) tail() string {
	switch g {
	case GuardDigit:
		return `(?:[^\p{Nd}]|$)`
	case GuardAlnum:
		return `(?:[^\p{Nd}A-Za-z]|$)`
	case GuardWord:
		return `(?:[^\p{L}\p{N}_]|$)`
	}
	return ""
}

func (g Guard) forbids(r rune) bool {
	switch g {
	case GuardDigit:
		return unicode.IsDigit(r)
	case GuardAlnum:
		return unicode.IsDigit(r) || (r < utf8.RuneSelf && unicode.IsLetter(r))
	case GuardWord:
		return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_'
	}
	return false
}

// Pattern is one compiled detection rule.
type Pattern struct {
	Name       string
	Family     Family
	Category   Category
	Confidence float64
	Guard      Guard
	Source     string

	re *regexp.Regexp
	// submatch index of the reported span; group 1 is the whole body
	span int
}

// scan calls fn for every guarded hit, left to right, without overlap
// between hits of this pattern.
func (p *Pattern) scan(text string, fn func(start, end int)) {
	pos := 0
	for pos <= len(text) {
		loc := p.re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			return
		}
		bodyStart, bodyEnd := pos+loc[2], pos+loc[3]

		if p.Guard != GuardNone && bodyStart > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:bodyStart])
			if p.Guard.forbids(prev) {
				pos = nextRune(text, bodyStart)
				continue
			}
		}

		if s, e := loc[2*p.span], loc[2*p.span+1]; s >= 0 && e > s {
			fn(pos+s, pos+e)
		}

		if bodyEnd > bodyStart {
			pos = bodyEnd
		} else {
			pos = nextRune(text, bodyStart)
		}
	}
}

func nextRune(text string, i int) int {
	if i >= len(text) {
		return len(text) + 1
	}
	_, size := utf8.DecodeRuneInString(text[i:])
	return i + size
}

// Registry is an immutable, ordered list of patterns.
type Registry struct {
	patterns []*Pattern
}

// Patterns returns the patterns in priority order.
func (r *Registry) Patterns() []*Pattern {
	out := make([]*Pattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// Len returns the number of patterns.
func (r *Registry) Len() int { return len(r.patterns) }

// Lookup finds a pattern by name.
func (r *Registry) Lookup(name string) (*Pattern, bool) {
	for _, p := range r.patterns {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// RegistryFile is the YAML layout of a pattern registry.
type RegistryFile struct {
	Structural []PatternConfig `yaml:"structural"`
	Names      []PatternConfig `yaml:"names"`
	Contextual []PatternConfig `yaml:"contextual"`
}

// PatternConfig is a single YAML registry entry.
type PatternConfig struct {
	Name       string  `yaml:"name"`
	Category   string  `yaml:"category"`
	Regex      string  `yaml:"regex"`
	Confidence float64 `yaml:"confidence"`
	Guard      string  `yaml:"guard,omitempty"`
}

// ParseRegistry parses and compiles registry YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var rf RegistryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing pattern registry: %w", err)
	}
	return CompileRegistry(rf)
}

// LoadRegistryFile reads and compiles a registry from disk.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern registry %s: %w", path, err)
	}
	return ParseRegistry(data)
}

// CompileRegistry compiles the three families in order.
func CompileRegistry(rf RegistryFile) (*Registry, error) {
	reg := &Registry{}
	seen := make(map[string]bool)
	families := []struct {
		family  Family
		configs []PatternConfig
	}{
		{FamilyStructural, rf.Structural},
		{FamilyName, rf.Names},
		{FamilyContextual, rf.Contextual},
	}
	for _, f := range families {
		for _, pc := range f.configs {
			if seen[pc.Name] {
				return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidPattern, pc.Name)
			}
			seen[pc.Name] = true
			p, err := compilePattern(f.family, pc)
			if err != nil {
				return nil, err
			}
			reg.patterns = append(reg.patterns, p)
		}
	}
	return reg, nil
}

func compilePattern(family Family, pc PatternConfig) (*Pattern, error) {
	if pc.Name == "" {
		return nil, fmt.Errorf("%w: %s pattern without name", ErrInvalidPattern, family)
	}
	cat, err := ParseCategory(pc.Category)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pc.Name, err)
	}
	if pc.Confidence < 0 || pc.Confidence > 1 {
		return nil, fmt.Errorf("%w %q: confidence %v outside [0,1]", ErrInvalidPattern, pc.Name, pc.Confidence)
	}
	guard, err := parseGuard(pc.Guard)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pc.Name, err)
	}

	raw, err := regexp.Compile(pc.Regex)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pc.Name, err)
	}
	groups := raw.NumSubexp()
	switch {
	case family == FamilyContextual && groups != 1:
		return nil, fmt.Errorf("%w %q: contextual patterns need exactly one capture group, got %d", ErrInvalidPattern, pc.Name, groups)
	case groups > 1:
		return nil, fmt.Errorf("%w %q: at most one capture group allowed, got %d", ErrInvalidPattern, pc.Name, groups)
	}

	re, err := regexp.Compile("(" + pc.Regex + ")" + guard.tail())
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pc.Name, err)
	}

	span := 1
	if groups == 1 {
		span = 2
	}
	return &Pattern{
		Name:       pc.Name,
		Family:     family,
		Category:   cat,
		Confidence: pc.Confidence,
		Guard:      guard,
		Source:     pc.Regex,
		re:         re,
		span:       span,
	}, nil
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the embedded registry, compiled once per process.
// It panics if the embedded YAML is broken, which only a bad build can cause.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		reg, err := ParseRegistry(patterns.JaPIIYAML())
		if err != nil {
			panic(fmt.Sprintf("loading embedded PII patterns: %v", err))
		}
		defaultRegistry = reg
	})
	return defaultRegistry
}
