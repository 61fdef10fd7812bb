package privacy

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

const previewRunes = 10

// Detector finds non-overlapping PII spans using an ordered Registry.
// It is safe for concurrent use; per-call numbering lives in a sequencer.
type Detector struct {
	registry *Registry
	logger   *zap.Logger

	mu      sync.RWMutex
	enabled map[string]bool
}

// NewDetector creates a detector over reg with the given detectors enabled.
// Entries may be pattern names, category keys such as "PHONE", or "all".
// An empty list enables everything.
func NewDetector(reg *Registry, detectors []string, log *zap.Logger) (*Detector, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Detector{
		registry: reg,
		logger:   log,
		enabled:  make(map[string]bool, reg.Len()),
	}
	if len(detectors) == 0 {
		detectors = []string{"all"}
	}
	if err := d.Configure(detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	log.Info("PII detector initialized",
		zap.Int("total_rules", reg.Len()),
		zap.Int("enabled_rules", d.countEnabledRules()),
	)
	return d, nil
}

// Configure replaces the enabled set. The previous set is kept on error.
func (d *Detector) Configure(detectors []string) error {
	next := make(map[string]bool, d.registry.Len())
	for _, p := range d.registry.patterns {
		next[p.Name] = false
	}

	for _, name := range detectors {
		name = strings.TrimSpace(name)
		if name == "all" {
			for _, p := range d.registry.patterns {
				next[p.Name] = true
			}
			continue
		}
		if _, ok := next[name]; ok {
			next[name] = true
			continue
		}
		cat, err := ParseCategory(name)
		if err != nil {
			return fmt.Errorf("unknown detector: %s", name)
		}
		for _, p := range d.registry.patterns {
			if p.Category == cat {
				next[p.Name] = true
			}
		}
	}

	d.mu.Lock()
	d.enabled = next
	d.mu.Unlock()
	return nil
}

// EnableRule enables a single pattern by name.
func (d *Detector) EnableRule(name string) error {
	return d.setRule(name, true)
}

// DisableRule disables a single pattern by name.
func (d *Detector) DisableRule(name string) error {
	return d.setRule(name, false)
}

func (d *Detector) setRule(name string, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.enabled[name]; !ok {
		return fmt.Errorf("unknown rule: %s", name)
	}
	d.enabled[name] = on
	d.logger.Info("Detection rule updated", zap.String("rule", name), zap.Bool("enabled", on))
	return nil
}

// EnabledRules returns enabled pattern names in priority order.
func (d *Detector) EnabledRules() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, p := range d.registry.patterns {
		if d.enabled[p.Name] {
			out = append(out, p.Name)
		}
	}
	return out
}

// Registry returns the registry the detector scans with.
func (d *Detector) Registry() *Registry { return d.registry }

func (d *Detector) countEnabledRules() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, on := range d.enabled {
		if on {
			n++
		}
	}
	return n
}

func (d *Detector) activePatterns() []*Pattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Pattern, 0, len(d.registry.patterns))
	for _, p := range d.registry.patterns {
		if d.enabled[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

// FindMatches detects PII in text with numbering starting at 1 for every
// category. Matches are returned in acceptance order.
func (d *Detector) FindMatches(text string) []Match {
	return d.detect(text, newSequencer())
}

// detect runs every active pattern in priority order and keeps a hit only
// if it does not intersect an already accepted span.
func (d *Detector) detect(text string, seq *sequencer) []Match {
	return d.detectKnown(text, seq, nil)
}

// detectKnown is detect followed by a pass that masks every further literal
// occurrence of an accepted value, or of a value in known, that does not
// intersect an accepted span. Each occurrence gets its own placeholder.
func (d *Detector) detectKnown(text string, seq *sequencer, known []Match) []Match {
	if text == "" {
		return nil
	}
	var accepted []Match
	for _, p := range d.activePatterns() {
		p.scan(text, func(start, end int) {
			if overlaps(accepted, start, end) {
				return
			}
			m := Match{
				Category:    p.Category,
				Original:    text[start:end],
				Placeholder: seq.next(p.Category),
				Start:       start,
				End:         end,
				Confidence:  p.Confidence,
			}
			accepted = append(accepted, m)
			d.logger.Debug("PII detected",
				zap.String("rule", p.Name),
				zap.String("category", p.Category.String()),
				zap.String("placeholder", m.Placeholder),
				zap.Int("start", start),
				zap.Int("end", end),
				zap.Float64("confidence", p.Confidence),
			)
		})
	}
	seeds := make([]Match, 0, len(accepted)+len(known))
	seeds = append(seeds, accepted...)
	seeds = append(seeds, known...)
	return d.propagate(text, accepted, seeds, seq)
}

func (d *Detector) propagate(text string, accepted, seeds []Match, seq *sequencer) []Match {
	done := make(map[string]bool, len(seeds))
	for _, src := range seeds {
		if src.Original == "" || done[src.Original] {
			continue
		}
		done[src.Original] = true
		for from := 0; from < len(text); {
			i := strings.Index(text[from:], src.Original)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(src.Original)
			_, size := utf8.DecodeRuneInString(text[start:])
			from = start + size
			if overlaps(accepted, start, end) {
				continue
			}
			m := Match{
				Category:    src.Category,
				Original:    src.Original,
				Placeholder: seq.next(src.Category),
				Start:       start,
				End:         end,
				Confidence:  src.Confidence,
			}
			accepted = append(accepted, m)
			d.logger.Debug("PII repeated",
				zap.String("category", m.Category.String()),
				zap.String("placeholder", m.Placeholder),
				zap.Int("start", start),
				zap.Int("end", end),
			)
		}
	}
	return accepted
}

func overlaps(accepted []Match, start, end int) bool {
	for _, m := range accepted {
		if start < m.End && end > m.Start {
			return true
		}
	}
	return false
}

// Detect summarises the PII in text without anonymizing it. Previews are
// truncated so the summary never carries a full value.
func (d *Detector) Detect(text string) DetectionSummary {
	matches := d.FindMatches(text)
	summary := DetectionSummary{
		TotalCount:      len(matches),
		CountByCategory: make(map[string]int),
		Findings:        make([]Finding, 0, len(matches)),
	}
	for _, m := range matches {
		summary.CountByCategory[m.Category.Label()]++
		summary.Findings = append(summary.Findings, Finding{
			Category:   m.Category,
			Label:      m.Category.Label(),
			Preview:    preview(m.Original),
			Confidence: m.Confidence,
		})
	}
	return summary
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewRunes {
		return s
	}
	return string(r[:previewRunes]) + "..."
}

// sequencer hands out per-category placeholder numbers for one top-level
// call. It is never shared between calls.
type sequencer struct {
	counts map[Category]int
}

func newSequencer() *sequencer {
	return &sequencer{counts: make(map[Category]int)}
}

func (s *sequencer) next(c Category) string {
	s.counts[c]++
	return formatPlaceholder(c, s.counts[c])
}

// formatPlaceholder renders "[<label>_<n>]". Labels contain no brackets, so
// a placeholder can never be a substring of a different placeholder.
func formatPlaceholder(c Category, n int) string {
	return fmt.Sprintf("[%s_%d]", c.Label(), n)
}
