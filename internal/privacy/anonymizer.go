package privacy

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// directIdentifierConfidence is reported for values replaced because of
// their field name rather than their content.
const directIdentifierConfidence = 1.0

// Direct-identifier values shorter than this are replaced in their own field
// only, not searched for in other leaves.
const (
	minKnownRunes  = 2
	minKnownDigits = 4
)

// DefaultDirectIdentifiers maps structured-data keys whose whole value is
// PII to the category used for their placeholder. Keys compare
// case-insensitively.
var DefaultDirectIdentifiers = map[string]Category{
	"name":           CategoryName,
	"recipient_name": CategoryName,
	"address":        CategoryAddress,
	"phone":          CategoryPhone,
	"birth_date":     CategoryBirthDate,
	"dob":            CategoryBirthDate,
	"case_number":    CategoryCaseNumber,
	"casenumber":     CategoryCaseNumber,
	"my_number":      CategoryNationalID,
	"national_id":    CategoryNationalID,
	"bank_account":   CategoryBankAccount,
	"email":          CategoryEmail,
	"postal_code":    CategoryPostalCode,
	"caseworker":     CategoryCaseworkerName,
	"recorded_by":    CategoryCaseworkerName,
	"doctor":         CategoryDoctorName,
	"key_person":     CategoryKeyPersonName,
}

// ParseDirectIdentifiers converts a key -> category-name table, as found in
// configuration, into categories.
func ParseDirectIdentifiers(raw map[string]string) (map[string]Category, error) {
	out := make(map[string]Category, len(raw))
	for key, name := range raw {
		cat, err := ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("direct identifier %q: %w", key, err)
		}
		out[key] = cat
	}
	return out, nil
}

// Anonymizer replaces detected PII with reversible placeholders. It keeps no
// per-call state and may be shared between goroutines.
type Anonymizer struct {
	detector *Detector
	direct   map[string]Category
	logger   *zap.Logger
}

// New creates an Anonymizer. extra adds to or overrides the default
// direct-identifier keys.
func New(detector *Detector, extra map[string]Category, log *zap.Logger) *Anonymizer {
	if log == nil {
		log = zap.NewNop()
	}
	direct := make(map[string]Category, len(DefaultDirectIdentifiers)+len(extra))
	for k, c := range DefaultDirectIdentifiers {
		direct[strings.ToLower(k)] = c
	}
	for k, c := range extra {
		direct[strings.ToLower(k)] = c
	}
	return &Anonymizer{
		detector: detector,
		direct:   direct,
		logger:   log,
	}
}

// Detector returns the detector used for free text.
func (a *Anonymizer) Detector() *Detector { return a.detector }

// AnonymizeText replaces every detected span in text. Mappings are returned
// in ascending offset order. Empty input gives an empty result.
func (a *Anonymizer) AnonymizeText(text string) *Result {
	matches := a.detector.detect(text, newSequencer())
	sortByOffset(matches)

	res := newResult(substitute(text, matches), matches)
	a.logger.Debug("Text anonymized",
		zap.String("session_id", res.SessionID),
		zap.Int("pii_count", res.Stats.TotalCount),
	)
	return res
}

// Preview summarises the PII in text without replacing anything.
func (a *Anonymizer) Preview(text string) DetectionSummary {
	return a.detector.Detect(text)
}

// AnonymizeValue walks v and returns a copy with PII string leaves replaced.
// One sequence is shared by the whole walk. The result's AnonymizedText is
// empty; mappings are in walk order and carry the path of their leaf.
func (a *Anonymizer) AnonymizeValue(v Value) (Value, *Result) {
	w := &walker{a: a, seq: newSequencer()}
	w.collect(v, 0, false)
	out := w.walk(v, "")

	res := newResult("", w.matches)
	a.logger.Debug("Structured value anonymized",
		zap.String("session_id", res.SessionID),
		zap.Int("pii_count", res.Stats.TotalCount),
	)
	return out, res
}

// AnonymizeAny is AnonymizeValue for values decoded by encoding/json.
func (a *Anonymizer) AnonymizeAny(x any) (any, *Result, error) {
	v, err := FromAny(x)
	if err != nil {
		return nil, nil, err
	}
	out, res := a.AnonymizeValue(v)
	return out.Any(), res, nil
}

// AnonymizeJSON anonymizes a JSON document, keeping its key order.
func (a *Anonymizer) AnonymizeJSON(data []byte) ([]byte, *Result, error) {
	v, err := ParseJSON(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	out, res := a.AnonymizeValue(v)
	b, err := out.MarshalJSON()
	if err != nil {
		return nil, nil, err
	}
	return b, res, nil
}

// walker carries one structured walk. known holds direct-identifier values
// worth masking in other leaves; found holds matches from earlier text
// leaves.
type walker struct {
	a       *Anonymizer
	seq     *sequencer
	matches []Match
	known   []Match
	found   []Match
}

// collect gathers the values held under direct-identifier keys so text
// leaves anywhere in the document can mask repeats of them.
func (w *walker) collect(v Value, cat Category, under bool) {
	switch v.Kind {
	case KindString:
		if under && utf8.RuneCountInString(v.Str) >= minKnownRunes {
			w.known = append(w.known, Match{Category: cat, Original: v.Str, Confidence: directIdentifierConfidence})
		}
	case KindNumber:
		if under && len(v.Number.String()) >= minKnownDigits {
			w.known = append(w.known, Match{Category: cat, Original: v.Number.String(), Confidence: directIdentifierConfidence})
		}
	case KindArray:
		for _, item := range v.Items {
			w.collect(item, cat, under)
		}
	case KindObject:
		for _, f := range v.Fields {
			if c, ok := w.a.direct[strings.ToLower(f.Key)]; ok {
				w.collect(f.Value, c, true)
			} else {
				w.collect(f.Value, 0, false)
			}
		}
	}
}

func (w *walker) walk(v Value, path string) Value {
	switch v.Kind {
	case KindString:
		return String(w.text(v.Str, path))
	case KindArray:
		items := make([]Value, len(v.Items))
		for i, item := range v.Items {
			items[i] = w.walk(item, indexPath(path, i))
		}
		return Array(items...)
	case KindObject:
		fields := make([]Field, len(v.Fields))
		for i, f := range v.Fields {
			p := fieldPath(path, f.Key)
			if cat, ok := w.a.direct[strings.ToLower(f.Key)]; ok {
				fields[i] = Field{Key: f.Key, Value: w.direct(f.Value, cat, p)}
			} else {
				fields[i] = Field{Key: f.Key, Value: w.walk(f.Value, p)}
			}
		}
		return Object(fields...)
	}
	return v
}

// direct replaces scalar leaves under a direct-identifier key without
// scanning them. Numbers and booleans become placeholder strings; this is
// the only place anonymization changes a leaf's type. Objects below it are
// walked by their own keys.
func (w *walker) direct(v Value, cat Category, path string) Value {
	switch v.Kind {
	case KindString:
		if v.Str == "" {
			return v
		}
		return w.replace(cat, v.Str, "", path)
	case KindNumber:
		return w.replace(cat, v.Number.String(), KindNumber.String(), path)
	case KindBool:
		return w.replace(cat, strconv.FormatBool(v.Bool), KindBool.String(), path)
	case KindArray:
		items := make([]Value, len(v.Items))
		for i, item := range v.Items {
			items[i] = w.direct(item, cat, indexPath(path, i))
		}
		return Array(items...)
	case KindObject:
		return w.walk(v, path)
	}
	return v
}

func (w *walker) replace(cat Category, original, scalar, path string) Value {
	m := Match{
		Category:    cat,
		Original:    original,
		Placeholder: w.seq.next(cat),
		Start:       0,
		End:         len(original),
		Confidence:  directIdentifierConfidence,
		Path:        path,
		Scalar:      scalar,
	}
	w.matches = append(w.matches, m)
	return String(m.Placeholder)
}

func (w *walker) text(s, path string) string {
	known := make([]Match, 0, len(w.known)+len(w.found))
	known = append(known, w.known...)
	known = append(known, w.found...)
	matches := w.a.detector.detectKnown(s, w.seq, known)
	if len(matches) == 0 {
		return s
	}
	for i := range matches {
		matches[i].Path = path
	}
	w.matches = append(w.matches, matches...)
	w.found = append(w.found, matches...)

	sorted := make([]Match, len(matches))
	copy(sorted, matches)
	sortByOffset(sorted)
	return substitute(s, sorted)
}

func fieldPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func indexPath(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}

func sortByOffset(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})
}

// substitute splices placeholders into text. matches must be sorted by
// offset and non-overlapping.
func substitute(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m.Start])
		b.WriteString(m.Placeholder)
		last = m.End
	}
	b.WriteString(text[last:])
	return b.String()
}

func newResult(text string, matches []Match) *Result {
	if matches == nil {
		matches = []Match{}
	}
	return &Result{
		AnonymizedText: text,
		Mappings:       matches,
		SessionID:      newSessionID(),
		Timestamp:      time.Now().UTC(),
		Stats:          computeStats(matches),
	}
}

// newSessionID returns 16 hex characters. The id is an opaque handle, not a
// secret.
func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return clockSessionID(time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

func clockSessionID(ns int64) string {
	return fmt.Sprintf("%016x", uint64(ns))
}
