package privacy

import (
	"encoding/json"
	"sort"
	"strings"
)

// Restorer substitutes placeholders back to their original values. Build one
// per mapping list and reuse it for every leaf of a response.
type Restorer struct {
	replacer *strings.Replacer
	scalars  map[string]Match
}

// NewRestorer prepares a single-pass replacer. Longer placeholders are tried
// first so a placeholder is never cut short by another one it contains.
func NewRestorer(mappings []Match) *Restorer {
	ms := make([]Match, 0, len(mappings))
	for _, m := range mappings {
		if m.Placeholder != "" {
			ms = append(ms, m)
		}
	}
	if len(ms) == 0 {
		return &Restorer{}
	}
	sort.SliceStable(ms, func(i, j int) bool {
		return len(ms[i].Placeholder) > len(ms[j].Placeholder)
	})
	r := &Restorer{}
	pairs := make([]string, 0, 2*len(ms))
	for _, m := range ms {
		pairs = append(pairs, m.Placeholder, m.Original)
		if m.Scalar != "" {
			if r.scalars == nil {
				r.scalars = make(map[string]Match)
			}
			r.scalars[m.Placeholder] = m
		}
	}
	r.replacer = strings.NewReplacer(pairs...)
	return r
}

// Text restores every placeholder occurrence in text. Placeholders that are
// absent are skipped; unknown ones stay as literal text.
func (r *Restorer) Text(text string) string {
	if r.replacer == nil || text == "" {
		return text
	}
	return r.replacer.Replace(text)
}

// Value restores every string leaf of v. A leaf that is exactly the
// placeholder of a number or boolean gets its original type back. Keys and
// non-string leaves are left alone.
func (r *Restorer) Value(v Value) Value {
	switch v.Kind {
	case KindString:
		if m, ok := r.scalars[v.Str]; ok {
			return scalarValue(m)
		}
		return String(r.Text(v.Str))
	case KindArray:
		items := make([]Value, len(v.Items))
		for i, item := range v.Items {
			items[i] = r.Value(item)
		}
		return Array(items...)
	case KindObject:
		fields := make([]Field, len(v.Fields))
		for i, f := range v.Fields {
			fields[i] = Field{Key: f.Key, Value: r.Value(f.Value)}
		}
		return Object(fields...)
	}
	return v
}

func scalarValue(m Match) Value {
	switch m.Scalar {
	case KindNumber.String():
		return Number(json.Number(m.Original))
	case KindBool.String():
		return Bool(m.Original == "true")
	}
	return String(m.Original)
}

// RestoreText is a one-shot NewRestorer(mappings).Text(text).
func RestoreText(text string, mappings []Match) string {
	return NewRestorer(mappings).Text(text)
}

// RestoreValue is a one-shot NewRestorer(mappings).Value(v).
func RestoreValue(v Value, mappings []Match) Value {
	return NewRestorer(mappings).Value(v)
}

// RestoreAny restores a value decoded by encoding/json.
func RestoreAny(x any, mappings []Match) (any, error) {
	v, err := FromAny(x)
	if err != nil {
		return nil, err
	}
	return RestoreValue(v, mappings).Any(), nil
}

// RestoreJSON restores a JSON document, keeping its key order.
func RestoreJSON(data []byte, mappings []Match) ([]byte, error) {
	v, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	return RestoreValue(v, mappings).MarshalJSON()
}
