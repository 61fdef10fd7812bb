package privacy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	require.NotNil(t, reg)
	assert.Same(t, reg, DefaultRegistry(), "default registry must be compiled once")

	patterns := reg.Patterns()
	require.NotEmpty(t, patterns)

	t.Run("families are ordered", func(t *testing.T) {
		last := FamilyStructural
		for _, p := range patterns {
			assert.GreaterOrEqual(t, int(p.Family), int(last), "pattern %s out of family order", p.Name)
			last = p.Family
		}
	})

	t.Run("contextual patterns report their group", func(t *testing.T) {
		for _, p := range patterns {
			if p.Family == FamilyContextual {
				assert.Equal(t, 2, p.span, p.Name)
			}
		}
	})

	t.Run("confidence in range", func(t *testing.T) {
		for _, p := range patterns {
			assert.True(t, p.Confidence >= 0 && p.Confidence <= 1, p.Name)
			assert.True(t, p.Category.Valid(), p.Name)
		}
	})

	t.Run("lookup", func(t *testing.T) {
		p, ok := reg.Lookup("mobile_phone")
		require.True(t, ok)
		assert.Equal(t, CategoryPhone, p.Category)
		_, ok = reg.Lookup("nope")
		assert.False(t, ok)
	})

	t.Run("patterns copy is detached", func(t *testing.T) {
		ps := reg.Patterns()
		ps[0] = nil
		assert.NotNil(t, reg.Patterns()[0])
	})
}

func TestParseRegistryRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad regex", "structural:\n  - {name: x, category: PHONE, regex: '(', confidence: 0.5}\n"},
		{"unknown category", "structural:\n  - {name: x, category: SHOE_SIZE, regex: 'a', confidence: 0.5}\n"},
		{"confidence too high", "structural:\n  - {name: x, category: PHONE, regex: 'a', confidence: 1.5}\n"},
		{"unknown guard", "structural:\n  - {name: x, category: PHONE, regex: 'a', confidence: 0.5, guard: fence}\n"},
		{"contextual without group", "contextual:\n  - {name: x, category: NAME, regex: 'a', confidence: 0.5}\n"},
		{"two groups", "names:\n  - {name: x, category: NAME, regex: '(a)(b)', confidence: 0.5}\n"},
		{"duplicate name", "structural:\n  - {name: x, category: PHONE, regex: 'a', confidence: 0.5}\nnames:\n  - {name: x, category: NAME, regex: 'b', confidence: 0.5}\n"},
		{"missing name", "structural:\n  - {category: PHONE, regex: 'a', confidence: 0.5}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPattern), "got %v", err)
		})
	}
}

func TestParseRegistryMalformedYAML(t *testing.T) {
	_, err := ParseRegistry([]byte("structural: [unclosed"))
	assert.Error(t, err)
}

func TestCategoryLabelsAndParsing(t *testing.T) {
	assert.Len(t, Categories(), 14)
	assert.Equal(t, "電話番号", CategoryPhone.Label())
	assert.Equal(t, "PHONE", CategoryPhone.String())

	for _, c := range Categories() {
		byKey, err := ParseCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, byKey)

		byLabel, err := ParseCategory(c.Label())
		require.NoError(t, err)
		assert.Equal(t, c, byLabel)
	}

	c, err := ParseCategory("case_number")
	require.NoError(t, err)
	assert.Equal(t, CategoryCaseNumber, c)

	_, err = ParseCategory("nope")
	assert.Error(t, err)
	assert.False(t, Category(0).Valid())
	assert.Equal(t, "", Category(99).Label())
}
