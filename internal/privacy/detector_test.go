package privacy

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(nil, nil, zap.NewNop())
	require.NoError(t, err)
	return d
}

func categoriesOf(matches []Match) []Category {
	out := make([]Category, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Category)
	}
	return out
}

func TestDetectorStructuralPatterns(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		name     string
		text     string
		category Category
		original string
	}{
		{"mobile phone", "携帯は090-1234-5678です", CategoryPhone, "090-1234-5678"},
		{"mobile phone without hyphens", "携帯09012345678", CategoryPhone, "09012345678"},
		{"landline phone", "自宅03-1234-5678", CategoryPhone, "03-1234-5678"},
		{"postal code", "〒160-0023", CategoryPostalCode, "160-0023"},
		{"email", "メールはtest@example.comへ", CategoryEmail, "test@example.com"},
		{"national id", "番号は1234-5678-9012です", CategoryNationalID, "1234-5678-9012"},
		{"era birth date", "昭和50年4月1日生", CategoryBirthDate, "昭和50年4月1日生"},
		{"western birth date", "1975年4月1日生まれ", CategoryBirthDate, "1975年4月1日生"},
		{"prefecture address", "東京都新宿区西新宿1丁目2番3号", CategoryAddress, "東京都新宿区西新宿1丁目2番3号"},
		{"bank account keyword", "口座番号1234567", CategoryBankAccount, "口座番号1234567"},
		{"organization contact", "福祉事務所の電話: 03-1234-5678", CategoryOrganizationContact, "03-1234-5678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := d.FindMatches(tt.text)
			require.Len(t, matches, 1, "matches: %v", categoriesOf(matches))
			assert.Equal(t, tt.category, matches[0].Category)
			assert.Equal(t, tt.original, matches[0].Original)
			assert.Equal(t, tt.text[matches[0].Start:matches[0].End], matches[0].Original)
		})
	}
}

func TestDetectorContextualPatternsCaptureOnlyTheName(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		text     string
		category Category
		original string
	}{
		{"受給者名: 山田太郎", CategoryName, "山田太郎"},
		{"担当: 佐藤花子", CategoryCaseworkerName, "佐藤花子"},
		{"主治医: 鈴木一郎", CategoryDoctorName, "鈴木一郎"},
		{"長男の田中一が訪問", CategoryFamilyName, "田中一"},
		{"緊急連絡先: 田中花子", CategoryKeyPersonName, "田中花子"},
		{"ケース番号A12345678について", CategoryCaseNumber, "A12345678"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			matches := d.FindMatches(tt.text)
			require.Len(t, matches, 1, "matches: %v", categoriesOf(matches))
			assert.Equal(t, tt.category, matches[0].Category)
			assert.Equal(t, tt.original, matches[0].Original)
		})
	}
}

func TestDetectorNoPII(t *testing.T) {
	d := newTestDetector(t)
	for _, text := range []string{"", "今日の天気は晴れです。", "体調良好", "特記事項なし"} {
		assert.Empty(t, d.FindMatches(text), text)
	}
}

func TestDetectorPhoneDoesNotSwallowCaseNumberPrefix(t *testing.T) {
	// "05-12345" inside "R05-12345" used to be reported as a phone number.
	d := newTestDetector(t)
	matches := d.FindMatches("ケース番号R05-12345")
	require.Len(t, matches, 1)
	assert.Equal(t, CategoryCaseNumber, matches[0].Category)
	assert.Equal(t, "R05-12345", matches[0].Original)
}

func TestDetectorDigitGuardRejectsLongerNumbers(t *testing.T) {
	d := newTestDetector(t)
	assert.Empty(t, d.FindMatches("1234567890123"), "13 digits are not a 12 digit national id")

	matches := d.FindMatches("番号123456789012")
	require.Len(t, matches, 1)
	assert.Equal(t, CategoryNationalID, matches[0].Category)
}

func TestDetectorKanjiNameNeedsSeparatorAndBoundary(t *testing.T) {
	d := newTestDetector(t)

	matches := d.FindMatches("山田 太郎、来所")
	require.Len(t, matches, 1)
	assert.Equal(t, CategoryName, matches[0].Category)
	assert.Equal(t, "山田 太郎", matches[0].Original)

	assert.Empty(t, d.FindMatches("山田太郎"), "no separator, no honorific")
}

func TestDetectorOverlapFirstPatternWins(t *testing.T) {
	d := newTestDetector(t)
	// landline_phone also matches the number; the organization pattern is
	// earlier in the registry and keeps it.
	matches := d.FindMatches("病院の電話: 03-1234-5678")
	require.Len(t, matches, 1)
	assert.Equal(t, CategoryOrganizationContact, matches[0].Category)
}

func TestDetectorRepeatedValuesGetOwnPlaceholders(t *testing.T) {
	d := newTestDetector(t)
	matches := d.FindMatches("090-1234-5678と090-1234-5678")
	require.Len(t, matches, 2)
	assert.Equal(t, "[電話番号_1]", matches[0].Placeholder)
	assert.Equal(t, "[電話番号_2]", matches[1].Placeholder)
	assert.NotEqual(t, matches[0].Start, matches[1].Start)
}

func TestDetectorSequenceIsPerCall(t *testing.T) {
	d := newTestDetector(t)
	first := d.FindMatches("090-1234-5678")
	second := d.FindMatches("090-1234-5678")
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Placeholder, second[0].Placeholder)
}

func TestDetectorEnableDisable(t *testing.T) {
	d, err := NewDetector(nil, []string{"PHONE"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"mobile_phone", "landline_phone"}, d.EnabledRules())

	assert.Empty(t, d.FindMatches("test@example.com"))
	assert.Len(t, d.FindMatches("090-1234-5678"), 1)

	require.NoError(t, d.DisableRule("mobile_phone"))
	matches := d.FindMatches("090-1234-5678")
	require.Len(t, matches, 1, "landline still covers the number")
	require.NoError(t, d.DisableRule("landline_phone"))
	assert.Empty(t, d.FindMatches("090-1234-5678"))

	require.NoError(t, d.EnableRule("email"))
	assert.Len(t, d.FindMatches("test@example.com"), 1)

	assert.Error(t, d.EnableRule("unknown"))

	require.NoError(t, d.Configure([]string{"all"}))
	assert.Len(t, d.EnabledRules(), d.Registry().Len())

	assert.Error(t, d.Configure([]string{"bogus"}))
	assert.Len(t, d.EnabledRules(), d.Registry().Len(), "failed configure keeps previous set")
}

func TestDetectorDetectSummary(t *testing.T) {
	d := newTestDetector(t)
	summary := d.Detect("山田太郎さんに090-1234-5678で連絡した")
	assert.Equal(t, 2, summary.TotalCount)
	assert.Equal(t, 1, summary.CountByCategory["電話番号"])
	assert.Equal(t, 1, summary.CountByCategory["氏名"])
	for _, f := range summary.Findings {
		assert.LessOrEqual(t, len([]rune(f.Preview)), previewRunes+3)
	}

	assert.Equal(t, "0123456789...", preview("0123456789abc"))
	assert.Equal(t, "短い", preview("短い"))
}

func TestPlaceholderFormat(t *testing.T) {
	re := regexp.MustCompile(`^\[[^\[\]_\s]+_[1-9]\d*\]$`)
	seq := newSequencer()
	for _, c := range Categories() {
		for i := 0; i < 12; i++ {
			p := seq.next(c)
			assert.Regexp(t, re, p)
		}
	}
	assert.NotContains(t, formatPlaceholder(CategoryName, 10), formatPlaceholder(CategoryName, 1))
}
