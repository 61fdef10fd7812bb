package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuditor(t *testing.T) *Auditor {
	t.Helper()
	return NewAuditor(newTestAnonymizer(t), zap.NewNop())
}

func issueKinds(r VerificationReport) []IssueKind {
	var out []IssueKind
	for _, i := range r.Issues {
		out = append(out, i.Kind)
	}
	return out
}

func TestVerifyValidResult(t *testing.T) {
	au := newTestAuditor(t)
	text := "山田太郎さんに090-1234-5678で連絡した"
	res := au.anonymizer.AnonymizeText(text)

	report := au.VerifyResult(text, res)
	assert.True(t, report.IsValid, "issues: %v", report.Issues)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 2, report.PIICount)
	assert.Equal(t, len([]rune(text)), report.OriginalLength)
}

func TestVerifyReportsEachIssueKind(t *testing.T) {
	au := newTestAuditor(t)
	mappings := []Match{
		{Category: CategoryName, Original: "山田太郎", Placeholder: "[氏名_1]"},
		{Category: CategoryPhone, Original: "090-1234-5678", Placeholder: "[電話番号_1]"},
	}

	t.Run("leakage", func(t *testing.T) {
		report := au.Verify("山田太郎と090-1234-5678", "山田太郎と[電話番号_1]", mappings)
		assert.False(t, report.IsValid)
		assert.Contains(t, issueKinds(report), IssuePIILeakage)
		assert.Contains(t, issueKinds(report), IssuePlaceholderMissing)
		for _, i := range report.Issues {
			assert.NotContains(t, i.Description, "山田太郎")
			assert.NotContains(t, i.Description, "090-1234-5678")
		}
	})

	t.Run("restoration failure", func(t *testing.T) {
		report := au.Verify("山田太郎と090-1234-5678", "[氏名_1]に[電話番号_1]", mappings)
		assert.Equal(t, []IssueKind{IssueRestorationFailure}, issueKinds(report))
	})

	t.Run("placeholder missing", func(t *testing.T) {
		report := au.Verify("山田太郎", "[氏名_1]", mappings[:1])
		assert.True(t, report.IsValid)

		report = au.Verify("山田太郎", "名前は省略", mappings[:1])
		assert.Contains(t, issueKinds(report), IssuePlaceholderMissing)
		assert.Contains(t, issueKinds(report), IssueRestorationFailure)
	})
}

func TestRunRegressionSuite(t *testing.T) {
	au := newTestAuditor(t)
	report := au.RunRegressionSuite()

	assert.Equal(t, len(DefaultRegressionCases), report.Total)
	assert.Equal(t, report.Checks, report.Passed+report.Failed)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1.0, report.Accuracy)
}

func TestRunCasesCountsMissedCategories(t *testing.T) {
	au := newTestAuditor(t)
	report := au.RunCases([]RegressionCase{
		{Text: "今日の天気は晴れです。", Expected: []Category{CategoryName}},
		{Text: "090-1234-5678", Expected: []Category{CategoryPhone, CategoryEmail}},
	})

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 3, report.Checks)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 2, report.Failed)
	assert.InDelta(t, 1.0/3.0, report.Accuracy, 1e-9)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, CategoryEmail, report.Failures[1].Expected)
	assert.Equal(t, []Category{CategoryPhone}, report.Failures[1].Detected)

	empty := au.RunCases(nil)
	assert.Equal(t, 0.0, empty.Accuracy)
}
