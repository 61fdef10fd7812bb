package privacy

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// IssueKind names a verification failure.
type IssueKind string

const (
	IssuePIILeakage         IssueKind = "pii_leakage"
	IssueRestorationFailure IssueKind = "restoration_failure"
	IssuePlaceholderMissing IssueKind = "placeholder_missing"
)

// Issue is one verification finding. Descriptions never quote original
// values.
type Issue struct {
	Kind        IssueKind `json:"type"`
	Category    Category  `json:"category,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Description string    `json:"description"`
}

// VerificationReport is the outcome of Auditor.Verify. Lengths are in runes.
type VerificationReport struct {
	IsValid          bool    `json:"is_valid"`
	OriginalLength   int     `json:"original_length"`
	AnonymizedLength int     `json:"anonymized_length"`
	PIICount         int     `json:"pii_count"`
	Issues           []Issue `json:"issues"`
}

// RegressionCase is a text and the categories detection must find in it.
type RegressionCase struct {
	Text     string     `json:"text"`
	Expected []Category `json:"expected"`
}

// RegressionFailure records one expected category that was not detected.
type RegressionFailure struct {
	Text     string     `json:"text"`
	Expected Category   `json:"expected"`
	Detected []Category `json:"detected"`
}

// RegressionReport summarises a regression run. Passed and Failed count
// expected categories, so Accuracy is Passed / (Passed + Failed).
type RegressionReport struct {
	Total    int                 `json:"total"`
	Checks   int                 `json:"checks"`
	Passed   int                 `json:"passed"`
	Failed   int                 `json:"failed"`
	Accuracy float64             `json:"accuracy"`
	Failures []RegressionFailure `json:"failures"`
}

// DefaultRegressionCases is the built-in detection table. Extend it whenever
// a detection bug is fixed.
var DefaultRegressionCases = []RegressionCase{
	{"山田太郎さんに電話した", []Category{CategoryName}},
	{"090-1234-5678に連絡", []Category{CategoryPhone}},
	{"東京都新宿区西新宿1-2-3", []Category{CategoryAddress}},
	{"ケース番号A12345678", []Category{CategoryCaseNumber}},
	{"自宅は03-1234-5678です", []Category{CategoryPhone}},
	{"〒160-0023 東京都新宿区西新宿2-8-1", []Category{CategoryPostalCode, CategoryAddress}},
	{"連絡はtest@example.comまで", []Category{CategoryEmail}},
	{"昭和50年4月1日生", []Category{CategoryBirthDate}},
	{"1975年4月1日生まれ", []Category{CategoryBirthDate}},
	{"受給者名: 山田太郎", []Category{CategoryName}},
	{"担当: 佐藤花子", []Category{CategoryCaseworkerName}},
	{"主治医: 鈴木一郎", []Category{CategoryDoctorName}},
	{"長男の田中一が訪問", []Category{CategoryFamilyName}},
	{"緊急連絡先: 田中花子", []Category{CategoryKeyPersonName}},
	{"口座番号1234567へ振込", []Category{CategoryBankAccount}},
	{"マイナンバーは1234 5678 9012です", []Category{CategoryNationalID}},
	{"福祉事務所の電話: 03-1234-5678", []Category{CategoryOrganizationContact}},
	{"世帯番号: 12-345678", []Category{CategoryCaseNumber}},
	{"ヤマダ タロウさんが来所", []Category{CategoryName}},
}

// Auditor checks anonymization results and runs the detection regression
// table. It is a testing aid, not part of the request path.
type Auditor struct {
	anonymizer *Anonymizer
	logger     *zap.Logger
}

// NewAuditor creates an Auditor over a.
func NewAuditor(a *Anonymizer, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{anonymizer: a, logger: log}
}

// Verify checks anonymized against original and its mappings.
func (au *Auditor) Verify(original, anonymized string, mappings []Match) VerificationReport {
	issues := []Issue{}

	for _, m := range mappings {
		if m.Original != "" && strings.Contains(anonymized, m.Original) {
			issues = append(issues, Issue{
				Kind:        IssuePIILeakage,
				Category:    m.Category,
				Placeholder: m.Placeholder,
				Description: fmt.Sprintf("%s value for %s still present in anonymized text", m.Category.Label(), m.Placeholder),
			})
		}
	}

	if RestoreText(anonymized, mappings) != original {
		issues = append(issues, Issue{
			Kind:        IssueRestorationFailure,
			Description: "restored text does not match the original",
		})
	}

	for _, m := range mappings {
		if !strings.Contains(anonymized, m.Placeholder) {
			issues = append(issues, Issue{
				Kind:        IssuePlaceholderMissing,
				Category:    m.Category,
				Placeholder: m.Placeholder,
				Description: fmt.Sprintf("placeholder %s not found", m.Placeholder),
			})
		}
	}

	report := VerificationReport{
		IsValid:          len(issues) == 0,
		OriginalLength:   utf8.RuneCountInString(original),
		AnonymizedLength: utf8.RuneCountInString(anonymized),
		PIICount:         len(mappings),
		Issues:           issues,
	}
	if !report.IsValid {
		au.logger.Warn("Anonymization verification failed", zap.Int("issues", len(issues)))
	}
	return report
}

// VerifyResult verifies a text result against the text it came from.
func (au *Auditor) VerifyResult(original string, res *Result) VerificationReport {
	return au.Verify(original, res.AnonymizedText, res.Mappings)
}

// RunRegressionSuite runs DefaultRegressionCases.
func (au *Auditor) RunRegressionSuite() RegressionReport {
	return au.RunCases(DefaultRegressionCases)
}

// RunCases anonymizes every case and checks that each expected category was
// detected at least once.
func (au *Auditor) RunCases(cases []RegressionCase) RegressionReport {
	report := RegressionReport{
		Total:    len(cases),
		Failures: []RegressionFailure{},
	}
	for _, c := range cases {
		res := au.anonymizer.AnonymizeText(c.Text)
		found := make(map[Category]bool)
		var detected []Category
		for _, m := range res.Mappings {
			if !found[m.Category] {
				found[m.Category] = true
				detected = append(detected, m.Category)
			}
		}
		for _, want := range c.Expected {
			report.Checks++
			if found[want] {
				report.Passed++
				continue
			}
			report.Failed++
			report.Failures = append(report.Failures, RegressionFailure{
				Text:     c.Text,
				Expected: want,
				Detected: detected,
			})
		}
	}
	if report.Checks > 0 {
		report.Accuracy = float64(report.Passed) / float64(report.Checks)
	}

	au.logger.Info("Regression suite finished",
		zap.Int("cases", report.Total),
		zap.Int("passed", report.Passed),
		zap.Int("failed", report.Failed),
		zap.Float64("accuracy", report.Accuracy),
	)
	return report
}
