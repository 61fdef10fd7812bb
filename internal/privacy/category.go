package privacy

import (
	"fmt"
	"strings"
)

// Category classifies a detected PII span.
type Category int

// Supported PII categories. The zero value is not a valid category.
const (
	CategoryName Category = iota + 1
	CategoryAddress
	CategoryPhone
	CategoryBirthDate
	CategoryCaseNumber
	CategoryBankAccount
	CategoryNationalID
	CategoryEmail
	CategoryPostalCode
	CategoryFamilyName
	CategoryKeyPersonName
	CategoryOrganizationContact
	CategoryDoctorName
	CategoryCaseworkerName
)

type categoryInfo struct {
	key   string
	label string
}

// Labels appear inside placeholders and must never change: stored mappings
// depend on them.
var categoryTable = [...]categoryInfo{
	CategoryName:                {"NAME", "氏名"},
	CategoryAddress:             {"ADDRESS", "住所"},
	CategoryPhone:               {"PHONE", "電話番号"},
	CategoryBirthDate:           {"BIRTH_DATE", "生年月日"},
	CategoryCaseNumber:          {"CASE_NUMBER", "ケース番号"},
	CategoryBankAccount:         {"BANK_ACCOUNT", "口座番号"},
	CategoryNationalID:          {"NATIONAL_ID", "マイナンバー"},
	CategoryEmail:               {"EMAIL", "メールアドレス"},
	CategoryPostalCode:          {"POSTAL_CODE", "郵便番号"},
	CategoryFamilyName:          {"FAMILY_NAME", "家族名"},
	CategoryKeyPersonName:       {"KEY_PERSON_NAME", "キーパーソン名"},
	CategoryOrganizationContact: {"ORGANIZATION_CONTACT", "機関連絡先"},
	CategoryDoctorName:          {"DOCTOR_NAME", "医師名"},
	CategoryCaseworkerName:      {"CASEWORKER_NAME", "担当者名"},
}

// Categories returns every valid category in declaration order.
func Categories() []Category {
	out := make([]Category, 0, len(categoryTable)-1)
	for c := CategoryName; c <= CategoryCaseworkerName; c++ {
		out = append(out, c)
	}
	return out
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	return c >= CategoryName && c <= CategoryCaseworkerName
}

// String returns the stable key, e.g. "PHONE".
func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryTable[c].key
}

// Label returns the human-readable label used inside placeholders.
func (c Category) Label() string {
	if !c.Valid() {
		return ""
	}
	return categoryTable[c].label
}

// ParseCategory accepts either the key ("PHONE", case-insensitive) or the
// label ("電話番号").
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range Categories() {
		if strings.EqualFold(s, categoryTable[c].key) || s == categoryTable[c].label {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown PII category: %q", s)
}

// MarshalText encodes the category as its key.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid PII category: %d", int(c))
	}
	return []byte(categoryTable[c].key), nil
}

// UnmarshalText decodes a key or a label.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
