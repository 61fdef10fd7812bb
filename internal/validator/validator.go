// Package validator screens text before it reaches the anonymization engine:
// it bounds length, rejects prompt-injection attempts and strips control
// characters.
package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/config"
)

var (
	ErrEmpty           = errors.New("input text is empty")
	ErrTooLong         = errors.New("input text too long")
	ErrPromptInjection = errors.New("prompt injection pattern detected")
	ErrEmptyName       = errors.New("recipient name is empty")
)

type injectionRule struct {
	name string
	re   *regexp.Regexp
}

var injectionRules = []injectionRule{
	{"ignore_instructions", regexp.MustCompile(`(?i)ignore\s+(?:previous|above|all)\s+instructions?`)},
	{"disregard", regexp.MustCompile(`(?i)disregard\s+(?:above|previous|the)`)},
	{"new_instructions", regexp.MustCompile(`(?i)new\s+instructions?\s*:`)},
	{"system_prompt_ja", regexp.MustCompile(`システムプロンプト`)},
	{"system_prompt", regexp.MustCompile(`(?i)system\s*prompt`)},
	{"forget_everything", regexp.MustCompile(`(?i)forget\s+(?:everything|all)`)},
	{"override_instructions", regexp.MustCompile(`(?i)override\s+(?:instructions?|rules?)`)},
	{"you_are_now", regexp.MustCompile(`(?i)you\s+are\s+now`)},
	{"pretend_to_be", regexp.MustCompile(`(?i)pretend\s+to\s+be`)},
	{"act_as_if", regexp.MustCompile(`(?i)act\s+as\s+if`)},
	{"ignore_training", regexp.MustCompile(`(?i)ignore\s+your\s+training`)},
	{"bypass_safety", regexp.MustCompile(`(?i)bypass\s+(?:safety|security)`)},
	{"jailbreak", regexp.MustCompile(`(?i)jailbreak`)},
	{"ignore_instructions_ja", regexp.MustCompile(`(?:以前|上記|これまで)の(?:指示|命令)を(?:無視|忘れ)`)},
}

// controlChars matches C0 controls and DEL except tab, newline and CR.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// InjectionError lists the rules an input matched.
type InjectionError struct {
	Rules []string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPromptInjection, strings.Join(e.Rules, ", "))
}

func (e *InjectionError) Unwrap() error { return ErrPromptInjection }

// Validator applies the configured input limits.
type Validator struct {
	maxLength      int
	maxNameLength  int
	blockInjection bool
	logger         *zap.Logger
}

// New creates a Validator from cfg.
func New(cfg config.ValidationConfig, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		maxLength:      cfg.MaxLength,
		maxNameLength:  cfg.MaxNameLength,
		blockInjection: cfg.BlockInjection,
		logger:         logger,
	}
}

// MaxLength returns the text bound in runes.
func (v *Validator) MaxLength() int { return v.maxLength }

// Validate checks text and returns it with control characters removed.
func (v *Validator) Validate(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmpty
	}
	if n := utf8.RuneCountInString(text); v.maxLength > 0 && n > v.maxLength {
		return "", fmt.Errorf("%w: %d characters, limit %d", ErrTooLong, n, v.maxLength)
	}
	if err := v.screen(text); err != nil {
		return "", err
	}
	return StripControl(text), nil
}

// Screen checks the string leaves of a structured document: their combined
// length against the text bound and each one against the injection rules.
// Nothing is rewritten and empty input is allowed.
func (v *Validator) Screen(texts ...string) error {
	total := 0
	for _, t := range texts {
		total += utf8.RuneCountInString(t)
	}
	if v.maxLength > 0 && total > v.maxLength {
		return fmt.Errorf("%w: %d characters, limit %d", ErrTooLong, total, v.maxLength)
	}
	for _, t := range texts {
		if err := v.screen(t); err != nil {
			return err
		}
	}
	return nil
}

// ValidateName checks a recipient name and returns it trimmed.
func (v *Validator) ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if n := utf8.RuneCountInString(name); v.maxNameLength > 0 && n > v.maxNameLength {
		return "", fmt.Errorf("%w: name has %d characters, limit %d", ErrTooLong, n, v.maxNameLength)
	}
	if err := v.screen(name); err != nil {
		return "", err
	}
	return StripControl(name), nil
}

func (v *Validator) screen(text string) error {
	rules := DetectInjection(text)
	if len(rules) == 0 {
		return nil
	}
	v.logger.Warn("Prompt injection pattern detected",
		zap.Strings("rules", rules),
		zap.Bool("blocked", v.blockInjection),
	)
	if v.blockInjection {
		return &InjectionError{Rules: rules}
	}
	return nil
}

// DetectInjection returns the names of the injection rules text matches.
func DetectInjection(text string) []string {
	var matched []string
	for _, r := range injectionRules {
		if r.re.MatchString(text) {
			matched = append(matched, r.name)
		}
	}
	return matched
}

// StripControl removes control characters other than tab, newline and CR.
func StripControl(text string) string {
	return controlChars.ReplaceAllString(text, "")
}
