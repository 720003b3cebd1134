// Package pii detects personally identifiable information in records,
// derives a classification from it and masks or pseudonymizes it.
package pii

import (
	"regexp"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// Rule detects one PII type. A field matches when its name contains one of
// FieldHints (case-insensitive) and Value accepts the value. A nil Value
// accepts any non-nil value.
type Rule struct {
	Type       types.PIIType
	Confidence float64
	FieldHints []string
	Value      func(v any) bool
}

// Matches reports whether the rule applies to a field
func (r Rule) Matches(field string, v any) bool {
	if v == nil || !r.matchesName(field) {
		return false
	}
	if r.Value == nil {
		return true
	}
	return r.Value(v)
}

func (r Rule) matchesName(field string) bool {
	name := strings.ToLower(field)
	for _, hint := range r.FieldHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	ssnPattern   = regexp.MustCompile(`^\d{3}-?\d{2}-?\d{4}$`)
	cardPattern  = regexp.MustCompile(`^\d{13,19}$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-().]{7,}$`)
)

func stringMatching(fn func(s string) bool) func(v any) bool {
	return func(v any) bool {
		s, ok := v.(string)
		return ok && fn(s)
	}
}

func isEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

func isSSN(s string) bool {
	return ssnPattern.MatchString(strings.TrimSpace(s))
}

func isCardNumber(s string) bool {
	return cardPattern.MatchString(stripSeparators(s))
}

func isPhone(s string) bool {
	s = strings.TrimSpace(s)
	return phonePattern.MatchString(s) && countDigits(s) >= 7
}

func isNonEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}

func isString(string) bool {
	return true
}

// DefaultRules returns the built-in ordered rule set. The first matching rule wins.
func DefaultRules() []Rule {
	return []Rule{
		{Type: types.PIIEmail, Confidence: 0.95, FieldHints: []string{"email"}, Value: stringMatching(isEmail)},
		{Type: types.PIISSN, Confidence: 0.98, FieldHints: []string{"ssn"}, Value: stringMatching(isSSN)},
		{Type: types.PIICreditCard, Confidence: 0.9, FieldHints: []string{"card"}, Value: stringMatching(isCardNumber)},
		{Type: types.PIIPhone, Confidence: 0.85, FieldHints: []string{"phone"}, Value: stringMatching(isPhone)},
		{Type: types.PIIAddress, Confidence: 0.7, FieldHints: []string{"address"}, Value: stringMatching(isString)},
		{Type: types.PIIName, Confidence: 0.8, FieldHints: []string{"name"}, Value: stringMatching(isNonEmpty)},

		// Name-only rules for application data categories
		{Type: types.PIIBiometric, Confidence: 0.9, FieldHints: []string{"biometric", "fingerprint", "faceid"}},
		{Type: types.PIIQuizResults, Confidence: 0.6, FieldHints: []string{"quiz", "score"}},
		{Type: types.PIIUserPreferences, Confidence: 0.5, FieldHints: []string{"preference", "settings"}},
		{Type: types.PIISessionData, Confidence: 0.5, FieldHints: []string{"session"}},
	}
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
