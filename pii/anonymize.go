package pii

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// RedactedMarker replaces values that cannot be shape-preserved
const RedactedMarker = "[REDACTED]"

// Anonymizer irreversibly masks PII in records. Strings with no masking rule
// become a salted stable pseudonym, or RedactedMarker when Salt is empty.
type Anonymizer struct {
	Detector *Detector
	Salt     string
}

// NewAnonymizer creates an anonymizer over the default detector
func NewAnonymizer(salt string) *Anonymizer {
	return &Anonymizer{Detector: NewDetector(), Salt: salt}
}

// Anonymize returns a masked copy of record; the input is not modified.
// Strings inside arrays are masked like field values. Other scalars are kept.
func (a *Anonymizer) Anonymize(record map[string]any) map[string]any {
	detector := a.Detector
	if detector == nil {
		detector = NewDetector()
	}
	detected := detectionIndex(detector.DetectPII(record))

	return rewrite(record, "", detected, func(_ string, t types.PIIType, v any) any {
		return a.anonymizeField(t, v)
	})
}

// anonymizeField masks v as a value of type t, descending into arrays.
// Objects inside arrays are anonymized as records of their own.
func (a *Anonymizer) anonymizeField(t types.PIIType, v any) any {
	switch val := v.(type) {
	case string:
		if masked, ok := maskByType(t, val); ok {
			return masked
		}
		return a.AnonymizeValue(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = a.anonymizeField(t, e)
		}
		return out
	case map[string]any:
		return a.Anonymize(val)
	}
	return v
}

// AnonymizeValue maps a single identifier to its stable pseudonym
func (a *Anonymizer) AnonymizeValue(v string) string {
	if a.Salt == "" {
		return RedactedMarker
	}
	return fmt.Sprintf("anon_%016x", xxhash.Sum64String(a.Salt+":"+v))
}

func maskByType(t types.PIIType, s string) (string, bool) {
	switch t {
	case types.PIIEmail:
		return MaskEmail(s), true
	case types.PIIName:
		return MaskName(s), true
	case types.PIIPhone:
		return maskDigits(s, 4), true
	case types.PIISSN:
		return maskDigits(s, 0), true
	case types.PIICreditCard:
		return maskDigits(s, 4), true
	case types.PIIAddress:
		return RedactedMarker, true
	}
	return "", false
}

// MaskEmail keeps the first and last character of the local part and of the domain
func MaskEmail(s string) string {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return maskMiddle(s)
	}
	return maskMiddle(s[:at]) + "@" + maskMiddle(s[at+1:])
}

// MaskName keeps the first letter of every token
func MaskName(s string) string {
	tokens := strings.Fields(s)
	for i, tok := range tokens {
		r := []rune(tok)
		tokens[i] = string(r[0]) + strings.Repeat("*", len(r)-1)
	}
	return strings.Join(tokens, " ")
}

// maskMiddle keeps the first and last rune
func maskMiddle(s string) string {
	r := []rune(s)
	switch len(r) {
	case 0:
		return ""
	case 1:
		return "*"
	case 2:
		return string(r[0]) + "*"
	}
	return string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
}

// maskDigits masks every digit except the last keep, preserving separators
func maskDigits(s string, keep int) string {
	total := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			total++
		}
	}

	var b strings.Builder
	seen := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			seen++
			if seen <= total-keep {
				b.WriteRune('*')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	}
	return v
}
