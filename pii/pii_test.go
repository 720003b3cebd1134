package pii

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

func TestRuleMatching(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
		want  types.PIIType
	}{
		{"Email", "email", "john.doe@example.com", types.PIIEmail},
		{"Email hint with bad value falls through", "email", "not-an-email", ""},
		{"Work email", "workEmail", "a@b.co", types.PIIEmail},
		{"SSN dashed", "ssn", "123-45-6789", types.PIISSN},
		{"SSN plain", "userSSN", "123456789", types.PIISSN},
		{"Card spaced", "cardNumber", "4111 1111 1111 1111", types.PIICreditCard},
		{"Card too short", "card", "4111 1111", ""},
		{"Phone", "phone", "+1 (555) 123-4567", types.PIIPhone},
		{"Phone too few digits", "phone", "555-12", ""},
		{"Address", "homeAddress", "1 Main St", types.PIIAddress},
		{"Name", "fullName", "John Doe", types.PIIName},
		{"Empty name", "name", "   ", ""},
		{"Non-string email", "email", 42, ""},
		{"Biometric any value", "fingerprintHash", []any{1.0, 2.0}, types.PIIBiometric},
		{"Quiz score number", "quizScore", 87.0, types.PIIQuizResults},
		{"Preferences", "preferences", "dark", types.PIIUserPreferences},
		{"Session", "sessionId", "abc", types.PIISessionData},
		{"Nil value", "email", nil, ""},
		{"Unrelated", "status", "active", ""},
	}

	d := NewDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := d.match(tt.field, tt.value)
			if tt.want == "" {
				if ok {
					t.Errorf("expected no match, got %s", rule.Type)
				}
				return
			}
			if !ok || rule.Type != tt.want {
				t.Errorf("got %v (matched=%v), want %s", rule.Type, ok, tt.want)
			}
		})
	}
}

func TestDetectPIINestedAndSorted(t *testing.T) {
	record := map[string]any{
		"name":  "Jane Roe",
		"email": "jane@example.com",
		"contact": map[string]any{
			"phone":   "555-123-4567",
			"address": "2 High St",
		},
		"settings": map[string]any{"theme": "dark"},
		"age":      33.0,
	}

	got := NewDetector().DetectPII(record)
	want := []Detection{
		{Field: "contact.address", Type: types.PIIAddress, Confidence: 0.7},
		{Field: "contact.phone", Type: types.PIIPhone, Confidence: 0.85},
		{Field: "email", Type: types.PIIEmail, Confidence: 0.95},
		{Field: "name", Type: types.PIIName, Confidence: 0.8},
		{Field: "settings", Type: types.PIIUserPreferences, Confidence: 0.5},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d detections %+v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("detection %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	typesFound := Types(got)
	if len(typesFound) != 5 {
		t.Errorf("expected 5 distinct types, got %v", typesFound)
	}
}

func TestCustomRules(t *testing.T) {
	d := NewDetector(Rule{Type: types.PIIName, Confidence: 1, FieldHints: []string{"nick"}})
	got := d.DetectTypes(map[string]any{"nickname": "jj", "email": "a@b.com"})
	if len(got) != 1 || got[0] != types.PIIName {
		t.Errorf("custom rules not applied: %v", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   []types.PIIType
		want types.DataClassification
	}{
		{[]types.PIIType{types.PIISSN}, types.ClassificationRestricted},
		{[]types.PIIType{types.PIIEmail}, types.ClassificationConfidential},
		{[]types.PIIType{types.PIIQuizResults}, types.ClassificationInternal},
		{nil, types.ClassificationPublic},
		{[]types.PIIType{types.PIIEmail, types.PIICreditCard}, types.ClassificationRestricted},
		{[]types.PIIType{types.PIIUserPreferences, types.PIIName}, types.ClassificationConfidential},
		{[]types.PIIType{types.PIIAddress}, types.ClassificationPublic},
		{[]types.PIIType{types.PIISessionData}, types.ClassificationPublic},
		{[]types.PIIType{types.PIIBiometric}, types.ClassificationRestricted},
	}
	for _, tt := range tests {
		if got := Classify(tt.in); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestAnonymizeEmail(t *testing.T) {
	in := map[string]any{"email": "john.doe@example.com"}
	out := NewAnonymizer("").Anonymize(in)

	got, _ := out["email"].(string)
	if got == "john.doe@example.com" {
		t.Fatal("anonymized email equals input")
	}
	if got != "j******e@e*********m" {
		t.Errorf("got %q", got)
	}
	if in["email"] != "john.doe@example.com" {
		t.Error("input record was modified")
	}
}

func TestAnonymizeRecord(t *testing.T) {
	in := map[string]any{
		"name":    "John Ronald Doe",
		"phone":   "+1 (555) 123-4567",
		"ssn":     "123-45-6789",
		"card":    "4111-1111-1111-1234",
		"address": "1 Main St",
		"status":  "active",
		"age":     40.0,
		"profile": map[string]any{"email": "ab@cd.io"},
	}
	out := NewAnonymizer("pepper").Anonymize(in)

	expect := map[string]any{
		"name":    "J*** R***** D**",
		"phone":   "+* (***) ***-4567",
		"ssn":     "***-**-****",
		"card":    "****-****-****-1234",
		"address": RedactedMarker,
		"age":     40.0,
	}
	for k, want := range expect {
		if out[k] != want {
			t.Errorf("%s: got %v, want %v", k, out[k], want)
		}
	}

	status, _ := out["status"].(string)
	if !regexp.MustCompile(`^anon_[0-9a-f]{16}$`).MatchString(status) {
		t.Errorf("status pseudonym has wrong shape: %q", status)
	}

	nested, _ := out["profile"].(map[string]any)
	if nested["email"] != "a*@c***o" {
		t.Errorf("nested email: got %v", nested["email"])
	}
}

func TestAnonymizeArrays(t *testing.T) {
	in := map[string]any{
		"emails":   []any{"a@b.com", "jane.doe@example.com"},
		"aliases":  []any{"jd", []any{"janey"}, 7.0},
		"contacts": []any{map[string]any{"email": "ab@cd.io", "note": "call"}},
	}
	a := NewAnonymizer("pepper")
	out := a.Anonymize(in)

	pseudonym := regexp.MustCompile(`^anon_[0-9a-f]{16}$`)
	emails, _ := out["emails"].([]any)
	if len(emails) != 2 || emails[0] != a.AnonymizeValue("a@b.com") || emails[1] != a.AnonymizeValue("jane.doe@example.com") {
		t.Errorf("emails: got %v", out["emails"])
	}

	aliases, _ := out["aliases"].([]any)
	if len(aliases) != 3 || aliases[2] != 7.0 {
		t.Fatalf("aliases: got %v", out["aliases"])
	}
	if s, _ := aliases[0].(string); !pseudonym.MatchString(s) {
		t.Errorf("alias: got %v", aliases[0])
	}
	if inner, _ := aliases[1].([]any); len(inner) != 1 || inner[0] != a.AnonymizeValue("janey") {
		t.Errorf("nested alias array: got %v", aliases[1])
	}

	contacts, _ := out["contacts"].([]any)
	contact, _ := contacts[0].(map[string]any)
	if contact["email"] != "a*@c***o" || contact["note"] != a.AnonymizeValue("call") {
		t.Errorf("contact: got %v", contact)
	}

	for _, leaked := range []string{"a@b.com", "jane.doe@example.com", "janey", "ab@cd.io"} {
		if strings.Contains(fmt.Sprint(out), leaked) {
			t.Errorf("anonymized record still contains %q", leaked)
		}
	}
	if in["emails"].([]any)[0] != "a@b.com" {
		t.Error("input record was modified")
	}

	redacted := NewAnonymizer("").Anonymize(map[string]any{"emails": []any{"a@b.com"}})
	if got, _ := redacted["emails"].([]any); len(got) != 1 || got[0] != RedactedMarker {
		t.Errorf("unsalted emails: got %v", redacted["emails"])
	}
}

func TestAnonymizeValue(t *testing.T) {
	a := NewAnonymizer("salt-1")
	if a.AnonymizeValue("user-1") != a.AnonymizeValue("user-1") {
		t.Error("pseudonym must be stable")
	}
	if a.AnonymizeValue("user-1") == a.AnonymizeValue("user-2") {
		t.Error("different values must differ")
	}
	if a.AnonymizeValue("user-1") == NewAnonymizer("salt-2").AnonymizeValue("user-1") {
		t.Error("different salts must differ")
	}
	if NewAnonymizer("").AnonymizeValue("user-1") != RedactedMarker {
		t.Error("empty salt must redact")
	}
}

func TestAsRecord(t *testing.T) {
	type person struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	rec, ok := AsRecord(person{ID: "u1", Email: "a@b.com"})
	if !ok || rec["id"] != "u1" {
		t.Errorf("struct not converted: %v %v", rec, ok)
	}
	if _, ok := AsRecord("plain"); ok {
		t.Error("string must not convert to a record")
	}
	if _, ok := AsRecord(nil); ok {
		t.Error("nil must not convert to a record")
	}
}

// fakeEncryptor produces deterministic ciphertext from the context
type fakeEncryptor struct {
	contexts []string
}

func (f *fakeEncryptor) Encrypt(_ context.Context, data any, c types.DataClassification, p types.PIIType, keyContext string) (*types.Envelope, error) {
	f.contexts = append(f.contexts, keyContext)
	return &types.Envelope{Data: "ct:" + keyContext, Classification: c, PIIType: p}, nil
}

func (f *fakeEncryptor) Decrypt(context.Context, *types.Envelope, string) ([]byte, error) {
	return nil, nil
}

func (f *fakeEncryptor) DecryptWithMaxAge(context.Context, *types.Envelope, string, time.Duration) ([]byte, error) {
	return nil, nil
}

func (f *fakeEncryptor) DecryptInto(context.Context, *types.Envelope, string, any) error {
	return nil
}

func TestPseudonymize(t *testing.T) {
	enc := &fakeEncryptor{}
	p := NewPseudonymizer(enc, nil)

	in := map[string]any{"email": "a@b.com", "ssn": "123-45-6789", "status": "active"}
	out, tokens, err := p.Pseudonymize(context.Background(), in, "export")
	if err != nil {
		t.Fatalf("Pseudonymize: %v", err)
	}

	tokenShape := regexp.MustCompile(`^[a-z_]+_[0-9a-f]{16}$`)
	for field, prefix := range map[string]string{"email": "email_", "ssn": "ssn_"} {
		tok, _ := out[field].(string)
		if !strings.HasPrefix(tok, prefix) || !tokenShape.MatchString(tok) {
			t.Errorf("%s: bad token %q", field, tok)
		}
		if tokens[field] != tok {
			t.Errorf("%s: token map mismatch", field)
		}
	}
	if out["status"] != "active" {
		t.Error("undetected fields must be kept")
	}
	if in["email"] != "a@b.com" {
		t.Error("input record was modified")
	}
	if len(enc.contexts) != 2 || enc.contexts[0] != "export:email" && enc.contexts[1] != "export:email" {
		t.Errorf("unexpected encryption contexts: %v", enc.contexts)
	}
}
