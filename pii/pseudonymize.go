package pii

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// Pseudonymizer replaces detected PII with one-way tokens derived from the
// field's ciphertext. It keeps no mapping back to the original values.
type Pseudonymizer struct {
	encryptor interfaces.Encryptor
	detector  *Detector
}

// NewPseudonymizer creates a pseudonymizer. A nil detector uses the defaults.
func NewPseudonymizer(encryptor interfaces.Encryptor, detector *Detector) *Pseudonymizer {
	if detector == nil {
		detector = NewDetector()
	}
	return &Pseudonymizer{encryptor: encryptor, detector: detector}
}

// Pseudonymize returns a copy of record with every detected field replaced by
// "<type>_<16 hex>", plus the tokens by field path
func (p *Pseudonymizer) Pseudonymize(ctx context.Context, record map[string]any, keyContext string) (map[string]any, map[string]string, error) {
	detected := detectionIndex(p.detector.DetectPII(record))
	tokens := make(map[string]string, len(detected))

	var firstErr error
	out := rewrite(record, "", detected, func(path string, t types.PIIType, v any) any {
		if t == "" || firstErr != nil {
			return copyValue(v)
		}
		token, err := p.token(ctx, path, t, v, keyContext)
		if err != nil {
			firstErr = err
			return nil
		}
		tokens[path] = token
		return token
	})
	if firstErr != nil {
		return nil, nil, firstErr
	}
	return out, tokens, nil
}

func (p *Pseudonymizer) token(ctx context.Context, field string, t types.PIIType, v any, keyContext string) (string, error) {
	env, err := p.encryptor.Encrypt(ctx, v, Classify([]types.PIIType{t}), t, keyContext+":"+field)
	if err != nil {
		return "", fmt.Errorf("pseudonymize %s: %w", field, err)
	}
	sum := sha256.Sum256([]byte(env.Data))
	return strings.ToLower(string(t)) + "_" + hex.EncodeToString(sum[:])[:16], nil
}
