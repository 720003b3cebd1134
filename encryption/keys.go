package encryption

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// deriveMasterKey stretches the application secret with the session salt
func deriveMasterKey(secret, sessionSalt []byte, iterations int) []byte {
	return pbkdf2.Key(secret, sessionSalt, iterations, types.KeySize, sha256.New)
}

// workingKeySalt is sha256(context || classification)
func workingKeySalt(keyContext string, classification types.DataClassification) []byte {
	h := sha256.New()
	h.Write([]byte(keyContext))
	h.Write([]byte(classification))
	return h.Sum(nil)
}

// deriveWorkingKey derives the per-(context, classification) key from the master key
func deriveWorkingKey(masterKey []byte, keyContext string, classification types.DataClassification, iterations int) []byte {
	return pbkdf2.Key(masterKey, workingKeySalt(keyContext, classification), iterations, types.KeySize, sha256.New)
}

// deriveRecordKey expands the working key with the envelope salt so every
// envelope is sealed under its own key
func deriveRecordKey(workingKey, envelopeSalt []byte, keyContext string, classification types.DataClassification) ([]byte, error) {
	info := make([]byte, 0, len(keyContext)+len(classification))
	info = append(info, keyContext...)
	info = append(info, classification...)

	key := make([]byte, types.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, workingKey, envelopeSalt, info), key); err != nil {
		return nil, fmt.Errorf("derive record key: %w", err)
	}
	return key, nil
}

// cacheKey names a working key in the key cache
func cacheKey(keyContext string, classification types.DataClassification) string {
	return keyContext + "-" + string(classification)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
