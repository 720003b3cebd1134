package types

import "time"

const (
	// EnvelopeAlgorithm is the only supported envelope algorithm
	EnvelopeAlgorithm = "AES-GCM-256"

	// EnvelopeVersion is the current envelope format version
	EnvelopeVersion = 1

	// IVSize is the AES-GCM nonce size in bytes (96 bits)
	IVSize = 12

	// SaltSize is the envelope and session salt size in bytes (256 bits)
	SaltSize = 32

	// TagSize is the AES-GCM authentication tag size in bytes (128 bits)
	TagSize = 16

	// KeySize is the AES-256 key size in bytes
	KeySize = 32
)

// Envelope is the self-describing encrypted payload. Binary fields are
// base64 (standard encoding) so the envelope can be stored as text.
type Envelope struct {
	Data           string             `json:"data" bson:"data"`
	IV             string             `json:"iv" bson:"iv"`
	Salt           string             `json:"salt" bson:"salt"`
	Tag            string             `json:"tag" bson:"tag"`
	Algorithm      string             `json:"algorithm" bson:"algorithm"`
	Timestamp      int64              `json:"timestamp" bson:"timestamp"` // Unix milliseconds
	Classification DataClassification `json:"classification" bson:"classification"`
	PIIType        PIIType            `json:"piiType,omitempty" bson:"piiType,omitempty"`
	Version        int                `json:"version" bson:"version"`
}

// CreatedAt returns the envelope timestamp as a time.Time
func (e *Envelope) CreatedAt() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// EncryptionStats holds counters about envelope operations
type EncryptionStats struct {
	TotalEncrypts    uint64                        `json:"totalEncrypts"`
	TotalDecrypts    uint64                        `json:"totalDecrypts"`
	FailedDecrypts   uint64                        `json:"failedDecrypts"`
	ByClassification map[DataClassification]uint64 `json:"byClassification"`
	LastEncryptTime  time.Time                     `json:"lastEncryptTime"`
	LastDecryptTime  time.Time                     `json:"lastDecryptTime"`
}
