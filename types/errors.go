package types

import "errors"

// Error taxonomy shared by every service. Callers match with errors.Is;
// services wrap these with fmt.Errorf("%w: ...") to add detail.
var (
	// ErrValidation is returned for malformed input or envelopes
	ErrValidation = errors.New("validation failed")

	// ErrConsentRequired is returned when consent was required but not granted
	ErrConsentRequired = errors.New("consent required")

	// ErrUnsupportedAlgorithm is returned for envelopes naming an unknown algorithm
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrExpiredData is returned for stale envelopes and expired storage entries
	ErrExpiredData = errors.New("data expired")

	// ErrDecryption is returned when authenticated decryption fails.
	// It always indicates tampering or corruption and must not be retried.
	ErrDecryption = errors.New("decryption failed")

	// ErrStorage wraps failures of the underlying storage medium
	ErrStorage = errors.New("storage failure")

	// ErrNotFound is returned when a key does not exist in storage
	ErrNotFound = errors.New("not found")
)
