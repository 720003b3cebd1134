// Package interfaces defines all service interfaces for the application.
// IMPORTANT: This is the single source of truth for service interfaces.
// Do not define interfaces in other files.
package interfaces

import (
	"context"
	"time"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// Storage Interfaces
// Storage is an opaque key-value medium. Any substrate (in-memory map,
// embedded database, document store) satisfies it.
type Storage interface {
	// Get returns the value stored under key, or types.ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Keys enumerates every key starting with prefix ("" for all keys)
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Cache Interfaces
// KeyCache holds derived working keys in memory only
type KeyCache interface {
	// Get returns a private copy of a cached key
	Get(key string) ([]byte, bool)

	// Set caches a key; the entry expires on its own after the configured TTL
	Set(key string, value []byte)

	// Delete securely wipes and removes a key from the cache
	Delete(key string)

	// Flush securely wipes and removes all entries from the cache
	Flush()

	// GetStats returns cache statistics
	GetStats() types.CacheStats
}

// Encryption Interfaces
// Encryptor produces and opens versioned envelopes
type Encryptor interface {
	// Encrypt serializes data and seals it into an envelope bound to keyContext
	Encrypt(ctx context.Context, data any, classification types.DataClassification, piiType types.PIIType, keyContext string) (*types.Envelope, error)

	// Decrypt opens an envelope and returns the serialized plaintext
	Decrypt(ctx context.Context, envelope *types.Envelope, keyContext string) ([]byte, error)

	// DecryptWithMaxAge is Decrypt with an explicit freshness window (0 disables it)
	DecryptWithMaxAge(ctx context.Context, envelope *types.Envelope, keyContext string, maxAge time.Duration) ([]byte, error)

	// DecryptInto opens an envelope and unmarshals the plaintext into dest
	DecryptInto(ctx context.Context, envelope *types.Envelope, keyContext string, dest any) error
}

// External collaborator Interfaces
// SecuritySink receives notifications about high-risk security events.
// Delivery is fire-and-forget; callers never wait on it.
type SecuritySink interface {
	Notify(eventType string, payload map[string]any, context map[string]string)
}

// ConsentOracle answers whether consent was given for a key
type ConsentOracle interface {
	HasConsent(ctx context.Context, key string) bool
}

// Audit Interfaces
// AuditRecorder records audit events. Implementations are best-effort from
// the caller's point of view: a recording failure must not abort the caller.
type AuditRecorder interface {
	LogAuditEvent(ctx context.Context, category types.AuditCategory, action string, details types.EventDetails) (*types.AuditEvent, error)
}

// AuditTrail is the full audit trail service surface
type AuditTrail interface {
	AuditRecorder

	// Initialize loads the persisted chain pointer and recent events
	Initialize(ctx context.Context) error

	// VerifyIntegrity recomputes the hash chain over a sequence range
	VerifyIntegrity(ctx context.Context, r *types.SequenceRange) (*types.IntegrityReport, error)

	// SearchAuditEvents filters, sorts and paginates events
	SearchAuditEvents(ctx context.Context, q types.AuditQuery) (*types.SearchResult, error)

	// GenerateAuditReport aggregates events and records the report generation
	GenerateAuditReport(ctx context.Context, q types.AuditQuery, purpose, requestedBy string) (*types.AuditReport, error)

	// ExportAuditTrail serializes matching events as json or csv
	ExportAuditTrail(ctx context.Context, format string, q types.AuditQuery, anonymize bool) ([]byte, error)

	// GetUserActivitySummary rolls up one user's activity in a time window
	GetUserActivitySummary(ctx context.Context, userID string, start, end time.Time) (*types.ActivitySummary, error)
}

// Secure storage Interfaces
// SecureStorage is the encrypted, policy-driven key-value store
type SecureStorage interface {
	Store(ctx context.Context, key string, data any, opts types.StoreOptions) error
	Retrieve(ctx context.Context, key string, dest any) error
	RetrieveRaw(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
	GetProcessingRecord(ctx context.Context, key string) (*types.DataProcessingRecord, error)
	ExportUserData(ctx context.Context, userID string) (*types.UserDataExport, error)
	DeleteUserData(ctx context.Context, userID string) (int, error)
	PurgeExpired(ctx context.Context) (int, error)
}
