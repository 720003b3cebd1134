package types

import (
	"crypto/subtle"
	"runtime"
	"sync"
	"time"
)

// SecureBytes represents a secure byte slice that will be wiped on garbage collection.
// Get and Clear may be called concurrently.
type SecureBytes struct {
	mu   sync.Mutex
	data []byte
}

// NewSecureBytes creates a new secure byte slice
func NewSecureBytes(data []byte) *SecureBytes {
	secure := &SecureBytes{
		data: make([]byte, len(data)),
	}
	subtle.ConstantTimeCopy(1, secure.data, data)

	// Wipe memory when garbage collected
	runtime.SetFinalizer(secure, (*SecureBytes).Clear)
	return secure
}

// Clear securely wipes the memory
func (s *SecureBytes) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil {
		for i := range s.data {
			s.data[i] = 0
		}
		runtime.KeepAlive(s.data)
		s.data = nil
	}
}

// Get returns a copy of the data
func (s *SecureBytes) Get() []byte {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	result := make([]byte, len(s.data))
	subtle.ConstantTimeCopy(1, result, s.data)
	return result
}

// KeyCacheConfig holds configuration for the working-key cache
type KeyCacheConfig struct {
	// Enabled indicates whether caching is enabled
	Enabled bool `json:"enabled"`

	// TTL is the lifetime of each cached key; DefaultKeyCacheTTLMinutes when zero
	TTL time.Duration `json:"ttl,omitempty"`
}

// GetEffectiveTTL returns the effective TTL for the cache
func (c *KeyCacheConfig) GetEffectiveTTL() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return time.Duration(DefaultKeyCacheTTLMinutes) * time.Minute
}

// CacheStats holds statistics about the key cache
type CacheStats struct {
	Size        int       `json:"size"`
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Evictions   int64     `json:"evictions"`
	LastPurged  time.Time `json:"lastPurged"`
	LastAccess  time.Time `json:"lastAccess"`
	LastUpdated time.Time `json:"lastUpdated"`
}
