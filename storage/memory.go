// Package storage provides key-value substrates for the data-protection services.
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// Stats holds statistics about a storage adapter
type Stats struct {
	Size        int       `json:"size"`
	Reads       int64     `json:"reads"`
	Writes      int64     `json:"writes"`
	Deletes     int64     `json:"deletes"`
	LastAccess  time.Time `json:"lastAccess"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// MemoryAdapter implements the Storage interface with in-memory storage.
// Values are copied on the way in and out so callers cannot alias stored bytes.
type MemoryAdapter struct {
	mu     sync.RWMutex
	data   map[string][]byte
	stats  Stats
	logger *zerolog.Logger
}

var _ interfaces.Storage = (*MemoryAdapter)(nil)

// NewMemoryAdapter creates a new in-memory storage adapter
func NewMemoryAdapter() *MemoryAdapter {
	logger := log.With().Str("component", "memory_storage").Logger()

	adapter := &MemoryAdapter{
		data: make(map[string][]byte),
		stats: Stats{
			LastAccess:  time.Now().UTC(),
			LastUpdated: time.Now().UTC(),
		},
		logger: &logger,
	}

	logger.Debug().Msg("Memory storage adapter initialized")
	return adapter
}

// Get retrieves a value from storage
func (a *MemoryAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	if a == nil {
		return nil, errors.New("storage: adapter is nil")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Reads++
	a.stats.LastAccess = time.Now().UTC()

	value, exists := a.data[key]
	if !exists {
		a.logger.Trace().
			Str("key", key).
			Msg("Storage entry not found")
		return nil, types.ErrNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a value in storage
func (a *MemoryAdapter) Set(ctx context.Context, key string, value []byte) error {
	if a == nil {
		return errors.New("storage: adapter is nil")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.data[key] = stored
	a.stats.Writes++
	a.stats.Size = len(a.data)
	a.stats.LastUpdated = time.Now().UTC()

	a.logger.Trace().
		Str("key", key).
		Int("bytes", len(stored)).
		Msg("Storage entry stored")
	return nil
}

// Delete removes a value from storage
func (a *MemoryAdapter) Delete(ctx context.Context, key string) error {
	if a == nil {
		return errors.New("storage: adapter is nil")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.data[key]; exists {
		delete(a.data, key)
		a.stats.Deletes++
		a.stats.Size = len(a.data)
		a.stats.LastUpdated = time.Now().UTC()
		a.logger.Trace().
			Str("key", key).
			Msg("Storage entry deleted")
	}
	return nil
}

// Keys returns all keys with the given prefix in lexical order
func (a *MemoryAdapter) Keys(ctx context.Context, prefix string) ([]string, error) {
	if a == nil {
		return nil, errors.New("storage: adapter is nil")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	keys := make([]string, 0, len(a.data))
	for k := range a.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes all values from storage
func (a *MemoryAdapter) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.data = make(map[string][]byte)
	a.stats.Size = 0
	a.stats.LastUpdated = time.Now().UTC()
	a.logger.Debug().Msg("Storage cleared")
	return nil
}

// GetStats returns storage statistics
func (a *MemoryAdapter) GetStats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}
