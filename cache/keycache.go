// Package cache provides the in-memory working-key cache used by the encryption service.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// keyEntry is a cached key with its own expiry timer
type keyEntry struct {
	value *types.SecureBytes
	timer *time.Timer
	// gen distinguishes a replaced entry from the one its timer was armed for
	gen uint64
}

// KeyCache caches derived working keys in memory. Each entry expires on its
// own timer; expired and flushed entries are wiped before being dropped.
// Nothing in the cache is ever persisted.
type KeyCache struct {
	config *types.KeyCacheConfig
	mu     sync.Mutex
	items  map[string]*keyEntry
	gen    uint64
	stats  types.CacheStats
	logger *zerolog.Logger
}

var _ interfaces.KeyCache = (*KeyCache)(nil)

// NewKeyCache creates a key cache. A nil config enables the cache with the default TTL.
func NewKeyCache(config *types.KeyCacheConfig) *KeyCache {
	logger := log.With().Str("component", "key_cache").Logger()

	if config == nil {
		config = &types.KeyCacheConfig{Enabled: true}
	}

	now := time.Now().UTC()
	c := &KeyCache{
		config: config,
		items:  make(map[string]*keyEntry),
		stats: types.CacheStats{
			LastPurged:  now,
			LastAccess:  now,
			LastUpdated: now,
		},
		logger: &logger,
	}

	logger.Debug().
		Bool("enabled", config.Enabled).
		Dur("ttl", config.GetEffectiveTTL()).
		Msg("Key cache initialized")
	return c
}

// Get returns a copy of a cached key, taken under the cache lock
func (c *KeyCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.LastAccess = time.Now().UTC()
	if !c.config.Enabled {
		c.stats.Misses++
		return nil, false
	}

	entry, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	value := entry.value.Get()
	if value == nil {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return value, true
}

// Set caches a copy of value under key, replacing and wiping any previous entry
func (c *KeyCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.config.Enabled {
		return
	}

	if old, ok := c.items[key]; ok {
		old.timer.Stop()
		old.value.Clear()
	}

	c.gen++
	gen := c.gen
	entry := &keyEntry{
		value: types.NewSecureBytes(value),
		gen:   gen,
	}
	entry.timer = time.AfterFunc(c.config.GetEffectiveTTL(), func() {
		c.expire(key, gen)
	})
	c.items[key] = entry

	c.stats.Size = len(c.items)
	c.stats.LastUpdated = time.Now().UTC()
}

// expire removes key when its timer fires, unless the entry was replaced meanwhile
func (c *KeyCache) expire(key string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok || entry.gen != gen {
		return
	}
	entry.value.Clear()
	delete(c.items, key)

	c.stats.Evictions++
	c.stats.Size = len(c.items)
	c.stats.LastPurged = time.Now().UTC()

	c.logger.Trace().Str("key", key).Msg("Cached key expired")
}

// Delete wipes and removes a key
func (c *KeyCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		entry.timer.Stop()
		entry.value.Clear()
		delete(c.items, key)
		c.stats.Size = len(c.items)
		c.stats.LastUpdated = time.Now().UTC()
	}
}

// Flush wipes and removes every cached key
func (c *KeyCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.items)
	for key, entry := range c.items {
		entry.timer.Stop()
		entry.value.Clear()
		delete(c.items, key)
	}

	c.stats.Size = 0
	c.stats.LastPurged = time.Now().UTC()
	c.stats.LastUpdated = c.stats.LastPurged

	c.logger.Debug().Int("flushed", n).Msg("Key cache flushed")
}

// GetStats returns cache statistics
func (c *KeyCache) GetStats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
