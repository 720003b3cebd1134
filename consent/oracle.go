// Package consent provides ConsentOracle implementations
package consent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
)

// Grant records a consent decision for a key
type Grant struct {
	Key       string    `json:"key"`
	Granted   bool      `json:"granted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MemoryOracle keeps consent decisions in memory
type MemoryOracle struct {
	mu     sync.RWMutex
	grants map[string]Grant
	now    func() time.Time
	logger zerolog.Logger
}

var _ interfaces.ConsentOracle = (*MemoryOracle)(nil)

// NewMemoryOracle creates an oracle with the given keys already granted
func NewMemoryOracle(granted ...string) *MemoryOracle {
	o := &MemoryOracle{
		grants: make(map[string]Grant),
		now:    time.Now,
		logger: log.With().Str("component", "consent").Logger(),
	}
	for _, k := range granted {
		o.Grant(k)
	}
	return o
}

// HasConsent implements interfaces.ConsentOracle
func (o *MemoryOracle) HasConsent(_ context.Context, key string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.grants[key].Granted
}

// Grant records consent for key
func (o *MemoryOracle) Grant(key string) {
	o.set(key, true)
}

// Revoke withdraws consent for key
func (o *MemoryOracle) Revoke(key string) {
	o.set(key, false)
}

// Grants returns every recorded decision
func (o *MemoryOracle) Grants() []Grant {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Grant, 0, len(o.grants))
	for _, g := range o.grants {
		out = append(out, g)
	}
	return out
}

func (o *MemoryOracle) set(key string, granted bool) {
	o.mu.Lock()
	o.grants[key] = Grant{Key: key, Granted: granted, UpdatedAt: o.now().UTC()}
	o.mu.Unlock()

	o.logger.Debug().Str("key", key).Bool("granted", granted).Msg("Consent updated")
}

// StaticOracle answers from a fixed key set; a key ending in "*" grants every
// key with that prefix
type StaticOracle map[string]bool

var _ interfaces.ConsentOracle = StaticOracle(nil)

// NewStaticOracle creates an oracle granting keys
func NewStaticOracle(keys ...string) StaticOracle {
	o := make(StaticOracle, len(keys))
	for _, k := range keys {
		o[k] = true
	}
	return o
}

// HasConsent implements interfaces.ConsentOracle
func (o StaticOracle) HasConsent(_ context.Context, key string) bool {
	if o[key] {
		return true
	}
	for k, granted := range o {
		if granted && strings.HasSuffix(k, "*") && strings.HasPrefix(key, strings.TrimSuffix(k, "*")) {
			return true
		}
	}
	return false
}
