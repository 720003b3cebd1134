package types

import "time"

const (
	// DefaultMasterKeyIterations is the PBKDF2 iteration count for the master key
	DefaultMasterKeyIterations = 100000

	// DefaultWorkingKeyIterations is the base PBKDF2 iteration count for working keys,
	// scaled by the classification work factor
	DefaultWorkingKeyIterations = 100000

	// DefaultKeyCacheTTLMinutes is the lifetime of a cached working key
	DefaultKeyCacheTTLMinutes = 30

	// DefaultEnvelopeMaxAgeHours is the freshness window for envelopes
	DefaultEnvelopeMaxAgeHours = 24

	// DefaultAuditCacheSize is the number of recent audit events kept in memory
	DefaultAuditCacheSize = 10000
)

// SecurityConfig carries every security constant used by the services.
// It is passed by value at construction so a running service never sees it change.
type SecurityConfig struct {
	// MasterKeyIterations is the PBKDF2 iteration count for stretching the application secret
	MasterKeyIterations int `json:"masterKeyIterations" mapstructure:"master_key_iterations"`

	// WorkingKeyIterations is the base iteration count for per-context working keys
	WorkingKeyIterations int `json:"workingKeyIterations" mapstructure:"working_key_iterations"`

	// WorkFactors scales WorkingKeyIterations per classification
	WorkFactors map[DataClassification]float64 `json:"workFactors" mapstructure:"-"`

	// KeyCacheTTL is how long a derived working key stays cached
	KeyCacheTTL time.Duration `json:"keyCacheTTL" mapstructure:"key_cache_ttl"`

	// EnvelopeMaxAge is the anti-replay freshness window checked at decrypt time
	EnvelopeMaxAge time.Duration `json:"envelopeMaxAge" mapstructure:"envelope_max_age"`

	// AuditCacheSize caps the in-memory recent audit event cache
	AuditCacheSize int `json:"auditCacheSize" mapstructure:"audit_cache_size"`

	// RetentionPeriods maps a classification to its data retention period
	RetentionPeriods map[DataClassification]time.Duration `json:"retentionPeriods" mapstructure:"-"`

	// ExpirySweepInterval is how often expired storage entries are purged in the background
	ExpirySweepInterval time.Duration `json:"expirySweepInterval" mapstructure:"expiry_sweep_interval"`
}

// DefaultSecurityConfig returns the production security constants
func DefaultSecurityConfig() SecurityConfig {
	const day = 24 * time.Hour
	return SecurityConfig{
		MasterKeyIterations:  DefaultMasterKeyIterations,
		WorkingKeyIterations: DefaultWorkingKeyIterations,
		WorkFactors: map[DataClassification]float64{
			ClassificationRestricted:   2,
			ClassificationConfidential: 1,
			ClassificationInternal:     0.5,
			ClassificationPublic:       0.5,
		},
		KeyCacheTTL:    DefaultKeyCacheTTLMinutes * time.Minute,
		EnvelopeMaxAge: DefaultEnvelopeMaxAgeHours * time.Hour,
		AuditCacheSize: DefaultAuditCacheSize,
		RetentionPeriods: map[DataClassification]time.Duration{
			ClassificationRestricted:   90 * day,
			ClassificationConfidential: 365 * day,
			ClassificationInternal:     730 * day,
			ClassificationPublic:       1095 * day,
		},
		ExpirySweepInterval: time.Minute,
	}
}

// WithDefaults fills zero-valued fields from DefaultSecurityConfig.
// Maps are copied so the caller's config cannot be mutated afterwards.
func (c SecurityConfig) WithDefaults() SecurityConfig {
	d := DefaultSecurityConfig()
	if c.MasterKeyIterations <= 0 {
		c.MasterKeyIterations = d.MasterKeyIterations
	}
	if c.WorkingKeyIterations <= 0 {
		c.WorkingKeyIterations = d.WorkingKeyIterations
	}
	if c.KeyCacheTTL <= 0 {
		c.KeyCacheTTL = d.KeyCacheTTL
	}
	if c.EnvelopeMaxAge <= 0 {
		c.EnvelopeMaxAge = d.EnvelopeMaxAge
	}
	if c.AuditCacheSize <= 0 {
		c.AuditCacheSize = d.AuditCacheSize
	}
	if c.ExpirySweepInterval <= 0 {
		c.ExpirySweepInterval = d.ExpirySweepInterval
	}

	factors := make(map[DataClassification]float64, len(d.WorkFactors))
	for k, v := range d.WorkFactors {
		factors[k] = v
	}
	for k, v := range c.WorkFactors {
		factors[k] = v
	}
	c.WorkFactors = factors

	retention := make(map[DataClassification]time.Duration, len(d.RetentionPeriods))
	for k, v := range d.RetentionPeriods {
		retention[k] = v
	}
	for k, v := range c.RetentionPeriods {
		retention[k] = v
	}
	c.RetentionPeriods = retention

	return c
}

// IterationsFor returns the working-key iteration count for a classification
func (c SecurityConfig) IterationsFor(classification DataClassification) int {
	factor, ok := c.WorkFactors[classification]
	if !ok {
		factor = 1
	}
	n := int(float64(c.WorkingKeyIterations) * factor)
	if n < 1 {
		n = 1
	}
	return n
}

// RetentionFor returns the retention period for a classification
func (c SecurityConfig) RetentionFor(classification DataClassification) time.Duration {
	if d, ok := c.RetentionPeriods[classification]; ok {
		return d
	}
	return c.RetentionPeriods[ClassificationInternal]
}
