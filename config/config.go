// Package config loads engine settings from a YAML file and DATAPROTECT_
// environment variables
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/kms"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// EnvPrefix prefixes every environment variable, e.g. DATAPROTECT_STORAGE_BACKEND
const EnvPrefix = "DATAPROTECT"

// Storage backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// Settings is the complete engine configuration
type Settings struct {
	Log      LogSettings        `mapstructure:"log"`
	Storage  StorageSettings    `mapstructure:"storage"`
	Security SecuritySettings   `mapstructure:"security"`
	Audit    AuditSettings      `mapstructure:"audit"`
	Secret   kms.SecretSettings `mapstructure:"secret"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type StorageSettings struct {
	Backend         string `mapstructure:"backend"`
	DSN             string `mapstructure:"dsn"`
	MongoURI        string `mapstructure:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection"`
}

// SecuritySettings overrides types.SecurityConfig; zero values keep the defaults
type SecuritySettings struct {
	types.SecurityConfig `mapstructure:",squash"`

	// WorkFactors and Retention are keyed by classification name (case-insensitive)
	WorkFactors map[string]float64       `mapstructure:"work_factors"`
	Retention   map[string]time.Duration `mapstructure:"retention"`
}

type AuditSettings struct {
	AnonymizationSalt string `mapstructure:"anonymization_salt"`
	NotifySink        bool   `mapstructure:"notify_sink"`
}

func setDefaults(v *viper.Viper) {
	d := types.DefaultSecurityConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.dsn", "file:dataprotect.db")
	v.SetDefault("storage.mongo_uri", "")
	v.SetDefault("storage.mongo_database", "dataprotect")
	v.SetDefault("storage.mongo_collection", "protected_kv")

	v.SetDefault("security.master_key_iterations", d.MasterKeyIterations)
	v.SetDefault("security.working_key_iterations", d.WorkingKeyIterations)
	v.SetDefault("security.key_cache_ttl", d.KeyCacheTTL)
	v.SetDefault("security.envelope_max_age", d.EnvelopeMaxAge)
	v.SetDefault("security.audit_cache_size", d.AuditCacheSize)
	v.SetDefault("security.expiry_sweep_interval", d.ExpirySweepInterval)

	v.SetDefault("audit.anonymization_salt", "")
	v.SetDefault("audit.notify_sink", true)

	// Registered so AutomaticEnv can fill them
	for _, key := range []string{
		"secret.secret", "secret.wrapped_secret", "secret.provider", "secret.key_id",
		"secret.region", "secret.vault_address", "secret.vault_mount",
		"secret.aead_key", "secret.aead_key_id",
	} {
		v.SetDefault(key, "")
	}
}

// Load reads settings from path (optional) and the environment. Without a
// path, dataprotect.yaml is looked up in the working directory.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dataprotect")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks settings that would otherwise fail late
func (s *Settings) Validate() error {
	switch s.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if s.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for sqlite", types.ErrValidation)
		}
	case BackendMongo:
		if s.Storage.MongoURI == "" {
			return fmt.Errorf("%w: storage.mongo_uri is required for mongo", types.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", types.ErrValidation, s.Storage.Backend)
	}

	for name := range s.Security.WorkFactors {
		if _, err := types.ParseClassification(name); err != nil {
			return fmt.Errorf("%w: security.work_factors: %v", types.ErrValidation, err)
		}
	}
	for name := range s.Security.Retention {
		if _, err := types.ParseClassification(name); err != nil {
			return fmt.Errorf("%w: security.retention: %v", types.ErrValidation, err)
		}
	}
	return nil
}

// SecurityConfig returns the effective security configuration
func (s *Settings) SecurityConfig() types.SecurityConfig {
	cfg := s.Security.SecurityConfig
	cfg.WorkFactors = nil
	cfg.RetentionPeriods = nil

	if len(s.Security.WorkFactors) > 0 {
		cfg.WorkFactors = make(map[types.DataClassification]float64, len(s.Security.WorkFactors))
		for name, f := range s.Security.WorkFactors {
			if c, err := types.ParseClassification(name); err == nil {
				cfg.WorkFactors[c] = f
			}
		}
	}
	if len(s.Security.Retention) > 0 {
		cfg.RetentionPeriods = make(map[types.DataClassification]time.Duration, len(s.Security.Retention))
		for name, d := range s.Security.Retention {
			if c, err := types.ParseClassification(name); err == nil {
				cfg.RetentionPeriods[c] = d
			}
		}
	}
	return cfg.WithDefaults()
}
