// Package engine wires the data-protection services together. Every service
// is constructed once and handed out as an explicit handle.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/audit"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/cache"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/config"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/consent"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/coordinator"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/encryption"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/kms"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/pii"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/securestore"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/security"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/storage"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// ExpirySweepProcess is the coordinator id of the background expiry sweep
const ExpirySweepProcess = "secure_storage.expiry_sweep"

// Engine holds the constructed services
type Engine struct {
	Storage       interfaces.Storage
	KeyCache      *cache.KeyCache
	Encryption    *encryption.Service
	Audit         *audit.Service
	SecureStore   *securestore.Service
	Consent       interfaces.ConsentOracle
	Detector      *pii.Detector
	Anonymizer    *pii.Anonymizer
	Pseudonymizer *pii.Pseudonymizer
	Coordinator   *coordinator.Coordinator

	config types.SecurityConfig
	closer func(ctx context.Context) error
	logger zerolog.Logger
}

type options struct {
	store   interfaces.Storage
	consent interfaces.ConsentOracle
	sink    interfaces.SecuritySink
	secret  []byte
}

// Option customizes engine construction
type Option func(*options)

// WithStorage uses store instead of the configured backend. The engine does not close it.
func WithStorage(store interfaces.Storage) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithConsentOracle replaces the in-memory consent oracle
func WithConsentOracle(oracle interfaces.ConsentOracle) Option {
	return func(o *options) {
		o.consent = oracle
	}
}

// WithSecuritySink replaces the configured security sink
func WithSecuritySink(sink interfaces.SecuritySink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithSecret uses secret instead of resolving it from the settings
func WithSecret(secret []byte) Option {
	return func(o *options) {
		o.secret = secret
	}
}

// New builds an engine from settings
func New(ctx context.Context, settings *config.Settings, opts ...Option) (*Engine, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: settings are required", types.ErrValidation)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	e := &Engine{
		config: settings.SecurityConfig(),
		closer: func(context.Context) error { return nil },
		logger: log.With().Str("component", "engine").Logger(),
	}

	if o.store != nil {
		e.Storage = o.store
	} else if err := e.openStorage(ctx, settings.Storage); err != nil {
		return nil, err
	}

	secret := o.secret
	if len(secret) == 0 {
		var err error
		secret, err = kms.ResolveSecret(ctx, settings.Secret)
		if err != nil {
			e.closeStorage(ctx)
			return nil, fmt.Errorf("resolve application secret: %w", err)
		}
	}

	e.KeyCache = cache.NewKeyCache(&types.KeyCacheConfig{Enabled: true, TTL: e.config.KeyCacheTTL})
	enc, err := encryption.NewService(ctx, secret, e.config, e.Storage, encryption.WithKeyCache(e.KeyCache))
	if err != nil {
		e.closeStorage(ctx)
		return nil, err
	}
	e.Encryption = enc

	sink := o.sink
	if sink == nil {
		if settings.Audit.NotifySink {
			sink = security.NewLogSink()
		} else {
			sink = security.NopSink{}
		}
	}

	e.Detector = pii.NewDetector()
	auditOpts := []audit.Option{audit.WithSecuritySink(sink), audit.WithDetector(e.Detector)}
	if settings.Audit.AnonymizationSalt != "" {
		e.Anonymizer = pii.NewAnonymizer(settings.Audit.AnonymizationSalt)
		auditOpts = append(auditOpts, audit.WithAnonymizer(e.Anonymizer))
	}
	e.Audit = audit.NewService(e.Storage, e.config, auditOpts...)
	if err := e.Audit.Initialize(ctx); err != nil {
		e.Close(ctx)
		return nil, err
	}
	if e.Anonymizer == nil {
		e.Anonymizer = pii.NewAnonymizer("")
	}

	e.Consent = o.consent
	if e.Consent == nil {
		e.Consent = consent.NewMemoryOracle()
	}

	e.SecureStore = securestore.NewService(e.Storage, e.Encryption, e.config,
		securestore.WithConsentOracle(e.Consent),
		securestore.WithAuditRecorder(e.Audit),
		securestore.WithDetector(e.Detector),
	)
	e.Pseudonymizer = pii.NewPseudonymizer(e.Encryption, e.Detector)
	e.Coordinator = coordinator.NewCoordinator()

	e.logger.Info().
		Str("storage", settings.Storage.Backend).
		Str("secret_provider", string(settings.Secret.Provider)).
		Msg("Data protection engine ready")
	return e, nil
}

func (e *Engine) openStorage(ctx context.Context, s config.StorageSettings) error {
	switch s.Backend {
	case config.BackendMemory, "":
		e.Storage = storage.NewMemoryAdapter()
	case config.BackendSQLite:
		db, err := storage.OpenSQLite(ctx, s.DSN)
		if err != nil {
			return err
		}
		e.Storage = db
		e.closer = func(context.Context) error { return db.Close() }
	case config.BackendMongo:
		m, err := storage.ConnectMongo(ctx, s.MongoURI, s.MongoDatabase, s.MongoCollection)
		if err != nil {
			return err
		}
		e.Storage = m
		e.closer = m.Close
	default:
		return fmt.Errorf("%w: unknown storage backend %q", types.ErrValidation, s.Backend)
	}
	return nil
}

// StartExpirySweep purges expired secure-store items on the configured interval
func (e *Engine) StartExpirySweep(ctx context.Context) error {
	_, err := e.Coordinator.StartPeriodic(ctx, ExpirySweepProcess, e.config.ExpirySweepInterval, e.SecureStore.PurgeExpired)
	return err
}

// Close stops background jobs, wipes key material and closes owned storage
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.Coordinator != nil {
		if err := e.Coordinator.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if e.Encryption != nil {
		e.Encryption.Close()
	}
	if err := e.closer(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	e.closer = func(context.Context) error { return nil }
	return errors.Join(errs...)
}

func (e *Engine) closeStorage(ctx context.Context) {
	if err := e.closer(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to close storage")
	}
}
