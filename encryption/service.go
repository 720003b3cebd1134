// Package encryption implements the key hierarchy and the AES-256-GCM envelope format.
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/cache"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// SessionSaltKey is the storage key holding the persisted session salt
const SessionSaltKey = "encryption:session_salt"

// Service derives keys from the application secret and seals data into envelopes.
// One instance holds the cryptographic session (salt, master key, key cache)
// for the whole process.
type Service struct {
	config      types.SecurityConfig
	masterKey   *types.SecureBytes
	sessionSalt []byte
	keyCache    interfaces.KeyCache
	now         func() time.Time

	statsMu sync.Mutex
	stats   types.EncryptionStats

	logger zerolog.Logger
}

var _ interfaces.Encryptor = (*Service)(nil)

// Option configures a Service
type Option func(*Service)

// WithKeyCache replaces the default in-memory key cache
func WithKeyCache(c interfaces.KeyCache) Option {
	return func(s *Service) {
		s.keyCache = c
	}
}

// WithClock sets the time source used for envelope timestamps and freshness checks
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the encryption service. When store is non-nil the session
// salt is loaded from (or first written to) it, so envelopes produced by an
// earlier process on the same store remain decryptable.
func NewService(ctx context.Context, secret []byte, config types.SecurityConfig, store interfaces.Storage, opts ...Option) (*Service, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: application secret is empty", types.ErrValidation)
	}
	config = config.WithDefaults()

	s := &Service{
		config: config,
		now:    time.Now,
		stats: types.EncryptionStats{
			ByClassification: make(map[types.DataClassification]uint64),
		},
		logger: log.With().Str("component", "encryption_service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.keyCache == nil {
		s.keyCache = cache.NewKeyCache(&types.KeyCacheConfig{Enabled: true, TTL: config.KeyCacheTTL})
	}

	salt, err := loadSessionSalt(ctx, store)
	if err != nil {
		return nil, err
	}
	s.sessionSalt = salt

	master := deriveMasterKey(secret, salt, config.MasterKeyIterations)
	s.masterKey = types.NewSecureBytes(master)
	zero(master)

	s.logger.Info().
		Bool("persistent_salt", store != nil).
		Int("master_iterations", config.MasterKeyIterations).
		Msg("Encryption service initialized")
	return s, nil
}

func loadSessionSalt(ctx context.Context, store interfaces.Storage) ([]byte, error) {
	if store != nil {
		salt, err := store.Get(ctx, SessionSaltKey)
		switch {
		case err == nil && len(salt) == types.SaltSize:
			return salt, nil
		case err == nil:
			return nil, fmt.Errorf("%w: persisted session salt has length %d", types.ErrValidation, len(salt))
		case !errors.Is(err, types.ErrNotFound):
			return nil, fmt.Errorf("%w: load session salt: %v", types.ErrStorage, err)
		}
	}

	salt, err := randomBytes(types.SaltSize)
	if err != nil {
		return nil, err
	}
	if store != nil {
		if err := store.Set(ctx, SessionSaltKey, salt); err != nil {
			return nil, fmt.Errorf("%w: persist session salt: %v", types.ErrStorage, err)
		}
	}
	return salt, nil
}

// Encrypt serializes data as JSON and seals it into a new envelope
func (s *Service) Encrypt(ctx context.Context, data any, classification types.DataClassification, piiType types.PIIType, keyContext string) (*types.Envelope, error) {
	if !classification.Valid() {
		return nil, fmt.Errorf("%w: unknown classification %q", types.ErrValidation, classification)
	}
	if piiType != "" && !piiType.Valid() {
		return nil, fmt.Errorf("%w: unknown PII type %q", types.ErrValidation, piiType)
	}
	if keyContext == "" {
		return nil, fmt.Errorf("%w: key context is required", types.ErrValidation)
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize data: %v", types.ErrValidation, err)
	}
	defer zero(plaintext)

	iv, err := randomBytes(types.IVSize)
	if err != nil {
		return nil, err
	}
	salt, err := randomBytes(types.SaltSize)
	if err != nil {
		return nil, err
	}

	env := &types.Envelope{
		Algorithm:      types.EnvelopeAlgorithm,
		Timestamp:      s.now().UnixMilli(),
		Classification: classification,
		PIIType:        piiType,
		Version:        types.EnvelopeVersion,
	}

	gcm, err := s.recordCipher(keyContext, classification, salt)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, additionalData(env))
	ciphertext, tag := sealed[:len(sealed)-types.TagSize], sealed[len(sealed)-types.TagSize:]

	env.Data = base64.StdEncoding.EncodeToString(ciphertext)
	env.IV = base64.StdEncoding.EncodeToString(iv)
	env.Salt = base64.StdEncoding.EncodeToString(salt)
	env.Tag = base64.StdEncoding.EncodeToString(tag)

	s.statsMu.Lock()
	s.stats.TotalEncrypts++
	s.stats.ByClassification[classification]++
	s.stats.LastEncryptTime = time.Now().UTC()
	s.statsMu.Unlock()

	s.logger.Debug().
		Str("context", keyContext).
		Str("classification", string(classification)).
		Str("pii_type", string(piiType)).
		Int("bytes", len(plaintext)).
		Msg("Data encrypted")
	return env, nil
}

// Decrypt validates and opens an envelope, returning the serialized plaintext.
// Envelopes older than the configured freshness window are rejected.
func (s *Service) Decrypt(ctx context.Context, env *types.Envelope, keyContext string) ([]byte, error) {
	return s.DecryptWithMaxAge(ctx, env, keyContext, s.config.EnvelopeMaxAge)
}

// DecryptWithMaxAge is Decrypt with an explicit freshness window, for data at
// rest whose lifetime is governed by a retention period.
func (s *Service) DecryptWithMaxAge(ctx context.Context, env *types.Envelope, keyContext string, maxAge time.Duration) ([]byte, error) {
	decoded, err := s.validate(env, maxAge)
	if err != nil {
		return nil, err
	}
	if keyContext == "" {
		return nil, fmt.Errorf("%w: key context is required", types.ErrValidation)
	}

	gcm, err := s.recordCipher(keyContext, env.Classification, decoded.salt)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(decoded.ciphertext)+len(decoded.tag))
	sealed = append(sealed, decoded.ciphertext...)
	sealed = append(sealed, decoded.tag...)

	plaintext, err := gcm.Open(nil, decoded.iv, sealed, additionalData(env))
	if err != nil {
		s.statsMu.Lock()
		s.stats.FailedDecrypts++
		s.statsMu.Unlock()

		s.logger.Warn().
			Str("context", keyContext).
			Str("classification", string(env.Classification)).
			Msg("Envelope authentication failed")
		return nil, fmt.Errorf("%w: envelope authentication failed", types.ErrDecryption)
	}

	s.statsMu.Lock()
	s.stats.TotalDecrypts++
	s.stats.LastDecryptTime = time.Now().UTC()
	s.statsMu.Unlock()

	return plaintext, nil
}

// DecryptInto opens an envelope and unmarshals the plaintext into dest
func (s *Service) DecryptInto(ctx context.Context, env *types.Envelope, keyContext string, dest any) error {
	plaintext, err := s.Decrypt(ctx, env, keyContext)
	if err != nil {
		return err
	}
	defer zero(plaintext)

	if err := json.Unmarshal(plaintext, dest); err != nil {
		return fmt.Errorf("%w: deserialize data: %v", types.ErrValidation, err)
	}
	return nil
}

// FlushKeyCache wipes every cached working key
func (s *Service) FlushKeyCache() {
	s.keyCache.Flush()
}

// Stats returns a snapshot of the encryption counters
func (s *Service) Stats() types.EncryptionStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	out := s.stats
	out.ByClassification = make(map[types.DataClassification]uint64, len(s.stats.ByClassification))
	for k, v := range s.stats.ByClassification {
		out.ByClassification[k] = v
	}
	return out
}

// SessionSalt returns a copy of the session salt
func (s *Service) SessionSalt() []byte {
	out := make([]byte, len(s.sessionSalt))
	copy(out, s.sessionSalt)
	return out
}

// Close wipes the master key and every cached working key
func (s *Service) Close() {
	s.keyCache.Flush()
	s.masterKey.Clear()
}

// workingKey returns the cached working key or derives and caches it
func (s *Service) workingKey(keyContext string, classification types.DataClassification) ([]byte, error) {
	name := cacheKey(keyContext, classification)
	if key, ok := s.keyCache.Get(name); ok {
		return key, nil
	}

	master := s.masterKey.Get()
	if master == nil {
		return nil, fmt.Errorf("%w: encryption service is closed", types.ErrValidation)
	}
	defer zero(master)

	iterations := s.config.IterationsFor(classification)
	key := deriveWorkingKey(master, keyContext, classification, iterations)
	s.keyCache.Set(name, key)

	s.logger.Debug().
		Str("context", keyContext).
		Str("classification", string(classification)).
		Int("iterations", iterations).
		Msg("Working key derived")
	return key, nil
}

// recordCipher builds the AES-GCM AEAD for one envelope
func (s *Service) recordCipher(keyContext string, classification types.DataClassification, envelopeSalt []byte) (cipher.AEAD, error) {
	wk, err := s.workingKey(keyContext, classification)
	if err != nil {
		return nil, err
	}
	defer zero(wk)

	key, err := deriveRecordKey(wk, envelopeSalt, keyContext, classification)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, types.TagSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

type decodedEnvelope struct {
	ciphertext []byte
	iv         []byte
	salt       []byte
	tag        []byte
}

// validate checks structure, algorithm and freshness before any key work
func (s *Service) validate(env *types.Envelope, maxAge time.Duration) (*decodedEnvelope, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: envelope is nil", types.ErrValidation)
	}
	if env.Data == "" || env.IV == "" || env.Salt == "" || env.Tag == "" || env.Algorithm == "" {
		return nil, fmt.Errorf("%w: envelope is missing required fields", types.ErrValidation)
	}
	if env.Algorithm != types.EnvelopeAlgorithm {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedAlgorithm, env.Algorithm)
	}
	if env.Version != types.EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", types.ErrValidation, env.Version)
	}
	if !env.Classification.Valid() {
		return nil, fmt.Errorf("%w: unknown classification %q", types.ErrValidation, env.Classification)
	}
	if env.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: envelope timestamp is missing", types.ErrValidation)
	}
	if age := s.now().Sub(env.CreatedAt()); maxAge > 0 && age > maxAge {
		return nil, fmt.Errorf("%w: envelope is %s old", types.ErrExpiredData, age.Round(time.Second))
	}

	var (
		d   decodedEnvelope
		err error
	)
	if d.ciphertext, err = decodeField("data", env.Data, 0); err != nil {
		return nil, err
	}
	if d.iv, err = decodeField("iv", env.IV, types.IVSize); err != nil {
		return nil, err
	}
	if d.salt, err = decodeField("salt", env.Salt, types.SaltSize); err != nil {
		return nil, err
	}
	if d.tag, err = decodeField("tag", env.Tag, types.TagSize); err != nil {
		return nil, err
	}
	return &d, nil
}

func decodeField(name, value string, size int) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid base64", types.ErrValidation, name)
	}
	if size > 0 && len(b) != size {
		return nil, fmt.Errorf("%w: %s must be %d bytes, got %d", types.ErrValidation, name, size, len(b))
	}
	return b, nil
}

// additionalData binds the envelope metadata to the ciphertext
func additionalData(env *types.Envelope) []byte {
	return []byte(fmt.Sprintf("v%d|%s|%s|%s|%d",
		env.Version, env.Algorithm, env.Classification, env.PIIType, env.Timestamp))
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	return b, nil
}
