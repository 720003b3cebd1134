// Package securestore implements the encrypted, policy-driven key-value store
// with processing records and data-subject export and erasure.
package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/pii"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/storage"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

const (
	// Namespace prefixes every key this service writes to the shared storage
	Namespace = "secure_storage"

	dataPrefix   = "data:"
	recordPrefix = "record:"
)

// storedItem is the persisted form of a value
type storedItem struct {
	Envelope  *types.Envelope `json:"envelope"`
	OwnerID   string          `json:"ownerId,omitempty"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

func (it *storedItem) expired(now time.Time) bool {
	return it.ExpiresAt != nil && now.After(*it.ExpiresAt)
}

// Service is the secure storage service
type Service struct {
	store     interfaces.Storage
	encryptor interfaces.Encryptor
	detector  *pii.Detector
	consent   interfaces.ConsentOracle
	audit     interfaces.AuditRecorder
	config    types.SecurityConfig
	locks     *keyLocks
	now       func() time.Time
	logger    zerolog.Logger
}

var _ interfaces.SecureStorage = (*Service)(nil)

// Option configures a Service
type Option func(*Service)

// WithConsentOracle sets the oracle consulted when a store requires consent
func WithConsentOracle(o interfaces.ConsentOracle) Option {
	return func(s *Service) {
		s.consent = o
	}
}

// WithAuditRecorder records an audit event for each operation
func WithAuditRecorder(r interfaces.AuditRecorder) Option {
	return func(s *Service) {
		s.audit = r
	}
}

// WithDetector replaces the default PII detector
func WithDetector(d *pii.Detector) Option {
	return func(s *Service) {
		s.detector = d
	}
}

// WithClock sets the time source used for expiry
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the secure storage service. Keys are written to store
// under the secure_storage namespace.
func NewService(store interfaces.Storage, encryptor interfaces.Encryptor, config types.SecurityConfig, opts ...Option) *Service {
	s := &Service{
		store:     storage.NewNamespacedAdapter(store, Namespace),
		encryptor: encryptor,
		detector:  pii.NewDetector(),
		config:    config.WithDefaults(),
		locks:     newKeyLocks(),
		now:       time.Now,
		logger:    log.With().Str("component", "secure_storage").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store encrypts data and writes it under key, replacing any previous value
// and its processing record. When the record cannot be written the item is
// removed again, so a failed Store leaves nothing under key.
func (s *Service) Store(ctx context.Context, key string, data any, opts types.StoreOptions) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", types.ErrValidation)
	}
	if opts.Classification != "" && !opts.Classification.Valid() {
		return fmt.Errorf("%w: unknown classification %q", types.ErrValidation, opts.Classification)
	}
	if opts.PIIType != "" && !opts.PIIType.Valid() {
		return fmt.Errorf("%w: unknown PII type %q", types.ErrValidation, opts.PIIType)
	}
	if opts.ExpiresIn < 0 {
		return fmt.Errorf("%w: expiresIn must not be negative", types.ErrValidation)
	}

	unlock := s.locks.lock(key)
	defer unlock()

	record, isRecord := pii.AsRecord(data)
	piiTypes := s.resolvePIITypes(record, isRecord, opts.PIIType)
	classification := s.resolveClassification(opts.Classification, piiTypes)
	owner := resolveOwner(opts.OwnerID, record)

	consentGiven := false
	if opts.RequireConsent {
		consentKey := opts.ConsentKey
		if consentKey == "" {
			consentKey = key
		}
		if s.consent == nil || !s.consent.HasConsent(ctx, consentKey) {
			s.recordAudit(ctx, types.CategoryConsent, "store_denied", types.ResultBlocked, key, owner, map[string]any{
				"consentKey": consentKey,
			})
			return fmt.Errorf("%w: no consent for %s", types.ErrConsentRequired, consentKey)
		}
		consentGiven = true
	}

	envelopePII := opts.PIIType
	if envelopePII == "" && len(piiTypes) > 0 {
		envelopePII = piiTypes[0]
	}

	env, err := s.encryptor.Encrypt(ctx, data, classification, envelopePII, keyContext(key))
	if err != nil {
		return err
	}

	now := s.now().UTC()
	item := &storedItem{
		Envelope: env,
		OwnerID:  owner,
		StoredAt: now,
	}
	if opts.ExpiresIn > 0 {
		exp := now.Add(opts.ExpiresIn)
		item.ExpiresAt = &exp
	}

	if err := s.putJSON(ctx, dataPrefix+key, item); err != nil {
		return err
	}

	legalBasis := opts.LegalBasis
	if legalBasis == "" {
		legalBasis = types.LegalBasisLegitimateInterest
		if opts.RequireConsent {
			legalBasis = types.LegalBasisConsent
		}
	}
	purpose := opts.Purpose
	if purpose == "" {
		purpose = types.DefaultProcessingPurpose
	}

	rec := &types.DataProcessingRecord{
		Key:             key,
		OwnerID:         owner,
		Classification:  classification,
		PIITypes:        piiTypes,
		Purpose:         purpose,
		LegalBasis:      legalBasis,
		RetentionPeriod: s.config.RetentionFor(classification),
		ConsentGiven:    consentGiven,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       item.ExpiresAt,
	}
	if err := s.putJSON(ctx, recordPrefix+key, rec); err != nil {
		if derr := s.removeEntry(ctx, key); derr != nil {
			s.logger.Error().Err(derr).Str("key", key).Msg("Failed to remove item without processing record")
		}
		return err
	}

	s.logger.Debug().
		Str("key", key).
		Str("classification", string(classification)).
		Bool("expires", item.ExpiresAt != nil).
		Msg("Item stored")

	s.recordAudit(ctx, types.CategoryDataModification, "store", types.ResultSuccess, key, owner, map[string]any{
		"classification": string(classification),
		"legalBasis":     legalBasis,
	})
	return nil
}

// Retrieve decrypts the value under key into dest
func (s *Service) Retrieve(ctx context.Context, key string, dest any) error {
	raw, err := s.RetrieveRaw(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: deserialize %s: %v", types.ErrValidation, key, err)
	}
	return nil
}

// RetrieveRaw returns the decrypted JSON value under key. An expired item is
// deleted and reported with an error matching both ErrNotFound and ErrExpiredData.
func (s *Service) RetrieveRaw(ctx context.Context, key string) ([]byte, error) {
	raw, _, err := s.retrieve(ctx, key)
	return raw, err
}

// retrieve decrypts the value under key and returns it with the item it was read from
func (s *Service) retrieve(ctx context.Context, key string) ([]byte, *storedItem, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	item, err := s.loadItem(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	if item.expired(s.now()) {
		s.deleteEntry(ctx, key)
		s.logger.Debug().Str("key", key).Msg("Expired item removed on access")
		return nil, nil, fmt.Errorf("%w: %w: %s", types.ErrNotFound, types.ErrExpiredData, key)
	}

	rec, err := s.loadRecord(ctx, key)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, nil, err
	}

	maxAge := s.config.RetentionFor(item.Envelope.Classification)
	if rec != nil && rec.RetentionPeriod > 0 {
		maxAge = rec.RetentionPeriod
	}

	raw, err := s.encryptor.DecryptWithMaxAge(ctx, item.Envelope, keyContext(key), maxAge)
	if err != nil {
		s.recordAudit(ctx, types.CategoryDataAccess, "retrieve", types.ResultFailure, key, item.OwnerID, map[string]any{
			"error": err.Error(),
		})
		return nil, nil, err
	}

	if rec != nil {
		now := s.now().UTC()
		rec.AccessCount++
		rec.LastAccessedAt = &now
		rec.UpdatedAt = now
		if err := s.putJSON(ctx, recordPrefix+key, rec); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to update processing record")
		}
	}

	s.recordAudit(ctx, types.CategoryDataAccess, "retrieve", types.ResultSuccess, key, item.OwnerID, nil)
	return raw, item, nil
}

// Remove deletes the value and its processing record. Removing a missing key is not an error.
func (s *Service) Remove(ctx context.Context, key string) error {
	unlock := s.locks.lock(key)
	defer unlock()

	if err := s.store.Delete(ctx, dataPrefix+key); err != nil {
		return wrapStorage(err, "delete "+key)
	}
	if err := s.store.Delete(ctx, recordPrefix+key); err != nil {
		return wrapStorage(err, "delete record "+key)
	}

	s.recordAudit(ctx, types.CategoryDataDeletion, "remove", types.ResultSuccess, key, "", nil)
	return nil
}

// List returns every live key in sorted order; expired items are purged on the way
func (s *Service) List(ctx context.Context) ([]string, error) {
	live, _, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(live))
	for key := range live {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// PurgeExpired removes every expired item and returns how many were removed
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	_, purged, err := s.scan(ctx)
	if err != nil {
		return purged, err
	}
	if purged > 0 {
		s.logger.Info().Int("purged", purged).Msg("Expired items purged")
		s.recordAudit(ctx, types.CategoryDataDeletion, "purge_expired", types.ResultSuccess, "", "", map[string]any{
			"count": purged,
		})
	}
	return purged, nil
}

// GetProcessingRecord returns the processing record for key
func (s *Service) GetProcessingRecord(ctx context.Context, key string) (*types.DataProcessingRecord, error) {
	return s.loadRecord(ctx, key)
}

// ExportUserData decrypts every live item owned by userID together with its processing record
func (s *Service) ExportUserData(ctx context.Context, userID string) (*types.UserDataExport, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", types.ErrValidation)
	}

	live, _, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	export := &types.UserDataExport{
		UserID:     userID,
		ExportedAt: s.now().UTC(),
		Records:    []types.ExportedRecord{},
	}
	for _, key := range ownedKeys(live, userID) {
		raw, item, err := s.retrieve(ctx, key)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			s.recordAudit(ctx, types.CategoryDataExport, "export_user_data", types.ResultFailure, "", userID, map[string]any{
				"key": key,
			})
			return nil, err
		}
		if item.OwnerID != userID {
			continue
		}
		rec, err := s.loadRecord(ctx, key)
		if err != nil {
			return nil, err
		}
		export.Records = append(export.Records, types.ExportedRecord{
			Key:      key,
			Data:     json.RawMessage(raw),
			Metadata: *rec,
		})
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("records", len(export.Records)).
		Msg("User data exported")
	s.recordAudit(ctx, types.CategoryDataExport, "export_user_data", types.ResultSuccess, "", userID, map[string]any{
		"records": len(export.Records),
	})
	return export, nil
}

// DeleteUserData erases every item owned by userID and returns how many were erased
func (s *Service) DeleteUserData(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", types.ErrValidation)
	}

	keys, err := s.store.Keys(ctx, dataPrefix)
	if err != nil {
		return 0, wrapStorage(err, "list keys")
	}

	owned := func(it *storedItem) bool { return it.OwnerID == userID }
	deleted := 0
	for _, k := range keys {
		key := strings.TrimPrefix(k, dataPrefix)
		item, err := s.loadItem(ctx, key)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		if !owned(item) {
			continue
		}

		removed, _, err := s.removeIf(ctx, key, owned)
		if err != nil {
			return deleted, err
		}
		if removed {
			deleted++
		}
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("deleted", deleted).
		Msg("User data erased")
	s.recordAudit(ctx, types.CategoryDataDeletion, "delete_user_data", types.ResultSuccess, "", userID, map[string]any{
		"count": deleted,
	})
	return deleted, nil
}

// scan loads every item, purging expired ones. It returns the live items by key.
func (s *Service) scan(ctx context.Context) (map[string]*storedItem, int, error) {
	keys, err := s.store.Keys(ctx, dataPrefix)
	if err != nil {
		return nil, 0, wrapStorage(err, "list keys")
	}

	now := s.now()
	expired := func(it *storedItem) bool { return it.expired(now) }
	live := make(map[string]*storedItem, len(keys))
	purged := 0
	for _, k := range keys {
		key := strings.TrimPrefix(k, dataPrefix)
		item, err := s.loadItem(ctx, key)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, purged, err
		}
		if expired(item) {
			removed, current, err := s.removeIf(ctx, key, expired)
			if err != nil {
				return nil, purged, err
			}
			if removed {
				purged++
				continue
			}
			if current == nil {
				continue
			}
			item = current
		}
		live[key] = item
	}
	return live, purged, nil
}

// removeIf deletes the entry under key if the item stored there still
// satisfies cond once the key lock is held. Otherwise it returns the current
// item, or nil when the key is gone.
func (s *Service) removeIf(ctx context.Context, key string, cond func(*storedItem) bool) (bool, *storedItem, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	item, err := s.loadItem(ctx, key)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if !cond(item) {
		return false, item, nil
	}
	if err := s.removeEntry(ctx, key); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

func ownedKeys(items map[string]*storedItem, userID string) []string {
	var keys []string
	for key, item := range items {
		if item.OwnerID == userID {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Service) resolvePIITypes(record map[string]any, isRecord bool, declared types.PIIType) []types.PIIType {
	var found []types.PIIType
	if declared != "" {
		found = append(found, declared)
	}
	if isRecord {
		for _, t := range s.detector.DetectTypes(record) {
			if t != declared {
				found = append(found, t)
			}
		}
	}
	return found
}

// resolveClassification: explicit, else inferred from PII with INTERNAL as the floor
func (s *Service) resolveClassification(explicit types.DataClassification, piiTypes []types.PIIType) types.DataClassification {
	if explicit != "" {
		return explicit
	}
	if len(piiTypes) == 0 {
		return types.ClassificationInternal
	}
	return pii.Classify(piiTypes).Max(types.ClassificationInternal)
}

// resolveOwner returns the explicit owner or the record's userId / id field
func resolveOwner(explicit string, record map[string]any) string {
	if explicit != "" {
		return explicit
	}
	for _, field := range []string{"userId", "id"} {
		if v, ok := record[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (s *Service) loadItem(ctx context.Context, key string) (*storedItem, error) {
	var item storedItem
	if err := s.getJSON(ctx, dataPrefix+key, &item); err != nil {
		return nil, err
	}
	if item.Envelope == nil {
		return nil, fmt.Errorf("%w: item %s has no envelope", types.ErrValidation, key)
	}
	return &item, nil
}

func (s *Service) loadRecord(ctx context.Context, key string) (*types.DataProcessingRecord, error) {
	var rec types.DataProcessingRecord
	if err := s.getJSON(ctx, recordPrefix+key, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: %s", types.ErrNotFound, strings.TrimPrefix(strings.TrimPrefix(key, dataPrefix), recordPrefix))
		}
		return wrapStorage(err, "get "+key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: corrupt entry %s: %v", types.ErrValidation, key, err)
	}
	return nil
}

func (s *Service) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", types.ErrValidation, key, err)
	}
	if err := s.store.Set(ctx, key, raw); err != nil {
		return wrapStorage(err, "set "+key)
	}
	return nil
}

// removeEntry deletes an item and its record; the caller holds the key lock
func (s *Service) removeEntry(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, dataPrefix+key); err != nil {
		return wrapStorage(err, "delete "+key)
	}
	if err := s.store.Delete(ctx, recordPrefix+key); err != nil {
		return wrapStorage(err, "delete record "+key)
	}
	return nil
}

// deleteEntry is removeEntry for paths that already report another error
func (s *Service) deleteEntry(ctx context.Context, key string) {
	if err := s.removeEntry(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete expired item")
	}
}

// recordAudit logs an audit event; failures never affect the operation
func (s *Service) recordAudit(ctx context.Context, category types.AuditCategory, action string, result types.AuditResult, key, owner string, metadata map[string]any) {
	if s.audit == nil {
		return
	}

	actor := types.Actor{Type: "system", ID: Namespace}
	if owner != "" {
		actor = types.Actor{Type: "user", ID: owner}
	}
	details := types.EventDetails{
		Result: result,
		Actor:  actor,
		Context: types.EventContext{
			Source:   Namespace,
			Metadata: metadata,
		},
	}
	if key != "" {
		details.Target = &types.Target{Type: "storage_key", ID: key}
	}

	if _, err := s.audit.LogAuditEvent(ctx, category, action, details); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("Failed to record audit event")
	}
}

func keyContext(key string) string {
	return Namespace + ":" + key
}

func wrapStorage(err error, op string) error {
	if errors.Is(err, types.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", types.ErrStorage, op, err)
}
