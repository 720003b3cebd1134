// Package audit implements the tamper-evident audit trail: an append-only,
// hash-chained event log with search, reports, export and integrity checks.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/pii"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/storage"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

const (
	// Namespace prefixes every key this service writes to the shared storage
	Namespace = "audit"

	eventPrefix = "event:"
	stateKey    = "state"

	// HighRiskNotification is the event type sent to the security sink
	HighRiskNotification = "audit.high_risk_event"
)

type lifecycle int

const (
	stateUninitialized lifecycle = iota
	stateInitializing
	stateReady
)

// chainState is the persisted chain pointer
type chainState struct {
	LastSequence int64     `json:"lastSequence"`
	LastHash     string    `json:"lastHash"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Service is the audit trail service. LogAuditEvent is serialized so that
// sequence numbers are never reused and no event links to a stale hash.
type Service struct {
	store      interfaces.Storage
	sink       interfaces.SecuritySink
	detector   *pii.Detector
	anonymizer *pii.Anonymizer
	now        func() time.Time
	logger     zerolog.Logger

	mu           sync.Mutex
	state        lifecycle
	lastSequence int64
	lastHash     string
	cache        []*types.AuditEvent
	cacheSize    int
}

var _ interfaces.AuditTrail = (*Service)(nil)

// Option configures a Service
type Option func(*Service)

// WithSecuritySink forwards HIGH and CRITICAL events to sink
func WithSecuritySink(sink interfaces.SecuritySink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithDetector replaces the PII detector used on event targets
func WithDetector(d *pii.Detector) Option {
	return func(s *Service) {
		s.detector = d
	}
}

// WithAnonymizer sets the anonymizer used by anonymized exports
func WithAnonymizer(a *pii.Anonymizer) Option {
	return func(s *Service) {
		s.anonymizer = a
	}
}

// WithClock sets the time source for event timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the audit trail service. Events are written to store
// under the audit namespace.
func NewService(store interfaces.Storage, config types.SecurityConfig, opts ...Option) *Service {
	config = config.WithDefaults()
	s := &Service{
		store:     storage.NewNamespacedAdapter(store, Namespace),
		detector:  pii.NewDetector(),
		now:       time.Now,
		logger:    log.With().Str("component", "audit").Logger(),
		lastHash:  GenesisHash,
		cacheSize: config.AuditCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.anonymizer == nil {
		s.anonymizer = pii.NewAnonymizer(uuid.NewString())
	}
	return s
}

// Initialize loads the chain pointer and the most recent events. The pointer
// is reconciled with the persisted events so an event written before a failed
// pointer update is never overwritten.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked(ctx)
}

func (s *Service) ensureInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateReady {
		return nil
	}
	return s.initializeLocked(ctx)
}

func (s *Service) initializeLocked(ctx context.Context) error {
	s.state = stateInitializing

	lastSeq, lastHash := int64(0), GenesisHash

	var st chainState
	raw, err := s.store.Get(ctx, stateKey)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &st); err != nil {
			s.logger.Warn().Err(err).Msg("Corrupt audit chain state, rebuilding from events")
		} else {
			lastSeq, lastHash = st.LastSequence, st.LastHash
		}
	case errors.Is(err, types.ErrNotFound):
	default:
		s.state = stateUninitialized
		return wrapStorage(err, "load chain state")
	}

	seqs, err := s.persistedSequences(ctx)
	if err != nil {
		s.state = stateUninitialized
		return err
	}

	if n := len(seqs); n > 0 && seqs[n-1] > lastSeq {
		last, err := s.loadEvent(ctx, seqs[n-1])
		if err != nil {
			s.state = stateUninitialized
			return fmt.Errorf("load last audit event: %w", err)
		}
		s.logger.Warn().
			Int64("state_sequence", lastSeq).
			Int64("event_sequence", last.SequenceNumber).
			Msg("Audit chain state behind persisted events, advancing")
		lastSeq, lastHash = last.SequenceNumber, last.Integrity.Hash
	}

	start := 0
	if len(seqs) > s.cacheSize {
		start = len(seqs) - s.cacheSize
	}
	cache := make([]*types.AuditEvent, 0, len(seqs)-start)
	for _, seq := range seqs[start:] {
		e, err := s.loadEvent(ctx, seq)
		if err != nil {
			if errors.Is(err, types.ErrStorage) {
				s.state = stateUninitialized
				return err
			}
			s.logger.Warn().Err(err).Int64("sequence", seq).Msg("Skipping unreadable audit event")
			continue
		}
		cache = append(cache, e)
	}

	s.lastSequence = lastSeq
	s.lastHash = lastHash
	s.cache = cache
	s.state = stateReady

	s.logger.Info().
		Int64("last_sequence", lastSeq).
		Int("cached", len(cache)).
		Msg("Audit trail initialized")
	return nil
}

// LogAuditEvent appends an event to the chain and returns it. Missing actor,
// request id and source are taken from ctx.
func (s *Service) LogAuditEvent(ctx context.Context, category types.AuditCategory, action string, details types.EventDetails) (*types.AuditEvent, error) {
	if category == "" {
		return nil, fmt.Errorf("%w: category is required", types.ErrValidation)
	}
	if action == "" {
		return nil, fmt.Errorf("%w: action is required", types.ErrValidation)
	}
	details = fillFromContext(ctx, details)
	if err := normalizeDetails(&details); err != nil {
		return nil, fmt.Errorf("%w: audit event details: %v", types.ErrValidation, err)
	}
	if details.Result == "" {
		details.Result = types.ResultSuccess
	}

	piiTypes := detectTargetPII(s.detector, details.Target)
	risk := details.Risk
	if risk == "" {
		risk = defaultRisk(category, details.Result)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateReady {
		if err := s.initializeLocked(ctx); err != nil {
			return nil, err
		}
	}

	event := &types.AuditEvent{
		ID:             uuid.NewString(),
		Timestamp:      s.now().UTC(),
		SequenceNumber: s.lastSequence + 1,
		Category:       category,
		Action:         action,
		Result:         details.Result,
		Actor:          details.Actor,
		Target:         details.Target,
		Context:        details.Context,
		Compliance:     resolveCompliance(category, piiTypes),
		Risk:           risk,
		Integrity:      types.Integrity{PreviousHash: s.lastHash},
	}

	hash, err := computeHash(event)
	if err != nil {
		return nil, fmt.Errorf("%w: hash audit event: %v", types.ErrValidation, err)
	}
	event.Integrity.Hash = hash

	if err := s.putJSON(ctx, eventKey(event.SequenceNumber), event); err != nil {
		return nil, err
	}

	// The event is durable; a stale pointer is repaired by the next Initialize
	if err := s.putJSON(ctx, stateKey, chainState{
		LastSequence: event.SequenceNumber,
		LastHash:     hash,
		UpdatedAt:    event.Timestamp,
	}); err != nil {
		s.logger.Warn().Err(err).Int64("sequence", event.SequenceNumber).Msg("Failed to persist audit chain state")
	}

	s.lastSequence = event.SequenceNumber
	s.lastHash = hash
	s.cache = append(s.cache, event)
	if over := len(s.cache) - s.cacheSize; over > 0 {
		clear(s.cache[:over])
		s.cache = s.cache[over:]
	}

	s.logger.Debug().
		Int64("sequence", event.SequenceNumber).
		Str("category", string(category)).
		Str("action", action).
		Str("risk", string(risk)).
		Msg("Audit event recorded")

	if risk.IsHigh() && s.sink != nil {
		go s.notify(cloneEvent(event))
	}

	return cloneEvent(event), nil
}

// notify forwards a summary of a high-risk event to the security sink
func (s *Service) notify(e *types.AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("event_id", e.ID).Msg("Security sink panicked")
		}
	}()

	payload := map[string]any{
		"eventId":        e.ID,
		"sequenceNumber": e.SequenceNumber,
		"category":       string(e.Category),
		"action":         e.Action,
		"result":         string(e.Result),
		"riskLevel":      string(e.Risk),
		"actorType":      e.Actor.Type,
		"actorId":        e.Actor.ID,
		"timestamp":      e.Timestamp.Format(time.RFC3339Nano),
	}
	meta := map[string]string{
		"source": e.Context.Source,
	}
	if e.Context.RequestID != "" {
		meta["requestId"] = e.Context.RequestID
	}
	s.sink.Notify(HighRiskNotification, payload, meta)
}

// events returns every known event in sequence order. Cached events are
// merged with persisted ones older than the cache.
func (s *Service) events(ctx context.Context) ([]*types.AuditEvent, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached := make([]*types.AuditEvent, len(s.cache))
	copy(cached, s.cache)
	s.mu.Unlock()

	var oldest int64 = 1
	if len(cached) > 0 {
		oldest = cached[0].SequenceNumber
	}
	if oldest <= 1 {
		return cached, nil
	}

	seqs, err := s.persistedSequences(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.AuditEvent, 0, len(seqs))
	for _, seq := range seqs {
		if seq >= oldest {
			break
		}
		e, err := s.loadEvent(ctx, seq)
		if err != nil {
			if errors.Is(err, types.ErrStorage) {
				return nil, err
			}
			s.logger.Warn().Err(err).Int64("sequence", seq).Msg("Skipping unreadable audit event")
			continue
		}
		out = append(out, e)
	}
	return append(out, cached...), nil
}

// persistedSequences lists the stored event sequence numbers in ascending order
func (s *Service) persistedSequences(ctx context.Context) ([]int64, error) {
	keys, err := s.store.Keys(ctx, eventPrefix)
	if err != nil {
		return nil, wrapStorage(err, "list audit events")
	}
	seqs := make([]int64, 0, len(keys))
	for _, k := range keys {
		seq, err := strconv.ParseInt(strings.TrimPrefix(k, eventPrefix), 10, 64)
		if err != nil {
			s.logger.Warn().Str("key", k).Msg("Ignoring malformed audit event key")
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (s *Service) loadEvent(ctx context.Context, seq int64) (*types.AuditEvent, error) {
	raw, err := s.store.Get(ctx, eventKey(seq))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: audit event %d", types.ErrNotFound, seq)
		}
		return nil, wrapStorage(err, "load audit event")
	}
	var e types.AuditEvent
	if err := decodeJSON(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: corrupt audit event %d: %v", types.ErrValidation, seq, err)
	}
	return &e, nil
}

func (s *Service) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", types.ErrValidation, key, err)
	}
	if err := s.store.Set(ctx, key, raw); err != nil {
		return wrapStorage(err, "write "+key)
	}
	return nil
}

// eventKey zero-pads the sequence so keys sort in chain order
func eventKey(seq int64) string {
	return fmt.Sprintf("%s%020d", eventPrefix, seq)
}

func cloneEvent(e *types.AuditEvent) *types.AuditEvent {
	c := *e
	if e.Target != nil {
		t := *e.Target
		t.Before = copyMap(e.Target.Before)
		t.After = copyMap(e.Target.After)
		c.Target = &t
	}
	c.Context.Metadata = copyMap(e.Context.Metadata)
	c.Compliance.Regulations = append([]string(nil), e.Compliance.Regulations...)
	c.Compliance.PIITypes = append([]types.PIIType(nil), e.Compliance.PIITypes...)
	return &c
}

func wrapStorage(err error, op string) error {
	if errors.Is(err, types.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", types.ErrStorage, op, err)
}
