package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// GenesisHash is the previous hash of the first event in a chain
var GenesisHash = strings.Repeat("0", sha256.Size*2)

// canonicalJSON produces deterministic JSON: object keys sorted, no
// whitespace, numbers kept verbatim
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	var generic any
	if err := decodeJSON(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical unmarshal: %w", err)
	}

	// encoding/json writes map keys in sorted order
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	return out, nil
}

// decodeJSON decodes raw keeping numbers as json.Number, the same form
// canonicalJSON hashes
func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// normalizeMap returns a private copy of m holding only JSON values, with
// numbers as json.Number. Events carry their maps in this form from creation
// on so a stored and reloaded event hashes the same as when it was logged.
func normalizeMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := decodeJSON(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// copyJSON deep-copies a value made of JSON maps and slices
func copyJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyJSON(e)
		}
		return out
	default:
		return v
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyJSON(v)
	}
	return out
}

// normalizeDetails replaces the caller's maps with normalized copies
func normalizeDetails(d *types.EventDetails) error {
	var err error
	if d.Target != nil {
		t := *d.Target
		if t.Before, err = normalizeMap(t.Before); err != nil {
			return fmt.Errorf("target before: %w", err)
		}
		if t.After, err = normalizeMap(t.After); err != nil {
			return fmt.Errorf("target after: %w", err)
		}
		d.Target = &t
	}
	if d.Context.Metadata, err = normalizeMap(d.Context.Metadata); err != nil {
		return fmt.Errorf("context metadata: %w", err)
	}
	return nil
}

// computeHash returns the hex SHA-256 of the event's canonical form without
// its own hash. The previous hash is part of the hashed content.
func computeHash(e *types.AuditEvent) (string, error) {
	c := *e
	c.Integrity.Hash = ""
	raw, err := canonicalJSON(&c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyIntegrity recomputes the hash chain over a sequence range and reports
// every discontinuity found. A nil range covers the whole chain.
func (s *Service) VerifyIntegrity(ctx context.Context, r *types.SequenceRange) (*types.IntegrityReport, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	from, to := int64(1), int64(0)
	if r != nil {
		if r.From > 1 {
			from = r.From
		}
		to = r.To
		if to > 0 && to < from {
			return nil, fmt.Errorf("%w: invalid sequence range %d..%d", types.ErrValidation, r.From, r.To)
		}
	}
	if to < 1 {
		s.mu.Lock()
		to = s.lastSequence
		s.mu.Unlock()
	}

	report := &types.IntegrityReport{
		Valid:         true,
		FirstSequence: from,
		LastSequence:  to,
		Errors:        []types.IntegrityError{},
		VerifiedAt:    s.now().UTC(),
	}
	if to < from {
		return report, nil
	}

	seqs, err := s.persistedSequences(ctx)
	if err != nil {
		return nil, err
	}

	// The link into the range is checked against the event just before it
	prevSeq := from - 1
	prevHash := GenesisHash
	if from > 1 {
		prevHash = ""
		if prev, err := s.loadEvent(ctx, from-1); err == nil {
			prevHash = prev.Integrity.Hash
		}
	}

	addError := func(ie types.IntegrityError) {
		report.Valid = false
		report.Errors = append(report.Errors, ie)
	}

	for _, seq := range seqs {
		if seq < from || seq > to {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if seq != prevSeq+1 {
			addError(types.IntegrityError{
				SequenceNumber: seq,
				Kind:           types.IntegritySequenceGap,
				Expected:       fmt.Sprintf("%d", prevSeq+1),
				Actual:         fmt.Sprintf("%d", seq),
			})
			prevHash = ""
		}

		e, err := s.loadEvent(ctx, seq)
		if err != nil {
			if errors.Is(err, types.ErrStorage) {
				return nil, err
			}
			addError(types.IntegrityError{
				SequenceNumber: seq,
				Kind:           types.IntegrityUnreadable,
				Actual:         err.Error(),
			})
			prevSeq = seq
			prevHash = ""
			continue
		}
		report.CheckedEvents++

		if e.SequenceNumber != seq {
			addError(types.IntegrityError{
				SequenceNumber: seq,
				EventID:        e.ID,
				Kind:           types.IntegritySequenceGap,
				Expected:       fmt.Sprintf("%d", seq),
				Actual:         fmt.Sprintf("%d", e.SequenceNumber),
			})
		}

		hash, err := computeHash(e)
		if err != nil {
			return nil, err
		}
		if hash != e.Integrity.Hash {
			addError(types.IntegrityError{
				SequenceNumber: seq,
				EventID:        e.ID,
				Kind:           types.IntegrityHashMismatch,
				Expected:       hash,
				Actual:         e.Integrity.Hash,
			})
		}

		// An unknown predecessor cannot be linked against
		if prevHash != "" && e.Integrity.PreviousHash != prevHash {
			addError(types.IntegrityError{
				SequenceNumber: seq,
				EventID:        e.ID,
				Kind:           types.IntegrityChainBreak,
				Expected:       prevHash,
				Actual:         e.Integrity.PreviousHash,
			})
		}

		prevSeq = seq
		prevHash = e.Integrity.Hash
	}

	if prevSeq < to {
		addError(types.IntegrityError{
			SequenceNumber: prevSeq + 1,
			Kind:           types.IntegritySequenceGap,
			Expected:       fmt.Sprintf("%d", prevSeq+1),
			Actual:         "missing",
		})
	}

	logEvent := s.logger.Info()
	if !report.Valid {
		logEvent = s.logger.Warn()
	}
	logEvent.
		Int64("from", from).
		Int64("to", to).
		Int("checked", report.CheckedEvents).
		Int("errors", len(report.Errors)).
		Msg("Audit chain verified")

	return report, nil
}
