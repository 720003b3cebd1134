package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{
	"timestamp", "category", "action", "result",
	"actor_type", "actor_id", "target_type", "target_id",
	"risk_level", "contains_pii", "regulations",
}

// ExportAuditTrail serializes every event matching q, newest first. The
// limit and offset of q are ignored.
func (s *Service) ExportAuditTrail(ctx context.Context, format string, q types.AuditQuery, anonymize bool) ([]byte, error) {
	format = strings.ToLower(format)
	if format != FormatJSON && format != FormatCSV {
		return nil, fmt.Errorf("%w: unsupported export format %q", types.ErrValidation, format)
	}

	matched, err := s.match(ctx, q)
	if err != nil {
		return nil, err
	}

	events := make([]*types.AuditEvent, len(matched))
	for i, e := range matched {
		events[i] = cloneEvent(e)
		if anonymize {
			s.anonymizeEvent(events[i])
		}
	}

	var out []byte
	if format == FormatJSON {
		out, err = json.MarshalIndent(events, "", "  ")
	} else {
		out, err = encodeCSV(events)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s export: %v", types.ErrValidation, format, err)
	}

	s.logger.Info().
		Str("format", format).
		Int("events", len(events)).
		Bool("anonymized", anonymize).
		Msg("Audit trail exported")
	return out, nil
}

func encodeCSV(events []*types.AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range events {
		var targetType, targetID string
		if e.Target != nil {
			targetType, targetID = e.Target.Type, e.Target.ID
		}
		row := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			string(e.Category),
			e.Action,
			string(e.Result),
			e.Actor.Type,
			e.Actor.ID,
			targetType,
			targetID,
			string(e.Risk),
			strconv.FormatBool(e.Compliance.ContainsPII),
			strings.Join(e.Compliance.Regulations, ";"),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// anonymizeEvent rewrites an exported copy; the chained original is untouched
func (s *Service) anonymizeEvent(e *types.AuditEvent) {
	if e.Actor.ID != "" {
		e.Actor.ID = s.anonymizer.AnonymizeValue(e.Actor.ID)
	}
	e.Actor.IPAddress = truncateIP(e.Actor.IPAddress)
	e.Actor.SessionID = ""
	if e.Target != nil {
		if e.Target.Before != nil {
			e.Target.Before = s.anonymizer.Anonymize(e.Target.Before)
		}
		if e.Target.After != nil {
			e.Target.After = s.anonymizer.Anonymize(e.Target.After)
		}
	}
}

// truncateIP zeroes the last octet of an IPv4 address and keeps the first
// three groups of an IPv6 address. Unparseable input is dropped.
func truncateIP(ip string) string {
	if ip == "" {
		return ""
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ""
	}
	addr = addr.WithZone("")
	if addr.Is4() || addr.Is4In6() {
		b := addr.Unmap().As4()
		b[3] = 0
		return netip.AddrFrom4(b).String()
	}
	b := addr.As16()
	for i := 6; i < len(b); i++ {
		b[i] = 0
	}
	return netip.AddrFrom16(b).String()
}
