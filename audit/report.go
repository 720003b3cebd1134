package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// RecentActivityLimit caps the timeline in an activity summary
const RecentActivityLimit = 10

// GenerateAuditReport aggregates the events matching q. The generation is
// itself recorded as a compliance event.
func (s *Service) GenerateAuditReport(ctx context.Context, q types.AuditQuery, purpose, requestedBy string) (*types.AuditReport, error) {
	if requestedBy == "" {
		return nil, fmt.Errorf("%w: requestedBy is required", types.ErrValidation)
	}

	matched, err := s.match(ctx, q)
	if err != nil {
		return nil, err
	}

	report := &types.AuditReport{
		ID:          uuid.NewString(),
		GeneratedAt: s.now().UTC(),
		GeneratedBy: requestedBy,
		Purpose:     purpose,
		Query:       q,
		TotalEvents: len(matched),
		ByCategory:  make(map[types.AuditCategory]int),
		ByResult:    make(map[types.AuditResult]int),
		Violations:  []types.ComplianceViolation{},
	}

	actors := make(map[string]struct{})
	for _, e := range matched {
		report.ByCategory[e.Category]++
		report.ByResult[e.Result]++
		actors[e.Actor.Type+":"+e.Actor.ID] = struct{}{}

		if report.TimeRange == nil {
			report.TimeRange = &types.TimeRange{Start: e.Timestamp, End: e.Timestamp}
		} else {
			if e.Timestamp.Before(report.TimeRange.Start) {
				report.TimeRange.Start = e.Timestamp
			}
			if e.Timestamp.After(report.TimeRange.End) {
				report.TimeRange.End = e.Timestamp
			}
		}

		if e.Risk == types.RiskCritical && e.Result.IsFailure() {
			report.Violations = append(report.Violations, types.ComplianceViolation{
				EventID:        e.ID,
				SequenceNumber: e.SequenceNumber,
				Category:       e.Category,
				Action:         e.Action,
				Timestamp:      e.Timestamp,
				Description:    fmt.Sprintf("critical %s %s: %s", e.Category, e.Result, e.Action),
			})
		}
	}
	report.UniqueActors = len(actors)
	report.CriticalFailures = len(report.Violations)

	if _, err := s.LogAuditEvent(ctx, types.CategoryCompliance, "audit_report_generated", types.EventDetails{
		Result: types.ResultSuccess,
		Actor:  types.Actor{Type: "user", ID: requestedBy},
		Target: &types.Target{Type: "audit_report", ID: report.ID},
		Context: types.EventContext{
			Source:      Namespace,
			Description: purpose,
			Metadata: map[string]any{
				"totalEvents":      report.TotalEvents,
				"criticalFailures": report.CriticalFailures,
			},
		},
	}); err != nil {
		s.logger.Warn().Err(err).Str("report_id", report.ID).Msg("Failed to record report generation")
	}

	return report, nil
}

// GetUserActivitySummary rolls up the events of one actor within [start, end]
func (s *Service) GetUserActivitySummary(ctx context.Context, userID string, start, end time.Time) (*types.ActivitySummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", types.ErrValidation)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end before start", types.ErrValidation)
	}

	matched, err := s.match(ctx, types.AuditQuery{
		ActorID:   userID,
		StartTime: &start,
		EndTime:   &end,
	})
	if err != nil {
		return nil, err
	}

	summary := &types.ActivitySummary{
		UserID:         userID,
		Start:          start,
		End:            end,
		TotalActions:   len(matched),
		ByCategory:     make(map[types.AuditCategory]int),
		RecentActivity: []types.ActivityItem{},
	}

	failures := 0
	for i, e := range matched {
		summary.ByCategory[e.Category]++
		if e.Result.IsFailure() {
			failures++
		}
		if e.Risk.IsHigh() {
			summary.HighRiskEvents++
		}
		// matched is newest first
		if i < RecentActivityLimit {
			summary.RecentActivity = append(summary.RecentActivity, types.ActivityItem{
				Timestamp: e.Timestamp,
				Category:  e.Category,
				Action:    e.Action,
				Result:    e.Result,
				Risk:      e.Risk,
			})
		}
	}
	if summary.TotalActions > 0 {
		summary.FailureRate = float64(failures) / float64(summary.TotalActions)
	}
	return summary, nil
}
