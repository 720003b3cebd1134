package audit

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// DefaultSearchLimit is the page size used when a query sets none
const DefaultSearchLimit = 100

// SearchAuditEvents filters events, sorts them newest first and returns one page
func (s *Service) SearchAuditEvents(ctx context.Context, q types.AuditQuery) (*types.SearchResult, error) {
	matched, err := s.match(ctx, q)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	result := &types.SearchResult{
		Events: []*types.AuditEvent{},
		Total:  len(matched),
		Offset: offset,
		Limit:  limit,
	}
	if offset < len(matched) {
		end := min(offset+limit, len(matched))
		for _, e := range matched[offset:end] {
			result.Events = append(result.Events, cloneEvent(e))
		}
	}
	result.HasMore = offset+len(result.Events) < result.Total
	return result, nil
}

// match returns every event satisfying q, newest first
func (s *Service) match(ctx context.Context, q types.AuditQuery) ([]*types.AuditEvent, error) {
	all, err := s.events(ctx)
	if err != nil {
		return nil, err
	}

	text := strings.ToLower(strings.TrimSpace(q.Text))
	matched := make([]*types.AuditEvent, 0, len(all))
	for _, e := range all {
		if matches(e, q, text) {
			matched = append(matched, e)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].SequenceNumber > matched[j].SequenceNumber
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return matched, nil
}

func matches(e *types.AuditEvent, q types.AuditQuery, text string) bool {
	if len(q.Categories) > 0 && !slices.Contains(q.Categories, e.Category) {
		return false
	}
	if q.ActorID != "" && e.Actor.ID != q.ActorID {
		return false
	}
	if q.ActorType != "" && e.Actor.Type != q.ActorType {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.StartTime != nil && e.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && e.Timestamp.After(*q.EndTime) {
		return false
	}
	if len(q.Results) > 0 && !slices.Contains(q.Results, e.Result) {
		return false
	}
	if len(q.RiskLevels) > 0 && !slices.Contains(q.RiskLevels, e.Risk) {
		return false
	}
	if text != "" && !strings.Contains(searchText(e), text) {
		return false
	}
	return true
}

// searchText is the lower-cased text free-text queries match against
func searchText(e *types.AuditEvent) string {
	parts := []string{
		e.Action,
		string(e.Category),
		e.Actor.ID,
		e.Context.Description,
		e.Context.Source,
	}
	if e.Target != nil {
		parts = append(parts, e.Target.Type, e.Target.ID)
	}
	return strings.ToLower(strings.Join(parts, " "))
}
