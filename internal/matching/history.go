package matching

import (
	"context"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
)

// HistoryMatcher is the Tier-B strategy: re-engage providers contacted for
// other jobs in the same category who never answered.
type HistoryMatcher struct {
	store HistoryStore
}

// NewHistoryMatcher returns a Tier-B matcher over store.
func NewHistoryMatcher(store HistoryStore) *HistoryMatcher {
	return &HistoryMatcher{store: store}
}

func (m *HistoryMatcher) Tier() domain.Tier { return domain.TierB }

// Find returns prior non-responders within area, excluding the current job.
func (m *HistoryMatcher) Find(ctx context.Context, job domain.JobRequest, area geo.Ring) ([]domain.Candidate, error) {
	q, ok := areaQuery(job, area)
	if !ok {
		return nil, nil
	}
	cands, err := m.store.SearchHistory(ctx, q)
	if err != nil {
		return nil, storeError("history", err)
	}
	return inArea(job, area, domain.TierB, cands), nil
}
