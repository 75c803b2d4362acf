package matching

import (
	"context"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
)

// RegistryMatcher is the Tier-A strategy.
type RegistryMatcher struct {
	store RegistryStore
}

// NewRegistryMatcher returns a Tier-A matcher over store.
func NewRegistryMatcher(store RegistryStore) *RegistryMatcher {
	return &RegistryMatcher{store: store}
}

func (m *RegistryMatcher) Tier() domain.Tier { return domain.TierA }

// Find returns registry providers in the job's category within area. Store
// failures surface as ErrProviderUnavailable and are not retried here.
func (m *RegistryMatcher) Find(ctx context.Context, job domain.JobRequest, area geo.Ring) ([]domain.Candidate, error) {
	q, ok := areaQuery(job, area)
	if !ok {
		return nil, nil
	}
	q.ExcludeJobID = ""
	cands, err := m.store.SearchRegistry(ctx, q)
	if err != nil {
		return nil, storeError("registry", err)
	}
	return inArea(job, area, domain.TierA, cands), nil
}
