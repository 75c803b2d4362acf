// Package matching finds candidate providers for a job across three
// provenance tiers: the internal registry, prior-contact history and live
// external discovery.
package matching

import (
	"context"
	"errors"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
)

// Matcher produces candidates of a single tier for a job within a ring.
type Matcher interface {
	Tier() domain.Tier
	Find(ctx context.Context, job domain.JobRequest, area geo.Ring) ([]domain.Candidate, error)
}

// AreaQuery narrows a store lookup. Box is set when the job has
// coordinates; otherwise PostalCode is used.
type AreaQuery struct {
	Category     string
	Box          *geo.BBox
	PostalCode   string
	ExcludeJobID string
}

// RegistryStore is the internal provider registry (Tier-A source).
type RegistryStore interface {
	SearchRegistry(ctx context.Context, q AreaQuery) ([]domain.Candidate, error)
}

// HistoryStore returns candidates assigned in earlier campaigns for the
// same category that never responded (Tier-B source).
type HistoryStore interface {
	SearchHistory(ctx context.Context, q AreaQuery) ([]domain.Candidate, error)
}

func areaQuery(job domain.JobRequest, area geo.Ring) (AreaQuery, bool) {
	q := AreaQuery{Category: job.Category, ExcludeJobID: job.ID}
	if c := job.Location.Coordinates; c != nil {
		box := geo.BoundingBox(*c, area.Outer)
		q.Box = &box
		return q, true
	}
	// A postal code cannot express a ring beyond the initial disc.
	if area.Inner > 0 || job.Location.PostalCode == "" {
		return q, false
	}
	q.PostalCode = job.Location.PostalCode
	return q, true
}

// inArea keeps candidates inside the ring and stamps their tier.
func inArea(job domain.JobRequest, area geo.Ring, tier domain.Tier, cands []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(cands))
	for _, c := range cands {
		if !geo.InRing(job.Location.Coordinates, c.Location.Coordinates, area) {
			continue
		}
		c.Tier = tier
		out = append(out, c)
	}
	return out
}

func storeError(source string, err error) error {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return domain.Unavailable(source, err)
}
