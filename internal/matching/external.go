package matching

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
	"github.com/ignite/provider-outreach/internal/metrics"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

// SearchQuery is what a live discovery provider is asked for.
type SearchQuery struct {
	Category   string
	Scope      string
	Center     *domain.Point
	PostalCode string
	Area       geo.Ring
}

// SearchProvider performs live external discovery. Results are streamed
// page by page through emit so a deadline keeps whatever already arrived.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, q SearchQuery, emit func(page []domain.Candidate)) error
}

// Enricher adds attributes to a discovered candidate. Implementations
// return the candidate unchanged together with an error when they cannot.
type Enricher interface {
	Enrich(ctx context.Context, c domain.Candidate) (domain.Candidate, error)
}

// ExternalOptions tune the Tier-C matcher.
type ExternalOptions struct {
	// Timeout bounds the whole Find call including enrichment.
	Timeout time.Duration
	// EnrichConcurrency caps concurrent enrichment calls.
	EnrichConcurrency int
}

// ExternalMatcher is the Tier-C strategy. It is best effort: timeouts and
// provider failures yield partial or empty results, never an error.
type ExternalMatcher struct {
	provider  SearchProvider
	enrichers []Enricher
	opts      ExternalOptions
	log       *logger.Logger
}

// NewExternalMatcher returns a Tier-C matcher. Enrichers run in order on
// every discovered candidate.
func NewExternalMatcher(provider SearchProvider, opts ExternalOptions, enrichers ...Enricher) *ExternalMatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.EnrichConcurrency <= 0 {
		opts.EnrichConcurrency = 8
	}
	return &ExternalMatcher{provider: provider, enrichers: enrichers, opts: opts, log: logger.Named("tier-c")}
}

func (m *ExternalMatcher) Tier() domain.Tier { return domain.TierC }

// Find searches the provider within area, then enriches what arrived. Only
// cancellation of the parent context is returned as an error.
func (m *ExternalMatcher) Find(ctx context.Context, job domain.JobRequest, area geo.Ring) ([]domain.Candidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found []domain.Candidate
	)
	q := SearchQuery{
		Category:   job.Category,
		Scope:      job.Scope,
		Center:     job.Location.Coordinates,
		PostalCode: job.Location.PostalCode,
		Area:       area,
	}
	err := m.provider.Search(callCtx, q, func(page []domain.Candidate) {
		mu.Lock()
		found = append(found, page...)
		mu.Unlock()
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	mu.Lock()
	cands := inArea(job, area, domain.TierC, found)
	mu.Unlock()

	switch {
	case err == nil:
	case callCtx.Err() != nil || errors.Is(err, domain.ErrProviderTimeout) || errors.Is(err, context.DeadlineExceeded):
		metrics.TierCTimeouts.Inc()
		m.log.Warn("live discovery timed out, keeping partial results",
			"provider", m.provider.Name(), "job_id", job.ID, "kept", len(cands))
	default:
		m.log.Warn("live discovery failed, keeping partial results",
			"provider", m.provider.Name(), "job_id", job.ID, "kept", len(cands), "error", err)
	}

	for i := range cands {
		if cands[i].ID == "" {
			cands[i].ID = uuid.New().String()
		}
		if len(cands[i].Categories) == 0 {
			cands[i].Categories = []string{job.Category}
		}
	}
	m.enrich(callCtx, cands)
	return cands, nil
}

// enrich runs every enricher on every candidate under the call deadline.
// Failures leave the candidate as it was.
func (m *ExternalMatcher) enrich(ctx context.Context, cands []domain.Candidate) {
	if len(m.enrichers) == 0 || ctx.Err() != nil {
		return
	}
	var g errgroup.Group
	g.SetLimit(m.opts.EnrichConcurrency)
	for i := range cands {
		g.Go(func() error {
			c := cands[i]
			for _, e := range m.enrichers {
				if ctx.Err() != nil {
					break
				}
				next, err := e.Enrich(ctx, c)
				if err != nil {
					m.log.Debug("enrichment skipped", "candidate_id", c.ID, "error", err)
					continue
				}
				// Provenance and identity are fixed by discovery.
				next.ID, next.Tier, next.ExternalRef = c.ID, c.Tier, c.ExternalRef
				c = next
			}
			cands[i] = c
			return nil
		})
	}
	_ = g.Wait()
}
