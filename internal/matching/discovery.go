package matching

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
	"github.com/ignite/provider-outreach/internal/metrics"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
	"github.com/ignite/provider-outreach/internal/scoring"
)

// DefaultSafetyFactor over-provisions discovery against score rejection.
const DefaultSafetyFactor = 1.5

// Discovery applies the tier selection policy: Tier-A and Tier-B always
// run, Tier-C only when they fall short of target × SafetyFactor.
type Discovery struct {
	registry     Matcher
	history      Matcher
	external     Matcher
	SafetyFactor float64
}

// NewDiscovery wires the three tier matchers. external may be nil when live
// discovery is disabled.
func NewDiscovery(registry, history, external Matcher) *Discovery {
	return &Discovery{registry: registry, history: history, external: external, SafetyFactor: DefaultSafetyFactor}
}

// Result is the deduplicated output of one discovery pass, in arrival
// order (Tier-A, then Tier-B, then Tier-C).
type Result struct {
	Candidates []domain.Candidate
	Counts     map[domain.Tier]int
	RanTierC   bool
}

// Threshold is the candidate count below which Tier-C runs.
func (d *Discovery) Threshold(target int) int {
	f := d.SafetyFactor
	if f <= 0 {
		f = DefaultSafetyFactor
	}
	return int(math.Ceil(float64(target) * f))
}

// Run performs an initial discovery pass within area. Tier-A and Tier-B
// failures are fatal and returned as ErrProviderUnavailable.
func (d *Discovery) Run(ctx context.Context, job domain.JobRequest, area geo.Ring) (Result, error) {
	var tierA, tierB []domain.Candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tierA, err = d.registry.Find(gctx, job, area)
		return err
	})
	g.Go(func() error {
		var err error
		tierB, err = d.history.Find(gctx, job, area)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Counts: map[domain.Tier]int{domain.TierA: len(tierA), domain.TierB: len(tierB)}}
	merged := scoring.Dedupe(append(append([]domain.Candidate{}, tierA...), tierB...))

	if len(merged) < d.Threshold(job.TargetCount) && d.external != nil {
		tierC, err := d.external.Find(ctx, job, area)
		if err != nil {
			return Result{}, err
		}
		res.RanTierC = true
		res.Counts[domain.TierC] = len(tierC)
		merged = scoring.Dedupe(append(merged, tierC...))
	}
	res.Candidates = merged

	for tier, n := range res.Counts {
		metrics.DiscoveryCandidates.WithLabelValues(string(tier)).Add(float64(n))
	}
	logger.Info("discovery complete", "job_id", job.ID, "outer_radius", area.Outer,
		"tier_a", res.Counts[domain.TierA], "tier_b", res.Counts[domain.TierB],
		"tier_c", res.Counts[domain.TierC], "unique", len(merged))
	return res, nil
}

// External runs only live discovery, typically on the delta ring after a
// radius expansion.
func (d *Discovery) External(ctx context.Context, job domain.JobRequest, area geo.Ring) ([]domain.Candidate, error) {
	if d.external == nil {
		return nil, nil
	}
	cands, err := d.external.Find(ctx, job, area)
	if err != nil {
		return nil, err
	}
	metrics.DiscoveryCandidates.WithLabelValues(string(domain.TierC)).Add(float64(len(cands)))
	return scoring.Dedupe(cands), nil
}

// History runs only Tier-B within area.
func (d *Discovery) History(ctx context.Context, job domain.JobRequest, area geo.Ring) ([]domain.Candidate, error) {
	cands, err := d.history.Find(ctx, job, area)
	if err != nil {
		return nil, err
	}
	return scoring.Dedupe(cands), nil
}
