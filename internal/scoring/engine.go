// Package scoring computes match scores for candidates, collapses duplicate
// candidates and produces the deterministic ranking used for assignment.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
)

// Weights are the relative importance of each sub-score. Category must carry
// the largest weight.
type Weights struct {
	Category   float64 `yaml:"category"`
	Distance   float64 `yaml:"distance"`
	Budget     float64 `yaml:"budget"`
	Reputation float64 `yaml:"reputation"`
}

// DefaultWeights favour category fit, then distance, reputation and budget.
var DefaultWeights = Weights{Category: 0.40, Distance: 0.25, Budget: 0.15, Reputation: 0.20}

// Validate checks that weights are non-negative and category dominates.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Category, w.Distance, w.Budget, w.Reputation} {
		if v < 0 {
			return fmt.Errorf("scoring weights must be non-negative")
		}
	}
	if w.Category <= w.Distance || w.Category <= w.Budget || w.Category <= w.Reputation {
		return fmt.Errorf("category weight must be the largest")
	}
	return nil
}

func (w Weights) sum() float64 { return w.Category + w.Distance + w.Budget + w.Reputation }

// Engine scores candidates against a job. It is a pure function of its
// inputs; the same job and candidate always give the same record.
type Engine struct {
	Weights Weights
	// HalfDistance is the distance in miles at which proximity scores 50.
	HalfDistance float64
	// MaxDistance is the distance beyond which proximity scores 0.
	MaxDistance float64
}

// NewEngine returns an engine with defaults for any zero setting.
func NewEngine(w Weights, halfDistance, maxDistance float64) (*Engine, error) {
	if w == (Weights{}) {
		w = DefaultWeights
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if halfDistance <= 0 {
		halfDistance = 10
	}
	if maxDistance <= 0 {
		maxDistance = geo.DefaultStages[len(geo.DefaultStages)-1]
	}
	return &Engine{Weights: w, HalfDistance: halfDistance, MaxDistance: maxDistance}, nil
}

// Score returns the composite score of c for job. CampaignID is left for
// the caller to fill.
func (e *Engine) Score(job domain.JobRequest, c domain.Candidate) domain.ScoreRecord {
	sub := domain.SubScores{
		Category:   round2(categoryScore(job, c)),
		Distance:   round2(e.distanceScore(job.Location, c.Location)),
		Budget:     round2(budgetScore(job.Budget, c.PriceRange)),
		Reputation: round2(reputationScore(c.Reputation)),
	}
	w := e.Weights
	composite := (w.Category*sub.Category + w.Distance*sub.Distance +
		w.Budget*sub.Budget + w.Reputation*sub.Reputation) / w.sum()
	return domain.ScoreRecord{
		CandidateID: c.ID,
		JobID:       job.ID,
		Composite:   round2(composite),
		SubScores:   sub,
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "our": true, "new": true,
	"need": true, "needs": true, "from": true, "into": true, "this": true,
}

func tokens(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(f) < 3 || stopwords[f] {
			continue
		}
		out[strings.TrimSuffix(f, "s")] = true
	}
	return out
}

// categoryScore gives 70 for an exact category match plus up to 30 for the
// share of scope terms covered by the candidate's specialties.
func categoryScore(job domain.JobRequest, c domain.Candidate) float64 {
	score := 0.0
	if c.HasCategory(job.Category) {
		score = 70
	}
	scope := tokens(job.Scope)
	if len(scope) == 0 {
		if len(c.Specialties) > 0 && score > 0 {
			return score + 15
		}
		return score
	}
	have := map[string]bool{}
	for _, s := range c.Specialties {
		for t := range tokens(s) {
			have[t] = true
		}
	}
	hits := 0
	for t := range scope {
		if have[t] {
			hits++
		}
	}
	return score + 30*float64(hits)/float64(len(scope))
}

// distanceScore decays as h/(h+d). Without coordinates, a shared postal code
// counts as zero distance and anything else is neutral.
func (e *Engine) distanceScore(job, cand domain.Location) float64 {
	if job.Coordinates == nil || cand.Coordinates == nil {
		if job.PostalCode != "" && strings.EqualFold(job.PostalCode, cand.PostalCode) {
			return 100
		}
		return 50
	}
	d := geo.DistanceMiles(*job.Coordinates, *cand.Coordinates)
	if d > e.MaxDistance {
		return 0
	}
	return 100 * e.HalfDistance / (e.HalfDistance + d)
}

// budgetScore is the share of the job budget covered by the candidate's
// price range. Missing data on either side is neutral.
func budgetScore(job, price *domain.BudgetRange) float64 {
	if job == nil || price == nil {
		return 50
	}
	if price.Min == price.Max {
		if price.Min >= job.Min && price.Min <= job.Max {
			return 100
		}
		return 0
	}
	if job.Min == job.Max {
		if job.Min >= price.Min && job.Min <= price.Max {
			return 100
		}
		return 0
	}
	overlap := math.Min(job.Max, price.Max) - math.Max(job.Min, price.Min)
	if overlap <= 0 {
		return 0
	}
	return 100 * overlap / (job.Max - job.Min)
}

// reputationScore blends the star rating toward neutral by review-count
// confidence and applies a licence adjustment.
func reputationScore(r domain.Reputation) float64 {
	score := 50.0
	if r.Rating != nil {
		rating := math.Max(0, math.Min(5, *r.Rating))
		conf := 0.5
		if r.ReviewCount != nil {
			conf = math.Min(1, float64(*r.ReviewCount)/20)
		}
		score = 50 + (rating/5*100-50)*conf
	}
	if r.Licensed != nil {
		if *r.Licensed {
			score += 10
		} else {
			score -= 10
		}
	}
	return math.Max(0, math.Min(100, score))
}
