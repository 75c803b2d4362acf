package scoring

import (
	"sort"

	"github.com/ignite/provider-outreach/internal/domain"
)

// Scored pairs a candidate with its score. Arrival is the candidate's
// position in discovery output and is the final tie-breaker.
type Scored struct {
	Candidate domain.Candidate
	Score     domain.ScoreRecord
	Arrival   int
}

// ScoreAll scores every candidate, keeping input order as arrival order.
func (e *Engine) ScoreAll(job domain.JobRequest, cands []domain.Candidate) []Scored {
	out := make([]Scored, len(cands))
	for i, c := range cands {
		out[i] = Scored{Candidate: c, Score: e.Score(job, c), Arrival: i}
	}
	return out
}

// Rank sorts by composite descending, then tier, reputation and arrival.
// The input is not modified.
func Rank(in []Scored) []Scored {
	out := append([]Scored(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score.Composite != b.Score.Composite {
			return a.Score.Composite > b.Score.Composite
		}
		if a.Candidate.Tier.Rank() != b.Candidate.Tier.Rank() {
			return a.Candidate.Tier.Rank() < b.Candidate.Tier.Rank()
		}
		if a.Score.SubScores.Reputation != b.Score.SubScores.Reputation {
			return a.Score.SubScores.Reputation > b.Score.SubScores.Reputation
		}
		return a.Arrival < b.Arrival
	})
	return out
}

// Eligible keeps candidates whose composite is at least min.
func Eligible(in []Scored, min float64) []Scored {
	out := make([]Scored, 0, len(in))
	for _, s := range in {
		if s.Score.Composite >= min {
			out = append(out, s)
		}
	}
	return out
}
