package campaign

import (
	"math"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/scoring"
)

// Allocate picks up to n candidates from ranked (best first). Each tier
// first receives floor(share × n) slots, with the rounding remainder given
// to tiers in preference order. Slots a tier cannot fill spill to the next
// tier, and whatever is still open is filled by rank. The result keeps
// ranked order.
func Allocate(ranked []scoring.Scored, n int, shares map[domain.Tier]float64) []scoring.Scored {
	if n <= 0 || len(ranked) == 0 {
		return nil
	}
	if n >= len(ranked) {
		return append([]scoring.Scored(nil), ranked...)
	}

	slots := map[domain.Tier]int{}
	given := 0
	for _, t := range domain.Tiers {
		slots[t] = int(math.Floor(shares[t] * float64(n)))
		given += slots[t]
	}
	for _, t := range domain.Tiers {
		if given >= n {
			break
		}
		if shares[t] > 0 {
			slots[t]++
			given++
		}
	}

	byTier := map[domain.Tier][]int{}
	for i, s := range ranked {
		byTier[s.Candidate.Tier] = append(byTier[s.Candidate.Tier], i)
	}

	picked := make([]bool, len(ranked))
	count := 0
	spill := 0
	for _, t := range domain.Tiers {
		want := slots[t] + spill
		idx := byTier[t]
		take := want
		if take > len(idx) {
			take = len(idx)
		}
		for _, i := range idx[:take] {
			picked[i] = true
		}
		count += take
		spill = want - take
	}
	for i := range ranked {
		if count >= n {
			break
		}
		if !picked[i] {
			picked[i] = true
			count++
		}
	}

	out := make([]scoring.Scored, 0, n)
	for i, s := range ranked {
		if picked[i] {
			out = append(out, s)
		}
	}
	return out
}
