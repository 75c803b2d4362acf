package geo

import (
	"fmt"
	"sort"
)

// DefaultStages are the search radii in miles, smallest first.
var DefaultStages = []float64{15, 25, 40, 60, 100}

// Expander walks a fixed, ordered list of radius stages. The stage index
// only ever increases.
type Expander struct {
	stages []float64
	stage  int
}

// NewExpander positions an expander at stage. stages must be strictly
// increasing; nil selects DefaultStages.
func NewExpander(stages []float64, stage int) (*Expander, error) {
	if len(stages) == 0 {
		stages = DefaultStages
	}
	for i := 1; i < len(stages); i++ {
		if stages[i] <= stages[i-1] {
			return nil, fmt.Errorf("radius stages must be strictly increasing")
		}
	}
	if stage < 0 || stage >= len(stages) {
		return nil, fmt.Errorf("radius stage %d out of range [0,%d)", stage, len(stages))
	}
	return &Expander{stages: stages, stage: stage}, nil
}

// StageForHint returns the first stage whose radius is at least hint, or the
// last stage when hint exceeds every radius.
func StageForHint(stages []float64, hint float64) int {
	if len(stages) == 0 {
		stages = DefaultStages
	}
	i := sort.SearchFloat64s(stages, hint)
	if i >= len(stages) {
		return len(stages) - 1
	}
	return i
}

// Stage returns the current stage index.
func (e *Expander) Stage() int { return e.stage }

// Radius returns the current radius in miles.
func (e *Expander) Radius() float64 { return e.stages[e.stage] }

// Exhausted reports whether the expander sits on the largest stage.
func (e *Expander) Exhausted() bool { return e.stage == len(e.stages)-1 }

// Expand moves to the next stage and returns the new radius. At the largest
// stage it changes nothing and returns exhausted=true.
func (e *Expander) Expand() (radius float64, exhausted bool) {
	if e.Exhausted() {
		return e.Radius(), true
	}
	e.stage++
	return e.Radius(), false
}

// Ring returns the band added by the most recent expansion, or the full
// disc at stage 0.
func (e *Expander) Ring() Ring {
	if e.stage == 0 {
		return Disc(e.stages[0])
	}
	return Ring{Inner: e.stages[e.stage-1], Outer: e.stages[e.stage]}
}
