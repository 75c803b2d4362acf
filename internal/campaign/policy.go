package campaign

import (
	"fmt"
	"time"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
)

// Milestone is a check-in point: At is the fraction of the quota window
// elapsed, Expected the cumulative share of the target that should have
// responded by then.
type Milestone struct {
	At       float64 `yaml:"at" json:"at"`
	Expected float64 `yaml:"expected" json:"expected"`
}

// Policy holds every tunable of the campaign lifecycle.
type Policy struct {
	Milestones []Milestone
	// Windows maps urgency to the quota deadline measured from creation.
	Windows map[domain.Urgency]time.Duration
	// MinScore is the composite score a candidate needs to be assigned.
	MinScore float64
	// TierShares split the initial target across tiers.
	TierShares map[domain.Tier]float64
	// InitialChannels are used on first contact; the others are secondary.
	InitialChannels []domain.Channel
	RadiusStages    []float64
	ResendCooldown  time.Duration
	MaxResends      int
	// MaxOvertime check-ins run after the last milestone, OvertimeInterval apart.
	MaxOvertime      int
	OvertimeInterval time.Duration
	// AsyncDispatch sends initial attempts in the background.
	AsyncDispatch bool
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		Milestones: []Milestone{
			{At: 0.25, Expected: 0.20},
			{At: 0.50, Expected: 0.40},
			{At: 0.75, Expected: 0.70},
			{At: 1.00, Expected: 1.00},
		},
		Windows: map[domain.Urgency]time.Duration{
			domain.UrgencyEmergency: 4 * time.Hour,
			domain.UrgencyUrgent:    24 * time.Hour,
			domain.UrgencyStandard:  72 * time.Hour,
			domain.UrgencyFlexible:  168 * time.Hour,
		},
		MinScore:         40,
		TierShares:       map[domain.Tier]float64{domain.TierA: 0.5, domain.TierB: 0.3, domain.TierC: 0.2},
		InitialChannels:  []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
		RadiusStages:     geo.DefaultStages,
		ResendCooldown:   4 * time.Hour,
		MaxResends:       2,
		MaxOvertime:      2,
		OvertimeInterval: 12 * time.Hour,
	}
}

// Validate checks milestone ordering and share bounds.
func (p Policy) Validate() error {
	if len(p.Milestones) == 0 {
		return fmt.Errorf("at least one milestone is required")
	}
	prev := Milestone{}
	for i, m := range p.Milestones {
		if m.At <= prev.At || m.At > 1 {
			return fmt.Errorf("milestone %d: at must increase within (0,1]", i)
		}
		if m.Expected < prev.Expected || m.Expected > 1 {
			return fmt.Errorf("milestone %d: expected must not decrease and stay within [0,1]", i)
		}
		prev = m
	}
	total := 0.0
	for _, s := range p.TierShares {
		if s < 0 {
			return fmt.Errorf("tier shares must be non-negative")
		}
		total += s
	}
	if total > 1.0001 {
		return fmt.Errorf("tier shares sum to %.2f, want <= 1", total)
	}
	if p.ResendCooldown < 0 || p.MaxResends < 0 || p.MaxOvertime < 0 {
		return fmt.Errorf("resend and overtime settings must be non-negative")
	}
	if _, err := geo.NewExpander(p.RadiusStages, 0); err != nil {
		return err
	}
	return nil
}

// Window returns the quota window for urgency u.
func (p Policy) Window(u domain.Urgency) time.Duration {
	if w, ok := p.Windows[u]; ok && w > 0 {
		return w
	}
	return 72 * time.Hour
}

// MilestoneTime is when milestone i of a campaign created at created with
// window w falls due.
func (p Policy) MilestoneTime(created time.Time, w time.Duration, i int) time.Time {
	return created.Add(time.Duration(float64(w) * p.Milestones[i].At))
}

// Expected returns the expected response share at milestone index i.
// Indices past the last milestone are overtime check-ins and expect 100%.
func (p Policy) Expected(i int) float64 {
	if i < len(p.Milestones) {
		return p.Milestones[i].Expected
	}
	return 1
}

func (p Policy) isInitial(ch domain.Channel) bool {
	for _, c := range p.InitialChannels {
		if c == ch {
			return true
		}
	}
	return false
}
