package domain

import "time"

// EscalationAction is the corrective step a check-in took.
type EscalationAction string

const (
	ActionRadiusExpanded EscalationAction = "radius_expanded"
	ActionTierBAdded     EscalationAction = "tier_b_added"
	ActionResend         EscalationAction = "resend"
	ActionExhausted      EscalationAction = "exhausted"
)

// CheckIn is one append-only audit record of a milestone evaluation.
// (CampaignID, Milestone) is unique and doubles as the escalation guard.
type CheckIn struct {
	CampaignID        string            `json:"campaign_id" db:"campaign_id"`
	Milestone         int               `json:"milestone" db:"milestone"`
	ScheduledAt       time.Time         `json:"scheduled_at" db:"scheduled_at"`
	ExpectedPct       float64           `json:"expected_pct" db:"expected_pct"`
	ObservedResponses int               `json:"observed_responses" db:"observed_responses"`
	ObservedPct       float64           `json:"observed_pct" db:"observed_pct"`
	Action            *EscalationAction `json:"action" db:"action"`
	ActionDetail      string            `json:"action_detail,omitempty" db:"action_detail"`
	EvaluatedAt       *time.Time        `json:"evaluated_at,omitempty" db:"evaluated_at"`
}
