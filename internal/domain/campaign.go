package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignForming       CampaignStatus = "forming"
	CampaignActive        CampaignStatus = "active"
	CampaignQuotaMet      CampaignStatus = "quota_met"
	CampaignClosedStalled CampaignStatus = "closed_stalled"
	CampaignCancelled     CampaignStatus = "cancelled"
)

// campaignTransitions is the full state machine:
// forming → active → {quota_met | closed_stalled | cancelled}.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignForming: {CampaignActive},
	CampaignActive:  {CampaignQuotaMet, CampaignClosedStalled, CampaignCancelled},
}

// CanTransition reports whether from → to is an edge of the campaign state machine.
func CanTransition(from, to CampaignStatus) bool {
	for _, s := range campaignTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is a final state.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignQuotaMet || s == CampaignClosedStalled || s == CampaignCancelled
}

// Valid reports whether s is a known status.
func (s CampaignStatus) Valid() bool {
	return s == CampaignForming || s == CampaignActive || s.IsTerminal()
}

// Campaign matches one JobRequest to a target number of responding candidates.
type Campaign struct {
	ID            string         `json:"id" db:"id"`
	JobID         string         `json:"job_id" db:"job_id"`
	TargetCount   int            `json:"target_count" db:"target_count"`
	RadiusStage   int            `json:"radius_stage" db:"radius_stage"`
	Status        CampaignStatus `json:"status" db:"status"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	QuotaDeadline time.Time      `json:"quota_deadline" db:"quota_deadline"`

	// Scheduling state for the check-in loop.
	NextMilestone int        `json:"next_milestone" db:"next_milestone"`
	NextCheckInAt *time.Time `json:"next_check_in_at,omitempty" db:"next_check_in_at"`
	OvertimeCount int        `json:"overtime_count" db:"overtime_count"`

	ClosedAt  *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// Assignment records that a candidate belongs to a campaign.
// (CampaignID, DedupKey) is unique.
type Assignment struct {
	CampaignID  string    `json:"campaign_id" db:"campaign_id"`
	CandidateID string    `json:"candidate_id" db:"candidate_id"`
	DedupKey    string    `json:"dedup_key" db:"dedup_key"`
	Tier        Tier      `json:"tier" db:"tier"`
	Source      string    `json:"source" db:"source"` // "initial", "radius_expanded", "tier_b_added"
	AssignedAt  time.Time `json:"assigned_at" db:"assigned_at"`
}

// ScoreRecord is the immutable match score of one candidate for one campaign.
type ScoreRecord struct {
	CandidateID string    `json:"candidate_id" db:"candidate_id"`
	JobID       string    `json:"job_id" db:"job_id"`
	CampaignID  string    `json:"campaign_id,omitempty" db:"campaign_id"`
	Composite   float64   `json:"composite" db:"composite"`
	SubScores   SubScores `json:"sub_scores"`
}

// SubScores are the 0-100 components of a composite score.
type SubScores struct {
	Category   float64 `json:"category" db:"category_score"`
	Distance   float64 `json:"distance" db:"distance_score"`
	Budget     float64 `json:"budget" db:"budget_score"`
	Reputation float64 `json:"reputation" db:"reputation_score"`
}
