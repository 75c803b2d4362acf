package campaign

import (
	"context"
	"time"

	"github.com/ignite/provider-outreach/internal/domain"
)

// ListFilter narrows ListCampaigns.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// Store is the record store for jobs, campaigns, candidates, assignments,
// scores and check-ins. Conditional methods report whether they applied.
type Store interface {
	// SaveJob inserts job unless it already exists.
	SaveJob(ctx context.Context, job domain.JobRequest) error
	GetJob(ctx context.Context, id string) (domain.JobRequest, error)

	// CreateCampaign inserts c unless a campaign already exists for its job;
	// the stored campaign is returned either way.
	CreateCampaign(ctx context.Context, c domain.Campaign) (domain.Campaign, bool, error)
	GetCampaign(ctx context.Context, id string) (domain.Campaign, error)
	GetCampaignByJob(ctx context.Context, jobID string) (domain.Campaign, error)
	ListCampaigns(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error)
	// TransitionStatus moves a campaign from → to only while it is in from.
	TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus, at time.Time) (bool, error)
	// AdvanceRadiusStage raises the stage; lower or equal values are ignored.
	AdvanceRadiusStage(ctx context.Context, id string, stage int) (bool, error)
	// ScheduleCheckIn sets the next milestone. at nil stops scheduling.
	ScheduleCheckIn(ctx context.Context, id string, milestone int, at *time.Time, overtime int) error
	// DueCampaigns lists active campaigns whose next check-in is at or before now.
	DueCampaigns(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// SaveCandidate upserts by dedup key and returns the stored record,
	// whose ID may belong to an earlier sighting of the same provider.
	SaveCandidate(ctx context.Context, c domain.Candidate) (domain.Candidate, error)
	// RegisterProvider adds c to the internal registry used by Tier-A.
	RegisterProvider(ctx context.Context, c domain.Candidate) (domain.Candidate, error)
	GetCandidates(ctx context.Context, ids []string) ([]domain.Candidate, error)

	// AssignCandidate inserts a unless (campaign, dedup key) is taken.
	AssignCandidate(ctx context.Context, a domain.Assignment) (bool, error)
	ListAssignments(ctx context.Context, campaignID string) ([]domain.Assignment, error)
	// SaveScore inserts s unless (campaign, candidate) already has a score.
	SaveScore(ctx context.Context, s domain.ScoreRecord) error
	ListScores(ctx context.Context, campaignID string) ([]domain.ScoreRecord, error)

	// ClaimCheckIn inserts ci unless (campaign, milestone) exists.
	ClaimCheckIn(ctx context.Context, ci domain.CheckIn) (bool, error)
	// CompleteCheckIn stores the observation and action of a claimed check-in.
	CompleteCheckIn(ctx context.Context, ci domain.CheckIn) error
	ListCheckIns(ctx context.Context, campaignID string) ([]domain.CheckIn, error)
}
