package campaign

import (
	"context"
	"fmt"

	"github.com/ignite/provider-outreach/internal/domain"
)

// AssignedCandidate is one candidate of a campaign with its campaign-level
// tier, score and attempts.
type AssignedCandidate struct {
	Candidate domain.Candidate         `json:"candidate"`
	Tier      domain.Tier              `json:"tier"`
	Source    string                   `json:"source"`
	Score     *domain.ScoreRecord      `json:"score,omitempty"`
	Attempts  []domain.OutreachAttempt `json:"attempts"`
	Responded bool                     `json:"responded"`
}

// Counts summarizes a campaign's progress.
type Counts struct {
	Target    int                          `json:"target"`
	Assigned  int                          `json:"assigned"`
	Responded int                          `json:"responded"`
	ByTier    map[domain.Tier]int          `json:"by_tier"`
	Attempts  map[domain.AttemptStatus]int `json:"attempts"`
}

// StatusView is the read model returned by Get.
type StatusView struct {
	Campaign    domain.Campaign     `json:"campaign"`
	Job         domain.JobRequest   `json:"job"`
	RadiusMiles float64             `json:"radius_miles"`
	Candidates  []AssignedCandidate `json:"candidates"`
	CheckIns    []domain.CheckIn    `json:"check_ins"`
	Counts      Counts              `json:"counts"`
}

// Get assembles the status view of a campaign.
func (s *Service) Get(ctx context.Context, campaignID string) (StatusView, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return StatusView{}, err
	}
	job, err := s.store.GetJob(ctx, c.JobID)
	if err != nil {
		return StatusView{}, fmt.Errorf("job of campaign %s: %w", c.ID, err)
	}
	assignments, err := s.store.ListAssignments(ctx, c.ID)
	if err != nil {
		return StatusView{}, err
	}
	scores, err := s.store.ListScores(ctx, c.ID)
	if err != nil {
		return StatusView{}, err
	}
	attempts, err := s.tracker.List(ctx, c.ID)
	if err != nil {
		return StatusView{}, err
	}
	checkIns, err := s.store.ListCheckIns(ctx, c.ID)
	if err != nil {
		return StatusView{}, err
	}

	ids := make([]string, len(assignments))
	for i, a := range assignments {
		ids[i] = a.CandidateID
	}
	cands, err := s.store.GetCandidates(ctx, ids)
	if err != nil {
		return StatusView{}, err
	}
	byID := make(map[string]domain.Candidate, len(cands))
	for _, cd := range cands {
		byID[cd.ID] = cd
	}
	scoreOf := make(map[string]domain.ScoreRecord, len(scores))
	for _, r := range scores {
		scoreOf[r.CandidateID] = r
	}
	attemptsOf := map[string][]domain.OutreachAttempt{}
	counts := Counts{
		Target:   c.TargetCount,
		Assigned: len(assignments),
		ByTier:   map[domain.Tier]int{},
		Attempts: map[domain.AttemptStatus]int{},
	}
	for _, a := range attempts {
		attemptsOf[a.CandidateID] = append(attemptsOf[a.CandidateID], a)
		counts.Attempts[a.Status]++
	}

	view := StatusView{Campaign: c, Job: job, CheckIns: checkIns}
	if exp, err := newExpander(s.policy, c.RadiusStage); err == nil {
		view.RadiusMiles = exp.Radius()
	}
	for _, a := range assignments {
		ac := AssignedCandidate{
			Candidate: byID[a.CandidateID],
			Tier:      a.Tier,
			Source:    a.Source,
			Attempts:  attemptsOf[a.CandidateID],
		}
		ac.Candidate.Tier = a.Tier
		if r, ok := scoreOf[a.CandidateID]; ok {
			ac.Score = &r
		}
		for _, at := range ac.Attempts {
			if at.Status == domain.AttemptResponded {
				ac.Responded = true
			}
		}
		if ac.Responded {
			counts.Responded++
		}
		counts.ByTier[a.Tier]++
		view.Candidates = append(view.Candidates, ac)
	}
	view.Counts = counts
	return view, nil
}
