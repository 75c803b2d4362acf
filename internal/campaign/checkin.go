package campaign

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
	"github.com/ignite/provider-outreach/internal/metrics"
	"github.com/ignite/provider-outreach/internal/outreach"
)

const pctEpsilon = 1e-9

func newExpander(p Policy, stage int) (*geo.Expander, error) {
	return geo.NewExpander(p.RadiusStages, stage)
}

// EvaluateCheckIn runs the campaign's due milestone. It returns nil when
// nothing was due, or when the milestone had already been evaluated; a
// milestone is escalated at most once however often it is evaluated.
func (s *Service) EvaluateCheckIn(ctx context.Context, campaignID string) (*domain.CheckIn, error) {
	unlock, err := s.lock(ctx, "campaign:"+campaignID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if c.Status != domain.CampaignActive || c.NextCheckInAt == nil || c.NextCheckInAt.After(now) {
		return nil, nil
	}

	ci := domain.CheckIn{
		CampaignID:  c.ID,
		Milestone:   c.NextMilestone,
		ScheduledAt: *c.NextCheckInAt,
		ExpectedPct: s.policy.Expected(c.NextMilestone),
	}
	claimed, err := s.store.ClaimCheckIn(ctx, ci)
	if err != nil {
		return nil, fmt.Errorf("claim check-in: %w", err)
	}
	if !claimed {
		pending, err := s.unfinishedCheckIn(ctx, c.ID, ci.Milestone)
		if err != nil {
			return nil, err
		}
		if !pending {
			s.log.Info("check-in already evaluated", "campaign_id", c.ID, "milestone", ci.Milestone)
			return nil, s.scheduleNext(ctx, &c)
		}
		s.log.Info("resuming unfinished check-in", "campaign_id", c.ID, "milestone", ci.Milestone)
	}

	responded, err := s.tracker.Responded(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("count responses: %w", err)
	}
	ci.ObservedResponses = responded
	ci.ObservedPct = math.Round(float64(responded)/float64(c.TargetCount)*10000) / 10000

	if responded >= c.TargetCount {
		s.finish(ctx, &ci, now)
		return &ci, s.close(ctx, &c, domain.CampaignQuotaMet)
	}
	if ci.ObservedPct+pctEpsilon >= ci.ExpectedPct {
		s.finish(ctx, &ci, now)
		return &ci, s.scheduleNext(ctx, &c)
	}

	job, err := s.store.GetJob(ctx, c.JobID)
	if err != nil {
		return nil, fmt.Errorf("job of campaign %s: %w", c.ID, err)
	}
	action, detail := s.escalate(ctx, &c, job, c.TargetCount-responded)
	ci.Action, ci.ActionDetail = &action, detail
	s.finish(ctx, &ci, now)
	metrics.Escalations.WithLabelValues(string(action)).Inc()
	s.log.Info("campaign escalated", "campaign_id", c.ID, "milestone", ci.Milestone,
		"observed", ci.ObservedPct, "expected", ci.ExpectedPct, "action", action, "detail", detail)

	if action == domain.ActionExhausted {
		return &ci, s.close(ctx, &c, domain.CampaignClosedStalled)
	}
	return &ci, s.scheduleNext(ctx, &c)
}

// unfinishedCheckIn reports whether milestone was claimed by an evaluation
// that stopped before recording its outcome. The caller holds the campaign
// lock, so that evaluation is no longer running.
func (s *Service) unfinishedCheckIn(ctx context.Context, campaignID string, milestone int) (bool, error) {
	list, err := s.store.ListCheckIns(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("load check-ins: %w", err)
	}
	for _, ci := range list {
		if ci.Milestone == milestone {
			return ci.EvaluatedAt == nil, nil
		}
	}
	return false, nil
}

func (s *Service) finish(ctx context.Context, ci *domain.CheckIn, at time.Time) {
	ci.EvaluatedAt = &at
	if err := s.store.CompleteCheckIn(ctx, *ci); err != nil {
		s.log.Error("record check-in failed", "campaign_id", ci.CampaignID, "milestone", ci.Milestone, "error", err)
	}
}

// scheduleNext points the campaign at its next milestone, then at overtime
// check-ins past the deadline. With none left and the quota unmet the
// campaign is closed as stalled.
func (s *Service) scheduleNext(ctx context.Context, c *domain.Campaign) error {
	next := c.NextMilestone + 1
	var at time.Time
	overtime := 0
	switch {
	case next < len(s.policy.Milestones):
		window := c.QuotaDeadline.Sub(c.CreatedAt)
		at = s.policy.MilestoneTime(c.CreatedAt, window, next)
	case next-len(s.policy.Milestones) < s.policy.MaxOvertime:
		overtime = next - len(s.policy.Milestones) + 1
		at = c.QuotaDeadline.Add(time.Duration(overtime) * s.policy.OvertimeInterval)
	default:
		if c.Status != domain.CampaignActive {
			return nil
		}
		s.log.Info("no check-ins left, closing campaign", "campaign_id", c.ID)
		return s.close(ctx, c, domain.CampaignClosedStalled)
	}
	if err := s.store.ScheduleCheckIn(ctx, c.ID, next, &at, overtime); err != nil {
		return fmt.Errorf("schedule check-in: %w", err)
	}
	c.NextMilestone, c.NextCheckInAt, c.OvertimeCount = next, &at, overtime
	return nil
}

// escalate takes the first possible corrective action in the fixed order
// radius expansion, Tier-B top-up, resend. gap is target minus responded.
func (s *Service) escalate(ctx context.Context, c *domain.Campaign, job domain.JobRequest, gap int) (domain.EscalationAction, string) {
	assigned, err := s.store.ListAssignments(ctx, c.ID)
	if err != nil {
		return domain.ActionExhausted, "list assignments: " + err.Error()
	}
	exclude := make(map[string]bool, 2*len(assigned))
	for _, a := range assigned {
		exclude[a.DedupKey] = true
		exclude[a.CandidateID] = true
	}

	if detail, ok := s.expandRadius(ctx, c, job, gap, exclude); ok {
		return domain.ActionRadiusExpanded, detail
	}
	if detail, ok := s.addTierB(ctx, c, job, gap, exclude); ok {
		return domain.ActionTierBAdded, detail
	}
	if detail, ok := s.resend(ctx, c, job, assigned); ok {
		return domain.ActionResend, detail
	}
	return domain.ActionExhausted, "radius at maximum, no unassigned tier-b candidates, no resend allowed"
}

func (s *Service) expandRadius(ctx context.Context, c *domain.Campaign, job domain.JobRequest, gap int, exclude map[string]bool) (string, bool) {
	exp, err := newExpander(s.policy, c.RadiusStage)
	if err != nil {
		return "", false
	}
	from := exp.Radius()
	to, exhausted := exp.Expand()
	if exhausted {
		return "", false
	}
	if _, err := s.store.AdvanceRadiusStage(ctx, c.ID, exp.Stage()); err != nil {
		s.log.Error("advance radius stage failed", "campaign_id", c.ID, "error", err)
		return "", false
	}
	c.RadiusStage = exp.Stage()

	found, err := s.discovery.External(ctx, job, exp.Ring())
	if err != nil {
		return fmt.Sprintf("radius %.0f → %.0f miles, discovery failed: %v", from, to, err), true
	}
	picks := s.rank(job, c.ID, found, exclude)
	if len(picks) > gap {
		picks = picks[:gap]
	}
	added, err := s.assign(ctx, *c, picks, string(domain.ActionRadiusExpanded))
	if err != nil {
		s.log.Error("assign after expansion failed", "campaign_id", c.ID, "error", err)
	}
	s.dispatch(ctx, s.initialRequests(job, c.ID, added))
	return fmt.Sprintf("radius %.0f → %.0f miles, %d candidates added", from, to, len(added)), true
}

func (s *Service) addTierB(ctx context.Context, c *domain.Campaign, job domain.JobRequest, gap int, exclude map[string]bool) (string, bool) {
	exp, err := newExpander(s.policy, c.RadiusStage)
	if err != nil {
		return "", false
	}
	found, err := s.discovery.History(ctx, job, geo.Disc(exp.Radius()))
	if err != nil {
		s.log.Warn("tier-b top-up failed", "campaign_id", c.ID, "error", err)
		return "", false
	}
	picks := s.rank(job, c.ID, found, exclude)
	if len(picks) > gap {
		picks = picks[:gap]
	}
	added, err := s.assign(ctx, *c, picks, string(domain.ActionTierBAdded))
	if err != nil {
		s.log.Error("assign tier-b failed", "campaign_id", c.ID, "error", err)
	}
	if len(added) == 0 {
		return "", false
	}
	s.dispatch(ctx, s.initialRequests(job, c.ID, added))
	return fmt.Sprintf("%d tier-b candidates added", len(added)), true
}

// resend contacts non-responded candidates whose latest attempt is older
// than the cool-down. An untried channel is preferred; otherwise the oldest
// attempt under the resend cap is re-armed.
func (s *Service) resend(ctx context.Context, c *domain.Campaign, job domain.JobRequest, assigned []domain.Assignment) (string, bool) {
	attempts, err := s.tracker.List(ctx, c.ID)
	if err != nil {
		s.log.Error("list attempts failed", "campaign_id", c.ID, "error", err)
		return "", false
	}
	byCand := map[string][]domain.OutreachAttempt{}
	for _, a := range attempts {
		byCand[a.CandidateID] = append(byCand[a.CandidateID], a)
	}
	ids := make([]string, len(assigned))
	for i, a := range assigned {
		ids[i] = a.CandidateID
	}
	cands, err := s.store.GetCandidates(ctx, ids)
	if err != nil {
		s.log.Error("load candidates failed", "campaign_id", c.ID, "error", err)
		return "", false
	}

	cutoff := s.now().UTC().Add(-s.policy.ResendCooldown)
	var reqs []outreach.Request
	for _, cand := range cands {
		tried := byCand[cand.ID]
		if len(tried) == 0 || respondedAny(tried) || latestActivity(tried).After(cutoff) {
			continue
		}
		used := map[domain.Channel]bool{}
		for _, a := range tried {
			used[a.Channel] = true
		}
		var fresh domain.Channel
		for _, ch := range s.dispatcher.Channels(cand) {
			if !used[ch] {
				fresh = ch
				break
			}
		}
		if fresh != "" {
			reqs = append(reqs, outreach.Request{Job: job, Campaign: c.ID, Candidate: cand, Channel: fresh})
			continue
		}

		sort.Slice(tried, func(i, j int) bool { return tried[i].LastActivity().Before(tried[j].LastActivity()) })
		for _, a := range tried {
			if a.RetryCount >= s.policy.MaxResends || !s.dispatcher.Supports(a.Channel) {
				continue
			}
			ok, err := s.tracker.BeginResend(ctx, a, s.policy.ResendCooldown, s.policy.MaxResends)
			if err != nil {
				s.log.Error("begin resend failed", "attempt_id", a.ID, "error", err)
				continue
			}
			if ok {
				a.Status = domain.AttemptPending
				a.RetryCount++
				reqs = append(reqs, outreach.Request{Job: job, Campaign: c.ID, Candidate: cand, Channel: a.Channel, Attempt: &a})
				break
			}
		}
	}
	if len(reqs) == 0 {
		return "", false
	}
	s.dispatch(ctx, reqs)
	return fmt.Sprintf("resent to %d candidates", len(reqs)), true
}

func respondedAny(as []domain.OutreachAttempt) bool {
	for _, a := range as {
		if a.Status == domain.AttemptResponded {
			return true
		}
	}
	return false
}

func latestActivity(as []domain.OutreachAttempt) time.Time {
	var t time.Time
	for _, a := range as {
		if la := a.LastActivity(); la.After(t) {
			t = la
		}
	}
	return t
}
