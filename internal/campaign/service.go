package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
	"github.com/ignite/provider-outreach/internal/matching"
	"github.com/ignite/provider-outreach/internal/metrics"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/pkg/distlock"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
	"github.com/ignite/provider-outreach/internal/scoring"
)

// Archiver keeps a snapshot of a campaign once it reaches a terminal state.
type Archiver interface {
	Archive(ctx context.Context, view StatusView) error
}

// Deps are the collaborators of a Service. Geocoder and Archiver are optional.
type Deps struct {
	Store      Store
	Discovery  *matching.Discovery
	Scorer     *scoring.Engine
	Tracker    *outreach.Tracker
	Dispatcher *outreach.Dispatcher
	Geocoder   geo.Geocoder
	Locks      distlock.KeyedLocker
	Archiver   Archiver
	Policy     Policy
}

// Service implements the campaign lifecycle. All public methods are safe for
// concurrent use; mutations of one campaign are serialized through Locks.
type Service struct {
	store      Store
	discovery  *matching.Discovery
	scorer     *scoring.Engine
	tracker    *outreach.Tracker
	dispatcher *outreach.Dispatcher
	geocoder   geo.Geocoder
	locks      distlock.KeyedLocker
	archiver   Archiver
	policy     Policy

	now func() time.Time
	log *logger.Logger
	bg  sync.WaitGroup
}

// NewService validates the policy and wires a service.
func NewService(d Deps) (*Service, error) {
	if d.Store == nil || d.Discovery == nil || d.Scorer == nil || d.Tracker == nil || d.Dispatcher == nil {
		return nil, fmt.Errorf("campaign service: store, discovery, scorer, tracker and dispatcher are required")
	}
	if err := d.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("campaign policy: %w", err)
	}
	if d.Locks == nil {
		d.Locks = distlock.NewLocalKeyed()
	}
	return &Service{
		store:      d.Store,
		discovery:  d.Discovery,
		scorer:     d.Scorer,
		tracker:    d.Tracker,
		dispatcher: d.Dispatcher,
		geocoder:   d.Geocoder,
		locks:      d.Locks,
		archiver:   d.Archiver,
		policy:     d.Policy,
		now:        time.Now,
		log:        logger.Named("campaign"),
	}, nil
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Wait blocks until background dispatches started by the service finish.
func (s *Service) Wait() { s.bg.Wait() }

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return unlock, nil
}

// Create starts a campaign for req. A request for a job that already has a
// campaign returns that campaign with created=false; one left forming by an
// earlier failed Create is resumed first. Discovery failures leave nothing
// persisted.
func (s *Service) Create(ctx context.Context, req domain.DiscoveryRequest) (domain.Campaign, bool, error) {
	if err := req.Validate(); err != nil {
		return domain.Campaign{}, false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	unlock, err := s.lock(ctx, "job:"+req.JobID)
	if err != nil {
		return domain.Campaign{}, false, err
	}
	defer unlock()

	if existing, err := s.store.GetCampaignByJob(ctx, req.JobID); err == nil {
		if existing.Status == domain.CampaignForming {
			resumed, err := s.resume(ctx, existing)
			return resumed, false, err
		}
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return domain.Campaign{}, false, fmt.Errorf("lookup campaign for job %s: %w", req.JobID, err)
	}

	job := req.Job()
	loc, err := geo.Resolve(ctx, s.geocoder, job.Location)
	if err != nil {
		s.log.Warn("geocode failed, matching by postal code", "job_id", job.ID, "error", err)
	}
	job.Location = loc

	stage := 0
	if req.RadiusHint != nil {
		stage = geo.StageForHint(s.policy.RadiusStages, *req.RadiusHint)
	}
	exp, err := geo.NewExpander(s.policy.RadiusStages, stage)
	if err != nil {
		return domain.Campaign{}, false, err
	}

	res, err := s.discovery.Run(ctx, job, geo.Disc(exp.Radius()))
	if err != nil {
		return domain.Campaign{}, false, fmt.Errorf("discovery for job %s: %w", job.ID, err)
	}

	now := s.now().UTC()
	window := s.policy.Window(job.Urgency)
	next := s.policy.MilestoneTime(now, window, 0)
	c := domain.Campaign{
		ID:            uuid.New().String(),
		JobID:         job.ID,
		TargetCount:   job.TargetCount,
		RadiusStage:   stage,
		Status:        domain.CampaignForming,
		CreatedAt:     now,
		QuotaDeadline: now.Add(window),
		NextMilestone: 0,
		NextCheckInAt: &next,
		UpdatedAt:     now,
	}
	picks := Allocate(s.rank(job, c.ID, res.Candidates, nil), job.TargetCount, s.policy.TierShares)

	if err := s.store.SaveJob(ctx, job); err != nil {
		return domain.Campaign{}, false, fmt.Errorf("save job: %w", err)
	}
	stored, created, err := s.store.CreateCampaign(ctx, c)
	if err != nil {
		return domain.Campaign{}, false, fmt.Errorf("create campaign: %w", err)
	}
	if !created {
		if stored.Status == domain.CampaignForming {
			resumed, err := s.resume(ctx, stored)
			return resumed, false, err
		}
		return stored, false, nil
	}

	assigned, err := s.assign(ctx, stored, picks, "initial")
	if err != nil {
		return stored, true, err
	}
	if err := s.transition(ctx, &stored, domain.CampaignActive); err != nil {
		return stored, true, err
	}
	s.log.Info("campaign created", "campaign_id", stored.ID, "job_id", job.ID,
		"target", job.TargetCount, "assigned", len(assigned), "radius", exp.Radius(), "ran_tier_c", res.RanTierC)

	s.dispatch(ctx, s.initialRequests(job, stored.ID, assigned))
	return stored, true, nil
}

// resume finishes a campaign whose Create stopped between persisting it and
// activating it. Discovery runs again at the stored radius, the open slots
// are filled and every assignee is contacted, since none was while forming.
func (s *Service) resume(ctx context.Context, c domain.Campaign) (domain.Campaign, error) {
	s.log.Warn("resuming campaign left forming", "campaign_id", c.ID, "job_id", c.JobID)
	job, err := s.store.GetJob(ctx, c.JobID)
	if err != nil {
		return c, fmt.Errorf("job of campaign %s: %w", c.ID, err)
	}
	exp, err := newExpander(s.policy, c.RadiusStage)
	if err != nil {
		return c, err
	}
	res, err := s.discovery.Run(ctx, job, geo.Disc(exp.Radius()))
	if err != nil {
		return c, fmt.Errorf("discovery for job %s: %w", job.ID, err)
	}

	before, err := s.store.ListAssignments(ctx, c.ID)
	if err != nil {
		return c, fmt.Errorf("list assignments: %w", err)
	}
	exclude := make(map[string]bool, 2*len(before))
	for _, a := range before {
		exclude[a.DedupKey] = true
		exclude[a.CandidateID] = true
	}
	picks := Allocate(s.rank(job, c.ID, res.Candidates, exclude), c.TargetCount-len(before), s.policy.TierShares)
	if _, err := s.assign(ctx, c, picks, "initial"); err != nil {
		return c, err
	}

	all, err := s.store.ListAssignments(ctx, c.ID)
	if err != nil {
		return c, fmt.Errorf("list assignments: %w", err)
	}
	ids := make([]string, len(all))
	tiers := make(map[string]domain.Tier, len(all))
	for i, a := range all {
		ids[i] = a.CandidateID
		tiers[a.CandidateID] = a.Tier
	}
	cands, err := s.store.GetCandidates(ctx, ids)
	if err != nil {
		return c, fmt.Errorf("load candidates: %w", err)
	}
	for i := range cands {
		cands[i].Tier = tiers[cands[i].ID]
	}

	if err := s.transition(ctx, &c, domain.CampaignActive); err != nil {
		return c, err
	}
	s.log.Info("campaign resumed", "campaign_id", c.ID, "assigned", len(cands))
	s.dispatch(ctx, s.initialRequests(job, c.ID, cands))
	return c, nil
}

// rank scores candidates for the campaign, drops those already assigned or
// below the minimum score and orders the rest best first.
func (s *Service) rank(job domain.JobRequest, campaignID string, cands []domain.Candidate, exclude map[string]bool) []scoring.Scored {
	fresh := make([]domain.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.DedupKey == "" {
			c.DedupKey = scoring.DedupKey(c)
		}
		if exclude[c.DedupKey] || (c.ID != "" && exclude[c.ID]) {
			continue
		}
		fresh = append(fresh, c)
	}
	scored := s.scorer.ScoreAll(job, fresh)
	for i := range scored {
		scored[i].Score.CampaignID = campaignID
	}
	return scoring.Rank(scoring.Eligible(scored, s.policy.MinScore))
}

// assign persists picks and their scores and returns the candidates that
// were newly assigned. Duplicates are skipped silently.
func (s *Service) assign(ctx context.Context, c domain.Campaign, picks []scoring.Scored, source string) ([]domain.Candidate, error) {
	now := s.now().UTC()
	out := make([]domain.Candidate, 0, len(picks))
	for _, p := range picks {
		tier := p.Candidate.Tier
		stored, err := s.store.SaveCandidate(ctx, p.Candidate)
		if err != nil {
			return out, fmt.Errorf("save candidate %q: %w", p.Candidate.Name, err)
		}
		stored.Tier = tier
		key := stored.DedupKey
		if key == "" {
			key = p.Candidate.DedupKey
		}
		ok, err := s.store.AssignCandidate(ctx, domain.Assignment{
			CampaignID:  c.ID,
			CandidateID: stored.ID,
			DedupKey:    key,
			Tier:        tier,
			Source:      source,
			AssignedAt:  now,
		})
		if err != nil {
			return out, fmt.Errorf("assign candidate %s: %w", stored.ID, err)
		}
		if !ok {
			continue
		}
		rec := p.Score
		rec.CandidateID, rec.CampaignID, rec.JobID = stored.ID, c.ID, c.JobID
		if err := s.store.SaveScore(ctx, rec); err != nil {
			return out, fmt.Errorf("save score %s: %w", stored.ID, err)
		}
		out = append(out, stored)
	}
	return out, nil
}

// Assign adds one candidate to a campaign, scoring it against the job. It
// returns false when the candidate (by dedup key) is already assigned. New
// assignees of an active campaign are contacted on the initial channels.
func (s *Service) Assign(ctx context.Context, campaignID string, cand domain.Candidate, tier domain.Tier) (bool, error) {
	if !tier.Valid() {
		return false, fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, tier)
	}
	unlock, err := s.lock(ctx, "campaign:"+campaignID)
	if err != nil {
		return false, err
	}
	defer unlock()

	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if c.IsTerminal() {
		return false, ErrInvalidTransition
	}
	job, err := s.store.GetJob(ctx, c.JobID)
	if err != nil {
		return false, err
	}
	cand.Tier = tier
	if cand.DedupKey == "" {
		cand.DedupKey = scoring.DedupKey(cand)
	}
	rec := s.scorer.Score(job, cand)
	assigned, err := s.assign(ctx, c, []scoring.Scored{{Candidate: cand, Score: rec}}, "manual")
	if err != nil || len(assigned) == 0 {
		return false, err
	}
	if c.Status == domain.CampaignActive {
		s.dispatch(ctx, s.initialRequests(job, c.ID, assigned))
	}
	return true, nil
}

// initialRequests builds first-contact requests on every initial channel a
// candidate can be reached on. Candidates with none of them get their first
// available channel instead.
func (s *Service) initialRequests(job domain.JobRequest, campaignID string, cands []domain.Candidate) []outreach.Request {
	var reqs []outreach.Request
	for _, c := range cands {
		chans := s.dispatcher.Channels(c)
		var picked []domain.Channel
		for _, ch := range chans {
			if s.policy.isInitial(ch) {
				picked = append(picked, ch)
			}
		}
		if len(picked) == 0 && len(chans) > 0 {
			picked = chans[:1]
		}
		if len(picked) == 0 {
			s.log.Warn("candidate has no reachable channel", "campaign_id", campaignID, "candidate_id", c.ID)
		}
		for _, ch := range picked {
			reqs = append(reqs, outreach.Request{Job: job, Campaign: campaignID, Candidate: c, Channel: ch})
		}
	}
	return reqs
}

// dispatch sends reqs inline, or in the background when the policy asks for
// asynchronous dispatch.
func (s *Service) dispatch(ctx context.Context, reqs []outreach.Request) {
	if len(reqs) == 0 {
		return
	}
	if s.policy.AsyncDispatch {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.reportOutcomes(s.dispatcher.DispatchAll(context.WithoutCancel(ctx), reqs))
		}()
		return
	}
	s.reportOutcomes(s.dispatcher.DispatchAll(ctx, reqs))
}

func (s *Service) reportOutcomes(outcomes []outreach.Outcome) {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		s.log.Warn("dispatch finished with failures", "attempts", len(outcomes), "failed", failed)
	}
}

// transition moves c to status `to` and records the metric. A concurrent
// transition that won the race surfaces as ErrInvalidTransition.
func (s *Service) transition(ctx context.Context, c *domain.Campaign, to domain.CampaignStatus) error {
	if !domain.CanTransition(c.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, c.Status, to)
	}
	at := s.now().UTC()
	ok, err := s.store.TransitionStatus(ctx, c.ID, c.Status, to, at)
	if err != nil {
		return fmt.Errorf("transition campaign %s: %w", c.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: campaign %s is no longer %s", ErrInvalidTransition, c.ID, c.Status)
	}
	metrics.Transitions.WithLabelValues(string(to)).Inc()
	s.log.Info("campaign transition", "campaign_id", c.ID, "from", c.Status, "to", to)
	c.Status, c.UpdatedAt = to, at
	if to.IsTerminal() {
		c.ClosedAt, c.NextCheckInAt = &at, nil
	}
	return nil
}

// close moves an active campaign to a terminal state and archives it.
func (s *Service) close(ctx context.Context, c *domain.Campaign, to domain.CampaignStatus) error {
	if err := s.transition(ctx, c, to); err != nil {
		return err
	}
	s.archive(ctx, c.ID)
	return nil
}

func (s *Service) archive(ctx context.Context, id string) {
	if s.archiver == nil {
		return
	}
	view, err := s.Get(ctx, id)
	if err == nil {
		err = s.archiver.Archive(ctx, view)
	}
	if err != nil {
		s.log.Error("archive campaign failed", "campaign_id", id, "error", err)
	}
}

// HandleResponse applies a channel callback and checks the quota when it
// produced a new response.
func (s *Service) HandleResponse(ctx context.Context, ev domain.ResponseEvent) (domain.OutreachAttempt, error) {
	a, changed, err := s.tracker.Record(ctx, ev)
	if err != nil {
		return a, err
	}
	if changed && a.Status == domain.AttemptResponded {
		if _, err := s.CheckQuota(ctx, a.CampaignID); err != nil {
			return a, err
		}
	}
	return a, nil
}

// CheckQuota moves an active campaign to quota_met once its distinct
// responding candidates reach the target.
func (s *Service) CheckQuota(ctx context.Context, campaignID string) (domain.Campaign, error) {
	unlock, err := s.lock(ctx, "campaign:"+campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	defer unlock()

	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return c, err
	}
	if c.Status != domain.CampaignActive {
		return c, nil
	}
	n, err := s.tracker.Responded(ctx, campaignID)
	if err != nil {
		return c, fmt.Errorf("count responses: %w", err)
	}
	if n < c.TargetCount {
		return c, nil
	}
	err = s.close(ctx, &c, domain.CampaignQuotaMet)
	return c, err
}

// Cancel stops an active campaign. Pending dispatches observe the new
// status before their next try; scheduled check-ins are dropped.
func (s *Service) Cancel(ctx context.Context, campaignID string) (domain.Campaign, error) {
	unlock, err := s.lock(ctx, "campaign:"+campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	defer unlock()

	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return c, err
	}
	err = s.close(ctx, &c, domain.CampaignCancelled)
	return c, err
}

// List returns campaigns matching the filter with the total count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.store.ListCampaigns(ctx, f)
}

// RegisterProvider adds a provider to the internal registry searched by
// Tier-A matching.
func (s *Service) RegisterProvider(ctx context.Context, c domain.Candidate) (domain.Candidate, error) {
	if c.Name == "" || len(c.Categories) == 0 {
		return domain.Candidate{}, fmt.Errorf("%w: name and categories are required", ErrInvalidRequest)
	}
	if c.Location.Coordinates == nil && c.Location.PostalCode == "" {
		return domain.Candidate{}, fmt.Errorf("%w: location is required", ErrInvalidRequest)
	}
	if loc, err := geo.Resolve(ctx, s.geocoder, c.Location); err == nil {
		c.Location = loc
	}
	c.Tier = domain.TierA
	c.DedupKey = scoring.DedupKey(c)
	return s.store.RegisterProvider(ctx, c)
}

// gate answers the dispatcher's "still active?" question from the store.
type gate struct{ store Store }

// NewGate returns an outreach.CampaignGate backed by store.
func NewGate(store Store) outreach.CampaignGate { return gate{store: store} }

func (g gate) Active(ctx context.Context, campaignID string) (bool, error) {
	c, err := g.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return false, err
	}
	return c.Status == domain.CampaignActive, nil
}
