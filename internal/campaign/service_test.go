package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/provider-outreach/internal/campaign"
	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/matching"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/pkg/retry"
	"github.com/ignite/provider-outreach/internal/repository/memory"
	"github.com/ignite/provider-outreach/internal/scoring"
)

var center = domain.Point{Lat: 40.7128, Lng: -74.0060}

func north(miles float64) *domain.Point {
	return &domain.Point{Lat: center.Lat + miles/69.09, Lng: center.Lng}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recSender struct {
	ch   domain.Channel
	fail bool

	mu    sync.Mutex
	calls int
	msgs  []outreach.Message
}

func (s *recSender) Channel() domain.Channel { return s.ch }

func (s *recSender) Send(_ context.Context, msg outreach.Message) (outreach.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return outreach.SendResult{}, errors.New("provider rejected message")
	}
	s.msgs = append(s.msgs, msg)
	return outreach.SendResult{ProviderRef: "ref-" + msg.AttemptID}, nil
}

func (s *recSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ringSearch returns the candidates registered for the outer radius asked.
type ringSearch struct {
	byOuter map[float64][]domain.Candidate
}

func (p *ringSearch) Name() string { return "stub" }

func (p *ringSearch) Search(_ context.Context, q matching.SearchQuery, emit func([]domain.Candidate)) error {
	emit(p.byOuter[q.Area.Outer])
	return nil
}

type failingRegistry struct{}

func (failingRegistry) SearchRegistry(context.Context, matching.AreaQuery) ([]domain.Candidate, error) {
	return nil, errors.New("connection refused")
}

type harness struct {
	svc   *campaign.Service
	store *memory.Store
	clock *clock
	email *recSender
	sms   *recSender
}

type options struct {
	policy   campaign.Policy
	search   matching.SearchProvider
	registry matching.RegistryStore
	// wrap decorates the store the service sees.
	wrap func(campaign.Store) campaign.Store
}

// flakyStore fails the first call of the methods it is armed for.
type flakyStore struct {
	campaign.Store

	mu          sync.Mutex
	failAssign  int
	failGetJob  int
	failedCalls int
}

func (f *flakyStore) trip(n *int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if *n == 0 {
		return false
	}
	*n--
	f.failedCalls++
	return true
}

func (f *flakyStore) AssignCandidate(ctx context.Context, a domain.Assignment) (bool, error) {
	if f.trip(&f.failAssign) {
		return false, errors.New("connection reset by peer")
	}
	return f.Store.AssignCandidate(ctx, a)
}

// stallStore blocks GetCampaign until the caller gives up, once armed.
type stallStore struct {
	campaign.Store
	stall atomic.Bool
}

func (s *stallStore) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	if s.stall.Load() {
		<-ctx.Done()
		return domain.Campaign{}, ctx.Err()
	}
	return s.Store.GetCampaign(ctx, id)
}

func (f *flakyStore) GetJob(ctx context.Context, id string) (domain.JobRequest, error) {
	if f.trip(&f.failGetJob) {
		return domain.JobRequest{}, errors.New("connection reset by peer")
	}
	return f.Store.GetJob(ctx, id)
}

func newHarness(t *testing.T, o options) *harness {
	t.Helper()
	store := memory.New()
	clk := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	h := &harness{store: store, clock: clk, email: &recSender{ch: domain.ChannelEmail}, sms: &recSender{ch: domain.ChannelSMS}}

	tracker := outreach.NewTracker(store).WithClock(clk.Now)
	composer, err := outreach.NewComposer(outreach.ComposerConfig{
		PublicBaseURL: "https://outreach.test", ReplyDomain: "reply.outreach.test",
		SenderName: "Ignite Jobs", SenderEmail: "jobs@outreach.test",
	})
	require.NoError(t, err)
	disp := outreach.NewDispatcher(tracker, composer, outreach.NewLimiter(nil, nil), campaign.NewGate(store),
		outreach.DispatcherConfig{Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, NoJitter: true}},
		h.email, h.sms)

	var registry matching.RegistryStore = store
	if o.registry != nil {
		registry = o.registry
	}
	var external matching.Matcher
	if o.search != nil {
		external = matching.NewExternalMatcher(o.search, matching.ExternalOptions{Timeout: time.Second})
	}
	scorer, err := scoring.NewEngine(scoring.Weights{}, 0, 0)
	require.NoError(t, err)

	pol := o.policy
	if pol.Milestones == nil {
		pol = campaign.DefaultPolicy()
	}
	var svcStore campaign.Store = store
	if o.wrap != nil {
		svcStore = o.wrap(store)
	}
	svc, err := campaign.NewService(campaign.Deps{
		Store:      svcStore,
		Discovery:  matching.NewDiscovery(matching.NewRegistryMatcher(registry), matching.NewHistoryMatcher(store), external),
		Scorer:     scorer,
		Tracker:    tracker,
		Dispatcher: disp,
		Policy:     pol,
	})
	require.NoError(t, err)
	h.svc = svc.WithClock(clk.Now)
	return h
}

func provider(name string, miles float64) domain.Candidate {
	slug := fmt.Sprintf("p%03d", int(miles*10))
	return domain.Candidate{
		Name:       name,
		Categories: []string{"plumbing"},
		Contact:    domain.Contact{Email: slug + "-" + name[:1] + "@example.com"},
		Location:   domain.Location{Coordinates: north(miles)},
	}
}

func request(jobID string, target int) domain.DiscoveryRequest {
	return domain.DiscoveryRequest{
		JobID: jobID, Category: "plumbing", Scope: "replace water heater",
		Location: domain.Location{PostalCode: "10007", Coordinates: &center},
		Urgency:  domain.UrgencyStandard, TargetCount: target,
	}
}

// seedHistory records cand as an earlier, unanswered assignee of another job.
func seedHistory(t *testing.T, store *memory.Store, cand domain.Candidate) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveJob(ctx, domain.JobRequest{ID: "job-old", Category: "plumbing", TargetCount: 1}))
	old, _, err := store.CreateCampaign(ctx, domain.Campaign{ID: "camp-old", JobID: "job-old", TargetCount: 1, Status: domain.CampaignClosedStalled})
	require.NoError(t, err)
	cand.DedupKey = scoring.DedupKey(cand)
	stored, err := store.SaveCandidate(ctx, cand)
	require.NoError(t, err)
	_, err = store.AssignCandidate(ctx, domain.Assignment{CampaignID: old.ID, CandidateID: stored.ID, DedupKey: stored.DedupKey, Tier: domain.TierC})
	require.NoError(t, err)
}

func TestScenarioAExpandsRadiusWhenBehind(t *testing.T) {
	search := &ringSearch{byOuter: map[float64][]domain.Candidate{
		15: {provider("Clearflow", 9)},
		25: {provider("Delta Drains", 18), provider("Eastside Pipes", 22)},
	}}
	h := newHarness(t, options{search: search})
	h.store.SeedRegistry(provider("Acme Plumbing", 2), provider("Bolt Plumbing", 5))
	seedHistory(t, h.store, provider("Crescent Rooter", 7))
	ctx := context.Background()

	c, created, err := h.svc.Create(ctx, request("job-a", 5))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, domain.CampaignActive, c.Status)

	view, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, view.Counts.Assigned)
	assert.Equal(t, map[domain.Tier]int{domain.TierA: 2, domain.TierB: 1, domain.TierC: 1}, view.Counts.ByTier)
	assert.Equal(t, 4, h.email.Calls(), "every assignee gets the initial email")

	h.clock.Advance(18 * time.Hour) // 25% of the 72h window
	ci, err := h.svc.EvaluateCheckIn(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, ci)
	require.NotNil(t, ci.Action)
	assert.Equal(t, domain.ActionRadiusExpanded, *ci.Action)
	assert.Equal(t, 0, ci.ObservedResponses)
	assert.InDelta(t, 0.2, ci.ExpectedPct, 1e-9)

	view, err = h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, view.Counts.Assigned)
	assert.Equal(t, 1, view.Campaign.RadiusStage)
	assert.Equal(t, 25.0, view.RadiusMiles)
	assert.Equal(t, 1, view.Campaign.NextMilestone)
	assert.Equal(t, 6, h.email.Calls())
}

func TestCheckInIsEscalatedOnce(t *testing.T) {
	search := &ringSearch{byOuter: map[float64][]domain.Candidate{
		25: {provider("Delta Drains", 18)},
		40: {provider("Far Flow", 30)},
	}}
	h := newHarness(t, options{search: search})
	h.store.SeedRegistry(provider("Acme Plumbing", 2))
	ctx := context.Background()

	c, _, err := h.svc.Create(ctx, request("job-idem", 3))
	require.NoError(t, err)
	h.clock.Advance(18 * time.Hour)
	due := h.clock.Now()

	first, err := h.svc.EvaluateCheckIn(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	// A scheduler retry that lost the schedule update sees the milestone again.
	require.NoError(t, h.store.ScheduleCheckIn(ctx, c.ID, 0, &due, 0))
	again, err := h.svc.EvaluateCheckIn(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	got, err := h.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RadiusStage, "radius expanded exactly once")
	assert.Equal(t, 1, got.NextMilestone)
	checkIns, err := h.store.ListCheckIns(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, checkIns, 1)
}

func TestScenarioBQuotaMetBeforeFirstMilestone(t *testing.T) {
	h := newHarness(t, options{})
	for i := 0; i < 5; i++ {
		h.store.SeedRegistry(provider(fmt.Sprintf("Provider %c", 'A'+i), float64(i+1)))
	}
	ctx := context.Background()

	c, _, err := h.svc.Create(ctx, request("job-b", 5))
	require.NoError(t, err)
	attempts, err := h.store.ListAttempts(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 5)

	for i, a := range attempts {
		got, err := h.svc.HandleResponse(ctx, domain.ResponseEvent{Kind: domain.ResponseReplied, ProviderRef: a.ProviderRef})
		require.NoError(t, err)
		assert.Equal(t, domain.AttemptResponded, got.Status)

		cur, err := h.store.GetCampaign(ctx, c.ID)
		require.NoError(t, err)
		if i < 4 {
			assert.Equal(t, domain.CampaignActive, cur.Status)
		} else {
			assert.Equal(t, domain.CampaignQuotaMet, cur.Status)
			assert.Nil(t, cur.NextCheckInAt)
		}
	}

	h.clock.Advance(18 * time.Hour)
	ci, err := h.svc.EvaluateCheckIn(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, ci)
	checkIns, err := h.store.ListCheckIns(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, checkIns)
}

func TestDuplicateResponseDoesNotDoubleCount(t *testing.T) {
	h := newHarness(t, options{})
	h.store.SeedRegistry(provider("Acme Plumbing", 1), provider("Bolt Plumbing", 2))
	ctx := context.Background()

	c, _, err := h.svc.Create(ctx, request("job-dup", 2))
	require.NoError(t, err)
	attempts, err := h.store.ListAttempts(ctx, c.ID)
	require.NoError(t, err)

	ev := domain.ResponseEvent{Kind: domain.ResponseReplied, ProviderRef: attempts[0].ProviderRef}
	for i := 0; i < 3; i++ {
		_, err := h.svc.HandleResponse(ctx, ev)
		require.NoError(t, err)
	}
	cur, err := h.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignActive, cur.Status)
}

func singleStage() campaign.Policy {
	p := campaign.DefaultPolicy()
	p.RadiusStages = []float64{15}
	return p
}

func TestScenarioCFailedChannelResentOnAnotherAfterCooldown(t *testing.T) {
	pol := singleStage()
	pol.InitialChannels = []domain.Channel{domain.ChannelEmail}
	h := newHarness(t, options{policy: pol})
	h.email.fail = true
	p := provider("Acme Plumbing", 2)
	p.Contact.Phone = "+1 (212) 555-0100"
	h.store.SeedRegistry(p)
	ctx := context.Background()

	c, _, err := h.svc.Create(ctx, request("job-c", 1))
	require.NoError(t, err)
	assert.Equal(t, 3, h.email.Calls())

	attempts, err := h.store.ListAttempts(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AttemptFailed, attempts[0].Status)
	assert.Equal(t, 3, attempts[0].SendTries)
	assert.Contains(t, attempts[0].LastError, "provider rejected message")

	h.clock.Advance(18 * time.Hour)
	ci, err := h.svc.EvaluateCheckIn(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, ci.Action)
	assert.Equal(t, domain.ActionResend, *ci.Action)

	attempts, err = h.store.ListAttempts(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, domain.ChannelSMS, attempts[1].Channel)
	assert.Equal(t, domain.AttemptSent, attempts[1].Status)
	assert.Equal(t, 1, h.sms.Calls())
}

func TestScenarioDClosesStalledWhenNothingLeft(t *testing.T) {
	pol := singleStage()
	pol.ResendCooldown = 24 * time.Hour
	h := newHarness(t, options{policy: pol})
	h.store.SeedRegistry(provider("Acme Plumbing", 2))
	ctx := context.Background()

	c, _, err := h.svc.Create(ctx, request("job-d", 2))
	require.NoError(t, err)

	h.clock.Advance(18 * time.Hour)
	ci, err := h.svc.EvaluateCheckIn(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, ci.Action)
	assert.Equal(t, domain.ActionExhausted, *ci.Action)

	got, err := h.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignClosedStalled, got.Status)
	assert.Nil(t, got.NextCheckInAt)
	assert.NotNil(t, got.ClosedAt)
}

func TestOvertimeCheckInThenStalled(t *testing.T) {
	pol := singleStage()
	pol.Milestones = []campaign.Milestone{{At: 0.5, Expected: 0}}
	pol.MaxOvertime = 1
	h := newHarness(t, options{policy: pol})
	h.store.SeedRegistry(provider("Acme Plumbing", 2))
	ctx := context.Background()

	c, _, err := h.svc.Create(ctx, request("job-ot", 1))
	require.NoError(t, err)

	h.clock.Advance(36 * time.Hour)
	ci, err := h.svc.EvaluateCheckIn(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, ci.Action, "expected share met")

	got, err := h.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextCheckInAt)
	assert.Equal(t, got.QuotaDeadline.Add(12*time.Hour), *got.NextCheckInAt)
	assert.Equal(t, 1, got.OvertimeCount)

	h.clock.Advance(48 * time.Hour)
	ci, err = h.svc.EvaluateCheckIn(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, ci.Action)
	assert.Equal(t, domain.ActionResend, *ci.Action)
	assert.Equal(t, 2, h.email.Calls())

	attempts, err := h.store.ListAttempts(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, 1, attempts[0].RetryCount)

	got, err = h.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignClosedStalled, got.Status)
}

func TestCreateIsIdempotentPerJob(t *testing.T) {
	h := newHarness(t, options{})
	h.store.SeedRegistry(provider("Acme Plumbing", 2))
	ctx := context.Background()

	first, created, err := h.svc.Create(ctx, request("job-same", 1))
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := h.svc.Create(ctx, request("job-same", 1))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.email.Calls())
}

func TestCreateSurfacesUnavailableRegistry(t *testing.T) {
	h := newHarness(t, options{registry: failingRegistry{}})
	ctx := context.Background()

	_, _, err := h.svc.Create(ctx, request("job-down", 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))

	_, err = h.store.GetCampaignByJob(ctx, "job-down")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, options{})
	_, _, err := h.svc.Create(context.Background(), request("job-bad", 0))
	assert.ErrorIs(t, err, campaign.ErrInvalidRequest)
}

func TestCancelStopsCampaign(t *testing.T) {
	h := newHarness(t, options{})
	h.store.SeedRegistry(provider("Acme Plumbing", 2))
	ctx := context.Background()

	c, _, err := h.svc.Create(ctx, request("job-cancel", 2))
	require.NoError(t, err)

	got, err := h.svc.Cancel(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCancelled, got.Status)

	_, err = h.svc.Cancel(ctx, c.ID)
	assert.ErrorIs(t, err, campaign.ErrInvalidTransition)

	// Late responses are recorded but never reopen the campaign.
	attempts, err := h.store.ListAttempts(ctx, c.ID)
	require.NoError(t, err)
	_, err = h.svc.HandleResponse(ctx, domain.ResponseEvent{Kind: domain.ResponseReplied, AttemptID: attempts[0].ID})
	require.NoError(t, err)
	cur, err := h.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCancelled, cur.Status)

	h.clock.Advance(18 * time.Hour)
	ci, err := h.svc.EvaluateCheckIn(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, ci)
}

func TestAssignIsIdempotent(t *testing.T) {
	h := newHarness(t, options{})
	h.store.SeedRegistry(provider("Acme Plumbing", 2))
	ctx := context.Background()

	c, _, err := h.svc.Create(ctx, request("job-assign", 3))
	require.NoError(t, err)

	extra := provider("Zephyr Plumbing Co.", 4)
	ok, err := h.svc.Assign(ctx, c.ID, extra, domain.TierC)
	require.NoError(t, err)
	assert.True(t, ok)

	extra.Name = "ZEPHYR PLUMBING"
	ok, err = h.svc.Assign(ctx, c.ID, extra, domain.TierC)
	require.NoError(t, err)
	assert.False(t, ok, "same provider by dedup key")

	view, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Counts.Assigned)
	assert.Equal(t, 2, h.email.Calls())
}

func TestSchedulerTickEvaluatesDueCampaigns(t *testing.T) {
	h := newHarness(t, options{policy: singleStage()})
	h.store.SeedRegistry(provider("Acme Plumbing", 2), provider("Bolt Plumbing", 3))
	ctx := context.Background()

	_, _, err := h.svc.Create(ctx, request("job-s1", 2))
	require.NoError(t, err)

	sched := campaign.NewScheduler(h.svc, nil, campaign.SchedulerConfig{})
	assert.Equal(t, 0, sched.Tick(ctx), "nothing due yet")

	h.clock.Advance(18 * time.Hour)
	assert.Equal(t, 1, sched.Tick(ctx))
	assert.Equal(t, 0, sched.Tick(ctx))
	assert.Equal(t, int64(1), sched.Stats().Evaluated)
}

func TestCreateResumesCampaignLeftForming(t *testing.T) {
	flaky := &flakyStore{failAssign: 1}
	h := newHarness(t, options{wrap: func(s campaign.Store) campaign.Store {
		flaky.Store = s
		return flaky
	}})
	h.store.SeedRegistry(provider("Acme Plumbing", 2), provider("Bolt Plumbing", 3))
	ctx := context.Background()

	_, _, err := h.svc.Create(ctx, request("job-resume", 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	stuck, err := h.store.GetCampaignByJob(ctx, "job-resume")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignForming, stuck.Status)
	assert.Equal(t, 0, h.email.Calls())

	c, created, err := h.svc.Create(ctx, request("job-resume", 2))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stuck.ID, c.ID)
	assert.Equal(t, domain.CampaignActive, c.Status)
	assert.Equal(t, 2, h.email.Calls())

	view, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Counts.Assigned)

	h.clock.Advance(18 * time.Hour)
	due, err := h.store.DueCampaigns(ctx, h.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, c.ID, due[0].ID)

	// A third Create leaves the active campaign alone.
	_, created, err = h.svc.Create(ctx, request("job-resume", 2))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, h.email.Calls())
}

func TestCheckInResumesAfterFailureMidEvaluation(t *testing.T) {
	search := &ringSearch{byOuter: map[float64][]domain.Candidate{
		25: {provider("Delta Drains", 18)},
	}}
	flaky := &flakyStore{}
	h := newHarness(t, options{search: search, wrap: func(s campaign.Store) campaign.Store {
		flaky.Store = s
		return flaky
	}})
	h.store.SeedRegistry(provider("Acme Plumbing", 2))
	ctx := context.Background()

	c, _, err := h.svc.Create(ctx, request("job-midway", 3))
	require.NoError(t, err)
	h.clock.Advance(18 * time.Hour)

	flaky.mu.Lock()
	flaky.failGetJob = 1
	flaky.mu.Unlock()
	_, err = h.svc.EvaluateCheckIn(ctx, c.ID)
	require.Error(t, err)

	checkIns, err := h.store.ListCheckIns(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, checkIns, 1)
	assert.Nil(t, checkIns[0].EvaluatedAt, "claimed but not finished")

	ci, err := h.svc.EvaluateCheckIn(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, ci)
	require.NotNil(t, ci.Action)
	assert.Equal(t, domain.ActionRadiusExpanded, *ci.Action)

	got, err := h.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RadiusStage)
	assert.Equal(t, 1, got.NextMilestone)
	checkIns, err = h.store.ListCheckIns(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, checkIns, 1)
	assert.NotNil(t, checkIns[0].EvaluatedAt)
	require.NotNil(t, checkIns[0].Action)

	// Once recorded, the milestone is not escalated again.
	due := h.clock.Now()
	require.NoError(t, h.store.ScheduleCheckIn(ctx, c.ID, 0, &due, 0))
	again, err := h.svc.EvaluateCheckIn(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, again)
	got, err = h.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RadiusStage)
}

func TestSchedulerTickBoundsEachEvaluation(t *testing.T) {
	stall := &stallStore{}
	h := newHarness(t, options{policy: singleStage(), wrap: func(s campaign.Store) campaign.Store {
		stall.Store = s
		return stall
	}})
	h.store.SeedRegistry(provider("Acme Plumbing", 2))
	ctx := context.Background()

	_, _, err := h.svc.Create(ctx, request("job-slow", 1))
	require.NoError(t, err)
	h.clock.Advance(18 * time.Hour)
	stall.stall.Store(true)

	sched := campaign.NewScheduler(h.svc, nil, campaign.SchedulerConfig{EvaluateTimeout: 20 * time.Millisecond})
	done := make(chan int, 1)
	go func() { done <- sched.Tick(ctx) }()
	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not return after the evaluation timeout")
	}
	assert.Equal(t, int64(1), sched.Stats().Errors)
}
