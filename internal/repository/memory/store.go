// Package memory is an in-process implementation of every record store
// interface. It backs tests and single-node development runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/provider-outreach/internal/campaign"
	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/matching"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/scoring"
)

// Store holds all records behind one mutex. Values are copied on the way in
// and out so callers never share memory with the store.
type Store struct {
	mu sync.Mutex

	jobs        map[string]domain.JobRequest
	campaigns   map[string]domain.Campaign
	byJob       map[string]string // job id → campaign id
	candidates  map[string]domain.Candidate
	byDedup     map[string]string // dedup key → candidate id
	registry    map[string]bool   // candidate id → registry member
	assignments map[string][]domain.Assignment
	scores      map[string][]domain.ScoreRecord
	checkIns    map[string][]domain.CheckIn
	attempts    map[string]domain.OutreachAttempt
	attemptKeys map[string]string // campaign|candidate|channel → attempt id
	attemptRefs map[string]string // provider ref → attempt id
	order       []string          // attempt ids by creation
}

var (
	_ campaign.Store         = (*Store)(nil)
	_ outreach.AttemptStore  = (*Store)(nil)
	_ matching.RegistryStore = (*Store)(nil)
	_ matching.HistoryStore  = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		jobs:        map[string]domain.JobRequest{},
		campaigns:   map[string]domain.Campaign{},
		byJob:       map[string]string{},
		candidates:  map[string]domain.Candidate{},
		byDedup:     map[string]string{},
		registry:    map[string]bool{},
		assignments: map[string][]domain.Assignment{},
		scores:      map[string][]domain.ScoreRecord{},
		checkIns:    map[string][]domain.CheckIn{},
		attempts:    map[string]domain.OutreachAttempt{},
		attemptKeys: map[string]string{},
		attemptRefs: map[string]string{},
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) SaveJob(_ context.Context, job domain.JobRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		s.jobs[job.ID] = job
	}
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (domain.JobRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.JobRequest{}, campaign.ErrJobNotFound
	}
	return j, nil
}

func (s *Store) CreateCampaign(_ context.Context, c domain.Campaign) (domain.Campaign, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byJob[c.JobID]; ok {
		return s.campaigns[id], false, nil
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	s.campaigns[c.ID] = c
	s.byJob[c.JobID] = c.ID
	return c, true, nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return domain.Campaign{}, campaign.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetCampaignByJob(_ context.Context, jobID string) (domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byJob[jobID]
	if !ok {
		return domain.Campaign{}, campaign.ErrNotFound
	}
	return s.campaigns[id], nil
}

func (s *Store) ListCampaigns(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(out) || f.Limit <= 0 {
		end = len(out)
	}
	return out[f.Offset:end], total, nil
}

func (s *Store) CountCampaignsByStatus(context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, c := range s.campaigns {
		out[string(c.Status)]++
	}
	return out, nil
}

func (s *Store) TransitionStatus(_ context.Context, id string, from, to domain.CampaignStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, campaign.ErrNotFound
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = at
	if to.IsTerminal() {
		c.ClosedAt = &at
		c.NextCheckInAt = nil
	}
	s.campaigns[id] = c
	return true, nil
}

func (s *Store) AdvanceRadiusStage(_ context.Context, id string, stage int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, campaign.ErrNotFound
	}
	if stage <= c.RadiusStage {
		return false, nil
	}
	c.RadiusStage = stage
	s.campaigns[id] = c
	return true, nil
}

func (s *Store) ScheduleCheckIn(_ context.Context, id string, milestone int, at *time.Time, overtime int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.NextMilestone = milestone
	c.NextCheckInAt = at
	c.OvertimeCount = overtime
	s.campaigns[id] = c
	return nil
}

func (s *Store) DueCampaigns(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status == domain.CampaignActive && c.NextCheckInAt != nil && !c.NextCheckInAt.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextCheckInAt.Before(*out[j].NextCheckInAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// saveCandidateLocked stores c, merging it into the record sharing its
// dedup key (or id). With authoritative set, c's non-empty fields win;
// otherwise they only fill fields the stored record lacks.
func (s *Store) saveCandidateLocked(c domain.Candidate, authoritative bool) domain.Candidate {
	if id, ok := s.byDedup[c.DedupKey]; ok && c.DedupKey != "" {
		existing := s.candidates[id]
		mergeInto(&existing, c, authoritative)
		s.candidates[id] = existing
		return existing
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if prev, ok := s.candidates[c.ID]; ok {
		mergeInto(&prev, c, authoritative)
		c = prev
	}
	s.candidates[c.ID] = c
	if c.DedupKey != "" {
		s.byDedup[c.DedupKey] = c.ID
	}
	return c
}

// mergeInto copies fields of src onto dst, keeping dst's identity and tier.
// Without overwrite only empty fields of dst are filled.
func mergeInto(dst *domain.Candidate, src domain.Candidate, overwrite bool) {
	str := func(d *string, v string) {
		if v != "" && (overwrite || *d == "") {
			*d = v
		}
	}
	list := func(d *[]string, v []string) {
		if len(v) > 0 && (overwrite || len(*d) == 0) {
			*d = v
		}
	}
	str(&dst.Name, src.Name)
	str(&dst.Contact.Email, src.Contact.Email)
	str(&dst.Contact.Phone, src.Contact.Phone)
	str(&dst.Contact.FormURL, src.Contact.FormURL)
	str(&dst.Contact.Website, src.Contact.Website)
	str(&dst.Description, src.Description)
	str(&dst.Location.Address, src.Location.Address)
	str(&dst.Location.PostalCode, src.Location.PostalCode)
	list(&dst.Categories, src.Categories)
	list(&dst.Specialties, src.Specialties)
	if src.Location.Coordinates != nil && (overwrite || dst.Location.Coordinates == nil) {
		dst.Location.Coordinates = src.Location.Coordinates
	}
	if src.Reputation.Rating != nil && (overwrite || dst.Reputation.Rating == nil) {
		dst.Reputation.Rating = src.Reputation.Rating
		dst.Reputation.ReviewCount = src.Reputation.ReviewCount
	}
	if src.Reputation.Licensed != nil && (overwrite || dst.Reputation.Licensed == nil) {
		dst.Reputation.Licensed = src.Reputation.Licensed
	}
	if src.PriceRange != nil && (overwrite || dst.PriceRange == nil) {
		dst.PriceRange = src.PriceRange
	}
	if src.ExternalRef.Key() != "" && (overwrite || dst.ExternalRef.Key() == "") {
		dst.ExternalRef = src.ExternalRef
	}
	if dst.DedupKey == "" {
		dst.DedupKey = src.DedupKey
	}
}

func (s *Store) SaveCandidate(_ context.Context, c domain.Candidate) (domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCandidateLocked(c, false), nil
}

func (s *Store) RegisterProvider(_ context.Context, c domain.Candidate) (domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c = s.saveCandidateLocked(c, true)
	s.registry[c.ID] = true
	return c, nil
}

func (s *Store) GetCandidates(_ context.Context, ids []string) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Candidate, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.candidates[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func inArea(c domain.Candidate, q matching.AreaQuery) bool {
	if !c.HasCategory(q.Category) {
		return false
	}
	if q.Box != nil {
		return c.Location.Coordinates != nil && q.Box.Contains(*c.Location.Coordinates)
	}
	return q.PostalCode != "" && strings.EqualFold(q.PostalCode, c.Location.PostalCode)
}

func (s *Store) SearchRegistry(_ context.Context, q matching.AreaQuery) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Candidate
	for id := range s.registry {
		if c := s.candidates[id]; inArea(c, q) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SearchHistory returns candidates assigned to campaigns of other jobs in
// the same category that never responded in any of them.
func (s *Store) SearchHistory(_ context.Context, q matching.AreaQuery) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacted := map[string]bool{}
	responded := map[string]bool{}
	for cid, as := range s.assignments {
		cp := s.campaigns[cid]
		if cp.JobID == q.ExcludeJobID || !strings.EqualFold(s.jobs[cp.JobID].Category, q.Category) {
			continue
		}
		for _, a := range as {
			contacted[a.CandidateID] = true
		}
	}
	for _, a := range s.attempts {
		if a.Status == domain.AttemptResponded && contacted[a.CandidateID] {
			cp := s.campaigns[a.CampaignID]
			if cp.JobID != q.ExcludeJobID && strings.EqualFold(s.jobs[cp.JobID].Category, q.Category) {
				responded[a.CandidateID] = true
			}
		}
	}

	var out []domain.Candidate
	for id := range contacted {
		c := s.candidates[id]
		if responded[id] {
			continue
		}
		if q.Box != nil {
			if c.Location.Coordinates == nil || !q.Box.Contains(*c.Location.Coordinates) {
				continue
			}
		} else if !strings.EqualFold(q.PostalCode, c.Location.PostalCode) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AssignCandidate(_ context.Context, a domain.Assignment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignments[a.CampaignID] {
		if existing.DedupKey == a.DedupKey || existing.CandidateID == a.CandidateID {
			return false, nil
		}
	}
	s.assignments[a.CampaignID] = append(s.assignments[a.CampaignID], a)
	return true, nil
}

func (s *Store) ListAssignments(_ context.Context, campaignID string) ([]domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Assignment(nil), s.assignments[campaignID]...), nil
}

func (s *Store) SaveScore(_ context.Context, rec domain.ScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.scores[rec.CampaignID] {
		if existing.CandidateID == rec.CandidateID {
			return nil
		}
	}
	s.scores[rec.CampaignID] = append(s.scores[rec.CampaignID], rec)
	return nil
}

func (s *Store) ListScores(_ context.Context, campaignID string) ([]domain.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ScoreRecord(nil), s.scores[campaignID]...), nil
}

func (s *Store) ClaimCheckIn(_ context.Context, ci domain.CheckIn) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.checkIns[ci.CampaignID] {
		if existing.Milestone == ci.Milestone {
			return false, nil
		}
	}
	s.checkIns[ci.CampaignID] = append(s.checkIns[ci.CampaignID], ci)
	return true, nil
}

func (s *Store) CompleteCheckIn(_ context.Context, ci domain.CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.checkIns[ci.CampaignID]
	for i := range list {
		if list[i].Milestone == ci.Milestone {
			list[i] = ci
			return nil
		}
	}
	return campaign.ErrNotFound
}

func (s *Store) ListCheckIns(_ context.Context, campaignID string) ([]domain.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CheckIn(nil), s.checkIns[campaignID]...), nil
}

// ---------------------------------------------------------------------------
// Attempts
// ---------------------------------------------------------------------------

func attemptKey(campaignID, candidateID string, ch domain.Channel) string {
	return campaignID + "|" + candidateID + "|" + string(ch)
}

func (s *Store) OpenAttempt(_ context.Context, a domain.OutreachAttempt) (domain.OutreachAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey(a.CampaignID, a.CandidateID, a.Channel)
	if id, ok := s.attemptKeys[key]; ok {
		return s.attempts[id], false, nil
	}
	s.attempts[a.ID] = a
	s.attemptKeys[key] = a.ID
	s.order = append(s.order, a.ID)
	return a, true, nil
}

func (s *Store) GetAttempt(_ context.Context, id string) (domain.OutreachAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return domain.OutreachAttempt{}, outreach.ErrAttemptNotFound
	}
	return a, nil
}

func (s *Store) UpdateAttempt(_ context.Context, id string, from []domain.AttemptStatus, u outreach.AttemptUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return false, outreach.ErrAttemptNotFound
	}
	allowed := false
	for _, f := range from {
		if a.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	a.Status = u.Status
	if u.ProviderRef != nil {
		a.ProviderRef = *u.ProviderRef
		if *u.ProviderRef != "" {
			s.attemptRefs[*u.ProviderRef] = id
		}
	}
	if u.SentAt != nil {
		a.SentAt = u.SentAt
	}
	if u.RespondedAt != nil {
		a.RespondedAt = u.RespondedAt
	}
	if u.SendTries != nil {
		a.SendTries = *u.SendTries
	}
	if u.LastError != nil {
		a.LastError = *u.LastError
	}
	a.UpdatedAt = u.At
	s.attempts[id] = a
	return true, nil
}

func (s *Store) BeginResend(_ context.Context, id string, rule outreach.ResendRule) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return false, outreach.ErrAttemptNotFound
	}
	if a.Status == domain.AttemptResponded || a.Status == domain.AttemptPending ||
		a.RetryCount >= rule.MaxRetries || a.LastActivity().After(rule.NotAfter) {
		return false, nil
	}
	a.Status = domain.AttemptPending
	a.RetryCount++
	a.SendTries = 0
	a.UpdatedAt = rule.At
	s.attempts[id] = a
	return true, nil
}

func (s *Store) FindAttemptByRef(_ context.Context, ref string) (domain.OutreachAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.attemptRefs[ref]
	if !ok {
		return domain.OutreachAttempt{}, outreach.ErrAttemptNotFound
	}
	return s.attempts[id], nil
}

func (s *Store) FindLatestAttemptByContact(_ context.Context, ch domain.Channel, contact string) (domain.OutreachAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.OutreachAttempt
	for i := len(s.order) - 1; i >= 0; i-- {
		a := s.attempts[s.order[i]]
		if a.Channel != ch || !sameContact(ch, a.Contact, contact) || a.SentAt == nil {
			continue
		}
		if best == nil || a.SentAt.After(*best.SentAt) {
			cp := a
			best = &cp
		}
	}
	if best == nil {
		return domain.OutreachAttempt{}, outreach.ErrAttemptNotFound
	}
	return *best, nil
}

func sameContact(ch domain.Channel, a, b string) bool {
	return outreach.NormalizeContact(string(ch), a) == outreach.NormalizeContact(string(ch), b)
}

func (s *Store) ListAttempts(_ context.Context, campaignID string) ([]domain.OutreachAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutreachAttempt
	for _, id := range s.order {
		if a := s.attempts[id]; a.CampaignID == campaignID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) CountRespondedCandidates(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, a := range s.attempts {
		if a.CampaignID == campaignID && a.Status == domain.AttemptResponded {
			seen[a.CandidateID] = true
		}
	}
	return len(seen), nil
}

// SeedRegistry registers providers in bulk, deriving missing dedup keys.
func (s *Store) SeedRegistry(cands ...domain.Candidate) {
	for _, c := range cands {
		if c.DedupKey == "" {
			c.DedupKey = scoring.DedupKey(c)
		}
		s.RegisterProvider(context.Background(), c)
	}
}
