package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/metrics"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

// attemptFrom lists the statuses each target status may be entered from.
// responded is terminal; failed can still turn into responded when a reply
// arrives after a bounce or status error.
var attemptFrom = map[domain.AttemptStatus][]domain.AttemptStatus{
	domain.AttemptSent:      {domain.AttemptPending},
	domain.AttemptDelivered: {domain.AttemptPending, domain.AttemptSent},
	domain.AttemptFailed:    {domain.AttemptPending, domain.AttemptSent},
	domain.AttemptResponded: {domain.AttemptPending, domain.AttemptSent, domain.AttemptDelivered, domain.AttemptFailed},
}

// Tracker owns the attempt lifecycle
// pending → sent → delivered → responded, with failed reachable from
// pending or sent.
type Tracker struct {
	store AttemptStore
	now   func() time.Time
	log   *logger.Logger
}

// NewTracker returns a tracker over store.
func NewTracker(store AttemptStore) *Tracker {
	return &Tracker{store: store, now: time.Now, log: logger.Named("tracker")}
}

// WithClock replaces the time source. Used by tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Open returns the attempt for (campaign, candidate, channel), creating a
// pending one when none exists.
func (t *Tracker) Open(ctx context.Context, campaignID string, c domain.Candidate, ch domain.Channel) (domain.OutreachAttempt, bool, error) {
	now := t.now().UTC()
	a := domain.OutreachAttempt{
		ID:          uuid.New().String(),
		CampaignID:  campaignID,
		CandidateID: c.ID,
		Channel:     ch,
		Contact:     c.Contact.Address(ch),
		Status:      domain.AttemptPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	stored, created, err := t.store.OpenAttempt(ctx, a)
	if err != nil {
		return domain.OutreachAttempt{}, false, fmt.Errorf("open attempt: %w", err)
	}
	if created {
		metrics.Attempts.WithLabelValues(string(ch), string(domain.AttemptPending)).Inc()
	}
	return stored, created, nil
}

func (t *Tracker) transition(ctx context.Context, a domain.OutreachAttempt, u AttemptUpdate) (bool, error) {
	u.At = t.now().UTC()
	ok, err := t.store.UpdateAttempt(ctx, a.ID, attemptFrom[u.Status], u)
	if err != nil {
		return false, fmt.Errorf("update attempt %s: %w", a.ID, err)
	}
	if ok {
		metrics.Attempts.WithLabelValues(string(a.Channel), string(u.Status)).Inc()
	}
	return ok, nil
}

// MarkSent records provider acceptance.
func (t *Tracker) MarkSent(ctx context.Context, a domain.OutreachAttempt, res SendResult, tries int) (bool, error) {
	at := res.At
	if at.IsZero() {
		at = t.now().UTC()
	}
	empty := ""
	return t.transition(ctx, a, AttemptUpdate{
		Status: domain.AttemptSent, ProviderRef: &res.ProviderRef, SentAt: &at, SendTries: &tries, LastError: &empty,
	})
}

// MarkFailed records a send that exhausted its retries or was abandoned.
func (t *Tracker) MarkFailed(ctx context.Context, a domain.OutreachAttempt, tries int, cause error) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return t.transition(ctx, a, AttemptUpdate{Status: domain.AttemptFailed, SendTries: &tries, LastError: &msg})
}

// BeginResend re-arms a non-responded attempt for the escalation resend.
func (t *Tracker) BeginResend(ctx context.Context, a domain.OutreachAttempt, cooldown time.Duration, maxRetries int) (bool, error) {
	now := t.now().UTC()
	ok, err := t.store.BeginResend(ctx, a.ID, ResendRule{NotAfter: now.Add(-cooldown), MaxRetries: maxRetries, At: now})
	if err != nil {
		return false, fmt.Errorf("begin resend %s: %w", a.ID, err)
	}
	return ok, nil
}

// Resolve finds the attempt an event refers to: by provider reference,
// then attempt id, then the latest attempt to the inbound contact.
func (t *Tracker) Resolve(ctx context.Context, ev domain.ResponseEvent) (domain.OutreachAttempt, error) {
	if ev.ProviderRef != "" {
		a, err := t.store.FindAttemptByRef(ctx, ev.ProviderRef)
		if err == nil || !errors.Is(err, ErrAttemptNotFound) {
			return a, err
		}
	}
	if ev.AttemptID != "" {
		a, err := t.store.GetAttempt(ctx, ev.AttemptID)
		if err == nil || !errors.Is(err, ErrAttemptNotFound) {
			return a, err
		}
	}
	if ev.Contact != "" && ev.Channel != "" {
		return t.store.FindLatestAttemptByContact(ctx, ev.Channel, ev.Contact)
	}
	return domain.OutreachAttempt{}, ErrAttemptNotFound
}

// Record applies a channel callback. It returns the attempt as resolved and
// whether the status changed; replays and stale callbacks change nothing.
func (t *Tracker) Record(ctx context.Context, ev domain.ResponseEvent) (domain.OutreachAttempt, bool, error) {
	a, err := t.Resolve(ctx, ev)
	if err != nil {
		return domain.OutreachAttempt{}, false, err
	}
	at := ev.At
	if at.IsZero() {
		at = t.now().UTC()
	}

	var u AttemptUpdate
	switch ev.Kind {
	case domain.ResponseDelivered:
		u = AttemptUpdate{Status: domain.AttemptDelivered}
	case domain.ResponseReplied:
		u = AttemptUpdate{Status: domain.AttemptResponded, RespondedAt: &at}
	case domain.ResponseFailed:
		detail := ev.Detail
		if detail == "" {
			detail = "provider reported failure"
		}
		u = AttemptUpdate{Status: domain.AttemptFailed, LastError: &detail}
	default:
		return a, false, fmt.Errorf("unknown response kind %q", ev.Kind)
	}

	changed, err := t.transition(ctx, a, u)
	if err != nil {
		return a, false, err
	}
	if changed {
		a.Status = u.Status
		if u.RespondedAt != nil {
			a.RespondedAt = u.RespondedAt
		}
		t.log.Info("attempt updated", "attempt_id", a.ID, "campaign_id", a.CampaignID, "status", a.Status)
	}
	return a, changed, nil
}

// List returns all attempts in a campaign.
func (t *Tracker) List(ctx context.Context, campaignID string) ([]domain.OutreachAttempt, error) {
	return t.store.ListAttempts(ctx, campaignID)
}

// Responded counts distinct responding candidates in a campaign.
func (t *Tracker) Responded(ctx context.Context, campaignID string) (int, error) {
	return t.store.CountRespondedCandidates(ctx, campaignID)
}

// MarkDelivered records a provider delivery confirmation for attempt id.
func (t *Tracker) MarkDelivered(ctx context.Context, attemptID string) (domain.OutreachAttempt, bool, error) {
	return t.Record(ctx, domain.ResponseEvent{Kind: domain.ResponseDelivered, AttemptID: attemptID})
}

// MarkResponded records a candidate response for attempt id.
func (t *Tracker) MarkResponded(ctx context.Context, attemptID string) (domain.OutreachAttempt, bool, error) {
	return t.Record(ctx, domain.ResponseEvent{Kind: domain.ResponseReplied, AttemptID: attemptID})
}
