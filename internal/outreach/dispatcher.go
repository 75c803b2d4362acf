package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
	"github.com/ignite/provider-outreach/internal/pkg/retry"
)

// ErrCampaignInactive stops a dispatch whose campaign left the active state.
var ErrCampaignInactive = errors.New("campaign no longer active")

// CampaignGate reports whether a campaign still accepts new sends. It is
// consulted before every try.
type CampaignGate interface {
	Active(ctx context.Context, campaignID string) (bool, error)
}

// Request is one dispatch: a candidate over one channel within a campaign.
// Attempt is set for escalation resends of an existing attempt.
type Request struct {
	Job       domain.JobRequest
	Campaign  string
	Candidate domain.Candidate
	Channel   domain.Channel
	Attempt   *domain.OutreachAttempt
}

// Outcome is the recorded result of a Request.
type Outcome struct {
	Attempt domain.OutreachAttempt
	Err     error
}

// DispatcherConfig tunes sending.
type DispatcherConfig struct {
	Retry retry.Policy
	// SendTimeout bounds a single provider call.
	SendTimeout time.Duration
	// Parallelism caps concurrent dispatches in DispatchAll.
	Parallelism int
}

// Dispatcher renders and sends attempts through channel providers.
type Dispatcher struct {
	tracker  *Tracker
	composer *Composer
	limiter  *Limiter
	gate     CampaignGate
	senders  map[domain.Channel]Sender
	cfg      DispatcherConfig
	log      *logger.Logger
}

// NewDispatcher wires a dispatcher. senders without a matching channel
// configured leave that channel unavailable.
func NewDispatcher(tracker *Tracker, composer *Composer, limiter *Limiter, gate CampaignGate, cfg DispatcherConfig, senders ...Sender) *Dispatcher {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Default
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 16
	}
	d := &Dispatcher{
		tracker: tracker, composer: composer, limiter: limiter, gate: gate,
		senders: make(map[domain.Channel]Sender), cfg: cfg, log: logger.Named("dispatcher"),
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
	}
	return d
}

// Supports reports whether a sender is configured for ch.
func (d *Dispatcher) Supports(ch domain.Channel) bool {
	_, ok := d.senders[ch]
	return ok
}

// Channels returns the configured channels of c in preference order.
func (d *Dispatcher) Channels(c domain.Candidate) []domain.Channel {
	var out []domain.Channel
	for _, ch := range c.Channels() {
		if d.Supports(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// Dispatch opens (or reuses) the attempt for req and sends it with bounded
// retries. The returned attempt reflects the recorded outcome. An attempt
// that already left pending is returned without sending again.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (domain.OutreachAttempt, error) {
	sender, ok := d.senders[req.Channel]
	if !ok {
		return domain.OutreachAttempt{}, fmt.Errorf("no sender for channel %q", req.Channel)
	}

	var a domain.OutreachAttempt
	if req.Attempt != nil {
		a = *req.Attempt
	} else {
		opened, _, err := d.tracker.Open(ctx, req.Campaign, req.Candidate, req.Channel)
		if err != nil {
			return domain.OutreachAttempt{}, err
		}
		a = opened
	}
	if a.Status != domain.AttemptPending {
		return a, nil
	}

	msg, composeErr := d.composer.Compose(req.Job, req.Candidate, a)
	if composeErr != nil {
		if _, err := d.tracker.MarkFailed(context.WithoutCancel(ctx), a, 0, composeErr); err != nil {
			return a, err
		}
		a.Status, a.LastError = domain.AttemptFailed, composeErr.Error()
		return a, domain.SendFailure(string(req.Channel), composeErr)
	}

	var res SendResult
	tries, sendErr := retry.Do(ctx, d.cfg.Retry, func(ctx context.Context, attempt int) error {
		active, err := d.gate.Active(ctx, req.Campaign)
		if err != nil {
			return err
		}
		if !active {
			return retry.Permanent(ErrCampaignInactive)
		}
		release, err := d.limiter.Acquire(ctx, req.Channel)
		if err != nil {
			return retry.Permanent(err)
		}
		defer release()

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
		res, err = sender.Send(callCtx, msg)
		if err != nil {
			d.log.Warn("send failed", "attempt_id", a.ID, "channel", req.Channel, "try", attempt, "contact", msg.To, "error", err)
		}
		return err
	})

	// Results are recorded even when the campaign was cancelled mid-flight;
	// an inactive campaign simply ignores them.
	record := context.WithoutCancel(ctx)
	if sendErr == nil {
		if ok, err := d.tracker.MarkSent(record, a, res, tries); err != nil {
			return a, err
		} else if ok {
			a.Status, a.ProviderRef, a.SendTries = domain.AttemptSent, res.ProviderRef, tries
		}
		return a, nil
	}

	if _, err := d.tracker.MarkFailed(record, a, tries, sendErr); err != nil {
		return a, err
	}
	a.Status, a.SendTries, a.LastError = domain.AttemptFailed, tries, sendErr.Error()
	if errors.Is(sendErr, ErrCampaignInactive) {
		return a, sendErr
	}
	return a, domain.SendFailure(string(req.Channel), sendErr)
}

// DispatchAll runs every request concurrently. One failure never cancels
// the others; each outcome is reported in input order.
func (d *Dispatcher) DispatchAll(ctx context.Context, reqs []Request) []Outcome {
	out := make([]Outcome, len(reqs))
	var g errgroup.Group
	g.SetLimit(d.cfg.Parallelism)
	for i, req := range reqs {
		g.Go(func() error {
			a, err := d.Dispatch(ctx, req)
			out[i] = Outcome{Attempt: a, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
