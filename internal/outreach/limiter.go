package outreach

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/ignite/provider-outreach/internal/domain"
)

// ChannelLimit bounds one channel within this process.
type ChannelLimit struct {
	Concurrency int     `yaml:"concurrency"`
	PerSecond   float64 `yaml:"per_second"`
	Burst       int     `yaml:"burst"`
}

// Quota is a cross-process send budget, usually a RedisQuota.
type Quota interface {
	Take(ctx context.Context, ch domain.Channel) (allowed bool, wait time.Duration, err error)
}

type channelGate struct {
	sem chan struct{}
	lim *rate.Limiter
}

// Limiter bounds concurrent and per-second sends per channel, then draws
// on an optional shared quota.
type Limiter struct {
	gates map[domain.Channel]*channelGate
	quota Quota
}

// NewLimiter builds gates for every channel. Channels missing from limits
// get four concurrent sends at ten per second.
func NewLimiter(limits map[domain.Channel]ChannelLimit, quota Quota) *Limiter {
	l := &Limiter{gates: make(map[domain.Channel]*channelGate), quota: quota}
	for _, ch := range domain.AllChannels {
		cfg, ok := limits[ch]
		if !ok {
			cfg = ChannelLimit{Concurrency: 4, PerSecond: 10}
		}
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = 1
		}
		r := rate.Inf
		if cfg.PerSecond > 0 {
			r = rate.Limit(cfg.PerSecond)
		}
		if cfg.Burst <= 0 {
			cfg.Burst = cfg.Concurrency
		}
		l.gates[ch] = &channelGate{sem: make(chan struct{}, cfg.Concurrency), lim: rate.NewLimiter(r, cfg.Burst)}
	}
	return l
}

// Acquire blocks until a send on ch may start. The returned release frees
// the concurrency slot.
func (l *Limiter) Acquire(ctx context.Context, ch domain.Channel) (func(), error) {
	g := l.gates[ch]
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-g.sem }

	if err := g.lim.Wait(ctx); err != nil {
		release()
		return nil, err
	}
	if l.quota != nil {
		for {
			ok, wait, err := l.quota.Take(ctx, ch)
			if err != nil {
				release()
				return nil, err
			}
			if ok {
				break
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				release()
				return nil, ctx.Err()
			}
		}
	}
	return release, nil
}
