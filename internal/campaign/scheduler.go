package campaign

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/provider-outreach/internal/pkg/distlock"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

// DefaultPollInterval is how often the scheduler looks for due check-ins.
const DefaultPollInterval = 30 * time.Second

// SchedulerConfig tunes the check-in loop.
type SchedulerConfig struct {
	PollInterval time.Duration
	// BatchSize caps campaigns evaluated per tick.
	BatchSize int
	// Parallelism caps concurrent evaluations within a tick.
	Parallelism int
	// EvaluateTimeout bounds one campaign's evaluation, lock wait and
	// inline dispatch included.
	EvaluateTimeout time.Duration
}

// SchedulerStats are cumulative counters of the check-in loop.
type SchedulerStats struct {
	Ticks     int64 `json:"ticks"`
	Evaluated int64 `json:"evaluated"`
	Errors    int64 `json:"errors"`
	Skipped   int64 `json:"skipped"`
}

// Scheduler polls for campaigns whose next check-in is due and evaluates
// them. With a leader lock only one instance polls at a time; evaluation is
// safe to repeat either way.
type Scheduler struct {
	svc    *Service
	store  Store
	leader distlock.DistLock
	cfg    SchedulerConfig
	log    *logger.Logger

	ticks     int64
	evaluated int64
	errors    int64
	skipped   int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewScheduler creates a scheduler. leader may be nil.
func NewScheduler(svc *Service, leader distlock.DistLock, cfg SchedulerConfig) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.EvaluateTimeout <= 0 {
		cfg.EvaluateTimeout = 2 * time.Minute
	}
	return &Scheduler{svc: svc, store: svc.store, leader: leader, cfg: cfg, log: logger.Named("scheduler")}
}

// Start begins the polling loop.
func (cs *Scheduler) Start() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.running {
		return fmt.Errorf("scheduler already running")
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(context.Background())

	cs.log.Info("starting", "poll_interval", cs.cfg.PollInterval.String())
	cs.wg.Add(1)
	go cs.loop()
	return nil
}

// Stop ends the loop and waits for the current tick to finish.
func (cs *Scheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.cancel()
	cs.mu.Unlock()

	cs.wg.Wait()
	cs.log.Info("stopped", "evaluated", atomic.LoadInt64(&cs.evaluated), "errors", atomic.LoadInt64(&cs.errors))
}

// Stats returns a snapshot of the counters.
func (cs *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Ticks:     atomic.LoadInt64(&cs.ticks),
		Evaluated: atomic.LoadInt64(&cs.evaluated),
		Errors:    atomic.LoadInt64(&cs.errors),
		Skipped:   atomic.LoadInt64(&cs.skipped),
	}
}

func (cs *Scheduler) loop() {
	defer cs.wg.Done()
	ticker := time.NewTicker(cs.cfg.PollInterval)
	defer ticker.Stop()

	cs.Tick(cs.ctx)
	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.Tick(cs.ctx)
		}
	}
}

// Tick evaluates every due campaign once and returns how many check-ins
// were recorded.
func (cs *Scheduler) Tick(ctx context.Context) int {
	atomic.AddInt64(&cs.ticks, 1)
	if cs.leader != nil {
		ok, err := cs.leader.Acquire(ctx)
		if err != nil {
			cs.log.Warn("leader lock failed", "error", err)
			return 0
		}
		if !ok {
			atomic.AddInt64(&cs.skipped, 1)
			return 0
		}
		defer cs.leader.Release(context.WithoutCancel(ctx))
	}

	due, err := cs.store.DueCampaigns(ctx, cs.svc.now().UTC(), cs.cfg.BatchSize)
	if err != nil {
		atomic.AddInt64(&cs.errors, 1)
		cs.log.Error("load due campaigns failed", "error", err)
		return 0
	}

	var recorded int64
	var g errgroup.Group
	g.SetLimit(cs.cfg.Parallelism)
	for _, c := range due {
		g.Go(func() error {
			evalCtx, cancel := context.WithTimeout(ctx, cs.cfg.EvaluateTimeout)
			defer cancel()
			ci, err := cs.svc.EvaluateCheckIn(evalCtx, c.ID)
			if err != nil {
				atomic.AddInt64(&cs.errors, 1)
				cs.log.Error("check-in failed", "campaign_id", c.ID, "error", err)
				return nil
			}
			if ci != nil {
				atomic.AddInt64(&recorded, 1)
				atomic.AddInt64(&cs.evaluated, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(recorded)
}
