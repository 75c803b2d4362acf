// Package metrics exposes Prometheus counters for discovery, outreach and
// campaign lifecycle events.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

var (
	DiscoveryCandidates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_discovery_candidates_total",
		Help: "Candidates returned by each tier matcher.",
	}, []string{"tier"})

	TierCTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outreach_tier_c_timeouts_total",
		Help: "Live discovery calls that hit their deadline and returned partial results.",
	})

	Attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_attempts_total",
		Help: "Outreach attempt status changes by channel.",
	}, []string{"channel", "status"})

	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_campaign_transitions_total",
		Help: "Campaign status transitions by target status.",
	}, []string{"status"})

	Escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_escalations_total",
		Help: "Check-in escalation actions taken.",
	}, []string{"action"})

	campaignsDesc = prometheus.NewDesc(
		"outreach_campaigns",
		"Campaigns currently stored, by status",
		[]string{"status"},
		nil,
	)
)

// StatusCounter reports how many campaigns sit in each status.
type StatusCounter interface {
	CountCampaignsByStatus(ctx context.Context) (map[string]int, error)
}

// CampaignCollector reads campaign counts from the store on each scrape.
type CampaignCollector struct {
	store StatusCounter
}

// Describe sends the metric descriptor to the channel.
func (c *CampaignCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- campaignsDesc
}

// Collect queries the store and emits one gauge per status.
func (c *CampaignCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	counts, err := c.store.CountCampaignsByStatus(ctx)
	if err != nil {
		logger.Error("failed to collect campaign metrics", "error", err)
		return
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(campaignsDesc, prometheus.GaugeValue, float64(n), status)
	}
}

var registerOnce sync.Once

// Register adds every collector to reg. store may be nil, in which case
// the per-status gauge is skipped. Safe to call more than once.
func Register(reg prometheus.Registerer, store StatusCounter) {
	registerOnce.Do(func() {
		reg.MustRegister(DiscoveryCandidates, TierCTimeouts, Attempts, Transitions, Escalations)
		if store != nil {
			reg.MustRegister(&CampaignCollector{store: store})
		}
	})
}
