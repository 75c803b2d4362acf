// Package outreach sends contact attempts to candidates over their
// channels, tracks every attempt's lifecycle and enforces per-channel
// provider limits.
package outreach

import (
	"context"
	"time"

	"github.com/ignite/provider-outreach/internal/domain"
)

// Message is one rendered outreach message for one attempt.
type Message struct {
	AttemptID   string
	CampaignID  string
	CandidateID string
	Channel     domain.Channel
	To          string
	Subject     string
	Body        string
	HTML        string
	ReplyTo     string
	ResponseURL string
	// Fields are submitted as-is by form-based channels.
	Fields map[string]string
}

// SendResult is what a channel provider reports for an accepted message.
type SendResult struct {
	ProviderRef string
	At          time.Time
}

// Sender delivers messages over one channel. Transient failures are
// returned as plain errors and retried; wrap with retry.Permanent for
// failures that cannot succeed on retry.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, msg Message) (SendResult, error)
}
