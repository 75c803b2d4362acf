package domain

import "time"

// Channel identifies an outreach medium.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelWebForm Channel = "web_form"
)

// AllChannels lists every supported channel.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelWebForm}

// Valid reports whether ch is a known channel.
func (ch Channel) Valid() bool {
	return ch == ChannelEmail || ch == ChannelSMS || ch == ChannelWebForm
}

// AttemptStatus enumerates the lifecycle of a single outreach attempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSent      AttemptStatus = "sent"
	AttemptDelivered AttemptStatus = "delivered"
	AttemptFailed    AttemptStatus = "failed"
	AttemptResponded AttemptStatus = "responded"
)

// IsOpen reports whether an attempt is still waiting on the channel
// (pending or sent). At most one open attempt exists per
// (campaign, candidate, channel).
func (s AttemptStatus) IsOpen() bool {
	return s == AttemptPending || s == AttemptSent
}

// OutreachAttempt is one contact attempt to one candidate over one channel
// within one campaign.
type OutreachAttempt struct {
	ID          string        `json:"id" db:"id"`
	CampaignID  string        `json:"campaign_id" db:"campaign_id"`
	CandidateID string        `json:"candidate_id" db:"candidate_id"`
	Channel     Channel       `json:"channel" db:"channel"`
	Contact     string        `json:"-" db:"contact"`
	Status      AttemptStatus `json:"status" db:"status"`
	ProviderRef string        `json:"provider_ref,omitempty" db:"provider_ref"`
	SentAt      *time.Time    `json:"sent_at,omitempty" db:"sent_at"`
	RespondedAt *time.Time    `json:"responded_at,omitempty" db:"responded_at"`

	// RetryCount only grows through the escalation resend path.
	RetryCount int `json:"retry_count" db:"retry_count"`
	// SendTries counts provider calls made by the latest dispatch.
	SendTries int    `json:"send_tries" db:"send_tries"`
	LastError string `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LastActivity returns when the attempt was last sent, falling back to
// creation for attempts never sent. Callbacks do not count.
func (a *OutreachAttempt) LastActivity() time.Time {
	if a.SentAt != nil {
		return *a.SentAt
	}
	return a.CreatedAt
}

// ResponseKind is the type of a callback reported by a channel provider.
type ResponseKind string

const (
	ResponseDelivered ResponseKind = "delivered"
	ResponseReplied   ResponseKind = "responded"
	ResponseFailed    ResponseKind = "failed"
)

// ResponseEvent is a channel callback that must be matched back to an attempt,
// either by ProviderRef, by AttemptID, or by inbound Contact on a Channel.
type ResponseEvent struct {
	Kind        ResponseKind `json:"kind"`
	ProviderRef string       `json:"provider_ref,omitempty"`
	AttemptID   string       `json:"attempt_id,omitempty"`
	Channel     Channel      `json:"channel,omitempty"`
	Contact     string       `json:"contact,omitempty"`
	Detail      string       `json:"detail,omitempty"`
	At          time.Time    `json:"at"`
}
