package outreach

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/provider-outreach/internal/domain"
)

var (
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrInvalidTransition = errors.New("invalid attempt status transition")
)

// AttemptUpdate is applied by a conditional status change. Nil fields are
// left untouched.
type AttemptUpdate struct {
	Status      domain.AttemptStatus
	ProviderRef *string
	SentAt      *time.Time
	RespondedAt *time.Time
	SendTries   *int
	LastError   *string
	At          time.Time
}

// ResendRule gates the escalation resend path.
type ResendRule struct {
	// NotAfter is the latest acceptable last activity (now - cool-down).
	NotAfter   time.Time
	MaxRetries int
	At         time.Time
}

// AttemptStore persists outreach attempts. Every mutation is conditional so
// concurrent writers and replayed callbacks cannot regress a status.
type AttemptStore interface {
	// OpenAttempt inserts a unless an attempt already exists for the same
	// (campaign, candidate, channel); the stored attempt is returned either way.
	OpenAttempt(ctx context.Context, a domain.OutreachAttempt) (domain.OutreachAttempt, bool, error)
	GetAttempt(ctx context.Context, id string) (domain.OutreachAttempt, error)
	// UpdateAttempt applies u only while the attempt is in one of from.
	UpdateAttempt(ctx context.Context, id string, from []domain.AttemptStatus, u AttemptUpdate) (bool, error)
	// BeginResend moves a non-responded attempt back to pending and bumps
	// RetryCount when the rule allows it.
	BeginResend(ctx context.Context, id string, rule ResendRule) (bool, error)
	FindAttemptByRef(ctx context.Context, providerRef string) (domain.OutreachAttempt, error)
	// FindLatestAttemptByContact returns the newest attempt sent to contact
	// over ch, used to match inbound replies that carry no reference.
	FindLatestAttemptByContact(ctx context.Context, ch domain.Channel, contact string) (domain.OutreachAttempt, error)
	ListAttempts(ctx context.Context, campaignID string) ([]domain.OutreachAttempt, error)
	// CountRespondedCandidates counts distinct candidates with a responded
	// attempt in the campaign.
	CountRespondedCandidates(ctx context.Context, campaignID string) (int, error)
}
