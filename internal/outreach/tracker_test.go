package outreach_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/repository/memory"
)

func sentAttempt(t *testing.T, tr *outreach.Tracker, c domain.Candidate, ch domain.Channel, ref string) domain.OutreachAttempt {
	t.Helper()
	ctx := context.Background()
	a, created, err := tr.Open(ctx, "camp-1", c, ch)
	require.NoError(t, err)
	require.True(t, created)
	ok, err := tr.MarkSent(ctx, a, outreach.SendResult{ProviderRef: ref}, 1)
	require.NoError(t, err)
	require.True(t, ok)
	a.Status, a.ProviderRef = domain.AttemptSent, ref
	return a
}

func TestTrackerOpenIsIdempotentPerChannel(t *testing.T) {
	tr := outreach.NewTracker(memory.New())
	ctx := context.Background()
	c := candidate("c01")

	a, created, err := tr.Open(ctx, "camp-1", c, domain.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.AttemptPending, a.Status)
	assert.Equal(t, "c01@example.com", a.Contact)

	b, created, err := tr.Open(ctx, "camp-1", c, domain.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, b.ID)

	s, created, err := tr.Open(ctx, "camp-1", c, domain.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, s.ID)
}

func TestTrackerStatusNeverRegresses(t *testing.T) {
	tr := outreach.NewTracker(memory.New())
	ctx := context.Background()
	a := sentAttempt(t, tr, candidate("c01"), domain.ChannelEmail, "ses-1")

	got, changed, err := tr.Record(ctx, domain.ResponseEvent{Kind: domain.ResponseReplied, ProviderRef: "ses-1"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.AttemptResponded, got.Status)

	// A late delivery receipt or bounce cannot undo a response.
	_, changed, err = tr.Record(ctx, domain.ResponseEvent{Kind: domain.ResponseDelivered, ProviderRef: "ses-1"})
	require.NoError(t, err)
	assert.False(t, changed)
	_, changed, err = tr.MarkResponded(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	n, err := tr.Responded(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTrackerFailedCanStillRespond(t *testing.T) {
	tr := outreach.NewTracker(memory.New())
	ctx := context.Background()
	a := sentAttempt(t, tr, candidate("c01"), domain.ChannelEmail, "ses-2")

	_, changed, err := tr.Record(ctx, domain.ResponseEvent{Kind: domain.ResponseFailed, ProviderRef: "ses-2", Detail: "bounce: mailbox full"})
	require.NoError(t, err)
	assert.True(t, changed)

	got, changed, err := tr.MarkResponded(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.AttemptResponded, got.Status)
	assert.NotNil(t, got.RespondedAt)
}

func TestTrackerMatchesInboundSMSByPhone(t *testing.T) {
	tr := outreach.NewTracker(memory.New())
	ctx := context.Background()
	a := sentAttempt(t, tr, candidate("c07"), domain.ChannelSMS, "sms-1")

	got, changed, err := tr.Record(ctx, domain.ResponseEvent{Kind: domain.ResponseReplied, Channel: domain.ChannelSMS, Contact: "+12125550107"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, a.ID, got.ID)
}

func TestTrackerUnknownReference(t *testing.T) {
	tr := outreach.NewTracker(memory.New())
	_, _, err := tr.Record(context.Background(), domain.ResponseEvent{Kind: domain.ResponseReplied, ProviderRef: "nope"})
	assert.ErrorIs(t, err, outreach.ErrAttemptNotFound)
}

func TestTrackerBeginResendHonoursCooldownAndCap(t *testing.T) {
	store := memory.New()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tr := outreach.NewTracker(store).WithClock(func() time.Time { return now })
	ctx := context.Background()
	a := sentAttempt(t, tr, candidate("c01"), domain.ChannelEmail, "ses-3")

	ok, err := tr.BeginResend(ctx, a, 4*time.Hour, 1)
	require.NoError(t, err)
	assert.False(t, ok, "cool-down not elapsed")

	now = now.Add(5 * time.Hour)
	ok, err = tr.BeginResend(ctx, a, 4*time.Hour, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := store.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	_, err = tr.MarkSent(ctx, stored, outreach.SendResult{ProviderRef: "ses-4"}, 1)
	require.NoError(t, err)
	now = now.Add(5 * time.Hour)
	stored, err = store.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	ok, err = tr.BeginResend(ctx, stored, 4*time.Hour, 1)
	require.NoError(t, err)
	assert.False(t, ok, "retry cap reached")
}

func TestTrackerCooldownRunsFromSendNotCallback(t *testing.T) {
	store := memory.New()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tr := outreach.NewTracker(store).WithClock(func() time.Time { return now })
	ctx := context.Background()
	a := sentAttempt(t, tr, candidate("c02"), domain.ChannelEmail, "ses-5")

	now = now.Add(3 * time.Hour)
	_, changed, err := tr.Record(ctx, domain.ResponseEvent{Kind: domain.ResponseDelivered, ProviderRef: "ses-5"})
	require.NoError(t, err)
	require.True(t, changed)

	now = now.Add(2 * time.Hour)
	stored, err := store.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	ok, err := tr.BeginResend(ctx, stored, 4*time.Hour, 1)
	require.NoError(t, err)
	assert.True(t, ok, "five hours since the send, whatever the delivery receipt says")
}
