package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/outreach"
)

// AttemptRepo implements outreach.AttemptStore against PostgreSQL. Status
// changes are single conditional UPDATEs so replayed callbacks and
// concurrent dispatchers cannot regress an attempt.
type AttemptRepo struct{ db *sql.DB }

var _ outreach.AttemptStore = (*AttemptRepo)(nil)

// NewAttemptRepo creates a Postgres-backed attempt repository.
func NewAttemptRepo(db *sql.DB) *AttemptRepo { return &AttemptRepo{db: db} }

const attemptCols = `id, campaign_id, candidate_id, channel, contact, status, provider_ref,
	sent_at, responded_at, retry_count, send_tries, last_error, created_at, updated_at`

func scanAttempt(s scanner) (domain.OutreachAttempt, error) {
	var a domain.OutreachAttempt
	var sent, responded sql.NullTime
	err := s.Scan(&a.ID, &a.CampaignID, &a.CandidateID, &a.Channel, &a.Contact, &a.Status,
		&a.ProviderRef, &sent, &responded, &a.RetryCount, &a.SendTries, &a.LastError,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	if sent.Valid {
		t := sent.Time
		a.SentAt = &t
	}
	if responded.Valid {
		t := responded.Time
		a.RespondedAt = &t
	}
	return a, nil
}

func (r *AttemptRepo) one(ctx context.Context, where string, args ...any) (domain.OutreachAttempt, error) {
	a, err := scanAttempt(r.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM outreach_attempts WHERE `+where, args...))
	if err == sql.ErrNoRows {
		return a, outreach.ErrAttemptNotFound
	}
	if err != nil {
		return a, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

func (r *AttemptRepo) OpenAttempt(ctx context.Context, a domain.OutreachAttempt) (domain.OutreachAttempt, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_attempts
			(id, campaign_id, candidate_id, channel, contact, contact_norm, status,
			 retry_count, send_tries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (campaign_id, candidate_id, channel) DO NOTHING
	`, a.ID, a.CampaignID, a.CandidateID, a.Channel, a.Contact,
		outreach.NormalizeContact(string(a.Channel), a.Contact), a.Status,
		a.RetryCount, a.SendTries, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return a, false, fmt.Errorf("open attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := r.one(ctx, `campaign_id = $1 AND candidate_id = $2 AND channel = $3`,
			a.CampaignID, a.CandidateID, a.Channel)
		return existing, false, err
	}
	return a, true, nil
}

func (r *AttemptRepo) GetAttempt(ctx context.Context, id string) (domain.OutreachAttempt, error) {
	return r.one(ctx, `id = $1`, id)
}

func (r *AttemptRepo) exists(ctx context.Context, id string) error {
	var ok bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM outreach_attempts WHERE id = $1)`, id).Scan(&ok); err != nil {
		return fmt.Errorf("attempt exists: %w", err)
	}
	if !ok {
		return outreach.ErrAttemptNotFound
	}
	return nil
}

func (r *AttemptRepo) UpdateAttempt(ctx context.Context, id string, from []domain.AttemptStatus, u outreach.AttemptUpdate) (bool, error) {
	sets := []string{}
	args := []any{}
	idx := 1
	add := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	add("status", u.Status)
	if u.ProviderRef != nil {
		add("provider_ref", *u.ProviderRef)
	}
	if u.SentAt != nil {
		add("sent_at", *u.SentAt)
	}
	if u.RespondedAt != nil {
		add("responded_at", *u.RespondedAt)
	}
	if u.SendTries != nil {
		add("send_tries", *u.SendTries)
	}
	if u.LastError != nil {
		add("last_error", *u.LastError)
	}
	add("updated_at", u.At)

	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	q := fmt.Sprintf("UPDATE outreach_attempts SET %s WHERE id = $%d AND status = ANY($%d)",
		strings.Join(sets, ", "), idx, idx+1)
	args = append(args, id, pq.Array(statuses))

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("update attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	return false, r.exists(ctx, id)
}

func (r *AttemptRepo) BeginResend(ctx context.Context, id string, rule outreach.ResendRule) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_attempts
		SET status = 'pending', retry_count = retry_count + 1, send_tries = 0, updated_at = $1
		WHERE id = $2
		  AND status NOT IN ('responded', 'pending')
		  AND retry_count < $3
		  AND COALESCE(sent_at, created_at) <= $4
	`, rule.At, id, rule.MaxRetries, rule.NotAfter)
	if err != nil {
		return false, fmt.Errorf("begin resend: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	return false, r.exists(ctx, id)
}

func (r *AttemptRepo) FindAttemptByRef(ctx context.Context, providerRef string) (domain.OutreachAttempt, error) {
	if providerRef == "" {
		return domain.OutreachAttempt{}, outreach.ErrAttemptNotFound
	}
	return r.one(ctx, `provider_ref = $1 ORDER BY updated_at DESC LIMIT 1`, providerRef)
}

func (r *AttemptRepo) FindLatestAttemptByContact(ctx context.Context, ch domain.Channel, contact string) (domain.OutreachAttempt, error) {
	norm := outreach.NormalizeContact(string(ch), contact)
	if norm == "" {
		return domain.OutreachAttempt{}, outreach.ErrAttemptNotFound
	}
	return r.one(ctx, `channel = $1 AND contact_norm = $2 AND sent_at IS NOT NULL
		ORDER BY sent_at DESC LIMIT 1`, ch, norm)
}

func (r *AttemptRepo) ListAttempts(ctx context.Context, campaignID string) ([]domain.OutreachAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+attemptCols+` FROM outreach_attempts
		WHERE campaign_id = $1 ORDER BY created_at, id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	var out []domain.OutreachAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AttemptRepo) CountRespondedCandidates(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT candidate_id) FROM outreach_attempts
		WHERE campaign_id = $1 AND status = 'responded'
	`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count responded: %w", err)
	}
	return n, nil
}
