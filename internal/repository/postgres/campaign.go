package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/provider-outreach/internal/campaign"
	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/matching"
)

// CampaignRepo implements campaign.Store, the Tier-A registry and the Tier-B
// history lookup against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

var (
	_ campaign.Store         = (*CampaignRepo)(nil)
	_ matching.RegistryStore = (*CampaignRepo)(nil)
	_ matching.HistoryStore  = (*CampaignRepo)(nil)
)

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

type scanner interface {
	Scan(dest ...any) error
}

func (r *CampaignRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *CampaignRepo) SaveJob(ctx context.Context, job domain.JobRequest) error {
	var lat, lng, bmin, bmax sql.NullFloat64
	if p := job.Location.Coordinates; p != nil {
		lat = sql.NullFloat64{Float64: p.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: p.Lng, Valid: true}
	}
	if b := job.Budget; b != nil {
		bmin = sql.NullFloat64{Float64: b.Min, Valid: true}
		bmax = sql.NullFloat64{Float64: b.Max, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_jobs
			(id, category, scope, address, postal_code, lat, lng,
			 budget_min, budget_max, urgency, target_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO NOTHING
	`, job.ID, job.Category, job.Scope, job.Location.Address, job.Location.PostalCode,
		lat, lng, bmin, bmax, job.Urgency, job.TargetCount)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (r *CampaignRepo) GetJob(ctx context.Context, id string) (domain.JobRequest, error) {
	var j domain.JobRequest
	var lat, lng, bmin, bmax sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, category, scope, address, postal_code, lat, lng,
		       budget_min, budget_max, urgency, target_count
		FROM outreach_jobs WHERE id = $1
	`, id).Scan(&j.ID, &j.Category, &j.Scope, &j.Location.Address, &j.Location.PostalCode,
		&lat, &lng, &bmin, &bmax, &j.Urgency, &j.TargetCount)
	if err == sql.ErrNoRows {
		return j, campaign.ErrJobNotFound
	}
	if err != nil {
		return j, fmt.Errorf("get job: %w", err)
	}
	if lat.Valid && lng.Valid {
		j.Location.Coordinates = &domain.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if bmin.Valid && bmax.Valid {
		j.Budget = &domain.BudgetRange{Min: bmin.Float64, Max: bmax.Float64}
	}
	return j, nil
}

const campaignCols = `id, job_id, target_count, radius_stage, status, created_at, quota_deadline,
	next_milestone, next_check_in_at, overtime_count, closed_at, updated_at`

func scanCampaign(s scanner) (domain.Campaign, error) {
	var c domain.Campaign
	var next, closed sql.NullTime
	err := s.Scan(&c.ID, &c.JobID, &c.TargetCount, &c.RadiusStage, &c.Status, &c.CreatedAt,
		&c.QuotaDeadline, &c.NextMilestone, &next, &c.OvertimeCount, &closed, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if next.Valid {
		t := next.Time
		c.NextCheckInAt = &t
	}
	if closed.Valid {
		t := closed.Time
		c.ClosedAt = &t
	}
	return c, nil
}

func (r *CampaignRepo) CreateCampaign(ctx context.Context, c domain.Campaign) (domain.Campaign, bool, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_campaigns
			(id, job_id, target_count, radius_stage, status, created_at, quota_deadline,
			 next_milestone, next_check_in_at, overtime_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $6)
		ON CONFLICT (job_id) DO NOTHING
	`, c.ID, c.JobID, c.TargetCount, c.RadiusStage, c.Status, c.CreatedAt, c.QuotaDeadline,
		c.NextMilestone, nullTime(c.NextCheckInAt), c.OvertimeCount)
	if err != nil {
		return c, false, fmt.Errorf("create campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := r.GetCampaignByJob(ctx, c.JobID)
		return existing, false, err
	}
	c.UpdatedAt = c.CreatedAt
	return c, true, nil
}

func (r *CampaignRepo) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignCols+` FROM outreach_campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return c, campaign.ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) GetCampaignByJob(ctx context.Context, jobID string) (domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignCols+` FROM outreach_campaigns WHERE job_id = $1`, jobID))
	if err == sql.ErrNoRows {
		return c, campaign.ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("get campaign by job: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) ListCampaigns(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	where := ""
	args := []any{}
	idx := 1
	if f.Status != "" {
		where = fmt.Sprintf(" WHERE status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outreach_campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignCols + ` FROM outreach_campaigns` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, f.Limit)
		idx++
	}
	q += fmt.Sprintf(" OFFSET $%d", idx)
	args = append(args, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// CountCampaignsByStatus feeds the campaign gauge.
func (r *CampaignRepo) CountCampaignsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outreach_campaigns GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count campaigns by status: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (r *CampaignRepo) exists(ctx context.Context, id string) error {
	var ok bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM outreach_campaigns WHERE id = $1)`, id).Scan(&ok); err != nil {
		return fmt.Errorf("campaign exists: %w", err)
	}
	if !ok {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_campaigns SET
			status = $1,
			updated_at = $2,
			closed_at = CASE WHEN $5::boolean THEN $2 ELSE closed_at END,
			next_check_in_at = CASE WHEN $5::boolean THEN NULL ELSE next_check_in_at END
		WHERE id = $3 AND status = $4
	`, to, at, id, from, to.IsTerminal())
	if err != nil {
		return false, fmt.Errorf("transition campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	return false, r.exists(ctx, id)
}

func (r *CampaignRepo) AdvanceRadiusStage(ctx context.Context, id string, stage int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_campaigns SET radius_stage = $1, updated_at = NOW()
		WHERE id = $2 AND radius_stage < $1
	`, stage, id)
	if err != nil {
		return false, fmt.Errorf("advance radius: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	return false, r.exists(ctx, id)
}

func (r *CampaignRepo) ScheduleCheckIn(ctx context.Context, id string, milestone int, at *time.Time, overtime int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_campaigns
		SET next_milestone = $1, next_check_in_at = $2, overtime_count = $3, updated_at = NOW()
		WHERE id = $4
	`, milestone, nullTime(at), overtime, id)
	if err != nil {
		return fmt.Errorf("schedule check-in: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) DueCampaigns(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	q := `SELECT ` + campaignCols + ` FROM outreach_campaigns
		WHERE status = 'active' AND next_check_in_at IS NOT NULL AND next_check_in_at <= $1
		ORDER BY next_check_in_at`
	args := []any{now}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("due campaigns: %w", err)
	}
	defer rows.Close()
	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) AssignCandidate(ctx context.Context, a domain.Assignment) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_assignments (campaign_id, candidate_id, dedup_key, tier, source, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`, a.CampaignID, a.CandidateID, a.DedupKey, a.Tier, a.Source, a.AssignedAt)
	if err != nil {
		return false, fmt.Errorf("assign candidate: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CampaignRepo) ListAssignments(ctx context.Context, campaignID string) ([]domain.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT campaign_id, candidate_id, dedup_key, tier, source, assigned_at
		FROM outreach_assignments WHERE campaign_id = $1
		ORDER BY assigned_at, candidate_id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	var out []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.CampaignID, &a.CandidateID, &a.DedupKey, &a.Tier, &a.Source, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) SaveScore(ctx context.Context, s domain.ScoreRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_scores
			(campaign_id, candidate_id, job_id, composite,
			 category_score, distance_score, budget_score, reputation_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (campaign_id, candidate_id) DO NOTHING
	`, s.CampaignID, s.CandidateID, s.JobID, s.Composite,
		s.SubScores.Category, s.SubScores.Distance, s.SubScores.Budget, s.SubScores.Reputation)
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	return nil
}

func (r *CampaignRepo) ListScores(ctx context.Context, campaignID string) ([]domain.ScoreRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT campaign_id, candidate_id, job_id, composite,
		       category_score, distance_score, budget_score, reputation_score
		FROM outreach_scores WHERE campaign_id = $1
		ORDER BY composite DESC, candidate_id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()
	var out []domain.ScoreRecord
	for rows.Next() {
		var s domain.ScoreRecord
		if err := rows.Scan(&s.CampaignID, &s.CandidateID, &s.JobID, &s.Composite,
			&s.SubScores.Category, &s.SubScores.Distance, &s.SubScores.Budget, &s.SubScores.Reputation); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) ClaimCheckIn(ctx context.Context, ci domain.CheckIn) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_check_ins (campaign_id, milestone, scheduled_at, expected_pct)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (campaign_id, milestone) DO NOTHING
	`, ci.CampaignID, ci.Milestone, ci.ScheduledAt, ci.ExpectedPct)
	if err != nil {
		return false, fmt.Errorf("claim check-in: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CampaignRepo) CompleteCheckIn(ctx context.Context, ci domain.CheckIn) error {
	var action sql.NullString
	if ci.Action != nil {
		action = sql.NullString{String: string(*ci.Action), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_check_ins
		SET observed_responses = $1, observed_pct = $2, action = $3, action_detail = $4, evaluated_at = $5
		WHERE campaign_id = $6 AND milestone = $7
	`, ci.ObservedResponses, ci.ObservedPct, action, ci.ActionDetail, nullTime(ci.EvaluatedAt),
		ci.CampaignID, ci.Milestone)
	if err != nil {
		return fmt.Errorf("complete check-in: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) ListCheckIns(ctx context.Context, campaignID string) ([]domain.CheckIn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT campaign_id, milestone, scheduled_at, expected_pct, observed_responses,
		       observed_pct, action, action_detail, evaluated_at
		FROM outreach_check_ins WHERE campaign_id = $1
		ORDER BY milestone
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list check-ins: %w", err)
	}
	defer rows.Close()
	var out []domain.CheckIn
	for rows.Next() {
		var ci domain.CheckIn
		var action sql.NullString
		var evaluated sql.NullTime
		if err := rows.Scan(&ci.CampaignID, &ci.Milestone, &ci.ScheduledAt, &ci.ExpectedPct,
			&ci.ObservedResponses, &ci.ObservedPct, &action, &ci.ActionDetail, &evaluated); err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		if action.Valid {
			a := domain.EscalationAction(action.String)
			ci.Action = &a
		}
		if evaluated.Valid {
			t := evaluated.Time
			ci.EvaluatedAt = &t
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
