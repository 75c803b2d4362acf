package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/provider-outreach/internal/campaign"
	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
	"github.com/ignite/provider-outreach/internal/matching"
	"github.com/ignite/provider-outreach/internal/outreach"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var campaignColumns = []string{"id", "job_id", "target_count", "radius_stage", "status", "created_at",
	"quota_deadline", "next_milestone", "next_check_in_at", "overtime_count", "closed_at", "updated_at"}

func campaignRow(id, jobID string, status domain.CampaignStatus) *sqlmock.Rows {
	return sqlmock.NewRows(campaignColumns).
		AddRow(id, jobID, 5, 0, string(status), t0, t0.Add(72*time.Hour), 1, t0.Add(18*time.Hour), 0, nil, t0)
}

func TestCampaignRepo_CreateCampaignReturnsExistingOnConflict(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectExec("INSERT INTO outreach_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM outreach_campaigns WHERE job_id = \\$1").
		WithArgs("job-1").
		WillReturnRows(campaignRow("camp-existing", "job-1", domain.CampaignActive))

	c, created, err := repo.CreateCampaign(context.Background(), domain.Campaign{
		JobID: "job-1", TargetCount: 5, Status: domain.CampaignForming, CreatedAt: t0, QuotaDeadline: t0.Add(72 * time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "camp-existing", c.ID)
	assert.Equal(t, domain.CampaignActive, c.Status)
	require.NotNil(t, c.NextCheckInAt)
	assert.Nil(t, c.ClosedAt)
}

func TestCampaignRepo_CreateCampaignInserts(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectExec("INSERT INTO outreach_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c, created, err := repo.CreateCampaign(context.Background(), domain.Campaign{JobID: "job-2", CreatedAt: t0})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, c.ID)
}

func TestCampaignRepo_GetCampaignNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("FROM outreach_campaigns WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(campaignColumns))

	_, err := repo.GetCampaign(context.Background(), "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestCampaignRepo_TransitionStatus(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		exists   *bool
		want     bool
		wantErr  error
	}{
		{name: "applied", affected: 1, want: true},
		{name: "status moved on", affected: 0, exists: boolPtr(true), want: false},
		{name: "missing campaign", affected: 0, exists: boolPtr(false), wantErr: campaign.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, cleanup := setupTestDB(t)
			defer cleanup()
			repo := NewCampaignRepo(db)

			mock.ExpectExec("UPDATE outreach_campaigns SET").
				WithArgs(domain.CampaignQuotaMet, t0, "camp-1", domain.CampaignActive, true).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.exists != nil {
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("camp-1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(*tt.exists))
			}

			ok, err := repo.TransitionStatus(context.Background(), "camp-1", domain.CampaignActive, domain.CampaignQuotaMet, t0)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCampaignRepo_DueCampaigns(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("WHERE status = 'active' AND next_check_in_at IS NOT NULL").
		WithArgs(t0, 10).
		WillReturnRows(campaignRow("camp-1", "job-1", domain.CampaignActive))

	due, err := repo.DueCampaigns(context.Background(), t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "camp-1", due[0].ID)
}

func TestCampaignRepo_AssignCandidateIsConditional(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	a := domain.Assignment{CampaignID: "camp-1", CandidateID: "cand-1", DedupKey: "acme|40.71,-74.01", Tier: domain.TierA, Source: "initial", AssignedAt: t0}
	mock.ExpectExec("INSERT INTO outreach_assignments").
		WithArgs(a.CampaignID, a.CandidateID, a.DedupKey, a.Tier, a.Source, a.AssignedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outreach_assignments").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.AssignCandidate(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AssignCandidate(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCampaignRepo_CheckIns(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectExec("INSERT INTO outreach_check_ins").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err := repo.ClaimCheckIn(context.Background(), domain.CheckIn{CampaignID: "camp-1", Milestone: 1, ScheduledAt: t0, ExpectedPct: 0.4})
	require.NoError(t, err)
	assert.False(t, ok)

	action := domain.ActionRadiusExpanded
	mock.ExpectExec("UPDATE outreach_check_ins").
		WithArgs(1, 0.2, "radius_expanded", "stage 1", t0, "camp-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.CompleteCheckIn(context.Background(), domain.CheckIn{
		CampaignID: "camp-1", Milestone: 1, ObservedResponses: 1, ObservedPct: 0.2,
		Action: &action, ActionDetail: "stage 1", EvaluatedAt: &t0,
	}))

	mock.ExpectQuery("FROM outreach_check_ins WHERE campaign_id = \\$1").
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "milestone", "scheduled_at", "expected_pct",
			"observed_responses", "observed_pct", "action", "action_detail", "evaluated_at"}).
			AddRow("camp-1", 0, t0, 0.2, 1, 0.2, nil, "", t0).
			AddRow("camp-1", 1, t0, 0.4, 1, 0.2, "radius_expanded", "stage 1", t0))
	list, err := repo.ListCheckIns(context.Background(), "camp-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Nil(t, list[0].Action)
	require.NotNil(t, list[1].Action)
	assert.Equal(t, domain.ActionRadiusExpanded, *list[1].Action)
}

var candidateColumns = []string{"id", "dedup_key", "name", "email", "phone", "form_url", "website",
	"categories", "specialties", "address", "postal_code", "lat", "lng", "tier", "rating", "review_count",
	"licensed", "price_min", "price_max", "description", "ext_source", "ext_id"}

func TestCampaignRepo_SaveCandidateMergesByDedupKey(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("INSERT INTO outreach_candidates AS c .* ON CONFLICT \\(dedup_key\\) DO UPDATE").
		WillReturnRows(sqlmock.NewRows(candidateColumns).AddRow(
			"cand-first", "acme plumbing|40.71,-74.01", "Acme Plumbing", "owner@acme.example", "+12125550100", "", "",
			"{plumbing}", "{}", "1 Main St", "10007", 40.7128, -74.006, "tier-a", 4.8, 120,
			true, nil, nil, "", "places", "p-1"))

	got, err := repo.SaveCandidate(context.Background(), domain.Candidate{
		ID: "cand-new", Name: "Acme Plumbing", DedupKey: "acme plumbing|40.71,-74.01", Tier: domain.TierC,
		Contact: domain.Contact{Phone: "+12125550100"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cand-first", got.ID)
	assert.Equal(t, domain.TierA, got.Tier)
	assert.Equal(t, []string{"plumbing"}, got.Categories)
	require.NotNil(t, got.Location.Coordinates)
	assert.InDelta(t, 40.7128, got.Location.Coordinates.Lat, 1e-9)
	require.NotNil(t, got.Reputation.ReviewCount)
	assert.Equal(t, 120, *got.Reputation.ReviewCount)
	assert.Nil(t, got.PriceRange)
}

func TestCampaignRepo_SaveCandidateKeepsStoredContactAndCategories(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("email       = COALESCE(NULLIF(c.email, ''), EXCLUDED.email)") +
		".*" + regexp.QuoteMeta("categories  = CASE WHEN cardinality(c.categories) > 0 THEN c.categories")).
		WillReturnRows(sqlmock.NewRows(candidateColumns).AddRow(
			"cand-reg", "acme plumbing|10007", "Acme Plumbing", "office@acme.example", "+12125550100", "", "",
			"{plumbing,heating}", "{}", "", "10007", nil, nil, "tier-a", nil, nil,
			nil, nil, nil, "", "", ""))

	got, err := repo.SaveCandidate(context.Background(), domain.Candidate{
		Name: "ACME PLUMBING LLC", DedupKey: "acme plumbing|10007", Tier: domain.TierC,
		Categories: []string{"drain cleaning"},
		Contact:    domain.Contact{Email: "info@scraped-directory.example", Phone: "+12125550100"},
	})
	require.NoError(t, err)
	assert.Equal(t, "office@acme.example", got.Contact.Email)
	assert.Equal(t, []string{"plumbing", "heating"}, got.Categories)
}

func TestCampaignRepo_RegisterProviderOverwrites(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("email       = COALESCE(NULLIF(EXCLUDED.email, ''), c.email)") +
		".*" + regexp.QuoteMeta("in_registry = TRUE")).
		WillReturnRows(sqlmock.NewRows(candidateColumns).AddRow(
			"cand-reg", "acme plumbing|10007", "Acme Plumbing", "dispatch@acme.example", "", "", "",
			"{plumbing}", "{}", "", "10007", nil, nil, "tier-a", nil, nil,
			nil, nil, nil, "", "", ""))

	got, err := repo.RegisterProvider(context.Background(), domain.Candidate{
		Name: "Acme Plumbing", DedupKey: "acme plumbing|10007", Tier: domain.TierA,
		Contact: domain.Contact{Email: "dispatch@acme.example"},
	})
	require.NoError(t, err)
	assert.Equal(t, "dispatch@acme.example", got.Contact.Email)
}

func TestCampaignRepo_SaveCandidateWithoutDedupKeyUsesID(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("ON CONFLICT \\(id\\) DO UPDATE").
		WillReturnRows(sqlmock.NewRows(candidateColumns).AddRow(
			"cand-1", "", "Solo", "", "", "", "", "{}", "{}", "", "", nil, nil, "tier-c",
			nil, nil, nil, nil, nil, "", "", ""))

	got, err := repo.SaveCandidate(context.Background(), domain.Candidate{ID: "cand-1", Name: "Solo"})
	require.NoError(t, err)
	assert.Nil(t, got.Location.Coordinates)
	assert.Nil(t, got.Reputation.Rating)
}

func TestCampaignRepo_SearchRegistry(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("WHERE c.in_registry AND .* AND lower\\(c.postal_code\\) = lower\\(\\$2\\)").
		WithArgs("plumbing", "10007").
		WillReturnRows(sqlmock.NewRows(candidateColumns))
	_, err := repo.SearchRegistry(context.Background(), matching.AreaQuery{Category: "plumbing", PostalCode: "10007"})
	require.NoError(t, err)

	box := &geo.BBox{MinLat: 40, MaxLat: 41, MinLng: -75, MaxLng: -73}
	mock.ExpectQuery("c.lat BETWEEN \\$2 AND \\$3 AND c.lng BETWEEN \\$4 AND \\$5").
		WithArgs("plumbing", 40.0, 41.0, -75.0, -73.0).
		WillReturnRows(sqlmock.NewRows(candidateColumns))
	_, err = repo.SearchRegistry(context.Background(), matching.AreaQuery{Category: "plumbing", Box: box})
	require.NoError(t, err)

	out, err := repo.SearchRegistry(context.Background(), matching.AreaQuery{Category: "plumbing"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCampaignRepo_CountCampaignsByStatus(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("active", 3).AddRow("quota_met", 7))
	counts, err := repo.CountCampaignsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"active": 3, "quota_met": 7}, counts)
}

var attemptColumns = []string{"id", "campaign_id", "candidate_id", "channel", "contact", "status", "provider_ref",
	"sent_at", "responded_at", "retry_count", "send_tries", "last_error", "created_at", "updated_at"}

func TestAttemptRepo_OpenAttemptReturnsExisting(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewAttemptRepo(db)

	mock.ExpectExec("INSERT INTO outreach_attempts").
		WithArgs("att-2", "camp-1", "cand-1", domain.ChannelSMS, "(212) 555-0100", "+12125550100",
			domain.AttemptPending, 0, 0, t0, t0).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("WHERE campaign_id = \\$1 AND candidate_id = \\$2 AND channel = \\$3").
		WithArgs("camp-1", "cand-1", domain.ChannelSMS).
		WillReturnRows(sqlmock.NewRows(attemptColumns).AddRow("att-1", "camp-1", "cand-1", "sms", "(212) 555-0100",
			"sent", "SM1", t0, nil, 0, 1, "", t0, t0))

	a, opened, err := repo.OpenAttempt(context.Background(), domain.OutreachAttempt{
		ID: "att-2", CampaignID: "camp-1", CandidateID: "cand-1", Channel: domain.ChannelSMS,
		Contact: "(212) 555-0100", Status: domain.AttemptPending, CreatedAt: t0, UpdatedAt: t0,
	})
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Equal(t, "att-1", a.ID)
	assert.Equal(t, domain.AttemptSent, a.Status)
	require.NotNil(t, a.SentAt)
}

func TestAttemptRepo_UpdateAttemptIsConditional(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewAttemptRepo(db)

	ref := "ses-1"
	sent := t0.Add(time.Minute)
	mock.ExpectExec("UPDATE outreach_attempts SET status = \\$1, provider_ref = \\$2, sent_at = \\$3, updated_at = \\$4 WHERE id = \\$5 AND status = ANY\\(\\$6\\)").
		WithArgs(domain.AttemptSent, "ses-1", sent, sent, "att-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("att-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.UpdateAttempt(context.Background(), "att-1", []domain.AttemptStatus{domain.AttemptPending},
		outreach.AttemptUpdate{Status: domain.AttemptSent, ProviderRef: &ref, SentAt: &sent, At: sent})
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec("UPDATE outreach_attempts SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("att-x").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = repo.UpdateAttempt(context.Background(), "att-x", []domain.AttemptStatus{domain.AttemptSent},
		outreach.AttemptUpdate{Status: domain.AttemptDelivered, At: sent})
	assert.ErrorIs(t, err, outreach.ErrAttemptNotFound)
}

func TestAttemptRepo_BeginResend(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewAttemptRepo(db)

	rule := outreach.ResendRule{NotAfter: t0, MaxRetries: 2, At: t0.Add(time.Hour)}
	mock.ExpectExec(`SET status = 'pending', retry_count = retry_count \+ 1.*COALESCE\(sent_at, created_at\) <= \$4`).
		WithArgs(rule.At, "att-1", 2, rule.NotAfter).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.BeginResend(context.Background(), "att-1", rule)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAttemptRepo_FindLatestAttemptByContactNormalizes(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewAttemptRepo(db)

	mock.ExpectQuery("channel = \\$1 AND contact_norm = \\$2").
		WithArgs(domain.ChannelSMS, "+12125550100").
		WillReturnRows(sqlmock.NewRows(attemptColumns))

	_, err := repo.FindLatestAttemptByContact(context.Background(), domain.ChannelSMS, "212.555.0100")
	assert.ErrorIs(t, err, outreach.ErrAttemptNotFound)

	_, err = repo.FindAttemptByRef(context.Background(), "")
	assert.ErrorIs(t, err, outreach.ErrAttemptNotFound)
}

func TestAttemptRepo_CountRespondedCandidates(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewAttemptRepo(db)

	mock.ExpectQuery("COUNT\\(DISTINCT candidate_id\\)").
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	n, err := repo.CountRespondedCandidates(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func boolPtr(b bool) *bool { return &b }

func TestWithStatementTimeout(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		d    time.Duration
		want string
	}{
		{"url", "postgres://app:pw@db:5432/outreach?sslmode=require", 15 * time.Second,
			"postgres://app:pw@db:5432/outreach?sslmode=require&statement_timeout=15000"},
		{"key value", "host=db dbname=outreach sslmode=disable", 2 * time.Second,
			"host=db dbname=outreach sslmode=disable statement_timeout=2000"},
		{"explicit setting kept", "postgres://db/outreach?statement_timeout=500", time.Minute,
			"postgres://db/outreach?statement_timeout=500"},
		{"disabled", "postgres://db/outreach", 0, "postgres://db/outreach"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WithStatementTimeout(tt.dsn, tt.d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
