package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/matching"
)

const candidateCols = `c.id, COALESCE(c.dedup_key, ''), c.name, c.email, c.phone, c.form_url, c.website,
	c.categories, c.specialties, c.address, c.postal_code, c.lat, c.lng, c.tier,
	c.rating, c.review_count, c.licensed, c.price_min, c.price_max, c.description,
	c.ext_source, c.ext_id`

func scanCandidate(s scanner) (domain.Candidate, error) {
	var c domain.Candidate
	var lat, lng, rating, pmin, pmax sql.NullFloat64
	var reviews sql.NullInt64
	var licensed sql.NullBool
	err := s.Scan(&c.ID, &c.DedupKey, &c.Name, &c.Contact.Email, &c.Contact.Phone, &c.Contact.FormURL,
		&c.Contact.Website, pq.Array(&c.Categories), pq.Array(&c.Specialties), &c.Location.Address,
		&c.Location.PostalCode, &lat, &lng, &c.Tier, &rating, &reviews, &licensed, &pmin, &pmax,
		&c.Description, &c.ExternalRef.Source, &c.ExternalRef.ID)
	if err != nil {
		return c, err
	}
	if lat.Valid && lng.Valid {
		c.Location.Coordinates = &domain.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if rating.Valid {
		v := rating.Float64
		c.Reputation.Rating = &v
	}
	if reviews.Valid {
		v := int(reviews.Int64)
		c.Reputation.ReviewCount = &v
	}
	if licensed.Valid {
		v := licensed.Bool
		c.Reputation.Licensed = &v
	}
	if pmin.Valid && pmax.Valid {
		c.PriceRange = &domain.BudgetRange{Min: pmin.Float64, Max: pmax.Float64}
	}
	return c, nil
}

// fillMerge only fills columns the stored row lacks, so rediscovery from
// another campaign never rewrites a provider's contact or categories.
const fillMerge = `
			name        = COALESCE(NULLIF(c.name, ''), EXCLUDED.name),
			email       = COALESCE(NULLIF(c.email, ''), EXCLUDED.email),
			phone       = COALESCE(NULLIF(c.phone, ''), EXCLUDED.phone),
			form_url    = COALESCE(NULLIF(c.form_url, ''), EXCLUDED.form_url),
			website     = COALESCE(NULLIF(c.website, ''), EXCLUDED.website),
			categories  = CASE WHEN cardinality(c.categories) > 0 THEN c.categories ELSE EXCLUDED.categories END,
			specialties = CASE WHEN cardinality(c.specialties) > 0 THEN c.specialties ELSE EXCLUDED.specialties END,
			address     = COALESCE(NULLIF(c.address, ''), EXCLUDED.address),
			postal_code = COALESCE(NULLIF(c.postal_code, ''), EXCLUDED.postal_code),
			lat         = COALESCE(c.lat, EXCLUDED.lat),
			lng         = COALESCE(c.lng, EXCLUDED.lng),
			rating      = COALESCE(c.rating, EXCLUDED.rating),
			review_count = CASE WHEN c.rating IS NULL THEN EXCLUDED.review_count ELSE c.review_count END,
			licensed    = COALESCE(c.licensed, EXCLUDED.licensed),
			price_min   = COALESCE(c.price_min, EXCLUDED.price_min),
			price_max   = COALESCE(c.price_max, EXCLUDED.price_max),
			description = COALESCE(NULLIF(c.description, ''), EXCLUDED.description),
			ext_source  = CASE WHEN c.ext_id <> '' THEN c.ext_source ELSE EXCLUDED.ext_source END,
			ext_id      = CASE WHEN c.ext_id <> '' THEN c.ext_id ELSE EXCLUDED.ext_id END,
			dedup_key   = COALESCE(c.dedup_key, EXCLUDED.dedup_key),
			in_registry = c.in_registry OR EXCLUDED.in_registry,
			updated_at  = NOW()`

// registryMerge lets an operator registration replace stored values.
const registryMerge = `
			name        = COALESCE(NULLIF(EXCLUDED.name, ''), c.name),
			email       = COALESCE(NULLIF(EXCLUDED.email, ''), c.email),
			phone       = COALESCE(NULLIF(EXCLUDED.phone, ''), c.phone),
			form_url    = COALESCE(NULLIF(EXCLUDED.form_url, ''), c.form_url),
			website     = COALESCE(NULLIF(EXCLUDED.website, ''), c.website),
			categories  = CASE WHEN cardinality(EXCLUDED.categories) > 0 THEN EXCLUDED.categories ELSE c.categories END,
			specialties = CASE WHEN cardinality(EXCLUDED.specialties) > 0 THEN EXCLUDED.specialties ELSE c.specialties END,
			address     = COALESCE(NULLIF(EXCLUDED.address, ''), c.address),
			postal_code = COALESCE(NULLIF(EXCLUDED.postal_code, ''), c.postal_code),
			lat         = COALESCE(EXCLUDED.lat, c.lat),
			lng         = COALESCE(EXCLUDED.lng, c.lng),
			rating      = COALESCE(EXCLUDED.rating, c.rating),
			review_count = CASE WHEN EXCLUDED.rating IS NOT NULL THEN EXCLUDED.review_count ELSE c.review_count END,
			licensed    = COALESCE(EXCLUDED.licensed, c.licensed),
			price_min   = COALESCE(EXCLUDED.price_min, c.price_min),
			price_max   = COALESCE(EXCLUDED.price_max, c.price_max),
			description = COALESCE(NULLIF(EXCLUDED.description, ''), c.description),
			ext_source  = CASE WHEN EXCLUDED.ext_id <> '' THEN EXCLUDED.ext_source ELSE c.ext_source END,
			ext_id      = CASE WHEN EXCLUDED.ext_id <> '' THEN EXCLUDED.ext_id ELSE c.ext_id END,
			dedup_key   = COALESCE(c.dedup_key, EXCLUDED.dedup_key),
			in_registry = TRUE,
			updated_at  = NOW()`

// upsertCandidate inserts c or merges it into the row sharing its dedup key
// (or id when it has none). The stored tier and id win. Registry writes
// overwrite stored values; discovery writes only fill gaps.
func (r *CampaignRepo) upsertCandidate(ctx context.Context, c domain.Candidate, registry bool) (domain.Candidate, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	target := "(dedup_key)"
	if c.DedupKey == "" {
		target = "(id)"
	}
	merge := fillMerge
	if registry {
		merge = registryMerge
	}

	var lat, lng, rating, pmin, pmax sql.NullFloat64
	var reviews sql.NullInt64
	var licensed sql.NullBool
	if p := c.Location.Coordinates; p != nil {
		lat = sql.NullFloat64{Float64: p.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: p.Lng, Valid: true}
	}
	if v := c.Reputation.Rating; v != nil {
		rating = sql.NullFloat64{Float64: *v, Valid: true}
	}
	if v := c.Reputation.ReviewCount; v != nil {
		reviews = sql.NullInt64{Int64: int64(*v), Valid: true}
	}
	if v := c.Reputation.Licensed; v != nil {
		licensed = sql.NullBool{Bool: *v, Valid: true}
	}
	if p := c.PriceRange; p != nil {
		pmin = sql.NullFloat64{Float64: p.Min, Valid: true}
		pmax = sql.NullFloat64{Float64: p.Max, Valid: true}
	}
	categories, specialties := c.Categories, c.Specialties
	if categories == nil {
		categories = []string{}
	}
	if specialties == nil {
		specialties = []string{}
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO outreach_candidates AS c
			(id, dedup_key, name, email, phone, form_url, website, categories, specialties,
			 address, postal_code, lat, lng, tier, rating, review_count, licensed,
			 price_min, price_max, description, ext_source, ext_id, in_registry, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, $21, $22, $23, NOW(), NOW())
		ON CONFLICT `+target+` DO UPDATE SET`+merge+`
		RETURNING `+candidateCols,
		c.ID, c.DedupKey, c.Name, c.Contact.Email, c.Contact.Phone, c.Contact.FormURL, c.Contact.Website,
		pq.Array(categories), pq.Array(specialties), c.Location.Address, c.Location.PostalCode,
		lat, lng, c.Tier, rating, reviews, licensed, pmin, pmax, c.Description,
		c.ExternalRef.Source, c.ExternalRef.ID, registry)

	stored, err := scanCandidate(row)
	if err != nil {
		return c, fmt.Errorf("save candidate: %w", err)
	}
	return stored, nil
}

func (r *CampaignRepo) SaveCandidate(ctx context.Context, c domain.Candidate) (domain.Candidate, error) {
	return r.upsertCandidate(ctx, c, false)
}

func (r *CampaignRepo) RegisterProvider(ctx context.Context, c domain.Candidate) (domain.Candidate, error) {
	return r.upsertCandidate(ctx, c, true)
}

func (r *CampaignRepo) GetCandidates(ctx context.Context, ids []string) ([]domain.Candidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+candidateCols+` FROM outreach_candidates c WHERE c.id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get candidates: %w", err)
	}
	byID, err := collectCandidates(rows)
	if err != nil {
		return nil, err
	}
	index := make(map[string]domain.Candidate, len(byID))
	for _, c := range byID {
		index[c.ID] = c
	}
	out := make([]domain.Candidate, 0, len(ids))
	for _, id := range ids {
		if c, ok := index[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func collectCandidates(rows *sql.Rows) ([]domain.Candidate, error) {
	defer rows.Close()
	var out []domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// areaClause renders the geographic filter of q starting at placeholder idx.
// ok is false when q has neither a box nor a postal code.
func areaClause(q matching.AreaQuery, idx int) (string, []any, bool) {
	if q.Box != nil {
		return fmt.Sprintf(" AND c.lat BETWEEN $%d AND $%d AND c.lng BETWEEN $%d AND $%d", idx, idx+1, idx+2, idx+3),
			[]any{q.Box.MinLat, q.Box.MaxLat, q.Box.MinLng, q.Box.MaxLng}, true
	}
	if q.PostalCode == "" {
		return "", nil, false
	}
	return fmt.Sprintf(" AND lower(c.postal_code) = lower($%d)", idx), []any{q.PostalCode}, true
}

const categoryMatch = `EXISTS (SELECT 1 FROM unnest(c.categories) cat WHERE lower(trim(cat)) = lower(trim($1)))`

func (r *CampaignRepo) SearchRegistry(ctx context.Context, q matching.AreaQuery) ([]domain.Candidate, error) {
	area, areaArgs, ok := areaClause(q, 2)
	if !ok {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+candidateCols+` FROM outreach_candidates c
		WHERE c.in_registry AND `+categoryMatch+area+` ORDER BY c.id`,
		append([]any{q.Category}, areaArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("search registry: %w", err)
	}
	return collectCandidates(rows)
}

// SearchHistory returns candidates assigned to campaigns of other jobs in
// the same category that never responded in any of them.
func (r *CampaignRepo) SearchHistory(ctx context.Context, q matching.AreaQuery) ([]domain.Candidate, error) {
	area, areaArgs, ok := areaClause(q, 3)
	if !ok {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+candidateCols+` FROM outreach_candidates c
		WHERE c.id IN (
			SELECT a.candidate_id FROM outreach_assignments a
			JOIN outreach_campaigns cp ON cp.id = a.campaign_id
			JOIN outreach_jobs j ON j.id = cp.job_id
			WHERE lower(j.category) = lower(trim($1)) AND cp.job_id <> $2
		)
		AND NOT EXISTS (
			SELECT 1 FROM outreach_attempts t
			JOIN outreach_campaigns cp ON cp.id = t.campaign_id
			JOIN outreach_jobs j ON j.id = cp.job_id
			WHERE t.candidate_id = c.id AND t.status = 'responded'
			  AND lower(j.category) = lower(trim($1)) AND cp.job_id <> $2
		)`+area+` ORDER BY c.id`,
		append([]any{q.Category, q.ExcludeJobID}, areaArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	return collectCandidates(rows)
}
