// Package places is the live discovery provider backing Tier-C. It pages
// through a places-search HTTP API and maps each result to a candidate.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/matching"
	"github.com/ignite/provider-outreach/internal/pkg/httpretry"
)

const sourceName = "places"

// Config configures the places client.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	MaxPages int
}

// Client implements matching.SearchProvider.
type Client struct {
	cfg  Config
	http httpretry.HTTPDoer
}

// New returns a client. doer is usually an httpretry.RetryClient; nil uses
// one with default settings.
func New(cfg Config, doer httpretry.HTTPDoer) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if doer == nil {
		doer = httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 2)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: doer}
}

func (c *Client) Name() string { return sourceName }

type searchResponse struct {
	Results       []place `json:"results"`
	NextPageToken string  `json:"next_page_token"`
}

type place struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Phone       string   `json:"phone"`
	Email       string   `json:"email"`
	Website     string   `json:"website"`
	Address     string   `json:"address"`
	PostalCode  string   `json:"postal_code"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Rating      *float64 `json:"rating"`
	ReviewCount *int     `json:"review_count"`
	Categories  []string `json:"categories"`
	Summary     string   `json:"summary"`
}

// Search fetches up to MaxPages pages, emitting each as it arrives.
func (c *Client) Search(ctx context.Context, q matching.SearchQuery, emit func([]domain.Candidate)) error {
	token := ""
	for page := 0; page < c.cfg.MaxPages; page++ {
		resp, err := c.fetch(ctx, q, token)
		if err != nil {
			return err
		}
		if len(resp.Results) > 0 {
			emit(toCandidates(resp.Results))
		}
		if resp.NextPageToken == "" {
			return nil
		}
		token = resp.NextPageToken
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, q matching.SearchQuery, token string) (*searchResponse, error) {
	v := url.Values{}
	v.Set("category", q.Category)
	if q.Scope != "" {
		v.Set("keyword", q.Scope)
	}
	if q.Center != nil {
		v.Set("lat", strconv.FormatFloat(q.Center.Lat, 'f', 6, 64))
		v.Set("lng", strconv.FormatFloat(q.Center.Lng, 'f', 6, 64))
	} else {
		v.Set("postal_code", q.PostalCode)
	}
	v.Set("radius_miles", strconv.FormatFloat(q.Area.Outer, 'f', -1, 64))
	v.Set("limit", strconv.Itoa(c.cfg.PageSize))
	if token != "" {
		v.Set("page_token", token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/places/search?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, domain.Timeout(sourceName, err)
		}
		return nil, domain.Unavailable(sourceName, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, domain.Unavailable(sourceName, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}
	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, domain.Unavailable(sourceName, fmt.Errorf("decode: %w", err))
	}
	return &out, nil
}

func toCandidates(results []place) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(results))
	for _, p := range results {
		c := domain.Candidate{
			Name: displayName(p.Name),
			Contact: domain.Contact{
				Email:   strings.TrimSpace(p.Email),
				Phone:   strings.TrimSpace(p.Phone),
				Website: strings.TrimSpace(p.Website),
			},
			Categories:  p.Categories,
			Description: p.Summary,
			Location:    domain.Location{Address: p.Address, PostalCode: p.PostalCode},
			Reputation:  domain.Reputation{Rating: p.Rating, ReviewCount: p.ReviewCount},
			ExternalRef: domain.ExternalRef{Source: sourceName, ID: p.ID},
			Tier:        domain.TierC,
		}
		if p.Lat != nil && p.Lng != nil {
			c.Location.Coordinates = &domain.Point{Lat: *p.Lat, Lng: *p.Lng}
		}
		out = append(out, c)
	}
	return out
}

// displayName title-cases listings that arrive in all caps.
func displayName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name != strings.ToUpper(name) {
		return name
	}
	return cases.Title(language.English).String(strings.ToLower(name))
}
