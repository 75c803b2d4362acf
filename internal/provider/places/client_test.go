package places

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
	"github.com/ignite/provider-outreach/internal/matching"
	"github.com/ignite/provider-outreach/internal/pkg/httpretry"
	"github.com/ignite/provider-outreach/internal/pkg/retry"
)

func TestSearchPagesAndMaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k1", r.Header.Get("Authorization"))
		assert.Equal(t, "roofing", r.URL.Query().Get("category"))
		assert.Equal(t, "25", r.URL.Query().Get("radius_miles"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page_token") == "" {
			w.Write([]byte(`{"results":[{"id":"p1","name":"ACME ROOFING","phone":"+12125550101","lat":40.71,"lng":-74.0,"rating":4.5,"review_count":12}],"next_page_token":"t2"}`))
			return
		}
		w.Write([]byte(`{"results":[{"id":"p2","name":"Skyline Roofs","website":"https://skyline.test"}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k1"}, nil)
	var pages [][]domain.Candidate
	err := c.Search(context.Background(), matching.SearchQuery{
		Category: "roofing", Center: &domain.Point{Lat: 40.7, Lng: -74}, Area: geo.Ring{Inner: 15, Outer: 25},
	}, func(p []domain.Candidate) { pages = append(pages, p) })
	require.NoError(t, err)
	require.Len(t, pages, 2)

	first := pages[0][0]
	assert.Equal(t, "Acme Roofing", first.Name)
	assert.Equal(t, "places:p1", first.ExternalRef.Key())
	require.NotNil(t, first.Location.Coordinates)
	assert.Equal(t, 4.5, *first.Reputation.Rating)
	assert.Equal(t, domain.TierC, first.Tier)
	assert.Equal(t, "https://skyline.test", pages[1][0].Contact.Website)
}

func TestSearchMapsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	doer := httpretry.NewRetryClient(nil, 1).WithPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})
	err := New(Config{BaseURL: srv.URL}, doer).Search(context.Background(), matching.SearchQuery{Category: "x"}, func([]domain.Candidate) {})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}
