// Package geocode resolves addresses and postal codes to coordinates over
// an HTTP geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/geo"
	"github.com/ignite/provider-outreach/internal/pkg/httpretry"
)

// Client implements geo.Geocoder.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    httpretry.HTTPDoer
}

// New returns a geocoding client with a per-call timeout.
func New(baseURL, apiKey string, timeout time.Duration, doer httpretry.HTTPDoer) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if doer == nil {
		doer = httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 2)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, timeout: timeout, http: doer}
}

type geocodeResponse struct {
	Results []struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"results"`
}

// Geocode returns the best match for query.
func (c *Client) Geocode(ctx context.Context, query string) (domain.Point, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v := url.Values{"q": {query}}
	if c.apiKey != "" {
		v.Set("key", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/geocode?"+v.Encode(), nil)
	if err != nil {
		return domain.Point{}, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Point{}, domain.Timeout("geocode", err)
		}
		return domain.Point{}, domain.Unavailable("geocode", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return domain.Point{}, geo.ErrNoMatch
	}
	if res.StatusCode != http.StatusOK {
		return domain.Point{}, domain.Unavailable("geocode", fmt.Errorf("status %d", res.StatusCode))
	}

	var out geocodeResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return domain.Point{}, domain.Unavailable("geocode", fmt.Errorf("decode: %w", err))
	}
	if len(out.Results) == 0 {
		return domain.Point{}, geo.ErrNoMatch
	}
	return domain.Point{Lat: out.Results[0].Lat, Lng: out.Results[0].Lng}, nil
}
