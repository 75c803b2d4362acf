package geocode

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
)

func TestGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "94107":
			w.Write([]byte(`{"results":[{"lat":37.7621,"lng":-122.3971}]}`))
		case "slow":
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte(`{"results":[]}`))
		default:
			w.Write([]byte(`{"results":[]}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "", 50*time.Millisecond, http.DefaultClient)
	p, err := c.Geocode(context.Background(), "94107")
	require.NoError(t, err)
	assert.Equal(t, domain.Point{Lat: 37.7621, Lng: -122.3971}, p)

	_, err = c.Geocode(context.Background(), "nowhere")
	assert.ErrorIs(t, err, geo.ErrNoMatch)

	_, err = c.Geocode(context.Background(), "slow")
	assert.ErrorIs(t, err, domain.ErrProviderTimeout)
}
