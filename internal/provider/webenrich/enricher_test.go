package webenrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/provider-outreach/internal/domain"
)

const page = `<html><head><meta name="description" content="Family-run electricians since 1990."></head>
<body>
<nav><a href="/about">About</a><a href="/contact-us">Contact Us</a></nav>
<p>Call <a href="tel:+1-212-555-0199">212-555-0199</a> or write to
<a href="mailto:jobs@sparks.test?subject=Hi">jobs@sparks.test</a></p>
</body></html>`

func TestEnrichFillsMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	e := New(srv.Client(), NewHostLimiter(100, 10))
	c := domain.Candidate{Name: "Sparks", Contact: domain.Contact{Website: srv.URL, Phone: "+12125550000"}}
	out, err := e.Enrich(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, "jobs@sparks.test", out.Contact.Email)
	assert.Equal(t, "+12125550000", out.Contact.Phone, "existing values are kept")
	assert.Equal(t, srv.URL+"/contact-us", out.Contact.FormURL)
	assert.Equal(t, "Family-run electricians since 1990.", out.Description)
}

func TestEnrichWithoutWebsite(t *testing.T) {
	c := domain.Candidate{Name: "No Site"}
	out, err := New(nil, nil).Enrich(context.Background(), c)
	assert.Error(t, err)
	assert.Equal(t, c, out)
}

func TestEnrichHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := domain.Candidate{Contact: domain.Contact{Website: srv.URL}}
	out, err := New(srv.Client(), nil).Enrich(context.Background(), c)
	assert.Error(t, err)
	assert.Equal(t, c, out)
}
