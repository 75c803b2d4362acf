// Package webenrich fills in contact details for discovered candidates by
// reading their public website.
package webenrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/pkg/httpretry"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// HostLimiter rate-limits requests per hostname.
type HostLimiter struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
	r  rate.Limit
	b  int
}

// NewHostLimiter allows reqPerSec per host with the given burst.
func NewHostLimiter(reqPerSec float64, burst int) *HostLimiter {
	return &HostLimiter{m: make(map[string]*rate.Limiter), r: rate.Limit(reqPerSec), b: burst}
}

func (hl *HostLimiter) limiterFor(host string) *rate.Limiter {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	if lim, ok := hl.m[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(hl.r, hl.b)
	hl.m[host] = lim
	return lim
}

// WaitURL blocks until a request to raw's host is allowed.
func (hl *HostLimiter) WaitURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return hl.limiterFor("_").Wait(ctx)
	}
	return hl.limiterFor(u.Host).Wait(ctx)
}

// Enricher implements matching.Enricher by scraping the candidate website
// for an email address, phone number, contact form and description.
type Enricher struct {
	http    httpretry.HTTPDoer
	limiter *HostLimiter
}

// New returns a website enricher. doer nil uses a 10s client without
// retries; sites that fail are simply skipped.
func New(doer httpretry.HTTPDoer, limiter *HostLimiter) *Enricher {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	if limiter == nil {
		limiter = NewHostLimiter(1, 2)
	}
	return &Enricher{http: doer, limiter: limiter}
}

// Enrich fills empty contact fields from the website. Existing values are
// never overwritten.
func (e *Enricher) Enrich(ctx context.Context, c domain.Candidate) (domain.Candidate, error) {
	site := strings.TrimSpace(c.Contact.Website)
	if site == "" {
		return c, fmt.Errorf("webenrich: no website")
	}
	if !strings.Contains(site, "://") {
		site = "https://" + site
	}
	base, err := url.Parse(site)
	if err != nil {
		return c, fmt.Errorf("webenrich: bad website %q: %w", site, err)
	}
	if err := e.limiter.WaitURL(ctx, site); err != nil {
		return c, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, site, nil)
	if err != nil {
		return c, err
	}
	req.Header.Set("User-Agent", "provider-outreach/1.0 (+contact discovery)")
	res, err := e.http.Do(req)
	if err != nil {
		return c, fmt.Errorf("webenrich: fetch %s: %w", base.Host, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return c, fmt.Errorf("webenrich: fetch %s: status %d", base.Host, res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return c, fmt.Errorf("webenrich: parse %s: %w", base.Host, err)
	}
	info := Extract(doc, base)
	if c.Contact.Email == "" {
		c.Contact.Email = info.Email
	}
	if c.Contact.Phone == "" {
		c.Contact.Phone = info.Phone
	}
	if c.Contact.FormURL == "" {
		c.Contact.FormURL = info.FormURL
	}
	if c.Description == "" {
		c.Description = info.Description
	}
	return c, nil
}

// PageInfo is what Extract finds on a page.
type PageInfo struct {
	Email       string
	Phone       string
	FormURL     string
	Description string
}

// Extract pulls contact details out of a parsed page. Relative links are
// resolved against base.
func Extract(doc *goquery.Document, base *url.URL) PageInfo {
	var info PageInfo

	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lower, "mailto:") && info.Email == "":
			addr := strings.SplitN(href[len("mailto:"):], "?", 2)[0]
			if emailPattern.MatchString(addr) {
				info.Email = addr
			}
		case strings.HasPrefix(lower, "tel:") && info.Phone == "":
			info.Phone = strings.TrimSpace(href[len("tel:"):])
		case info.FormURL == "" && isContactLink(a, lower):
			info.FormURL = resolve(base, href)
		}
		return info.Email == "" || info.Phone == "" || info.FormURL == ""
	})

	if info.Email == "" {
		info.Email = emailPattern.FindString(doc.Find("body").Text())
	}
	if info.FormURL == "" {
		// The landing page itself carries a form that takes a message.
		doc.Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
			if f.Find("textarea").Length() == 0 {
				return true
			}
			action, _ := f.Attr("action")
			info.FormURL = resolve(base, action)
			return false
		})
	}
	if d, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		info.Description = strings.TrimSpace(d)
	}
	return info
}

func isContactLink(a *goquery.Selection, href string) bool {
	text := strings.ToLower(strings.TrimSpace(a.Text()))
	return strings.Contains(href, "contact") || strings.Contains(href, "quote") ||
		strings.Contains(text, "contact us") || strings.Contains(text, "request a quote")
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}
