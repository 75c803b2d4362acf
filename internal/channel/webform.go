package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/pkg/httpretry"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
	"github.com/ignite/provider-outreach/internal/pkg/retry"
	"github.com/ignite/provider-outreach/internal/provider/webenrich"
)

// WebFormSender fills in and submits a provider's public contact form.
// There is no provider reference for a form post, so the attempt id is
// used and responses come back through the embedded response link.
type WebFormSender struct {
	http      httpretry.HTTPDoer
	limiter   *webenrich.HostLimiter
	userAgent string
}

// NewWebFormSender returns a sender. nil doer uses a plain client with a
// 15s timeout; nil limiter allows one request per second per host.
func NewWebFormSender(doer httpretry.HTTPDoer, limiter *webenrich.HostLimiter, userAgent string) *WebFormSender {
	if doer == nil {
		doer = &http.Client{Timeout: 15 * time.Second}
	}
	if limiter == nil {
		limiter = webenrich.NewHostLimiter(1, 1)
	}
	if userAgent == "" {
		userAgent = "provider-outreach/1.0"
	}
	return &WebFormSender{http: doer, limiter: limiter, userAgent: userAgent}
}

func (s *WebFormSender) Channel() domain.Channel { return domain.ChannelWebForm }

// Form is a parsed contact form ready to submit.
type Form struct {
	Action string
	Method string
	Values url.Values
}

func (s *WebFormSender) Send(ctx context.Context, msg outreach.Message) (outreach.SendResult, error) {
	page, err := url.Parse(msg.To)
	if err != nil || page.Host == "" {
		return outreach.SendResult{}, retry.Permanent(fmt.Errorf("webform: invalid form url %q", msg.To))
	}
	doc, err := s.fetch(ctx, msg.To)
	if err != nil {
		return outreach.SendResult{}, err
	}
	form, ok := FindForm(doc, page, msg.Fields)
	if !ok {
		return outreach.SendResult{}, retry.Permanent(fmt.Errorf("webform: no contact form on %s", page.Host))
	}
	if err := s.submit(ctx, form); err != nil {
		return outreach.SendResult{}, err
	}
	logger.Debug("web form submitted", "host", page.Host, "attempt_id", msg.AttemptID)
	return outreach.SendResult{ProviderRef: "webform:" + msg.AttemptID, At: time.Now().UTC()}, nil
}

func (s *WebFormSender) fetch(ctx context.Context, raw string) (*goquery.Document, error) {
	if err := s.limiter.WaitURL(ctx, raw); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webform: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("webform: fetch status %d", resp.StatusCode)
		if !httpretry.IsRetryableStatus(resp.StatusCode) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
}

func (s *WebFormSender) submit(ctx context.Context, f Form) error {
	if err := s.limiter.WaitURL(ctx, f.Action); err != nil {
		return err
	}
	var req *http.Request
	var err error
	if f.Method == http.MethodGet {
		u, _ := url.Parse(f.Action)
		u.RawQuery = f.Values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, f.Action, strings.NewReader(f.Values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("webform: submit: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("webform: submit status %d", resp.StatusCode)
		if !httpretry.IsRetryableStatus(resp.StatusCode) {
			return retry.Permanent(err)
		}
		return err
	}
	return nil
}

// fieldRole maps an input to the outreach field it should carry.
func fieldRole(name, typ string, isTextarea bool) string {
	n := strings.ToLower(name)
	switch {
	case isTextarea:
		return "message"
	case typ == "email" || strings.Contains(n, "email") || strings.Contains(n, "mail"):
		return "email"
	case typ == "tel" || strings.Contains(n, "phone") || strings.Contains(n, "tel"):
		return "phone"
	case strings.Contains(n, "subject") || strings.Contains(n, "topic"):
		return "subject"
	case strings.Contains(n, "message") || strings.Contains(n, "comment") || strings.Contains(n, "inquiry"):
		return "message"
	case strings.Contains(n, "name"):
		return "name"
	}
	return ""
}

// FindForm picks the first form with a textarea (or failing that, an
// email field) and fills it from fields. Hidden inputs and preset values
// are kept so tokens survive the round trip.
func FindForm(doc *goquery.Document, page *url.URL, fields map[string]string) (Form, bool) {
	var chosen *goquery.Selection
	doc.Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		if f.Find("textarea").Length() > 0 {
			chosen = f
			return false
		}
		if chosen == nil && f.Find(`input[type="email"]`).Length() > 0 {
			chosen = f
		}
		return true
	})
	if chosen == nil {
		return Form{}, false
	}

	action, _ := chosen.Attr("action")
	target, err := page.Parse(strings.TrimSpace(action))
	if err != nil {
		return Form{}, false
	}
	method := strings.ToUpper(strings.TrimSpace(chosen.AttrOr("method", "POST")))
	if method != http.MethodGet {
		method = http.MethodPost
	}

	values := url.Values{}
	filled := false
	chosen.Find("input, textarea, select").Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		tag := goquery.NodeName(in)
		typ := strings.ToLower(in.AttrOr("type", "text"))
		switch typ {
		case "submit", "button", "image", "file", "reset":
			return
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); checked {
				values.Add(name, in.AttrOr("value", "on"))
			}
			return
		}
		if tag == "select" {
			values.Set(name, in.Find("option").First().AttrOr("value", ""))
			return
		}
		if typ == "hidden" {
			values.Set(name, in.AttrOr("value", ""))
			return
		}
		if role := fieldRole(name, typ, tag == "textarea"); role != "" && fields[role] != "" {
			values.Set(name, fields[role])
			if role == "message" {
				filled = true
			}
			return
		}
		values.Set(name, in.AttrOr("value", ""))
	})
	if !filled {
		return Form{}, false
	}
	return Form{Action: target.String(), Method: method, Values: values}, true
}
