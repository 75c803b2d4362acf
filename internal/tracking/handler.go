package tracking

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/pkg/httpretry"
	"github.com/ignite/provider-outreach/internal/pkg/httputil"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

const maxWebhookBody = 256 << 10

// Handler serves provider webhooks and candidate response links.
type Handler struct {
	sink   Sink
	secret string
	http   httpretry.HTTPDoer
	now    func() time.Time
	log    *logger.Logger

	// confirmHost decides which SNS SubscribeURL hosts may be visited.
	confirmHost func(host string) bool
}

// NewHandler returns a handler. A non-empty secret is required in the
// X-Webhook-Secret header (or ?secret=) of the provider webhooks; response
// links are never authenticated.
func NewHandler(sink Sink, secret string, doer httpretry.HTTPDoer) *Handler {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	return &Handler{
		sink:   sink,
		secret: secret,
		http:   doer,
		now:    time.Now,
		log:    logger.Named("tracking"),
		confirmHost: func(host string) bool {
			return strings.HasSuffix(host, ".amazonaws.com")
		},
	}
}

// Mount registers the routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireSecret)
		r.Post("/webhooks/ses", h.HandleSES)
		r.Post("/webhooks/sms/status", h.HandleSMSStatus)
		r.Post("/webhooks/sms/inbound", h.HandleSMSInbound)
		r.Post("/api/responses", h.HandleResponse)
	})
	r.Get("/r/{attemptID}", h.HandleResponseLink)
	r.Post("/r/{attemptID}", h.HandleResponseConfirm)
}

func (h *Handler) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.secret != "" {
			got := r.Header.Get("X-Webhook-Secret")
			if got == "" {
				got = r.URL.Query().Get("secret")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
				httputil.Error(w, http.StatusUnauthorized, "invalid webhook secret")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// submit forwards ev. Events matching no attempt are acknowledged so the
// provider stops redelivering them.
func (h *Handler) submit(ctx context.Context, w http.ResponseWriter, ev domain.ResponseEvent) {
	if ev.At.IsZero() {
		ev.At = h.now().UTC()
	}
	err := h.sink.Submit(ctx, ev)
	switch {
	case err == nil:
		httputil.OK(w, map[string]string{"status": "accepted"})
	case unmatched(err):
		h.log.Info("callback matches no attempt", "kind", ev.Kind, "provider_ref", ev.ProviderRef, "channel", ev.Channel)
		httputil.OK(w, map[string]string{"status": "ignored"})
	default:
		httputil.InternalError(w, err)
	}
}

// ---------------------------------------------------------------------------
// SES via SNS
// ---------------------------------------------------------------------------

type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

type sesNotification struct {
	NotificationType string `json:"notificationType"`
	EventType        string `json:"eventType"`
	Mail             struct {
		MessageID     string   `json:"messageId"`
		Source        string   `json:"source"`
		Destination   []string `json:"destination"`
		CommonHeaders struct {
			From []string `json:"from"`
			To   []string `json:"to"`
		} `json:"commonHeaders"`
	} `json:"mail"`
	Bounce *struct {
		BounceType        string `json:"bounceType"`
		BouncedRecipients []struct {
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint *struct {
		ComplaintFeedbackType string `json:"complaintFeedbackType"`
	} `json:"complaint"`
}

func (n sesNotification) kind() string {
	if n.EventType != "" {
		return n.EventType
	}
	return n.NotificationType
}

// sesEvent maps an SES notification to a response event. ok is false for
// notifications that do not change an attempt.
func sesEvent(n sesNotification) (domain.ResponseEvent, bool) {
	switch n.kind() {
	case "Delivery":
		return domain.ResponseEvent{Kind: domain.ResponseDelivered, ProviderRef: n.Mail.MessageID}, true
	case "Bounce":
		if n.Bounce == nil || n.Bounce.BounceType != "Permanent" {
			return domain.ResponseEvent{}, false
		}
		detail := "permanent bounce"
		if len(n.Bounce.BouncedRecipients) > 0 && n.Bounce.BouncedRecipients[0].DiagnosticCode != "" {
			detail = n.Bounce.BouncedRecipients[0].DiagnosticCode
		}
		return domain.ResponseEvent{Kind: domain.ResponseFailed, ProviderRef: n.Mail.MessageID, Detail: detail}, true
	case "Complaint":
		return domain.ResponseEvent{Kind: domain.ResponseFailed, ProviderRef: n.Mail.MessageID, Detail: "complaint"}, true
	case "Received":
		for _, to := range append(append([]string{}, n.Mail.Destination...), n.Mail.CommonHeaders.To...) {
			if id := outreach.AttemptFromReplyAddress(to); id != "" {
				return domain.ResponseEvent{Kind: domain.ResponseReplied, AttemptID: id}, true
			}
		}
		from := n.Mail.Source
		if len(n.Mail.CommonHeaders.From) > 0 {
			from = n.Mail.CommonHeaders.From[0]
		}
		if from == "" {
			return domain.ResponseEvent{}, false
		}
		return domain.ResponseEvent{Kind: domain.ResponseReplied, Channel: domain.ChannelEmail, Contact: from}, true
	}
	return domain.ResponseEvent{}, false
}

// HandleSES accepts SNS deliveries of SES events and inbound mail.
func (h *Handler) HandleSES(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		httputil.BadRequest(w, "invalid SNS envelope")
		return
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		if err := h.confirmSubscription(r.Context(), env.SubscribeURL); err != nil {
			h.log.Warn("sns subscription confirmation failed", "topic", env.TopicArn, "error", err)
			httputil.Error(w, http.StatusBadGateway, "subscription confirmation failed")
			return
		}
		h.log.Info("sns subscription confirmed", "topic", env.TopicArn)
		httputil.OK(w, map[string]string{"status": "confirmed"})
		return
	case "Notification":
	default:
		httputil.OK(w, map[string]string{"status": "ignored"})
		return
	}

	var n sesNotification
	if err := json.Unmarshal([]byte(env.Message), &n); err != nil {
		httputil.BadRequest(w, "invalid SES notification")
		return
	}
	ev, ok := sesEvent(n)
	if !ok {
		httputil.OK(w, map[string]string{"status": "ignored"})
		return
	}
	h.submit(r.Context(), w, ev)
}

func (h *Handler) confirmSubscription(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || !h.confirmHost(u.Hostname()) {
		return &url.Error{Op: "confirm", URL: raw, Err: errUntrustedSubscribeURL}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return &url.Error{Op: "confirm", URL: raw, Err: errSubscribeStatus}
	}
	return nil
}

type webhookError string

func (e webhookError) Error() string { return string(e) }

const (
	errUntrustedSubscribeURL webhookError = "untrusted subscribe url"
	errSubscribeStatus       webhookError = "subscribe url returned an error status"
)

// ---------------------------------------------------------------------------
// SMS provider
// ---------------------------------------------------------------------------

type smsStatusCallback struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// HandleSMSStatus maps delivery receipts onto the attempt by message id.
func (h *Handler) HandleSMSStatus(w http.ResponseWriter, r *http.Request) {
	var cb smsStatusCallback
	if !httputil.Decode(w, r, &cb) {
		return
	}
	if cb.ID == "" {
		httputil.BadRequest(w, "id is required")
		return
	}
	ev := domain.ResponseEvent{ProviderRef: cb.ID, Channel: domain.ChannelSMS}
	switch strings.ToLower(cb.Status) {
	case "delivered":
		ev.Kind = domain.ResponseDelivered
	case "failed", "undelivered":
		ev.Kind = domain.ResponseFailed
		ev.Detail = cb.Error
	default:
		httputil.OK(w, map[string]string{"status": "ignored"})
		return
	}
	h.submit(r.Context(), w, ev)
}

type smsInbound struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// HandleSMSInbound treats any inbound text as a reply to the latest SMS
// attempt sent to the sender's number.
func (h *Handler) HandleSMSInbound(w http.ResponseWriter, r *http.Request) {
	var in smsInbound
	if !httputil.Decode(w, r, &in) {
		return
	}
	if outreach.NormalizePhone(in.From) == "" {
		httputil.BadRequest(w, "from must be a phone number")
		return
	}
	detail := in.Body
	if len(detail) > 500 {
		detail = detail[:500]
	}
	h.submit(r.Context(), w, domain.ResponseEvent{
		Kind: domain.ResponseReplied, Channel: domain.ChannelSMS, Contact: in.From, Detail: detail,
	})
}

// HandleResponse accepts a normalized event from any collaborator.
func (h *Handler) HandleResponse(w http.ResponseWriter, r *http.Request) {
	var ev domain.ResponseEvent
	if !httputil.Decode(w, r, &ev) {
		return
	}
	switch ev.Kind {
	case domain.ResponseDelivered, domain.ResponseReplied, domain.ResponseFailed:
	default:
		httputil.BadRequest(w, "kind must be delivered, responded or failed")
		return
	}
	if ev.ProviderRef == "" && ev.AttemptID == "" && (ev.Contact == "" || !ev.Channel.Valid()) {
		httputil.BadRequest(w, "provider_ref, attempt_id or channel and contact is required")
		return
	}
	h.submit(r.Context(), w, ev)
}

// ---------------------------------------------------------------------------
// Response links
// ---------------------------------------------------------------------------

var responsePage = template.Must(template.New("response").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title></head>
<body style="font-family: sans-serif; max-width: 32rem; margin: 3rem auto;">
<h1>{{.Title}}</h1>
<p>{{.Text}}</p>
{{if .Confirm}}<form method="post"><button type="submit">Yes, I'm interested</button></form>{{end}}
</body></html>`))

type pageData struct {
	Title   string
	Text    string
	Confirm bool
}

func renderPage(w http.ResponseWriter, status int, d pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	responsePage.Execute(w, d)
}

// HandleResponseLink shows the confirmation page. Recording happens on POST
// so link scanners that prefetch URLs do not count as responses.
func (h *Handler) HandleResponseLink(w http.ResponseWriter, r *http.Request) {
	renderPage(w, http.StatusOK, pageData{
		Title:   "Interested in this job?",
		Text:    "Confirm below and the customer will be told you are available.",
		Confirm: true,
	})
}

// HandleResponseConfirm records the candidate's response for the attempt.
func (h *Handler) HandleResponseConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "attemptID")
	err := h.sink.Submit(r.Context(), domain.ResponseEvent{
		Kind: domain.ResponseReplied, AttemptID: id, At: h.now().UTC(),
	})
	switch {
	case err == nil:
		renderPage(w, http.StatusOK, pageData{Title: "Thanks!", Text: "Your response has been recorded."})
	case unmatched(err):
		renderPage(w, http.StatusNotFound, pageData{Title: "Link expired", Text: "This response link is not valid."})
	default:
		h.log.Error("response link failed", "attempt_id", id, "error", err)
		renderPage(w, http.StatusInternalServerError, pageData{Title: "Something went wrong", Text: "Please try again in a few minutes."})
	}
}
