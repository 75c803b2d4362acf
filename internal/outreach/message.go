package outreach

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/provider-outreach/internal/domain"
)

// Templates holds the Liquid sources for each channel. Empty fields fall
// back to the built-in defaults.
type Templates struct {
	EmailSubject string `yaml:"email_subject"`
	EmailBody    string `yaml:"email_body"`
	SMSBody      string `yaml:"sms_body"`
	WebFormBody  string `yaml:"web_form_body"`
}

// DefaultTemplates are used when no custom templates are configured.
var DefaultTemplates = Templates{
	EmailSubject: `New {{ job.category }} job near {{ job.postal_code | default: "you" }}{% if job.urgency == "emergency" %} (urgent){% endif %}`,
	EmailBody: `Hi {{ candidate.name | default: "there" }},

We have a {{ job.category }} job that matches your services.
{% if job.scope != "" %}Scope: {{ job.scope }}
{% endif %}{% if job.budget_max > 0 %}Budget: {{ job.budget_min | money }} - {{ job.budget_max | money }}
{% endif %}Location: {{ job.postal_code }}

If you are interested, reply to this email or respond here: {{ response_url }}
`,
	SMSBody: `{{ candidate.name | truncate: 30 }}: new {{ job.category }} job in {{ job.postal_code }}{% if job.budget_max > 0 %}, budget up to {{ job.budget_max | money }}{% endif %}. Reply YES if interested or open {{ response_url }}`,
	WebFormBody: `We have a {{ job.category }} job in {{ job.postal_code }} that matches your services.{% if job.scope != "" %} Scope: {{ job.scope }}.{% endif %} Please respond at {{ response_url }}`,
}

// ComposerConfig controls addresses and links embedded in messages.
type ComposerConfig struct {
	// PublicBaseURL prefixes response links, e.g. https://outreach.example.com.
	PublicBaseURL string
	// ReplyDomain builds reply+{attempt}@domain reply addresses for email.
	ReplyDomain string
	SenderName  string
	SenderEmail string
	SenderPhone string
	Templates   Templates
}

// Composer renders per-channel messages with Liquid templates. Parsed
// templates are cached.
type Composer struct {
	cfg    ComposerConfig
	engine *liquid.Engine
	cache  sync.Map // template source → *liquid.Template
}

// NewComposer validates every template up front.
func NewComposer(cfg ComposerConfig) (*Composer, error) {
	t := &cfg.Templates
	def := DefaultTemplates
	for _, f := range []struct{ dst *string; def string }{
		{&t.EmailSubject, def.EmailSubject},
		{&t.EmailBody, def.EmailBody},
		{&t.SMSBody, def.SMSBody},
		{&t.WebFormBody, def.WebFormBody},
	} {
		if strings.TrimSpace(*f.dst) == "" {
			*f.dst = f.def
		}
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	c := &Composer{cfg: cfg, engine: liquid.NewEngine()}
	c.registerFilters()
	for _, src := range []string{t.EmailSubject, t.EmailBody, t.SMSBody, t.WebFormBody} {
		if _, err := c.parse(src); err != nil {
			return nil, fmt.Errorf("outreach template: %w", err)
		}
	}
	return c, nil
}

func (c *Composer) registerFilters() {
	// {{ candidate.name | default: "there" }}
	c.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})
	// {{ job.budget_max | money }} → $1,500
	c.engine.RegisterFilter("money", func(value interface{}) string {
		var f float64
		switch v := value.(type) {
		case float64:
			f = v
		case int:
			f = float64(v)
		default:
			return fmt.Sprintf("%v", value)
		}
		return "$" + thousands(int64(f+0.5))
	})
}

func thousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func (c *Composer) parse(src string) (*liquid.Template, error) {
	if cached, ok := c.cache.Load(src); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := c.engine.ParseString(src)
	if err != nil {
		return nil, err
	}
	c.cache.Store(src, tpl)
	return tpl, nil
}

func (c *Composer) render(src string, bindings map[string]interface{}) (string, error) {
	tpl, err := c.parse(src)
	if err != nil {
		return "", err
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", err
	}
	return out, nil
}

// ResponseURL is the link a candidate opens to respond to an attempt.
func (c *Composer) ResponseURL(attemptID string) string {
	return c.cfg.PublicBaseURL + "/r/" + attemptID
}

// ReplyAddress is the email reply-to address that routes back to an attempt.
func (c *Composer) ReplyAddress(attemptID string) string {
	if c.cfg.ReplyDomain == "" {
		return ""
	}
	return "reply+" + attemptID + "@" + c.cfg.ReplyDomain
}

// AttemptFromReplyAddress extracts the attempt id from a reply+{id}@domain
// recipient, or returns "".
func AttemptFromReplyAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	local, _, ok := strings.Cut(addr, "@")
	if !ok || !strings.HasPrefix(local, "reply+") {
		return ""
	}
	return strings.TrimPrefix(local, "reply+")
}

// Compose renders the message for attempt a to candidate over a.Channel.
func (c *Composer) Compose(job domain.JobRequest, cand domain.Candidate, a domain.OutreachAttempt) (Message, error) {
	jobVars := map[string]interface{}{
		"id":          job.ID,
		"category":    job.Category,
		"scope":       job.Scope,
		"postal_code": job.Location.PostalCode,
		"urgency":     string(job.Urgency),
		"budget_min":  0.0,
		"budget_max":  0.0,
	}
	if job.Budget != nil {
		jobVars["budget_min"] = job.Budget.Min
		jobVars["budget_max"] = job.Budget.Max
	}
	bindings := map[string]interface{}{
		"job":          jobVars,
		"candidate":    map[string]interface{}{"name": cand.Name},
		"response_url": c.ResponseURL(a.ID),
		"sender":       map[string]interface{}{"name": c.cfg.SenderName},
	}

	msg := Message{
		AttemptID:   a.ID,
		CampaignID:  a.CampaignID,
		CandidateID: cand.ID,
		Channel:     a.Channel,
		To:          cand.Contact.Address(a.Channel),
		ResponseURL: c.ResponseURL(a.ID),
	}
	if msg.To == "" {
		return Message{}, fmt.Errorf("candidate %s has no %s contact", cand.ID, a.Channel)
	}

	var err error
	t := c.cfg.Templates
	switch a.Channel {
	case domain.ChannelEmail:
		if msg.Subject, err = c.render(t.EmailSubject, bindings); err != nil {
			return Message{}, err
		}
		msg.ReplyTo = c.ReplyAddress(a.ID)
		msg.Body, err = c.render(t.EmailBody, bindings)
	case domain.ChannelSMS:
		msg.Body, err = c.render(t.SMSBody, bindings)
	case domain.ChannelWebForm:
		msg.Body, err = c.render(t.WebFormBody, bindings)
		msg.Fields = map[string]string{
			"name":    c.cfg.SenderName,
			"email":   c.cfg.SenderEmail,
			"phone":   c.cfg.SenderPhone,
			"subject": "New " + job.Category + " job",
			"message": msg.Body,
		}
	default:
		return Message{}, fmt.Errorf("unsupported channel %q", a.Channel)
	}
	if err != nil {
		return Message{}, err
	}
	msg.Body = strings.TrimSpace(msg.Body)
	if msg.Fields != nil {
		msg.Fields["message"] = msg.Body
	}
	return msg, nil
}
