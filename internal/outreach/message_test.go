package outreach

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/provider-outreach/internal/domain"
)

func testComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := NewComposer(ComposerConfig{
		PublicBaseURL: "https://outreach.test/",
		ReplyDomain:   "reply.outreach.test",
		SenderName:    "Ignite Jobs",
		SenderEmail:   "jobs@outreach.test",
		SenderPhone:   "+12125550199",
	})
	require.NoError(t, err)
	return c
}

var composeJob = domain.JobRequest{
	ID: "job-1", Category: "plumbing", Scope: "replace water heater",
	Location: domain.Location{PostalCode: "10007"},
	Budget:   &domain.BudgetRange{Min: 800, Max: 1500},
	Urgency:  domain.UrgencyEmergency, TargetCount: 3,
}

var composeCand = domain.Candidate{
	ID: "cand-1", Name: "Acme Plumbing",
	Contact: domain.Contact{Email: "owner@acme.example", Phone: "+12125550100", FormURL: "https://acme.example/contact"},
}

func TestComposeEmail(t *testing.T) {
	c := testComposer(t)
	msg, err := c.Compose(composeJob, composeCand, domain.OutreachAttempt{ID: "att-1", CampaignID: "camp-1", Channel: domain.ChannelEmail})
	require.NoError(t, err)

	assert.Equal(t, "owner@acme.example", msg.To)
	assert.Equal(t, "New plumbing job near 10007 (urgent)", msg.Subject)
	assert.Equal(t, "reply+att-1@reply.outreach.test", msg.ReplyTo)
	assert.Contains(t, msg.Body, "Hi Acme Plumbing,")
	assert.Contains(t, msg.Body, "Budget: $800 - $1,500")
	assert.Contains(t, msg.Body, "https://outreach.test/r/att-1")
}

func TestComposeSMSAndWebForm(t *testing.T) {
	c := testComposer(t)
	sms, err := c.Compose(composeJob, composeCand, domain.OutreachAttempt{ID: "att-2", Channel: domain.ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, "+12125550100", sms.To)
	assert.Contains(t, sms.Body, "budget up to $1,500")
	assert.Empty(t, sms.Subject)

	form, err := c.Compose(composeJob, composeCand, domain.OutreachAttempt{ID: "att-3", Channel: domain.ChannelWebForm})
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example/contact", form.To)
	assert.Equal(t, "Ignite Jobs", form.Fields["name"])
	assert.Equal(t, "jobs@outreach.test", form.Fields["email"])
	assert.Equal(t, form.Body, form.Fields["message"])
	assert.Contains(t, form.Body, "https://outreach.test/r/att-3")
}

func TestComposeRequiresContact(t *testing.T) {
	c := testComposer(t)
	cand := composeCand
	cand.Contact.Phone = ""
	_, err := c.Compose(composeJob, cand, domain.OutreachAttempt{ID: "att-4", Channel: domain.ChannelSMS})
	assert.Error(t, err)
}

func TestNewComposerRejectsBrokenTemplate(t *testing.T) {
	_, err := NewComposer(ComposerConfig{Templates: Templates{SMSBody: "{% if job.category %}unterminated"}})
	assert.Error(t, err)
}

func TestReplyAddressRoundTrip(t *testing.T) {
	assert.Equal(t, "att-9", AttemptFromReplyAddress("Ignite Jobs <REPLY+att-9@reply.outreach.test>"))
	assert.Equal(t, "", AttemptFromReplyAddress("owner@acme.example"))
}

func TestThousands(t *testing.T) {
	assert.Equal(t, "999", thousands(999))
	assert.Equal(t, "1,000", thousands(1000))
	assert.Equal(t, "1,234,567", thousands(1234567))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+12125550100", NormalizePhone("(212) 555-0100"))
	assert.Equal(t, "+12125550100", NormalizePhone("+1 212.555.0100"))
	assert.Equal(t, "", NormalizePhone("n/a"))
	assert.Equal(t, "owner@acme.example", NormalizeEmail(" Owner <OWNER@acme.example> "))
}
