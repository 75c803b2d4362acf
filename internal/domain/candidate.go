package domain

import "strings"

// Tier is the provenance class of a candidate. It is assigned once by the
// matcher that produced the candidate and never inferred from attributes.
type Tier string

const (
	TierA Tier = "tier-a" // internal registry
	TierB Tier = "tier-b" // prior-contact history
	TierC Tier = "tier-c" // live external discovery
)

// Tiers lists every tier in preference order.
var Tiers = []Tier{TierA, TierB, TierC}

// Rank orders tiers by preference; lower is better. Unknown tiers sort last.
func (t Tier) Rank() int {
	switch t {
	case TierA:
		return 0
	case TierB:
		return 1
	case TierC:
		return 2
	}
	return 3
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() < 3 }

// Contact holds the channels a candidate can be reached on.
type Contact struct {
	Email   string `json:"email,omitempty" db:"email"`
	Phone   string `json:"phone,omitempty" db:"phone"`
	FormURL string `json:"form_url,omitempty" db:"form_url"`
	Website string `json:"website,omitempty" db:"website"`
}

// Address returns the destination used for the given channel, or "".
func (c Contact) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	case ChannelWebForm:
		return c.FormURL
	}
	return ""
}

// Reputation is a partial set of quality signals. Nil fields are unknown.
type Reputation struct {
	Rating      *float64 `json:"rating,omitempty"`       // 0-5 stars
	ReviewCount *int     `json:"review_count,omitempty"` // number of reviews behind Rating
	Licensed    *bool    `json:"licensed,omitempty"`
}

// ExternalRef identifies a candidate in an external discovery source.
type ExternalRef struct {
	Source string `json:"source,omitempty"`
	ID     string `json:"id,omitempty"`
}

// Key returns "source:id" or "" when the ref is incomplete.
func (r ExternalRef) Key() string {
	if r.Source == "" || r.ID == "" {
		return ""
	}
	return strings.ToLower(r.Source) + ":" + r.ID
}

// Candidate is a service provider that may be contacted for a job.
type Candidate struct {
	ID          string       `json:"id" db:"id"`
	Name        string       `json:"name" db:"name"`
	Contact     Contact      `json:"contact"`
	Categories  []string     `json:"categories"`
	Specialties []string     `json:"specialties,omitempty"`
	Location    Location     `json:"location"`
	Tier        Tier         `json:"tier" db:"tier"`
	Reputation  Reputation   `json:"reputation"`
	PriceRange  *BudgetRange `json:"price_range,omitempty"`
	Description string       `json:"description,omitempty" db:"description"`
	ExternalRef ExternalRef  `json:"external_ref"`
	DedupKey    string       `json:"dedup_key" db:"dedup_key"`
}

// Channels returns the outreach channels this candidate has contact details for,
// in the fixed order email, sms, web form.
func (c Candidate) Channels() []Channel {
	out := make([]Channel, 0, 3)
	for _, ch := range AllChannels {
		if c.Contact.Address(ch) != "" {
			out = append(out, ch)
		}
	}
	return out
}

// Completeness counts populated optional attributes. Used to pick the richer
// record when two candidates collapse into one.
func (c Candidate) Completeness() int {
	n := 0
	for _, s := range []string{c.Contact.Email, c.Contact.Phone, c.Contact.FormURL, c.Contact.Website, c.Description, c.Location.Address, c.Location.PostalCode} {
		if s != "" {
			n++
		}
	}
	if c.Location.Coordinates != nil {
		n++
	}
	if c.Reputation.Rating != nil {
		n++
	}
	if c.Reputation.ReviewCount != nil {
		n++
	}
	if c.Reputation.Licensed != nil {
		n++
	}
	if c.PriceRange != nil {
		n++
	}
	n += len(c.Categories) + len(c.Specialties)
	return n
}

// HasCategory reports whether the candidate lists category (case-insensitive).
func (c Candidate) HasCategory(category string) bool {
	category = strings.ToLower(strings.TrimSpace(category))
	for _, cat := range c.Categories {
		if strings.ToLower(strings.TrimSpace(cat)) == category {
			return true
		}
	}
	return false
}
