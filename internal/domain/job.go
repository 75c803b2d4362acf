package domain

import (
	"fmt"
	"strings"
)

// Urgency classifies how quickly the requester needs a provider.
type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyStandard  Urgency = "standard"
	UrgencyFlexible  Urgency = "flexible"
)

// Valid reports whether u is one of the known urgency classes.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyEmergency, UrgencyUrgent, UrgencyStandard, UrgencyFlexible:
		return true
	}
	return false
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat" db:"lat"`
	Lng float64 `json:"lng" db:"lng"`
}

// Location is a postal location with optionally resolved coordinates.
type Location struct {
	Address     string `json:"address,omitempty" db:"address"`
	PostalCode  string `json:"postal_code,omitempty" db:"postal_code"`
	Coordinates *Point `json:"coordinates,omitempty"`
}

// Query returns the text sent to a geocoder for this location.
func (l Location) Query() string {
	parts := make([]string, 0, 2)
	if a := strings.TrimSpace(l.Address); a != "" {
		parts = append(parts, a)
	}
	if z := strings.TrimSpace(l.PostalCode); z != "" && !strings.Contains(l.Address, z) {
		parts = append(parts, z)
	}
	return strings.Join(parts, ", ")
}

// BudgetRange is an inclusive price range in whole currency units.
type BudgetRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Valid reports whether the range is well formed.
func (b BudgetRange) Valid() bool {
	return b.Min >= 0 && b.Max >= b.Min
}

// JobRequest is a posted job that outreach campaigns try to fill.
// It is immutable once a campaign has been created from it.
type JobRequest struct {
	ID          string       `json:"id" db:"id"`
	Category    string       `json:"category" db:"category"`
	Scope       string       `json:"scope" db:"scope"`
	Location    Location     `json:"location"`
	Budget      *BudgetRange `json:"budget,omitempty"`
	Urgency     Urgency      `json:"urgency" db:"urgency"`
	TargetCount int          `json:"target_count" db:"target_count"`
}

// DiscoveryRequest is consumed from the intake collaborator and starts a campaign.
type DiscoveryRequest struct {
	JobID       string       `json:"job_id"`
	Category    string       `json:"category"`
	Scope       string       `json:"scope,omitempty"`
	Location    Location     `json:"location"`
	RadiusHint  *float64     `json:"radius_hint,omitempty"`
	Budget      *BudgetRange `json:"budget_range,omitempty"`
	Urgency     Urgency      `json:"urgency"`
	TargetCount int          `json:"target_count"`
}

// Validate checks the request before any discovery work starts.
func (r DiscoveryRequest) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return fmt.Errorf("job_id is required")
	}
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("category is required")
	}
	if r.Location.Query() == "" && r.Location.Coordinates == nil {
		return fmt.Errorf("location is required")
	}
	if r.TargetCount <= 0 {
		return fmt.Errorf("target_count must be positive")
	}
	if r.Urgency != "" && !r.Urgency.Valid() {
		return fmt.Errorf("unknown urgency %q", r.Urgency)
	}
	if r.Budget != nil && !r.Budget.Valid() {
		return fmt.Errorf("budget_range min must be <= max")
	}
	if r.RadiusHint != nil && *r.RadiusHint <= 0 {
		return fmt.Errorf("radius_hint must be positive")
	}
	return nil
}

// Job converts the request into the JobRequest it describes.
func (r DiscoveryRequest) Job() JobRequest {
	urgency := r.Urgency
	if urgency == "" {
		urgency = UrgencyStandard
	}
	return JobRequest{
		ID:          r.JobID,
		Category:    strings.TrimSpace(r.Category),
		Scope:       strings.TrimSpace(r.Scope),
		Location:    r.Location,
		Budget:      r.Budget,
		Urgency:     urgency,
		TargetCount: r.TargetCount,
	}
}
