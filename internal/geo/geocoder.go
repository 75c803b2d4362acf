package geo

import (
	"context"
	"errors"

	"github.com/ignite/provider-outreach/internal/domain"
)

// ErrNoMatch is returned when a geocoder finds no coordinates for a query.
var ErrNoMatch = errors.New("geocode: no match")

// Geocoder resolves a free-form location to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (domain.Point, error)
}

// Resolve fills loc.Coordinates when they are missing. On failure the
// location is returned unchanged with the error so callers can fall back to
// postal-code matching.
func Resolve(ctx context.Context, g Geocoder, loc domain.Location) (domain.Location, error) {
	if loc.Coordinates != nil || g == nil {
		return loc, nil
	}
	q := loc.Query()
	if q == "" {
		return loc, ErrNoMatch
	}
	p, err := g.Geocode(ctx, q)
	if err != nil {
		return loc, err
	}
	loc.Coordinates = &p
	return loc, nil
}
