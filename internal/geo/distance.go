// Package geo holds distance math, the staged search radius and the
// geocoding contract used to place jobs and candidates on the map.
package geo

import (
	"math"

	"github.com/ignite/provider-outreach/internal/domain"
)

const earthRadiusMiles = 3958.8

// DistanceMiles returns the great-circle distance between a and b.
func DistanceMiles(a, b domain.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BBox is a lat/lng rectangle used to pre-filter store queries.
type BBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Contains reports whether p lies inside the box.
func (b BBox) Contains(p domain.Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// BoundingBox returns a rectangle that contains every point within
// radiusMiles of center. It over-covers; callers filter by exact distance.
func BoundingBox(center domain.Point, radiusMiles float64) BBox {
	dLat := radiusMiles / 69.0
	cos := math.Cos(center.Lat * math.Pi / 180)
	dLng := 180.0
	if cos > 1e-6 {
		dLng = math.Min(180, radiusMiles/(69.172*cos))
	}
	return BBox{
		MinLat: center.Lat - dLat,
		MaxLat: center.Lat + dLat,
		MinLng: center.Lng - dLng,
		MaxLng: center.Lng + dLng,
	}
}

// Ring is an annulus around a job location. Inner is exclusive and Outer is
// inclusive, so consecutive expansion rings never overlap.
type Ring struct {
	Inner float64 `json:"inner"`
	Outer float64 `json:"outer"`
}

// Disc is the plain radius search {0, r}.
func Disc(radius float64) Ring { return Ring{Outer: radius} }

// Contains reports whether a distance falls in the ring.
func (r Ring) Contains(d float64) bool {
	if d > r.Outer {
		return false
	}
	if r.Inner > 0 && d <= r.Inner {
		return false
	}
	return true
}

// InRing reports whether p lies in ring r around center. Without a job
// center the search was narrowed by postal code upstream, so everything
// passes. A candidate without coordinates only passes the initial disc.
func InRing(center, p *domain.Point, r Ring) bool {
	if center == nil {
		return true
	}
	if p == nil {
		return r.Inner == 0
	}
	return r.Contains(DistanceMiles(*center, *p))
}
