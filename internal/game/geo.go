// internal/game/geo.go
//
// Geometry helpers.
//   - Bounds: axis-aligned lat/lng box used to frame guess + actual markers.
//   - Distance: great-circle (haversine) distance, used by the authority only.
//   - Score: stepped distance → points table, used by the authority only.

package game

import "math"

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

// Bounds is an axis-aligned box in degrees.
type Bounds struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

// BoundsOf returns the smallest box containing every point.
// Callers must pass at least one point.
func BoundsOf(points ...Coordinate) Bounds {
	b := Bounds{MinLat: points[0].Lat, MaxLat: points[0].Lat, MinLng: points[0].Lng, MaxLng: points[0].Lng}
	for _, p := range points[1:] {
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
		b.MinLng = math.Min(b.MinLng, p.Lng)
		b.MaxLng = math.Max(b.MaxLng, p.Lng)
	}
	return b
}

// Pad grows the box by ratio of its span on every side, clamped to valid
// latitudes. A degenerate (single point) box gets a fixed minimum margin so
// the view never zooms to infinity.
func (b Bounds) Pad(ratio float64) Bounds {
	const minMargin = 0.01
	dLat := math.Max((b.MaxLat-b.MinLat)*ratio, minMargin)
	dLng := math.Max((b.MaxLng-b.MinLng)*ratio, minMargin)
	return Bounds{
		MinLat: math.Max(b.MinLat-dLat, -90),
		MaxLat: math.Min(b.MaxLat+dLat, 90),
		MinLng: b.MinLng - dLng,
		MaxLng: b.MaxLng + dLng,
	}
}

// Contains reports whether p lies inside the box (edges inclusive).
func (b Bounds) Contains(p Coordinate) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Valid reports whether c is a real coordinate.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lng)
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b Coordinate) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Score maps a distance to points. Closer is better; the table is stepped
// with linear interpolation inside each band:
//
//	< 0.1 km   max
//	< 1 km     4000
//	< 10 km    3000 → 2000
//	< 50 km    2000 → 1000
//	< 100 km   1000 → 500
//	< 500 km   500  → 100
//	< 1000 km  100  → 50
//	beyond     50   → 0 (reaching 0 at 10000 km)
func Score(distanceKm float64, maxPoints int) int {
	band := func(from, to, hi, lo float64) int {
		ratio := (distanceKm - from) / (to - from)
		return int(hi - ratio*(hi-lo))
	}
	switch {
	case distanceKm < 0.1:
		return maxPoints
	case distanceKm < 1:
		return 4000
	case distanceKm < 10:
		return band(1, 10, 3000, 2000)
	case distanceKm < 50:
		return band(10, 50, 2000, 1000)
	case distanceKm < 100:
		return band(50, 100, 1000, 500)
	case distanceKm < 500:
		return band(100, 500, 500, 100)
	case distanceKm < 1000:
		return band(500, 1000, 100, 50)
	default:
		s := int(50 * (1 - math.Min(distanceKm/10000, 1)))
		if s < 0 {
			return 0
		}
		return s
	}
}
