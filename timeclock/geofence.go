package timeclock

import "math"

// EarthRadiusMeters is the spherical Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// WithinFence reports whether point lies within radiusMeters of center.
func WithinFence(point, center Coordinate, radiusMeters float64) bool {
	return DistanceMeters(point, center) <= radiusMeters
}

// Valid reports finite coordinates inside the lat/lng ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
