// Package geo holds the spherical-earth distance used by the throttle and the
// arrival check. Both thresholds were tuned against this approximation, so it is
// deliberately not an ellipsoidal model.
package geo

import (
	"math"

	"resbac/internal/models"
)

const EarthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b models.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// Offset returns the point reached by moving north and east by the given meters
// from origin. Used to build fixtures at known distances.
func Offset(origin models.Coordinate, northMeters, eastMeters float64) models.Coordinate {
	dLat := northMeters / EarthRadiusMeters * 180 / math.Pi
	dLng := eastMeters / (EarthRadiusMeters * math.Cos(origin.Lat*math.Pi/180)) * 180 / math.Pi
	return models.Coordinate{Lat: origin.Lat + dLat, Lng: origin.Lng + dLng}
}
