// Package geo holds the movement math used by the simulation: great-circle
// distance, straight-line stepping, the movement model and route plans.
package geo

import (
	"math"

	"github.com/ukydev/fleet-simulator/internal/models"
)

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b models.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return EarthRadiusMeters * c
}

func lerp(a, b models.GeoPoint, t float64) models.GeoPoint {
	return models.GeoPoint{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
}

// MoveTowards steps from `from` towards `to` by stepMeters, interpolating
// linearly in latitude/longitude. It returns `to` when the step covers the
// whole distance and `from` when there is nothing to do.
func MoveTowards(from, to models.GeoPoint, stepMeters float64) models.GeoPoint {
	distance := DistanceMeters(from, to)
	if distance <= 0 || stepMeters <= 0 {
		return from
	}
	if stepMeters >= distance {
		return to
	}
	return lerp(from, to, stepMeters/distance)
}
