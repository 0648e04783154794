package geo

import (
	"math"

	"github.com/ukydev/fleet-simulator/internal/models"
)

// MovementModel moves vehicles at a constant speed and decides arrival
// within a tolerance radius.
type MovementModel struct {
	SpeedMps      float64
	EpsilonMeters float64
}

// NewMovementModel creates a movement model.
func NewMovementModel(speedMps, epsilonMeters float64) MovementModel {
	return MovementModel{SpeedMps: speedMps, EpsilonMeters: epsilonMeters}
}

// IsAtTarget reports whether current lies within the tolerance of target.
// A nil target counts as reached.
func (m MovementModel) IsAtTarget(current models.GeoPoint, target *models.GeoPoint) bool {
	if target == nil {
		return true
	}
	return DistanceMeters(current, *target) <= m.EpsilonMeters
}

// Step returns the distance covered in dtSeconds.
func (m MovementModel) Step(dtSeconds float64) float64 {
	return math.Max(0, m.SpeedMps*dtSeconds)
}

// Move advances current towards target for dtSeconds. It never overshoots
// and is a no-op once the target is reached.
func (m MovementModel) Move(current models.GeoPoint, target *models.GeoPoint, dtSeconds float64) models.GeoPoint {
	if target == nil || m.IsAtTarget(current, target) {
		return current
	}
	return MoveTowards(current, *target, m.Step(dtSeconds))
}
