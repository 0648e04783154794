package geo

import "github.com/ukydev/fleet-simulator/internal/models"

// RoutePlan is a precomputed sequence of waypoints consumed by arc-length
// stepping. It is not safe for concurrent use; the owning vehicle guards it.
type RoutePlan struct {
	points []models.GeoPoint
	next   int
}

// NewRoutePlan copies points into a new plan. The cursor starts at the
// second point, so a plan with fewer than two points is already complete.
func NewRoutePlan(points []models.GeoPoint) *RoutePlan {
	cp := make([]models.GeoPoint, len(points))
	copy(cp, points)
	next := len(cp)
	if len(cp) > 1 {
		next = 1
	}
	return &RoutePlan{points: cp, next: next}
}

// Complete reports whether every waypoint has been visited.
func (p *RoutePlan) Complete() bool {
	return p.next >= len(p.points)
}

// Len returns the number of waypoints in the plan.
func (p *RoutePlan) Len() int {
	return len(p.points)
}

// Remaining returns the number of waypoints not yet visited.
func (p *RoutePlan) Remaining() int {
	if p.Complete() {
		return 0
	}
	return len(p.points) - p.next
}

// Advance moves current along the plan by stepMeters, possibly crossing
// several waypoints, and returns the new position.
func (p *RoutePlan) Advance(current models.GeoPoint, stepMeters float64) models.GeoPoint {
	if len(p.points) == 0 || stepMeters <= 0 {
		return current
	}

	remaining := stepMeters
	position := current
	for remaining > 0 && p.next < len(p.points) {
		waypoint := p.points[p.next]
		distance := DistanceMeters(position, waypoint)
		if distance <= 0 {
			// duplicate waypoint, costs nothing
			position = waypoint
			p.next++
			continue
		}
		if remaining < distance {
			position = MoveTowards(position, waypoint, remaining)
			remaining = 0
			break
		}
		position = waypoint
		remaining -= distance
		p.next++
	}
	return position
}
