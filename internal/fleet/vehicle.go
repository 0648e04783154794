package fleet

import (
	"sync"
	"time"

	"github.com/ukydev/fleet-simulator/internal/geo"
	"github.com/ukydev/fleet-simulator/internal/models"
)

// Snapshot is an immutable copy of a vehicle's state taken under its lock.
type Snapshot struct {
	ID        string
	Base      models.GeoPoint
	Position  models.GeoPoint
	Target    *models.GeoPoint
	PhaseID   string
	Status    models.VehicleStatus
	ArrivedAt time.Time
	HasRoute  bool
}

// Vehicle is the mutable state of one simulated unit. Every field is read
// and written under mu.
type Vehicle struct {
	mu        sync.Mutex
	id        string
	base      models.GeoPoint
	position  models.GeoPoint
	target    *models.GeoPoint
	phaseID   string
	route     *geo.RoutePlan
	status    models.VehicleStatus
	arrivedAt time.Time
}

// NewVehicle creates an available vehicle at position with the given home base.
func NewVehicle(id string, base, position models.GeoPoint) *Vehicle {
	return &Vehicle{
		id:       id,
		base:     base,
		position: position,
		status:   models.StatusAvailable,
	}
}

// ID returns the vehicle registration.
func (v *Vehicle) ID() string {
	return v.id
}

// Snapshot returns a consistent copy of the vehicle state.
func (v *Vehicle) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *Vehicle) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:        v.id,
		Base:      v.base,
		Position:  v.position,
		PhaseID:   v.phaseID,
		Status:    v.status,
		ArrivedAt: v.arrivedAt,
		HasRoute:  v.route != nil,
	}
	if v.target != nil {
		t := *v.target
		s.Target = &t
	}
	return s
}

// Assign engages the vehicle towards target for the given incident phase
// and returns the phase it was previously attached to, if any.
func (v *Vehicle) Assign(target models.GeoPoint, route *geo.RoutePlan, phaseID string) string {
	v.mu.Lock()
	defer v.mu.Unlock()

	previous := v.phaseID
	v.target = &target
	v.route = route
	v.phaseID = phaseID
	v.arrivedAt = time.Time{}
	v.status = models.StatusEngaged
	return previous
}

// MarkArrived moves an engaged vehicle on scene. The arrival time is only
// recorded once per engagement. It reports whether the status changed.
func (v *Vehicle) MarkArrived(now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != models.StatusEngaged {
		return false
	}
	if v.arrivedAt.IsZero() {
		v.arrivedAt = now
	}
	v.status = models.StatusOnScene
	return true
}

// StartReturn switches the vehicle to RETURNING. Target and route are kept
// until a return route is applied.
func (v *Vehicle) StartReturn() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = models.StatusReturning
}

// Depart switches an on-scene vehicle still attached to phaseID to
// RETURNING. It reports whether the vehicle left.
func (v *Vehicle) Depart(phaseID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != models.StatusOnScene || v.phaseID != phaseID {
		return false
	}
	v.status = models.StatusReturning
	return true
}

// ApplyReturnRoute redirects a returning vehicle to its base, following
// route when one is given. It is ignored when the vehicle is no longer
// returning.
func (v *Vehicle) ApplyReturnRoute(route *geo.RoutePlan) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != models.StatusReturning {
		return false
	}
	base := v.base
	v.target = &base
	v.route = route
	return true
}

// AssignToBase makes the vehicle available again and forgets its engagement.
func (v *Vehicle) AssignToBase() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.status = models.StatusAvailable
	v.target = nil
	v.route = nil
	v.phaseID = ""
	v.arrivedAt = time.Time{}
}

// Advance moves the vehicle for dtSeconds and returns the resulting state.
// A pending route plan is followed first; otherwise the vehicle heads
// straight for its target, or drifts home when it has none.
func (v *Vehicle) Advance(m geo.MovementModel, dtSeconds float64) Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.route != nil && !v.route.Complete() {
		v.position = v.route.Advance(v.position, m.Step(dtSeconds))
		if v.route.Complete() {
			v.route = nil
		}
		return v.snapshotLocked()
	}
	v.route = nil

	target := v.target
	if target == nil && !m.IsAtTarget(v.position, &v.base) {
		target = &v.base
	}
	if target != nil {
		v.position = m.Move(v.position, target, dtSeconds)
	}
	return v.snapshotLocked()
}
