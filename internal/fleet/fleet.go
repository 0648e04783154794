// Package fleet stores the simulated vehicles and their per-vehicle state
// machine. The map is guarded by a read/write lock; each vehicle carries its
// own mutex so that the tick loop and inbound assignments never block each
// other on the whole fleet.
package fleet

import (
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/geo"
	"github.com/ukydev/fleet-simulator/internal/models"
)

var (
	ErrUnknownVehicle = errors.New("unknown vehicle")
	ErrMissingPhase   = errors.New("missing incident phase id")
)

// Fleet maps vehicle registrations to their state.
type Fleet struct {
	mu       sync.RWMutex
	vehicles map[string]*Vehicle
	order    []string
}

// New builds a fleet from roster entries. Duplicate ids are dropped with a
// warning; the first occurrence wins.
func New(entries []models.RosterEntry, logger log.FieldLogger) *Fleet {
	f := &Fleet{vehicles: make(map[string]*Vehicle, len(entries))}
	for _, e := range entries {
		if _, exists := f.vehicles[e.ID]; exists {
			logger.WithField("vehicle_id", e.ID).Warn("Duplicate registration ignored")
			continue
		}
		f.vehicles[e.ID] = NewVehicle(e.ID, e.Base, e.Position)
		f.order = append(f.order, e.ID)
	}
	return f
}

// Len returns the number of vehicles.
func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vehicles)
}

// Get returns the vehicle with the given id.
func (f *Fleet) Get(id string) (*Vehicle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.vehicles[id]
	return v, ok
}

func (f *Fleet) all() []*Vehicle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	list := make([]*Vehicle, 0, len(f.order))
	for _, id := range f.order {
		list = append(list, f.vehicles[id])
	}
	return list
}

// Snapshot returns the state of one vehicle.
func (f *Fleet) Snapshot(id string) (Snapshot, bool) {
	v, ok := f.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	return v.Snapshot(), true
}

// Snapshots returns the state of every vehicle. Each snapshot is consistent
// on its own; different vehicles may be observed at different instants.
func (f *Fleet) Snapshots() []Snapshot {
	vehicles := f.all()
	list := make([]Snapshot, 0, len(vehicles))
	for _, v := range vehicles {
		list = append(list, v.Snapshot())
	}
	return list
}

// AdvanceAll moves every vehicle by dtSeconds and returns the new states.
func (f *Fleet) AdvanceAll(m geo.MovementModel, dtSeconds float64) []Snapshot {
	vehicles := f.all()
	list := make([]Snapshot, 0, len(vehicles))
	for _, v := range vehicles {
		list = append(list, v.Advance(m, dtSeconds))
	}
	return list
}

// Assign engages a vehicle on an incident phase. It returns the phase the
// vehicle was attached to before, if any.
func (f *Fleet) Assign(id string, target models.GeoPoint, route *geo.RoutePlan, phaseID string) (string, error) {
	if strings.TrimSpace(phaseID) == "" {
		return "", ErrMissingPhase
	}
	v, ok := f.Get(id)
	if !ok {
		return "", ErrUnknownVehicle
	}
	return v.Assign(target, route, phaseID), nil
}

// MarkArrived moves an engaged vehicle on scene.
func (f *Fleet) MarkArrived(id string, now time.Time) bool {
	v, ok := f.Get(id)
	if !ok {
		return false
	}
	return v.MarkArrived(now)
}

// StartReturn switches a vehicle to RETURNING.
func (f *Fleet) StartReturn(id string) bool {
	v, ok := f.Get(id)
	if !ok {
		return false
	}
	v.StartReturn()
	return true
}

// Depart sends an on-scene vehicle of phaseID back.
func (f *Fleet) Depart(id, phaseID string) bool {
	v, ok := f.Get(id)
	if !ok {
		return false
	}
	return v.Depart(phaseID)
}

// ApplyReturnRoute sends a returning vehicle home, optionally along route.
func (f *Fleet) ApplyReturnRoute(id string, route *geo.RoutePlan) bool {
	v, ok := f.Get(id)
	if !ok {
		return false
	}
	return v.ApplyReturnRoute(route)
}

// AssignToBase makes a vehicle available.
func (f *Fleet) AssignToBase(id string) bool {
	v, ok := f.Get(id)
	if !ok {
		return false
	}
	v.AssignToBase()
	return true
}
