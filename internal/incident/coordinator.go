// Package incident gates the departure of vehicles sharing an incident phase:
// every assigned vehicle must be on scene, then the group waits a fixed
// on-site duration before leaving together.
package incident

import (
	"sort"
	"sync"
	"time"

	"github.com/ukydev/fleet-simulator/internal/models"
)

type phase struct {
	assigned     map[string]struct{}
	arrived      map[string]struct{}
	target       *models.GeoPoint
	allArrivedAt time.Time
	arrivals     []string
}

func newPhase() *phase {
	return &phase{
		assigned: make(map[string]struct{}),
		arrived:  make(map[string]struct{}),
	}
}

func (p *phase) setTarget(target *models.GeoPoint) {
	if p.target == nil && target != nil {
		t := *target
		p.target = &t
	}
}

func (p *phase) allArrived() bool {
	if len(p.assigned) == 0 {
		return false
	}
	for id := range p.assigned {
		if _, ok := p.arrived[id]; !ok {
			return false
		}
	}
	return true
}

func (p *phase) canReturn(now time.Time, onSite time.Duration) bool {
	return !p.allArrivedAt.IsZero() && now.Sub(p.allArrivedAt) >= onSite
}

// lastArrived is the most recent arrival still assigned to the phase.
func (p *phase) lastArrived() string {
	if len(p.arrivals) == 0 {
		return ""
	}
	return p.arrivals[len(p.arrivals)-1]
}

func (p *phase) forgetArrival(vehicleID string) {
	for i, id := range p.arrivals {
		if id == vehicleID {
			p.arrivals = append(p.arrivals[:i], p.arrivals[i+1:]...)
			return
		}
	}
}

// Phase is a read-only view of one coordinated incident phase.
type Phase struct {
	ID           string           `json:"id"`
	Assigned     []string         `json:"assigned"`
	Arrived      []string         `json:"arrived"`
	Target       *models.GeoPoint `json:"target,omitempty"`
	AllArrivedAt *time.Time       `json:"all_arrived_at,omitempty"`
	LastArrived  string           `json:"last_arrived,omitempty"`
}

// Release describes a phase whose barrier opened.
type Release struct {
	PhaseID     string
	Vehicles    []string
	LastArrived string
	Target      *models.GeoPoint
}

// Coordinator tracks incident phases. All methods are safe for concurrent use.
type Coordinator struct {
	mu     sync.Mutex
	phases map[string]*phase
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{phases: make(map[string]*phase)}
}

// RegisterVehicle commits a vehicle to a phase. Registering twice is a no-op.
// A vehicle joining after the barrier instant closes the barrier again until
// it arrives.
func (c *Coordinator) RegisterVehicle(vehicleID, phaseID string, target *models.GeoPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.phases[phaseID]
	if !ok {
		p = newPhase()
		c.phases[phaseID] = p
	}
	p.assigned[vehicleID] = struct{}{}
	if _, arrived := p.arrived[vehicleID]; !arrived {
		p.allArrivedAt = time.Time{}
	}
	p.setTarget(target)
}

// MarkArrived records a vehicle on scene. The barrier instant is stamped the
// first time every assigned vehicle has arrived. An arrival for a phase that
// is not tracked registers the vehicle as well.
func (c *Coordinator) MarkArrived(vehicleID, phaseID string, now time.Time, target *models.GeoPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.phases[phaseID]
	if !ok {
		p = newPhase()
		c.phases[phaseID] = p
	}
	p.assigned[vehicleID] = struct{}{}
	p.arrived[vehicleID] = struct{}{}
	p.forgetArrival(vehicleID)
	p.arrivals = append(p.arrivals, vehicleID)
	p.setTarget(target)

	if p.allArrivedAt.IsZero() && p.allArrived() {
		p.allArrivedAt = now
	}
}

// AllArrived reports whether every vehicle assigned to the phase is on scene.
func (c *Coordinator) AllArrived(phaseID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.phases[phaseID]
	return ok && p.allArrived()
}

// CanReturn reports whether the phase barrier opened at least onSite ago.
func (c *Coordinator) CanReturn(phaseID string, now time.Time, onSite time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.phases[phaseID]
	return ok && p.canReturn(now, onSite)
}

// UnregisterVehicle removes a vehicle from a phase. The phase is dropped once
// nobody is assigned to it.
func (c *Coordinator) UnregisterVehicle(vehicleID, phaseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.phases[phaseID]
	if !ok {
		return
	}
	delete(p.assigned, vehicleID)
	delete(p.arrived, vehicleID)
	p.forgetArrival(vehicleID)
	if len(p.assigned) == 0 {
		delete(c.phases, phaseID)
	}
}

// ClearIncident forgets a phase.
func (c *Coordinator) ClearIncident(phaseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.phases, phaseID)
}

// LastArrived returns the id of the most recent vehicle on scene that is
// still assigned to the phase.
func (c *Coordinator) LastArrived(phaseID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.phases[phaseID]; ok {
		return p.lastArrived()
	}
	return ""
}

// Assigned returns the sorted ids of the vehicles committed to a phase.
func (c *Coordinator) Assigned(phaseID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.phases[phaseID]
	if !ok {
		return nil
	}
	return sortedKeys(p.assigned)
}

// TryRelease opens the barrier of a phase when every assigned vehicle is on
// scene and its on-site delay elapsed.
// On success the phase is removed and the caller owns the departure of the
// returned vehicles; concurrent registrations land in a fresh phase.
//
// A phase left fully arrived by an unregistration has no barrier instant
// yet; it is stamped here with now.
func (c *Coordinator) TryRelease(phaseID string, now time.Time, onSite time.Duration) (Release, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.phases[phaseID]
	if !ok {
		return Release{}, false
	}
	if !p.allArrived() {
		return Release{}, false
	}
	if p.allArrivedAt.IsZero() {
		p.allArrivedAt = now
	}
	if !p.canReturn(now, onSite) {
		return Release{}, false
	}
	delete(c.phases, phaseID)

	r := Release{
		PhaseID:     phaseID,
		Vehicles:    sortedKeys(p.assigned),
		LastArrived: p.lastArrived(),
	}
	if p.target != nil {
		t := *p.target
		r.Target = &t
	}
	return r, true
}

// Phases returns a view of every tracked phase ordered by id.
func (c *Coordinator) Phases() []Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := make([]Phase, 0, len(c.phases))
	for id, p := range c.phases {
		view := Phase{
			ID:          id,
			Assigned:    sortedKeys(p.assigned),
			Arrived:     sortedKeys(p.arrived),
			LastArrived: p.lastArrived(),
		}
		if p.target != nil {
			t := *p.target
			view.Target = &t
		}
		if !p.allArrivedAt.IsZero() {
			at := p.allArrivedAt
			view.AllArrivedAt = &at
		}
		list = append(list, view)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
