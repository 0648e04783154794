// Package transport defines how the simulator exchanges messages with the
// dispatch platform. Concrete bindings live in the rabbitmq, mqtt and uart
// subpackages.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/fleet-simulator/internal/models"
)

// ErrUnavailable is returned by a publish that was dropped because the
// underlying connection is down. The caller retries on its next cadence.
var ErrUnavailable = errors.New("transport unavailable")

// ErrNoVehicleID rejects an update that names no vehicle.
var ErrNoVehicleID = errors.New("update has no vehicle id")

// AssignmentEvent asks a vehicle to drive to a target.
type AssignmentEvent struct {
	VehicleID string
	Target    models.GeoPoint
}

// AssignmentListener receives inbound assignments. Implementations must not
// panic on bad input; the transport keeps listening whatever happens.
type AssignmentListener interface {
	OnAssignment(ctx context.Context, event AssignmentEvent)
}

// AssignmentListenerFunc adapts a function to AssignmentListener.
type AssignmentListenerFunc func(ctx context.Context, event AssignmentEvent)

// OnAssignment calls f.
func (f AssignmentListenerFunc) OnAssignment(ctx context.Context, event AssignmentEvent) {
	f(ctx, event)
}

// VehicleUpdate is the state carried by position and status telemetry.
type VehicleUpdate struct {
	VehicleID string
	Position  models.GeoPoint
	Status    models.VehicleStatus
	Timestamp time.Time
}

// IncidentUpdate is broadcast once per phase when its vehicles depart.
type IncidentUpdate struct {
	VehicleID string
	PhaseID   string
	Code      int
	Target    *models.GeoPoint
	Timestamp time.Time
}

// Publisher sends outbound telemetry. Publishing must not block for long;
// a dropped message is reported as ErrUnavailable.
type Publisher interface {
	PublishPosition(ctx context.Context, u VehicleUpdate) error
	PublishStatus(ctx context.Context, u VehicleUpdate) error
	PublishIncidentStatus(ctx context.Context, u IncidentUpdate) error
}

// Gateway is a bidirectional binding to the dispatch platform.
type Gateway interface {
	Publisher
	// Start begins delivering assignments to listener in the background.
	// It returns once the listener is installed.
	Start(ctx context.Context, listener AssignmentListener) error
	Close() error
}
