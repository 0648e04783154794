// Package assignment turns inbound assignment events into fleet and
// incident coordinator updates.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/fleet"
	"github.com/ukydev/fleet-simulator/internal/geo"
	"github.com/ukydev/fleet-simulator/internal/incident"
	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/transport"
)

var (
	// ErrUnknownVehicle is returned for an event naming a vehicle outside the fleet.
	ErrUnknownVehicle = errors.New("unknown vehicle")
	// ErrNoPhase is returned when no incident phase could be found for the vehicle.
	ErrNoPhase = errors.New("no incident phase for vehicle")
)

// RouteService computes road routes between two points.
type RouteService interface {
	ComputeRoute(ctx context.Context, from, to models.GeoPoint, snapStart bool) ([]models.GeoPoint, error)
}

// PhaseLookup returns the incident phase a vehicle is engaged on.
type PhaseLookup interface {
	FetchIncidentPhaseID(ctx context.Context, vehicleID string) (string, error)
}

// Handler applies assignment events. It is safe for concurrent use.
type Handler struct {
	fleet       *fleet.Fleet
	coordinator *incident.Coordinator
	phases      PhaseLookup
	routes      RouteService
	snapStart   bool
	logger      log.FieldLogger
}

var _ transport.AssignmentListener = (*Handler)(nil)

// NewHandler creates a handler. routes may be nil, in which case vehicles
// always drive in a straight line.
func NewHandler(f *fleet.Fleet, c *incident.Coordinator, phases PhaseLookup, routes RouteService, snapStart bool, logger log.FieldLogger) *Handler {
	return &Handler{
		fleet:       f,
		coordinator: c,
		phases:      phases,
		routes:      routes,
		snapStart:   snapStart,
		logger:      logger.WithField("component", "assignment"),
	}
}

// OnAssignment implements transport.AssignmentListener. Rejected events are
// logged and dropped.
func (h *Handler) OnAssignment(ctx context.Context, event transport.AssignmentEvent) {
	phaseID, err := h.Apply(ctx, event)
	if err != nil {
		entry := h.logger.WithError(err).WithField("vehicle_id", event.VehicleID)
		if errors.Is(err, context.Canceled) {
			entry.Debug("Assignment interrupted")
			return
		}
		entry.Warn("Assignment dropped")
		return
	}
	h.logger.WithFields(log.Fields{
		"vehicle_id": event.VehicleID,
		"phase_id":   phaseID,
		"lat":        event.Target.Lat,
		"lon":        event.Target.Lon,
	}).Info("Vehicle engaged")
}

// Apply engages the vehicle named by event and returns the incident phase
// it was registered under. Nothing is written when an error is returned.
func (h *Handler) Apply(ctx context.Context, event transport.AssignmentEvent) (string, error) {
	current, ok := h.fleet.Snapshot(event.VehicleID)
	if !ok {
		return "", ErrUnknownVehicle
	}

	phaseID, err := h.phases.FetchIncidentPhaseID(ctx, event.VehicleID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch incident phase: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	phaseID = strings.TrimSpace(phaseID)
	if phaseID == "" {
		return "", ErrNoPhase
	}

	route := h.computeRoute(ctx, event.VehicleID, current.Position, event.Target)

	// The phase counts the vehicle before it is engaged.
	target := event.Target
	alreadyAssigned := contains(h.coordinator.Assigned(phaseID), event.VehicleID)
	h.coordinator.RegisterVehicle(event.VehicleID, phaseID, &target)

	previous, err := h.fleet.Assign(event.VehicleID, event.Target, route, phaseID)
	if err != nil {
		if !alreadyAssigned {
			h.coordinator.UnregisterVehicle(event.VehicleID, phaseID)
		}
		if errors.Is(err, fleet.ErrUnknownVehicle) {
			return "", ErrUnknownVehicle
		}
		return "", err
	}
	if previous != "" && previous != phaseID {
		h.coordinator.UnregisterVehicle(event.VehicleID, previous)
	}
	return phaseID, nil
}

func (h *Handler) computeRoute(ctx context.Context, vehicleID string, from, to models.GeoPoint) *geo.RoutePlan {
	if h.routes == nil {
		return nil
	}
	points, err := h.routes.ComputeRoute(ctx, from, to, h.snapStart)
	if err != nil {
		h.logger.WithError(err).WithField("vehicle_id", vehicleID).Warn("Route unavailable, driving straight")
		return nil
	}
	if len(points) < 2 {
		return nil
	}
	return geo.NewRoutePlan(points)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
