package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/assignment"
	"github.com/ukydev/fleet-simulator/internal/fleet"
	"github.com/ukydev/fleet-simulator/internal/incident"
	"github.com/ukydev/fleet-simulator/internal/middleware"
	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/transport"
)

const maxBodyBytes = 1 << 16

// FleetReader exposes the fleet state.
type FleetReader interface {
	Snapshots() []fleet.Snapshot
}

// PhaseReader exposes the incident phases being coordinated.
type PhaseReader interface {
	Phases() []incident.Phase
}

// Assigner applies an assignment the same way an inbound event would.
type Assigner interface {
	Apply(ctx context.Context, event transport.AssignmentEvent) (string, error)
}

// VehicleView is the JSON form of a vehicle snapshot.
type VehicleView struct {
	ID        string           `json:"immatriculation"`
	Status    string           `json:"status"`
	Position  models.GeoPoint  `json:"position"`
	Base      models.GeoPoint  `json:"base"`
	Target    *models.GeoPoint `json:"target,omitempty"`
	PhaseID   string           `json:"incident_phase_id,omitempty"`
	ArrivedAt *time.Time       `json:"arrived_at,omitempty"`
	HasRoute  bool             `json:"has_route"`
}

// AssignmentRequest is the body of POST /api/assignments.
type AssignmentRequest struct {
	VehicleID string   `json:"immatriculation"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// AssignmentResponse is returned once a vehicle has been engaged.
type AssignmentResponse struct {
	VehicleID string `json:"immatriculation"`
	PhaseID   string `json:"incident_phase_id"`
}

// StatusHandler serves the simulator status API
type StatusHandler struct {
	fleet    FleetReader
	phases   PhaseReader
	assigner Assigner
	logger   log.FieldLogger
}

// NewStatusHandler creates a new status handler. assigner may be nil, in
// which case POST /api/assignments is not available.
func NewStatusHandler(f FleetReader, phases PhaseReader, assigner Assigner, logger log.FieldLogger) *StatusHandler {
	return &StatusHandler{
		fleet:    f,
		phases:   phases,
		assigner: assigner,
		logger:   logger,
	}
}

// Health reports that the simulator is running
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Vehicles lists every vehicle of the fleet
func (h *StatusHandler) Vehicles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshots := h.fleet.Snapshots()
	views := make([]VehicleView, 0, len(snapshots))
	for _, s := range snapshots {
		view := VehicleView{
			ID:       s.ID,
			Status:   s.Status.String(),
			Position: s.Position,
			Base:     s.Base,
			Target:   s.Target,
			PhaseID:  s.PhaseID,
			HasRoute: s.HasRoute,
		}
		if !s.ArrivedAt.IsZero() {
			at := s.ArrivedAt.UTC()
			view.ArrivedAt = &at
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

// Incidents lists the incident phases awaiting departure
func (h *StatusHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.phases.Phases())
}

// Assign engages a vehicle on its current incident phase
func (h *StatusHandler) Assign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.assigner == nil {
		http.Error(w, "Assignments are disabled", http.StatusNotImplemented)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req AssignmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// Validate input
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	if req.VehicleID == "" || req.Latitude == nil || req.Longitude == nil {
		http.Error(w, "immatriculation, latitude and longitude are required", http.StatusBadRequest)
		return
	}

	event := transport.AssignmentEvent{
		VehicleID: req.VehicleID,
		Target:    models.GeoPoint{Lat: *req.Latitude, Lon: *req.Longitude},
	}
	phaseID, err := h.assigner.Apply(r.Context(), event)
	switch {
	case errors.Is(err, assignment.ErrUnknownVehicle):
		http.Error(w, "Unknown vehicle", http.StatusNotFound)
		return
	case errors.Is(err, assignment.ErrNoPhase):
		http.Error(w, "No incident phase for vehicle", http.StatusConflict)
		return
	case err != nil:
		h.logger.WithError(err).WithField("vehicle_id", req.VehicleID).Warn("Manual assignment failed")
		http.Error(w, "Assignment failed", http.StatusBadGateway)
		return
	}

	if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
		h.logger.WithFields(log.Fields{"vehicle_id": req.VehicleID, "by": claims.Subject}).Info("Manual assignment")
	}
	writeJSON(w, http.StatusAccepted, AssignmentResponse{VehicleID: req.VehicleID, PhaseID: phaseID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
