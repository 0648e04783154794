package sdmis

import (
	"context"
	"errors"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/models"
)

type position struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (p *position) point() (models.GeoPoint, bool) {
	if p == nil || p.Latitude == nil || p.Longitude == nil {
		return models.GeoPoint{}, false
	}
	return models.GeoPoint{Lat: *p.Latitude, Lon: *p.Longitude}, true
}

type vehicleDetail struct {
	Registration      string    `json:"immatriculation"`
	BaseInterestPoint *position `json:"base_interest_point"`
	CurrentPosition   *position `json:"current_position"`
}

type vehicleList struct {
	Vehicles []vehicleDetail `json:"vehicles"`
	Total    int             `json:"total"`
}

// Roster loads vehicles from GET /qg/vehicles.
type Roster struct {
	client *Client
	logger log.FieldLogger
}

// NewRoster creates a roster loader.
func NewRoster(client *Client, logger log.FieldLogger) *Roster {
	return &Roster{client: client, logger: logger}
}

// LoadVehicles returns every vehicle with a registration and a base. A
// vehicle without a current position is placed at its base.
func (r *Roster) LoadVehicles(ctx context.Context) ([]models.RosterEntry, error) {
	var list vehicleList
	if err := r.client.get(ctx, "/qg/vehicles", &list); err != nil {
		return nil, err
	}

	entries := make([]models.RosterEntry, 0, len(list.Vehicles))
	for _, v := range list.Vehicles {
		id := strings.TrimSpace(v.Registration)
		if id == "" {
			r.logger.Warn("Vehicle without registration ignored")
			continue
		}
		base, ok := v.BaseInterestPoint.point()
		if !ok {
			r.logger.WithField("vehicle_id", id).Warn("Vehicle without base_interest_point ignored")
			continue
		}
		current, ok := v.CurrentPosition.point()
		if !ok {
			current = base
		}
		entries = append(entries, models.RosterEntry{ID: id, Base: base, Position: current})
	}

	r.logger.WithFields(log.Fields{"valid": len(entries), "total": list.Total}).Info("Vehicles loaded")
	if len(entries) == 0 {
		return nil, errors.New("no usable vehicle in roster")
	}
	return entries, nil
}

type routePoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type routeRequest struct {
	From      routePoint `json:"from"`
	To        routePoint `json:"to"`
	SnapStart bool       `json:"snap_start"`
}

type routeResponse struct {
	DistanceM float64 `json:"distance_m"`
	DurationS float64 `json:"duration_s"`
	Geometry  *struct {
		Coordinates [][]float64 `json:"coordinates"`
	} `json:"geometry"`
}

// RouteService computes road routes with POST /geo/route.
type RouteService struct {
	client *Client
	logger log.FieldLogger
}

// NewRouteService creates a routing client.
func NewRouteService(client *Client, logger log.FieldLogger) *RouteService {
	return &RouteService{client: client, logger: logger}
}

// ComputeRoute returns the waypoints from one point to another. A response
// without usable geometry yields no points and no error.
func (s *RouteService) ComputeRoute(ctx context.Context, from, to models.GeoPoint, snapStart bool) ([]models.GeoPoint, error) {
	req := routeRequest{
		From:      routePoint{Latitude: from.Lat, Longitude: from.Lon},
		To:        routePoint{Latitude: to.Lat, Longitude: to.Lon},
		SnapStart: snapStart,
	}
	var resp routeResponse
	if err := s.client.post(ctx, "/geo/route", req, &resp); err != nil {
		return nil, err
	}
	if resp.Geometry == nil || len(resp.Geometry.Coordinates) == 0 {
		s.logger.Warn("Route response without geometry")
		return nil, nil
	}

	points := make([]models.GeoPoint, 0, len(resp.Geometry.Coordinates))
	for _, c := range resp.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		// GeoJSON order
		points = append(points, models.GeoPoint{Lat: c[1], Lon: c[0]})
	}
	if len(points) == 0 {
		s.logger.Warn("Route response without valid points")
		return nil, nil
	}
	s.logger.WithFields(log.Fields{
		"points":     len(points),
		"distance_m": resp.DistanceM,
		"duration_s": resp.DurationS,
	}).Debug("Route computed")
	return points, nil
}

type assignmentRead struct {
	IncidentPhaseID string `json:"incident_phase_id"`
}

// AssignmentService looks up the incident phase a vehicle is engaged on.
type AssignmentService struct {
	client *Client
}

// NewAssignmentService creates an assignment lookup client.
func NewAssignmentService(client *Client) *AssignmentService {
	return &AssignmentService{client: client}
}

// FetchIncidentPhaseID returns the phase id of the vehicle's current
// assignment, which may be blank.
func (s *AssignmentService) FetchIncidentPhaseID(ctx context.Context, vehicleID string) (string, error) {
	if strings.TrimSpace(vehicleID) == "" {
		return "", nil
	}
	var resp assignmentRead
	if err := s.client.get(ctx, "/qg/vehicles/"+url.PathEscape(vehicleID)+"/assignment", &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.IncidentPhaseID), nil
}
