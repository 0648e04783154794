package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-simulator/internal/fleet"
	"github.com/ukydev/fleet-simulator/internal/incident"
	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/transport"
)

var (
	base      = models.GeoPoint{Lat: 45, Lon: 5}
	incident1 = models.GeoPoint{Lat: 45, Lon: 5.01}
)

type phaseLookup struct {
	mu     sync.Mutex
	phases map[string]string
	err    error
	calls  int
}

func (p *phaseLookup) FetchIncidentPhaseID(_ context.Context, vehicleID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.phases[vehicleID], nil
}

type routeService struct {
	points    []models.GeoPoint
	err       error
	snapStart bool
	from      models.GeoPoint
}

func (r *routeService) ComputeRoute(_ context.Context, from, _ models.GeoPoint, snapStart bool) ([]models.GeoPoint, error) {
	r.from = from
	r.snapStart = snapStart
	return r.points, r.err
}

func setup(t *testing.T, lookup PhaseLookup, routes RouteService) (*Handler, *fleet.Fleet, *incident.Coordinator) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	f := fleet.New([]models.RosterEntry{
		{ID: "AB-123-CD", Base: base, Position: base},
		{ID: "EF-456-GH", Base: base, Position: base},
	}, logger)
	c := incident.NewCoordinator()
	return NewHandler(f, c, lookup, routes, true, logger), f, c
}

func TestApply_EngagesAndRegisters(t *testing.T) {
	routes := &routeService{points: []models.GeoPoint{base, {Lat: 45, Lon: 5.005}, incident1}}
	h, f, c := setup(t, &phaseLookup{phases: map[string]string{"AB-123-CD": " ph1 "}}, routes)

	phaseID, err := h.Apply(context.Background(), transport.AssignmentEvent{VehicleID: "AB-123-CD", Target: incident1})
	require.NoError(t, err)
	assert.Equal(t, "ph1", phaseID)

	snap, ok := f.Snapshot("AB-123-CD")
	require.True(t, ok)
	assert.Equal(t, models.StatusEngaged, snap.Status)
	assert.Equal(t, "ph1", snap.PhaseID)
	assert.Equal(t, &incident1, snap.Target)
	assert.True(t, snap.HasRoute)

	assert.True(t, routes.snapStart)
	assert.Equal(t, base, routes.from)
	assert.Equal(t, []string{"AB-123-CD"}, c.Assigned("ph1"))
}

func TestApply_UnknownVehicle(t *testing.T) {
	lookup := &phaseLookup{phases: map[string]string{}}
	h, _, c := setup(t, lookup, nil)

	_, err := h.Apply(context.Background(), transport.AssignmentEvent{VehicleID: "ZZ-999-ZZ", Target: incident1})
	assert.ErrorIs(t, err, ErrUnknownVehicle)
	assert.Zero(t, lookup.calls)
	assert.Empty(t, c.Phases())
}

func TestApply_PhaseLookupFailures(t *testing.T) {
	tests := []struct {
		name   string
		lookup *phaseLookup
		want   error
	}{
		{"lookup error", &phaseLookup{err: errors.New("boom")}, nil},
		{"blank phase", &phaseLookup{phases: map[string]string{"AB-123-CD": "  "}}, ErrNoPhase},
		{"no phase", &phaseLookup{phases: map[string]string{}}, ErrNoPhase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f, c := setup(t, tt.lookup, nil)

			_, err := h.Apply(context.Background(), transport.AssignmentEvent{VehicleID: "AB-123-CD", Target: incident1})
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}

			snap, _ := f.Snapshot("AB-123-CD")
			assert.Equal(t, models.StatusAvailable, snap.Status)
			assert.Nil(t, snap.Target)
			assert.Empty(t, c.Phases())
		})
	}
}

func TestApply_CanceledContext(t *testing.T) {
	h, f, _ := setup(t, &phaseLookup{phases: map[string]string{"AB-123-CD": "ph1"}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Apply(ctx, transport.AssignmentEvent{VehicleID: "AB-123-CD", Target: incident1})
	assert.ErrorIs(t, err, context.Canceled)
	snap, _ := f.Snapshot("AB-123-CD")
	assert.Equal(t, models.StatusAvailable, snap.Status)
}

func TestApply_RouteFailureFallsBackToStraightLine(t *testing.T) {
	routes := &routeService{err: errors.New("routing down")}
	h, f, _ := setup(t, &phaseLookup{phases: map[string]string{"AB-123-CD": "ph1"}}, routes)

	_, err := h.Apply(context.Background(), transport.AssignmentEvent{VehicleID: "AB-123-CD", Target: incident1})
	require.NoError(t, err)

	snap, _ := f.Snapshot("AB-123-CD")
	assert.Equal(t, models.StatusEngaged, snap.Status)
	assert.False(t, snap.HasRoute)
}

func TestApply_ReassignmentLeavesPreviousPhase(t *testing.T) {
	lookup := &phaseLookup{phases: map[string]string{"AB-123-CD": "ph1", "EF-456-GH": "ph1"}}
	h, _, c := setup(t, lookup, nil)
	ctx := context.Background()

	_, err := h.Apply(ctx, transport.AssignmentEvent{VehicleID: "AB-123-CD", Target: incident1})
	require.NoError(t, err)
	_, err = h.Apply(ctx, transport.AssignmentEvent{VehicleID: "EF-456-GH", Target: incident1})
	require.NoError(t, err)
	assert.Equal(t, []string{"AB-123-CD", "EF-456-GH"}, c.Assigned("ph1"))

	lookup.phases["AB-123-CD"] = "ph2"
	_, err = h.Apply(ctx, transport.AssignmentEvent{VehicleID: "AB-123-CD", Target: incident1})
	require.NoError(t, err)

	assert.Equal(t, []string{"EF-456-GH"}, c.Assigned("ph1"))
	assert.Equal(t, []string{"AB-123-CD"}, c.Assigned("ph2"))
}

func TestApply_JoiningArrivedPhaseClosesBarrier(t *testing.T) {
	lookup := &phaseLookup{phases: map[string]string{"AB-123-CD": "ph1", "EF-456-GH": "ph1"}}
	h, f, c := setup(t, lookup, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	_, err := h.Apply(ctx, transport.AssignmentEvent{VehicleID: "AB-123-CD", Target: incident1})
	require.NoError(t, err)
	require.True(t, f.MarkArrived("AB-123-CD", now))
	c.MarkArrived("AB-123-CD", "ph1", now, &incident1)
	require.True(t, c.AllArrived("ph1"))

	_, err = h.Apply(ctx, transport.AssignmentEvent{VehicleID: "EF-456-GH", Target: incident1})
	require.NoError(t, err)
	assert.False(t, c.AllArrived("ph1"))
	assert.False(t, c.CanReturn("ph1", now.Add(time.Hour), time.Minute))
	_, ok := c.TryRelease("ph1", now.Add(time.Hour), time.Minute)
	assert.False(t, ok)
}

func TestApply_SamePhaseTwiceIsIdempotent(t *testing.T) {
	h, _, c := setup(t, &phaseLookup{phases: map[string]string{"AB-123-CD": "ph1"}}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.Apply(ctx, transport.AssignmentEvent{VehicleID: "AB-123-CD", Target: incident1})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"AB-123-CD"}, c.Assigned("ph1"))
}

func TestOnAssignment_LogsDroppedEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	f := fleet.New([]models.RosterEntry{{ID: "AB-123-CD", Base: base, Position: base}}, logger)
	h := NewHandler(f, incident.NewCoordinator(), &phaseLookup{}, nil, false, logger)

	h.OnAssignment(context.Background(), transport.AssignmentEvent{VehicleID: "ZZ-999-ZZ", Target: incident1})

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "Assignment dropped", last.Message)
	assert.Equal(t, "ZZ-999-ZZ", last.Data["vehicle_id"])
}
