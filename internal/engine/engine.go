// Package engine runs the simulation tick loop: it moves the fleet, drives
// vehicle state transitions and decides when telemetry is sent.
package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/fleet"
	"github.com/ukydev/fleet-simulator/internal/geo"
	"github.com/ukydev/fleet-simulator/internal/incident"
	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/transport"
)

const (
	publishTimeout   = 2 * time.Second
	returnQueueSize  = 64
	returnRouteLimit = 10 * time.Second
)

// Config tunes the tick loop.
type Config struct {
	Tick          time.Duration
	SpeedMps      float64
	EpsilonMeters float64

	// BaseSendInterval applies to vehicles idle at base, MovingSendInterval
	// to vehicles with a target or on their way home.
	BaseSendInterval   time.Duration
	MovingSendInterval time.Duration
	StatusSendInterval time.Duration
	// BaseJitter is the fraction of BaseSendInterval each vehicle offsets
	// its idle cadence by, at most 0.2.
	BaseJitter float64

	OnSiteDuration     time.Duration
	IncidentStatusCode int
	SnapStart          bool
	AsyncReturnRoute   bool
	LogPublishes       bool
}

// RouteService computes road routes between two points.
type RouteService interface {
	ComputeRoute(ctx context.Context, from, to models.GeoPoint, snapStart bool) ([]models.GeoPoint, error)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand sets the random source used for telemetry jitter.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rand = r }
}

// track is the telemetry bookkeeping of one vehicle. It is only touched by
// the tick loop.
type track struct {
	jitter       time.Duration
	lastPosition time.Time
	lastStatus   time.Time
	sentStatus   models.VehicleStatus
	statusSent   bool
	// pendingReturn is set while a return route still has to be requested.
	pendingReturn bool
}

type returnJob struct {
	vehicleID string
	from      models.GeoPoint
	base      models.GeoPoint
}

// Engine is the simulation loop. Tick is not re-entrant; everything else
// it touches is safe for concurrent use by the assignment path.
type Engine struct {
	cfg         Config
	fleet       *fleet.Fleet
	coordinator *incident.Coordinator
	publisher   transport.Publisher
	routes      RouteService
	movement    geo.MovementModel
	logger      log.FieldLogger
	now         func() time.Time
	rand        *rand.Rand

	tracks   map[string]*track
	lastTick time.Time

	returns chan returnJob
	workers sync.WaitGroup
}

// New creates an engine. routes may be nil, in which case returning
// vehicles drive straight home.
func New(cfg Config, f *fleet.Fleet, c *incident.Coordinator, publisher transport.Publisher, routes RouteService, logger log.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg,
		fleet:       f,
		coordinator: c,
		publisher:   publisher,
		routes:      routes,
		movement:    geo.NewMovementModel(cfg.SpeedMps, cfg.EpsilonMeters),
		logger:      logger.WithField("component", "engine"),
		now:         time.Now,
		tracks:      make(map[string]*track),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rand == nil {
		e.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e
}

// Run recovers vehicles found away from base, then ticks until ctx is
// cancelled. The tick in progress always completes.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.Tick <= 0 {
		return errors.New("tick must be positive")
	}
	if e.cfg.AsyncReturnRoute {
		e.startReturnWorker(ctx)
		defer e.stopReturnWorker()
	}

	e.Recover()

	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()

	e.logger.WithFields(log.Fields{
		"vehicles": e.fleet.Len(),
		"tick":     e.cfg.Tick,
	}).Info("Simulation started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Simulation stopped")
			return nil
		case <-ticker.C:
			e.Tick(ctx, e.now())
		}
	}
}

// Recover sends every vehicle found away from its base back home, as after
// a restart in the middle of an intervention.
func (e *Engine) Recover() {
	for _, s := range e.fleet.Snapshots() {
		if e.movement.IsAtTarget(s.Position, &s.Base) {
			continue
		}
		if e.fleet.StartReturn(s.ID) {
			e.track(s.ID).pendingReturn = true
			e.logger.WithField("vehicle_id", s.ID).Info("Vehicle away from base, returning")
		}
	}
}

func (e *Engine) track(id string) *track {
	t, ok := e.tracks[id]
	if !ok {
		t = &track{jitter: e.jitter()}
		e.tracks[id] = t
	}
	return t
}

func (e *Engine) jitter() time.Duration {
	if e.cfg.BaseJitter <= 0 {
		return 0
	}
	return time.Duration((e.rand.Float64()*2 - 1) * e.cfg.BaseJitter * float64(e.cfg.BaseSendInterval))
}

// Tick advances the simulation to now.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	dt := e.cfg.Tick
	if !e.lastTick.IsZero() {
		dt = now.Sub(e.lastTick)
		if dt < 0 {
			dt = 0
		}
	}
	e.lastTick = now

	for _, s := range e.fleet.AdvanceAll(e.movement, dt.Seconds()) {
		e.transition(ctx, s, now)
		// a release may have moved vehicles further down the list too
		if fresh, ok := e.fleet.Snapshot(s.ID); ok {
			s = fresh
		}
		e.maybeSendPosition(ctx, s, now)
		e.maybeSendStatus(ctx, s, now)
	}
}

// transition applies the state change due for s.
func (e *Engine) transition(ctx context.Context, s fleet.Snapshot, now time.Time) {
	switch s.Status {
	case models.StatusEngaged:
		if s.PhaseID == "" || s.Target == nil || !e.movement.IsAtTarget(s.Position, s.Target) {
			return
		}
		if e.fleet.MarkArrived(s.ID, now) {
			e.coordinator.MarkArrived(s.ID, s.PhaseID, now, s.Target)
			e.logger.WithFields(log.Fields{"vehicle_id": s.ID, "phase_id": s.PhaseID}).Info("Vehicle on scene")
		}

	case models.StatusOnScene:
		if s.PhaseID != "" {
			e.release(ctx, s.PhaseID, now)
		}

	case models.StatusReturning:
		t := e.track(s.ID)
		if t.pendingReturn {
			e.planReturn(ctx, s.ID)
		}
		if e.movement.IsAtTarget(s.Position, &s.Base) {
			t.pendingReturn = false
			e.fleet.AssignToBase(s.ID)
			e.logger.WithField("vehicle_id", s.ID).Info("Vehicle back at base")
		}
	}
}

// release opens the barrier of phaseID when its on-site delay has elapsed:
// every vehicle of the phase departs and the incident status is broadcast.
func (e *Engine) release(ctx context.Context, phaseID string, now time.Time) {
	r, ok := e.coordinator.TryRelease(phaseID, now, e.cfg.OnSiteDuration)
	if !ok {
		return
	}

	departed := make([]string, 0, len(r.Vehicles))
	for _, id := range r.Vehicles {
		if !e.fleet.Depart(id, phaseID) {
			continue
		}
		departed = append(departed, id)
		e.track(id).pendingReturn = true
		e.planReturn(ctx, id)
	}
	e.logger.WithFields(log.Fields{
		"phase_id":     phaseID,
		"vehicles":     departed,
		"last_arrived": r.LastArrived,
	}).Info("Incident phase released")

	u := transport.IncidentUpdate{
		VehicleID: r.LastArrived,
		PhaseID:   phaseID,
		Code:      e.cfg.IncidentStatusCode,
		Target:    r.Target,
		Timestamp: now,
	}
	e.publish(ctx, "incident_status", r.LastArrived, func(ctx context.Context) error {
		return e.publisher.PublishIncidentStatus(ctx, u)
	})
}

// planReturn computes the route home of a returning vehicle, on the tick
// thread or through the background worker.
func (e *Engine) planReturn(ctx context.Context, id string) {
	s, ok := e.fleet.Snapshot(id)
	if !ok {
		return
	}
	t := e.track(id)

	if e.returns != nil {
		select {
		case e.returns <- returnJob{vehicleID: id, from: s.Position, base: s.Base}:
			t.pendingReturn = false
		default:
			// queue full, retried next tick
		}
		return
	}

	t.pendingReturn = false
	e.fleet.ApplyReturnRoute(id, e.returnRoute(ctx, id, s.Position, s.Base))
}

func (e *Engine) returnRoute(ctx context.Context, id string, from, base models.GeoPoint) *geo.RoutePlan {
	if e.routes == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, returnRouteLimit)
	defer cancel()

	points, err := e.routes.ComputeRoute(ctx, from, base, e.cfg.SnapStart)
	if err != nil {
		e.logger.WithError(err).WithField("vehicle_id", id).Warn("Return route unavailable, driving straight home")
		return nil
	}
	if len(points) < 2 {
		return nil
	}
	return geo.NewRoutePlan(points)
}

func (e *Engine) startReturnWorker(ctx context.Context) {
	e.returns = make(chan returnJob, returnQueueSize)
	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		for job := range e.returns {
			route := e.returnRoute(ctx, job.vehicleID, job.from, job.base)
			if !e.fleet.ApplyReturnRoute(job.vehicleID, route) {
				e.logger.WithField("vehicle_id", job.vehicleID).Debug("Return route discarded, vehicle no longer returning")
			}
		}
	}()
}

func (e *Engine) stopReturnWorker() {
	close(e.returns)
	e.workers.Wait()
	e.returns = nil
}

func (e *Engine) maybeSendPosition(ctx context.Context, s fleet.Snapshot, now time.Time) {
	t := e.track(s.ID)
	interval := e.cfg.MovingSendInterval
	if s.Target == nil && s.Status != models.StatusReturning {
		interval = e.cfg.BaseSendInterval + t.jitter
	}
	if !t.lastPosition.IsZero() && now.Sub(t.lastPosition) < interval {
		return
	}

	u := transport.VehicleUpdate{VehicleID: s.ID, Position: s.Position, Status: s.Status, Timestamp: now}
	if e.publish(ctx, "position", s.ID, func(ctx context.Context) error {
		return e.publisher.PublishPosition(ctx, u)
	}) {
		t.lastPosition = now
	}
}

func (e *Engine) maybeSendStatus(ctx context.Context, s fleet.Snapshot, now time.Time) {
	t := e.track(s.ID)
	changed := !t.statusSent || t.sentStatus != s.Status
	if !changed && now.Sub(t.lastStatus) < e.cfg.StatusSendInterval {
		return
	}

	u := transport.VehicleUpdate{VehicleID: s.ID, Position: s.Position, Status: s.Status, Timestamp: now}
	if e.publish(ctx, "status", s.ID, func(ctx context.Context) error {
		return e.publisher.PublishStatus(ctx, u)
	}) {
		t.lastStatus = now
		t.sentStatus = s.Status
		t.statusSent = true
	}
}

// publish runs send with a bounded context. A failed publish is retried on
// the next cadence.
func (e *Engine) publish(ctx context.Context, kind, vehicleID string, send func(context.Context) error) bool {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	entry := e.logger.WithFields(log.Fields{"kind": kind, "vehicle_id": vehicleID})
	if err := send(ctx); err != nil {
		if errors.Is(err, transport.ErrUnavailable) {
			entry.Debug("Transport unavailable, telemetry dropped")
		} else {
			entry.WithError(err).Warn("Failed to publish telemetry")
		}
		return false
	}
	if e.cfg.LogPublishes {
		entry.Info("Telemetry sent")
	}
	return true
}
