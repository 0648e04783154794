package db

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/transport"
)

const (
	// DefaultArchiveQueue bounds the records waiting to be written.
	DefaultArchiveQueue = 1024
	archiveWriteTimeout = 5 * time.Second
)

var _ transport.Gateway = (*ArchiveGateway)(nil)

// ArchiveGateway forwards telemetry to another gateway and records every
// successful publish in MongoDB. Records are written by a single worker;
// when its queue is full new records are dropped.
type ArchiveGateway struct {
	next   transport.Gateway
	store  TelemetryCollection
	logger log.FieldLogger

	mu      sync.Mutex
	closed  bool
	records chan models.Telemetry
	done    chan struct{}
	dropped int
}

// NewArchiveGateway wraps next. A non-positive size uses DefaultArchiveQueue.
func NewArchiveGateway(next transport.Gateway, store TelemetryCollection, size int, logger log.FieldLogger) *ArchiveGateway {
	if size <= 0 {
		size = DefaultArchiveQueue
	}
	g := &ArchiveGateway{
		next:    next,
		store:   store,
		logger:  logger.WithField("component", "telemetry_archive"),
		records: make(chan models.Telemetry, size),
		done:    make(chan struct{}),
	}
	go g.writeLoop()
	return g
}

func (g *ArchiveGateway) writeLoop() {
	defer close(g.done)
	for rec := range g.records {
		ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
		if err := g.store.InsertTelemetry(ctx, rec); err != nil {
			g.logger.WithError(err).WithField("vehicle_id", rec.VehicleID).Warn("Failed to archive telemetry")
		}
		cancel()
	}
}

func (g *ArchiveGateway) record(rec models.Telemetry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	select {
	case g.records <- rec:
	default:
		g.dropped++
		if g.dropped%100 == 1 {
			g.logger.WithField("dropped", g.dropped).Warn("Telemetry archive queue full")
		}
	}
}

// Dropped returns how many records were discarded because the queue was full.
func (g *ArchiveGateway) Dropped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}

// Start starts the wrapped gateway.
func (g *ArchiveGateway) Start(ctx context.Context, listener transport.AssignmentListener) error {
	return g.next.Start(ctx, listener)
}

// Close closes the wrapped gateway and flushes pending records.
func (g *ArchiveGateway) Close() error {
	err := g.next.Close()
	g.mu.Lock()
	if !g.closed {
		g.closed = true
		close(g.records)
	}
	g.mu.Unlock()
	<-g.done
	return err
}

// PublishPosition forwards and archives a position update.
func (g *ArchiveGateway) PublishPosition(ctx context.Context, u transport.VehicleUpdate) error {
	if err := g.next.PublishPosition(ctx, u); err != nil {
		return err
	}
	pos := u.Position
	g.record(models.Telemetry{
		VehicleID: u.VehicleID,
		Kind:      models.TelemetryPosition,
		Timestamp: u.Timestamp,
		Location:  &pos,
	})
	return nil
}

// PublishStatus forwards and archives a status update.
func (g *ArchiveGateway) PublishStatus(ctx context.Context, u transport.VehicleUpdate) error {
	if err := g.next.PublishStatus(ctx, u); err != nil {
		return err
	}
	code := u.Status.Code()
	g.record(models.Telemetry{
		VehicleID: u.VehicleID,
		Kind:      models.TelemetryStatus,
		Timestamp: u.Timestamp,
		Status:    &code,
	})
	return nil
}

// PublishIncidentStatus forwards and archives an incident update.
func (g *ArchiveGateway) PublishIncidentStatus(ctx context.Context, u transport.IncidentUpdate) error {
	if err := g.next.PublishIncidentStatus(ctx, u); err != nil {
		return err
	}
	code := u.Code
	rec := models.Telemetry{
		VehicleID: u.VehicleID,
		PhaseID:   u.PhaseID,
		Kind:      models.TelemetryIncidentStatus,
		Timestamp: u.Timestamp,
		Status:    &code,
	}
	if u.Target != nil {
		t := *u.Target
		rec.Location = &t
	}
	g.record(rec)
	return nil
}
