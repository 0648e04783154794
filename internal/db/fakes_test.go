package db

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/transport"
)

func testLogger() log.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

type sliceCursor struct {
	vehicles []models.Vehicle
}

func (c *sliceCursor) All(_ context.Context, out interface{}) error {
	dst, ok := out.(*[]models.Vehicle)
	if !ok {
		return errors.New("unexpected destination")
	}
	*dst = append(*dst, c.vehicles...)
	return nil
}

func (c *sliceCursor) Close(context.Context) error { return nil }

type fakeVehicles struct {
	docs []models.Vehicle
	err  error
}

func (f *fakeVehicles) InsertVehicle(_ context.Context, v models.Vehicle) error {
	f.docs = append(f.docs, v)
	return nil
}

func (f *fakeVehicles) FindVehicles(context.Context, interface{}, ...*options.FindOptions) (Cursor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sliceCursor{vehicles: f.docs}, nil
}

type fakeTelemetry struct {
	mu      sync.Mutex
	records []models.Telemetry
	block   chan struct{}
}

func (f *fakeTelemetry) InsertTelemetry(_ context.Context, rec models.Telemetry) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeTelemetry) Find(context.Context, interface{}, ...*options.FindOptions) (Cursor, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTelemetry) all() []models.Telemetry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Telemetry(nil), f.records...)
}

type stubGateway struct {
	publishErr error
	started    bool
	closed     bool
}

func (s *stubGateway) Start(context.Context, transport.AssignmentListener) error {
	s.started = true
	return nil
}

func (s *stubGateway) Close() error {
	s.closed = true
	return nil
}

func (s *stubGateway) PublishPosition(context.Context, transport.VehicleUpdate) error {
	return s.publishErr
}

func (s *stubGateway) PublishStatus(context.Context, transport.VehicleUpdate) error {
	return s.publishErr
}

func (s *stubGateway) PublishIncidentStatus(context.Context, transport.IncidentUpdate) error {
	return s.publishErr
}
