package uart

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/transport"
)

// fakePort reads from a pipe and records writes.
type fakePort struct {
	r *io.PipeReader

	mu      sync.Mutex
	written bytes.Buffer
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error { return p.r.Close() }

func (p *fakePort) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func testConfig() Config {
	return Config{
		Port:           "/dev/null",
		Baud:           115200,
		ReconnectDelay: time.Millisecond,
		Events: Events{
			Position:       "vehicle_position",
			Status:         "vehicle_status",
			IncidentStatus: "incident_status",
			Assignment:     "vehicle_affectation",
		},
	}
}

func TestGateway_DeliversAssignmentsAndSkipsBadLines(t *testing.T) {
	pr, pw := io.Pipe()
	port := &fakePort{r: pr}
	var attempts int32
	opener := func(Config) (io.ReadWriteCloser, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return nil, errors.New("no such device")
		}
		return port, nil
	}

	logger, _ := test.NewNullLogger()
	g := NewGateway(testConfig(), opener, logger)

	events := make(chan transport.AssignmentEvent, 4)
	require.NoError(t, g.Start(context.Background(), transport.AssignmentListenerFunc(
		func(_ context.Context, ev transport.AssignmentEvent) { events <- ev })))

	go func() {
		_, _ = io.WriteString(pw, "bad,frame\n")
		_, _ = io.WriteString(pw, "vehicle_position,0,AB123CD,45,5,1\n")
		_, _ = io.WriteString(pw, "vehicle_affectation,0,ab123cd,45.000000,5.010000,1700000000\r\n")
	}()

	select {
	case ev := <-events:
		assert.Equal(t, "AB-123-CD", ev.VehicleID)
		assert.Equal(t, models.GeoPoint{Lat: 45.0, Lon: 5.01}, ev.Target)
	case <-time.After(2 * time.Second):
		t.Fatal("assignment not delivered")
	}
	assert.Empty(t, events)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))

	err := g.PublishPosition(context.Background(), transport.VehicleUpdate{
		VehicleID: "AB-123-CD",
		Position:  models.GeoPoint{Lat: 45.0, Lon: 5.01},
		Status:    models.StatusEngaged,
		Timestamp: time.Unix(1700000000, 0),
	})
	require.NoError(t, err)
	err = g.PublishIncidentStatus(context.Background(), transport.IncidentUpdate{
		VehicleID: "AB-123-CD",
		Code:      1,
		Target:    &models.GeoPoint{Lat: -0.5, Lon: 5.01},
		Timestamp: time.Unix(1700000001, 0),
	})
	require.NoError(t, err)

	assert.Equal(t,
		"vehicle_position,1,AB123CD,45.000000,5.010000,1700000000\n"+
			"incident_status,1,AB123CD,-0.500000,5.010000,1700000001\n",
		port.String())

	require.NoError(t, g.Close())
	err = g.PublishStatus(context.Background(), transport.VehicleUpdate{VehicleID: "AB-123-CD"})
	assert.ErrorIs(t, err, transport.ErrUnavailable)
}

func TestGateway_PublishWithoutPort(t *testing.T) {
	logger, _ := test.NewNullLogger()
	g := NewGateway(testConfig(), nil, logger)
	err := g.PublishStatus(context.Background(), transport.VehicleUpdate{VehicleID: "AB-123-CD"})
	assert.ErrorIs(t, err, transport.ErrUnavailable)
	assert.NoError(t, g.Close())
}

func TestGateway_StartRequiresListener(t *testing.T) {
	logger, _ := test.NewNullLogger()
	g := NewGateway(testConfig(), nil, logger)
	assert.Error(t, g.Start(context.Background(), nil))
}

func TestReadLines_DropsOversizedLines(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	g := NewGateway(testConfig(), nil, logger)

	longest := strings.Repeat("y", maxLineLength)
	stream := strings.Repeat("x", 3*maxLineLength) + "\nok\r\n" + longest + "\n"

	var lines []string
	err := g.readLines(context.Background(), strings.NewReader(stream), func(l string) { lines = append(lines, l) })
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"ok", longest}, lines)

	var dropped int
	for _, e := range hook.AllEntries() {
		if e.Message == "Dropping oversized UART line" {
			dropped++
		}
	}
	assert.Equal(t, 1, dropped)
}
