package uart

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/transport"
)

// Events names the frame event of each message kind.
type Events struct {
	Position       string
	Status         string
	IncidentStatus string
	Assignment     string
}

// Config configures a serial gateway.
type Config struct {
	Port           string
	Baud           int
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
	WriteDelay     time.Duration
	Events         Events
	LogFrames      bool
}

// Opener opens the serial device.
type Opener func(cfg Config) (io.ReadWriteCloser, error)

// OpenSerial opens a real port, 8N1, with a semi-blocking read timeout.
func OpenSerial(cfg Config) (io.ReadWriteCloser, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Port, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Port, err)
		}
	}
	return port, nil
}

var _ transport.Gateway = (*Gateway)(nil)

const maxLineLength = 512

// Gateway exchanges frames over a serial line, reopening the port whenever
// it fails.
type Gateway struct {
	cfg    Config
	open   Opener
	logger log.FieldLogger

	writeMu sync.Mutex
	port    io.ReadWriteCloser

	cancel context.CancelFunc
	done   chan struct{}
}

// NewGateway creates a gateway. A nil opener means OpenSerial.
func NewGateway(cfg Config, open Opener, logger log.FieldLogger) *Gateway {
	if open == nil {
		open = OpenSerial
	}
	return &Gateway{
		cfg:    cfg,
		open:   open,
		logger: logger.WithField("transport", "uart"),
	}
}

// Start launches the reader goroutine.
func (g *Gateway) Start(ctx context.Context, listener transport.AssignmentListener) error {
	if listener == nil {
		return fmt.Errorf("uart: nil assignment listener")
	}
	if g.done != nil {
		return nil
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	go g.readLoop(ctx, listener)
	return nil
}

// Close stops the reader and releases the port.
func (g *Gateway) Close() error {
	if g.cancel != nil {
		g.cancel()
	}
	g.closePort()
	if g.done != nil {
		<-g.done
	}
	return nil
}

func (g *Gateway) readLoop(ctx context.Context, listener transport.AssignmentListener) {
	defer close(g.done)

	for ctx.Err() == nil {
		port, err := g.open(g.cfg)
		if err != nil {
			g.logger.WithError(err).Warn("No UART connection")
			if !sleep(ctx, g.cfg.ReconnectDelay) {
				return
			}
			continue
		}
		g.writeMu.Lock()
		g.port = port
		g.writeMu.Unlock()
		g.logger.WithFields(log.Fields{"port": g.cfg.Port, "baud": g.cfg.Baud}).Info("UART connected")

		err = g.readLines(ctx, port, func(line string) { g.handleLine(ctx, line, listener) })
		g.closePort()
		if ctx.Err() != nil {
			return
		}
		g.logger.WithError(err).Warn("UART read failed")
		if !sleep(ctx, g.cfg.ReconnectDelay) {
			return
		}
	}
}

// readLines splits the byte stream on '\n', ignoring '\r'. A read of zero
// bytes is a timeout and loops. Lines longer than maxLineLength are dropped
// up to the next '\n'.
func (g *Gateway) readLines(ctx context.Context, r io.Reader, onLine func(string)) error {
	buf := make([]byte, 256)
	line := make([]byte, 0, maxLineLength)
	overflow := false
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		for _, c := range buf[:n] {
			switch {
			case c == '\r':
			case c == '\n':
				if !overflow && len(line) > 0 {
					onLine(string(line))
				}
				line = line[:0]
				overflow = false
			case overflow:
			case len(line) == maxLineLength:
				g.logger.WithField("prefix", string(line[:32])).Debug("Dropping oversized UART line")
				line = line[:0]
				overflow = true
			default:
				line = append(line, c)
			}
		}
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (g *Gateway) handleLine(ctx context.Context, line string, listener transport.AssignmentListener) {
	frame, err := ParseFrame(line)
	if err != nil {
		g.logger.WithError(err).Debug("Dropping UART frame")
		return
	}
	if frame.Event != g.cfg.Events.Assignment {
		g.logger.WithField("frame", frame.String()).Warn("Unknown UART event")
		return
	}
	g.logger.WithField("frame", frame.String()).Info("Processing UART frame")
	listener.OnAssignment(ctx, transport.AssignmentEvent{
		VehicleID: frame.Plate,
		Target:    models.GeoPoint{Lat: frame.Latitude, Lon: frame.Longitude},
	})
}

func (g *Gateway) closePort() {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if g.port != nil {
		if err := g.port.Close(); err != nil {
			g.logger.WithError(err).Debug("Failed to close UART port")
		}
		g.port = nil
	}
}

func (g *Gateway) send(f Frame) error {
	line := f.String()

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if g.port == nil {
		return transport.ErrUnavailable
	}
	if _, err := io.WriteString(g.port, line+"\n"); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	if g.cfg.LogFrames {
		g.logger.WithField("frame", line).Info("UART >>")
	}
	if g.cfg.WriteDelay > 0 {
		time.Sleep(g.cfg.WriteDelay)
	}
	return nil
}

func timestamp(t time.Time) uint32 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	if s > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(s)
}

func statusCode(code int) uint8 {
	if code < 0 {
		return 0
	}
	if code > 255 {
		return 255
	}
	return uint8(code)
}

// PublishPosition writes a position frame.
func (g *Gateway) PublishPosition(_ context.Context, u transport.VehicleUpdate) error {
	return g.send(Frame{
		Event:     g.cfg.Events.Position,
		Status:    statusCode(u.Status.Code()),
		Plate:     u.VehicleID,
		Latitude:  u.Position.Lat,
		Longitude: u.Position.Lon,
		Timestamp: timestamp(u.Timestamp),
	})
}

// PublishStatus writes a status frame.
func (g *Gateway) PublishStatus(_ context.Context, u transport.VehicleUpdate) error {
	return g.send(Frame{
		Event:     g.cfg.Events.Status,
		Status:    statusCode(u.Status.Code()),
		Plate:     u.VehicleID,
		Latitude:  u.Position.Lat,
		Longitude: u.Position.Lon,
		Timestamp: timestamp(u.Timestamp),
	})
}

// PublishIncidentStatus writes an incident frame located at the phase target.
func (g *Gateway) PublishIncidentStatus(_ context.Context, u transport.IncidentUpdate) error {
	f := Frame{
		Event:     g.cfg.Events.IncidentStatus,
		Status:    statusCode(u.Code),
		Plate:     u.VehicleID,
		Timestamp: timestamp(u.Timestamp),
	}
	if u.Target != nil {
		f.Latitude, f.Longitude = u.Target.Lat, u.Target.Lon
	}
	return g.send(f)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
