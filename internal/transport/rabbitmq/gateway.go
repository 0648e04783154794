// Package rabbitmq binds the simulator to RabbitMQ: telemetry is published to
// durable queues and assignments are consumed from another.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/transport"
)

var _ transport.Gateway = (*Gateway)(nil)

const (
	minRetryDelay  = 250 * time.Millisecond
	publishTimeout = 2 * time.Second
	connectTimeout = 2 * time.Second
)

// Queues names the queues used by the gateway.
type Queues struct {
	Telemetry         string
	Assignments       string
	IncidentTelemetry string
}

// Events names the envelope event of each message kind.
type Events struct {
	Position       string
	VehicleStatus  string
	IncidentStatus string
	Assignment     string
}

// Config configures a RabbitMQ gateway.
type Config struct {
	DSN        string
	Queues     Queues
	Events     Events
	RetryDelay time.Duration
	LogPublish bool
}

// Channel is the subset of *amqp.Channel used by the gateway.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	IsClosed() bool
	Close() error
}

// Connection is the subset of *amqp.Connection used by the gateway.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Dialer opens a named connection.
type Dialer func(dsn, name string) (Connection, error)

type conn struct {
	*amqp.Connection
}

func (c conn) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Dial connects to a real broker. The TCP connect and the AMQP handshake
// are bounded by connectTimeout.
func Dial(dsn, name string) (Connection, error) {
	c, err := amqp.DialConfig(dsn, amqp.Config{
		Properties: amqp.Table{"connection_name": name},
		Dial:       amqp.DefaultDial(connectTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn{c}, nil
}

// Gateway publishes telemetry and consumes assignments. The publish side
// reconnects lazily, at most once per retry delay; the consumer reconnects
// in a loop until closed.
type Gateway struct {
	cfg    Config
	dial   Dialer
	now    func() time.Time
	logger log.FieldLogger

	mu          sync.Mutex
	pubConn     Connection
	pubChannel  Channel
	nextConnect time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithDialer replaces the broker dialer.
func WithDialer(d Dialer) Option {
	return func(g *Gateway) { g.dial = d }
}

// WithClock replaces the clock used for reconnect gating.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// NewGateway creates a gateway; no connection is opened until needed.
func NewGateway(cfg Config, logger log.FieldLogger, opts ...Option) *Gateway {
	if cfg.RetryDelay < minRetryDelay {
		cfg.RetryDelay = minRetryDelay
	}
	g := &Gateway{
		cfg:    cfg,
		dial:   Dial,
		now:    time.Now,
		logger: logger.WithField("transport", "amqp"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) declareQueues(ch Channel) error {
	for _, q := range []string{g.cfg.Queues.Telemetry, g.cfg.Queues.Assignments, g.cfg.Queues.IncidentTelemetry} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	return nil
}

// Start launches the assignment consumer.
func (g *Gateway) Start(ctx context.Context, listener transport.AssignmentListener) error {
	if listener == nil {
		return errors.New("rabbitmq: nil assignment listener")
	}
	if g.done != nil {
		return nil
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	go g.consumeLoop(ctx, listener)
	return nil
}

// Close stops the consumer and the publish connection.
func (g *Gateway) Close() error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.done != nil {
		<-g.done
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closePublishLocked()
	return nil
}

func (g *Gateway) consumeLoop(ctx context.Context, listener transport.AssignmentListener) {
	defer close(g.done)
	for ctx.Err() == nil {
		if err := g.consume(ctx, listener); err != nil && ctx.Err() == nil {
			g.logger.WithError(err).Warn("RabbitMQ consumer failed")
		}
		if !sleep(ctx, g.cfg.RetryDelay) {
			return
		}
	}
}

func (g *Gateway) consume(ctx context.Context, listener transport.AssignmentListener) error {
	c, err := g.dial(g.cfg.DSN, "sim-vehicles-consumer")
	if err != nil {
		return err
	}
	defer c.Close()

	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer ch.Close()

	if err := g.declareQueues(ch); err != nil {
		return err
	}
	deliveries, err := ch.Consume(g.cfg.Queues.Assignments, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", g.cfg.Queues.Assignments, err)
	}
	g.logger.WithField("queue", g.cfg.Queues.Assignments).Info("RabbitMQ assignments consumer active")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			g.handleDelivery(ctx, d.Body, listener)
		}
	}
}

func (g *Gateway) handleDelivery(ctx context.Context, body []byte, listener transport.AssignmentListener) {
	if len(body) == 0 {
		return
	}
	event, err := transport.DecodeAssignment(body, g.cfg.Events.Assignment)
	switch {
	case errors.Is(err, transport.ErrForeignEvent):
		g.logger.WithError(err).Warn("Unknown RabbitMQ event")
		return
	case err != nil:
		g.logger.WithError(err).WithField("body", string(body)).Warn("Invalid RabbitMQ assignment")
		return
	}
	listener.OnAssignment(ctx, event)
}

// ensurePublishChannel must be called with mu held.
func (g *Gateway) ensurePublishChannel() (Channel, error) {
	if g.pubChannel != nil && !g.pubChannel.IsClosed() {
		return g.pubChannel, nil
	}
	now := g.now()
	if now.Before(g.nextConnect) {
		return nil, transport.ErrUnavailable
	}
	g.closePublishLocked()

	fail := func(err error) (Channel, error) {
		g.logger.WithError(err).Warn("RabbitMQ unavailable")
		g.nextConnect = now.Add(g.cfg.RetryDelay)
		g.closePublishLocked()
		return nil, fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}

	c, err := g.dial(g.cfg.DSN, "sim-vehicles-publisher")
	if err != nil {
		return fail(err)
	}
	g.pubConn = c
	ch, err := c.Channel()
	if err != nil {
		return fail(err)
	}
	g.pubChannel = ch
	if err := g.declareQueues(ch); err != nil {
		return fail(err)
	}
	g.logger.Info("RabbitMQ connected")
	return ch, nil
}

func (g *Gateway) closePublishLocked() {
	if g.pubChannel != nil {
		_ = g.pubChannel.Close()
		g.pubChannel = nil
	}
	if g.pubConn != nil {
		_ = g.pubConn.Close()
		g.pubConn = nil
	}
}

func (g *Gateway) publish(ctx context.Context, queue string, body []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, err := g.ensurePublishChannel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    g.now(),
		Body:         body,
	})
	if err != nil {
		g.logger.WithError(err).Warn("RabbitMQ publish failed")
		g.closePublishLocked()
		return fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	if g.cfg.LogPublish {
		g.logger.WithField("queue", queue).Info("RabbitMQ >> " + string(body))
	}
	return nil
}

// PublishPosition sends a position update to the telemetry queue.
func (g *Gateway) PublishPosition(ctx context.Context, u transport.VehicleUpdate) error {
	if u.VehicleID == "" {
		return transport.ErrNoVehicleID
	}
	body, err := transport.EncodePosition(g.cfg.Events.Position, u)
	if err != nil {
		return err
	}
	return g.publish(ctx, g.cfg.Queues.Telemetry, body)
}

// PublishStatus sends a status update to the telemetry queue.
func (g *Gateway) PublishStatus(ctx context.Context, u transport.VehicleUpdate) error {
	if u.VehicleID == "" {
		return transport.ErrNoVehicleID
	}
	body, err := transport.EncodeStatus(g.cfg.Events.VehicleStatus, u)
	if err != nil {
		return err
	}
	return g.publish(ctx, g.cfg.Queues.Telemetry, body)
}

// PublishIncidentStatus sends an incident update to the incident queue.
func (g *Gateway) PublishIncidentStatus(ctx context.Context, u transport.IncidentUpdate) error {
	if u.VehicleID == "" {
		return transport.ErrNoVehicleID
	}
	body, err := transport.EncodeIncidentStatus(g.cfg.Events.IncidentStatus, u)
	if err != nil {
		return err
	}
	return g.publish(ctx, g.cfg.Queues.IncidentTelemetry, body)
}

// PublishAssignment sends an assignment to the assignments queue, the way
// the dispatch platform does.
func (g *Gateway) PublishAssignment(ctx context.Context, a transport.AssignmentEvent) error {
	body, err := transport.EncodeAssignment(g.cfg.Events.Assignment, a)
	if err != nil {
		return err
	}
	return g.publish(ctx, g.cfg.Queues.Assignments, body)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
