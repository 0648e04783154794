// Package mqtt binds the simulator to an MQTT broker. Telemetry goes to
// per-vehicle topics; assignments arrive on a single topic.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/transport"
)

var _ transport.Gateway = (*Gateway)(nil)

const (
	qos          = 1
	tokenTimeout = 5 * time.Second
)

// Events names the envelope event of each message kind.
type Events struct {
	Position       string
	VehicleStatus  string
	IncidentStatus string
	Assignment     string
}

// Config configures an MQTT gateway.
type Config struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	Events         Events
	ReconnectDelay time.Duration
	LogPublish     bool
}

// Client is the subset of paho.Client used by the gateway.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Disconnect(quiesce uint)
}

// Gateway publishes telemetry and subscribes to assignments.
type Gateway struct {
	cfg     Config
	client  Client
	connect func() paho.Token
	logger  log.FieldLogger

	mu       sync.Mutex
	ctx      context.Context
	listener transport.AssignmentListener
}

// New creates a gateway backed by a paho client that reconnects on its own
// and subscribes again after each connection.
func New(cfg Config, logger log.FieldLogger) *Gateway {
	g := &Gateway{cfg: cfg, logger: logger.WithField("transport", "mqtt")}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetOnConnectHandler(func(paho.Client) {
			g.logger.WithField("broker", cfg.Broker).Info("MQTT connected")
			if err := g.subscribe(); err != nil {
				g.logger.WithError(err).Warn("MQTT subscribe failed")
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			g.logger.WithError(err).Warn("MQTT connection lost")
		})
	if cfg.ReconnectDelay > 0 {
		opts.SetConnectRetryInterval(cfg.ReconnectDelay).SetMaxReconnectInterval(cfg.ReconnectDelay)
	}

	client := paho.NewClient(opts)
	g.client = client
	g.connect = client.Connect
	return g
}

// NewWithClient creates a gateway around an existing, connected client.
func NewWithClient(cfg Config, client Client, logger log.FieldLogger) *Gateway {
	return &Gateway{cfg: cfg, client: client, logger: logger.WithField("transport", "mqtt")}
}

func (g *Gateway) assignmentsTopic() string {
	return g.cfg.TopicPrefix + "/assignments"
}

func (g *Gateway) vehicleTopic(id, kind string) string {
	return fmt.Sprintf("%s/vehicles/%s/%s", g.cfg.TopicPrefix, id, kind)
}

func (g *Gateway) incidentTopic(id string) string {
	return fmt.Sprintf("%s/incidents/%s/status", g.cfg.TopicPrefix, id)
}

// Start installs the listener and connects, or subscribes right away when
// the client is already connected.
func (g *Gateway) Start(ctx context.Context, listener transport.AssignmentListener) error {
	if listener == nil {
		return errors.New("mqtt: nil assignment listener")
	}
	g.mu.Lock()
	g.ctx, g.listener = ctx, listener
	g.mu.Unlock()

	if g.connect != nil {
		// Completes asynchronously; the connect handler subscribes.
		g.connect()
		return nil
	}
	return g.subscribe()
}

func (g *Gateway) subscribe() error {
	g.mu.Lock()
	ready := g.listener != nil
	g.mu.Unlock()
	if !ready {
		return nil
	}

	token := g.client.Subscribe(g.assignmentsTopic(), qos, g.handleMessage)
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("subscribe %s: timeout", g.assignmentsTopic())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", g.assignmentsTopic(), err)
	}
	g.logger.WithField("topic", g.assignmentsTopic()).Info("MQTT assignments subscriber active")
	return nil
}

func (g *Gateway) handleMessage(_ paho.Client, msg paho.Message) {
	g.mu.Lock()
	ctx, listener := g.ctx, g.listener
	g.mu.Unlock()

	event, err := transport.DecodeAssignment(msg.Payload(), g.cfg.Events.Assignment)
	switch {
	case errors.Is(err, transport.ErrForeignEvent):
		g.logger.WithError(err).WithField("topic", msg.Topic()).Warn("Unknown MQTT event")
		return
	case err != nil:
		g.logger.WithError(err).WithField("topic", msg.Topic()).Warn("Invalid MQTT assignment")
		return
	}
	listener.OnAssignment(ctx, event)
}

// Close disconnects from the broker.
func (g *Gateway) Close() error {
	g.client.Disconnect(250)
	return nil
}

func (g *Gateway) publish(topic string, body []byte) error {
	if !g.client.IsConnected() {
		return transport.ErrUnavailable
	}
	token := g.client.Publish(topic, qos, false, body)
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("%w: publish %s timed out", transport.ErrUnavailable, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	if g.cfg.LogPublish {
		g.logger.WithField("topic", topic).Info("MQTT >> " + string(body))
	}
	return nil
}

// PublishPosition sends a position update.
func (g *Gateway) PublishPosition(_ context.Context, u transport.VehicleUpdate) error {
	body, err := transport.EncodePosition(g.cfg.Events.Position, u)
	if err != nil {
		return err
	}
	return g.publish(g.vehicleTopic(u.VehicleID, "position"), body)
}

// PublishStatus sends a vehicle status update.
func (g *Gateway) PublishStatus(_ context.Context, u transport.VehicleUpdate) error {
	body, err := transport.EncodeStatus(g.cfg.Events.VehicleStatus, u)
	if err != nil {
		return err
	}
	return g.publish(g.vehicleTopic(u.VehicleID, "status"), body)
}

// PublishIncidentStatus sends an incident update on the phase topic.
func (g *Gateway) PublishIncidentStatus(_ context.Context, u transport.IncidentUpdate) error {
	body, err := transport.EncodeIncidentStatus(g.cfg.Events.IncidentStatus, u)
	if err != nil {
		return err
	}
	id := u.PhaseID
	if id == "" {
		id = u.VehicleID
	}
	return g.publish(g.incidentTopic(id), body)
}
