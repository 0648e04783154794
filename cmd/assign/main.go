// Command assign publishes one vehicle assignment to the assignments queue,
// standing in for the dispatch platform during manual tests.
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/config"
	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/transport"
	"github.com/ukydev/fleet-simulator/internal/transport/rabbitmq"
)

func main() {
	vehicle := flag.String("vehicle", "", "vehicle registration, e.g. AB-123-CD")
	lat := flag.Float64("lat", 0, "target latitude")
	lon := flag.Float64("lon", 0, "target longitude")
	envFile := flag.String("env", ".env", "optional .env file")
	timeout := flag.Duration("timeout", 10*time.Second, "publish timeout")
	flag.Parse()

	event, err := parseAssignment(*vehicle, *lat, *lon)
	if err != nil {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Read(*envFile)
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	gateway := rabbitmq.NewGateway(cfg.RabbitMQ, log.StandardLogger())
	defer gateway.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := gateway.PublishAssignment(ctx, event); err != nil {
		log.WithError(err).Fatal("Failed to publish assignment")
	}
	log.WithFields(log.Fields{
		"vehicle_id": event.VehicleID,
		"lat":        event.Target.Lat,
		"lon":        event.Target.Lon,
		"queue":      cfg.RabbitMQ.Queues.Assignments,
	}).Info("Assignment published")
}

func parseAssignment(vehicle string, lat, lon float64) (transport.AssignmentEvent, error) {
	vehicle = strings.TrimSpace(vehicle)
	if vehicle == "" {
		return transport.AssignmentEvent{}, transport.ErrInvalidAssignment
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return transport.AssignmentEvent{}, transport.ErrInvalidAssignment
	}
	return transport.AssignmentEvent{VehicleID: vehicle, Target: models.GeoPoint{Lat: lat, Lon: lon}}, nil
}
