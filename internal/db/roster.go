package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fleet-simulator/internal/models"
)

// MongoRoster loads the initial fleet from the vehicles collection.
type MongoRoster struct {
	vehicles VehicleCollection
	logger   log.FieldLogger
}

// NewMongoRoster creates a roster loader.
func NewMongoRoster(vehicles VehicleCollection, logger log.FieldLogger) *MongoRoster {
	return &MongoRoster{vehicles: vehicles, logger: logger}
}

// LoadVehicles returns every usable roster document, ordered by
// registration. Documents without a registration or a base are skipped; a
// missing current location means the vehicle is at its base.
func (r *MongoRoster) LoadVehicles(ctx context.Context) ([]models.RosterEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "registration", Value: 1}})
	cursor, err := r.vehicles.FindVehicles(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []models.Vehicle
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode vehicles: %w", err)
	}

	entries := make([]models.RosterEntry, 0, len(docs))
	for _, doc := range docs {
		id := strings.TrimSpace(doc.Registration)
		if id == "" {
			r.logger.WithField("document_id", doc.ID.Hex()).Warn("Vehicle without registration ignored")
			continue
		}
		if doc.Base == nil {
			r.logger.WithField("vehicle_id", id).Warn("Vehicle without base ignored")
			continue
		}
		position := *doc.Base
		if doc.CurrentLocation != nil {
			position = *doc.CurrentLocation
		}
		entries = append(entries, models.RosterEntry{ID: id, Base: *doc.Base, Position: position})
	}

	r.logger.WithFields(log.Fields{"valid": len(entries), "total": len(docs)}).Info("Vehicles loaded from MongoDB")
	if len(entries) == 0 {
		return nil, errors.New("no usable vehicle in roster")
	}
	return entries, nil
}
