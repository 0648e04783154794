package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Telemetry kinds recorded in the archive.
const (
	TelemetryPosition       = "position"
	TelemetryStatus         = "status"
	TelemetryIncidentStatus = "incident_status"
)

// Telemetry is one outbound message as recorded by the telemetry archive.
type Telemetry struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	VehicleID string             `bson:"vehicle_id" json:"vehicle_id"`
	PhaseID   string             `bson:"phase_id,omitempty" json:"phase_id,omitempty"`
	Kind      string             `bson:"kind" json:"kind"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
	Location  *GeoPoint          `bson:"location,omitempty" json:"location,omitempty"`
	Status    *int               `bson:"status,omitempty" json:"status,omitempty"`
}
