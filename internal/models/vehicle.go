package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VehicleStatus is the operational status reported for a vehicle. The numeric
// value is the code carried on the wire.
type VehicleStatus int

const (
	StatusAvailable    VehicleStatus = 0
	StatusEngaged      VehicleStatus = 1
	StatusOnScene      VehicleStatus = 2
	StatusTransport    VehicleStatus = 3
	StatusReturning    VehicleStatus = 4
	StatusUnavailable  VehicleStatus = 5
	StatusOutOfService VehicleStatus = 6
)

// Code returns the wire code of the status.
func (s VehicleStatus) Code() int {
	return int(s)
}

func (s VehicleStatus) String() string {
	switch s {
	case StatusAvailable:
		return "AVAILABLE"
	case StatusEngaged:
		return "ENGAGED"
	case StatusOnScene:
		return "ON_SCENE"
	case StatusTransport:
		return "TRANSPORT"
	case StatusReturning:
		return "RETURNING"
	case StatusUnavailable:
		return "UNAVAILABLE"
	case StatusOutOfService:
		return "OUT_OF_SERVICE"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// MarshalText lets statuses appear by name in JSON payloads and log fields.
func (s VehicleStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RosterEntry is one vehicle as returned by a roster loader.
type RosterEntry struct {
	ID       string
	Base     GeoPoint
	Position GeoPoint
}

// Vehicle is the roster document stored in the vehicles collection.
type Vehicle struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Registration    string             `bson:"registration" json:"registration"`
	Base            *GeoPoint          `bson:"base" json:"base"`
	CurrentLocation *GeoPoint          `bson:"current_location,omitempty" json:"current_location,omitempty"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
}
