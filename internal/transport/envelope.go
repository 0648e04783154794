package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ukydev/fleet-simulator/internal/models"
)

var (
	// ErrForeignEvent marks an inbound message carrying another event name.
	ErrForeignEvent = errors.New("foreign event")
	// ErrInvalidAssignment marks an assignment without vehicle or coordinates.
	ErrInvalidAssignment = errors.New("invalid assignment")
)

// Envelope is the JSON frame shared by the broker transports.
type Envelope struct {
	Event     string          `json:"event"`
	MessageID string          `json:"message_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type positionPayload struct {
	Registration string  `json:"immatriculation"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Timestamp    string  `json:"timestamp"`
}

type statusPayload struct {
	Registration string `json:"immatriculation"`
	Status       int    `json:"status"`
	Timestamp    string `json:"timestamp"`
}

// formatTimestamp renders whole seconds in UTC, e.g. 2024-05-01T10:00:00Z.
func formatTimestamp(ts time.Time) string {
	return ts.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func encode(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return json.Marshal(Envelope{
		Event:     event,
		MessageID: uuid.NewString(),
		Payload:   raw,
	})
}

// EncodePosition builds a position envelope.
func EncodePosition(event string, u VehicleUpdate) ([]byte, error) {
	return encode(event, positionPayload{
		Registration: u.VehicleID,
		Latitude:     u.Position.Lat,
		Longitude:    u.Position.Lon,
		Timestamp:    formatTimestamp(u.Timestamp),
	})
}

// EncodeStatus builds a vehicle status envelope.
func EncodeStatus(event string, u VehicleUpdate) ([]byte, error) {
	return encode(event, statusPayload{
		Registration: u.VehicleID,
		Status:       u.Status.Code(),
		Timestamp:    formatTimestamp(u.Timestamp),
	})
}

// EncodeIncidentStatus builds an incident status envelope.
func EncodeIncidentStatus(event string, u IncidentUpdate) ([]byte, error) {
	return encode(event, statusPayload{
		Registration: u.VehicleID,
		Status:       u.Code,
		Timestamp:    formatTimestamp(u.Timestamp),
	})
}

// EncodeAssignment builds an assignment envelope, as the dispatch platform
// would send it.
func EncodeAssignment(event string, a AssignmentEvent) ([]byte, error) {
	return encode(event, assignmentPayload{
		Registration: flexString(a.VehicleID),
		Latitude:     flexFloat{value: a.Target.Lat, set: true},
		Longitude:    flexFloat{value: a.Target.Lon, set: true},
	})
}

// flexFloat accepts JSON numbers and numeric strings.
type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		f.value, f.set = v, true
		return nil
	}
	if err := json.Unmarshal(data, &f.value); err != nil {
		return nil
	}
	f.set = true
	return nil
}

func (f flexFloat) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.value)
}

// flexString accepts any JSON scalar and keeps its text.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	*s = flexString(data)
	return nil
}

type assignmentPayload struct {
	Registration flexString `json:"immatriculation"`
	Latitude     flexFloat  `json:"latitude"`
	Longitude    flexFloat  `json:"longitude"`
}

// DecodeAssignment parses an inbound assignment. The body is either an
// envelope or a bare payload; an envelope naming another event than
// assignmentEvent yields ErrForeignEvent.
func DecodeAssignment(body []byte, assignmentEvent string) (AssignmentEvent, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return AssignmentEvent{}, fmt.Errorf("%w: %v", ErrInvalidAssignment, err)
	}

	if raw, ok := root["event"]; ok {
		var event flexString
		if err := json.Unmarshal(raw, &event); err == nil && event != "" && string(event) != assignmentEvent {
			return AssignmentEvent{}, fmt.Errorf("%w: %s", ErrForeignEvent, string(event))
		}
	}

	payload := body
	if raw, ok := root["payload"]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		payload = raw
	}

	var p assignmentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return AssignmentEvent{}, fmt.Errorf("%w: %v", ErrInvalidAssignment, err)
	}
	if p.Registration == "" || !p.Latitude.set || !p.Longitude.set {
		return AssignmentEvent{}, ErrInvalidAssignment
	}
	return AssignmentEvent{
		VehicleID: string(p.Registration),
		Target:    models.GeoPoint{Lat: p.Latitude.value, Lon: p.Longitude.value},
	}, nil
}
