package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-simulator/internal/models"
	"github.com/ukydev/fleet-simulator/internal/transport"
)

func TestParseAssignment(t *testing.T) {
	event, err := parseAssignment(" AB-123-CD ", 45.0, 5.01)
	require.NoError(t, err)
	assert.Equal(t, "AB-123-CD", event.VehicleID)
	assert.Equal(t, models.GeoPoint{Lat: 45.0, Lon: 5.01}, event.Target)

	tests := []struct {
		name     string
		vehicle  string
		lat, lon float64
	}{
		{"blank vehicle", " ", 45, 5},
		{"latitude out of range", "AB-123-CD", 91, 5},
		{"longitude out of range", "AB-123-CD", 45, -181},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAssignment(tt.vehicle, tt.lat, tt.lon)
			assert.ErrorIs(t, err, transport.ErrInvalidAssignment)
		})
	}
}
