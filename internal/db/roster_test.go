package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-simulator/internal/models"
)

func TestMongoRoster_LoadVehicles(t *testing.T) {
	base := &models.GeoPoint{Lat: 45, Lon: 5}
	away := &models.GeoPoint{Lat: 45.01, Lon: 5}
	vehicles := &fakeVehicles{docs: []models.Vehicle{
		{Registration: "AB-123-CD", Base: base},
		{Registration: " EF-456-GH ", Base: base, CurrentLocation: away},
		{Registration: "", Base: base},
		{Registration: "IJ-789-KL"},
	}}

	entries, err := NewMongoRoster(vehicles, testLogger()).LoadVehicles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.RosterEntry{
		{ID: "AB-123-CD", Base: *base, Position: *base},
		{ID: "EF-456-GH", Base: *base, Position: *away},
	}, entries)
}

func TestMongoRoster_Empty(t *testing.T) {
	_, err := NewMongoRoster(&fakeVehicles{}, testLogger()).LoadVehicles(context.Background())
	assert.Error(t, err)
}

func TestMongoRoster_QueryError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewMongoRoster(&fakeVehicles{err: boom}, testLogger()).LoadVehicles(context.Background())
	assert.ErrorIs(t, err, boom)
}
