package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-simulator/internal/models"
)

func TestConnectMongo_BadURI(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := ConnectMongo(ctx, "mongodb://bad:uri")
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestConnectMongo_EmptyURI(t *testing.T) {
	_, err := ConnectMongo(context.Background(), "")
	assert.Error(t, err)
}

func TestMongoCollection_NilCollection(t *testing.T) {
	coll := &MongoCollection{Collection: nil}
	assert.Error(t, coll.InsertTelemetry(context.Background(), models.Telemetry{}))
	assert.Error(t, coll.InsertVehicle(context.Background(), models.Vehicle{}))
	_, err := coll.FindVehicles(context.Background(), nil)
	assert.Error(t, err)
	assert.Error(t, coll.DeleteAll(context.Background()))
}

// Integration test (requires running MongoDB)
func TestRosterAndArchive_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" || uri == "uri" {
		t.Skip("MONGO_URI not set or invalid, skipping integration test")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := ConnectMongo(ctx, uri)
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
		return
	}
	defer client.Disconnect(context.Background())

	database := client.Database("fleet_simulator_test")
	vehicles := &MongoCollection{Collection: database.Collection(VehiclesCollectionName)}
	require.NoError(t, vehicles.DeleteAll(ctx))
	require.NoError(t, vehicles.InsertVehicle(ctx, models.Vehicle{
		Registration: "AB-123-CD",
		Base:         &models.GeoPoint{Lat: 45, Lon: 5},
	}))

	entries, err := NewMongoRoster(vehicles, testLogger()).LoadVehicles(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "AB-123-CD", entries[0].ID)
	assert.Equal(t, entries[0].Base, entries[0].Position)

	telemetry := &MongoCollection{Collection: database.Collection(TelemetryCollectionName)}
	require.NoError(t, telemetry.DeleteAll(ctx))
	require.NoError(t, telemetry.InsertTelemetry(ctx, models.Telemetry{
		VehicleID: "AB-123-CD",
		Kind:      models.TelemetryPosition,
		Timestamp: time.Now(),
		Location:  &models.GeoPoint{Lat: 45, Lon: 5},
	}))
}
