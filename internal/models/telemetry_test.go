package models

import (
    "encoding/json"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestTelemetryOmitsEmptyOptionalFields(t *testing.T) {
    tele := Telemetry{
        VehicleID: "AB-123-CD",
        Kind:      TelemetryPosition,
        Timestamp: time.Unix(1700000000, 0).UTC(),
        Location:  &GeoPoint{Lat: 45.0, Lon: 5.0},
    }
    data, err := json.Marshal(tele)
    require.NoError(t, err)
    assert.NotContains(t, string(data), `"status"`)
    assert.Contains(t, string(data), `"location":{"lat":45,"lon":5}`)
}

func TestVehicleStatusCodesAndNames(t *testing.T) {
    cases := []struct {
        status VehicleStatus
        code   int
        name   string
    }{
        {StatusAvailable, 0, "AVAILABLE"},
        {StatusEngaged, 1, "ENGAGED"},
        {StatusOnScene, 2, "ON_SCENE"},
        {StatusTransport, 3, "TRANSPORT"},
        {StatusReturning, 4, "RETURNING"},
        {StatusUnavailable, 5, "UNAVAILABLE"},
        {StatusOutOfService, 6, "OUT_OF_SERVICE"},
    }
    for _, tc := range cases {
        assert.Equal(t, tc.code, tc.status.Code())
        assert.Equal(t, tc.name, tc.status.String())
    }
    assert.Equal(t, "STATUS(9)", VehicleStatus(9).String())
}
