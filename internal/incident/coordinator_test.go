package incident

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-simulator/internal/models"
)

const onSite = time.Minute

var (
	t0     = time.Unix(1_700_000_000, 0)
	target = &models.GeoPoint{Lat: 45.0, Lon: 5.01}
)

func TestCoordinator_BarrierWaitsForLastArrival(t *testing.T) {
	c := NewCoordinator()
	c.RegisterVehicle("V1", "ph1", target)
	c.RegisterVehicle("V2", "ph1", target)

	c.MarkArrived("V1", "ph1", t0, target)
	assert.False(t, c.AllArrived("ph1"))
	assert.False(t, c.CanReturn("ph1", t0.Add(onSite), onSite))

	t1 := t0.Add(20 * time.Second)
	c.MarkArrived("V2", "ph1", t1, target)
	assert.True(t, c.AllArrived("ph1"))
	assert.Equal(t, "V2", c.LastArrived("ph1"))

	assert.False(t, c.CanReturn("ph1", t0.Add(onSite), onSite), "barrier counts from the last arrival")
	_, ok := c.TryRelease("ph1", t0.Add(onSite), onSite)
	assert.False(t, ok)

	assert.True(t, c.CanReturn("ph1", t1.Add(onSite), onSite))
	r, ok := c.TryRelease("ph1", t1.Add(onSite), onSite)
	require.True(t, ok)
	assert.Equal(t, []string{"V1", "V2"}, r.Vehicles)
	assert.Equal(t, "V2", r.LastArrived)
	assert.Equal(t, target, r.Target)

	assert.Empty(t, c.Phases())
	_, ok = c.TryRelease("ph1", t1.Add(2*onSite), onSite)
	assert.False(t, ok, "released only once")
}

func TestCoordinator_RegisterIsIdempotent(t *testing.T) {
	c := NewCoordinator()
	c.RegisterVehicle("V1", "ph1", target)
	c.RegisterVehicle("V1", "ph1", target)
	c.RegisterVehicle("V2", "ph1", nil)
	assert.Equal(t, []string{"V1", "V2"}, c.Assigned("ph1"))

	c.MarkArrived("V1", "ph1", t0, nil)
	assert.False(t, c.CanReturn("ph1", t0.Add(time.Hour), onSite))
}

func TestCoordinator_AllArrivedStampedOnce(t *testing.T) {
	c := NewCoordinator()
	c.RegisterVehicle("V1", "ph1", target)
	c.MarkArrived("V1", "ph1", t0, target)
	c.MarkArrived("V1", "ph1", t0.Add(30*time.Second), target)

	phases := c.Phases()
	require.Len(t, phases, 1)
	require.NotNil(t, phases[0].AllArrivedAt)
	assert.Equal(t, t0, *phases[0].AllArrivedAt)
}

func TestCoordinator_PhasesAreNotMergedBySharedTarget(t *testing.T) {
	c := NewCoordinator()
	c.RegisterVehicle("V1", "ph1", target)
	c.RegisterVehicle("V2", "ph2", target)
	c.MarkArrived("V1", "ph1", t0, target)

	assert.True(t, c.CanReturn("ph1", t0.Add(onSite), onSite))
	assert.False(t, c.CanReturn("ph2", t0.Add(onSite), onSite))
}

func TestCoordinator_UnregisterDropsEmptyPhase(t *testing.T) {
	c := NewCoordinator()
	c.RegisterVehicle("V1", "ph1", target)
	c.MarkArrived("V1", "ph1", t0, target)

	c.UnregisterVehicle("V1", "ph1")
	assert.Nil(t, c.Assigned("ph1"))
	assert.Empty(t, c.LastArrived("ph1"))
	assert.False(t, c.CanReturn("ph1", t0.Add(onSite), onSite))

	c.UnregisterVehicle("V1", "unknown")
}

func TestCoordinator_UnregisterLeavesRemainingArrived(t *testing.T) {
	c := NewCoordinator()
	c.RegisterVehicle("V1", "ph1", target)
	c.RegisterVehicle("V2", "ph1", target)
	c.MarkArrived("V1", "ph1", t0, target)

	c.UnregisterVehicle("V2", "ph1")
	assert.True(t, c.AllArrived("ph1"))

	t1 := t0.Add(10 * time.Second)
	_, ok := c.TryRelease("ph1", t1, onSite)
	assert.False(t, ok, "barrier stamped now, delay still pending")

	r, ok := c.TryRelease("ph1", t1.Add(onSite), onSite)
	require.True(t, ok)
	assert.Equal(t, []string{"V1"}, r.Vehicles)
}

func TestCoordinator_LateRegistrationClosesBarrier(t *testing.T) {
	c := NewCoordinator()
	c.RegisterVehicle("V1", "ph1", target)
	c.MarkArrived("V1", "ph1", t0, target)
	require.True(t, c.AllArrived("ph1"))

	c.RegisterVehicle("V2", "ph1", target)
	assert.False(t, c.AllArrived("ph1"))
	assert.False(t, c.CanReturn("ph1", t0.Add(onSite), onSite))
	_, ok := c.TryRelease("ph1", t0.Add(2*onSite), onSite)
	assert.False(t, ok, "V2 is still on its way")

	c.RegisterVehicle("V1", "ph1", target)
	assert.False(t, c.AllArrived("ph1"))

	t1 := t0.Add(3 * onSite)
	c.MarkArrived("V2", "ph1", t1, target)
	_, ok = c.TryRelease("ph1", t1.Add(onSite-time.Second), onSite)
	assert.False(t, ok, "barrier counts from the late arrival")

	r, ok := c.TryRelease("ph1", t1.Add(onSite), onSite)
	require.True(t, ok)
	assert.Equal(t, []string{"V1", "V2"}, r.Vehicles)
	assert.Equal(t, "V2", r.LastArrived)
}

func TestCoordinator_LastArrivedFallsBackAfterUnregister(t *testing.T) {
	c := NewCoordinator()
	c.RegisterVehicle("V1", "ph1", target)
	c.RegisterVehicle("V2", "ph1", target)
	c.RegisterVehicle("V3", "ph1", target)
	c.MarkArrived("V1", "ph1", t0, target)
	c.MarkArrived("V2", "ph1", t0.Add(time.Second), target)
	c.UnregisterVehicle("V2", "ph1")
	assert.Equal(t, "V1", c.LastArrived("ph1"))

	c.MarkArrived("V3", "ph1", t0.Add(2*time.Second), target)
	assert.Equal(t, "V3", c.LastArrived("ph1"))
	c.UnregisterVehicle("V3", "ph1")

	r, ok := c.TryRelease("ph1", t0.Add(2*onSite), onSite)
	require.True(t, ok)
	assert.Equal(t, []string{"V1"}, r.Vehicles)
	assert.Equal(t, "V1", r.LastArrived)
}

func TestCoordinator_ArrivalForUnknownPhase(t *testing.T) {
	c := NewCoordinator()
	c.MarkArrived("V1", "ph9", t0, target)

	assert.Equal(t, []string{"V1"}, c.Assigned("ph9"))
	assert.True(t, c.CanReturn("ph9", t0.Add(onSite), onSite))
}

func TestCoordinator_ClearIncident(t *testing.T) {
	c := NewCoordinator()
	c.RegisterVehicle("V1", "ph1", target)
	c.ClearIncident("ph1")
	assert.Empty(t, c.Phases())
}

func TestCoordinator_ConcurrentAccess(t *testing.T) {
	c := NewCoordinator()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('A' + n))
			for j := 0; j < 200; j++ {
				c.RegisterVehicle(id, "ph1", target)
				c.MarkArrived(id, "ph1", t0, target)
				c.TryRelease("ph1", t0.Add(onSite), onSite)
				c.Phases()
			}
		}(i)
	}
	wg.Wait()
}
