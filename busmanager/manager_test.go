package busmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-run/meridian/registry"
)

func TestManager_StartStopAllBuses(t *testing.T) {
	reg := registry.New(nil)
	m := New(reg, Config{QueueCapacity: 10}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	health := m.HealthCheck()
	require.Len(t, health, 7)
	for name, healthy := range health {
		assert.True(t, healthy, "bus %s should be healthy right after start", name)
	}

	m.Stop(time.Second)
}

func TestManager_GetStatsCoversEveryBus(t *testing.T) {
	reg := registry.New(nil)
	m := New(reg, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop(time.Second)

	stats := m.GetStats()
	for _, name := range []string{"communication", "memory", "tool", "audit", "telemetry", "wise_authority", "secrets"} {
		_, ok := stats[name]
		assert.True(t, ok, "missing stats for bus %s", name)
	}
}

func TestManager_HealthCheckReflectsStoppedBuses(t *testing.T) {
	reg := registry.New(nil)
	m := New(reg, Config{}, nil)

	health := m.HealthCheck()
	for name, healthy := range health {
		assert.False(t, healthy, "bus %s should be unhealthy before Start", name)
	}
}
