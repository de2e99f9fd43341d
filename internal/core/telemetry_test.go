package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screensync/internal/aggregator"
	"screensync/internal/hardware/comm"
	"screensync/internal/provider"
)

func TestTelemetryCommands(t *testing.T) {
	now := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	snap := aggregator.Snapshot{
		At:      now,
		CPUTemp: aggregator.Reading[float64]{Value: 55.4, State: aggregator.Fresh},
		GPUTemp: aggregator.Reading[float64]{Value: 80, State: aggregator.Stale},
		Weather: aggregator.Reading[provider.Weather]{
			Value: provider.Weather{Condition: provider.ConditionRain, TempC: 12.6, LowC: 8, HighC: 14},
			State: aggregator.Aging,
		},
		DownloadRate: aggregator.Reading[float64]{Value: 3.5, State: aggregator.Fresh},
	}

	cmds := TelemetryCommands(snap, now)
	require.Len(t, cmds, 3)
	assert.Equal(t, comm.SetTime(now), cmds[0])
	assert.Equal(t, comm.SetWeather(comm.IconRainy, 12.6, 8, 14), cmds[1])
	// the stale GPU value is not shown
	assert.Equal(t, comm.SetSystemInfo(55.4, 0, 3.5), cmds[2])
}

func TestTelemetrySkipsUnusable(t *testing.T) {
	now := time.Now()
	snap := aggregator.Snapshot{
		CPUTemp: aggregator.Reading[float64]{State: aggregator.Disabled},
		Weather: aggregator.Reading[provider.Weather]{State: aggregator.Stale},
	}
	cmds := TelemetryCommands(snap, now)
	require.Len(t, cmds, 1)
	assert.Equal(t, comm.CmdSetTime, cmds[0].ID)
}

func TestIconFor(t *testing.T) {
	noon := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	night := time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, comm.IconDayClear, IconFor(provider.ConditionClear, noon))
	assert.Equal(t, comm.IconNightClear, IconFor(provider.ConditionClear, night))
	assert.Equal(t, comm.IconNightPartlyCloudy, IconFor(provider.ConditionPartlyCloudy, night))
	assert.Equal(t, comm.IconThunderstorm, IconFor(provider.ConditionThunderstorm, noon))
	assert.Equal(t, comm.IconCloudy, IconFor(provider.ConditionFog, noon))
}
