package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screensync/pkg/types"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("device:\n  type: mock\n"))
	require.NoError(t, err)

	assert.Equal(t, 110, cfg.Device.Width)
	assert.Equal(t, 111, cfg.Device.AnimationWidth)
	assert.Equal(t, 111, cfg.Device.AnimationHeight)
	assert.Equal(t, 1013807, cfg.Device.MaxPayloadBytes)
	assert.Equal(t, 3, cfg.Device.SendAttempts)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval.Std())
	assert.Equal(t, types.AllModes, cfg.Modes())
	assert.Equal(t, types.ModeDashboard, cfg.InitialMode())
	assert.Equal(t, 5*time.Second, cfg.IPC.Timeout)
}

func TestParseOverridesAndDurations(t *testing.T) {
	data := `
sync:
  interval: 10s
  reconnect_initial: 250ms
  reconnect_max: 100ms
  modes: [image, dashboard]
providers:
  cpu_temp:
    enabled: true
    source: hwmon
    interval: 2s
    timeout: 5s
    freshness: 0s
assets:
  image: /tmp/cat.png
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Sync.Interval.Std())
	// max is raised to at least the initial delay
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.ReconnectMax.Std())
	assert.Equal(t, []types.Mode{types.ModeImage, types.ModeDashboard}, cfg.Modes())
	assert.Equal(t, types.ModeImage, cfg.InitialMode())

	cpu := cfg.Providers.CPUTemp
	assert.Equal(t, 2*time.Second, cpu.Timeout.Std(), "timeout is capped at the interval")
	assert.Equal(t, 6*time.Second, cpu.Freshness.Std())
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		field string
	}{
		{"unknown device", "device:\n  type: usb\n", "device.type"},
		{"serial without port", "device:\n  type: serial\n", "device.serial_port"},
		{"hidraw without ids", "device:\n  type: hidraw\n", "device"},
		{"zero size", "device:\n  width: 0\n  height: 10\n", "device"},
		{"huge animation", "device:\n  animation_width: 70000\n  animation_height: 111\n", "device"},
		{"bad mode", "sync:\n  modes: [dashboard, slideshow]\n", "sync.modes"},
		{"bad initial", "sync:\n  initial_mode: nope\n", "sync.initial_mode"},
		{"provider without interval", "providers:\n  weather:\n    enabled: true\n    source: open-meteo\n    interval: 0s\n", "providers.weather.interval"},
		{"modbus without address", "providers:\n  gpu_temp:\n    enabled: true\n    source: modbus\n    interval: 1s\n", "providers.gpu_temp.modbus.address"},
		{"bad trigger", "input:\n  enabled: true\n  triggers:\n    KEY_F13: explode\n", "input.triggers"},
		{"bad port", "ipc:\n  enabled: true\n  port: 70000\n", "ipc.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			require.True(t, IsConfigError(err), "got %v", err)
			var ce *Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestParseBadDuration(t *testing.T) {
	_, err := Parse([]byte("sync:\n  interval: soon\n"))
	require.Error(t, err)
	assert.False(t, IsConfigError(err))
}

func TestInputDefaults(t *testing.T) {
	cfg, err := Parse([]byte("input:\n  enabled: true\n  triggers:\n    code:183: mode:image\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"code:183": "mode:image"}, cfg.Input.Triggers)

	cfg, err = Parse([]byte("input:\n  enabled: true\n"))
	require.NoError(t, err)
	assert.Equal(t, "resync", cfg.Input.Triggers["KEY_F13"])
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "screensync.yaml")
	written, err := WriteDefault(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, written.Sync, loaded.Sync)
	assert.Equal(t, written.Device, loaded.Device)
	assert.Equal(t, written.Providers, loaded.Providers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
