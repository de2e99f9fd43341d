package hardware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screensync/internal/config"
	"screensync/internal/hardware/comm"
)

func TestNewChannel(t *testing.T) {
	hf := NewHardwareFactory()
	for _, typ := range []string{"hidraw", "serial", "mock"} {
		cfg := config.Default().Device
		cfg.Type = typ
		ch, err := hf.NewChannel(cfg)
		require.NoError(t, err, typ)
		assert.Equal(t, typ, ch.Name())
		assert.Equal(t, comm.StatusDisconnected, ch.Status())
	}

	_, err := hf.NewChannel(config.DeviceConfig{Type: "usb"})
	assert.Error(t, err)
}

func TestMockChannel(t *testing.T) {
	hf := NewHardwareFactory()
	cfg := config.Default().Device
	ch, err := hf.NewChannel(cfg)
	require.NoError(t, err)

	h, err := ch.Open(context.Background())
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, MockFirmware, h.Info().Firmware)
	assert.Same(t, hf.Mock(), hf.Mock())
	assert.Equal(t, 1, hf.Mock().Opens())
}

func TestModbusClientsShared(t *testing.T) {
	hf := NewHardwareFactory()
	src := config.ModbusSourceConfig{Type: "tcp", Address: "10.0.0.5", Port: 502, SlaveID: 1}
	a := hf.ModbusClient(src, time.Second)
	b := hf.ModbusClient(src, time.Second)
	assert.Same(t, a, b)

	src.SlaveID = 2
	assert.NotSame(t, a, hf.ModbusClient(src, time.Second))
	assert.NoError(t, hf.Close())
}
