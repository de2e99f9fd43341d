package hardware

import (
	"fmt"
	"sync"
	"time"

	"screensync/internal/config"
	"screensync/internal/device"
	"screensync/internal/hardware/comm"
	"screensync/internal/hardware/protocols/hidraw"
	"screensync/internal/hardware/protocols/modbus"
	"screensync/internal/hardware/protocols/report"
	"screensync/internal/hardware/protocols/serial"
)

// MockFirmware is the version the built-in mock screen reports.
const MockFirmware = 1

// HardwareFactory builds device channels and sensor clients from config.
type HardwareFactory struct {
	discovery *hidraw.Discovery

	mu     sync.Mutex
	mock   *device.MockScreen
	modbus map[string]*modbus.Client
}

func NewHardwareFactory() *HardwareFactory {
	return &HardwareFactory{
		discovery: hidraw.NewDiscovery(),
		modbus:    make(map[string]*modbus.Client),
	}
}

// WithDiscovery replaces the sysfs locations used to find hidraw nodes.
func (hf *HardwareFactory) WithDiscovery(d *hidraw.Discovery) *HardwareFactory {
	hf.discovery = d
	return hf
}

// NewChannel creates the channel to the configured screen.
func (hf *HardwareFactory) NewChannel(cfg config.DeviceConfig) (comm.Channel, error) {
	opts := report.Options{ExchangeTimeout: cfg.OpTimeout.Std()}

	switch cfg.Type {
	case "hidraw":
		match := hidraw.Match{
			VendorID:  cfg.VendorID,
			ProductID: cfg.ProductID,
			UsagePage: cfg.UsagePage,
			Usage:     cfg.Usage,
		}
		return report.NewChannel("hidraw", hf.discovery.Opener(match, cfg.Path), opts, cfg.ApprovedVersions), nil
	case "serial":
		opts.Stream = true
		open := serial.Opener(serial.Config{PortName: cfg.SerialPort, BaudRate: cfg.BaudRate})
		return report.NewChannel("serial", open, opts, cfg.ApprovedVersions), nil
	case "mock":
		return report.NewChannel("mock", hf.Mock().Opener(), opts, cfg.ApprovedVersions), nil
	default:
		return nil, fmt.Errorf("unsupported device type: %s", cfg.Type)
	}
}

// Mock returns the in-process mock screen, creating it on first use.
func (hf *HardwareFactory) Mock() *device.MockScreen {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if hf.mock == nil {
		hf.mock = device.NewMockScreen(MockFirmware)
	}
	return hf.mock
}

// ModbusClient returns the client for a sensor source. Sources on the same
// slave share one connection.
func (hf *HardwareFactory) ModbusClient(src config.ModbusSourceConfig, timeout time.Duration) *modbus.Client {
	key := fmt.Sprintf("%s|%s:%d|%d", src.Type, src.Address, src.Port, src.SlaveID)

	hf.mu.Lock()
	defer hf.mu.Unlock()
	if c, ok := hf.modbus[key]; ok {
		return c
	}
	c := modbus.NewClient(modbus.Config{
		ConnectionConfig: comm.ConnectionConfig{Timeout: timeout, RetryCount: 1},
		Type:             src.Type,
		Address:          src.Address,
		Port:             src.Port,
		BaudRate:         src.BaudRate,
		SlaveID:          src.SlaveID,
	})
	hf.modbus[key] = c
	return c
}

// Close releases sensor connections.
func (hf *HardwareFactory) Close() error {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	var first error
	for key, c := range hf.modbus {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(hf.modbus, key)
	}
	return first
}
