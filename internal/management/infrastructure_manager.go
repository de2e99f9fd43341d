// Package management assembles the daemon: the infrastructure (screen
// channel, sensor connections, IPC server, frame log) and the application
// (providers, coordinator, hotkeys) on top of it.
package management

import (
	"errors"
	"fmt"
	"time"

	"screensync/internal/config"
	"screensync/internal/framelog"
	"screensync/internal/hardware"
	"screensync/internal/hardware/comm"
	"screensync/internal/ipc"
	"screensync/internal/logging"
	"screensync/internal/provider"
)

// InfrastructureManager owns the daemon's external resources.
type InfrastructureManager struct {
	config          *config.Config
	hardwareFactory *hardware.HardwareFactory
	channel         comm.Channel
	ipcServer       *ipc.IPCServer
	frameLog        *framelog.Writer
	logger          *logging.Logger
}

// InfraOption customizes an InfrastructureManager.
type InfraOption func(*InfrastructureManager)

// WithHardwareFactory replaces the default factory.
func WithHardwareFactory(hf *hardware.HardwareFactory) InfraOption {
	return func(im *InfrastructureManager) { im.hardwareFactory = hf }
}

// NewInfrastructureManager creates the screen channel, IPC server and frame
// log described by cfg. Nothing is opened or started yet except the frame
// log file.
func NewInfrastructureManager(cfg *config.Config, opts ...InfraOption) (*InfrastructureManager, error) {
	im := &InfrastructureManager{
		config: cfg,
		logger: logging.GetLogger("infrastructure"),
	}
	for _, o := range opts {
		o(im)
	}
	if im.hardwareFactory == nil {
		im.hardwareFactory = hardware.NewHardwareFactory()
	}

	channel, err := im.hardwareFactory.NewChannel(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to create screen channel: %w", err)
	}
	im.channel = channel

	if cfg.IPC.Enabled {
		im.ipcServer = ipc.NewIPCServer(cfg.IPC)
	}
	if cfg.FrameLog.Path != "" {
		w, err := framelog.Create(cfg.FrameLog.Path)
		if err != nil {
			return nil, err
		}
		im.frameLog = w
	}
	return im, nil
}

func (im *InfrastructureManager) Config() *config.Config {
	return im.config
}

func (im *InfrastructureManager) HardwareFactory() *hardware.HardwareFactory {
	return im.hardwareFactory
}

func (im *InfrastructureManager) Channel() comm.Channel {
	return im.channel
}

// IPCServer returns nil when IPC is disabled.
func (im *InfrastructureManager) IPCServer() *ipc.IPCServer {
	return im.ipcServer
}

// FrameLog returns nil when frame capture is off.
func (im *InfrastructureManager) FrameLog() *framelog.Writer {
	return im.frameLog
}

// Registers reads Modbus sensors through the shared factory connections.
func (im *InfrastructureManager) Registers() RegisterSource {
	return func(src config.ModbusSourceConfig, timeout time.Duration) provider.RegisterReader {
		return im.hardwareFactory.ModbusClient(src, timeout)
	}
}

func (im *InfrastructureManager) Start() error {
	im.logger.Info("Starting infrastructure", "channel", im.channel.Name())
	if im.ipcServer != nil {
		if err := im.ipcServer.Start(); err != nil {
			return fmt.Errorf("failed to start IPC server: %w", err)
		}
	}
	return nil
}

// Stop releases everything in reverse order of creation.
func (im *InfrastructureManager) Stop() error {
	im.logger.Info("Stopping infrastructure")

	var errs []error
	if im.ipcServer != nil {
		if err := im.ipcServer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("IPC server stop error: %w", err))
		}
	}
	if im.frameLog != nil {
		if err := im.frameLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("frame log close error: %w", err))
		}
	}
	if err := im.hardwareFactory.Close(); err != nil {
		errs = append(errs, fmt.Errorf("hardware factory close error: %w", err))
	}
	return errors.Join(errs...)
}
