// Command screensync keeps a keyboard's auxiliary screen in sync with host
// telemetry, images and animations. It owns the screen, polls the
// configured sensors and serves status and control requests over IPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"screensync/internal/config"
	"screensync/internal/logging"
	"screensync/internal/management"
	"screensync/pkg/types"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	log.Printf("Config %s not found, writing defaults", path)
	if _, err := config.WriteDefault(path); err != nil {
		return nil, err
	}
	return config.Load(path)
}

func printSystemInfo(cfg *config.Config) {
	fmt.Println("==========================================")
	fmt.Println("  screensync")
	fmt.Println("==========================================")
	fmt.Printf("  Device: %s (%dx%d, animations %dx%d)\n", cfg.Device.Type,
		cfg.Device.Width, cfg.Device.Height, cfg.Device.AnimationWidth, cfg.Device.AnimationHeight)
	fmt.Printf("  Sync Interval: %v\n", cfg.Sync.Interval.Std())
	fmt.Printf("  Modes: %v (start: %s)\n", cfg.Modes(), cfg.InitialMode())
	if cfg.IPC.Enabled {
		fmt.Printf("  IPC Server: %s:%d\n", cfg.IPC.Address, cfg.IPC.Port)
	}
	if cfg.Input.Enabled {
		fmt.Printf("  Hotkeys: %d\n", len(cfg.Input.Triggers))
	}
	if cfg.FrameLog.Path != "" {
		fmt.Printf("  Frame Log: %s\n", cfg.FrameLog.Path)
	}
	fmt.Println("==========================================")
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		logLevel   = flag.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
		device     = flag.String("device", "", "Override the configured device type (hidraw, serial, mock)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *device != "" {
		cfg.Device.Type = *device
	}
	if err := logging.Configure(&cfg.Logging); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	logger := logging.GetLogger("main")

	infrastructure, err := management.NewInfrastructureManager(cfg)
	if err != nil {
		log.Fatalf("Failed to create infrastructure: %v", err)
	}
	application, err := management.NewApplicationManager(infrastructure)
	if err != nil {
		infrastructure.Stop()
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	printSystemInfo(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

wait:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, resyncing")
				application.Coordinator().Submit(types.Resync("signal"))
				continue
			}
			logger.Info("Received shutdown signal", "signal", sig.String())
			break wait
		case <-application.Done():
			// shutdown requested over IPC
			break wait
		}
	}

	// an upload in progress is allowed to finish
	cancel()
	done := make(chan error, 1)
	go func() { done <- application.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Shutdown completed with errors", "error", err)
			os.Exit(1)
		}
		logger.Info("Shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Error("Shutdown timeout reached, forcing exit")
		os.Exit(1)
	case <-sigChan:
		logger.Warn("Second signal received, forcing exit")
		os.Exit(1)
	}
}
