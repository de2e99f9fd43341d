package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"screensync/internal/logging"
	"screensync/pkg/types"
)

// Error reports an invalid configuration value. It is only produced while
// loading and is fatal to startup.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// DefaultMaxPayloadBytes is the largest media upload the screen accepts;
// it refuses 1013808 bytes or more.
const DefaultMaxPayloadBytes = 1013807

// DefaultAnimationSize is the side of the square the screen plays
// animations at.
const DefaultAnimationSize = 111

// Default returns a configuration that runs against the mock screen with
// the local sensors enabled.
func Default() *Config {
	return &Config{
		Logging: *logging.DefaultConfig(),
		Device: DeviceConfig{
			Type:             "mock",
			BaudRate:         115200,
			Width:            110,
			Height:           110,
			AnimationWidth:   DefaultAnimationSize,
			AnimationHeight:  DefaultAnimationSize,
			OpTimeout:        Duration(2 * time.Second),
			SendAttempts:     3,
			MaxPayloadBytes:  DefaultMaxPayloadBytes,
			ApprovedVersions: nil,
		},
		Sync: SyncConfig{
			Interval:             Duration(30 * time.Second),
			ReconnectInitial:     Duration(time.Second),
			ReconnectMax:         Duration(60 * time.Second),
			MaxReconnectAttempts: 5,
			SlowRetryInterval:    Duration(2 * time.Minute),
			Modes:                []string{"dashboard", "image", "animation"},
			InitialMode:          "dashboard",
			PushTelemetry:        true,
		},
		Providers: ProvidersConfig{
			CPUTemp: ProviderConfig{
				Enabled:   true,
				Source:    "hwmon",
				Interval:  Duration(5 * time.Second),
				Timeout:   Duration(2 * time.Second),
				Freshness: Duration(60 * time.Second),
			},
			GPUTemp: ProviderConfig{
				Enabled:   true,
				Source:    "nvidia-smi",
				Interval:  Duration(5 * time.Second),
				Timeout:   Duration(3 * time.Second),
				Freshness: Duration(60 * time.Second),
			},
			Weather: ProviderConfig{
				Enabled:   true,
				Source:    "open-meteo",
				Interval:  Duration(15 * time.Minute),
				Timeout:   Duration(10 * time.Second),
				Freshness: Duration(time.Hour),
			},
			Location: ProviderConfig{
				Enabled:   true,
				Source:    "ip-api",
				Interval:  Duration(6 * time.Hour),
				Timeout:   Duration(10 * time.Second),
				Freshness: Duration(24 * time.Hour),
			},
			DownloadRate: ProviderConfig{
				Enabled:   true,
				Source:    "procnet",
				Interval:  Duration(2 * time.Second),
				Timeout:   Duration(time.Second),
				Freshness: Duration(10 * time.Second),
			},
		},
		Input: InputConfig{
			Enabled:  false,
			Debounce: Duration(250 * time.Millisecond),
		},
		IPC: types.IPCConfig{
			Enabled:    true,
			Address:    "127.0.0.1",
			Port:       7465,
			BufferSize: 64,
		},
	}
}

// Load reads a YAML file over the defaults, validates it and returns the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Sync.Modes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteDefault writes Default() to path, creating parent directories.
func WriteDefault(path string) (*Config, error) {
	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("write config file: %w", err)
	}
	return cfg, nil
}

// IsConfigError reports whether err came from validation.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

func (c *Config) normalize() error {
	d := &c.Device
	switch d.Type {
	case "hidraw":
		if d.Path == "" && (d.VendorID == 0 || d.ProductID == 0) {
			return invalid("device", "hidraw needs path or vendor_id and product_id")
		}
	case "serial":
		if d.SerialPort == "" {
			return invalid("device.serial_port", "required for serial devices")
		}
		if d.BaudRate <= 0 {
			d.BaudRate = 115200
		}
	case "mock":
	default:
		return invalid("device.type", "unsupported device type %q", d.Type)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return invalid("device", "width and height must be > 0, got %dx%d", d.Width, d.Height)
	}
	if d.Width > 0xffff || d.Height > 0xffff {
		return invalid("device", "resolution %dx%d out of range", d.Width, d.Height)
	}
	if d.AnimationWidth <= 0 || d.AnimationHeight <= 0 {
		d.AnimationWidth, d.AnimationHeight = DefaultAnimationSize, DefaultAnimationSize
	}
	if d.AnimationWidth > 0xffff || d.AnimationHeight > 0xffff {
		return invalid("device", "animation resolution %dx%d out of range", d.AnimationWidth, d.AnimationHeight)
	}
	if d.OpTimeout <= 0 {
		d.OpTimeout = Duration(2 * time.Second)
	}
	if d.SendAttempts <= 0 {
		d.SendAttempts = 3
	}
	if d.MaxPayloadBytes <= 0 {
		d.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if minSize := d.Width * d.Height * 2; d.MaxPayloadBytes < minSize {
		return invalid("device.max_payload_bytes", "must hold one frame (%d bytes)", minSize)
	}

	s := &c.Sync
	if s.Interval <= 0 {
		s.Interval = Duration(30 * time.Second)
	}
	if s.ReconnectInitial <= 0 {
		s.ReconnectInitial = Duration(time.Second)
	}
	if s.ReconnectMax < s.ReconnectInitial {
		s.ReconnectMax = s.ReconnectInitial
	}
	if s.MaxReconnectAttempts <= 0 {
		s.MaxReconnectAttempts = 5
	}
	if s.SlowRetryInterval <= 0 {
		s.SlowRetryInterval = Duration(2 * time.Minute)
	}
	if len(s.Modes) == 0 {
		s.Modes = []string{"dashboard", "image", "animation"}
	}
	for _, m := range s.Modes {
		if _, err := types.ParseMode(m); err != nil {
			return invalid("sync.modes", "%v", err)
		}
	}
	if s.InitialMode == "" {
		s.InitialMode = s.Modes[0]
	}
	if _, err := types.ParseMode(s.InitialMode); err != nil {
		return invalid("sync.initial_mode", "%v", err)
	}
	providers := map[string]*ProviderConfig{
		"providers.cpu_temp":      &c.Providers.CPUTemp,
		"providers.gpu_temp":      &c.Providers.GPUTemp,
		"providers.weather":       &c.Providers.Weather,
		"providers.location":      &c.Providers.Location,
		"providers.download_rate": &c.Providers.DownloadRate,
	}
	for name, p := range providers {
		if err := p.normalize(name); err != nil {
			return err
		}
	}

	if c.Input.Enabled {
		for key, action := range c.Input.Triggers {
			if !validAction(action) {
				return invalid("input.triggers", "key %s: unknown action %q", key, action)
			}
		}
		if len(c.Input.Triggers) == 0 {
			c.Input.Triggers = map[string]string{
				"KEY_F13": "resync",
				"KEY_F14": "mode_cycle",
			}
		}
	}
	if c.Input.Debounce < 0 {
		c.Input.Debounce = 0
	}

	if c.IPC.Enabled {
		if c.IPC.Port <= 0 || c.IPC.Port > 65535 {
			return invalid("ipc.port", "must be 1-65535, got %d", c.IPC.Port)
		}
		if c.IPC.Address == "" {
			c.IPC.Address = "127.0.0.1"
		}
	}
	if c.IPC.BufferSize <= 0 {
		c.IPC.BufferSize = 64
	}
	if c.IPC.Timeout <= 0 {
		c.IPC.Timeout = 5 * time.Second
	}
	return nil
}

func (p *ProviderConfig) normalize(name string) error {
	if !p.Enabled {
		return nil
	}
	if p.Source == "" {
		return invalid(name+".source", "required when enabled")
	}
	if p.Interval <= 0 {
		return invalid(name+".interval", "must be > 0")
	}
	if p.Timeout <= 0 || p.Timeout > p.Interval {
		p.Timeout = p.Interval
	}
	if p.Freshness <= 0 {
		p.Freshness = Duration(3 * p.Interval)
	}
	switch p.Source {
	case "modbus":
		if p.Modbus.Address == "" {
			return invalid(name+".modbus.address", "required")
		}
		if p.Modbus.Scale == 0 {
			p.Modbus.Scale = 1
		}
	case "mqtt":
		if p.MQTT.Broker == "" || p.MQTT.Topic == "" {
			return invalid(name+".mqtt", "broker and topic are required")
		}
	}
	return nil
}

func validAction(action string) bool {
	switch action {
	case "resync", "mode_cycle", "shutdown":
		return true
	}
	if rest, ok := strings.CutPrefix(action, "mode:"); ok {
		_, err := types.ParseMode(rest)
		return err == nil
	}
	return false
}
