// Package config loads the daemon's YAML configuration. The result is an
// immutable value consumed once when the system is assembled.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"screensync/internal/logging"
	"screensync/pkg/types"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config aggregates all daemon configuration.
type Config struct {
	Logging   logging.Config  `yaml:"logging"`
	Device    DeviceConfig    `yaml:"device"`
	Sync      SyncConfig      `yaml:"sync"`
	Providers ProvidersConfig `yaml:"providers"`
	Assets    AssetsConfig    `yaml:"assets"`
	Input     InputConfig     `yaml:"input"`
	IPC       types.IPCConfig `yaml:"ipc"`
	FrameLog  FrameLogConfig  `yaml:"framelog"`
}

// DeviceConfig selects and parameterises the device channel.
type DeviceConfig struct {
	Type             string   `yaml:"type"` // hidraw, serial, mock
	VendorID         uint16   `yaml:"vendor_id"`
	ProductID        uint16   `yaml:"product_id"`
	UsagePage        uint16   `yaml:"usage_page"`
	Usage            uint16   `yaml:"usage"`
	Path             string   `yaml:"path"` // explicit /dev/hidrawN, skips discovery
	SerialPort       string   `yaml:"serial_port"`
	BaudRate         int      `yaml:"baud_rate"`
	Width            int      `yaml:"width"`
	Height           int      `yaml:"height"`
	AnimationWidth   int      `yaml:"animation_width"`
	AnimationHeight  int      `yaml:"animation_height"`
	OpTimeout        Duration `yaml:"op_timeout"`
	SendAttempts     int      `yaml:"send_attempts"`
	MaxPayloadBytes  int      `yaml:"max_payload_bytes"`
	ApprovedVersions []int    `yaml:"approved_versions,omitempty"`
}

// SyncConfig drives the coordinator cadence and reconnect policy.
type SyncConfig struct {
	Interval             Duration `yaml:"interval"`
	ReconnectInitial     Duration `yaml:"reconnect_initial"`
	ReconnectMax         Duration `yaml:"reconnect_max"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
	SlowRetryInterval    Duration `yaml:"slow_retry_interval"`
	Modes                []string `yaml:"modes"`
	InitialMode          string   `yaml:"initial_mode"`
	PushTelemetry        bool     `yaml:"push_telemetry"` // also send native time/weather/sysinfo commands
}

type ProvidersConfig struct {
	CPUTemp      ProviderConfig `yaml:"cpu_temp"`
	GPUTemp      ProviderConfig `yaml:"gpu_temp"`
	Weather      ProviderConfig `yaml:"weather"`
	Location     ProviderConfig `yaml:"location"`
	DownloadRate ProviderConfig `yaml:"download_rate"`
}

// ProviderConfig configures one data source. Only the options relevant to
// Source are read.
type ProviderConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Source    string   `yaml:"source"`
	Interval  Duration `yaml:"interval"`
	Timeout   Duration `yaml:"timeout"`
	Freshness Duration `yaml:"freshness"`

	Sensor    string  `yaml:"sensor,omitempty"`    // hwmon chip name
	Command   string  `yaml:"command,omitempty"`   // nvidia-smi binary
	URL       string  `yaml:"url,omitempty"`       // HTTP endpoint override
	Latitude  float64 `yaml:"latitude,omitempty"`  // weather fallback location
	Longitude float64 `yaml:"longitude,omitempty"` // weather fallback location
	Interface string  `yaml:"interface,omitempty"` // procnet interface, empty sums all
	Value     float64 `yaml:"value,omitempty"`     // static source

	Modbus ModbusSourceConfig `yaml:"modbus,omitempty"`
	MQTT   MQTTSourceConfig   `yaml:"mqtt,omitempty"`
}

type ModbusSourceConfig struct {
	Type          string  `yaml:"type"` // tcp, rtu
	Address       string  `yaml:"address"`
	Port          int     `yaml:"port"`
	BaudRate      int     `yaml:"baud_rate"`
	SlaveID       byte    `yaml:"slave_id"`
	Register      uint16  `yaml:"register"`
	InputRegister bool    `yaml:"input_register"`
	Scale         float64 `yaml:"scale"`
}

type MQTTSourceConfig struct {
	Broker    string `yaml:"broker"`
	Topic     string `yaml:"topic"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	JSONField string `yaml:"json_field"` // payload is JSON, read this key
}

type AssetsConfig struct {
	Image     string `yaml:"image"`
	Animation string `yaml:"animation"`
}

// InputConfig maps key names (KEY_F13, code:183) to actions
// (resync, mode_cycle, mode:<name>).
type InputConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Device   string            `yaml:"device"`
	Triggers map[string]string `yaml:"triggers"`
	Debounce Duration          `yaml:"debounce"`
}

type FrameLogConfig struct {
	Path string `yaml:"path"`
}

// Modes returns the configured mode cycle.
func (c *Config) Modes() []types.Mode {
	modes := make([]types.Mode, 0, len(c.Sync.Modes))
	for _, s := range c.Sync.Modes {
		if m, err := types.ParseMode(s); err == nil {
			modes = append(modes, m)
		}
	}
	return modes
}

// InitialMode returns the mode the first render uses.
func (c *Config) InitialMode() types.Mode {
	m, err := types.ParseMode(c.Sync.InitialMode)
	if err != nil {
		return types.ModeDashboard
	}
	return m
}
