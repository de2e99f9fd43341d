package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/common"
	"github.com/shirou/gopsutil/v4/sensors"
)

// DefaultSysRoot is the sysfs mount the hwmon chips live under.
const DefaultSysRoot = "/sys"

// CPU sensor chips looked for when no sensor name is configured, in order.
var defaultCPUSensors = []string{"k10temp", "coretemp", "zenpower", "cpu_thermal", "acpitz"}

// Labels that mark a chip's package or die temperature.
var packageLabels = []string{"tctl", "tdie", "package"}

// HwmonTemp reads a temperature from a hwmon chip. Values are in °C.
type HwmonTemp struct {
	Root    string
	Sensors []string
}

// NewHwmonTemp reads the chip named sensor, or the first known CPU chip if
// sensor is empty.
func NewHwmonTemp(sensor string) *HwmonTemp {
	h := &HwmonTemp{Root: DefaultSysRoot, Sensors: defaultCPUSensors}
	if sensor != "" {
		h.Sensors = []string{sensor}
	}
	return h
}

func (h *HwmonTemp) Name() string {
	return "hwmon"
}

func (h *HwmonTemp) Poll(ctx context.Context) (float64, error) {
	if h.Root != "" {
		ctx = context.WithValue(ctx, common.EnvKey, common.EnvMap{common.HostSysEnvKey: h.Root})
	}
	stats, err := sensors.TemperaturesWithContext(ctx)
	if err != nil {
		// unreadable inputs are reported alongside the ones that worked
		var warns *sensors.Warnings
		if !errors.As(err, &warns) || len(stats) == 0 {
			return 0, NewPermanent(fmt.Errorf("read sensors under %s: %w", h.Root, err))
		}
	}
	if len(stats) == 0 {
		return 0, NewPermanent(fmt.Errorf("no temperature sensors under %s", h.Root))
	}

	for _, sensor := range h.Sensors {
		if v, ok := chipTemp(stats, sensor); ok {
			return v, nil
		}
	}
	return 0, NewPermanent(fmt.Errorf("none of %v found under %s", h.Sensors, h.Root))
}

// chipTemp picks the chip's input labelled as the package or die
// temperature and falls back to its first input.
func chipTemp(stats []sensors.TemperatureStat, chip string) (float64, bool) {
	var first *sensors.TemperatureStat
	for i := range stats {
		key := stats[i].SensorKey
		label, ok := strings.CutPrefix(key, chip)
		if !ok || label != "" && label[0] != '_' {
			continue
		}
		label = strings.TrimPrefix(label, "_")
		for _, p := range packageLabels {
			if strings.HasPrefix(label, p) {
				return stats[i].Temperature, true
			}
		}
		if first == nil {
			first = &stats[i]
		}
	}
	if first == nil {
		return 0, false
	}
	return first.Temperature, true
}
