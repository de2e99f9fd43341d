package core

import (
	"time"

	"screensync/internal/aggregator"
	"screensync/internal/hardware/comm"
	"screensync/internal/provider"
)

// TelemetryCommands derives the screen's native widget updates from a
// snapshot. Weather is skipped unless usable; system info is skipped when
// none of its values are usable, and unusable values in it are sent as 0.
func TelemetryCommands(s aggregator.Snapshot, now time.Time) []comm.Command {
	cmds := []comm.Command{comm.SetTime(now)}

	if w := s.Weather; w.Usable() {
		v := w.Value
		cmds = append(cmds, comm.SetWeather(IconFor(v.Condition, now), v.TempC, v.LowC, v.HighC))
	}

	cpu, gpu, rate := s.CPUTemp, s.GPUTemp, s.DownloadRate
	if cpu.Usable() || gpu.Usable() || rate.Usable() {
		cmds = append(cmds, comm.SetSystemInfo(usable(cpu), usable(gpu), usable(rate)))
	}
	return cmds
}

func usable(r aggregator.Reading[float64]) float64 {
	if r.Usable() {
		return r.Value
	}
	return 0
}

// IconFor picks the screen's weather glyph. Clear and partly cloudy skies
// have night variants between 18:00 and 06:00.
func IconFor(c provider.Condition, now time.Time) comm.Icon {
	night := now.Hour() < 6 || now.Hour() >= 18
	switch c {
	case provider.ConditionClear:
		if night {
			return comm.IconNightClear
		}
		return comm.IconDayClear
	case provider.ConditionPartlyCloudy:
		if night {
			return comm.IconNightPartlyCloudy
		}
		return comm.IconDayPartlyCloudy
	case provider.ConditionDrizzle:
		return comm.IconDayPartlyRainy
	case provider.ConditionRain:
		return comm.IconRainy
	case provider.ConditionSnow:
		return comm.IconSnowfall
	case provider.ConditionThunderstorm:
		return comm.IconThunderstorm
	default:
		return comm.IconCloudy
	}
}
