package aggregator

import (
	"time"

	"screensync/internal/provider"
)

// Field names one snapshot entry.
type Field string

const (
	FieldCPUTemp      Field = "cpu_temp"
	FieldGPUTemp      Field = "gpu_temp"
	FieldWeather      Field = "weather"
	FieldLocation     Field = "location"
	FieldDownloadRate Field = "download_rate"
)

// Fields lists every snapshot field.
var Fields = []Field{FieldCPUTemp, FieldGPUTemp, FieldWeather, FieldLocation, FieldDownloadRate}

// FieldState describes how trustworthy a field's value is.
type FieldState int

const (
	// Missing: never observed.
	Missing FieldState = iota
	// Fresh: last poll succeeded within the freshness threshold.
	Fresh
	// Aging: last poll failed transiently; the prior value is still within
	// the threshold.
	Aging
	// Stale: the newest value is older than the threshold.
	Stale
	// Disabled: the source failed permanently.
	Disabled
)

func (s FieldState) String() string {
	switch s {
	case Missing:
		return "missing"
	case Fresh:
		return "fresh"
	case Aging:
		return "aging"
	case Stale:
		return "stale"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Reading is one field as seen in a Snapshot.
type Reading[T any] struct {
	Value T
	// At is when Value was observed. Zero when Missing.
	At    time.Time
	State FieldState
	// LastError is the most recent poll failure, if any.
	LastError string
}

// Usable reports whether the value may be displayed as a live number.
func (r Reading[T]) Usable() bool {
	return r.State == Fresh || r.State == Aging
}

// Age returns how old the value was when the snapshot was taken.
func (r Reading[T]) Age(now time.Time) time.Duration {
	if r.At.IsZero() {
		return 0
	}
	return now.Sub(r.At)
}

// Snapshot is an immutable, merged view of every field. It is a plain value;
// copies share nothing mutable.
type Snapshot struct {
	// At is when the snapshot was taken and staleness evaluated.
	At           time.Time
	CPUTemp      Reading[float64]
	GPUTemp      Reading[float64]
	Weather      Reading[provider.Weather]
	Location     Reading[provider.Location]
	DownloadRate Reading[float64]
}

// States returns the state of every field, keyed by field name.
func (s Snapshot) States() map[Field]FieldState {
	return map[Field]FieldState{
		FieldCPUTemp:      s.CPUTemp.State,
		FieldGPUTemp:      s.GPUTemp.State,
		FieldWeather:      s.Weather.State,
		FieldLocation:     s.Location.State,
		FieldDownloadRate: s.DownloadRate.State,
	}
}
