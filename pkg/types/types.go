// Package types defines the vocabulary shared by the sync daemon and its
// control client: display modes, control signals, coordinator states,
// diagnostic events and the IPC envelope.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects what the next rendering pass draws.
type Mode string

const (
	ModeDashboard Mode = "dashboard"
	ModeImage     Mode = "image"
	ModeAnimation Mode = "animation"
)

// AllModes lists the modes in their default cycling order.
var AllModes = []Mode{ModeDashboard, ModeImage, ModeAnimation}

// ParseMode converts a user-supplied name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDashboard:
		return ModeDashboard, nil
	case ModeImage:
		return ModeImage, nil
	case ModeAnimation:
		return ModeAnimation, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

type SignalKind int

const (
	SignalResync SignalKind = iota
	SignalModeCycle
	SignalShutdown
)

func (k SignalKind) String() string {
	switch k {
	case SignalResync:
		return "resync"
	case SignalModeCycle:
		return "mode_cycle"
	case SignalShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ControlSignal asks the coordinator to act outside its normal cadence.
// For SignalModeCycle an empty Target means "advance to the next mode".
type ControlSignal struct {
	Kind   SignalKind
	Target Mode
	Source string
}

func Resync(source string) ControlSignal {
	return ControlSignal{Kind: SignalResync, Source: source}
}

func ModeCycle(target Mode, source string) ControlSignal {
	return ControlSignal{Kind: SignalModeCycle, Target: target, Source: source}
}

func Shutdown(source string) ControlSignal {
	return ControlSignal{Kind: SignalShutdown, Source: source}
}

func (s ControlSignal) String() string {
	if s.Kind == SignalModeCycle && s.Target != "" {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Target)
	}
	return s.Kind.String()
}

// SyncState is the coordinator's state machine position.
type SyncState int

const (
	StateIdle SyncState = iota
	StateConnecting
	StateRendering
	StateTransmitting
	StateDisconnected
	StateShuttingDown
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRendering:
		return "rendering"
	case StateTransmitting:
		return "transmitting"
	case StateDisconnected:
		return "disconnected"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

type IPCMessage struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	ID        string                 `json:"id"`
}

// IPC message types understood by the daemon.
const (
	MsgResync         = "resync"
	MsgMode           = "mode"
	MsgShutdown       = "shutdown"
	MsgScreen         = "screen"
	MsgStatus         = "status"
	MsgStatusResponse = "status_response"
	MsgEvent          = "event"
	MsgError          = "error_response"
)

type IPCConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Address    string        `yaml:"address"`
	Port       int           `yaml:"port"`
	Timeout    time.Duration `yaml:"-"`
	BufferSize int           `yaml:"buffer_size"`
}

// ResponseType names the reply to a request of type t.
func ResponseType(t string) string {
	return t + "_response"
}
