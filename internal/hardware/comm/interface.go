// Package comm defines the device channel abstraction: a Channel opens
// exclusive Handles to the screen, and every failure is a classified
// DeviceError.
package comm

import (
	"context"
	"time"

	"screensync/internal/encode"
)

// ConnectionStatus is the state of a channel or client connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ConnectionConfig is shared by protocol clients.
type ConnectionConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RetryCount    int           `yaml:"retry_count"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// Channel is the path to one physical screen. Open may be called again
// after the previous handle was closed.
type Channel interface {
	Open(ctx context.Context) (Handle, error)
	Status() ConnectionStatus
	Name() string
}

// Handle is exclusive ownership of an open screen. It is not safe for
// concurrent use; exactly one owner drives it.
type Handle interface {
	SendFrame(ctx context.Context, p encode.Payload) error
	SendCommand(ctx context.Context, cmd Command) error
	Info() DeviceInfo
	Close() error
}

// DeviceInfo describes an opened screen.
type DeviceInfo struct {
	Path      string `json:"path"`
	Transport string `json:"transport"`
	VendorID  uint16 `json:"vendor_id,omitempty"`
	ProductID uint16 `json:"product_id,omitempty"`
	Firmware  int    `json:"firmware"`
}

// EventHandler observes connection changes of a BaseCommunication.
type EventHandler interface {
	OnConnected()
	OnDisconnected()
	OnError(err error)
}

// ErrorHandler customizes RetryWithTimeout.
type ErrorHandler interface {
	ShouldRetry(err error) bool
	GetRetryDelay(err error) time.Duration
}
