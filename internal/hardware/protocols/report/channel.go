package report

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"screensync/internal/hardware/comm"
)

// Opener finds and opens the transport for one screen.
type Opener func(ctx context.Context) (Port, comm.DeviceInfo, error)

var (
	ErrBusy            = errors.New("device already open")
	ErrUnknownFirmware = errors.New("unknown firmware version")
)

// Channel opens report clients through an Opener. At most one handle is
// open at a time.
type Channel struct {
	*comm.BaseCommunication
	name     string
	open     Opener
	opts     Options
	approved []int

	mu      sync.Mutex
	current *Client
}

// NewChannel creates a channel. An empty approved list accepts any
// firmware version.
func NewChannel(name string, open Opener, opts Options, approved []int) *Channel {
	return &Channel{
		BaseCommunication: comm.NewBaseCommunication(comm.ConnectionConfig{Timeout: opts.ExchangeTimeout}, "channel"),
		name:              name,
		open:              open,
		opts:              opts,
		approved:          approved,
	}
}

func (ch *Channel) Name() string {
	return ch.name
}

// Open finds the device, checks its firmware version and returns an
// exclusive handle.
func (ch *Channel) Open(ctx context.Context) (comm.Handle, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.current != nil {
		return nil, comm.NewError(comm.Rejected, "open", ErrBusy)
	}

	ch.SetStatus(comm.StatusConnecting)
	port, info, err := ch.open(ctx)
	if err != nil {
		ch.SetStatus(comm.StatusError)
		return nil, ch.HandleWithError(comm.Classify("open", err))
	}

	client := NewClient(port, info, ch.opts)
	version, err := client.Version(ctx)
	if err != nil {
		client.Close()
		ch.SetStatus(comm.StatusError)
		return nil, ch.HandleWithError(err)
	}
	if len(ch.approved) > 0 && !slices.Contains(ch.approved, version) {
		client.Close()
		ch.SetStatus(comm.StatusError)
		return nil, ch.HandleWithError(comm.NewError(comm.Rejected, "open", fmt.Errorf("%w %d", ErrUnknownFirmware, version)))
	}

	client.info.Firmware = version
	client.onClose = func() {
		ch.mu.Lock()
		if ch.current == client {
			ch.current = nil
		}
		ch.mu.Unlock()
		ch.MarkDisconnected()
	}
	ch.current = client
	ch.MarkConnected()
	ch.Logger().Info("Screen opened", "channel", ch.name, "path", info.Path, "firmware", version)
	return client, nil
}
