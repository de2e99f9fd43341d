package core

import (
	"sync"

	"screensync/internal/hardware/comm"
	"screensync/pkg/types"
)

// maxQueuedCommands bounds the screen commands waiting for the loop.
const maxQueuedCommands = 16

// ModeRequest is a pending mode change. A non-empty Target names the mode;
// otherwise the coordinator advances Steps positions from the current mode.
type ModeRequest struct {
	Target types.Mode
	Steps  int
}

// Pending is everything queued since the last Take.
type Pending struct {
	Resync   bool
	Mode     *ModeRequest
	Commands []comm.Command
	Shutdown bool
}

func (p Pending) Empty() bool {
	return !p.Resync && p.Mode == nil && len(p.Commands) == 0 && !p.Shutdown
}

// Mailbox collects control signals for the coordinator. Signals coalesce:
// any number of resyncs queue one resync, the last mode request wins and
// shutdown is a flag. Screen commands are the exception: they keep their
// order, up to a small limit. Put never blocks.
type Mailbox struct {
	mu        sync.Mutex
	pending   Pending
	coalesced uint64
	ready     chan struct{}
}

func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Put queues sig.
func (m *Mailbox) Put(sig types.ControlSignal) {
	m.mu.Lock()
	switch sig.Kind {
	case types.SignalResync:
		if m.pending.Resync {
			m.coalesced++
		}
		m.pending.Resync = true
	case types.SignalModeCycle:
		prev := m.pending.Mode
		if prev != nil {
			m.coalesced++
		}
		switch {
		case sig.Target != "":
			m.pending.Mode = &ModeRequest{Target: sig.Target}
		case prev != nil:
			// "next" counts from the most recent request
			m.pending.Mode = &ModeRequest{Target: prev.Target, Steps: prev.Steps + 1}
		default:
			m.pending.Mode = &ModeRequest{Steps: 1}
		}
	case types.SignalShutdown:
		m.pending.Shutdown = true
	}
	m.mu.Unlock()
	m.wake()
}

// PutCommand queues a raw screen command. It reports false when the queue
// is full and cmd was dropped.
func (m *Mailbox) PutCommand(cmd comm.Command) bool {
	m.mu.Lock()
	if len(m.pending.Commands) >= maxQueuedCommands {
		m.mu.Unlock()
		return false
	}
	m.pending.Commands = append(m.pending.Commands, cmd)
	m.mu.Unlock()
	m.wake()
	return true
}

func (m *Mailbox) wake() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Ready fires after Put. It may fire once for several signals, and a
// Take may find nothing left.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// Take returns and clears the queued signals.
func (m *Mailbox) Take() Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending
	m.pending = Pending{}
	return p
}

// ShutdownRequested reports a queued shutdown without taking it.
func (m *Mailbox) ShutdownRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Shutdown
}

// Coalesced counts signals that were merged into an already queued one.
func (m *Mailbox) Coalesced() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coalesced
}

// Resolve applies a mode request to the configured cycle.
func (r ModeRequest) Resolve(current types.Mode, modes []types.Mode) types.Mode {
	if len(modes) == 0 {
		return current
	}
	base := current
	if r.Target != "" {
		base = r.Target
	}
	if r.Steps == 0 {
		return base
	}
	idx := -1
	for i, m := range modes {
		if m == base {
			idx = i
			break
		}
	}
	if idx < 0 {
		// a mode outside the cycle advances from the start
		return modes[(r.Steps-1)%len(modes)]
	}
	return modes[(idx+r.Steps)%len(modes)]
}
