package core

import (
	"sync"
	"sync/atomic"

	"screensync/internal/logging"
	"screensync/pkg/types"
)

// Hub fans diagnostic events out to subscribers. A subscriber that falls
// behind loses events rather than stalling the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan types.Event
	nextID  int
	dropped atomic.Uint64
	logger  *logging.Logger
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[int]chan types.Event),
		logger: logging.GetLogger("events"),
	}
}

// Subscribe returns a channel of future events and a function that ends
// the subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan types.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan types.Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish logs ev and delivers it to every subscriber.
func (h *Hub) Publish(ev types.Event) {
	attrs := []any{"type", ev.Type, "source", ev.Source}
	if ev.State != "" {
		attrs = append(attrs, "state", ev.State)
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, k, v)
	}
	switch ev.Type {
	case types.EventDeviceFailure, types.EventProviderFailed, types.EventNotice:
		h.logger.Warn(ev.Message, attrs...)
	case types.EventStateChanged:
		h.logger.Debug(ev.Message, attrs...)
	default:
		h.logger.Info(ev.Message, attrs...)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events lost to full subscriber buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
