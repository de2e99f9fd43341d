// Package input turns hotkey presses into control signals for the sync
// coordinator.
package input

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"screensync/internal/logging"
	"screensync/pkg/types"
)

var ErrUnavailable = errors.New("input source unavailable")

// Source delivers key events until ctx ends or the device goes away, then
// closes the channel.
type Source interface {
	Subscribe(ctx context.Context) (<-chan KeyEvent, error)
}

// ParseAction converts a trigger action into the signal it raises.
func ParseAction(action string) (types.ControlSignal, error) {
	const source = "input"
	switch action {
	case "resync":
		return types.Resync(source), nil
	case "mode_cycle":
		return types.ModeCycle("", source), nil
	case "shutdown":
		return types.Shutdown(source), nil
	}
	if name, ok := strings.CutPrefix(action, "mode:"); ok {
		mode, err := types.ParseMode(name)
		if err != nil {
			return types.ControlSignal{}, err
		}
		return types.ModeCycle(mode, source), nil
	}
	return types.ControlSignal{}, fmt.Errorf("unknown action %q", action)
}

// Listener maps key presses to control signals.
type Listener struct {
	source   Source
	triggers map[uint16]types.ControlSignal
	debounce time.Duration
	logger   *logging.Logger
}

// NewListener builds a listener from a key name -> action map.
func NewListener(source Source, triggers map[string]string, debounce time.Duration) (*Listener, error) {
	l := &Listener{
		source:   source,
		triggers: make(map[uint16]types.ControlSignal, len(triggers)),
		debounce: debounce,
		logger:   logging.GetLogger("input"),
	}
	for key, action := range triggers {
		code, err := ParseKey(key)
		if err != nil {
			return nil, err
		}
		sig, err := ParseAction(action)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", key, err)
		}
		l.triggers[code] = sig
	}
	return l, nil
}

// Keys lists the bound key names.
func (l *Listener) Keys() []string {
	keys := make([]string, 0, len(l.triggers))
	for code := range l.triggers {
		keys = append(keys, KeyName(code))
	}
	sort.Strings(keys)
	return keys
}

// Signals subscribes to the source and returns the resulting signals. The
// source is opened by this call, and every call opens a new subscription.
// Signals are queued without bound so a slow reader never stalls the
// device. The channel is closed when ctx ends or the source fails.
func (l *Listener) Signals(ctx context.Context) <-chan types.ControlSignal {
	out := make(chan types.ControlSignal)
	go l.run(ctx, out)
	return out
}

func (l *Listener) run(ctx context.Context, out chan<- types.ControlSignal) {
	defer close(out)

	events, err := l.source.Subscribe(ctx)
	if err != nil {
		l.logger.Warn("Input source unavailable", "error", err)
		return
	}
	l.logger.Info("Listening for hotkeys", "keys", l.Keys())

	var queue []types.ControlSignal
	last := make(map[uint16]time.Time)
	for events != nil || len(queue) > 0 {
		var send chan<- types.ControlSignal
		var next types.ControlSignal
		if len(queue) > 0 {
			send, next = out, queue[0]
		}

		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				l.logger.Info("Input source closed")
				events = nil
				continue
			}
			if sig, ok := l.match(ev, last); ok {
				queue = append(queue, sig)
			}
		case send <- next:
			queue = queue[1:]
		}
	}
}

// match applies the trigger map and per-key debounce to one event.
func (l *Listener) match(ev KeyEvent, last map[uint16]time.Time) (types.ControlSignal, bool) {
	if !ev.Pressed {
		return types.ControlSignal{}, false
	}
	sig, ok := l.triggers[ev.Code]
	if !ok {
		return types.ControlSignal{}, false
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	if prev, seen := last[ev.Code]; seen && at.Sub(prev) < l.debounce {
		l.logger.Debug("Debounced key", "key", KeyName(ev.Code))
		return types.ControlSignal{}, false
	}
	last[ev.Code] = at
	l.logger.Debug("Hotkey pressed", "key", KeyName(ev.Code), "signal", sig.String())
	return sig, true
}
