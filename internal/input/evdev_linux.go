//go:build linux

package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"screensync/internal/logging"
)

// DefaultKeyboardGlob matches the stable names udev gives keyboards.
const DefaultKeyboardGlob = "/dev/input/by-id/*-event-kbd"

const (
	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

// device is the part of an evdev.InputDevice the reader needs.
type device interface {
	ReadOne() (*evdev.InputEvent, error)
	Close() error
}

func openDevice(path string) (device, error) {
	d, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Evdev reads key events from /dev/input/event* nodes.
type Evdev struct {
	// Paths are opened as given. When empty, Glob is expanded on every
	// Subscribe so replugged keyboards are picked up.
	Paths []string
	Glob  string

	open   func(path string) (device, error)
	logger *logging.Logger
}

// NewEvdev reads from path, or from every keyboard when path is empty.
func NewEvdev(path string) *Evdev {
	e := &Evdev{Glob: DefaultKeyboardGlob, open: openDevice, logger: logging.GetLogger("input")}
	if path != "" {
		e.Paths = []string{path}
	}
	return e
}

func (e *Evdev) Subscribe(ctx context.Context) (<-chan KeyEvent, error) {
	if e.logger == nil {
		e.logger = logging.GetLogger("input")
	}
	if e.open == nil {
		e.open = openDevice
	}
	paths := e.Paths
	if len(paths) == 0 {
		paths, _ = filepath.Glob(e.Glob)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no keyboard matches %s", ErrUnavailable, e.Glob)
	}

	devices := make(map[string]device, len(paths))
	for _, p := range paths {
		d, err := e.open(p)
		if err != nil {
			e.logger.Warn("Cannot open input device", "path", p, "error", err)
			continue
		}
		devices[p] = d
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no input device could be opened", ErrUnavailable)
	}

	out := make(chan KeyEvent)
	var wg sync.WaitGroup
	for p, d := range devices {
		p, d := p, d
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.read(ctx, p, d, out)
		}()
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		// closing unblocks pending reads
		for _, d := range devices {
			d.Close()
		}
	}()
	go func() {
		wg.Wait()
		close(done)
		close(out)
	}()
	return out, nil
}

func (e *Evdev) read(ctx context.Context, path string, d device, out chan<- KeyEvent) {
	for {
		raw, err := d.ReadOne()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				e.logger.Warn("Input device read failed", "path", path, "error", err)
			}
			return
		}
		ev, ok := keyEvent(raw)
		if !ok {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// keyEvent converts a raw event. ok is false for anything other than a key
// press or release; autorepeat is dropped.
func keyEvent(raw *evdev.InputEvent) (KeyEvent, bool) {
	if raw == nil || raw.Type != evdev.EV_KEY || raw.Value == keyRepeat {
		return KeyEvent{}, false
	}
	sec, nsec := raw.Time.Unix()
	return KeyEvent{
		Code:    uint16(raw.Code),
		Pressed: raw.Value == keyPress,
		Time:    time.Unix(sec, nsec),
	}, true
}
