//go:build !linux

package input

import "context"

// Evdev is only implemented on Linux.
type Evdev struct {
	Paths []string
	Glob  string
}

func NewEvdev(path string) *Evdev {
	return &Evdev{}
}

func (e *Evdev) Subscribe(ctx context.Context) (<-chan KeyEvent, error) {
	return nil, ErrUnavailable
}
