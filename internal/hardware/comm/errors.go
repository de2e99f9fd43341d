package comm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// ErrorKind classifies device failures.
type ErrorKind int

const (
	Timeout ErrorKind = iota
	Disconnected
	Rejected
	NotFound
)

func (k ErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Disconnected:
		return "disconnected"
	case Rejected:
		return "rejected"
	case NotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// DeviceError is the only error type returned by channels and handles.
type DeviceError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("device %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewError builds a DeviceError.
func NewError(kind ErrorKind, op string, err error) *DeviceError {
	return &DeviceError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a device error and whether err is one.
func KindOf(err error) (ErrorKind, bool) {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a DeviceError of kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsRetryable reports whether repeating the operation on the same handle
// may succeed. Timeouts and rejections are; a vanished device is not.
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k == Timeout || k == Rejected
}

// Classify converts a transport error from op into a DeviceError.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return NewError(Timeout, op, err)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENOENT):
		return NewError(NotFound, op, err)
	default:
		// any other I/O failure on an open device means it went away
		return NewError(Disconnected, op, err)
	}
}
