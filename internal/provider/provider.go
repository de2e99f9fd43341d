// Package provider wraps external telemetry sources (sensors, weather and
// geolocation services) behind a uniform polling interface and runs each of
// them on its own schedule.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider is one external data source.
type Provider[T any] interface {
	Name() string
	Poll(ctx context.Context) (T, error)
}

// Reading is the outcome of one poll: a value stamped with the time it was
// observed, or a classified *Error.
type Reading[T any] struct {
	Value T
	At    time.Time
	Err   error
}

func (r Reading[T]) OK() bool {
	return r.Err == nil
}

// Kind classifies provider failures.
type Kind int

const (
	// Transient failures are retried with backoff; the last good value is
	// kept.
	Transient Kind = iota
	// Permanent failures are reported once and the source is not polled
	// again until restart.
	Permanent
)

func (k Kind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient marks err as worth retrying.
func NewTransient(err error) error {
	return &Error{Kind: Transient, Err: err}
}

// NewPermanent marks err as a misconfiguration that retrying cannot fix.
func NewPermanent(err error) error {
	return &Error{Kind: Permanent, Err: err}
}

// Classify returns err as an *Error attributed to name. Unclassified
// errors, including deadline expiry, are transient.
func Classify(name string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		out := *pe
		if out.Provider == "" {
			out.Provider = name
		}
		return &out
	}
	return &Error{Provider: name, Kind: Transient, Err: err}
}

// IsPermanent reports whether err is a permanent provider failure.
func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == Permanent
}
