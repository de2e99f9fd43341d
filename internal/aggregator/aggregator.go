// Package aggregator merges provider readings into immutable snapshots. A
// single goroutine owns the merged state; readers get lock-free copies.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"screensync/internal/logging"
	"screensync/internal/provider"
)

// Update carries one poll outcome for a field.
type Update struct {
	Field Field
	Value any
	At    time.Time
	Err   error
}

// From converts a provider reading into an Update.
func From[T any](field Field, r provider.Reading[T]) Update {
	u := Update{Field: field, At: r.At, Err: r.Err}
	if r.Err == nil {
		u.Value = r.Value
	}
	return u
}

// Sink returns a provider sink feeding field.
func Sink[T any](a *Aggregator, field Field) func(provider.Reading[T]) {
	return func(r provider.Reading[T]) {
		a.Update(From(field, r))
	}
}

// entry is the owner's record of one field. Staleness is not stored; it is
// evaluated when a snapshot is read.
type entry struct {
	value     any
	at        time.Time
	observed  bool
	failing   bool
	disabled  bool
	lastError string
}

// base is what the owner publishes after every update.
type base struct {
	entries map[Field]entry
	version uint64
}

// Aggregator owns the latest value of every field.
type Aggregator struct {
	freshness map[Field]time.Duration
	now       func() time.Time

	updates chan Update
	done    chan struct{}
	stopped sync.Once

	current atomic.Pointer[base]
	logger  *logging.Logger
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now for staleness evaluation.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithBuffer sets the update channel capacity.
func WithBuffer(n int) Option {
	return func(a *Aggregator) { a.updates = make(chan Update, n) }
}

// DefaultFreshness applies to fields without an explicit threshold.
const DefaultFreshness = 5 * time.Minute

// New creates an aggregator with per-field freshness thresholds.
func New(freshness map[Field]time.Duration, opts ...Option) *Aggregator {
	a := &Aggregator{
		freshness: make(map[Field]time.Duration, len(freshness)),
		now:       time.Now,
		updates:   make(chan Update, 64),
		done:      make(chan struct{}),
		logger:    logging.GetLogger("aggregator"),
	}
	for f, d := range freshness {
		a.freshness[f] = d
	}
	for _, opt := range opts {
		opt(a)
	}
	a.current.Store(&base{entries: map[Field]entry{}})
	return a
}

// Run applies updates until ctx is cancelled. It is the only writer.
func (a *Aggregator) Run(ctx context.Context) {
	defer a.stopped.Do(func() { close(a.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-a.updates:
			a.apply(u)
		}
	}
}

// Update queues u for the owner goroutine. It returns false once the
// aggregator has stopped. Providers of different fields never wait on each
// other beyond the channel hand-off.
func (a *Aggregator) Update(u Update) bool {
	select {
	case <-a.done:
		return false
	default:
	}
	select {
	case a.updates <- u:
		return true
	case <-a.done:
		return false
	}
}

func (a *Aggregator) apply(u Update) {
	prev := a.current.Load()
	next := &base{
		entries: make(map[Field]entry, len(prev.entries)+1),
		version: prev.version + 1,
	}
	for f, e := range prev.entries {
		next.entries[f] = e
	}

	e := next.entries[u.Field]
	switch {
	case u.Err == nil:
		e.value = u.Value
		e.at = u.At
		e.observed = true
		e.failing = false
		e.disabled = false
		e.lastError = ""
	case provider.IsPermanent(u.Err):
		e.disabled = true
		e.lastError = u.Err.Error()
	default:
		// keep the last good value
		e.failing = true
		e.lastError = u.Err.Error()
	}
	next.entries[u.Field] = e
	a.current.Store(next)
}

// Version increases with every applied update.
func (a *Aggregator) Version() uint64 {
	return a.current.Load().version
}

// Current returns the merged snapshot with staleness evaluated now. It never
// blocks.
func (a *Aggregator) Current() Snapshot {
	b := a.current.Load()
	now := a.now()
	return Snapshot{
		At:           now,
		CPUTemp:      readingOf[float64](a, b, FieldCPUTemp, now),
		GPUTemp:      readingOf[float64](a, b, FieldGPUTemp, now),
		Weather:      readingOf[provider.Weather](a, b, FieldWeather, now),
		Location:     readingOf[provider.Location](a, b, FieldLocation, now),
		DownloadRate: readingOf[float64](a, b, FieldDownloadRate, now),
	}
}

// Location returns the current location if it is usable. It serves as the
// weather provider's locator.
func (a *Aggregator) Location() (provider.Location, bool) {
	r := readingOf[provider.Location](a, a.current.Load(), FieldLocation, a.now())
	return r.Value, r.Usable()
}

func (a *Aggregator) threshold(f Field) time.Duration {
	if d, ok := a.freshness[f]; ok && d > 0 {
		return d
	}
	return DefaultFreshness
}

func readingOf[T any](a *Aggregator, b *base, f Field, now time.Time) Reading[T] {
	e, ok := b.entries[f]
	if !ok {
		return Reading[T]{State: Missing}
	}
	r := Reading[T]{At: e.at, LastError: e.lastError}
	if e.observed {
		v, ok := e.value.(T)
		if !ok {
			a.logger.Error("Dropping mistyped value", "field", f, "type", fmt.Sprintf("%T", e.value))
			r.At = time.Time{}
			r.State = Missing
			return r
		}
		r.Value = v
	}

	switch {
	case e.disabled:
		r.State = Disabled
	case !e.observed:
		r.State = Missing
	case now.Sub(e.at) > a.threshold(f):
		r.State = Stale
	case e.failing:
		r.State = Aging
	default:
		r.State = Fresh
	}
	return r
}
