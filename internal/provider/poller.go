package provider

import (
	"context"
	"sync"
	"time"

	"screensync/internal/logging"
	"screensync/internal/retry"
)

// JobConfig controls the schedule of one provider.
type JobConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// Backoff for transient failures. Max defaults to Interval.
	Backoff retry.Config
}

// Job is a provider bound to its schedule and its reading sink.
type Job struct {
	name string
	cfg  JobConfig
	poll func(ctx context.Context) *Error
}

// NewJob binds p to cfg. Every poll outcome, good or bad, is passed to sink.
func NewJob[T any](p Provider[T], cfg JobConfig, sink func(Reading[T])) *Job {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 || cfg.Timeout > cfg.Interval {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Backoff.Initial <= 0 || cfg.Backoff.Initial > cfg.Interval {
		cfg.Backoff.Initial = min(time.Second, cfg.Interval)
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = cfg.Interval
	}

	name := p.Name()
	return &Job{
		name: name,
		cfg:  cfg,
		poll: func(ctx context.Context) *Error {
			v, err := p.Poll(ctx)
			if ctx.Err() != nil && err == nil {
				err = ctx.Err()
			}
			perr := Classify(name, err)
			r := Reading[T]{At: time.Now()}
			if perr == nil {
				r.Value = v
			} else {
				r.Err = perr
			}
			sink(r)
			return perr
		},
	}
}

func (j *Job) Name() string {
	return j.name
}

// Poller runs every job on its own goroutine.
type Poller struct {
	mu          sync.Mutex
	jobs        []*Job
	onPermanent func(name string, err error)
	logger      *logging.Logger
}

// NewPoller creates an empty poller. onPermanent, if set, is called once per
// source that fails permanently.
func NewPoller(onPermanent func(name string, err error)) *Poller {
	return &Poller{
		onPermanent: onPermanent,
		logger:      logging.GetLogger("provider"),
	}
}

func (p *Poller) Add(j *Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, j)
}

// Run polls until ctx is cancelled. Cancelling ctx also cancels polls in
// flight. Run returns once every job goroutine has exited.
func (p *Poller) Run(ctx context.Context) {
	p.mu.Lock()
	jobs := append([]*Job(nil), p.jobs...)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			p.runJob(ctx, j)
		}(j)
	}
	wg.Wait()
}

func (p *Poller) runJob(ctx context.Context, j *Job) {
	logger := p.logger.With("source", j.name)
	backoff := retry.New(j.cfg.Backoff)
	failing := false

	logger.Debug("Provider started", "interval", j.cfg.Interval, "timeout", j.cfg.Timeout)
	for {
		pctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
		err := j.poll(pctx)
		cancel()

		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		switch {
		case err == nil:
			if failing {
				logger.Info("Provider recovered")
			}
			failing = false
			backoff.Reset()
			wait = j.cfg.Interval
		case err.Kind == Permanent:
			logger.Error("Provider disabled", "error", err.Err)
			if p.onPermanent != nil {
				p.onPermanent(j.name, err)
			}
			return
		default:
			wait = backoff.Next()
			if !failing {
				logger.Warn("Provider poll failed", "error", err.Err, "retry_in", wait)
			} else {
				logger.Debug("Provider poll failed", "error", err.Err, "attempt", backoff.Attempts(), "retry_in", wait)
			}
			failing = true
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
