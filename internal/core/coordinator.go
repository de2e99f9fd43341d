// Package core runs the sync coordinator: the single goroutine that owns the
// screen handle and turns timer ticks, hotkeys and control requests into
// ordered render and transmit cycles.
package core

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"screensync/internal/aggregator"
	"screensync/internal/config"
	"screensync/internal/encode"
	"screensync/internal/hardware/comm"
	"screensync/internal/logging"
	"screensync/internal/render"
	"screensync/internal/retry"
	"screensync/pkg/types"
)

var (
	ErrRunning      = errors.New("coordinator already running")
	ErrCommandQueue = errors.New("screen command queue full")
)

// Renderer draws a source into frames.
type Renderer interface {
	Render(src render.Source) (render.FrameSequence, error)
}

// Snapshots exposes the aggregated telemetry.
type Snapshots interface {
	Current() aggregator.Snapshot
}

// Recorder captures every uploaded payload.
type Recorder interface {
	Record(p encode.Payload, mode types.Mode) error
}

// Options tune the coordinator.
type Options struct {
	Interval             time.Duration
	Reconnect            retry.Config
	MaxReconnectAttempts int
	SlowRetryInterval    time.Duration
	SendAttempts         int
	MaxPayloadBytes      int

	Modes         []types.Mode
	InitialMode   types.Mode
	ImagePath     string
	AnimationPath string
	PushTelemetry bool
}

// OptionsFrom extracts coordinator options from a loaded config.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Interval: cfg.Sync.Interval.Std(),
		Reconnect: retry.Config{
			Initial: cfg.Sync.ReconnectInitial.Std(),
			Max:     cfg.Sync.ReconnectMax.Std(),
		},
		MaxReconnectAttempts: cfg.Sync.MaxReconnectAttempts,
		SlowRetryInterval:    cfg.Sync.SlowRetryInterval.Std(),
		SendAttempts:         cfg.Device.SendAttempts,
		MaxPayloadBytes:      cfg.Device.MaxPayloadBytes,
		Modes:                cfg.Modes(),
		InitialMode:          cfg.InitialMode(),
		ImagePath:            cfg.Assets.Image,
		AnimationPath:        cfg.Assets.Animation,
		PushTelemetry:        cfg.Sync.PushTelemetry,
	}
}

// Status is a point-in-time view of the coordinator for diagnostics.
type Status struct {
	State               string          `json:"state"`
	Mode                types.Mode      `json:"mode"`
	Connected           bool            `json:"connected"`
	Device              comm.DeviceInfo `json:"device"`
	LastSync            time.Time       `json:"last_sync"`
	LastDigest          string          `json:"last_digest,omitempty"`
	Transmissions       uint64          `json:"transmissions"`
	Uploads             uint64          `json:"uploads"`
	SkippedUploads      uint64          `json:"skipped_uploads"`
	Coalesced           uint64          `json:"coalesced"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	PendingRetry        bool            `json:"pending_retry"`
	LastError           string          `json:"last_error,omitempty"`
}

// transmission is one encoded frame plus the widget commands sent with it.
type transmission struct {
	payload  encode.Payload
	commands []comm.Command
	mode     types.Mode
	upload   bool
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithHub publishes events to h instead of a private hub.
func WithHub(h *Hub) Option {
	return func(c *Coordinator) { c.hub = h }
}

// WithRecorder captures uploaded payloads.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithSignals adds a control signal source, such as the hotkey listener.
func WithSignals(ch <-chan types.ControlSignal) Option {
	return func(c *Coordinator) { c.signals = append(c.signals, ch) }
}

// WithClock replaces time.Now for telemetry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator sequences rendering and transmission. All fields below the
// status lock are owned by the Run goroutine.
type Coordinator struct {
	opts      Options
	channel   comm.Channel
	renderer  Renderer
	snapshots Snapshots
	encoder   *encode.Encoder
	hub       *Hub
	recorder  Recorder
	signals   []<-chan types.ControlSignal
	mailbox   *Mailbox
	now       func() time.Time
	logger    *logging.Logger

	running atomic.Bool
	done    chan struct{}

	mu     sync.RWMutex
	status Status
	state  types.SyncState

	handle     comm.Handle
	mode       types.Mode
	pending    *transmission
	wantSync   bool
	lastDigest [32]byte
	hasDigest  bool
	backoff    *retry.Backoff
	failures   int
	noticed    bool
	degraded   bool
	retryTimer *time.Timer
	retryC     <-chan time.Time
}

func New(channel comm.Channel, renderer Renderer, snapshots Snapshots, opts Options, options ...Option) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.SendAttempts <= 0 {
		opts.SendAttempts = 3
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.SlowRetryInterval <= 0 {
		opts.SlowRetryInterval = 2 * time.Minute
	}
	if len(opts.Modes) == 0 {
		opts.Modes = types.AllModes
	}
	if opts.InitialMode == "" {
		opts.InitialMode = opts.Modes[0]
	}

	c := &Coordinator{
		opts:      opts,
		channel:   channel,
		renderer:  renderer,
		snapshots: snapshots,
		encoder:   encode.New(opts.MaxPayloadBytes),
		mailbox:   NewMailbox(),
		now:       time.Now,
		logger:    logging.GetLogger("coordinator"),
		done:      make(chan struct{}),
		mode:      opts.InitialMode,
		backoff:   retry.New(opts.Reconnect),
	}
	for _, o := range options {
		o(c)
	}
	if c.hub == nil {
		c.hub = NewHub()
	}
	c.status.State = types.StateIdle.String()
	c.status.Mode = c.mode
	return c
}

// Submit queues a control signal. It never blocks.
func (c *Coordinator) Submit(sig types.ControlSignal) {
	c.logger.Debug("Signal received", "signal", sig.String(), "source", sig.Source)
	c.mailbox.Put(sig)
}

// Exec queues a raw screen command such as page navigation. Commands run
// in order on the coordinator goroutine and are dropped if the screen is
// not connected when their turn comes.
func (c *Coordinator) Exec(cmd comm.Command) error {
	if !c.mailbox.PutCommand(cmd) {
		return ErrCommandQueue
	}
	return nil
}

func (c *Coordinator) Hub() *Hub {
	return c.hub
}

// Done is closed when Run returns.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// State returns the current state machine position.
func (c *Coordinator) State() types.SyncState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a copy of the diagnostic status.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	s.Coalesced = c.mailbox.Coalesced()
	return s
}

// Run connects to the screen and serves until ctx ends or a Shutdown
// signal arrives. An in-flight transmission always completes first.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(c.done)

	// forwarders stop with Run, whichever way it ends
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	for _, ch := range c.signals {
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.forward(ctx, ch)
		}()
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.logger.Info("Coordinator started", "channel", c.channel.Name(), "mode", c.mode, "interval", c.opts.Interval)
	c.connect(ctx)

	for {
		select {
		case <-ctx.Done():
			c.shutdown("context cancelled")
			return nil
		case <-c.mailbox.Ready():
			p := c.mailbox.Take()
			if p.Shutdown {
				c.shutdown("shutdown requested")
				return nil
			}
			c.apply(ctx, p)
		case <-ticker.C:
			if c.handle != nil {
				c.sync(ctx, false)
			}
		case <-c.retryC:
			c.retryC = nil
			c.connect(ctx)
		}
	}
}

func (c *Coordinator) forward(ctx context.Context, signals <-chan types.ControlSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			c.Submit(sig)
		}
	}
}

// apply handles coalesced resync and mode requests.
func (c *Coordinator) apply(ctx context.Context, p Pending) {
	if p.Mode != nil {
		next := p.Mode.Resolve(c.mode, c.opts.Modes)
		if next != c.mode {
			c.logger.Info("Mode changed", "from", c.mode, "to", next)
			c.mode = next
			c.setStatus(func(s *Status) { s.Mode = next })
			c.hub.Publish(types.NewEvent(types.EventNotice, "coordinator", "mode changed").With("mode", string(next)))
		}
	}
	if p.Resync || p.Mode != nil {
		if c.handle == nil {
			c.wantSync = true
			c.logger.Debug("Sync deferred until the screen reconnects")
		} else {
			c.sync(ctx, true)
		}
	}
	if len(p.Commands) > 0 {
		c.exec(ctx, p.Commands)
	}
}

func (c *Coordinator) exec(ctx context.Context, cmds []comm.Command) {
	for i, cmd := range cmds {
		if c.handle == nil {
			c.hub.Publish(types.NewEvent(types.EventNotice, "coordinator", "screen command dropped, screen not connected").
				With("command", cmd.ID.String()).With("dropped", strconv.Itoa(len(cmds)-i)))
			return
		}
		c.setState(types.StateTransmitting)
		err := c.handle.SendCommand(context.WithoutCancel(ctx), cmd)
		c.setState(types.StateIdle)
		if err == nil {
			c.logger.Info("Screen command sent", "command", cmd.ID.String())
			c.recovered()
			continue
		}
		if comm.IsRetryable(err) {
			c.logger.Warn("Screen command failed", "command", cmd.ID.String(), "error", err)
			continue
		}
		c.deviceFailed(err)
	}
}

func (c *Coordinator) source(snap aggregator.Snapshot) render.Source {
	switch c.mode {
	case types.ModeImage:
		return render.Asset{Path: c.opts.ImagePath}
	case types.ModeAnimation:
		return render.Asset{Path: c.opts.AnimationPath}
	default:
		return render.Dashboard{Snapshot: snap}
	}
}

// sync renders the current mode and transmits it. Without force an upload
// whose content matches the last one since connecting is skipped.
func (c *Coordinator) sync(ctx context.Context, force bool) {
	if ctx.Err() != nil || c.mailbox.ShutdownRequested() {
		return
	}
	c.setState(types.StateRendering)

	snap := c.snapshots.Current()
	src := c.source(snap)
	seq, err := c.renderer.Render(src)
	if err != nil {
		c.hub.Publish(types.NewEvent(types.EventNotice, "render", "render failed, showing placeholder").
			With("source", render.Describe(src)).With("error", err.Error()))
	}
	if seq.Len() == 0 {
		c.setState(types.StateIdle)
		return
	}

	payload, err := c.encoder.Encode(seq)
	if err != nil {
		c.logger.Error("Encoding failed", "source", render.Describe(src), "error", err)
		c.setStatus(func(s *Status) { s.LastError = err.Error() })
		c.setState(types.StateIdle)
		return
	}

	tx := &transmission{
		payload: payload,
		mode:    c.mode,
		upload:  force || !c.hasDigest || payload.Digest != c.lastDigest,
	}
	if c.opts.PushTelemetry {
		tx.commands = TelemetryCommands(snap, c.now())
	}
	if !tx.upload {
		c.setStatus(func(s *Status) { s.SkippedUploads++ })
		if len(tx.commands) == 0 {
			c.setState(types.StateIdle)
			return
		}
	}
	c.transmit(ctx, tx)
}

// transmit sends tx, retrying retryable errors up to SendAttempts times.
// It reports whether tx was delivered. A failed tx is kept and sent again
// after the screen reconnects.
func (c *Coordinator) transmit(ctx context.Context, tx *transmission) bool {
	c.setState(types.StateTransmitting)

	// a started transmission is never cut short by shutdown
	sendCtx := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= c.opts.SendAttempts; attempt++ {
		err = c.send(sendCtx, tx)
		if err == nil || !comm.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		c.logger.Warn("Transmission failed", "attempt", attempt, "max_attempts", c.opts.SendAttempts, "error", err)
	}

	if err != nil {
		c.pending = tx
		c.deviceFailed(err)
		return false
	}

	c.pending = nil
	c.recovered()
	if tx.upload {
		c.lastDigest, c.hasDigest = tx.payload.Digest, true
		if c.recorder != nil {
			if err := c.recorder.Record(tx.payload, tx.mode); err != nil {
				c.logger.Warn("Frame log write failed", "error", err)
			}
		}
	}
	c.setStatus(func(s *Status) {
		s.Transmissions++
		if tx.upload {
			s.Uploads++
			s.LastDigest = tx.payload.DigestString()
		}
		s.LastSync = c.now()
		s.PendingRetry = false
	})
	c.hub.Publish(types.NewEvent(types.EventTransmitted, "coordinator", "frame transmitted").
		With("mode", string(tx.mode)).
		With("kind", tx.payload.Kind.String()).
		With("uploaded", strconv.FormatBool(tx.upload)))
	c.setState(types.StateIdle)
	return true
}

func (c *Coordinator) send(ctx context.Context, tx *transmission) error {
	if tx.upload {
		if err := c.handle.SendFrame(ctx, tx.payload); err != nil {
			return err
		}
	}
	for _, cmd := range tx.commands {
		if err := c.handle.SendCommand(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// deviceFailed drops the handle and schedules a reconnect.
func (c *Coordinator) deviceFailed(err error) {
	kind, _ := comm.KindOf(err)
	c.closeHandle()
	delay := c.failed(err)
	c.logger.Warn("Screen lost", "kind", kind.String(), "attempt", c.failures, "retry_in", delay, "error", err)
	c.hub.Publish(types.NewEvent(types.EventDeviceFailure, "coordinator", "screen lost").
		With("kind", kind.String()).
		With("error", err.Error()).
		With("retry_in", delay.String()))
	c.setState(types.StateDisconnected)
	c.scheduleReconnect(delay)
}

// failed counts one more failure and returns the delay before the next
// connect. Failures only reset once a transmission gets through, so a
// screen that opens but refuses every upload still escalates to the slow
// retry interval.
func (c *Coordinator) failed(err error) time.Duration {
	c.failures++
	c.degraded = true
	delay := c.backoff.Next()
	if c.failures >= c.opts.MaxReconnectAttempts {
		delay = c.opts.SlowRetryInterval
		if !c.noticed {
			c.noticed = true
			c.hub.Publish(types.NewEvent(types.EventNotice, "coordinator", "screen unreachable, retrying slowly").
				With("attempts", strconv.Itoa(c.failures)).With("error", err.Error()))
		}
	}
	failures := c.failures
	c.setStatus(func(s *Status) {
		s.ConsecutiveFailures = failures
		s.LastError = err.Error()
		s.PendingRetry = c.pending != nil
	})
	return delay
}

// recovered clears the failure streak after the screen accepted something.
func (c *Coordinator) recovered() {
	if !c.degraded {
		return
	}
	c.hub.Publish(types.NewEvent(types.EventDeviceRecovered, "coordinator", "screen reconnected").
		With("attempts", strconv.Itoa(c.failures)))
	c.backoff.Reset()
	c.failures, c.noticed, c.degraded = 0, false, false
	c.setStatus(func(s *Status) { s.ConsecutiveFailures = 0 })
}

func (c *Coordinator) connect(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c.setState(types.StateConnecting)

	h, err := c.channel.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		delay := c.failed(err)
		c.logger.Warn("Screen connect failed", "attempt", c.failures, "retry_in", delay, "error", err)
		c.setState(types.StateDisconnected)
		c.scheduleReconnect(delay)
		return
	}

	c.handle = h
	c.hasDigest = false
	c.setStatus(func(s *Status) {
		s.Connected = true
		s.Device = h.Info()
	})
	c.setState(types.StateIdle)

	pending := c.pending
	if pending != nil {
		c.logger.Info("Retrying unsent transmission", "mode", pending.mode)
		pending.upload = true
		if !c.transmit(ctx, pending) {
			return
		}
	}
	if pending == nil || c.wantSync {
		c.wantSync = false
		c.sync(ctx, true)
	}
}

func (c *Coordinator) scheduleReconnect(delay time.Duration) {
	if c.retryTimer == nil {
		c.retryTimer = time.NewTimer(delay)
	} else {
		c.retryTimer.Reset(delay)
	}
	c.retryC = c.retryTimer.C
}

func (c *Coordinator) closeHandle() {
	if c.handle == nil {
		return
	}
	if err := c.handle.Close(); err != nil {
		c.logger.Debug("Closing screen handle", "error", err)
	}
	c.handle = nil
	c.setStatus(func(s *Status) { s.Connected = false })
}

func (c *Coordinator) shutdown(reason string) {
	c.setState(types.StateShuttingDown)
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	if c.pending != nil {
		c.logger.Info("Dropping unsent transmission on shutdown", "mode", c.pending.mode)
		c.pending = nil
	}
	c.closeHandle()
	c.hub.Publish(types.NewEvent(types.EventNotice, "coordinator", "coordinator stopped").With("reason", reason))
}

func (c *Coordinator) setState(s types.SyncState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.status.State = s.String()
	c.mu.Unlock()

	ev := types.NewEvent(types.EventStateChanged, "coordinator", "state changed")
	ev.State = s.String()
	c.hub.Publish(ev)
}

func (c *Coordinator) setStatus(update func(*Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.status)
}
