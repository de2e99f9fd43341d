package management

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"screensync/internal/core"
	"screensync/internal/input"
	"screensync/internal/ipc"
	"screensync/internal/logging"
	"screensync/internal/render"
	"screensync/internal/retry"
	"screensync/pkg/types"
)

// ApplicationManager runs the sync pipeline on top of the infrastructure.
type ApplicationManager struct {
	infrastructure *InfrastructureManager

	hub         *core.Hub
	sources     *Sources
	renderer    *render.Renderer
	coordinator *core.Coordinator
	listener    *input.Listener
	control     *ControlHandler
	signals     chan types.ControlSignal

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	done    chan struct{}
	err     error

	logger *logging.Logger
}

// NewApplicationManager wires providers, renderer, coordinator and the
// optional hotkey listener together.
func NewApplicationManager(infrastructure *InfrastructureManager) (*ApplicationManager, error) {
	cfg := infrastructure.Config()
	am := &ApplicationManager{
		infrastructure: infrastructure,
		hub:            core.NewHub(),
		signals:        make(chan types.ControlSignal),
		done:           make(chan struct{}),
		logger:         logging.GetLogger("application"),
	}

	sources, err := NewSources(cfg.Providers, am.hub, infrastructure.Registers())
	if err != nil {
		return nil, err
	}
	am.sources = sources

	am.renderer = render.New(render.Options{
		Width:           cfg.Device.Width,
		Height:          cfg.Device.Height,
		AnimationWidth:  cfg.Device.AnimationWidth,
		AnimationHeight: cfg.Device.AnimationHeight,
	})

	options := []core.Option{core.WithHub(am.hub), core.WithSignals(am.signals)}
	if fl := infrastructure.FrameLog(); fl != nil {
		options = append(options, core.WithRecorder(fl))
	}
	am.coordinator = core.New(infrastructure.Channel(), am.renderer, sources.Aggregator, core.OptionsFrom(cfg), options...)

	if cfg.Input.Enabled {
		listener, err := input.NewListener(input.NewEvdev(cfg.Input.Device), cfg.Input.Triggers, cfg.Input.Debounce.Std())
		if err != nil {
			return nil, fmt.Errorf("failed to create hotkey listener: %w", err)
		}
		am.listener = listener
	}

	am.control = NewControlHandler(am.coordinator, sources)
	if srv := infrastructure.IPCServer(); srv != nil {
		am.control.Register(srv)
	}

	am.logger.Info("Application assembled",
		"channel", infrastructure.Channel().Name(),
		"providers", sources.Jobs(),
		"hotkeys", am.listener != nil,
		"ipc", infrastructure.IPCServer() != nil)
	return am, nil
}

func (am *ApplicationManager) Coordinator() *core.Coordinator {
	return am.coordinator
}

func (am *ApplicationManager) Control() *ControlHandler {
	return am.control
}

func (am *ApplicationManager) Hub() *core.Hub {
	return am.hub
}

// Start brings up the infrastructure and every pipeline goroutine. The
// pipeline runs until ctx ends, Stop is called or a shutdown is requested.
func (am *ApplicationManager) Start(ctx context.Context) error {
	if am.started {
		return errors.New("application already started")
	}
	if err := am.infrastructure.Start(); err != nil {
		return err
	}
	am.started = true

	ctx, cancel := context.WithCancel(ctx)
	am.cancel = cancel

	am.wg.Add(1)
	go func() {
		defer am.wg.Done()
		am.sources.Run(ctx)
	}()

	if am.listener != nil {
		am.wg.Add(1)
		go func() {
			defer am.wg.Done()
			am.forwardKeys(ctx)
		}()
	}

	unsubscribe := func() {}
	if srv := am.infrastructure.IPCServer(); srv != nil {
		var events <-chan types.Event
		events, unsubscribe = am.hub.Subscribe(am.infrastructure.Config().IPC.BufferSize)
		am.wg.Add(1)
		go func() {
			defer am.wg.Done()
			am.broadcast(srv, events)
		}()
	}

	go func() {
		err := am.coordinator.Run(ctx)
		// a shutdown request ends the coordinator first; stop the rest
		cancel()
		unsubscribe()
		am.wg.Wait()
		if stopErr := am.infrastructure.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
		am.err = err
		am.logger.Info("Application stopped")
		close(am.done)
	}()

	am.logger.Info("Application started")
	return nil
}

// Done is closed once everything has stopped.
func (am *ApplicationManager) Done() <-chan struct{} {
	return am.done
}

// Wait blocks until the application has stopped and returns the shutdown
// error, if any.
func (am *ApplicationManager) Wait() error {
	<-am.done
	return am.err
}

// Stop cancels the pipeline and waits for it.
func (am *ApplicationManager) Stop() error {
	if !am.started {
		return nil
	}
	am.cancel()
	return am.Wait()
}

func (am *ApplicationManager) forwardKeys(ctx context.Context) {
	am.logger.Info("Hotkeys enabled", "keys", am.listener.Keys())
	backoff := retry.New(retry.Config{Initial: time.Second, Max: time.Minute})
	forwardSignals(ctx, am.listener, am.signals, backoff, am.logger)
}

// forwardSignals relays hotkey signals to out until ctx ends. When the
// input source goes away, as on a keyboard unplug, it subscribes again
// after a backoff delay.
func forwardSignals(ctx context.Context, l *input.Listener, out chan<- types.ControlSignal, backoff *retry.Backoff, logger *logging.Logger) {
	for {
		delivered := false
		for sig := range l.Signals(ctx) {
			delivered = true
			select {
			case out <- sig:
			case <-ctx.Done():
				return
			}
		}
		if delivered {
			backoff.Reset()
		}
		delay := backoff.Next()
		logger.Debug("Hotkey source ended, resubscribing", "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// broadcast relays hub events to IPC clients until events is closed.
func (am *ApplicationManager) broadcast(srv *ipc.IPCServer, events <-chan types.Event) {
	for ev := range events {
		data, err := ipc.ToData(ev)
		if err != nil {
			am.logger.Warn("Event not encodable", "type", ev.Type, "error", err)
			continue
		}
		msg := types.IPCMessage{
			Type:      types.MsgEvent,
			Source:    "daemon",
			Data:      data,
			Timestamp: ev.Timestamp,
		}
		if err := srv.Broadcast(msg); err != nil {
			am.logger.Warn("Event broadcast failed", "error", err)
		}
	}
}
