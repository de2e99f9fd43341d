package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"screensync/internal/aggregator"
	"screensync/internal/device"
	"screensync/internal/encode"
	"screensync/internal/hardware/comm"
	"screensync/internal/hardware/protocols/report"
	"screensync/internal/provider"
	"screensync/internal/render"
	"screensync/internal/retry"
	"screensync/pkg/types"
)

// fakeRenderer draws solid frames; each source gets its own color.
type fakeRenderer struct {
	mu      sync.Mutex
	sources []render.Source
	shade   uint16
}

func (r *fakeRenderer) Render(src render.Source) (render.FrameSequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, src)

	f := render.NewFrame(8, 4)
	c := r.shade
	if a, ok := src.(render.Asset); ok {
		c += uint16(len(a.Path))
	}
	for i := range f.Pix {
		f.Pix[i] = c
	}
	return render.Still(f), nil
}

func (r *fakeRenderer) setShade(c uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shade = c
}

func (r *fakeRenderer) last() render.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sources) == 0 {
		return nil
	}
	return r.sources[len(r.sources)-1]
}

type emptySnapshots struct{}

func (emptySnapshots) Current() aggregator.Snapshot {
	return aggregator.Snapshot{At: time.Unix(0, 0)}
}

// slowChannel hands out handles whose uploads take delay.
type slowChannel struct {
	delay time.Duration

	mu      sync.Mutex
	started chan struct{}
	frames  []encode.Payload
	ctxErrs []error
	closes  int
	opens   int
}

func newSlowChannel(delay time.Duration) *slowChannel {
	return &slowChannel{delay: delay, started: make(chan struct{}, 16)}
}

func (c *slowChannel) Name() string                 { return "slow" }
func (c *slowChannel) Status() comm.ConnectionStatus { return comm.StatusConnected }

func (c *slowChannel) Open(ctx context.Context) (comm.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	return &slowHandle{ch: c}, nil
}

func (c *slowChannel) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type slowHandle struct {
	ch *slowChannel
}

func (h *slowHandle) SendFrame(ctx context.Context, p encode.Payload) error {
	h.ch.started <- struct{}{}
	time.Sleep(h.ch.delay)
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	h.ch.frames = append(h.ch.frames, p)
	h.ch.ctxErrs = append(h.ch.ctxErrs, ctx.Err())
	return nil
}

func (h *slowHandle) SendCommand(ctx context.Context, cmd comm.Command) error { return nil }
func (h *slowHandle) Info() comm.DeviceInfo                                   { return comm.DeviceInfo{Path: "slow"} }

func (h *slowHandle) Close() error {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	h.ch.closes++
	return nil
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Record(p encode.Payload, mode types.Mode) error {
	return m.Called(p.Kind, mode).Error(0)
}

func testOptions() Options {
	return Options{
		Interval:             time.Hour,
		Reconnect:            retry.Config{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Jitter: -1},
		MaxReconnectAttempts: 3,
		SlowRetryInterval:    50 * time.Millisecond,
		SendAttempts:         3,
		Modes:                types.AllModes,
		ImagePath:            "image.png",
		AnimationPath:        "anim.gif",
	}
}

// start runs c in the background and stops it at test end.
func start(t *testing.T, c *Coordinator) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return cancel
}

func events(t *testing.T, h *Hub) func() []types.Event {
	t.Helper()
	ch, cancel := h.Subscribe(4096)
	t.Cleanup(cancel)
	var mu sync.Mutex
	var got []types.Event
	go func() {
		for ev := range ch {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}
	}()
	return func() []types.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]types.Event(nil), got...)
	}
}

func countEvents(evs []types.Event, typ types.EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// inOrder reports whether want appears in got in order, not necessarily
// adjacent.
func inOrder(got []string, want ...string) bool {
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}

func mockScreen(t *testing.T) (*device.MockScreen, *report.Channel) {
	t.Helper()
	s := device.NewMockScreen(1)
	return s, s.Channel(report.Options{ExchangeTimeout: 30 * time.Millisecond})
}

func TestInitialSyncOnConnect(t *testing.T) {
	screen, ch := mockScreen(t)
	rec := &mockRecorder{}
	rec.On("Record", encode.KindImage, types.ModeDashboard).Return(nil)

	c := New(ch, &fakeRenderer{}, emptySnapshots{}, testOptions(), WithRecorder(rec))
	start(t, c)

	require.Eventually(t, func() bool { return len(screen.Uploads()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.State() == types.StateIdle }, time.Second, 5*time.Millisecond)

	st := c.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, "mock", st.Device.Path)
	assert.Equal(t, 1, st.Device.Firmware)
	assert.Equal(t, uint64(1), st.Uploads)
	assert.NotEmpty(t, st.LastDigest)
	rec.AssertExpectations(t)
}

func TestResyncDuringTransmissionCoalesces(t *testing.T) {
	ch := newSlowChannel(200 * time.Millisecond)
	c := New(ch, &fakeRenderer{}, emptySnapshots{}, testOptions())
	start(t, c)

	// the first upload is in flight
	<-ch.started
	c.Submit(types.Resync("test"))
	time.Sleep(10 * time.Millisecond)
	c.Submit(types.Resync("test"))

	require.Eventually(t, func() bool { return ch.sent() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, ch.sent())
	assert.Equal(t, uint64(1), c.Status().Coalesced)
}

func TestTimeoutsDisconnectAndRecover(t *testing.T) {
	screen, ch := mockScreen(t)
	c := New(ch, &fakeRenderer{}, emptySnapshots{}, testOptions())
	got := events(t, c.Hub())
	start(t, c)
	require.Eventually(t, func() bool { return len(screen.Uploads()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// every attempt of the next upload times out
	screen.DropReplies(3)
	c.Submit(types.Resync("test"))

	require.Eventually(t, func() bool { return len(screen.Uploads()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.State() == types.StateIdle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, screen.Opens())

	require.Eventually(t, func() bool { return countEvents(got(), types.EventDeviceRecovered) == 1 }, time.Second, 5*time.Millisecond)
	evs := got()
	assert.Equal(t, 1, countEvents(evs, types.EventDeviceFailure))

	var states []string
	for _, ev := range evs {
		if ev.Type == types.EventStateChanged {
			states = append(states, ev.State)
		}
	}
	assert.True(t, inOrder(states, "transmitting", "disconnected", "connecting", "idle"), "states: %v", states)

	st := c.Status()
	assert.True(t, st.Connected)
	assert.False(t, st.PendingRetry)
	assert.Contains(t, st.LastError, "timeout")
}

func TestUnsentFrameRetriedAfterReplug(t *testing.T) {
	screen, ch := mockScreen(t)
	r := &fakeRenderer{}
	c := New(ch, r, emptySnapshots{}, testOptions())
	got := events(t, c.Hub())
	start(t, c)
	require.Eventually(t, func() bool { return len(screen.Uploads()) == 1 }, 2*time.Second, 5*time.Millisecond)

	screen.Unplug()
	r.setShade(0x1234)
	c.Submit(types.Resync("test"))

	// reconnects fail until the slow cadence starts
	require.Eventually(t, func() bool { return countEvents(got(), types.EventNotice) >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.State() == types.StateDisconnected }, time.Second, time.Millisecond)
	assert.True(t, c.Status().PendingRetry)

	screen.Plug()
	require.Eventually(t, func() bool { return len(screen.Uploads()) == 2 }, 2*time.Second, 5*time.Millisecond)

	uploads := screen.Uploads()
	assert.Equal(t, uint16(0x1234), uint16(uploads[1].Data[0])<<8|uint16(uploads[1].Data[1]))

	require.Eventually(t, func() bool { return countEvents(got(), types.EventDeviceRecovered) == 1 }, time.Second, 5*time.Millisecond)
	evs := got()
	notices := 0
	for _, ev := range evs {
		if ev.Type == types.EventNotice && ev.Message == "screen unreachable, retrying slowly" {
			notices++
		}
	}
	assert.Equal(t, 1, notices)
}

func TestUnchangedFrameNotUploadedOnTick(t *testing.T) {
	screen, ch := mockScreen(t)
	opts := testOptions()
	opts.Interval = 20 * time.Millisecond
	c := New(ch, &fakeRenderer{}, emptySnapshots{}, opts)
	start(t, c)

	require.Eventually(t, func() bool { return c.Status().SkippedUploads >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, screen.Uploads(), 1)

	// an explicit resync always uploads
	c.Submit(types.Resync("test"))
	require.Eventually(t, func() bool { return len(screen.Uploads()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestTelemetryPushedWithFrames(t *testing.T) {
	screen, ch := mockScreen(t)
	opts := testOptions()
	opts.PushTelemetry = true
	at := time.Date(2025, 6, 1, 9, 15, 0, 0, time.UTC)
	c := New(ch, &fakeRenderer{}, emptySnapshots{}, opts, WithClock(func() time.Time { return at }))
	start(t, c)

	require.Eventually(t, func() bool { return len(screen.Commands()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cmds := screen.Commands()
	assert.Equal(t, comm.CmdResetScreen, cmds[0].ID)
	assert.Equal(t, comm.SetTime(at), cmds[1])
}

func TestModeCycleSwitchesSource(t *testing.T) {
	ch := newSlowChannel(100 * time.Millisecond)
	r := &fakeRenderer{}
	c := New(ch, r, emptySnapshots{}, testOptions())
	start(t, c)
	<-ch.started

	// two "next" presses during the upload advance two steps
	c.Submit(types.ModeCycle("", "input"))
	c.Submit(types.ModeCycle("", "input"))

	require.Eventually(t, func() bool { return ch.sent() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, render.Asset{Path: "anim.gif"}, r.last())
	assert.Equal(t, types.ModeAnimation, c.Status().Mode)

	c.Submit(types.ModeCycle(types.ModeDashboard, "ipc"))
	require.Eventually(t, func() bool { return ch.sent() == 3 }, 2*time.Second, 5*time.Millisecond)
	_, isDashboard := r.last().(render.Dashboard)
	assert.True(t, isDashboard)
}

func TestShutdownWaitsForTransmission(t *testing.T) {
	ch := newSlowChannel(150 * time.Millisecond)
	c := New(ch, &fakeRenderer{}, emptySnapshots{}, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	<-ch.started
	c.Submit(types.Resync("test"))
	cancel()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop")
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	// the in-flight upload finished with a live context; the queued resync
	// was never started
	require.Len(t, ch.frames, 1)
	assert.NoError(t, ch.ctxErrs[0])
	assert.Equal(t, 1, ch.closes)
	assert.Equal(t, types.StateShuttingDown, c.State())
}

func TestShutdownSignal(t *testing.T) {
	screen, ch := mockScreen(t)
	c := New(ch, &fakeRenderer{}, emptySnapshots{}, testOptions())
	go c.Run(context.Background())
	require.Eventually(t, func() bool { return len(screen.Uploads()) == 1 }, 2*time.Second, 5*time.Millisecond)

	c.Submit(types.Shutdown("test"))
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop")
	}
	assert.False(t, c.Status().Connected)
	assert.Equal(t, comm.StatusDisconnected, ch.Status())
	assert.ErrorIs(t, c.Run(context.Background()), ErrRunning)
}

func TestSignalsFromListener(t *testing.T) {
	ch := newSlowChannel(0)
	signals := make(chan types.ControlSignal)
	c := New(ch, &fakeRenderer{}, emptySnapshots{}, testOptions(), WithSignals(signals))
	start(t, c)
	require.Eventually(t, func() bool { return ch.sent() == 1 }, time.Second, 5*time.Millisecond)

	signals <- types.Resync("input")
	require.Eventually(t, func() bool { return ch.sent() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPermanentProviderFailureDoesNotBlock(t *testing.T) {
	agg := aggregator.New(map[aggregator.Field]time.Duration{aggregator.FieldCPUTemp: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agg.Run(ctx)

	require.True(t, agg.Update(aggregator.From(aggregator.FieldGPUTemp, provider.Reading[float64]{
		Err: provider.NewPermanent(errors.New("nvidia-smi not found")),
		At:  time.Now(),
	})))
	require.True(t, agg.Update(aggregator.From(aggregator.FieldCPUTemp, provider.Reading[float64]{
		Value: 48,
		At:    time.Now(),
	})))
	require.Eventually(t, func() bool { return agg.Current().CPUTemp.State == aggregator.Fresh }, time.Second, time.Millisecond)
	assert.Equal(t, aggregator.Disabled, agg.Current().GPUTemp.State)

	screen, ch := mockScreen(t)
	c := New(ch, render.New(render.Options{Width: 110, Height: 110, Location: time.UTC}), agg, testOptions())
	start(t, c)

	require.Eventually(t, func() bool { return len(screen.Uploads()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, screen.Uploads()[0].Data, 110*110*2)
}

func TestScreenCommandsSentInOrder(t *testing.T) {
	screen, ch := mockScreen(t)
	c := New(ch, &fakeRenderer{}, emptySnapshots{}, testOptions())
	start(t, c)
	require.Eventually(t, func() bool { return len(screen.Uploads()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Exec(comm.ScreenUp()))
	require.NoError(t, c.Exec(comm.ClearAnimation()))

	require.Eventually(t, func() bool {
		var ids []string
		for _, cmd := range screen.Commands() {
			ids = append(ids, cmd.ID.String())
		}
		return inOrder(ids, "screen_up", "clear_animation")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, screen.Uploads(), 1)
}

func TestScreenCommandDroppedWhileDisconnected(t *testing.T) {
	screen, ch := mockScreen(t)
	screen.Unplug()
	c := New(ch, &fakeRenderer{}, emptySnapshots{}, testOptions())
	got := events(t, c.Hub())
	start(t, c)
	require.Eventually(t, func() bool { return c.State() == types.StateDisconnected }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Exec(comm.ScreenSwitch()))
	require.Eventually(t, func() bool {
		for _, ev := range got() {
			if ev.Type == types.EventNotice && ev.Fields["command"] == "screen_switch" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, screen.Commands())
}

// rejectChannel opens fine but refuses every upload.
type rejectChannel struct {
	mu    sync.Mutex
	opens []time.Time
}

func (c *rejectChannel) Name() string                 { return "reject" }
func (c *rejectChannel) Status() comm.ConnectionStatus { return comm.StatusConnected }

func (c *rejectChannel) Open(ctx context.Context) (comm.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens = append(c.opens, time.Now())
	return rejectHandle{}, nil
}

func (c *rejectChannel) openTimes() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.opens...)
}

type rejectHandle struct{}

func (rejectHandle) SendFrame(ctx context.Context, p encode.Payload) error {
	return comm.NewError(comm.Rejected, "upload", errors.New("bad checksum"))
}
func (rejectHandle) SendCommand(ctx context.Context, cmd comm.Command) error { return nil }
func (rejectHandle) Info() comm.DeviceInfo                                   { return comm.DeviceInfo{Path: "reject"} }
func (rejectHandle) Close() error                                            { return nil }

func TestRejectingScreenEscalates(t *testing.T) {
	ch := &rejectChannel{}
	opts := testOptions()
	opts.SlowRetryInterval = 300 * time.Millisecond
	c := New(ch, &fakeRenderer{}, emptySnapshots{}, opts)
	got := events(t, c.Hub())
	start(t, c)

	notice := func() bool {
		for _, ev := range got() {
			if ev.Type == types.EventNotice && ev.Message == "screen unreachable, retrying slowly" {
				return true
			}
		}
		return false
	}
	require.Eventually(t, notice, 2*time.Second, time.Millisecond)
	noticedAt := time.Now()
	assert.GreaterOrEqual(t, c.Status().ConsecutiveFailures, opts.MaxReconnectAttempts)

	// the slow interval holds even though every open succeeds
	time.Sleep(150 * time.Millisecond)
	late := 0
	for _, at := range ch.openTimes() {
		if at.After(noticedAt) {
			late++
		}
	}
	assert.LessOrEqual(t, late, 1)

	require.Eventually(t, func() bool {
		return c.Status().ConsecutiveFailures > opts.MaxReconnectAttempts
	}, 2*time.Second, 5*time.Millisecond)
	evs := got()
	assert.Zero(t, countEvents(evs, types.EventDeviceRecovered))
	notices := 0
	for _, ev := range evs {
		if ev.Type == types.EventNotice && ev.Message == "screen unreachable, retrying slowly" {
			notices++
		}
	}
	assert.Equal(t, 1, notices)
	assert.Contains(t, c.Status().LastError, "bad checksum")
}

func TestForwardersStopWithRun(t *testing.T) {
	ch := newSlowChannel(0)
	signals := make(chan types.ControlSignal)
	c := New(ch, &fakeRenderer{}, emptySnapshots{}, testOptions(), WithSignals(signals))
	go c.Run(context.Background())
	require.Eventually(t, func() bool { return ch.sent() == 1 }, time.Second, 5*time.Millisecond)

	c.Submit(types.Shutdown("test"))
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop")
	}

	// nobody is left reading the signal channel
	select {
	case signals <- types.Resync("input"):
		t.Fatal("signal forwarder outlived Run")
	case <-time.After(50 * time.Millisecond):
	}
}
