// Package device provides an in-memory screen module that speaks the report
// protocol, for running the daemon without hardware and for tests.
package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"

	"screensync/internal/encode"
	"screensync/internal/hardware/comm"
	"screensync/internal/hardware/protocols/report"
	"screensync/internal/logging"
)

// Upload is media committed by the emulated firmware.
type Upload struct {
	Kind encode.Kind
	Data []byte
}

// MockScreen emulates the screen firmware. Faults can be injected to
// exercise timeouts, rejections and unplugging.
type MockScreen struct {
	mu      sync.Mutex
	version int
	plugged bool
	port    *mockPort

	dropReplies int
	rejects     int

	upload   *uploadState
	uploads  []Upload
	commands []comm.Command
	reports  int
	opens    int

	logger *logging.Logger
}

type uploadState struct {
	kind   encode.Kind
	length int
	next   int
	data   []byte
}

// NewMockScreen returns a plugged-in screen reporting firmware version.
func NewMockScreen(version int) *MockScreen {
	return &MockScreen{
		version: version,
		plugged: true,
		logger:  logging.GetLogger("mock_screen"),
	}
}

// Opener returns a report.Opener connected to this screen.
func (s *MockScreen) Opener() report.Opener {
	return func(ctx context.Context) (report.Port, comm.DeviceInfo, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.plugged {
			return nil, comm.DeviceInfo{}, comm.NewError(comm.NotFound, "open", os.ErrNotExist)
		}
		if s.port != nil {
			s.port.shutdown()
		}
		s.port = newMockPort(s)
		s.opens++
		return s.port, comm.DeviceInfo{Path: "mock", Transport: "mock"}, nil
	}
}

// Channel returns a report channel over this screen.
func (s *MockScreen) Channel(opts report.Options) *report.Channel {
	return report.NewChannel("mock", s.Opener(), opts, nil)
}

// Unplug drops the open connection and makes Open fail with NotFound.
func (s *MockScreen) Unplug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugged = false
	if s.port != nil {
		s.port.shutdown()
		s.port = nil
	}
	s.upload = nil
	s.logger.Info("Mock screen unplugged")
}

// Plug makes the screen available again.
func (s *MockScreen) Plug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugged = true
	s.logger.Info("Mock screen plugged")
}

// DropReplies makes the next n reports go unanswered.
func (s *MockScreen) DropReplies(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropReplies = n
}

// RejectNext makes the next n reports fail with a negative status.
func (s *MockScreen) RejectNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects = n
}

// Uploads returns every committed upload in order.
func (s *MockScreen) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Commands returns every non-upload command received, in order.
func (s *MockScreen) Commands() []comm.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]comm.Command(nil), s.commands...)
}

// Opens returns how many times the screen was opened.
func (s *MockScreen) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Reports returns how many reports were received.
func (s *MockScreen) Reports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports
}

// handle processes one report and returns the reply, or nil for none.
func (s *MockScreen) handle(buf []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports++
	if s.dropReplies > 0 {
		s.dropReplies--
		return nil
	}
	if s.rejects > 0 {
		s.rejects--
		return report.Nak()
	}
	if report.IsVersionRequest(buf) {
		return report.VersionReply(byte(s.version))
	}

	cmd, ok := report.DecodeCommand(buf)
	restart := ok && cmd.ID == comm.CmdUploadStart
	if u := s.upload; u != nil && u.length > 0 && len(u.data) < u.length && !restart {
		return s.chunk(u, buf)
	}

	if !ok {
		return report.Nak()
	}
	switch cmd.ID {
	case comm.CmdUploadStart:
		if len(cmd.Args) != 1 {
			return report.Nak()
		}
		s.upload = &uploadState{kind: encode.Kind(cmd.Args[0])}
	case comm.CmdUploadLength:
		if s.upload == nil || len(cmd.Args) != 4 {
			return report.Nak()
		}
		s.upload.length = int(binary.BigEndian.Uint32(cmd.Args))
		s.upload.data = make([]byte, 0, s.upload.length)
	case comm.CmdUploadEnd:
		u := s.upload
		s.upload = nil
		if u == nil || len(u.data) != u.length {
			return report.Nak()
		}
		s.uploads = append(s.uploads, Upload{Kind: u.kind, Data: u.data})
		s.logger.Debug("Mock screen stored media", "kind", u.kind, "bytes", u.length)
	default:
		s.commands = append(s.commands, cmd)
	}
	return report.Ack()
}

func (s *MockScreen) chunk(u *uploadState, buf []byte) []byte {
	index, data, err := report.DecodeChunk(buf)
	if err != nil || index != u.next {
		s.logger.Warn("Mock screen rejected chunk", "index", index, "expected", u.next, "error", err)
		s.upload = nil
		return report.Nak()
	}
	remaining := u.length - len(u.data)
	u.data = append(u.data, data[:min(len(data), remaining)]...)
	u.next++
	return report.Ack()
}

// mockPort is one open connection to the mock screen.
type mockPort struct {
	screen  *MockScreen
	replies chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newMockPort(s *MockScreen) *mockPort {
	return &mockPort{
		screen:  s,
		replies: make(chan []byte, 8),
		closed:  make(chan struct{}),
	}
}

func (p *mockPort) Write(buf []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, os.ErrClosed
	default:
	}
	if len(buf) != report.ReportSize {
		return 0, errors.New("short report")
	}
	if reply := p.screen.handle(bytes.Clone(buf)); reply != nil {
		select {
		case p.replies <- reply:
		case <-p.closed:
			return 0, os.ErrClosed
		}
	}
	return len(buf), nil
}

func (p *mockPort) Read(buf []byte) (int, error) {
	select {
	case reply := <-p.replies:
		return copy(buf, reply), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *mockPort) Close() error {
	p.shutdown()
	return nil
}

func (p *mockPort) shutdown() {
	p.once.Do(func() { close(p.closed) })
}
