package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screensync/internal/encode"
	"screensync/internal/hardware/comm"
	"screensync/internal/hardware/protocols/report"
	"screensync/internal/render"
)

func payload(t *testing.T, frames int) encode.Payload {
	t.Helper()
	seq := render.FrameSequence{}
	for i := 0; i < frames; i++ {
		f := render.NewFrame(7, 5)
		for j := range f.Pix {
			f.Pix[j] = uint16(i*1000 + j)
		}
		seq.Frames = append(seq.Frames, f)
		seq.Durations = append(seq.Durations, 40*time.Millisecond)
	}
	p, err := encode.New(0).Encode(seq)
	require.NoError(t, err)
	return p
}

func open(t *testing.T, s *MockScreen) comm.Handle {
	t.Helper()
	h, err := s.Channel(report.Options{ExchangeTimeout: 50 * time.Millisecond}).Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestMockScreenUploads(t *testing.T) {
	s := NewMockScreen(3)
	h := open(t, s)
	assert.Equal(t, 3, h.Info().Firmware)

	still := payload(t, 1)
	anim := payload(t, 3)
	require.NoError(t, h.SendFrame(context.Background(), still))
	require.NoError(t, h.SendFrame(context.Background(), anim))

	uploads := s.Uploads()
	require.Len(t, uploads, 2)
	assert.Equal(t, encode.KindImage, uploads[0].Kind)
	assert.Equal(t, still.Data, uploads[0].Data)
	assert.Equal(t, encode.KindAnimation, uploads[1].Kind)
	assert.Equal(t, anim.Data, uploads[1].Data)

	// every upload is followed by a screen reset
	cmds := s.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, comm.CmdResetScreen, cmds[0].ID)
}

func TestMockScreenCommands(t *testing.T) {
	s := NewMockScreen(1)
	h := open(t, s)

	at := time.Date(2024, 12, 31, 23, 59, 58, 0, time.UTC)
	require.NoError(t, h.SendCommand(context.Background(), comm.SetTime(at)))
	require.NoError(t, h.SendCommand(context.Background(), comm.SetSystemInfo(40, 50, 12.5)))

	cmds := s.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, comm.SetTime(at), cmds[0])
	rate, ok := comm.DownloadRate(cmds[1])
	require.True(t, ok)
	assert.Equal(t, float32(12.5), rate)
}

func TestMockScreenDroppedReplyTimesOut(t *testing.T) {
	s := NewMockScreen(1)
	h := open(t, s)

	s.DropReplies(1)
	err := h.SendCommand(context.Background(), comm.ResetScreen())
	assert.True(t, comm.IsKind(err, comm.Timeout), "got %v", err)
	assert.True(t, comm.IsRetryable(err))

	// the handle is still usable afterwards
	require.NoError(t, h.SendFrame(context.Background(), payload(t, 2)))
	assert.Len(t, s.Uploads(), 1)
}

func TestMockScreenRejection(t *testing.T) {
	s := NewMockScreen(1)
	h := open(t, s)

	s.RejectNext(1)
	err := h.SendFrame(context.Background(), payload(t, 1))
	assert.True(t, comm.IsKind(err, comm.Rejected), "got %v", err)
	require.NoError(t, h.SendFrame(context.Background(), payload(t, 1)))
}

func TestMockScreenRetryMidUpload(t *testing.T) {
	s := NewMockScreen(1)
	h := open(t, s)
	p := payload(t, 2)

	// leave an upload open with no chunks sent
	ctx := context.Background()
	c := h.(*report.Client)
	_, err := c.Exec(ctx, comm.Command{ID: comm.CmdUploadStart, Args: []byte{byte(encode.KindAnimation)}})
	require.NoError(t, err)
	_, err = c.Exec(ctx, comm.Command{ID: comm.CmdUploadLength, Args: []byte{0, 0, 0, byte(len(p.Data))}})
	require.NoError(t, err)

	// abandoning the upload and starting over still works
	require.NoError(t, h.SendFrame(ctx, p))
	uploads := s.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, p.Data, uploads[0].Data)
}

func TestMockScreenUnplug(t *testing.T) {
	s := NewMockScreen(1)
	ch := s.Channel(report.Options{ExchangeTimeout: 50 * time.Millisecond})
	h, err := ch.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, comm.StatusConnected, ch.Status())

	_, err = ch.Open(context.Background())
	assert.ErrorIs(t, err, report.ErrBusy)

	s.Unplug()
	err = h.SendCommand(context.Background(), comm.ResetScreen())
	assert.True(t, comm.IsKind(err, comm.Disconnected), "got %v", err)
	require.NoError(t, h.Close())
	assert.Equal(t, comm.StatusDisconnected, ch.Status())

	_, err = ch.Open(context.Background())
	assert.True(t, comm.IsKind(err, comm.NotFound), "got %v", err)

	s.Plug()
	h, err = ch.Open(context.Background())
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.SendCommand(context.Background(), comm.ResetScreen()))
	assert.Equal(t, 2, s.Opens())
}

func TestFirmwareApproval(t *testing.T) {
	s := NewMockScreen(7)
	ch := report.NewChannel("mock", s.Opener(), report.Options{ExchangeTimeout: 50 * time.Millisecond}, []int{1, 2})
	_, err := ch.Open(context.Background())
	assert.ErrorIs(t, err, report.ErrUnknownFirmware)
	assert.True(t, comm.IsKind(err, comm.Rejected))
	assert.Equal(t, comm.StatusError, ch.Status())

	// the rejected handle was released
	ch = report.NewChannel("mock", s.Opener(), report.Options{ExchangeTimeout: 50 * time.Millisecond}, []int{7})
	h, err := ch.Open(context.Background())
	require.NoError(t, err)
	h.Close()
}

func TestMockScreenAnswersVersionRequest(t *testing.T) {
	s := NewMockScreen(5)
	assert.Equal(t, report.VersionReply(5), s.handle(report.EncodeVersion()))

	// a rejected version request gets a command-style failure reply
	s.RejectNext(1)
	assert.Equal(t, report.Nak(), s.handle(report.EncodeVersion()))
	assert.Empty(t, s.Commands())
}
