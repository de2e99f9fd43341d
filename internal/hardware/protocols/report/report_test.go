package report

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screensync/internal/encode"
	"screensync/internal/hardware/comm"
)

func TestEncodeCommand(t *testing.T) {
	buf, err := EncodeCommand(comm.Command{ID: 0x0301, Args: []byte{1, 2, 3}})
	require.NoError(t, err)
	require.Len(t, buf, ReportSize)
	assert.Equal(t, []byte{0x00, 0x58, 0x06, 0xA5, 0x03, 0x01, 1, 2, 3}, buf[:9])
	assert.Equal(t, make([]byte, ReportSize-9), buf[9:])

	cmd, ok := DecodeCommand(buf)
	require.True(t, ok)
	assert.Equal(t, comm.CommandID(0x0301), cmd.ID)
	assert.Equal(t, []byte{1, 2, 3}, cmd.Args)

	_, err = EncodeCommand(comm.Command{ID: 1, Args: make([]byte, comm.MaxArgs+1)})
	assert.ErrorIs(t, err, ErrArgsTooLong)
}

func TestEncodeChunk(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	buf := EncodeChunk(0x0102, data, 3)
	require.Len(t, buf, ReportSize)

	assert.Equal(t, byte(0x58), buf[1])
	assert.Equal(t, byte(2+5+3+4), buf[2])
	assert.Equal(t, []byte{0x01, 0x02}, buf[3:5])
	assert.Equal(t, data, buf[5:10])
	assert.Equal(t, []byte{0, 0, 0}, buf[10:13])
	// index, data and padding plus the two zero bytes the checksum starts on
	sum := crc32.ChecksumIEEE(append(bytes.Clone(buf[3:13]), 0, 0))
	assert.Equal(t, sum, binary.BigEndian.Uint32(buf[13:17]))
	assert.Equal(t, uint32(0x11e7284e), sum)

	index, got, err := DecodeChunk(buf)
	require.NoError(t, err)
	assert.Equal(t, 0x0102, index)
	assert.Equal(t, append(data, 0, 0, 0), got)

	buf[6] ^= 0xff
	_, _, err = DecodeChunk(buf)
	assert.Error(t, err)
}

func TestChunkChecksumKnownVector(t *testing.T) {
	data := make([]byte, ChunkSize)
	for i := range data {
		data[i] = byte(i)
	}
	buf := EncodeChunk(0, data, 0)
	assert.Equal(t, byte(2+ChunkSize+4), buf[2])
	assert.Equal(t, []byte{0x76, 0xeb, 0x72, 0xf0}, buf[29:33])

	// a trailer summed over index and data alone is refused
	wrong := bytes.Clone(buf)
	binary.BigEndian.PutUint32(wrong[29:], crc32.ChecksumIEEE(wrong[3:29]))
	_, _, err := DecodeChunk(wrong)
	assert.ErrorContains(t, err, "checksum")
}

func TestVersionRequest(t *testing.T) {
	buf := EncodeVersion()
	require.Len(t, buf, ReportSize)
	assert.Equal(t, []byte{0x00, 0x01}, buf[:2])
	assert.Equal(t, make([]byte, ReportSize-2), buf[2:])
	assert.True(t, IsVersionRequest(buf))
	_, ok := DecodeCommand(buf)
	assert.False(t, ok)

	v, err := parseVersion([]byte{0x01, 0x00, 0x07, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	// a command acknowledgement is not a version reply
	_, err = parseVersion(Ack(7))
	assert.True(t, comm.IsKind(err, comm.Rejected))
	assert.ErrorIs(t, err, ErrBadReply)
	_, err = parseVersion([]byte{0x01})
	assert.ErrorIs(t, err, ErrBadReply)
}

func TestChunkPadding(t *testing.T) {
	// 50 bytes: chunks of 24, 24 and 2
	assert.Equal(t, 0, ChunkPadding(true, 50, 0))
	assert.Equal(t, 0, ChunkPadding(true, 50, 1))
	assert.Equal(t, 2, ChunkPadding(true, 50, 2))
	assert.Equal(t, 0, ChunkPadding(false, 50, 2))
	// the final chunk is already aligned
	assert.Equal(t, 0, ChunkPadding(true, 52, 2))
	assert.Equal(t, 1, ChunkPadding(true, 27, 1))
}

func TestCheckReply(t *testing.T) {
	payload, err := checkReply("x", Ack(9, 8))
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8}, payload[:2])

	_, err = checkReply("x", Nak())
	assert.True(t, comm.IsKind(err, comm.Rejected))

	_, err = checkReply("x", []byte{0x11, 1, 1})
	assert.ErrorIs(t, err, ErrBadReply)
}

// scriptPort answers every report with the next scripted reply and records
// what was written.
type scriptPort struct {
	writes  [][]byte
	replies chan []byte
	script  func(buf []byte) []byte
	closed  chan struct{}
}

func newScriptPort(script func([]byte) []byte) *scriptPort {
	return &scriptPort{
		replies: make(chan []byte, 4),
		script:  script,
		closed:  make(chan struct{}),
	}
}

func (p *scriptPort) Write(buf []byte) (int, error) {
	p.writes = append(p.writes, bytes.Clone(buf))
	if reply := p.script(buf); reply != nil {
		p.replies <- reply
	}
	return len(buf), nil
}

func (p *scriptPort) Read(buf []byte) (int, error) {
	select {
	case r := <-p.replies:
		return copy(buf, r), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *scriptPort) Close() error {
	close(p.closed)
	return nil
}

func TestClientUploadSequence(t *testing.T) {
	port := newScriptPort(func([]byte) []byte { return Ack() })
	var progress []int
	c := NewClient(port, comm.DeviceInfo{Path: "test"}, Options{
		ExchangeTimeout: time.Second,
		Progress:        func(sent, total int) { progress = append(progress, sent) },
	})
	defer c.Close()

	data := make([]byte, 50)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, c.SendFrame(context.Background(), encode.Payload{Kind: encode.KindAnimation, Data: data}))

	// start, length, three chunks, end, reset
	require.Len(t, port.writes, 7)
	start, ok := DecodeCommand(port.writes[0])
	require.True(t, ok)
	assert.Equal(t, comm.Command{ID: comm.CmdUploadStart, Args: []byte{byte(encode.KindAnimation)}}, start)
	length, _ := DecodeCommand(port.writes[1])
	assert.Equal(t, []byte{0, 0, 0, 50}, length.Args)

	var got []byte
	for i := 0; i < 3; i++ {
		index, chunk, err := DecodeChunk(port.writes[2+i])
		require.NoError(t, err)
		assert.Equal(t, i, index)
		got = append(got, chunk...)
	}
	assert.Equal(t, append(data, 0, 0), got)

	end, _ := DecodeCommand(port.writes[5])
	assert.Equal(t, comm.CmdUploadEnd, end.ID)
	reset, _ := DecodeCommand(port.writes[6])
	assert.Equal(t, comm.CmdResetScreen, reset.ID)
	assert.Equal(t, []int{1, 2, 3}, progress)
}

func TestClientTimeoutThenRecover(t *testing.T) {
	silent := 1
	port := newScriptPort(func([]byte) []byte {
		if silent > 0 {
			silent--
			return nil
		}
		return VersionReply(4)
	})
	c := NewClient(port, comm.DeviceInfo{}, Options{ExchangeTimeout: 20 * time.Millisecond})
	defer c.Close()

	_, err := c.Version(context.Background())
	assert.True(t, comm.IsKind(err, comm.Timeout), "got %v", err)

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	assert.Equal(t, EncodeVersion(), port.writes[1])
}

func TestClientClosed(t *testing.T) {
	port := newScriptPort(func([]byte) []byte { return Ack() })
	c := NewClient(port, comm.DeviceInfo{}, Options{})
	closed := 0
	c.onClose = func() { closed++ }

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, closed)

	err := c.SendCommand(context.Background(), comm.ResetScreen())
	assert.True(t, comm.IsKind(err, comm.Disconnected))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUploadRejectsEmpty(t *testing.T) {
	port := newScriptPort(func([]byte) []byte { return Ack() })
	c := NewClient(port, comm.DeviceInfo{}, Options{})
	defer c.Close()

	err := c.Upload(context.Background(), encode.KindImage, nil)
	assert.True(t, comm.IsKind(err, comm.Rejected))
	assert.Empty(t, port.writes)
}
