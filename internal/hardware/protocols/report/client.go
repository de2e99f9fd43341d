package report

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"screensync/internal/encode"
	"screensync/internal/hardware/comm"
	"screensync/internal/logging"
)

// Port is the raw transport under a Client.
type Port io.ReadWriteCloser

// Options tune a Client.
type Options struct {
	// ExchangeTimeout bounds every request/reply round trip.
	ExchangeTimeout time.Duration
	// Stream is set for byte-stream transports (serial) where replies must
	// be read as fixed-size blocks. Report transports (hidraw) deliver one
	// reply per read.
	Stream bool
	// Progress, if set, is called after every uploaded chunk.
	Progress func(sent, total int)
}

var ErrClosed = errors.New("handle closed")

// Client drives one open screen. It implements comm.Handle.
type Client struct {
	port   Port
	info   comm.DeviceInfo
	opts   Options
	logger *logging.Logger

	replies chan []byte
	done    chan struct{}
	readErr error

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	onClose   func()
}

// NewClient starts reading replies from port.
func NewClient(port Port, info comm.DeviceInfo, opts Options) *Client {
	if opts.ExchangeTimeout <= 0 {
		opts.ExchangeTimeout = 2 * time.Second
	}
	c := &Client{
		port:    port,
		info:    info,
		opts:    opts,
		logger:  logging.GetLogger("report").With("path", info.Path),
		replies: make(chan []byte, 4),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		buf := make([]byte, 64)
		var n int
		var err error
		if c.opts.Stream {
			n, err = io.ReadFull(c.port, buf[:ReplySize])
		} else {
			n, err = c.port.Read(buf)
		}
		if err != nil {
			c.readErr = err
			return
		}
		if n == 0 {
			continue
		}
		select {
		case c.replies <- buf[:n]:
		default:
			// nobody is waiting; drop the oldest unread reply
			select {
			case <-c.replies:
			default:
			}
			c.replies <- buf[:n]
		}
	}
}

func (c *Client) Info() comm.DeviceInfo {
	return c.info
}

// Exec sends cmd and returns the reply payload.
func (c *Client) Exec(ctx context.Context, cmd comm.Command) ([]byte, error) {
	buf, err := EncodeCommand(cmd)
	if err != nil {
		return nil, comm.NewError(comm.Rejected, cmd.ID.String(), err)
	}
	return c.exchange(ctx, cmd.ID.String(), buf)
}

func (c *Client) SendCommand(ctx context.Context, cmd comm.Command) error {
	_, err := c.Exec(ctx, cmd)
	return err
}

// Version asks the firmware for its version.
func (c *Client) Version(ctx context.Context) (int, error) {
	reply, err := c.roundTrip(ctx, "version", EncodeVersion())
	if err != nil {
		return 0, err
	}
	return parseVersion(reply)
}

// SendFrame uploads p to its media slot and resets the screen so it shows
// the new content.
func (c *Client) SendFrame(ctx context.Context, p encode.Payload) error {
	if err := c.Upload(ctx, p.Kind, p.Data); err != nil {
		return err
	}
	return c.SendCommand(ctx, comm.ResetScreen())
}

// Upload streams data to the slot for kind.
func (c *Client) Upload(ctx context.Context, kind encode.Kind, data []byte) error {
	if len(data) == 0 {
		return comm.NewError(comm.Rejected, "upload", errors.New("empty payload"))
	}
	total := (len(data) + ChunkSize - 1) / ChunkSize
	if total > maxChunks {
		return comm.NewError(comm.Rejected, "upload", fmt.Errorf("%d bytes need %d chunks", len(data), total))
	}

	if _, err := c.Exec(ctx, comm.Command{ID: comm.CmdUploadStart, Args: []byte{byte(kind)}}); err != nil {
		return err
	}
	length := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
	if _, err := c.Exec(ctx, comm.Command{ID: comm.CmdUploadLength, Args: length}); err != nil {
		return err
	}

	animation := kind == encode.KindAnimation
	for i := 0; i < total; i++ {
		chunk := data[i*ChunkSize : min((i+1)*ChunkSize, len(data))]
		buf := EncodeChunk(i, chunk, ChunkPadding(animation, len(data), i))
		if _, err := c.exchange(ctx, "upload_chunk", buf); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i, total, err)
		}
		if c.opts.Progress != nil {
			c.opts.Progress(i+1, total)
		}
	}

	_, err := c.Exec(ctx, comm.Command{ID: comm.CmdUploadEnd, Args: []byte{1}})
	return err
}

// exchange writes one report and returns the payload of its reply.
func (c *Client) exchange(ctx context.Context, op string, buf []byte) ([]byte, error) {
	reply, err := c.roundTrip(ctx, op, buf)
	if err != nil {
		return nil, err
	}
	return checkReply(op, reply)
}

// roundTrip writes one report and waits for the raw reply.
func (c *Client) roundTrip(ctx context.Context, op string, buf []byte) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, comm.NewError(comm.Disconnected, op, ErrClosed)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ExchangeTimeout)
	defer cancel()

	// discard replies to earlier exchanges that timed out
	for drained := false; !drained; {
		select {
		case <-c.replies:
		default:
			drained = true
		}
	}

	if err := c.write(ctx, op, buf); err != nil {
		return nil, err
	}

	select {
	case reply := <-c.replies:
		return reply, nil
	case <-c.done:
		return nil, c.readFailure(op)
	case <-ctx.Done():
		return nil, comm.Classify(op, ctx.Err())
	}
}

func (c *Client) write(ctx context.Context, op string, buf []byte) error {
	errc := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		_, err := c.port.Write(buf)
		errc <- err
	}()

	select {
	case err := <-errc:
		return comm.Classify(op, err)
	case <-c.done:
		return c.readFailure(op)
	case <-ctx.Done():
		return comm.Classify(op, ctx.Err())
	}
}

func (c *Client) readFailure(op string) error {
	err := c.readErr
	if err == nil || errors.Is(err, io.EOF) {
		return comm.NewError(comm.Disconnected, op, io.EOF)
	}
	return comm.NewError(comm.Disconnected, op, err)
}

// Close releases the port. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.port.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}
