package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"screensync/internal/logging"
	"screensync/pkg/types"
)

var ErrNotConnected = errors.New("not connected to server")

// RemoteError is an error_response from the daemon.
type RemoteError struct {
	Type string
	Msg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Msg)
}

type IPCClient struct {
	config  types.IPCConfig
	conn    net.Conn
	encoder *json.Encoder
	writeMu sync.Mutex

	pending     map[string]chan types.IPCMessage
	pendingLock sync.Mutex
	events      chan types.IPCMessage

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *logging.Logger
}

func NewIPCClient(config types.IPCConfig) *IPCClient {
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &IPCClient{
		config:  config,
		pending: make(map[string]chan types.IPCMessage),
		events:  make(chan types.IPCMessage, config.BufferSize),
		done:    make(chan struct{}),
		logger:  logging.GetLogger("ipc_client"),
	}
}

func (c *IPCClient) Connect() error {
	address := net.JoinHostPort(c.config.Address, strconv.Itoa(c.config.Port))

	conn, err := net.DialTimeout("tcp", address, c.config.Timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to IPC server: %w", err)
	}
	c.conn = conn
	c.encoder = json.NewEncoder(conn)

	c.wg.Add(1)
	go c.receiveMessages()

	c.logger.Debug("Connected to IPC server", "address", address)
	return nil
}

// Disconnect closes the connection and waits for the reader to exit.
func (c *IPCClient) Disconnect() {
	if c.conn == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	c.wg.Wait()
}

// Events delivers broadcast messages. It is closed when the connection
// ends.
func (c *IPCClient) Events() <-chan types.IPCMessage {
	return c.events
}

// Request sends a message and waits for its reply.
func (c *IPCClient) Request(ctx context.Context, msgType string, data map[string]interface{}) (types.IPCMessage, error) {
	if c.conn == nil {
		return types.IPCMessage{}, ErrNotConnected
	}
	message := types.IPCMessage{
		Type:      msgType,
		Source:    "screenctl",
		Target:    "daemon",
		Data:      data,
		Timestamp: time.Now(),
		ID:        uuid.NewString(),
	}

	reply := make(chan types.IPCMessage, 1)
	c.pendingLock.Lock()
	c.pending[message.ID] = reply
	c.pendingLock.Unlock()
	defer func() {
		c.pendingLock.Lock()
		delete(c.pending, message.ID)
		c.pendingLock.Unlock()
	}()

	if err := c.send(message); err != nil {
		return types.IPCMessage{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	select {
	case r := <-reply:
		if r.Type == types.MsgError {
			msg, _ := r.Data["error"].(string)
			return r, &RemoteError{Type: msgType, Msg: msg}
		}
		return r, nil
	case <-c.done:
		return types.IPCMessage{}, ErrNotConnected
	case <-ctx.Done():
		return types.IPCMessage{}, fmt.Errorf("%s: %w", msgType, ctx.Err())
	}
}

func (c *IPCClient) send(message types.IPCMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.Timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	// Encode appends the newline delimiter
	if err := c.encoder.Encode(message); err != nil {
		return fmt.Errorf("send %s: %w", message.Type, err)
	}
	return nil
}

func (c *IPCClient) receiveMessages() {
	defer c.wg.Done()
	defer close(c.events)

	decoder := json.NewDecoder(c.conn)
	for {
		var message types.IPCMessage
		if err := decoder.Decode(&message); err != nil {
			select {
			case <-c.done:
			default:
				if errors.Is(err, io.EOF) {
					c.logger.Info("Server closed the connection")
				} else {
					c.logger.Error("Receive error", "error", err)
				}
				c.closeOnce.Do(func() {
					close(c.done)
					c.conn.Close()
				})
			}
			return
		}
		c.routeMessage(message)
	}
}

func (c *IPCClient) routeMessage(message types.IPCMessage) {
	c.pendingLock.Lock()
	reply, waiting := c.pending[message.ID]
	c.pendingLock.Unlock()

	if waiting && message.ID != "" {
		reply <- message
		return
	}
	select {
	case c.events <- message:
	default:
		c.logger.Warn("Event buffer full, dropping message", "message_type", message.Type)
	}
}
