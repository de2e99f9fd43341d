// Package ipc implements the daemon's local control socket: newline
// delimited JSON messages over TCP.
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

// Handler serves one request type. The returned data is sent back in the
// response; an error is sent as an error_response.
type Handler func(msg types.IPCMessage) (map[string]interface{}, error)

// Client is one connected peer.
type Client struct {
	ID        string
	Conn      net.Conn
	Send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

type IPCServer struct {
	config       types.IPCConfig
	clients      map[string]*Client
	clientsLock  sync.RWMutex
	handlers     map[string]Handler
	handlersLock sync.RWMutex
	server       net.Listener
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       *logging.Logger
}

func NewIPCServer(config types.IPCConfig) *IPCServer {
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IPCServer{
		config:   config,
		clients:  make(map[string]*Client),
		handlers: make(map[string]Handler),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.GetLogger("ipc_server"),
	}
}

func (s *IPCServer) Start() error {
	address := net.JoinHostPort(s.config.Address, strconv.Itoa(s.config.Port))

	var err error
	s.server, err = net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}
	s.logger.Info("IPC server started", "address", s.server.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Addr returns the listening address once started.
func (s *IPCServer) Addr() net.Addr {
	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

func (s *IPCServer) Stop() error {
	s.cancel()
	if s.server != nil {
		s.server.Close()
	}

	s.clientsLock.Lock()
	for _, client := range s.clients {
		s.closeClient(client)
	}
	s.clientsLock.Unlock()

	s.wg.Wait()
	s.logger.Info("IPC server stopped")
	return nil
}

// Clients returns the number of connected peers.
func (s *IPCServer) Clients() int {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	return len(s.clients)
}

// closeClient closes the connection. Send is never closed, so concurrent
// broadcasts stay safe; the writer exits on closed.
func (s *IPCServer) closeClient(client *Client) {
	client.closeOnce.Do(func() {
		close(client.closed)
		client.Conn.Close()
		s.logger.Debug("Client closed", "client", client.ID)
	})
}

func (s *IPCServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.server.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept error", "error", err)
			continue
		}

		client := &Client{
			ID:     uuid.NewString(),
			Conn:   conn,
			Send:   make(chan []byte, s.config.BufferSize),
			closed: make(chan struct{}),
		}

		s.clientsLock.Lock()
		if s.ctx.Err() != nil {
			s.clientsLock.Unlock()
			conn.Close()
			return
		}
		s.clients[client.ID] = client
		s.clientsLock.Unlock()

		s.wg.Add(2)
		go s.handleClient(client)
		go s.sendToClient(client)

		s.logger.Info("Client connected", "client", client.ID, "remote", conn.RemoteAddr().String())
	}
}

func (s *IPCServer) handleClient(client *Client) {
	defer s.wg.Done()
	defer func() {
		s.clientsLock.Lock()
		delete(s.clients, client.ID)
		s.clientsLock.Unlock()
		s.closeClient(client)
	}()

	decoder := json.NewDecoder(client.Conn)
	for {
		var message types.IPCMessage
		if err := decoder.Decode(&message); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.logger.Info("Client disconnected", "client", client.ID)
			case errors.Is(err, net.ErrClosed):
			default:
				s.logger.Warn("Client decode error", "client", client.ID, "error", err)
			}
			return
		}

		message.Source = client.ID
		s.routeMessage(client, message)
	}
}

func (s *IPCServer) sendToClient(client *Client) {
	defer s.wg.Done()

	for {
		select {
		case <-client.closed:
			return
		case data := <-client.Send:
			if err := client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				s.closeClient(client)
				return
			}
			if _, err := client.Conn.Write(data); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Warn("Send to client failed", "client", client.ID, "error", err)
				}
				s.closeClient(client)
				return
			}
		}
	}
}

func (s *IPCServer) routeMessage(client *Client, message types.IPCMessage) {
	s.handlersLock.RLock()
	handler, exists := s.handlers[message.Type]
	s.handlersLock.RUnlock()

	reply := types.IPCMessage{
		Type:      types.ResponseType(message.Type),
		Source:    "daemon",
		Target:    client.ID,
		Timestamp: time.Now(),
		ID:        message.ID,
	}
	if !exists {
		s.logger.Warn("Unknown message type", "client", client.ID, "type", message.Type)
		reply.Type = types.MsgError
		reply.Data = map[string]interface{}{"error": "unknown message type " + strconv.Quote(message.Type)}
	} else if data, err := handler(message); err != nil {
		reply.Type = types.MsgError
		reply.Data = map[string]interface{}{"error": err.Error()}
	} else {
		reply.Data = data
	}

	if err := s.SendToClient(client.ID, reply); err != nil {
		s.logger.Warn("Reply not delivered", "client", client.ID, "type", message.Type, "error", err)
	}
}

func encode(message types.IPCMessage) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return append(data, '\n'), nil
}

// Broadcast queues message for every client. Slow clients miss it.
func (s *IPCServer) Broadcast(message types.IPCMessage) error {
	data, err := encode(message)
	if err != nil {
		return err
	}

	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	for _, client := range s.clients {
		select {
		case client.Send <- data:
		default:
			s.logger.Warn("Client send buffer full", "client", client.ID)
		}
	}
	return nil
}

func (s *IPCServer) SendToClient(clientID string, message types.IPCMessage) error {
	data, err := encode(message)
	if err != nil {
		return err
	}

	s.clientsLock.RLock()
	client, exists := s.clients[clientID]
	s.clientsLock.RUnlock()
	if !exists {
		return fmt.Errorf("client not found: %s", clientID)
	}

	select {
	case client.Send <- data:
		return nil
	case <-client.closed:
		return fmt.Errorf("client closed: %s", clientID)
	case <-time.After(5 * time.Second):
		return fmt.Errorf("send timeout for client: %s", clientID)
	}
}

func (s *IPCServer) RegisterHandler(messageType string, handler Handler) {
	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()
	s.handlers[messageType] = handler
}

// ToData converts a JSON-serializable value into message data.
func ToData(v any) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// FromData decodes message data into v.
func FromData(data map[string]interface{}, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
