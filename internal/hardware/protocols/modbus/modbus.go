// Package modbus reads sensor registers over Modbus TCP or RTU for the
// temperature providers.
package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"screensync/internal/hardware/comm"
	"screensync/internal/provider"
)

// Config describes one Modbus slave.
type Config struct {
	comm.ConnectionConfig `yaml:",inline"`

	Type     string `yaml:"type"`    // "tcp" or "rtu"
	Address  string `yaml:"address"` // TCP host or serial device
	Port     int    `yaml:"port"`    // TCP port
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"` // "N", "E" or "O"
	SlaveID  byte   `yaml:"slave_id"`
}

type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Client is a lazily connected Modbus master. A broken connection is
// dropped and re-established on the next read.
type Client struct {
	*comm.BaseCommunication
	config Config

	mu      sync.Mutex
	handler handler
	client  modbus.Client
}

func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.Port == 0 {
		config.Port = 502
	}
	c := &Client{
		BaseCommunication: comm.NewBaseCommunication(config.ConnectionConfig, "modbus"),
		config:            config,
	}
	c.SetErrorHandler(timeoutsOnly{})
	return c
}

// Connect opens the transport if it is not open yet.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.client != nil {
		return nil
	}
	c.SetStatus(comm.StatusConnecting)

	var h handler
	switch c.config.Type {
	case "tcp", "":
		th := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", c.config.Address, c.config.Port))
		th.Timeout = c.config.Timeout
		th.SlaveId = c.config.SlaveID
		h = th
	case "rtu":
		rh := modbus.NewRTUClientHandler(c.config.Address)
		rh.BaudRate = c.config.BaudRate
		rh.DataBits = c.config.DataBits
		rh.StopBits = c.config.StopBits
		rh.Parity = c.config.Parity
		rh.SlaveId = c.config.SlaveID
		rh.Timeout = c.config.Timeout
		if rh.BaudRate == 0 {
			rh.BaudRate = 9600
		}
		if rh.DataBits == 0 {
			rh.DataBits = 8
		}
		if rh.StopBits == 0 {
			rh.StopBits = 1
		}
		if rh.Parity == "" {
			rh.Parity = "N"
		}
		h = rh
	default:
		return provider.NewPermanent(fmt.Errorf("unsupported Modbus type: %s", c.config.Type))
	}

	if err := h.Connect(); err != nil {
		c.SetStatus(comm.StatusError)
		return c.HandleWithError(comm.Classify("connect", fmt.Errorf("failed to connect Modbus %s: %w", c.config.Address, err)))
	}
	c.handler = h
	c.client = modbus.NewClient(h)
	c.MarkConnected()
	return nil
}

// Close drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.handler == nil {
		return nil
	}
	err := c.handler.Close()
	c.handler, c.client = nil, nil
	c.MarkDisconnected()
	return err
}

// ReadRegister reads one holding or input register.
func (c *Client) ReadRegister(ctx context.Context, address uint16, input bool) (uint16, error) {
	var value uint16
	err := c.RetryWithTimeout(ctx, func(ctx context.Context) error {
		raw, err := c.read(ctx, address, input)
		if err != nil {
			return err
		}
		if len(raw) < 2 {
			return comm.NewError(comm.Rejected, "read", fmt.Errorf("short response: %d bytes", len(raw)))
		}
		value = binary.BigEndian.Uint16(raw)
		return nil
	})
	if err != nil {
		return 0, c.HandleWithError(err)
	}
	return value, nil
}

func (c *Client) read(ctx context.Context, address uint16, input bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	client := c.client
	done := make(chan result, 1)
	go func() {
		var r result
		if input {
			r.data, r.err = client.ReadInputRegisters(address, 1)
		} else {
			r.data, r.err = client.ReadHoldingRegisters(address, 1)
		}
		done <- r
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.data, nil
		}
		err := classify(address, r.err)
		if comm.IsKind(err, comm.Disconnected) || comm.IsKind(err, comm.Timeout) {
			c.closeLocked()
		}
		return nil, err
	case <-ctx.Done():
		// the handler has its own deadline; the abandoned request ends there
		c.closeLocked()
		return nil, comm.Classify("read", ctx.Err())
	}
}

// classify maps exceptions from the slave. An illegal address or function
// will not fix itself, so the provider stops polling.
func classify(address uint16, err error) error {
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		switch me.ExceptionCode {
		case modbus.ExceptionCodeIllegalFunction, modbus.ExceptionCodeIllegalDataAddress:
			return provider.NewPermanent(fmt.Errorf("register %d: %w", address, err))
		}
		return comm.NewError(comm.Rejected, "read", err)
	}
	return comm.Classify("read", err)
}

type timeoutsOnly struct{}

func (timeoutsOnly) ShouldRetry(err error) bool {
	return comm.IsKind(err, comm.Timeout) || comm.IsKind(err, comm.Disconnected)
}

func (timeoutsOnly) GetRetryDelay(error) time.Duration {
	return 0
}
