// Package serial opens the screen module's USB CDC port with go-serial.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jacobsa/go-serial/serial"

	"screensync/internal/hardware/comm"
	"screensync/internal/hardware/protocols/report"
	"screensync/internal/logging"
)

// Config describes a serial line.
type Config struct {
	PortName    string `yaml:"port_name"` // e.g. "/dev/ttyACM0"
	BaudRate    int    `yaml:"baud_rate"`
	DataBits    int    `yaml:"data_bits"`
	StopBits    int    `yaml:"stop_bits"`
	Parity      string `yaml:"parity"` // "N", "E" or "O"
	FlowControl bool   `yaml:"flow_control"`
}

// readTimeoutMs lets blocked reads return so closing the port is noticed.
// The driver rounds it to tenths of a second.
const readTimeoutMs = 100

var ErrNoPort = errors.New("no serial port configured")

// Options converts cfg to go-serial open options, filling defaults.
func Options(cfg Config) (serial.OpenOptions, error) {
	if cfg.PortName == "" {
		return serial.OpenOptions{}, ErrNoPort
	}
	opts := serial.OpenOptions{
		PortName:              cfg.PortName,
		BaudRate:              uint(cfg.BaudRate),
		DataBits:              uint(cfg.DataBits),
		StopBits:              uint(cfg.StopBits),
		InterCharacterTimeout: readTimeoutMs,
		MinimumReadSize:       0,
		RTSCTSFlowControl:     cfg.FlowControl,
	}
	if opts.BaudRate == 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}

	switch strings.ToUpper(cfg.Parity) {
	case "", "N":
		opts.ParityMode = serial.PARITY_NONE
	case "E":
		opts.ParityMode = serial.PARITY_EVEN
	case "O":
		opts.ParityMode = serial.PARITY_ODD
	default:
		return serial.OpenOptions{}, fmt.Errorf("unknown parity %q", cfg.Parity)
	}
	return opts, nil
}

// Opener returns a report.Opener for the configured line. Replies on a
// serial line arrive as a byte stream, so channels built on it must set
// report.Options.Stream.
func Opener(cfg Config) report.Opener {
	logger := logging.GetLogger("serial")
	return func(ctx context.Context) (report.Port, comm.DeviceInfo, error) {
		opts, err := Options(cfg)
		if err != nil {
			return nil, comm.DeviceInfo{}, comm.NewError(comm.NotFound, "open", err)
		}
		if _, err := os.Stat(opts.PortName); err != nil {
			return nil, comm.DeviceInfo{}, comm.Classify("open", err)
		}

		port, err := serial.Open(opts)
		if err != nil {
			return nil, comm.DeviceInfo{}, comm.Classify("open", fmt.Errorf("failed to open serial port %s: %w", opts.PortName, err))
		}
		logger.Debug("Serial port opened", "port", opts.PortName, "baud", opts.BaudRate)
		return &linePort{ReadWriteCloser: port}, comm.DeviceInfo{Path: opts.PortName, Transport: "serial"}, nil
	}
}

// linePort drops the leading report id on writes; serial firmware expects
// the report body only.
type linePort struct {
	io.ReadWriteCloser
}

func (p *linePort) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := p.ReadWriteCloser.Write(buf[1:])
	if err != nil {
		return n, err
	}
	return n + 1, nil
}
