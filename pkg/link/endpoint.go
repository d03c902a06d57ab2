// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

var (
	// ErrBusy is returned when another process holds the endpoint
	ErrBusy = errors.New("endpoint busy")

	// ErrOpen is returned when an endpoint cannot be opened
	ErrOpen = errors.New("endpoint open failed")

	// ErrConfigure is returned when an endpoint rejects its settings
	ErrConfigure = errors.New("endpoint configuration failed")
)

// Endpoint is one bidirectional byte stream of a snooper
type Endpoint interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds how long Read waits for data. A Read that
	// times out returns 0 bytes and a nil error.
	SetReadTimeout(d time.Duration) error

	// Name identifies the endpoint in logs
	Name() string
}

// OpenFunc opens an endpoint by name
type OpenFunc func(name string) (Endpoint, error)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 100 * time.Millisecond
)

// SerialOptions configures serial endpoints
type SerialOptions struct {
	BaudRate    int
	ReadTimeout time.Duration
	Exclusive   bool // take an advisory lock on the device node
}

// Normalize fills zero fields with defaults
func (o SerialOptions) Normalize() SerialOptions {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// Mode returns the 8N1 serial mode at the configured baud rate
func (o SerialOptions) Mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: o.Normalize().BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// SerialEndpoint wraps a serial port
type SerialEndpoint struct {
	port serial.Port
	name string
	lock io.Closer
}

// OpenSerial opens a serial device as an endpoint
func OpenSerial(name string, opts SerialOptions) (*SerialEndpoint, error) {
	opts = opts.Normalize()

	var lock io.Closer
	if opts.Exclusive {
		l, err := lockDevice(name)
		if err != nil {
			return nil, err
		}
		lock = l
	}

	port, err := serial.Open(name, opts.Mode())
	if err != nil {
		if lock != nil {
			lock.Close()
		}
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortBusy {
			return nil, fmt.Errorf("%w: %s", ErrBusy, name)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, name, err)
	}

	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		if lock != nil {
			lock.Close()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigure, name, err)
	}

	log.WithField("port", name).WithField("baud", opts.BaudRate).Debug("serial endpoint opened")
	return &SerialEndpoint{port: port, name: name, lock: lock}, nil
}

// SerialOpener returns an OpenFunc for serial devices
func SerialOpener(opts SerialOptions) OpenFunc {
	return func(name string) (Endpoint, error) {
		return OpenSerial(name, opts)
	}
}

func (s *SerialEndpoint) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialEndpoint) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// SetReadTimeout implements Endpoint
func (s *SerialEndpoint) SetReadTimeout(d time.Duration) error {
	return s.port.SetReadTimeout(d)
}

// Name implements Endpoint
func (s *SerialEndpoint) Name() string {
	return s.name
}

func (s *SerialEndpoint) Close() error {
	err := s.port.Close()
	if s.lock != nil {
		s.lock.Close()
	}
	return err
}
