// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package linktest provides an in-memory link.Endpoint for tests.
package linktest

import (
	"bytes"
	"io"
	"sync"
	"time"
)

const defaultTimeout = 10 * time.Millisecond

// Endpoint is an in-memory endpoint. Bytes passed to Feed are returned by
// Read; bytes passed to Write are recorded and handed to OnWrite.
type Endpoint struct {
	name string

	mu       sync.Mutex
	in       []byte
	written  bytes.Buffer
	timeout  time.Duration
	closed   bool
	readErr  error
	writeErr error
	onWrite  func(p []byte)
	reads    int

	notify chan struct{}
}

// New creates an endpoint with a short read timeout
func New(name string) *Endpoint {
	return &Endpoint{
		name:    name,
		timeout: defaultTimeout,
		notify:  make(chan struct{}, 1),
	}
}

// NewEcho creates an endpoint that echoes every write, like a shell
func NewEcho(name string) *Endpoint {
	e := New(name)
	e.OnWrite(e.Feed)
	return e
}

// Feed makes p available to Read
func (e *Endpoint) Feed(p []byte) {
	e.mu.Lock()
	e.in = append(e.in, p...)
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// OnWrite installs a hook called after each successful Write
func (e *Endpoint) OnWrite(fn func(p []byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onWrite = fn
}

// FailReads makes every following Read return err
func (e *Endpoint) FailReads(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readErr = err
}

// FailWrites makes every following Write return err
func (e *Endpoint) FailWrites(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeErr = err
}

// Written returns everything written so far
func (e *Endpoint) Written() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.written.String()
}

// Reads returns the number of Read calls that returned data or an error
func (e *Endpoint) Reads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reads
}

// Closed reports whether Close was called
func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Endpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	timeout := e.timeout
	e.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		e.mu.Lock()
		switch {
		case e.closed:
			e.mu.Unlock()
			return 0, io.ErrClosedPipe
		case e.readErr != nil:
			err := e.readErr
			e.reads++
			e.mu.Unlock()
			return 0, err
		case len(e.in) > 0:
			n := copy(p, e.in)
			e.in = e.in[n:]
			e.reads++
			e.mu.Unlock()
			return n, nil
		}
		e.mu.Unlock()

		select {
		case <-e.notify:
		case <-timer.C:
			return 0, nil
		}
	}
}

func (e *Endpoint) Write(p []byte) (int, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if e.writeErr != nil {
		err := e.writeErr
		e.mu.Unlock()
		return 0, err
	}
	e.written.Write(p)
	hook := e.onWrite
	e.mu.Unlock()

	if hook != nil {
		hook(append([]byte(nil), p...))
	}
	return len(p), nil
}

// SetReadTimeout implements link.Endpoint
func (e *Endpoint) SetReadTimeout(d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d <= 0 {
		d = defaultTimeout
	}
	e.timeout = d
	return nil
}

// Name implements link.Endpoint
func (e *Endpoint) Name() string {
	return e.name
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
	return nil
}
