// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket endpoint
var ErrConnectionClosed = errors.New("websocket connection closed")

// BridgeOptions configures a WebSocket bridge connection
type BridgeOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	ReadTimeout   time.Duration
}

// WebSocketEndpoint exposes a bridged snooper stream as an Endpoint.
// Binary messages carry the stream bytes; other message types are skipped.
type WebSocketEndpoint struct {
	conn *websocket.Conn
	name string

	mu      sync.Mutex
	timeout time.Duration
	buf     []byte

	chunks    chan []byte
	readErr   error
	done      chan struct{}
	closeOnce sync.Once
}

// DialWebSocket connects to a bridge URL (ws:// or wss://) with optional
// HTTP Basic auth
func DialWebSocket(ctx context.Context, wsURL string, opts BridgeOptions) (*WebSocketEndpoint, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %v", ErrOpen, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported URL scheme: %s (use ws:// or wss://)", ErrOpen, u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusConflict {
				return nil, fmt.Errorf("%w: %s (HTTP %d)", ErrBusy, wsURL, resp.StatusCode)
			}
			return nil, fmt.Errorf("%w: %s (HTTP %d): %v", ErrOpen, wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, wsURL, err)
	}

	timeout := opts.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return newWebSocketEndpoint(conn, wsURL, timeout), nil
}

func newWebSocketEndpoint(conn *websocket.Conn, name string, timeout time.Duration) *WebSocketEndpoint {
	w := &WebSocketEndpoint{
		conn:    conn,
		name:    name,
		timeout: timeout,
		chunks:  make(chan []byte, 16),
		done:    make(chan struct{}),
	}
	go w.readLoop()
	return w
}

// readLoop moves binary messages onto the chunk channel so Read can wait
// with a timeout
func (w *WebSocketEndpoint) readLoop() {
	defer close(w.chunks)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case w.chunks <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocketEndpoint) Read(p []byte) (int, error) {
	w.mu.Lock()
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		w.mu.Unlock()
		return n, nil
	}
	timeout := w.timeout
	w.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data, ok := <-w.chunks:
		if !ok {
			w.mu.Lock()
			err := w.readErr
			w.mu.Unlock()
			if err == nil {
				return 0, ErrConnectionClosed
			}
			return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		n := copy(p, data)
		w.mu.Lock()
		w.buf = data[n:]
		w.mu.Unlock()
		return n, nil
	case <-timer.C:
		return 0, nil
	case <-w.done:
		return 0, ErrConnectionClosed
	}
}

func (w *WebSocketEndpoint) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadTimeout implements Endpoint
func (w *WebSocketEndpoint) SetReadTimeout(d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = d
	return nil
}

// Name implements Endpoint
func (w *WebSocketEndpoint) Name() string {
	return w.name
}

func (w *WebSocketEndpoint) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

// WebSocketOpener returns an OpenFunc that treats names as bridge URLs
func WebSocketOpener(ctx context.Context, opts BridgeOptions) OpenFunc {
	return func(name string) (Endpoint, error) {
		return DialWebSocket(ctx, name, opts)
	}
}
