// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/pdscope/pkg/link/linktest"
)

var _ Endpoint = (*linktest.Endpoint)(nil)
var _ Endpoint = (*SerialEndpoint)(nil)
var _ Endpoint = (*WebSocketEndpoint)(nil)

// ============================================================
// Discovery Tests
// ============================================================

func TestPairNames(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    []Pair
		wantErr error
	}{
		{name: "empty", input: nil, want: []Pair{}},
		{
			name:  "sorted pairs",
			input: []string{"twinkiev2-b1", "twinkiev2-a0", "twinkiev2-a1", "twinkiev2-b0"},
			want: []Pair{
				{A: "twinkiev2-a0", B: "twinkiev2-a1"},
				{A: "twinkiev2-b0", B: "twinkiev2-b1"},
			},
		},
		{
			name:    "odd count",
			input:   []string{"twinkiev2-0", "twinkiev2-1", "twinkiev2-2"},
			want:    []Pair{{A: "twinkiev2-0", B: "twinkiev2-1"}},
			wantErr: ErrOddCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PairNames(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPairNames_DoesNotModifyInput(t *testing.T) {
	input := []string{"b", "a"}
	PairNames(input)
	assert.Equal(t, []string{"b", "a"}, input)
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"twinkiev2-1", "ttyUSB0", "twinkiev2-0", "null"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), nil, 0o600))
	}

	pairs, err := Discover(root, DefaultPrefix)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, filepath.Join(root, "twinkiev2-0"), pairs[0].A)
	assert.Equal(t, filepath.Join(root, "twinkiev2-1"), pairs[0].B)
}

func TestDiscover_NoMatches(t *testing.T) {
	pairs, err := Discover(t.TempDir(), DefaultPrefix)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestDiscover_UnreadableRoot(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "missing"), DefaultPrefix)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckPairs(t *testing.T) {
	ports := []PortInfo{
		{Name: "/dev/ttyACM0", IsUSB: true, SerialNumber: "AAA"},
		{Name: "/dev/ttyACM1", IsUSB: true, SerialNumber: "AAA"},
		{Name: "/dev/ttyACM2", IsUSB: true, SerialNumber: "BBB"},
		{Name: "/dev/ttyACM3", IsUSB: true, SerialNumber: "CCC"},
	}
	links := map[string]string{
		"/dev/twinkiev2-0": "/dev/ttyACM0",
		"/dev/twinkiev2-1": "/dev/ttyACM1",
		"/dev/twinkiev2-2": "/dev/ttyACM2",
		"/dev/twinkiev2-3": "/dev/ttyACM3",
	}
	resolve := func(name string) (string, error) {
		if target, ok := links[name]; ok {
			return target, nil
		}
		return "", os.ErrNotExist
	}

	reports := checkPairs([]Pair{
		{A: "/dev/twinkiev2-0", B: "/dev/twinkiev2-1"},
		{A: "/dev/twinkiev2-2", B: "/dev/twinkiev2-3"},
		{A: "/dev/twinkiev2-4", B: "/dev/twinkiev2-5"},
	}, ports, resolve)

	require.Len(t, reports, 3)
	assert.False(t, reports[0].Mismatch)
	assert.Equal(t, "AAA", reports[0].A.SerialNumber)
	assert.True(t, reports[1].Mismatch)
	assert.Nil(t, reports[2].A, "unknown entries have no port info")
	assert.False(t, reports[2].Mismatch)
}

// ============================================================
// Open Tests
// ============================================================

func TestOpen_ClosesFirstOnFailure(t *testing.T) {
	a := linktest.New("a")
	openErr := errors.New("no such device")

	open := func(name string) (Endpoint, error) {
		if name == "a" {
			return a, nil
		}
		return nil, openErr
	}

	_, err := Open(Pair{A: "a", B: "b"}, open)
	assert.ErrorIs(t, err, openErr)
	assert.True(t, a.Closed(), "first endpoint must be released")
}

func TestSerialOptions_Normalize(t *testing.T) {
	opts := SerialOptions{}.Normalize()
	assert.Equal(t, DefaultBaudRate, opts.BaudRate)
	assert.Equal(t, DefaultReadTimeout, opts.ReadTimeout)

	mode := SerialOptions{BaudRate: 9600}.Mode()
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
}

// ============================================================
// Role Identification Tests
// ============================================================

func TestIdentifyRoles(t *testing.T) {
	tests := []struct {
		name      string
		aEchoes   bool
		bEchoes   bool
		want      ProbeResult
		wantShell string
	}{
		{"A is shell", true, false, ProbeEchoA, "a"},
		{"B is shell", false, true, ProbeEchoB, "b"},
		{"both echo", true, true, ProbeEchoA, "a"},
		{"neither echoes", false, false, ProbeGuessed, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := linktest.New("a"), linktest.New("b")
			if tt.aEchoes {
				a.OnWrite(a.Feed)
			}
			if tt.bEchoes {
				b.OnWrite(b.Feed)
			}

			dev, result := IdentifyRoles(context.Background(), &Device{A: a, B: b}, 50*time.Millisecond)
			assert.Equal(t, tt.want, result)
			assert.Equal(t, tt.wantShell, dev.Shell.Name())
			assert.NotEqual(t, dev.Shell.Name(), dev.Snooper.Name())
			assert.Equal(t, "\r\n", a.Written(), "A is always probed first")
		})
	}
}

func TestIdentifyRoles_WriteFailureIsNoEcho(t *testing.T) {
	a, b := linktest.New("a"), linktest.NewEcho("b")
	a.FailWrites(errors.New("write failed"))

	dev, result := IdentifyRoles(context.Background(), &Device{A: a, B: b}, 50*time.Millisecond)
	assert.Equal(t, ProbeEchoB, result)
	assert.Equal(t, "b", dev.Shell.Name())
}

func TestRoledDevice_CloseOnce(t *testing.T) {
	a, b := linktest.New("a"), linktest.New("b")
	dev := &RoledDevice{Shell: a, Snooper: b}
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
}

// ============================================================
// WebSocket Endpoint Tests
// ============================================================

func TestWebSocketEndpoint(t *testing.T) {
	received := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte("banner"))
		conn.WriteMessage(websocket.BinaryMessage, []byte("snoop"))

		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- data
		}
		conn.ReadMessage()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ep, err := DialWebSocket(context.Background(), wsURL, BridgeOptions{ReadTimeout: time.Second})
	require.NoError(t, err)
	defer ep.Close()

	buf := make([]byte, 3)
	n, err := ep.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "sno", string(buf[:n]), "text messages are skipped")
	n, err = ep.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "op", string(buf[:n]))

	require.NoError(t, ep.SetReadTimeout(20*time.Millisecond))
	n, err = ep.Read(buf)
	assert.NoError(t, err, "timeout is not an error")
	assert.Zero(t, n)

	_, err = ep.Write([]byte("start\n"))
	require.NoError(t, err)
	select {
	case data := <-received:
		assert.Equal(t, "start\n", string(data))
	case <-time.After(time.Second):
		t.Fatal("server did not receive write")
	}
}

func TestDialWebSocket_BadScheme(t *testing.T) {
	_, err := DialWebSocket(context.Background(), "http://localhost/x", BridgeOptions{})
	assert.ErrorIs(t, err, ErrOpen)
}
