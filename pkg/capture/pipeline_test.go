// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/pdscope/pkg/catalog"
	"github.com/Thermoquad/pdscope/pkg/link"
	"github.com/Thermoquad/pdscope/pkg/link/linktest"
	"github.com/Thermoquad/pdscope/pkg/snooper"
)

// ============================================================
// Test Helpers
// ============================================================

var testClock = time.Date(2025, 3, 2, 1, 2, 3, 4*int(time.Millisecond), time.UTC)

// testStream builds n sealed PS_RDY records with sequences 1..n
func testStream(n int) []byte {
	h := snooper.NewHeader(uint8(snooper.CtrlPSReady), 0, false, 1, snooper.Revision30,
		snooper.PowerRoleSource, snooper.DataRoleDFP)
	msg := binary.LittleEndian.AppendUint16(nil, uint16(h))

	var out []byte
	for i := 1; i <= n; i++ {
		frame := snooper.NewFrameType(snooper.SOP, snooper.PolarityCC1, 1, false, false)
		out = append(out, snooper.NewPacket(uint32(i), frame, msg).Bytes()...)
	}
	return out
}

type fixture struct {
	shell   *linktest.Endpoint
	snooper *linktest.Endpoint
	roles   *link.RoledDevice
	dir     string
}

// newFixture creates a shell that releases data on the snooper once it
// receives the start command, like the real firmware
func newFixture(t *testing.T, data []byte) *fixture {
	t.Helper()
	f := &fixture{
		shell:   linktest.New("shell"),
		snooper: linktest.New("snooper"),
		dir:     t.TempDir(),
	}
	f.shell.OnWrite(func(p []byte) {
		if string(p) == shellStart {
			f.snooper.Feed(data)
		}
	})
	f.roles = &link.RoledDevice{Shell: f.shell, Snooper: f.snooper}
	return f
}

func testOptions(dir string) Options {
	opts := DefaultOptions()
	opts.OutputDir = dir
	opts.ResetSettle = 0
	opts.StartupDelay = 0
	opts.ReadTimeout = 5 * time.Millisecond
	opts.ProbeTimeout = 20 * time.Millisecond
	opts.Now = func() time.Time { return testClock }
	return opts
}

// shutdownAfter returns a listener that shuts p down once n packet events
// have been seen, and a counter of those events
func shutdownAfter(p **Pipeline, n int64) (func(Event), *atomic.Int64) {
	var packets atomic.Int64
	return func(ev Event) {
		if ev.Kind != EventPacket && ev.Kind != EventInvalidPacket {
			return
		}
		if packets.Add(1) == n {
			(*p).Shutdown()
		}
	}, &packets
}

func runWithTimeout(t *testing.T, p *Pipeline) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.Run(ctx)
	require.NoError(t, ctx.Err(), "pipeline did not finish in time")
	return err
}

func captureFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.bin"))
	require.NoError(t, err)
	return files
}

// stuckEndpoint ignores its read timeout: Read blocks until Close
type stuckEndpoint struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func newStuckEndpoint() *stuckEndpoint {
	return &stuckEndpoint{closed: make(chan struct{})}
}

func (e *stuckEndpoint) Read(p []byte) (int, error) {
	<-e.closed
	return 0, io.ErrClosedPipe
}

func (e *stuckEndpoint) Write(p []byte) (int, error) { return len(p), nil }

func (e *stuckEndpoint) SetReadTimeout(time.Duration) error { return nil }

func (e *stuckEndpoint) Name() string { return "stuck" }

func (e *stuckEndpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	started []catalog.Session
	ended   []catalog.Session
}

func (r *fakeRecorder) StartSession(_ context.Context, s catalog.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, s)
	return nil
}

func (r *fakeRecorder) EndSession(_ context.Context, s catalog.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, s)
	return nil
}

// ============================================================
// State Machine Tests
// ============================================================

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		allowed  bool
	}{
		{StateIdle, StateProbing, true},
		{StateIdle, StateCapturing, true},
		{StateProbing, StateCapturing, true},
		{StateCapturing, StateDraining, true},
		{StateDraining, StateStopped, true},
		{StateCapturing, StateIdle, false},
		{StateStopped, StateCapturing, false},
		{StateDraining, StateCapturing, false},
		{StateIdle, StateDraining, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("drop")
	require.NoError(t, err)
	assert.Equal(t, OverflowDrop, p)

	p, err = ParseOverflowPolicy("Block")
	require.NoError(t, err)
	assert.Equal(t, OverflowBlock, p)

	_, err = ParseOverflowPolicy("overwrite")
	assert.Error(t, err)
}

// ============================================================
// Session Tests
// ============================================================

func TestPipeline_AutoStartCapturesAllRecords(t *testing.T) {
	const n = 25
	data := testStream(n)
	f := newFixture(t, data)
	rec := &fakeRecorder{}

	var p *Pipeline
	opts := testOptions(f.dir)
	opts.AutoStart = true
	opts.Recorder = rec
	opts.Listener, _ = shutdownAfter(&p, n)
	p = NewFromRoles(f.roles, opts)

	require.NoError(t, runWithTimeout(t, p))
	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, "reset\nstart\nstop\n", f.shell.Written())
	assert.True(t, f.shell.Closed())
	assert.True(t, f.snooper.Closed())

	files := captureFiles(t, f.dir)
	require.Len(t, files, 1)
	assert.Equal(t, "2025_03_02_01_02_03.bin", filepath.Base(files[0]))

	written, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, written), "file must hold every record in order")

	snap := p.Stats().Snapshot()
	assert.Equal(t, uint64(n), snap.TotalPackets)
	assert.Equal(t, uint64(n), snap.ValidPackets)
	assert.Zero(t, snap.SequenceGaps)

	require.Len(t, rec.started, 1)
	require.Len(t, rec.ended, 1)
	assert.Equal(t, rec.started[0].ID, rec.ended[0].ID)
	assert.Equal(t, uint64(n), rec.ended[0].Records)
	assert.Equal(t, files[0], rec.ended[0].Path)
}

func TestPipeline_StartTwiceOpensOneFile(t *testing.T) {
	const n = 5
	f := newFixture(t, testStream(n))

	var p *Pipeline
	var sessions atomic.Int64
	opts := testOptions(f.dir)
	listener, _ := shutdownAfter(&p, n)
	opts.Listener = func(ev Event) {
		if ev.Kind == EventSessionStarted {
			sessions.Add(1)
		}
		listener(ev)
	}
	p = NewFromRoles(f.roles, opts)
	p.Start()
	p.Start()

	require.NoError(t, runWithTimeout(t, p))
	assert.Equal(t, int64(1), sessions.Load())
	assert.Len(t, captureFiles(t, f.dir), 1)
	assert.Equal(t, "reset\nstart\nstop\n", f.shell.Written())
}

func TestPipeline_StopWhileClosedIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	p := NewFromRoles(f.roles, testOptions(f.dir))
	p.Stop()
	p.Shutdown()

	require.NoError(t, runWithTimeout(t, p))
	assert.Empty(t, f.shell.Written())
	assert.Empty(t, captureFiles(t, f.dir))
}

func TestPipeline_Toggle(t *testing.T) {
	f := newFixture(t, nil)
	var stopped atomic.Int64

	opts := testOptions(f.dir)
	opts.Listener = func(ev Event) {
		if ev.Kind == EventSessionStopped {
			stopped.Add(1)
		}
	}
	p := NewFromRoles(f.roles, opts)
	p.Toggle()
	p.Toggle()
	p.Shutdown()

	require.NoError(t, runWithTimeout(t, p))
	assert.Equal(t, "reset\nstart\nstop\n", f.shell.Written())
	assert.Equal(t, int64(1), stopped.Load())
	assert.Len(t, captureFiles(t, f.dir), 1)
}

func TestPipeline_SecondSessionGetsNewFile(t *testing.T) {
	f := newFixture(t, nil)
	p := NewFromRoles(f.roles, testOptions(f.dir))
	p.Start()
	p.Stop()
	p.Start()
	p.Shutdown()

	require.NoError(t, runWithTimeout(t, p))
	files := captureFiles(t, f.dir)
	require.Len(t, files, 2)
	assert.Contains(t, files, filepath.Join(f.dir, "2025_03_02_01_02_03_1.bin"))
	assert.Equal(t, "reset\nstart\nstop\nreset\nstart\nstop\n", f.shell.Written())
}

func TestPipeline_ProbesRoles(t *testing.T) {
	const n = 3
	data := testStream(n)
	snoop := linktest.New("snooper")
	shell := linktest.New("shell")
	shell.OnWrite(func(p []byte) {
		shell.Feed(p)
		if string(p) == shellStart {
			snoop.Feed(data)
		}
	})

	dir := t.TempDir()
	var p *Pipeline
	opts := testOptions(dir)
	opts.AutoStart = true
	opts.Listener, _ = shutdownAfter(&p, n)
	p = New(&link.Device{A: snoop, B: shell}, opts)

	require.NoError(t, runWithTimeout(t, p))
	assert.Equal(t, "\r\nreset\nstart\nstop\n", shell.Written())
	assert.Equal(t, "\r\n", snoop.Written(), "the snooper only sees the probe")
	assert.Len(t, captureFiles(t, dir), 1)
}

func TestPipeline_RunTwice(t *testing.T) {
	f := newFixture(t, nil)
	p := NewFromRoles(f.roles, testOptions(f.dir))
	p.Shutdown()
	require.NoError(t, runWithTimeout(t, p))
	assert.ErrorIs(t, p.Run(context.Background()), ErrInvalidTransition)
}

func TestPipeline_ContextCancel(t *testing.T) {
	f := newFixture(t, nil)
	p := NewFromRoles(f.roles, testOptions(f.dir))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	assert.NoError(t, p.Run(ctx))
	assert.Equal(t, StateStopped, p.State())
}

func TestPipeline_ShutdownGraceClosesStuckEndpoint(t *testing.T) {
	shell := linktest.New("shell")
	snoop := newStuckEndpoint()

	opts := testOptions(t.TempDir())
	opts.ShutdownGrace = 100 * time.Millisecond
	p := NewFromRoles(&link.RoledDevice{Shell: shell, Snooper: snoop}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	assert.NoError(t, p.Run(ctx))
	assert.Less(t, time.Since(start), time.Second, "Run must not wait on a stuck read past the grace period")
	assert.Equal(t, StateStopped, p.State())
	assert.True(t, shell.Closed())
}

// ============================================================
// Record Handling Tests
// ============================================================

func TestPipeline_StampsRecords(t *testing.T) {
	const n = 4
	f := newFixture(t, testStream(n))

	var p *Pipeline
	opts := testOptions(f.dir)
	opts.AutoStart = true
	opts.Stamp = true
	opts.Listener, _ = shutdownAfter(&p, n)
	p = NewFromRoles(f.roles, opts)

	require.NoError(t, runWithTimeout(t, p))
	files := captureFiles(t, f.dir)
	require.Len(t, files, 1)

	r, err := os.Open(files[0])
	require.NoError(t, err)
	defer r.Close()

	reader := snooper.NewReader(r)
	want := snooper.MonthMillis(testClock)
	for i := 0; i < n; i++ {
		raw, err := reader.Next()
		require.NoError(t, err)
		assert.Equal(t, want, binary.LittleEndian.Uint32(raw), "record %d", i)
	}
	assert.Zero(t, p.Stats().Snapshot().SequenceGaps, "gap tracking is off for stamped captures")
}

func TestPipeline_InvalidRecordsStillWritten(t *testing.T) {
	const n = 3
	data := testStream(n)
	data[snooper.PacketSize+40] ^= 0xFF // corrupt record 2
	f := newFixture(t, data)

	var p *Pipeline
	var invalid atomic.Int64
	opts := testOptions(f.dir)
	opts.AutoStart = true
	listener, _ := shutdownAfter(&p, n)
	opts.Listener = func(ev Event) {
		if ev.Kind == EventInvalidPacket {
			invalid.Add(1)
			assert.ErrorIs(t, ev.Err, snooper.ErrChecksumMismatch)
		}
		listener(ev)
	}
	p = NewFromRoles(f.roles, opts)

	require.NoError(t, runWithTimeout(t, p))
	assert.Equal(t, int64(1), invalid.Load())
	assert.Equal(t, uint64(1), p.Stats().Snapshot().CRCErrors)

	written, err := os.ReadFile(captureFiles(t, f.dir)[0])
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestPipeline_StaleBytesFlushed(t *testing.T) {
	const n = 2
	f := newFixture(t, testStream(n))
	f.snooper.Feed(make([]byte, 100)) // leftovers from a previous run

	var p *Pipeline
	opts := testOptions(f.dir)
	opts.AutoStart = true
	opts.Listener, _ = shutdownAfter(&p, n)
	p = NewFromRoles(f.roles, opts)

	require.NoError(t, runWithTimeout(t, p))
	assert.Equal(t, uint64(n), p.Stats().Snapshot().ValidPackets, "records stay aligned after the flush")
}

func TestPipeline_RestartDropsPartialRecord(t *testing.T) {
	first := testStream(2)
	first = first[:snooper.PacketSize+snooper.PacketSize/2] // stopped mid-record
	second := testStream(3)

	shell := linktest.New("shell")
	snoop := linktest.New("snooper")
	var starts atomic.Int64
	shell.OnWrite(func(b []byte) {
		if string(b) != shellStart {
			return
		}
		if starts.Add(1) == 1 {
			snoop.Feed(first)
		} else {
			snoop.Feed(second)
		}
	})

	dir := t.TempDir()
	var p *Pipeline
	var restarted sync.Once
	opts := testOptions(dir)
	opts.AutoStart = true
	listener, _ := shutdownAfter(&p, 4)
	opts.Listener = func(ev Event) {
		if ev.Kind == EventPacket {
			restarted.Do(func() {
				p.Stop()
				p.Start()
			})
		}
		listener(ev)
	}
	p = NewFromRoles(&link.RoledDevice{Shell: shell, Snooper: snoop}, opts)

	require.NoError(t, runWithTimeout(t, p))
	snap := p.Stats().Snapshot()
	assert.Equal(t, uint64(4), snap.ValidPackets)
	assert.Zero(t, snap.CRCErrors, "second session records stay aligned")

	written, err := os.ReadFile(filepath.Join(dir, "2025_03_02_01_02_03_1.bin"))
	require.NoError(t, err)
	assert.Equal(t, second, written)
}

// ============================================================
// Overflow Tests
// ============================================================

func TestPipeline_BlockPolicyIsLossless(t *testing.T) {
	const n = 60
	data := testStream(n)
	f := newFixture(t, data)

	var p *Pipeline
	opts := testOptions(f.dir)
	opts.AutoStart = true
	opts.Slots = 2
	opts.Overflow = OverflowBlock
	listener, _ := shutdownAfter(&p, n)
	opts.Listener = func(ev Event) {
		if ev.Kind == EventPacket {
			time.Sleep(100 * time.Microsecond)
		}
		listener(ev)
	}
	p = NewFromRoles(f.roles, opts)

	require.NoError(t, runWithTimeout(t, p))
	written, err := os.ReadFile(captureFiles(t, f.dir)[0])
	require.NoError(t, err)
	assert.Equal(t, data, written)
	assert.Zero(t, p.Stats().Snapshot().Dropped)
}

func TestPipeline_DropPolicyCountsLoss(t *testing.T) {
	const n = 10
	f := newFixture(t, testStream(n))

	var (
		p        *Pipeline
		packets  atomic.Int64
		drops    atomic.Int64
		overflow = make(chan struct{})
		once     sync.Once
	)
	opts := testOptions(f.dir)
	opts.AutoStart = true
	opts.Slots = 1
	opts.Overflow = OverflowDrop
	opts.Listener = func(ev Event) {
		switch ev.Kind {
		case EventOverflow:
			once.Do(func() { close(overflow) })
			if drops.Add(1)+packets.Load() == n {
				p.Shutdown()
			}
		case EventPacket:
			if packets.Load() == 0 {
				select {
				case <-overflow:
				case <-time.After(2 * time.Second):
				}
			}
			if packets.Add(1)+drops.Load() == n {
				p.Shutdown()
			}
		}
	}
	p = NewFromRoles(f.roles, opts)

	require.NoError(t, runWithTimeout(t, p))
	snap := p.Stats().Snapshot()
	assert.Positive(t, snap.Dropped)
	assert.Equal(t, uint64(drops.Load()), snap.Dropped)

	written, err := os.ReadFile(captureFiles(t, f.dir)[0])
	require.NoError(t, err)
	require.Equal(t, int(packets.Load())*snooper.PacketSize, len(written))

	var last uint32
	for off := 0; off < len(written); off += snooper.PacketSize {
		seq := binary.LittleEndian.Uint32(written[off:])
		assert.Greater(t, seq, last, "surviving records keep FIFO order")
		last = seq
	}
}

// ============================================================
// Link Failure Tests
// ============================================================

func TestPipeline_LinkLost(t *testing.T) {
	f := newFixture(t, nil)
	f.snooper.FailReads(errors.New("device unplugged"))

	var linkErrors atomic.Int64
	opts := testOptions(f.dir)
	opts.MaxReadErrors = 3
	opts.Listener = func(ev Event) {
		if ev.Kind == EventLinkError {
			linkErrors.Add(1)
		}
	}
	p := NewFromRoles(f.roles, opts)

	err := runWithTimeout(t, p)
	assert.ErrorIs(t, err, ErrLinkLost)
	assert.Equal(t, int64(3), linkErrors.Load())
	assert.Equal(t, StateStopped, p.State())
}

func TestPipeline_ShellWriteFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.shell.FailWrites(errors.New("shell gone"))

	var shellErrors atomic.Int64
	opts := testOptions(f.dir)
	opts.Listener = func(ev Event) {
		if ev.Kind == EventShellError {
			shellErrors.Add(1)
		}
	}
	p := NewFromRoles(f.roles, opts)
	p.Start()
	p.Shutdown()

	require.NoError(t, runWithTimeout(t, p))
	assert.Equal(t, int64(1), shellErrors.Load())
	files := captureFiles(t, f.dir)
	require.Len(t, files, 1, "the file opened before reset is kept and closed")
}
