// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture runs a snooper capture session: it reads the record
// stream into a bounded buffer, writes records to timestamped capture
// files and drives the shell through start and stop commands.
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/pdscope/pkg/link"
	"github.com/Thermoquad/pdscope/pkg/snooper"
	"github.com/Thermoquad/pdscope/pkg/stream"
)

// Pipeline owns a device for one capture run. Three goroutines share it:
// ingest reads the snooper into the buffer, drain empties the buffer into
// the open capture file, and control executes session commands.
type Pipeline struct {
	opts  Options
	log   *logrus.Entry
	dev   *link.Device
	roles *link.RoledDevice
	buf   *stream.Buffer
	stats *snooper.Statistics

	mu    sync.Mutex
	state State
	err   error

	commands chan Command
	fileReqs chan fileRequest
	flushed  chan struct{}

	stop     atomic.Bool
	resync   atomic.Bool // set by control before reset; ingest drops partial records
	done     chan struct{}
	doneOnce sync.Once

	// drain-owned
	file *captureFile
}

// New creates a pipeline for an opened device whose roles are probed
// when Run starts
func New(dev *link.Device, opts Options) *Pipeline {
	p := newPipeline(opts)
	p.dev = dev
	return p
}

// NewFromRoles creates a pipeline for a device with known roles
func NewFromRoles(roles *link.RoledDevice, opts Options) *Pipeline {
	p := newPipeline(opts)
	p.roles = roles
	return p
}

func newPipeline(opts Options) *Pipeline {
	opts = opts.normalize()
	stats := snooper.NewStatistics()
	stats.TrackSequence(!opts.Stamp)
	return &Pipeline{
		opts:     opts,
		log:      opts.Logger,
		buf:      stream.NewBuffer(opts.Slots),
		stats:    stats,
		commands: make(chan Command, 8),
		fileReqs: make(chan fileRequest),
		flushed:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run probes roles if needed, then captures until Shutdown, context
// cancellation or a fatal link error. It returns the error that ended the
// run, or nil for a requested shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.roles == nil {
		if err := p.transition(StateProbing); err != nil {
			return err
		}
		roles, result := link.IdentifyRoles(ctx, p.dev, p.opts.ProbeTimeout)
		p.roles = roles
		p.log.WithFields(logrus.Fields{
			"shell":   roles.Shell.Name(),
			"snooper": roles.Snooper.Name(),
			"probe":   result.String(),
		}).Info("device roles identified")

		if ctx.Err() != nil {
			roles.Close()
			p.transition(StateStopped)
			return ctx.Err()
		}
	}

	if err := p.transition(StateCapturing); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); p.ingest() }()
	go func() { defer wg.Done(); p.drain() }()
	go func() { defer wg.Done(); p.control() }()

	select {
	case <-ctx.Done():
		p.halt(nil)
	case <-p.done:
	}

	p.transition(StateDraining)

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(p.opts.ShutdownGrace):
		p.log.WithField("grace", p.opts.ShutdownGrace).Warn("activities still running after grace period; closing endpoints")
		p.roles.Close()
		<-finished
	}

	if err := p.roles.Close(); err != nil {
		p.log.WithError(err).Debug("endpoint close")
	}
	if n := p.buf.Len(); n > 0 {
		p.log.WithField("records", n).Warn("records left unwritten in capture buffer")
	}
	p.buf.Close()
	p.transition(StateStopped)

	p.log.Debug("capture stopped\n" + p.stats.String())
	return p.Err()
}

// Send queues a command without blocking. It reports false when the queue
// is full.
func (p *Pipeline) Send(cmd Command) bool {
	select {
	case p.commands <- cmd:
		return true
	default:
		p.log.WithField("command", cmd.String()).Warn("command queue full; command dropped")
		return false
	}
}

// Start requests a new capture session
func (p *Pipeline) Start() bool { return p.Send(CommandStart) }

// Stop requests the current session to end
func (p *Pipeline) Stop() bool { return p.Send(CommandStop) }

// Toggle starts a session when none is open and stops it otherwise
func (p *Pipeline) Toggle() bool { return p.Send(CommandToggle) }

// Shutdown requests the pipeline to finish
func (p *Pipeline) Shutdown() bool { return p.Send(CommandShutdown) }

// State returns the current lifecycle state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns the live packet statistics
func (p *Pipeline) Stats() *snooper.Statistics {
	return p.stats
}

// Err returns the error that ended the run, if any
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed when the pipeline begins shutting down
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) transition(to State) error {
	p.mu.Lock()
	from := p.state
	if !from.CanTransition(to) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	p.state = to
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("state change")
	p.emit(Event{Kind: EventState, State: to})
	return nil
}

// halt raises the stop flag and closes done. Only the first call has an
// effect, so its cause becomes the run result.
func (p *Pipeline) halt(cause error) {
	p.doneOnce.Do(func() {
		p.mu.Lock()
		p.err = cause
		p.mu.Unlock()
		p.stop.Store(true)
		close(p.done)
	})
}

func (p *Pipeline) emit(ev Event) {
	if p.opts.Listener != nil {
		p.opts.Listener(ev)
	}
}

// sleep waits for d or until the pipeline stops. It reports whether the
// full duration elapsed.
func (p *Pipeline) sleep(d time.Duration) bool {
	if d <= 0 {
		return !p.stop.Load()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-p.done:
		return false
	}
}
