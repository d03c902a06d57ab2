// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/pdscope/pkg/link"
	"github.com/Thermoquad/pdscope/pkg/stream"
)

const (
	readBufferSize = 4096

	// maxFlushReads bounds the stale-byte flush on a chatty link
	maxFlushReads = 256
)

// ingest reads the snooper endpoint into the buffer until the pipeline
// stops or the link fails MaxReadErrors times in a row
func (p *Pipeline) ingest() {
	snoop := p.roles.Snooper
	entry := p.log.WithField("endpoint", snoop.Name())

	if err := snoop.SetReadTimeout(p.opts.ReadTimeout); err != nil {
		entry.WithError(err).Warn("set read timeout failed")
	}
	p.flushStale(snoop, entry)
	close(p.flushed)

	buf := make([]byte, readBufferSize)
	failures := 0

	for !p.stop.Load() {
		n, err := snoop.Read(buf)
		if p.resync.Swap(false) {
			if partial := p.buf.DiscardPartial(); partial > 0 {
				entry.WithField("bytes", partial).Warn("discarded partial record from previous session")
			}
		}
		if err != nil {
			if p.stop.Load() {
				return
			}
			failures++
			entry.WithError(err).WithField("failures", failures).Warn("snooper read failed")
			p.emit(Event{Kind: EventLinkError, Err: err})

			if failures >= p.opts.MaxReadErrors {
				cause := fmt.Errorf("%w: %s: %v", ErrLinkLost, snoop.Name(), err)
				entry.WithError(cause).Error("giving up on snooper link")
				p.halt(cause)
				return
			}
			if !p.sleep(p.opts.ReadTimeout) {
				return
			}
			continue
		}

		failures = 0
		if n == 0 {
			continue
		}
		if !p.push(buf[:n]) {
			return
		}
	}
}

// flushStale discards bytes queued on the snooper before this run so the
// first record starts on a record boundary
func (p *Pipeline) flushStale(snoop link.Endpoint, entry *logrus.Entry) {
	buf := make([]byte, readBufferSize)
	flushed := 0
	for i := 0; i < maxFlushReads && !p.stop.Load(); i++ {
		n, err := snoop.Read(buf)
		if err != nil {
			entry.WithError(err).Debug("stale flush read failed")
			break
		}
		if n == 0 {
			break
		}
		flushed += n
	}
	if flushed > 0 {
		entry.WithField("bytes", flushed).Info("discarded stale snooper bytes")
	}
}

// push hands data to the buffer, applying the overflow policy. It reports
// false when the pipeline is stopping.
func (p *Pipeline) push(data []byte) bool {
	blocked := false
	for {
		n, err := p.buf.Push(data)
		data = data[n:]
		if err == nil {
			return true
		}
		if !errors.Is(err, stream.ErrOverflow) {
			return false
		}

		if p.opts.Overflow == OverflowDrop {
			if p.buf.DropPending() {
				p.stats.RecordDrop(1)
				dropped := p.buf.Dropped()
				p.log.WithField("dropped", dropped).Debug("capture buffer full; record dropped")
				p.emit(Event{Kind: EventOverflow, Dropped: dropped})
			}
			continue
		}

		if !blocked {
			blocked = true
			p.log.Debug("capture buffer full; waiting for drain")
			p.emit(Event{Kind: EventOverflow, Dropped: p.buf.Dropped()})
		}
		select {
		case <-p.buf.Space():
		case <-p.done:
			return false
		}
	}
}
