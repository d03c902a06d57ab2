// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package stream frames the snooper byte stream into fixed-size records
// and hands them from the reading goroutine to the writing goroutine.
package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/Thermoquad/pdscope/pkg/snooper"
)

// DefaultSlots is the number of records a buffer holds by default
const DefaultSlots = 20

var (
	// ErrOverflow is returned by Push when a record completed while every
	// slot holds an unread record. The record stays pending.
	ErrOverflow = errors.New("capture buffer overflow")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("capture buffer closed")
)

// Record is one complete snooper record
type Record [snooper.PacketSize]byte

// Buffer is a bounded FIFO of records fed by a byte stream. It has a single
// producer calling Push and a single consumer calling Pop. Unread records
// are never overwritten.
type Buffer struct {
	mu sync.Mutex

	slots []Record
	head  int // next slot to read
	count int // complete, unread records

	staging Record
	cursor  int  // bytes accumulated in staging
	pending bool // staging is complete but had no free slot

	dropped uint64
	closed  bool

	ready chan struct{}
	space chan struct{}
	done  chan struct{}
}

// NewBuffer creates a buffer with n slots. n <= 0 selects DefaultSlots.
func NewBuffer(n int) *Buffer {
	if n <= 0 {
		n = DefaultSlots
	}
	return &Buffer{
		slots: make([]Record, n),
		ready: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Push appends bytes to the record being assembled, committing each
// completed record to a free slot. It returns the number of bytes of p
// consumed. When a record completes with no free slot, Push returns
// ErrOverflow; the caller either waits on Space and calls Push again with
// the unconsumed remainder (or nil), or discards the record with
// DropPending.
func (b *Buffer) Push(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	if b.pending && !b.commitLocked() {
		return 0, ErrOverflow
	}

	consumed := 0
	for consumed < len(p) {
		n := copy(b.staging[b.cursor:], p[consumed:])
		b.cursor += n
		consumed += n
		if b.cursor < snooper.PacketSize {
			continue
		}
		b.pending = true
		if !b.commitLocked() {
			return consumed, ErrOverflow
		}
	}
	return consumed, nil
}

// commitLocked moves the pending staging record into a free slot
func (b *Buffer) commitLocked() bool {
	if b.count == len(b.slots) {
		return false
	}
	tail := (b.head + b.count) % len(b.slots)
	b.slots[tail] = b.staging
	b.count++
	b.cursor = 0
	b.pending = false
	notify(b.ready)
	return true
}

// Pop removes and returns the oldest record
func (b *Buffer) Pop() (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return Record{}, false
	}
	r := b.slots[b.head]
	b.head = (b.head + 1) % len(b.slots)
	b.count--
	notify(b.space)
	if b.count > 0 {
		notify(b.ready)
	}
	return r, true
}

// PopWait blocks until a record is available, the context is cancelled or
// the buffer is closed and empty
func (b *Buffer) PopWait(ctx context.Context) (Record, error) {
	for {
		if r, ok := b.Pop(); ok {
			return r, nil
		}
		select {
		case <-b.ready:
		case <-b.done:
			if r, ok := b.Pop(); ok {
				return r, nil
			}
			return Record{}, ErrClosed
		case <-ctx.Done():
			return Record{}, ctx.Err()
		}
	}
}

// DropPending discards a completed record that could not be committed.
// It reports whether a record was dropped.
func (b *Buffer) DropPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.pending {
		return false
	}
	b.pending = false
	b.cursor = 0
	b.dropped++
	return true
}

// Ready is signalled when a record has been committed
func (b *Buffer) Ready() <-chan struct{} { return b.ready }

// Space is signalled when a slot has been freed
func (b *Buffer) Space() <-chan struct{} { return b.space }

// Done is closed by Close
func (b *Buffer) Done() <-chan struct{} { return b.done }

// Len returns the number of unread records
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the number of records discarded by DropPending
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// DiscardPartial drops the bytes of a record still being assembled and
// returns how many were dropped. A completed record waiting for a slot is
// kept.
func (b *Buffer) DiscardPartial() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending {
		return 0
	}
	n := b.cursor
	b.cursor = 0
	return n
}

// Close wakes all waiters. Unread records can still be popped.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}
