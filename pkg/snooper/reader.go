// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snooper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Reader iterates over the fixed-size records of a capture file
type Reader struct {
	r     io.Reader
	index int
}

// NewReader creates a record reader
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next raw record. It returns io.EOF after the last
// complete record and ErrTruncated when the input ends mid-record.
func (r *Reader) Next() ([]byte, error) {
	buf := make([]byte, PacketSize)
	n, err := io.ReadFull(r.r, buf)
	switch {
	case err == nil:
		r.index++
		return buf, nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("record %d: %w: %d trailing bytes", r.index, ErrTruncated, n)
	default:
		return nil, fmt.Errorf("record %d: %w", r.index, err)
	}
}

// Index returns the number of complete records read so far
func (r *Reader) Index() int {
	return r.index
}

// MonthMillis returns the millisecond-of-month of t in t's location, with
// the 1-based day of month counted as whole days. This is the stamp written
// over the sequence field when capture files are timestamped.
func MonthMillis(t time.Time) uint32 {
	ms := t.Nanosecond()/int(time.Millisecond) +
		1000*(t.Second()+60*(t.Minute()+60*(t.Hour()+24*t.Day())))
	return uint32(ms)
}

// StampRecord overwrites the sequence field of a raw record with the
// millisecond-of-month of t. The stored CRC is left untouched, so stamped
// records no longer verify.
func StampRecord(raw []byte, t time.Time) {
	binary.LittleEndian.PutUint32(raw[offsetSequence:], MonthMillis(t))
}
