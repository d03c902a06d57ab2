// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snooper

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Counters are the raw packet counters kept by Statistics
type Counters struct {
	TotalPackets     uint64
	ValidPackets     uint64
	CRCErrors        uint64
	DecodeErrors     uint64
	Anomalies        uint64
	LostFrames       uint64
	PartialFrames    uint64
	LengthOverflows  uint64
	TruncatedObjects uint64
	ReservedMessages uint64
	SequenceGaps     uint64
	Dropped          uint64

	Control  uint64
	Data     uint64
	Extended uint64
	Signals  uint64 // frames without a PD message (resets, BIST carrier)
}

// Snapshot is a consistent copy of the statistics at one instant
type Snapshot struct {
	Counters
	StartTime  time.Time
	Elapsed    time.Duration
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// Errors returns the number of packets counted as damaged
func (c Counters) Errors() uint64 {
	return c.CRCErrors + c.DecodeErrors + c.Anomalies
}

// Statistics tracks packet statistics and error rates. It is safe for
// concurrent use: the drain activity updates it while displays read it.
type Statistics struct {
	mu        sync.Mutex
	startTime time.Time
	counters  Counters

	trackSequence bool
	haveSequence  bool
	lastSequence  uint32
}

// NewStatistics creates a new statistics tracker. Sequence gap tracking is
// enabled; disable it for files whose sequence field holds timestamps.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime:     time.Now(),
		trackSequence: true,
	}
}

// TrackSequence enables or disables sequence gap counting
func (s *Statistics) TrackSequence(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackSequence = enabled
	s.haveSequence = false
}

// Update updates statistics based on a packet, its decode error and its
// validation errors. dp may be nil when decoding failed outright.
func (s *Statistics) Update(dp *DecodedPacket, decodeErr error, validationErrors []ValidationError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.TotalPackets++

	if dp == nil {
		s.counters.DecodeErrors++
		return
	}

	s.countSequence(dp.Packet.Sequence)

	switch {
	case !dp.HasMessage || !dp.Kind().HasMessage():
		s.counters.Signals++
	case dp.Class.Category == CategoryControl:
		s.counters.Control++
	case dp.Class.Category == CategoryData:
		s.counters.Data++
	case dp.Class.Category == CategoryExtended:
		s.counters.Extended++
	}

	bad := false
	if decodeErr != nil {
		bad = true
		if errors.Is(decodeErr, ErrChecksumMismatch) {
			s.counters.CRCErrors++
		} else {
			s.counters.DecodeErrors++
		}
	}

	for _, v := range validationErrors {
		switch v.Type {
		case AnomalyLostFrames:
			s.counters.LostFrames++
		case AnomalyPartialFrame:
			s.counters.PartialFrames++
		case AnomalyLengthOverflow:
			s.counters.LengthOverflows++
		case AnomalyTruncatedObjects:
			s.counters.TruncatedObjects++
		case AnomalyReservedMessage:
			s.counters.ReservedMessages++
		}
	}
	if len(validationErrors) > 0 {
		s.counters.Anomalies++
		bad = true
	}

	if !bad {
		s.counters.ValidPackets++
	}
}

func (s *Statistics) countSequence(seq uint32) {
	if !s.trackSequence {
		return
	}
	if s.haveSequence && seq != s.lastSequence+1 {
		s.counters.SequenceGaps++
	}
	s.lastSequence = seq
	s.haveSequence = true
}

// RecordDrop counts records discarded by the capture buffer overflow policy
func (s *Statistics) RecordDrop(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Dropped += n
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Counters:  s.counters,
		StartTime: s.startTime,
		Elapsed:   time.Since(s.startTime),
	}
	if secs := snap.Elapsed.Seconds(); secs > 0 {
		snap.PacketRate = float64(snap.TotalPackets) / secs
		snap.ErrorRate = float64(snap.Errors()) / secs
	}
	return snap
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	return s.Snapshot().String()
}

func (snap Snapshot) String() string {
	percent := func(n uint64) float64 {
		if snap.TotalPackets == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(snap.TotalPackets)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", snap.Elapsed.Seconds())
	fmt.Fprintf(&b, "Total Packets:   %8d\n", snap.TotalPackets)
	fmt.Fprintf(&b, "Valid Packets:   %8d (%.1f%%)\n", snap.ValidPackets, percent(snap.ValidPackets))
	fmt.Fprintf(&b, "  Control/Data/Extended/Signal: %d/%d/%d/%d\n", snap.Control, snap.Data, snap.Extended, snap.Signals)

	if snap.CRCErrors > 0 {
		fmt.Fprintf(&b, "CRC Errors:      %8d (%.1f%%)\n", snap.CRCErrors, percent(snap.CRCErrors))
	}
	if snap.DecodeErrors > 0 {
		fmt.Fprintf(&b, "Decode Errors:   %8d (%.1f%%)\n", snap.DecodeErrors, percent(snap.DecodeErrors))
	}
	if snap.Anomalies > 0 {
		fmt.Fprintf(&b, "Anomalies:       %8d (%.1f%%)\n", snap.Anomalies, percent(snap.Anomalies))
		if snap.LostFrames > 0 {
			fmt.Fprintf(&b, "  Lost flag:        %5d\n", snap.LostFrames)
		}
		if snap.PartialFrames > 0 {
			fmt.Fprintf(&b, "  Partial flag:     %5d\n", snap.PartialFrames)
		}
		if snap.LengthOverflows > 0 {
			fmt.Fprintf(&b, "  data_len > %d:   %5d\n", MaxDataSize, snap.LengthOverflows)
		}
		if snap.TruncatedObjects > 0 {
			fmt.Fprintf(&b, "  Short objects:    %5d\n", snap.TruncatedObjects)
		}
		if snap.ReservedMessages > 0 {
			fmt.Fprintf(&b, "  Reserved types:   %5d\n", snap.ReservedMessages)
		}
	}
	if snap.SequenceGaps > 0 {
		fmt.Fprintf(&b, "Sequence Gaps:   %8d\n", snap.SequenceGaps)
	}
	if snap.Dropped > 0 {
		fmt.Fprintf(&b, "Overflow Drops:  %8d\n", snap.Dropped)
	}

	fmt.Fprintf(&b, "Packet Rate:     %8.1f pkts/sec\n", snap.PacketRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", snap.ErrorRate)
	b.WriteString("================================\n")

	return b.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = time.Now()
	s.counters = Counters{}
	s.haveSequence = false
}
