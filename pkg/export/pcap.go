// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package export converts capture files into formats other tools read:
// pcap for packet analyzers, CBOR summaries, and VBUS plots.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Thermoquad/pdscope/pkg/snooper"
)

// LinkTypeUser0 is DLT_USER0, reserved for private link layers
const LinkTypeUser0 = layers.LinkType(147)

// PCAPOptions controls pcap export
type PCAPOptions struct {
	// Base is the capture time assigned to the first record
	Base time.Time

	// Stamped treats each sequence field as a millisecond-of-month stamp
	// relative to Base's month
	Stamped bool

	// FullRecord writes the whole 512-byte record instead of the PD
	// message bytes
	FullRecord bool
}

// PCAPWriter writes snooper records as pcap packets
type PCAPWriter struct {
	w     *pcapgo.Writer
	opts  PCAPOptions
	count int
}

// NewPCAPWriter writes the pcap file header and returns a writer
func NewPCAPWriter(w io.Writer, opts PCAPOptions) (*PCAPWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snooper.PacketSize, LinkTypeUser0); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	if opts.Base.IsZero() {
		opts.Base = time.Now()
	}
	return &PCAPWriter{w: pw, opts: opts}, nil
}

// timestamp returns the capture time of a record
func (p *PCAPWriter) timestamp(dp *snooper.DecodedPacket) time.Time {
	if p.opts.Stamped {
		base := p.opts.Base
		month := time.Date(base.Year(), base.Month(), 0, 0, 0, 0, 0, base.Location())
		return month.Add(time.Duration(dp.Packet.Sequence) * time.Millisecond)
	}
	return p.opts.Base.Add(time.Duration(p.count) * time.Millisecond)
}

// Write appends one record
func (p *PCAPWriter) Write(dp *snooper.DecodedPacket) error {
	var data []byte
	if p.opts.FullRecord {
		data = dp.Packet.Bytes()
	} else {
		data = dp.Packet.Message()
	}

	ci := gopacket.CaptureInfo{
		Timestamp:      p.timestamp(dp),
		CaptureLength:  len(data),
		Length:         len(data),
		InterfaceIndex: 0,
	}
	if err := p.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write pcap packet %d: %w", p.count, err)
	}
	p.count++
	return nil
}

// Count returns the number of packets written
func (p *PCAPWriter) Count() int {
	return p.count
}
