// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snooper

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when fewer than PacketSize bytes are available
	ErrTruncated = errors.New("truncated packet")

	// ErrChecksumMismatch matches any *ChecksumError
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// ChecksumError reports a record whose stored CRC does not match its contents
type ChecksumError struct {
	Sequence uint32
	Stored   uint32
	Computed uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("CRC mismatch: seq=0x%08x stored=0x%08x computed=0x%08x", e.Sequence, e.Stored, e.Computed)
}

// Is lets errors.Is(err, ErrChecksumMismatch) match
func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// DecodedPacket is a capture record together with everything derived from
// it. It is a plain value; decoding keeps no state between calls.
type DecodedPacket struct {
	Packet Packet

	// HasMessage is false when data_len is too short to hold a PD header
	// (e.g. Hard Reset frames)
	HasMessage     bool
	Header         Header
	ExtendedHeader ExtendedHeader
	Class          Classification

	// Data objects bounded by data_len. ObjectsTruncated is set when the
	// header announces more objects than data_len holds.
	Objects          []uint32
	ObjectsTruncated bool

	ComputedCRC uint32
	CRCValid    bool
}

// Decode parses and validates a raw record. It fails with ErrTruncated when
// raw is shorter than PacketSize and with a *ChecksumError when the CRC
// does not verify.
func Decode(raw []byte) (*DecodedPacket, error) {
	dp, err := Inspect(raw)
	if err != nil {
		return nil, err
	}
	if !dp.CRCValid {
		return nil, dp.ChecksumError()
	}
	return dp, nil
}

// Inspect decodes a raw record without rejecting it on checksum failure.
// CRCValid reports the integrity result, so live views can still show and
// count damaged packets.
func Inspect(raw []byte) (*DecodedPacket, error) {
	p, err := ParsePacket(raw)
	if err != nil {
		return nil, err
	}

	dp := &DecodedPacket{
		Packet:      *p,
		ComputedCRC: CalculateCRC(raw[:offsetCRC]),
	}
	dp.CRCValid = dp.ComputedCRC == p.CRC

	msg := p.Message()
	dp.Header = Header(binary.LittleEndian.Uint16(p.Data[0:]))
	dp.HasMessage = len(msg) >= HeaderSize
	if dp.Header.Extended() {
		dp.ExtendedHeader = ExtendedHeader(binary.LittleEndian.Uint16(p.Data[HeaderSize:]))
	}
	dp.Class = Classify(dp.Header, p.Data[:])
	dp.Objects, dp.ObjectsTruncated = dataObjects(dp.Header, msg)

	return dp, nil
}

// dataObjects extracts the announced 32-bit objects that fit inside msg
func dataObjects(h Header, msg []byte) ([]uint32, bool) {
	count := h.NumDataObjects()
	if count == 0 {
		return nil, false
	}

	offset := h.ObjectOffset()
	objects := make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		end := offset + (i+1)*DataObjectSize
		if end > len(msg) {
			return objects, true
		}
		objects = append(objects, binary.LittleEndian.Uint32(msg[end-DataObjectSize:end]))
	}
	return objects, false
}

// ChecksumError builds the error describing this packet's CRC failure, or
// nil when the CRC is valid
func (d *DecodedPacket) ChecksumError() error {
	if d.CRCValid {
		return nil
	}
	return &ChecksumError{
		Sequence: d.Packet.Sequence,
		Stored:   d.Packet.CRC,
		Computed: d.ComputedCRC,
	}
}

// Kind returns the SOP type of the frame
func (d *DecodedPacket) Kind() SOPType {
	return d.Packet.Type.Kind()
}

// DataLenOverflow reports a data_len larger than the data field
func (d *DecodedPacket) DataLenOverflow() bool {
	return int(d.Packet.DataLen) > MaxDataSize
}
