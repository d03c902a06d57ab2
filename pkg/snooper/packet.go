// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snooper

import (
	"encoding/binary"
	"fmt"
)

// FrameType is the bit-packed frame descriptor of a capture record.
//
//	bits 0-3   reserved
//	bits 4-5   polarity
//	bit  6     lost (capture overrun before this frame)
//	bit  7     partial (frame truncated)
//	bits 8-11  encoder format version
//	bits 12-15 SOP type
type FrameType uint16

// NewFrameType packs the frame descriptor fields
func NewFrameType(kind SOPType, pol Polarity, version uint8, lost, partial bool) FrameType {
	f := FrameType(kind&0xF)<<12 | FrameType(version&0xF)<<8 | FrameType(pol&0x3)<<4
	if lost {
		f |= 1 << 6
	}
	if partial {
		f |= 1 << 7
	}
	return f
}

func (f FrameType) Polarity() Polarity { return Polarity((f >> 4) & 0x3) }
func (f FrameType) Lost() bool         { return f&(1<<6) != 0 }
func (f FrameType) Partial() bool      { return f&(1<<7) != 0 }
func (f FrameType) Version() uint8     { return uint8((f >> 8) & 0xF) }
func (f FrameType) Kind() SOPType      { return SOPType(f >> 12) }

// Packet is one fixed-size capture record as produced by the snooper.
// Every field, including the reserved ones, is kept so that a parsed
// packet marshals back to the exact bytes it was read from.
type Packet struct {
	Sequence     uint32
	CC1Voltage   uint16
	CC2Voltage   uint16
	VconnCurrent uint16
	VbusVoltage  uint16
	VbusCurrent  uint16
	Type         FrameType
	DataLen      uint16
	Reserved     uint16
	Data         [MaxDataSize]byte
	CRC          uint32
}

// NewPacket creates a packet carrying the given PD message bytes.
// The checksum is computed automatically.
func NewPacket(sequence uint32, frame FrameType, message []byte) *Packet {
	p := &Packet{
		Sequence: sequence,
		Type:     frame,
	}
	n := copy(p.Data[:], message)
	p.DataLen = uint16(n)
	p.Seal()
	return p
}

// ParsePacket reads the fixed record layout from raw. Bytes beyond
// PacketSize are ignored.
func ParsePacket(raw []byte) (*Packet, error) {
	if len(raw) < PacketSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(raw), PacketSize)
	}

	le := binary.LittleEndian
	p := &Packet{
		Sequence:     le.Uint32(raw[offsetSequence:]),
		CC1Voltage:   le.Uint16(raw[offsetCC1Voltage:]),
		CC2Voltage:   le.Uint16(raw[offsetCC2Voltage:]),
		VconnCurrent: le.Uint16(raw[offsetVconnCurrent:]),
		VbusVoltage:  le.Uint16(raw[offsetVbusVoltage:]),
		VbusCurrent:  le.Uint16(raw[offsetVbusCurrent:]),
		Type:         FrameType(le.Uint16(raw[offsetFrameType:])),
		DataLen:      le.Uint16(raw[offsetDataLen:]),
		Reserved:     le.Uint16(raw[offsetReserved:]),
		CRC:          le.Uint32(raw[offsetCRC:]),
	}
	copy(p.Data[:], raw[offsetData:offsetCRC])
	return p, nil
}

// MarshalBinary encodes the packet into its 512-byte record
func (p *Packet) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(make([]byte, 0, PacketSize))
}

// AppendBinary appends the 512-byte record to b
func (p *Packet) AppendBinary(b []byte) ([]byte, error) {
	le := binary.LittleEndian
	b = le.AppendUint32(b, p.Sequence)
	b = le.AppendUint16(b, p.CC1Voltage)
	b = le.AppendUint16(b, p.CC2Voltage)
	b = le.AppendUint16(b, p.VconnCurrent)
	b = le.AppendUint16(b, p.VbusVoltage)
	b = le.AppendUint16(b, p.VbusCurrent)
	b = le.AppendUint16(b, uint16(p.Type))
	b = le.AppendUint16(b, p.DataLen)
	b = le.AppendUint16(b, p.Reserved)
	b = append(b, p.Data[:]...)
	b = le.AppendUint32(b, p.CRC)
	return b, nil
}

// Bytes returns the encoded record
func (p *Packet) Bytes() []byte {
	b, _ := p.MarshalBinary()
	return b
}

// Seal recomputes the checksum over the current field values
func (p *Packet) Seal() {
	b := p.Bytes()
	p.CRC = CalculateCRC(b[:offsetCRC])
}

// Message returns the valid part of the data field, clamped to MaxDataSize
func (p *Packet) Message() []byte {
	n := int(p.DataLen)
	if n > MaxDataSize {
		n = MaxDataSize
	}
	return p.Data[:n]
}
