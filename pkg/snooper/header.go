// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snooper

// Header is the 16-bit PD message header found in the first two bytes of
// the data field.
//
//	bits 0-4   message type
//	bit  5     port data role
//	bits 6-7   specification revision
//	bit  8     port power role (cable plug on SOP'/SOP'')
//	bits 9-11  message ID
//	bits 12-14 number of data objects
//	bit  15    extended
type Header uint16

// NewHeader packs the header fields
func NewHeader(msgType uint8, numObjects int, extended bool, id uint8, rev Revision, power PowerRole, data DataRole) Header {
	h := Header(msgType&0x1F) |
		Header(data&0x1)<<5 |
		Header(rev&0x3)<<6 |
		Header(power&0x1)<<8 |
		Header(id&0x7)<<9 |
		Header(numObjects&0x7)<<12
	if extended {
		h |= 1 << 15
	}
	return h
}

func (h Header) MessageType() uint8     { return uint8(h & 0x1F) }
func (h Header) DataRole() DataRole     { return DataRole((h >> 5) & 0x1) }
func (h Header) SpecRevision() Revision { return Revision((h >> 6) & 0x3) }
func (h Header) PowerRole() PowerRole   { return PowerRole((h >> 8) & 0x1) }
func (h Header) MessageID() uint8       { return uint8((h >> 9) & 0x7) }
func (h Header) NumDataObjects() int    { return int((h >> 12) & 0x7) }
func (h Header) Extended() bool         { return h&(1<<15) != 0 }
func (h Header) IsCablePlug() bool      { return h&(1<<8) != 0 }
func (h Header) IsGoodCRC() bool        { return h.NumDataObjects() == 0 && ControlMessage(h.MessageType()) == CtrlGoodCRC }

// ObjectOffset is the position of the first data object within the data field
func (h Header) ObjectOffset() int {
	if h.Extended() {
		return HeaderSize + ExtendedHeaderSize
	}
	return HeaderSize
}

// ExtendedHeader is the 16-bit header that follows the message header when
// the extended bit is set.
//
//	bits 0-8   data size
//	bit  9     reserved
//	bit  10    request chunk
//	bits 11-14 chunk number
//	bit  15    chunked
type ExtendedHeader uint16

// NewExtendedHeader packs the extended header fields
func NewExtendedHeader(dataSize uint16, chunked, requestChunk bool, chunk uint8) ExtendedHeader {
	e := ExtendedHeader(dataSize&0x1FF) | ExtendedHeader(chunk&0xF)<<11
	if requestChunk {
		e |= 1 << 10
	}
	if chunked {
		e |= 1 << 15
	}
	return e
}

func (e ExtendedHeader) DataSize() uint16   { return uint16(e & 0x1FF) }
func (e ExtendedHeader) RequestChunk() bool { return e&(1<<10) != 0 }
func (e ExtendedHeader) ChunkNumber() uint8 { return uint8((e >> 11) & 0xF) }
func (e ExtendedHeader) Chunked() bool      { return e&(1<<15) != 0 }
