// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snooper

import (
	"encoding/binary"
	"hash"
)

// CRC-32 (IEEE 802.3, reflected)
const (
	crcPolynomial = 0xEDB88320
	crcInitial    = 0xFFFFFFFF
)

var crcTable = makeCRCTable()

func makeCRCTable() *[256]uint32 {
	var t [256]uint32
	for i := range t {
		crc := uint32(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPolynomial
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return &t
}

func updateCRC(reg uint32, data []byte) uint32 {
	for _, b := range data {
		reg = crcTable[byte(reg)^b] ^ (reg >> 8)
	}
	return reg
}

// CalculateCRC computes the CRC-32 checksum for the given data
func CalculateCRC(data []byte) uint32 {
	return updateCRC(crcInitial, data) ^ crcInitial
}

// VerifyCRC checks the trailing little-endian checksum of a packet against
// the CRC of every byte before it
func VerifyCRC(packet []byte) bool {
	if len(packet) < CRCSize {
		return false
	}
	body := packet[:len(packet)-CRCSize]
	stored := binary.LittleEndian.Uint32(packet[len(packet)-CRCSize:])
	return CalculateCRC(body) == stored
}

// CRC is an incremental CRC-32 accumulator. Each value starts from the
// initial register, so separate packets never share state.
type CRC struct {
	reg uint32
}

var _ hash.Hash32 = (*CRC)(nil)

// NewCRC returns a fresh accumulator
func NewCRC() *CRC {
	return &CRC{reg: crcInitial}
}

func (c *CRC) Write(p []byte) (int, error) {
	c.reg = updateCRC(c.reg, p)
	return len(p), nil
}

func (c *CRC) Sum32() uint32 { return c.reg ^ crcInitial }

func (c *CRC) Sum(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, c.Sum32())
}

func (c *CRC) Reset()         { c.reg = crcInitial }
func (c *CRC) Size() int      { return CRCSize }
func (c *CRC) BlockSize() int { return 1 }
