// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snooper

import "fmt"

// Record layout
const (
	PacketSize  = 512
	MaxDataSize = 488
	CRCSize     = 4

	offsetSequence     = 0
	offsetCC1Voltage   = 4
	offsetCC2Voltage   = 6
	offsetVconnCurrent = 8
	offsetVbusVoltage  = 10
	offsetVbusCurrent  = 12
	offsetFrameType    = 14
	offsetDataLen      = 16
	offsetReserved     = 18
	offsetData         = 20
	offsetCRC          = offsetData + MaxDataSize
)

// PD message layout inside the data field
const (
	HeaderSize         = 2
	ExtendedHeaderSize = 2
	DataObjectSize     = 4
	MaxDataObjects     = 7
)

// SOPType identifies the start-of-packet ordered set of a captured frame
type SOPType uint8

const (
	SOP SOPType = iota
	SOPPrime
	SOPDoublePrime
	SOPDebugPrime
	SOPDebugDoublePrime
	HardReset
	CableReset
	BISTCarrier
)

var sopNames = [...]string{"SOP", "SOP'", "SOP''", "DBG'", "DBG''", "HRST", "CRST", "BIST"}

func (s SOPType) String() string {
	if int(s) < len(sopNames) {
		return sopNames[s]
	}
	return fmt.Sprintf("RESERVED(%d)", uint8(s))
}

// IsCablePlug reports whether frames of this type are addressed to a cable plug
func (s SOPType) IsCablePlug() bool {
	return s == SOPPrime || s == SOPDoublePrime
}

// HasMessage reports whether frames of this type carry a PD message
func (s SOPType) HasMessage() bool {
	return s <= SOPDebugDoublePrime
}

// Polarity is the active CC line when the frame was captured
type Polarity uint8

const (
	PolarityNone Polarity = iota
	PolarityCC1
	PolarityCC2
)

func (p Polarity) String() string {
	switch p {
	case PolarityNone:
		return "---"
	case PolarityCC1:
		return "CC1"
	case PolarityCC2:
		return "CC2"
	default:
		return "???"
	}
}

// Revision is the PD specification revision advertised in a message header
type Revision uint8

const (
	Revision10 Revision = iota
	Revision20
	Revision30
)

func (r Revision) String() string {
	switch r {
	case Revision10:
		return "V1.0"
	case Revision20:
		return "V2.0"
	case Revision30:
		return "V3.0"
	default:
		return fmt.Sprintf("RESERVED(%d)", uint8(r))
	}
}

// PowerRole is the port power role, or the cable plug flag on SOP'/SOP'' frames
type PowerRole uint8

const (
	PowerRoleSink PowerRole = iota
	PowerRoleSource
)

func (r PowerRole) String() string {
	if r == PowerRoleSource {
		return "SRC"
	}
	return "SNK"
}

// DataRole is the port data role
type DataRole uint8

const (
	DataRoleUFP DataRole = iota
	DataRoleDFP
)

func (r DataRole) String() string {
	if r == DataRoleDFP {
		return "DFP"
	}
	return "UFP"
}
