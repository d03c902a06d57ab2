// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snooper

import "fmt"

// PDOType is the supply type in bits 30-31 of a Power Data Object
type PDOType uint8

const (
	PDOFixed PDOType = iota
	PDOBattery
	PDOVariable
	PDOAugmented
)

func (t PDOType) String() string {
	switch t {
	case PDOFixed:
		return "Fixed"
	case PDOBattery:
		return "Battery"
	case PDOVariable:
		return "Variable"
	default:
		return "APDO"
	}
}

// APDOType is the augmented supply type in bits 28-29
type APDOType uint8

const (
	APDOSPRPPS APDOType = iota
	APDOEPRAVS
	APDOSPRAVS
)

func (t APDOType) String() string {
	switch t {
	case APDOSPRPPS:
		return "PPS"
	case APDOEPRAVS:
		return "AVS"
	case APDOSPRAVS:
		return "SPR-AVS"
	default:
		return fmt.Sprintf("RESERVED(%d)", uint8(t))
	}
}

// PDO is a decoded source or sink Power Data Object. Voltages are in mV,
// currents in mA and power in mW.
type PDO struct {
	Raw  uint32
	Type PDOType
	APDO APDOType

	MinVoltage uint32
	MaxVoltage uint32
	MaxCurrent uint32
	MaxPower   uint32

	// Fixed supply flags
	DualRolePower      bool
	USBSuspend         bool
	UnconstrainedPower bool
	USBCommunications  bool
	DualRoleData       bool
	UnchunkedExtended  bool
	EPRCapable         bool
	PeakCurrent        uint8

	// SPR PPS
	PowerLimited bool
}

// DecodePDO decodes one Source/Sink Capabilities data object
func DecodePDO(raw uint32) PDO {
	p := PDO{Raw: raw, Type: PDOType(raw >> 30)}

	switch p.Type {
	case PDOFixed:
		p.DualRolePower = raw&(1<<29) != 0
		p.USBSuspend = raw&(1<<28) != 0
		p.UnconstrainedPower = raw&(1<<27) != 0
		p.USBCommunications = raw&(1<<26) != 0
		p.DualRoleData = raw&(1<<25) != 0
		p.UnchunkedExtended = raw&(1<<24) != 0
		p.EPRCapable = raw&(1<<23) != 0
		p.PeakCurrent = uint8((raw >> 20) & 0x3)
		p.MaxVoltage = ((raw >> 10) & 0x3FF) * 50
		p.MinVoltage = p.MaxVoltage
		p.MaxCurrent = (raw & 0x3FF) * 10

	case PDOBattery:
		p.MaxVoltage = ((raw >> 20) & 0x3FF) * 50
		p.MinVoltage = ((raw >> 10) & 0x3FF) * 50
		p.MaxPower = (raw & 0x3FF) * 250

	case PDOVariable:
		p.MaxVoltage = ((raw >> 20) & 0x3FF) * 50
		p.MinVoltage = ((raw >> 10) & 0x3FF) * 50
		p.MaxCurrent = (raw & 0x3FF) * 10

	case PDOAugmented:
		p.APDO = APDOType((raw >> 28) & 0x3)
		switch p.APDO {
		case APDOSPRPPS:
			p.PowerLimited = raw&(1<<27) != 0
			p.MaxVoltage = ((raw >> 17) & 0xFF) * 100
			p.MinVoltage = ((raw >> 8) & 0xFF) * 100
			p.MaxCurrent = (raw & 0x7F) * 50
		case APDOEPRAVS:
			p.PeakCurrent = uint8((raw >> 26) & 0x3)
			p.MaxVoltage = ((raw >> 17) & 0x1FF) * 100
			p.MinVoltage = ((raw >> 8) & 0xFF) * 100
			p.MaxPower = (raw & 0xFF) * 1000
		}
	}

	return p
}

func (p PDO) String() string {
	switch p.Type {
	case PDOFixed:
		return fmt.Sprintf("Fixed %s %s", volts(p.MaxVoltage), amps(p.MaxCurrent))
	case PDOBattery:
		return fmt.Sprintf("Battery %s %.2fW", voltRange(p.MinVoltage, p.MaxVoltage), float64(p.MaxPower)/1000)
	case PDOVariable:
		return fmt.Sprintf("Variable %s %s", voltRange(p.MinVoltage, p.MaxVoltage), amps(p.MaxCurrent))
	}

	switch p.APDO {
	case APDOSPRPPS:
		return fmt.Sprintf("PPS %s %s", voltRange(p.MinVoltage, p.MaxVoltage), amps(p.MaxCurrent))
	case APDOEPRAVS:
		return fmt.Sprintf("AVS %s %.0fW", voltRange(p.MinVoltage, p.MaxVoltage), float64(p.MaxPower)/1000)
	default:
		return fmt.Sprintf("APDO %s 0x%08x", p.APDO, p.Raw)
	}
}

func volts(mv uint32) string { return fmt.Sprintf("%.2fV", float64(mv)/1000) }
func amps(ma uint32) string { return fmt.Sprintf("%.2fA", float64(ma)/1000) }

// voltRange renders a voltage range with a single trailing unit
func voltRange(minMV, maxMV uint32) string {
	return fmt.Sprintf("%.2f-%.2fV", float64(minMV)/1000, float64(maxMV)/1000)
}

// CarriesPDOs reports whether the message's data objects are PDOs
func (c Classification) CarriesPDOs() bool {
	return c.Category == CategoryData &&
		(c.Data == DataSourceCapabilities || c.Data == DataSinkCapabilities)
}
