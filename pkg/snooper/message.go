// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snooper

import (
	"encoding/binary"
	"fmt"
)

// Category is the top-level message classification
type Category uint8

const (
	CategoryControl Category = iota
	CategoryData
	CategoryExtended
)

func (c Category) String() string {
	switch c {
	case CategoryControl:
		return "Control"
	case CategoryData:
		return "Data"
	case CategoryExtended:
		return "Extended"
	default:
		return fmt.Sprintf("RESERVED(%d)", uint8(c))
	}
}

// ControlMessage types (header with zero data objects)
type ControlMessage uint8

const (
	CtrlGoodCRC ControlMessage = iota + 1
	CtrlGotoMin
	CtrlAccept
	CtrlReject
	CtrlPing
	CtrlPSReady
	CtrlGetSourceCap
	CtrlGetSinkCap
	CtrlDRSwap
	CtrlPRSwap
	CtrlVconnSwap
	CtrlWait
	CtrlSoftReset
	CtrlDataReset
	CtrlDataResetComplete
	CtrlNotSupported
	CtrlGetSourceCapExtended
	CtrlGetStatus
	CtrlFRSwap
	CtrlGetPPSStatus
	CtrlGetCountryCodes
	CtrlGetSinkCapExtended
)

var controlNames = map[ControlMessage]string{
	CtrlGoodCRC:              "GOOD_CRC",
	CtrlGotoMin:              "GOTO_MIN",
	CtrlAccept:               "ACCEPT",
	CtrlReject:               "REJECT",
	CtrlPing:                 "PING",
	CtrlPSReady:              "PS_RDY",
	CtrlGetSourceCap:         "GET_SRC_CAP",
	CtrlGetSinkCap:           "GET_SNK_CAP",
	CtrlDRSwap:               "DR_SWAP",
	CtrlPRSwap:               "PR_SWAP",
	CtrlVconnSwap:            "VCONN_SWAP",
	CtrlWait:                 "WAIT",
	CtrlSoftReset:            "SOFT_RESET",
	CtrlDataReset:            "DATA_RESET",
	CtrlDataResetComplete:    "DATA_RESET_COMPLETE",
	CtrlNotSupported:         "NOT_SUPPORTED",
	CtrlGetSourceCapExtended: "GET_SRC_CAP_EXT",
	CtrlGetStatus:            "GET_STATUS",
	CtrlFRSwap:               "FR_SWAP",
	CtrlGetPPSStatus:         "GET_PPS_STATUS",
	CtrlGetCountryCodes:      "GET_COUNTRY_CODES",
	CtrlGetSinkCapExtended:   "GET_SNK_CAP_EXT",
}

// Known reports whether the value names a defined control message
func (m ControlMessage) Known() bool {
	_, ok := controlNames[m]
	return ok
}

func (m ControlMessage) String() string {
	if name, ok := controlNames[m]; ok {
		return name
	}
	return fmt.Sprintf("RESERVED(%d)", uint8(m))
}

// DataMessage types (non-extended header with data objects)
type DataMessage uint8

const (
	DataSourceCapabilities DataMessage = iota + 1
	DataRequest
	DataBIST
	DataSinkCapabilities
	DataBatteryStatus
	DataAlert
	DataGetCountryInfo
	DataEnterUSB
	DataVendorDefined DataMessage = 15
)

var dataNames = map[DataMessage]string{
	DataSourceCapabilities: "SRC_CAP",
	DataRequest:            "REQUEST",
	DataBIST:               "BIST",
	DataSinkCapabilities:   "SNK_CAP",
	DataBatteryStatus:      "BATTERY_STATUS",
	DataAlert:              "ALERT",
	DataGetCountryInfo:     "GET_COUNTRY_INFO",
	DataEnterUSB:           "ENTER_USB",
	DataVendorDefined:      "VDM",
}

func (m DataMessage) Known() bool {
	_, ok := dataNames[m]
	return ok
}

func (m DataMessage) String() string {
	if name, ok := dataNames[m]; ok {
		return name
	}
	return fmt.Sprintf("RESERVED(%d)", uint8(m))
}

// ExtendedMessage types (extended header with data objects)
type ExtendedMessage uint8

const (
	ExtSourceCapabilities ExtendedMessage = iota + 1
	ExtStatus
	ExtGetBatteryCap
	ExtBatteryCap
	ExtGetManufacturerInfo
	ExtManufacturerInfo
	ExtSecurityRequest
	ExtSecurityResponse
	ExtFirmwareUpdateRequest
	ExtFirmwareUpdateResponse
	ExtPPSStatus
	ExtCountryInfo
	ExtCountryCodes
)

var extendedNames = map[ExtendedMessage]string{
	ExtSourceCapabilities:     "EXT_SRC_CAP",
	ExtStatus:                 "EXT_STATUS",
	ExtGetBatteryCap:          "EXT_GET_BATTERY_CAP",
	ExtBatteryCap:             "EXT_BATTERY_CAP",
	ExtGetManufacturerInfo:    "EXT_GET_MANUF_INFO",
	ExtManufacturerInfo:       "EXT_MANUF_INFO",
	ExtSecurityRequest:        "EXT_SECURITY_REQUEST",
	ExtSecurityResponse:       "EXT_SECURITY_RESPONSE",
	ExtFirmwareUpdateRequest:  "EXT_FW_UPDATE_REQUEST",
	ExtFirmwareUpdateResponse: "EXT_FW_UPDATE_RESPONSE",
	ExtPPSStatus:              "EXT_PPS_STATUS",
	ExtCountryInfo:            "EXT_COUNTRY_INFO",
	ExtCountryCodes:           "EXT_COUNTRY_CODES",
}

func (m ExtendedMessage) Known() bool {
	_, ok := extendedNames[m]
	return ok
}

func (m ExtendedMessage) String() string {
	if name, ok := extendedNames[m]; ok {
		return name
	}
	return fmt.Sprintf("RESERVED(%d)", uint8(m))
}

// VDMCommand is the command field of a structured VDM header
type VDMCommand uint8

const (
	VDMDiscoverIdentity VDMCommand = iota + 1
	VDMDiscoverSVIDs
	VDMDiscoverModes
	VDMEnterMode
	VDMExitMode
	VDMAttention
)

var vdmCommandNames = map[VDMCommand]string{
	VDMDiscoverIdentity: "DiscID",
	VDMDiscoverSVIDs:    "DiscSVIDS",
	VDMDiscoverModes:    "DiscMODES",
	VDMEnterMode:        "EnterMODE",
	VDMExitMode:         "ExitMODE",
	VDMAttention:        "ATTENTION",
}

func (c VDMCommand) Known() bool {
	_, ok := vdmCommandNames[c]
	return ok
}

func (c VDMCommand) String() string {
	if name, ok := vdmCommandNames[c]; ok {
		return name
	}
	if c >= 16 && c <= 31 {
		return fmt.Sprintf("SVID_CMD(%d)", uint8(c))
	}
	return fmt.Sprintf("RESERVED(%d)", uint8(c))
}

// VDMCommandType is the initiator/responder type of a structured VDM
type VDMCommandType uint8

const (
	VDMRequest VDMCommandType = iota
	VDMAck
	VDMNak
	VDMBusy
)

func (t VDMCommandType) String() string {
	switch t {
	case VDMRequest:
		return "REQ"
	case VDMAck:
		return "ACK"
	case VDMNak:
		return "NAK"
	default:
		return "BUSY"
	}
}

// VDM is the decoded Vendor Defined Message header (the first data object)
type VDM struct {
	Raw        uint32
	Structured bool
	SVID       uint16 // vendor ID for unstructured messages

	// Structured only
	Command        VDMCommand
	CommandType    VDMCommandType
	ObjectPosition uint8
	Version        uint8
}

// ParseVDM decodes a VDM header word
func ParseVDM(raw uint32) VDM {
	v := VDM{
		Raw:        raw,
		Structured: raw&(1<<15) != 0,
		SVID:       uint16(raw >> 16),
	}
	if v.Structured {
		v.Command = VDMCommand(raw & 0x1F)
		v.CommandType = VDMCommandType((raw >> 6) & 0x3)
		v.ObjectPosition = uint8((raw >> 8) & 0x7)
		v.Version = uint8((raw >> 13) & 0x3)
	}
	return v
}

func (v VDM) String() string {
	if v.Structured {
		return v.Command.String()
	}
	return "CUSTOM"
}

// Classification is the category and kind of a PD message. Exactly one of
// Control, Data or Extended is meaningful, selected by Category.
type Classification struct {
	Category Category
	Control  ControlMessage
	Data     DataMessage
	Extended ExtendedMessage

	// Set for Data/VDM messages whose header word is present
	VDM *VDM
}

// Classify derives the message classification from a header and the data
// field it was read from. It never fails: unknown codes become reserved
// variants carrying their numeric value.
func Classify(h Header, data []byte) Classification {
	msgType := h.MessageType()

	switch {
	case h.NumDataObjects() == 0:
		return Classification{Category: CategoryControl, Control: ControlMessage(msgType)}
	case h.Extended():
		return Classification{Category: CategoryExtended, Extended: ExtendedMessage(msgType)}
	}

	c := Classification{Category: CategoryData, Data: DataMessage(msgType)}
	if c.Data == DataVendorDefined && len(data) >= HeaderSize+DataObjectSize {
		v := ParseVDM(binary.LittleEndian.Uint32(data[HeaderSize:]))
		c.VDM = &v
	}
	return c
}

// Known reports whether the message kind is a defined code
func (c Classification) Known() bool {
	switch c.Category {
	case CategoryControl:
		return c.Control.Known()
	case CategoryData:
		return c.Data.Known()
	case CategoryExtended:
		return c.Extended.Known()
	}
	return false
}

// Name returns the message name, e.g. "PS_RDY" or "VDM:DiscMODES"
func (c Classification) Name() string {
	switch c.Category {
	case CategoryControl:
		return c.Control.String()
	case CategoryExtended:
		return c.Extended.String()
	}
	if c.VDM != nil {
		return c.Data.String() + ":" + c.VDM.String()
	}
	return c.Data.String()
}

func (c Classification) String() string {
	return c.Category.String() + "(" + c.Name() + ")"
}
