// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package snooper

import (
	"fmt"
	"strings"
)

// Line holds the columns of a one-line packet log entry so callers can
// style each column separately
type Line struct {
	Revision string
	Sequence string
	Polarity string
	Role     string
	Message  string
	Kind     string
	Header   string
	Objects  string
	CRC      string
	Flags    string
}

// FormatLine splits a decoded packet into log columns
func FormatLine(dp *DecodedPacket) Line {
	p := &dp.Packet
	kind := dp.Kind()

	l := Line{
		Revision: "    ",
		Sequence: fmt.Sprintf("S%08x", p.Sequence),
		Polarity: p.Type.Polarity().String(),
		Role:     "-------",
		Message:  kind.String(),
		Kind:     kind.String(),
		CRC:      fmt.Sprintf("CRC=0x%08x", dp.ComputedCRC),
	}

	if dp.HasMessage {
		h := dp.Header
		if !h.IsGoodCRC() {
			l.Revision = h.SpecRevision().String()
		}
		switch {
		case kind.IsCablePlug() && h.IsCablePlug():
			l.Role = "Cable  "
		case kind.IsCablePlug():
			l.Role = "DFP/UFP"
		default:
			l.Role = h.PowerRole().String() + ":" + h.DataRole().String()
		}
		l.Message = fmt.Sprintf("[%d]%s", h.MessageID(), dp.Class.Name())
		l.Header = fmt.Sprintf("H=%04x", uint16(h))
	}

	if len(dp.Objects) > 0 {
		words := make([]string, len(dp.Objects))
		for i, obj := range dp.Objects {
			words[i] = fmt.Sprintf("0x%08x", obj)
		}
		l.Objects = strings.Join(words, " ")
	}

	var flags []string
	if !dp.CRCValid {
		flags = append(flags, fmt.Sprintf("BAD_CRC(stored=0x%08x)", p.CRC))
	}
	if p.Type.Lost() {
		flags = append(flags, "LOST")
	}
	if p.Type.Partial() {
		flags = append(flags, "PARTIAL")
	}
	if dp.ObjectsTruncated {
		flags = append(flags, "TRUNCATED")
	}
	l.Flags = strings.Join(flags, " ")

	return l
}

func (l Line) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %s %s %-7s %-24s <%-5s", l.Revision, l.Sequence, l.Polarity, l.Role, l.Message, l.Kind)
	if l.Header != "" {
		b.WriteString(" " + l.Header)
	}
	if l.Objects != "" {
		b.WriteString(" " + l.Objects)
	}
	b.WriteString(" " + l.CRC + ">")
	if l.Flags != "" {
		b.WriteString(" " + l.Flags)
	}
	return b.String()
}

// FormatPacket formats a decoded packet as a single log line
func FormatPacket(dp *DecodedPacket) string {
	return FormatLine(dp).String() + "\n"
}

// FormatDetail formats the analog snapshot, header fields and interpreted
// data objects of a packet, one item per line
func FormatDetail(dp *DecodedPacket) string {
	p := &dp.Packet
	var b strings.Builder

	fmt.Fprintf(&b, "  frame: %s pol=%s ver=%d lost=%t partial=%t data_len=%d\n",
		dp.Kind(), p.Type.Polarity(), p.Type.Version(), p.Type.Lost(), p.Type.Partial(), p.DataLen)
	fmt.Fprintf(&b, "  analog: CC1=%d CC2=%d VCONN=%d VBUS=%dmV/%dmA\n",
		p.CC1Voltage, p.CC2Voltage, p.VconnCurrent, p.VbusVoltage, p.VbusCurrent)

	if !dp.HasMessage {
		return b.String()
	}

	h := dp.Header
	fmt.Fprintf(&b, "  header: %s type=%d id=%d rev=%s objs=%d ext=%t\n",
		dp.Class, h.MessageType(), h.MessageID(), h.SpecRevision(), h.NumDataObjects(), h.Extended())
	if h.Extended() {
		e := dp.ExtendedHeader
		fmt.Fprintf(&b, "  ext header: size=%d chunked=%t chunk=%d request=%t\n",
			e.DataSize(), e.Chunked(), e.ChunkNumber(), e.RequestChunk())
	}

	if v := dp.Class.VDM; v != nil {
		if v.Structured {
			fmt.Fprintf(&b, "  vdm: SVID=0x%04x %s %s pos=%d ver=%d\n",
				v.SVID, v.Command, v.CommandType, v.ObjectPosition, v.Version)
		} else {
			fmt.Fprintf(&b, "  vdm: VID=0x%04x unstructured\n", v.SVID)
		}
	}

	for i, obj := range dp.Objects {
		if dp.Class.CarriesPDOs() {
			fmt.Fprintf(&b, "  obj[%d] 0x%08x %s\n", i, obj, DecodePDO(obj))
		} else {
			fmt.Fprintf(&b, "  obj[%d] 0x%08x\n", i, obj)
		}
	}
	if dp.ObjectsTruncated {
		fmt.Fprintf(&b, "  (%d of %d objects present)\n", len(dp.Objects), h.NumDataObjects())
	}

	return b.String()
}

// FormatTimestamp renders a millisecond-of-month stamp as "day, HH:MM:SS:mmm"
func FormatTimestamp(ms uint32) string {
	day := ms / 86400000
	return fmt.Sprintf("%d, %02d:%02d:%02d:%03d",
		day, ms/3600000%24, ms/60000%60, ms/1000%60, ms%1000)
}
