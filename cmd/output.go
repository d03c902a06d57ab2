// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/pdscope/pkg/snooper"
)

// Packet line styles
var (
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	sequenceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	roleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	controlStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dataStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	extendedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	signalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	flagStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// packetLine returns the log columns of a packet. Stamped records carry a
// millisecond-of-month in the sequence field and never verify, so the
// stamp is shown as a time and the CRC flag is dropped.
func packetLine(dp *snooper.DecodedPacket, stamped bool) snooper.Line {
	l := snooper.FormatLine(dp)
	if stamped {
		l.Sequence = snooper.FormatTimestamp(dp.Packet.Sequence)
		var kept []string
		for _, f := range strings.Fields(l.Flags) {
			if !strings.HasPrefix(f, "BAD_CRC") {
				kept = append(kept, f)
			}
		}
		l.Flags = strings.Join(kept, " ")
	}
	return l
}

// messageStyle picks the color of the message column
func messageStyle(dp *snooper.DecodedPacket) lipgloss.Style {
	if !dp.HasMessage || !dp.Kind().HasMessage() {
		return signalStyle
	}
	switch dp.Class.Category {
	case snooper.CategoryControl:
		if dp.Header.IsGoodCRC() {
			return dimStyle
		}
		return controlStyle
	case snooper.CategoryData:
		return dataStyle
	case snooper.CategoryExtended:
		return extendedStyle
	default:
		return signalStyle
	}
}

// renderPacket renders one colored packet log line
func renderPacket(dp *snooper.DecodedPacket, stamped bool) string {
	l := packetLine(dp, stamped)

	var b strings.Builder
	b.WriteString(dimStyle.Render(fmt.Sprintf("%-4s", l.Revision)))
	b.WriteString(" ")
	b.WriteString(sequenceStyle.Render(l.Sequence))
	b.WriteString(" " + l.Polarity + " ")
	b.WriteString(roleStyle.Render(fmt.Sprintf("%-7s", l.Role)))
	b.WriteString(" ")
	b.WriteString(messageStyle(dp).Render(fmt.Sprintf("%-24s", l.Message)))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" <%-5s", l.Kind)))
	if l.Header != "" {
		b.WriteString(" " + l.Header)
	}
	if l.Objects != "" {
		b.WriteString(" " + l.Objects)
	}
	b.WriteString(dimStyle.Render(" " + l.CRC + ">"))
	if l.Flags != "" {
		b.WriteString(" " + flagStyle.Render(l.Flags))
	}
	return b.String()
}

// renderAnomalies renders validation findings under a packet line
func renderAnomalies(anomalies []snooper.ValidationError) string {
	var b strings.Builder
	for i, a := range anomalies {
		fmt.Fprintf(&b, "  Issue %d: %s\n", i+1, warnStyle.Render(a.Message))
	}
	return b.String()
}
