// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/pdscope/pkg/capture"
	"github.com/Thermoquad/pdscope/pkg/snooper"
)

// headerHeight is the number of rows above the packet viewport
const headerHeight = 9

// Messages
type tickMsg time.Time
type pipelineEventMsg capture.Event
type pipelineDoneMsg struct {
	err error
}

// monitorModel is the live capture view. The pipeline runs beside the
// program and reports through pipelineEventMsg.
type monitorModel struct {
	pipeline *capture.Pipeline
	info     string
	stamped  bool

	state     capture.State
	recording bool
	session   string
	lines     []string
	maxLines  int

	viewport viewport.Model
	width    int
	height   int
	quitting bool
	err      error
}

func newMonitorModel(p *capture.Pipeline, info string, stamped bool) monitorModel {
	vp := viewport.New(80, 24-headerHeight)
	vp.SetContent(dimStyle.Render("  (waiting for packets)"))
	return monitorModel{
		pipeline: p,
		info:     info,
		stamped:  stamped,
		maxLines: 1000,
		viewport: vp,
		width:    80,
		height:   24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.quitting {
				m.quitting = true
				m.pipeline.Shutdown()
			}
			return m, nil
		case " ":
			m.pipeline.Toggle()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-headerHeight, 3)
		return m, nil

	case tickMsg:
		return m, tickCmd()

	case pipelineDoneMsg:
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit

	case pipelineEventMsg:
		m.handleEvent(capture.Event(msg))
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *monitorModel) handleEvent(ev capture.Event) {
	switch ev.Kind {
	case capture.EventState:
		m.state = ev.State
	case capture.EventSessionStarted:
		m.recording = true
		m.session = ev.Session.Path
		m.addLine(okStyle.Render("● recording " + ev.Session.Path))
	case capture.EventSessionStopped:
		m.recording = false
		m.addLine(okStyle.Render(fmt.Sprintf("■ stopped %s (%d records)", ev.Session.Path, ev.Session.Records)))
	case capture.EventOverflow:
		m.addLine(flagStyle.Render(fmt.Sprintf("✗ buffer overflow (%d dropped)", ev.Dropped)))
	case capture.EventLinkError, capture.EventShellError:
		m.addLine(flagStyle.Render(fmt.Sprintf("✗ %s: %v", ev.Kind, ev.Err)))
	case capture.EventPacket, capture.EventInvalidPacket:
		if ev.Packet == nil {
			return
		}
		m.addLine(renderPacket(ev.Packet, m.stamped))
		for _, a := range ev.Anomalies {
			m.addLine("  " + warnStyle.Render(a.Message))
		}
	}
}

func (m *monitorModel) addLine(line string) {
	follow := m.viewport.AtBottom() || len(m.lines) == 0
	m.lines = append(m.lines, line)

	// Keep only last N lines
	if len(m.lines) > m.maxLines {
		m.lines = m.lines[len(m.lines)-m.maxLines:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("PDSCOPE - MONITOR"))
	s.WriteString("\n")
	s.WriteString(dimStyle.Render(m.info + " | space: start/stop recording | q: quit"))
	s.WriteString("\n")

	// Recording status
	switch {
	case m.recording:
		s.WriteString(flagStyle.Render("● REC ") + m.session)
	case m.state == capture.StateCapturing:
		s.WriteString(okStyle.Render("✓ Ready") + dimStyle.Render(" (not recording)"))
	default:
		s.WriteString(warnStyle.Render("⏳ " + m.state.String()))
	}
	s.WriteString("\n")

	snap := m.pipeline.Stats().Snapshot()
	s.WriteString(boxStyle.Render(statsLine(snap, statsLabelStyle)))
	s.WriteString("\n")

	s.WriteString(m.viewport.View())
	return s.String()
}

// statsLine renders the counters shown above the packet view
func statsLine(snap snooper.Snapshot, label lipgloss.Style) string {
	errCount := okStyle.Render(fmt.Sprintf("%d", snap.Errors()))
	if snap.Errors() > 0 {
		errCount = flagStyle.Render(fmt.Sprintf("%d", snap.Errors()))
	}
	return fmt.Sprintf("%s %s   %s %s   %s %s   %s %d/%d/%d   %s %d   %s %.1f pkts/s",
		label.Render("Total:"), okStyle.Render(fmt.Sprintf("%d", snap.TotalPackets)),
		label.Render("Valid:"), okStyle.Render(fmt.Sprintf("%d", snap.ValidPackets)),
		label.Render("Errors:"), errCount,
		label.Render("Ctrl/Data/Ext:"), snap.Control, snap.Data, snap.Extended,
		label.Render("Dropped:"), snap.Dropped,
		label.Render("Rate:"), snap.PacketRate,
	)
}
