// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/paclink/pkg/pac"
)

// Event log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// Shared styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statsLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	statsValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// Error detection TUI model
type model struct {
	connInfo      string
	showAll       bool
	codec         *pac.Codec
	stats         *pac.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	synchronized  bool
	skipped       uint64
	width         int
	height        int
	quitting      bool
	lastStatus    *pac.Fields
	lastStatusAt  time.Time
}

// Messages
type tickMsg time.Time
type frameMsg struct {
	event            pac.FrameEvent
	packet           *pac.Packet
	decodeErr        error
	validationErrors []pac.ValidationError
}
type syncMsg struct {
	skippedFrames uint64
}

func initialModel(connInfo string, codec *pac.Codec, showAll bool) model {
	return model{
		connInfo:      connInfo,
		showAll:       showAll,
		codec:         codec,
		stats:         pac.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
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

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.skipped = msg.skippedFrames
		if msg.skippedFrames > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d frames", msg.skippedFrames), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case frameMsg:
		switch {
		case msg.event.Kind == pac.FrameOverflow:
			m.stats.RecordOverflow()
			m.addLogEntry("Receive buffer overflow", true)

		case msg.decodeErr != nil:
			m.stats.Update(nil, msg.decodeErr, nil)
			m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)

		case msg.packet != nil:
			m.stats.Update(msg.packet, nil, msg.validationErrors)
			if f, ok := msg.packet.Fields(); ok {
				m.lastStatus = &f
				m.lastStatusAt = time.Now()
			}

			opName := pac.FormatOpcode(msg.packet.Opcode())
			if len(msg.validationErrors) > 0 {
				for _, err := range msg.validationErrors {
					m.addLogEntry(fmt.Sprintf("%s: %s", opName, err.Message), true)
				}
			} else if m.showAll {
				m.addLogEntry(fmt.Sprintf("%s %s seq=%d (valid)", msg.packet.Type(), opName, msg.packet.Sequence()), false)
			}
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("PACLINK - ERROR DETECTION"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All packets"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Variant: %s | Mode: %s | Press 'q' to quit",
		m.connInfo, m.codec.Variant(), mode)))
	s.WriteString("\n\n")

	if !m.synchronized {
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	} else {
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.skipped > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d frames)", m.skipped)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(renderStats(m.stats)))
	s.WriteString("\n\n")

	if m.lastStatus != nil {
		s.WriteString(statsLabelStyle.Render("Latest Status:"))
		s.WriteString(headerStyle.Render(" " + m.lastStatusAt.Format("15:04:05")))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(strings.TrimRight(m.codec.FormatFields(*m.lastStatus), "\n")))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(renderEventLog(m.errorLog, m.height-17, m.width))

	return s.String()
}

// renderStats renders the receive and transmit counters
func renderStats(st *pac.Statistics) string {
	st.CalculateRates()
	var validPercent, errorPercent float64
	errors := st.DecodeErrors() + st.AnomalousPackets
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidPackets) * 100.0 / float64(st.TotalFrames)
		errorPercent = float64(errors) * 100.0 / float64(st.TotalFrames)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidPackets, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", errors, errorPercent)),
	))

	if st.DecodeErrors() > 0 {
		b.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Decode:"), errorStyle.Render(fmt.Sprintf("%d", st.DecodeErrors())),
			headerStyle.Render("checksum"), st.ChecksumErrors,
			headerStyle.Render("short"), st.ShortPackets,
			headerStyle.Render("header"), st.BadHeaders,
			headerStyle.Render("length"), st.LengthMismatches,
		))
	}

	if st.AnomalousPackets > 0 {
		b.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", st.AnomalousPackets)),
			headerStyle.Render("temp"), st.InvalidTemps,
			headerStyle.Render("swing"), st.InvalidSwings,
			headerStyle.Render("type"), st.UnknownTypes,
		))
	}

	if st.Overflows > 0 || st.ResyncBytes > 0 {
		b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Overflows:"), errorStyle.Render(fmt.Sprintf("%d", st.Overflows)),
			statsLabelStyle.Render("Resync bytes:"), warningStyle.Render(fmt.Sprintf("%d", st.ResyncBytes)),
		))
	}

	if st.PacketsSent > 0 {
		b.WriteString(fmt.Sprintf("%s %s   %s %d   %s %d\n",
			statsLabelStyle.Render("Sent:"), statsValueStyle.Render(fmt.Sprintf("%d", st.PacketsSent)),
			statsLabelStyle.Render("Resends:"), st.Resends,
			statsLabelStyle.Render("Timeouts:"), st.ResponseTimeouts,
		))
	}

	errRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", st.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), errRate,
	))
	return b.String()
}

// renderEventLog renders the newest entries that fit in height lines
func renderEventLog(entries []errorLogEntry, height, width int) string {
	if height < 5 {
		height = 5
	}
	start := len(entries) - height
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	if len(entries) == 0 {
		b.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range entries[start:] {
		ts := headerStyle.Render(entry.timestamp.Format("01/02/06 15:04:05.000"))
		if entry.isError {
			b.WriteString(fmt.Sprintf("%s %s\n", ts, errorStyle.Render("✗ "+entry.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", ts, warningStyle.Render("ℹ "+entry.message)))
		}
	}

	w := width - 4
	if w < 20 {
		w = 20
	}
	return boxStyle.Width(w).Render(b.String())
}
