// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/paclink/pkg/api"
	"github.com/Thermoquad/paclink/pkg/climate"
	"github.com/Thermoquad/paclink/pkg/link"
	"github.com/Thermoquad/paclink/pkg/pac"
)

// Focus states
const (
	focusOptions = iota
	focusTarget
)

// setting is the field the option list currently edits
type setting int

const (
	settingMode setting = iota
	settingFan
	settingSwing
	settingVertical
	settingHorizontal
	settingCount
)

var settingNames = []string{"Mode", "Fan", "Swing", "Vertical vane", "Horizontal vane"}

func (s setting) String() string { return settingNames[s] }

// option is one selectable value in the option list
type option struct {
	label   string
	current bool
	intent  climate.Intent
}

// Implement list.Item interface
func (o option) Title() string {
	if o.current {
		return "● " + o.label
	}
	return "  " + o.label
}
func (o option) Description() string { return "" }
func (o option) FilterValue() string { return o.label }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	ctl      api.Controller
	connInfo string
	variant  pac.Variant
	traits   climate.Traits

	state  climate.State
	status link.Status
	stats  pac.Statistics

	setting     setting
	options     list.Model
	targetInput textinput.Model
	focused     int
	lastMode    climate.Mode

	errorLog      []errorLogEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
	stopped  bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type linkMsg link.Status

type packetMsg struct {
	packet    *pac.Packet
	anomalies []pac.ValidationError
}

type submittedMsg struct {
	intent climate.Intent
	err    error
}

type bridgeStoppedMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(ctl api.Controller, connInfo string, variant pac.Variant) controlModel {
	ti := textinput.New()
	ti.Placeholder = "24.5"
	ti.CharLimit = 5
	ti.Width = 8

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	delegate.SetHeight(1)
	delegate.SetSpacing(0)
	options := list.New([]list.Item{}, delegate, 28, 10)
	options.SetShowStatusBar(false)
	options.SetShowHelp(false)
	options.SetFilteringEnabled(false)

	m := controlModel{
		ctl:           ctl,
		connInfo:      connInfo,
		variant:       variant,
		traits:        ctl.Traits(),
		options:       options,
		targetInput:   ti,
		focused:       focusOptions,
		lastMode:      climate.ModeCool,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
	m.refresh()
	m.rebuildOptions()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.options.SetHeight(len(m.options.Items()) + 2)

	case controlTickMsg:
		m.refresh()
		m.rebuildOptions()
		return m, controlTickCmd()

	case linkMsg:
		st := link.Status(msg)
		switch {
		case st.Phase == link.PhaseFailed:
			m.addLogEntry(fmt.Sprintf("Link failed: %s", st.LastError), true)
		case st.Degraded:
			m.addLogEntry(fmt.Sprintf("Link degraded (%d missed responses)", st.ConsecutiveFailures), true)
		default:
			m.addLogEntry(fmt.Sprintf("Link %s", st.Phase), false)
		}

	case packetMsg:
		for _, a := range msg.anomalies {
			m.addLogEntry(fmt.Sprintf("%s: %s", pac.FormatOpcode(msg.packet.Opcode()), a.Message), true)
		}

	case submittedMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Command failed: %v", msg.err), true)
		} else {
			m.addLogEntry("Sent "+msg.intent.String(), false)
		}

	case bridgeStoppedMsg:
		m.stopped = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Bridge stopped: %v", msg.err), true)
		} else {
			m.addLogEntry("Bridge stopped", true)
		}
	}

	var cmd tea.Cmd
	if m.focused == focusTarget {
		m.targetInput, cmd = m.targetInput.Update(msg)
	}
	return m, cmd
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.focused == focusTarget {
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "esc":
			m.blurTarget()
			return m, nil
		case "enter":
			return m.submitTarget()
		}
		var cmd tea.Cmd
		m.targetInput, cmd = m.targetInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "right", "l":
		m.setting = (m.setting + 1) % settingCount
		m.rebuildOptions()

	case "shift+tab", "left", "h":
		m.setting = (m.setting + settingCount - 1) % settingCount
		m.rebuildOptions()

	case "up", "k", "down", "j":
		m.options, _ = m.options.Update(msg)

	case "enter":
		if o, ok := m.options.SelectedItem().(option); ok {
			return m, m.submit(o.intent)
		}

	case "p":
		return m, m.submit(m.powerIntent())

	case "n":
		on := !m.state.NanoeX
		return m, m.submit(climate.Intent{NanoeX: &on})

	case "+", "=":
		return m, m.submit(m.stepTarget(1))

	case "-":
		return m, m.submit(m.stepTarget(-1))

	case "t":
		m.focused = focusTarget
		m.targetInput.SetValue(strconv.FormatFloat(m.state.Target, 'f', 1, 64))
		m.targetInput.Focus()
		return m, textinput.Blink
	}

	return m, nil
}

func (m *controlModel) blurTarget() {
	m.focused = focusOptions
	m.targetInput.Blur()
	m.targetInput.SetValue("")
}

func (m controlModel) submitTarget() (tea.Model, tea.Cmd) {
	raw := strings.TrimSpace(m.targetInput.Value())
	m.blurTarget()

	t, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid temperature %q", raw), true)
		return m, nil
	}
	if t < m.traits.MinTemperature || t > m.traits.MaxTemperature {
		m.addLogEntry(fmt.Sprintf("Temperature must be %.1f-%.1f°C", m.traits.MinTemperature, m.traits.MaxTemperature), true)
		return m, nil
	}
	return m, m.submit(climate.Intent{Target: &t})
}

// powerIntent switches the unit off, or back on in the last active mode
func (m controlModel) powerIntent() climate.Intent {
	mode := climate.ModeOff
	if m.state.Mode == climate.ModeOff {
		mode = m.lastMode
	}
	return climate.Intent{Mode: &mode}
}

func (m controlModel) stepTarget(dir float64) climate.Intent {
	t := m.state.Target + dir*m.traits.TemperatureStep
	if t < m.traits.MinTemperature {
		t = m.traits.MinTemperature
	}
	if t > m.traits.MaxTemperature {
		t = m.traits.MaxTemperature
	}
	return climate.Intent{Target: &t}
}

func (m controlModel) submit(in climate.Intent) tea.Cmd {
	if m.stopped {
		return func() tea.Msg {
			return submittedMsg{intent: in, err: fmt.Errorf("bridge is not running")}
		}
	}
	ctl := m.ctl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return submittedMsg{intent: in, err: ctl.Submit(ctx, in)}
	}
}

func (m *controlModel) refresh() {
	m.state = m.ctl.Snapshot()
	m.status = m.ctl.Status()
	m.stats = m.ctl.Stats()
	if m.state.Mode != climate.ModeOff {
		m.lastMode = m.state.Mode
	}
}

// rebuildOptions lists the values of the selected setting, marking the
// one the unit currently reports
func (m *controlModel) rebuildOptions() {
	var items []list.Item
	switch m.setting {
	case settingMode:
		for _, v := range m.traits.Modes {
			v := v
			items = append(items, option{label: v.String(), current: v == m.state.Mode, intent: climate.Intent{Mode: &v}})
		}
	case settingFan:
		for _, v := range m.traits.Fans {
			v := v
			items = append(items, option{label: v.String(), current: v == m.state.Fan, intent: climate.Intent{Fan: &v}})
		}
	case settingSwing:
		for _, v := range m.traits.SwingModes {
			v := v
			items = append(items, option{label: v.String(), current: v == m.state.Swing, intent: climate.Intent{Swing: &v}})
		}
	case settingVertical:
		for _, v := range m.traits.VerticalSwings {
			v := v
			items = append(items, option{label: v, current: v == m.state.VerticalSwing, intent: climate.Intent{VerticalSwing: &v}})
		}
	case settingHorizontal:
		for _, v := range m.traits.HorizontalSwings {
			v := v
			items = append(items, option{label: v, current: v == m.state.HorizontalSwing, intent: climate.Intent{HorizontalSwing: &v}})
		}
	}

	idx := m.options.Index()
	m.options.Title = m.setting.String()
	m.options.SetItems(items)
	m.options.SetHeight(len(items) + 2)
	if idx < len(items) {
		m.options.Select(idx)
	}
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	focusedBoxStyle := boxStyle.BorderForeground(lipgloss.Color("12"))

	var s strings.Builder
	s.WriteString(titleStyle.Render("PACLINK CONTROL"))
	s.WriteString(" ")
	s.WriteString(m.renderPhase())
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s | ←/→ setting, ↑/↓ select, enter apply, p power, +/- target, t type target, n nanoeX, q quit",
		m.connInfo, m.variant)))
	s.WriteString("\n\n")

	leftWidth := 30
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 40 {
		rightWidth = 40
	}

	listStyle := boxStyle.Width(leftWidth)
	if m.focused == focusOptions {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	statePanel := boxStyle.Width(rightWidth).Render(m.renderState())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, listStyle.Render(m.options.View()), " ", statePanel))
	s.WriteString("\n")

	s.WriteString(boxStyle.Render(renderStats(&m.stats)))
	s.WriteString("\n\n")

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(renderEventLog(m.errorLog, m.height-len(m.options.Items())-20, m.width))
	return s.String()
}

func (m controlModel) renderPhase() string {
	label := strings.ToUpper(m.status.Phase.String())
	switch {
	case m.stopped:
		return errorStyle.Render("STOPPED")
	case m.status.Phase == link.PhaseFailed:
		return errorStyle.Render(label)
	case m.status.Degraded:
		return warningStyle.Render(label + " (DEGRADED)")
	case m.status.Phase == link.PhaseReady:
		return statsValueStyle.Render(label)
	default:
		return warningStyle.Render(label)
	}
}

func (m controlModel) renderState() string {
	st := m.state
	temp := func(v float64, valid bool) string {
		if !valid {
			return headerStyle.Render("--")
		}
		return statsValueStyle.Render(fmt.Sprintf("%.1f°C", v))
	}
	onOff := func(on bool) string {
		if on {
			return statsValueStyle.Render("on")
		}
		return headerStyle.Render("off")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		statsLabelStyle.Render("Mode:"), statsValueStyle.Render(st.Mode.String()),
		statsLabelStyle.Render("Fan:"), statsValueStyle.Render(st.Fan.String())))

	target := temp(st.Target, st.TargetValid)
	if m.focused == focusTarget {
		target = m.targetInput.View()
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Target:"), target,
		statsLabelStyle.Render("Room:"), temp(st.Current, st.CurrentValid),
		statsLabelStyle.Render("Outside:"), temp(st.Outside, st.OutsideValid)))

	b.WriteString(fmt.Sprintf("%s %s (%s / %s)   %s %s\n",
		statsLabelStyle.Render("Swing:"), statsValueStyle.Render(st.Swing.String()),
		st.VerticalSwing, st.HorizontalSwing,
		statsLabelStyle.Render("nanoeX:"), onOff(st.NanoeX)))

	atTarget := warningStyle.Render("no")
	if st.AtTarget {
		atTarget = statsValueStyle.Render("yes")
	}
	b.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render("At target:"), atTarget))

	if !m.status.LastPacketReceived.IsZero() {
		b.WriteString(fmt.Sprintf("   %s %s",
			statsLabelStyle.Render("Last RX:"),
			headerStyle.Render(time.Since(m.status.LastPacketReceived).Truncate(100*time.Millisecond).String()+" ago")))
	}
	return b.String()
}
