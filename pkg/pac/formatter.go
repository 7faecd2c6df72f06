// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pac

import (
	"fmt"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func (c *Codec) FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")
	opName := FormatOpcode(p.Opcode())
	if len(p.payload) == 0 {
		opName = "ACK"
	}

	result := fmt.Sprintf("[%s] %s %s (0x%02X) seq=%d len=%d\n",
		timestamp, p.Type(), opName, p.Opcode(), p.seq, len(p.payload))

	if f, ok := p.Fields(); ok {
		result += c.FormatFields(f)
	} else if p.Opcode() == OpHandshake && len(p.payload) > 1 {
		result += fmt.Sprintf("  Step: %d, Data: % X\n", p.payload[1], p.payload[2:])
	}

	return result
}

// FormatOpcode returns the human-readable name for an opcode
func FormatOpcode(op uint8) string {
	switch op {
	case OpHandshake:
		return "HANDSHAKE"
	case OpStatusQuery:
		return "STATUS_QUERY"
	case OpStatus:
		return "STATUS"
	case OpControl:
		return "CONTROL"
	default:
		return "UNKNOWN"
	}
}

// FormatFields formats a field set using the codec's swing table
func (c *Codec) FormatFields(f Fields) string {
	power := "Off"
	if f.Power {
		power = "On"
	}
	nanoex := "Off"
	if f.NanoeX {
		nanoex = "On"
	}

	vertical, ok := c.swing.Vertical(f.VerticalSwing)
	if !ok {
		vertical = fmt.Sprintf("?(0x%02X)", f.VerticalSwing)
	}
	horizontal, ok := c.swing.Horizontal(f.HorizontalSwing)
	if !ok {
		horizontal = fmt.Sprintf("?(0x%02X)", f.HorizontalSwing)
	}

	result := fmt.Sprintf("  Power: %s, Mode: %s (%d), Fan: %s (%d), Target: %.1f°C\n",
		power, formatMode(f.Mode), f.Mode, formatFan(f.Fan), f.Fan, TargetFromCode(f.TargetCode))
	result += fmt.Sprintf("  Room: %s, Outside: %s, Swing: %s/%s, nanoeX: %s\n",
		formatTemp(f.Current), formatTemp(f.Outside), vertical, horizontal, nanoex)
	return result
}

// FormatHex formats raw frame bytes for packet logging
func FormatHex(frame []byte, outgoing bool) string {
	dir := "RX"
	if outgoing {
		dir = "TX"
	}
	parts := make([]string, len(frame))
	for i, b := range frame {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return fmt.Sprintf("%s: %s", dir, strings.Join(parts, " "))
}

func formatTemp(t int8) string {
	if t == TemperatureUnset {
		return "-"
	}
	if t >= TemperatureThreshold {
		return fmt.Sprintf("invalid(%d)", t)
	}
	return fmt.Sprintf("%d°C", t)
}

func formatMode(mode uint8) string {
	switch mode {
	case ModeCodeAuto:
		return "AUTO"
	case ModeCodeHeat:
		return "HEAT"
	case ModeCodeDry:
		return "DRY"
	case ModeCodeCool:
		return "COOL"
	case ModeCodeFan:
		return "FAN"
	default:
		return "UNKNOWN"
	}
}

func formatFan(fan uint8) string {
	switch fan {
	case FanCodeAuto:
		return "AUTO"
	case FanCodeLowest:
		return "LOWEST"
	case FanCodeLow:
		return "LOW"
	case FanCodeMedium:
		return "MEDIUM"
	case FanCodeHigh:
		return "HIGH"
	case FanCodeHighest:
		return "HIGHEST"
	default:
		return "UNKNOWN"
	}
}
