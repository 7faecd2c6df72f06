// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pac

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks packet statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Receive counters
	TotalFrames      uint64
	ValidPackets     uint64
	Overflows        uint64
	ResyncBytes      uint64
	BadHeaders       uint64
	ChecksumErrors   uint64
	ShortPackets     uint64
	LengthMismatches uint64
	AnomalousPackets uint64
	InvalidTemps     uint64
	InvalidSwings    uint64
	UnknownTypes     uint64

	// Transmit counters
	PacketsSent      uint64
	Resends          uint64
	ResponseTimeouts uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a decoded frame and its errors
func (s *Statistics) Update(packet *Packet, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		var de *DecodeError
		if !errors.As(decodeErr, &de) {
			s.ShortPackets++
			return
		}
		switch de.Kind {
		case DecodeBadHeader:
			s.BadHeaders++
		case DecodeBadChecksum:
			s.ChecksumErrors++
		case DecodeTooShort:
			s.ShortPackets++
		case DecodeBadLength:
			s.LengthMismatches++
		}
		return
	}

	s.ValidPackets++
	if len(validationErrors) == 0 {
		return
	}

	s.AnomalousPackets++
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyInvalidTemp:
			s.InvalidTemps++
		case AnomalyInvalidSwing:
			s.InvalidSwings++
		case AnomalyUnknownType:
			s.UnknownTypes++
		}
	}
}

// RecordOverflow counts a receive buffer overflow
func (s *Statistics) RecordOverflow() {
	s.Overflows++
	s.LastUpdateTime = time.Now()
}

// RecordResync counts bytes discarded before a header
func (s *Statistics) RecordResync(n uint64) {
	s.ResyncBytes += n
}

// RecordSent counts an outgoing packet
func (s *Statistics) RecordSent(t CommandType) {
	s.PacketsSent++
	if t == Resend {
		s.Resends++
	}
}

// RecordTimeout counts a response timeout
func (s *Statistics) RecordTimeout() {
	s.ResponseTimeouts++
}

// DecodeErrors returns the total number of rejected frames
func (s *Statistics) DecodeErrors() uint64 {
	return s.BadHeaders + s.ChecksumErrors + s.ShortPackets + s.LengthMismatches
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.ValidPackets) / elapsed
		errorCount := s.DecodeErrors() + s.Overflows + s.ResponseTimeouts
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, decodePercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidPackets) * 100.0 / float64(s.TotalFrames)
		decodePercent = float64(s.DecodeErrors()) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, validPercent)

	if s.DecodeErrors() > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors(), decodePercent)
		if s.ChecksumErrors > 0 {
			result += fmt.Sprintf("  Checksum:         %5d\n", s.ChecksumErrors)
		}
		if s.ShortPackets > 0 {
			result += fmt.Sprintf("  Too Short:        %5d\n", s.ShortPackets)
		}
		if s.BadHeaders > 0 {
			result += fmt.Sprintf("  Bad Header:       %5d\n", s.BadHeaders)
		}
		if s.LengthMismatches > 0 {
			result += fmt.Sprintf("  Length Mismatch:  %5d\n", s.LengthMismatches)
		}
	}
	if s.Overflows > 0 {
		result += fmt.Sprintf("Overflows:       %8d\n", s.Overflows)
	}
	if s.ResyncBytes > 0 {
		result += fmt.Sprintf("Resync Bytes:    %8d\n", s.ResyncBytes)
	}
	if s.AnomalousPackets > 0 {
		result += fmt.Sprintf("Anomalous Pkts:  %8d\n", s.AnomalousPackets)
		if s.InvalidTemps > 0 {
			result += fmt.Sprintf("  Invalid Temp:     %5d\n", s.InvalidTemps)
		}
		if s.InvalidSwings > 0 {
			result += fmt.Sprintf("  Invalid Swing:    %5d\n", s.InvalidSwings)
		}
		if s.UnknownTypes > 0 {
			result += fmt.Sprintf("  Unknown Type:     %5d\n", s.UnknownTypes)
		}
	}
	if s.PacketsSent > 0 {
		result += fmt.Sprintf("Packets Sent:    %8d (resends %d, timeouts %d)\n", s.PacketsSent, s.Resends, s.ResponseTimeouts)
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
