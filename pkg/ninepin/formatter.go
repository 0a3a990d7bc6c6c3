// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ninepin

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatFrame formats a frame into a human-readable line
func FormatFrame(frame []byte, ts time.Time, lanes int) string {
	timestamp := ts.Format("15:04:05.000")
	direction, lane := describeLane(frame, lanes)
	cmd := FormatCommand(frame)

	result := fmt.Sprintf("[%s] %-9s %-5s %-12s %s\n", timestamp, direction, lane, cmd, quote(frame))

	if report, ok, err := ParseThrowReport(frame); ok && err == nil {
		result += fmt.Sprintf("  Throw: %d, Next arrangement: %s\n", report.ThrowNumber, report.NextArrangement)
	}
	return result
}

// FormatCommand returns the human-readable name of a frame command
func FormatCommand(frame []byte) string {
	if len(frame) > CommandOffset && IsControllerFrame(frame) {
		switch Command(frame) {
		case CmdLaneIdle:
			return "LANE_IDLE"
		case CmdLanePause:
			return "LANE_PAUSE"
		}
		if len(frame) == ThrowFrameLength {
			return "THROW"
		}
		return "REPORT"
	}

	body := ""
	if len(frame) > CommandOffset {
		body = string(frame[CommandOffset:])
	}
	switch {
	case strings.HasPrefix(body, CmdEnter):
		return "ENTER"
	case strings.HasPrefix(body, CmdTimeStop):
		return "TIME_STOP"
	case strings.HasPrefix(body, CmdGameStart):
		return "GAME_START"
	case strings.HasPrefix(body, CmdPractice):
		return "PRACTICE"
	case strings.HasPrefix(body, CmdEditScore):
		return "EDIT_SCORE"
	}
	return "UNKNOWN"
}

func describeLane(frame []byte, lanes int) (string, string) {
	if IsControllerFrame(frame) {
		if lane, ok := IncomingLane(frame, lanes); ok {
			return "FROM_LANE", strconv.Itoa(lane + 1)
		}
		return "FROM_LANE", "?"
	}
	if lane, ok := OutgoingLane(frame, lanes); ok {
		return "TO_LANE", strconv.Itoa(lane + 1)
	}
	return "TO_LANE", "?"
}

func quote(frame []byte) string {
	return strconv.Quote(DecodeText(frame))
}
