// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ninepin

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Framing
// ============================================================

func TestCutComplete(t *testing.T) {
	tests := []struct {
		name     string
		buf      string
		complete string
		rest     string
	}{
		{"empty", "", "", ""},
		{"partial only", "3138T2", "", "3138T2"},
		{"single frame", "3138T2489\r", "3138T2489\r", ""},
		{"last terminator wins", "A\rB\rC", "A\rB\r", "C"},
		{"lone terminator", "\r", "\r", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complete, rest := CutComplete([]byte(tt.buf))
			assert.Equal(t, tt.complete, string(complete))
			assert.Equal(t, tt.rest, string(rest))
		})
	}
}

func TestFirstFrame(t *testing.T) {
	frame, ok := FirstFrame([]byte("A\rB\r"))
	require.True(t, ok)
	assert.Equal(t, "A\r", string(frame))

	_, ok = FirstFrame([]byte("AB"))
	assert.False(t, ok)
}

func TestSplitFrames(t *testing.T) {
	frames := SplitFrames([]byte("A\rBB\rCCC"))
	require.Len(t, frames, 3)
	assert.Equal(t, "A\r", string(frames[0]))
	assert.Equal(t, "BB\r", string(frames[1]))
	assert.Equal(t, "CCC", string(frames[2]))

	assert.Empty(t, SplitFrames(nil))
	assert.Equal(t, 2, CountFrames([]byte("A\rB\rC")))
}

// ============================================================
// Lane addressing
// ============================================================

func TestOutgoingLane(t *testing.T) {
	lane, ok := OutgoingLane([]byte("3138T24__\r"), 4)
	require.True(t, ok)
	assert.Equal(t, 1, lane)

	_, ok = OutgoingLane([]byte("3538T24__\r"), 4)
	assert.False(t, ok, "lane 5 does not exist on a 4 lane alley")

	_, ok = OutgoingLane([]byte("3X38T24\r"), 4)
	assert.False(t, ok)

	_, ok = OutgoingLane([]byte("3"), 4)
	assert.False(t, ok)
}

func TestIncomingLane(t *testing.T) {
	lane, ok := IncomingLane([]byte("3802i0\r"), 4)
	require.True(t, ok)
	assert.Equal(t, 2, lane)

	_, ok = IncomingLane([]byte("380"), 4)
	assert.False(t, ok)
}

func TestCommand(t *testing.T) {
	assert.Equal(t, "i0", Command([]byte("3801i0\r")))
	assert.Equal(t, "T2", Command([]byte("3138T24\r")))
	assert.Equal(t, "", Command([]byte("31")))
}

// ============================================================
// Checksum
// ============================================================

func TestChecksum_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"empty", "", "00"},
		{"enter lane 1", "3138T24", "89"},
		{"single digit padded", "\x05", "05"},
		{"wraps to low byte", "\xff\x02", "01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Checksum([]byte(tt.body)))
		})
	}
}

func TestSealAndVerify(t *testing.T) {
	frame := Seal([]byte("3138T24"))
	assert.Equal(t, "3138T2489\r", string(frame))
	assert.True(t, VerifyChecksum(frame))

	assert.False(t, VerifyChecksum([]byte("3138T2400\r")))
	assert.False(t, VerifyChecksum([]byte("3138T2489")))
	assert.False(t, VerifyChecksum([]byte("\r")))
}

func TestLaneCommand(t *testing.T) {
	assert.Equal(t, "3138T2489\r", string(LaneCommand(1, CmdEnter)))

	frame := LaneCommand(3, CmdTimeStop)
	lane, ok := OutgoingLane(frame, 4)
	require.True(t, ok)
	assert.Equal(t, 3, lane)
	assert.True(t, VerifyChecksum(frame))
}

func TestPrepare(t *testing.T) {
	msg := Prepare([]byte("3138T24"))
	assert.Equal(t, "3138T2489\r", string(msg.Payload))
	assert.Zero(t, msg.Priority)
	assert.Zero(t, msg.TimeWait)
}

// ============================================================
// Field decoding
// ============================================================

func throwReport(lane byte, throw, next string) []byte {
	body := "38" + "0" + string(lane) + "w" + throw + strings.Repeat("0", 9) + next + strings.Repeat("0", 12)
	return Seal([]byte(body))
}

func TestParseThrowReport(t *testing.T) {
	frame := throwReport('2', "01A", "1FF")
	require.Len(t, frame, ThrowFrameLength)

	report, ok, err := ParseThrowReport(frame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, report.Lane)
	assert.Equal(t, 26, report.ThrowNumber)
	assert.Equal(t, "1FF", report.NextArrangement)

	_, ok, err = ParseThrowReport([]byte("3801i0\r"))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ParseThrowReport(throwReport('2', "0ZZ", "000"))
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestTotalSum(t *testing.T) {
	body := []byte("3038IG" + strings.Repeat("0", 9) + "000" + strings.Repeat("0", 9))
	frame := Seal(body)

	sum, err := TotalSum(frame)
	require.NoError(t, err)
	assert.Equal(t, 0, sum)

	updated := WithTotalSum(frame, 0x2AB)
	assert.Len(t, updated, len(frame))
	assert.True(t, VerifyChecksum(updated))
	sum, err = TotalSum(updated)
	require.NoError(t, err)
	assert.Equal(t, 0x2AB, sum)

	clamped := WithTotalSum(frame, MaxTotalSum+1)
	sum, err = TotalSum(clamped)
	require.NoError(t, err)
	assert.Equal(t, 0, sum)
}

// ============================================================
// Charset
// ============================================================

func TestIsWindows1250(t *testing.T) {
	assert.True(t, IsWindows1250([]byte("3138T2489\r")))
	assert.True(t, IsWindows1250([]byte{0xA5, 0xB9}), "Polish letters are valid")
	assert.False(t, IsWindows1250([]byte{'3', 0x81, '\r'}))
	assert.False(t, IsWindows1250([]byte{0x98}))
}

// ============================================================
// Validation
// ============================================================

func TestValidateFrame(t *testing.T) {
	tests := []struct {
		name     string
		frame    []byte
		expected []AnomalyType
	}{
		{"valid command", LaneCommand(1, CmdEnter), nil},
		{"missing terminator", []byte("3138T2489"), []AnomalyType{AnomalyMissingTerminator}},
		{"bad checksum", []byte("3138T2400\r"), []AnomalyType{AnomalyChecksum}},
		{"lane out of range", LaneCommand(7, CmdEnter), []AnomalyType{AnomalyLaneOutOfRange}},
		{"too short", []byte("31\r"), []AnomalyType{AnomalyLength}},
		{"noise", []byte{'3', '1', '3', '8', 0x81, 'A', 'A', '\r'}, []AnomalyType{AnomalyNoise, AnomalyChecksum}},
		{"valid report", throwReport('1', "001", "000"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateFrame(tt.frame, 4)
			var got []AnomalyType
			for _, e := range errs {
				got = append(got, e.Type)
				assert.NotEmpty(t, e.Error())
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

// ============================================================
// Formatting
// ============================================================

func TestFormatFrame(t *testing.T) {
	ts := time.Date(2025, 1, 1, 12, 30, 45, 123000000, time.UTC)

	out := FormatFrame(LaneCommand(1, CmdEnter), ts, 4)
	assert.Contains(t, out, "[12:30:45.123]")
	assert.Contains(t, out, "TO_LANE")
	assert.Contains(t, out, "ENTER")
	assert.Contains(t, out, `"3138T2489\r"`)

	out = FormatFrame(throwReport('0', "00B", "000"), ts, 4)
	assert.Contains(t, out, "FROM_LANE")
	assert.Contains(t, out, "THROW")
	assert.Contains(t, out, "Throw: 11")
}

func TestFormatCommand(t *testing.T) {
	assert.Equal(t, "LANE_IDLE", FormatCommand([]byte("3801i0\r")))
	assert.Equal(t, "TIME_STOP", FormatCommand(LaneCommand(0, CmdTimeStop)))
	assert.Equal(t, "GAME_START", FormatCommand(Seal([]byte("3038IG000"))))
	assert.Equal(t, "UNKNOWN", FormatCommand([]byte("3\r")))
}
