// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ninepin

import (
	"bytes"
	"fmt"
	"strconv"
)

// CutComplete splits buf after the last terminator. complete holds every
// finished frame, rest the trailing partial frame (possibly empty).
func CutComplete(buf []byte) (complete, rest []byte) {
	idx := bytes.LastIndexByte(buf, Terminator)
	if idx < 0 {
		return nil, buf
	}
	return buf[:idx+1], buf[idx+1:]
}

// FirstFrame returns the prefix of buf up to and including the first
// terminator.
func FirstFrame(buf []byte) ([]byte, bool) {
	idx := bytes.IndexByte(buf, Terminator)
	if idx < 0 {
		return nil, false
	}
	return buf[:idx+1], true
}

// SplitFrames splits a blob of concatenated frames. A trailing fragment
// without terminator is returned as the last element.
func SplitFrames(blob []byte) [][]byte {
	var frames [][]byte
	for len(blob) > 0 {
		idx := bytes.IndexByte(blob, Terminator)
		if idx < 0 {
			frames = append(frames, blob)
			break
		}
		frames = append(frames, blob[:idx+1])
		blob = blob[idx+1:]
	}
	return frames
}

// CountFrames returns the number of terminators in b
func CountFrames(b []byte) int {
	return bytes.Count(b, []byte{Terminator})
}

// HasTerminator reports whether b ends with the frame terminator
func HasTerminator(b []byte) bool {
	return len(b) > 0 && b[len(b)-1] == Terminator
}

// OutgoingLane returns the lane addressed by a frame sent to the lanes
func OutgoingLane(frame []byte, lanes int) (int, bool) {
	return laneAt(frame, OutgoingLaneOffset, lanes)
}

// IncomingLane returns the lane that sent a frame
func IncomingLane(frame []byte, lanes int) (int, bool) {
	return laneAt(frame, IncomingLaneOffset, lanes)
}

func laneAt(frame []byte, offset, lanes int) (int, bool) {
	if len(frame) <= offset {
		return 0, false
	}
	c := frame[offset]
	if c < '0' || c > '9' {
		return 0, false
	}
	lane := int(c - '0')
	if lane >= lanes {
		return 0, false
	}
	return lane, true
}

// Command returns the two command bytes of a frame, or "" when the frame
// is too short.
func Command(frame []byte) string {
	if len(frame) < CommandOffset+2 {
		return ""
	}
	return string(frame[CommandOffset : CommandOffset+2])
}

// IsControllerFrame reports whether frame was produced by a lane controller
func IsControllerFrame(frame []byte) bool {
	return bytes.HasPrefix(frame, []byte(ControllerPrefix))
}

// ThrowReport is the decoded part of a 35 byte throw report
type ThrowReport struct {
	Lane            int
	ThrowNumber     int
	NextArrangement string
}

// ParseThrowReport decodes the fields of a lane throw report. ok is false
// for frames of another kind.
func ParseThrowReport(frame []byte) (ThrowReport, bool, error) {
	if len(frame) != ThrowFrameLength || !IsControllerFrame(frame) {
		return ThrowReport{}, false, nil
	}
	throw, err := strconv.ParseInt(string(frame[throwNumberStart:throwNumberEnd]), 16, 32)
	if err != nil {
		return ThrowReport{}, true, err
	}
	lane, err := strconv.Atoi(string(frame[IncomingLaneOffset : IncomingLaneOffset+1]))
	if err != nil {
		return ThrowReport{}, true, err
	}
	return ThrowReport{
		Lane:            lane,
		ThrowNumber:     int(throw),
		NextArrangement: string(frame[nextArrangementStart:nextArrangementEnd]),
	}, true, nil
}

// TotalSum returns the three hex digit sum field of a game start frame
func TotalSum(frame []byte) (int, error) {
	if len(frame) < totalSumEnd {
		return 0, strconv.ErrSyntax
	}
	v, err := strconv.ParseInt(string(frame[totalSumStart:totalSumEnd]), 16, 32)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// WithTotalSum returns a resealed copy of a game start frame carrying sum.
// Sums outside 0..MaxTotalSum are written as zero.
func WithTotalSum(frame []byte, sum int) []byte {
	if len(frame) < totalSumEnd+ChecksumSize+1 {
		return frame
	}
	if sum < 0 || sum > MaxTotalSum {
		sum = 0
	}
	body := make([]byte, 0, len(frame))
	body = append(body, frame[:totalSumStart]...)
	body = append(body, fmt.Sprintf("%03X", sum)...)
	body = append(body, frame[totalSumEnd:len(frame)-ChecksumSize-1]...)
	return Seal(body)
}
