// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ninepin

import "fmt"

// Checksum returns the two hex digit checksum of body: the low byte of
// the sum of all byte values, upper-case and zero padded.
func Checksum(body []byte) string {
	sum := 0
	for _, b := range body {
		sum += int(b)
	}
	return fmt.Sprintf("%02X", sum&0xFF)
}

// Seal appends the checksum and the terminator to body
func Seal(body []byte) []byte {
	frame := make([]byte, 0, len(body)+ChecksumSize+1)
	frame = append(frame, body...)
	frame = append(frame, Checksum(body)...)
	return append(frame, Terminator)
}

// VerifyChecksum reports whether a terminated frame ends with a valid
// checksum of its body.
func VerifyChecksum(frame []byte) bool {
	if !HasTerminator(frame) || len(frame) < ChecksumSize+1 {
		return false
	}
	end := len(frame) - 1
	body := frame[:end-ChecksumSize]
	return string(frame[end-ChecksumSize:end]) == Checksum(body)
}

// LaneCommand builds the sealed frame sending cmd to lane
func LaneCommand(lane int, cmd string) []byte {
	body := fmt.Sprintf("3%d%s%s", lane, ControllerPrefix, cmd)
	return Seal([]byte(body))
}
