// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ninepin

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyMissingTerminator AnomalyType = iota
	AnomalyChecksum
	AnomalyLaneOutOfRange
	AnomalyNoise
	AnomalyLength
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame checks a single frame for anomalies.
// Returns a slice of validation errors (empty if frame is valid)
func ValidateFrame(frame []byte, lanes int) []ValidationError {
	errors := []ValidationError{}

	if !HasTerminator(frame) {
		errors = append(errors, ValidationError{
			Type:    AnomalyMissingTerminator,
			Message: "Frame is not terminated with \\r",
			Details: map[string]interface{}{"length": len(frame)},
		})
		return errors
	}

	if !IsWindows1250(frame) {
		errors = append(errors, ValidationError{
			Type:    AnomalyNoise,
			Message: "Frame contains bytes outside Windows-1250",
		})
	}

	if len(frame) < CommandOffset+ChecksumSize+1 {
		errors = append(errors, ValidationError{
			Type:    AnomalyLength,
			Message: fmt.Sprintf("Frame too short (%d bytes)", len(frame)),
			Details: map[string]interface{}{"length": len(frame)},
		})
		return errors
	}

	if IsControllerFrame(frame) {
		if _, ok := IncomingLane(frame, lanes); !ok {
			errors = append(errors, ValidationError{
				Type:    AnomalyLaneOutOfRange,
				Message: fmt.Sprintf("Sender lane %q out of range (lanes=%d)", frame[IncomingLaneOffset], lanes),
				Details: map[string]interface{}{"lane": string(frame[IncomingLaneOffset]), "lanes": lanes},
			})
		}
		if len(frame) == ThrowFrameLength && !VerifyChecksum(frame) {
			errors = append(errors, checksumError(frame))
		}
		return errors
	}

	if _, ok := OutgoingLane(frame, lanes); !ok {
		errors = append(errors, ValidationError{
			Type:    AnomalyLaneOutOfRange,
			Message: fmt.Sprintf("Addressed lane %q out of range (lanes=%d)", frame[OutgoingLaneOffset], lanes),
			Details: map[string]interface{}{"lane": string(frame[OutgoingLaneOffset]), "lanes": lanes},
		})
	}
	if !VerifyChecksum(frame) {
		errors = append(errors, checksumError(frame))
	}

	return errors
}

func checksumError(frame []byte) ValidationError {
	end := len(frame) - 1
	received := string(frame[end-ChecksumSize : end])
	calculated := Checksum(frame[:end-ChecksumSize])
	return ValidationError{
		Type:    AnomalyChecksum,
		Message: fmt.Sprintf("Checksum mismatch: received=%s, calculated=%s", received, calculated),
		Details: map[string]interface{}{"received": received, "calculated": calculated},
	}
}
