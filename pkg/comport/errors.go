// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comport

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

var (
	// ErrPortUnavailable is returned when a port cannot be opened
	ErrPortUnavailable = errors.New("port unavailable")
	// ErrInvalidParameters marks open failures caused by bad settings
	ErrInvalidParameters = errors.New("invalid port parameters")
	// ErrDeviceUnavailable marks open failures caused by the device itself
	ErrDeviceUnavailable = errors.New("device missing or busy")
	// ErrPortClosed is returned by operations on a closed port
	ErrPortClosed = errors.New("port is closed")
	// ErrAlreadyClosed is returned by a second Close
	ErrAlreadyClosed = errors.New("port already closed")
	// ErrWriteTimeout is returned by devices when a write did not finish in time
	ErrWriteTimeout = errors.New("write timeout")
)

// classifyOpenError wraps an open failure with ErrPortUnavailable and the
// matching cause category.
func classifyOpenError(name, alias string, err error) error {
	cause := ErrDeviceUnavailable
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity,
			serial.InvalidStopBits, serial.InvalidTimeoutValue:
			cause = ErrInvalidParameters
		}
	}
	if errors.Is(err, ErrInvalidParameters) {
		cause = ErrInvalidParameters
	}
	return fmt.Errorf("%w: %w: %s (%s): %v", ErrPortUnavailable, cause, name, alias, err)
}
