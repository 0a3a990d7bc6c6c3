// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comport

import (
	"errors"
	"fmt"
	"slices"

	"go.bug.st/serial"
)

// PortStatus describes one serial device found on the host
type PortStatus struct {
	Name      string
	Available bool
	Busy      bool
	Err       error
}

// listPorts enumerates serial devices. Tests replace it.
var listPorts = serial.GetPortsList

// ListPorts returns the names of the serial devices present, sorted
func ListPorts() ([]string, error) {
	names, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

// CheckPort opens and closes name to find out whether it can be used
func CheckPort(name string) PortStatus {
	status := PortStatus{Name: name}

	dev, err := openDevice(name, DefaultBaudRate, 0, 0)
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortBusy {
			status.Busy = true
		}
		status.Err = classifyOpenError(name, name, err)
		return status
	}
	status.Available = true
	if err := dev.Close(); err != nil {
		status.Err = err
	}
	return status
}

// CheckPorts runs CheckPort for every device ListPorts finds
func CheckPorts() ([]PortStatus, error) {
	names, err := ListPorts()
	if err != nil {
		return nil, err
	}
	statuses := make([]PortStatus, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, CheckPort(name))
	}
	return statuses, nil
}
