// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comport

import (
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Device is the raw byte stream under a Port. Read must not block longer
// than the configured read timeout and returns (0, nil) when no input is
// waiting.
type Device interface {
	io.Reader
	io.Writer
	io.Closer
}

// OutputWaiter is implemented by devices that can report bytes still
// queued for transmission.
type OutputWaiter interface {
	OutWaiting() int
}

// LateWriter is implemented by devices whose timed out writes may still
// complete. LateWritten returns the bytes such writes delivered since the
// previous call.
type LateWriter interface {
	LateWritten() int
}

// openDevice opens a serial device. Tests replace it.
var openDevice = func(name string, baud int, readTimeout, writeTimeout time.Duration) (Device, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, err
	}

	return &serialDevice{port: port, writeTimeout: writeTimeout}, nil
}

// serialDevice adds a write timeout to a serial port. A write that does
// not finish in time keeps running in the background; until it finishes
// OutWaiting reports its size and further writes are refused.
type serialDevice struct {
	port         serial.Port
	writeTimeout time.Duration

	mu        sync.Mutex
	pending   int
	abandoned bool
	late      int
}

type writeResult struct {
	n   int
	err error
}

func (d *serialDevice) Read(p []byte) (int, error) {
	return d.port.Read(p)
}

func (d *serialDevice) Write(p []byte) (int, error) {
	if d.writeTimeout <= 0 {
		return d.port.Write(p)
	}

	d.mu.Lock()
	if d.pending > 0 {
		d.mu.Unlock()
		return 0, ErrWriteTimeout
	}
	d.pending = len(p)
	d.mu.Unlock()

	buf := append([]byte(nil), p...)
	done := make(chan writeResult, 1)
	go func() {
		n, err := d.port.Write(buf)
		d.mu.Lock()
		d.pending = 0
		if d.abandoned {
			d.abandoned = false
			d.late += n
		}
		d.mu.Unlock()
		done <- writeResult{n: n, err: err}
	}()

	timer := time.NewTimer(d.writeTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.n, r.err
	case <-timer.C:
		d.mu.Lock()
		if d.pending == 0 {
			// finished while the timer fired
			d.mu.Unlock()
			r := <-done
			return r.n, r.err
		}
		d.abandoned = true
		d.mu.Unlock()
		return 0, ErrWriteTimeout
	}
}

func (d *serialDevice) OutWaiting() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *serialDevice) LateWritten() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.late
	d.late = 0
	return n
}

func (d *serialDevice) Close() error {
	return d.port.Close()
}
