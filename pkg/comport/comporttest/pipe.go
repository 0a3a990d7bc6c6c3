// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package comporttest provides in-memory devices for testing code built on
// comport.Port.
package comporttest

import (
	"errors"
	"sync"
)

// ErrClosed is returned by a closed Endpoint
var ErrClosed = errors.New("endpoint closed")

type link struct {
	mu  sync.Mutex
	buf []byte
}

// Endpoint is one end of an in-memory serial cable. Reads never block.
type Endpoint struct {
	in  *link
	out *link

	mu       sync.Mutex
	closed   bool
	maxWrite int
	writeErr error
	waiting  int
	late     int
	written  [][]byte
}

// Pipe returns two connected endpoints. Bytes written to one are read from
// the other.
func Pipe() (*Endpoint, *Endpoint) {
	ab := &link{}
	ba := &link{}
	return &Endpoint{in: ba, out: ab}, &Endpoint{in: ab, out: ba}
}

// Read returns buffered input, or (0, nil) when there is none
func (e *Endpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	e.in.mu.Lock()
	defer e.in.mu.Unlock()
	n := copy(p, e.in.buf)
	e.in.buf = e.in.buf[n:]
	return n, nil
}

// Write sends p to the peer, honouring SetMaxWrite and SetWriteErr. With
// both set, up to the limit is accepted before the error is returned.
func (e *Endpoint) Write(p []byte) (int, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	err := e.writeErr
	if err != nil && e.maxWrite == 0 {
		e.mu.Unlock()
		return 0, err
	}
	n := len(p)
	if e.maxWrite > 0 && n > e.maxWrite {
		n = e.maxWrite
	}
	e.written = append(e.written, append([]byte(nil), p[:n]...))
	e.mu.Unlock()

	e.out.mu.Lock()
	e.out.buf = append(e.out.buf, p[:n]...)
	e.out.mu.Unlock()
	return n, err
}

// Inject makes data readable on this endpoint as if the peer sent it
func (e *Endpoint) Inject(data []byte) {
	e.in.mu.Lock()
	e.in.buf = append(e.in.buf, data...)
	e.in.mu.Unlock()
}

// Drain returns and clears everything the peer has written to this end
func (e *Endpoint) Drain() []byte {
	e.in.mu.Lock()
	defer e.in.mu.Unlock()
	out := e.in.buf
	e.in.buf = nil
	return out
}

// Close marks the endpoint closed
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.closed = true
	return nil
}

// SetMaxWrite limits how many bytes a single Write accepts. Zero disables.
func (e *Endpoint) SetMaxWrite(n int) {
	e.mu.Lock()
	e.maxWrite = n
	e.mu.Unlock()
}

// SetWriteErr makes every Write fail with err until cleared with nil
func (e *Endpoint) SetWriteErr(err error) {
	e.mu.Lock()
	e.writeErr = err
	e.mu.Unlock()
}

// SetWaiting sets the value reported by OutWaiting
func (e *Endpoint) SetWaiting(n int) {
	e.mu.Lock()
	e.waiting = n
	e.mu.Unlock()
}

// OutWaiting reports bytes still queued in the simulated driver
func (e *Endpoint) OutWaiting() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waiting
}

// SetLateWritten simulates a timed out write that completed with n bytes
func (e *Endpoint) SetLateWritten(n int) {
	e.mu.Lock()
	e.late = n
	e.mu.Unlock()
}

// LateWritten returns and clears the simulated late write count
func (e *Endpoint) LateWritten() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.late
	e.late = 0
	return n
}

// Writes returns a copy of every accepted Write call
func (e *Endpoint) Writes() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.written))
	copy(out, e.written)
	return out
}
