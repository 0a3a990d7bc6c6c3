// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package comport frames the byte stream of one serial endpoint.
//
// A Port buffers partial input until a terminator arrives, queues outgoing
// frames with duplicate suppression and writes them one frame at a time.
// Steady state I/O failures are logged and reported through return values;
// only Open and operations after Close return errors.
package comport

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Thermoquad/kegelbridge/pkg/logsink"
	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

// Port is one framed serial endpoint. Read, Send and the queueing methods
// belong to a single loop goroutine; Close and the counters may be used
// from anywhere.
type Port struct {
	name  string
	alias string
	dev   Device
	log   logsink.Sink

	closed atomic.Bool

	mu          sync.Mutex
	sendBuf     []byte
	recvBuf     []byte
	readBuf     []byte
	headStarted bool

	bytesReceived  uint64
	framesReceived uint64
	duplicates     uint64
}

// Open opens the serial device name and wraps it in a Port. alias labels
// the port in logs, e.g. "COM_X".
func Open(name, alias string, opts ...Option) (*Port, error) {
	o := newOptions(opts)
	if err := o.validate(); err != nil {
		return nil, classifyOpenError(name, alias, err)
	}

	o.log(1, "COM_CREATE", alias, fmt.Sprintf("COM port '%s' (%s) is being created", alias, name))
	dev, err := openDevice(name, o.baudRate, o.readTimeout, o.writeTimeout)
	if err != nil {
		return nil, classifyOpenError(name, alias, err)
	}

	return newPort(name, alias, dev, o), nil
}

// New wraps an already open device
func New(dev Device, name, alias string, opts ...Option) *Port {
	return newPort(name, alias, dev, newOptions(opts))
}

func newPort(name, alias string, dev Device, o options) *Port {
	return &Port{
		name:    name,
		alias:   alias,
		dev:     dev,
		log:     o.log,
		readBuf: make([]byte, o.readSize),
	}
}

// Name returns the device name
func (p *Port) Name() string {
	return p.name
}

// Alias returns the label used in logs
func (p *Port) Alias() string {
	return p.alias
}

// Read polls the device and returns every complete frame received so far,
// up to and including the last terminator. Bytes after it stay buffered.
// An empty result means nothing complete is available.
func (p *Port) Read() ([]byte, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("read %s: %w", p.alias, ErrPortClosed)
	}

	n, err := p.dev.Read(p.readBuf)
	if err != nil {
		if p.closed.Load() {
			return nil, fmt.Errorf("read %s: %w", p.alias, ErrPortClosed)
		}
		p.log(10, "COM_READ_ERROR", p.alias, err)
		return nil, nil
	}
	if n == 0 {
		return nil, nil
	}

	data := append([]byte(nil), p.readBuf[:n]...)
	p.log(5, "COM_READ", p.alias, data)
	if !ninepin.IsWindows1250(data) {
		p.log(10, "COM_READ_NOISE", p.alias, data)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.recvBuf = append(p.recvBuf, data...)
	complete, rest := ninepin.CutComplete(p.recvBuf)
	if len(complete) == 0 {
		return nil, nil
	}

	out := append([]byte(nil), complete...)
	p.recvBuf = append(p.recvBuf[:0], rest...)
	p.bytesReceived += uint64(len(out))
	p.framesReceived += uint64(ninepin.CountFrames(out))
	return out, nil
}

// AddFrame appends payload to the send queue unless the same frames are
// already queued. Returns the queue length in bytes.
func (p *Port) AddFrame(payload []byte) int {
	return p.enqueue(payload, false)
}

// AddFrameFront queues payload ahead of every frame that has not started
// transmitting. Duplicates are dropped as in AddFrame.
func (p *Port) AddFrameFront(payload []byte) int {
	return p.enqueue(payload, true)
}

func (p *Port) enqueue(payload []byte, front bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(payload) == 0 {
		p.log(6, "COM_SEND_WTPE", p.alias, "Empty data cannot be queued")
		return len(p.sendBuf)
	}
	if !ninepin.HasTerminator(payload) {
		p.log(6, "COM_SEND_WEND", p.alias,
			fmt.Sprintf("Wrong end of data to send, should have '\\r' as last sign: %q", payload[len(payload)-1:]))
	}
	if p.queuedLocked(payload) {
		p.log(5, "COM_SEND_inQUEUE", p.alias,
			fmt.Sprintf("Message %q is already in the queue to be sent, so it is discarded", payload))
		p.duplicates++
		return len(p.sendBuf)
	}

	if !front {
		p.sendBuf = append(p.sendBuf, payload...)
		return len(p.sendBuf)
	}

	at := 0
	if p.headStarted {
		if first, ok := ninepin.FirstFrame(p.sendBuf); ok {
			at = len(first)
		} else {
			at = len(p.sendBuf)
		}
	}
	buf := make([]byte, 0, len(p.sendBuf)+len(payload))
	buf = append(buf, p.sendBuf[:at]...)
	buf = append(buf, payload...)
	buf = append(buf, p.sendBuf[at:]...)
	p.sendBuf = buf
	return len(p.sendBuf)
}

// queuedLocked reports whether payload is queued as whole frames, starting
// at a frame boundary. A half written head frame is never matched.
func (p *Port) queuedLocked(payload []byte) bool {
	end := ninepin.HasTerminator(payload)
	for off := 0; off < len(p.sendBuf); {
		next := bytes.IndexByte(p.sendBuf[off:], ninepin.Terminator)
		skip := off == 0 && p.headStarted
		if !skip && bytes.HasPrefix(p.sendBuf[off:], payload) &&
			(end || off+len(payload) == len(p.sendBuf)) {
			return true
		}
		if next < 0 {
			break
		}
		off += next + 1
	}
	return false
}

// Send writes the first queued frame. It returns (0, nil, nil) when the
// device still has output waiting or no complete frame is queued, and
// -1 when the write failed or timed out, together with any bytes the
// device accepted before failing. Bytes the device did not accept stay
// queued.
func (p *Port) Send() (int, []byte, error) {
	if p.closed.Load() {
		return 0, nil, fmt.Errorf("send %s: %w", p.alias, ErrPortClosed)
	}

	if lw, ok := p.dev.(LateWriter); ok {
		if n := lw.LateWritten(); n > 0 {
			sent := p.trim(n)
			p.log(4, "COM_SEND", p.alias, sent)
			return len(sent), sent, nil
		}
	}
	if ow, ok := p.dev.(OutputWaiter); ok && ow.OutWaiting() > 0 {
		return 0, nil, nil
	}

	p.mu.Lock()
	first, ok := ninepin.FirstFrame(p.sendBuf)
	frame := append([]byte(nil), first...)
	p.mu.Unlock()
	if !ok {
		return 0, nil, nil
	}

	n, err := p.dev.Write(frame)
	if errors.Is(err, ErrWriteTimeout) {
		p.mu.Lock()
		p.headStarted = true
		p.mu.Unlock()
		p.log(1, "COM_SEND_TOUT", p.alias, err)
		return -1, nil, nil
	}
	if err != nil {
		var sent []byte
		if n > 0 {
			sent = p.trim(n)
		}
		p.log(10, "COM_SEND_ERROR", p.alias, err)
		return -1, sent, nil
	}

	sent := p.trim(n)
	p.log(4, "COM_SEND", p.alias, sent)
	return len(sent), sent, nil
}

// trim drops n sent bytes from the head of the queue
func (p *Port) trim(n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n > len(p.sendBuf) {
		n = len(p.sendBuf)
	}
	sent := append([]byte(nil), p.sendBuf[:n]...)
	p.sendBuf = append(p.sendBuf[:0], p.sendBuf[n:]...)
	p.headStarted = n > 0 && !ninepin.HasTerminator(sent)
	return sent
}

// Close closes the device. Safe to call from any goroutine.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("close %s: %w", p.alias, ErrAlreadyClosed)
	}
	err := p.dev.Close()
	if err != nil {
		p.log(10, "COM_CLOSE_ERROR", p.alias, err)
		return fmt.Errorf("close %s: %w", p.alias, err)
	}
	p.log(6, "COM_CLOSE", p.alias, fmt.Sprintf("COM port '%s' has been closed", p.alias))
	return nil
}

// Closed reports whether Close was called
func (p *Port) Closed() bool {
	return p.closed.Load()
}

// MidFrame reports whether the head frame is partly transmitted
func (p *Port) MidFrame() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headStarted
}

// BytesReceived returns the number of framed bytes delivered by Read
func (p *Port) BytesReceived() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesReceived
}

// FramesReceived returns the number of frames delivered by Read
func (p *Port) FramesReceived() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.framesReceived
}

// Duplicates returns the number of frames dropped as already queued
func (p *Port) Duplicates() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duplicates
}

// PendingFrames returns the number of terminators waiting in the send queue
func (p *Port) PendingFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ninepin.CountFrames(p.sendBuf)
}

// PendingBytes returns the send queue length in bytes
func (p *Port) PendingBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sendBuf)
}
