// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wsbridge carries the lane frame stream over WebSocket.
//
// Conn turns a WebSocket into a net.Conn byte stream so the socket fan-out
// and the diagnostic commands can treat it like a TCP connection. Message
// boundaries carry no meaning; frames are delimited by '\r' as on the wire.
package wsbridge

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrWrite is returned by Write when the message could not be sent. A
// WebSocket is unusable after a failed write, so the error never reports a
// timeout.
var ErrWrite = errors.New("websocket write failed")

const closeGrace = time.Second

// Conn is a WebSocket read and written as a byte stream. One goroutine
// may read while another writes.
type Conn struct {
	ws      *websocket.Conn
	r       io.Reader
	readErr error
	closed  atomic.Bool
}

var _ net.Conn = (*Conn)(nil)

// NewConn wraps ws
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read returns bytes of the current message, moving to the next message
// when it is used up. A normal close from the peer reads as io.EOF; read
// errors repeat on later calls.
func (c *Conn) Read(p []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}
	for {
		if c.r == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = io.EOF
				}
				c.readErr = err
				return 0, err
			}
			c.r = r
		}

		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		if err != nil {
			c.readErr = err
		}
		return n, err
	}
}

// Write sends p as one text message
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return len(p), nil
}

// Close sends a close frame and closes the connection. Later calls do
// nothing.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return c.ws.Close()
}

func (c *Conn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
