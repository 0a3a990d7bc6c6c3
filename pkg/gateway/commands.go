// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"fmt"
	"net"

	"github.com/Thermoquad/kegelbridge/pkg/lanestats"
	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

// Endpoint is one row of ConnectionInfo
type Endpoint struct {
	Name       string
	Frames     uint64
	Bytes      uint64
	Pending    int
	Duplicates uint64
}

// Status summarizes the request slot
type Status struct {
	Mode    string
	Lane    int
	Frame   []byte
	Retries int
}

// LaneStats returns one statistics row per lane
func (g *Gateway) LaneStats() []lanestats.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats.Snapshot()
}

// ClearLaneStats resets part of every lane's statistics
func (g *Gateway) ClearLaneStats(kind lanestats.ClearKind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Clear(kind)
	g.log(6, "CM_STAT_CLEAR", "", fmt.Sprintf("Lane statistics cleared: %s", kind))
}

// ClearSocketBacklog drops frames kept for socket clients not yet
// connected and returns the number of bytes dropped.
func (g *Gateway) ClearSocketBacklog() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sockets.ClearBacklog()
}

// Enqueue queues a frame toward the lanes as if the application sent it
func (g *Gateway) Enqueue(frame []byte) error {
	if g.closed.Load() {
		return ErrClosed
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.x.AddFrame(frame)
	return nil
}

// SendLaneCommand queues cmd for lane (0-based), e.g. ninepin.CmdEnter
func (g *Gateway) SendLaneCommand(lane int, cmd string) error {
	if lane < 0 || lane >= g.cfg.Lanes {
		return fmt.Errorf("%w: lane %d not in 1..%d", ErrInvalidConfig, lane+1, g.cfg.Lanes)
	}
	frame := ninepin.LaneCommand(lane, cmd)
	g.log(3, "LCP_CLICK", laneSource(lane), fmt.Sprintf("Sending %q", frame))
	return g.Enqueue(frame)
}

// Listen opens the socket server
func (g *Gateway) Listen(host string, port int) error {
	if g.closed.Load() {
		return ErrClosed
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sockets.Listen(host, port)
}

// AttachClient adds conn to the socket clients. It receives every observed
// frame and its frames are queued toward the lanes.
func (g *Gateway) AttachClient(conn net.Conn) error {
	if g.closed.Load() {
		return ErrClosed
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sockets.Attach(conn)
	return nil
}

// Listening reports whether the socket server is open
func (g *Gateway) Listening() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sockets.Listening()
}

// CloseListener disconnects socket clients and closes the server. Frames
// keep collecting in the backlog.
func (g *Gateway) CloseListener() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sockets.Close()
}

// ConnectionInfo lists both serial ports followed by the socket rows
func (g *Gateway) ConnectionInfo() []Endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()

	rows := make([]Endpoint, 0, 4)
	for _, p := range []Port{g.x, g.y} {
		rows = append(rows, Endpoint{
			Name:       p.Alias(),
			Frames:     p.FramesReceived(),
			Bytes:      p.BytesReceived(),
			Pending:    p.PendingBytes(),
			Duplicates: p.Duplicates(),
		})
	}
	for _, info := range g.sockets.Info() {
		rows = append(rows, Endpoint{
			Name:    info.Name,
			Frames:  info.Frames,
			Bytes:   info.Bytes,
			Pending: info.Pending,
		})
	}
	return rows
}

// Status returns the state of the request slot
func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Status{
		Mode:    g.pending.mode.String(),
		Lane:    -1,
		Frame:   append([]byte(nil), g.pending.frame...),
		Retries: g.pending.retries,
	}
	if g.pending.laneKnown {
		s.Lane = g.pending.lane
	}
	return s
}

// Lanes returns the configured number of lanes
func (g *Gateway) Lanes() int {
	return g.cfg.Lanes
}
