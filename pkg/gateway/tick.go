// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"fmt"
	"time"

	"github.com/Thermoquad/kegelbridge/pkg/analyzer"
	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

// Tick runs one pass of the loop:
//  1. response timeouts
//  2. read X, route toward Y
//  3. read Y, route toward X
//  4. send on Y
//  5. send on X when no request is outstanding
//  6. socket exchange, client frames queued toward X
func (g *Gateway) Tick() error {
	if g.closed.Load() {
		return ErrClosed
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	g.checkTimeouts(now)

	fromLane, err := g.x.Read()
	if err != nil {
		return fmt.Errorf("read lane side: %w", err)
	}
	if len(fromLane) > 0 {
		frames := ninepin.SplitFrames(fromLane)
		g.resolve(frames, now)
		for _, frame := range frames {
			g.metrics.FramesFromLane.Add(1)
			g.broadcast(frame)
			g.route(frame, g.chain.FromLane(frame), g.y, now)
		}
	}

	toLane, err := g.y.Read()
	if err != nil {
		return fmt.Errorf("read application side: %w", err)
	}
	for _, frame := range ninepin.SplitFrames(toLane) {
		g.metrics.FramesToLane.Add(1)
		g.broadcast(frame)
		g.route(frame, g.chain.ToLane(frame), g.x, now)
	}

	if !now.Before(g.holdY) {
		if n, _, err := g.y.Send(); err != nil {
			return fmt.Errorf("send application side: %w", err)
		} else if n < 0 {
			g.metrics.SendFailures.Add(1)
		}
	}

	if err := g.sendLaneSide(now); err != nil {
		return err
	}

	for _, frame := range ninepin.SplitFrames(g.sockets.Exchange()) {
		g.metrics.FramesFromClients.Add(1)
		g.x.AddFrame(frame)
	}

	g.metrics.SocketClients.Store(int64(g.sockets.Clients()))
	g.metrics.PendingLaneBytes.Store(int64(g.x.PendingBytes()))
	g.metrics.PendingAppBytes.Store(int64(g.y.PendingBytes()))
	return nil
}

// sendLaneSide writes to X while no request is outstanding, or to finish
// a frame already partly written. Timing starts once the terminator of a
// frame has gone out.
func (g *Gateway) sendLaneSide(now time.Time) error {
	if g.pending.mode != modeIdle && !g.x.MidFrame() {
		return nil
	}
	if now.Before(g.holdX) {
		return nil
	}

	n, sent, err := g.x.Send()
	if err != nil {
		return fmt.Errorf("send lane side: %w", err)
	}
	if n < 0 {
		g.metrics.SendFailures.Add(1)
	}
	if len(sent) == 0 {
		return nil
	}

	g.partialX = append(g.partialX, sent...)
	if !ninepin.HasTerminator(g.partialX) {
		return nil
	}
	frame := g.partialX
	g.partialX = nil
	g.startWaiting(frame, now)
	return nil
}

// broadcast copies an observed frame to socket clients. Fragments without
// a terminator are refused by the fan-out and only logged.
func (g *Gateway) broadcast(frame []byte) {
	_ = g.sockets.Broadcast(frame)
}

// route forwards frame to dst unless an analyzer produced a replacement
func (g *Gateway) route(frame []byte, r analyzer.Result, dst Port, now time.Time) {
	if r.Empty() {
		dst.AddFrame(frame)
		return
	}
	g.apply(r, now)
}

// apply queues analyzer output. Front lists are inserted in reverse so
// they keep their order at the head of the queue.
func (g *Gateway) apply(r analyzer.Result, now time.Time) {
	for i := len(r.XFront) - 1; i >= 0; i-- {
		g.x.AddFrameFront(r.XFront[i].Payload)
		g.hold(&g.holdX, r.XFront[i], now)
	}
	for _, m := range r.XBack {
		g.x.AddFrame(m.Payload)
		g.hold(&g.holdX, m, now)
	}
	for i := len(r.YFront) - 1; i >= 0; i-- {
		g.y.AddFrameFront(r.YFront[i].Payload)
		g.hold(&g.holdY, r.YFront[i], now)
	}
	for _, m := range r.YBack {
		g.y.AddFrame(m.Payload)
		g.hold(&g.holdY, m, now)
	}
}

func (g *Gateway) hold(until *time.Time, m ninepin.Message, now time.Time) {
	if m.TimeWait <= 0 {
		return
	}
	if t := now.Add(m.TimeWait); t.After(*until) {
		*until = t
	}
}
