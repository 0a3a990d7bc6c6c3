// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"bytes"
	"fmt"
	"time"

	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

type waitMode int

const (
	modeIdle waitMode = iota
	modeAwaitingWarn
	modeAwaitingCritical
)

func (m waitMode) String() string {
	switch m {
	case modeAwaitingWarn:
		return "AwaitingWarn"
	case modeAwaitingCritical:
		return "AwaitingCritical"
	default:
		return "Idle"
	}
}

// pending is the single outstanding request to the lanes
type pending struct {
	mode        waitMode
	frame       []byte
	lane        int
	laneKnown   bool
	sentAt      time.Time
	nextRetryAt time.Time
	critical    bool
	retries     int
}

// retryState remembers the frame queued again after no answer, so its
// next send continues the retry count.
type retryState struct {
	frame []byte
	count int
}

func laneSource(lane int) string {
	return fmt.Sprintf("lane %d", lane+1)
}

// startWaiting arms the slot after a complete frame went out on X
func (g *Gateway) startWaiting(frame []byte, now time.Time) {
	lane, ok := ninepin.OutgoingLane(frame, g.cfg.Lanes)

	retries := 0
	if g.retry.frame != nil && bytes.Equal(g.retry.frame, frame) {
		retries = g.retry.count
	}
	g.retry = retryState{}

	g.pending = pending{
		mode:        modeAwaitingWarn,
		frame:       frame,
		lane:        lane,
		laneKnown:   ok,
		sentAt:      now,
		nextRetryAt: now.Add(g.cfg.MaxWait),
		retries:     retries,
	}
}

// checkTimeouts advances the slot state with the passage of time
func (g *Gateway) checkTimeouts(now time.Time) {
	p := &g.pending
	if p.mode == modeIdle {
		return
	}
	elapsed := now.Sub(p.sentAt)

	if p.mode == modeAwaitingWarn && elapsed > g.cfg.Warning {
		p.mode = modeAwaitingCritical
		g.metrics.Warnings.Add(1)
		if p.laneKnown {
			g.stats.Lane(p.lane).AddWarning()
		}
		g.log(7, "CM_RESP_WARN", g.pendingSource(),
			fmt.Sprintf("No response to %q after %d ms", p.frame, elapsed.Milliseconds()))
	}

	if p.mode == modeAwaitingCritical && !p.critical && elapsed > g.cfg.Critical {
		p.critical = true
		g.metrics.Criticals.Add(1)
		if p.laneKnown {
			g.stats.Lane(p.lane).PromoteCritical()
		}
		g.log(9, "CM_RESP_CRIT", g.pendingSource(),
			fmt.Sprintf("No response to %q after %d ms", p.frame, elapsed.Milliseconds()))
	}

	if now.Before(p.nextRetryAt) {
		return
	}
	g.noAnswer()
}

// noAnswer gives up waiting and queues the request again until the retry
// limit is reached.
func (g *Gateway) noAnswer() {
	p := g.pending
	g.metrics.NoAnswers.Add(1)
	if p.laneKnown {
		g.stats.Lane(p.lane).AddNoAnswer()
	}
	g.log(10, "CM_NO_ANSWER", g.pendingSource(), fmt.Sprintf("No answer to %q", p.frame))

	if p.retries < g.cfg.RetryLimit {
		g.retry = retryState{frame: p.frame, count: p.retries + 1}
		g.x.AddFrameFront(p.frame)
		g.metrics.Resends.Add(1)
		g.log(6, "CM_RESEND", g.pendingSource(),
			fmt.Sprintf("Sending %q again (%d/%d)", p.frame, p.retries+1, g.cfg.RetryLimit))
	} else {
		g.retry = retryState{}
		g.metrics.GiveUps.Add(1)
		g.log(10, "CM_RETRY_GIVEUP", g.pendingSource(),
			fmt.Sprintf("Dropping %q after %d retries", p.frame, p.retries))
	}

	g.pending = pending{}
}

// resolve matches frames read from X against the outstanding request
func (g *Gateway) resolve(frames [][]byte, now time.Time) {
	p := &g.pending
	if p.mode == modeIdle {
		return
	}

	for _, frame := range frames {
		if !p.laneKnown {
			g.pending = pending{}
			return
		}

		lane, ok := ninepin.IncomingLane(frame, g.cfg.Lanes)
		if !ok || lane != p.lane {
			g.metrics.LaneMismatches.Add(1)
			g.log(8, "CM_LANE_MISMATCH", laneSource(p.lane),
				fmt.Sprintf("Expected answer from lane %d, got %q", p.lane+1, frame))
			continue
		}

		elapsed := now.Sub(p.sentAt)
		g.stats.Lane(lane).Record(elapsed)
		g.metrics.ObserveResponse(lane, elapsed)
		if elapsed > g.cfg.Warning {
			g.log(6, "CM_RESP_LATE", laneSource(lane),
				fmt.Sprintf("Late response after %d ms", elapsed.Milliseconds()))
		}
		g.pending = pending{}
		return
	}
}

func (g *Gateway) pendingSource() string {
	if !g.pending.laneKnown {
		return ""
	}
	return laneSource(g.pending.lane)
}
