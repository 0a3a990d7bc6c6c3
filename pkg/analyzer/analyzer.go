// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package analyzer holds plugins that inspect frames passing through the
// gateway and may replace them or inject new ones.
//
// Each plugin sees one terminated frame at a time. A plugin returning an
// empty Result lets the frame pass unchanged. A non-empty Result replaces
// the frame: the gateway queues exactly the returned messages, so a plugin
// that wants the original forwarded must include it.
package analyzer

import (
	"github.com/Thermoquad/kegelbridge/pkg/logsink"
	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

// Result lists the messages to queue on each side. X is the lane side,
// Y the application side. Front messages go ahead of frames not yet
// started, Back messages are appended.
type Result struct {
	XFront []ninepin.Message
	XBack  []ninepin.Message
	YFront []ninepin.Message
	YBack  []ninepin.Message
}

// Empty reports whether the result carries no messages
func (r Result) Empty() bool {
	return len(r.XFront) == 0 && len(r.XBack) == 0 && len(r.YFront) == 0 && len(r.YBack) == 0
}

// Analyzer is a frame inspection plugin
type Analyzer interface {
	Name() string
	Enabled() bool
	// AnalyzeToLane sees frames from the application heading to the lanes
	AnalyzeToLane(frame []byte) Result
	// AnalyzeFromLane sees frames reported by the lanes
	AnalyzeFromLane(frame []byte) Result
}

// Chain runs analyzers in registration order. The first enabled analyzer
// returning a non-empty Result wins and later ones are skipped.
type Chain struct {
	analyzers []Analyzer
	log       logsink.Sink
}

// NewChain returns a chain over analyzers
func NewChain(log logsink.Sink, analyzers ...Analyzer) *Chain {
	if log == nil {
		log = logsink.Discard
	}
	return &Chain{analyzers: analyzers, log: log}
}

// Register appends an analyzer
func (c *Chain) Register(a Analyzer) {
	c.analyzers = append(c.analyzers, a)
}

// Analyzers returns the registered analyzers
func (c *Chain) Analyzers() []Analyzer {
	return c.analyzers
}

// ToLane runs AnalyzeToLane over the chain
func (c *Chain) ToLane(frame []byte) Result {
	return c.run(frame, Analyzer.AnalyzeToLane)
}

// FromLane runs AnalyzeFromLane over the chain
func (c *Chain) FromLane(frame []byte) Result {
	return c.run(frame, Analyzer.AnalyzeFromLane)
}

func (c *Chain) run(frame []byte, fn func(Analyzer, []byte) Result) Result {
	if c == nil {
		return Result{}
	}
	for _, a := range c.analyzers {
		if !a.Enabled() {
			continue
		}
		if r := fn(a, frame); !r.Empty() {
			c.log(2, "ANL_MATCH", a.Name(), frame)
			return r
		}
	}
	return Result{}
}

func messages(frames ...[]byte) []ninepin.Message {
	out := make([]ninepin.Message, 0, len(frames))
	for _, f := range frames {
		out = append(out, ninepin.Encapsulate(f))
	}
	return out
}
