// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gateway couples the lane side serial port X, the application
// side serial port Y and the socket fan-out into one polling loop.
//
// Frames from X go to Y, frames from Y go to X, and every observed frame
// is broadcast to socket clients. Frames sent by socket clients are
// queued toward X. After each complete frame written to X the gateway
// waits for the addressed lane to answer and records the response time;
// unanswered requests are sent again.
//
// All state belongs to the loop. Tick holds the loop mutex for its whole
// duration and the query and command methods take the same mutex, so they
// are safe to call from other goroutines and run between ticks.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/Thermoquad/kegelbridge/pkg/analyzer"
	"github.com/Thermoquad/kegelbridge/pkg/comport"
	"github.com/Thermoquad/kegelbridge/pkg/lanestats"
	"github.com/Thermoquad/kegelbridge/pkg/logsink"
	"github.com/Thermoquad/kegelbridge/pkg/metrics"
	"github.com/Thermoquad/kegelbridge/pkg/sockets"
)

var (
	// ErrClosed is returned by operations on a closed gateway
	ErrClosed = errors.New("gateway closed")
	// ErrInvalidConfig is returned by New for unusable settings
	ErrInvalidConfig = errors.New("invalid gateway configuration")
)

// Port is a framed serial endpoint, implemented by *comport.Port
type Port interface {
	Read() ([]byte, error)
	AddFrame(payload []byte) int
	AddFrameFront(payload []byte) int
	Send() (int, []byte, error)
	Close() error
	Alias() string
	MidFrame() bool
	BytesReceived() uint64
	FramesReceived() uint64
	Duplicates() uint64
	PendingFrames() int
	PendingBytes() int
}

// Fanout is the socket side, implemented by *sockets.Multiplexer
type Fanout interface {
	Listen(host string, port int) error
	Broadcast(payload []byte) error
	Exchange() []byte
	Info() []sockets.EndpointInfo
	ClearBacklog() int
	Clients() int
	Listening() bool
	Attach(conn net.Conn)
	Close() error
}

var (
	_ Port   = (*comport.Port)(nil)
	_ Fanout = (*sockets.Multiplexer)(nil)
)

// Config holds the loop timing
type Config struct {
	// Lanes is the number of lanes on the bus
	Lanes int
	// Interval is the pause between ticks
	Interval time.Duration
	// MaxWait is how long a request may stay unanswered before it is sent again
	MaxWait time.Duration
	// Critical marks a response as critically late
	Critical time.Duration
	// Warning marks a response as late
	Warning time.Duration
	// RetryLimit is how often an unanswered request is sent again
	RetryLimit int
}

func (c Config) validate() error {
	if c.Lanes < 1 || c.Lanes > 10 {
		return fmt.Errorf("%w: %d lanes", ErrInvalidConfig, c.Lanes)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval %v", ErrInvalidConfig, c.Interval)
	}
	if c.Warning < 0 || c.Critical < c.Warning || c.MaxWait < c.Critical {
		return fmt.Errorf("%w: expected 0 <= warning (%v) <= critical (%v) <= max wait (%v)",
			ErrInvalidConfig, c.Warning, c.Critical, c.MaxWait)
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("%w: retry limit %d", ErrInvalidConfig, c.RetryLimit)
	}
	return nil
}

// Option configures a Gateway
type Option func(*Gateway)

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// WithLogger sets the log sink
func WithLogger(sink logsink.Sink) Option {
	return func(g *Gateway) {
		if sink != nil {
			g.log = sink
		}
	}
}

// WithAnalyzers sets the analyzer chain
func WithAnalyzers(chain *analyzer.Chain) Option {
	return func(g *Gateway) { g.chain = chain }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Gateway) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// Gateway is the connection orchestrator
type Gateway struct {
	cfg     Config
	x, y    Port
	sockets Fanout
	chain   *analyzer.Chain
	clock   clock.Clock
	log     logsink.Sink
	metrics *metrics.Gateway

	mu       sync.Mutex
	stats    *lanestats.Table
	pending  pending
	retry    retryState
	partialX []byte
	holdX    time.Time
	holdY    time.Time

	stopped atomic.Bool
	closed  atomic.Bool
}

// New returns a gateway over x (lane side), y (application side) and the
// socket fan-out.
func New(cfg Config, x, y Port, fan Fanout, opts ...Option) (*Gateway, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	g := &Gateway{
		cfg:     cfg,
		x:       x,
		y:       y,
		sockets: fan,
		clock:   clock.New(),
		log:     logsink.Discard,
		metrics: metrics.New(),
		stats:   lanestats.NewTable(cfg.Lanes),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Run ticks until ctx is done, Stop is called or the gateway is closed
func (g *Gateway) Run(ctx context.Context) error {
	g.log(2, "CM_START", "", fmt.Sprintf("Gateway started: %s <-> %s", g.x.Alias(), g.y.Alias()))
	defer g.log(2, "CM_STOP", "", "Gateway stopped")

	for {
		if g.stopped.Load() || g.closed.Load() {
			return nil
		}
		if err := g.Tick(); err != nil {
			if g.closed.Load() || errors.Is(err, comport.ErrPortClosed) {
				return nil
			}
			return err
		}

		timer := g.clock.Timer(g.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Stop asks Run to return after the current tick
func (g *Gateway) Stop() {
	g.stopped.Store(true)
}

// Close closes both ports, the socket server and its clients. It may be called while
// Run is still ticking; Run then returns at the next tick.
func (g *Gateway) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	g.stopped.Store(true)

	var err error
	multierr.AppendInto(&err, g.x.Close())
	multierr.AppendInto(&err, g.y.Close())
	if g.sockets.Listening() || g.sockets.Clients() > 0 {
		// WebSocket clients may be attached without a TCP listener
		if cerr := g.sockets.Close(); !errors.Is(cerr, sockets.ErrAlreadyClosed) {
			multierr.AppendInto(&err, cerr)
		}
	}
	return err
}
