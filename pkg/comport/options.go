// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comport

import (
	"fmt"
	"time"

	"github.com/Thermoquad/kegelbridge/pkg/logsink"
)

// DefaultBaudRate is the fixed rate of the lane bus
const DefaultBaudRate = 9600

type options struct {
	baudRate     int
	readTimeout  time.Duration
	writeTimeout time.Duration
	log          logsink.Sink
	readSize     int
}

// Option configures Open and New
type Option func(*options)

// WithBaudRate overrides the baud rate
func WithBaudRate(baud int) Option {
	return func(o *options) { o.baudRate = baud }
}

// WithReadTimeout sets how long a Read may wait for input. Zero polls.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithWriteTimeout sets how long a Send may wait for the device. Zero
// writes synchronously.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithLogger sets the log sink
func WithLogger(sink logsink.Sink) Option {
	return func(o *options) { o.log = sink }
}

func newOptions(opts []Option) options {
	o := options{
		baudRate: DefaultBaudRate,
		log:      logsink.Discard,
		readSize: 4096,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logsink.Discard
	}
	return o
}

func (o options) validate() error {
	if o.baudRate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidParameters, o.baudRate)
	}
	if o.readTimeout < 0 {
		return fmt.Errorf("%w: read timeout %v", ErrInvalidParameters, o.readTimeout)
	}
	if o.writeTimeout < 0 {
		return fmt.Errorf("%w: write timeout %v", ErrInvalidParameters, o.writeTimeout)
	}
	return nil
}
