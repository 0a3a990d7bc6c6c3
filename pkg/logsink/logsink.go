// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logsink defines the logging callback used by the gateway core
// and the handlers it is usually wired to.
//
// Events carry a priority from 0 (noise) to 10 (error), a short code such
// as "COM_READ" or "SKT_ACPT", the label of the endpoint involved and a
// free form detail value.
package logsink

import "fmt"

// Priority bounds
const (
	MinPriority   = 0
	ErrorPriority = 10
)

// Sink receives one log event. Implementations must not block.
type Sink func(priority int, code, source string, detail any)

// Discard drops every event
func Discard(int, string, string, any) {}

// Tee fans one event out to several sinks. Nil sinks are skipped.
func Tee(sinks ...Sink) Sink {
	active := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return func(priority int, code, source string, detail any) {
		for _, s := range active {
			s(priority, code, source, detail)
		}
	}
}

// Filter forwards events with priority >= min
func Filter(next Sink, min int) Sink {
	return func(priority int, code, source string, detail any) {
		if priority >= min {
			next(priority, code, source, detail)
		}
	}
}

// IsError reports whether priority denotes an error
func IsError(priority int) bool {
	return priority >= ErrorPriority
}

// FormatDetail renders a detail value as text. Byte slices are quoted so
// terminators stay visible.
func FormatDetail(detail any) string {
	switch d := detail.(type) {
	case nil:
		return ""
	case string:
		return d
	case []byte:
		return fmt.Sprintf("%q", d)
	case error:
		return d.Error()
	case fmt.Stringer:
		return d.String()
	default:
		return fmt.Sprint(d)
	}
}
