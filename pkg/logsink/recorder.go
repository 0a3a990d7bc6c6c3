// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logsink

import (
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Entry is one recorded event
type Entry struct {
	Index    uint64
	Time     time.Time
	Priority int
	Code     string
	Source   string
	Detail   string
}

// Recorder keeps a bounded window of recent events and per-code counters.
// It is safe for concurrent use; the gateway loop writes while the UI reads.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	index   uint64

	counts *xsync.MapOf[string, *xsync.Counter]
	errors *xsync.Counter
}

// NewRecorder creates a recorder retaining at most max entries
func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = 250
	}
	return &Recorder{
		entries: make([]Entry, 0, max),
		max:     max,
		counts:  xsync.NewMapOf[string, *xsync.Counter](),
		errors:  xsync.NewCounter(),
	}
}

// Record stores one event. Its signature matches Sink.
func (r *Recorder) Record(priority int, code, source string, detail any) {
	counter, _ := r.counts.LoadOrCompute(code, xsync.NewCounter)
	counter.Inc()
	if IsError(priority) {
		r.errors.Inc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.index++
	r.entries = append(r.entries, Entry{
		Index:    r.index,
		Time:     time.Now(),
		Priority: priority,
		Code:     code,
		Source:   source,
		Detail:   FormatDetail(detail),
	})

	// Keep only last N entries
	if len(r.entries) > r.max {
		r.entries = append(r.entries[:0], r.entries[len(r.entries)-r.max:]...)
	}
}

// Sink returns the recorder as a Sink
func (r *Recorder) Sink() Sink {
	return r.Record
}

// Recent returns up to limit of the newest entries with priority >= min,
// oldest first.
func (r *Recorder) Recent(min, limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, limit)
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].Priority >= min {
			out = append(out, r.entries[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Count returns how many events with code were recorded
func (r *Recorder) Count(code string) int64 {
	if c, ok := r.counts.Load(code); ok {
		return c.Value()
	}
	return 0
}

// Errors returns the number of error-priority events recorded
func (r *Recorder) Errors() int64 {
	return r.errors.Value()
}

// Codes returns every code seen so far, sorted
func (r *Recorder) Codes() []string {
	codes := make([]string, 0, r.counts.Size())
	r.counts.Range(func(code string, _ *xsync.Counter) bool {
		codes = append(codes, code)
		return true
	})
	sort.Strings(codes)
	return codes
}
