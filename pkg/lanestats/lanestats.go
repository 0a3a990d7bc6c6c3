// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lanestats keeps response time history per lane
package lanestats

import (
	"fmt"
	"strings"
	"time"
)

// ClearKind selects what Clear resets
type ClearKind string

const (
	// ClearMax restarts the maximum window
	ClearMax ClearKind = "Max"
	// ClearWarn zeroes the warning, critical and no-answer counters
	ClearWarn ClearKind = "Warn"
	// ClearAll drops the whole history
	ClearAll ClearKind = "All"
)

// ParseClearKind accepts Max, Warn or All in any letter case
func ParseClearKind(s string) (ClearKind, error) {
	for _, k := range []ClearKind{ClearMax, ClearWarn, ClearAll} {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown clear kind %q (use Max, Warn or All)", s)
}

// Mean is an average that may be undefined
type Mean struct {
	Value float64
	Valid bool
}

// String renders the mean in whole milliseconds or "-"
func (m Mean) String() string {
	if !m.Valid {
		return "-"
	}
	return fmt.Sprintf("%.0f", m.Value)
}

// History holds the response times of one lane in milliseconds
type History struct {
	responses      []int
	noAnswer       int
	warning        int
	critical       int
	maxWindowStart int
}

// Record appends a response time
func (h *History) Record(d time.Duration) {
	h.responses = append(h.responses, int(d/time.Millisecond))
}

// AddWarning counts a response that passed the warning threshold
func (h *History) AddWarning() { h.warning++ }

// PromoteCritical turns a warning into a critical event
func (h *History) PromoteCritical() {
	h.critical++
	if h.warning > 0 {
		h.warning--
	}
}

// AddNoAnswer counts a request that was never answered. The request was
// already counted as critical, so that count drops.
func (h *History) AddNoAnswer() {
	h.noAnswer++
	if h.critical > 0 {
		h.critical--
	}
}

// Clear resets part of the history
func (h *History) Clear(kind ClearKind) {
	switch kind {
	case ClearMax:
		h.maxWindowStart = len(h.responses)
	case ClearWarn:
		h.warning = 0
		h.critical = 0
		h.noAnswer = 0
	case ClearAll:
		*h = History{}
	}
}

// Len returns the number of recorded responses
func (h *History) Len() int { return len(h.responses) }

// Snapshot computes the current statistics
func (h *History) Snapshot() Snapshot {
	s := Snapshot{
		Count:    len(h.responses),
		Last50:   h.meanLast(50),
		Prev50:   h.meanRange(len(h.responses)-100, len(h.responses)-50),
		Last250:  h.meanLast(250),
		Last1000: h.meanLast(1000),
		All:      h.meanLast(len(h.responses)),
		Warning:  h.warning,
		Critical: h.critical,
		NoAnswer: h.noAnswer,
	}
	for _, v := range h.responses[h.maxWindowStart:] {
		if !s.Max.Valid || v > s.Max.Value {
			s.Max = MaxValue{Value: v, Valid: true}
		}
	}
	return s
}

func (h *History) meanLast(n int) Mean {
	return h.meanRange(len(h.responses)-n, len(h.responses))
}

// meanRange averages responses[from:to]. Windows ending at the newest
// sample are clamped to the history, earlier windows must be complete.
func (h *History) meanRange(from, to int) Mean {
	if to < len(h.responses) && from < 0 {
		return Mean{}
	}
	if from < 0 {
		from = 0
	}
	if to <= from {
		return Mean{}
	}
	sum := 0
	for _, v := range h.responses[from:to] {
		sum += v
	}
	return Mean{Value: float64(sum) / float64(to-from), Valid: true}
}

// MaxValue is a maximum that may be undefined
type MaxValue struct {
	Value int
	Valid bool
}

// String renders the maximum or "-"
func (m MaxValue) String() string {
	if !m.Valid {
		return "-"
	}
	return fmt.Sprintf("%d", m.Value)
}

// Snapshot is one row of the lane statistics table
type Snapshot struct {
	Count    int
	Last50   Mean
	Prev50   Mean
	Last250  Mean
	Last1000 Mean
	All      Mean
	Max      MaxValue
	Warning  int
	Critical int
	NoAnswer int
}

// Columns are the table headers matching Snapshot.Row
var Columns = []string{"Σ", "μ50", "μ50-100", "μ250", "μ1000", "μAll", "Max", "Warn", "Critical", "Timeout"}

// Row renders the snapshot as table cells
func (s Snapshot) Row() []string {
	return []string{
		fmt.Sprintf("%d", s.Count),
		s.Last50.String(),
		s.Prev50.String(),
		s.Last250.String(),
		s.Last1000.String(),
		s.All.String(),
		s.Max.String(),
		fmt.Sprintf("%d", s.Warning),
		fmt.Sprintf("%d", s.Critical),
		fmt.Sprintf("%d", s.NoAnswer),
	}
}

// Table holds one History per lane
type Table struct {
	lanes []History
}

// NewTable returns an empty table for n lanes
func NewTable(n int) *Table {
	return &Table{lanes: make([]History, n)}
}

// Lanes returns the number of lanes
func (t *Table) Lanes() int { return len(t.lanes) }

// Lane returns the history of lane i, or nil when out of range
func (t *Table) Lane(i int) *History {
	if i < 0 || i >= len(t.lanes) {
		return nil
	}
	return &t.lanes[i]
}

// Snapshot returns one row per lane
func (t *Table) Snapshot() []Snapshot {
	out := make([]Snapshot, len(t.lanes))
	for i := range t.lanes {
		out[i] = t.lanes[i].Snapshot()
	}
	return out
}

// Clear resets every lane
func (t *Table) Clear(kind ClearKind) {
	for i := range t.lanes {
		t.lanes[i].Clear(kind)
	}
}

// Format renders snapshots as a text table, lanes numbered from 1
func Format(rows []Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s", "Lane")
	for _, c := range Columns {
		fmt.Fprintf(&b, "%9s", c)
	}
	b.WriteString("\n")
	for i, r := range rows {
		fmt.Fprintf(&b, "%-6s", fmt.Sprintf("Tor%d", i+1))
		for _, cell := range r.Row() {
			fmt.Fprintf(&b, "%9s", cell)
		}
		b.WriteString("\n")
	}
	return b.String()
}
