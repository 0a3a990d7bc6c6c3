// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lanestats

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(h *History, ms ...int) {
	for _, v := range ms {
		h.Record(time.Duration(v) * time.Millisecond)
	}
}

func TestSnapshot_Empty(t *testing.T) {
	var h History
	s := h.Snapshot()

	assert.Equal(t, 0, s.Count)
	assert.False(t, s.Last50.Valid)
	assert.False(t, s.Prev50.Valid)
	assert.False(t, s.All.Valid)
	assert.False(t, s.Max.Valid)
	assert.Equal(t, []string{"0", "-", "-", "-", "-", "-", "-", "0", "0", "0"}, s.Row())
}

func TestSnapshot_PartialWindows(t *testing.T) {
	var h History
	for i := 1; i <= 30; i++ {
		record(&h, 10*i)
	}

	s := h.Snapshot()
	assert.Equal(t, 30, s.Count)
	require.True(t, s.Last50.Valid, "anchored windows use what is available")
	assert.InDelta(t, 155.0, s.Last50.Value, 1e-9)
	assert.Equal(t, s.Last50, s.Last250)
	assert.Equal(t, s.Last50, s.Last1000)
	assert.Equal(t, s.Last50, s.All)
	assert.False(t, s.Prev50.Valid, "offset window needs 100 samples")
	assert.Equal(t, MaxValue{Value: 300, Valid: true}, s.Max)
}

func TestSnapshot_Windows(t *testing.T) {
	var h History
	for i := 0; i < 50; i++ {
		record(&h, 100)
	}
	for i := 0; i < 50; i++ {
		record(&h, 20)
	}

	s := h.Snapshot()
	assert.Equal(t, 100, s.Count)
	assert.InDelta(t, 20.0, s.Last50.Value, 1e-9)
	require.True(t, s.Prev50.Valid)
	assert.InDelta(t, 100.0, s.Prev50.Value, 1e-9)
	assert.InDelta(t, 60.0, s.All.Value, 1e-9)

	for i := 0; i < 200; i++ {
		record(&h, 10)
	}
	s = h.Snapshot()
	assert.InDelta(t, (200*10+50*20)/250.0, s.Last250.Value, 1e-9)
	assert.InDelta(t, (50*100+50*20+200*10)/300.0, s.Last1000.Value, 1e-9)
}

func TestCounters(t *testing.T) {
	var h History

	h.AddWarning()
	h.AddWarning()
	h.PromoteCritical()
	s := h.Snapshot()
	assert.Equal(t, 1, s.Warning)
	assert.Equal(t, 1, s.Critical)

	h.AddNoAnswer()
	s = h.Snapshot()
	assert.Equal(t, 0, s.Critical)
	assert.Equal(t, 1, s.NoAnswer)

	h.AddNoAnswer()
	s = h.Snapshot()
	assert.Equal(t, 0, s.Critical, "never negative")
	assert.Equal(t, 2, s.NoAnswer)

	var fresh History
	fresh.PromoteCritical()
	assert.Equal(t, 0, fresh.Snapshot().Warning, "never negative")
}

func TestClear(t *testing.T) {
	var h History
	record(&h, 500, 10)
	h.AddWarning()
	h.AddNoAnswer()

	h.Clear(ClearMax)
	s := h.Snapshot()
	assert.False(t, s.Max.Valid)
	assert.Equal(t, 2, s.Count, "history kept")
	record(&h, 40)
	assert.Equal(t, 40, h.Snapshot().Max.Value)

	h.Clear(ClearWarn)
	s = h.Snapshot()
	assert.Zero(t, s.Warning)
	assert.Zero(t, s.NoAnswer)
	assert.Equal(t, 3, s.Count)

	h.Clear(ClearAll)
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.Snapshot().All.Valid)
}

func TestParseClearKind(t *testing.T) {
	k, err := ParseClearKind("max")
	require.NoError(t, err)
	assert.Equal(t, ClearMax, k)

	k, err = ParseClearKind("All")
	require.NoError(t, err)
	assert.Equal(t, ClearAll, k)

	_, err = ParseClearKind("min")
	assert.Error(t, err)
}

func TestTable(t *testing.T) {
	table := NewTable(3)
	assert.Equal(t, 3, table.Lanes())
	assert.Nil(t, table.Lane(3))
	assert.Nil(t, table.Lane(-1))

	record(table.Lane(1), 42)
	rows := table.Snapshot()
	require.Len(t, rows, 3)
	assert.Equal(t, 1, rows[1].Count)

	out := Format(rows)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "μ50-100")
	assert.True(t, strings.HasPrefix(lines[2], "Tor2"))
	assert.Contains(t, lines[2], "42")

	table.Clear(ClearAll)
	assert.Equal(t, 0, table.Lane(1).Len())
}
