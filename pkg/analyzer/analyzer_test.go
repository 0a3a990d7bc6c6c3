// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package analyzer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/kegelbridge/pkg/logsink"
	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

func throwReport(lane, throw int, next string) []byte {
	body := fmt.Sprintf("380%dw%03X000000000%s000000000000", lane, throw, next)
	return ninepin.Seal([]byte(body))
}

func gameStart(lane, total int) []byte {
	body := fmt.Sprintf("3%d38IG000000000%03X000000", lane, total)
	return ninepin.Seal([]byte(body))
}

func payloads(msgs []ninepin.Message) [][]byte {
	var out [][]byte
	for _, m := range msgs {
		out = append(out, m.Payload)
	}
	return out
}

type stubAnalyzer struct {
	name    string
	enabled bool
	result  Result
	calls   int
}

func (s *stubAnalyzer) Name() string  { return s.name }
func (s *stubAnalyzer) Enabled() bool { return s.enabled }
func (s *stubAnalyzer) AnalyzeToLane([]byte) Result {
	s.calls++
	return s.result
}
func (s *stubAnalyzer) AnalyzeFromLane([]byte) Result {
	s.calls++
	return s.result
}

func TestChain_FirstNonEmptyWins(t *testing.T) {
	empty := &stubAnalyzer{name: "empty", enabled: true}
	disabled := &stubAnalyzer{name: "disabled", result: Result{XBack: messages([]byte("D\r"))}}
	first := &stubAnalyzer{name: "first", enabled: true, result: Result{YBack: messages([]byte("F\r"))}}
	second := &stubAnalyzer{name: "second", enabled: true, result: Result{XFront: messages([]byte("S\r"))}}

	rec := logsink.NewRecorder(10)
	chain := NewChain(rec.Sink(), empty, disabled, first)
	chain.Register(second)
	require.Len(t, chain.Analyzers(), 4)

	r := chain.ToLane([]byte("x\r"))
	assert.Equal(t, [][]byte{[]byte("F\r")}, payloads(r.YBack))
	assert.Equal(t, 1, empty.calls)
	assert.Equal(t, 0, disabled.calls)
	assert.Equal(t, 0, second.calls, "short-circuited")
	assert.Equal(t, int64(1), rec.Count("ANL_MATCH"))

	r = chain.FromLane([]byte("x\r"))
	assert.False(t, r.Empty())
}

func TestChain_Empty(t *testing.T) {
	var nilChain *Chain
	assert.True(t, nilChain.ToLane([]byte("x\r")).Empty())
	assert.True(t, NewChain(nil).FromLane([]byte("x\r")).Empty())
}

func TestClearOffLimiter(t *testing.T) {
	rec := logsink.NewRecorder(20)
	l := NewClearOffLimiter(4, 3, "3_38T14", rec.Sink())
	require.True(t, l.Enabled())

	// full arrangement at throw 10 starts the clear-off
	assert.True(t, l.AnalyzeFromLane(throwReport(1, 10, ArrangementFull)).Empty())
	assert.True(t, l.AnalyzeFromLane(throwReport(1, 11, "1A0")).Empty())
	assert.True(t, l.AnalyzeFromLane(throwReport(1, 12, "1B0")).Empty())
	assert.Equal(t, []int{0, 2, 0, 0}, l.Throws())

	report := throwReport(1, 13, "1C0")
	r := l.AnalyzeFromLane(report)
	require.False(t, r.Empty())
	assert.Equal(t, [][]byte{ninepin.LaneCommand(1, ninepin.CmdTimeStop)}, payloads(r.XBack))
	assert.Equal(t, [][]byte{report}, payloads(r.YBack), "report still reaches the application")
	assert.Equal(t, int64(1), rec.Count("FCE_SEND"))
	assert.Equal(t, []int{0, 0, 0, 0}, l.Throws(), "counting restarts")

	assert.True(t, l.AnalyzeFromLane(throwReport(1, 14, "1D0")).Empty())
}

func TestClearOffLimiter_NewGameResetsBase(t *testing.T) {
	l := NewClearOffLimiter(2, 5, "3_38T14", nil)

	l.AnalyzeFromLane(throwReport(0, 40, ArrangementFull))
	l.AnalyzeFromLane(throwReport(0, 42, "100"))
	// throw counter went backwards: a new game
	l.AnalyzeFromLane(throwReport(0, 2, "100"))
	assert.Equal(t, []int{2, 0}, l.Throws())
}

func TestClearOffLimiter_LaneDisabled(t *testing.T) {
	l := NewClearOffLimiter(2, 1, "3_38T14", nil)
	l.SetLaneEnabled(0, false)

	l.AnalyzeFromLane(throwReport(0, 1, ArrangementFull))
	assert.True(t, l.AnalyzeFromLane(throwReport(0, 3, "100")).Empty())

	l.SetLaneEnabled(0, true)
	assert.False(t, l.AnalyzeFromLane(throwReport(0, 4, "100")).Empty())
}

func TestClearOffLimiter_Template(t *testing.T) {
	l := NewClearOffLimiter(3, 1, "3_38T14,PING", nil)

	l.AnalyzeFromLane(throwReport(2, 0, ArrangementFull))
	r := l.AnalyzeFromLane(throwReport(2, 1, "100"))
	want := append(ninepin.LaneCommand(2, ninepin.CmdTimeStop), []byte("PING\r")...)
	assert.Equal(t, [][]byte{want}, payloads(r.XBack))
}

func TestClearOffLimiter_IgnoresOtherFrames(t *testing.T) {
	rec := logsink.NewRecorder(10)
	l := NewClearOffLimiter(2, 1, "3_38T14", rec.Sink())

	assert.True(t, l.AnalyzeFromLane([]byte("3800i0\r")).Empty())
	assert.True(t, l.AnalyzeFromLane(throwReport(7, 5, "100")).Empty(), "lane out of range")

	bad := []byte(fmt.Sprintf("380%dwXYZ000000000100000000000000", 0))
	assert.True(t, l.AnalyzeFromLane(ninepin.Seal(bad)).Empty())
	assert.Equal(t, int64(1), rec.Count("FCE_SPLT_ERROR"))

	assert.False(t, NewClearOffLimiter(2, 0, "x", nil).Enabled())
	assert.False(t, NewClearOffLimiter(2, 3, "", nil).Enabled())
	assert.True(t, l.AnalyzeToLane(gameStart(0, 0)).Empty())
}

func TestResultCarryOver_First(t *testing.T) {
	r := NewResultCarryOver(4, CarryOverFirst, nil)
	r.SetValue(0, 0x123)
	r.SetValue(1, 5000)
	assert.Equal(t, []int{0x123, 0, 0, 0}, r.Values(), "out of range becomes zero")

	res := r.AnalyzeToLane(gameStart(0, 0))
	assert.Equal(t, [][]byte{gameStart(0, 0x123)}, payloads(res.XBack))

	res = r.AnalyzeToLane(gameStart(0, 7))
	assert.True(t, res.Empty(), "an existing total is kept")
}

func TestResultCarryOver_Every(t *testing.T) {
	r := NewResultCarryOver(2, CarryOverEvery, nil)
	r.SetValue(1, 10)

	res := r.AnalyzeToLane(gameStart(1, 7))
	assert.Equal(t, [][]byte{gameStart(1, 17)}, payloads(res.XBack))
	assert.True(t, ninepin.VerifyChecksum(res.XBack[0].Payload))
}

func TestResultCarryOver_Edit(t *testing.T) {
	r := NewResultCarryOver(2, CarryOverEdit, nil)
	r.SetValue(0, 0x2A)

	frame := gameStart(0, 0)
	res := r.AnalyzeToLane(frame)
	got := payloads(res.XBack)
	require.Len(t, got, 2)
	assert.Equal(t, frame, got[0])
	assert.Equal(t, ninepin.Seal([]byte("3038Z00000000002A000000000000000")), got[1])
}

func TestResultCarryOver_Rotation(t *testing.T) {
	r := NewResultCarryOver(4, CarryOverEvery, nil)
	for i, v := range []int{1, 2, 3, 4} {
		r.SetValue(i, v)
	}

	// round 0 keeps the values in place
	r.AnalyzeToLane(gameStart(0, 0))
	assert.Equal(t, []int{1, 2, 3, 4}, r.Values())
	// further game starts in the same game do not rotate
	r.AnalyzeToLane(gameStart(1, 0))
	assert.Equal(t, []int{1, 2, 3, 4}, r.Values())

	// round 1 swaps pairs
	r.AnalyzeFromLane([]byte("3800i0\r"))
	r.AnalyzeToLane(gameStart(0, 0))
	assert.Equal(t, []int{2, 1, 4, 3}, r.Values())

	// round 2 shifts by two lanes
	r.AnalyzeFromLane([]byte("3800p0\r"))
	r.AnalyzeToLane(gameStart(0, 0))
	assert.Equal(t, []int{4, 3, 2, 1}, r.Values())
}

func TestResultCarryOver_PracticeStartsBlock(t *testing.T) {
	r := NewResultCarryOver(2, CarryOverEvery, nil)
	r.SetValue(0, 9)

	assert.True(t, r.AnalyzeToLane([]byte("3038P1\r")).Empty())
	assert.Equal(t, []int{9, 0}, r.Values(), "first block keeps entered values")

	r.AnalyzeFromLane([]byte("3800i0\r"))
	r.AnalyzeToLane(gameStart(0, 0))
	r.AnalyzeFromLane([]byte("3800i0\r"))
	r.AnalyzeToLane([]byte("3038P1\r"))
	assert.Equal(t, []int{0, 0}, r.Values(), "practice after a game clears the block")
}

func TestResultCarryOver_PassThrough(t *testing.T) {
	r := NewResultCarryOver(2, CarryOverEvery, nil)
	assert.True(t, r.AnalyzeToLane([]byte("3038T2489\r")).Empty())
	assert.True(t, r.AnalyzeFromLane([]byte("3800i0\r")).Empty())

	rec := logsink.NewRecorder(10)
	r = NewResultCarryOver(2, CarryOverEvery, rec.Sink())
	assert.True(t, r.AnalyzeToLane([]byte("3038IGzz\r")).Empty())
	assert.Equal(t, int64(1), rec.Count("RCO_SUM_ERROR"))
}

func TestParseCarryOverMode(t *testing.T) {
	for s, want := range map[string]CarryOverMode{"first": CarryOverFirst, "edit": CarryOverEdit, "every": CarryOverEvery} {
		got, err := ParseCarryOverMode(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCarryOverMode("off")
	assert.Error(t, err)
}
