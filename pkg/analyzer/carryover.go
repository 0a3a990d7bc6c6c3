// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package analyzer

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/Thermoquad/kegelbridge/pkg/logsink"
	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

// CarryOverMode selects how ResultCarryOver applies a lane's value
type CarryOverMode int

const (
	// CarryOverFirst sets the sum in a game start frame that has none yet
	CarryOverFirst CarryOverMode = iota
	// CarryOverEdit forwards the game start and follows it with a score edit
	CarryOverEdit
	// CarryOverEvery adds the value to every game start frame
	CarryOverEvery
)

// ParseCarryOverMode maps a configuration value to a mode
func ParseCarryOverMode(s string) (CarryOverMode, error) {
	switch s {
	case "first":
		return CarryOverFirst, nil
	case "edit":
		return CarryOverEdit, nil
	case "every":
		return CarryOverEvery, nil
	}
	return 0, fmt.Errorf("unknown carry-over mode %q", s)
}

// ResultCarryOver adds the result of a previous game to each lane's total
// when the application starts a game. Values rotate between lanes from
// one round of a block to the next, following the players.
type ResultCarryOver struct {
	log  logsink.Sink
	mode CarryOverMode

	mu           sync.Mutex
	sums         []int
	roundInBlock int
	duringGame   bool
}

// NewResultCarryOver returns a carry-over analyzer for n lanes
func NewResultCarryOver(lanes int, mode CarryOverMode, log logsink.Sink) *ResultCarryOver {
	if log == nil {
		log = logsink.Discard
	}
	return &ResultCarryOver{
		log:          log,
		mode:         mode,
		sums:         make([]int, lanes),
		roundInBlock: -1,
	}
}

// Name implements Analyzer
func (r *ResultCarryOver) Name() string { return "result-carry-over" }

// Enabled implements Analyzer
func (r *ResultCarryOver) Enabled() bool { return true }

// SetValue sets the carried value of one lane. Values outside
// 0..MaxTotalSum become zero.
func (r *ResultCarryOver) SetValue(lane, value int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lane < 0 || lane >= len(r.sums) {
		return
	}
	if value < 0 || value > ninepin.MaxTotalSum {
		value = 0
	}
	r.sums[lane] = value
}

// Values returns the carried value per lane
func (r *ResultCarryOver) Values() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.sums...)
}

// AnalyzeToLane tracks practice and game start frames and rewrites the
// sum of game starts.
func (r *ResultCarryOver) AnalyzeToLane(frame []byte) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(frame) > ninepin.CommandOffset && string(frame[ninepin.CommandOffset]) == ninepin.CmdPractice {
		if !r.duringGame {
			r.duringGame = true
			if r.roundInBlock != -1 {
				// a new block starts, values of the old one no longer apply
				clear(r.sums)
			}
			r.roundInBlock = -1
		}
		return Result{}
	}

	if ninepin.Command(frame) != ninepin.CmdGameStart {
		return Result{}
	}
	if !r.duringGame {
		r.duringGame = true
		r.roundInBlock++
		r.rotate()
	}
	return r.rewrite(frame)
}

// AnalyzeFromLane ends the game when a lane reports idle or pause
func (r *ResultCarryOver) AnalyzeFromLane(frame []byte) Result {
	switch ninepin.Command(frame) {
	case ninepin.CmdLaneIdle, ninepin.CmdLanePause:
		r.mu.Lock()
		r.duringGame = false
		r.mu.Unlock()
	}
	return Result{}
}

// rotate moves values between lanes: pairs swap after odd rounds, values
// shift by two lanes after even ones.
func (r *ResultCarryOver) rotate() {
	if r.roundInBlock <= 0 {
		return
	}
	n := len(r.sums)
	next := make([]int, n)
	for i, v := range r.sums {
		var j int
		if r.roundInBlock%2 == 1 {
			j = i ^ 1
		} else {
			j = (i + 2) % n
		}
		if j < n {
			next[j] = v
		}
	}
	r.sums = next
}

func (r *ResultCarryOver) rewrite(frame []byte) Result {
	total, err := ninepin.TotalSum(frame)
	if err != nil {
		r.log(8, "RCO_SUM_ERROR", "", fmt.Sprintf("Cannot read total sum of %q | %v", frame, err))
		return Result{}
	}
	carry := 0
	if lane, ok := ninepin.OutgoingLane(frame, len(r.sums)); ok {
		carry = r.sums[lane]
	}
	sum := total + carry

	switch r.mode {
	case CarryOverFirst:
		if total > 0 {
			return Result{}
		}
		return Result{XBack: messages(ninepin.WithTotalSum(frame, sum))}
	case CarryOverEdit:
		if total > 0 {
			return Result{}
		}
		return Result{XBack: messages(frame, scoreEdit(frame, sum))}
	default:
		return Result{XBack: messages(ninepin.WithTotalSum(frame, sum))}
	}
}

// scoreEdit builds the frame setting a lane's total through the edit
// command.
func scoreEdit(frame []byte, sum int) []byte {
	if sum < 0 || sum > ninepin.MaxTotalSum {
		sum = 0
	}
	var body bytes.Buffer
	body.Write(frame[:ninepin.CommandOffset])
	body.WriteString(ninepin.CmdEditScore)
	body.WriteString("000000000")
	fmt.Fprintf(&body, "%03X", sum)
	body.WriteString("000000000000000")
	return ninepin.Seal(body.Bytes())
}
