// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package analyzer

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Thermoquad/kegelbridge/pkg/logsink"
	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

// ArrangementFull is the next arrangement reported when all nine pins
// stand again, which starts a new clear-off.
const ArrangementFull = "000"

type clearOffLane struct {
	last    int
	base    int
	enabled bool
}

// ClearOffLimiter ends a clear-off early once a lane has thrown limit
// times in it, by sending the configured message to that lane.
type ClearOffLimiter struct {
	log      logsink.Sink
	limit    int
	template string

	mu    sync.Mutex
	lanes []clearOffLane
}

// NewClearOffLimiter returns a limiter for n lanes. template is a comma
// separated list of frame bodies; in each, '_' is replaced by the lane
// digit and the body is sealed with a checksum. Bodies without '_' are
// sent verbatim with a terminator. Every lane starts enabled.
func NewClearOffLimiter(lanes, limit int, template string, log logsink.Sink) *ClearOffLimiter {
	if log == nil {
		log = logsink.Discard
	}
	l := &ClearOffLimiter{
		log:      log,
		limit:    limit,
		template: template,
		lanes:    make([]clearOffLane, lanes),
	}
	for i := range l.lanes {
		l.lanes[i].enabled = true
	}
	return l
}

// Name implements Analyzer
func (l *ClearOffLimiter) Name() string { return "clear-off-limiter" }

// Enabled implements Analyzer
func (l *ClearOffLimiter) Enabled() bool {
	return l.limit > 0 && l.template != ""
}

// SetLaneEnabled switches the limit on or off for one lane
func (l *ClearOffLimiter) SetLaneEnabled(lane int, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lane >= 0 && lane < len(l.lanes) {
		l.lanes[lane].enabled = on
	}
}

// Throws returns the number of throws in the current clear-off per lane
func (l *ClearOffLimiter) Throws() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.lanes))
	for i, s := range l.lanes {
		out[i] = s.last - s.base
	}
	return out
}

// AnalyzeToLane implements Analyzer
func (l *ClearOffLimiter) AnalyzeToLane([]byte) Result { return Result{} }

// AnalyzeFromLane tracks throw reports and requests the end of a
// clear-off when the limit is reached. The report itself is forwarded.
func (l *ClearOffLimiter) AnalyzeFromLane(frame []byte) Result {
	report, ok, err := ninepin.ParseThrowReport(frame)
	if !ok {
		return Result{}
	}
	if err != nil {
		l.log(10, "FCE_SPLT_ERROR", "", fmt.Sprintf("Cannot split message %q | %v", frame, err))
		return Result{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if report.Lane >= len(l.lanes) {
		return Result{}
	}
	s := &l.lanes[report.Lane]
	if report.NextArrangement == ArrangementFull {
		s.base = report.ThrowNumber
	} else if s.last > report.ThrowNumber {
		s.base = 0
	}
	s.last = report.ThrowNumber

	if !s.enabled || l.limit > report.ThrowNumber-s.base {
		return Result{}
	}

	out := l.endMessage(report.Lane)
	s.base = s.last
	l.log(4, "FCE_SEND", strconv.Itoa(report.Lane+1),
		fmt.Sprintf("Sending %q to lane %d to end the clear-off", out, report.Lane+1))

	return Result{
		XBack: messages(out),
		YBack: messages(frame),
	}
}

func (l *ClearOffLimiter) endMessage(lane int) []byte {
	var out []byte
	for _, body := range strings.Split(l.template, ",") {
		if !strings.Contains(body, "_") {
			out = append(out, body...)
			out = append(out, ninepin.Terminator)
			continue
		}
		body = strings.ReplaceAll(body, "_", strconv.Itoa(lane))
		out = append(out, ninepin.Seal([]byte(body))...)
	}
	return out
}
