// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes gateway counters to Prometheus.
//
// Counters are plain atomics updated by the gateway loop; Register wires
// them into a registry as CounterFunc and GaugeFunc collectors, so an
// unregistered Gateway costs nothing but the atomic adds.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/kegelbridge/pkg/logsink"
)

const namespace = "kegelbridge"

// Gateway holds the counters of one gateway
type Gateway struct {
	// FramesFromLane counts frames read from the lane side
	FramesFromLane atomic.Uint64
	// FramesToLane counts frames read from the application side
	FramesToLane atomic.Uint64
	// FramesFromClients counts frames injected by socket clients
	FramesFromClients atomic.Uint64
	// Responses counts answered requests
	Responses atomic.Uint64
	// Warnings counts responses slower than the warning threshold
	Warnings atomic.Uint64
	// Criticals counts responses slower than the critical threshold
	Criticals atomic.Uint64
	// NoAnswers counts requests never answered
	NoAnswers atomic.Uint64
	// Resends counts requests queued again after no answer
	Resends atomic.Uint64
	// GiveUps counts requests dropped after the retry limit
	GiveUps atomic.Uint64
	// LaneMismatches counts answers from a lane other than the addressed one
	LaneMismatches atomic.Uint64
	// SendFailures counts serial writes that failed or timed out
	SendFailures atomic.Uint64

	// SocketClients is the number of connected socket clients
	SocketClients atomic.Int64
	// PendingLaneBytes is the lane side send queue length
	PendingLaneBytes atomic.Int64
	// PendingAppBytes is the application side send queue length
	PendingAppBytes atomic.Int64

	responseTime *prometheus.HistogramVec
}

// New returns a Gateway with zeroed counters
func New() *Gateway {
	return &Gateway{
		responseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_time_seconds",
			Help:      "Time from a request to a lane until its answer.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"lane"}),
	}
}

// ObserveResponse records an answer from lane (0-based)
func (g *Gateway) ObserveResponse(lane int, d time.Duration) {
	g.Responses.Add(1)
	g.responseTime.WithLabelValues(strconv.Itoa(lane + 1)).Observe(d.Seconds())
}

// Register adds every collector to reg
func (g *Gateway) Register(reg prometheus.Registerer) error {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	collectors := []prometheus.Collector{
		counter("frames_from_lane_total", "Frames read from the lane side.", &g.FramesFromLane),
		counter("frames_to_lane_total", "Frames read from the application side.", &g.FramesToLane),
		counter("frames_from_clients_total", "Frames received from socket clients.", &g.FramesFromClients),
		counter("responses_total", "Answered lane requests.", &g.Responses),
		counter("response_warnings_total", "Responses slower than the warning threshold.", &g.Warnings),
		counter("response_criticals_total", "Responses slower than the critical threshold.", &g.Criticals),
		counter("no_answers_total", "Lane requests that were never answered.", &g.NoAnswers),
		counter("resends_total", "Lane requests queued again after no answer.", &g.Resends),
		counter("give_ups_total", "Lane requests dropped after the retry limit.", &g.GiveUps),
		counter("lane_mismatches_total", "Answers from a lane other than the addressed one.", &g.LaneMismatches),
		counter("send_failures_total", "Serial writes that failed or timed out.", &g.SendFailures),
		gauge("socket_clients", "Connected socket clients.", &g.SocketClients),
		gauge("pending_lane_bytes", "Bytes queued for the lane side.", &g.PendingLaneBytes),
		gauge("pending_app_bytes", "Bytes queued for the application side.", &g.PendingAppBytes),
		g.responseTime,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

// Handler serves the metrics of reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Serve exposes reg on addr under /metrics until ctx is done
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log logsink.Sink) error {
	if log == nil {
		log = logsink.Discard
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log(2, "MET_SERVE", addr, "Metrics server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log(10, "MET_SERVE_ERROR", addr, err)
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		return nil
	}
}
