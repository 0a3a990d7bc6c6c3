// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the gateway configuration from config.json.
//
// Durations are stored in the file as float seconds, the format used by
// existing lane installations.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

var (
	// ErrMissingKey is returned when a required key is absent
	ErrMissingKey = errors.New("missing required key")
	// ErrInvalid is returned when a value is out of range or malformed
	ErrInvalid = errors.New("invalid configuration")
)

// Carry-over modes
const (
	CarryOverOff   = "off"
	CarryOverFirst = "first"
	CarryOverEdit  = "edit"
	CarryOverEvery = "every"
)

// Defaults for optional keys
const (
	DefaultComTimeout        = 0.0
	DefaultComWriteTimeout   = 0.5
	DefaultIntervalBreak     = 0.005
	DefaultMaxWait           = 2.0
	DefaultCriticalResponse  = 1.0
	DefaultWarningResponse   = 0.5
	DefaultIP                = "0.0.0.0"
	DefaultPort              = 5000
	DefaultMinLogPriority    = 1
	DefaultResponseRetries   = 1
	DefaultClearOffMessage   = ""
	DefaultCarryOverMode     = CarryOverOff
	DefaultRecentEventsLimit = 200
	DefaultWSPath            = "/lanes"
)

// Analyzers configures the optional frame rewriting plugins
type Analyzers struct {
	// ClearOffLimit ends clear-off after this many throws; 0 disables
	ClearOffLimit int `json:"clear_off_limit"`
	// ClearOffMessage is a comma separated list of frames; '_' is replaced
	// by the lane digit
	ClearOffMessage string `json:"clear_off_message"`
	// ResultCarryOver is one of off, first, edit, every
	ResultCarryOver string `json:"result_carry_over"`
	// CarryOverValues holds the starting sum per lane
	CarryOverValues []int `json:"carry_over_values"`
}

// Config is the gateway configuration
type Config struct {
	ComX             string  `json:"com_x"`
	ComY             string  `json:"com_y"`
	ComTimeout       float64 `json:"com_timeout"`
	ComWriteTimeout  float64 `json:"com_write_timeout"`
	IntervalBreak    float64 `json:"time_interval_break"`
	MaxWait          float64 `json:"max_waiting_time_for_response"`
	CriticalResponse float64 `json:"critical_response_time"`
	WarningResponse  float64 `json:"warning_response_time"`
	NumberOfLanes    int     `json:"number_of_lane"`
	DefaultIP        string  `json:"default_ip"`
	DefaultPort      int     `json:"default_port"`

	MinLogPriority     int    `json:"min_log_priority"`
	ResponseRetryLimit int    `json:"response_retry_limit"`
	MetricsAddr        string `json:"metrics_addr"`
	RecentEvents       int    `json:"recent_events"`

	// WSAddr serves the socket stream over WebSocket as well; empty disables
	WSAddr string `json:"ws_addr"`
	WSPath string `json:"ws_path"`
	// WSUsername enables HTTP Basic auth; the password comes from the
	// environment
	WSUsername string `json:"ws_username"`

	Analyzers Analyzers `json:"analyzers"`
}

var requiredKeys = []string{"com_x", "com_y", "number_of_lane"}

// Default returns a Config with every optional key set
func Default() Config {
	return Config{
		ComTimeout:         DefaultComTimeout,
		ComWriteTimeout:    DefaultComWriteTimeout,
		IntervalBreak:      DefaultIntervalBreak,
		MaxWait:            DefaultMaxWait,
		CriticalResponse:   DefaultCriticalResponse,
		WarningResponse:    DefaultWarningResponse,
		DefaultIP:          DefaultIP,
		DefaultPort:        DefaultPort,
		MinLogPriority:     DefaultMinLogPriority,
		ResponseRetryLimit: DefaultResponseRetries,
		RecentEvents:       DefaultRecentEventsLimit,
		WSPath:             DefaultWSPath,
		Analyzers: Analyzers{
			ClearOffMessage: DefaultClearOffMessage,
			ResultCarryOver: DefaultCarryOverMode,
		},
	}
}

// Load reads and validates the file at path
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a JSON document over the defaults and validates it
func Parse(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, key := range requiredKeys {
		if _, ok := keys[key]; !ok {
			return Config{}, fmt.Errorf("%w: %s", ErrMissingKey, key)
		}
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and relations between values
func (c Config) Validate() error {
	if c.ComX == "" {
		return fmt.Errorf("%w: com_x is empty", ErrInvalid)
	}
	if c.ComY == "" {
		return fmt.Errorf("%w: com_y is empty", ErrInvalid)
	}
	if c.ComX == c.ComY {
		return fmt.Errorf("%w: com_x and com_y are both %s", ErrInvalid, c.ComX)
	}
	if c.NumberOfLanes < 1 || c.NumberOfLanes > ninepin.MaxLanes {
		return fmt.Errorf("%w: number_of_lane %d not in 1..%d", ErrInvalid, c.NumberOfLanes, ninepin.MaxLanes)
	}

	for name, v := range map[string]float64{
		"com_timeout":                   c.ComTimeout,
		"com_write_timeout":             c.ComWriteTimeout,
		"max_waiting_time_for_response": c.MaxWait,
		"critical_response_time":        c.CriticalResponse,
		"warning_response_time":         c.WarningResponse,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalid, name)
		}
	}
	if c.IntervalBreak <= 0 {
		return fmt.Errorf("%w: time_interval_break must be positive", ErrInvalid)
	}
	if c.WarningResponse > c.CriticalResponse {
		return fmt.Errorf("%w: warning_response_time %.3f exceeds critical_response_time %.3f",
			ErrInvalid, c.WarningResponse, c.CriticalResponse)
	}
	if c.CriticalResponse > c.MaxWait {
		return fmt.Errorf("%w: critical_response_time %.3f exceeds max_waiting_time_for_response %.3f",
			ErrInvalid, c.CriticalResponse, c.MaxWait)
	}
	if c.DefaultPort < 0 || c.DefaultPort > 65535 {
		return fmt.Errorf("%w: default_port %d", ErrInvalid, c.DefaultPort)
	}
	if c.ResponseRetryLimit < 0 {
		return fmt.Errorf("%w: response_retry_limit is negative", ErrInvalid)
	}
	if c.WSAddr != "" && !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("%w: ws_path %q must start with /", ErrInvalid, c.WSPath)
	}

	a := c.Analyzers
	if a.ClearOffLimit < 0 {
		return fmt.Errorf("%w: clear_off_limit is negative", ErrInvalid)
	}
	switch a.ResultCarryOver {
	case "", CarryOverOff, CarryOverFirst, CarryOverEdit, CarryOverEvery:
	default:
		return fmt.Errorf("%w: result_carry_over %q", ErrInvalid, a.ResultCarryOver)
	}
	if len(a.CarryOverValues) > c.NumberOfLanes {
		return fmt.Errorf("%w: %d carry_over_values for %d lanes", ErrInvalid, len(a.CarryOverValues), c.NumberOfLanes)
	}
	for i, v := range a.CarryOverValues {
		if v < 0 || v > ninepin.MaxTotalSum {
			return fmt.Errorf("%w: carry_over_values[%d] = %d", ErrInvalid, i, v)
		}
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// ReadTimeout returns com_timeout
func (c Config) ReadTimeout() time.Duration { return seconds(c.ComTimeout) }

// WriteTimeout returns com_write_timeout
func (c Config) WriteTimeout() time.Duration { return seconds(c.ComWriteTimeout) }

// Interval returns time_interval_break
func (c Config) Interval() time.Duration { return seconds(c.IntervalBreak) }

// MaxWaitDuration returns max_waiting_time_for_response
func (c Config) MaxWaitDuration() time.Duration { return seconds(c.MaxWait) }

// CriticalDuration returns critical_response_time
func (c Config) CriticalDuration() time.Duration { return seconds(c.CriticalResponse) }

// WarningDuration returns warning_response_time
func (c Config) WarningDuration() time.Duration { return seconds(c.WarningResponse) }

// ListenAddr returns default_ip:default_port
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.DefaultIP, strconv.Itoa(c.DefaultPort))
}
