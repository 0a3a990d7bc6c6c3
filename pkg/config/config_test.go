// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `{"com_x": "/dev/ttyS0", "com_y": "/dev/ttyS1", "number_of_lane": 6}`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimal))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS0", cfg.ComX)
	assert.Equal(t, 6, cfg.NumberOfLanes)
	assert.Equal(t, 500*time.Millisecond, cfg.WriteTimeout())
	assert.Equal(t, 5*time.Millisecond, cfg.Interval())
	assert.Equal(t, 2*time.Second, cfg.MaxWaitDuration())
	assert.Equal(t, time.Second, cfg.CriticalDuration())
	assert.Equal(t, 500*time.Millisecond, cfg.WarningDuration())
	assert.Equal(t, time.Duration(0), cfg.ReadTimeout())
	assert.Equal(t, "0.0.0.0:5000", cfg.ListenAddr())
	assert.Equal(t, 1, cfg.ResponseRetryLimit)
	assert.Equal(t, CarryOverOff, cfg.Analyzers.ResultCarryOver)
	assert.Empty(t, cfg.WSAddr)
	assert.Equal(t, "/lanes", cfg.WSPath)
}

func TestParse_Overrides(t *testing.T) {
	doc := `{
		"com_x": "COM3", "com_y": "COM4", "number_of_lane": 4,
		"com_write_timeout": 0.25,
		"time_interval_break": 0.01,
		"max_waiting_time_for_response": 3,
		"critical_response_time": 1.5,
		"warning_response_time": 0.75,
		"default_ip": "127.0.0.1", "default_port": 6000,
		"min_log_priority": 5,
		"response_retry_limit": 3,
		"metrics_addr": ":9100",
		"analyzers": {
			"clear_off_limit": 3,
			"clear_off_message": "3_38T14,X",
			"result_carry_over": "every",
			"carry_over_values": [100, 200]
		}
	}`

	cfg, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.WriteTimeout())
	assert.Equal(t, 10*time.Millisecond, cfg.Interval())
	assert.Equal(t, 1500*time.Millisecond, cfg.CriticalDuration())
	assert.Equal(t, "127.0.0.1:6000", cfg.ListenAddr())
	assert.Equal(t, 5, cfg.MinLogPriority)
	assert.Equal(t, 3, cfg.ResponseRetryLimit)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, 3, cfg.Analyzers.ClearOffLimit)
	assert.Equal(t, CarryOverEvery, cfg.Analyzers.ResultCarryOver)
	assert.Equal(t, []int{100, 200}, cfg.Analyzers.CarryOverValues)
}

func TestParse_MissingKey(t *testing.T) {
	for _, key := range []string{"com_x", "com_y", "number_of_lane"} {
		doc := map[string]string{
			"com_x":          `"a"`,
			"com_y":          `"b"`,
			"number_of_lane": `6`,
		}
		delete(doc, key)
		var parts []string
		for k, v := range doc {
			parts = append(parts, `"`+k+`": `+v)
		}

		_, err := Parse(strings.NewReader("{" + strings.Join(parts, ",") + "}"))
		require.ErrorIs(t, err, ErrMissingKey, key)
		assert.Contains(t, err.Error(), key)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", `{"com_x": `},
		{"wrong type", `{"com_x": 1, "com_y": "b", "number_of_lane": 6}`},
		{"same ports", `{"com_x": "a", "com_y": "a", "number_of_lane": 6}`},
		{"no lanes", `{"com_x": "a", "com_y": "b", "number_of_lane": 0}`},
		{"too many lanes", `{"com_x": "a", "com_y": "b", "number_of_lane": 11}`},
		{"negative timeout", `{"com_x": "a", "com_y": "b", "number_of_lane": 6, "com_write_timeout": -1}`},
		{"zero interval", `{"com_x": "a", "com_y": "b", "number_of_lane": 6, "time_interval_break": 0}`},
		{"warning above critical", `{"com_x": "a", "com_y": "b", "number_of_lane": 6, "warning_response_time": 1.5}`},
		{"critical above max wait", `{"com_x": "a", "com_y": "b", "number_of_lane": 6, "critical_response_time": 3}`},
		{"port range", `{"com_x": "a", "com_y": "b", "number_of_lane": 6, "default_port": 70000}`},
		{"carry-over mode", `{"com_x": "a", "com_y": "b", "number_of_lane": 6, "analyzers": {"result_carry_over": "last"}}`},
		{"carry-over value", `{"com_x": "a", "com_y": "b", "number_of_lane": 2, "analyzers": {"carry_over_values": [5000]}}`},
		{"carry-over count", `{"com_x": "a", "com_y": "b", "number_of_lane": 1, "analyzers": {"carry_over_values": [1, 2]}}`},
		{"ws path", `{"com_x": "a", "com_y": "b", "number_of_lane": 6, "ws_addr": ":8080", "ws_path": "lanes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS1", cfg.ComY)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
