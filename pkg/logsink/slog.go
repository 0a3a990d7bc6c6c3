// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logsink

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/phsym/console-slog"
)

// Options configures NewSlogLogger
type Options struct {
	Output io.Writer
	// Pretty selects the colored console handler instead of JSON.
	// ENV=development forces it.
	Pretty bool
	Level  slog.Leveler
}

// NewSlogLogger builds the process logger: a console handler for
// interactive use and a JSON handler otherwise.
func NewSlogLogger(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.Pretty || os.Getenv("ENV") == "development" {
		handler = console.NewHandler(out, &console.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	}
	return slog.New(handler)
}

// Level maps an event priority to a slog level
func Level(priority int) slog.Level {
	switch {
	case priority >= ErrorPriority:
		return slog.LevelError
	case priority >= 8:
		return slog.LevelWarn
	case priority >= 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// FromSlog returns a Sink writing events to logger
func FromSlog(logger *slog.Logger) Sink {
	return func(priority int, code, source string, detail any) {
		level := Level(priority)
		ctx := context.Background()
		if !logger.Enabled(ctx, level) {
			return
		}
		attrs := []slog.Attr{
			slog.Int("priority", priority),
			slog.String("code", code),
		}
		if source != "" {
			attrs = append(attrs, slog.String("source", source))
		}
		if detail != nil {
			attrs = append(attrs, slog.String("detail", FormatDetail(detail)))
		}
		logger.LogAttrs(ctx, level, code, attrs...)
	}
}
