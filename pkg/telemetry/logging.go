// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// LogOptions selects the level and encoding of the process logger. Both
// fields take the values of the log section of the config file.
type LogOptions struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// ConfigureSlog installs the global slog logger. Records emitted under an
// active span carry its trace and span ids.
func ConfigureSlog(output io.Writer, opts LogOptions) *slog.Logger {
	base := &slog.HandlerOptions{Level: logLevel(opts.Level)}

	var inner slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		inner = slog.NewJSONHandler(output, base)
	} else {
		inner = slog.NewTextHandler(output, base)
	}

	logger := slog.New(spanHandler{next: inner})
	slog.SetDefault(logger)
	return logger
}

// spanHandler decorates records with the ids of the span active on the
// record's context, then delegates to the wrapped handler.
type spanHandler struct {
	next slog.Handler
}

func (h spanHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h spanHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, record)
}

func (h spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanHandler{next: h.next.WithAttrs(attrs)}
}

func (h spanHandler) WithGroup(name string) slog.Handler {
	return spanHandler{next: h.next.WithGroup(name)}
}

// logLevel maps a config string to a slog level. Unknown values fall back
// to info rather than failing startup.
func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
