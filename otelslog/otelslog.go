// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelslog correlates slog records with OpenTelemetry traces.
package otelslog

import (
	"context"
	"log/slog"

	"github.com/z5labs/relay/internal/slogfield"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	eventLevel slog.Level
}

// Option configures a [Handler].
type Option func(*options)

// EventLevel sets the minimum level of records which are also added as
// events to the span in the record context. The default is [slog.LevelError].
func EventLevel(lvl slog.Level) Option {
	return func(o *options) {
		o.eventLevel = lvl
	}
}

// Handler is a slog.Handler which adds the trace and span id of the
// span in the record context to every record.
type Handler struct {
	slog       slog.Handler
	eventLevel slog.Level
}

// NewHandler wraps h.
func NewHandler(h slog.Handler, opts ...Option) *Handler {
	o := &options{eventLevel: slog.LevelError}
	for _, opt := range opts {
		opt(o)
	}
	return &Handler{slog: h, eventLevel: o.eventLevel}
}

// New is shorthand for slog.New(NewHandler(h, opts...)).
func New(h slog.Handler, opts ...Option) *slog.Logger {
	return slog.New(NewHandler(h, opts...))
}

// Enabled implements the slog.Handler interface.
func (h *Handler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.slog.Enabled(ctx, lvl)
}

// Handle implements the slog.Handler interface.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	span := trace.SpanFromContext(ctx)
	spanCtx := span.SpanContext()
	if !spanCtx.IsValid() {
		return h.slog.Handle(ctx, record)
	}

	if record.Level >= h.eventLevel && span.IsRecording() {
		span.AddEvent(
			record.Message,
			trace.WithTimestamp(record.Time),
			trace.WithAttributes(attribute.String("log.severity", record.Level.String())),
		)
	}

	r := record.Clone()
	r.AddAttrs(
		slog.Group(
			"otel",
			slogfield.String("trace_id", spanCtx.TraceID().String()),
			slogfield.String("span_id", spanCtx.SpanID().String()),
			slogfield.Bool("sampled", spanCtx.IsSampled()),
		),
	)
	return h.slog.Handle(ctx, r)
}

// WithAttrs implements the slog.Handler interface.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{slog: h.slog.WithAttrs(attrs), eventLevel: h.eventLevel}
}

// WithGroup implements the slog.Handler interface.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{slog: h.slog.WithGroup(name), eventLevel: h.eventLevel}
}
