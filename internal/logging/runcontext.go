package logging

import (
	"context"
	"log/slog"
)

// ContextGroup is the group run attributes are logged under.
const ContextGroup = "sim"

// RunContext returns the attributes of the running simulation, typically
// run ID, clock time and stepper state. It is called once per record.
type RunContext func() []slog.Attr

// contextHandler adds the current RunContext attributes to each record.
// Records logged while no run exists pass through unchanged.
type contextHandler struct {
	inner slog.Handler
	run   RunContext
}

func newContextHandler(inner slog.Handler, run RunContext) *contextHandler {
	return &contextHandler{inner: inner, run: run}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.run != nil {
		if attrs := h.run(); len(attrs) > 0 {
			r.AddAttrs(slog.Attr{Key: ContextGroup, Value: slog.GroupValue(attrs...)})
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return newContextHandler(h.inner.WithAttrs(attrs), h.run)
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return newContextHandler(h.inner.WithGroup(name), h.run)
}
