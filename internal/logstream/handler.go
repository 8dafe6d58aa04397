package logstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Handler tees every record it handles into a Hub before passing it on.
type Handler struct {
	next   slog.Handler
	hub    *Hub
	attrs  []slog.Attr
	prefix string
}

func NewHandler(next slog.Handler, hub *Hub) *Handler {
	return &Handler{next: next, hub: hub}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	h.hub.Publish(Entry{
		Timestamp: r.Time,
		Level:     strings.ToLower(r.Level.String()),
		Message:   h.format(r),
	})
	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	qualified := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	qualified = append(qualified, h.attrs...)
	for _, a := range attrs {
		qualified = append(qualified, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &Handler{next: h.next.WithAttrs(attrs), hub: h.hub, attrs: qualified, prefix: h.prefix}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{next: h.next.WithGroup(name), hub: h.hub, attrs: h.attrs, prefix: h.prefix + name + "."}
}

func (h *Handler) format(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Message)
	write := func(key string, v slog.Value) {
		fmt.Fprintf(&b, " %s=%v", key, v.Resolve().Any())
	}
	for _, a := range h.attrs {
		write(a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(h.prefix+a.Key, a.Value)
		return true
	})
	return b.String()
}
