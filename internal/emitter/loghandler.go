package emitter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// LogHandler mirrors slog records onto the shared MQTT log topic. It
// publishes fire-and-forget so a broker outage can never stall or
// recurse into logging.
type LogHandler struct {
	emitter *Emitter
	min     slog.Level
	attrs   []slog.Attr
}

// NewLogHandler creates a handler publishing records at or above min.
func NewLogHandler(e *Emitter, min slog.Level) *LogHandler {
	return &LogHandler{emitter: e, min: min}
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

// Handle implements slog.Handler.
func (h *LogHandler) Handle(_ context.Context, record slog.Record) error {
	if h.emitter.Client == nil || !h.emitter.isConnected() {
		return nil
	}

	payload := map[string]any{
		"timestamp": record.Time.UTC().Format(time.RFC3339),
		"level":     record.Level.String(),
		"message":   record.Message,
	}
	for _, attr := range h.attrs {
		payload[attr.Key] = attr.Value.String()
	}
	record.Attrs(func(attr slog.Attr) bool {
		payload[attr.Key] = attr.Value.String()
		return true
	})

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil
	}

	// No token wait: log delivery is best effort.
	h.emitter.Client.Publish(h.emitter.cfg.Topics.Log, h.emitter.qos("log"), false, encoded)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler. Groups are flattened; the log
// topic consumers only read top-level keys.
func (h *LogHandler) WithGroup(string) slog.Handler {
	return h
}

// TeeHandler forwards every record to all wrapped handlers.
type TeeHandler struct {
	handlers []slog.Handler
}

// NewTeeHandler combines handlers into one.
func NewTeeHandler(handlers ...slog.Handler) *TeeHandler {
	return &TeeHandler{handlers: handlers}
}

// Enabled implements slog.Handler.
func (t *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler.
func (t *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range t.handlers {
		if h.Enabled(ctx, record.Level) {
			_ = h.Handle(ctx, record.Clone())
		}
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (t *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &TeeHandler{handlers: handlers}
}

// WithGroup implements slog.Handler.
func (t *TeeHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &TeeHandler{handlers: handlers}
}
