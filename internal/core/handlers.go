package core

import (
	"context"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pastukhov/yaic/internal/emitter"
	"github.com/pastukhov/yaic/internal/processor"
	"github.com/pastukhov/yaic/internal/types"
)

// onConnect runs on every (re)connection: subscriptions do not survive
// a clean session, and known sources need their liveness re-asserted.
func (y *Yaic) onConnect() {
	if err := y.emitter.Subscribe(y.cfg.MQTT.Topics.Input, y.qos("input"), y.handleInput); err != nil {
		slog.Error("input subscription failed", "topic", y.cfg.MQTT.Topics.Input, "error", err)
	}
	if err := y.emitter.Subscribe(y.topics.StatusPattern(), y.qos("status"), y.handleStatus); err != nil {
		slog.Error("status subscription failed", "topic", y.topics.StatusPattern(), "error", err)
	}

	for _, sourceID := range y.knownSources() {
		if err := y.pub.PublishStatus(sourceID, emitter.StatusOnline); err != nil {
			slog.Warn("failed to re-assert online status", "source_id", sourceID, "error", err)
		}
	}
}

// handleInput receives one image event from the broker and hands it to
// the router. Malformed payloads are dropped here with a warning;
// nothing is published for them.
func (y *Yaic) handleInput(_ mqtt.Client, msg mqtt.Message) {
	sourceID, ok := y.topics.ParseInput(msg.Topic())
	if !ok {
		slog.Warn("input on unexpected topic", "topic", msg.Topic())
		return
	}

	image, device, err := processor.ExtractImage(msg.Payload())
	if err != nil {
		slog.Warn("invalid input payload", "source_id", sourceID, "error", err)
		y.metrics.EventsDropped.Inc()
		return
	}

	y.registerSource(sourceID)
	y.metrics.EventsTotal.Inc()

	y.router.Dispatch(types.Event{
		SourceID:   sourceID,
		Device:     device,
		Image:      image,
		ReceivedAt: time.Now(),
	})
}

// handleStatus watches the retained status topics so sources known to
// a previous run get their discovery documents republished on startup.
func (y *Yaic) handleStatus(_ mqtt.Client, msg mqtt.Message) {
	sourceID, ok := y.topics.ParseStatus(msg.Topic())
	if !ok {
		return
	}

	y.mu.Lock()
	seen := y.known[sourceID]
	y.known[sourceID] = true
	y.mu.Unlock()
	if seen {
		return
	}

	slog.Info("source known from retained status",
		"source_id", sourceID,
		"status", string(msg.Payload()),
	)
	y.pub.PublishDiscovery(y.version, sourceID)
}

// registerSource announces a source on first sight: the Home Assistant
// discovery set plus the retained online status.
func (y *Yaic) registerSource(sourceID string) {
	y.mu.Lock()
	seen := y.known[sourceID]
	y.known[sourceID] = true
	y.mu.Unlock()
	if seen {
		return
	}

	slog.Info("registering source", "source_id", sourceID)
	y.pub.PublishDiscovery(y.version, sourceID)
	if err := y.pub.PublishStatus(sourceID, emitter.StatusOnline); err != nil {
		slog.Warn("failed to publish online status", "source_id", sourceID, "error", err)
	}
}

// processEvent is the router handler: it runs on the per-source worker
// goroutine with at most one invocation in flight per source.
func (y *Yaic) processEvent(ctx context.Context, event types.Event, imageChanged bool) {
	if y.paused() {
		slog.Debug("processing paused, discarding event", "source_id", event.SourceID)
		return
	}

	if err := y.pub.PublishOperation(event.SourceID, emitter.OpProcessing); err != nil {
		slog.Warn("failed to publish processing status", "source_id", event.SourceID, "error", err)
	}

	start := time.Now()
	result, err := y.processor.Process(ctx, event)
	y.metrics.ClassifierLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		y.metrics.Classifications.WithLabelValues("failure").Inc()
		slog.Error("classification failed",
			"source_id", event.SourceID,
			"error", err,
		)
		if err := y.pub.PublishOperation(event.SourceID, emitter.OpError); err != nil {
			slog.Warn("failed to publish error status", "source_id", event.SourceID, "error", err)
		}
		return
	}

	y.metrics.Classifications.WithLabelValues("success").Inc()
	slog.Info("classification complete",
		"source_id", event.SourceID,
		"label", result.Label,
		"confidence", result.Confidence,
		"person_count", result.Person.Count,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	y.pub.FanOut(event.SourceID, event.Device, result, event.Image, imageChanged)
}
