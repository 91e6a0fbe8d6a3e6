package emitter

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pastukhov/yaic/internal/discovery"
	"github.com/pastukhov/yaic/internal/types"
)

// Operation status values published per processed event.
const (
	OpProcessing = "processing"
	OpIdle       = "idle"
	OpError      = "error"
)

// Liveness status values on the retained per-source status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// FanOut emits one canonical result to every output target in order:
// classification, retained last image (only when the bytes changed),
// event envelope, and the idle operation status. Each target fails
// independently; failures are logged and reported through the
// OnPublishError hook but never abort the remaining targets.
func (e *Emitter) FanOut(sourceID, device string, result types.ClassificationResult, image []byte, imageChanged bool) {
	if err := e.PublishClassification(sourceID, device, result); err != nil {
		e.reportTarget("classification", sourceID, err)
	}

	if imageChanged {
		if err := e.PublishImage(sourceID, image); err != nil {
			e.reportTarget("image", sourceID, err)
		}
	}

	if err := e.PublishEvent(sourceID, result); err != nil {
		e.reportTarget("event", sourceID, err)
	}

	if err := e.PublishOperation(sourceID, OpIdle); err != nil {
		e.reportTarget("operation", sourceID, err)
	}
}

// PublishClassification emits the canonical result payload.
func (e *Emitter) PublishClassification(sourceID, device string, result types.ClassificationResult) error {
	payload := result.Payload()
	payload["source_id"] = sourceID
	if device != "" {
		payload["device"] = device
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.publish(e.cfg.Topics.Classification(sourceID), e.qos("classification"), false, encoded)
}

// PublishEvent emits the event envelope with flattened person fields.
func (e *Emitter) PublishEvent(sourceID string, result types.ClassificationResult) error {
	people := make([]map[string]string, 0, len(result.Person.Details))
	for _, d := range result.Person.Details {
		people = append(people, map[string]string{
			"age_group":  d.AgeGroup,
			"gender":     d.Gender,
			"appearance": d.Appearance,
			"role":       d.Role,
		})
	}

	encoded, err := json.Marshal(map[string]any{
		"event_type":   "classified",
		"event_id":     uuid.NewString(),
		"source_id":    sourceID,
		"label":        result.Label,
		"confidence":   result.Confidence,
		"person_count": result.Person.Count,
		"people":       people,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return e.publish(e.cfg.Topics.Event(sourceID), e.qos("event"), false, encoded)
}

// PublishImage emits the retained last-image payload.
func (e *Emitter) PublishImage(sourceID string, image []byte) error {
	return e.publish(e.cfg.Topics.Image(sourceID), e.qos("image"), true, image)
}

// PublishOperation emits the per-event processing outcome, not
// retained.
func (e *Emitter) PublishOperation(sourceID, status string) error {
	encoded, err := json.Marshal(map[string]any{
		"source_id": sourceID,
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return e.publish(e.cfg.Topics.Operation(sourceID), e.qos("operation"), false, encoded)
}

// PublishStatus emits the retained liveness state for a source.
func (e *Emitter) PublishStatus(sourceID, status string) error {
	return e.publish(e.cfg.Topics.StatusFor(sourceID), e.qos("status"), true, []byte(status))
}

// PublishDiscovery emits the retained Home Assistant discovery set for
// a source. Individual document failures do not stop the rest.
func (e *Emitter) PublishDiscovery(swVersion, sourceID string) {
	for _, m := range discovery.Messages(e.cfg.Topics, swVersion, sourceID) {
		encoded, err := json.Marshal(m.Payload)
		if err != nil {
			e.reportTarget("discovery", sourceID, err)
			continue
		}
		if err := e.publish(m.Topic, m.QoS, m.Retain, encoded); err != nil {
			e.reportTarget("discovery", sourceID, err)
		}
	}
}

func (e *Emitter) reportTarget(target, sourceID string, err error) {
	slog.Error("publish failed",
		"target", target,
		"source_id", sourceID,
		"error", err,
	)
	if e.cfg.OnPublishError != nil {
		e.cfg.OnPublishError(target)
	}
}
