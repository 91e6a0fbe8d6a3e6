// Package processor runs the per-event classification pipeline:
// payload extraction, the classifier round trip with one bounded
// richer follow-up, normalization and analytics derivation.
package processor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pastukhov/yaic/internal/analytics"
	"github.com/pastukhov/yaic/internal/normalize"
	"github.com/pastukhov/yaic/internal/types"
)

// Classifier is the remote oracle surface the processor needs.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (map[string]any, error)
	ClassifyDetailed(ctx context.Context, image []byte) (map[string]any, error)
}

// Processor turns an accepted event into a canonical result.
type Processor struct {
	classifier Classifier
}

// New creates a processor around the given classifier.
func New(classifier Classifier) *Processor {
	return &Processor{classifier: classifier}
}

// envelope is the JSON form of an inbound payload.
type envelope struct {
	ImageB64 string `json:"image_b64"`
	Device   string `json:"device"`
}

// ExtractImage decodes an inbound payload: either raw image bytes or a
// JSON envelope carrying base64 image data and an optional device id.
func ExtractImage(payload []byte) (image []byte, device string, err error) {
	if len(payload) == 0 {
		return nil, "", fmt.Errorf("empty payload")
	}

	if !json.Valid(payload) {
		return payload, "", nil
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		// Valid JSON but not an object; raw image bytes can look like
		// neither, so this is a malformed envelope.
		return nil, "", fmt.Errorf("json payload must be an object: %w", err)
	}
	if env.ImageB64 == "" {
		return nil, "", fmt.Errorf("json payload missing image_b64")
	}

	decoded, err := base64.StdEncoding.DecodeString(env.ImageB64)
	if err != nil {
		return nil, "", fmt.Errorf("image_b64 is not valid base64: %w", err)
	}

	return decoded, env.Device, nil
}

// Process classifies the event's image and returns the canonical,
// fully-defaulted result. Errors are limited to "could not reach the
// classifier"; semantic gaps in the response degrade instead.
func (p *Processor) Process(ctx context.Context, event types.Event) (types.ClassificationResult, error) {
	raw, err := p.classifier.Classify(ctx, event.Image)
	if err != nil {
		return types.ClassificationResult{}, fmt.Errorf("classification failed: %w", err)
	}

	result := normalize.Normalize(raw)

	// A person label without analytics warrants exactly one richer
	// follow-up; a failed follow-up falls back to the first response.
	if result.Label == types.LabelPerson && !normalize.HasPersonDetails(raw) {
		richer, err := p.classifier.ClassifyDetailed(ctx, event.Image)
		if err != nil {
			slog.Warn("detail follow-up failed, keeping first response",
				"source_id", event.SourceID,
				"error", err,
			)
		} else {
			result = normalize.Merge(result, richer)
		}
	}

	return fillSummaries(result), nil
}

// fillSummaries derives any analytics summary the model did not supply.
func fillSummaries(result types.ClassificationResult) types.ClassificationResult {
	if result.Person.Count <= 0 {
		return result
	}

	derived := analytics.Derive(result.Person.Details)
	if result.Person.AgeSummary == "" {
		result.Person.AgeSummary = derived.Age
	}
	if result.Person.GenderSummary == "" {
		result.Person.GenderSummary = derived.Gender
	}
	if result.Person.RoleSummary == "" {
		result.Person.RoleSummary = derived.Role
	}
	if result.Person.Description == "" {
		result.Person.Description = derived.Description
	}
	return result
}
