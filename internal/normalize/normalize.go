// Package normalize converts raw, untrusted classifier documents into
// the canonical ClassificationResult. The remote oracle may omit
// fields, return wrong types, or send a partial analytics block; every
// conversion step here defaults independently instead of failing, so
// Normalize never errors for any input.
package normalize

import (
	"strconv"
	"strings"

	"github.com/pastukhov/yaic/internal/types"
)

// Normalize repairs a raw classifier document into a well-formed
// result. A nil or garbage document yields the fully-degraded record:
// label "unknown", confidence 0, person count 0.
func Normalize(raw map[string]any) types.ClassificationResult {
	label := coerceString(raw["label"])
	if label == "" {
		label = types.Unknown
	}

	confidence, ok := coerceFloat(raw["confidence"])
	if !ok || confidence < 0 || confidence > 1 {
		confidence = 0.0
	}

	return types.ClassificationResult{
		Label:      label,
		Confidence: confidence,
		Person:     normalizePerson(raw["person"], label),
	}
}

// Merge combines the first-pass result with a richer follow-up
// response. Label and confidence from the richer document win when
// present; the person block is taken from the richer document only
// when it actually carries people, otherwise the fallback's stands.
func Merge(fallback types.ClassificationResult, richer map[string]any) types.ClassificationResult {
	merged := Normalize(richer)

	if merged.Label == types.Unknown {
		merged.Label = fallback.Label
	}
	if merged.Confidence == 0 {
		merged.Confidence = fallback.Confidence
	}
	if merged.Person.Count <= 0 && fallback.Person.Count > 0 {
		merged.Person = fallback.Person
	}

	return merged
}

// HasPersonDetails reports whether the raw document already carries any
// people analytics beyond a bare count. When it does not, a single
// richer follow-up request is warranted.
func HasPersonDetails(raw map[string]any) bool {
	person, ok := raw["person"].(map[string]any)
	if !ok {
		return false
	}
	if details, ok := person["details"].([]any); ok && len(details) > 0 {
		return true
	}
	for _, key := range []string{"description", "age_summary", "gender_summary", "role_summary"} {
		if coerceString(person[key]) != "" {
			return true
		}
	}
	return false
}

func normalizePerson(value any, label string) types.PersonSummary {
	// Stray analytics under a non-person label are upstream noise and
	// never surface downstream.
	if label != types.LabelPerson {
		return types.PersonSummary{Count: 0}
	}

	var (
		count         int
		description   string
		details       []types.PersonDetail
		ageSummary    string
		genderSummary string
		roleSummary   string
	)

	if person, ok := value.(map[string]any); ok {
		if c, ok := coerceInt(person["count"]); ok {
			count = c
		}
		description = coerceString(person["description"])
		details = parseDetails(person["details"])
		ageSummary = coerceString(person["age_summary"])
		genderSummary = coerceString(person["gender_summary"])
		roleSummary = coerceString(person["role_summary"])
	}

	// A person label with no usable count still means at least one
	// person is in frame.
	if count <= 0 {
		count = 1
	}

	if len(details) == 0 {
		details = make([]types.PersonDetail, count)
		for i := range details {
			details[i] = types.UnknownDetail()
		}
	}

	return types.PersonSummary{
		Count:         count,
		Description:   description,
		Details:       details,
		AgeSummary:    ageSummary,
		GenderSummary: genderSummary,
		RoleSummary:   roleSummary,
	}
}

func parseDetails(value any) []types.PersonDetail {
	items, ok := value.([]any)
	if !ok {
		return nil
	}

	details := make([]types.PersonDetail, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		details = append(details, types.PersonDetail{
			AgeGroup:   stringOrUnknown(record["age_group"]),
			Gender:     stringOrUnknown(record["gender"]),
			Appearance: stringOrUnknown(record["appearance"]),
			Role:       stringOrUnknown(record["role"]),
		})
	}
	return details
}

func stringOrUnknown(value any) string {
	if s := coerceString(value); s != "" {
		return s
	}
	return types.Unknown
}

func coerceString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func coerceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func coerceInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
