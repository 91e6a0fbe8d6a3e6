package types

import "encoding/json"

// Unknown is the sentinel value for any classifier field that could not
// be recovered from the upstream response.
const Unknown = "unknown"

// LabelPerson is the label that triggers people analytics.
const LabelPerson = "person"

// PersonDetail describes a single detected person. Every field defaults
// to Unknown independently; a missing field never invalidates the rest
// of the record.
type PersonDetail struct {
	AgeGroup   string `json:"age_group"`
	Gender     string `json:"gender"`
	Appearance string `json:"appearance"`
	Role       string `json:"role"`
}

// UnknownDetail returns a detail record with every field set to Unknown.
func UnknownDetail() PersonDetail {
	return PersonDetail{
		AgeGroup:   Unknown,
		Gender:     Unknown,
		Appearance: Unknown,
		Role:       Unknown,
	}
}

// PersonSummary aggregates per-person details for one classification.
type PersonSummary struct {
	Count         int
	Description   string
	Details       []PersonDetail
	AgeSummary    string
	GenderSummary string
	RoleSummary   string
}

// Payload renders the summary in its wire shape. When no people were
// detected the block collapses to a bare count so downstream consumers
// never see half-populated analytics.
func (p PersonSummary) Payload() map[string]any {
	payload := map[string]any{"count": p.Count}
	if p.Count <= 0 {
		return payload
	}

	details := make([]map[string]string, 0, len(p.Details))
	for _, d := range p.Details {
		details = append(details, map[string]string{
			"age_group":  d.AgeGroup,
			"gender":     d.Gender,
			"appearance": d.Appearance,
			"role":       d.Role,
		})
	}

	payload["description"] = orUnknown(p.Description)
	payload["details"] = details
	payload["age_summary"] = orUnknown(p.AgeSummary)
	payload["gender_summary"] = orUnknown(p.GenderSummary)
	payload["role_summary"] = orUnknown(p.RoleSummary)
	return payload
}

// ClassificationResult is the canonical, fully-defaulted output record.
// All three fields are always populated regardless of upstream quality.
type ClassificationResult struct {
	Label      string
	Confidence float64
	Person     PersonSummary
}

// Payload renders the result in its wire shape (without source routing
// fields, which the emitter attaches).
func (r ClassificationResult) Payload() map[string]any {
	return map[string]any{
		"label":      r.Label,
		"confidence": r.Confidence,
		"person":     r.Person.Payload(),
	}
}

// ToJSON marshals the canonical payload.
func (r ClassificationResult) ToJSON() ([]byte, error) {
	return json.Marshal(r.Payload())
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
