// Package discovery owns the MQTT topic layout and the Home Assistant
// discovery documents for each derived entity.
package discovery

import "strings"

// OperationSuffix extends a source status topic with the processing
// outcome channel.
const OperationSuffix = "operation"

// Topics is the per-deployment topic layout. Output and Status are
// prefixes completed per source; Input is a subscribe pattern with a
// single-level wildcard at the source position.
type Topics struct {
	Prefix string // application namespace, e.g. "yaic"
	Input  string // e.g. "yaic/input/+/image"
	Output string // e.g. "yaic/output"
	Status string // e.g. "yaic/status"
	Log    string // e.g. "yaic/log"
}

// Classification returns the canonical-result topic for a source.
func (t Topics) Classification(sourceID string) string {
	return strings.TrimSuffix(t.Output, "/") + "/" + sourceID + "/classification"
}

// StatusFor returns the retained liveness topic for a source.
func (t Topics) StatusFor(sourceID string) string {
	return strings.TrimSuffix(t.Status, "/") + "/" + sourceID
}

// Operation returns the per-source processing-outcome topic.
func (t Topics) Operation(sourceID string) string {
	return t.StatusFor(sourceID) + "/" + OperationSuffix
}

// StatusPattern returns the wildcard subscription covering all source
// status topics.
func (t Topics) StatusPattern() string {
	return strings.TrimSuffix(t.Status, "/") + "/+"
}

// Image returns the retained last-image topic for a source.
func (t Topics) Image(sourceID string) string {
	return t.Prefix + "/image/" + sourceID + "/last"
}

// Event returns the event-stream topic for a source.
func (t Topics) Event(sourceID string) string {
	return t.Prefix + "/event/" + sourceID
}

// ParseInput extracts the source id from a concrete input topic by
// matching it against the Input pattern's wildcard position.
func (t Topics) ParseInput(topic string) (string, bool) {
	return matchWildcard(t.Input, topic)
}

// ParseStatus extracts the source id from a status topic. Topics below
// the source level (such as the operation channel) do not match.
func (t Topics) ParseStatus(topic string) (string, bool) {
	return matchWildcard(t.StatusPattern(), topic)
}

// matchWildcard matches a topic against a pattern containing exactly
// one single-level "+" wildcard and returns the captured segment.
func matchWildcard(pattern, topic string) (string, bool) {
	want := strings.Split(pattern, "/")
	got := strings.Split(topic, "/")
	if len(want) != len(got) {
		return "", false
	}

	captured := ""
	for i := range want {
		switch {
		case want[i] == "+":
			captured = got[i]
		case want[i] != got[i]:
			return "", false
		}
	}

	captured = strings.TrimSpace(captured)
	if captured == "" || captured == "+" {
		return "", false
	}
	return captured, true
}
