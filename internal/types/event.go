package types

import "time"

// Event is one inbound classification request, transient for a single
// pipeline pass.
type Event struct {
	SourceID   string
	Device     string // optional, from the JSON envelope
	Image      []byte
	ReceivedAt time.Time
}
