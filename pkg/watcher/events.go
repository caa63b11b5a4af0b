package watcher

// EventType defines the type of event being broadcast.
type EventType string

const (
	// EventSnapshotUpdated carries a state.Snapshot taken after a poll cycle
	// that changed at least one field.
	EventSnapshotUpdated EventType = "snapshot_updated"
	// EventPollFailed carries a PollError for a single failed call.
	EventPollFailed EventType = "poll_failed"
)

// Event represents a monitoring event.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// PollError describes one failed status call.
type PollError struct {
	Call  string `json:"call"`
	Error string `json:"error"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event
