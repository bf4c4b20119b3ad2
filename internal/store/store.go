package store

import "time"

// Record is one monitor event in storage.
//
// Record is the storage representation of a supervisor event, shaped for
// JSON serialization (used by the REST API and SSE). It is decoupled from
// the supervisor's types so the wire format can evolve independently.
type Record struct {
	// Kind is the event name (e.g., "monitor-connected", "heartrate-update").
	Kind string `json:"kind"`

	// SessionID identifies the monitored session.
	SessionID string `json:"session_id"`

	// At is when the event was emitted.
	At time.Time `json:"at"`

	// Message is the failure description for "monitor-error".
	Message string `json:"message,omitempty"`

	// HeartRate, Trend and Text describe a "heartrate-update".
	HeartRate int    `json:"heart_rate,omitempty"`
	Trend     string `json:"trend,omitempty"`
	Text      string `json:"text,omitempty"`

	// Beat is the liveness reference of a "heartbeat-sent".
	Beat int `json:"beat,omitempty"`
}

// Event kinds understood by [Snapshot] folding.
const (
	KindConnected     = "monitor-connected"
	KindStopped       = "monitor-stopped"
	KindError         = "monitor-error"
	KindHeartbeatSent = "heartbeat-sent"
	KindHeartRate     = "heartrate-update"
)

// Snapshot is the latest known monitor state, folded from applied records.
type Snapshot struct {
	SessionID      string    `json:"session_id"`
	Connected      bool      `json:"connected"`
	HeartRate      int       `json:"heart_rate"`
	Trend          string    `json:"trend"`
	Text           string    `json:"text"`
	HeartbeatsSent int       `json:"heartbeats_sent"`
	LastError      *string   `json:"last_error"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store defines the interface for storing and subscribing to monitor events.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism allows real-time updates to be pushed to connected clients
// (e.g., via Server-Sent Events).
type Store interface {
	// Apply folds a record into the snapshot and notifies all subscribers.
	Apply(rec Record)

	// Snapshot returns the current state.
	Snapshot() Snapshot

	// Subscribe returns a channel that receives applied records.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Record

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Record)
}
