package heartbridge

// State is the lifecycle state of the monitoring session.
//
// State is a string type so it serializes and logs in a human-readable way
// while the defined constants keep comparisons type safe.
type State string

const (
	// StateIdle means no session is active.
	StateIdle State = "idle"

	// StateStarting means the first connect attempt is in flight.
	StateStarting State = "starting"

	// StateLive means the realtime channel is open.
	StateLive State = "live"

	// StateRecovering means the channel is down and the watchdog will retry.
	StateRecovering State = "recovering"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Status is a point-in-time view of the bridge.
type Status struct {
	// State is the session lifecycle state.
	State State

	// Connected reports whether the realtime channel is open.
	Connected bool

	// SessionID is the monitored session, empty before the first Connect.
	SessionID string

	// Beat is the next liveness reference to be sent.
	Beat int

	// LastHeartRate is the most recent accepted sample, 0 if none.
	LastHeartRate int

	// Formatting is the options applied to new samples.
	Formatting FormattingOptions
}
