package supervisor

import (
	"time"

	"github.com/jpalmerr/heartbridge/internal/heartrate"
)

// State is the supervisor lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateLive
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateLive:
		return "live"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// ConnState is the state of the realtime channel.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (c ConnState) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// EventKind identifies an outbound [Event].
type EventKind int

const (
	// EventConnected is emitted when a channel is opened and adopted.
	EventConnected EventKind = iota

	// EventStopped is emitted when the channel goes away, either because
	// the peer closed it, it failed, or Stop was called.
	EventStopped

	// EventError carries a human-readable failure in Message.
	EventError

	// EventHeartbeatSent is emitted after each liveness message.
	EventHeartbeatSent

	// EventHeartRate carries an accepted sample.
	EventHeartRate
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "monitor-connected"
	case EventStopped:
		return "monitor-stopped"
	case EventError:
		return "monitor-error"
	case EventHeartbeatSent:
		return "heartbeat-sent"
	case EventHeartRate:
		return "heartrate-update"
	default:
		return "unknown"
	}
}

// Event is a status or data notification for the presentation layer.
type Event struct {
	Kind      EventKind
	SessionID string
	At        time.Time

	// Message is set for EventError.
	Message string

	// HeartRate, Trend and Text are set for EventHeartRate.
	HeartRate int
	Trend     heartrate.Trend
	Text      string

	// Beat is the liveness reference sent, set for EventHeartbeatSent.
	Beat int
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State         State
	Connection    ConnState
	SessionID     string
	Beat          int
	LastHeartRate int
	Options       heartrate.Options
}
