package hyperate

import "fmt"

// BootstrapError reports that session tokens could not be derived from the
// widget page. It is never retried by the bootstrapper itself.
type BootstrapError struct {
	// SessionID is the monitor identifier that was requested.
	SessionID string

	// Reason is a short description such as "no csrf token".
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *BootstrapError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bootstrap %q: %s: %v", e.SessionID, e.Reason, e.Err)
	}
	return fmt.Sprintf("bootstrap %q: %s", e.SessionID, e.Reason)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

// ChannelError reports a transport-level failure of the realtime channel.
type ChannelError struct {
	// Op is the failed operation: "dial", "read", "write" or "handshake".
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
