package heartbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// bridgeConfig holds mutable state during Bridge construction.
type bridgeConfig struct {
	sessionID        string
	formatting       FormattingOptions
	baseURL          string
	oscHost          string
	oscPort          int
	port             int
	livenessInterval time.Duration
	watchdogInterval time.Duration
	chatboxCooldown  time.Duration
	restartDelay     time.Duration
	readTimeout      time.Duration
	readTimeoutSet   bool
	logger           *slog.Logger
	eventCallbacks   []func(Event)
	registry         *prometheus.Registry
}

// Option is a function that configures a [Bridge] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*bridgeConfig) error

// WithSessionID sets the session to monitor as soon as [Bridge.Start] runs.
//
// Without it the bridge starts idle and waits for [Bridge.Connect] or a
// POST to /api/session.
//
// Returns an error if id is empty.
func WithSessionID(id string) Option {
	return func(cfg *bridgeConfig) error {
		if id == "" {
			return errors.New("session id cannot be empty")
		}
		cfg.sessionID = id
		return nil
	}
}

// WithFormatting sets the initial formatting options.
//
// Defaults to [DefaultFormatting].
func WithFormatting(f FormattingOptions) Option {
	return func(cfg *bridgeConfig) error {
		cfg.formatting = f
		return nil
	}
}

// WithBaseURL sets the widget site the session pages and socket live on.
//
// Defaults to https://app.hyperate.io. Plain http is accepted for local
// testing.
//
// Returns an error if the URL is not absolute http or https.
func WithBaseURL(raw string) Option {
	return func(cfg *bridgeConfig) error {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid base url: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("base url must be an absolute http or https url, got %q", raw)
		}
		cfg.baseURL = raw
		return nil
	}
}

// WithOSCTarget sets where OSC datagrams are sent.
//
// Defaults to localhost:9000.
//
// Returns an error if host is empty or port is outside 1-65535.
func WithOSCTarget(host string, port int) Option {
	return func(cfg *bridgeConfig) error {
		if host == "" {
			return errors.New("osc host cannot be empty")
		}
		if port < 1 || port > 65535 {
			return errors.New("osc port must be between 1 and 65535")
		}
		cfg.oscHost = host
		cfg.oscPort = port
		return nil
	}
}

// WithPort sets the HTTP port for the control API.
//
// The API is available at http://localhost:<port>/api/. Defaults to 8080.
// Port 0 disables the HTTP server; the bridge is then driven only through
// the Go API.
//
// Returns an error if the port is outside 0-65535.
func WithPort(port int) Option {
	return func(cfg *bridgeConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("port must be between 0 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLivenessInterval sets the delay between an acknowledgement from the
// provider and the next liveness message. Defaults to 30 seconds.
//
// Returns an error if the duration is zero or negative.
func WithLivenessInterval(d time.Duration) Option {
	return func(cfg *bridgeConfig) error {
		if d <= 0 {
			return errors.New("liveness interval must be positive")
		}
		cfg.livenessInterval = d
		return nil
	}
}

// WithWatchdogInterval sets how often a lost connection is retried.
// Defaults to 60 seconds.
//
// Returns an error if the duration is zero or negative.
func WithWatchdogInterval(d time.Duration) Option {
	return func(cfg *bridgeConfig) error {
		if d <= 0 {
			return errors.New("watchdog interval must be positive")
		}
		cfg.watchdogInterval = d
		return nil
	}
}

// WithChatboxCooldown sets the minimum spacing between chat box messages.
// Messages inside the window are dropped. Defaults to 3 seconds; zero
// disables the cooldown.
//
// Returns an error if the duration is negative.
func WithChatboxCooldown(d time.Duration) Option {
	return func(cfg *bridgeConfig) error {
		if d < 0 {
			return errors.New("chatbox cooldown cannot be negative")
		}
		cfg.chatboxCooldown = d
		return nil
	}
}

// WithRestartDelay sets how long [Bridge.Connect] waits between stopping an
// active session and starting the new one. Defaults to 3 seconds; zero
// restarts immediately.
//
// Returns an error if the duration is negative.
func WithRestartDelay(d time.Duration) Option {
	return func(cfg *bridgeConfig) error {
		if d < 0 {
			return errors.New("restart delay cannot be negative")
		}
		cfg.restartDelay = d
		return nil
	}
}

// WithReadTimeout sets how long an open channel may stay silent before it
// is treated as failed. Defaults to 90 seconds, or three liveness intervals
// when that is longer.
//
// The provider only speaks when answering a liveness message, so the
// timeout must exceed the liveness interval; [New] rejects it otherwise.
//
// Returns an error if the duration is zero or negative.
func WithReadTimeout(d time.Duration) Option {
	return func(cfg *bridgeConfig) error {
		if d <= 0 {
			return errors.New("read timeout must be positive")
		}
		cfg.readTimeout = d
		cfg.readTimeoutSet = true
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Bridge instance.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *bridgeConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithEventCallback registers a function called for every emitted [Event].
//
// Multiple callbacks may be registered; they execute in registration order,
// and events reach them in emission order.
//
// Callbacks are invoked synchronously from a single dispatcher goroutine
// that is decoupled from the session loop by an unbounded queue, so a
// callback may call [Bridge.Status], [Bridge.Disconnect] or
// [Bridge.UpdateFormatting]. A slow callback delays later callbacks and the
// /api/events stream, and the queue grows while it runs.
//
// Panics within callbacks are recovered and logged with a correlation id.
//
// Example:
//
//	b, err := heartbridge.New(
//	    heartbridge.WithSessionID("abc123"),
//	    heartbridge.WithEventCallback(func(ev heartbridge.Event) {
//	        if ev.Kind == heartbridge.EventHeartRate {
//	            fmt.Println(ev.HeartRate)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithEventCallback(cb func(Event)) Option {
	return func(cfg *bridgeConfig) error {
		if cb == nil {
			return nil
		}
		cfg.eventCallbacks = append(cfg.eventCallbacks, cb)
		return nil
	}
}

// WithRegistry sets the Prometheus registry metrics are registered with and
// served from at /metrics. Defaults to a fresh private registry.
//
// Returns an error if the registry is nil.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(cfg *bridgeConfig) error {
		if reg == nil {
			return errors.New("registry cannot be nil")
		}
		cfg.registry = reg
		return nil
	}
}
