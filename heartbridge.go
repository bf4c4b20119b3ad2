package heartbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/heartbridge/internal/heartrate"
	"github.com/jpalmerr/heartbridge/internal/hyperate"
	"github.com/jpalmerr/heartbridge/internal/metrics"
	"github.com/jpalmerr/heartbridge/internal/publisher"
	"github.com/jpalmerr/heartbridge/internal/server"
	"github.com/jpalmerr/heartbridge/internal/store"
	"github.com/jpalmerr/heartbridge/internal/supervisor"
)

const (
	defaultPort = 8080

	// readTimeoutLivenessFactor sizes the default read timeout so that two
	// unanswered liveness messages are tolerated before the channel fails.
	readTimeoutLivenessFactor = 3
)

// ErrNotStarted is returned by session controls called outside [Bridge.Start].
var ErrNotStarted = errors.New("bridge is not started")

// Bridge is the main orchestrator: it monitors one heart-rate session and
// republishes samples as OSC datagrams.
//
// Bridge wires the session supervisor to the OSC publisher, keeps the latest
// state for the control API, and fans events out to registered callbacks.
// It is created using [New] with functional options and run with
// [Bridge.Start].
//
// The typical lifecycle is:
//
//	b, err := heartbridge.New(heartbridge.WithSessionID("abc123"))
//	if err != nil {
//	    slog.Error("failed to create bridge", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	b.Start(ctx) // blocks until context cancelled
//
// While Start runs, [Bridge.Connect], [Bridge.Disconnect] and
// [Bridge.UpdateFormatting] control the session from any goroutine.
type Bridge struct {
	sessionID        string
	baseURL          string
	oscHost          string
	oscPort          int
	port             int
	livenessInterval time.Duration
	watchdogInterval time.Duration
	chatboxCooldown  time.Duration
	restartDelay     time.Duration
	readTimeout      time.Duration
	logger           *slog.Logger
	eventCallbacks   []func(Event)
	registry         *prometheus.Registry
	metrics          *metrics.Metrics

	mu         sync.Mutex
	formatting FormattingOptions
	sup        *supervisor.Supervisor
}

// New creates a new [Bridge] instance with the given options.
//
// Defaults:
//   - Base URL: https://app.hyperate.io
//   - OSC target: localhost:9000
//   - Control API port: 8080
//   - Liveness interval: 30 seconds
//   - Watchdog interval: 60 seconds
//   - Chat box cooldown: 3 seconds
//   - Restart delay: 3 seconds
//   - Read timeout: 90 seconds, or three liveness intervals if longer
//
// Returns an error if any option is invalid.
func New(opts ...Option) (*Bridge, error) {
	cfg := &bridgeConfig{
		formatting:       DefaultFormatting(),
		baseURL:          hyperate.DefaultBaseURL,
		oscHost:          publisher.DefaultHost,
		oscPort:          publisher.DefaultPort,
		port:             defaultPort,
		livenessInterval: supervisor.DefaultLivenessInterval,
		watchdogInterval: supervisor.DefaultWatchdogInterval,
		chatboxCooldown:  publisher.DefaultCooldown,
		restartDelay:     supervisor.DefaultRestartDelay,
		readTimeout:      hyperate.DefaultReadTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if !cfg.readTimeoutSet {
		cfg.readTimeout = max(cfg.readTimeout, readTimeoutLivenessFactor*cfg.livenessInterval)
	}
	if cfg.readTimeout <= cfg.livenessInterval {
		return nil, fmt.Errorf("read timeout (%s) must exceed the liveness interval (%s)",
			cfg.readTimeout, cfg.livenessInterval)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	return &Bridge{
		sessionID:        cfg.sessionID,
		formatting:       cfg.formatting,
		baseURL:          cfg.baseURL,
		oscHost:          cfg.oscHost,
		oscPort:          cfg.oscPort,
		port:             cfg.port,
		livenessInterval: cfg.livenessInterval,
		watchdogInterval: cfg.watchdogInterval,
		chatboxCooldown:  cfg.chatboxCooldown,
		restartDelay:     cfg.restartDelay,
		readTimeout:      cfg.readTimeout,
		logger:           logger,
		eventCallbacks:   cfg.eventCallbacks,
		registry:         registry,
		metrics:          metrics.New(registry),
	}, nil
}

// Start runs the bridge until ctx is cancelled.
//
// During execution:
//
//   - The session configured with [WithSessionID], if any, is connected
//   - Lost connections are retried on the watchdog interval
//   - Samples are published to the OSC target
//   - The control API is served on the configured port (unless 0)
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server
// fails to start or the bridge is already running.
func (b *Bridge) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	boot := hyperate.NewBootstrapper(b.baseURL, b.logger)
	defer boot.Close()

	pub := publisher.NewUDP(b.oscHost, b.oscPort, b.chatboxCooldown,
		publisher.WithLogger(b.logger),
		publisher.WithMetrics(b.metrics),
	)

	restartDelay := b.restartDelay
	if restartDelay == 0 {
		// the supervisor reads zero as "use the default"
		restartDelay = -1
	}

	sup := supervisor.New(supervisor.Config{
		Bootstrapper:     boot,
		Dialer:           supervisor.WrapDialer(hyperate.NewDialer(b.baseURL, b.readTimeout, b.logger)),
		Publisher:        pub,
		LivenessInterval: b.livenessInterval,
		WatchdogInterval: b.watchdogInterval,
		RestartDelay:     restartDelay,
		Logger:           b.logger,
		Metrics:          b.metrics,
	})

	b.mu.Lock()
	if b.sup != nil {
		b.mu.Unlock()
		return errors.New("bridge is already running")
	}
	b.sup = sup
	formatting := b.formatting
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.sup = nil
		b.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	eventStore := store.NewMemoryStore()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sup.Run(runCtx); err != nil && runCtx.Err() == nil {
			b.logger.Error("supervisor stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		b.dispatch(queueEvents(sup.Events()), eventStore)
	}()

	// cleanup stops the supervisor and waits until every event is dispatched
	cleanup := func() {
		cancel()
		wg.Wait()
	}

	if err := sup.SetOptions(formatting.internal()); err != nil {
		cleanup()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to apply formatting: %w", err)
	}

	if b.port > 0 {
		httpServer := server.NewServer(eventStore, controller{b: b}, b.registry, b.port, b.logger)
		if err := httpServer.Start(runCtx); err != nil {
			cleanup()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		b.logger.Info("control api available", "url", fmt.Sprintf("http://localhost:%d/api/status", b.port))
	}

	b.logger.Info("heartbridge starting",
		"base_url", b.baseURL,
		"osc_target", fmt.Sprintf("%s:%d", b.oscHost, b.oscPort),
	)

	if b.sessionID != "" {
		if err := sup.Start(b.sessionID, formatting.internal()); err != nil {
			cleanup()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to start session: %w", err)
		}
	}

	<-ctx.Done()
	cleanup()
	b.logger.Info("heartbridge stopped")
	return nil
}

// queueEvents drains in without ever blocking its sender and replays the
// events, in order, on the returned channel. Callbacks may therefore call
// back into the bridge while a backlog exists: the supervisor loop never
// waits on a slow callback. The returned channel closes once in is closed
// and every queued event was delivered.
func queueEvents(in <-chan supervisor.Event) <-chan supervisor.Event {
	out := make(chan supervisor.Event)
	go func() {
		defer close(out)

		var pending []supervisor.Event
		for in != nil || len(pending) > 0 {
			var send chan<- supervisor.Event
			var next supervisor.Event
			if len(pending) > 0 {
				send = out
				next = pending[0]
			}

			select {
			case ev, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				pending = append(pending, ev)
			case send <- next:
				pending[0] = supervisor.Event{}
				pending = pending[1:]
			}
		}
	}()
	return out
}

// dispatch forwards supervisor events to the store and then to callbacks,
// until the event stream closes.
func (b *Bridge) dispatch(events <-chan supervisor.Event, st store.Store) {
	for ev := range events {
		public := eventFromInternal(ev)

		// store first so callbacks observe the API state they were told about
		st.Apply(store.Record{
			Kind:      public.Kind.String(),
			SessionID: public.SessionID,
			At:        public.At,
			Message:   public.Message,
			HeartRate: public.HeartRate,
			Trend:     string(public.Trend),
			Text:      public.Text,
			Beat:      public.Beat,
		})

		for _, cb := range b.eventCallbacks {
			invokeCallbackSafe(cb, public, b.logger)
		}

		if ev.Kind == supervisor.EventError {
			b.logger.Warn("monitor error", "session_id", ev.SessionID, "message", ev.Message)
		}
	}
}

// Connect starts monitoring sessionID with the given formatting, replacing
// any active session.
//
// Returns [ErrNotStarted] outside [Bridge.Start].
func (b *Bridge) Connect(sessionID string, formatting FormattingOptions) error {
	sup := b.current()
	if sup == nil {
		return ErrNotStarted
	}
	if err := sup.Start(sessionID, formatting.internal()); err != nil {
		return err
	}

	b.mu.Lock()
	b.formatting = formatting
	b.mu.Unlock()
	return nil
}

// Disconnect stops the active session. It is a no-op when idle.
//
// Returns [ErrNotStarted] outside [Bridge.Start].
func (b *Bridge) Disconnect() error {
	sup := b.current()
	if sup == nil {
		return ErrNotStarted
	}
	return sup.Stop()
}

// UpdateFormatting replaces the formatting options. The connection is kept;
// the new options apply from the next sample.
//
// Outside [Bridge.Start] the options are stored and used by the next run.
func (b *Bridge) UpdateFormatting(formatting FormattingOptions) error {
	b.mu.Lock()
	b.formatting = formatting
	sup := b.sup
	b.mu.Unlock()

	if sup == nil {
		return nil
	}
	return sup.SetOptions(formatting.internal())
}

// Status returns a snapshot of the session.
//
// Returns [ErrNotStarted] outside [Bridge.Start].
func (b *Bridge) Status() (Status, error) {
	sup := b.current()
	if sup == nil {
		return Status{}, ErrNotStarted
	}
	st, err := sup.Status()
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:         State(st.State.String()),
		Connected:     st.Connection == supervisor.Connected,
		SessionID:     st.SessionID,
		Beat:          st.Beat,
		LastHeartRate: st.LastHeartRate,
		Formatting:    formattingFromInternal(st.Options),
	}, nil
}

// Formatting returns the current formatting options.
func (b *Bridge) Formatting() FormattingOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.formatting
}

// Port returns the configured HTTP port for the control API.
func (b *Bridge) Port() int {
	return b.port
}

// Registry returns the Prometheus registry holding the bridge metrics.
func (b *Bridge) Registry() *prometheus.Registry {
	return b.registry
}

func (b *Bridge) current() *supervisor.Supervisor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sup
}

// controller adapts the Bridge to the control API.
type controller struct {
	b *Bridge
}

func (c controller) Connect(sessionID string, opts heartrate.Options) error {
	return notRunning(c.b.Connect(sessionID, formattingFromInternal(opts)))
}

func (c controller) Disconnect() error {
	return notRunning(c.b.Disconnect())
}

func (c controller) UpdateFormatting(opts heartrate.Options) error {
	return notRunning(c.b.UpdateFormatting(formattingFromInternal(opts)))
}

func (c controller) Status() (supervisor.Status, error) {
	sup := c.b.current()
	if sup == nil {
		return supervisor.Status{}, supervisor.ErrNotRunning
	}
	return sup.Status()
}

// notRunning maps ErrNotStarted onto the error the control API reports as
// unavailable.
func notRunning(err error) error {
	if errors.Is(err, ErrNotStarted) {
		return supervisor.ErrNotRunning
	}
	return err
}

func eventFromInternal(ev supervisor.Event) Event {
	out := Event{
		Kind:      EventKind(ev.Kind.String()),
		SessionID: ev.SessionID,
		At:        ev.At,
		Message:   ev.Message,
		Beat:      ev.Beat,
	}
	if ev.Kind == supervisor.EventHeartRate {
		out.HeartRate = ev.HeartRate
		out.Trend = trendFromInternal(ev.Trend)
		out.Text = ev.Text
	}
	return out
}

// invokeCallbackSafe calls an event callback with panic recovery.
// Panics are logged with a correlation id and stack but do not propagate.
func invokeCallbackSafe(cb func(Event), ev Event, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event callback panicked",
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"event", ev.Kind.String(),
				"stack", string(debug.Stack()),
			)
		}
	}()
	cb(ev)
}
