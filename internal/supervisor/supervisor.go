package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jpalmerr/heartbridge/internal/heartrate"
	"github.com/jpalmerr/heartbridge/internal/hyperate"
	"github.com/jpalmerr/heartbridge/internal/metrics"
)

const (
	// DefaultLivenessInterval is the delay between an acknowledgement and
	// the next liveness message.
	DefaultLivenessInterval = 30 * time.Second

	// DefaultWatchdogInterval is the reconnect check period.
	DefaultWatchdogInterval = 60 * time.Second

	// DefaultRestartDelay separates stopping an active session from starting
	// its replacement.
	DefaultRestartDelay = 3 * time.Second

	// initialBeat is the first liveness reference on a fresh channel.
	initialBeat = 5

	eventBuffer = 64
)

var (
	// ErrNotRunning is returned by commands issued while Run is not active.
	ErrNotRunning = errors.New("supervisor is not running")

	// ErrEmptySessionID is returned by Start when no session id is given.
	ErrEmptySessionID = errors.New("session id is required")

	errAlreadyRunning = errors.New("supervisor is already running")
)

// Bootstrapper derives session tokens for one connect attempt.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, sessionID string) (hyperate.Tokens, error)
}

// Channel is an open realtime channel.
type Channel interface {
	Listen(id uint64, sink chan<- hyperate.ChannelEvent)
	Send(f hyperate.Frame) error
	Close() error
}

// Dialer opens a realtime channel and performs the join handshake.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, tokens hyperate.Tokens) (Channel, error)
}

// Publisher forwards rendered output downstream.
type Publisher interface {
	PublishChatbox(text string) (bool, error)
	PublishChannels(v heartrate.ChannelValues) error
}

// WrapDialer adapts a [hyperate.Dialer] to [Dialer].
func WrapDialer(d *hyperate.Dialer) Dialer {
	return hyperateDialer{d: d}
}

type hyperateDialer struct {
	d *hyperate.Dialer
}

func (h hyperateDialer) Dial(ctx context.Context, sessionID string, tokens hyperate.Tokens) (Channel, error) {
	ch, err := h.d.Dial(ctx, sessionID, tokens)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Config holds the collaborators and timings of a [Supervisor].
type Config struct {
	Bootstrapper Bootstrapper
	Dialer       Dialer
	Publisher    Publisher

	// LivenessInterval defaults to [DefaultLivenessInterval].
	LivenessInterval time.Duration

	// WatchdogInterval defaults to [DefaultWatchdogInterval].
	WatchdogInterval time.Duration

	// RestartDelay defaults to [DefaultRestartDelay]. A negative value
	// restarts immediately.
	RestartDelay time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now is the wall clock used for rendering and event timestamps.
	Now func() time.Time
}

// Supervisor coordinates bootstrap, channel, decoding and publishing for a
// single session. All exported methods are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	commands      chan command
	results       chan attemptResult
	channelEvents chan hyperate.ChannelEvent
	events        chan Event
	done          chan struct{}
	running       atomic.Bool

	// owned by the Run goroutine
	state         State
	conn          ConnState
	sessionID     string
	opts          heartrate.Options
	decoder       heartrate.Decoder
	lastBPM       int
	beat          int
	acked         bool
	channel       Channel
	channelID     uint64
	nextChannelID uint64
	inflight      bool
	attemptSeq    uint64
	pending       uint64
	liveness      *time.Timer
	watchdog      *time.Ticker
	restart       *time.Timer
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdSetOptions
	cmdStatus
)

type command struct {
	kind      commandKind
	sessionID string
	opts      heartrate.Options
	reply     chan commandReply
}

type commandReply struct {
	err    error
	status Status
}

type attemptResult struct {
	id        uint64
	sessionID string
	channel   Channel
	err       error
}

// New creates a Supervisor. Call [Supervisor.Run] to start its loop.
func New(cfg Config) *Supervisor {
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = DefaultLivenessInterval
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = DefaultWatchdogInterval
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		cfg:           cfg,
		logger:        logger,
		commands:      make(chan command),
		results:       make(chan attemptResult),
		channelEvents: make(chan hyperate.ChannelEvent),
		events:        make(chan Event, eventBuffer),
		done:          make(chan struct{}),
		opts:          heartrate.DefaultOptions(),
	}
}

// Events returns the outbound event stream. It is closed when Run returns.
// The loop blocks while the buffer is full, so it must be drained.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Start begins monitoring sessionID. A session that is already active is
// stopped first.
func (s *Supervisor) Start(sessionID string, opts heartrate.Options) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	_, err := s.do(command{kind: cmdStart, sessionID: sessionID, opts: opts})
	return err
}

// Stop ends the session. Stopping an idle supervisor is a no-op.
func (s *Supervisor) Stop() error {
	_, err := s.do(command{kind: cmdStop})
	return err
}

// SetOptions replaces the formatting options used for subsequent samples.
func (s *Supervisor) SetOptions(opts heartrate.Options) error {
	_, err := s.do(command{kind: cmdSetOptions, opts: opts})
	return err
}

// Status returns a snapshot of the supervisor state.
func (s *Supervisor) Status() (Status, error) {
	return s.do(command{kind: cmdStatus})
}

func (s *Supervisor) do(cmd command) (Status, error) {
	cmd.reply = make(chan commandReply, 1)
	select {
	case s.commands <- cmd:
	case <-s.done:
		return Status{}, ErrNotRunning
	}

	select {
	case r := <-cmd.reply:
		return r.status, r.err
	case <-s.done:
		return Status{}, ErrNotRunning
	}
}

// Run executes the event loop until ctx is cancelled. It may be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(s.events)
	defer close(s.done)
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd := <-s.commands:
			cmd.reply <- s.handleCommand(ctx, cmd)

		case res := <-s.results:
			s.handleAttempt(ctx, res)

		case ev := <-s.channelEvents:
			s.handleChannelEvent(ctx, ev)

		case <-timerC(s.liveness):
			s.liveness = nil
			s.handleLiveness(ctx)

		case <-tickerC(s.watchdog):
			s.handleWatchdog(ctx)

		case <-timerC(s.restart):
			s.restart = nil
			s.begin(ctx, s.sessionID, s.opts)
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (s *Supervisor) handleCommand(ctx context.Context, cmd command) commandReply {
	switch cmd.kind {
	case cmdStart:
		if s.state == StateIdle {
			s.begin(ctx, cmd.sessionID, cmd.opts)
			break
		}
		s.stop(ctx)
		s.scheduleRestart(ctx, cmd.sessionID, cmd.opts)
	case cmdStop:
		if s.state != StateIdle {
			s.stop(ctx)
		}
	case cmdSetOptions:
		s.opts = cmd.opts
		s.logger.Debug("formatting options replaced", "session_id", s.sessionID)
	case cmdStatus:
		return commandReply{status: s.snapshot()}
	}
	return commandReply{}
}

func (s *Supervisor) snapshot() Status {
	return Status{
		State:         s.state,
		Connection:    s.conn,
		SessionID:     s.sessionID,
		Beat:          s.beat,
		LastHeartRate: s.lastBPM,
		Options:       s.opts,
	}
}

func (s *Supervisor) begin(ctx context.Context, sessionID string, opts heartrate.Options) {
	s.sessionID = sessionID
	s.opts = opts
	s.state = StateStarting
	s.watchdog = time.NewTicker(s.cfg.WatchdogInterval)

	s.logger.Info("session starting", "session_id", sessionID)
	s.launchAttempt(ctx)
}

// scheduleRestart starts sessionID once the restart delay has elapsed. The
// session reads as starting in the meantime.
func (s *Supervisor) scheduleRestart(ctx context.Context, sessionID string, opts heartrate.Options) {
	if s.cfg.RestartDelay < 0 {
		s.begin(ctx, sessionID, opts)
		return
	}
	s.sessionID = sessionID
	s.opts = opts
	s.state = StateStarting
	s.restart = time.NewTimer(s.cfg.RestartDelay)
	s.logger.Info("session restarting", "session_id", sessionID, "delay", s.cfg.RestartDelay)
}

// stop returns the session to idle. An attempt still in flight runs to
// completion and its result is discarded.
func (s *Supervisor) stop(ctx context.Context) {
	if s.restart != nil {
		// the previous session already reported monitor-stopped
		s.restart.Stop()
		s.restart = nil
		s.state = StateIdle
		s.logger.Info("pending restart cancelled", "session_id", s.sessionID)
		return
	}

	s.pending = 0
	s.inflight = false

	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.dropChannel()

	s.state = StateIdle
	s.logger.Info("session stopped", "session_id", s.sessionID)
	s.emit(ctx, Event{Kind: EventStopped})
}

// shutdown releases resources when the loop exits. No events are emitted.
func (s *Supervisor) shutdown() {
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.dropChannel()
	s.state = StateIdle
}

// dropChannel closes the adopted channel, if any, and cancels liveness.
func (s *Supervisor) dropChannel() {
	s.stopLiveness()
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.logger.Debug("channel close failed", "session_id", s.sessionID, "error", err)
		}
		s.channel = nil
	}
	s.channelID = 0
	s.acked = false
	s.conn = Disconnected
	s.cfg.Metrics.SetConnected(false)
}

func (s *Supervisor) launchAttempt(ctx context.Context) {
	if s.inflight {
		return
	}
	s.inflight = true
	s.attemptSeq++
	s.pending = s.attemptSeq
	s.conn = Connecting

	res := attemptResult{id: s.attemptSeq, sessionID: s.sessionID}
	s.logger.Debug("connect attempt", "session_id", res.sessionID, "attempt", res.id)

	// attempts outlive Stop; only the loop context aborts them
	go func() {
		tokens, err := s.cfg.Bootstrapper.Bootstrap(ctx, res.sessionID)
		if err == nil {
			res.channel, err = s.cfg.Dialer.Dial(ctx, res.sessionID, tokens)
		}
		res.err = err

		select {
		case s.results <- res:
		case <-s.done:
			if res.channel != nil {
				_ = res.channel.Close()
			}
		}
	}()
}

func (s *Supervisor) handleAttempt(ctx context.Context, res attemptResult) {
	if res.id != s.pending {
		if res.channel != nil {
			_ = res.channel.Close()
		}
		s.cfg.Metrics.ConnectAttempt("discarded")
		s.logger.Debug("discarding stale connect attempt", "session_id", res.sessionID, "attempt", res.id)
		return
	}
	s.pending = 0
	s.inflight = false

	if res.err != nil {
		s.cfg.Metrics.ConnectAttempt(attemptFailure(res.err))
		s.conn = Disconnected
		s.state = StateRecovering
		s.logger.Warn("connect attempt failed", "session_id", s.sessionID, "attempt", res.id, "error", res.err)
		s.emit(ctx, Event{Kind: EventError, Message: res.err.Error()})
		return
	}

	s.cfg.Metrics.ConnectAttempt("success")
	s.cfg.Metrics.SetConnected(true)

	s.nextChannelID++
	s.channel = res.channel
	s.channelID = s.nextChannelID
	s.conn = Connected
	s.state = StateLive
	s.beat = initialBeat
	s.acked = false

	s.logger.Info("channel connected", "session_id", s.sessionID, "attempt", res.id)
	s.emit(ctx, Event{Kind: EventConnected})

	s.armLiveness()
	s.channel.Listen(s.channelID, s.channelEvents)
}

func attemptFailure(err error) string {
	var be *hyperate.BootstrapError
	if errors.As(err, &be) {
		return "bootstrap_error"
	}
	return "channel_error"
}

func (s *Supervisor) handleChannelEvent(ctx context.Context, ev hyperate.ChannelEvent) {
	if s.channel == nil || ev.ChannelID != s.channelID {
		return
	}

	switch ev.Kind {
	case hyperate.ChannelFrame:
		s.handleFrame(ctx, ev.Frame)

	case hyperate.ChannelErrored:
		s.lose()
		msg := "channel error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		s.logger.Warn("channel errored", "session_id", s.sessionID, "error", ev.Err)
		s.emit(ctx, Event{Kind: EventError, Message: msg})
		s.emit(ctx, Event{Kind: EventStopped})

	case hyperate.ChannelClosed:
		s.lose()
		s.logger.Info("channel closed by peer", "session_id", s.sessionID)
		s.emit(ctx, Event{Kind: EventStopped})
	}
}

// lose tears down a dead channel and leaves recovery to the watchdog.
func (s *Supervisor) lose() {
	s.dropChannel()
	s.state = StateRecovering
}

func (s *Supervisor) handleFrame(ctx context.Context, f hyperate.Frame) {
	switch f.Event {
	case hyperate.EventReply:
		s.acked = true
		s.armLiveness()
	case hyperate.EventDiff:
		for _, bpm := range f.HeartRates() {
			s.handleSample(ctx, bpm)
		}
	}
}

func (s *Supervisor) handleSample(ctx context.Context, bpm int) {
	sample, ok := s.decoder.Accept(bpm)
	if !ok {
		s.cfg.Metrics.SampleDiscarded()
		return
	}
	s.cfg.Metrics.SampleAccepted(bpm)
	s.lastBPM = bpm

	now := s.cfg.Now()
	text := heartrate.RenderText(s.opts, sample, now)

	if s.cfg.Publisher != nil {
		if _, err := s.cfg.Publisher.PublishChatbox(text); err != nil {
			s.logger.Warn("chatbox publish failed", "session_id", s.sessionID, "error", err)
		}
		if s.opts.ChannelOutputEnabled {
			if err := s.cfg.Publisher.PublishChannels(heartrate.RenderChannels(bpm)); err != nil {
				s.logger.Warn("channel publish failed", "session_id", s.sessionID, "error", err)
			}
		}
	}

	s.logger.Debug("heart rate", "session_id", s.sessionID, "bpm", bpm, "trend", sample.Trend.String())
	s.emit(ctx, Event{Kind: EventHeartRate, HeartRate: bpm, Trend: sample.Trend, Text: text})
}

func (s *Supervisor) armLiveness() {
	s.stopLiveness()
	s.liveness = time.NewTimer(s.cfg.LivenessInterval)
}

func (s *Supervisor) stopLiveness() {
	if s.liveness != nil {
		s.liveness.Stop()
		s.liveness = nil
	}
}

func (s *Supervisor) handleLiveness(ctx context.Context) {
	if s.channel == nil {
		s.emit(ctx, Event{Kind: EventError, Message: "liveness message due without an open channel"})
		return
	}

	if !s.acked {
		s.lose()
		s.logger.Warn("join not acknowledged", "session_id", s.sessionID)
		s.emit(ctx, Event{Kind: EventError, Message: "join not acknowledged"})
		s.emit(ctx, Event{Kind: EventStopped})
		return
	}

	beat := s.beat
	if err := s.channel.Send(hyperate.HeartbeatFrame(beat)); err != nil {
		s.lose()
		s.logger.Warn("liveness send failed", "session_id", s.sessionID, "error", err)
		s.emit(ctx, Event{Kind: EventError, Message: fmt.Sprintf("send liveness message: %v", err)})
		s.emit(ctx, Event{Kind: EventStopped})
		return
	}
	s.beat++
	s.cfg.Metrics.LivenessSent()
	s.emit(ctx, Event{Kind: EventHeartbeatSent, Beat: beat})
}

func (s *Supervisor) handleWatchdog(ctx context.Context) {
	if s.state == StateIdle || s.conn == Connected || s.inflight {
		return
	}
	s.logger.Info("watchdog reconnecting", "session_id", s.sessionID)
	s.launchAttempt(ctx)
}

func (s *Supervisor) emit(ctx context.Context, ev Event) {
	ev.SessionID = s.sessionID
	ev.At = s.cfg.Now()
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
