// Package publisher forwards rendered heart-rate output to a local OSC
// receiver over UDP.
//
// Chat box text is rate limited: once a message is sent, further messages
// inside the cooldown window are dropped (not queued, not coalesced).
// Avatar parameter updates are never rate limited.
package publisher

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/heartbridge/internal/heartrate"
	"github.com/jpalmerr/heartbridge/internal/metrics"
)

// OSC addresses understood by the receiver.
const (
	AddressChatbox   = "/chatbox/input"
	AddressEnabled   = "/avatar/parameters/VRCOSC/Heartrate/Enabled"
	AddressUnits     = "/avatar/parameters/VRCOSC/Heartrate/Units"
	AddressTens      = "/avatar/parameters/VRCOSC/Heartrate/Tens"
	AddressHundreds  = "/avatar/parameters/VRCOSC/Heartrate/Hundreds"
	DefaultHost      = "localhost"
	DefaultPort      = 9000
	DefaultCooldown  = 3 * time.Second
	kindChatbox      = "chatbox"
	kindParameter    = "parameter"
	resultSent       = "sent"
	resultDropped    = "dropped"
	resultSendFailed = "error"
)

// Sender transmits one OSC packet. *osc.Client satisfies it.
type Sender interface {
	Send(packet osc.Packet) error
}

// Publisher sends chat box messages and avatar parameters.
//
// Publisher is not safe for concurrent use; the supervisor calls it from its
// single event loop.
type Publisher struct {
	sender  Sender
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a [Publisher].
type Option func(*Publisher)

// WithClock overrides the time source used for the cooldown.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics records datagram outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a Publisher. A non-positive cooldown disables chat rate limiting.
func New(sender Sender, cooldown time.Duration, opts ...Option) *Publisher {
	limit := rate.Inf
	if cooldown > 0 {
		limit = rate.Every(cooldown)
	}

	p := &Publisher{
		sender:  sender,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewUDP creates a Publisher that sends to host:port.
func NewUDP(host string, port int, cooldown time.Duration, opts ...Option) *Publisher {
	return New(osc.NewClient(host, port), cooldown, opts...)
}

// PublishChatbox sends text to the chat box unless a message was sent within
// the cooldown window. It reports whether a datagram was sent.
func (p *Publisher) PublishChatbox(text string) (bool, error) {
	if !p.limiter.AllowN(p.now(), 1) {
		p.metrics.Datagram(kindChatbox, resultDropped)
		p.logger.Debug("chatbox message dropped during cooldown")
		return false, nil
	}

	// the trailing true sends immediately instead of opening the keyboard
	msg := osc.NewMessage(AddressChatbox, text, true)

	if err := p.sender.Send(msg); err != nil {
		p.metrics.Datagram(kindChatbox, resultSendFailed)
		return false, fmt.Errorf("send %s: %w", AddressChatbox, err)
	}
	p.metrics.Datagram(kindChatbox, resultSent)
	return true, nil
}

// PublishChannels sends the four avatar parameters for a heart rate.
func (p *Publisher) PublishChannels(v heartrate.ChannelValues) error {
	messages := []*osc.Message{
		osc.NewMessage(AddressEnabled, v.Enabled),
		osc.NewMessage(AddressUnits, v.Units),
		osc.NewMessage(AddressTens, v.Tens),
		osc.NewMessage(AddressHundreds, v.Hundreds),
	}

	for _, msg := range messages {
		if err := p.sender.Send(msg); err != nil {
			p.metrics.Datagram(kindParameter, resultSendFailed)
			return fmt.Errorf("send %s: %w", msg.Address, err)
		}
		p.metrics.Datagram(kindParameter, resultSent)
	}
	return nil
}
