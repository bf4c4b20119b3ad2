package hyperate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	socketPath = "/live/websocket"

	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second

	// DefaultReadTimeout bounds the silence tolerated on an open channel.
	// The server acknowledges a liveness message every 30 seconds, so a
	// healthy channel never gets close to it.
	DefaultReadTimeout = 90 * time.Second
)

// ChannelEventKind discriminates [ChannelEvent] values.
type ChannelEventKind int

const (
	// ChannelFrame carries an inbound frame.
	ChannelFrame ChannelEventKind = iota

	// ChannelErrored reports a transport failure; the channel is dead.
	ChannelErrored

	// ChannelClosed reports an orderly close by the peer; the channel is dead.
	ChannelClosed
)

func (k ChannelEventKind) String() string {
	switch k {
	case ChannelFrame:
		return "frame"
	case ChannelErrored:
		return "errored"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelEvent is an observable transition of a [Channel].
type ChannelEvent struct {
	// ChannelID is the id passed to [Channel.Listen], so consumers can
	// ignore events from channels they have already abandoned.
	ChannelID uint64
	Kind      ChannelEventKind
	Frame     Frame
	Err       error
}

// Dialer opens realtime channels against the provider.
type Dialer struct {
	baseURL     string
	readTimeout time.Duration
	logger      *slog.Logger
	ws          *websocket.Dialer
}

// NewDialer creates a [Dialer]. An empty baseURL selects [DefaultBaseURL];
// a non-positive readTimeout selects [DefaultReadTimeout].
func NewDialer(baseURL string, readTimeout time.Duration, logger *slog.Logger) *Dialer {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		baseURL:     strings.TrimRight(baseURL, "/"),
		readTimeout: readTimeout,
		logger:      logger,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
}

// SocketURL derives the LiveView socket URL from the widget base URL.
// https maps to wss and http maps to ws.
func SocketURL(baseURL, csrfToken string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("base url scheme must be http or https, got %q", u.Scheme)
	}

	u.Path = socketPath
	q := url.Values{}
	q.Set("_csrf_token", csrfToken)
	q.Set("_mounts", "0")
	q.Set("vsn", "2.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens the channel and sends the join frame for sessionID.
//
// The returned channel is not read from until [Channel.Listen] is called,
// so no frame can be lost between Dial returning and the caller being ready.
func (d *Dialer) Dial(ctx context.Context, sessionID string, tokens Tokens) (*Channel, error) {
	socketURL, err := SocketURL(d.baseURL, tokens.CSRFToken)
	if err != nil {
		return nil, &ChannelError{Op: "dial", Err: err}
	}

	header := http.Header{}
	header.Set("Cookie", tokens.SessionCookie)

	conn, resp, err := d.ws.DialContext(ctx, socketURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &ChannelError{Op: "dial", Err: fmt.Errorf("status %d: %w", resp.StatusCode, err)}
		}
		return nil, &ChannelError{Op: "dial", Err: err}
	}

	ch := &Channel{
		conn:         conn,
		readTimeout:  d.readTimeout,
		writeTimeout: defaultWriteTimeout,
		logger:       d.logger,
		done:         make(chan struct{}),
	}

	join, err := JoinFrame(tokens, PageURL(d.baseURL, sessionID))
	if err != nil {
		_ = ch.Close()
		return nil, &ChannelError{Op: "handshake", Err: err}
	}
	if err := ch.Send(join); err != nil {
		_ = ch.Close()
		return nil, &ChannelError{Op: "handshake", Err: err}
	}

	d.logger.Debug("channel opened", "session_id", sessionID, "topic", join.Topic)
	return ch, nil
}

// Channel is an open LiveView WebSocket.
//
// Send and Close may be called from any goroutine. Inbound traffic is
// delivered by a single reader goroutine started with [Channel.Listen], so
// frames reach the sink strictly in arrival order.
type Channel struct {
	conn         *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Listen starts the reader goroutine. Events are tagged with id and sent to
// sink until the channel dies or is closed. After [Channel.Close] no further
// events are delivered.
func (c *Channel) Listen(id uint64, sink chan<- ChannelEvent) {
	go c.readLoop(id, sink)
}

func (c *Channel) readLoop(id uint64, sink chan<- ChannelEvent) {
	deliver := func(ev ChannelEvent) bool {
		ev.ChannelID = id
		select {
		case sink <- ev:
			return true
		case <-c.done:
			return false
		}
	}

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			deliver(ChannelEvent{Kind: ChannelErrored, Err: &ChannelError{Op: "read", Err: err}})
			return
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				deliver(ChannelEvent{Kind: ChannelClosed})
				return
			}
			deliver(ChannelEvent{Kind: ChannelErrored, Err: &ChannelError{Op: "read", Err: err}})
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			c.logger.Debug("ignoring undecodable frame", "error", err, "size", len(data))
			continue
		}
		if !deliver(ChannelEvent{Kind: ChannelFrame, Frame: frame}) {
			return
		}
	}
}

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("channel closed")

// Send writes one frame.
func (c *Channel) Send(f Frame) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	data, err := json.Marshal(f)
	if err != nil {
		return &ChannelError{Op: "write", Err: err}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return &ChannelError{Op: "write", Err: err}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ChannelError{Op: "write", Err: err}
	}
	return nil
}

// Close sends a close message and tears down the connection.
// Safe to call multiple times.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		if werr := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		); werr != nil {
			c.logger.Debug("failed to send close message", "error", werr)
		}
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
