// Package hyperatetest provides an in-process fake of the heart-rate
// provider: a widget page carrying LiveView tokens and a LiveView socket
// that acknowledges joins and liveness messages and can push heart rates.
//
// It backs the package tests and the example program.
package hyperatetest

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/jpalmerr/heartbridge/internal/hyperate"
)

// Values served by the fake widget page.
const (
	CSRFToken     = "csrf-test-token"
	SessionBlob   = "session-blob"
	StaticBlob    = "static-blob"
	RootElementID = "phx-F1a2b3"
	CookieName    = "_hyperate_key"
	CookieValue   = "cookie-value"
)

// SessionCookie is the name=value pair the socket expects.
const SessionCookie = CookieName + "=" + CookieValue

// Provider is a fake provider. Configure the exported fields before serving.
type Provider struct {
	// MissingCSRF omits the csrf-token meta tag.
	MissingCSRF bool

	// MissingRoot omits the data-phx-main container.
	MissingRoot bool

	// MissingCookie omits the Set-Cookie header.
	MissingCookie bool

	// PageStatus overrides the widget page status code when non-zero.
	PageStatus int

	// PageDelay delays every widget page response.
	PageDelay time.Duration

	silent    atomic.Bool
	pageHits  atomic.Int64
	dials     atomic.Int64
	upgrader  websocket.Upgrader
	received  chan hyperate.Frame
	mu        sync.Mutex
	conns     map[*conn]struct{}
	connected chan struct{}
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(f hyperate.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// NewProvider creates a Provider that acknowledges joins and liveness
// messages.
func NewProvider() *Provider {
	return &Provider{
		received:  make(chan hyperate.Frame, 256),
		conns:     make(map[*conn]struct{}),
		connected: make(chan struct{}, 64),
	}
}

// Handler serves the widget page at /<id> and the socket at /live/websocket.
func (p *Provider) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/live/websocket", p.handleSocket)
	mux.HandleFunc("/", p.handlePage)
	return mux
}

// SetSilent stops (true) or resumes (false) replies to client frames.
func (p *Provider) SetSilent(silent bool) {
	p.silent.Store(silent)
}

// PageHits returns how many widget pages were served.
func (p *Provider) PageHits() int {
	return int(p.pageHits.Load())
}

// Dials returns how many sockets were accepted.
func (p *Provider) Dials() int {
	return int(p.dials.Load())
}

// Received returns frames sent by clients, in arrival order.
func (p *Provider) Received() <-chan hyperate.Frame {
	return p.received
}

// Connected receives a value each time a socket is accepted.
func (p *Provider) Connected() <-chan struct{} {
	return p.connected
}

// OpenConnections returns the number of sockets currently open.
func (p *Provider) OpenConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// PushHeartRate sends a diff frame carrying bpm to every open socket.
func (p *Provider) PushHeartRate(bpm int) {
	p.Push(DiffFrame(bpm))
}

// Push sends an arbitrary frame to every open socket.
func (p *Provider) Push(f hyperate.Frame) {
	p.mu.Lock()
	conns := make([]*conn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.write(f)
	}
}

// CloseConnections closes every open socket with a normal close message.
func (p *Provider) CloseConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.conns {
		c.mu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.ws.Close()
		delete(p.conns, c)
	}
}

// DiffFrame builds a LiveView diff frame carrying a heart rate.
func DiffFrame(bpm int) hyperate.Frame {
	ref := "4"
	body := fmt.Sprintf(`{"e":[["new-heartbeat",{"heartbeat":%d}]]}`, bpm)
	return hyperate.Frame{
		JoinRef: &ref,
		Topic:   "lv:" + RootElementID,
		Event:   hyperate.EventDiff,
		Body:    json.RawMessage(body),
	}
}

func (p *Provider) handlePage(w http.ResponseWriter, r *http.Request) {
	p.pageHits.Add(1)
	if p.PageDelay > 0 {
		time.Sleep(p.PageDelay)
	}

	if !p.MissingCookie {
		http.SetCookie(w, &http.Cookie{Name: CookieName, Value: CookieValue, Path: "/", HttpOnly: true})
	}
	if p.PageStatus != 0 {
		w.WriteHeader(p.PageStatus)
		return
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>widget</title>")
	if !p.MissingCSRF {
		fmt.Fprintf(&b, `<meta name="csrf-token" content="%s">`, CSRFToken)
	}
	b.WriteString("</head><body>")
	if !p.MissingRoot {
		fmt.Fprintf(&b, `<div id="%s" data-phx-main data-phx-session="%s" data-phx-static="%s"></div>`,
			RootElementID, SessionBlob, StaticBlob)
	}
	b.WriteString("</body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func (p *Provider) handleSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("_csrf_token") != CSRFToken {
		http.Error(w, "bad csrf token", http.StatusForbidden)
		return
	}
	if cookie, err := r.Cookie(CookieName); err != nil || cookie.Value != CookieValue {
		http.Error(w, "missing session cookie", http.StatusForbidden)
		return
	}

	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}

	p.mu.Lock()
	p.conns[c] = struct{}{}
	p.mu.Unlock()
	p.dials.Add(1)

	select {
	case p.connected <- struct{}{}:
	default:
	}

	defer func() {
		p.mu.Lock()
		delete(p.conns, c)
		p.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := hyperate.DecodeFrame(data)
		if err != nil {
			continue
		}

		select {
		case p.received <- f:
		default:
		}

		if p.silent.Load() {
			continue
		}
		if f.Event == hyperate.EventJoin || f.Event == hyperate.EventHeartbeat {
			_ = c.write(hyperate.Frame{
				JoinRef:    f.JoinRef,
				MessageRef: f.MessageRef,
				Topic:      f.Topic,
				Event:      hyperate.EventReply,
				Body:       json.RawMessage(`{"status":"ok","response":{}}`),
			})
		}
	}
}
