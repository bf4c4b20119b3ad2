package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/heartbridge/internal/heartrate"
	"github.com/jpalmerr/heartbridge/internal/store"
	"github.com/jpalmerr/heartbridge/internal/supervisor"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	// maxBodyBytes bounds control request bodies.
	maxBodyBytes = 64 << 10
)

// Controller drives the monitoring session.
type Controller interface {
	Connect(sessionID string, opts heartrate.Options) error
	Disconnect() error
	UpdateFormatting(opts heartrate.Options) error
	Status() (supervisor.Status, error)
}

// Server handles HTTP requests for the control API.
//
// Server provides these endpoints:
//   - GET /api/status: Supervisor state plus the latest event snapshot
//   - GET /api/events: Server-Sent Events stream of monitor events
//   - POST /api/session: Start monitoring a session
//   - DELETE /api/session: Stop monitoring
//   - PUT /api/formatting: Update formatting options, omitted fields are kept
//   - GET /metrics: Prometheus metrics (when a gatherer is configured)
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      store.Store
	ctrl       Controller
	gatherer   prometheus.Gatherer
	port       int
	httpServer *http.Server
	addr       net.Addr
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Store providing the event snapshot and subscriptions
//   - ctrl: Session controller
//   - gatherer: Metrics source for /metrics (may be nil)
//   - port: TCP port to listen on (0 picks a free port)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, ctrl Controller, gatherer prometheus.Gatherer, port int, logger *slog.Logger) *Server {
	return &Server{
		store:    st,
		ctrl:     ctrl,
		gatherer: gatherer,
		port:     port,
		logger:   logger,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/events", s.handleSSE)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/formatting", s.handleFormatting)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}
	s.addr = ln.Addr()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so SSE handlers end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Formatting is the JSON shape of formatting options.
type Formatting struct {
	ShowTrendArrow bool   `json:"show_trend_arrow"`
	Use24HourClock bool   `json:"use_24_hour_clock"`
	TextTemplate   string `json:"text_template"`
	ChannelOutput  bool   `json:"channel_output"`
}

func formattingFrom(o heartrate.Options) Formatting {
	return Formatting{
		ShowTrendArrow: o.ShowTrendArrow,
		Use24HourClock: o.Use24HourClock,
		TextTemplate:   o.TextTemplate,
		ChannelOutput:  o.ChannelOutputEnabled,
	}
}

// FormattingUpdate is a partial [Formatting]. Omitted fields keep their
// current values; an empty text_template selects the default template.
type FormattingUpdate struct {
	ShowTrendArrow *bool   `json:"show_trend_arrow,omitempty"`
	Use24HourClock *bool   `json:"use_24_hour_clock,omitempty"`
	TextTemplate   *string `json:"text_template,omitempty"`
	ChannelOutput  *bool   `json:"channel_output,omitempty"`
}

func (u FormattingUpdate) apply(o heartrate.Options) heartrate.Options {
	if u.ShowTrendArrow != nil {
		o.ShowTrendArrow = *u.ShowTrendArrow
	}
	if u.Use24HourClock != nil {
		o.Use24HourClock = *u.Use24HourClock
	}
	if u.TextTemplate != nil {
		o.TextTemplate = *u.TextTemplate
	}
	if u.ChannelOutput != nil {
		o.ChannelOutputEnabled = *u.ChannelOutput
	}
	if o.TextTemplate == "" {
		o.TextTemplate = heartrate.DefaultTemplate
	}
	return o
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	State         string         `json:"state"`
	Connection    string         `json:"connection"`
	SessionID     string         `json:"session_id"`
	Beat          int            `json:"beat"`
	LastHeartRate int            `json:"last_heart_rate"`
	Formatting    Formatting     `json:"formatting"`
	Latest        store.Snapshot `json:"latest"`
}

// SessionRequest is the body of POST /api/session. Formatting is merged onto
// the current options; a nil Formatting keeps them as they are.
type SessionRequest struct {
	SessionID  string            `json:"session_id"`
	Formatting *FormattingUpdate `json:"formatting,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, err := s.ctrl.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, StatusResponse{
		State:         st.State.String(),
		Connection:    st.Connection.String(),
		SessionID:     st.SessionID,
		Beat:          st.Beat,
		LastHeartRate: st.LastHeartRate,
		Formatting:    formattingFrom(st.Options),
		Latest:        s.store.Snapshot(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req SessionRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		st, err := s.ctrl.Status()
		if err != nil {
			s.writeError(w, err)
			return
		}
		opts := st.Options
		if req.Formatting != nil {
			opts = req.Formatting.apply(opts)
		}

		if err := s.ctrl.Connect(req.SessionID, opts); err != nil {
			s.writeError(w, err)
			return
		}
		s.logger.Info("session requested", "session_id", req.SessionID)
		w.WriteHeader(http.StatusAccepted)

	case http.MethodDelete:
		if err := s.ctrl.Disconnect(); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFormatting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var u FormattingUpdate
	if err := decodeBody(w, r, &u); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	// read-modify-write; a concurrent update between the two calls is lost
	st, err := s.ctrl.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ctrl.UpdateFormatting(u.apply(st.Options)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, supervisor.ErrEmptySessionID):
		code = http.StatusBadRequest
	case errors.Is(err, supervisor.ErrNotRunning):
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleSSE streams monitor events via Server-Sent Events.
//
// The first message is the current snapshot (event "snapshot"); each
// following message is one record named after its kind.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked write would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// not every ResponseWriter supports deadlines; warn once and carry on
	deadlinesSupported := true

	writeAndFlush := func(event string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			s.logger.Warn("failed to encode sse message", "event", event, "error", err)
			return nil
		}

		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before reading the snapshot so nothing falls in between
	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	if err := writeAndFlush("snapshot", s.store.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if err := writeAndFlush(rec.Kind, rec); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on client disconnect and, via BaseContext, on server shutdown
			return
		}
	}
}
