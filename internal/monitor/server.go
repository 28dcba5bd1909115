package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/tradebridge/internal/model"
	"github.com/rickgao/tradebridge/internal/status"
	"github.com/rickgao/tradebridge/internal/version"
)

// StateSource reports the connector lifecycle state.
type StateSource interface {
	State() model.ConnectorState
}

// StatusSource exposes the status sink.
type StatusSource interface {
	Snapshot() status.Snapshot
	Subscribe() (<-chan status.Event, func())
}

// Options configures a Server.
type Options struct {
	Address      string
	WriteTimeout time.Duration // Per websocket write
	PingInterval time.Duration // Websocket keepalive
	PongWait     time.Duration // Max silence from a websocket client
}

func (o *Options) applyDefaults() {
	if o.Address == "" {
		o.Address = ":8080"
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
}

// Server is the monitoring HTTP server.
type Server struct {
	opts     Options
	state    StateSource
	status   StatusSource
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	upgrader websocket.Upgrader

	// Closed on Stop so websocket handlers return.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	wsConns  sync.WaitGroup
}

// NewServer creates a Server. gatherer may be nil to disable /metrics.
func NewServer(opts Options, state StateSource, st StatusSource, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:     opts,
		state:    state,
		status:   st,
		gatherer: gatherer,
		logger:   logger.With("component", "monitor"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the HTTP handler for all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ws/status", s.handleStatusStream)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		s.logger.Info("starting monitor server", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and closes websocket streams.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wsConns.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("websocket streams still open at shutdown")
	}

	s.logger.Info("monitor server stopped")
	return err
}

type healthResponse struct {
	Status    string                   `json:"status"`
	State     model.ConnectorState     `json:"state"`
	Channels  map[model.Channel]string `json:"channels"`
	Build     version.Info             `json:"build"`
	Timestamp time.Time                `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.state.State()
	snap := s.status.Snapshot()

	health := healthResponse{
		Status:    "healthy",
		State:     state,
		Channels:  snap.Channels,
		Build:     version.Get(),
		Timestamp: time.Now().UTC(),
	}

	switch state {
	case model.StateRunning:
	case model.StateFailed, model.StateStopped:
		health.Status = "unhealthy"
	default:
		health.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status.Snapshot())
}

// streamMessage is one websocket frame.
type streamMessage struct {
	Type     string           `json:"type"` // "snapshot" or "event"
	Snapshot *status.Snapshot `json:"snapshot,omitempty"`
	Event    *status.Event    `json:"event,omitempty"`
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.wsConns.Add(1)
	defer s.wsConns.Done()
	defer conn.Close()

	// Subscribe before the snapshot so no change falls between them.
	events, unsubscribe := s.status.Subscribe()
	defer unsubscribe()

	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Debug("status stream opened")

	clientGone := make(chan struct{})
	go s.readPump(conn, clientGone)

	snap := s.status.Snapshot()
	if err := s.write(conn, streamMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
		logger.Debug("status stream write failed", "error", err)
		return
	}

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.closeStream(conn)
				return
			}
			if err := s.write(conn, streamMessage{Type: "event", Event: &ev}); err != nil {
				logger.Debug("status stream write failed", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-clientGone:
			logger.Debug("status stream closed by client")
			return

		case <-s.ctx.Done():
			s.closeStream(conn)
			return
		}
	}
}

// readPump discards client frames, extends the deadline on pong and
// signals when the client goes away.
func (s *Server) readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		return nil
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, msg streamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return conn.WriteJSON(msg)
}

func (s *Server) closeStream(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
}
