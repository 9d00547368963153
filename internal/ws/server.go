package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/crucible/internal/config"
	"github.com/mattjoyce/crucible/internal/estimate"
	"github.com/mattjoyce/crucible/internal/events"
	"github.com/mattjoyce/crucible/internal/history"
	"github.com/mattjoyce/crucible/internal/hooks"
	"github.com/mattjoyce/crucible/internal/log"
	"github.com/mattjoyce/crucible/internal/process"
	"github.com/mattjoyce/crucible/internal/protocol"
	"github.com/mattjoyce/crucible/internal/session"
	"github.com/mattjoyce/crucible/internal/stream"
)

// protocolVersion is reported in the connected greeting.
const protocolVersion = "1.0.0"

// capabilities advertised to every client on connect.
var capabilities = []string{"execute", "control", "stream"}

const (
	pingInterval = 30 * time.Second
	readWait     = 60 * time.Second
	writeWait    = 10 * time.Second

	// outboundBuffer bounds the per-connection send queue. A full queue
	// blocks the producer, which backpressures the output pumps.
	outboundBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The service binds loopback by default; origin policy is left to the
	// deployment in front of it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server owns the WebSocket surface: it admits connections against the
// session ceiling and runs one dispatcher per connection.
type Server struct {
	cfg       *config.Config
	sessions  *session.Manager
	processes *process.Supervisor
	streams   *stream.Multiplexer
	hooks     *hooks.Runner
	estimator *estimate.Estimator
	store     *history.Store
	events    *events.Hub
	logger    *slog.Logger

	ctx context.Context

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// New creates the dispatcher. store may be nil, which disables execution
// history recording.
func New(
	cfg *config.Config,
	sessions *session.Manager,
	processes *process.Supervisor,
	streams *stream.Multiplexer,
	hookRunner *hooks.Runner,
	estimator *estimate.Estimator,
	store *history.Store,
	hub *events.Hub,
) *Server {
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		processes: processes,
		streams:   streams,
		hooks:     hookRunner,
		estimator: estimator,
		store:     store,
		events:    hub,
		logger:    log.WithComponent("ws"),
		ctx:       context.Background(),
		conns:     make(map[*conn]struct{}),
	}
}

// Start anchors connection lifetimes to ctx.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.logger.Info("WebSocket dispatcher ready", "path", s.cfg.Server.WSPath)
	return nil
}

// Stop tears down every live connection.
func (s *Server) Stop() {
	s.mu.Lock()
	open := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	if len(open) > 0 {
		s.logger.Info("Closing connections", "count", len(open))
	}
	for _, c := range open {
		c.teardown()
	}
}

// HandleWS upgrades the HTTP request and runs the connection until it
// closes. Admission happens before the greeting: a connection over the
// session ceiling gets an error response and a policy-violation close.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	if _, err := s.sessions.Create(id, func() { _ = sock.Close() }); err != nil {
		s.reject(sock, id, err)
		return
	}

	s.mu.Lock()
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Unlock()

	c := &conn{
		id:     id,
		sock:   sock,
		srv:    s,
		logger: s.logger.With("session_id", id),
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan []byte, outboundBuffer),
		closed: make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.logger.Info("Connection accepted", "remote", r.RemoteAddr)

	c.notify(protocol.NotifyConnected, protocol.ConnectedParams{
		SessionID:    id,
		Version:      protocolVersion,
		Capabilities: capabilities,
	})

	go c.writePump()
	go c.readPump()
}

func (s *Server) reject(sock *websocket.Conn, id string, err error) {
	s.logger.Warn("Connection rejected", "session_id", id, "error", err)

	resp := protocol.NewErrorResponse(nil, protocol.CodeSessionLimit, "Session limit exceeded", nil)
	if data, merr := json.Marshal(resp); merr == nil {
		_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
		_ = sock.WriteMessage(websocket.TextMessage, data)
	}
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Session limit exceeded")
	_ = sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))

	// Drain until the peer closes or the deadline passes. Closing the socket
	// with client data still in flight resets the connection and can discard
	// the error frame before the client reads it.
	_ = sock.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := sock.NextReader(); err != nil {
			break
		}
	}
	_ = sock.Close()
}

func (s *Server) dropConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// commandAllowed applies the optional head-token allowlist. An empty
// message means the command passes.
func commandAllowed(cfg *config.Config, command string) string {
	head := hooks.HeadToken(command)
	if head == "" {
		return "Command cannot be empty"
	}
	allowed := cfg.Security.AllowedCommands
	if len(allowed) == 0 {
		return ""
	}
	for _, a := range allowed {
		if head == a {
			return ""
		}
	}
	return "Command '" + head + "' is not allowed"
}
