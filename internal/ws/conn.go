package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mattjoyce/crucible/internal/process"
	"github.com/mattjoyce/crucible/internal/protocol"
	"github.com/mattjoyce/crucible/internal/session"
)

// conn is one WebSocket connection and its session. All outbound frames
// funnel through the out channel to a single writer, so per-session
// ordering is preserved end to end.
type conn struct {
	id     string
	sock   *websocket.Conn
	srv    *Server
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	out    chan []byte
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu   sync.Mutex
	exec *execution
}

// readPump consumes frames until the connection dies, then tears the
// session down. Any inbound frame refreshes the liveness deadline.
func (c *conn) readPump() {
	defer c.teardown()

	_ = c.sock.SetReadDeadline(time.Now().Add(readWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Connection read ended", "error", err)
			} else {
				c.logger.Info("Connection closed by client")
			}
			return
		}
		_ = c.sock.SetReadDeadline(time.Now().Add(readWait))
		c.srv.sessions.Touch(c.id)
		c.handleMessage(data)
	}
}

// writePump owns all writes to the socket. Heartbeats tick on the
// configured interval regardless of whether output is flowing; protocol
// pings keep intermediaries from idling the connection out.
func (c *conn) writePump() {
	ping := time.NewTicker(pingInterval)
	heartbeat := time.NewTicker(c.srv.cfg.Service.HeartbeatInterval)
	defer func() {
		ping.Stop()
		heartbeat.Stop()
		c.teardown()
	}()

	for {
		select {
		case data := <-c.out:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("Connection write failed", "error", err)
				return
			}

		case <-heartbeat.C:
			frame, err := protocol.NewNotification(protocol.NotifyHeartbeat, protocol.HeartbeatParams{
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				continue
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			c.logger.Debug("Heartbeat sent")

		case <-ping.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}

// teardown runs exactly once: it cancels the connection context, stops a
// live execution (terminating its process group), waits for the execution
// goroutine, and retires the session.
func (c *conn) teardown() {
	c.once.Do(func() {
		c.cancel()
		close(c.closed)

		c.mu.Lock()
		ex := c.exec
		c.mu.Unlock()
		if ex != nil {
			ex.requestCancel()
		}
		c.wg.Wait()

		c.srv.sessions.Remove(c.id)
		c.srv.dropConn(c)
		_ = c.sock.Close()
		c.logger.Info("Connection closed")
	})
}

// enqueue hands a marshalled frame to the writer. It blocks when the
// queue is full and reports false once the connection is gone.
func (c *conn) enqueue(data []byte) bool {
	select {
	case c.out <- data:
		return true
	case <-c.closed:
		return false
	}
}

func (c *conn) respond(id json.RawMessage, result any) {
	c.send(protocol.NewResponse(id, result))
}

func (c *conn) respondError(id json.RawMessage, code int, message string, data any) {
	c.send(protocol.NewErrorResponse(id, code, message, data))
}

func (c *conn) notify(method string, params any) {
	frame, err := protocol.NewNotification(method, params)
	if err != nil {
		c.logger.Error("Failed to build notification", "method", method, "error", err)
		return
	}
	c.send(frame)
}

func (c *conn) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode frame", "error", err)
		return
	}
	c.enqueue(data)
}

// handleMessage decodes one inbound frame and routes it.
func (c *conn) handleMessage(data []byte) {
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			c.respondError(nil, protocol.CodeParseError, "Parse error", err.Error())
		} else {
			c.respondError(nil, protocol.CodeInvalidRequest, "Invalid request", err.Error())
		}
		return
	}

	c.logger.Debug("Received request", "method", req.Method)

	switch req.Method {
	case protocol.MethodExecute:
		c.handleExecute(req)
	case protocol.MethodControl:
		c.handleControl(req)
	case protocol.MethodGetStatus:
		c.handleStatus(req)
	case protocol.MethodPing:
		c.handlePing(req)
	default:
		c.respondError(req.ID, protocol.CodeMethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method), nil)
	}
}

// controlOutcomes maps control actions to the acknowledged status and the
// notification announcing it.
var controlOutcomes = map[string]struct {
	status string
	notify string
}{
	process.ControlPause:  {"paused", protocol.NotifyPaused},
	process.ControlResume: {"resumed", protocol.NotifyResumed},
	process.ControlCancel: {"cancelled", protocol.NotifyCancelled},
}

func (c *conn) handleControl(req *protocol.Request) {
	var params protocol.ControlParams
	if err := req.DecodeParams(&params); err != nil {
		c.respondError(req.ID, protocol.CodeInvalidParams, err.Error(), nil)
		return
	}

	c.mu.Lock()
	ex := c.exec
	c.mu.Unlock()

	var handle *process.Handle
	if ex != nil {
		handle = ex.getHandle()
	}
	if handle == nil {
		// CANCEL of a finished or never-started process is idempotent.
		if params.Type == process.ControlCancel {
			c.respond(req.ID, protocol.ControlResult{Status: "not_found"})
			return
		}
		c.respondError(req.ID, protocol.CodeProcessNotFound, "No process is running", nil)
		return
	}

	err := handle.Control(params.Type)
	var unknown *process.UnknownControlError
	switch {
	case errors.As(err, &unknown):
		c.respondError(req.ID, protocol.CodeInvalidParams, unknown.Error(), nil)

	case errors.Is(err, process.ErrProcessNotFound):
		// The group is already gone; signalling it is a no-op success.
		c.respond(req.ID, protocol.ControlResult{Status: "not_found"})

	case err != nil:
		c.respondError(req.ID, protocol.CodeInternalError, err.Error(), nil)

	default:
		outcome := controlOutcomes[params.Type]
		c.respond(req.ID, protocol.ControlResult{Status: outcome.status})
		c.notify(outcome.notify, protocol.StateParams{
			Status: outcome.status,
			PID:    handle.PID,
			PGID:   handle.PGID,
		})
		c.srv.events.Publish(outcome.notify, c.id, map[string]any{"pid": handle.PID})

		switch params.Type {
		case process.ControlPause:
			c.srv.sessions.SetStatus(c.id, session.StatusPaused)
		case process.ControlResume:
			c.srv.sessions.SetStatus(c.id, session.StatusRunning)
		case process.ControlCancel:
			c.srv.sessions.SetStatus(c.id, session.StatusCancelling)
			ex.requestCancel()
		}
	}
}

func (c *conn) handleStatus(req *protocol.Request) {
	snap, ok := c.srv.sessions.Get(c.id)
	if !ok {
		c.respondError(req.ID, protocol.CodeInternalError, "session not found", nil)
		return
	}
	stats := c.srv.sessions.Stats()

	c.respond(req.ID, protocol.StatusResult{
		Status:           snap.Status,
		PID:              snap.PID,
		TotalOutputBytes: snap.StdoutBytes + snap.StderrBytes,
		ActiveSessions:   stats.ActiveSessions,
		MaxSessions:      stats.MaxSessions,
		UptimeSeconds:    int64(stats.UptimeSeconds),
	})
}

func (c *conn) handlePing(req *protocol.Request) {
	c.respond(req.ID, protocol.PingResult{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
