// Package client dials a crucible server over WebSocket and runs a single
// command, streaming its output to the caller's writers. It is the transport
// behind `crucible exec`.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mattjoyce/crucible/internal/log"
	"github.com/mattjoyce/crucible/internal/protocol"
)

// Terminal statuses reported by Execute. The first three mirror the server's
// process.completed vocabulary; StatusError covers watchdog and spawn
// failures delivered via process.error.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

// RemoteError is a JSON-RPC error answered by the server before any process
// started, such as a rejected command or a full session table.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// Options tune a single execution.
type Options struct {
	// Timeout and StallTimeout override the server's estimator when nonzero.
	// They are truncated to whole seconds on the wire.
	Timeout      time.Duration
	StallTimeout time.Duration

	// Stdout and Stderr receive the process output streams. Nil writers
	// discard.
	Stdout io.Writer
	Stderr io.Writer

	// Warnings receives client annotations: hook failures, validation
	// warnings, control state changes. Nil discards.
	Warnings io.Writer
}

// Result is the terminal verdict of one execution.
type Result struct {
	SessionID string
	PID       int
	Status    string
	ExitCode  int
	// Reason and Message are set when Status is StatusError. Reason is
	// deadline_exceeded or stall_timeout for watchdog kills, empty otherwise.
	Reason   string
	Message  string
	Duration time.Duration
}

// Client executes commands against one server URL. It is safe for sequential
// reuse; each Execute call opens its own connection and session.
type Client struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// URL builds the WebSocket endpoint URL from a listen address and path,
// e.g. URL("127.0.0.1:8003", "/ws/mcp").
func URL(listen, wsPath string) string {
	return "ws://" + listen + wsPath
}

func New(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = log.WithComponent("client")
	}
	return &Client{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// envelope is the lenient read-side frame: a response when ID is set, a
// notification when Method is set.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *protocol.Error `json:"error,omitempty"`
}

const (
	executeID = "1"
	controlID = "2"
)

// Execute runs command on the server and streams output until the server
// reports a terminal state. Cancelling ctx sends a CANCEL control and waits
// briefly for the server to confirm before giving up on the connection.
func (c *Client) Execute(ctx context.Context, command string, opts Options) (*Result, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer ws.Close()

	if err := c.send(ws, executeID, protocol.MethodExecute, protocol.ExecuteParams{
		Command:      command,
		Timeout:      int(opts.Timeout / time.Second),
		StallTimeout: int(opts.StallTimeout / time.Second),
	}); err != nil {
		return nil, fmt.Errorf("send execute: %w", err)
	}
	started := time.Now()

	// The watcher turns ctx cancellation into a remote CANCEL, then bounds
	// how long the read loop may wait for the confirmation.
	var cancelSent atomic.Bool
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancelSent.Store(true)
			if err := c.send(ws, controlID, protocol.MethodControl, protocol.ControlParams{Type: "CANCEL"}); err != nil {
				c.logger.Debug("Cancel send failed", "error", err)
			}
			ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		case <-done:
		}
	}()

	res := &Result{}
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if cancelSent.Load() {
				return nil, fmt.Errorf("connection lost after cancel: %w", ctx.Err())
			}
			return nil, fmt.Errorf("read: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Debug("Discarding unparseable frame", "error", err)
			continue
		}

		if env.Method == "" {
			if terminal, err := c.handleResponse(&env, res); err != nil {
				return nil, err
			} else if terminal {
				res.Duration = time.Since(started)
				return res, nil
			}
			continue
		}
		if terminal := c.handleNotification(&env, opts, res); terminal {
			res.Duration = time.Since(started)
			return res, nil
		}
	}
}

// handleResponse processes a response frame. A server error aimed at the
// execute request (or broadcast with a null id, as the session-limit
// rejection is) fails the call; the control acknowledgment after a cancel
// may itself be terminal when the process was already gone.
func (c *Client) handleResponse(env *envelope, res *Result) (bool, error) {
	id := string(env.ID)
	if env.Error != nil {
		if id == executeID || id == "" || id == "null" {
			return false, &RemoteError{Code: env.Error.Code, Message: env.Error.Message}
		}
		c.logger.Debug("Control rejected", "code", env.Error.Code, "message", env.Error.Message)
		return false, nil
	}

	switch id {
	case executeID:
		var ack protocol.ExecuteResult
		if err := json.Unmarshal(env.Result, &ack); err == nil {
			res.PID = ack.PID
			c.logger.Debug("Execution started", "pid", ack.PID, "pgid", ack.PGID)
		}
	case controlID:
		var ack protocol.ControlResult
		if err := json.Unmarshal(env.Result, &ack); err == nil && ack.Status == "not_found" {
			// Nothing left to cancel; no terminal notification will follow.
			res.Status = StatusCancelled
			return true, nil
		}
	}
	return false, nil
}

// handleNotification processes a notification frame and reports whether it
// was terminal.
func (c *Client) handleNotification(env *envelope, opts Options, res *Result) bool {
	switch env.Method {
	case protocol.NotifyConnected:
		var p protocol.ConnectedParams
		if err := json.Unmarshal(env.Params, &p); err == nil {
			res.SessionID = p.SessionID
			c.logger.Debug("Connected", "session_id", p.SessionID, "version", p.Version)
		}

	case protocol.NotifyStarted:
		var p protocol.StartedParams
		if err := json.Unmarshal(env.Params, &p); err == nil {
			res.PID = p.PID
		}

	case protocol.NotifyOutput:
		var p protocol.OutputParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return false
		}
		w := opts.Stdout
		if p.Type == "stderr" {
			w = opts.Stderr
		}
		if w != nil {
			io.WriteString(w, p.Data)
		}
		if p.Truncated {
			warn(opts.Warnings, "output line truncated")
		}

	case protocol.NotifyHookWarning:
		var p protocol.HookWarningParams
		if err := json.Unmarshal(env.Params, &p); err == nil {
			if p.StderrExcerpt != "" {
				warn(opts.Warnings, "hook %s failed: %s (%s)", p.HookType, p.Error, p.StderrExcerpt)
			} else {
				warn(opts.Warnings, "hook %s failed: %s", p.HookType, p.Error)
			}
		}

	case protocol.NotifyValidationWarning:
		var p protocol.ValidationWarningParams
		if err := json.Unmarshal(env.Params, &p); err == nil {
			warn(opts.Warnings, "%s", p.Warning)
		}

	case protocol.NotifyPaused, protocol.NotifyResumed, protocol.NotifyCancelled:
		var p protocol.StateParams
		if err := json.Unmarshal(env.Params, &p); err == nil {
			warn(opts.Warnings, "process %s (pid %d)", p.Status, p.PID)
		}

	case protocol.NotifyCompleted:
		var p protocol.CompletedParams
		if err := json.Unmarshal(env.Params, &p); err == nil {
			res.Status = p.Status
			res.ExitCode = p.ExitCode
			return true
		}

	case protocol.NotifyError:
		var p protocol.ErrorParams
		if err := json.Unmarshal(env.Params, &p); err == nil {
			res.Status = StatusError
			res.Reason = p.Reason
			res.Message = p.Message
			return true
		}

	case protocol.NotifyHeartbeat:
		// Liveness only.
	}
	return false
}

func (c *Client) send(ws *websocket.Conn, id, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return ws.WriteJSON(protocol.Request{
		JSONRPC: protocol.Version,
		Method:  method,
		Params:  raw,
		ID:      json.RawMessage(id),
	})
}

func warn(w io.Writer, format string, args ...any) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "crucible: "+format+"\n", args...)
}
