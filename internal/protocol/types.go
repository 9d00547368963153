package protocol

import "encoding/json"

// Version is the JSON-RPC protocol version spoken on the wire.
const Version = "2.0"

// Client-to-server methods.
const (
	MethodExecute   = "execute"
	MethodControl   = "control"
	MethodGetStatus = "get_status"
	MethodPing      = "ping"
)

// Server-to-client notification methods.
const (
	NotifyConnected         = "connected"
	NotifyStarted           = "process.started"
	NotifyOutput            = "process.output"
	NotifyCompleted         = "process.completed"
	NotifyError             = "process.error"
	NotifyHookWarning       = "hook.warning"
	NotifyValidationWarning = "command.validation_warning"
	NotifyHeartbeat         = "heartbeat"
)

// Control acknowledgment notifications, named process.<status>.
const (
	NotifyPaused    = "process.paused"
	NotifyResumed   = "process.resumed"
	NotifyCancelled = "process.cancelled"
)

// JSON-RPC error codes. The -32000 range is reserved for server-defined
// errors; the specific codes mirror the service's error taxonomy.
const (
	CodeParseError        = -32700
	CodeInvalidRequest    = -32600
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
	CodeInternalError     = -32603
	CodeServerError       = -32000
	CodeSessionLimit      = -32001
	CodeCommandNotAllowed = -32002
	CodeProcessNotFound   = -32003
	CodeStreamTimeout     = -32004
)

// Request is a JSON-RPC 2.0 request or, when ID is absent, a notification.
// The ID is kept raw so string and numeric ids round-trip unchanged.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no correlation id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ExecuteParams carries the execute method parameters. Timeout and
// StallTimeout are seconds; zero means "let the estimator decide".
type ExecuteParams struct {
	Command      string `json:"command"`
	Timeout      int    `json:"timeout,omitempty"`
	StallTimeout int    `json:"stall_timeout,omitempty"`
}

// ControlParams carries the control method parameters.
type ControlParams struct {
	Type string `json:"type"`
}

// ConnectedParams greets a newly accepted connection.
type ConnectedParams struct {
	SessionID    string   `json:"session_id"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// StartedParams announces a spawned process.
type StartedParams struct {
	PID  int `json:"pid"`
	PGID int `json:"pgid"`
}

// OutputParams carries one decoded output chunk.
type OutputParams struct {
	Type      string `json:"type"` // stdout | stderr
	Data      string `json:"data"`
	Truncated bool   `json:"truncated,omitempty"`
}

// CompletedParams reports process exit.
type CompletedParams struct {
	Status   string `json:"status"` // completed | failed | cancelled
	ExitCode int    `json:"exit_code"`
}

// ErrorParams reports an execution failure. Reason distinguishes watchdog
// firings (deadline_exceeded, stall_timeout) from other failures.
type ErrorParams struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// HookWarningParams surfaces a non-fatal hook failure.
type HookWarningParams struct {
	HookType      string `json:"hook_type"`
	Error         string `json:"error"`
	StderrExcerpt string `json:"stderr_excerpt,omitempty"`
	Severity      string `json:"severity"`
}

// ValidationWarningParams flags a primary command that a hook failure
// suggests is malformed.
type ValidationWarningParams struct {
	Command string `json:"command"`
	Warning string `json:"warning"`
}

// HeartbeatParams carries the liveness beacon.
type HeartbeatParams struct {
	Timestamp string `json:"timestamp"`
}

// ExecuteResult acknowledges a spawned command.
type ExecuteResult struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
	PGID   int    `json:"pgid"`
}

// ControlResult acknowledges a control action with the resulting status.
type ControlResult struct {
	Status string `json:"status"`
}

// StateParams carries a control-induced process state change.
type StateParams struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
	PGID   int    `json:"pgid"`
}

// PingResult answers ping.
type PingResult struct {
	Timestamp string `json:"timestamp"`
}

// StatusResult answers get_status.
type StatusResult struct {
	Status           string `json:"status"`
	PID              int    `json:"pid,omitempty"`
	TotalOutputBytes int64  `json:"total_output_bytes"`
	ActiveSessions   int    `json:"active_sessions"`
	MaxSessions      int    `json:"max_sessions"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}
