package history

import "time"

// Terminal statuses recorded for an execution.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusTimeout   = "timeout"
)

// Execution is one recorded command run.
type Execution struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Fingerprint string    `json:"fingerprint"`
	Command     string    `json:"command"`
	Keywords    []string  `json:"keywords,omitempty"`
	Category    string    `json:"category"`
	Status      string    `json:"status"`
	ExitCode    *int      `json:"exit_code"`
	Duration    float64   `json:"duration_seconds"`
	StdoutBytes int64     `json:"stdout_bytes"`
	StderrBytes int64     `json:"stderr_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record is the input for recording a finished execution.
type Record struct {
	SessionID   string
	Command     string
	Category    string
	Status      string
	ExitCode    *int
	Duration    float64
	StdoutBytes int64
	StderrBytes int64
}

// Stats summarizes prior runs of the exact same command.
type Stats struct {
	Samples     int
	MaxDuration float64
	AvgDuration float64
}

// Similar is a past execution scored against a query command by
// keyword overlap.
type Similar struct {
	Command  string
	Duration float64
	Score    float64
}
