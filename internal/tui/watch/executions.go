package watch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/crucible/internal/events"
)

// ExecutionRecord is one finished execution, newest first in the log.
type ExecutionRecord struct {
	At       time.Time
	Session  string
	Command  string
	Status   string
	ExitCode int
	Duration time.Duration
}

const executionLogLimit = 8

// updateExecutionLog appends terminal process events to the recent-execution
// log. The command comes from the session table, which saw process.started.
func updateExecutionLog(log []ExecutionRecord, sessions map[string]*SessionState, e events.Event) []ExecutionRecord {
	if e.Type != "process.completed" && e.Type != "process.error" {
		return log
	}

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	rec := ExecutionRecord{At: time.Now(), Session: e.Session}
	if s, ok := sessions[e.Session]; ok {
		rec.Command = s.Command
	}

	switch e.Type {
	case "process.completed":
		rec.Status, _ = data["status"].(string)
		if code, ok := data["exit_code"].(float64); ok {
			rec.ExitCode = int(code)
		}
		if secs, ok := data["duration_seconds"].(float64); ok {
			rec.Duration = time.Duration(secs * float64(time.Second))
		}
	case "process.error":
		if reason, ok := data["reason"].(string); ok && reason != "" {
			rec.Status = reason
		} else {
			rec.Status = "error"
		}
	}

	log = append([]ExecutionRecord{rec}, log...)
	if len(log) > executionLogLimit {
		log = log[:executionLogLimit]
	}
	return log
}

func renderExecutions(log []ExecutionRecord, theme Theme, width int) string {
	innerWidth := width - 4

	if len(log) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("RECENT EXECUTIONS"),
			theme.Dim.Render("  Nothing has run yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for _, rec := range log {
		lines = append(lines, renderExecutionRow(rec, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("RECENT EXECUTIONS")}, lines...)...,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderExecutionRow(rec ExecutionRecord, theme Theme) string {
	ts := theme.Dim.Render(rec.At.Format("15:04:05"))
	icon := statusIcon(rec.Status, theme)

	var statusStr string
	switch rec.Status {
	case "completed":
		statusStr = theme.StatusOK.Render(rec.Status)
	case "failed":
		statusStr = theme.StatusFailed.Render(fmt.Sprintf("%s (exit %d)", rec.Status, rec.ExitCode))
	case "cancelled":
		statusStr = theme.Dim.Render(rec.Status)
	default:
		statusStr = theme.StatusFailed.Render(rec.Status)
	}

	durationStr := ""
	if rec.Duration > 0 {
		durationStr = theme.Dim.Render(rec.Duration.Round(10 * time.Millisecond).String())
	}

	return fmt.Sprintf(" %s %s [%s] %-40s %s %s",
		ts, icon, theme.Highlight.Render(shortID(rec.Session)),
		commandExcerpt(rec.Command), statusStr, durationStr)
}
