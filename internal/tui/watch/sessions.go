package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/crucible/internal/events"
)

// SessionState tracks one connected session, reconstructed from the event
// stream.
type SessionState struct {
	ID          string
	Status      string // idle | running | paused
	Command     string
	PID         int
	ConnectedAt time.Time
	StartedAt   time.Time // current process start
	Warnings    int

	LastStatus string // terminal status of the most recent execution
	LastExit   int
	LastRun    time.Time
}

// updateSessionState folds an event into the session table. Sessions appear
// on session.created and vanish on close or expiry.
func updateSessionState(sessions map[string]*SessionState, e events.Event) {
	if e.Session == "" {
		return
	}

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	switch e.Type {
	case "session.created":
		sessions[e.Session] = &SessionState{
			ID:          e.Session,
			Status:      "idle",
			ConnectedAt: time.Now(),
		}

	case "session.closed", "session.expired":
		delete(sessions, e.Session)

	case "process.started":
		s := getOrCreateSession(sessions, e.Session)
		s.Status = "running"
		s.StartedAt = time.Now()
		if pid, ok := data["pid"].(float64); ok {
			s.PID = int(pid)
		}
		if command, ok := data["command"].(string); ok {
			s.Command = command
		}

	case "process.paused":
		getOrCreateSession(sessions, e.Session).Status = "paused"

	case "process.resumed":
		getOrCreateSession(sessions, e.Session).Status = "running"

	case "process.completed":
		s := getOrCreateSession(sessions, e.Session)
		s.Status = "idle"
		s.PID = 0
		s.LastRun = time.Now()
		if status, ok := data["status"].(string); ok {
			s.LastStatus = status
		}
		if code, ok := data["exit_code"].(float64); ok {
			s.LastExit = int(code)
		}

	case "process.error":
		s := getOrCreateSession(sessions, e.Session)
		s.Status = "idle"
		s.PID = 0
		s.LastRun = time.Now()
		if reason, ok := data["reason"].(string); ok && reason != "" {
			s.LastStatus = reason
		} else {
			s.LastStatus = "error"
		}

	case "hook.warning":
		getOrCreateSession(sessions, e.Session).Warnings++
	}
}

// getOrCreateSession covers sessions first seen mid-lifecycle, e.g. when the
// TUI attaches to a server with connections already open.
func getOrCreateSession(sessions map[string]*SessionState, id string) *SessionState {
	s, ok := sessions[id]
	if !ok {
		s = &SessionState{ID: id, Status: "idle", ConnectedAt: time.Now()}
		sessions[id] = s
	}
	return s
}

// sortedSessionIDs returns session ids in stable sorted order.
func sortedSessionIDs(sessions map[string]*SessionState) []string {
	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func renderSessions(sessions map[string]*SessionState, selected int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(sessions) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("SESSIONS"),
			theme.Dim.Render("  No open sessions..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	ids := sortedSessionIDs(sessions)

	var lines []string
	for i, id := range ids {
		lines = append(lines, renderSessionRow(i+1, sessions[id], i == selected, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("SESSIONS")}, lines...)...,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func renderSessionRow(num int, s *SessionState, isSelected bool, theme Theme) string {
	var statusStr string
	switch s.Status {
	case "running":
		statusStr = theme.StatusRunning.Render("[running]")
	case "paused":
		statusStr = theme.StatusPaused.Render("[paused]")
	default:
		statusStr = theme.Dim.Render("[idle]")
	}

	var lastRunStr string
	if !s.LastRun.IsZero() {
		ago := time.Since(s.LastRun).Round(time.Second)
		icon := statusIcon(s.LastStatus, theme)
		lastRunStr = fmt.Sprintf("Last: %s %s", formatAgo(ago), icon)
	}

	idStyle := lipgloss.NewStyle()
	if isSelected {
		idStyle = idStyle.Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))
	}

	var line strings.Builder
	line.WriteString(fmt.Sprintf(" %d. %s  %s  %s",
		num,
		idStyle.Render(shortID(s.ID)),
		statusStr,
		lastRunStr,
	))

	if s.Status == "running" || s.Status == "paused" {
		duration := "-"
		if !s.StartedAt.IsZero() {
			duration = time.Since(s.StartedAt).Round(time.Second).String()
		}
		procLine := fmt.Sprintf("    └─ pid %s: %s %s",
			theme.Highlight.Render(fmt.Sprintf("%d", s.PID)),
			commandExcerpt(s.Command),
			theme.Dim.Render(duration),
		)
		line.WriteString("\n" + procLine)
	}

	if s.Warnings > 0 {
		line.WriteString("  " + theme.Highlight.Render(fmt.Sprintf("⚠ %d hook warning(s)", s.Warnings)))
	}

	return line.String()
}

func statusIcon(status string, theme Theme) string {
	switch status {
	case "completed":
		return theme.StatusOK.Render("✅")
	case "failed":
		return theme.StatusFailed.Render("❌")
	case "cancelled":
		return theme.Dim.Render("✖")
	case "deadline_exceeded", "stall_timeout":
		return theme.StatusFailed.Render("⏱")
	default:
		return ""
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func commandExcerpt(command string) string {
	if command == "" {
		return "-"
	}
	if len(command) > 40 {
		return command[:40] + "..."
	}
	return command
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
