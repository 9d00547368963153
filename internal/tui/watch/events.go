package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/crucible/internal/events"
)

func renderEventStream(vp viewport.Model, empty bool, theme Theme, width int) string {
	innerWidth := width - 4

	if empty {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		vp.View(),
	)

	return theme.Border.Width(innerWidth).Render(content)
}

// eventStreamContent renders the buffered events, newest first, as the
// scrollback content for the event viewport.
func eventStreamContent(eventLog []events.Event, theme Theme) string {
	lines := make([]string, 0, len(eventLog))
	for _, e := range eventLog {
		lines = append(lines, formatEvent(e, theme))
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case e.Type == "process.completed":
		typeStyle = theme.StatusOK
	case e.Type == "process.error", e.Type == "hook.warning":
		typeStyle = theme.StatusFailed
	case e.Type == "process.started":
		typeStyle = theme.StatusRunning
	case strings.HasPrefix(e.Type, "session."):
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-26s", e.Type))

	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

// extractEventDesc pulls the most telling fields out of an event payload.
func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if e.Session != "" {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(e.Session)))
	}
	if command, ok := data["command"].(string); ok && command != "" {
		parts = append(parts, commandExcerpt(command))
	}
	if hook, ok := data["hook_type"].(string); ok {
		parts = append(parts, hook)
	}
	if status, ok := data["status"].(string); ok {
		parts = append(parts, status)
	}
	if reason, ok := data["reason"].(string); ok && reason != "" {
		parts = append(parts, reason)
	}
	if errText, ok := data["error"].(string); ok && errText != "" {
		parts = append(parts, errText)
	}
	if pid, ok := data["pid"].(float64); ok && pid > 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", int(pid)))
	}
	if active, ok := data["active"].(float64); ok {
		if max, ok := data["max"].(float64); ok {
			parts = append(parts, fmt.Sprintf("%d/%d sessions", int(active), int(max)))
		}
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}
