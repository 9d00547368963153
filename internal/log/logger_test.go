package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

// resetGlobal clears the package state so each test configures its own
// logger. These tests cannot run in parallel.
func resetGlobal() {
	logger = nil
	once = sync.Once{}
}

func TestSetupInitializesOnce(t *testing.T) {
	resetGlobal()

	Setup("DEBUG")
	if logger == nil {
		t.Fatal("Setup left the global logger nil")
	}
	first := logger

	// A second Setup must not replace the configured logger.
	Setup("ERROR")
	if logger != first {
		t.Error("second Setup replaced the logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	resetGlobal()
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	return &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	return out
}

func TestWithComponent(t *testing.T) {
	buf := captureJSON(t)
	WithComponent("supervisor").Info("spawned")

	out := decodeLine(t, buf)
	if out["component"] != "supervisor" {
		t.Errorf("component = %v", out["component"])
	}
	if out["msg"] != "spawned" {
		t.Errorf("msg = %v", out["msg"])
	}
}

func TestWithSession(t *testing.T) {
	buf := captureJSON(t)
	WithSession("sess-123").Info("admitted")

	if out := decodeLine(t, buf); out["session_id"] != "sess-123" {
		t.Errorf("session_id = %v", out["session_id"])
	}
}

func TestWithHook(t *testing.T) {
	buf := captureJSON(t)
	WithHook("pre-execute").Info("fired")

	if out := decodeLine(t, buf); out["hook_type"] != "pre-execute" {
		t.Errorf("hook_type = %v", out["hook_type"])
	}
}
