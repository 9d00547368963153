package doctor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/crucible/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Hooks.Path = ""
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.Service.LockPath = filepath.Join(t.TempDir(), "crucible.pid")
	return cfg
}

func writeHooksFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crucible-hooks.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write hooks file: %v", err)
	}
	return path
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
}

func TestValidate_ConfigShapeError(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Limits.MaxSessions = 0
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "config", "must be positive")
}

func TestValidate_BadListenAddress(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Server.Listen = "127.0.0.1"
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "server", "host:port")
}

func TestValidate_HookFileMissing(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Hooks.Path = filepath.Join(t.TempDir(), "missing-hooks.json")
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "hooks", "not found")
}

func TestValidate_HookFileMalformed(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Hooks.Path = writeHooksFile(t, `{not json`)
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "hooks", "unreadable")
}

func TestValidate_HookExecutableMissing(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Hooks.Path = writeHooksFile(t, `{"hooks": {"pre-execute": "crucible-doctor-no-such-bin check"}}`)
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "hooks", "crucible-doctor-no-such-bin")
}

func TestValidate_HookUnknownLifecyclePoint(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Hooks.Path = writeHooksFile(t, `{"hooks": {"mid-execute": "true"}}`)
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "hooks", "never fires")
}

func TestValidate_HookBadTokenization(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Hooks.Path = writeHooksFile(t, `{"hooks": {"pre-tool": "sh -c \"unterminated"}}`)
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "hooks", "tokenize")
}

func TestValidate_HookLongTimeout(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Hooks.Path = writeHooksFile(t, `{"hooks": {"pre-tool": {"command": "true", "timeout": 3600}}}`)
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "hooks", "very long")
}

func TestValidate_HistoryDirMissing(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.History.Path = filepath.Join(t.TempDir(), "nested", "deeper", "history.db")
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "history", "created on start")
}

func TestValidate_HistoryPathIsDirectory(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.History.Path = t.TempDir()
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "history", "not a regular file")
}

func TestValidate_HistoryParentNotDirectory(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	cfg.History.Path = filepath.Join(file, "history.db")
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "history", "not a directory")
}

func TestValidate_AllowedCommandWithWhitespace(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Security.AllowedCommands = []string{"echo hello"}
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "security", "whitespace")
}

func TestValidate_AllowedCommandNotInstalled(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Security.AllowedCommands = []string{"echo", "crucible-doctor-absent-tool"}
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "security", "crucible-doctor-absent-tool")
}

func TestValidate_WarnMissingAuth(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t)).Validate()
	assertHasWarning(t, r, "server", "no auth token")

	cfg := validConfig(t)
	cfg.Server.AuthToken = "sekrit"
	r = New(cfg).Validate()
	for _, w := range r.Warnings {
		if strings.Contains(w.Message, "no auth token") {
			t.Fatalf("did not expect auth warning with a token set: %v", r.Warnings)
		}
	}
}

func TestValidate_WarnShortSessionTimeout(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Service.SessionTimeout = 30 * time.Second
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "service", "very short")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "history", Field: "history.path", Message: "not writable"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Result
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Valid || len(decoded.Errors) != 1 || decoded.Errors[0].Message != "not writable" {
		t.Fatalf("round trip mangled the result: %s", out)
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()

	clean := FormatHuman(&Result{Valid: true})
	if clean != "Configuration valid.\n" {
		t.Errorf("clean report = %q", clean)
	}

	report := FormatHuman(&Result{
		Errors:   []Issue{{Category: "server", Field: "server.listen", Message: "not host:port"}},
		Warnings: []Issue{{Category: "hooks", Message: "hook file missing"}},
	})
	for _, want := range []string{
		"Configuration invalid (1 error(s), 1 warning(s))",
		"ERROR [server] server.listen: not host:port",
		"WARN  [hooks] hook file missing",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	if !hasIssue(r.Errors, category, substring) {
		t.Fatalf("no %s error containing %q in %v", category, substring, r.Errors)
	}
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	if !hasIssue(r.Warnings, category, substring) {
		t.Fatalf("no %s warning containing %q in %v", category, substring, r.Warnings)
	}
}

func hasIssue(issues []Issue, category, substring string) bool {
	for _, issue := range issues {
		if issue.Category == category && strings.Contains(issue.Message, substring) {
			return true
		}
	}
	return false
}
