package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/crucible/internal/client"
	"github.com/mattjoyce/crucible/internal/history"
	"github.com/mattjoyce/crucible/internal/storage"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

// writeConfigFixture writes a minimal valid config into dir and returns its
// path. Storage paths all land inside dir.
func writeConfigFixture(t *testing.T, dir string) string {
	t.Helper()

	configYAML := `
service:
  name: test-crucible
  log_level: info
  lock_path: ` + filepath.Join(dir, "crucible.pid") + `
server:
  listen: 127.0.0.1:9999
  ws_path: /ws/custom
hooks:
  path: ` + filepath.Join(dir, "hooks.json") + `
history:
  path: ` + filepath.Join(dir, "history.db") + `
`
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath
}

func TestRunCLIRootVersionFlag(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "abc1234567890", "2026-02-12T11:30:00Z")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"--version"})
	})
	if code != 0 {
		t.Fatalf("runCLI() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "crucible 1.2.3") {
		t.Fatalf("stdout missing semantic version: %s", stdout)
	}
	if !strings.Contains(stdout, "commit: abc123456789") {
		t.Fatalf("stdout missing short commit: %s", stdout)
	}
	if !strings.Contains(stdout, "built_at: 2026-02-12T11:30:00Z") {
		t.Fatalf("stdout missing build time: %s", stdout)
	}
}

func TestRunVersionJSONOutputIncludesMetadata(t *testing.T) {
	setVersionMetadataForTest(t, "2.0.0-rc.1", "aabbccddeeff001122334455", "2026-02-12T11:30:00-05:00")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"--json"})
	})
	if code != 0 {
		t.Fatalf("runVersion() code = %d, stderr: %s", code, stderr)
	}

	var out struct {
		Version   string `json:"version"`
		Commit    string `json:"commit"`
		BuildTime string `json:"build_time"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("failed to parse version JSON: %v\noutput=%s", err, stdout)
	}

	if out.Version != "2.0.0-rc.1" {
		t.Fatalf("version = %q, want %q", out.Version, "2.0.0-rc.1")
	}
	if out.Commit != "aabbccddeeff" {
		t.Fatalf("commit = %q, want %q", out.Commit, "aabbccddeeff")
	}
	if out.BuildTime != "2026-02-12T16:30:00Z" {
		t.Fatalf("build_time = %q, want %q", out.BuildTime, "2026-02-12T16:30:00Z")
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"conjure"})
	})
	if code != 1 {
		t.Fatalf("runCLI() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: conjure") {
		t.Fatalf("stderr missing unknown-command message: %s", stderr)
	}
}

func TestPrintUsageListsNouns(t *testing.T) {
	_, stdout, _ := captureOutputWithExitCode(t, func() int {
		printUsage()
		return 0
	})
	if !strings.Contains(stdout, "crucible <noun> <action> [flags]") {
		t.Fatalf("usage missing noun/action synopsis: %s", stdout)
	}
	for _, want := range []string{"system start", "system watch", "config check", "history list", "exec"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("usage missing %q: %s", want, stdout)
		}
	}
}

func TestRunSystemNounActionHelp(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemNoun([]string{"start", "--help"})
	})
	if code != 0 {
		t.Fatalf("runSystemNoun() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Usage: crucible system start") {
		t.Fatalf("stdout missing start action help usage: %s", stdout)
	}
}

func TestRunConfigNounActionHelp(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--help"})
	})
	if code != 0 {
		t.Fatalf("runConfigNoun() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Usage: crucible config check") {
		t.Fatalf("stdout missing action help usage: %s", stdout)
	}
}

func TestRunHistoryNounActionHelp(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runHistoryNoun([]string{"list", "--help"})
	})
	if code != 0 {
		t.Fatalf("runHistoryNoun() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Usage: crucible history list") {
		t.Fatalf("stdout missing list action help usage: %s", stdout)
	}
}

func TestRunExecHelpFlag(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"exec", "--help"})
	})
	if code != 0 {
		t.Fatalf("runCLI() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Usage: crucible exec") {
		t.Fatalf("stdout missing exec help usage: %s", stdout)
	}
}

func TestRunExecRequiresCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runExec(nil)
	})
	if code != 1 {
		t.Fatalf("runExec() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage: crucible exec") {
		t.Fatalf("stderr missing usage: %s", stderr)
	}
}

func TestHasLeadingHelpFlag(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"bare help", []string{"--help"}, true},
		{"short help", []string{"-h"}, true},
		{"help after flag", []string{"--json", "--help"}, true},
		{"help belongs to the command", []string{"man", "-h"}, false},
		{"terminator stops the scan", []string{"--", "--help"}, false},
		{"no help", []string{"--timeout", "60", "sleep", "5"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasLeadingHelpFlag(tt.args); got != tt.want {
				t.Fatalf("hasLeadingHelpFlag(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}

func TestExitCodeForResult(t *testing.T) {
	tests := []struct {
		name string
		res  client.Result
		want int
	}{
		{"completed", client.Result{Status: client.StatusCompleted, ExitCode: 0}, 0},
		{"failed", client.Result{Status: client.StatusFailed, ExitCode: 2}, 2},
		{"killed by SIGTERM", client.Result{Status: client.StatusCancelled, ExitCode: -15}, 143},
		{"watchdog error", client.Result{Status: client.StatusError, Reason: "deadline_exceeded"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(&tt.res); got != tt.want {
				t.Fatalf("exitCodeFor(%+v) = %d, want %d", tt.res, got, tt.want)
			}
		})
	}
}

func TestRunConfigShowResolvedConfig(t *testing.T) {
	configPath := writeConfigFixture(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigShow([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigShow() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "listen: 127.0.0.1:9999") {
		t.Fatalf("stdout missing overridden listen: %s", stdout)
	}
	if !strings.Contains(stdout, "name: test-crucible") {
		t.Fatalf("stdout missing service name: %s", stdout)
	}
	// Defaults fill in where the file is silent.
	if !strings.Contains(stdout, "max_sessions: 100") {
		t.Fatalf("stdout missing defaulted limit: %s", stdout)
	}
}

func TestRunConfigShowNode(t *testing.T) {
	configPath := writeConfigFixture(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigShow([]string{"--config", configPath, "server"})
	})
	if code != 0 {
		t.Fatalf("runConfigShow() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "listen: 127.0.0.1:9999") {
		t.Fatalf("stdout missing server node: %s", stdout)
	}
	if strings.Contains(stdout, "log_level") {
		t.Fatalf("stdout should only contain the server node: %s", stdout)
	}
}

func TestRunConfigGetValue(t *testing.T) {
	configPath := writeConfigFixture(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigGet([]string{"--config", configPath, "server.listen"})
	})
	if code != 0 {
		t.Fatalf("runConfigGet() code = %d, stderr: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "127.0.0.1:9999" {
		t.Fatalf("stdout = %q, want the listen address", stdout)
	}
}

func TestRunConfigGetUnknownPathFails(t *testing.T) {
	configPath := writeConfigFixture(t, t.TempDir())

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigGet([]string{"--config", configPath, "server.missing"})
	})
	if code != 1 {
		t.Fatalf("runConfigGet() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "not found") {
		t.Fatalf("stderr missing lookup error: %s", stderr)
	}
}

func TestRunConfigCheckValidConfig(t *testing.T) {
	configPath := writeConfigFixture(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigCheck() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Configuration valid") {
		t.Fatalf("stdout missing validity summary: %s", stdout)
	}
}

func TestRunConfigCheckJSON(t *testing.T) {
	configPath := writeConfigFixture(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("runConfigCheck() code = %d, stderr: %s", code, stderr)
	}

	var out struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("failed to parse check JSON: %v\noutput=%s", err, stdout)
	}
	if !out.Valid {
		t.Fatalf("valid = false, output=%s", stdout)
	}
}

func TestRunConfigCheckStrictTreatsWarningsAsErrors(t *testing.T) {
	// The fixture has no auth token, which the doctor flags as a warning.
	configPath := writeConfigFixture(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath, "--strict"})
	})
	if code != 2 {
		t.Fatalf("runConfigCheck() code = %d, want 2\nstdout=%s stderr=%s", code, stdout, stderr)
	}
}

func TestRunConfigCheckRejectsBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	configYAML := `
limits:
  max_sessions: -1
history:
  path: ` + filepath.Join(dir, "history.db") + `
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 1 {
		t.Fatalf("runConfigCheck() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "limits.max_sessions") {
		t.Fatalf("stderr missing field path: %s", stderr)
	}
}

func TestRunHistoryListEmpty(t *testing.T) {
	configPath := writeConfigFixture(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runHistoryList([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runHistoryList() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "No executions recorded.") {
		t.Fatalf("stdout missing empty notice: %s", stdout)
	}
}

func TestRunHistoryListShowsRecordedExecutions(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfigFixture(t, dir)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	store := history.New(db)
	exitZero := 0
	exitTwo := 2
	if _, err := store.RecordExecution(ctx, history.Record{
		SessionID: "sess-1", Command: "echo hello", Status: "completed",
		ExitCode: &exitZero, Duration: 1.5,
	}); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	if _, err := store.RecordExecution(ctx, history.Record{
		SessionID: "sess-1", Command: "make test", Status: "failed",
		ExitCode: &exitTwo, Duration: 12.25,
	}); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runHistoryList([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runHistoryList() code = %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"COMMAND", "echo hello", "completed", "make test", "failed"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q: %s", want, stdout)
		}
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runHistoryList([]string{"--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("runHistoryList(--json) code = %d, stderr: %s", code, stderr)
	}
	var execs []history.Execution
	if err := json.Unmarshal([]byte(stdout), &execs); err != nil {
		t.Fatalf("failed to parse history JSON: %v\noutput=%s", err, stdout)
	}
	if len(execs) != 2 {
		t.Fatalf("len(execs) = %d, want 2", len(execs))
	}
}

func healthHandler(t *testing.T, wantAuth string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != wantAuth {
			t.Errorf("Authorization = %q, want %q", got, wantAuth)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"crucible","version":"1.2.3",` +
			`"active_sessions":2,"max_sessions":100,"uptime_seconds":61}`))
	}
}

func TestRunSystemStatusHealthy(t *testing.T) {
	t.Setenv("CRUCIBLE_TOKEN", "")
	ts := httptest.NewServer(healthHandler(t, ""))
	defer ts.Close()

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--url", ts.URL})
	})
	if code != 0 {
		t.Fatalf("runSystemStatus() code = %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"Status:   healthy", "crucible 1.2.3", "2/100 active", "1m1s"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q: %s", want, stdout)
		}
	}
}

func TestRunSystemStatusSendsBearerToken(t *testing.T) {
	ts := httptest.NewServer(healthHandler(t, "Bearer sekrit"))
	defer ts.Close()

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--url", ts.URL, "--token", "sekrit"})
	})
	if code != 0 {
		t.Fatalf("runSystemStatus() code = %d, stderr: %s", code, stderr)
	}
}

func TestRunSystemStatusJSON(t *testing.T) {
	t.Setenv("CRUCIBLE_TOKEN", "")
	ts := httptest.NewServer(healthHandler(t, ""))
	defer ts.Close()

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--url", ts.URL, "--json"})
	})
	if code != 0 {
		t.Fatalf("runSystemStatus() code = %d, stderr: %s", code, stderr)
	}

	var out struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("failed to parse status JSON: %v\noutput=%s", err, stdout)
	}
	if out.Status != "healthy" || out.ActiveSessions != 2 {
		t.Fatalf("unexpected status payload: %s", stdout)
	}
}

func TestRunSystemStatusUnauthorized(t *testing.T) {
	t.Setenv("CRUCIBLE_TOKEN", "")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--url", ts.URL})
	})
	if code != 1 {
		t.Fatalf("runSystemStatus() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unauthorized") {
		t.Fatalf("stderr missing auth hint: %s", stderr)
	}
}

func TestRunSystemStatusServerDown(t *testing.T) {
	t.Setenv("CRUCIBLE_TOKEN", "")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--url", url})
	})
	if code != 1 {
		t.Fatalf("runSystemStatus() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "not reachable") {
		t.Fatalf("stderr missing reachability message: %s", stderr)
	}
}

func TestRunSystemStatusUnhealthyExitsNonzero(t *testing.T) {
	t.Setenv("CRUCIBLE_TOKEN", "")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"degraded","service":"crucible","version":"1.2.3"}`))
	}))
	defer ts.Close()

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--url", ts.URL})
	})
	if code != 1 {
		t.Fatalf("runSystemStatus() code = %d, want 1", code)
	}
	if !strings.Contains(stdout, "degraded") {
		t.Fatalf("stdout should still report the status: %s", stdout)
	}
}

func TestResolveServerURLs(t *testing.T) {
	configPath := writeConfigFixture(t, t.TempDir())

	t.Run("flag wins", func(t *testing.T) {
		got, err := resolveAPIURL("http://example.test:1", configPath)
		if err != nil {
			t.Fatalf("resolveAPIURL: %v", err)
		}
		if got != "http://example.test:1" {
			t.Fatalf("resolveAPIURL = %q", got)
		}
	})

	t.Run("from config", func(t *testing.T) {
		got, err := resolveAPIURL("", configPath)
		if err != nil {
			t.Fatalf("resolveAPIURL: %v", err)
		}
		if got != "http://127.0.0.1:9999" {
			t.Fatalf("resolveAPIURL = %q", got)
		}
	})

	t.Run("websocket from config", func(t *testing.T) {
		got, err := resolveWSURL("", configPath)
		if err != nil {
			t.Fatalf("resolveWSURL: %v", err)
		}
		if got != "ws://127.0.0.1:9999/ws/custom" {
			t.Fatalf("resolveWSURL = %q", got)
		}
	})

	t.Run("discovery via env", func(t *testing.T) {
		t.Setenv("CRUCIBLE_CONFIG", configPath)
		got, err := resolveAPIURL("", "")
		if err != nil {
			t.Fatalf("resolveAPIURL: %v", err)
		}
		if got != "http://127.0.0.1:9999" {
			t.Fatalf("resolveAPIURL = %q", got)
		}
	})
}
