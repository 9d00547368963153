package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/mattjoyce/crucible/internal/config"
)

const (
	// warningExcerptLimit bounds how much hook output is forwarded to a
	// client in a warning notification. The full output stays in the Result.
	warningExcerptLimit = 500

	// terminationGrace is the wait after SIGTERM before a timed-out hook is
	// force-killed.
	terminationGrace = 500 * time.Millisecond
)

// missingExecPrefix is the error produced when a hook's executable cannot be
// resolved. MissingExecutable relies on this exact wording.
const missingExecPrefix = "Executable not found: "

// Result is the outcome of one hook execution.
type Result struct {
	HookType string `json:"hook_type"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`
	Success  bool   `json:"success"`
}

// Reason summarizes why a failed hook failed, for warning notifications.
func (res Result) Reason() string {
	if res.Error != "" {
		return res.Error
	}
	return fmt.Sprintf("exit status %d", res.ExitCode)
}

// Status describes the current hook configuration, for diagnostics and the
// get_status response.
type Status struct {
	Enabled bool     `json:"enabled"`
	Path    string   `json:"path"`
	Hooks   []string `json:"hooks_configured"`
	Timeout float64  `json:"timeout_seconds"`
}

// Runner executes lifecycle hooks configured in a JSON file. Hook commands
// never go through a shell: each command string is tokenized into an argument
// vector and the executable is resolved before anything is spawned. A hook
// failure is reported in its Result but is never fatal to the caller.
type Runner struct {
	path           string
	reload         bool
	defaultTimeout time.Duration
	logger         *slog.Logger

	mu   sync.RWMutex
	file *File

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a hook runner and loads the configuration file if present. A
// missing file means hooks are disabled, not an error.
func New(cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		path:           cfg.Hooks.Path,
		reload:         cfg.Hooks.Reload,
		defaultTimeout: cfg.Timeouts.DefaultHook,
		logger:         logger.With("component", "hooks"),
		stopCh:         make(chan struct{}),
	}
	if r.defaultTimeout <= 0 {
		r.defaultTimeout = 60 * time.Second
	}
	r.Reload()
	return r
}

// Enabled reports whether any hooks are configured.
func (r *Runner) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.file != nil && len(r.file.Hooks) > 0
}

// Reload re-reads the hook configuration from disk. A missing file disables
// hooks; a malformed file keeps the previous configuration.
func (r *Runner) Reload() {
	if r.path == "" {
		return
	}
	f, err := LoadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.mu.Lock()
			had := r.file != nil
			r.file = nil
			r.mu.Unlock()
			if had {
				r.logger.Info("Hook configuration removed, hooks disabled", "path", r.path)
			} else {
				r.logger.Debug("No hook configuration found", "path", r.path)
			}
			return
		}
		r.logger.Warn("Hook configuration unreadable", "path", r.path, "error", err)
		return
	}

	r.mu.Lock()
	r.file = f
	r.mu.Unlock()
	r.logger.Info("Hook configuration loaded", "path", r.path, "hooks", f.Names())
}

// Status returns the current hook configuration summary.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{Path: r.path, Timeout: r.defaultTimeout.Seconds()}
	if r.file != nil {
		st.Enabled = len(r.file.Hooks) > 0
		st.Hooks = r.file.Names()
		if gt := r.file.GlobalTimeout(); gt > 0 {
			st.Timeout = gt.Seconds()
		}
	}
	return st
}

// Run executes the hooks configured for hookType in order and returns their
// results. It returns nil when none are configured. A failing hook never
// stops the remaining ones. Context values are exposed to each hook as
// CRUCIBLE_<KEY> environment variables.
func (r *Runner) Run(ctx context.Context, hookType string, hookCtx map[string]any) []Result {
	r.mu.RLock()
	file := r.file
	r.mu.RUnlock()

	if file == nil {
		return nil
	}
	list := file.Hooks[hookType]
	if len(list) == 0 {
		return nil
	}

	env := buildEnv(file.Env, hookCtx)

	var results []Result
	for _, h := range list {
		if h.Command == "" {
			continue
		}
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = file.GlobalTimeout()
		}
		if timeout <= 0 {
			timeout = r.defaultTimeout
		}
		results = append(results, r.runOne(ctx, hookType, h.Command, env, timeout))
	}
	return results
}

// runOne executes a single hook command and always returns a Result.
func (r *Runner) runOne(ctx context.Context, hookType, command string, env []string, timeout time.Duration) Result {
	res := Result{HookType: hookType}

	argv, err := shellwords.Parse(command)
	if err != nil {
		r.logger.Error("Invalid hook command", "hook", hookType, "error", err)
		res.Error = fmt.Sprintf("invalid command: %v", err)
		return res
	}
	if len(argv) == 0 {
		res.Error = "invalid command: empty"
		return res
	}

	// Resolve the executable up front so a bad hook never spawns anything.
	// LookPath verifies absolute and relative paths and searches PATH for
	// bare names.
	path, err := exec.LookPath(argv[0])
	if err != nil {
		r.logger.Error("Hook executable not found", "hook", hookType, "executable", argv[0])
		res.Error = missingExecPrefix + argv[0]
		return res
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Termination is managed here, so plain Command rather than CommandContext.
	cmd := exec.Command(path, argv[1:]...)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Running hook", "hook", hookType, "command", command, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		res.Error = fmt.Sprintf("start hook: %v", err)
		return res
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timer.C:
		r.logger.Warn("Hook timed out", "hook", hookType, "timeout", timeout)
		r.terminate(cmd, waitErr)
		res.Error = "timeout"
		return res

	case <-ctx.Done():
		r.terminate(cmd, waitErr)
		res.Error = ctx.Err().Error()
		return res

	case err := <-waitErr:
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		if err != nil {
			exitErr, ok := err.(*exec.ExitError)
			if !ok {
				res.Error = err.Error()
				return res
			}
			res.ExitCode = exitErr.ExitCode()
			r.logger.Warn("Hook failed", "hook", hookType,
				"exit_code", res.ExitCode, "stderr", Excerpt(res.Stderr))
			return res
		}
		res.Success = true
		return res
	}
}

// terminate sends SIGTERM, waits briefly, then kills. The wait channel is
// always drained so the hook process is reaped.
func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			r.logger.Debug("Failed to signal hook", "error", err)
		}
	}

	grace := time.NewTimer(terminationGrace)
	defer grace.Stop()

	select {
	case <-waitErr:
	case <-grace.C:
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waitErr
	}
}

// buildEnv extends the process environment with file-level env entries and
// the hook context. Later entries win over earlier duplicates.
func buildEnv(extra map[string]string, hookCtx map[string]any) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	for k, v := range hookCtx {
		env = append(env, "CRUCIBLE_"+strings.ToUpper(k)+"="+encodeValue(v))
	}
	return env
}

// encodeValue renders a context value for the environment. Scalars pass
// through as plain text; anything structured becomes compact JSON so a hook
// can decode exactly what it was passed.
func encodeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// Excerpt bounds hook output for inclusion in a warning notification.
func Excerpt(s string) string {
	if len(s) > warningExcerptLimit {
		return s[:warningExcerptLimit]
	}
	return s
}

// MissingExecutable extracts the executable name from a resolution-failure
// error string, reporting whether the error is of that kind.
func MissingExecutable(errText string) (string, bool) {
	return strings.CutPrefix(errText, missingExecPrefix)
}

// HeadToken returns the first token of a command line. Quoting-aware
// tokenization is preferred; a command that cannot be tokenized falls
// back to whitespace splitting so unbalanced quotes still yield a head.
func HeadToken(command string) string {
	argv, err := shellwords.Parse(command)
	if err == nil && len(argv) > 0 {
		return argv[0]
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
