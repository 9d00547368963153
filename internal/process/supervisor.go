package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/crucible/internal/config"
	"github.com/mattjoyce/crucible/internal/log"
)

// Control actions accepted over the wire.
const (
	ControlPause  = "PAUSE"
	ControlResume = "RESUME"
	ControlCancel = "CANCEL"
)

// ErrProcessNotFound is returned when a signal targets a process group
// that no longer exists. Callers treat it as benign: the process already
// finished on its own.
var ErrProcessNotFound = errors.New("process not found")

// UnknownControlError rejects control actions outside the PAUSE, RESUME,
// CANCEL set without touching the process.
type UnknownControlError struct {
	Type string
}

func (e *UnknownControlError) Error() string {
	return fmt.Sprintf("unknown control type: %q (must be one of PAUSE, RESUME, CANCEL)", e.Type)
}

// shellPaths is the preference order for the shell that runs commands.
var shellPaths = []string{"/bin/bash", "/bin/sh"}

// unbufferedTools are CLIs that block-buffer their output when not on a
// tty. Commands starting with one of these get wrapped with stdbuf so
// lines stream out as they are produced.
var unbufferedTools = []string{"claude", "python", "node", "npm", "npx"}

// Supervisor spawns commands in their own process groups and controls
// them over their whole lifecycle.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger
}

func New(cfg *config.Config) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		logger: log.WithComponent("process"),
	}
}

// Handle is one spawned process. Stdout and Stderr stay open until the
// process exits; Wait observes the exit exactly once regardless of how
// many callers need it.
type Handle struct {
	PID  int
	PGID int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	grace   time.Duration
	cleanup time.Duration
	logger  *slog.Logger

	done     chan struct{}
	exitCode int
	waitErr  error
}

// Spawn starts command under a shell in a fresh process group. The
// returned handle owns the output pipes; the caller must drain them.
func (s *Supervisor) Spawn(command string) (*Handle, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command is empty")
	}

	wrapped := wrapUnbuffered(command)
	cmd := exec.Command(preferredShell(), "-c", wrapped)
	cmd.Env = s.buildEnv()
	// Fresh process group so signals reach the command and every child
	// it forks, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		_ = stderrR.Close()
		_ = stderrW.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	// The child holds its own copies of the write ends; closing ours
	// lets readers see EOF when the process group dies.
	_ = stdoutW.Close()
	_ = stderrW.Close()

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	h := &Handle{
		PID:     pid,
		PGID:    pgid,
		cmd:     cmd,
		stdout:  stdoutR,
		stderr:  stderrR,
		grace:   s.cfg.Timeouts.TerminationGrace,
		cleanup: s.cfg.Timeouts.ProcessCleanup,
		logger:  s.logger.With("pid", pid),
		done:    make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		h.exitCode, h.waitErr = exitCodeFrom(err)
		close(h.done)
	}()

	s.logger.Info("Started process", "pid", pid, "pgid", pgid, "command", truncateForLog(command))
	return h, nil
}

// Stdout is the process's standard output stream.
func (h *Handle) Stdout() io.Reader { return h.stdout }

// Stderr is the process's standard error stream.
func (h *Handle) Stderr() io.Reader { return h.stderr }

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Alive probes the process with a zero signal.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	return syscall.Kill(h.PID, 0) == nil
}

// GroupAlive probes the whole process group with a zero signal.
func (h *Handle) GroupAlive() bool {
	return h.signalGroup(0) == nil
}

// Control applies a PAUSE, RESUME or CANCEL action to the process group.
func (h *Handle) Control(action string) error {
	var sig syscall.Signal
	switch action {
	case ControlPause:
		sig = syscall.SIGSTOP
	case ControlResume:
		sig = syscall.SIGCONT
	case ControlCancel:
		sig = syscall.SIGTERM
	default:
		return &UnknownControlError{Type: action}
	}

	if err := h.signalGroup(sig); err != nil {
		return err
	}
	h.logger.Info("Sent signal to process group", "signal", sig.String(), "action", action, "pgid", h.PGID)
	return nil
}

// Wait blocks until the process exits and returns its exit code. A
// signal death reports the negated signal number.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.done:
		return h.exitCode, h.waitErr
	}
}

// Terminate shuts the process group down: SIGTERM, a grace period for a
// clean exit, then SIGKILL with a bounded wait for the kernel to reap.
func (h *Handle) Terminate(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		return h.exitCode, h.waitErr
	default:
	}

	if err := h.signalGroup(syscall.SIGTERM); err != nil && !errors.Is(err, ErrProcessNotFound) {
		h.logger.Error("Failed to send SIGTERM", "pgid", h.PGID, "error", err)
	} else {
		h.logger.Info("Sent SIGTERM to process group", "pgid", h.PGID)
	}

	graceTimer := time.NewTimer(h.grace)
	defer graceTimer.Stop()
	select {
	case <-h.done:
		h.logger.Info("Process terminated gracefully", "exit_code", h.exitCode)
		return h.exitCode, h.waitErr
	case <-graceTimer.C:
		h.logger.Info("Process did not terminate within grace period, will force kill", "grace", h.grace.String())
	}

	// Brief pause so a just-now-exiting group is reaped before SIGKILL.
	time.Sleep(100 * time.Millisecond)
	if err := h.signalGroup(syscall.SIGKILL); err != nil {
		if errors.Is(err, ErrProcessNotFound) {
			h.logger.Info("Process group already terminated", "pgid", h.PGID)
		} else {
			h.logger.Error("Failed to send SIGKILL", "pgid", h.PGID, "error", err)
		}
	} else {
		h.logger.Warn("Sent SIGKILL to process group", "pgid", h.PGID)
	}

	cleanupTimer := time.NewTimer(h.cleanup)
	defer cleanupTimer.Stop()
	select {
	case <-h.done:
		h.logger.Info("Process terminated", "exit_code", h.exitCode)
		return h.exitCode, h.waitErr
	case <-cleanupTimer.C:
		return 0, fmt.Errorf("process %d could not be terminated", h.PID)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// signalGroup is the single choke point for delivering signals. Kill
// with the negated pgid addresses the whole process group.
func (h *Handle) signalGroup(sig syscall.Signal) error {
	if err := syscall.Kill(-h.PGID, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessNotFound
		}
		return err
	}
	return nil
}

func exitCodeFrom(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait for process: %w", err)
}

// buildEnv copies the daemon environment, forces unbuffered output, and
// strips credentials the child must not inherit.
func (s *Supervisor) buildEnv() []string {
	env := os.Environ()
	out := make([]string, 0, len(env)+2)
	for _, kv := range env {
		if !s.cfg.Security.KeepAPIKeys && strings.HasPrefix(kv, "ANTHROPIC_API_KEY=") {
			s.logger.Info("ANTHROPIC_API_KEY found in environment, removing it")
			continue
		}
		out = append(out, kv)
	}
	out = append(out, "PYTHONUNBUFFERED=1", "NODE_NO_READLINE=1")
	return out
}

func preferredShell() string {
	for _, p := range shellPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "/bin/sh"
}

// wrapUnbuffered prefixes known block-buffering CLIs with stdbuf when it
// is on PATH.
func wrapUnbuffered(command string) string {
	trimmed := strings.TrimSpace(command)
	for _, tool := range unbufferedTools {
		if strings.HasPrefix(trimmed, tool) {
			if _, err := exec.LookPath("stdbuf"); err == nil {
				return "stdbuf -o0 -e0 " + command
			}
			return command
		}
	}
	return command
}

func truncateForLog(command string) string {
	if len(command) > 100 {
		return command[:100] + "..."
	}
	return command
}
