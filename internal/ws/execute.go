package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/crucible/internal/estimate"
	"github.com/mattjoyce/crucible/internal/history"
	"github.com/mattjoyce/crucible/internal/hooks"
	"github.com/mattjoyce/crucible/internal/process"
	"github.com/mattjoyce/crucible/internal/protocol"
	"github.com/mattjoyce/crucible/internal/stream"
)

// Watchdog verdicts, reported as the reason on process.error.
const (
	reasonDeadline = "deadline_exceeded"
	reasonStall    = "stall_timeout"
)

// outputHeadLimit bounds the output excerpt handed to post-hooks.
const outputHeadLimit = 1000

// execution is one in-flight command run. The conn owns at most one at a
// time; the handle and verdict are guarded because the control handler,
// the watchdog, and the stream sink touch them concurrently.
type execution struct {
	command   string
	est       estimate.Estimate
	startedAt time.Time

	cancelCh   chan struct{}
	cancelOnce sync.Once
	cancelled  atomic.Bool
	lastOutput atomic.Int64

	mu      sync.Mutex
	handle  *process.Handle
	verdict string
	head    strings.Builder
	words   int
}

func newExecution(command string) *execution {
	return &execution{
		command:  command,
		cancelCh: make(chan struct{}),
	}
}

// requestCancel marks the execution cancelled and wakes the watchdog,
// which escalates to a full process-group termination.
func (ex *execution) requestCancel() {
	ex.cancelled.Store(true)
	ex.cancelOnce.Do(func() { close(ex.cancelCh) })
}

func (ex *execution) setHandle(h *process.Handle) {
	ex.mu.Lock()
	ex.handle = h
	ex.mu.Unlock()
}

func (ex *execution) getHandle() *process.Handle {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.handle
}

// setVerdict records the first watchdog firing; later firings lose.
func (ex *execution) setVerdict(reason string) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.verdict != "" {
		return false
	}
	ex.verdict = reason
	return true
}

func (ex *execution) currentVerdict() string {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.verdict
}

// noteOutput feeds the stall clock and accumulates the bounded head and
// rough word count used in post-hook context.
func (ex *execution) noteOutput(data string) {
	ex.lastOutput.Store(time.Now().UnixNano())

	ex.mu.Lock()
	if remaining := outputHeadLimit - ex.head.Len(); remaining > 0 {
		if len(data) > remaining {
			data = data[:remaining]
		}
		ex.head.WriteString(data)
	}
	ex.words += len(strings.Fields(data))
	ex.mu.Unlock()
}

func (ex *execution) lastOutputTime() time.Time {
	return time.Unix(0, ex.lastOutput.Load())
}

func (ex *execution) outputSummary() (string, int) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.head.String(), ex.words
}

func (c *conn) handleExecute(req *protocol.Request) {
	var params protocol.ExecuteParams
	if err := req.DecodeParams(&params); err != nil {
		c.respondError(req.ID, protocol.CodeInvalidParams, err.Error(), nil)
		return
	}

	if msg := commandAllowed(c.srv.cfg, params.Command); msg != "" {
		c.respondError(req.ID, protocol.CodeCommandNotAllowed, msg, nil)
		return
	}

	c.mu.Lock()
	if c.exec != nil {
		c.mu.Unlock()
		c.respondError(req.ID, protocol.CodeInvalidParams, "A process is already running", nil)
		return
	}
	ex := newExecution(params.Command)
	c.exec = ex
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runExecution(ex, req.ID, params)
}

// runExecution drives one command from pre-hooks to the terminal
// notification. Every exit path ends in process.completed or
// process.error and clears the process from the session.
func (c *conn) runExecution(ex *execution, id json.RawMessage, params protocol.ExecuteParams) {
	defer c.wg.Done()
	defer c.retire(ex)

	c.logger.Info("Executing command", "command", logExcerpt(ex.command))

	c.runPreHooks(ex)

	ex.est = c.srv.estimator.Estimate(c.ctx, ex.command,
		time.Duration(params.Timeout)*time.Second,
		time.Duration(params.StallTimeout)*time.Second)
	c.logger.Info("Timeout budget",
		"timeout", ex.est.Timeout.String(),
		"stall", ex.est.Stall.String(),
		"method", ex.est.Method,
		"confidence", ex.est.Confidence)

	handle, err := c.srv.processes.Spawn(ex.command)
	if err != nil {
		c.logger.Error("Failed to spawn process", "error", err)
		c.respondError(id, protocol.CodeInternalError, err.Error(), nil)
		c.notifyError(err.Error(), "")
		return
	}
	ex.setHandle(handle)
	ex.startedAt = time.Now()
	ex.lastOutput.Store(ex.startedAt.UnixNano())

	c.srv.sessions.SetProcess(c.id, handle.PID, handle.PGID)
	c.respond(id, protocol.ExecuteResult{Status: "started", PID: handle.PID, PGID: handle.PGID})
	c.notify(protocol.NotifyStarted, protocol.StartedParams{PID: handle.PID, PGID: handle.PGID})
	c.srv.events.Publish("process.started", c.id, map[string]any{
		"pid":     handle.PID,
		"pgid":    handle.PGID,
		"command": logExcerpt(ex.command),
	})

	stopWatch := make(chan struct{})
	go c.watchdog(ex, stopWatch)

	sink := func(line stream.Line) {
		ex.noteOutput(line.Data)
		c.notify(protocol.NotifyOutput, protocol.OutputParams{
			Type:      line.Stream,
			Data:      line.Data,
			Truncated: line.Truncated,
		})
	}
	totals := func(name string, delta int64) {
		if name == stream.Stdout {
			c.srv.sessions.AddOutputBytes(c.id, delta, 0)
		} else {
			c.srv.sessions.AddOutputBytes(c.id, 0, delta)
		}
	}

	outRes, errRes := c.srv.streams.Pump(handle.Stdout(), handle.Stderr(), sink, totals)

	// The pipes are at EOF, so the group is dead or dying; cleanup on
	// every path above guarantees this returns.
	code, waitErr := handle.Wait(context.Background())
	close(stopWatch)

	duration := time.Since(ex.startedAt)
	c.runPostHooks(ex, code, duration)

	verdict := ex.currentVerdict()
	status := terminalStatus(verdict, ex.cancelled.Load(), code, waitErr)

	switch {
	case verdict == reasonDeadline:
		c.notifyError(fmt.Sprintf("Execution exceeded its %s deadline", ex.est.Timeout), reasonDeadline)
	case verdict == reasonStall:
		c.notifyError(fmt.Sprintf("No output for %s, execution stalled", ex.est.Stall), reasonStall)
	case waitErr != nil:
		c.notifyError(waitErr.Error(), "")
	default:
		c.notify(protocol.NotifyCompleted, protocol.CompletedParams{Status: status, ExitCode: code})
		c.srv.events.Publish("process.completed", c.id, map[string]any{
			"status":           status,
			"exit_code":        code,
			"duration_seconds": duration.Seconds(),
		})
	}

	c.recordHistory(ex, status, code, waitErr, duration, outRes, errRes)

	c.logger.Info("Process finished",
		"exit_code", code,
		"status", status,
		"duration", duration.String(),
		"stdout_bytes", outRes.Bytes,
		"stderr_bytes", errRes.Bytes,
		"dropped_lines", outRes.Dropped+errRes.Dropped)
}

// watchdog enforces the total deadline and the stall window, and carries
// out cancellation requests. Whichever fires first terminates the group.
func (c *conn) watchdog(ex *execution, stop <-chan struct{}) {
	deadline := time.NewTimer(ex.est.Timeout)
	defer deadline.Stop()
	stall := time.NewTimer(ex.est.Stall)
	defer stall.Stop()

	for {
		select {
		case <-stop:
			return

		case <-ex.cancelCh:
			c.logger.Info("Cancellation requested, terminating process group")
			c.terminate(ex)
			return

		case <-deadline.C:
			if ex.setVerdict(reasonDeadline) {
				c.logger.Warn("Execution deadline exceeded", "deadline", ex.est.Timeout.String())
				c.terminate(ex)
			}
			return

		case <-stall.C:
			idle := time.Since(ex.lastOutputTime())
			if idle < ex.est.Stall {
				stall.Reset(ex.est.Stall - idle)
				continue
			}
			if ex.setVerdict(reasonStall) {
				c.logger.Warn("Output stalled", "stall", ex.est.Stall.String(), "idle", idle.String())
				c.terminate(ex)
			}
			return
		}
	}
}

func (c *conn) terminate(ex *execution) {
	handle := ex.getHandle()
	if handle == nil {
		return
	}
	if _, err := handle.Terminate(context.Background()); err != nil {
		c.logger.Error("Failed to terminate process group", "pgid", handle.PGID, "error", err)
	}
}

// retire detaches the finished execution so the session can accept the
// next execute.
func (c *conn) retire(ex *execution) {
	c.mu.Lock()
	if c.exec == ex {
		c.exec = nil
	}
	c.mu.Unlock()
	c.srv.sessions.ClearProcess(c.id)
}

func terminalStatus(verdict string, cancelled bool, code int, waitErr error) string {
	switch {
	case verdict != "":
		return history.StatusTimeout
	case cancelled:
		return history.StatusCancelled
	case waitErr != nil || code != 0:
		return history.StatusFailed
	default:
		return history.StatusCompleted
	}
}

func (c *conn) runPreHooks(ex *execution) {
	if c.srv.hooks == nil {
		return
	}
	hookCtx := map[string]any{
		"command":    ex.command,
		"session_id": c.id,
	}
	c.emitHookResults(ex.command, c.srv.hooks.Run(c.ctx, hooks.PreExecute, hookCtx))
	if isClaudeCommand(ex.command) {
		c.emitHookResults(ex.command, c.srv.hooks.Run(c.ctx, hooks.PreClaude, hookCtx))
	}
	c.emitHookResults(ex.command, c.srv.hooks.Run(c.ctx, hooks.PreTool, hookCtx))
}

func (c *conn) runPostHooks(ex *execution, code int, duration time.Duration) {
	if c.srv.hooks == nil {
		return
	}
	head, words := ex.outputSummary()
	hookCtx := map[string]any{
		"command":    ex.command,
		"session_id": c.id,
		"exit_code":  code,
		"duration":   duration.Seconds(),
		"output":     head,
		"tokens":     words,
	}
	c.emitHookResults(ex.command, c.srv.hooks.Run(c.ctx, hooks.PostTool, hookCtx))
	c.emitHookResults(ex.command, c.srv.hooks.Run(c.ctx, hooks.PostOutput, hookCtx))
	if isClaudeCommand(ex.command) {
		c.emitHookResults(ex.command, c.srv.hooks.Run(c.ctx, hooks.PostClaude, hookCtx))
	}
}

// emitHookResults forwards every hook failure as a hook.warning. When the
// failure is a missing executable whose name is also the primary command's
// head token, the command itself is suspect and an additional
// command.validation_warning is emitted.
func (c *conn) emitHookResults(command string, results []hooks.Result) {
	for _, res := range results {
		if res.Success {
			continue
		}
		c.logger.Warn("Hook reported failure", "hook_type", res.HookType, "reason", res.Reason())
		c.notify(protocol.NotifyHookWarning, protocol.HookWarningParams{
			HookType:      res.HookType,
			Error:         res.Reason(),
			StderrExcerpt: hooks.Excerpt(res.Stderr),
			Severity:      "warning",
		})
		c.srv.events.Publish("hook.warning", c.id, map[string]any{
			"hook_type": res.HookType,
			"error":     res.Reason(),
		})

		if name, ok := hooks.MissingExecutable(res.Error); ok && name != "" && name == hooks.HeadToken(command) {
			c.notify(protocol.NotifyValidationWarning, protocol.ValidationWarningParams{
				Command: command,
				Warning: fmt.Sprintf("Command looks invalid: %s", res.Error),
			})
		}
	}
}

func (c *conn) notifyError(message, reason string) {
	c.notify(protocol.NotifyError, protocol.ErrorParams{Message: message, Reason: reason})
	c.srv.events.Publish("process.error", c.id, map[string]any{
		"message": message,
		"reason":  reason,
	})
}

func (c *conn) recordHistory(ex *execution, status string, code int, waitErr error, duration time.Duration, outRes, errRes stream.Result) {
	if c.srv.store == nil {
		return
	}
	rec := history.Record{
		SessionID:   c.id,
		Command:     ex.command,
		Category:    estimate.Classify(ex.command).Category,
		Status:      status,
		Duration:    duration.Seconds(),
		StdoutBytes: outRes.Bytes,
		StderrBytes: errRes.Bytes,
	}
	if waitErr == nil {
		exit := code
		rec.ExitCode = &exit
	}
	if _, err := c.srv.store.RecordExecution(context.Background(), rec); err != nil {
		c.logger.Warn("Failed to record execution history", "error", err)
	}
}

func isClaudeCommand(command string) bool {
	return strings.Contains(strings.ToLower(command), "claude")
}

func logExcerpt(command string) string {
	if len(command) > 100 {
		return command[:100] + "..."
	}
	return command
}
