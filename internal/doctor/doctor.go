// Package doctor validates crucible configuration against the environment
// it will run in: hook executables, storage paths, command allowlists.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/mattjoyce/crucible/internal/config"
	"github.com/mattjoyce/crucible/internal/hooks"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the host environment.
// Config-shape errors come from config.Validate; the doctor adds the checks
// that need the filesystem and PATH.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validateListen(r)
	d.validateHooks(r)
	d.validateHistoryStorage(r)
	d.validateLockPath(r)
	d.validateAllowedCommands(r)
	d.warnMissingAuth(r)
	d.warnShortSessionTimeout(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConfig reruns the load-time validation so a doctor run on a config
// that was never loaded through Load still reports shape problems.
func (d *Doctor) validateConfig(r *Result) {
	if err := config.Validate(d.cfg); err != nil {
		field, msg, found := strings.Cut(err.Error(), ": ")
		if !found {
			field, msg = "", err.Error()
		}
		d.addError(r, "config", field, msg)
	}
}

// validateListen checks that the listen address parses as host:port.
func (d *Doctor) validateListen(r *Result) {
	listen := d.cfg.Server.Listen
	if listen == "" {
		return
	}
	if _, _, err := net.SplitHostPort(listen); err != nil {
		d.addError(r, "server", "server.listen",
			fmt.Sprintf("listen address %q is not host:port: %v", listen, err))
	}
}

// validateHooks loads the hook file and checks every configured command:
// it must tokenize, and its executable should resolve on PATH. A missing
// executable is a warning because hook failures are non-fatal at runtime.
func (d *Doctor) validateHooks(r *Result) {
	path := d.cfg.Hooks.Path
	if path == "" {
		return
	}

	f, err := hooks.LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.addWarning(r, "hooks", "hooks.path",
				fmt.Sprintf("hook file %q not found; hooks are disabled", path))
			return
		}
		d.addError(r, "hooks", "hooks.path",
			fmt.Sprintf("hook file %q unreadable: %v", path, err))
		return
	}

	known := make(map[string]bool)
	for _, name := range hooks.KnownTypes() {
		known[name] = true
	}

	for _, name := range f.Names() {
		field := fmt.Sprintf("hooks.%s", name)
		if !known[name] {
			d.addWarning(r, "hooks", field,
				fmt.Sprintf("hook type %q is not a lifecycle point and never fires", name))
		}

		for _, h := range f.Hooks[name] {
			if strings.TrimSpace(h.Command) == "" {
				d.addError(r, "hooks", field, "hook command is empty")
				continue
			}
			argv, err := shellwords.Parse(h.Command)
			if err != nil {
				d.addError(r, "hooks", field,
					fmt.Sprintf("hook command %q does not tokenize: %v", h.Command, err))
				continue
			}
			if len(argv) == 0 {
				d.addError(r, "hooks", field, "hook command is empty")
				continue
			}
			if _, err := exec.LookPath(argv[0]); err != nil {
				d.addWarning(r, "hooks", field,
					fmt.Sprintf("hook executable %q not found", argv[0]))
			}
			if h.Timeout > 10*time.Minute {
				d.addWarning(r, "hooks", field,
					fmt.Sprintf("hook timeout %s is very long (> 10m)", h.Timeout))
			}
		}
	}
}

// validateHistoryStorage checks that the execution-history database location
// is usable: the directory must be writable once it exists, and the database
// file itself must be a regular file.
func (d *Doctor) validateHistoryStorage(r *Result) {
	path := d.cfg.History.Path
	if path == "" {
		return
	}

	if info, err := os.Stat(path); err == nil && !info.Mode().IsRegular() {
		d.addError(r, "history", "history.path",
			fmt.Sprintf("%q exists but is not a regular file", path))
		return
	}

	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		d.addWarning(r, "history", "history.path",
			fmt.Sprintf("directory %q does not exist yet; it is created on start", dir))
	case err != nil:
		d.addError(r, "history", "history.path", fmt.Sprintf("stat %q: %v", dir, err))
	case !info.IsDir():
		d.addError(r, "history", "history.path", fmt.Sprintf("%q is not a directory", dir))
	default:
		probe, err := os.CreateTemp(dir, ".crucible-doctor-*")
		if err != nil {
			d.addError(r, "history", "history.path",
				fmt.Sprintf("directory %q is not writable: %v", dir, err))
			return
		}
		probe.Close()
		os.Remove(probe.Name())
	}
}

// validateLockPath checks the PID lock location.
func (d *Doctor) validateLockPath(r *Result) {
	path := d.cfg.Service.LockPath
	if path == "" {
		return
	}
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		d.addWarning(r, "service", "service.lock_path",
			fmt.Sprintf("directory %q does not exist yet; it is created on start", dir))
	}
}

// validateAllowedCommands checks the admission allowlist. Entries match the
// first token of a command line, so an entry containing whitespace can never
// match anything.
func (d *Doctor) validateAllowedCommands(r *Result) {
	for i, cmd := range d.cfg.Security.AllowedCommands {
		field := fmt.Sprintf("security.allowed_commands[%d]", i)
		name := strings.TrimSpace(cmd)
		if name == "" {
			continue // config.Validate already rejects blank entries
		}
		if strings.ContainsAny(name, " \t") {
			d.addError(r, "security", field,
				fmt.Sprintf("entry %q contains whitespace and can never match a command's first token", name))
			continue
		}
		if _, err := exec.LookPath(name); err != nil {
			d.addWarning(r, "security", field,
				fmt.Sprintf("allowed command %q not found", name))
		}
	}
}

// warnMissingAuth flags an unauthenticated read surface.
func (d *Doctor) warnMissingAuth(r *Result) {
	if d.cfg.Server.AuthToken == "" {
		d.addWarning(r, "server", "server.auth_token",
			"no auth token configured; /health and /events are open")
	}
}

// warnShortSessionTimeout flags expiry windows likely to cut off real work.
func (d *Doctor) warnShortSessionTimeout(r *Result) {
	timeout := d.cfg.Service.SessionTimeout
	if timeout > 0 && timeout < time.Minute {
		d.addWarning(r, "service", "service.session_timeout",
			fmt.Sprintf("session timeout %s is very short (< 1m)", timeout))
	}
}

// FormatHuman renders the result as a plain-text report for the terminal.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		return "Configuration valid.\n"
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n",
			len(r.Errors), len(r.Warnings))
	}

	writeIssues(&b, "ERROR", r.Errors)
	writeIssues(&b, "WARN ", r.Warnings)
	return b.String()
}

func writeIssues(b *strings.Builder, label string, issues []Issue) {
	for _, issue := range issues {
		if issue.Field != "" {
			fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, issue.Category, issue.Field, issue.Message)
		} else {
			fmt.Fprintf(b, "  %s [%s] %s\n", label, issue.Category, issue.Message)
		}
	}
}

// FormatJSON renders the result as indented JSON for scripting.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
