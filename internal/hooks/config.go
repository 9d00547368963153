package hooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// Lifecycle points fired around an execution, in firing order. The claude
// pair only fires for commands that invoke claude.
const (
	PreExecute = "pre-execute"
	PreClaude  = "pre-claude"
	PreTool    = "pre-tool"
	PostTool   = "post-tool"
	PostOutput = "post-output"
	PostClaude = "post-claude"
)

// KnownTypes returns every lifecycle point the executor fires, in firing
// order.
func KnownTypes() []string {
	return []string{PreExecute, PreClaude, PreTool, PostTool, PostOutput, PostClaude}
}

// File is the on-disk hook configuration, typically crucible-hooks.json in
// the working directory. Hooks maps a lifecycle point (pre-execute,
// post-tool, ...) to one or more hook commands.
type File struct {
	Hooks map[string]HookList `json:"hooks"`
	// Env entries are added to every hook's environment.
	Env map[string]string `json:"env,omitempty"`
	// Timeout is the file-level default hook timeout in seconds.
	Timeout float64 `json:"timeout,omitempty"`
}

// Hook is a single hook command with an optional timeout override.
type Hook struct {
	Command string
	// Timeout overrides the file-level default when positive.
	Timeout time.Duration
}

// HookList holds the hooks for one lifecycle point. The JSON form accepts a
// bare command string, an object with command and timeout fields, or an
// array mixing both.
type HookList []Hook

// UnmarshalJSON accepts either "cmd" or {"command": "cmd", "timeout": 30}.
func (h *Hook) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*h = Hook{Command: s}
		return nil
	}

	var raw struct {
		Command string  `json:"command"`
		Timeout float64 `json:"timeout"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	*h = Hook{
		Command: raw.Command,
		Timeout: secondsToDuration(raw.Timeout),
	}
	return nil
}

func (l *HookList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var hs []Hook
		if err := json.Unmarshal(trimmed, &hs); err != nil {
			return err
		}
		*l = hs
		return nil
	}

	var h Hook
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return err
	}
	*l = HookList{h}
	return nil
}

// GlobalTimeout returns the file-level default hook timeout, zero when
// the file does not set one.
func (f *File) GlobalTimeout() time.Duration {
	return secondsToDuration(f.Timeout)
}

// Names returns the configured hook types in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Hooks))
	for name := range f.Hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads and parses a hook configuration file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &f, nil
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
