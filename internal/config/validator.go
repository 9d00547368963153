package config

import (
	"fmt"
	"strings"
)

// Validate checks a loaded configuration for values the service cannot
// start with. Errors name the offending field path.
func Validate(cfg *Config) error {
	switch strings.ToUpper(cfg.Service.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("service.log_level: unknown level %q", cfg.Service.LogLevel)
	}

	if cfg.Service.HeartbeatInterval <= 0 {
		return fmt.Errorf("service.heartbeat_interval: must be positive")
	}
	if cfg.Service.SessionTimeout <= 0 {
		return fmt.Errorf("service.session_timeout: must be positive")
	}

	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen: is required")
	}
	if !strings.HasPrefix(cfg.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path: must start with /")
	}

	if cfg.Limits.MaxSessions <= 0 {
		return fmt.Errorf("limits.max_sessions: must be positive")
	}
	if cfg.Limits.MaxLineBytes <= 0 {
		return fmt.Errorf("limits.max_line_bytes: must be positive")
	}
	if cfg.Limits.MaxStreamBytes <= 0 {
		return fmt.Errorf("limits.max_stream_bytes: must be positive")
	}
	if int64(cfg.Limits.MaxLineBytes) > cfg.Limits.MaxStreamBytes {
		return fmt.Errorf("limits.max_line_bytes: exceeds limits.max_stream_bytes")
	}

	if cfg.Timeouts.TerminationGrace <= 0 {
		return fmt.Errorf("timeouts.termination_grace: must be positive")
	}
	if cfg.Timeouts.ProcessCleanup <= 0 {
		return fmt.Errorf("timeouts.process_cleanup: must be positive")
	}
	if cfg.Timeouts.DefaultHook <= 0 {
		return fmt.Errorf("timeouts.default_hook: must be positive")
	}

	if cfg.History.Path == "" {
		return fmt.Errorf("history.path: is required")
	}

	for i, cmd := range cfg.Security.AllowedCommands {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("security.allowed_commands[%d]: must not be blank", i)
		}
	}

	return nil
}
