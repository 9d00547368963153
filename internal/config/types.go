package config

import "time"

// Config represents the complete crucible configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Limits   LimitsConfig   `yaml:"limits"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Hooks    HooksConfig    `yaml:"hooks,omitempty"`
	History  HistoryConfig  `yaml:"history"`
	Security SecurityConfig `yaml:"security,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name              string        `yaml:"name"`
	LogLevel          string        `yaml:"log_level"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SessionTimeout    time.Duration `yaml:"session_timeout"`
	LockPath          string        `yaml:"lock_path,omitempty"`
}

// ServerConfig defines the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	WSPath string `yaml:"ws_path"`
	// AuthToken, when set, is required as a bearer token on the read-only
	// HTTP surface (/health, /events). The WebSocket endpoint and /healthz
	// stay open.
	AuthToken string `yaml:"auth_token,omitempty"`
}

// LimitsConfig bounds sessions and output volume.
type LimitsConfig struct {
	MaxSessions    int   `yaml:"max_sessions"`
	MaxLineBytes   int   `yaml:"max_line_bytes"`
	MaxStreamBytes int64 `yaml:"max_stream_bytes"`
}

// TimeoutsConfig defines process and hook timing knobs. Execution deadlines
// themselves come from the estimator, not from here.
type TimeoutsConfig struct {
	TerminationGrace time.Duration `yaml:"termination_grace"`
	ProcessCleanup   time.Duration `yaml:"process_cleanup"`
	DefaultHook      time.Duration `yaml:"default_hook"`
}

// HooksConfig locates the hook configuration file.
type HooksConfig struct {
	Path   string `yaml:"path"`
	Reload bool   `yaml:"reload"`
}

// HistoryConfig defines execution-history storage settings.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// SecurityConfig defines command admission policy.
type SecurityConfig struct {
	// AllowedCommands, when non-empty, restricts execution to commands whose
	// first token matches an entry. Empty means any command.
	AllowedCommands []string `yaml:"allowed_commands,omitempty"`
	// KeepAPIKeys disables the stripping of ANTHROPIC_API_KEY from the
	// child environment.
	KeepAPIKeys bool `yaml:"keep_api_keys,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:              "crucible",
			LogLevel:          "info",
			HeartbeatInterval: 30 * time.Second,
			SessionTimeout:    time.Hour,
			LockPath:          "./data/crucible.pid",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8003",
			WSPath: "/ws/mcp",
		},
		Limits: LimitsConfig{
			MaxSessions:    100,
			MaxLineBytes:   8 * 1024,
			MaxStreamBytes: 10 * 1024 * 1024,
		},
		Timeouts: TimeoutsConfig{
			TerminationGrace: 2 * time.Second,
			ProcessCleanup:   10 * time.Second,
			DefaultHook:      60 * time.Second,
		},
		Hooks: HooksConfig{
			Path:   "./crucible-hooks.json",
			Reload: true,
		},
		History: HistoryConfig{
			Path: "./data/history.db",
		},
	}
}
