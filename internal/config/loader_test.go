package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
service:
  log_level: debug
server:
  listen: 127.0.0.1:9100
history:
  path: ./test-history.db
`,
			wantErr: false,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" {
					t.Error("log_level not parsed")
				}
				if cfg.Server.Listen != "127.0.0.1:9100" {
					t.Error("server.listen not parsed")
				}
				if cfg.History.Path != "./test-history.db" {
					t.Error("history.path not parsed")
				}
				// Defaults fill what the file omits
				if cfg.Limits.MaxSessions != 100 {
					t.Errorf("default max_sessions not applied: %d", cfg.Limits.MaxSessions)
				}
				if cfg.Limits.MaxLineBytes != 8*1024 {
					t.Errorf("default max_line_bytes not applied: %d", cfg.Limits.MaxLineBytes)
				}
				if cfg.Limits.MaxStreamBytes != 10*1024*1024 {
					t.Errorf("default max_stream_bytes not applied: %d", cfg.Limits.MaxStreamBytes)
				}
				if cfg.Server.WSPath != "/ws/mcp" {
					t.Errorf("default ws_path not applied: %s", cfg.Server.WSPath)
				}
				if cfg.Service.HeartbeatInterval != 30*time.Second {
					t.Error("default heartbeat_interval not applied")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: crucible-test
  log_level: warn
  heartbeat_interval: 10s
  session_timeout: 30m
server:
  listen: 0.0.0.0:8003
  ws_path: /ws/exec
  auth_token: sekrit
limits:
  max_sessions: 5
  max_line_bytes: 4096
  max_stream_bytes: 1048576
timeouts:
  termination_grace: 1s
  process_cleanup: 5s
  default_hook: 20s
hooks:
  path: ./hooks.json
  reload: false
history:
  path: ./hist.db
security:
  allowed_commands: [echo, sleep]
`,
			wantErr: false,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "crucible-test" {
					t.Error("service.name not parsed")
				}
				if cfg.Service.SessionTimeout != 30*time.Minute {
					t.Error("session_timeout not parsed")
				}
				if cfg.Server.AuthToken != "sekrit" {
					t.Error("auth_token not parsed")
				}
				if cfg.Limits.MaxSessions != 5 {
					t.Error("max_sessions not parsed")
				}
				if cfg.Timeouts.TerminationGrace != time.Second {
					t.Error("termination_grace not parsed")
				}
				if cfg.Hooks.Reload {
					t.Error("hooks.reload should be false")
				}
				if len(cfg.Security.AllowedCommands) != 2 || cfg.Security.AllowedCommands[0] != "echo" {
					t.Errorf("allowed_commands not parsed: %v", cfg.Security.AllowedCommands)
				}
			},
		},
		{
			name: "invalid yaml",
			yaml: `
service: [not, a, map
`,
			wantErr: true,
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: loud
`,
			wantErr: true,
		},
		{
			name: "negative session ceiling",
			yaml: `
limits:
  max_sessions: -3
`,
			wantErr: true,
		},
		{
			name: "line cap above stream cap",
			yaml: `
limits:
  max_line_bytes: 1048576
  max_stream_bytes: 4096
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}

			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load with directory failed: %v", err)
	}
	if cfg.Service.LogLevel != "info" {
		t.Error("config.yaml inside directory not loaded")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDiscoverConfigPathEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CRUCIBLE_CONFIG", path)

	got, err := DiscoverConfigPath()
	if err != nil {
		t.Fatalf("DiscoverConfigPath failed: %v", err)
	}
	if got != path {
		t.Errorf("expected %s, got %s", path, got)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Defaults must validate: %v", err)
	}
	if cfg.Limits.MaxSessions != 100 {
		t.Errorf("default ceiling = %d, want 100", cfg.Limits.MaxSessions)
	}
	if cfg.Server.WSPath != "/ws/mcp" {
		t.Errorf("default ws_path = %s", cfg.Server.WSPath)
	}
}
