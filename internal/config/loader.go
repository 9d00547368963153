package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses configuration from a file, layering it over Defaults.
// A directory path is accepted and resolves to config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigPath finds the configuration by checking standard locations.
// Priority order: $CRUCIBLE_CONFIG, ~/.config/crucible/config.yaml,
// /etc/crucible/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("CRUCIBLE_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "crucible", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/crucible/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	localConfig := "./config.yaml"
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $CRUCIBLE_CONFIG, ~/.config/crucible, /etc/crucible, ./config.yaml)")
}

// applyDefaults fills zero values that yaml.Unmarshal may have cleared when
// a section was present but a field was omitted.
func applyDefaults(cfg *Config) {
	def := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Service.HeartbeatInterval <= 0 {
		cfg.Service.HeartbeatInterval = def.Service.HeartbeatInterval
	}
	if cfg.Service.SessionTimeout <= 0 {
		cfg.Service.SessionTimeout = def.Service.SessionTimeout
	}
	if cfg.Service.LockPath == "" {
		cfg.Service.LockPath = def.Service.LockPath
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = def.Server.Listen
	}
	if cfg.Server.WSPath == "" {
		cfg.Server.WSPath = def.Server.WSPath
	}
	if cfg.Limits.MaxSessions == 0 {
		cfg.Limits.MaxSessions = def.Limits.MaxSessions
	}
	if cfg.Limits.MaxLineBytes == 0 {
		cfg.Limits.MaxLineBytes = def.Limits.MaxLineBytes
	}
	if cfg.Limits.MaxStreamBytes == 0 {
		cfg.Limits.MaxStreamBytes = def.Limits.MaxStreamBytes
	}
	if cfg.Timeouts.TerminationGrace <= 0 {
		cfg.Timeouts.TerminationGrace = def.Timeouts.TerminationGrace
	}
	if cfg.Timeouts.ProcessCleanup <= 0 {
		cfg.Timeouts.ProcessCleanup = def.Timeouts.ProcessCleanup
	}
	if cfg.Timeouts.DefaultHook <= 0 {
		cfg.Timeouts.DefaultHook = def.Timeouts.DefaultHook
	}
	if cfg.Hooks.Path == "" {
		cfg.Hooks.Path = def.Hooks.Path
	}
	if cfg.History.Path == "" {
		cfg.History.Path = def.History.Path
	}
}
