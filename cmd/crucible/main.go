package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/crucible/internal/api"
	"github.com/mattjoyce/crucible/internal/client"
	"github.com/mattjoyce/crucible/internal/config"
	"github.com/mattjoyce/crucible/internal/doctor"
	"github.com/mattjoyce/crucible/internal/estimate"
	"github.com/mattjoyce/crucible/internal/events"
	"github.com/mattjoyce/crucible/internal/history"
	"github.com/mattjoyce/crucible/internal/hooks"
	"github.com/mattjoyce/crucible/internal/lock"
	"github.com/mattjoyce/crucible/internal/log"
	"github.com/mattjoyce/crucible/internal/process"
	"github.com/mattjoyce/crucible/internal/session"
	"github.com/mattjoyce/crucible/internal/storage"
	"github.com/mattjoyce/crucible/internal/stream"
	"github.com/mattjoyce/crucible/internal/tui/watch"
	"github.com/mattjoyce/crucible/internal/ws"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "history":
		return runHistoryNoun(args)

	// --- ROOT VERBS AND ALIASES ---
	case "exec":
		if hasLeadingHelpFlag(args) {
			printExecHelp()
			return 0
		}
		return runExec(args)
	case "serve", "start":
		if hasHelpFlag(args) {
			printSystemStartHelp()
			return 0
		}
		return runStart(args)
	case "doctor":
		if hasHelpFlag(args) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: crucible version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("crucible %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`crucible - WebSocket command execution service

Usage:
  crucible <noun> <action> [flags]
  crucible exec [flags] <command...>

Core Resources (Nouns):
  system    Service lifecycle and health
  config    Configuration inspection and validation
  history   Recorded executions

System Commands:
  system start      Start the server in foreground
  system status     Show server health
  system watch      Real-time session monitoring TUI

Config Commands:
  config show       Show the resolved configuration
  config get        Read a single configuration value
  config check      Validate configuration and environment

History Commands:
  history list      Show recent executions

Execution:
  exec              Run a command on the server and stream its output

General:
  serve             Alias for 'system start'
  doctor            Alias for 'config check'
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'crucible <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		printHistoryNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printHistoryNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printHistoryListHelp()
			return 0
		}
		return runHistoryList(actionArgs)
	case "help":
		printHistoryNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// hasLeadingHelpFlag only inspects the flag region before the first
// positional token, so 'crucible exec man -h' still runs 'man -h'.
func hasLeadingHelpFlag(args []string) bool {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") || arg == "--" {
			return false
		}
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// --- HELP PRINTERS ---

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: crucible system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: crucible config <action> [flags]")
	fmt.Fprintln(w, "Actions: show, get, check")
}

func printHistoryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: crucible history <action> [flags]")
	fmt.Fprintln(w, "Actions: list")
}

func printSystemStartHelp() {
	fmt.Println("Usage: crucible system start [--config PATH]")
	fmt.Println("Start the execution server in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: crucible system status [--url URL] [--token TOKEN] [--config PATH] [--json]")
	fmt.Println("Query /health on a running server.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Server reachable and healthy")
	fmt.Println("  1  Server unreachable, unauthorized, or unhealthy")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: crucible system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI: server health, open sessions, recent")
	fmt.Println("executions, and the live event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --url URL      Server API URL (default derived from config)")
	fmt.Println("  --token TOKEN  Bearer token (or CRUCIBLE_TOKEN env var)")
	fmt.Println("  --config PATH  Path to configuration file or directory")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C      Quit")
	fmt.Println("  Up/Down        Navigate sessions")
}

func printExecHelp() {
	fmt.Println("Usage: crucible exec [flags] <command...>")
	fmt.Println()
	fmt.Println("Run a command on the crucible server, streaming its output to this")
	fmt.Println("terminal. Ctrl+C cancels the remote process.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --url URL                WebSocket URL (default derived from config)")
	fmt.Println("  --config PATH            Path to configuration file or directory")
	fmt.Println("  --timeout SECONDS        Execution deadline (0 lets the server estimate)")
	fmt.Println("  --stall-timeout SECONDS  No-output window (0 uses the server default)")
	fmt.Println("  --json                   Print the execution result as JSON after the output")
	fmt.Println()
	fmt.Println("The exit status mirrors the remote command: its exit code, 128+signal")
	fmt.Println("when it was killed, 1 when the server reported an execution error.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: crucible config show [path] [--config PATH] [--json]")
	fmt.Println("Show the full resolved configuration, or the node at a dot path.")
}

func printConfigGetHelp() {
	fmt.Println("Usage: crucible config get <path> [--config PATH] [--json]")
	fmt.Println("Read a single value from the resolved configuration.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: crucible config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate the configuration and the environment it points at:")
	fmt.Println("hook executables, storage paths, and the command allowlist.")
}

func printHistoryListHelp() {
	fmt.Println("Usage: crucible history list [--config PATH] [--limit N] [--json]")
	fmt.Println("Show recent recorded executions, newest first.")
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("crucible starting", "version", version, "config", *configPath)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)",
			"path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", cfg.Service.LockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		logger.Error("failed to open history database", "path", cfg.History.Path, "error", err)
		return 1
	}
	defer db.Close()
	store := history.New(db)
	logger.Info("history database opened", "path", cfg.History.Path)

	hub := events.NewHub(256)
	sessions := session.New(cfg, hub, log.Get())
	supervisor := process.New(cfg)
	streams := stream.New(cfg)
	hookRunner := hooks.New(cfg, log.Get())
	estimator := estimate.New(store, estimate.NewCPUProbe(), log.Get())

	wsServer := ws.New(cfg, sessions, supervisor, streams, hookRunner, estimator, store, hub)
	apiServer := api.New(api.Config{
		Listen:    cfg.Server.Listen,
		WSPath:    cfg.Server.WSPath,
		AuthToken: cfg.Server.AuthToken,
		Service:   cfg.Service.Name,
		Version:   version,
	}, sessions, hub, wsServer.HandleWS, log.WithComponent("api"))

	if err := sessions.Start(ctx); err != nil {
		logger.Error("failed to start session manager", "error", err)
		return 1
	}
	defer sessions.Stop()

	if err := hookRunner.Start(ctx); err != nil {
		logger.Error("failed to start hook reload watcher", "error", err)
		return 1
	}
	defer hookRunner.Stop()

	if err := wsServer.Start(ctx); err != nil {
		logger.Error("failed to start WebSocket dispatcher", "error", err)
		return 1
	}
	defer wsServer.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("crucible running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("crucible stopped")
	return 0
}

func runExec(args []string) int {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	wsURL := fs.String("url", "", "WebSocket URL")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	timeout := fs.Int("timeout", 0, "Execution timeout in seconds")
	stall := fs.Int("stall-timeout", 0, "No-output window in seconds")
	jsonOut := fs.Bool("json", false, "Print the execution result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	command := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if command == "" {
		fmt.Fprintln(os.Stderr, "Usage: crucible exec [flags] <command...>")
		return 1
	}

	url, err := resolveWSURL(*wsURL, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve server URL: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := client.New(url, nil).Execute(ctx, command, client.Options{
		Timeout:      time.Duration(*timeout) * time.Second,
		StallTimeout: time.Duration(*stall) * time.Second,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Warnings:     os.Stderr,
	})
	if err != nil {
		var remote *client.RemoteError
		if errors.As(err, &remote) {
			fmt.Fprintf(os.Stderr, "crucible: rejected: %s\n", remote.Message)
			return 1
		}
		fmt.Fprintf(os.Stderr, "crucible: %v\n", err)
		return 1
	}

	if *jsonOut {
		printExecResult(res)
	}

	return exitCodeFor(res)
}

// exitCodeFor maps an execution result onto the shell convention: the
// process exit code when it exited, 128+signal when it was killed.
func exitCodeFor(res *client.Result) int {
	switch res.Status {
	case client.StatusCompleted, client.StatusFailed, client.StatusCancelled:
		if res.ExitCode >= 0 {
			return res.ExitCode
		}
		// A signal kill arrives as a negative code (-N).
		return 128 - res.ExitCode
	default:
		return 1
	}
}

func printExecResult(res *client.Result) {
	out := struct {
		SessionID       string  `json:"session_id"`
		PID             int     `json:"pid,omitempty"`
		Status          string  `json:"status"`
		ExitCode        int     `json:"exit_code"`
		Reason          string  `json:"reason,omitempty"`
		Message         string  `json:"message,omitempty"`
		DurationSeconds float64 `json:"duration_seconds"`
	}{
		SessionID:       res.SessionID,
		PID:             res.PID,
		Status:          res.Status,
		ExitCode:        res.ExitCode,
		Reason:          res.Reason,
		Message:         res.Message,
		DurationSeconds: res.Duration.Seconds(),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render result JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	apiURL := fs.String("url", "", "Server API URL")
	token := fs.String("token", os.Getenv("CRUCIBLE_TOKEN"), "Bearer token for the read API")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output health as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	base, err := resolveAPIURL(*apiURL, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve server URL: %v\n", err)
		return 1
	}

	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(base, "/")+"/health", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad server URL %q: %v\n", base, err)
		return 1
	}
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crucible is not reachable at %s: %v\n", base, err)
		return 1
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Unauthorized: set --token or CRUCIBLE_TOKEN")
		return 1
	case resp.StatusCode != http.StatusOK:
		fmt.Fprintf(os.Stderr, "Health endpoint returned %d\n", resp.StatusCode)
		return 1
	}

	var health api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse health response: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(health, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("Status:   %s\n", health.Status)
		fmt.Printf("Service:  %s %s\n", health.Service, health.Version)
		fmt.Printf("Sessions: %d/%d active\n", health.ActiveSessions, health.MaxSessions)
		fmt.Printf("Uptime:   %s\n", time.Duration(health.UptimeSeconds)*time.Second)
	}

	if health.Status != "healthy" {
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("url", "", "Server API URL")
	token := fs.String("token", os.Getenv("CRUCIBLE_TOKEN"), "Bearer token for the read API")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	base, err := resolveAPIURL(*apiURL, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve server URL: %v\n", err)
		return 1
	}

	m := watch.New(base, *token)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	var result any = cfg
	if fs.NArg() > 0 {
		res, err := cfg.GetPath(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		result = res
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(result)
		fmt.Print(string(data))
	}
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: crucible config get <path> [--json]")
		return 1
	}
	path := fs.Arg(0)

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(val, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("%v\n", val)
	}
	return 0
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool
	var format string

	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runHistoryList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum number of executions to show")
	jsonOut := fs.Bool("json", false, "Output executions as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history database: %v\n", err)
		return 1
	}
	defer db.Close()

	execs, err := history.New(db).Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(execs, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render history JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(execs) == 0 {
		fmt.Println("No executions recorded.")
		return 0
	}

	fmt.Printf("%-19s  %-9s  %4s  %9s  %s\n", "CREATED", "STATUS", "EXIT", "DURATION", "COMMAND")
	for _, e := range execs {
		exit := "-"
		if e.ExitCode != nil {
			exit = strconv.Itoa(*e.ExitCode)
		}
		fmt.Printf("%-19s  %-9s  %4s  %8.2fs  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Status, exit, e.Duration, commandExcerpt(e.Command))
	}
	return 0
}

func commandExcerpt(command string) string {
	const max = 60
	if len(command) <= max {
		return command
	}
	return command[:max] + "..."
}

// --- CONFIG RESOLUTION FOR CLIENT VERBS ---

func loadConfigForTool(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

// loadClientConfig resolves the server address for client verbs: an explicit
// --config is authoritative, a discovered config is used when present, and
// the built-in defaults apply when no config exists anywhere.
func loadClientConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return config.Defaults(), nil
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

func resolveAPIURL(urlFlag, configPath string) (string, error) {
	if urlFlag != "" {
		return urlFlag, nil
	}
	cfg, err := loadClientConfig(configPath)
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Server.Listen, nil
}

func resolveWSURL(urlFlag, configPath string) (string, error) {
	if urlFlag != "" {
		return urlFlag, nil
	}
	cfg, err := loadClientConfig(configPath)
	if err != nil {
		return "", err
	}
	return client.URL(cfg.Server.Listen, cfg.Server.WSPath), nil
}
