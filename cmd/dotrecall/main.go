// DotRecall - conversational memory service
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/dotsetgreg/dotrecall/pkg/agent"
	"github.com/dotsetgreg/dotrecall/pkg/bus"
	"github.com/dotsetgreg/dotrecall/pkg/channels"
	"github.com/dotsetgreg/dotrecall/pkg/config"
	"github.com/dotsetgreg/dotrecall/pkg/logger"
	"github.com/dotsetgreg/dotrecall/pkg/mcpserver"
	"github.com/dotsetgreg/dotrecall/pkg/memory"
	"github.com/dotsetgreg/dotrecall/pkg/providers"
	"github.com/dotsetgreg/dotrecall/pkg/server"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "dotrecall"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("DOTRECALL_CONFIG")); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dotrecall", "config.json")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupLogging applies the log section of cfg. debug forces DEBUG level.
func setupLogging(cfg *config.Config, debug bool) {
	logger.SetJSON(cfg.Log.JSON)
	level := logger.ParseLevel(cfg.Log.Level)
	if debug {
		level = logger.DEBUG
	}
	logger.SetLevel(level)
}

func createProvider(cfg *config.Config) (providers.LLMProvider, error) {
	if err := providers.ValidateProviderConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	return provider, nil
}

// openInspector opens the memory store for read-only commands. They never
// call the model, so provider credentials are not required.
func openInspector(cfg *config.Config) (*memory.Service, error) {
	store, err := memory.NewSQLiteStore(memory.DBPath(cfg.WorkspacePath()))
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	offline := memory.CompleterFunc(func(context.Context, string, string, memory.CompleteOptions) (string, error) {
		return "", errors.New("no provider configured for inspection commands")
	})
	svc, err := memory.NewService(agent.ServiceConfig(cfg), store, offline)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return svc, nil
}

// startSweeper runs the pending-summary sweep in the background when a
// schedule is configured.
func startSweeper(ctx context.Context, cfg *config.Config, svc *memory.Service) error {
	if strings.TrimSpace(cfg.Memory.SweepSchedule) == "" {
		logger.InfoC("memory", "Summary sweeper disabled")
		return nil
	}
	sweeper, err := memory.NewSweeper(cfg.Memory.SweepSchedule, svc.SweepPendingSummaries)
	if err != nil {
		return err
	}
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			logger.ErrorCF("memory", "Summary sweeper stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

func onboard(in io.Reader, out io.Writer) error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "Config already exists at %s\n", configPath)
		fmt.Fprint(out, "Overwrite? (y/n): ")
		response, readErr := bufio.NewReader(in).ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read input: %w", readErr)
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(memory.DBPath(cfg.WorkspacePath())), 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	fmt.Fprintf(out, "%s is ready!\n", appName)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Add your API key to", configPath)
	fmt.Fprintln(out, "     Get one at: https://openrouter.ai/keys")
	fmt.Fprintln(out, "  2. Chat locally: dotrecall chat -m \"Hello!\"")
	fmt.Fprintln(out, "  3. Serve the HTTP API: dotrecall serve")
	fmt.Fprintln(out, "  4. (Gateway mode) Add your Discord bot token to channels.discord.token")
	fmt.Fprintln(out, "  5. Check readiness: dotrecall status")
	return nil
}

type chatOptions struct {
	message string
	session string
	user    string
	debug   bool
}

func chatCmd(opts chatOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg, opts.debug)

	provider, err := createProvider(cfg)
	if err != nil {
		return err
	}
	agentLoop, err := agent.NewAgentLoop(cfg, bus.NewMessageBus(), provider)
	if err != nil {
		return fmt.Errorf("initialize memory subsystem: %w", err)
	}
	defer agentLoop.Stop()

	logger.InfoCF("agent", "Agent initialized", agentLoop.GetStartupInfo())

	user := strings.TrimSpace(opts.user)
	if user == "" {
		user = cfg.Agents.Defaults.UserID
	}

	if opts.message != "" {
		result, err := agentLoop.ProcessDirect(context.Background(), opts.message, opts.session, user)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s %s\n", appName, result.Response)
		fmt.Printf("\nsession: %s\n", result.SessionID)
		return nil
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	interactiveMode(agentLoop, opts.session, user)
	return nil
}

// chatSession carries the session id across interactive turns; the first
// turn may start a new session.
type chatSession struct {
	loop      *agent.AgentLoop
	sessionID string
	userID    string
}

func (c *chatSession) send(input string) {
	result, err := c.loop.ProcessDirect(context.Background(), input, c.sessionID, c.userID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if c.sessionID == "" {
		c.sessionID = result.SessionID
		fmt.Printf("(session %s)\n", c.sessionID)
	}
	fmt.Printf("\n%s %s\n\n", appName, result.Response)
}

func interactiveMode(agentLoop *agent.AgentLoop, sessionID, userID string) {
	chat := &chatSession{loop: agentLoop, sessionID: sessionID, userID: userID}
	prompt := fmt.Sprintf("%s You: ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".dotrecall_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(chat, os.Stdin)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}
		chat.send(input)
	}
}

func simpleInteractiveMode(chat *chatSession, in io.Reader) {
	reader := bufio.NewReader(in)
	for {
		fmt.Printf("%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}
		chat.send(input)
	}
}

func sessionsCmd(out io.Writer, userID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg, false)
	svc, err := openInspector(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if strings.TrimSpace(userID) == "" {
		userID = cfg.Agents.Defaults.UserID
	}
	sessions, err := svc.ListSessions(context.Background(), userID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintf(out, "No sessions for %s.\n", userID)
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(out, "%s  %-40s  %3d messages  %s\n", s.SessionID, s.Title, s.MessageCount, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func sessionCmd(out io.Writer, userID, sessionID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg, false)
	svc, err := openInspector(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if strings.TrimSpace(userID) == "" {
		userID = cfg.Agents.Defaults.UserID
	}
	detail, err := svc.SessionDetail(context.Background(), userID, sessionID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Session: %s\n", detail.Session.SessionID)
	fmt.Fprintf(out, "Messages: %d\n", detail.Session.MessageCount)
	fmt.Fprintf(out, "\nLong-term memory (%d):\n", len(detail.LTM))
	for _, e := range detail.LTM {
		fmt.Fprintf(out, "  - %s\n", e.MemoryText)
	}
	fmt.Fprintf(out, "\nShort-term buffer (%d):\n", len(detail.STM))
	for _, e := range detail.STM {
		fmt.Fprintf(out, "  %s: %s\n", e.Role.Label(), e.Content)
	}
	return nil
}

func serveCmd(addr string, debug bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg, debug)

	provider, err := createProvider(cfg)
	if err != nil {
		return err
	}
	svc, err := agent.NewMemoryService(cfg, provider)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := startSweeper(ctx, cfg, svc); err != nil {
		return err
	}

	if strings.TrimSpace(addr) == "" {
		addr = cfg.GatewayAddr()
	}
	srv := server.New(svc, server.Options{Addr: addr, AllowedOrigins: cfg.Gateway.AllowedOrigins})
	fmt.Printf("✓ HTTP API listening on %s\n", addr)
	fmt.Println("Press Ctrl+C to stop")
	return srv.ListenAndServe(ctx)
}

func mcpCmd(userID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the MCP protocol.
	logger.SetOutput(os.Stderr)
	setupLogging(cfg, false)

	provider, err := createProvider(cfg)
	if err != nil {
		return err
	}
	svc, err := agent.NewMemoryService(cfg, provider)
	if err != nil {
		return err
	}
	defer svc.Close()

	if strings.TrimSpace(userID) == "" {
		userID = cfg.Agents.Defaults.UserID
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := startSweeper(ctx, cfg, svc); err != nil {
		return err
	}

	return mcpserver.Serve(mcpserver.New(svc, version, userID))
}

func gatewayCmd(debug bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg, debug)

	provider, err := createProvider(cfg)
	if err != nil {
		return err
	}

	msgBus := bus.NewMessageBus()
	agentLoop, err := agent.NewAgentLoop(cfg, msgBus, provider)
	if err != nil {
		return fmt.Errorf("initialize memory subsystem: %w", err)
	}

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		agentLoop.Stop()
		return fmt.Errorf("create channel manager: %w", err)
	}
	agentLoop.SetChannelManager(channelManager)

	logger.InfoCF("agent", "Agent initialized", agentLoop.GetStartupInfo())
	fmt.Printf("✓ Channels enabled: %s\n", strings.Join(channelManager.GetEnabledChannels(), ", "))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := startSweeper(ctx, cfg, agentLoop.Memory()); err != nil {
		agentLoop.Stop()
		return err
	}

	if err := channelManager.StartAll(ctx); err != nil {
		cancel()
		agentLoop.Stop()
		return fmt.Errorf("start channels: %w", err)
	}

	srv := server.New(agentLoop.Memory(), server.Options{Addr: cfg.GatewayAddr(), AllowedOrigins: cfg.Gateway.AllowedOrigins})
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil {
			logger.ErrorCF("server", "HTTP server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ Gateway started on %s\n", cfg.GatewayAddr())
	fmt.Println("Press Ctrl+C to stop")

	go func() {
		if err := agentLoop.Run(ctx); err != nil {
			logger.ErrorCF("agent", "Agent loop stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	_ = channelManager.StopAll(context.Background())
	msgBus.Close()
	agentLoop.Stop()
	fmt.Println("✓ Gateway stopped")
	return nil
}

func statusCmd(out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	configPath := getConfigPath()

	fmt.Fprintf(out, "%s Status\n", appName)
	fmt.Fprintf(out, "Version: %s\n", formatVersion())
	if build, _ := formatBuildInfo(); build != "" {
		fmt.Fprintf(out, "Build: %s\n", build)
	}
	fmt.Fprintln(out)

	mark := func(ok bool, missing string) string {
		if ok {
			return "✓"
		}
		return missing
	}
	exists := func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}

	fmt.Fprintln(out, "Config:", configPath, mark(exists(configPath), "✗"))
	workspace := cfg.WorkspacePath()
	fmt.Fprintln(out, "Workspace:", workspace, mark(exists(workspace), "✗"))
	memoryDB := memory.DBPath(workspace)
	fmt.Fprintln(out, "Memory DB:", memoryDB, mark(exists(memoryDB), "not initialized"))

	name, configured, mode, credErr := providers.ProviderCredentialStatus(cfg)
	model := cfg.Agents.Defaults.Model
	if model == "" {
		model = "(provider default)"
	}
	fmt.Fprintf(out, "Provider: %s\n", name)
	fmt.Fprintf(out, "Model: %s\n", model)
	if credErr != nil {
		fmt.Fprintf(out, "Credentials: %v\n", credErr)
	} else {
		fmt.Fprintf(out, "Credentials: %s (%s)\n", mark(configured, "not set"), mode)
	}

	discordReady := !cfg.Channels.Discord.Enabled || strings.TrimSpace(cfg.Channels.Discord.Token) != ""
	fmt.Fprintf(out, "Summary sweep: %s\n", valueOr(cfg.Memory.SweepSchedule, "disabled"))
	fmt.Fprintln(out, "Chat ready:", mark(configured && credErr == nil, "not set"))
	fmt.Fprintln(out, "Gateway ready:", mark(configured && credErr == nil && discordReady, "not set"))
	return nil
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
