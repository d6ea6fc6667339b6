// ABOUTME: Entry point for the acp-host binary
// ABOUTME: Interactive chat loop over configured ACP agents with session persistence

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/acp-host/internal/acp"
	"github.com/2389/acp-host/internal/agent"
	"github.com/2389/acp-host/internal/config"
	"github.com/2389/acp-host/internal/permission"
	"github.com/2389/acp-host/internal/session"
	"github.com/2389/acp-host/internal/store"
	"github.com/2389/acp-host/internal/turns"

	eventbus "github.com/2389/acp-host/internal/events"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __ _  ___ _ __         | |__   ___  ___| |_
 / _' |/ __| '_ \ _____  | '_ \ / _ \/ __| __|
| (_| | (__| |_) |_____| | | | | (_) \__ \ |_
 \__,_|\___| .__/        |_| |_|\___/|___/\__|
           |_|
`

// getConfigPath returns the path to the host config file.
// Priority: ACP_HOST_CONFIG env var > XDG_CONFIG_HOME/acp-host/config.yaml > ~/.config/acp-host/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ACP_HOST_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "acp-host", "config.yaml")
}

// getDataPath returns the path to the acp-host data directory.
// Priority: XDG_DATA_HOME/acp-host > ~/.local/share/acp-host
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "acp-host")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: acp-host <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  chat <agent> [session-id]  Start or resume a conversation")
		fmt.Println("  agents                     List configured agents")
		fmt.Println("  sessions <agent> [--remote]  List sessions (--remote asks the agent)")
		fmt.Println("  init                       Create a starter config file")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx, os.Args[2:])
	case "agents":
		err = runAgents()
	case "sessions":
		err = runSessions(ctx, os.Args[2:])
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// host bundles the wired-up engine for one run.
type host struct {
	cfg         *config.Config
	store       store.Store
	bus         *eventbus.Broadcaster
	pool        *agent.Pool
	permissions *permission.Coordinator
	registry    *session.Registry
	coordinator *session.Coordinator
}

func newHost(cfg *config.Config, prompter permission.Prompter, logger *slog.Logger) (*host, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(getDataPath(), "acp-host.db")
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	bus := eventbus.NewBroadcaster(logger)
	permissions := permission.NewCoordinator(cfg.Sessions.PermissionTTL, prompter, logger)
	pool := agent.NewPool(cfg.Agents, permissions, nil, logger)
	registry := session.NewRegistry(pool, st, bus, permissions, cfg.Sessions.DefaultCwd, logger)
	coordinator := session.NewCoordinator(registry, pool, permissions, st, bus, logger)

	return &host{
		cfg:         cfg,
		store:       st,
		bus:         bus,
		pool:        pool,
		permissions: permissions,
		registry:    registry,
		coordinator: coordinator,
	}, nil
}

// close tears everything down once: sessions, agents, event bus, store.
func (h *host) close() {
	h.registry.ResetAll()
	h.coordinator.Close()
	if err := h.pool.Close(); err != nil {
		slog.Warn("closing agent pool", "error", err)
	}
	h.bus.Close()
	if err := h.store.Close(); err != nil {
		slog.Warn("closing store", "error", err)
	}
}

func runChat(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: acp-host chat <agent> [session-id]")
	}
	agentID := args[0]

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if _, ok := cfg.Agent(agentID); !ok {
		return fmt.Errorf("agent %q is not configured", agentID)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	prompter := newTerminalPrompter()
	h, err := newHost(cfg, prompter, logger)
	if err != nil {
		return err
	}
	defer h.close()

	// Sessions of agents dropped from the config would otherwise linger in
	// the store forever.
	if err := h.registry.PruneRemovedAgents(ctx); err != nil {
		return fmt.Errorf("pruning removed agents: %w", err)
	}
	if err := h.registry.Restore(ctx); err != nil {
		return fmt.Errorf("restoring sessions: %w", err)
	}

	handle, err := resolveHandle(ctx, h, agentID, args[1:])
	if err != nil {
		return err
	}

	sess, err := h.registry.Get(ctx, handle)
	if err != nil {
		return err
	}
	printHistory(sess.History())

	// Ctrl-C cancels the in-flight turn; a second Ctrl-C (cancelling ctx
	// while idle) exits the loop.
	go func() {
		<-ctx.Done()
		h.coordinator.Cancel(handle)
	}()

	return chatLoop(ctx, h, prompter, handle)
}

// resolveHandle picks the session to talk to: an explicit session id, or a
// fresh session named by a new handle.
func resolveHandle(ctx context.Context, h *host, agentID string, args []string) (string, error) {
	if len(args) > 0 {
		if _, err := h.registry.Get(ctx, args[0]); err != nil {
			return "", err
		}
		return args[0], nil
	}

	sess, err := h.registry.GetOrCreate(ctx, agentID, fmt.Sprintf("%s-chat", agentID), session.CreateOptions{})
	if err != nil {
		return "", err
	}
	color.New(color.FgHiBlack).Printf("session %s (cwd %s)\n\n", sess.ID, sess.Cwd)
	return sess.Handle, nil
}

func chatLoop(ctx context.Context, h *host, prompter *terminalPrompter, handle string) error {
	green := color.New(color.FgGreen)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		green.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		// An answer to a pending permission prompt takes priority.
		if prompter.tryAnswer(h.permissions, line) {
			continue
		}

		sess, err := h.registry.Get(ctx, handle)
		if err != nil {
			return err
		}
		before := len(sess.History())

		if err := h.coordinator.Prompt(ctx, handle, line); err != nil {
			if errors.Is(err, session.ErrSessionBusy) {
				color.Yellow("a turn is already running")
				continue
			}
			color.Red("turn failed: %v", err)
		}

		history := sess.History()
		for _, turn := range history[before:] {
			if turn.Role == turns.RoleAgent {
				printTurn(turn)
			}
		}
	}
}

func printHistory(history []turns.Turn) {
	for _, turn := range history {
		if turn.Role == turns.RoleUser {
			color.New(color.FgGreen).Print("> ")
			fmt.Println(turn.Text)
		} else {
			printTurn(turn)
		}
	}
}

func printTurn(turn turns.Turn) {
	for _, part := range turn.Parts {
		switch part.Kind {
		case turns.PartProgress:
			color.New(color.FgHiBlack).Printf("  … %s\n", part.Text)
		case turns.PartTool:
			marker := color.GreenString("✓")
			if part.Failed {
				marker = color.RedString("✗")
			}
			fmt.Printf("  %s %s\n", marker, part.ToolName)
		default:
			fmt.Println(part.Text)
		}
	}
	if turn.ErrorMessage != "" && len(turn.Parts) == 0 {
		color.Red(turn.ErrorMessage)
	}
	fmt.Println()
}

// terminalPrompter displays permission requests inline and routes numeric
// answers back to the coordinator.
type terminalPrompter struct {
	mu      sync.Mutex
	pending *permission.Pending
}

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{}
}

func (p *terminalPrompter) PromptPermission(req *permission.Pending) {
	p.mu.Lock()
	p.pending = req
	p.mu.Unlock()

	yellow := color.New(color.FgYellow)
	yellow.Printf("\npermission requested: %s\n", req.Request.ToolCall.Title)
	for i, opt := range req.Request.Options {
		fmt.Printf("  [%d] %s\n", i+1, opt.Name)
	}
	fmt.Println("enter a number to answer")
}

func (p *terminalPrompter) RetractPermission(id string) {
	p.mu.Lock()
	if p.pending != nil && p.pending.ID == id {
		p.pending = nil
	}
	p.mu.Unlock()
}

// tryAnswer interprets line as an option number for the pending request.
// Returns false when nothing is pending or the line is not an answer.
func (p *terminalPrompter) tryAnswer(perms *permission.Coordinator, line string) bool {
	p.mu.Lock()
	pending := p.pending
	p.mu.Unlock()
	if pending == nil {
		return false
	}

	idx, err := strconv.Atoi(line)
	if err != nil || idx < 1 || idx > len(pending.Request.Options) {
		color.Yellow("answer with a number between 1 and %d", len(pending.Request.Options))
		return true
	}

	perms.Resolve(pending.SessionID, acp.Selected(pending.Request.Options[idx-1].OptionID))
	return true
}

func runAgents() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if len(cfg.Agents) == 0 {
		fmt.Println("no agents configured")
		return nil
	}
	for _, a := range cfg.Agents {
		fmt.Printf("%-16s %s", a.ID, a.Command)
		if len(a.Args) > 0 {
			fmt.Printf(" %s", strings.Join(a.Args, " "))
		}
		fmt.Println()
	}
	return nil
}

func runSessions(ctx context.Context, args []string) error {
	var agentID string
	var remote bool
	for _, arg := range args {
		if arg == "--remote" {
			remote = true
			continue
		}
		agentID = arg
	}
	if agentID == "" {
		return fmt.Errorf("usage: acp-host sessions <agent> [--remote]")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if remote {
		return runRemoteSessions(ctx, cfg, agentID)
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(getDataPath(), "acp-host.db")
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	metas, err := st.ListSessionMetadata(ctx, agentID)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("no persisted sessions")
		return nil
	}
	for _, meta := range metas {
		fmt.Printf("%s  %-24s %s  %s\n",
			meta.ID, meta.Label, meta.UpdatedAt.Format("2006-01-02 15:04"), meta.Cwd)
	}
	return nil
}

// runRemoteSessions asks the agent itself, via session/list, rather than the
// host's store.
func runRemoteSessions(ctx context.Context, cfg *config.Config, agentID string) error {
	if _, ok := cfg.Agent(agentID); !ok {
		return fmt.Errorf("agent %q is not configured", agentID)
	}

	logger := setupLogger(cfg.Logging)
	permissions := permission.NewCoordinator(cfg.Sessions.PermissionTTL, nil, logger)
	pool := agent.NewPool(cfg.Agents, permissions, nil, logger)
	defer pool.Close()

	client, err := pool.GetClient(ctx, agentID)
	if err != nil {
		return err
	}
	if !client.Capabilities().ListSessions {
		return fmt.Errorf("agent %q does not support session listing", agentID)
	}

	cwd := cfg.Sessions.DefaultCwd
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return err
		}
	}

	sessions, err := client.ListSessions(ctx, cwd)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("agent reports no sessions")
		return nil
	}
	for _, s := range sessions {
		line := s.SessionID
		if s.Title != "" {
			line += "  " + s.Title
		}
		if s.UpdatedAt > 0 {
			line += "  " + time.UnixMilli(s.UpdatedAt).Format("2006-01-02 15:04")
		}
		fmt.Println(line)
	}
	return nil
}

const starterConfig = `# acp-host configuration
agents:
  - id: claude
    title: Claude Code
    command: claude-code-acp
    # args: ["--verbose"]
    # cwd: /path/to/project
    # env:
    #   ANTHROPIC_API_KEY: ${ANTHROPIC_API_KEY}

database:
  path: %s

sessions:
  # default_cwd: /path/to/workspace
  permission_ttl: 5m

logging:
  level: info
  format: text
`

func runInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	dbPath := filepath.Join(getDataPath(), "acp-host.db")
	content := fmt.Sprintf(starterConfig, dbPath)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("wrote %s\n", path)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = newColorHandler(os.Stderr, level)
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
// Groups qualify attribute keys with a dotted prefix.
type colorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	prefix string
}

func newColorHandler(out io.Writer, level slog.Level) *colorHandler {
	return &colorHandler{mu: &sync.Mutex{}, out: out, level: level}
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// WithAttrs attrs are already prefixed; record attrs get the current
	// group prefix.
	for _, a := range h.attrs {
		writeAttr(&buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprint(h.out, buf.String())
	return err
}

func writeAttr(buf *strings.Builder, a slog.Attr) {
	buf.WriteString(color.HiBlackString(" " + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	clone := *h
	clone.attrs = newAttrs
	return &clone
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}
