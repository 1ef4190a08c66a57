// Command galactic-gateway runs the ReAct orchestrator against a
// configured fallback chain of LLM providers. It exposes a minimal
// stdin/stdout REPL; the real transports (chat apps, HTTP APIs) this
// gateway would normally sit behind are out of scope here (spec §1).
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/chathistory"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/checkpoint"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/config"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/costlog"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/llm"
	. "github.com/cmmchsvc-dev/galactic-gateway/internal/logging"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/orchestrator"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/paths"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/planner"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/tools"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/tools/exec"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/tools/read"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/trace"
)

var version = "dev"

// CLI is the kong command tree. "chat" (the default) runs the REPL;
// "version" just prints the build version.
type CLI struct {
	Debug  bool   `help:"Enable debug logging" short:"d"`
	Trace  bool   `help:"Enable trace logging" short:"t"`
	Config string `help:"Config file path" short:"c" type:"path"`

	Chat    ChatCmd    `cmd:"" default:"withargs" help:"Run the interactive REPL"`
	Version VersionCmd `cmd:"" help:"Show version"`
	Manage  ConfigCmd  `cmd:"" name:"config" help:"Inspect or manage the config file"`
}

// ConfigCmd groups the config-file inspection/management subcommands
// (spec §6's config surface).
type ConfigCmd struct {
	Show    ConfigShowCmd    `cmd:"" default:"withargs" help:"Print the resolved config path"`
	Init    ConfigInitCmd    `cmd:"" help:"Write the default config if none exists"`
	Backups ConfigBackupsCmd `cmd:"" help:"List config backups"`
	Restore ConfigRestoreCmd `cmd:"" help:"Restore a config backup by index"`
}

type ConfigInitCmd struct{}

func (c *ConfigInitCmd) Run(cli *CLI) error {
	path := cli.Config
	if path == "" {
		p, err := paths.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if path == "" {
		p, err := paths.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := config.Save(path, config.Default(), config.DefaultBackupCount); err != nil {
		return err
	}
	fmt.Println("wrote default config to", path)
	return nil
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(cli *CLI) error {
	path := cli.Config
	if path == "" {
		p, err := paths.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	fmt.Println(path)
	return nil
}

type ConfigBackupsCmd struct{}

func (c *ConfigBackupsCmd) Run(cli *CLI) error {
	path := cli.Config
	if path == "" {
		p, err := paths.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	backups := config.ListBackups(path)
	if len(backups) == 0 {
		fmt.Println("no backups found")
		return nil
	}
	for _, b := range backups {
		fmt.Printf("%d\t%s\t%s\t%d bytes\n", b.Index, b.Path, b.ModTime.Format(time.RFC3339), b.Size)
	}
	return nil
}

type ConfigRestoreCmd struct {
	Index int `arg:"" help:"Backup index to restore (0 = .bak, the newest)"`
}

func (c *ConfigRestoreCmd) Run(cli *CLI) error {
	path := cli.Config
	if path == "" {
		p, err := paths.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	return config.RestoreBackup(path, c.Index)
}

type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	fmt.Println(version)
	return nil
}

type ChatCmd struct{}

func (c *ChatCmd) Run(cli *CLI) error {
	return runChat(cli)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("galactic-gateway"),
		kong.Description("Multi-provider LLM orchestration gateway"),
		kong.UsageOnError(),
	)

	level := LevelInfo
	if cli.Trace {
		level = LevelTrace
	} else if cli.Debug {
		level = LevelDebug
	}
	Init(&Config{Level: level, ShowCaller: true})

	if err := ctx.Run(&cli); err != nil {
		L_fatal("command failed", "error", err)
	}
}

// gateway bundles every collaborator the orchestrator composes, wired
// once at startup from config (spec §6).
type gateway struct {
	cfg         *config.Config
	manager     *llm.Manager
	health      *llm.HealthTracker
	engine      *llm.FallbackEngine
	tools       *tools.Registry
	checkpoints *checkpoint.Store
	costLog     *costlog.Log
	chatLog     *chathistory.Log
	sink        *trace.WebSocketSink
	orch        *orchestrator.Orchestrator
}

func runChat(cli *CLI) error {
	configPath := cli.Config
	if configPath == "" {
		p, err := paths.ConfigPath()
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := newGateway(cfg, configPath)
	if err != nil {
		return err
	}
	defer gw.close()

	watcher, err := config.NewWatcher(configPath, gw.applyHotReload)
	if err != nil {
		L_warn("config: hot-reload disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	session := orchestrator.NewSession(sessionID, gw.orch, gw.sink)

	// Fallback events become trace events on this session's stream (spec
	// §4.3 step 5's model_fallback), teed into the process log.
	emitter := trace.NewEmitter(sessionID, gw.sink)
	gw.engine.SetObserver(func(event string, fields map[string]any) {
		L_info("model fallback", "event", event, "fields", fields)
		emitter.Emit(trace.Phase(event), 0, fields)
	})

	fmt.Println("galactic-gateway ready. Type a message, /model <provider>/<model> to switch, or /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		if rest, ok := strings.CutPrefix(line, "/model "); ok {
			parts := strings.SplitN(strings.TrimSpace(rest), "/", 2)
			if len(parts) != 2 {
				fmt.Println("usage: /model <provider>/<model>")
				continue
			}
			session.SwitchModel(llm.Selection{ProviderID: parts[0], ModelID: parts[1]})
			fmt.Printf("switched to %s/%s\n", parts[0], parts[1])
			continue
		}

		gw.chatLog.Append(chathistory.Entry{Role: "user", Content: line, Timestamp: time.Now()})

		answer, err := session.Speak(ctx, line, nil, "", "")
		if err != nil {
			L_error("speak failed", "error", err)
			fmt.Println("error:", err)
			continue
		}
		gw.chatLog.Append(chathistory.Entry{Role: "assistant", Content: answer, Timestamp: time.Now()})
		fmt.Println(answer)

		if err := ctx.Err(); err != nil {
			break
		}
	}
	return nil
}

// newGateway wires config into the full collaborator graph (spec §6's
// external interfaces): providers, the Model Manager, the Fallback
// Engine, the tool registry, the checkpoint store, the trace sink, and
// the orchestrator itself.
func newGateway(cfg *config.Config, configPath string) (*gateway, error) {
	providers := buildProviders(cfg)

	overrides := make(map[llm.ErrorKind]int, len(cfg.Models.FallbackCooldowns))
	for k, v := range cfg.Models.FallbackCooldowns {
		overrides[llm.ErrorKind(k)] = v
	}
	health := llm.NewHealthTracker(overrides)

	engine := llm.NewFallbackEngine(providerMap(providers), health)
	engine.SetOllamaHealthCheck(ollamaHealthCheck)

	primary := llm.Selection{ProviderID: cfg.Models.PrimaryProvider, ModelID: cfg.Models.PrimaryModel}
	fallback := llm.Selection{ProviderID: cfg.Models.FallbackProvider, ModelID: cfg.Models.FallbackModel}
	hasKey := func(providerID string) bool {
		p, ok := cfg.Providers[providerID]
		return ok && p.APIKey != ""
	}

	chain := buildChain(cfg, primary, fallback, hasKey)
	manager := llm.NewManager(primary, fallback, chain, loadRoutingPolicy(configPath))

	client := &llm.ResilientClient{Manager: manager, Engine: engine, AutoFallback: cfg.Models.AutoFallback}

	reg := tools.NewRegistry()
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	reg.Register(read.NewTool(cwd))
	reg.Register(exec.NewTool(cwd))
	for name, seconds := range cfg.ToolTimeouts {
		reg.SetTimeout(name, time.Duration(seconds)*time.Second)
	}

	runsDir, err := paths.RunsDir()
	if err != nil {
		return nil, fmt.Errorf("resolve runs dir: %w", err)
	}
	if err := paths.EnsureDir(runsDir); err != nil {
		return nil, err
	}
	store, err := checkpoint.NewStore(runsDir)
	if err != nil {
		return nil, fmt.Errorf("new checkpoint store: %w", err)
	}

	costPath, err := paths.CostLogPath()
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureParentDir(costPath); err != nil {
		return nil, err
	}
	costLog, err := costlog.New(costPath)
	if err != nil {
		return nil, fmt.Errorf("new cost log: %w", err)
	}
	if err := costLog.Prune(time.Now()); err != nil {
		L_warn("cost log prune failed", "error", err)
	}

	chatPath, err := paths.ChatHistoryPath()
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureParentDir(chatPath); err != nil {
		return nil, err
	}
	chatLog, err := chathistory.New(chatPath)
	if err != nil {
		return nil, fmt.Errorf("new chat history: %w", err)
	}

	sink := trace.NewWebSocketSink()

	orch := &orchestrator.Orchestrator{
		Tools:        reg,
		LLM:          client,
		Manager:      manager,
		Health:       health,
		Checkpoints:  store,
		Cfg:          orchestratorConfig(cfg),
		HasKey:       hasKey,
		KeyFor:       func(providerID string) string { return cfg.Providers[providerID].APIKey },
		SmartRouting: cfg.Models.SmartRouting,
		CostLog:      &costRecorder{log: costLog},
	}
	orch.Planner = planner.New(orch)

	return &gateway{
		cfg:         cfg,
		manager:     manager,
		health:      health,
		engine:      engine,
		tools:       reg,
		checkpoints: store,
		costLog:     costLog,
		chatLog:     chatLog,
		sink:        sink,
		orch:        orch,
	}, nil
}

func (g *gateway) close() {}

// costRecorder adapts costlog.Log to orchestrator.CostRecorder.
type costRecorder struct {
	log *costlog.Log
}

func (c *costRecorder) RecordUsage(providerID, modelID string, promptTokens, completionTokens int) {
	err := c.log.Append(costlog.Entry{
		Timestamp: time.Now(),
		Model:     modelID,
		Provider:  providerID,
		TokensIn:  promptTokens,
		TokensOut: completionTokens,
	})
	if err != nil {
		L_warn("cost log append failed", "error", err)
	}
}

// applyHotReload updates the settings that are safe to change without
// restarting an in-flight session: cooldown overrides, tool timeouts, the
// smart-routing toggle, and the streaming and context-window-trim flags
// (config.Watcher's documented scope).
func (g *gateway) applyHotReload(cfg *config.Config) {
	overrides := make(map[llm.ErrorKind]int, len(cfg.Models.FallbackCooldowns))
	for k, v := range cfg.Models.FallbackCooldowns {
		overrides[llm.ErrorKind(k)] = v
	}
	g.health.SetOverrides(overrides)

	for name, seconds := range cfg.ToolTimeouts {
		g.tools.SetTimeout(name, time.Duration(seconds)*time.Second)
	}
	g.orch.SmartRouting = cfg.Models.SmartRouting
	g.orch.Cfg.Streaming = cfg.Models.Streaming
	g.orch.Cfg.ContextWindowTrim = cfg.Models.ContextWindowTrim
	g.cfg = cfg
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	if cfg.Models.MaxTurns > 0 {
		oc.MaxTurns = cfg.Models.MaxTurns
	}
	if cfg.Models.SpeakTimeout > 0 {
		oc.SpeakTimeout = time.Duration(cfg.Models.SpeakTimeout) * time.Second
	}
	oc.Streaming = cfg.Models.Streaming
	oc.ContextWindowTrim = cfg.Models.ContextWindowTrim
	return oc
}

func ollamaHealthCheck(providerID string) bool {
	if providerID != "ollama" {
		return true
	}
	conn, err := net.DialTimeout("tcp", "localhost:11434", 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
