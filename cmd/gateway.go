package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/agent"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bootstrap"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/channels"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/channels/console"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/config"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/cron"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/gateway"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/mcp"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/memory"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/persona"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/providers"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/sessions"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/skills"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tools"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tracing"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the agent runtime and control gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	setupLogging()
	for {
		code, restart := runGatewayOnce()
		if !restart {
			os.Exit(code)
		}
		slog.Info("restarting runtime")
	}
}

// runGatewayOnce wires and runs the full runtime until shutdown or restart
// is requested. Returns the process exit code and whether to run again.
func runGatewayOnce() (int, bool) {
	startedAt := time.Now()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var restartRequested atomic.Bool

	if cfg.Telemetry.Enabled {
		shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
		if err != nil {
			slog.Warn("tracing disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
				defer c()
				_ = shutdownTracing(shutdownCtx)
			}()
		}
	}

	// First-run layout: persona dirs, session dirs, data dir, placeholder
	// persona files. A persona dir we cannot create or read is fatal.
	seeded, err := bootstrap.Run(cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		return 1, false
	}
	if len(seeded.Files) > 0 {
		slog.Info("seeded persona templates", "files", seeded.Files)
	}

	msgBus := bus.New()

	providerCfg := cfg.Provider(cfg.Agent.Provider)
	provider := providers.NewOpenAIProvider(cfg.Agent.Provider, providerCfg.APIKey, providerCfg.BaseURL)
	if providerCfg.APIKey == "" && cfg.Agent.Provider != "ollama" {
		slog.Warn("no API key configured for provider", "provider", cfg.Agent.Provider,
			"hint", "set LIMEBOT_"+envKeySuffix(cfg.Agent.Provider))
	}

	sessionMgr, err := sessions.NewManager(cfg.SessionsDir())
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		return 1, false
	}
	defer sessionMgr.Close()

	personaStore, err := persona.NewStore(cfg.PersonaDir())
	if err != nil {
		slog.Error("failed to open persona store", "error", err)
		return 1, false
	}

	// Memory index is fail-open: recall and memory tools degrade to nothing.
	var memIndex *memory.Index
	if cfg.Memory.Enabled == nil || *cfg.Memory.Enabled {
		memIndex, err = memory.OpenIndex(filepath.Join(cfg.DataDir(), "memory.db"))
		if err != nil {
			slog.Warn("memory index unavailable", "error", err)
		} else {
			defer memIndex.Close()
		}
	}
	recaller := memory.NewRecaller(memIndex, nil)

	cronStore, err := cron.NewStore(filepath.Join(cfg.DataDir(), "cron.json"))
	if err != nil {
		slog.Error("scheduler store unusable", "error", err)
		return 1, false
	}

	registry := tools.NewRegistry()

	cache := tools.NewCache(cfg.Tools.Cache.Capacity, cfg.Tools.Cache.DefaultTTL.Or(5*time.Minute))
	for tool, ttl := range cfg.Tools.Cache.ToolTTL {
		cache.SetToolTTL(tool, ttl.Std())
	}

	confirmations := tools.NewConfirmationManager(cfg.Tools.ConfirmTTL.Or(5 * time.Minute))
	executor := tools.NewExecutor(tools.ExecutorConfig{
		Registry:      registry,
		Cache:         cache,
		Confirmations: confirmations,
		Router:        msgBus,
		Events:        msgBus,
		Policy:        cfg.Policy,
		CallTimeout:   cfg.Tools.CallTimeout.Std(),
	})

	registerBuiltinTools(registry, cfg, msgBus, sessionMgr, personaStore, memIndex, cronStore)

	assembler := persona.NewAssembler(personaStore,
		persona.WithAllowedPaths(cfg.WorkspacePath(), cfg.PersonaDir()),
		persona.WithSensitiveTools(registry.Sensitive()...),
		persona.WithToolNames(registry.Names),
	)
	go func() {
		if err := persona.Watch(ctx, cfg.PersonaDir(), assembler); err != nil {
			slog.Warn("persona watcher unavailable", "error", err)
		}
	}()

	skillMgr := skillsManager(cfg, registry, msgBus, assembler)
	defer skillMgr.Close()
	if err := skillMgr.Watch(ctx); err != nil {
		slog.Warn("skills watcher unavailable", "error", err)
	}

	var mcpMgr *mcp.Manager
	if len(cfg.MCP.Servers) > 0 {
		mcpMgr = mcp.NewManager(registry, cfg.MCP.Servers)
		mcpMgr.Start(ctx)
		defer mcpMgr.Stop()
	}

	subagents := agent.NewSubagentManager(agent.SubagentConfig{
		Provider:      provider,
		Model:         cfg.Agent.Model,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		Router:        msgBus,
		Sessions:      sessionMgr,
		Executor:      executor,
		Persona:       personaStore,
		MaxIterations: cfg.Agent.Subagents.MaxIterations,
		MaxConcurrent: cfg.Agent.Subagents.MaxConcurrent,
	})
	defer subagents.Stop()
	registry.Register(agent.NewSpawnSubagentTool(subagents), tools.Meta{Class: tools.ClassWrite})

	orch := agent.New(agent.Config{
		Provider:          provider,
		Model:             cfg.Agent.Model,
		SummaryModel:      cfg.Agent.SummaryModel,
		MaxTokens:         cfg.Agent.MaxTokens,
		Temperature:       cfg.Agent.Temperature,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
		HistoryBudget:     cfg.Agent.HistoryBudget,
		Router:            msgBus,
		Sessions:          sessionMgr,
		Executor:          executor,
		Assembler:         assembler,
		Persona:           personaStore,
		Memory:            memIndex,
		Recaller:          recaller,
	})
	go orch.Run(ctx)

	scheduler := cron.NewScheduler(cronStore, msgBus)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	channelMgr := channels.NewManager(msgBus)
	if cfg.Channels.Console.Enabled {
		channelMgr.Register(console.New(msgBus, cfg.Channels.Console.SenderID))
	}
	channelMgr.StartAll(ctx)
	defer channelMgr.StopAll(context.Background())

	server := gateway.NewServer(cfg.Gateway, gateway.Deps{
		Version:    Version,
		StartedAt:  startedAt,
		Model:      cfg.Agent.Model,
		ConfigHash: cfg.Hash,
		Router:     msgBus,
		Events:     msgBus,
		Sinks:      msgBus,
		Sessions:   sessionMgr,
		Jobs:       cronStore,
		Cache:      cache,
		Channels:   channelMgr,
		Skills:     skillMgr,
		Confirm:    confirmations,
		Cancel:     orch.Cancel,
		Subagents:  subagents.Active,
		Restart: func() {
			restartRequested.Store(true)
			cancel()
		},
		Shutdown:  cancel,
		Tailscale: cfg.Tailscale,
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
		<-serverErr
	case err := <-serverErr:
		if err != nil {
			slog.Error("gateway failed", "error", err)
			return 1, false
		}
	case <-ctx.Done():
		<-serverErr
	}

	msgBus.Stop()
	if err := sessionMgr.FlushNow(); err != nil {
		slog.Warn("final session flush failed", "error", err)
	}
	return 0, restartRequested.Load()
}

func skillsManager(cfg *config.Config, registry *tools.Registry, msgBus *bus.MessageBus, assembler *persona.Assembler) *skills.Manager {
	mgr := skills.NewManager(cfg.SkillsDir(), registry,
		skills.WithEnabled(cfg.Skills.Enabled),
		skills.WithEvents(msgBus),
		skills.WithInvalidate(assembler.InvalidateAll),
		skills.WithUnsafeExec(cfg.Tools.Exec.AllowUnsafe),
		skills.WithExecTimeout(cfg.Tools.Exec.Timeout.Std()),
	)
	if err := mgr.Load(); err != nil {
		slog.Warn("skill load failed", "error", err)
	}
	return mgr
}

func envKeySuffix(provider string) string {
	switch provider {
	case "openrouter":
		return "OPENROUTER_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}
