package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/compaction"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/gateway"
	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/internal/mcp"
	"github.com/strandlabs/strand/internal/prompts"
	"github.com/strandlabs/strand/internal/sandbox"
	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/internal/tools/builtin"
)

const shutdownTimeout = 30 * time.Second

// buildServeCmd creates the "serve" command that starts the agent runtime
// server. Graceful shutdown is handled on SIGINT/SIGTERM.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Strand agent runtime server",
		Long: `Start the agent runtime server.

The server will:
1. Load configuration from the environment plus an optional strand.yaml
2. Open the thread store (Postgres when configured, SQLite otherwise)
3. Connect to the configured MCP servers and register their tools
4. Start the HTTP server with the chat, agent, and thread endpoints`,
		Example: `  # Start with environment configuration only
  strand serve

  # Start with a config file and debug logging
  strand serve --config /etc/strand/strand.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultFile,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.FromEnv()
	if err := cfg.ApplyFile(configPath); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	provider := llm.NewGatewayProvider(llm.GatewayConfig{
		APIKey:      cfg.Gateway.APIKey,
		BaseURL:     cfg.Gateway.BaseURL,
		ConfigID:    cfg.Gateway.ConfigID,
		VirtualKeys: cfg.VirtualKeys(),
		FallbackKey: cfg.Gateway.VirtualKey,
	}, logger)

	manager, err := buildSandboxManager(cfg, st, logger)
	if err != nil {
		return err
	}

	mcpManager := mcp.NewManager(mcp.Config{Servers: cfg.MCPServers}, logger)
	if err := mcpManager.Start(ctx); err != nil {
		return fmt.Errorf("starting MCP clients: %w", err)
	}
	defer mcpManager.Stop()

	registry := buildRegistry(cfg, mcpManager, logger)
	counts := registry.KindCounts()
	logger.Info("tool registry ready",
		"local", counts[tools.KindLocal],
		"sandbox", counts[tools.KindSandbox],
		"mcp", counts[tools.KindMCP])

	compactor := compaction.NewSummarizationCompactor(provider, logger)
	loop := agent.NewLoop(provider, registry, compactor, logger)
	session := agent.NewSession(loop, st, manager, prompts.DefaultSystemPrompt(), logger)

	server := gateway.NewServer(gateway.Config{
		Addr:         cfg.Addr,
		DefaultModel: cfg.DefaultModel,
		Models:       cfg.Models,
		Store:        st,
		Runner:       session,
		Manager:      manager,
		Registry:     registry,
		Logger:       logger,
	})
	if err := server.Start(); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore selects Postgres when the hosted DSN is configured, local
// SQLite otherwise.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.UsePostgres() {
		st, err := store.NewPostgresStoreFromDSN(cfg.Storage.SupabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return st, nil
	}
	st, err := store.NewSQLiteStore(cfg.Storage.LocalDBPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	return st, nil
}

// buildSandboxManager wires the warm pool, the Daytona provider, and the
// manager. Without a Daytona key the manager still connects to already
// bound sandboxes; it just cannot provision new ones.
func buildSandboxManager(cfg *config.Config, st store.Store, logger *slog.Logger) (*sandbox.Manager, error) {
	var warm *sandbox.WarmPool
	if cfg.Sandbox.WarmServiceURL != "" {
		warm = sandbox.NewWarmPool(cfg.Sandbox.WarmServiceURL, logger)
	}

	var provider sandbox.Provider
	if cfg.Sandbox.DaytonaAPIKey != "" {
		p, err := sandbox.NewDaytonaProvider(sandbox.DaytonaConfig{
			APIKey:   cfg.Sandbox.DaytonaAPIKey,
			Snapshot: cfg.Sandbox.Snapshot,
			EnvID:    cfg.Sandbox.EnvID,
		}, warm, logger)
		if err != nil {
			return nil, fmt.Errorf("building sandbox provider: %w", err)
		}
		provider = p
	}

	manager := sandbox.NewManager(st, provider, sandbox.ManagerConfig{
		ProxyBase:        cfg.Sandbox.ProxyBase,
		VMAPIKey:         cfg.Sandbox.VMAPIKey,
		MemoryDSN:        cfg.Sandbox.MemoryDSN,
		OpenAIVirtualKey: cfg.Sandbox.OpenAIKey,
	}, logger)

	if cfg.Sandbox.LocalURL != "" {
		local := sandbox.NewDirect(cfg.Sandbox.LocalURL, logger)
		manager.SetConnector(func(string) sandbox.Handle { return local })
	}
	return manager, nil
}

// buildRegistry assembles the tool namespace: local builtins first, then
// sandbox tools when a direct sandbox is configured, then MCP tools.
// First registration wins, so that order is also the precedence order.
func buildRegistry(cfg *config.Config, mcpManager *mcp.Manager, logger *slog.Logger) *tools.Registry {
	registry := tools.NewRegistry(logger)

	registry.MustRegister(builtin.NewGetWeather())
	registry.MustRegister(builtin.NewCountSlowly())
	for _, def := range builtin.NewPlanner().Tools() {
		registry.MustRegister(def)
	}

	if cfg.Sandbox.LocalURL != "" {
		handle := sandbox.NewDirect(cfg.Sandbox.LocalURL, logger)
		registry.MustRegister(builtin.NewCreateShell(handle))
		registry.MustRegister(builtin.NewShellExec(handle))
		registry.MustRegister(builtin.NewNotebookRunCell(handle))
	}

	for _, info := range mcpManager.Tools() {
		err := registry.Register(tools.Definition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.InputSchema,
			Kind:        tools.KindMCP,
			MCP:         &tools.MCPTool{Caller: mcpManager},
		})
		if err != nil {
			logger.Warn("skipping MCP tool", "tool", info.Name, "server", info.Server, "error", err)
		}
	}
	return registry
}
