package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Config holds the MCP manager configuration.
type Config struct {
	Servers       []ServerConfig `yaml:"servers"`
	BroadcastPipe string         `yaml:"broadcast_pipe"`
}

// Manager manages connections to a set of MCP servers and routes tool
// calls to whichever server owns the tool. Tool names are claimed
// first come first served; a later server's duplicate is ignored.
type Manager struct {
	config Config
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
	owner map[string]string // tool name -> server name
}

// NewManager creates a manager for the configured servers without
// connecting to any of them.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BroadcastPipe == "" {
		cfg.BroadcastPipe = DefaultBroadcastPipe
	}
	return &Manager{
		config: cfg,
		logger: logger.With("component", "mcp"),
		conns:  make(map[string]*Connection),
		owner:  make(map[string]string),
	}
}

// Start connects to every configured server. A server that fails to
// connect is logged and skipped; Start only errors when the context
// is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	for _, serverCfg := range m.config.Servers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.connect(ctx, serverCfg); err != nil {
			m.logger.Warn("failed to connect to MCP server, skipping",
				"server", serverCfg.Name,
				"error", err)
		}
	}
	return nil
}

func (m *Manager) connect(ctx context.Context, cfg ServerConfig) error {
	m.mu.RLock()
	_, exists := m.conns[cfg.Name]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	conn, err := Connect(ctx, cfg, m.logger)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[cfg.Name] = conn
	for _, tool := range conn.tools {
		if prev, taken := m.owner[tool.Name]; taken {
			m.logger.Warn("duplicate MCP tool name, keeping first",
				"tool", tool.Name, "kept", prev, "ignored", cfg.Name)
			continue
		}
		m.owner[tool.Name] = cfg.Name
	}
	return nil
}

// Stop disconnects from all servers.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, conn := range m.conns {
		if err := conn.Close(); err != nil {
			m.logger.Error("failed to close MCP connection",
				"server", name,
				"error", err)
		}
		delete(m.conns, name)
	}
	m.owner = make(map[string]string)
	return nil
}

// Tools returns every tool across all connected servers, with
// first-claim winners on name collisions.
func (m *Manager) Tools() []ToolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ToolInfo
	for _, conn := range m.conns {
		for _, tool := range conn.tools {
			if m.owner[tool.Name] == tool.Server {
				out = append(out, tool)
			}
		}
	}
	return out
}

// HasTool reports whether any connected server owns the named tool.
func (m *Manager) HasTool(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.owner[name]
	return ok
}

func (m *Manager) connectionFor(name string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	server, ok := m.owner[name]
	if !ok {
		return nil, fmt.Errorf("no MCP server provides tool %q", name)
	}
	conn, ok := m.conns[server]
	if !ok {
		return nil, fmt.Errorf("MCP server %q not connected", server)
	}
	return conn, nil
}

// CallTool routes a non-streaming call to the owning server.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	conn, err := m.connectionFor(name)
	if err != nil {
		return "", err
	}
	return conn.CallTool(ctx, name, args)
}

// CallToolStream routes a streaming call to the owning server. Deltas
// arrive on the returned channel, which is closed when the call
// completes. Failures surface as a final "Error: ..." delta rather
// than aborting the stream, so the agent loop can hand the text back
// to the model.
func (m *Manager) CallToolStream(ctx context.Context, name string, args map[string]any) <-chan string {
	conn, err := m.connectionFor(name)
	if err != nil {
		out := make(chan string, 1)
		out <- "Error: " + err.Error()
		close(out)
		return out
	}
	return conn.CallToolStream(ctx, name, args, m.config.BroadcastPipe)
}
