// Package mcp connects to Model Context Protocol servers and exposes
// their tools to the agent runtime.
//
// Servers are reached over stdio (subprocess) or HTTP. For HTTP the
// newer streamable transport is tried first, falling back to SSE for
// servers that only speak the older protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	clientName      = "strand"
	clientVersion   = "0.1.0"
	protocolVersion = "2024-11-05"
)

// ServerConfig describes one MCP server. Either Command (stdio
// transport) or URL (HTTP transport) must be set.
type ServerConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
}

// ToolInfo is a tool discovered on an MCP server, in a shape the tool
// registry can consume directly.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
	Server      string          `json:"server"`
}

// Connection is a live session with a single MCP server.
type Connection struct {
	config ServerConfig
	logger *slog.Logger
	client *client.Client
	tools  []ToolInfo
}

// Connect establishes a session with the server and discovers its
// tools. The caller owns the connection and must Close it.
func Connect(ctx context.Context, config ServerConfig, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn := &Connection{config: config, logger: logger.With("server", config.Name)}

	switch {
	case config.Command != "":
		c, err := client.NewStdioMCPClient(config.Command, flattenEnv(config.Env), config.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client for %q: %w", config.Name, err)
		}
		if err := conn.start(ctx, c); err != nil {
			return nil, err
		}
	case config.URL != "":
		c, err := client.NewStreamableHttpClient(config.URL)
		if err == nil {
			err = conn.start(ctx, c)
		}
		if err != nil {
			conn.logger.Debug("streamable HTTP transport failed, trying SSE", "error", err)
			c, err = client.NewSSEMCPClient(config.URL)
			if err != nil {
				return nil, fmt.Errorf("create SSE client for %q: %w", config.Name, err)
			}
			if err := conn.start(ctx, c); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("MCP server %q must have either command or url", config.Name)
	}

	if err := conn.discoverTools(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	conn.logger.Info("connected to MCP server", "tools", len(conn.tools))
	return conn, nil
}

func (c *Connection) start(ctx context.Context, mcpClient *client.Client) error {
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("start MCP client for %q: %w", c.config.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize MCP server %q: %w", c.config.Name, err)
	}

	c.client = mcpClient
	return nil
}

func (c *Connection) discoverTools(ctx context.Context) error {
	resp, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("list tools from %q: %w", c.config.Name, err)
	}

	for _, tool := range resp.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			c.logger.Warn("skipping MCP tool with unmarshalable schema",
				"tool", tool.Name, "error", err)
			continue
		}
		c.tools = append(c.tools, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
			Server:      c.config.Name,
		})
	}
	return nil
}

// Tools returns the tools discovered at connect time.
func (c *Connection) Tools() []ToolInfo {
	return c.tools
}

// CallTool invokes a tool and collapses its content blocks into a
// single newline-joined string. A tool-level error result collapses
// the same way so the model sees the failure text.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := c.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call tool %q on %q: %w", name, c.config.Name, err)
	}
	return collectText(resp), nil
}

// Close shuts down the session.
func (c *Connection) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func collectText(resp *mcp.CallToolResult) string {
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
