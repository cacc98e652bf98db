// Package tools holds the unified tool surface the agent loop executes
// against: one registry spanning in-process handlers, sandbox-VM tools,
// and tools discovered on remote MCP servers, with identical streaming
// semantics for all three.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/strandlabs/strand/internal/sandbox"
)

// Kind tags the backend a tool executes on.
type Kind string

const (
	KindLocal   Kind = "local"
	KindSandbox Kind = "sandbox"
	KindMCP     Kind = "mcp"
)

// Handler is a local tool implementation. Exactly one field is set:
// Sync and Async both produce a single result (Async is the convention
// for long-running handlers), Stream yields incremental deltas on a
// channel it closes when done.
type Handler struct {
	Sync   func(ctx context.Context, args map[string]any) (string, error)
	Async  func(ctx context.Context, args map[string]any) (string, error)
	Stream func(ctx context.Context, args map[string]any) (<-chan string, error)
}

func (h Handler) valid() bool {
	set := 0
	if h.Sync != nil {
		set++
	}
	if h.Async != nil {
		set++
	}
	if h.Stream != nil {
		set++
	}
	return set == 1
}

// LocalTool is an in-process tool.
type LocalTool struct {
	Handler Handler
}

// SandboxTool executes on a remote sandbox VM. HealthTimeout bounds both
// the pre-call readiness wait and the /run request itself.
type SandboxTool struct {
	Handle        sandbox.Handle
	HealthTimeout time.Duration
}

// MCPCaller is the slice of the MCP manager the executor needs. Streams
// close when the call completes; failures arrive as "Error: ..." deltas.
type MCPCaller interface {
	CallToolStream(ctx context.Context, name string, args map[string]any) <-chan string
}

// MCPTool proxies a tool owned by a remote MCP server.
type MCPTool struct {
	Caller MCPCaller
}

// Definition is one registry entry. Exactly one of Local, Sandbox, MCP is
// set, matching Kind.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Kind        Kind

	Local   *LocalTool
	Sandbox *SandboxTool
	MCP     *MCPTool
}

func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("tool definition missing name")
	}
	switch d.Kind {
	case KindLocal:
		if d.Local == nil || !d.Local.Handler.valid() {
			return fmt.Errorf("local tool %q needs exactly one handler", d.Name)
		}
	case KindSandbox:
		if d.Sandbox == nil || d.Sandbox.Handle == nil {
			return fmt.Errorf("sandbox tool %q needs a sandbox handle", d.Name)
		}
	case KindMCP:
		if d.MCP == nil || d.MCP.Caller == nil {
			return fmt.Errorf("MCP tool %q needs a caller", d.Name)
		}
	default:
		return fmt.Errorf("tool %q has unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

// ParseArguments decodes model-supplied tool arguments leniently: empty or
// malformed JSON yields an empty map rather than an error, because models
// occasionally stream broken argument JSON and the run must survive it.
func ParseArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
