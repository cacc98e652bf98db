package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/pkg/models"
)

// RunStream executes a tool and streams its output. The returned channel
// yields zero or more incomplete chunks and terminates with exactly one
// IsComplete chunk; execution failures surface as a final "Error: ..."
// chunk rather than a Go error, so the agent loop always gets something
// to hand back to the model.
func (r *Registry) RunStream(ctx context.Context, name, argsJSON, callID string) <-chan models.ToolResultChunk {
	out := make(chan models.ToolResultChunk, 16)

	def, ok := r.Get(name)
	if !ok {
		out <- models.ToolResultChunk{
			ToolCallID: callID,
			ToolName:   name,
			Delta:      fmt.Sprintf("Error: tool %q not found", name),
			IsComplete: true,
		}
		close(out)
		return out
	}

	args := ParseArguments(argsJSON)
	go func() {
		defer close(out)
		switch def.Kind {
		case KindLocal:
			r.runLocal(ctx, def, args, callID, out)
		case KindSandbox:
			r.runSandbox(ctx, def, args, callID, out)
		case KindMCP:
			r.runMCP(ctx, def, args, callID, out)
		}
	}()
	return out
}

// Run executes a tool and collects its full output.
func (r *Registry) Run(ctx context.Context, name, argsJSON string) models.ToolResult {
	var b strings.Builder
	for chunk := range r.RunStream(ctx, name, argsJSON, "") {
		b.WriteString(chunk.Delta)
	}
	text := b.String()
	if strings.HasPrefix(text, "Error: ") {
		return models.ToolResult{
			Success:  false,
			Error:    strings.TrimPrefix(text, "Error: "),
			ToolName: name,
		}
	}
	return models.ToolResult{Success: true, Result: text, ToolName: name}
}

func send(ctx context.Context, out chan<- models.ToolResultChunk, chunk models.ToolResultChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func sendError(ctx context.Context, out chan<- models.ToolResultChunk, callID, name string, err error) {
	send(ctx, out, models.ToolResultChunk{
		ToolCallID: callID,
		ToolName:   name,
		Delta:      "Error: " + err.Error(),
		IsComplete: true,
	})
}

func (r *Registry) runLocal(ctx context.Context, def Definition, args map[string]any, callID string, out chan<- models.ToolResultChunk) {
	h := def.Local.Handler

	if h.Stream != nil {
		deltas, err := h.Stream(ctx, args)
		if err != nil {
			sendError(ctx, out, callID, def.Name, err)
			return
		}
		for delta := range deltas {
			if !send(ctx, out, models.ToolResultChunk{
				ToolCallID: callID,
				ToolName:   def.Name,
				Delta:      delta,
			}) {
				return
			}
		}
		send(ctx, out, models.ToolResultChunk{
			ToolCallID: callID,
			ToolName:   def.Name,
			IsComplete: true,
		})
		return
	}

	fn := h.Sync
	if fn == nil {
		fn = h.Async
	}
	result, err := fn(ctx, args)
	if err != nil {
		sendError(ctx, out, callID, def.Name, err)
		return
	}
	send(ctx, out, models.ToolResultChunk{
		ToolCallID: callID,
		ToolName:   def.Name,
		Delta:      result,
		IsComplete: true,
	})
}

func (r *Registry) runSandbox(ctx context.Context, def Definition, args map[string]any, callID string, out chan<- models.ToolResultChunk) {
	st := def.Sandbox

	if err := st.Handle.WaitHealthy(ctx, st.HealthTimeout); err != nil {
		sendError(ctx, out, callID, def.Name, err)
		return
	}

	chunks, err := st.Handle.RunTool(ctx, def.Name, args, st.HealthTimeout)
	if err != nil {
		sendError(ctx, out, callID, def.Name, err)
		return
	}
	for chunk := range chunks {
		chunk.ToolCallID = callID
		chunk.ToolName = def.Name
		if !send(ctx, out, chunk) {
			return
		}
	}
}

func (r *Registry) runMCP(ctx context.Context, def Definition, args map[string]any, callID string, out chan<- models.ToolResultChunk) {
	for delta := range def.MCP.Caller.CallToolStream(ctx, def.Name, args) {
		if !send(ctx, out, models.ToolResultChunk{
			ToolCallID: callID,
			ToolName:   def.Name,
			Delta:      delta,
		}) {
			return
		}
	}
	send(ctx, out, models.ToolResultChunk{
		ToolCallID: callID,
		ToolName:   def.Name,
		IsComplete: true,
	})
}
