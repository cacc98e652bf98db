// Package agent drives the conversation loop: stream a completion,
// execute the tool calls it produces, feed the results back, repeat
// until the model goes idle or answers in plain text.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/strandlabs/strand/internal/compaction"
	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/pkg/models"
)

// DefaultMaxIterations bounds tool-call round trips per run.
const DefaultMaxIterations = 50

// IdleToolName is the synthetic termination tool offered on every run.
const IdleToolName = "idle"

var idleSpec = llm.ToolSpec{
	Name:        IdleToolName,
	Description: "Call this tool when the task is complete and no further action is needed. Optionally provide a short summary of what was accomplished.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {"type": "string", "description": "Short summary of what was accomplished"}
		}
	}`),
}

// Options tune a single agent run.
type Options struct {
	SystemPrompt string
	Temperature  *float32
	MaxTokens    int
	User         string
}

// Loop is the agent state machine. Compactor may be nil, in which case
// context overflow is terminal.
type Loop struct {
	provider      llm.Provider
	registry      *tools.Registry
	compactor     compaction.Compactor
	maxIterations int
	logger        *slog.Logger
}

// NewLoop wires a loop. maxIterations <= 0 selects the default.
func NewLoop(provider llm.Provider, registry *tools.Registry, compactor compaction.Compactor, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		provider:      provider,
		registry:      registry,
		compactor:     compactor,
		maxIterations: DefaultMaxIterations,
		logger:        logger.With("component", "agent"),
	}
}

// SetMaxIterations overrides the iteration cap.
func (l *Loop) SetMaxIterations(n int) {
	if n > 0 {
		l.maxIterations = n
	}
}

// Run executes the loop. The returned channel carries every provider
// chunk and tool-result chunk in order and is closed after a terminal
// Done or Err event.
func (l *Loop) Run(ctx context.Context, messages []models.Message, model string, opts Options) <-chan models.Event {
	out := make(chan models.Event, 32)
	go func() {
		defer close(out)
		l.run(ctx, messages, model, opts, out)
	}()
	return out
}

func (l *Loop) run(ctx context.Context, messages []models.Message, model string, opts Options, out chan<- models.Event) {
	working := make([]models.Message, len(messages))
	copy(working, messages)

	if opts.SystemPrompt != "" && (len(working) == 0 || working[0].Role != models.RoleSystem) {
		working = append([]models.Message{{
			Role:    models.RoleSystem,
			Content: models.Text(opts.SystemPrompt),
		}}, working...)
	}

	specs := append(l.registry.Specs(), idleSpec)
	compacted := false

	for iteration := 0; ; {
		content, calls, err := l.streamOnce(ctx, working, model, opts, specs, out)
		if err != nil {
			if compaction.IsContextOverflow(err) && l.compactor != nil && !compacted {
				smaller, cerr := l.compactor.Compact(ctx, working, opts.SystemPrompt, model)
				if cerr == nil {
					l.logger.Info("context overflow, compacted and retrying",
						"before", len(working), "after", len(smaller), "iteration", iteration)
					working = smaller
					compacted = true
					continue
				}
				l.logger.Error("compaction failed after overflow", "error", cerr)
			}
			emit(ctx, out, models.Event{Err: err})
			return
		}

		if len(calls) == 0 {
			emit(ctx, out, models.Event{Done: &models.AgentDone{
				Reason:       models.DoneTextResponse,
				FinalContent: content,
				Iteration:    iteration,
			}})
			return
		}

		assistant := models.Message{Role: models.RoleAssistant, ToolCalls: calls}
		if content != "" {
			assistant.Content = models.Text(content)
		}
		working = append(working, assistant)

		for _, call := range calls {
			if call.Function.Name == IdleToolName {
				summary, _ := tools.ParseArguments(call.Function.Arguments)["summary"].(string)
				payload, _ := json.Marshal(map[string]string{"status": "idle", "summary": summary})
				working = append(working, models.Message{
					Role:       models.RoleTool,
					ToolCallID: call.ID,
					Content:    models.Text(string(payload)),
				})
				emit(ctx, out, models.Event{ToolResult: &models.ToolResultChunk{
					ToolCallID: call.ID,
					ToolName:   IdleToolName,
					Delta:      string(payload),
					IsComplete: true,
				}})
				emit(ctx, out, models.Event{Done: &models.AgentDone{
					Reason:    models.DoneIdle,
					Summary:   summary,
					Iteration: iteration,
				}})
				return
			}

			var result strings.Builder
			for chunk := range l.registry.RunStream(ctx, call.Function.Name, call.Function.Arguments, call.ID) {
				result.WriteString(chunk.Delta)
				c := chunk
				if !emit(ctx, out, models.Event{ToolResult: &c}) {
					return
				}
			}
			working = append(working, models.Message{
				Role:       models.RoleTool,
				ToolCallID: call.ID,
				Content:    models.Text(result.String()),
			})
		}

		iteration++
		if iteration == l.maxIterations {
			emit(ctx, out, models.Event{Done: &models.AgentDone{
				Reason:    models.DoneMaxIterations,
				Iteration: iteration,
			}})
			return
		}
	}
}

// streamOnce runs one provider call, forwarding chunks and accumulating
// the assistant turn.
func (l *Loop) streamOnce(ctx context.Context, working []models.Message, model string, opts Options, specs []llm.ToolSpec, out chan<- models.Event) (string, []models.ToolCall, error) {
	stream, err := l.provider.StreamCompletion(ctx, llm.PruneImages(working, llm.ImageKeepLimit), model, llm.CompletionOptions{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Tools:       specs,
		User:        opts.User,
	})
	if err != nil {
		return "", nil, err
	}

	var content strings.Builder
	acc := models.NewCallAccumulator()
	for result := range stream {
		if result.Err != nil {
			return "", nil, result.Err
		}
		chunk := result.Chunk
		content.WriteString(chunk.Content)
		for _, d := range chunk.ToolCalls {
			acc.Add(d)
		}
		if !emit(ctx, out, models.Event{Chunk: chunk}) {
			return "", nil, ctx.Err()
		}
	}
	return content.String(), acc.Calls(), nil
}

func emit(ctx context.Context, out chan<- models.Event, ev models.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
