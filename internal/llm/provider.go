// Package llm talks to an OpenAI-compatible LLM gateway. One provider
// serves every model family; requests are routed by inferring the family
// from the model id and attaching the matching gateway headers.
package llm

import (
	"context"
	"encoding/json"

	"github.com/strandlabs/strand/pkg/models"
)

// StreamResult is one item of a completion stream: a chunk or a terminal
// error. The channel is closed after the final item.
type StreamResult struct {
	Chunk *models.StreamChunk
	Err   error
}

// CompletionOptions tune a single completion call.
type CompletionOptions struct {
	Temperature *float32
	MaxTokens   int
	Tools       []ToolSpec
	User        string
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Provider produces chat completions.
type Provider interface {
	// StreamCompletion starts a streaming completion. Errors establishing
	// the stream return immediately; mid-stream failures arrive as the
	// final StreamResult.
	StreamCompletion(ctx context.Context, messages []models.Message, model string, opts CompletionOptions) (<-chan StreamResult, error)

	// Completion performs a blocking completion and returns the assistant
	// message.
	Completion(ctx context.Context, messages []models.Message, model string, opts CompletionOptions) (*models.Message, error)
}
