// Package compaction shrinks conversation histories that no longer fit a
// model's context window. The default strategy summarizes the older part
// of the conversation into a synthetic handoff message; truncation is the
// fallback when summarization cannot run.
package compaction

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/strandlabs/strand/pkg/models"
)

// Compactor reduces a message history so the next completion attempt can
// fit the model's context window.
type Compactor interface {
	Compact(ctx context.Context, messages []models.Message, systemPrompt, model string) ([]models.Message, error)
}

// overflowSignatures are matched against the case-folded error text. Each
// entry is a conjunction: every fragment must appear.
var overflowSignatures = [][]string{
	{"prompt is too long", "tokens"},
	{"input is too long"},
	{"input length and", "max_tokens", "exceed context limit"},
	{"context_length_exceeded"},
	{"maximum context length"},
	{"token limit"},
	{"exceeds the maximum", "token"},
	{"too many tokens"},
	{"exceeds maximum", "tokens"},
}

// IsContextOverflow reports whether err is a provider rejection caused by
// the prompt exceeding the model's context window. Providers phrase this
// a dozen different ways, so classification is by error-text signature.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	text := err.Error()
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		text += " " + apiErr.Message
		if code, ok := apiErr.Code.(string); ok {
			text += " " + code
		}
	}
	folded := strings.ToLower(text)

	for _, sig := range overflowSignatures {
		all := true
		for _, fragment := range sig {
			if !strings.Contains(folded, fragment) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// safeSplit moves a proposed split index k left until messages[:k] does
// not end inside a tool call/result pair: an assistant message with tool
// calls must stay with its tool result messages.
func safeSplit(messages []models.Message, k int) int {
	if k < 0 {
		return 0
	}
	if k > len(messages) {
		k = len(messages)
	}
	for k > 0 && messages[k-1].HasToolCalls() {
		k--
	}
	for k > 0 && k < len(messages) && messages[k].Role == models.RoleTool {
		k--
	}
	return k
}

// Validate drops messages the chat API would reject: tool messages whose
// tool_call_id has no preceding assistant tool call, and assistant
// messages with neither content nor tool calls. It is idempotent.
func Validate(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	validIDs := make(map[string]bool)

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			if msg.Content.IsEmpty() && len(msg.ToolCalls) == 0 {
				continue
			}
			for _, tc := range msg.ToolCalls {
				validIDs[tc.ID] = true
			}
		case models.RoleTool:
			if !validIDs[msg.ToolCallID] {
				continue
			}
		}
		out = append(out, msg)
	}
	return out
}

// leadingSystem returns the run of system messages at the head of the
// history and the rest.
func leadingSystem(messages []models.Message) (head, rest []models.Message) {
	i := 0
	for i < len(messages) && messages[i].Role == models.RoleSystem {
		i++
	}
	return messages[:i], messages[i:]
}
