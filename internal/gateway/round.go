package gateway

import (
	"strings"

	"github.com/strandlabs/strand/pkg/models"
)

// roundTracker reconstructs the assistant and tool messages of one tool
// round from the event stream, so the chat/completions paths can emit a
// tool_messages event before the next model turn.
type roundTracker struct {
	content strings.Builder
	acc     *models.CallAccumulator
	pending map[string]*strings.Builder

	round []models.Message
	ready bool
}

func newRoundTracker() *roundTracker {
	return &roundTracker{
		acc:     models.NewCallAccumulator(),
		pending: make(map[string]*strings.Builder),
	}
}

func (r *roundTracker) onChunk(sc *models.StreamChunk) {
	r.content.WriteString(sc.Content)
	for _, d := range sc.ToolCalls {
		r.acc.Add(d)
	}
	if sc.FinishReason != "tool_calls" {
		return
	}
	calls := r.acc.Calls()
	if len(calls) == 0 {
		return
	}
	assistant := models.Message{Role: models.RoleAssistant, ToolCalls: calls}
	if text := r.content.String(); text != "" {
		assistant.Content = models.Text(text)
	}
	r.round = append(r.round, assistant)
	r.content.Reset()
	r.acc = models.NewCallAccumulator()
}

func (r *roundTracker) onToolResult(tr *models.ToolResultChunk) {
	buf, ok := r.pending[tr.ToolCallID]
	if !ok {
		buf = &strings.Builder{}
		r.pending[tr.ToolCallID] = buf
	}
	buf.WriteString(tr.Delta)
	if !tr.IsComplete {
		return
	}
	r.round = append(r.round, models.Message{
		Role:       models.RoleTool,
		ToolCallID: tr.ToolCallID,
		Name:       tr.ToolName,
		Content:    models.Text(buf.String()),
	})
	delete(r.pending, tr.ToolCallID)
	r.ready = true
}

// takeIfReady returns the finished round, if one completed, and resets.
func (r *roundTracker) takeIfReady() []models.Message {
	if !r.ready {
		return nil
	}
	return r.take()
}

// take returns whatever round messages have accumulated and resets.
func (r *roundTracker) take() []models.Message {
	msgs := r.round
	r.round = nil
	r.ready = false
	return msgs
}
