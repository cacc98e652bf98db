package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/pkg/models"
)

// finalContentChunkSize is how the final agent answer is re-chunked on
// the chat/completions paths, matching what legacy clients expect.
const finalContentChunkSize = 20

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature *float32         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	User        string           `json:"user,omitempty"`
}

type chunkDelta struct {
	Role      string                 `json:"role,omitempty"`
	Content   string                 `json:"content,omitempty"`
	ToolCalls []models.ToolCallDelta `json:"tool_calls,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type completionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

func newCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}

func wrapChunk(id, model string, sc *models.StreamChunk) completionChunk {
	choice := chunkChoice{Delta: chunkDelta{
		Role:      sc.Role,
		Content:   sc.Content,
		ToolCalls: sc.ToolCalls,
	}}
	if sc.FinishReason != "" {
		reason := sc.FinishReason
		choice.FinishReason = &reason
	}
	return completionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chunkChoice{choice},
	}
}

func toolResultEvent(tr *models.ToolResultChunk) map[string]any {
	return map[string]any{
		"type":         "tool_result",
		"tool_call_id": tr.ToolCallID,
		"tool_name":    tr.ToolName,
		"delta":        tr.Delta,
		"is_complete":  tr.IsComplete,
	}
}

func agentDoneEvent(done *models.AgentDone) map[string]any {
	ev := map[string]any{
		"type":      "agent_done",
		"reason":    done.Reason,
		"iteration": done.Iteration,
	}
	if done.FinalContent != "" {
		ev["final_content"] = done.FinalContent
	}
	if done.Summary != "" {
		ev["summary"] = done.Summary
	}
	return ev
}

func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (*chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages must not be empty")
		return nil, false
	}
	if req.Model == "" {
		req.Model = s.defaultModel
	}
	return &req, true
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.metrics.requests.WithLabelValues("chat_completions").Inc()
	s.serveChat(w, r, "")
}

func (s *Server) handleThreadChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.metrics.requests.WithLabelValues("thread_chat_completions").Inc()
	s.serveChat(w, r, r.PathValue("tid"))
}

func (s *Server) handleAgentRun(w http.ResponseWriter, r *http.Request) {
	s.metrics.requests.WithLabelValues("agent_run").Inc()
	s.serveAgent(w, r, "")
}

func (s *Server) handleThreadAgentRun(w http.ResponseWriter, r *http.Request) {
	s.metrics.requests.WithLabelValues("thread_agent_run").Inc()
	s.serveAgent(w, r, r.PathValue("tid"))
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request, threadID string) (*chatRequest, <-chan models.Event, bool) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return nil, nil, false
	}
	opts := agent.Options{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		User:        req.User,
	}

	var events <-chan models.Event
	var err error
	if threadID == "" {
		events, err = s.runner.Run(r.Context(), req.Messages, req.Model, opts)
	} else {
		events, err = s.runner.RunWithThread(r.Context(), threadID, req.Messages, req.Model, opts)
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	return req, events, true
}

// serveAgent streams raw agent events.
func (s *Server) serveAgent(w http.ResponseWriter, r *http.Request, threadID string) {
	req, events, ok := s.startRun(w, r, threadID)
	if !ok {
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sse.Done()

	start := time.Now()
	id := newCompletionID()
	for ev := range events {
		switch {
		case ev.Chunk != nil:
			sse.Event(wrapChunk(id, req.Model, ev.Chunk))
		case ev.ToolResult != nil:
			s.metrics.toolChunks.Inc()
			sse.Event(toolResultEvent(ev.ToolResult))
		case ev.Done != nil:
			s.metrics.agentRuns.WithLabelValues(ev.Done.Reason).Inc()
			s.metrics.runDuration.Observe(time.Since(start).Seconds())
			sse.Event(agentDoneEvent(ev.Done))
		case ev.Err != nil:
			s.metrics.streamErrors.Inc()
			sse.Error(ev.Err.Error(), "agent_error")
			return
		}
	}
}

// serveChat streams OpenAI-style chunks with interleaved tool events,
// then re-chunks the final answer for legacy clients.
func (s *Server) serveChat(w http.ResponseWriter, r *http.Request, threadID string) {
	req, events, ok := s.startRun(w, r, threadID)
	if !ok {
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sse.Done()

	start := time.Now()
	id := newCompletionID()
	round := newRoundTracker()

	for ev := range events {
		switch {
		case ev.Chunk != nil:
			if msgs := round.takeIfReady(); len(msgs) > 0 {
				sse.Event(map[string]any{"type": "tool_messages", "messages": msgs})
			}
			round.onChunk(ev.Chunk)
			sse.Event(wrapChunk(id, req.Model, ev.Chunk))

		case ev.ToolResult != nil:
			s.metrics.toolChunks.Inc()
			round.onToolResult(ev.ToolResult)
			sse.Event(toolResultEvent(ev.ToolResult))

		case ev.Done != nil:
			s.metrics.agentRuns.WithLabelValues(ev.Done.Reason).Inc()
			s.metrics.runDuration.Observe(time.Since(start).Seconds())
			if msgs := round.take(); len(msgs) > 0 {
				sse.Event(map[string]any{"type": "tool_messages", "messages": msgs})
			}
			s.emitFinalContent(sse, id, req.Model, ev.Done)
			sse.Event(agentDoneEvent(ev.Done))

		case ev.Err != nil:
			s.metrics.streamErrors.Inc()
			sse.Error(ev.Err.Error(), "agent_error")
			return
		}
	}
}

// emitFinalContent replays the final answer as a fresh chunk sequence:
// role, 20-character content chunks, then finish_reason stop.
func (s *Server) emitFinalContent(sse *sseWriter, id, model string, done *models.AgentDone) {
	content := done.FinalContent
	if content == "" {
		content = done.Summary
	}
	if content == "" {
		return
	}

	sse.Event(wrapChunk(id, model, &models.StreamChunk{Role: "assistant"}))
	for len(content) > 0 {
		n := finalContentChunkSize
		if n > len(content) {
			n = len(content)
		}
		sse.Event(wrapChunk(id, model, &models.StreamChunk{Content: content[:n]}))
		content = content[n:]
	}
	sse.Event(wrapChunk(id, model, &models.StreamChunk{FinishReason: "stop"}))
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	s.metrics.requests.WithLabelValues("create_thread").Inc()

	var req struct {
		SystemMessage  string         `json:"system_message,omitempty"`
		UserID         string         `json:"user_id,omitempty"`
		KafkaProfileID string         `json:"kafka_profile_id,omitempty"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	thread, err := s.store.CreateThread(r.Context(), store.CreateThreadOptions{
		SystemMessage:  req.SystemMessage,
		UserID:         req.UserID,
		KafkaProfileID: req.KafkaProfileID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id":  thread.ID,
		"created_at": thread.CreatedAt,
	})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	s.metrics.requests.WithLabelValues("get_messages").Inc()

	threadID := r.PathValue("tid")
	msgs, err := s.store.GetThreadMessages(r.Context(), threadID, 0, true)
	if err != nil {
		status := http.StatusInternalServerError
		if err == store.ErrThreadNotFound {
			status = http.StatusNotFound
		}
		writeJSONError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"messages":  msgs,
	})
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	s.metrics.requests.WithLabelValues("add_message").Inc()

	threadID := r.PathValue("tid")
	var msg models.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}
	id, err := s.store.AddMessage(r.Context(), threadID, msg)
	if err != nil {
		status := http.StatusInternalServerError
		if err == store.ErrThreadNotFound {
			status = http.StatusNotFound
		}
		writeJSONError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message_id": id,
	})
}

func (s *Server) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	s.metrics.requests.WithLabelValues("delete_messages").Inc()

	threadID := r.PathValue("tid")
	count, err := s.store.DeleteThreadMessages(r.Context(), threadID)
	if err != nil {
		status := http.StatusInternalServerError
		if err == store.ErrThreadNotFound {
			status = http.StatusNotFound
		}
		writeJSONError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"deleted_count": count,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.metrics.requests.WithLabelValues("models").Inc()

	data := make([]map[string]any, 0, len(s.models))
	for _, id := range s.models {
		data = append(data, map[string]any{
			"id":       id,
			"object":   "model",
			"owned_by": "strand",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"kafka_initialized": s.runner != nil && s.store != nil,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": message},
	})
}
