package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/pkg/models"
)

// fakeRunner replays a scripted event list for any run.
type fakeRunner struct {
	events []models.Event
	err    error

	gotThread   string
	gotModel    string
	gotMessages []models.Message
}

func (f *fakeRunner) Run(ctx context.Context, messages []models.Message, model string, opts agent.Options) (<-chan models.Event, error) {
	return f.run("", messages, model)
}

func (f *fakeRunner) RunWithThread(ctx context.Context, threadID string, newMessages []models.Message, model string, opts agent.Options) (<-chan models.Event, error) {
	return f.run(threadID, newMessages, model)
}

func (f *fakeRunner) run(threadID string, messages []models.Message, model string) (<-chan models.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.gotThread = threadID
	f.gotModel = model
	f.gotMessages = messages

	out := make(chan models.Event, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func newTestServer(t *testing.T, runner AgentRunner) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	srv := NewServer(Config{
		Addr:         ":0",
		DefaultModel: "gpt-4o",
		Models:       []string{"gpt-4o", "claude-sonnet-4-20250514"},
		Store:        st,
		Runner:       runner,
	})
	return srv, st
}

// sseEvents posts body to path and returns the decoded data lines.
func sseEvents(t *testing.T, srv *Server, path, body string) []string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, body: %s", ct, rec.Body.String())
	}
	var events []string
	for _, block := range strings.Split(rec.Body.String(), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if !strings.HasPrefix(block, "data: ") {
			t.Fatalf("malformed SSE block: %q", block)
		}
		events = append(events, strings.TrimPrefix(block, "data: "))
	}
	return events
}

func eventType(raw string) string {
	var probe struct {
		Type   string `json:"type"`
		Object string `json:"object"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return "raw"
	}
	switch {
	case probe.Error != nil:
		return "error"
	case probe.Type != "":
		return probe.Type
	case probe.Object != "":
		return probe.Object
	}
	return "unknown"
}

func TestChatCompletionsPureText(t *testing.T) {
	runner := &fakeRunner{events: []models.Event{
		{Chunk: &models.StreamChunk{Content: "Hel"}},
		{Chunk: &models.StreamChunk{Content: "lo"}},
		{Chunk: &models.StreamChunk{FinishReason: "stop"}},
		{Done: &models.AgentDone{Reason: models.DoneTextResponse, FinalContent: "Hello"}},
	}}
	srv, _ := newTestServer(t, runner)

	events := sseEvents(t, srv, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)

	if events[len(events)-1] != "[DONE]" {
		t.Fatalf("stream must end with [DONE], got %q", events[len(events)-1])
	}
	if runner.gotModel != "gpt-4o" {
		t.Fatalf("default model not applied: %q", runner.gotModel)
	}

	// Verbatim chunks first, then the re-chunked finale: role chunk,
	// "Hello" (< 20 chars, one chunk), stop chunk, agent_done.
	var kinds []string
	for _, ev := range events[:len(events)-1] {
		kinds = append(kinds, eventType(ev))
	}
	wantKinds := []string{
		"chat.completion.chunk", "chat.completion.chunk", "chat.completion.chunk",
		"chat.completion.chunk", "chat.completion.chunk", "chat.completion.chunk",
		"agent_done",
	}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("event kinds = %v", kinds)
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Fatalf("event %d kind = %s, want %s (%v)", i, kinds[i], wantKinds[i], kinds)
		}
	}

	var chunk completionChunk
	if err := json.Unmarshal([]byte(events[0]), &chunk); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(chunk.ID, "chatcmpl-") || len(chunk.ID) != len("chatcmpl-")+24 {
		t.Fatalf("chunk id = %q", chunk.ID)
	}
	if chunk.Choices[0].Delta.Content != "Hel" {
		t.Fatalf("first delta = %+v", chunk.Choices[0])
	}
}

func TestChatCompletionsFinalContentRechunked(t *testing.T) {
	long := strings.Repeat("abcde", 9) // 45 chars -> 3 chunks of 20/20/5
	runner := &fakeRunner{events: []models.Event{
		{Done: &models.AgentDone{Reason: models.DoneTextResponse, FinalContent: long}},
	}}
	srv, _ := newTestServer(t, runner)

	events := sseEvents(t, srv, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)

	var contents []string
	var sawRole, sawStop bool
	for _, ev := range events {
		var chunk completionChunk
		if json.Unmarshal([]byte(ev), &chunk) != nil || chunk.Object != "chat.completion.chunk" {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Role == "assistant" {
			sawRole = true
		}
		if choice.Delta.Content != "" {
			contents = append(contents, choice.Delta.Content)
		}
		if choice.FinishReason != nil && *choice.FinishReason == "stop" {
			sawStop = true
		}
	}
	if !sawRole || !sawStop {
		t.Fatalf("missing role/stop chunks: role=%v stop=%v", sawRole, sawStop)
	}
	if len(contents) != 3 || len(contents[0]) != 20 || len(contents[2]) != 5 {
		t.Fatalf("content chunks = %v", contents)
	}
	if strings.Join(contents, "") != long {
		t.Fatal("re-chunked content does not reassemble")
	}
}

func TestChatCompletionsToolRound(t *testing.T) {
	runner := &fakeRunner{events: []models.Event{
		{Chunk: &models.StreamChunk{ToolCalls: []models.ToolCallDelta{{
			Index: 0, ID: "c1", Type: "function",
			Function: models.FunctionDelta{Name: "get_weather", Arguments: `{"location":"Tokyo"}`},
		}}}},
		{Chunk: &models.StreamChunk{FinishReason: "tool_calls"}},
		{ToolResult: &models.ToolResultChunk{ToolCallID: "c1", ToolName: "get_weather", Delta: "sunny"}},
		{ToolResult: &models.ToolResultChunk{ToolCallID: "c1", ToolName: "get_weather", IsComplete: true}},
		// Second model turn begins: the tool round must flush first.
		{Chunk: &models.StreamChunk{Content: "It is sunny."}},
		{Chunk: &models.StreamChunk{FinishReason: "stop"}},
		{Done: &models.AgentDone{Reason: models.DoneTextResponse, FinalContent: "It is sunny.", Iteration: 1}},
	}}
	srv, _ := newTestServer(t, runner)

	events := sseEvents(t, srv, "/v1/chat/completions", `{"messages":[{"role":"user","content":"weather?"}]}`)

	toolMessagesAt := -1
	secondTurnAt := -1
	for i, ev := range events {
		switch eventType(ev) {
		case "tool_messages":
			if toolMessagesAt == -1 {
				toolMessagesAt = i

				var payload struct {
					Messages []models.Message `json:"messages"`
				}
				if err := json.Unmarshal([]byte(ev), &payload); err != nil {
					t.Fatal(err)
				}
				if len(payload.Messages) != 2 {
					t.Fatalf("tool_messages carried %d messages", len(payload.Messages))
				}
				if !payload.Messages[0].HasToolCalls() || payload.Messages[1].Role != models.RoleTool {
					t.Fatalf("round shape wrong: %+v", payload.Messages)
				}
				if payload.Messages[1].Content.Flatten() != "sunny" {
					t.Fatalf("tool content = %q", payload.Messages[1].Content.Flatten())
				}
			}
		case "chat.completion.chunk":
			var chunk completionChunk
			_ = json.Unmarshal([]byte(ev), &chunk)
			if chunk.Choices[0].Delta.Content == "It is sunny." {
				secondTurnAt = i
			}
		}
	}
	if toolMessagesAt == -1 {
		t.Fatal("no tool_messages event")
	}
	if secondTurnAt != -1 && secondTurnAt < toolMessagesAt {
		t.Fatal("tool_messages emitted after the next model turn")
	}
}

func TestAgentRunStreamsRawEvents(t *testing.T) {
	runner := &fakeRunner{events: []models.Event{
		{Chunk: &models.StreamChunk{Content: "hi"}},
		{ToolResult: &models.ToolResultChunk{ToolCallID: "c1", ToolName: "idle", Delta: "{}", IsComplete: true}},
		{Done: &models.AgentDone{Reason: models.DoneIdle, Summary: "done", Iteration: 0}},
	}}
	srv, _ := newTestServer(t, runner)

	events := sseEvents(t, srv, "/v1/agent/run", `{"messages":[{"role":"user","content":"go"}]}`)

	var kinds []string
	for _, ev := range events {
		if ev == "[DONE]" {
			continue
		}
		kinds = append(kinds, eventType(ev))
	}
	want := []string{"chat.completion.chunk", "tool_result", "agent_done"}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}

	// agent/run must not re-chunk or emit tool_messages.
	for _, k := range kinds {
		if k == "tool_messages" {
			t.Fatal("agent run emitted tool_messages")
		}
	}
}

func TestThreadAgentRunPassesThreadID(t *testing.T) {
	runner := &fakeRunner{events: []models.Event{
		{Done: &models.AgentDone{Reason: models.DoneTextResponse, FinalContent: "ok"}},
	}}
	srv, _ := newTestServer(t, runner)

	sseEvents(t, srv, "/v1/threads/th-42/agent/run", `{"messages":[{"role":"user","content":"hi"}],"model":"claude-sonnet-4-20250514"}`)
	if runner.gotThread != "th-42" {
		t.Fatalf("thread id = %q", runner.gotThread)
	}
	if runner.gotModel != "claude-sonnet-4-20250514" {
		t.Fatalf("model = %q", runner.gotModel)
	}
}

func TestStreamErrorEndsWithDone(t *testing.T) {
	runner := &fakeRunner{events: []models.Event{
		{Chunk: &models.StreamChunk{Content: "partial"}},
		{Err: errors.New("provider blew up")},
	}}
	srv, _ := newTestServer(t, runner)

	events := sseEvents(t, srv, "/v1/agent/run", `{"messages":[{"role":"user","content":"hi"}]}`)
	if events[len(events)-1] != "[DONE]" {
		t.Fatal("stream must end with [DONE] after an error")
	}
	errorEv := events[len(events)-2]
	if eventType(errorEv) != "error" || !strings.Contains(errorEv, "provider blew up") {
		t.Fatalf("error event = %q", errorEv)
	}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestThreadLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})
	h := srv.Handler()

	// Create.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/threads", strings.NewReader(`{"system_message":"be nice","user_id":"u1"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.ThreadID == "" {
		t.Fatalf("create response = %s", rec.Body.String())
	}

	// Append a message.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/threads/"+created.ThreadID+"/messages",
		strings.NewReader(`{"role":"user","content":"hello"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("add message status = %d", rec.Code)
	}

	// Read back: system message + user message.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/threads/"+created.ThreadID+"/messages", nil))
	var got struct {
		ThreadID string           `json:"thread_id"`
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %+v", got.Messages)
	}

	// Delete.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/threads/"+created.ThreadID+"/messages", nil))
	var deleted struct {
		Success      bool  `json:"success"`
		DeletedCount int64 `json:"deleted_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &deleted); err != nil {
		t.Fatal(err)
	}
	if !deleted.Success || deleted.DeletedCount != 2 {
		t.Fatalf("delete response = %+v", deleted)
	}
}

func TestGetMessagesUnknownThread(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/threads/nope/messages", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestModelsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	var got struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Object != "list" || len(got.Data) != 2 || got.Data[0].ID != "gpt-4o" {
		t.Fatalf("models = %+v", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var got struct {
		Status           string `json:"status"`
		KafkaInitialized bool   `json:"kafka_initialized"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "healthy" || !got.KafkaInitialized {
		t.Fatalf("health = %+v", got)
	}
}
