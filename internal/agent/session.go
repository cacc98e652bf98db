package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strandlabs/strand/internal/sandbox"
	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/pkg/models"
)

// ErrNoMessages reports a run request with an empty message list.
var ErrNoMessages = fmt.Errorf("no messages provided")

// Session ties the loop to thread persistence and sandbox provisioning.
// Manager may be nil for deployments without sandboxes.
type Session struct {
	loop          *Loop
	store         store.Store
	manager       *sandbox.Manager
	defaultSystem string
	logger        *slog.Logger
}

// NewSession wires a session.
func NewSession(loop *Loop, st store.Store, manager *sandbox.Manager, defaultSystem string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		loop:          loop,
		store:         st,
		manager:       manager,
		defaultSystem: defaultSystem,
		logger:        logger.With("component", "session"),
	}
}

// Run executes a stateless agent run: nothing is persisted.
func (s *Session) Run(ctx context.Context, messages []models.Message, model string, opts Options) (<-chan models.Event, error) {
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = s.defaultSystem
	}
	return s.loop.Run(ctx, messages, model, opts), nil
}

// RunWithThread executes an agent run against a persistent thread: prior
// history is replayed, new messages and everything the run produces are
// saved, and sandbox provisioning is kicked off in the background.
func (s *Session) RunWithThread(ctx context.Context, threadID string, newMessages []models.Message, model string, opts Options) (<-chan models.Event, error) {
	if len(newMessages) == 0 {
		return nil, ErrNoMessages
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = s.defaultSystem
	}

	exists, err := s.store.ThreadExists(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("checking thread %s: %w", threadID, err)
	}
	if !exists {
		if _, err := s.store.CreateThread(ctx, store.CreateThreadOptions{
			ID:            threadID,
			SystemMessage: s.defaultSystem,
		}); err != nil {
			return nil, fmt.Errorf("creating thread %s: %w", threadID, err)
		}
	}

	if s.manager != nil {
		s.manager.EnsureBackground(ctx, threadID)
	}

	history, err := s.store.GetThreadMessages(ctx, threadID, 0, true)
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}
	working := SanitizeToolMessages(append(history, newMessages...))

	if err := s.store.AddMessages(ctx, threadID, newMessages); err != nil {
		s.logger.Error("persisting request messages failed", "thread", threadID, "error", err)
	}

	events := s.loop.Run(ctx, working, model, opts)
	out := make(chan models.Event, 32)
	go func() {
		defer close(out)
		s.pump(ctx, threadID, events, out)
	}()
	return out, nil
}

// pump forwards loop events while reconstructing messages to persist
// from the chunk stream itself. Persistence failures are logged and
// never interrupt the event stream.
func (s *Session) pump(ctx context.Context, threadID string, events <-chan models.Event, out chan<- models.Event) {
	var content strings.Builder
	acc := models.NewCallAccumulator()
	toolBuf := make(map[string]*strings.Builder)
	lastSavedAssistant := ""

	saveAssistant := func(calls []models.ToolCall) {
		msg := models.Message{Role: models.RoleAssistant, ToolCalls: calls}
		if text := content.String(); text != "" {
			msg.Content = models.Text(text)
		}
		if msg.Content.IsEmpty() && len(calls) == 0 {
			return
		}
		if _, err := s.store.AddMessage(ctx, threadID, msg); err != nil {
			s.logger.Error("persisting assistant message failed", "thread", threadID, "error", err)
		}
		lastSavedAssistant = content.String()
		content.Reset()
		acc = models.NewCallAccumulator()
	}

	for ev := range events {
		switch {
		case ev.Chunk != nil:
			content.WriteString(ev.Chunk.Content)
			for _, d := range ev.Chunk.ToolCalls {
				acc.Add(d)
			}
			switch ev.Chunk.FinishReason {
			case "tool_calls":
				saveAssistant(acc.Calls())
			case "stop":
				if content.Len() > 0 {
					saveAssistant(nil)
				}
			}

		case ev.ToolResult != nil:
			buf, ok := toolBuf[ev.ToolResult.ToolCallID]
			if !ok {
				buf = &strings.Builder{}
				toolBuf[ev.ToolResult.ToolCallID] = buf
			}
			buf.WriteString(ev.ToolResult.Delta)
			if ev.ToolResult.IsComplete {
				msg := models.Message{
					Role:       models.RoleTool,
					ToolCallID: ev.ToolResult.ToolCallID,
					Content:    models.Text(buf.String()),
				}
				if _, err := s.store.AddMessage(ctx, threadID, msg); err != nil {
					s.logger.Error("persisting tool message failed", "thread", threadID, "error", err)
				}
				delete(toolBuf, ev.ToolResult.ToolCallID)
			}

		case ev.Done != nil:
			// Content-equality dedup: providers that set finish_reason
			// "stop" already triggered a save above.
			if ev.Done.FinalContent != "" && ev.Done.FinalContent != lastSavedAssistant {
				msg := models.Message{
					Role:    models.RoleAssistant,
					Content: models.Text(ev.Done.FinalContent),
				}
				if _, err := s.store.AddMessage(ctx, threadID, msg); err != nil {
					s.logger.Error("persisting final message failed", "thread", threadID, "error", err)
				}
			}
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
