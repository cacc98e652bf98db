package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/pkg/models"
)

const (
	// DefaultRatio is the fraction of the history that gets summarized
	// away; the newest quarter survives verbatim.
	DefaultRatio = 0.75

	// DefaultMinMessages is the minimum non-system message count before
	// summarization kicks in at all.
	DefaultMinMessages = 10

	summaryTemperature    = 0.3
	defaultSummaryBudget  = 8192
	handoffMarker         = "[CONVERSATION HANDOFF — %d messages summarized]"
	summarySystemPrompt   = "You are a conversation summarizer. Produce a concise markdown summary of the conversation below. Preserve user goals, decisions made, tool results that matter for continuing the work, and any unresolved questions. Do not add commentary."
	renderedToolCallLimit = 200
)

// maxOutputTokens caps the summary request per model family. Models not
// listed get the default budget.
var maxOutputTokens = map[string]int{
	"gpt-4o":      16384,
	"gpt-4o-mini": 16384,
}

// SummarizationCompactor replaces the older portion of the history with a
// model-written summary carried in a synthetic system message. Any
// failure to produce the summary falls back to plain truncation.
type SummarizationCompactor struct {
	Provider    llm.Provider
	Ratio       float64
	MinMessages int
	Logger      *slog.Logger

	fallback TruncationCompactor
}

// NewSummarizationCompactor builds a compactor with the default ratio and
// threshold.
func NewSummarizationCompactor(provider llm.Provider, logger *slog.Logger) *SummarizationCompactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummarizationCompactor{
		Provider:    provider,
		Ratio:       DefaultRatio,
		MinMessages: DefaultMinMessages,
		Logger:      logger.With("component", "compaction"),
	}
}

// Compact implements Compactor.
func (c *SummarizationCompactor) Compact(ctx context.Context, messages []models.Message, systemPrompt, model string) ([]models.Message, error) {
	minMessages := c.MinMessages
	if minMessages <= 0 {
		minMessages = DefaultMinMessages
	}
	ratio := c.Ratio
	if ratio <= 0 || ratio >= 1 {
		ratio = DefaultRatio
	}

	head, rest := leadingSystem(messages)
	if len(rest) < minMessages {
		return messages, nil
	}

	target := safeSplit(rest, int(float64(len(rest))*ratio))
	if target <= 0 {
		return messages, nil
	}
	prefix, suffix := rest[:target], rest[target:]

	summary, err := c.summarize(ctx, prefix, model)
	if err != nil || strings.TrimSpace(summary) == "" {
		c.Logger.Warn("summarization failed, falling back to truncation",
			"messages", len(prefix), "error", err)
		return c.fallback.Compact(ctx, messages, systemPrompt, model)
	}

	handoff := models.Message{
		Role:    models.RoleSystem,
		Content: models.Parts(cachedTextPart(fmt.Sprintf(handoffMarker, len(prefix)) + "\n\n" + summary)),
	}

	out := make([]models.Message, 0, len(head)+1+len(suffix))
	out = append(out, head...)
	out = append(out, handoff)
	out = append(out, suffix...)

	c.Logger.Info("compacted history by summarization",
		"before", len(messages), "after", len(out), "summarized", len(prefix))
	return Validate(out), nil
}

func (c *SummarizationCompactor) summarize(ctx context.Context, messages []models.Message, model string) (string, error) {
	if c.Provider == nil {
		return "", fmt.Errorf("no summarization provider configured")
	}

	temp := float32(summaryTemperature)
	req := []models.Message{
		{Role: models.RoleSystem, Content: models.Text(summarySystemPrompt)},
		{Role: models.RoleUser, Content: models.Text(renderTranscript(messages))},
	}
	resp, err := c.Provider.Completion(ctx, req, model, llm.CompletionOptions{
		Temperature: &temp,
		MaxTokens:   summaryBudget(model),
	})
	if err != nil {
		return "", err
	}
	return resp.Content.Flatten(), nil
}

// summaryBudget bounds summary length to a quarter of the model's max
// output, capped at the default budget.
func summaryBudget(model string) int {
	max := defaultSummaryBudget
	for prefix, tokens := range maxOutputTokens {
		if strings.HasPrefix(model, prefix) {
			max = tokens
			break
		}
	}
	if budget := max / 4; budget < defaultSummaryBudget {
		return budget
	}
	return defaultSummaryBudget
}

// cachedTextPart builds a text part tagged with an ephemeral cache hint,
// which providers that support prompt caching pick up and the rest
// ignore.
func cachedTextPart(text string) models.ContentPart {
	return models.ContentPart{
		Type: models.PartText,
		Text: text,
		Extra: map[string]json.RawMessage{
			"cache_control": json.RawMessage(`{"type":"ephemeral"}`),
		},
	}
}

func renderTranscript(messages []models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "[%s]: %s", msg.Role, msg.Content.Flatten())
		for _, tc := range msg.ToolCalls {
			args := tc.Function.Arguments
			if len(args) > renderedToolCallLimit {
				args = args[:renderedToolCallLimit] + "..."
			}
			fmt.Fprintf(&b, "\n  [tool call %s(%s)]", tc.Function.Name, args)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}
