package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/pkg/models"
)

// fakeProvider scripts Completion responses.
type fakeProvider struct {
	summary string
	err     error
	calls   int
	gotMax  int
	gotTemp float32
}

func (f *fakeProvider) StreamCompletion(ctx context.Context, messages []models.Message, model string, opts llm.CompletionOptions) (<-chan llm.StreamResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) Completion(ctx context.Context, messages []models.Message, model string, opts llm.CompletionOptions) (*models.Message, error) {
	f.calls++
	f.gotMax = opts.MaxTokens
	if opts.Temperature != nil {
		f.gotTemp = *opts.Temperature
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.Message{Role: models.RoleAssistant, Content: models.Text(f.summary)}, nil
}

func user(text string) models.Message {
	return models.Message{Role: models.RoleUser, Content: models.Text(text)}
}

func assistant(text string) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: models.Text(text)}
}

func toolCallMsg(id, name string) models.Message {
	return models.Message{
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: models.FunctionCall{Name: name, Arguments: "{}"},
		}},
	}
}

func toolResult(id, text string) models.Message {
	return models.Message{Role: models.RoleTool, ToolCallID: id, Content: models.Text(text)}
}

func conversation(n int) []models.Message {
	msgs := []models.Message{{Role: models.RoleSystem, Content: models.Text("be helpful")}}
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			msgs = append(msgs, user(fmt.Sprintf("question %d", i)))
		} else {
			msgs = append(msgs, assistant(fmt.Sprintf("answer %d", i)))
		}
	}
	return msgs
}

func TestIsContextOverflow(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"anthropic", errors.New("prompt is too long: 220000 tokens > 200000 maximum"), true},
		{"anthropic short", errors.New("input is too long for requested model"), true},
		{"anthropic max_tokens", errors.New("input length and max_tokens exceed context limit"), true},
		{"openai code", errors.New("error, status code: 400, code: context_length_exceeded"), true},
		{"openai text", errors.New("This model's maximum context length is 128000 tokens"), true},
		{"generic limit", errors.New("request exceeded the Token Limit"), true},
		{"exceeds max", errors.New("the request exceeds the maximum allowed token count"), true},
		{"too many", errors.New("too many tokens in prompt"), true},
		{"wrapped", fmt.Errorf("completion: %w", errors.New("maximum context length reached")), true},
		{"unrelated", errors.New("rate limit exceeded"), false},
		{"auth", errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsContextOverflow(tt.err); got != tt.want {
				t.Fatalf("IsContextOverflow(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSafeSplitKeepsPairsTogether(t *testing.T) {
	msgs := []models.Message{
		user("q1"),
		toolCallMsg("c1", "get_weather"),
		toolResult("c1", "sunny"),
		assistant("it is sunny"),
	}

	// Splitting between the call and its result must back off to before
	// the call.
	if got := safeSplit(msgs, 2); got != 1 {
		t.Fatalf("safeSplit at call/result boundary = %d, want 1", got)
	}
	// Splitting after the result is fine.
	if got := safeSplit(msgs, 3); got != 3 {
		t.Fatalf("safeSplit after result = %d, want 3", got)
	}
	if got := safeSplit(msgs, 0); got != 0 {
		t.Fatalf("safeSplit(0) = %d", got)
	}
	if got := safeSplit(msgs, len(msgs)); got != len(msgs) {
		t.Fatalf("safeSplit(len) = %d", got)
	}
}

func TestValidate(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: models.Text("sys")},
		toolCallMsg("a", "get_weather"),
		toolResult("a", "ok"),
		toolResult("b", "orphan"),
		{Role: models.RoleAssistant},
		assistant("done"),
	}

	got := Validate(msgs)
	if len(got) != 4 {
		t.Fatalf("Validate kept %d messages, want 4: %+v", len(got), got)
	}
	for _, m := range got {
		if m.Role == models.RoleTool && m.ToolCallID == "b" {
			t.Fatal("orphan tool message survived")
		}
	}

	// Idempotent.
	again := Validate(got)
	if len(again) != len(got) {
		t.Fatalf("second Validate changed the result: %d -> %d", len(got), len(again))
	}
}

func TestSummarizationBelowThresholdNoOp(t *testing.T) {
	fp := &fakeProvider{summary: "unused"}
	c := NewSummarizationCompactor(fp, nil)

	msgs := conversation(5)
	got, err := c.Compact(context.Background(), msgs, "", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(msgs) || fp.calls != 0 {
		t.Fatalf("expected untouched history, got %d messages, %d provider calls", len(got), fp.calls)
	}
}

func TestSummarizationCompacts(t *testing.T) {
	fp := &fakeProvider{summary: "## Summary\nUser asked twenty questions."}
	c := NewSummarizationCompactor(fp, nil)

	msgs := conversation(20)
	got, err := c.Compact(context.Background(), msgs, "", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) >= len(msgs) {
		t.Fatalf("history did not shrink: %d -> %d", len(msgs), len(got))
	}
	if got[0].Role != models.RoleSystem || got[0].Content.Flatten() != "be helpful" {
		t.Fatalf("leading system message lost: %+v", got[0])
	}

	handoff := got[1]
	if handoff.Role != models.RoleSystem {
		t.Fatalf("handoff role = %s", handoff.Role)
	}
	text := handoff.Content.Flatten()
	if !strings.HasPrefix(text, "[CONVERSATION HANDOFF — 15 messages summarized]\n\n") {
		t.Fatalf("handoff marker wrong: %q", text)
	}
	if !strings.Contains(text, "twenty questions") {
		t.Fatalf("summary body missing: %q", text)
	}
	if len(handoff.Content.Parts) != 1 {
		t.Fatalf("handoff should be a single part, got %d", len(handoff.Content.Parts))
	}
	if _, ok := handoff.Content.Parts[0].Extra["cache_control"]; !ok {
		t.Fatal("handoff part missing cache_control hint")
	}

	// Newest quarter survives verbatim.
	if got[len(got)-1].Content.Flatten() != msgs[len(msgs)-1].Content.Flatten() {
		t.Fatal("tail message lost")
	}

	if fp.gotTemp != 0.3 {
		t.Fatalf("summary temperature = %v, want 0.3", fp.gotTemp)
	}
	if fp.gotMax != 4096 {
		t.Fatalf("summary max tokens for gpt-4o = %d, want 4096", fp.gotMax)
	}
}

func TestSummarizationFallsBackToTruncation(t *testing.T) {
	fp := &fakeProvider{err: errors.New("aux model down")}
	c := NewSummarizationCompactor(fp, nil)

	msgs := conversation(80)
	got, err := c.Compact(context.Background(), msgs, "", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	// Truncation keeps the trailing 50 plus the leading system message.
	if len(got) != 51 {
		t.Fatalf("fallback kept %d messages, want 51", len(got))
	}
	for _, m := range got {
		if strings.Contains(m.Content.Flatten(), "HANDOFF") {
			t.Fatal("fallback must not fabricate a handoff message")
		}
	}
}

func TestSummarizationEmptySummaryFallsBack(t *testing.T) {
	fp := &fakeProvider{summary: "   "}
	c := NewSummarizationCompactor(fp, nil)

	got, err := c.Compact(context.Background(), conversation(80), "", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 51 {
		t.Fatalf("fallback kept %d messages, want 51", len(got))
	}
}

func TestTruncationKeepsTail(t *testing.T) {
	c := TruncationCompactor{KeepMessages: 4}
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: models.Text("sys")},
		user("old 1"),
		assistant("old 2"),
		toolCallMsg("c1", "shell_exec"),
		toolResult("c1", "out"),
		user("new 1"),
		assistant("new 2"),
	}

	got, err := c.Compact(context.Background(), msgs, "", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Role != models.RoleSystem {
		t.Fatal("system message dropped")
	}
	// Naive cut would land between c1's call and result; safeSplit backs
	// off and keeps the pair.
	var sawCall, sawResult bool
	for _, m := range got {
		if m.HasToolCalls() {
			sawCall = true
		}
		if m.Role == models.RoleTool {
			sawResult = true
		}
	}
	if sawResult && !sawCall {
		t.Fatalf("tool result kept without its call: %+v", got)
	}
}

func TestTruncationNoOpWhenSmall(t *testing.T) {
	c := TruncationCompactor{}
	msgs := conversation(10)
	got, err := c.Compact(context.Background(), msgs, "", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("small history changed: %d -> %d", len(msgs), len(got))
	}
}
