package agent

import (
	"reflect"
	"testing"

	"github.com/strandlabs/strand/pkg/models"
)

func callMsg(ids ...string) models.Message {
	msg := models.Message{Role: models.RoleAssistant}
	for _, id := range ids {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID: id, Type: "function",
			Function: models.FunctionCall{Name: "get_weather", Arguments: "{}"},
		})
	}
	return msg
}

func toolMsg(id string) models.Message {
	return models.Message{Role: models.RoleTool, ToolCallID: id, Content: models.Text("result")}
}

func TestSanitizeDropsOrphans(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: models.Text("hi")},
		callMsg("a"),
		toolMsg("a"),
		toolMsg("b"), // orphan: b was never called
	}

	got := SanitizeToolMessages(msgs)
	if len(got) != 3 {
		t.Fatalf("kept %d messages, want 3: %+v", len(got), got)
	}
	for _, m := range got {
		if m.Role == models.RoleTool && m.ToolCallID == "b" {
			t.Fatal("orphan tool message survived")
		}
	}
}

func TestSanitizeScopeResetsOnInterveningMessage(t *testing.T) {
	msgs := []models.Message{
		callMsg("a"),
		{Role: models.RoleUser, Content: models.Text("interrupt")},
		toolMsg("a"), // out of scope: the user message closed it
	}

	got := SanitizeToolMessages(msgs)
	if len(got) != 2 {
		t.Fatalf("kept %d messages, want 2: %+v", len(got), got)
	}
}

func TestSanitizeNewCallsReplaceScope(t *testing.T) {
	msgs := []models.Message{
		callMsg("a"),
		callMsg("b"),
		toolMsg("a"), // a's scope ended when b's calls arrived
		toolMsg("b"),
	}

	got := SanitizeToolMessages(msgs)
	for _, m := range got {
		if m.Role == models.RoleTool && m.ToolCallID == "a" {
			t.Fatal("stale tool message survived scope replacement")
		}
	}
	if len(got) != 3 {
		t.Fatalf("kept %d messages, want 3", len(got))
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: models.Text("sys")},
		callMsg("a", "b"),
		toolMsg("a"),
		toolMsg("b"),
		toolMsg("c"),
		{Role: models.RoleAssistant, Content: models.Text("done")},
	}

	once := SanitizeToolMessages(msgs)
	twice := SanitizeToolMessages(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("sanitize not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}
