package agent

import "github.com/strandlabs/strand/pkg/models"

// SanitizeToolMessages removes tool messages that no longer pair with an
// assistant tool call, which happens when histories are truncated or
// partially persisted. A tool message survives only while the ids of the
// most recent assistant-with-tool-calls message are in scope; any other
// intervening message closes that scope. Idempotent.
func SanitizeToolMessages(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	validIDs := make(map[string]bool)

	for _, msg := range messages {
		switch {
		case msg.HasToolCalls():
			validIDs = make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				validIDs[tc.ID] = true
			}
		case msg.Role == models.RoleTool:
			if !validIDs[msg.ToolCallID] {
				continue
			}
		default:
			validIDs = make(map[string]bool)
		}
		out = append(out, msg)
	}
	return out
}
