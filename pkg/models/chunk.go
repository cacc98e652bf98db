package models

// StreamChunk is the flattened view of one streaming delta from the model:
// the fields of choices[0].delta plus the envelope's model and id. The HTTP
// layer re-wraps these into full chat.completion.chunk objects.
type StreamChunk struct {
	Role         string          `json:"role,omitempty"`
	Content      string          `json:"content,omitempty"`
	ToolCalls    []ToolCallDelta `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Model        string          `json:"model,omitempty"`
	ID           string          `json:"id,omitempty"`
}

// ToolCallDelta is a partial tool call. Deltas sharing an Index belong to
// one logical call: id, type, and name are last-write-wins, argument
// fragments append in arrival order.
type ToolCallDelta struct {
	Index    int           `json:"index"`
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Function FunctionDelta `json:"function"`
}

// FunctionDelta carries the streamed fragments of a function call.
type FunctionDelta struct {
	Name             string `json:"name,omitempty"`
	Arguments        string `json:"arguments,omitempty"`
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// ToolResultChunk is one increment of a tool execution's output. A tool
// stream yields zero or more incomplete chunks and exactly one with
// IsComplete set, which is always last.
type ToolResultChunk struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Delta      string `json:"delta"`
	IsComplete bool   `json:"is_complete"`
}

// ToolResult is the aggregate outcome of one tool run.
type ToolResult struct {
	Success  bool   `json:"success"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	ToolName string `json:"tool_name"`
}
