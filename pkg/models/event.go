package models

// Event is one item of an agent run's output stream. Exactly one field is
// set. Events for a run are totally ordered: all tool-result chunks for
// call N precede anything from call N+1, and Done (or a terminal Err)
// closes the stream.
type Event struct {
	Chunk      *StreamChunk
	ToolResult *ToolResultChunk
	Done       *AgentDone
	Err        error
}

// Agent termination reasons.
const (
	DoneIdle          = "idle"
	DoneTextResponse  = "text_response"
	DoneMaxIterations = "max_iterations"
)

// AgentDone reports why a run ended. FinalContent is set for text
// responses, Summary for idle calls that provided one.
type AgentDone struct {
	Reason       string `json:"reason"`
	FinalContent string `json:"final_content,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Iteration    int    `json:"iteration"`
}
