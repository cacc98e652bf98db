package models

import "sort"

// CallAccumulator merges streamed tool-call deltas into complete calls.
// Deltas sharing an index form one call: id, type, and name are
// last-write-wins, argument fragments concatenate in arrival order, and
// thought signatures pass through byte-for-byte.
type CallAccumulator struct {
	byIndex map[int]*ToolCall
}

// NewCallAccumulator builds an empty accumulator.
func NewCallAccumulator() *CallAccumulator {
	return &CallAccumulator{byIndex: make(map[int]*ToolCall)}
}

// Add merges one delta.
func (a *CallAccumulator) Add(d ToolCallDelta) {
	call, ok := a.byIndex[d.Index]
	if !ok {
		call = &ToolCall{Type: "function"}
		a.byIndex[d.Index] = call
	}
	if d.ID != "" {
		call.ID = d.ID
	}
	if d.Type != "" {
		call.Type = d.Type
	}
	if d.Function.Name != "" {
		call.Function.Name = d.Function.Name
	}
	call.Function.Arguments += d.Function.Arguments
	if d.Function.ThoughtSignature != "" {
		call.Function.ThoughtSignature = d.Function.ThoughtSignature
	}
}

// Calls returns the accumulated calls in index order, or nil when no
// deltas arrived.
func (a *CallAccumulator) Calls() []ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *a.byIndex[i])
	}
	return out
}
