package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/strandlabs/strand/internal/tools"
)

const sequentialThinkingDescription = `A detailed tool for dynamic and reflective problem-solving through thoughts.
This tool helps analyze problems through a flexible thinking process that can adapt and evolve.
Each thought can build on, question, or revise previous insights as understanding deepens.

When to use this tool:
- Breaking down complex problems into steps
- Planning and design with room for revision
- Analysis that might need course correction
- Problems where the full scope might not be clear initially
- Problems that require a multi-step solution
- Tasks that need to maintain context over multiple steps

Key features:
- Provide a goal_summary in your first thought to maintain focus
- You can adjust total_thoughts up or down as you progress
- You can question or revise previous thoughts
- You can branch or backtrack as needed

Only set next_thought_needed to false when truly done.`

type thought struct {
	Thought           string `json:"thought"`
	ThoughtNumber     int    `json:"thought_number"`
	TotalThoughts     int    `json:"total_thoughts"`
	NextThoughtNeeded bool   `json:"next_thought_needed"`
	IsRevision        bool   `json:"is_revision,omitempty"`
	RevisesThought    int    `json:"revises_thought,omitempty"`
	BranchFromThought int    `json:"branch_from_thought,omitempty"`
	BranchID          string `json:"branch_id,omitempty"`
	GoalSummary       string `json:"goal_summary,omitempty"`
}

type plannerCheckpoint struct {
	history     []thought
	branches    map[string][]thought
	goalSummary string
}

// Planner holds sequential-thinking state for one agent session. All
// methods are safe for concurrent use; tool calls within a session are
// serialized anyway, but the registry does not guarantee that.
type Planner struct {
	mu          sync.Mutex
	history     []thought
	branches    map[string][]thought
	goalSummary string
	checkpoints map[string]plannerCheckpoint
}

// NewPlanner builds an empty planner.
func NewPlanner() *Planner {
	return &Planner{
		branches:    make(map[string][]thought),
		checkpoints: make(map[string]plannerCheckpoint),
	}
}

type thinkArgs struct {
	Thought           string `json:"thought" jsonschema:"description=Your current thinking step"`
	ThoughtNumber     int    `json:"thought_number" jsonschema:"minimum=1,description=Current thought number"`
	TotalThoughts     int    `json:"total_thoughts" jsonschema:"minimum=1,description=Estimated total thoughts needed"`
	NextThoughtNeeded bool   `json:"next_thought_needed" jsonschema:"description=Whether another thought step is needed"`
	GoalSummary       string `json:"goal_summary,omitempty" jsonschema:"description=A concise description of what you're trying to accomplish. Include in first thought."`
	IsRevision        bool   `json:"is_revision,omitempty" jsonschema:"description=Whether this revises previous thinking"`
	RevisesThought    int    `json:"revises_thought,omitempty" jsonschema:"description=Which thought is being reconsidered"`
	BranchFromThought int    `json:"branch_from_thought,omitempty" jsonschema:"description=Branching point thought number"`
	BranchID          string `json:"branch_id,omitempty" jsonschema:"description=Branch identifier"`
	NeedsMoreThoughts bool   `json:"needs_more_thoughts,omitempty" jsonschema:"description=If more thoughts are needed"`
}

type checkpointArgs struct {
	Name string `json:"name,omitempty" jsonschema:"description=Identifier for the checkpoint"`
}

// Process records one thought and returns the planner's view of the
// session so far, as indented JSON.
func (p *Planner) Process(args map[string]any) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := thought{
		Thought:           stringArg(args, "thought"),
		ThoughtNumber:     int(floatArg(args, "thought_number", 1)),
		TotalThoughts:     int(floatArg(args, "total_thoughts", 1)),
		NextThoughtNeeded: boolArg(args, "next_thought_needed"),
		IsRevision:        boolArg(args, "is_revision"),
		RevisesThought:    int(floatArg(args, "revises_thought", 0)),
		BranchFromThought: int(floatArg(args, "branch_from_thought", 0)),
		BranchID:          stringArg(args, "branch_id"),
		GoalSummary:       stringArg(args, "goal_summary"),
	}
	if t.ThoughtNumber == 1 && t.GoalSummary != "" {
		p.goalSummary = t.GoalSummary
	}
	if t.ThoughtNumber > t.TotalThoughts {
		t.TotalThoughts = t.ThoughtNumber
	}

	p.history = append(p.history, t)
	if t.BranchFromThought > 0 && t.BranchID != "" {
		p.branches[t.BranchID] = append(p.branches[t.BranchID], t)
	}

	recent := p.history
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	return indentJSON(map[string]any{
		"thought_number":         t.ThoughtNumber,
		"total_thoughts":         t.TotalThoughts,
		"next_thought_needed":    t.NextThoughtNeeded,
		"branches":               p.branchIDs(),
		"thought_history_length": len(p.history),
		"goal_summary":           p.goalSummary,
		"previous_thoughts":      recent,
	})
}

// SaveCheckpoint snapshots the current state under name, generating one
// when name is empty.
func (p *Planner) SaveCheckpoint(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("checkpoint_%d", len(p.checkpoints))
	}
	cp := plannerCheckpoint{
		history:     append([]thought(nil), p.history...),
		branches:    make(map[string][]thought, len(p.branches)),
		goalSummary: p.goalSummary,
	}
	for id, ts := range p.branches {
		cp.branches[id] = append([]thought(nil), ts...)
	}
	p.checkpoints[name] = cp

	return indentJSON(map[string]any{
		"result":          fmt.Sprintf("Checkpoint %s saved successfully", name),
		"checkpoint_name": name,
	})
}

// LoadCheckpoint restores a previously saved state.
func (p *Planner) LoadCheckpoint(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp, ok := p.checkpoints[name]
	if !ok {
		return indentJSON(map[string]any{
			"error": fmt.Sprintf("Checkpoint %s not found", name),
		})
	}
	p.history = append([]thought(nil), cp.history...)
	p.branches = make(map[string][]thought, len(cp.branches))
	for id, ts := range cp.branches {
		p.branches[id] = append([]thought(nil), ts...)
	}
	p.goalSummary = cp.goalSummary

	return indentJSON(map[string]any{
		"result":       fmt.Sprintf("Checkpoint %s loaded successfully", name),
		"branches":     p.branchIDs(),
		"goal_summary": p.goalSummary,
		"thoughts":     len(p.history),
	})
}

func (p *Planner) branchIDs() []string {
	ids := make([]string, 0, len(p.branches))
	for id := range p.branches {
		ids = append(ids, id)
	}
	return ids
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// Tools returns the planner tool suite bound to p.
func (p *Planner) Tools() []tools.Definition {
	wrap := func(fn func(map[string]any) string) tools.Handler {
		return tools.Handler{Sync: func(ctx context.Context, args map[string]any) (string, error) {
			return fn(args), nil
		}}
	}
	return []tools.Definition{
		{
			Name:        "sequentialthinking",
			Description: sequentialThinkingDescription,
			Parameters:  mustSchema(&thinkArgs{}),
			Kind:        tools.KindLocal,
			Local:       &tools.LocalTool{Handler: wrap(p.Process)},
		},
		{
			Name:        "save_thought_checkpoint",
			Description: "Save the current thinking state to a checkpoint for later retrieval",
			Parameters:  mustSchema(&checkpointArgs{}),
			Kind:        tools.KindLocal,
			Local: &tools.LocalTool{Handler: wrap(func(args map[string]any) string {
				return p.SaveCheckpoint(stringArg(args, "name"))
			})},
		},
		{
			Name:        "load_thought_checkpoint",
			Description: "Load a previously saved thinking state from a checkpoint",
			Parameters:  mustSchema(&checkpointArgs{}),
			Kind:        tools.KindLocal,
			Local: &tools.LocalTool{Handler: wrap(func(args map[string]any) string {
				return p.LoadCheckpoint(stringArg(args, "name"))
			})},
		},
	}
}
