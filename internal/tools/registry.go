package tools

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/strandlabs/strand/internal/llm"
)

// Registry is the single namespace of tools offered to the model. First
// registration of a name wins; with the conventional registration order
// (local, then sandbox, then MCP) that gives local tools precedence over
// sandbox tools over MCP tools.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "tools"),
		defs:   make(map[string]Definition),
	}
}

// Register adds a tool. The parameters document must compile as a JSON
// Schema and the name must be unused.
func (r *Registry) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return &ProviderError{ToolName: def.Name, Err: err}
	}
	if len(def.Parameters) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", bytes.NewReader(def.Parameters)); err != nil {
			return &ProviderError{ToolName: def.Name, Err: fmt.Errorf("invalid parameters schema: %w", err)}
		}
		if _, err := compiler.Compile("schema.json"); err != nil {
			return &ProviderError{ToolName: def.Name, Err: fmt.Errorf("invalid parameters schema: %w", err)}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, taken := r.defs[def.Name]; taken {
		return &ProviderError{
			ToolName: def.Name,
			Err:      fmt.Errorf("name already registered as %s tool", existing.Kind),
		}
	}
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	r.logger.Debug("registered tool", "tool", def.Name, "kind", def.Kind)
	return nil
}

// MustRegister panics on registration failure; for wiring builtin tools
// whose definitions are static.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Specs returns every tool as a provider tool spec, in registration
// order.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		def := r.defs[name]
		out = append(out, llm.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return out
}

// KindCounts reports how many tools of each kind are registered; used by
// startup logging.
func (r *Registry) KindCounts() map[Kind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Kind]int)
	for _, def := range r.defs {
		out[def.Kind]++
	}
	return out
}

