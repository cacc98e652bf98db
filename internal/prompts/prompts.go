// Package prompts builds system prompts from named sections with
// {{var}} substitution.
package prompts

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Section is one named block of a prompt.
type Section struct {
	Name string
	Text string
}

// Prompt is an ordered list of sections rendered into one system prompt.
type Prompt struct {
	sections []Section
}

// New builds a prompt from sections in order.
func New(sections ...Section) *Prompt {
	return &Prompt{sections: sections}
}

// Add appends a section and returns the prompt for chaining.
func (p *Prompt) Add(name, text string) *Prompt {
	p.sections = append(p.sections, Section{Name: name, Text: text})
	return p
}

// Section returns the text of a named section, or "".
func (p *Prompt) Section(name string) string {
	for _, s := range p.sections {
		if s.Name == name {
			return s.Text
		}
	}
	return ""
}

// Render substitutes {{var}} placeholders from vars and joins non-empty
// sections with blank lines. Placeholders without a binding are left
// intact so missing vars are visible rather than silently blanked.
func (p *Prompt) Render(vars map[string]string) string {
	parts := make([]string, 0, len(p.sections))
	for _, s := range p.sections {
		text := placeholderRe.ReplaceAllStringFunc(s.Text, func(match string) string {
			key := match[2 : len(match)-2]
			if v, ok := vars[key]; ok {
				return v
			}
			return match
		})
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(text))
	}
	return strings.Join(parts, "\n\n")
}

// Default returns the stock agent prompt.
func Default() *Prompt {
	return New(
		Section{Name: "identity", Text: "You are {{agent_name}}, an AI assistant that completes tasks by calling tools."},
		Section{Name: "idle", Text: "When the task is fully complete and no further action is needed, call the idle tool with a short summary. Do not call idle while work remains."},
		Section{Name: "tools", Text: "Prefer tools over guessing. Run commands and inspect their output instead of assuming results. Report tool failures honestly rather than inventing output."},
		Section{Name: "style", Text: "Be concise. Answer in plain text once the work is done."},
	)
}

// DefaultVars is the stock enrichment map for Default().
func DefaultVars() map[string]string {
	return map[string]string{
		"agent_name": "Strand",
	}
}

// DefaultSystemPrompt renders the stock prompt with the stock vars.
func DefaultSystemPrompt() string {
	return Default().Render(DefaultVars())
}
