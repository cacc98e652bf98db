package llm

import "strings"

// Model families routed through the gateway.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
	FamilyGoogle    = "google"
)

// InferFamily guesses the provider family from a model id by substring
// match, case-insensitive. Unknown ids fall back to openai with known
// false so callers can log the guess.
func InferFamily(model string) (family string, known bool) {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt"), strings.Contains(m, "o1"):
		return FamilyOpenAI, true
	case strings.Contains(m, "claude"), strings.Contains(m, "sonnet"),
		strings.Contains(m, "opus"), strings.Contains(m, "haiku"):
		return FamilyAnthropic, true
	case strings.Contains(m, "gemini"):
		return FamilyGoogle, true
	default:
		return FamilyOpenAI, false
	}
}
