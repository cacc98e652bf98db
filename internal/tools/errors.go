package tools

import "fmt"

// ProviderError reports a registry or executor failure that cannot be
// expressed as an error chunk in a tool stream.
type ProviderError struct {
	ToolName string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.ToolName != "" {
		return fmt.Sprintf("tool %s: %v", e.ToolName, e.Err)
	}
	return fmt.Sprintf("tool provider: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
