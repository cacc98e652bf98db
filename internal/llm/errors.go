package llm

import "fmt"

// ProviderError wraps any failure talking to the LLM gateway, keeping the
// inferred family and HTTP status when known. The wrapped error text
// includes the gateway's response body so overflow classification can
// match provider messages.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
