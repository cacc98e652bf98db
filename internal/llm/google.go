package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/strandlabs/strand/pkg/models"
)

// rawChatRequest is the OpenAI-dialect request body used on the raw HTTP
// path. models.Message marshals thought signatures and content parts
// verbatim, which the SDK types cannot carry.
type rawChatRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature *float32         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Tools       []rawTool        `json:"tools,omitempty"`
	User        string           `json:"user,omitempty"`
}

type rawTool struct {
	Type     string          `json:"type"`
	Function rawToolFunction `json:"function"`
}

type rawToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type rawChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      models.Message `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
}

type rawResult struct {
	Message      models.Message
	ID           string
	Model        string
	FinishReason string
}

// rawCompletion posts a blocking chat completion without the SDK.
func (p *GatewayProvider) rawCompletion(ctx context.Context, messages []models.Message, model string, opts CompletionOptions, family string) (*rawResult, error) {
	body := rawChatRequest{
		Model:       model,
		Messages:    normalizeForGoogle(messages, family),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		User:        opts.User,
	}
	for _, t := range opts.Tools {
		body.Tools = append(body.Tools, rawTool{
			Type: "function",
			Function: rawToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Provider: family, Err: fmt.Errorf("encode request: %w", err)}
	}
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, &ProviderError{Provider: family, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.gatewayHeaders(family, p.virtualKeyFor(family)) {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: family, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &ProviderError{Provider: family, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Provider:   family,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("chat completion failed: %s", strings.TrimSpace(string(data))),
		}
	}

	var decoded rawChatResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, &ProviderError{Provider: family, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(decoded.Choices) == 0 {
		return nil, &ProviderError{Provider: family, Err: fmt.Errorf("completion returned no choices")}
	}
	choice := decoded.Choices[0]
	return &rawResult{
		Message:      choice.Message,
		ID:           decoded.ID,
		Model:        decoded.Model,
		FinishReason: choice.FinishReason,
	}, nil
}

// normalizeForGoogle converts plain-string content to the list form gemini
// prefers. Other families pass through untouched.
func normalizeForGoogle(messages []models.Message, family string) []models.Message {
	if family != FamilyGoogle {
		return messages
	}
	out := make([]models.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Content.Parts == nil && out[i].Content.Text != "" {
			out[i].Content = models.Parts(models.TextPart(out[i].Content.Text))
		}
	}
	return out
}
