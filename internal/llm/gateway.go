package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/strandlabs/strand/pkg/models"
)

// Anthropic requires max_tokens on every request; this is the default when
// the caller didn't set one.
const anthropicDefaultMaxTokens = 8192

// GatewayConfig configures the LLM gateway connection.
type GatewayConfig struct {
	APIKey      string
	BaseURL     string
	ConfigID    string            // optional gateway config id
	VirtualKeys map[string]string // family -> virtual key
	FallbackKey string            // used when no family key matches
}

// GatewayProvider implements Provider against an OpenAI-compatible gateway
// that fronts several model families. Family-specific behavior: gpt-5
// models take max_completion_tokens, anthropic models always get
// max_tokens, and google models run non-streaming with the response
// synthesized into a single chunk so thought signatures survive.
type GatewayProvider struct {
	cfg    GatewayConfig
	httpc  *http.Client
	logger *slog.Logger
}

// NewGatewayProvider builds a provider. A nil logger falls back to the
// default logger.
func NewGatewayProvider(cfg GatewayConfig, logger *slog.Logger) *GatewayProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.portkey.ai/v1"
	}
	return &GatewayProvider{
		cfg:    cfg,
		httpc:  &http.Client{},
		logger: logger,
	}
}

// headerRoundTripper attaches gateway routing headers to every request.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			clone.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(clone)
}

func (p *GatewayProvider) gatewayHeaders(family, virtualKey string) map[string]string {
	return map[string]string{
		"x-portkey-api-key":                   p.cfg.APIKey,
		"x-portkey-virtual-key":               virtualKey,
		"x-portkey-provider":                  family,
		"x-portkey-config":                    p.cfg.ConfigID,
		"x-portkey-strict-open-ai-compliance": "false",
	}
}

func (p *GatewayProvider) clientFor(family, virtualKey string) *openai.Client {
	cfg := openai.DefaultConfig(p.cfg.APIKey)
	cfg.BaseURL = p.cfg.BaseURL
	cfg.HTTPClient = &http.Client{
		Transport: headerRoundTripper{
			base:    http.DefaultTransport,
			headers: p.gatewayHeaders(family, virtualKey),
		},
	}
	return openai.NewClientWithConfig(cfg)
}

// virtualKeyFor picks the virtual key for a family, falling back to any
// configured family key and finally the global fallback.
func (p *GatewayProvider) virtualKeyFor(family string) string {
	if k := p.cfg.VirtualKeys[family]; k != "" {
		return k
	}
	for _, fam := range []string{FamilyOpenAI, FamilyAnthropic, FamilyGoogle} {
		if k := p.cfg.VirtualKeys[fam]; k != "" {
			p.logger.Warn("no virtual key for model family, using fallback",
				"family", family, "fallback_family", fam)
			return k
		}
	}
	return p.cfg.FallbackKey
}

func (p *GatewayProvider) familyFor(model string) string {
	family, known := InferFamily(model)
	if !known {
		p.logger.Warn("unknown model family, defaulting to openai", "model", model)
	}
	return family
}

// StreamCompletion implements Provider.
func (p *GatewayProvider) StreamCompletion(ctx context.Context, messages []models.Message, model string, opts CompletionOptions) (<-chan StreamResult, error) {
	family := p.familyFor(model)
	pruned := PruneImages(messages, ImageKeepLimit)

	if family == FamilyGoogle {
		return p.streamViaCompletion(ctx, pruned, model, opts, family)
	}

	req := p.buildRequest(pruned, model, opts, family)
	req.Stream = true
	client := p.clientFor(family, p.virtualKeyFor(family))

	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, p.wrapErr(family, err)
	}

	results := make(chan StreamResult, 64)
	go func() {
		defer close(results)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				results <- StreamResult{Err: p.wrapErr(family, err)}
				return
			}
			chunk := fromStreamResponse(resp)
			if chunk == nil {
				continue
			}
			select {
			case results <- StreamResult{Chunk: chunk}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return results, nil
}

// streamViaCompletion performs a blocking completion and emits it as one
// synthesized chunk. Gemini thought signatures only survive the
// non-streaming wire shape, so the google family always takes this path.
func (p *GatewayProvider) streamViaCompletion(ctx context.Context, messages []models.Message, model string, opts CompletionOptions, family string) (<-chan StreamResult, error) {
	res, err := p.rawCompletion(ctx, messages, model, opts, family)
	if err != nil {
		return nil, err
	}

	chunk := &models.StreamChunk{
		Role:         string(res.Message.Role),
		Content:      res.Message.Content.Flatten(),
		FinishReason: res.FinishReason,
		Model:        res.Model,
		ID:           res.ID,
	}
	for i, tc := range res.Message.ToolCalls {
		chunk.ToolCalls = append(chunk.ToolCalls, models.ToolCallDelta{
			Index: i,
			ID:    tc.ID,
			Type:  tc.Type,
			Function: models.FunctionDelta{
				Name:             tc.Function.Name,
				Arguments:        tc.Function.Arguments,
				ThoughtSignature: tc.Function.ThoughtSignature,
			},
		})
	}
	if chunk.FinishReason == "" {
		if len(chunk.ToolCalls) > 0 {
			chunk.FinishReason = "tool_calls"
		} else {
			chunk.FinishReason = "stop"
		}
	}

	results := make(chan StreamResult, 1)
	results <- StreamResult{Chunk: chunk}
	close(results)
	return results, nil
}

// Completion implements Provider.
func (p *GatewayProvider) Completion(ctx context.Context, messages []models.Message, model string, opts CompletionOptions) (*models.Message, error) {
	family := p.familyFor(model)
	pruned := PruneImages(messages, ImageKeepLimit)

	if family == FamilyGoogle {
		res, err := p.rawCompletion(ctx, pruned, model, opts, family)
		if err != nil {
			return nil, err
		}
		return &res.Message, nil
	}

	req := p.buildRequest(pruned, model, opts, family)
	client := p.clientFor(family, p.virtualKeyFor(family))

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, p.wrapErr(family, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: family, Err: errors.New("completion returned no choices")}
	}
	msg := fromChoiceMessage(resp.Choices[0].Message)
	return &msg, nil
}

func (p *GatewayProvider) buildRequest(messages []models.Message, model string, opts CompletionOptions, family string) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.toOpenAIMessages(messages),
		User:     opts.User,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}

	maxTokens := opts.MaxTokens
	if family == FamilyAnthropic && maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	if strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req
}

// toOpenAIMessages converts wire messages to SDK messages. Pure-text part
// lists collapse to plain strings; image_url parts become multi-content.
// Source-form image parts cannot be expressed in the SDK types and are
// dropped here (they are still counted by pruning).
func (p *GatewayProvider) toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		cm := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if m.Content.Parts == nil || m.Role == models.RoleTool {
			cm.Content = m.Content.Flatten()
		} else {
			parts, hasImage := p.toMessageParts(m.Content.Parts)
			if hasImage {
				cm.MultiContent = parts
			} else {
				cm.Content = m.Content.Flatten()
			}
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func (p *GatewayProvider) toMessageParts(parts []models.ContentPart) ([]openai.ChatMessagePart, bool) {
	out := make([]openai.ChatMessagePart, 0, len(parts))
	hasImage := false
	for _, part := range parts {
		switch part.Type {
		case models.PartText:
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case models.PartImageURL:
			if part.ImageURL == nil {
				continue
			}
			hasImage = true
			out = append(out, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL.URL},
			})
		case models.PartImage:
			p.logger.Debug("dropping source-form image part on sdk path")
		default:
			if part.Text != "" {
				out = append(out, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: part.Text,
				})
			}
		}
	}
	return out, hasImage
}

func fromStreamResponse(resp openai.ChatCompletionStreamResponse) *models.StreamChunk {
	if len(resp.Choices) == 0 {
		return nil
	}
	choice := resp.Choices[0]
	chunk := &models.StreamChunk{
		Role:    choice.Delta.Role,
		Content: choice.Delta.Content,
		Model:   resp.Model,
		ID:      resp.ID,
	}
	if choice.FinishReason != "" {
		chunk.FinishReason = string(choice.FinishReason)
	}
	for _, tc := range choice.Delta.ToolCalls {
		d := models.ToolCallDelta{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: models.FunctionDelta{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		}
		if tc.Index != nil {
			d.Index = *tc.Index
		}
		chunk.ToolCalls = append(chunk.ToolCalls, d)
	}
	if chunk.Role == "" && chunk.Content == "" && chunk.ToolCalls == nil && chunk.FinishReason == "" {
		return nil
	}
	return chunk
}

func fromChoiceMessage(m openai.ChatCompletionMessage) models.Message {
	msg := models.Message{
		Role:    models.Role(m.Role),
		Content: models.Text(m.Content),
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: models.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return msg
}

func (p *GatewayProvider) wrapErr(family string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: family, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: family, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &ProviderError{Provider: family, Err: err}
}
