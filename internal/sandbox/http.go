package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/strandlabs/strand/pkg/models"
)

// DefaultProxyPort is the port the sandbox HTTP surface listens on behind
// the Daytona preview proxy.
const DefaultProxyPort = 8081

const sseDone = "[DONE]"

// httpHandle talks to a sandbox's HTTP surface: GET /health, POST /run
// (SSE), POST /claim. Remote and direct handles differ only in how the
// base URL is built.
type httpHandle struct {
	id      string
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger

	mu    sync.Mutex
	state models.SandboxState
}

// NewRemote connects to a proxied sandbox by id:
// https://<port>-<id>.<proxyBase>.
func NewRemote(sandboxID, proxyBase string, port int, logger *slog.Logger) Handle {
	if port <= 0 {
		port = DefaultProxyPort
	}
	return newHTTPHandle(sandboxID, fmt.Sprintf("https://%d-%s.%s", port, sandboxID, proxyBase), logger)
}

// NewDirect connects to a sandbox at a fixed base URL (local development).
func NewDirect(baseURL string, logger *slog.Logger) Handle {
	return newHTTPHandle("local", strings.TrimRight(baseURL, "/"), logger)
}

func newHTTPHandle(id, baseURL string, logger *slog.Logger) *httpHandle {
	if logger == nil {
		logger = slog.Default()
	}
	return &httpHandle{
		id:      id,
		baseURL: baseURL,
		httpc:   &http.Client{},
		logger:  logger.With("sandbox_id", id),
		state:   models.SandboxStarting,
	}
}

func (h *httpHandle) ID() string      { return h.id }
func (h *httpHandle) BaseURL() string { return h.baseURL }

func (h *httpHandle) State() models.SandboxState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *httpHandle) setState(s models.SandboxState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// CheckHealth implements Handle. A transport failure or non-2xx status is
// an error; the caller decides whether that means "not ready yet".
func (h *httpHandle) CheckHealth(ctx context.Context) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return nil, &Error{SandboxID: h.id, Err: err}
	}
	resp, err := h.httpc.Do(req)
	if err != nil {
		return nil, &Error{SandboxID: h.id, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{SandboxID: h.id, Err: fmt.Errorf("health returned status %d", resp.StatusCode)}
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &Error{SandboxID: h.id, Err: fmt.Errorf("decode health response: %w", err)}
	}

	health := &Health{Raw: raw}
	health.Healthy, _ = raw["healthy"].(bool)
	health.Claimed, _ = raw["claimed"].(bool)
	if health.Healthy {
		h.setState(models.SandboxRunning)
	}
	return health, nil
}

// WaitHealthy implements Handle, polling every 2s with an immediate first
// check.
func (h *httpHandle) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		health, err := h.CheckHealth(ctx)
		if err == nil && health.Healthy {
			return nil
		}
		if err != nil {
			h.logger.Debug("health check failed, retrying", "error", err)
		}
		if time.Now().After(deadline) {
			return &Error{SandboxID: h.id, Err: fmt.Errorf("not healthy after %s", timeout)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runEvent is one JSON SSE event from POST /run. Output text arrives in
// either data or content depending on the event type.
type runEvent struct {
	Type       string          `json:"type"`
	Data       string          `json:"data"`
	Content    string          `json:"content"`
	IsComplete bool            `json:"is_complete"`
	ExitCode   *int            `json:"exit_code"`
	Metadata   json.RawMessage `json:"metadata"`
}

func (e runEvent) text() string {
	if e.Data != "" {
		return e.Data
	}
	return e.Content
}

// RunTool implements Handle. The returned channel always delivers exactly
// one IsComplete chunk as its final item.
func (h *httpHandle) RunTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (<-chan models.ToolResultChunk, error) {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}

	body, err := json.Marshal(map[string]any{
		"tool_name": name,
		"arguments": args,
	})
	if err != nil {
		return nil, &Error{SandboxID: h.id, Err: fmt.Errorf("encode run request: %w", err)}
	}

	out := make(chan models.ToolResultChunk, 16)
	go func() {
		defer close(out)
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		fail := func(err error) {
			out <- models.ToolResultChunk{
				ToolName:   name,
				Delta:      "Error: " + err.Error(),
				IsComplete: true,
			}
		}

		req, err := http.NewRequestWithContext(runCtx, http.MethodPost, h.baseURL+"/run", bytes.NewReader(body))
		if err != nil {
			fail(err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := h.httpc.Do(req)
		if err != nil {
			fail(err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			fail(fmt.Errorf("run returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
			return
		}

		h.streamRunEvents(runCtx, resp.Body, name, out)
	}()
	return out, nil
}

// streamRunEvents parses the SSE body line by line, forwarding output
// deltas and guaranteeing a single trailing IsComplete chunk.
func (h *httpHandle) streamRunEvents(ctx context.Context, body io.Reader, name string, out chan<- models.ToolResultChunk) {
	send := func(chunk models.ToolResultChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == sseDone {
			send(models.ToolResultChunk{ToolName: name, IsComplete: true})
			return
		}

		var event runEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			// Sandboxes may emit raw text lines; pass them through.
			if !send(models.ToolResultChunk{ToolName: name, Delta: payload}) {
				return
			}
			continue
		}
		if event.IsComplete {
			send(models.ToolResultChunk{ToolName: name, Delta: event.text(), IsComplete: true})
			return
		}
		if text := event.text(); text != "" {
			if !send(models.ToolResultChunk{ToolName: name, Delta: text}) {
				return
			}
		}
	}

	err := scanner.Err()
	if err != nil && !errors.Is(err, context.Canceled) {
		send(models.ToolResultChunk{ToolName: name, Delta: "Error: " + err.Error(), IsComplete: true})
		return
	}
	// Stream ended without [DONE]; still close the contract out.
	send(models.ToolResultChunk{ToolName: name, IsComplete: true})
}

// Claim implements Handle.
func (h *httpHandle) Claim(ctx context.Context, config map[string]string) error {
	body, err := json.Marshal(map[string]any{"config": config})
	if err != nil {
		return &Error{SandboxID: h.id, Err: fmt.Errorf("encode claim request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/claim", bytes.NewReader(body))
	if err != nil {
		return &Error{SandboxID: h.id, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpc.Do(req)
	if err != nil {
		return &Error{SandboxID: h.id, Err: fmt.Errorf("claim request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{SandboxID: h.id, Err: fmt.Errorf("claim returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}

	h.logger.Info("sandbox claimed")
	return nil
}

// Stop implements Handle. Remote lifecycle is the provider's business;
// this only releases local resources.
func (h *httpHandle) Stop(ctx context.Context) error {
	h.setState(models.SandboxStopped)
	h.httpc.CloseIdleConnections()
	return nil
}
