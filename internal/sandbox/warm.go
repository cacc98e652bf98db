package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const warmClaimTimeout = 10 * time.Second

// WarmPool claims pre-provisioned sandboxes from the warm-sandbox service
// to shorten time-to-ready. Every failure mode is a soft miss: the caller
// falls back to creating a sandbox directly.
type WarmPool struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewWarmPool builds a pool client. An empty base URL disables the pool.
func NewWarmPool(baseURL string, logger *slog.Logger) *WarmPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WarmPool{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: warmClaimTimeout},
		logger:  logger,
	}
}

// Claim asks the pool for a warm sandbox of the given environment. A 200
// returns the sandbox id; 404 means the pool is empty; transport errors
// and timeouts also report not-ok.
func (w *WarmPool) Claim(ctx context.Context, envID string) (string, bool) {
	if w == nil || w.baseURL == "" {
		return "", false
	}

	url := fmt.Sprintf("%s/claim/%s", w.baseURL, envID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", false
	}

	resp, err := w.httpc.Do(req)
	if err != nil {
		w.logger.Warn("warm sandbox claim failed", "env_id", envID, "error", err)
		return "", false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		w.logger.Info("no warm sandbox available", "env_id", envID)
		return "", false
	default:
		w.logger.Warn("warm sandbox claim returned unexpected status",
			"env_id", envID, "status", resp.StatusCode)
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", false
	}

	var payload struct {
		SandboxID string `json:"sandbox_id"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.SandboxID != "" {
		w.logger.Info("claimed warm sandbox", "env_id", envID, "sandbox_id", payload.SandboxID)
		return payload.SandboxID, true
	}
	if id := strings.Trim(strings.TrimSpace(string(body)), `"`); id != "" {
		w.logger.Info("claimed warm sandbox", "env_id", envID, "sandbox_id", id)
		return id, true
	}
	return "", false
}
