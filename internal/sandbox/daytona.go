package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	apiclient "github.com/daytonaio/daytona/libs/api-client-go"

	"github.com/strandlabs/strand/pkg/models"
)

const defaultDaytonaAPIURL = "https://app.daytona.io/api"

// Provider creates and restarts sandbox VMs. Create returns the id of a
// running sandbox; Restart may return a different id when the original
// could not be revived.
type Provider interface {
	Create(ctx context.Context) (string, error)
	Restart(ctx context.Context, sandboxID string) (string, error)
}

// DaytonaConfig configures the Daytona sandbox provider.
type DaytonaConfig struct {
	APIKey   string
	APIURL   string
	Target   string
	Snapshot string // snapshot name used for new sandboxes
	EnvID    string // warm pool environment id
}

// DaytonaProvider provisions sandboxes through the Daytona API, preferring
// the warm pool when one is configured.
type DaytonaProvider struct {
	cfg    DaytonaConfig
	api    *apiclient.APIClient
	warm   *WarmPool
	logger *slog.Logger
}

// NewDaytonaProvider builds a provider. warm may be nil.
func NewDaytonaProvider(cfg DaytonaConfig, warm *WarmPool, logger *slog.Logger) (*DaytonaProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("daytona api key is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultDaytonaAPIURL
	}
	if cfg.Snapshot == "" {
		cfg.Snapshot = cfg.EnvID
	}

	apiCfg := apiclient.NewConfiguration()
	parsed, err := url.Parse(cfg.APIURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid daytona api url %q", cfg.APIURL)
	}
	apiCfg.Scheme = parsed.Scheme
	apiCfg.Host = parsed.Host
	apiCfg.HTTPClient = &http.Client{}
	apiCfg.AddDefaultHeader("X-Daytona-Source", "strand")
	apiCfg.Servers = apiclient.ServerConfigurations{
		{URL: strings.TrimRight(cfg.APIURL, "/")},
	}

	return &DaytonaProvider{
		cfg:    cfg,
		api:    apiclient.NewAPIClient(apiCfg),
		warm:   warm,
		logger: logger.With("component", "daytona"),
	}, nil
}

func (p *DaytonaProvider) authContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, apiclient.ContextAccessToken, p.cfg.APIKey)
}

// Create implements Provider: warm pool first, then a fresh sandbox from
// the configured snapshot, waiting until it reaches the started state.
func (p *DaytonaProvider) Create(ctx context.Context) (string, error) {
	if id, ok := p.warm.Claim(ctx, p.cfg.EnvID); ok {
		return id, nil
	}

	createReq := apiclient.NewCreateSandbox()
	if p.cfg.Snapshot != "" {
		createReq.SetSnapshot(p.cfg.Snapshot)
	}
	if p.cfg.Target != "" {
		createReq.SetTarget(p.cfg.Target)
	}

	sandbox, httpResp, err := p.api.SandboxAPI.CreateSandbox(p.authContext(ctx)).CreateSandbox(*createReq).Execute()
	if err != nil {
		return "", &Error{Err: fmt.Errorf("create sandbox: %w", apiError(err, httpResp))}
	}

	id := sandbox.GetId()
	p.logger.Info("created sandbox", "sandbox_id", id, "snapshot", p.cfg.Snapshot)

	if sandbox.GetState() != apiclient.SANDBOXSTATE_STARTED {
		if err := p.waitStarted(ctx, id); err != nil {
			return "", err
		}
	}
	return id, nil
}

// Restart implements Provider. A stopped sandbox is started in place; one
// that cannot be revived is replaced, so the returned id may differ.
func (p *DaytonaProvider) Restart(ctx context.Context, sandboxID string) (string, error) {
	sandbox, httpResp, err := p.api.SandboxAPI.GetSandbox(p.authContext(ctx), sandboxID).Execute()
	if err != nil {
		p.logger.Warn("sandbox lookup failed, provisioning replacement",
			"sandbox_id", sandboxID, "error", apiError(err, httpResp))
		return p.Create(ctx)
	}

	switch sandbox.GetState() {
	case apiclient.SANDBOXSTATE_STARTED:
		return sandboxID, nil
	case apiclient.SANDBOXSTATE_STOPPED:
		_, httpResp, err := p.api.SandboxAPI.StartSandbox(p.authContext(ctx), sandboxID).Execute()
		if err != nil {
			return "", &Error{SandboxID: sandboxID, Err: fmt.Errorf("start sandbox: %w", apiError(err, httpResp))}
		}
		if err := p.waitStarted(ctx, sandboxID); err != nil {
			return "", err
		}
		return sandboxID, nil
	default:
		p.logger.Warn("sandbox in unrecoverable state, provisioning replacement",
			"sandbox_id", sandboxID, "state", sandbox.GetState())
		return p.Create(ctx)
	}
}

// GetState reports the provider-side lifecycle state of a sandbox.
func (p *DaytonaProvider) GetState(ctx context.Context, sandboxID string) (models.SandboxState, error) {
	sandbox, httpResp, err := p.api.SandboxAPI.GetSandbox(p.authContext(ctx), sandboxID).Execute()
	if err != nil {
		return models.SandboxError, &Error{SandboxID: sandboxID, Err: apiError(err, httpResp)}
	}
	switch sandbox.GetState() {
	case apiclient.SANDBOXSTATE_STARTED:
		return models.SandboxRunning, nil
	case apiclient.SANDBOXSTATE_STOPPED:
		return models.SandboxStopped, nil
	case apiclient.SANDBOXSTATE_ERROR, apiclient.SANDBOXSTATE_BUILD_FAILED, apiclient.SANDBOXSTATE_DESTROYED:
		return models.SandboxError, nil
	default:
		// Transitional API states (creating, starting, restoring, ...)
		// all read as starting here.
		return models.SandboxStarting, nil
	}
}

func (p *DaytonaProvider) waitStarted(ctx context.Context, sandboxID string) error {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		sandbox, httpResp, err := p.api.SandboxAPI.GetSandbox(p.authContext(ctx), sandboxID).Execute()
		if err != nil {
			return &Error{SandboxID: sandboxID, Err: fmt.Errorf("sandbox status: %w", apiError(err, httpResp))}
		}
		switch sandbox.GetState() {
		case apiclient.SANDBOXSTATE_STARTED:
			return nil
		case apiclient.SANDBOXSTATE_ERROR, apiclient.SANDBOXSTATE_BUILD_FAILED, apiclient.SANDBOXSTATE_DESTROYED:
			return &Error{SandboxID: sandboxID, Err: fmt.Errorf("sandbox failed: %s", sandbox.GetState())}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func apiError(err error, resp *http.Response) error {
	if resp == nil {
		return err
	}
	return fmt.Errorf("%s (status %s)", err.Error(), resp.Status)
}
