package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/strandlabs/strand/internal/store"
)

// DefaultProxyBase is the proxy domain remote sandbox URLs are built on.
const DefaultProxyBase = "proxy.daytona.works"

const restartHealthWait = 60 * time.Second

// ManagerConfig tunes the per-thread sandbox manager.
type ManagerConfig struct {
	ProxyBase     string
	ProxyPort     int
	HealthTimeout time.Duration

	// Claim fallbacks used when the thread config doesn't provide a value;
	// these in turn fall back to the process environment.
	VMAPIKey         string
	MemoryDSN        string
	OpenAIVirtualKey string
}

type readyEntry struct {
	handle   Handle
	verified time.Time
}

// Manager owns the thread-to-sandbox binding: a cache of ready handles, a
// pending set that guarantees at most one in-flight provisioning per
// thread, and the claim handshake that ties a VM to its thread.
type Manager struct {
	store    store.Store
	provider Provider
	cfg      ManagerConfig
	logger   *slog.Logger

	// connect builds a handle for a bound sandbox id; swapped in tests.
	connect func(sandboxID string) Handle

	mu      sync.Mutex
	ready   map[string]*readyEntry
	pending map[string]chan struct{}
}

// NewManager builds a manager. provider may be nil, which disables
// provisioning of new sandboxes (connect-by-id still works).
func NewManager(st store.Store, provider Provider, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProxyBase == "" {
		cfg.ProxyBase = DefaultProxyBase
	}
	if cfg.ProxyPort <= 0 {
		cfg.ProxyPort = DefaultProxyPort
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}

	m := &Manager{
		store:    st,
		provider: provider,
		cfg:      cfg,
		logger:   logger.With("component", "sandbox-manager"),
		ready:    make(map[string]*readyEntry),
		pending:  make(map[string]chan struct{}),
	}
	m.connect = func(id string) Handle {
		return NewRemote(id, cfg.ProxyBase, cfg.ProxyPort, logger)
	}
	return m
}

// SetConnector overrides how handles are built from sandbox ids (direct
// URLs in local development, fakes in tests).
func (m *Manager) SetConnector(connect func(sandboxID string) Handle) {
	m.connect = connect
}

func (m *Manager) healthTimeout() time.Duration { return m.cfg.HealthTimeout }

// GetIfReady returns the thread's sandbox if one is healthy right now.
// It never blocks on provisioning: a cache hit is re-verified via /health,
// a store binding is probed once, and anything else reports not ready.
func (m *Manager) GetIfReady(ctx context.Context, threadID string) (Handle, bool) {
	m.mu.Lock()
	entry := m.ready[threadID]
	m.mu.Unlock()

	if entry != nil {
		if m.verify(ctx, threadID, entry.handle) {
			return entry.handle, true
		}
		m.mu.Lock()
		delete(m.ready, threadID)
		m.mu.Unlock()
		m.logger.Info("evicted unhealthy sandbox from cache",
			"thread_id", threadID, "sandbox_id", entry.handle.ID())
	}

	sandboxID, err := m.store.GetThreadSandboxID(ctx, threadID)
	if err != nil || sandboxID == "" {
		return nil, false
	}

	handle := m.connect(sandboxID)
	if !m.verify(ctx, threadID, handle) {
		return nil, false
	}

	m.mu.Lock()
	m.ready[threadID] = &readyEntry{handle: handle, verified: time.Now()}
	m.mu.Unlock()
	return handle, true
}

// verify checks health and claims the sandbox when it is healthy but not
// yet claimed.
func (m *Manager) verify(ctx context.Context, threadID string, handle Handle) bool {
	health, err := handle.CheckHealth(ctx)
	if err != nil || !health.Healthy {
		return false
	}
	if !health.Claimed {
		if err := handle.Claim(ctx, m.claimConfig(ctx, threadID, handle.ID())); err != nil {
			m.logger.Warn("claim failed for healthy sandbox",
				"thread_id", threadID, "sandbox_id", handle.ID(), "error", err)
			return false
		}
	}
	m.mu.Lock()
	if entry := m.ready[threadID]; entry != nil && entry.handle == handle {
		entry.verified = time.Now()
	}
	m.mu.Unlock()
	return true
}

// EnsureBackground starts provisioning the thread's sandbox without
// blocking. At most one provisioning task runs per thread; redundant calls
// are no-ops.
func (m *Manager) EnsureBackground(ctx context.Context, threadID string) {
	m.mu.Lock()
	if _, inFlight := m.pending[threadID]; inFlight {
		m.mu.Unlock()
		return
	}
	if _, ok := m.ready[threadID]; ok {
		m.mu.Unlock()
		return
	}
	done := make(chan struct{})
	m.pending[threadID] = done
	m.mu.Unlock()

	// Detach from the request context: a finished request must not kill
	// provisioning the next one will need.
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.pending, threadID)
			m.mu.Unlock()
			close(done)
		}()
		if _, err := m.provision(bgCtx, threadID); err != nil {
			m.logger.Error("background sandbox provisioning failed",
				"thread_id", threadID, "error", err)
		}
	}()
}

// EnsureBlocking returns a ready sandbox for the thread, waiting for
// provisioning (and restarting an unhealthy bound sandbox) as needed.
func (m *Manager) EnsureBlocking(ctx context.Context, threadID string) (Handle, error) {
	if h, ok := m.GetIfReady(ctx, threadID); ok {
		return h, nil
	}

	// If a background task is already provisioning this thread, join it
	// instead of racing.
	m.mu.Lock()
	inFlight, waiting := m.pending[threadID]
	if !waiting {
		done := make(chan struct{})
		m.pending[threadID] = done
		defer func() {
			m.mu.Lock()
			delete(m.pending, threadID)
			m.mu.Unlock()
			close(done)
		}()
	}
	m.mu.Unlock()

	if waiting {
		select {
		case <-inFlight:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if h, ok := m.GetIfReady(ctx, threadID); ok {
			return h, nil
		}
		return nil, &Error{Err: fmt.Errorf("provisioning for thread %s did not produce a sandbox", threadID)}
	}

	return m.provision(ctx, threadID)
}

// provision brings the thread's sandbox to ready: reuse the bound id
// (restarting if unhealthy), or create a new sandbox, then wait for
// health, claim, and cache. Callers hold the thread's pending slot.
func (m *Manager) provision(ctx context.Context, threadID string) (Handle, error) {
	sandboxID, err := m.store.GetThreadSandboxID(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("look up sandbox binding: %w", err)
	}

	if sandboxID != "" {
		handle := m.connect(sandboxID)
		if err := handle.WaitHealthy(ctx, restartHealthWait); err != nil {
			newID, err := m.restart(ctx, threadID, sandboxID)
			if err != nil {
				return nil, err
			}
			sandboxID = newID
			handle = m.connect(sandboxID)
		}
		return m.finishProvision(ctx, threadID, handle)
	}

	if m.provider == nil {
		return nil, &Error{Err: fmt.Errorf("thread %s has no sandbox and no provider is configured", threadID)}
	}
	sandboxID, err = m.provider.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	if err := m.store.UpdateThreadSandboxID(ctx, threadID, sandboxID); err != nil {
		return nil, fmt.Errorf("bind sandbox %s: %w", sandboxID, err)
	}
	m.logger.Info("provisioned sandbox", "thread_id", threadID, "sandbox_id", sandboxID)

	return m.finishProvision(ctx, threadID, m.connect(sandboxID))
}

func (m *Manager) restart(ctx context.Context, threadID, sandboxID string) (string, error) {
	if m.provider == nil {
		return "", &Error{SandboxID: sandboxID, Err: fmt.Errorf("sandbox unhealthy and no provider configured")}
	}
	newID, err := m.provider.Restart(ctx, sandboxID)
	if err != nil {
		return "", fmt.Errorf("restart sandbox %s: %w", sandboxID, err)
	}
	if newID != sandboxID {
		if err := m.store.UpdateThreadSandboxID(ctx, threadID, newID); err != nil {
			return "", fmt.Errorf("rebind sandbox %s: %w", newID, err)
		}
		m.logger.Info("sandbox replaced on restart",
			"thread_id", threadID, "old_sandbox_id", sandboxID, "new_sandbox_id", newID)
	}
	return newID, nil
}

func (m *Manager) finishProvision(ctx context.Context, threadID string, handle Handle) (Handle, error) {
	if err := handle.WaitHealthy(ctx, m.cfg.HealthTimeout); err != nil {
		return nil, err
	}
	if err := handle.Claim(ctx, m.claimConfig(ctx, threadID, handle.ID())); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.ready[threadID] = &readyEntry{handle: handle, verified: time.Now()}
	m.mu.Unlock()
	m.logger.Info("sandbox ready", "thread_id", threadID, "sandbox_id", handle.ID())
	return handle, nil
}

// claimConfig builds the environment map POSTed to /claim. Thread config
// wins, then manager defaults, then the process environment.
func (m *Manager) claimConfig(ctx context.Context, threadID, sandboxID string) map[string]string {
	cfg := map[string]string{
		"THREAD_ID":             threadID,
		"DAYTONA_SANDBOX_ID":    sandboxID,
		"PROXY_BASE_URL":        m.cfg.ProxyBase,
		"VM_API_KEY":            fallback(m.cfg.VMAPIKey, os.Getenv("VM_API_KEY")),
		"MEMORY_DB_DSN":         fallback(m.cfg.MemoryDSN, os.Getenv("MEMORY_DSN")),
		"OPENAI_PK_VIRTUAL_KEY": fallback(m.cfg.OpenAIVirtualKey, os.Getenv("OPENAI_PK_VIRTUAL_KEY")),
		"USER_ID":               os.Getenv("USER_ID"),
		"KAFKA_PROFILE_ID":      os.Getenv("KAFKA_PROFILE_ID"),
	}

	tc, err := m.store.GetThreadConfig(ctx, threadID)
	if err != nil {
		m.logger.Warn("thread config lookup failed, claiming with defaults",
			"thread_id", threadID, "error", err)
	}
	if tc != nil {
		setIfPresent(cfg, "USER_ID", tc.UserID)
		setIfPresent(cfg, "KAFKA_PROFILE_ID", tc.KafkaProfileID)
		setIfPresent(cfg, "MEMORY_DB_DSN", tc.MemoryDSN)
		setIfPresent(cfg, "VM_API_KEY", tc.VMAPIKey)
		setIfPresent(cfg, "OPENAI_PK_VIRTUAL_KEY", tc.VirtualKeys["openai"])
	}
	return cfg
}

// Release drops the thread's cached handle. The stored binding stays so a
// later call can reconnect to the same VM.
func (m *Manager) Release(ctx context.Context, threadID string) {
	m.mu.Lock()
	entry := m.ready[threadID]
	delete(m.ready, threadID)
	m.mu.Unlock()

	if entry != nil {
		if err := entry.handle.Stop(ctx); err != nil {
			m.logger.Warn("failed to stop sandbox handle",
				"thread_id", threadID, "sandbox_id", entry.handle.ID(), "error", err)
		}
	}
}

// Quiesce waits for every in-flight provisioning task, for orderly
// shutdown and deterministic tests.
func (m *Manager) Quiesce(ctx context.Context) error {
	for {
		m.mu.Lock()
		var done chan struct{}
		for _, ch := range m.pending {
			done = ch
			break
		}
		m.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func fallback(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func setIfPresent(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
