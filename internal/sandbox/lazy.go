package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/strandlabs/strand/pkg/models"
)

const lazyPollInterval = 200 * time.Millisecond

// Lazy is a sandbox facade bound to a thread whose real sandbox may still
// be provisioning. The model can start streaming immediately; the first
// operation that needs the real VM blocks until the manager has a ready
// handle for the thread (or the resolve timeout passes).
type Lazy struct {
	threadID string
	manager  *Manager
	timeout  time.Duration

	mu       sync.Mutex
	resolved Handle
}

// NewLazy builds a lazy handle. A non-positive timeout uses the manager's
// health timeout.
func NewLazy(threadID string, manager *Manager, timeout time.Duration) *Lazy {
	if timeout <= 0 {
		timeout = manager.healthTimeout()
	}
	return &Lazy{threadID: threadID, manager: manager, timeout: timeout}
}

// resolve blocks until the manager reports a ready sandbox for the thread.
// Polling is cancellable between rounds.
func (l *Lazy) resolve(ctx context.Context) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resolved != nil {
		return l.resolved, nil
	}

	deadline := time.Now().Add(l.timeout)
	for {
		if h, ok := l.manager.GetIfReady(ctx, l.threadID); ok {
			l.resolved = h
			return h, nil
		}
		if time.Now().After(deadline) {
			return nil, &Error{Err: fmt.Errorf("sandbox for thread %s not ready after %s", l.threadID, l.timeout)}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lazyPollInterval):
		}
	}
}

func (l *Lazy) current() Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolved
}

// ID returns a placeholder until the real sandbox is known.
func (l *Lazy) ID() string {
	if h := l.current(); h != nil {
		return h.ID()
	}
	short := l.threadID
	if len(short) > 8 {
		short = short[:8]
	}
	return "pending-" + short
}

// State reports Creating until resolution.
func (l *Lazy) State() models.SandboxState {
	if h := l.current(); h != nil {
		return h.State()
	}
	return models.SandboxCreating
}

// BaseURL is empty until resolution.
func (l *Lazy) BaseURL() string {
	if h := l.current(); h != nil {
		return h.BaseURL()
	}
	return ""
}

// CheckHealth resolves, then delegates.
func (l *Lazy) CheckHealth(ctx context.Context) (*Health, error) {
	h, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return h.CheckHealth(ctx)
}

// WaitHealthy resolves (which already implies health), then delegates.
func (l *Lazy) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	h, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	return h.WaitHealthy(ctx, timeout)
}

// RunTool resolves, then delegates. A resolve failure becomes a single
// error chunk so the tool stream contract holds and the agent continues.
func (l *Lazy) RunTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (<-chan models.ToolResultChunk, error) {
	h, err := l.resolve(ctx)
	if err != nil {
		out := make(chan models.ToolResultChunk, 1)
		out <- models.ToolResultChunk{
			ToolName:   name,
			Delta:      "Error: " + err.Error(),
			IsComplete: true,
		}
		close(out)
		return out, nil
	}
	return h.RunTool(ctx, name, args, timeout)
}

// Claim resolves, then delegates.
func (l *Lazy) Claim(ctx context.Context, config map[string]string) error {
	h, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	return h.Claim(ctx, config)
}

// Stop releases the resolved handle, if any. An unresolved lazy handle
// has nothing to stop.
func (l *Lazy) Stop(ctx context.Context) error {
	if h := l.current(); h != nil {
		return h.Stop(ctx)
	}
	return nil
}
