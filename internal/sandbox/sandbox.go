// Package sandbox manages the remote code-execution VMs that threads run
// their tools in: connecting to a VM's HTTP surface, provisioning new VMs
// through the Daytona API (warm pool first), and caching at most one ready
// sandbox per thread.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/strandlabs/strand/pkg/models"
)

// Default timings for sandbox readiness.
const (
	DefaultHealthTimeout = 300 * time.Second
	healthPollInterval   = 2 * time.Second
)

// Health is the decoded /health response. Raw keeps the full payload for
// fields beyond the two the manager acts on.
type Health struct {
	Healthy bool
	Claimed bool
	Raw     map[string]any
}

// Handle is a connected sandbox VM. RunTool streams are the only way tool
// output leaves a sandbox; every stream terminates with exactly one chunk
// whose IsComplete is set.
type Handle interface {
	ID() string
	State() models.SandboxState
	BaseURL() string

	// CheckHealth queries GET /health once.
	CheckHealth(ctx context.Context) (*Health, error)

	// WaitHealthy polls CheckHealth until the sandbox reports healthy or
	// the timeout elapses.
	WaitHealthy(ctx context.Context, timeout time.Duration) error

	// RunTool posts {tool_name, arguments} to /run and streams the SSE
	// response. Failures surface as a final "Error: ..." chunk, never as
	// a Go error once the stream is open.
	RunTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (<-chan models.ToolResultChunk, error)

	// Claim binds the sandbox to its thread by posting the environment
	// config to /claim.
	Claim(ctx context.Context, config map[string]string) error

	// Stop releases the handle. The remote VM is left alone; only the
	// local connection state is torn down.
	Stop(ctx context.Context) error
}

// Error wraps a sandbox operation failure with the sandbox it concerned.
type Error struct {
	SandboxID string
	Err       error
}

func (e *Error) Error() string {
	if e.SandboxID != "" {
		return fmt.Sprintf("sandbox %s: %v", e.SandboxID, e.Err)
	}
	return fmt.Sprintf("sandbox: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
