package models

// SandboxState is the lifecycle state of a sandbox VM. A sandbox is ready
// for tool execution only when it is running AND its health endpoint
// reports healthy; the two are checked separately.
type SandboxState string

const (
	SandboxCreating SandboxState = "creating"
	SandboxStarting SandboxState = "starting"
	SandboxRunning  SandboxState = "running"
	SandboxStopping SandboxState = "stopping"
	SandboxStopped  SandboxState = "stopped"
	SandboxPaused   SandboxState = "paused"
	SandboxError    SandboxState = "error"
)
