package builtin

import (
	"time"

	"github.com/strandlabs/strand/internal/sandbox"
	"github.com/strandlabs/strand/internal/tools"
)

const (
	shellHealthTimeout    = 30 * time.Second
	notebookHealthTimeout = 300 * time.Second
)

type createShellArgs struct {
	ShellID string `json:"shell_id" jsonschema:"description=Identifier for the new shell session"`
}

type shellExecArgs struct {
	ShellID string `json:"shell_id" jsonschema:"description=The shell session ID to run the command in"`
	Command string `json:"command" jsonschema:"description=The shell command to execute"`
}

type notebookRunCellArgs struct {
	Code        string `json:"code" jsonschema:"description=The Python code to execute in the notebook cell"`
	Description string `json:"description" jsonschema:"description=A brief description of what this code does"`
	Timeout     int    `json:"timeout,omitempty" jsonschema:"default=3600,description=Maximum execution time in seconds. Defaults to 3600."`
}

// NewCreateShell returns the create_shell tool bound to h.
func NewCreateShell(h sandbox.Handle) tools.Definition {
	return tools.Definition{
		Name:        "create_shell",
		Description: "Create a new shell session in the sandbox. You must create a shell before running commands.",
		Parameters:  mustSchema(&createShellArgs{}),
		Kind:        tools.KindSandbox,
		Sandbox:     &tools.SandboxTool{Handle: h, HealthTimeout: shellHealthTimeout},
	}
}

// NewShellExec returns the shell_exec tool bound to h.
func NewShellExec(h sandbox.Handle) tools.Definition {
	return tools.Definition{
		Name:        "shell_exec",
		Description: "Execute a shell command in an existing shell session. Returns the command output.",
		Parameters:  mustSchema(&shellExecArgs{}),
		Kind:        tools.KindSandbox,
		Sandbox:     &tools.SandboxTool{Handle: h, HealthTimeout: shellHealthTimeout},
	}
}

// NewNotebookRunCell returns the notebook_run_cell tool bound to h. The
// longer health timeout covers kernel startup on a cold sandbox.
func NewNotebookRunCell(h sandbox.Handle) tools.Definition {
	return tools.Definition{
		Name: "notebook_run_cell",
		Description: "Execute Python code in a Jupyter-style notebook environment. " +
			"The code runs in an IPython kernel with persistent state between calls. " +
			"Use this for data analysis, plotting, package installation, and general Python execution. " +
			"Output streams in real-time as the code executes.",
		Parameters: mustSchema(&notebookRunCellArgs{}),
		Kind:       tools.KindSandbox,
		Sandbox:    &tools.SandboxTool{Handle: h, HealthTimeout: notebookHealthTimeout},
	}
}
