package gateway

import (
	"context"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"fsgate/internal/fault"
	"fsgate/internal/pathguard"
	"fsgate/internal/taskreg"
)

type pythonRunInput struct {
	Script         string   `json:"script" jsonschema:"Path to a script inside the sandbox, or inline code when no such file exists"`
	Args           []string `json:"args,omitempty" jsonschema:"Extra arguments passed to the script"`
	Cwd            string   `json:"cwd,omitempty" jsonschema:"Working directory, resolved under the sandbox root (default the root)"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" jsonschema:"Kill the run after this many seconds (default 300)"`
}

type taskIDInput struct {
	TaskID string `json:"task_id" jsonschema:"Task identifier returned by python_run_background"`
}

type emptyInput struct{}

func (g *Gateway) registerTaskTools() {
	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "python_run",
		Description: "Run a Python script (path or inline code) in the sandbox and wait for it to finish. Returns the final state with trailing stdout/stderr.",
	}, g.handlePythonRun)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "python_run_background",
		Description: "Start a Python script in the background. Returns a task_id for polling; stream live output over /ws/tasks/{id} on the HTTP transport. The status snapshot keeps only a trailing window of output; redirect to a file for the full stream.",
	}, g.handlePythonRunBackground)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "python_task_status",
		Description: "Get the state and trailing output of a background task.",
		Annotations: readOnly,
	}, g.handlePythonTaskStatus)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "python_task_cancel",
		Description: "Cancel a background task. Cancellation is cooperative: the process gets a termination signal and a grace period before the process group is killed.",
	}, g.handlePythonTaskCancel)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "python_list_tasks",
		Description: "List all tracked tasks, newest first.",
		Annotations: readOnly,
	}, g.handlePythonListTasks)
}

func (g *Gateway) buildSpec(in pythonRunInput, timeout time.Duration) (taskreg.Spec, error) {
	if in.Script == "" {
		return taskreg.Spec{}, &fault.PathError{Path: "", Reason: "script is required", Err: fault.ErrInvalidPath}
	}
	spec := taskreg.Spec{Command: g.deps.PythonBin, Dir: in.Cwd, Timeout: timeout}

	// A script argument naming an existing file inside the sandbox is
	// executed as a file; anything else is treated as inline code.
	if res, err := g.deps.Guard.Resolve(in.Script, pathguard.CapRead); err == nil {
		if st, statErr := os.Stat(res.Path); statErr == nil && st.Mode().IsRegular() {
			spec.Args = append([]string{res.Path}, in.Args...)
			return spec, nil
		}
	}
	spec.Args = append([]string{"-c", in.Script}, in.Args...)
	return spec, nil
}

func (g *Gateway) handlePythonRun(ctx context.Context, _ *mcp.CallToolRequest, in pythonRunInput) (*mcp.CallToolResult, any, error) {
	timeout := g.deps.DefaultTaskTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	spec, err := g.buildSpec(in, timeout)
	if err != nil {
		return fail(err)
	}
	id, err := g.deps.Tasks.Spawn(spec)
	if err != nil {
		return fail(err)
	}
	snap, err := g.waitTask(ctx, id)
	if err != nil {
		return fail(err)
	}
	return ok(snap)
}

func (g *Gateway) handlePythonRunBackground(_ context.Context, _ *mcp.CallToolRequest, in pythonRunInput) (*mcp.CallToolResult, any, error) {
	var timeout time.Duration
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	spec, err := g.buildSpec(in, timeout)
	if err != nil {
		return fail(err)
	}
	id, err := g.deps.Tasks.Spawn(spec)
	if err != nil {
		return fail(err)
	}
	return ok(map[string]any{"task_id": id, "state": taskreg.StatePending})
}

func (g *Gateway) handlePythonTaskStatus(_ context.Context, _ *mcp.CallToolRequest, in taskIDInput) (*mcp.CallToolResult, any, error) {
	snap, err := g.deps.Tasks.Status(in.TaskID)
	if err != nil {
		return fail(err)
	}
	return ok(snap)
}

func (g *Gateway) handlePythonTaskCancel(_ context.Context, _ *mcp.CallToolRequest, in taskIDInput) (*mcp.CallToolResult, any, error) {
	if err := g.deps.Tasks.Cancel(in.TaskID); err != nil {
		return fail(err)
	}
	return ok(map[string]any{"task_id": in.TaskID, "cancelled": true})
}

func (g *Gateway) handlePythonListTasks(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	tasks := g.deps.Tasks.List()
	return ok(map[string]any{"tasks": tasks, "total": len(tasks)})
}

// waitTask blocks until the task reaches a terminal state or ctx ends.
func (g *Gateway) waitTask(ctx context.Context, taskID string) (taskreg.Snapshot, error) {
	changes, unsubscribe, err := g.deps.Tasks.Subscribe(taskID)
	if err != nil {
		return taskreg.Snapshot{}, err
	}
	defer unsubscribe()
	for {
		snap, err := g.deps.Tasks.Status(taskID)
		if err != nil {
			return taskreg.Snapshot{}, err
		}
		if taskreg.IsTerminal(snap.State) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return taskreg.Snapshot{}, fault.ErrTimeout
		case <-changes:
		}
	}
}
