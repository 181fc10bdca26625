// Package gitrun is the thin pass-through to the version-control
// binary. The gateway validates the working directory through the path
// guard and hands over an allowlisted argument list; parsing, porcelain
// formats and repository semantics stay the binary's problem.
package gitrun

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"fsgate/internal/fault"
	"fsgate/internal/pathguard"
)

// Runner executes one version-control invocation in a validated
// working directory and returns the raw output.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (Output, error)
}

// Output is the raw result of one invocation.
type Output struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ExecRunner shells out to the configured binary.
type ExecRunner struct {
	guard   *pathguard.Guard
	binary  string
	timeout time.Duration
}

func NewExecRunner(guard *pathguard.Guard, binary string, timeout time.Duration) *ExecRunner {
	if binary == "" {
		binary = "git"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExecRunner{guard: guard, binary: binary, timeout: timeout}
}

// subcommands the gateway exposes; anything else is rejected before the
// binary is ever invoked.
var allowedSubcommands = map[string]struct{}{
	"status": {},
	"diff":   {},
	"log":    {},
}

// Allowed reports whether sub may be passed through.
func Allowed(sub string) bool {
	_, ok := allowedSubcommands[sub]
	return ok
}

func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) (Output, error) {
	if len(args) == 0 || !Allowed(args[0]) {
		return Output{}, &fault.PathError{Path: r.binary, Reason: "subcommand not allowed", Err: fault.ErrInvalidPath}
	}
	res, err := r.guard.Resolve(dir, pathguard.CapRead)
	if err != nil {
		return Output{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.binary, args...)
	cmd.Dir = res.Path
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return out, fault.ErrTimeout
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			// Non-zero exit is data, not a transport failure.
			return out, nil
		}
		return out, fault.IO("exec "+r.binary, err)
	}
	return out, nil
}
