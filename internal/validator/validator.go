// Package validator runs bounded-time policy checks on proposed file
// content before it is committed to disk. Checks operate purely on the
// in-memory content plus path metadata and never touch the target file,
// so a cancelled or timed-out run has no side effects.
package validator

import (
	"context"
	"time"

	"fsgate/internal/fault"
)

// Severity of a single diagnostic.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic is one finding from a check.
type Diagnostic struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"` // 1-based, 0 when not line-scoped
}

// Result of a validation run. Blocking is true iff any diagnostic is an
// error, or the run timed out (fail-safe: the write is blocked).
type Result struct {
	Blocking    bool         `json:"blocking"`
	TimedOut    bool         `json:"timed_out"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Check inspects proposed content for one concern. Implementations must
// honor ctx between units of work.
type Check interface {
	Name() string
	Check(ctx context.Context, path string, content []byte) []Diagnostic
}

// Config sizes the worker pool. MinWorkers resident workers are kept
// running; MaxWorkers caps total concurrent runs.
type Config struct {
	MinWorkers     int
	MaxWorkers     int
	AcquireTimeout time.Duration
	CheckTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.MinWorkers <= 0 || c.MinWorkers > c.MaxWorkers {
		c.MinWorkers = 1
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 2 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 10 * time.Second
	}
	return c
}

// Validator runs a configured pipeline of checks on a bounded pool:
// MinWorkers resident workers serve a handoff channel, and up to
// MaxWorkers-MinWorkers additional runs execute on the caller's
// goroutine against burst slots. If neither frees up within the
// acquire timeout the call fails Busy instead of queuing, keeping
// tail latency bounded under load.
type Validator struct {
	cfg    Config
	checks []Check
	jobs   chan job
	burst  chan struct{}
}

type job struct {
	ctx     context.Context
	path    string
	content []byte
	timeout time.Duration
	done    chan outcome
}

type outcome struct {
	res Result
	err error
}

func New(cfg Config, checks ...Check) *Validator {
	cfg = cfg.withDefaults()
	if len(checks) == 0 {
		checks = DefaultChecks()
	}
	v := &Validator{
		cfg:    cfg,
		checks: checks,
		jobs:   make(chan job),
		burst:  make(chan struct{}, cfg.MaxWorkers-cfg.MinWorkers),
	}
	for i := 0; i < cfg.MinWorkers; i++ {
		go v.worker()
	}
	return v
}

func (v *Validator) worker() {
	for j := range v.jobs {
		j.done <- v.run(j.ctx, j.path, j.content, j.timeout)
	}
}

// Close stops the resident workers. In-flight runs finish.
func (v *Validator) Close() { close(v.jobs) }

// Validate runs the pipeline within timeout (the configured check
// timeout when zero). On timeout the result blocks the write with a
// single synthetic diagnostic rather than failing open.
func (v *Validator) Validate(ctx context.Context, path string, content []byte, timeout time.Duration) (Result, error) {
	acquire := time.NewTimer(v.cfg.AcquireTimeout)
	defer acquire.Stop()
	j := job{ctx: ctx, path: path, content: content, timeout: timeout, done: make(chan outcome, 1)}
	select {
	case v.jobs <- j:
		out := <-j.done
		return out.res, out.err
	case v.burst <- struct{}{}:
		defer func() { <-v.burst }()
		out := v.run(ctx, path, content, timeout)
		return out.res, out.err
	case <-acquire.C:
		return Result{}, fault.ErrBusy
	case <-ctx.Done():
		return Result{}, fault.ErrTimeout
	}
}

func (v *Validator) run(ctx context.Context, path string, content []byte, timeout time.Duration) outcome {
	if timeout <= 0 {
		timeout = v.cfg.CheckTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var diags []Diagnostic
	for _, check := range v.checks {
		// Safe point: give up between checks once the deadline passes.
		if runCtx.Err() != nil {
			return outcome{res: timedOutResult()}
		}
		diags = append(diags, check.Check(runCtx, path, content)...)
	}
	if runCtx.Err() != nil {
		return outcome{res: timedOutResult()}
	}

	res := Result{Diagnostics: diags}
	for _, d := range diags {
		if d.Severity == SeverityError {
			res.Blocking = true
			break
		}
	}
	return outcome{res: res}
}

func timedOutResult() Result {
	return Result{
		Blocking: true,
		TimedOut: true,
		Diagnostics: []Diagnostic{{
			Check:    "pipeline",
			Severity: SeverityError,
			Message:  "validation timed out",
		}},
	}
}
