// Package taskreg tracks spawned script executions. Each task runs in
// its own process group; the registry only ever observes it, signals it
// cooperatively, and escalates to a group kill after a grace period.
// State transitions are one-directional and nothing leaves a terminal
// state.
package taskreg

import (
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fsgate/internal/fault"
	"fsgate/internal/pathguard"
)

// Task states. Pending→Running→{Completed|Failed|Cancelled|TimedOut}.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
	StateTimedOut  = "timed_out"
)

// IsTerminal reports whether state admits no further transitions.
func IsTerminal(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// Spec describes one execution.
type Spec struct {
	Command string
	Args    []string
	Dir     string // raw path, resolved under the sandbox root at spawn
	Timeout time.Duration
}

// Snapshot is the caller-visible view of a task. Stdout/Stderr are
// bounded trailing windows; Truncated flags signal evicted output.
type Snapshot struct {
	TaskID          string    `json:"task_id"`
	Command         string    `json:"command"`
	Dir             string    `json:"dir"`
	State           string    `json:"state"`
	ExitCode        int       `json:"exit_code"`
	Stdout          string    `json:"stdout"`
	StdoutTruncated bool      `json:"stdout_truncated,omitempty"`
	Stderr          string    `json:"stderr"`
	StderrTruncated bool      `json:"stderr_truncated,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	EndedAt         time.Time `json:"ended_at,omitzero"`
	Error           string    `json:"error,omitempty"`
}

// Ledger persists task transitions. Implementations must tolerate
// repeated upserts for the same task id.
type Ledger interface {
	Record(snap Snapshot) error
}

// Config tunes the registry.
type Config struct {
	OutputWindow int           // ring buffer capacity per stream
	GracePeriod  time.Duration // SIGTERM→SIGKILL escalation delay
	Retention    time.Duration // terminal tasks older than this are swept
	SweepEvery   time.Duration
}

func (c Config) withDefaults() Config {
	if c.OutputWindow <= 0 {
		c.OutputWindow = 64 * 1024
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = time.Minute
	}
	return c
}

type task struct {
	mu        sync.Mutex
	id        string
	spec      Spec
	dir       string // resolved
	state     string
	exitCode  int
	errMsg    string
	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
	stdout    *ringBuffer
	stderr    *ringBuffer

	cancelOnce sync.Once
	cancelCh   chan struct{}

	subsMu sync.Mutex
	subs   []chan struct{}
}

// Registry owns the task map. A single mutex guards registration and
// lookup; each task's execution runs in its own goroutine and process.
type Registry struct {
	mu     sync.Mutex
	tasks  map[string]*task
	guard  *pathguard.Guard
	cfg    Config
	ledger Ledger
	log    *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func New(guard *pathguard.Guard, cfg Config, ledger Ledger, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		tasks:  map[string]*task{},
		guard:  guard,
		cfg:    cfg.withDefaults(),
		ledger: ledger,
		log:    log,
		closed: make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Close stops the sweeper and force-terminates every non-terminal task.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
	for _, snap := range r.List() {
		if !IsTerminal(snap.State) {
			_ = r.Cancel(snap.TaskID)
		}
	}
}

// Spawn validates the working directory, registers a pending task, and
// starts it. Task ids are uuids and never reused.
func (r *Registry) Spawn(spec Spec) (string, error) {
	dir := spec.Dir
	if dir == "" {
		dir = r.guard.Root()
	}
	res, err := r.guard.Resolve(dir, pathguard.CapRead)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(res.Path)
	if err != nil || !st.IsDir() {
		return "", &fault.PathError{Path: spec.Dir, Reason: "working directory must exist", Err: fault.ErrInvalidPath}
	}
	if spec.Command == "" {
		return "", &fault.PathError{Path: "", Reason: "command is required", Err: fault.ErrInvalidPath}
	}

	t := &task{
		id:        uuid.NewString(),
		spec:      spec,
		dir:       res.Path,
		state:     StatePending,
		exitCode:  -1,
		createdAt: time.Now().UTC(),
		stdout:    newRingBuffer(r.cfg.OutputWindow),
		stderr:    newRingBuffer(r.cfg.OutputWindow),
		cancelCh:  make(chan struct{}),
	}
	r.mu.Lock()
	r.tasks[t.id] = t
	r.mu.Unlock()
	r.persist(t)

	go r.run(t)
	return t.id, nil
}

// Status returns the current snapshot of one task.
func (r *Registry) Status(taskID string) (Snapshot, error) {
	t := r.find(taskID)
	if t == nil {
		return Snapshot{}, fault.ErrTaskNotFound
	}
	return t.snapshot(), nil
}

// Cancel sets the cooperative cancellation signal. The execution gets
// the grace period to exit after SIGTERM before the group is killed.
func (r *Registry) Cancel(taskID string) error {
	t := r.find(taskID)
	if t == nil {
		return fault.ErrTaskNotFound
	}
	t.mu.Lock()
	terminal := IsTerminal(t.state)
	t.mu.Unlock()
	if terminal {
		return fault.ErrTaskAlreadyTerminal
	}
	t.cancelOnce.Do(func() { close(t.cancelCh) })
	return nil
}

// Remove drops a terminal task from the registry.
func (r *Registry) Remove(taskID string) error {
	t := r.find(taskID)
	if t == nil {
		return fault.ErrTaskNotFound
	}
	t.mu.Lock()
	terminal := IsTerminal(t.state)
	t.mu.Unlock()
	if !terminal {
		return fault.ErrTaskNotTerminal
	}
	r.mu.Lock()
	delete(r.tasks, taskID)
	r.mu.Unlock()
	return nil
}

// List returns a snapshot of every tracked task, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	all := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		all = append(all, t)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(all))
	for _, t := range all {
		out = append(out, t.snapshot())
	}
	sortSnapshots(out)
	return out
}

// Subscribe returns a channel pulsed on every state or output change of
// the task, for live streaming. The second return unsubscribes.
func (r *Registry) Subscribe(taskID string) (<-chan struct{}, func(), error) {
	t := r.find(taskID)
	if t == nil {
		return nil, nil, fault.ErrTaskNotFound
	}
	ch := make(chan struct{}, 1)
	t.subsMu.Lock()
	t.subs = append(t.subs, ch)
	t.subsMu.Unlock()
	cancel := func() {
		t.subsMu.Lock()
		for i, c := range t.subs {
			if c == ch {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				break
			}
		}
		t.subsMu.Unlock()
	}
	return ch, cancel, nil
}

func (r *Registry) find(taskID string) *task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[taskID]
}

func (r *Registry) run(t *task) {
	cmd := exec.Command(t.spec.Command, t.spec.Args...)
	cmd.Dir = t.dir
	cmd.Stdout = &notifyWriter{w: t.stdout, t: t}
	cmd.Stderr = &notifyWriter{w: t.stderr, t: t}
	setupProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		r.transition(t, StateFailed, -1, "start failed: "+err.Error())
		return
	}
	r.transition(t, StateRunning, -1, "")

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if t.spec.Timeout > 0 {
		timer := time.NewTimer(t.spec.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-waitDone:
		code := cmd.ProcessState.ExitCode()
		if err == nil {
			r.transition(t, StateCompleted, code, "")
		} else {
			r.transition(t, StateFailed, code, err.Error())
		}
	case <-timeoutCh:
		_ = signalGroup(cmd, killSignal())
		<-waitDone
		r.transition(t, StateTimedOut, cmd.ProcessState.ExitCode(), "timed out")
	case <-t.cancelCh:
		_ = signalGroup(cmd, termSignal())
		select {
		case <-waitDone:
		case <-time.After(r.cfg.GracePeriod):
			_ = signalGroup(cmd, killSignal())
			<-waitDone
		}
		r.transition(t, StateCancelled, cmd.ProcessState.ExitCode(), "cancelled")
	}
}

// transition applies a monotonic state change; terminal states stick.
func (r *Registry) transition(t *task, state string, exitCode int, errMsg string) {
	t.mu.Lock()
	if IsTerminal(t.state) {
		t.mu.Unlock()
		return
	}
	t.state = state
	now := time.Now().UTC()
	switch {
	case state == StateRunning:
		t.startedAt = now
	case IsTerminal(state):
		t.endedAt = now
		t.exitCode = exitCode
		t.errMsg = errMsg
	}
	t.mu.Unlock()

	r.persist(t)
	t.notify()
	r.log.Info("task state", "task_id", t.id, "state", state, "exit_code", exitCode)
}

func (r *Registry) persist(t *task) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.Record(t.snapshot()); err != nil {
		r.log.Warn("task ledger write failed", "task_id", t.id, "error", err)
	}
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.closed:
			return
		case <-ticker.C:
			r.sweep(time.Now().UTC())
		}
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tasks {
		t.mu.Lock()
		expired := IsTerminal(t.state) && !t.endedAt.IsZero() && now.Sub(t.endedAt) > r.cfg.Retention
		t.mu.Unlock()
		if expired {
			delete(r.tasks, id)
		}
	}
}

func (t *task) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	stdout, outTrunc := t.stdout.Snapshot()
	stderr, errTrunc := t.stderr.Snapshot()
	return Snapshot{
		TaskID:          t.id,
		Command:         commandLine(t.spec),
		Dir:             t.dir,
		State:           t.state,
		ExitCode:        t.exitCode,
		Stdout:          string(stdout),
		StdoutTruncated: outTrunc,
		Stderr:          string(stderr),
		StderrTruncated: errTrunc,
		CreatedAt:       t.createdAt,
		StartedAt:       t.startedAt,
		EndedAt:         t.endedAt,
		Error:           t.errMsg,
	}
}

func (t *task) notify() {
	t.subsMu.Lock()
	for _, ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	t.subsMu.Unlock()
}

// notifyWriter pulses subscribers whenever output arrives.
type notifyWriter struct {
	w *ringBuffer
	t *task
}

func (n *notifyWriter) Write(p []byte) (int, error) {
	c, err := n.w.Write(p)
	n.t.notify()
	return c, err
}

func commandLine(spec Spec) string {
	line := spec.Command
	for _, a := range spec.Args {
		line += " " + a
	}
	return line
}

func sortSnapshots(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
		}
		return snaps[i].TaskID < snaps[j].TaskID
	})
}
