//go:build unix

package taskreg

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fsgate/internal/fault"
	"fsgate/internal/logging"
	"fsgate/internal/pathguard"
)

type memLedger struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *memLedger) Record(snap Snapshot) error {
	l.mu.Lock()
	l.snaps = append(l.snaps, snap)
	l.mu.Unlock()
	return nil
}

func (l *memLedger) last() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snaps[len(l.snaps)-1]
}

func newTestRegistry(t *testing.T) (*Registry, *memLedger) {
	t.Helper()
	guard, err := pathguard.New(t.TempDir(), nil, 0)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	ledger := &memLedger{}
	r := New(guard, Config{GracePeriod: 200 * time.Millisecond}, ledger, logging.NewNop())
	t.Cleanup(r.Close)
	return r, ledger
}

func shell(script string) Spec {
	return Spec{Command: "/bin/sh", Args: []string{"-c", script}}
}

func waitTerminal(t *testing.T, r *Registry, id string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := r.Status(id)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if IsTerminal(snap.State) {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", id)
	return Snapshot{}
}

func TestSpawn_CompletesWithOutput(t *testing.T) {
	r, ledger := newTestRegistry(t)
	id, err := r.Spawn(shell("echo out; echo err 1>&2"))
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	snap := waitTerminal(t, r, id)
	if snap.State != StateCompleted || snap.ExitCode != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !strings.Contains(snap.Stdout, "out") || !strings.Contains(snap.Stderr, "err") {
		t.Fatalf("stdout=%q stderr=%q", snap.Stdout, snap.Stderr)
	}
	if snap.StartedAt.IsZero() || snap.EndedAt.IsZero() {
		t.Fatalf("timestamps missing: %+v", snap)
	}
	if last := ledger.last(); last.State != StateCompleted {
		t.Fatalf("ledger last state = %q", last.State)
	}
}

func TestSpawn_NonZeroExitFails(t *testing.T) {
	r, _ := newTestRegistry(t)
	id, err := r.Spawn(shell("exit 3"))
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	snap := waitTerminal(t, r, id)
	if snap.State != StateFailed || snap.ExitCode != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSpawn_TimeoutKillsGroup(t *testing.T) {
	r, _ := newTestRegistry(t)
	spec := shell("sleep 30")
	spec.Timeout = 100 * time.Millisecond
	id, err := r.Spawn(spec)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	start := time.Now()
	snap := waitTerminal(t, r, id)
	if snap.State != StateTimedOut {
		t.Fatalf("state = %q, want timed_out", snap.State)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestCancel_GraceThenKill(t *testing.T) {
	r, _ := newTestRegistry(t)
	// Traps the termination signal, forcing the grace escalation.
	id, err := r.Spawn(shell(`trap "" TERM; sleep 30`))
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	// Let it reach running before cancelling.
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, _ := r.Status(id)
		if snap.State == StateRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := r.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	snap := waitTerminal(t, r, id)
	if snap.State != StateCancelled {
		t.Fatalf("state = %q, want cancelled", snap.State)
	}
	if err := r.Cancel(id); !errors.Is(err, fault.ErrTaskAlreadyTerminal) {
		t.Fatalf("second cancel err = %v, want ErrTaskAlreadyTerminal", err)
	}
}

func TestStatus_UnknownTask(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Status("nope"); !errors.Is(err, fault.ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
	if err := r.Cancel("nope"); !errors.Is(err, fault.ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestSpawn_Validation(t *testing.T) {
	r, _ := newTestRegistry(t)
	spec := shell("true")
	spec.Dir = "does/not/exist"
	if _, err := r.Spawn(spec); !errors.Is(err, fault.ErrInvalidPath) {
		t.Fatalf("missing dir err = %v, want ErrInvalidPath", err)
	}
	spec = shell("true")
	spec.Dir = "../outside"
	if _, err := r.Spawn(spec); !errors.Is(err, fault.ErrOutsideSandbox) {
		t.Fatalf("escaping dir err = %v, want ErrOutsideSandbox", err)
	}
	if _, err := r.Spawn(Spec{}); !errors.Is(err, fault.ErrInvalidPath) {
		t.Fatalf("empty command err = %v, want ErrInvalidPath", err)
	}
}

func TestList_NewestFirstWithUniqueIDs(t *testing.T) {
	r, _ := newTestRegistry(t)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		id, err := r.Spawn(shell("true"))
		if err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("task id %s reused", id)
		}
		seen[id] = true
		waitTerminal(t, r, id)
	}
	snaps := r.List()
	if len(snaps) != 5 {
		t.Fatalf("len = %d, want 5", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].CreatedAt.After(snaps[i-1].CreatedAt) {
			t.Fatalf("list not newest-first at index %d", i)
		}
	}
}

func TestRemove_OnlyTerminal(t *testing.T) {
	r, _ := newTestRegistry(t)
	id, err := r.Spawn(shell("sleep 30"))
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := r.Remove(id); !errors.Is(err, fault.ErrTaskNotTerminal) {
		t.Fatalf("removing a live task err = %v", err)
	}
	if got := fault.KindOf(fault.ErrTaskNotTerminal); got != fault.KindInvalidPath {
		t.Fatalf("live-task removal kind = %q, want invalid argument", got)
	}
	if err := r.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitTerminal(t, r, id)
	if err := r.Remove(id); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := r.Status(id); !errors.Is(err, fault.ErrTaskNotFound) {
		t.Fatalf("removed task still present")
	}
}

func TestSubscribe_PulsesOnTransitions(t *testing.T) {
	r, _ := newTestRegistry(t)
	id, err := r.Spawn(shell("echo tick"))
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	ch, unsubscribe, err := r.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()

	deadline := time.After(10 * time.Second)
	for {
		snap, err := r.Status(id)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if IsTerminal(snap.State) {
			return
		}
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("no pulse before terminal state")
		}
	}
}

func TestSweep_DropsExpiredTerminalTasks(t *testing.T) {
	r, _ := newTestRegistry(t)
	id, err := r.Spawn(shell("true"))
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	waitTerminal(t, r, id)

	r.sweep(time.Now().UTC().Add(2 * time.Hour))
	if _, err := r.Status(id); !errors.Is(err, fault.ErrTaskNotFound) {
		t.Fatalf("expired terminal task survived the sweep")
	}
}
