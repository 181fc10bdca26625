package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"fsgate/internal/fault"
)

// slowCheck blocks until its context is done.
type slowCheck struct{}

func (slowCheck) Name() string { return "slow" }

func (slowCheck) Check(ctx context.Context, _ string, _ []byte) []Diagnostic {
	<-ctx.Done()
	return nil
}

func TestValidate_CleanContent(t *testing.T) {
	v := New(Config{})
	res, err := v.Validate(context.Background(), "a.txt", []byte("fine\n"), 0)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Blocking || res.TimedOut || len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestValidate_ErrorBlocks(t *testing.T) {
	v := New(Config{})
	content := []byte("<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> branch\n")
	res, err := v.Validate(context.Background(), "a.txt", content, 0)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !res.Blocking {
		t.Fatalf("conflict markers should block: %+v", res)
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %d, want 2", len(res.Diagnostics))
	}
	if res.Diagnostics[0].Line != 1 || res.Diagnostics[1].Line != 5 {
		t.Fatalf("lines = %d,%d want 1,5", res.Diagnostics[0].Line, res.Diagnostics[1].Line)
	}
}

func TestValidate_WarningDoesNotBlock(t *testing.T) {
	v := New(Config{}, LongLineCheck{Limit: 4})
	res, err := v.Validate(context.Background(), "a.txt", []byte("longer than four\n"), 0)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Blocking {
		t.Fatalf("warning must not block: %+v", res)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Severity != SeverityWarning {
		t.Fatalf("unexpected diagnostics: %+v", res.Diagnostics)
	}
}

func TestValidate_JSONOnlyForJSONFiles(t *testing.T) {
	v := New(Config{}, JSONSyntaxCheck{})
	bad := []byte("{not json")
	if res, _ := v.Validate(context.Background(), "cfg.json", bad, 0); !res.Blocking {
		t.Fatalf("invalid .json should block")
	}
	if res, _ := v.Validate(context.Background(), "notes.txt", bad, 0); res.Blocking {
		t.Fatalf("non-json path must skip the json check")
	}
}

func TestValidate_TimeoutFailsSafe(t *testing.T) {
	v := New(Config{CheckTimeout: 20 * time.Millisecond}, slowCheck{})
	res, err := v.Validate(context.Background(), "a.txt", []byte("x"), 0)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !res.TimedOut || !res.Blocking {
		t.Fatalf("timeout must block: %+v", res)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Check != "pipeline" {
		t.Fatalf("unexpected diagnostics: %+v", res.Diagnostics)
	}
}

func TestValidate_BusyWhenPoolExhausted(t *testing.T) {
	v := New(Config{MaxWorkers: 1, AcquireTimeout: 20 * time.Millisecond, CheckTimeout: time.Second}, slowCheck{})

	started := make(chan struct{})
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		close(started)
		v.Validate(ctx, "a.txt", []byte("x"), time.Second)
		close(done)
	}()
	<-started
	time.Sleep(5 * time.Millisecond) // let the goroutine take the only slot

	if _, err := v.Validate(context.Background(), "b.txt", []byte("y"), 0); !errors.Is(err, fault.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	cancel()
	<-done
}

// gateCheck blocks on hold.txt until released; other paths pass.
type gateCheck struct {
	release chan struct{}
}

func (gateCheck) Name() string { return "gate" }

func (g gateCheck) Check(ctx context.Context, path string, _ []byte) []Diagnostic {
	if path == "hold.txt" {
		select {
		case <-g.release:
		case <-ctx.Done():
		}
	}
	return nil
}

func TestValidate_BurstBeyondResidentWorkers(t *testing.T) {
	release := make(chan struct{})
	v := New(Config{MinWorkers: 1, MaxWorkers: 2, AcquireTimeout: 50 * time.Millisecond, CheckTimeout: time.Second}, gateCheck{release: release})
	defer v.Close()

	done := make(chan struct{})
	go func() {
		v.Validate(context.Background(), "hold.txt", []byte("x"), time.Second)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond) // let the resident worker pick up the held run

	// The single resident worker is occupied; the second run must still
	// get through on the remaining burst capacity.
	res, err := v.Validate(context.Background(), "b.txt", []byte("y"), 0)
	if err != nil {
		t.Fatalf("burst Validate failed: %v", err)
	}
	if res.Blocking {
		t.Fatalf("unexpected result: %+v", res)
	}
	close(release)
	<-done
}

func TestValidate_UTF8SkipsBinary(t *testing.T) {
	v := New(Config{}, UTF8Check{})
	// A NUL byte classifies the content binary, so the UTF-8 check is moot.
	res, err := v.Validate(context.Background(), "blob.bin", []byte{0, 0xff, 0xfe}, 0)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Blocking {
		t.Fatalf("binary content must not fail the utf8 check: %+v", res)
	}
}
