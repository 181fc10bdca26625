//go:build unix

package taskstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"fsgate/internal/logging"
	"fsgate/internal/pathguard"
	"fsgate/internal/taskreg"
)

func newHubServer(t *testing.T) (*taskreg.Registry, *httptest.Server) {
	t.Helper()
	guard, err := pathguard.New(t.TempDir(), nil, 0)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	registry := taskreg.New(guard, taskreg.Config{}, nil, logging.NewNop())
	t.Cleanup(registry.Close)

	hub := NewHub(registry, logging.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/tasks/{id}", hub.HandleWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return registry, ts
}

func TestHandleWS_StreamsUntilTerminal(t *testing.T) {
	registry, ts := newHubServer(t)
	id, err := registry.Spawn(taskreg.Spec{Command: "/bin/sh", Args: []string{"-c", "echo live; sleep 0.1; echo done"}})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/tasks/" + id
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var last event
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			break // server closes once the task is terminal
		}
		var evt event
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("decode event failed: %v", err)
		}
		if evt.Type != "task_update" || evt.Task.TaskID != id {
			t.Fatalf("unexpected event: %+v", evt)
		}
		last = evt
		if taskreg.IsTerminal(evt.Task.State) {
			break
		}
	}
	if last.Task.State != taskreg.StateCompleted {
		t.Fatalf("final state = %q, want completed", last.Task.State)
	}
	if !strings.Contains(last.Task.Stdout, "done") {
		t.Fatalf("stdout = %q", last.Task.Stdout)
	}
}

func TestHandleWS_UnknownTask(t *testing.T) {
	_, ts := newHubServer(t)
	resp, err := http.Get(ts.URL + "/ws/tasks/ghost")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
