// Package taskstream serves live task output over websocket. The HTTP
// status snapshot is a bounded trailing window; a stream subscription
// is the way to watch output as it happens without polling.
package taskstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"fsgate/internal/fault"
	"fsgate/internal/taskreg"
)

// Hub upgrades /ws/tasks/{id} requests and pushes task snapshots on
// every state or output change until the task reaches a terminal state.
type Hub struct {
	registry *taskreg.Registry
	log      *slog.Logger
}

func NewHub(registry *taskreg.Registry, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{registry: registry, log: log}
}

type event struct {
	Type string           `json:"type"`
	Task taskreg.Snapshot `json:"task"`
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	changes, unsubscribe, err := h.registry.Subscribe(taskID)
	if err != nil {
		http.Error(w, fault.Message(err), http.StatusNotFound)
		return
	}
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()

	// Reader goroutine: we never expect client frames, but reading is
	// what surfaces the close.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	if !h.push(ctx, conn, taskID) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if !h.push(ctx, conn, taskID) {
				return
			}
		}
	}
}

// push sends the current snapshot; returns false when the stream is
// done (task terminal, task gone, or the write failed).
func (h *Hub) push(ctx context.Context, conn *websocket.Conn, taskID string) bool {
	snap, err := h.registry.Status(taskID)
	if err != nil {
		return false
	}
	msg, err := json.Marshal(event{Type: "task_update", Task: snap})
	if err != nil {
		return false
	}
	writeCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	err = conn.Write(writeCtx, websocket.MessageText, msg)
	cancel()
	if err != nil {
		return false
	}
	return !taskreg.IsTerminal(snap.State)
}
