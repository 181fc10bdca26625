package gateway

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"fsgate/internal/fault"
)

func decodeEnvelope(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content items = %d, want 1", len(res.Content))
	}
	text, okCast := res.Content[0].(*mcp.TextContent)
	if !okCast {
		t.Fatalf("content type %T, want TextContent", res.Content[0])
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(text.Text), &m); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	return m
}

func TestOK_Envelope(t *testing.T) {
	res, _, err := ok(map[string]any{"answer": 42})
	if err != nil {
		t.Fatalf("ok returned error: %v", err)
	}
	if res.IsError {
		t.Fatalf("ok result flagged as error")
	}
	m := decodeEnvelope(t, res)
	if m["status"] != "ok" {
		t.Fatalf("status = %v", m["status"])
	}
	payload, _ := m["payload"].(map[string]any)
	if payload["answer"] != float64(42) {
		t.Fatalf("payload = %v", m["payload"])
	}
	if _, present := m["error"]; present {
		t.Fatalf("ok envelope must not carry an error")
	}
}

func TestFail_CarriesKindAndMessage(t *testing.T) {
	res, _, err := fail(&fault.PathError{Path: "../x", Err: fault.ErrOutsideSandbox})
	if err != nil {
		t.Fatalf("fail returned transport error: %v", err)
	}
	if !res.IsError {
		t.Fatalf("fail result not flagged as error")
	}
	m := decodeEnvelope(t, res)
	if m["status"] != "error" {
		t.Fatalf("status = %v", m["status"])
	}
	e, _ := m["error"].(map[string]any)
	if e["kind"] != "outside_sandbox" {
		t.Fatalf("kind = %v", e["kind"])
	}
	if e["message"] == "" {
		t.Fatalf("empty message")
	}
}

func TestFail_UnknownErrorMapsToInternalIO(t *testing.T) {
	res, _, _ := fail(json.Unmarshal([]byte("{"), &struct{}{}))
	m := decodeEnvelope(t, res)
	e, _ := m["error"].(map[string]any)
	if e["kind"] != "internal_io" {
		t.Fatalf("kind = %v", e["kind"])
	}
}

func TestFail_InternalIOHidesOSError(t *testing.T) {
	cause := errors.New("remove /var/tmp/TestScratch123/full: directory not empty")
	res, _, _ := fail(fault.IO("remove", cause))
	m := decodeEnvelope(t, res)
	e, _ := m["error"].(map[string]any)
	if e["kind"] != "internal_io" {
		t.Fatalf("kind = %v", e["kind"])
	}
	msg, _ := e["message"].(string)
	if msg != "fsgate: internal io failure: remove" {
		t.Fatalf("message = %q", msg)
	}
	if strings.Contains(msg, "/var/tmp") || strings.Contains(msg, "directory not empty") {
		t.Fatalf("low-level detail leaked: %q", msg)
	}
}
