package gateway

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"fsgate/internal/fault"
	"fsgate/internal/mutation"
	"fsgate/internal/validator"
)

// envelope is the uniform tool response: status plus either payload or
// a structured error with one of the enumerated kinds.
type envelope struct {
	Status  string         `json:"status"`
	Payload any            `json:"payload,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Kind        string                 `json:"kind"`
	Message     string                 `json:"message"`
	Diagnostics []validator.Diagnostic `json:"diagnostics,omitempty"`
}

func ok(payload any) (*mcp.CallToolResult, any, error) {
	return render(envelope{Status: "ok", Payload: payload})
}

func fail(err error) (*mcp.CallToolResult, any, error) {
	env := envelope{
		Status: "error",
		Error: &envelopeError{
			Kind:        string(fault.KindOf(err)),
			Message:     fault.Message(err),
			Diagnostics: mutation.Diagnostics(err),
		},
	}
	res, out, _ := render(env)
	res.IsError = true
	return res, out, nil
}

func render(env envelope) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(env)
	if err != nil {
		data = []byte(`{"status":"error","error":{"kind":"internal_io","message":"response marshal failed"}}`)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, env, nil
}
