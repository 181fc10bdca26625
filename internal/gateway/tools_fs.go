package gateway

import (
	"context"
	"encoding/base64"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"fsgate/internal/fault"
	"fsgate/internal/mutation"
	"fsgate/internal/sizeguard"
)

func boolPtr(b bool) *bool { return &b }

var (
	readOnly         = &mcp.ToolAnnotations{ReadOnlyHint: true}
	writeIdempotent  = &mcp.ToolAnnotations{DestructiveHint: boolPtr(false), IdempotentHint: true}
	writeDestructive = &mcp.ToolAnnotations{DestructiveHint: boolPtr(true)}
)

type listDirInput struct {
	Path      string `json:"path" jsonschema:"Directory to list, relative to the sandbox root"`
	Recursive bool   `json:"recursive,omitempty" jsonschema:"Descend into subdirectories"`
	Pattern   string `json:"pattern,omitempty" jsonschema:"Glob filter over relative paths (doublestar syntax)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum entries returned (default 100)"`
}

type createDirsInput struct {
	Paths   []string `json:"paths" jsonschema:"Directories to create"`
	Parents *bool    `json:"parents,omitempty" jsonschema:"Create missing intermediate directories (default true)"`
}

type readFileInput struct {
	Path       string `json:"path" jsonschema:"File to read"`
	OffsetMode string `json:"offset_mode,omitempty" jsonschema:"Range unit: line, byte, or codepoint (default line)"`
	Start      int    `json:"start,omitempty" jsonschema:"First unit of the window (0-based)"`
	Length     int    `json:"length,omitempty" jsonschema:"Units to read; omit or -1 for to end of file"`
	Encoding   string `json:"encoding,omitempty" jsonschema:"Text encoding of the file (IANA charset name, default utf-8); non-utf-8 content is transcoded to utf-8"`
}

type writeFileInput struct {
	Path    string `json:"path" jsonschema:"File to write; parent directories are created"`
	Content string `json:"content" jsonschema:"Content; base64 when mode is binary"`
	Mode    string `json:"mode,omitempty" jsonschema:"text (default) or binary"`
}

type modifyFileInput struct {
	Path        string `json:"path" jsonschema:"File to modify"`
	OffsetMode  string `json:"offset_mode,omitempty" jsonschema:"Range unit: line, byte, or codepoint (default line)"`
	RangeStart  int    `json:"range_start" jsonschema:"First unit of the replaced range (0-based, inclusive)"`
	RangeEnd    int    `json:"range_end" jsonschema:"End of the replaced range (exclusive)"`
	Replacement string `json:"replacement" jsonschema:"Replacement content"`
}

type replaceInFileInput struct {
	Path           string `json:"path" jsonschema:"File to edit"`
	Pattern        string `json:"pattern" jsonschema:"Pattern to find"`
	Replacement    string `json:"replacement" jsonschema:"Replacement text; regex mode supports $1 group references"`
	Mode           string `json:"mode,omitempty" jsonschema:"literal (default) or regex (RE2, leftmost-first)"`
	MaxOccurrences int    `json:"max_occurrences,omitempty" jsonschema:"Replace at most this many matches; 0 means all"`
}

type deletePathsInput struct {
	Paths     []string `json:"paths" jsonschema:"Paths to delete; each is validated independently"`
	Recursive bool     `json:"recursive,omitempty" jsonschema:"Delete directories recursively"`
}

func (g *Gateway) registerFilesystemTools() {
	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "list_dir",
		Description: "List directory contents inside the sandbox, optionally recursive and filtered by a glob pattern.",
		Annotations: readOnly,
	}, g.handleListDir)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "create_dirs",
		Description: "Create directories inside the sandbox, with missing parents unless parents is false. Returns a per-path result list.",
		Annotations: writeIdempotent,
	}, g.handleCreateDirs)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "read_from_file",
		Description: "Read a window of a file addressed by line, byte, or codepoint offsets. Binary files are addressed in bytes and returned base64-encoded. A declared non-utf-8 encoding is transcoded to utf-8.",
		Annotations: readOnly,
	}, g.handleReadFromFile)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "write_to_file",
		Description: "Replace a file's full content. Text content is validated before the write; the file is replaced atomically.",
		Annotations: writeIdempotent,
	}, g.handleWriteToFile)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "modify_file",
		Description: "Replace the half-open range [range_start, range_end) of a file, addressed by line, byte, or codepoint offsets. The file is untouched when the range is invalid or validation blocks.",
		Annotations: writeDestructive,
	}, g.handleModifyFile)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "replace_in_file",
		Description: "Replace pattern matches left-to-right, up to max_occurrences. Regex mode uses Go RE2 semantics (leftmost-first). Reports the count actually replaced.",
		Annotations: writeDestructive,
	}, g.handleReplaceInFile)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "delete_paths",
		Description: "Delete files or directories. Best-effort batch: each path is validated and deleted independently.",
		Annotations: writeDestructive,
	}, g.handleDeletePaths)
}

func (g *Gateway) handleListDir(_ context.Context, _ *mcp.CallToolRequest, in listDirInput) (*mcp.CallToolResult, any, error) {
	path := in.Path
	if path == "" {
		path = "."
	}
	res, err := g.deps.Engine.ListDir(path, in.Recursive, in.Pattern, in.Limit)
	if err != nil {
		return fail(err)
	}
	return ok(res)
}

func (g *Gateway) handleCreateDirs(_ context.Context, _ *mcp.CallToolRequest, in createDirsInput) (*mcp.CallToolResult, any, error) {
	if len(in.Paths) == 0 {
		return fail(&fault.PathError{Path: "", Reason: "paths is required", Err: fault.ErrInvalidPath})
	}
	parents := in.Parents == nil || *in.Parents
	return ok(map[string]any{"results": g.deps.Engine.CreateDirs(in.Paths, parents)})
}

func (g *Gateway) handleReadFromFile(_ context.Context, _ *mcp.CallToolRequest, in readFileInput) (*mcp.CallToolResult, any, error) {
	length := in.Length
	if length == 0 {
		length = -1
	}
	res, err := g.deps.Engine.Read(in.Path, offsetMode(in.OffsetMode), in.Start, length, in.Encoding)
	if err != nil {
		return fail(err)
	}
	payload := map[string]any{
		"path":        res.Path,
		"unit":        string(res.Unit),
		"class":       res.Class.String(),
		"total_units": res.TotalUnits,
	}
	if res.Class == sizeguard.ClassBinary {
		payload["content_base64"] = base64.StdEncoding.EncodeToString(res.Content)
	} else {
		payload["content"] = string(res.Content)
	}
	return ok(payload)
}

func (g *Gateway) handleWriteToFile(ctx context.Context, _ *mcp.CallToolRequest, in writeFileInput) (*mcp.CallToolResult, any, error) {
	content := []byte(in.Content)
	mode := mutation.WriteText
	if in.Mode == string(mutation.WriteBinary) {
		mode = mutation.WriteBinary
		decoded, err := base64.StdEncoding.DecodeString(in.Content)
		if err != nil {
			return fail(&fault.PathError{Path: in.Path, Reason: "content is not valid base64", Err: fault.ErrEncodingError})
		}
		content = decoded
	}
	res, err := g.deps.Engine.Write(ctx, in.Path, content, mode)
	if err != nil {
		return fail(err)
	}
	return ok(res)
}

func (g *Gateway) handleModifyFile(ctx context.Context, _ *mcp.CallToolRequest, in modifyFileInput) (*mcp.CallToolResult, any, error) {
	res, err := g.deps.Engine.Modify(ctx, in.Path, offsetMode(in.OffsetMode), in.RangeStart, in.RangeEnd, []byte(in.Replacement))
	if err != nil {
		return fail(err)
	}
	return ok(res)
}

func (g *Gateway) handleReplaceInFile(ctx context.Context, _ *mcp.CallToolRequest, in replaceInFileInput) (*mcp.CallToolResult, any, error) {
	mode := mutation.ReplaceLiteral
	if in.Mode == string(mutation.ReplaceRegex) {
		mode = mutation.ReplaceRegex
	}
	res, err := g.deps.Engine.Replace(ctx, in.Path, in.Pattern, in.Replacement, mode, in.MaxOccurrences)
	if err != nil {
		return fail(err)
	}
	return ok(res)
}

func (g *Gateway) handleDeletePaths(ctx context.Context, _ *mcp.CallToolRequest, in deletePathsInput) (*mcp.CallToolResult, any, error) {
	if len(in.Paths) == 0 {
		return fail(&fault.PathError{Path: "", Reason: "paths is required", Err: fault.ErrInvalidPath})
	}
	return ok(map[string]any{"results": g.deps.Engine.Delete(ctx, in.Paths, in.Recursive)})
}

func offsetMode(s string) mutation.OffsetMode {
	switch s {
	case string(mutation.OffsetByte):
		return mutation.OffsetByte
	case string(mutation.OffsetCodepoint):
		return mutation.OffsetCodepoint
	case "", string(mutation.OffsetLine):
		return mutation.OffsetLine
	}
	return mutation.OffsetMode(s) // engine rejects unknown modes
}
