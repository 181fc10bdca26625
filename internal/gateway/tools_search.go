package gateway

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"fsgate/internal/search"
)

type findPathsInput struct {
	Path           string   `json:"path,omitempty" jsonschema:"Traversal root, relative to the sandbox root (default the root itself)"`
	Keywords       []string `json:"keywords,omitempty" jsonschema:"Keywords matched against file content in a single pass"`
	Regex          bool     `json:"regex,omitempty" jsonschema:"Treat keywords as RE2 patterns instead of literals"`
	Pattern        string   `json:"pattern,omitempty" jsonschema:"Glob over relative paths (doublestar syntax, e.g. **/*.py)"`
	ContentPattern string   `json:"content_pattern,omitempty" jsonschema:"RE2 pattern matched against file content"`
	MaxResults     int      `json:"max_results,omitempty" jsonschema:"Stop after this many hits (default 1000)"`
}

func (g *Gateway) registerSearchTools() {
	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "find_paths",
		Description: "Search the sandboxed tree for files matching keywords, a path glob, and/or a content pattern. Hits are ordered by score (descending) then path (ascending); repeated identical searches over an unchanged tree return identical results.",
		Annotations: readOnly,
	}, g.handleFindPaths)
}

func (g *Gateway) handleFindPaths(ctx context.Context, _ *mcp.CallToolRequest, in findPathsInput) (*mcp.CallToolResult, any, error) {
	hits, err := g.deps.Search.Search(ctx, search.Query{
		Root:           in.Path,
		Keywords:       in.Keywords,
		RegexKeywords:  in.Regex,
		PathPattern:    in.Pattern,
		ContentPattern: in.ContentPattern,
		MaxResults:     in.MaxResults,
	})
	if err != nil {
		return fail(err)
	}
	return ok(map[string]any{
		"hits":        hits,
		"total_found": len(hits),
	})
}
