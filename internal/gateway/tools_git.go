package gateway

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type gitInput struct {
	Cwd  string   `json:"cwd,omitempty" jsonschema:"Repository directory, resolved under the sandbox root (default the root)"`
	Args []string `json:"args,omitempty" jsonschema:"Extra arguments appended after the subcommand"`
}

func (g *Gateway) registerGitTools() {
	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "git_status",
		Description: "Run git status in a sandboxed repository directory and return the raw output.",
		Annotations: readOnly,
	}, g.gitHandler("status"))

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "git_diff",
		Description: "Run git diff in a sandboxed repository directory. Pass refs or paths via args.",
		Annotations: readOnly,
	}, g.gitHandler("diff"))

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "git_log",
		Description: "Run git log in a sandboxed repository directory. Pass range and format flags via args.",
		Annotations: readOnly,
	}, g.gitHandler("log"))
}

func (g *Gateway) gitHandler(sub string) func(context.Context, *mcp.CallToolRequest, gitInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in gitInput) (*mcp.CallToolResult, any, error) {
		dir := in.Cwd
		if dir == "" {
			dir = g.deps.Guard.Root()
		}
		out, err := g.deps.Git.Run(ctx, dir, append([]string{sub}, in.Args...)...)
		if err != nil {
			return fail(err)
		}
		return ok(out)
	}
}
