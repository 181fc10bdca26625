package gateway

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"fsgate/internal/fault"
	"fsgate/internal/pathguard"
)

type readDocumentInput struct {
	Path string `json:"path" jsonschema:"Document to extract, resolved under the sandbox root"`
}

type analyzeImageInput struct {
	Path        string `json:"path" jsonschema:"Image to analyze, resolved under the sandbox root"`
	Instruction string `json:"instruction,omitempty" jsonschema:"What to look for in the image"`
}

func (g *Gateway) registerDocumentTools() {
	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "read_document",
		Description: "Extract structured text and metadata from a document (pdf, docx, ...). Degrades to file metadata when no extractor handles the format.",
		Annotations: readOnly,
	}, g.handleReadDocument)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        "analyze_image",
		Description: "Analyze an image with the configured vision backend. Degrades to file metadata when no backend is configured.",
		Annotations: readOnly,
	}, g.handleAnalyzeImage)
}

func (g *Gateway) handleReadDocument(ctx context.Context, _ *mcp.CallToolRequest, in readDocumentInput) (*mcp.CallToolResult, any, error) {
	res, err := g.deps.Guard.Resolve(in.Path, pathguard.CapRead)
	if err != nil {
		return fail(err)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(res.Path)), ".")
	if !g.deps.Extractor.Supports(ext) {
		return fail(&fault.PathError{Path: in.Path, Reason: "no extractor for ." + ext, Err: fault.ErrEncodingError})
	}
	doc, err := g.deps.Extractor.Extract(ctx, res.Path)
	if err != nil {
		return fail(fault.IO("extract", err))
	}
	return ok(doc)
}

func (g *Gateway) handleAnalyzeImage(ctx context.Context, _ *mcp.CallToolRequest, in analyzeImageInput) (*mcp.CallToolResult, any, error) {
	res, err := g.deps.Guard.Resolve(in.Path, pathguard.CapRead)
	if err != nil {
		return fail(err)
	}
	analysis, err := g.deps.Vision.Analyze(ctx, res.Path, in.Instruction)
	if err != nil {
		return fail(fault.IO("analyze", err))
	}
	return ok(analysis)
}
