// Package extract declares the interfaces for format-specific document
// extraction and external vision analysis. Both are collaborators the
// gateway consumes, not components it implements; the stock wiring is
// the metadata-only fallback.
package extract

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Document is a structured extraction payload.
type Document struct {
	Path     string            `json:"path"`
	Format   string            `json:"format"`
	Text     string            `json:"text,omitempty"`
	Pages    int               `json:"pages,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DocumentExtractor turns a validated file path into a structured
// document payload.
type DocumentExtractor interface {
	Extract(ctx context.Context, path string) (Document, error)
	// Supports reports whether the extractor handles the extension.
	Supports(ext string) bool
}

// ImageAnalysis is the vision collaborator's answer.
type ImageAnalysis struct {
	Description string            `json:"description,omitempty"`
	Structured  map[string]string `json:"structured,omitempty"`
	Degraded    bool              `json:"degraded"` // metadata-only fallback was used
}

// VisionClient analyzes an image given an instruction. Implementations
// degrade to metadata-only when the backing service is unavailable.
type VisionClient interface {
	Analyze(ctx context.Context, path, instruction string) (ImageAnalysis, error)
}

// MetadataFallback is the stock extractor: no parsing libraries, just
// file metadata. It keeps document tools functional when no real
// extractor is wired in.
type MetadataFallback struct{}

func (MetadataFallback) Supports(string) bool { return true }

func (MetadataFallback) Extract(_ context.Context, path string) (Document, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Document{}, err
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return Document{
		Path:   path,
		Format: ext,
		Metadata: map[string]string{
			"size_bytes": strconv.FormatInt(st.Size(), 10),
			"modified":   st.ModTime().UTC().Format(time.RFC3339),
		},
	}, nil
}

func (MetadataFallback) Analyze(_ context.Context, path, _ string) (ImageAnalysis, error) {
	return ImageAnalysis{Degraded: true, Structured: map[string]string{"path": path}}, nil
}
