package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"fsgate/internal/sizeguard"
)

// DefaultChecks is the stock pipeline: encoding sanity, merge conflict
// markers, and syntax checks for formats cheap enough to verify inline.
func DefaultChecks() []Check {
	return []Check{
		UTF8Check{},
		ConflictMarkerCheck{},
		JSONSyntaxCheck{},
		LongLineCheck{Limit: 10000},
	}
}

// UTF8Check flags text content that does not decode as UTF-8. Binary
// content is exempt; it is written byte-for-byte.
type UTF8Check struct{}

func (UTF8Check) Name() string { return "utf8" }

func (UTF8Check) Check(_ context.Context, _ string, content []byte) []Diagnostic {
	if sizeguard.Classify(content) == sizeguard.ClassBinary {
		return nil
	}
	if utf8.Valid(content) {
		return nil
	}
	return []Diagnostic{{
		Check:    "utf8",
		Severity: SeverityError,
		Message:  "content is not valid UTF-8",
	}}
}

// ConflictMarkerCheck flags unresolved merge conflict markers.
type ConflictMarkerCheck struct{}

func (ConflictMarkerCheck) Name() string { return "conflict-markers" }

var conflictMarkers = [][]byte{
	[]byte("<<<<<<< "),
	[]byte(">>>>>>> "),
}

func (ConflictMarkerCheck) Check(ctx context.Context, _ string, content []byte) []Diagnostic {
	var diags []Diagnostic
	line := 1
	for len(content) > 0 {
		if line%4096 == 0 && ctx.Err() != nil {
			return diags
		}
		end := bytes.IndexByte(content, '\n')
		cur := content
		if end >= 0 {
			cur = content[:end]
			content = content[end+1:]
		} else {
			content = nil
		}
		for _, marker := range conflictMarkers {
			if bytes.HasPrefix(cur, marker) {
				diags = append(diags, Diagnostic{
					Check:    "conflict-markers",
					Severity: SeverityError,
					Message:  "unresolved merge conflict marker",
					Line:     line,
				})
				break
			}
		}
		line++
	}
	return diags
}

// JSONSyntaxCheck validates .json files parse.
type JSONSyntaxCheck struct{}

func (JSONSyntaxCheck) Name() string { return "json-syntax" }

func (JSONSyntaxCheck) Check(_ context.Context, path string, content []byte) []Diagnostic {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return nil
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}
	if json.Valid(content) {
		return nil
	}
	return []Diagnostic{{
		Check:    "json-syntax",
		Severity: SeverityError,
		Message:  "invalid JSON",
	}}
}

// LongLineCheck warns on pathologically long lines, which usually means
// minified or generated content landing where source is expected.
type LongLineCheck struct {
	Limit int
}

func (LongLineCheck) Name() string { return "long-lines" }

func (c LongLineCheck) Check(ctx context.Context, _ string, content []byte) []Diagnostic {
	limit := c.Limit
	if limit <= 0 {
		limit = 10000
	}
	if sizeguard.Classify(content) == sizeguard.ClassBinary {
		return nil
	}
	var diags []Diagnostic
	line := 1
	for len(content) > 0 {
		if line%4096 == 0 && ctx.Err() != nil {
			return diags
		}
		end := bytes.IndexByte(content, '\n')
		cur := len(content)
		if end >= 0 {
			cur = end
			content = content[end+1:]
		} else {
			content = nil
		}
		if cur > limit {
			diags = append(diags, Diagnostic{
				Check:    "long-lines",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("line exceeds %d bytes", limit),
				Line:     line,
			})
		}
		line++
	}
	return diags
}
