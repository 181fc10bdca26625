// Package mutation performs offset-addressed read/modify/replace/write
// operations inside the sandbox with atomic-apply semantics. Every
// entry point re-resolves its path through the guard immediately before
// touching the filesystem, and write-class operations on the same
// resolved path are serialized by a per-path mutex; distinct paths
// proceed fully in parallel.
package mutation

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"fsgate/internal/fault"
	"fsgate/internal/pathguard"
	"fsgate/internal/sizeguard"
	"fsgate/internal/validator"
)

// OffsetMode selects the unit used to address ranges within a file.
type OffsetMode string

const (
	OffsetLine      OffsetMode = "line"
	OffsetByte      OffsetMode = "byte"
	OffsetCodepoint OffsetMode = "codepoint"
)

// WriteMode selects text or binary handling for write.
type WriteMode string

const (
	WriteText   WriteMode = "text"
	WriteBinary WriteMode = "binary"
)

// Engine wires the guards and validator in front of the filesystem.
type Engine struct {
	guard  *pathguard.Guard
	sizes  *sizeguard.Guard
	checks *validator.Validator
	locks  *pathLocks
	log    *slog.Logger
}

func NewEngine(guard *pathguard.Guard, sizes *sizeguard.Guard, checks *validator.Validator, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		guard:  guard,
		sizes:  sizes,
		checks: checks,
		locks:  newPathLocks(),
		log:    log,
	}
}

// WriteResult reports a committed mutation plus any non-blocking
// diagnostics the validation pipeline produced.
type WriteResult struct {
	Path         string                 `json:"path"`
	BytesWritten int                    `json:"bytes_written"`
	Replacements int                    `json:"replacements,omitempty"`
	Diagnostics  []validator.Diagnostic `json:"diagnostics,omitempty"`
}

// Write replaces the whole file with content. Applied atomically: the
// bytes land in a temp file in the target directory, are fsynced, and
// renamed over the target, so a concurrent reader sees either the old
// or the new file and never a partial one.
func (e *Engine) Write(ctx context.Context, rawPath string, content []byte, mode WriteMode) (WriteResult, error) {
	res, err := e.guard.Resolve(rawPath, pathguard.CapWrite)
	if err != nil {
		return WriteResult{}, err
	}
	if err := e.sizes.Check(res.Path, int64(len(content))); err != nil {
		return WriteResult{}, err
	}

	e.locks.lock(res.Path)
	defer e.locks.unlock(res.Path)

	diags, err := e.validate(ctx, res.Path, content, mode)
	if err != nil {
		return WriteResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(res.Path), 0o755); err != nil {
		return WriteResult{}, fault.IO("mkdir", err)
	}
	if err := e.applyAtomically(res.Path, content); err != nil {
		return WriteResult{}, err
	}
	e.log.Debug("file written", "path", res.Path, "bytes", len(content))
	return WriteResult{Path: res.Path, BytesWritten: len(content), Diagnostics: diags}, nil
}

// Modify replaces the half-open range [rangeStart, rangeEnd) addressed
// in the given offset mode. Ranges are validated before any disk write;
// on failure the file is byte-for-byte unchanged.
func (e *Engine) Modify(ctx context.Context, rawPath string, mode OffsetMode, rangeStart, rangeEnd int, replacement []byte) (WriteResult, error) {
	res, err := e.guard.Resolve(rawPath, pathguard.CapWrite)
	if err != nil {
		return WriteResult{}, err
	}

	e.locks.lock(res.Path)
	defer e.locks.unlock(res.Path)

	original, err := e.readAll(res.Path)
	if err != nil {
		return WriteResult{}, err
	}
	modified, err := spliceRange(original, mode, rangeStart, rangeEnd, replacement)
	if err != nil {
		return WriteResult{}, err
	}
	if err := e.sizes.Check(res.Path, int64(len(modified))); err != nil {
		return WriteResult{}, err
	}
	diags, err := e.validate(ctx, res.Path, modified, WriteText)
	if err != nil {
		return WriteResult{}, err
	}
	if err := e.applyAtomically(res.Path, modified); err != nil {
		return WriteResult{}, err
	}
	e.log.Debug("file modified", "path", res.Path, "mode", string(mode), "start", rangeStart, "end", rangeEnd)
	return WriteResult{Path: res.Path, BytesWritten: len(modified), Diagnostics: diags}, nil
}

// ReplaceMode selects pattern interpretation for Replace.
type ReplaceMode string

const (
	ReplaceLiteral ReplaceMode = "literal"
	ReplaceRegex   ReplaceMode = "regex"
)

// Replace scans left to right and replaces up to maxOccurrences matches
// (all when maxOccurrences <= 0), reporting the count actually
// replaced. Regex mode uses Go's RE2 engine: leftmost-first, no
// backtracking, so results are reproducible across runs.
func (e *Engine) Replace(ctx context.Context, rawPath, pattern, replacement string, mode ReplaceMode, maxOccurrences int) (WriteResult, error) {
	res, err := e.guard.Resolve(rawPath, pathguard.CapWrite)
	if err != nil {
		return WriteResult{}, err
	}

	e.locks.lock(res.Path)
	defer e.locks.unlock(res.Path)

	original, err := e.readAll(res.Path)
	if err != nil {
		return WriteResult{}, err
	}
	modified, count, err := replaceContent(original, pattern, replacement, mode, maxOccurrences)
	if err != nil {
		return WriteResult{}, err
	}
	if count == 0 {
		return WriteResult{Path: res.Path, BytesWritten: len(original)}, nil
	}
	if err := e.sizes.Check(res.Path, int64(len(modified))); err != nil {
		return WriteResult{}, err
	}
	diags, err := e.validate(ctx, res.Path, modified, WriteText)
	if err != nil {
		return WriteResult{}, err
	}
	if err := e.applyAtomically(res.Path, modified); err != nil {
		return WriteResult{}, err
	}
	e.log.Debug("pattern replaced", "path", res.Path, "count", count)
	return WriteResult{Path: res.Path, BytesWritten: len(modified), Replacements: count, Diagnostics: diags}, nil
}

// DeleteOutcome is the per-path result of a batch delete.
type DeleteOutcome struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Delete removes each path independently; one failure does not abort
// the batch.
func (e *Engine) Delete(ctx context.Context, rawPaths []string, recursive bool) []DeleteOutcome {
	out := make([]DeleteOutcome, 0, len(rawPaths))
	for _, raw := range rawPaths {
		if ctx.Err() != nil {
			out = append(out, DeleteOutcome{Path: raw, Error: fault.Message(fault.ErrTimeout), Kind: string(fault.KindTimeout)})
			continue
		}
		out = append(out, e.deleteOne(raw, recursive))
	}
	return out
}

func (e *Engine) deleteOne(raw string, recursive bool) DeleteOutcome {
	res, err := e.guard.Resolve(raw, pathguard.CapWrite)
	if err != nil {
		return DeleteOutcome{Path: raw, Error: fault.Message(err), Kind: string(fault.KindOf(err))}
	}

	e.locks.lock(res.Path)
	defer e.locks.unlock(res.Path)

	st, err := os.Lstat(res.Path)
	if err != nil {
		if os.IsNotExist(err) {
			nf := &fault.PathError{Path: raw, Err: fault.ErrNotFound}
			return DeleteOutcome{Path: raw, Error: nf.Error(), Kind: string(fault.KindNotFound)}
		}
		return DeleteOutcome{Path: raw, Error: fault.Message(fault.IO("stat", err)), Kind: string(fault.KindInternalIO)}
	}
	if st.IsDir() && recursive {
		err = os.RemoveAll(res.Path)
	} else {
		err = os.Remove(res.Path)
	}
	if err != nil {
		return DeleteOutcome{Path: raw, Error: fault.Message(fault.IO("remove", err)), Kind: string(fault.KindInternalIO)}
	}
	e.log.Debug("path deleted", "path", res.Path)
	return DeleteOutcome{Path: raw, Deleted: true}
}

// CreateDirOutcome is the per-path result of a batch mkdir.
type CreateDirOutcome struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// CreateDirs makes each directory independently. Creation goes through
// a symlink-safe join rooted at the sandbox so no component of the new
// tree can be grafted outside it between validation and mkdir. With
// parents false, a missing intermediate directory fails that path with
// NotFound instead of being created.
func (e *Engine) CreateDirs(rawPaths []string, parents bool) []CreateDirOutcome {
	out := make([]CreateDirOutcome, 0, len(rawPaths))
	for _, raw := range rawPaths {
		res, err := e.guard.Resolve(raw, pathguard.CapWrite)
		if err != nil {
			out = append(out, CreateDirOutcome{Path: raw, Error: fault.Message(err), Kind: string(fault.KindOf(err))})
			continue
		}
		rel, err := filepath.Rel(e.guard.Root(), res.Path)
		if err != nil {
			out = append(out, CreateDirOutcome{Path: raw, Error: fault.Message(fault.ErrInvalidPath), Kind: string(fault.KindInvalidPath)})
			continue
		}
		if !parents {
			if st, err := os.Stat(filepath.Dir(res.Path)); err != nil || !st.IsDir() {
				pe := &fault.PathError{Path: raw, Reason: "parent directory missing", Err: fault.ErrNotFound}
				out = append(out, CreateDirOutcome{Path: raw, Error: pe.Error(), Kind: string(fault.KindNotFound)})
				continue
			}
		}
		if err := securejoin.MkdirAll(e.guard.Root(), rel, 0o755); err != nil {
			out = append(out, CreateDirOutcome{Path: raw, Error: fault.Message(fault.IO("mkdir", err)), Kind: string(fault.KindInternalIO)})
			continue
		}
		out = append(out, CreateDirOutcome{Path: raw, Created: true})
	}
	return out
}

func (e *Engine) validate(ctx context.Context, path string, content []byte, mode WriteMode) ([]validator.Diagnostic, error) {
	if e.checks == nil || mode == WriteBinary {
		return nil, nil
	}
	result, err := e.checks.Validate(ctx, path, content, 0)
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return nil, &validationError{result: result, err: fault.ErrValidationTimedOut}
	}
	if result.Blocking {
		return nil, &validationError{result: result, err: fault.ErrValidationFailed}
	}
	return result.Diagnostics, nil
}

// validationError carries the full diagnostic list to the tool layer.
type validationError struct {
	result validator.Result
	err    error
}

func (e *validationError) Error() string { return e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

// Diagnostics extracts the diagnostics attached to a validation
// failure, if err is one.
func Diagnostics(err error) []validator.Diagnostic {
	if ve, ok := err.(*validationError); ok {
		return ve.result.Diagnostics
	}
	return nil
}

func (e *Engine) readAll(path string) ([]byte, error) {
	if err := e.sizes.Check(path, -1); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &fault.PathError{Path: path, Err: fault.ErrNotFound}
		}
		return nil, fault.IO("read", err)
	}
	return b, nil
}

// applyAtomically writes content next to target and renames it into
// place. The temp file is fsynced first so the rename never publishes
// a torn file after a crash.
func (e *Engine) applyAtomically(target string, content []byte) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".fsgate-*")
	if err != nil {
		return fault.IO("create temp", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fault.IO("write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fault.IO("fsync temp", err)
	}
	if err := tmp.Close(); err != nil {
		return fault.IO("close temp", err)
	}
	if st, err := os.Stat(target); err == nil {
		_ = os.Chmod(tmpName, st.Mode().Perm())
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fault.IO("rename", err)
	}
	tmpName = ""
	return nil
}
