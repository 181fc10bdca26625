package mutation

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"fsgate/internal/fault"
	"fsgate/internal/pathguard"
)

// DirEntry is one row of a directory listing. Path is relative to the
// listed directory.
type DirEntry struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// ListResult is a possibly truncated directory listing.
type ListResult struct {
	Directory    string     `json:"directory"`
	Entries      []DirEntry `json:"entries"`
	LimitReached bool       `json:"limit_reached"`
}

// ListDir lists the directory at rawPath. pattern, when non-empty, is a
// doublestar glob matched against the entry's relative path. Symlinked
// directories are listed but never descended, so a recursive listing
// cannot wander outside the sandbox.
func (e *Engine) ListDir(rawPath string, recursive bool, pattern string, limit int) (ListResult, error) {
	res, err := e.guard.Resolve(rawPath, pathguard.CapRead)
	if err != nil {
		return ListResult{}, err
	}
	st, err := os.Stat(res.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return ListResult{}, &fault.PathError{Path: rawPath, Err: fault.ErrNotFound}
		}
		return ListResult{}, fault.IO("stat", err)
	}
	if !st.IsDir() {
		return ListResult{}, &fault.PathError{Path: rawPath, Reason: "not a directory", Err: fault.ErrInvalidPath}
	}
	if pattern != "" {
		if !doublestar.ValidatePattern(pattern) {
			return ListResult{}, &fault.PathError{Path: pattern, Reason: "invalid glob pattern", Err: fault.ErrInvalidPath}
		}
	}
	if limit <= 0 {
		limit = 100
	}

	result := ListResult{Directory: res.Path}
	add := func(rel string, d fs.DirEntry) bool {
		if pattern != "" {
			if ok, _ := doublestar.Match(pattern, rel); !ok {
				return true
			}
		}
		if len(result.Entries) >= limit {
			result.LimitReached = true
			return false
		}
		entry := DirEntry{Path: rel, IsDir: d.IsDir()}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			entry.Size = info.Size()
		}
		result.Entries = append(result.Entries, entry)
		return true
	}

	if recursive {
		err = filepath.WalkDir(res.Path, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil // unreadable subtrees are skipped, not fatal
			}
			if path == res.Path {
				return nil
			}
			rel, relErr := filepath.Rel(res.Path, path)
			if relErr != nil {
				return nil
			}
			if !add(rel, d) {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			return ListResult{}, fault.IO("walk", err)
		}
	} else {
		entries, readErr := os.ReadDir(res.Path)
		if readErr != nil {
			return ListResult{}, fault.IO("readdir", readErr)
		}
		for _, d := range entries {
			if !add(d.Name(), d) {
				break
			}
		}
	}

	sort.Slice(result.Entries, func(i, j int) bool {
		return result.Entries[i].Path < result.Entries[j].Path
	})
	return result, nil
}
