// Package pathguard confines every path argument to the sandbox root.
//
// Resolution order is deliberate: lexical normalization first (so `..`
// segments can never climb out), then full symlink resolution, then the
// containment check against the canonicalized root. Callers re-resolve
// immediately before each filesystem operation; the guard keeps no state
// between calls, so filesystem changes are picked up on the next call.
package pathguard

import (
	"os"
	"path/filepath"
	"strings"

	"fsgate/internal/fault"
)

// Capability is the access a caller wants on the resolved path.
type Capability int

const (
	CapRead Capability = iota
	CapWrite
)

const defaultMaxPathLen = 4096

// Resolution is the outcome of a successful Resolve call.
type Resolution struct {
	Raw      string
	Path     string // canonical absolute path, symlinks resolved
	Writable bool
}

// Guard validates paths against a canonicalized sandbox root and an
// ordered set of protected sub-paths. Immutable after construction and
// safe for concurrent use.
type Guard struct {
	root       string
	protected  []string // root-relative, cleaned
	maxPathLen int
}

// New canonicalizes root and builds a guard. protected entries are
// interpreted relative to root; absolute entries are rejected.
// maxPathLen caps the raw path argument length; <= 0 uses the default.
func New(root string, protected []string, maxPathLen int) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &fault.PathError{Path: root, Err: fault.ErrInvalidPath}
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, &fault.PathError{Path: root, Reason: "root must exist", Err: fault.ErrInvalidPath}
	}
	st, err := os.Stat(canon)
	if err != nil || !st.IsDir() {
		return nil, &fault.PathError{Path: root, Reason: "root is not a directory", Err: fault.ErrInvalidPath}
	}
	if maxPathLen <= 0 {
		maxPathLen = defaultMaxPathLen
	}
	g := &Guard{root: canon, maxPathLen: maxPathLen}
	for _, p := range protected {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if filepath.IsAbs(p) {
			return nil, &fault.PathError{Path: p, Reason: "protected paths must be root-relative", Err: fault.ErrInvalidPath}
		}
		clean := filepath.Clean(p)
		if clean == "." || strings.HasPrefix(clean, "..") {
			return nil, &fault.PathError{Path: p, Reason: "protected path escapes root", Err: fault.ErrInvalidPath}
		}
		g.protected = append(g.protected, clean)
	}
	return g, nil
}

// Root returns the canonical sandbox root.
func (g *Guard) Root() string { return g.root }

// Protected returns the configured protected sub-paths, root-relative.
func (g *Guard) Protected() []string {
	out := make([]string, len(g.protected))
	copy(out, g.protected)
	return out
}

// Resolve canonicalizes raw and checks it against the sandbox policy.
// The returned path is absolute with every existing symlink resolved.
// Write capability is denied under protected sub-paths even when the
// target does not exist yet.
func (g *Guard) Resolve(raw string, want Capability) (Resolution, error) {
	if err := g.checkStructure(raw); err != nil {
		return Resolution{}, err
	}

	abs := raw
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.root, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(g.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Resolution{}, &fault.PathError{Path: raw, Err: fault.ErrOutsideSandbox}
	}

	canon, err := g.resolveSymlinks(abs)
	if err != nil {
		return Resolution{}, &fault.PathError{Path: raw, Reason: "unresolvable", Err: fault.ErrInvalidPath}
	}
	if !g.contains(canon) {
		return Resolution{}, &fault.PathError{Path: raw, Err: fault.ErrOutsideSandbox}
	}

	res := Resolution{Raw: raw, Path: canon, Writable: true}
	if under, prot := g.underProtected(canon); under {
		res.Writable = false
		if want == CapWrite {
			return Resolution{}, &fault.PathError{Path: raw, Reason: "under protected path " + prot, Err: fault.ErrProtectedPathDenied}
		}
	}
	return res, nil
}

func (g *Guard) checkStructure(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &fault.PathError{Path: raw, Reason: "empty", Err: fault.ErrInvalidPath}
	}
	if strings.ContainsRune(raw, 0) {
		return &fault.PathError{Path: raw, Reason: "embedded NUL", Err: fault.ErrInvalidPath}
	}
	if len(raw) > g.maxPathLen {
		return &fault.PathError{Path: raw, Reason: "path too long", Err: fault.ErrInvalidPath}
	}
	return nil
}

// resolveSymlinks fully resolves path. For targets that do not exist
// yet, the deepest existing ancestor is resolved and the remaining
// segments are re-appended, so containment is still judged against the
// real location the path would land in.
func (g *Guard) resolveSymlinks(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	prefix := path
	var tail []string
	for {
		parent := filepath.Dir(prefix)
		if parent == prefix {
			return "", os.ErrNotExist
		}
		tail = append(tail, filepath.Base(prefix))
		prefix = parent
		resolved, err = filepath.EvalSymlinks(prefix)
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
	for i := len(tail) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, tail[i])
	}
	return resolved, nil
}

func (g *Guard) contains(canon string) bool {
	if canon == g.root {
		return true
	}
	return strings.HasPrefix(canon, g.root+string(filepath.Separator))
}

func (g *Guard) underProtected(canon string) (bool, string) {
	for _, p := range g.protected {
		full := filepath.Join(g.root, p)
		if canon == full || strings.HasPrefix(canon, full+string(filepath.Separator)) {
			return true, p
		}
	}
	return false, ""
}
