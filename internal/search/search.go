// Package search scans the sandboxed tree for keyword and pattern
// matches. Traversal and per-file scanning run on a bounded worker set;
// results are released in traversal order through a reorder buffer so
// identical queries over an unchanged tree always return the same hits,
// regardless of worker scheduling. Once enough hits are out, in-flight
// work is cancelled.
package search

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
	"github.com/bmatcuk/doublestar/v4"

	"fsgate/internal/fault"
	"fsgate/internal/pathguard"
	"fsgate/internal/sizeguard"
)

// Query describes one search. Keywords match file content (all files
// are scanned in a single pass over an automaton built from the whole
// set). PathPattern is a doublestar glob over the root-relative path.
// ContentPattern is an RE2 regex. A hit requires every supplied
// criterion to match.
type Query struct {
	Root           string
	Keywords       []string
	RegexKeywords  bool // treat Keywords as RE2 patterns instead of literals
	PathPattern    string
	ContentPattern string
	MaxResults     int
}

// Hit is one matching file. Score is the number of distinct criteria
// (keywords, content pattern, path pattern) that matched.
type Hit struct {
	Path    string  `json:"path"` // root-relative
	Line    int     `json:"line,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score"`
}

// Config bounds the scanner.
type Config struct {
	Workers  int
	MaxBytes int64 // per-file ceiling; larger files are skipped
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 4 << 20
	}
	return c
}

// Index scans on demand; it holds no persistent state between calls,
// so filesystem changes are always visible to the next search.
type Index struct {
	guard *pathguard.Guard
	cfg   Config
}

func NewIndex(guard *pathguard.Guard, cfg Config) *Index {
	return &Index{guard: guard, cfg: cfg.withDefaults()}
}

type matchers struct {
	trie     *ahocorasick.Trie
	keywords []*regexp.Regexp
	content  *regexp.Regexp
	pattern  string
}

func compile(q Query) (*matchers, error) {
	m := &matchers{pattern: q.PathPattern}
	if q.PathPattern != "" && !doublestar.ValidatePattern(q.PathPattern) {
		return nil, &fault.PathError{Path: q.PathPattern, Reason: "invalid glob pattern", Err: fault.ErrInvalidPath}
	}
	if len(q.Keywords) > 0 {
		if q.RegexKeywords {
			for _, kw := range q.Keywords {
				re, err := regexp.Compile(kw)
				if err != nil {
					return nil, &fault.PathError{Path: kw, Reason: "invalid regex", Err: fault.ErrInvalidPath}
				}
				m.keywords = append(m.keywords, re)
			}
		} else {
			m.trie = ahocorasick.NewTrieBuilder().AddStrings(q.Keywords).Build()
		}
	}
	if q.ContentPattern != "" {
		re, err := regexp.Compile(q.ContentPattern)
		if err != nil {
			return nil, &fault.PathError{Path: q.ContentPattern, Reason: "invalid regex", Err: fault.ErrInvalidPath}
		}
		m.content = re
	}
	return m, nil
}

// Search walks the tree under q.Root and returns at most q.MaxResults
// hits ordered by (score desc, path asc). Each call rescans; nothing is
// cached across calls.
func (x *Index) Search(ctx context.Context, q Query) ([]Hit, error) {
	if ctx.Err() != nil {
		return nil, fault.ErrTimeout
	}
	root := q.Root
	if root == "" {
		root = x.guard.Root()
	}
	res, err := x.guard.Resolve(root, pathguard.CapRead)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(res.Path)
	if err != nil || !st.IsDir() {
		return nil, &fault.PathError{Path: root, Reason: "not a directory", Err: fault.ErrInvalidPath}
	}
	m, err := compile(q)
	if err != nil {
		return nil, err
	}
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = 1000
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type unit struct {
		seq int
		rel string
	}
	type outcome struct {
		seq int
		hit *Hit
	}

	units := make(chan unit)
	outcomes := make(chan outcome, x.cfg.Workers)

	// Feeder: deterministic lexical traversal, symlinked directories
	// are never descended.
	go func() {
		defer close(units)
		seq := 0
		_ = filepath.WalkDir(res.Path, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if scanCtx.Err() != nil {
				return fs.SkipAll
			}
			if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			rel, relErr := filepath.Rel(res.Path, path)
			if relErr != nil {
				return nil
			}
			select {
			case units <- unit{seq: seq, rel: rel}:
				seq++
			case <-scanCtx.Done():
				return fs.SkipAll
			}
			return nil
		})
		// Sentinel tells the collector the last sequence number.
		select {
		case outcomes <- outcome{seq: -1 - seq}:
		case <-scanCtx.Done():
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < x.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range units {
				if scanCtx.Err() != nil {
					return
				}
				hit := x.scanFile(res.Path, u.rel, m)
				select {
				case outcomes <- outcome{seq: u.seq, hit: hit}:
				case <-scanCtx.Done():
					return
				}
			}
		}()
	}

	// Collector: reorder buffer keyed by sequence number so the set of
	// released hits depends only on traversal order.
	var hits []Hit
	pending := map[int]*Hit{}
	next := 0
	total := -1
	for total < 0 || next < total {
		var oc outcome
		select {
		case oc = <-outcomes:
		case <-ctx.Done():
			cancel()
			wg.Wait()
			return nil, fault.ErrTimeout
		}
		if oc.seq < 0 {
			total = -1 - oc.seq
			continue
		}
		pending[oc.seq] = oc.hit
		for {
			h, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if h != nil {
				hits = append(hits, *h)
				if len(hits) >= maxResults {
					cancel()
					wg.Wait()
					return order(hits), nil
				}
			}
		}
	}
	cancel()
	wg.Wait()
	return order(hits), nil
}

func order(hits []Hit) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Path < hits[j].Path
	})
	return hits
}

// scanFile applies every criterion to one file. Returns nil when the
// file is not a hit.
func (x *Index) scanFile(root, rel string, m *matchers) *Hit {
	if m.pattern != "" {
		if ok, _ := doublestar.Match(m.pattern, rel); !ok {
			return nil
		}
	}

	needsContent := m.trie != nil || len(m.keywords) > 0 || m.content != nil
	if !needsContent {
		return &Hit{Path: rel, Score: 1}
	}

	full := filepath.Join(root, rel)
	st, err := os.Stat(full)
	if err != nil || st.Size() > x.cfg.MaxBytes {
		return nil
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		return nil
	}
	if !isLikelyText(rel, raw) {
		return nil
	}
	text := string(raw)

	score := 0.0
	firstMatch := -1
	if m.pattern != "" {
		score++
	}
	if m.trie != nil {
		matched := map[int64]struct{}{}
		for _, match := range m.trie.MatchString(text) {
			matched[match.Pattern()] = struct{}{}
			if firstMatch < 0 || int(match.Pos()) < firstMatch {
				firstMatch = int(match.Pos())
			}
		}
		if len(matched) == 0 {
			return nil
		}
		score += float64(len(matched))
	}
	for _, re := range m.keywords {
		loc := re.FindStringIndex(text)
		if loc == nil {
			return nil
		}
		if firstMatch < 0 || loc[0] < firstMatch {
			firstMatch = loc[0]
		}
		score++
	}
	if m.content != nil {
		loc := m.content.FindStringIndex(text)
		if loc == nil {
			return nil
		}
		if firstMatch < 0 || loc[0] < firstMatch {
			firstMatch = loc[0]
		}
		score++
	}

	hit := &Hit{Path: rel, Score: score}
	if firstMatch >= 0 {
		hit.Line, hit.Snippet = locate(text, firstMatch)
	}
	return hit
}

// locate maps a byte offset to its 1-based line and a trimmed snippet
// of that line.
func locate(text string, off int) (int, string) {
	if off > len(text) {
		off = len(text)
	}
	line := 1 + strings.Count(text[:off], "\n")
	start := strings.LastIndexByte(text[:off], '\n') + 1
	end := strings.IndexByte(text[off:], '\n')
	if end < 0 {
		end = len(text)
	} else {
		end += off
	}
	snippet := strings.TrimSpace(text[start:end])
	const maxSnippet = 160
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	return line, snippet
}

var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".py": {}, ".js": {}, ".ts": {}, ".go": {},
	".json": {}, ".xml": {}, ".yaml": {}, ".yml": {}, ".toml": {},
	".html": {}, ".css": {}, ".sh": {}, ".rs": {}, ".c": {}, ".h": {},
	".cpp": {}, ".java": {}, ".rb": {}, ".sql": {}, ".csv": {},
}

// isLikelyText short-circuits on known source extensions before paying
// for a classification pass.
func isLikelyText(rel string, raw []byte) bool {
	if _, ok := textExtensions[strings.ToLower(filepath.Ext(rel))]; ok {
		return true
	}
	return sizeguard.Classify(raw) == sizeguard.ClassText
}
