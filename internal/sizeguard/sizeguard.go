// Package sizeguard bounds read/write sizes and classifies content as
// text or binary before any full read is attempted.
package sizeguard

import (
	"bytes"
	"os"
	"unicode/utf8"

	"fsgate/internal/fault"
)

// classifyWindow is the prefix sampled for binary detection.
const classifyWindow = 8192

// Class is the result of content classification.
type Class int

const (
	ClassText Class = iota
	ClassBinary
)

func (c Class) String() string {
	if c == ClassBinary {
		return "binary"
	}
	return "text"
}

// Guard enforces a configuration-driven size ceiling.
type Guard struct {
	maxBytes int64
}

func New(maxBytes int64) *Guard {
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	return &Guard{maxBytes: maxBytes}
}

// MaxBytes returns the configured ceiling.
func (g *Guard) MaxBytes() int64 { return g.maxBytes }

// Check rejects sizes above the ceiling. Negative sizes are looked up
// from the filesystem so oversized files fail fast before reading.
func (g *Guard) Check(path string, size int64) error {
	if size < 0 {
		st, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return &fault.PathError{Path: path, Err: fault.ErrNotFound}
			}
			return fault.IO("stat", err)
		}
		size = st.Size()
	}
	if size > g.maxBytes {
		return &fault.PathError{Path: path, Err: fault.ErrFileTooLarge}
	}
	return nil
}

// Classify samples a prefix window of b. A NUL byte marks binary;
// otherwise the sample must decode as UTF-8 allowing one truncated rune
// at the window edge. Deterministic for identical input.
func Classify(b []byte) Class {
	sample := b
	if len(sample) > classifyWindow {
		sample = sample[:classifyWindow]
	}
	if len(sample) == 0 {
		return ClassText
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return ClassBinary
	}
	for len(sample) > 0 {
		r, size := utf8.DecodeRune(sample)
		if r == utf8.RuneError && size == 1 {
			// A rune split by the window edge is not evidence of binary.
			if len(sample) < utf8.UTFMax && !utf8.FullRune(sample) {
				return ClassText
			}
			return ClassBinary
		}
		sample = sample[size:]
	}
	return ClassText
}

// ClassifyFile samples the head of the file at path. Missing files
// classify as text, matching the behavior for not-yet-written targets.
func ClassifyFile(path string) (Class, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ClassText, nil
		}
		return ClassText, fault.IO("open", err)
	}
	defer f.Close()

	buf := make([]byte, classifyWindow)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return ClassText, nil
	}
	return Classify(buf[:n]), nil
}
