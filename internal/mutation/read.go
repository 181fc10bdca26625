package mutation

import (
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"fsgate/internal/fault"
	"fsgate/internal/pathguard"
	"fsgate/internal/sizeguard"
)

// ReadResult is a window of file content. Binary files are addressed
// in bytes regardless of the requested mode; Content for them is the
// raw bytes and the caller is expected to transport-encode it.
type ReadResult struct {
	Path    string
	Content []byte
	Class   sizeguard.Class
	// Unit actually used; binary files force OffsetByte.
	Unit OffsetMode
	// Total units in the file, in Unit terms. -1 when not cheaply known
	// (byte windows do not require reading the whole file).
	TotalUnits int
}

// Read returns the window [start, start+length) of the file in the
// requested offset mode. length < 0 means to end of file. Byte windows
// seek and read only the requested span; line and codepoint modes read
// the file (bounded by the size ceiling) and slice it.
//
// encodingName names the file's text encoding (IANA charset name).
// Empty or utf-8 is a pass-through; any other supported name transcodes
// the content to UTF-8 before windowing, and a file that only fails the
// text classification because of its charset is still served as text.
func (e *Engine) Read(rawPath string, mode OffsetMode, start, length int, encodingName string) (ReadResult, error) {
	res, err := e.guard.Resolve(rawPath, pathguard.CapRead)
	if err != nil {
		return ReadResult{}, err
	}
	enc, err := lookupEncoding(encodingName)
	if err != nil {
		return ReadResult{}, &fault.PathError{Path: rawPath, Reason: "unsupported encoding " + encodingName, Err: fault.ErrEncodingError}
	}
	st, err := os.Stat(res.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReadResult{}, &fault.PathError{Path: rawPath, Err: fault.ErrNotFound}
		}
		return ReadResult{}, fault.IO("stat", err)
	}
	if st.IsDir() {
		return ReadResult{}, &fault.PathError{Path: rawPath, Reason: "is a directory", Err: fault.ErrInvalidPath}
	}
	if start < 0 {
		return ReadResult{}, fault.ErrRangeOutOfBounds
	}

	class, err := sizeguard.ClassifyFile(res.Path)
	if err != nil {
		return ReadResult{}, err
	}
	if class == sizeguard.ClassBinary && enc == nil {
		mode = OffsetByte
	}

	if mode == OffsetByte && enc == nil {
		content, err := e.readByteWindow(res.Path, st.Size(), start, length)
		if err != nil {
			return ReadResult{}, err
		}
		return ReadResult{Path: res.Path, Content: content, Class: class, Unit: OffsetByte, TotalUnits: int(st.Size())}, nil
	}

	if err := e.sizes.Check(res.Path, st.Size()); err != nil {
		return ReadResult{}, err
	}
	raw, err := os.ReadFile(res.Path)
	if err != nil {
		return ReadResult{}, fault.IO("read", err)
	}
	if enc != nil {
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return ReadResult{}, &fault.PathError{Path: rawPath, Reason: "content does not decode as " + encodingName, Err: fault.ErrEncodingError}
		}
		raw = decoded
		class = sizeguard.ClassText
	}

	switch mode {
	case OffsetLine:
		lines := splitKeepEnds(raw)
		end, err := windowEnd(start, length, len(lines))
		if err != nil {
			return ReadResult{}, err
		}
		var out []byte
		for _, l := range lines[start:end] {
			out = append(out, l...)
		}
		return ReadResult{Path: res.Path, Content: out, Class: class, Unit: OffsetLine, TotalUnits: len(lines)}, nil
	case OffsetCodepoint:
		runes := []rune(string(raw))
		end, err := windowEnd(start, length, len(runes))
		if err != nil {
			return ReadResult{}, err
		}
		return ReadResult{Path: res.Path, Content: []byte(string(runes[start:end])), Class: class, Unit: OffsetCodepoint, TotalUnits: len(runes)}, nil
	case OffsetByte:
		// Byte windows over transcoded content address the UTF-8 bytes.
		end, err := windowEnd(start, length, len(raw))
		if err != nil {
			return ReadResult{}, err
		}
		return ReadResult{Path: res.Path, Content: raw[start:end], Class: class, Unit: OffsetByte, TotalUnits: len(raw)}, nil
	default:
		return ReadResult{}, &fault.PathError{Path: string(mode), Reason: "unknown offset mode", Err: fault.ErrInvalidPath}
	}
}

// lookupEncoding maps an IANA charset name to its decoder. nil, nil
// means pass-through (the content is already UTF-8).
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fault.ErrEncodingError
	}
	return enc, nil
}

func (e *Engine) readByteWindow(path string, size int64, start, length int) ([]byte, error) {
	if int64(start) > size {
		return nil, fault.ErrRangeOutOfBounds
	}
	want := size - int64(start)
	if length >= 0 && int64(length) < want {
		want = int64(length)
	}
	if err := e.sizes.Check(path, want); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.IO("open", err)
	}
	defer f.Close()
	if start > 0 {
		if _, err := f.Seek(int64(start), io.SeekStart); err != nil {
			return nil, fault.IO("seek", err)
		}
	}
	buf := make([]byte, want)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fault.IO("read", err)
	}
	return buf[:n], nil
}

func windowEnd(start, length, total int) (int, error) {
	if start > total {
		return 0, fault.ErrRangeOutOfBounds
	}
	if length < 0 || start+length > total {
		return total, nil
	}
	return start + length, nil
}
