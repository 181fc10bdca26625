package mutation

import (
	"errors"
	"path/filepath"
	"testing"

	"fsgate/internal/fault"
	"fsgate/internal/sizeguard"
)

func TestRead_LineWindow(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "a.txt"), "l0\nl1\nl2\nl3\n")

	res, err := e.Read("a.txt", OffsetLine, 1, 2, "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(res.Content) != "l1\nl2\n" {
		t.Fatalf("content = %q", res.Content)
	}
	if res.TotalUnits != 4 || res.Unit != OffsetLine {
		t.Fatalf("result = %+v", res)
	}
}

func TestRead_ByteWindowPastEndClamps(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "a.txt"), "abcdef")

	res, err := e.Read("a.txt", OffsetByte, 4, 100, "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(res.Content) != "ef" {
		t.Fatalf("content = %q", res.Content)
	}
	if res.TotalUnits != 6 {
		t.Fatalf("total = %d", res.TotalUnits)
	}
}

func TestRead_CodepointWindow(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "a.txt"), "héllo")

	res, err := e.Read("a.txt", OffsetCodepoint, 1, 2, "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(res.Content) != "él" {
		t.Fatalf("content = %q", res.Content)
	}
	if res.TotalUnits != 5 {
		t.Fatalf("total = %d", res.TotalUnits)
	}
}

func TestRead_Bounds(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "a.txt"), "ab\n")

	if _, err := e.Read("a.txt", OffsetLine, 5, 1, ""); !errors.Is(err, fault.ErrRangeOutOfBounds) {
		t.Fatalf("line start err = %v", err)
	}
	if _, err := e.Read("a.txt", OffsetByte, 9, -1, ""); !errors.Is(err, fault.ErrRangeOutOfBounds) {
		t.Fatalf("byte start err = %v", err)
	}
	if _, err := e.Read("a.txt", OffsetByte, -1, 1, ""); !errors.Is(err, fault.ErrRangeOutOfBounds) {
		t.Fatalf("negative start err = %v", err)
	}
	if _, err := e.Read(".", OffsetLine, 0, 1, ""); !errors.Is(err, fault.ErrInvalidPath) {
		t.Fatalf("dir err = %v", err)
	}
	if _, err := e.Read("missing.txt", OffsetLine, 0, 1, ""); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestRead_EncodingTranscodes(t *testing.T) {
	e, root := newTestEngine(t)
	// "hé" followed by a newline, in Latin-1. 0xE9 alone is not valid
	// UTF-8, so without the declared charset the file reads as binary.
	latin1 := []byte{'h', 0xe9, '\n'}
	mustWriteFile(t, filepath.Join(root, "a.txt"), string(latin1))

	res, err := e.Read("a.txt", OffsetLine, 0, -1, "iso-8859-1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(res.Content) != "hé\n" {
		t.Fatalf("content = %q", res.Content)
	}
	if res.Class != sizeguard.ClassText || res.Unit != OffsetLine {
		t.Fatalf("result = %+v", res)
	}

	// Without the charset the same bytes fall back to a raw byte window.
	raw, err := e.Read("a.txt", OffsetLine, 0, -1, "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if raw.Unit != OffsetByte || raw.Class != sizeguard.ClassBinary {
		t.Fatalf("undeclared charset result = %+v", raw)
	}
}

func TestRead_EncodingUTF8PassThrough(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "a.txt"), "héllo\n")

	res, err := e.Read("a.txt", OffsetLine, 0, -1, "utf-8")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(res.Content) != "héllo\n" {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestRead_UnsupportedEncoding(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "a.txt"), "x\n")

	if _, err := e.Read("a.txt", OffsetLine, 0, -1, "no-such-charset"); !errors.Is(err, fault.ErrEncodingError) {
		t.Fatalf("err = %v, want ErrEncodingError", err)
	}
}
