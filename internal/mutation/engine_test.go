package mutation

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"fsgate/internal/fault"
	"fsgate/internal/logging"
	"fsgate/internal/pathguard"
	"fsgate/internal/sizeguard"
	"fsgate/internal/validator"
)

func newTestEngine(t *testing.T, protected ...string) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	guard, err := pathguard.New(root, protected, 0)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	e := NewEngine(guard, sizeguard.New(1<<20), validator.New(validator.Config{}), logging.NewNop())
	return e, guard.Root()
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	res, err := e.Write(context.Background(), "dir/a.txt", []byte("hello\nworld\n"), WriteText)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if res.BytesWritten != 12 {
		t.Fatalf("bytes = %d, want 12", res.BytesWritten)
	}
	got, err := e.Read("dir/a.txt", OffsetByte, 0, -1, "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got.Content) != "hello\nworld\n" {
		t.Fatalf("content = %q", got.Content)
	}
}

func TestWrite_ProtectedDenied(t *testing.T) {
	e, _ := newTestEngine(t, ".git")
	if _, err := e.Write(context.Background(), ".git/config", []byte("x"), WriteText); !errors.Is(err, fault.ErrProtectedPathDenied) {
		t.Fatalf("err = %v, want ErrProtectedPathDenied", err)
	}
}

func TestWrite_SizeCeiling(t *testing.T) {
	root := t.TempDir()
	guard, err := pathguard.New(root, nil, 0)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	e := NewEngine(guard, sizeguard.New(8), validator.New(validator.Config{}), logging.NewNop())
	if _, err := e.Write(context.Background(), "a.txt", []byte("way past eight"), WriteText); !errors.Is(err, fault.ErrFileTooLarge) {
		t.Fatalf("err = %v, want ErrFileTooLarge", err)
	}
}

func TestWrite_ValidationBlocksAndLeavesNoFile(t *testing.T) {
	e, root := newTestEngine(t)
	content := []byte("<<<<<<< HEAD\nx\n>>>>>>> other\n")
	_, err := e.Write(context.Background(), "a.txt", content, WriteText)
	if !errors.Is(err, fault.ErrValidationFailed) {
		t.Fatalf("err = %v, want ErrValidationFailed", err)
	}
	if diags := Diagnostics(err); len(diags) == 0 {
		t.Fatalf("expected diagnostics on the error")
	}
	if _, statErr := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(statErr) {
		t.Fatalf("rejected write must not create the file")
	}
}

func TestWrite_BinarySkipsValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	blob := []byte{0x00, 0xff, 0xfe, 0x01}
	if _, err := e.Write(context.Background(), "blob.bin", blob, WriteBinary); err != nil {
		t.Fatalf("binary write failed: %v", err)
	}
	got, err := e.Read("blob.bin", OffsetLine, 0, -1, "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Unit != OffsetByte {
		t.Fatalf("unit = %v, want byte for binary", got.Unit)
	}
	if !bytes.Equal(got.Content, blob) {
		t.Fatalf("content = %v", got.Content)
	}
}

func TestModify_LineRange(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "a.txt"), "one\ntwo\nthree\nfour\n")

	if _, err := e.Modify(context.Background(), "a.txt", OffsetLine, 1, 3, []byte("TWO\nTHREE\n")); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(got) != "one\nTWO\nTHREE\nfour\n" {
		t.Fatalf("content = %q", got)
	}
}

func TestModify_CodepointRange(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "a.txt"), "héllo")

	// Codepoints 1..2 cover the two-byte é.
	if _, err := e.Modify(context.Background(), "a.txt", OffsetCodepoint, 1, 2, []byte("e")); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(got) != "hello" {
		t.Fatalf("content = %q", got)
	}
}

func TestModify_OutOfBoundsLeavesFileUntouched(t *testing.T) {
	e, root := newTestEngine(t)
	const original = "one\ntwo\n"
	mustWriteFile(t, filepath.Join(root, "a.txt"), original)

	_, err := e.Modify(context.Background(), "a.txt", OffsetLine, 0, 99, []byte("x"))
	if !errors.Is(err, fault.ErrRangeOutOfBounds) {
		t.Fatalf("err = %v, want ErrRangeOutOfBounds", err)
	}
	got, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(got) != original {
		t.Fatalf("file changed on failed modify: %q", got)
	}
}

func TestModify_MissingFile(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Modify(context.Background(), "nope.txt", OffsetByte, 0, 0, nil); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReplace_LiteralBounded(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "a.txt"), "x x x x\n")

	res, err := e.Replace(context.Background(), "a.txt", "x", "y", ReplaceLiteral, 2)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if res.Replacements != 2 {
		t.Fatalf("replacements = %d, want 2", res.Replacements)
	}
	got, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(got) != "y y x x\n" {
		t.Fatalf("content = %q", got)
	}
}

func TestReplace_RegexExpandsCaptures(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "a.txt"), "name=alpha\nname=beta\n")

	res, err := e.Replace(context.Background(), "a.txt", `name=(\w+)`, "id=$1", ReplaceRegex, 0)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if res.Replacements != 2 {
		t.Fatalf("replacements = %d, want 2", res.Replacements)
	}
	got, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(got) != "id=alpha\nid=beta\n" {
		t.Fatalf("content = %q", got)
	}
}

func TestReplace_NoMatchNoWrite(t *testing.T) {
	e, root := newTestEngine(t)
	path := filepath.Join(root, "a.txt")
	mustWriteFile(t, path, "stable\n")
	before, _ := os.Stat(path)

	res, err := e.Replace(context.Background(), "a.txt", "absent", "y", ReplaceLiteral, 0)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if res.Replacements != 0 {
		t.Fatalf("replacements = %d, want 0", res.Replacements)
	}
	after, _ := os.Stat(path)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatalf("zero-match replace must not rewrite the file")
	}
}

func TestReplace_InvalidRegex(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "a.txt"), "x")
	if _, err := e.Replace(context.Background(), "a.txt", "(", "y", ReplaceRegex, 0); !errors.Is(err, fault.ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestDelete_Batch(t *testing.T) {
	e, root := newTestEngine(t)
	mustWriteFile(t, filepath.Join(root, "keep", "f.txt"), "x")
	mustWriteFile(t, filepath.Join(root, "gone.txt"), "x")

	out := e.Delete(context.Background(), []string{"gone.txt", "missing.txt", "keep"}, false)
	if len(out) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(out))
	}
	if !out[0].Deleted {
		t.Fatalf("gone.txt not deleted: %+v", out[0])
	}
	if out[1].Deleted || out[1].Kind != string(fault.KindNotFound) {
		t.Fatalf("missing.txt outcome = %+v", out[1])
	}
	if out[2].Deleted {
		t.Fatalf("non-recursive delete of a directory must fail: %+v", out[2])
	}
	if out[2].Kind != string(fault.KindInternalIO) {
		t.Fatalf("non-empty dir outcome kind = %q", out[2].Kind)
	}
	if out[2].Error != "fsgate: internal io failure: remove" || strings.Contains(out[2].Error, root) {
		t.Fatalf("outcome leaked OS error detail: %q", out[2].Error)
	}

	out = e.Delete(context.Background(), []string{"keep"}, true)
	if !out[0].Deleted {
		t.Fatalf("recursive delete failed: %+v", out[0])
	}
	if _, err := os.Stat(filepath.Join(root, "keep")); !os.IsNotExist(err) {
		t.Fatalf("directory still present")
	}
}

func TestCreateDirs(t *testing.T) {
	e, root := newTestEngine(t, "vendor")
	out := e.CreateDirs([]string{"a/b/c", "vendor/new", "../escape"}, true)
	if len(out) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(out))
	}
	if !out[0].Created {
		t.Fatalf("nested mkdir failed: %+v", out[0])
	}
	if st, err := os.Stat(filepath.Join(root, "a", "b", "c")); err != nil || !st.IsDir() {
		t.Fatalf("directory missing: %v", err)
	}
	if out[1].Created || out[1].Kind != string(fault.KindProtectedPathDenied) {
		t.Fatalf("protected mkdir outcome = %+v", out[1])
	}
	if out[2].Created || out[2].Kind != string(fault.KindOutsideSandbox) {
		t.Fatalf("escaping mkdir outcome = %+v", out[2])
	}
}

func TestCreateDirs_NoParents(t *testing.T) {
	e, root := newTestEngine(t)
	out := e.CreateDirs([]string{"deep/leaf"}, false)
	if out[0].Created || out[0].Kind != string(fault.KindNotFound) {
		t.Fatalf("mkdir under a missing parent outcome = %+v", out[0])
	}
	if _, err := os.Stat(filepath.Join(root, "deep")); !os.IsNotExist(err) {
		t.Fatalf("non-parents mkdir must not create intermediates")
	}

	mustWriteFile(t, filepath.Join(root, "deep", ".keep"), "")
	out = e.CreateDirs([]string{"deep/leaf"}, false)
	if !out[0].Created {
		t.Fatalf("mkdir with existing parent failed: %+v", out[0])
	}
}

func TestWrite_ConcurrentSamePathNoInterleave(t *testing.T) {
	e, root := newTestEngine(t)
	a := strings.Repeat("a", 4096) + "\n"
	b := strings.Repeat("b", 4096) + "\n"

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		content := a
		if i%2 == 1 {
			content = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Write(context.Background(), "race.txt", []byte(content), WriteText); err != nil {
				t.Errorf("Write failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := os.ReadFile(filepath.Join(root, "race.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != a && string(got) != b {
		t.Fatalf("interleaved content survived concurrent writes")
	}
}
