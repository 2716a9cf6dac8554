package storage

import (
	"context"
	"io"
	"os"
	"testing"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func writeFile(t *testing.T, s *Local, name, data string) {
	t.Helper()
	w, err := s.Create(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, s *Local, name string) string {
	t.Helper()
	r, err := s.Open(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(got)
}

func TestCreateTruncates(t *testing.T) {
	s := newTestLocal(t)

	writeFile(t, s, "rec/Audio.wav", "a long first version")
	writeFile(t, s, "rec/Audio.wav", "short")

	if got := readFile(t, s, "rec/Audio.wav"); got != "short" {
		t.Fatalf("got %q, want %q", got, "short")
	}
}

func TestAppend(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	writeFile(t, s, "Audio.wav", "head")
	for _, part := range []string{"-one", "-two"} {
		w, err := s.Append(ctx, "Audio.wav")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, part); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}

	if got := readFile(t, s, "Audio.wav"); got != "head-one-two" {
		t.Fatalf("got %q", got)
	}

	size, err := s.Size(ctx, "Audio.wav")
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("head-one-two")) {
		t.Fatalf("size = %d", size)
	}
}

func TestAppendMissingFile(t *testing.T) {
	s := newTestLocal(t)

	_, err := s.Append(context.Background(), "missing.wav")
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestOpenSeek(t *testing.T) {
	s := newTestLocal(t)
	writeFile(t, s, "f", "0123456789")

	r, err := s.Open(context.Background(), "f")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Seek(4, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "456" {
		t.Fatalf("got %q", buf)
	}
}

func TestExistsAndRemove(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "present")
	if err != nil || ok {
		t.Fatalf("expected missing file, got %v %v", ok, err)
	}

	writeFile(t, s, "present", "x")
	if ok, _ := s.Exists(ctx, "present"); !ok {
		t.Fatal("expected true after create")
	}

	if err := s.Remove(ctx, "present"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(ctx, "present"); ok {
		t.Fatal("expected false after remove")
	}
	if err := s.Remove(ctx, "present"); err != nil {
		t.Fatalf("second remove should be idempotent, got %v", err)
	}
}

func TestRenameReplaces(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	writeFile(t, s, "Audio.wav", "old")
	writeFile(t, s, "Audio_temp.wav", "new")

	if err := s.Rename(ctx, "Audio_temp.wav", "Audio.wav"); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, s, "Audio.wav"); got != "new" {
		t.Fatalf("got %q", got)
	}
	if ok, _ := s.Exists(ctx, "Audio_temp.wav"); ok {
		t.Fatal("temp file should be gone after rename")
	}
}
