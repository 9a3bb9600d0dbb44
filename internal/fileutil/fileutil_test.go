package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.bin")

	size, err := Size(path)
	if err != nil || size != 0 {
		t.Fatalf("missing file: size=%d err=%v", size, err)
	}

	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	size, err = Size(path)
	if err != nil {
		t.Fatal(err)
	}
	if size != 5 {
		t.Fatalf("expected 5 bytes, got %d", size)
	}

	if _, err := Size(dir); err == nil {
		t.Fatal("expected error for directory")
	}
}

func TestWriteAndReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mirrors.txt")
	lines := []string{"https://a.example.org", "https://b.example.org"}

	if err := WriteLinesAtomic(path, lines); err != nil {
		t.Fatal(err)
	}
	got, err := ReadLines(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != lines[0] || got[1] != lines[1] {
		t.Fatalf("unexpected lines: %v", got)
	}

	if err := WriteLinesAtomic(path, nil); err != nil {
		t.Fatal(err)
	}
	got, err = ReadLines(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty file after rewrite, got %v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be renamed away, found %d entries", len(entries))
	}
}

func TestReadLinesSkipsCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	content := "# mirrors\n\n  https://a.example.org  \n#https://off.example.org\nhttps://b.example.org\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadLines(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "https://a.example.org" || got[1] != "https://b.example.org" {
		t.Fatalf("unexpected lines: %v", got)
	}
}

func TestReadLinesMissingFile(t *testing.T) {
	got, err := ReadLines(filepath.Join(t.TempDir(), "nope"))
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone")
	if err := RemoveIfExists(path); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RemoveIfExists(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
}
