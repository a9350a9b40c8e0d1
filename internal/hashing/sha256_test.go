package hashing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pdfkeep/internal/collection"
)

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.pdf")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	got, err := NewSHA256Hasher().HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	const want = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}
}

func TestHashFileMissing(t *testing.T) {
	_, err := NewSHA256Hasher().HashFile(filepath.Join(t.TempDir(), "gone.pdf"))
	if !errors.Is(err, collection.ErrUnreadable) {
		t.Errorf("error = %v, want ErrUnreadable", err)
	}
}

func TestHashFileDirectory(t *testing.T) {
	_, err := NewSHA256Hasher().HashFile(t.TempDir())
	if !errors.Is(err, collection.ErrUnreadable) {
		t.Errorf("error = %v, want ErrUnreadable", err)
	}
}
