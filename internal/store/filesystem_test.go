package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pdfkeep/internal/collection"
	"pdfkeep/internal/hashing"
)

func checksumOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func newTestStore(t *testing.T) *FilesystemStore {
	t.Helper()
	s, err := NewFilesystemStore(t.TempDir(), hashing.NewSHA256Hasher())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return s
}

func TestPathFor(t *testing.T) {
	s := newTestStore(t)
	checksum := strings.Repeat("ab", 32)

	path, err := s.PathFor(checksum)
	if err != nil {
		t.Fatalf("PathFor: %v", err)
	}
	want := filepath.Join(s.Root(), "sha256", "ab", "ab", checksum)
	if path != want {
		t.Errorf("PathFor = %s, want %s", path, want)
	}

	// Uppercase input normalizes to the same location.
	upper, err := s.PathFor(strings.ToUpper(checksum))
	if err != nil {
		t.Fatalf("PathFor uppercase: %v", err)
	}
	if upper != want {
		t.Errorf("uppercase PathFor = %s, want %s", upper, want)
	}
}

func TestPathForInvalidChecksum(t *testing.T) {
	s := newTestStore(t)
	for _, checksum := range []string{"", "abc", strings.Repeat("g", 64), strings.Repeat("a", 63)} {
		if _, err := s.PathFor(checksum); err == nil {
			t.Errorf("PathFor(%q) accepted an invalid checksum", checksum)
		}
	}
}

func TestStoreAndLookup(t *testing.T) {
	s := newTestStore(t)
	src := writeSource(t, t.TempDir(), "source.pdf", "some document bytes")
	checksum := checksumOf("some document bytes")

	if stored, _ := s.IsStored(checksum); stored {
		t.Fatal("IsStored true before Store")
	}

	dest, err := s.Store(src, checksum, "My Paper.pdf")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if filepath.Base(dest) != "My Paper.pdf" {
		t.Errorf("dest name = %s, want My Paper.pdf", filepath.Base(dest))
	}

	stored, err := s.IsStored(checksum)
	if err != nil || !stored {
		t.Errorf("IsStored = %v, %v, want true", stored, err)
	}
	canonical, err := s.CanonicalPath(checksum)
	if err != nil || canonical != dest {
		t.Errorf("CanonicalPath = %s, %v, want %s", canonical, err, dest)
	}

	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "some document bytes" {
		t.Errorf("stored content = %q, %v", data, err)
	}
}

func TestStoreIdempotent(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	src := writeSource(t, dir, "first.pdf", "identical bytes")
	checksum := checksumOf("identical bytes")

	first, err := s.Store(src, checksum, "First Name.pdf")
	if err != nil {
		t.Fatalf("first Store: %v", err)
	}
	before, err := os.Stat(first)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	// A second call with a different source and display name is a no-op
	// and returns the already-stored path.
	other := writeSource(t, dir, "second.pdf", "identical bytes")
	second, err := s.Store(other, checksum, "Different Name.pdf")
	if err != nil {
		t.Fatalf("second Store: %v", err)
	}
	if second != first {
		t.Errorf("second Store returned %s, want %s", second, first)
	}

	after, err := os.Stat(first)
	if err != nil {
		t.Fatalf("stat after: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("existing canonical file was rewritten")
	}
}

func TestStoreForcesPDFSuffix(t *testing.T) {
	s := newTestStore(t)
	src := writeSource(t, t.TempDir(), "x.pdf", "suffix test bytes")

	dest, err := s.Store(src, checksumOf("suffix test bytes"), "no suffix name")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if filepath.Base(dest) != "no suffix name.pdf" {
		t.Errorf("dest name = %s", filepath.Base(dest))
	}
}

// wrongHasher reports a fixed bogus digest, simulating corruption during
// the copy.
type wrongHasher struct{}

func (wrongHasher) HashFile(string) (string, error) {
	return strings.Repeat("0", 64), nil
}

func TestStoreIntegrityMismatch(t *testing.T) {
	root := t.TempDir()
	s, err := NewFilesystemStore(root, wrongHasher{})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	src := writeSource(t, t.TempDir(), "x.pdf", "real content")
	checksum := checksumOf("real content")

	_, err = s.Store(src, checksum, "x.pdf")
	if !errors.Is(err, collection.ErrIntegrityMismatch) {
		t.Fatalf("Store error = %v, want ErrIntegrityMismatch", err)
	}

	// No partial or corrupt file may remain visible.
	hashDir, _ := s.PathFor(checksum)
	entries, err := os.ReadDir(hashDir)
	if err != nil {
		t.Fatalf("reading hash dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("hash dir not empty after failed store: %v", entries)
	}
}

func TestCanonicalPathEmptyForUnknown(t *testing.T) {
	s := newTestStore(t)
	path, err := s.CanonicalPath(strings.Repeat("cd", 32))
	if err != nil {
		t.Fatalf("CanonicalPath: %v", err)
	}
	if path != "" {
		t.Errorf("CanonicalPath = %q, want empty", path)
	}
}

func TestOpenFilesystemStoreDoesNotCreate(t *testing.T) {
	root := filepath.Join(t.TempDir(), "library")
	s := OpenFilesystemStore(root, hashing.NewSHA256Hasher())

	stored, err := s.IsStored(strings.Repeat("ef", 32))
	if err != nil || stored {
		t.Errorf("IsStored = %v, %v, want false, nil", stored, err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("read-only open created the library root")
	}
}
