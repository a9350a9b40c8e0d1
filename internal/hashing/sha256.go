package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"pdfkeep/internal/collection"
)

// SHA256Hasher streams file bytes through crypto/sha256. It never loads
// the whole file into memory.
type SHA256Hasher struct{}

// NewSHA256Hasher creates a new streaming hasher.
func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

// HashFile returns the lowercase hex SHA-256 digest of the file's bytes.
// Open, read, and stat failures wrap collection.ErrUnreadable so callers
// can treat them as per-file failures.
func (h *SHA256Hasher) HashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %v", collection.ErrUnreadable, path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: not a regular file: %s", collection.ErrUnreadable, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", collection.ErrUnreadable, path, err)
	}
	defer f.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", fmt.Errorf("%w: read %s: %v", collection.ErrUnreadable, path, err)
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

// Compile-time check that SHA256Hasher implements collection.Hasher
var _ collection.Hasher = (*SHA256Hasher)(nil)
