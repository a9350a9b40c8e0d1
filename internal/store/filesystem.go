package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"pdfkeep/internal/collection"
)

var checksumPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// FilesystemStore is the content-addressed canonical store on disk.
// Each unique document lives at:
//
//	<root>/sha256/<hh>/<hh>/<checksum>/<display_name>.pdf
//
// where the two <hh> levels are the first four hex characters of the
// checksum, capping any directory's fan-out at 256 entries. Exactly one
// PDF lives inside each hash directory.
type FilesystemStore struct {
	root   string
	hasher collection.Hasher
}

// NewFilesystemStore creates a store rooted at the given library path.
// The sha256 tree is created up front, so an unwritable root fails here
// rather than mid-batch.
func NewFilesystemStore(root string, hasher collection.Hasher) (*FilesystemStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "sha256"), 0755); err != nil {
		return nil, fmt.Errorf("creating canonical store root: %w", err)
	}
	return &FilesystemStore{root: root, hasher: hasher}, nil
}

// OpenFilesystemStore creates a store handle without touching the disk.
// For read-only passes over a library that may not exist yet; lookups
// against a missing tree simply report nothing stored.
func OpenFilesystemStore(root string, hasher collection.Hasher) *FilesystemStore {
	return &FilesystemStore{root: root, hasher: hasher}
}

// Root returns the library root path.
func (s *FilesystemStore) Root() string {
	return s.root
}

// PathFor returns the canonical hash directory for a checksum.
func (s *FilesystemStore) PathFor(checksum string) (string, error) {
	normalized, err := normalizeChecksum(checksum)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, "sha256", normalized[:2], normalized[2:4], normalized), nil
}

// IsStored reports whether the hash directory already contains a PDF.
func (s *FilesystemStore) IsStored(checksum string) (bool, error) {
	path, err := s.CanonicalPath(checksum)
	if err != nil {
		return false, err
	}
	return path != "", nil
}

// CanonicalPath returns the stored PDF path for a checksum, or "" if the
// hash directory does not exist or holds no PDF.
func (s *FilesystemStore) CanonicalPath(checksum string) (string, error) {
	hashDir, err := s.PathFor(checksum)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(hashDir); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("stat hash directory: %w", err)
	}
	return existingPDF(hashDir)
}

// Store copies the source file into canonical storage and verifies the
// destination bytes against the checksum before making them visible.
// If a PDF already exists in the hash directory, its path is returned
// without copying (the dedup fast path).
func (s *FilesystemStore) Store(sourcePath, checksum, displayName string) (string, error) {
	normalized, err := normalizeChecksum(checksum)
	if err != nil {
		return "", err
	}

	hashDir, err := s.PathFor(normalized)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(hashDir, 0755); err != nil {
		return "", fmt.Errorf("creating hash directory: %w", err)
	}

	existing, err := existingPDF(hashDir)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	destName := displayName
	if !strings.HasSuffix(strings.ToLower(destName), ".pdf") {
		destName += ".pdf"
	}
	destPath := filepath.Join(hashDir, destName)

	if err := s.copyVerified(sourcePath, destPath, normalized); err != nil {
		return "", err
	}
	return destPath, nil
}

// copyVerified copies source bytes to a temp file in the destination
// directory, re-hashes the temp bytes, and renames into place only on a
// match. A half-written or wrongly-hashed file never becomes visible.
func (s *FilesystemStore) copyVerified(sourcePath, destPath, checksum string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", collection.ErrUnreadable, sourcePath, err)
	}
	defer src.Close()

	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, src); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copying to canonical store: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	destHash, err := s.hasher.HashFile(tmpPath)
	if err != nil {
		return fmt.Errorf("verifying copied file: %w", err)
	}
	if destHash != checksum {
		return fmt.Errorf("%w: %s: expected %s, got %s",
			collection.ErrIntegrityMismatch, destPath, checksum, destHash)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming into canonical store: %w", err)
	}
	success = true
	return nil
}

// existingPDF returns the single PDF inside a hash directory, or "".
// More than one PDF means the store invariant was broken out-of-band.
func existingPDF(hashDir string) (string, error) {
	entries, err := os.ReadDir(hashDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading hash directory: %w", err)
	}

	var pdfs []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			pdfs = append(pdfs, filepath.Join(hashDir, entry.Name()))
		}
	}
	sort.Strings(pdfs)

	if len(pdfs) > 1 {
		return "", fmt.Errorf("hash directory must contain one PDF, found %d: %s", len(pdfs), hashDir)
	}
	if len(pdfs) == 0 {
		return "", nil
	}
	return pdfs[0], nil
}

func normalizeChecksum(checksum string) (string, error) {
	normalized := strings.ToLower(checksum)
	if !checksumPattern.MatchString(normalized) {
		return "", fmt.Errorf("checksum must be a 64-character hex SHA-256 digest: %q", checksum)
	}
	return normalized, nil
}

// Compile-time check that FilesystemStore implements collection.Store
var _ collection.Store = (*FilesystemStore)(nil)
