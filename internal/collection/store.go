package collection

import "errors"

// ErrIntegrityMismatch is returned by Store when the copied destination
// bytes do not hash to the expected checksum. A mismatched file must
// never become visible in the canonical store.
var ErrIntegrityMismatch = errors.New("destination hash does not match expected checksum")

// Store is the content-addressed canonical store. Destination paths are
// derived deterministically from the checksum; stored files are never
// modified or deleted by this system.
type Store interface {
	// PathFor returns the canonical hash directory for a checksum:
	// <root>/sha256/<hh>/<hh>/<checksum>. Pure; validates the checksum.
	PathFor(checksum string) (string, error)

	// Store copies the source file into canonical storage under the given
	// display name and verifies the destination bytes against checksum.
	// If the hash directory already holds a PDF, that path is returned
	// without copying. Partial output is cleaned up on any failure.
	Store(sourcePath, checksum, displayName string) (string, error)

	// IsStored reports whether the hash directory already contains a PDF.
	// Existence check only; no hashing.
	IsStored(checksum string) (bool, error)

	// CanonicalPath returns the stored PDF path for a checksum, or ""
	// if nothing is stored.
	CanonicalPath(checksum string) (string, error)
}
