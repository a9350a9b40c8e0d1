package collection

import "errors"

// ErrUnreadable is returned when a source file cannot be opened or read
// to completion. It marks a per-file failure: batches log it and continue.
var ErrUnreadable = errors.New("file is not readable")

// Hasher computes the content checksum that defines document identity.
type Hasher interface {
	// HashFile streams the file's bytes and returns the lowercase hex
	// SHA-256 digest. The result depends only on the byte sequence, never
	// on the name, path, or timestamps.
	HashFile(path string) (string, error)
}
