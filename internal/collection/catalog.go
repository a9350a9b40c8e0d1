package collection

import (
	"errors"

	"pdfkeep/internal/model"
)

// ErrDuplicateChecksum is returned by AddCanonicalFile when a row for the
// checksum already exists. Callers check IsKnown in the normal flow; the
// catalog enforces the one-row-per-checksum invariant as a backstop.
var ErrDuplicateChecksum = errors.New("canonical file already cataloged for checksum")

// Catalog provides an interface for durable collection state: canonical
// files, source sightings, mirror links, and the append-only ingest log.
type Catalog interface {
	// AddCanonicalFile inserts one canonical file row, stamping IngestedAt.
	// Returns ErrDuplicateChecksum if the checksum is already cataloged.
	AddCanonicalFile(file *model.CanonicalFile) error

	// IsKnown reports whether the checksum exists in the canonical files table.
	IsKnown(checksum string) (bool, error)

	// GetCanonicalFile returns the canonical file row, or nil if absent.
	GetCanonicalFile(checksum string) (*model.CanonicalFile, error)

	// ListChecksums returns all cataloged checksums in ascending order.
	ListChecksums() ([]string, error)

	// AddSourceSighting upserts a provenance record: inserted with
	// first_seen=last_seen=now when absent, otherwise only last_seen is
	// advanced. Sightings are never deleted.
	AddSourceSighting(checksum, sourcePath, machineID string) error

	// SetMirrorLink upserts the mirror link for link.Checksum, stamping
	// LinkedAt. At most one link exists per checksum.
	SetMirrorLink(link *model.MirrorLink) error

	// GetMirrorLink returns the mirror link row, or nil if absent.
	GetMirrorLink(checksum string) (*model.MirrorLink, error)

	// UnlinkedToMirror returns checksums of canonical files with no mirror
	// link, or whose link status is retryable (failed or pending), in
	// ascending order.
	UnlinkedToMirror() ([]string, error)

	// LogAction appends one ingest log row. Engines treat a returned error
	// as a health signal, never as an ingest failure.
	LogAction(checksum, action, sourcePath, detail string) error

	// Statistics returns catalog counts plus the most recent log entries.
	Statistics(recentLimit int) (*model.Statistics, error)

	// Close closes the underlying storage.
	Close() error
}
