package model

import "time"

// LinkStatus is the state of a canonical file's relationship to the mirror.
type LinkStatus string

const (
	// LinkImported means this system created the mirror entry.
	LinkImported LinkStatus = "imported"
	// LinkPreExisting means the mirror already held this content.
	LinkPreExisting LinkStatus = "pre-existing"
	// LinkFailed records a failed import, retryable on a later sync.
	LinkFailed LinkStatus = "failed"
	// LinkPending marks an import that has been queued but not attempted.
	LinkPending LinkStatus = "pending"
)

// Ingest log actions. The log is a pure audit trail and is never read
// for decision-making.
const (
	ActionIngested         = "ingested"
	ActionSkippedDuplicate = "skipped_duplicate"
	ActionMirrorImported   = "mirror_imported"
	ActionMirrorSkipped    = "mirror_skipped"
	ActionFailed           = "failed"
)

// CanonicalFile is the authoritative record of one unique document.
// The Checksum is the lowercase hex SHA-256 of the file's exact bytes
// and is the sole identity for deduplication.
type CanonicalFile struct {
	Checksum         string
	CanonicalPath    string
	DisplayName      string
	OriginalFilename string // empty if unknown
	PageCount        *int   // nil if extraction failed or was skipped
	FileSizeBytes    *int64 // nil if unknown
	IngestedAt       time.Time
}

// SourceSighting records where a known checksum was observed on some
// machine. Provenance only; many-to-one with CanonicalFile.
type SourceSighting struct {
	Checksum   string
	SourcePath string
	MachineID  string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// MirrorLink relates a canonical file to its mirror representation.
// At most one link exists per checksum.
type MirrorLink struct {
	Checksum      string
	ItemKey       string // empty until imported
	AttachmentKey string // empty until imported, or if attach was skipped
	Status        LinkStatus
	ErrorMessage  string
	LinkedAt      time.Time
}

// LogEntry is one append-only ingest log row.
type LogEntry struct {
	ID         int64
	Checksum   string
	Action     string
	SourcePath string
	Detail     string
	Timestamp  time.Time
}

// Statistics summarizes catalog state for status reporting.
type Statistics struct {
	CanonicalFiles  int64
	SourceSightings int64
	MirrorLinks     int64
	Linked          int64
	Unlinked        int64
	LogEntries      int64
	TotalBytes      int64
	RecentActions   []LogEntry
}
