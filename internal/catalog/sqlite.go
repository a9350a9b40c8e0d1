package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"pdfkeep/internal/catalog/migrations"
	"pdfkeep/internal/collection"
	"pdfkeep/internal/model"
)

// SQLiteCatalog implements the Catalog interface using SQLite.
type SQLiteCatalog struct {
	db    *sql.DB
	path  string
	clock collection.Clock
}

// NewSQLiteCatalog opens (creating if needed) a catalog database at path
// and brings its schema up to date. path can be ":memory:" for an
// in-memory database.
func NewSQLiteCatalog(path string, clock collection.Clock) (*SQLiteCatalog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	if clock == nil {
		clock = collection.RealClock{}
	}

	return &SQLiteCatalog{db: db, path: path, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a raw connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys are OFF by default in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	// Wait up to 5s for locks instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// AddCanonicalFile inserts one canonical file row.
func (c *SQLiteCatalog) AddCanonicalFile(file *model.CanonicalFile) error {
	_, err := c.db.Exec(
		`INSERT INTO canonical_files (
			checksum, canonical_path, display_name, original_filename,
			page_count, file_size_bytes, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		file.Checksum,
		file.CanonicalPath,
		file.DisplayName,
		nullString(file.OriginalFilename),
		nullInt(file.PageCount),
		nullInt64(file.FileSizeBytes),
		c.clock.Now(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s", collection.ErrDuplicateChecksum, file.Checksum)
		}
		return fmt.Errorf("inserting canonical file: %w", err)
	}
	return nil
}

// IsKnown reports whether the checksum exists in canonical_files.
func (c *SQLiteCatalog) IsKnown(checksum string) (bool, error) {
	var one int
	err := c.db.QueryRow(
		"SELECT 1 FROM canonical_files WHERE checksum = ?", checksum,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking for checksum: %w", err)
	}
	return true, nil
}

// GetCanonicalFile returns the canonical file row, or nil if absent.
func (c *SQLiteCatalog) GetCanonicalFile(checksum string) (*model.CanonicalFile, error) {
	var (
		file             model.CanonicalFile
		originalFilename sql.NullString
		pageCount        sql.NullInt64
		fileSizeBytes    sql.NullInt64
	)
	err := c.db.QueryRow(
		`SELECT checksum, canonical_path, display_name, original_filename,
			page_count, file_size_bytes, ingested_at
		FROM canonical_files WHERE checksum = ?`, checksum,
	).Scan(
		&file.Checksum, &file.CanonicalPath, &file.DisplayName,
		&originalFilename, &pageCount, &fileSizeBytes, &file.IngestedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding canonical file: %w", err)
	}

	file.OriginalFilename = originalFilename.String
	if pageCount.Valid {
		count := int(pageCount.Int64)
		file.PageCount = &count
	}
	if fileSizeBytes.Valid {
		size := fileSizeBytes.Int64
		file.FileSizeBytes = &size
	}
	return &file, nil
}

// ListChecksums returns all cataloged checksums in ascending order.
func (c *SQLiteCatalog) ListChecksums() ([]string, error) {
	rows, err := c.db.Query("SELECT checksum FROM canonical_files ORDER BY checksum")
	if err != nil {
		return nil, fmt.Errorf("listing checksums: %w", err)
	}
	defer rows.Close()

	var checksums []string
	for rows.Next() {
		var checksum string
		if err := rows.Scan(&checksum); err != nil {
			return nil, fmt.Errorf("scanning checksum: %w", err)
		}
		checksums = append(checksums, checksum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing checksums: %w", err)
	}
	return checksums, nil
}

// AddSourceSighting upserts a provenance record for the triple
// (checksum, sourcePath, machineID). Only last_seen advances on conflict.
func (c *SQLiteCatalog) AddSourceSighting(checksum, sourcePath, machineID string) error {
	now := c.clock.Now()
	_, err := c.db.Exec(
		`INSERT INTO source_sightings (
			checksum, source_path, machine_id, first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(checksum, source_path, machine_id)
		DO UPDATE SET last_seen = excluded.last_seen`,
		checksum, sourcePath, machineID, now, now,
	)
	if err != nil {
		return fmt.Errorf("recording source sighting: %w", err)
	}
	return nil
}

// SetMirrorLink upserts the mirror link for link.Checksum.
func (c *SQLiteCatalog) SetMirrorLink(link *model.MirrorLink) error {
	_, err := c.db.Exec(
		`INSERT INTO mirror_links (
			checksum, item_key, attachment_key, status, error_message, linked_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(checksum)
		DO UPDATE SET
			item_key = excluded.item_key,
			attachment_key = excluded.attachment_key,
			status = excluded.status,
			error_message = excluded.error_message,
			linked_at = excluded.linked_at`,
		link.Checksum,
		nullString(link.ItemKey),
		nullString(link.AttachmentKey),
		string(link.Status),
		nullString(link.ErrorMessage),
		c.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("setting mirror link: %w", err)
	}
	return nil
}

// GetMirrorLink returns the mirror link row, or nil if absent.
func (c *SQLiteCatalog) GetMirrorLink(checksum string) (*model.MirrorLink, error) {
	var (
		link          model.MirrorLink
		itemKey       sql.NullString
		attachmentKey sql.NullString
		status        string
		errorMessage  sql.NullString
	)
	err := c.db.QueryRow(
		`SELECT checksum, item_key, attachment_key, status, error_message, linked_at
		FROM mirror_links WHERE checksum = ?`, checksum,
	).Scan(&link.Checksum, &itemKey, &attachmentKey, &status, &errorMessage, &link.LinkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding mirror link: %w", err)
	}

	link.ItemKey = itemKey.String
	link.AttachmentKey = attachmentKey.String
	link.Status = model.LinkStatus(status)
	link.ErrorMessage = errorMessage.String
	return &link, nil
}

// UnlinkedToMirror returns checksums with no mirror link or a retryable one.
func (c *SQLiteCatalog) UnlinkedToMirror() ([]string, error) {
	rows, err := c.db.Query(
		`SELECT c.checksum
		FROM canonical_files AS c
		LEFT JOIN mirror_links AS m ON m.checksum = c.checksum
		WHERE m.checksum IS NULL
		   OR m.status IN ('failed', 'pending')
		ORDER BY c.checksum`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unlinked checksums: %w", err)
	}
	defer rows.Close()

	var checksums []string
	for rows.Next() {
		var checksum string
		if err := rows.Scan(&checksum); err != nil {
			return nil, fmt.Errorf("scanning checksum: %w", err)
		}
		checksums = append(checksums, checksum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying unlinked checksums: %w", err)
	}
	return checksums, nil
}

// LogAction appends one ingest log row.
func (c *SQLiteCatalog) LogAction(checksum, action, sourcePath, detail string) error {
	_, err := c.db.Exec(
		`INSERT INTO ingest_log (checksum, action, source_path, detail, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		checksum, action, nullString(sourcePath), nullString(detail), c.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("appending ingest log: %w", err)
	}
	return nil
}

// Statistics returns catalog counts plus recent log entries.
func (c *SQLiteCatalog) Statistics(recentLimit int) (*model.Statistics, error) {
	stats := &model.Statistics{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM canonical_files", &stats.CanonicalFiles},
		{"SELECT COUNT(*) FROM source_sightings", &stats.SourceSightings},
		{"SELECT COUNT(*) FROM mirror_links", &stats.MirrorLinks},
		{"SELECT COUNT(*) FROM ingest_log", &stats.LogEntries},
		{`SELECT COUNT(*) FROM canonical_files AS c
			JOIN mirror_links AS m ON m.checksum = c.checksum
			WHERE m.status IN ('imported', 'pre-existing')`, &stats.Linked},
		{"SELECT COALESCE(SUM(file_size_bytes), 0) FROM canonical_files", &stats.TotalBytes},
	}
	for _, count := range counts {
		if err := c.db.QueryRow(count.query).Scan(count.dest); err != nil {
			return nil, fmt.Errorf("computing catalog statistics: %w", err)
		}
	}
	stats.Unlinked = stats.CanonicalFiles - stats.Linked

	if recentLimit > 0 {
		recent, err := c.recentLog(recentLimit)
		if err != nil {
			return nil, err
		}
		stats.RecentActions = recent
	}
	return stats, nil
}

// recentLog returns the most recent log entries, newest first.
func (c *SQLiteCatalog) recentLog(limit int) ([]model.LogEntry, error) {
	rows, err := c.db.Query(
		`SELECT log_id, checksum, action, source_path, detail, timestamp
		FROM ingest_log ORDER BY log_id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent log: %w", err)
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var (
			entry      model.LogEntry
			sourcePath sql.NullString
			detail     sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Checksum, &entry.Action, &sourcePath, &detail, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		entry.SourcePath = sourcePath.String
		entry.Detail = detail.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying recent log: %w", err)
	}
	return entries, nil
}

// Path returns the database file path (or ":memory:").
func (c *SQLiteCatalog) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// Compile-time check that SQLiteCatalog implements collection.Catalog
var _ collection.Catalog = (*SQLiteCatalog)(nil)
