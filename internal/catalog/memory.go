package catalog

import (
	"fmt"
	"sort"
	"sync"

	"pdfkeep/internal/collection"
	"pdfkeep/internal/model"
)

// MemoryCatalog is an in-memory implementation of the Catalog interface.
// Used in engine tests where SQLite would only add noise.
type MemoryCatalog struct {
	mu        sync.Mutex
	clock     collection.Clock
	files     map[string]model.CanonicalFile
	sightings map[sightingKey]model.SourceSighting
	links     map[string]model.MirrorLink
	log       []model.LogEntry
}

type sightingKey struct {
	checksum   string
	sourcePath string
	machineID  string
}

// NewMemoryCatalog creates an empty in-memory catalog. A nil clock
// defaults to real time.
func NewMemoryCatalog(clock collection.Clock) *MemoryCatalog {
	if clock == nil {
		clock = collection.RealClock{}
	}
	return &MemoryCatalog{
		clock:     clock,
		files:     make(map[string]model.CanonicalFile),
		sightings: make(map[sightingKey]model.SourceSighting),
		links:     make(map[string]model.MirrorLink),
	}
}

func (c *MemoryCatalog) AddCanonicalFile(file *model.CanonicalFile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.files[file.Checksum]; exists {
		return fmt.Errorf("%w: %s", collection.ErrDuplicateChecksum, file.Checksum)
	}

	stored := *file
	stored.IngestedAt = c.clock.Now()
	c.files[file.Checksum] = stored
	return nil
}

func (c *MemoryCatalog) IsKnown(checksum string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[checksum]
	return ok, nil
}

func (c *MemoryCatalog) GetCanonicalFile(checksum string) (*model.CanonicalFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	file, ok := c.files[checksum]
	if !ok {
		return nil, nil
	}
	return &file, nil
}

func (c *MemoryCatalog) ListChecksums() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	checksums := make([]string, 0, len(c.files))
	for checksum := range c.files {
		checksums = append(checksums, checksum)
	}
	sort.Strings(checksums)
	return checksums, nil
}

func (c *MemoryCatalog) AddSourceSighting(checksum, sourcePath, machineID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	key := sightingKey{checksum, sourcePath, machineID}
	if existing, ok := c.sightings[key]; ok {
		existing.LastSeen = now
		c.sightings[key] = existing
		return nil
	}
	c.sightings[key] = model.SourceSighting{
		Checksum:   checksum,
		SourcePath: sourcePath,
		MachineID:  machineID,
		FirstSeen:  now,
		LastSeen:   now,
	}
	return nil
}

func (c *MemoryCatalog) SetMirrorLink(link *model.MirrorLink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *link
	stored.LinkedAt = c.clock.Now()
	c.links[link.Checksum] = stored
	return nil
}

func (c *MemoryCatalog) GetMirrorLink(checksum string) (*model.MirrorLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	link, ok := c.links[checksum]
	if !ok {
		return nil, nil
	}
	return &link, nil
}

func (c *MemoryCatalog) UnlinkedToMirror() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var checksums []string
	for checksum := range c.files {
		link, ok := c.links[checksum]
		if !ok || link.Status == model.LinkFailed || link.Status == model.LinkPending {
			checksums = append(checksums, checksum)
		}
	}
	sort.Strings(checksums)
	return checksums, nil
}

func (c *MemoryCatalog) LogAction(checksum, action, sourcePath, detail string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log = append(c.log, model.LogEntry{
		ID:         int64(len(c.log) + 1),
		Checksum:   checksum,
		Action:     action,
		SourcePath: sourcePath,
		Detail:     detail,
		Timestamp:  c.clock.Now(),
	})
	return nil
}

// LogEntries returns a copy of the full ingest log, oldest first.
// Test helper; not part of the Catalog interface.
func (c *MemoryCatalog) LogEntries() []model.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]model.LogEntry, len(c.log))
	copy(entries, c.log)
	return entries
}

// Sighting returns the sighting for a triple, or nil. Test helper.
func (c *MemoryCatalog) Sighting(checksum, sourcePath, machineID string) *model.SourceSighting {
	c.mu.Lock()
	defer c.mu.Unlock()
	sighting, ok := c.sightings[sightingKey{checksum, sourcePath, machineID}]
	if !ok {
		return nil
	}
	return &sighting
}

func (c *MemoryCatalog) Statistics(recentLimit int) (*model.Statistics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := &model.Statistics{
		CanonicalFiles:  int64(len(c.files)),
		SourceSightings: int64(len(c.sightings)),
		MirrorLinks:     int64(len(c.links)),
		LogEntries:      int64(len(c.log)),
	}
	for _, file := range c.files {
		if file.FileSizeBytes != nil {
			stats.TotalBytes += *file.FileSizeBytes
		}
		link, ok := c.links[file.Checksum]
		if ok && (link.Status == model.LinkImported || link.Status == model.LinkPreExisting) {
			stats.Linked++
		}
	}
	stats.Unlinked = stats.CanonicalFiles - stats.Linked

	for i := len(c.log) - 1; i >= 0 && len(stats.RecentActions) < recentLimit; i-- {
		stats.RecentActions = append(stats.RecentActions, c.log[i])
	}
	return stats, nil
}

func (c *MemoryCatalog) Close() error { return nil }

// Compile-time check that MemoryCatalog implements collection.Catalog
var _ collection.Catalog = (*MemoryCatalog)(nil)
