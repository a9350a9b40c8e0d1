package catalog

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pdfkeep/internal/collection"
	"pdfkeep/internal/model"
)

// stubClock returns a fixed time and can be advanced by tests.
type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time { return c.now }

func (c *stubClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func testChecksum(seed byte) string {
	return strings.Repeat(string([]byte{'a' + seed%6, '0' + seed%10}), 32)
}

func newTestSQLite(t *testing.T, clock collection.Clock) (*SQLiteCatalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := NewSQLiteCatalog(path, clock)
	if err != nil {
		t.Fatalf("creating catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, path
}

func TestSQLiteMigrateIdempotent(t *testing.T) {
	c, path := newTestSQLite(t, nil)

	checksum := testChecksum(1)
	err := c.AddCanonicalFile(&model.CanonicalFile{
		Checksum:      checksum,
		CanonicalPath: "/library/sha256/aa/aa/x/doc.pdf",
		DisplayName:   "doc.pdf",
	})
	if err != nil {
		t.Fatalf("AddCanonicalFile: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening runs migrations again; existing data must survive.
	reopened, err := NewSQLiteCatalog(path, nil)
	if err != nil {
		t.Fatalf("reopening catalog: %v", err)
	}
	defer reopened.Close()

	known, err := reopened.IsKnown(checksum)
	if err != nil || !known {
		t.Errorf("IsKnown after reopen = %v, %v, want true", known, err)
	}
}

func TestSQLiteDuplicateChecksum(t *testing.T) {
	c, _ := newTestSQLite(t, nil)

	file := &model.CanonicalFile{
		Checksum:      testChecksum(2),
		CanonicalPath: "/library/doc.pdf",
		DisplayName:   "doc.pdf",
	}
	if err := c.AddCanonicalFile(file); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err := c.AddCanonicalFile(file)
	if !errors.Is(err, collection.ErrDuplicateChecksum) {
		t.Errorf("second insert error = %v, want ErrDuplicateChecksum", err)
	}
}

func TestSQLiteGetCanonicalFile(t *testing.T) {
	clock := newStubClock()
	c, _ := newTestSQLite(t, clock)

	pages := 42
	size := int64(123456)
	checksum := testChecksum(3)
	err := c.AddCanonicalFile(&model.CanonicalFile{
		Checksum:         checksum,
		CanonicalPath:    "/library/paper.pdf",
		DisplayName:      "paper.pdf",
		OriginalFilename: "dl-19283.pdf",
		PageCount:        &pages,
		FileSizeBytes:    &size,
	})
	if err != nil {
		t.Fatalf("AddCanonicalFile: %v", err)
	}

	got, err := c.GetCanonicalFile(checksum)
	if err != nil {
		t.Fatalf("GetCanonicalFile: %v", err)
	}
	if got == nil {
		t.Fatal("GetCanonicalFile returned nil")
	}
	if got.OriginalFilename != "dl-19283.pdf" || got.PageCount == nil || *got.PageCount != 42 ||
		got.FileSizeBytes == nil || *got.FileSizeBytes != 123456 {
		t.Errorf("row = %+v", got)
	}
	if !got.IngestedAt.Equal(clock.now) {
		t.Errorf("IngestedAt = %v, want %v", got.IngestedAt, clock.now)
	}

	missing, err := c.GetCanonicalFile(testChecksum(4))
	if err != nil || missing != nil {
		t.Errorf("missing lookup = %v, %v, want nil, nil", missing, err)
	}
}

func TestSQLiteSightingUpsert(t *testing.T) {
	clock := newStubClock()
	c, _ := newTestSQLite(t, clock)

	checksum := testChecksum(5)
	if err := c.AddCanonicalFile(&model.CanonicalFile{
		Checksum: checksum, CanonicalPath: "/x", DisplayName: "x.pdf",
	}); err != nil {
		t.Fatalf("AddCanonicalFile: %v", err)
	}

	if err := c.AddSourceSighting(checksum, "/downloads/x.pdf", "machine-a"); err != nil {
		t.Fatalf("first sighting: %v", err)
	}
	firstSeen := clock.now

	clock.advance(time.Hour)
	if err := c.AddSourceSighting(checksum, "/downloads/x.pdf", "machine-a"); err != nil {
		t.Fatalf("second sighting: %v", err)
	}

	var count int
	if err := c.db.QueryRow(
		"SELECT COUNT(*) FROM source_sightings WHERE checksum = ?", checksum,
	).Scan(&count); err != nil {
		t.Fatalf("counting sightings: %v", err)
	}
	if count != 1 {
		t.Errorf("sighting rows = %d, want 1 (upsert)", count)
	}

	var first, last time.Time
	err := c.db.QueryRow(
		`SELECT first_seen, last_seen FROM source_sightings
		WHERE checksum = ? AND machine_id = 'machine-a'`, checksum,
	).Scan(&first, &last)
	if err != nil {
		t.Fatalf("querying sighting times: %v", err)
	}
	if !first.Equal(firstSeen) {
		t.Errorf("first_seen = %v, want %v (unchanged)", first, firstSeen)
	}
	if !last.Equal(clock.now) {
		t.Errorf("last_seen = %v, want %v (advanced)", last, clock.now)
	}

	// A different machine observing the same path is a distinct row.
	if err := c.AddSourceSighting(checksum, "/downloads/x.pdf", "machine-b"); err != nil {
		t.Fatalf("machine-b sighting: %v", err)
	}
	if err := c.db.QueryRow(
		"SELECT COUNT(*) FROM source_sightings WHERE checksum = ?", checksum,
	).Scan(&count); err != nil {
		t.Fatalf("recount: %v", err)
	}
	if count != 2 {
		t.Errorf("sighting rows = %d, want 2", count)
	}
}

func TestSQLiteMirrorLinkUpsert(t *testing.T) {
	c, _ := newTestSQLite(t, nil)

	checksum := testChecksum(1)
	if err := c.AddCanonicalFile(&model.CanonicalFile{
		Checksum: checksum, CanonicalPath: "/x", DisplayName: "x.pdf",
	}); err != nil {
		t.Fatalf("AddCanonicalFile: %v", err)
	}

	if err := c.SetMirrorLink(&model.MirrorLink{
		Checksum: checksum, Status: model.LinkFailed, ErrorMessage: "throttled out",
	}); err != nil {
		t.Fatalf("first SetMirrorLink: %v", err)
	}

	// A later successful import replaces the failed link.
	if err := c.SetMirrorLink(&model.MirrorLink{
		Checksum: checksum, ItemKey: "ITEM1", AttachmentKey: "ATT1", Status: model.LinkImported,
	}); err != nil {
		t.Fatalf("second SetMirrorLink: %v", err)
	}

	link, err := c.GetMirrorLink(checksum)
	if err != nil {
		t.Fatalf("GetMirrorLink: %v", err)
	}
	if link.Status != model.LinkImported || link.ItemKey != "ITEM1" || link.ErrorMessage != "" {
		t.Errorf("link = %+v, want imported ITEM1 with cleared error", link)
	}
}

func TestSQLiteUnlinkedToMirror(t *testing.T) {
	c, _ := newTestSQLite(t, nil)

	add := func(seed byte) string {
		checksum := testChecksum(seed)
		if err := c.AddCanonicalFile(&model.CanonicalFile{
			Checksum: checksum, CanonicalPath: "/x", DisplayName: "x.pdf",
		}); err != nil {
			t.Fatalf("AddCanonicalFile: %v", err)
		}
		return checksum
	}

	noLink := add(0)
	imported := add(1)
	preExisting := add(2)
	failed := add(3)
	pending := add(4)

	setLink := func(checksum string, status model.LinkStatus) {
		if err := c.SetMirrorLink(&model.MirrorLink{Checksum: checksum, Status: status}); err != nil {
			t.Fatalf("SetMirrorLink: %v", err)
		}
	}
	setLink(imported, model.LinkImported)
	setLink(preExisting, model.LinkPreExisting)
	setLink(failed, model.LinkFailed)
	setLink(pending, model.LinkPending)

	unlinked, err := c.UnlinkedToMirror()
	if err != nil {
		t.Fatalf("UnlinkedToMirror: %v", err)
	}

	want := map[string]bool{noLink: true, failed: true, pending: true}
	if len(unlinked) != len(want) {
		t.Fatalf("unlinked = %v, want %v", unlinked, want)
	}
	for _, checksum := range unlinked {
		if !want[checksum] {
			t.Errorf("unexpected unlinked checksum %s", checksum)
		}
	}
	for i := 1; i < len(unlinked); i++ {
		if unlinked[i-1] >= unlinked[i] {
			t.Errorf("unlinked not sorted: %v", unlinked)
		}
	}
}

func TestSQLiteStatistics(t *testing.T) {
	c, _ := newTestSQLite(t, nil)

	size1, size2 := int64(100), int64(250)
	first := testChecksum(1)
	second := testChecksum(2)
	for checksum, size := range map[string]*int64{first: &size1, second: &size2} {
		if err := c.AddCanonicalFile(&model.CanonicalFile{
			Checksum: checksum, CanonicalPath: "/x", DisplayName: "x.pdf", FileSizeBytes: size,
		}); err != nil {
			t.Fatalf("AddCanonicalFile: %v", err)
		}
	}
	if err := c.SetMirrorLink(&model.MirrorLink{Checksum: first, Status: model.LinkImported}); err != nil {
		t.Fatalf("SetMirrorLink: %v", err)
	}
	if err := c.AddSourceSighting(first, "/a.pdf", "machine-a"); err != nil {
		t.Fatalf("AddSourceSighting: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.LogAction(first, model.ActionIngested, "/a.pdf", ""); err != nil {
			t.Fatalf("LogAction: %v", err)
		}
	}

	stats, err := c.Statistics(2)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}

	if stats.CanonicalFiles != 2 || stats.SourceSightings != 1 || stats.MirrorLinks != 1 {
		t.Errorf("counts = %+v", stats)
	}
	if stats.Linked != 1 || stats.Unlinked != 1 {
		t.Errorf("linked/unlinked = %d/%d, want 1/1", stats.Linked, stats.Unlinked)
	}
	if stats.TotalBytes != 350 {
		t.Errorf("TotalBytes = %d, want 350", stats.TotalBytes)
	}
	if stats.LogEntries != 3 || len(stats.RecentActions) != 2 {
		t.Errorf("log stats = %d entries, %d recent, want 3 and 2",
			stats.LogEntries, len(stats.RecentActions))
	}
}

func TestSQLiteLogOrder(t *testing.T) {
	c, _ := newTestSQLite(t, nil)

	checksum := testChecksum(1)
	if err := c.AddCanonicalFile(&model.CanonicalFile{
		Checksum: checksum, CanonicalPath: "/x", DisplayName: "x.pdf",
	}); err != nil {
		t.Fatalf("AddCanonicalFile: %v", err)
	}
	for _, action := range []string{model.ActionIngested, model.ActionMirrorImported} {
		if err := c.LogAction(checksum, action, "", ""); err != nil {
			t.Fatalf("LogAction: %v", err)
		}
	}

	stats, err := c.Statistics(10)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if len(stats.RecentActions) != 2 {
		t.Fatalf("recent = %d entries, want 2", len(stats.RecentActions))
	}
	// Newest first.
	if stats.RecentActions[0].Action != model.ActionMirrorImported {
		t.Errorf("recent[0] = %s, want %s", stats.RecentActions[0].Action, model.ActionMirrorImported)
	}
}
