package collection

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"pdfkeep/internal/model"
)

// PageCountFunc extracts a page count, returning nil on any failure.
// Best-effort only; never blocks ingest.
type PageCountFunc func(path string) *int

// MirrorScanFunc builds a fresh snapshot of the mirror's local cache.
type MirrorScanFunc func(ctx context.Context) (MirrorIndex, error)

// Failure records one file that could not be processed, with the
// specific path and reason for the batch summary.
type Failure struct {
	Path   string
	Reason string
}

// IngestSummary aggregates one ingest batch for reporting.
type IngestSummary struct {
	Scanned        int
	New            int
	Duplicate      int
	Failed         int
	MirrorImported int
	MirrorExisting int
	Failures       []Failure
}

// IngestOptions control a single ingest batch.
type IngestOptions struct {
	// DryRun reports what would happen without writing to the store,
	// catalog, or mirror.
	DryRun bool
	// SkipMirror suppresses the mirror sync step.
	SkipMirror bool
}

// Deps are the shared dependencies of the ingest and rectify engines.
// Syncer and MirrorScan may be nil, which disables mirror synchronization.
type Deps struct {
	Catalog     Catalog
	Store       Store
	Hasher      Hasher
	Syncer      *MirrorSyncer
	MirrorScan  MirrorScanFunc
	PageCount   PageCountFunc
	DisplayName DisplayNameFunc
	MachineID   string
	Workers     int
	Logger      Logger
}

func (d *Deps) applyDefaults() {
	if d.PageCount == nil {
		d.PageCount = func(string) *int { return nil }
	}
	if d.DisplayName == nil {
		d.DisplayName = GenerateDisplayName
	}
	if d.Logger == nil {
		d.Logger = NewNopLogger()
	}
	if d.Workers < 1 {
		d.Workers = 1
	}
}

// ensureCanonicalRow adds the canonical file row if it is not already
// known, healing a store entry left without one by an interrupted run.
// Metadata comes from the canonical copy itself.
func (d *Deps) ensureCanonicalRow(checksum, canonicalPath, sourcePath string) error {
	known, err := d.Catalog.IsKnown(checksum)
	if err != nil {
		return err
	}
	if known {
		return nil
	}

	var sizeBytes *int64
	if info, err := os.Stat(canonicalPath); err == nil {
		size := info.Size()
		sizeBytes = &size
	}

	err = d.Catalog.AddCanonicalFile(&model.CanonicalFile{
		Checksum:         checksum,
		CanonicalPath:    canonicalPath,
		DisplayName:      filepath.Base(canonicalPath),
		OriginalFilename: filepath.Base(sourcePath),
		PageCount:        d.PageCount(canonicalPath),
		FileSizeBytes:    sizeBytes,
	})
	if errors.Is(err, ErrDuplicateChecksum) {
		// Another writer got there first; the row exists, which is all
		// this method guarantees.
		return nil
	}
	return err
}

// IngestEngine runs the per-file ingest flow over one or more roots:
// hash, dedup check, verified copy, catalog rows, mirror import.
type IngestEngine struct {
	deps Deps
}

// NewIngestEngine creates an engine from its dependencies.
func NewIngestEngine(deps Deps) *IngestEngine {
	deps.applyDefaults()
	return &IngestEngine{deps: deps}
}

// IngestBatch discovers PDFs under roots and ingests each one. Per-file
// errors are counted and never abort the batch; only operational errors
// (unreachable roots, cancellation) return a non-nil error.
func (e *IngestEngine) IngestBatch(ctx context.Context, roots []string, opts IngestOptions, progress ProgressFunc) (*IngestSummary, error) {
	d := &e.deps

	results, scanFailures, err := ScanPDFs(ctx, roots, d.Hasher, d.Workers, progress)
	if err != nil {
		return nil, err
	}

	summary := &IngestSummary{Scanned: len(results) + len(scanFailures)}
	for _, failure := range scanFailures {
		summary.Failed++
		summary.Failures = append(summary.Failures, Failure{Path: failure.Path, Reason: failure.Reason})
	}

	var newChecksums []string
	for _, result := range results {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		e.ingestOne(result, opts, summary, &newChecksums)
	}

	if !opts.DryRun && !opts.SkipMirror && len(newChecksums) > 0 {
		if err := e.syncNew(ctx, newChecksums, summary); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// ingestOne runs steps 2-8 of the per-file flow for an already-hashed file.
func (e *IngestEngine) ingestOne(result ScanResult, opts IngestOptions, summary *IngestSummary, newChecksums *[]string) {
	d := &e.deps

	known, err := d.Catalog.IsKnown(result.Checksum)
	if err != nil {
		e.recordFailure(summary, result, err.Error(), !opts.DryRun)
		return
	}
	if !known {
		// A stored file without a catalog row is still a duplicate; an
		// interrupted run can leave the store ahead of the catalog. The
		// row must exist before the sighting can reference it.
		canonicalPath, err := d.Store.CanonicalPath(result.Checksum)
		if err != nil {
			e.recordFailure(summary, result, err.Error(), !opts.DryRun)
			return
		}
		if canonicalPath != "" {
			if !opts.DryRun {
				if err := d.ensureCanonicalRow(result.Checksum, canonicalPath, result.Path); err != nil {
					e.recordFailure(summary, result, err.Error(), true)
					return
				}
			}
			known = true
		}
	}
	if known {
		summary.Duplicate++
		if !opts.DryRun {
			// Provenance is recorded even for duplicates.
			if err := d.Catalog.AddSourceSighting(result.Checksum, result.Path, d.MachineID); err != nil {
				d.Logger.Warn("recording sighting failed", "path", result.Path, "error", err)
			}
			e.logAction(result.Checksum, model.ActionSkippedDuplicate, result.Path, "already in catalog or canonical store")
		}
		return
	}

	if opts.DryRun {
		summary.New++
		return
	}

	pageCount := d.PageCount(result.Path)
	displayName := e.displayName(result)

	destPath, err := d.Store.Store(result.Path, result.Checksum, displayName)
	if err != nil {
		// No catalog row for a file that isn't safely stored.
		e.recordFailure(summary, result, err.Error(), true)
		return
	}

	size := result.SizeBytes
	err = d.Catalog.AddCanonicalFile(&model.CanonicalFile{
		Checksum:         result.Checksum,
		CanonicalPath:    destPath,
		DisplayName:      filepath.Base(destPath),
		OriginalFilename: filepath.Base(result.Path),
		PageCount:        pageCount,
		FileSizeBytes:    &size,
	})
	if errors.Is(err, ErrDuplicateChecksum) {
		// Lost a race to another worker: duplicate detected late.
		summary.Duplicate++
		if err := d.Catalog.AddSourceSighting(result.Checksum, result.Path, d.MachineID); err != nil {
			d.Logger.Warn("recording sighting failed", "path", result.Path, "error", err)
		}
		e.logAction(result.Checksum, model.ActionSkippedDuplicate, result.Path, "cataloged concurrently")
		return
	}
	if err != nil {
		e.recordFailure(summary, result, err.Error(), true)
		return
	}

	if err := d.Catalog.AddSourceSighting(result.Checksum, result.Path, d.MachineID); err != nil {
		d.Logger.Warn("recording sighting failed", "path", result.Path, "error", err)
	}
	e.logAction(result.Checksum, model.ActionIngested, result.Path, "stored at "+destPath)

	summary.New++
	*newChecksums = append(*newChecksums, result.Checksum)
	d.Logger.Info("file ingested", "path", result.Path, "checksum", result.Checksum)
}

// displayName generates the destination filename with fallbacks: the
// generator's output, then the source filename, then the checksum prefix.
func (e *IngestEngine) displayName(result ScanResult) string {
	name := e.deps.DisplayName(result.Path, nil)
	if name != "" {
		return name
	}
	if base := filepath.Base(result.Path); base != "." && base != "/" {
		return base
	}
	return result.Checksum[:8] + ".pdf"
}

// syncNew runs the mirror step for freshly ingested checksums. A setup
// failure (index scan, client construction) marks every new checksum
// failed without undoing the ingest.
func (e *IngestEngine) syncNew(ctx context.Context, checksums []string, summary *IngestSummary) error {
	d := &e.deps
	if d.Syncer == nil || d.MirrorScan == nil {
		return nil
	}

	index, err := d.MirrorScan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		d.Logger.Error("mirror storage scan failed", "error", err)
		for _, checksum := range checksums {
			reason := "mirror setup error: " + err.Error()
			if linkErr := d.Catalog.SetMirrorLink(&model.MirrorLink{
				Checksum:     checksum,
				Status:       model.LinkFailed,
				ErrorMessage: err.Error(),
			}); linkErr != nil {
				d.Logger.Error("recording mirror link failed", "checksum", checksum, "error", linkErr)
			}
			e.logAction(checksum, model.ActionFailed, "", reason)
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{Path: checksum, Reason: reason})
		}
		return nil
	}

	syncSummary, err := d.Syncer.SyncBatch(ctx, checksums, index, nil)
	if syncSummary != nil {
		summary.MirrorImported += syncSummary.Imported
		summary.MirrorExisting += syncSummary.Skipped
		summary.Failed += syncSummary.Failed
		e.appendMirrorFailures(checksums, summary)
	}
	return err
}

// appendMirrorFailures copies failed-link details into the batch summary.
func (e *IngestEngine) appendMirrorFailures(checksums []string, summary *IngestSummary) {
	d := &e.deps
	for _, checksum := range checksums {
		link, err := d.Catalog.GetMirrorLink(checksum)
		if err != nil || link == nil || link.Status != model.LinkFailed {
			continue
		}

		path := checksum
		if file, err := d.Catalog.GetCanonicalFile(checksum); err == nil && file != nil {
			path = file.CanonicalPath
		}
		reason := link.ErrorMessage
		if reason == "" {
			reason = "mirror import failed"
		}
		summary.Failures = append(summary.Failures, Failure{Path: path, Reason: "mirror: " + reason})
	}
}

func (e *IngestEngine) recordFailure(summary *IngestSummary, result ScanResult, reason string, logIt bool) {
	summary.Failed++
	summary.Failures = append(summary.Failures, Failure{Path: result.Path, Reason: reason})
	if logIt {
		e.logAction(result.Checksum, model.ActionFailed, result.Path, reason)
	}
}

// logAction appends to the ingest log. Log failures never propagate.
func (e *IngestEngine) logAction(checksum, action, sourcePath, detail string) {
	if err := e.deps.Catalog.LogAction(checksum, action, sourcePath, detail); err != nil {
		e.deps.Logger.Warn("ingest log write failed", "checksum", checksum, "error", err)
	}
}
