package collection

import (
	"context"
	"sort"

	"pdfkeep/internal/model"
)

// RectifyOptions control a reconciliation pass.
type RectifyOptions struct {
	// Report computes and reports every gap without mutating the store,
	// catalog, or mirror.
	Report bool
	// DryRun behaves like Report; kept distinct so callers can separate
	// "show me the plan" from "rehearse the execution".
	DryRun bool
	// SkipMirror suppresses the mirror gap analysis and sync.
	SkipMirror bool
}

func (o RectifyOptions) mutate() bool {
	return !o.Report && !o.DryRun
}

// RectifySummary aggregates one reconciliation pass, step by step.
type RectifySummary struct {
	ScannedDirectories int
	TotalFilesFound    int
	UniquePDFs         int
	DuplicateFiles     int
	CanonicalAlready   int
	CanonicalNew       int
	ReverseMissing     int
	CopiedToCanonical  int
	MirrorExisting     int
	MirrorToImport     int
	ImportedToMirror   int
	Failed             int
	// DuplicateGroups maps each checksum observed at more than one path
	// to the full list of paths. Informational only.
	DuplicateGroups map[string][]string
	Failures        []Failure
}

// RectifyEngine reconciles a scattered collection bidirectionally: local
// scan roots into the canonical store (forward gap), the mirror's local
// cache into the canonical store (reverse gap), and the canonical store
// into the mirror (mirror gap). It composes the same leaf components the
// ingest engine uses and never assumes a clean starting state: every gap
// is derived from current catalog and store state, so an immediate
// second run reports zero new actions.
type RectifyEngine struct {
	deps Deps
}

// NewRectifyEngine creates an engine from its dependencies.
func NewRectifyEngine(deps Deps) *RectifyEngine {
	deps.applyDefaults()
	return &RectifyEngine{deps: deps}
}

// Rectify runs the full reconciliation pass over the given scan roots.
func (e *RectifyEngine) Rectify(ctx context.Context, roots []string, opts RectifyOptions, progress ProgressFunc) (*RectifySummary, error) {
	d := &e.deps

	// Step 1: discovery. Pure enumeration, no catalog writes.
	results, scanFailures, err := ScanPDFs(ctx, roots, d.Hasher, d.Workers, progress)
	if err != nil {
		return nil, err
	}

	summary := &RectifySummary{
		ScannedDirectories: len(roots),
		TotalFilesFound:    len(results) + len(scanFailures),
		DuplicateGroups:    make(map[string][]string),
	}
	for _, failure := range scanFailures {
		e.recordFailure(summary, failure.Path, failure.Reason)
	}

	// Step 2: deduplication report.
	byChecksum := make(map[string][]string)
	for _, result := range results {
		byChecksum[result.Checksum] = append(byChecksum[result.Checksum], result.Path)
	}
	summary.UniquePDFs = len(byChecksum)
	summary.DuplicateFiles = len(results) - len(byChecksum)
	for checksum, paths := range byChecksum {
		if len(paths) > 1 {
			summary.DuplicateGroups[checksum] = paths
		}
	}

	// Step 3: forward gap against the store.
	missingFromStore := make(map[string]string)
	for _, checksum := range sortedKeys(byChecksum) {
		stored, err := d.Store.IsStored(checksum)
		if err != nil {
			e.recordFailure(summary, byChecksum[checksum][0], err.Error())
			continue
		}
		if stored {
			summary.CanonicalAlready++
		} else {
			summary.CanonicalNew++
			missingFromStore[checksum] = byChecksum[checksum][0]
		}
	}

	// Step 4: reverse gap from the mirror's local cache.
	index := e.scanMirror(ctx, summary)
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	reverseMissing := make(map[string]string)
	for checksum, mirrorPath := range index {
		stored, err := d.Store.IsStored(checksum)
		if err != nil {
			e.recordFailure(summary, mirrorPath, err.Error())
			continue
		}
		if stored {
			continue
		}
		if _, planned := missingFromStore[checksum]; planned {
			continue
		}
		reverseMissing[checksum] = mirrorPath
	}
	summary.ReverseMissing = len(reverseMissing)

	if opts.mutate() {
		if err := e.fillStoreGaps(ctx, byChecksum, missingFromStore, reverseMissing, summary); err != nil {
			return summary, err
		}
	}

	// Step 5: mirror gap analysis and sync.
	if !opts.SkipMirror {
		if err := e.mirrorGap(ctx, opts, byChecksum, reverseMissing, index, summary); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// scanMirror builds the mirror cache snapshot. A failed scan is a
// recorded failure, not an abort: reconciliation proceeds against an
// empty snapshot.
func (e *RectifyEngine) scanMirror(ctx context.Context, summary *RectifySummary) MirrorIndex {
	d := &e.deps
	if d.MirrorScan == nil {
		return MirrorIndex{}
	}
	index, err := d.MirrorScan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.recordFailure(summary, "mirror storage", err.Error())
		}
		return MirrorIndex{}
	}
	return index
}

// fillStoreGaps executes the forward and reverse copies and makes sure
// every discovered path has catalog provenance.
func (e *RectifyEngine) fillStoreGaps(ctx context.Context, byChecksum map[string][]string, missingFromStore, reverseMissing map[string]string, summary *RectifySummary) error {
	d := &e.deps

	// Copy plan: forward sources first, reverse sources fill the rest.
	copyPlan := make(map[string]string, len(missingFromStore)+len(reverseMissing))
	for checksum, source := range missingFromStore {
		copyPlan[checksum] = source
	}
	for checksum, source := range reverseMissing {
		if _, ok := copyPlan[checksum]; !ok {
			copyPlan[checksum] = source
		}
	}

	for _, checksum := range sortedKeys(copyPlan) {
		if err := ctx.Err(); err != nil {
			return err
		}

		source := copyPlan[checksum]
		destPath, err := d.Store.Store(source, checksum, d.DisplayName(source, nil))
		if err != nil {
			e.recordFailure(summary, source, err.Error())
			continue
		}
		if err := d.ensureCanonicalRow(checksum, destPath, source); err != nil {
			e.recordFailure(summary, source, err.Error())
			continue
		}
		e.addSighting(checksum, source)
		e.logAction(checksum, model.ActionIngested, source, "stored at "+destPath)
		summary.CopiedToCanonical++
	}

	// Every discovered duplicate path becomes a sighting, and stored
	// files missing a catalog row (e.g. from an interrupted earlier run)
	// get one.
	for _, checksum := range sortedKeys(byChecksum) {
		sources := byChecksum[checksum]
		canonicalPath, err := d.Store.CanonicalPath(checksum)
		if err != nil || canonicalPath == "" {
			continue
		}
		if err := d.ensureCanonicalRow(checksum, canonicalPath, sources[0]); err != nil {
			e.recordFailure(summary, sources[0], err.Error())
			continue
		}
		for _, source := range sources {
			e.addSighting(checksum, source)
		}
	}

	// Reverse-gap files keep provenance pointing at the mirror cache.
	for _, checksum := range sortedKeys(reverseMissing) {
		mirrorPath := reverseMissing[checksum]
		canonicalPath, err := d.Store.CanonicalPath(checksum)
		if err != nil || canonicalPath == "" {
			continue
		}
		if err := d.ensureCanonicalRow(checksum, canonicalPath, mirrorPath); err != nil {
			e.recordFailure(summary, mirrorPath, err.Error())
			continue
		}
		e.addSighting(checksum, mirrorPath)
	}

	return nil
}

// mirrorGap queues everything unlinked and genuinely absent from the
// mirror. The work list comes from the catalog's link state, not from a
// catalog-minus-cache difference, so imports recorded on a previous run
// are not re-queued while the mirror app has yet to sync its cache.
func (e *RectifyEngine) mirrorGap(ctx context.Context, opts RectifyOptions, byChecksum map[string][]string, reverseMissing map[string]string, index MirrorIndex, summary *RectifySummary) error {
	d := &e.deps

	unlinked, err := d.Catalog.UnlinkedToMirror()
	if err != nil {
		return err
	}
	all, err := d.Catalog.ListChecksums()
	if err != nil {
		return err
	}

	if !opts.mutate() {
		// Without the copies, the catalog does not yet cover what this
		// pass would add; fold the discovered and reverse gaps in.
		unlinkedSet := make(map[string]bool, len(unlinked))
		for _, checksum := range unlinked {
			unlinkedSet[checksum] = true
		}
		allSet := make(map[string]bool, len(all))
		for _, checksum := range all {
			allSet[checksum] = true
		}
		for checksum := range byChecksum {
			if !allSet[checksum] {
				allSet[checksum] = true
				unlinkedSet[checksum] = true
			}
		}
		for checksum := range reverseMissing {
			if !allSet[checksum] {
				allSet[checksum] = true
				unlinkedSet[checksum] = true
			}
		}
		unlinked = setToSorted(unlinkedSet)
		all = setToSorted(allSet)
	}

	toImport := 0
	for _, checksum := range unlinked {
		if !index.Contains(checksum) {
			toImport++
		}
	}
	summary.MirrorToImport = toImport
	summary.MirrorExisting = len(all) - toImport

	if !opts.mutate() || len(unlinked) == 0 || d.Syncer == nil {
		return nil
	}

	syncSummary, err := d.Syncer.SyncBatch(ctx, unlinked, index, nil)
	if syncSummary != nil {
		summary.ImportedToMirror += syncSummary.Imported
		summary.Failed += syncSummary.Failed
		e.appendMirrorFailures(unlinked, summary)
	}
	return err
}

func (e *RectifyEngine) appendMirrorFailures(checksums []string, summary *RectifySummary) {
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

func (e *RectifyEngine) addSighting(checksum, sourcePath string) {
	if err := e.deps.Catalog.AddSourceSighting(checksum, sourcePath, e.deps.MachineID); err != nil {
		e.deps.Logger.Warn("recording sighting failed", "path", sourcePath, "error", err)
	}
}

func (e *RectifyEngine) recordFailure(summary *RectifySummary, path, reason string) {
	summary.Failed++
	summary.Failures = append(summary.Failures, Failure{Path: path, Reason: reason})
}

// logAction appends to the ingest log. Log failures never propagate.
func (e *RectifyEngine) logAction(checksum, action, sourcePath, detail string) {
	if err := e.deps.Catalog.LogAction(checksum, action, sourcePath, detail); err != nil {
		e.deps.Logger.Warn("ingest log write failed", "checksum", checksum, "error", err)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func setToSorted(set map[string]bool) []string {
	values := make([]string, 0, len(set))
	for value := range set {
		values = append(values, value)
	}
	sort.Strings(values)
	return values
}
