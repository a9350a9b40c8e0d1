package collection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"pdfkeep/internal/model"
)

// SyncSummary aggregates one mirror sync batch.
type SyncSummary struct {
	Imported int
	Skipped  int
	Failed   int
}

// SyncProgress is invoked after each item reaches a terminal status.
type SyncProgress func(checksum string, status model.LinkStatus)

// MirrorSyncer pushes canonical files into the mirror through an
// Importer, serializing all remote calls and centralizing the backoff
// policy so retry loops don't scatter across call sites. Each item moves
// pending -> imported | pre-existing | failed; failed is re-enterable on
// the next batch because the work list is recomputed from the catalog.
type MirrorSyncer struct {
	catalog  Catalog
	importer Importer
	logger   Logger

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleep      func(time.Duration)
}

// NewMirrorSyncer creates a syncer with the default backoff policy:
// three retries starting at one second, doubling, capped at 30 seconds.
func NewMirrorSyncer(catalog Catalog, importer Importer, logger Logger) *MirrorSyncer {
	return &MirrorSyncer{
		catalog:    catalog,
		importer:   importer,
		logger:     logger,
		maxRetries: 3,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
		sleep:      time.Sleep,
	}
}

// WithBackoff overrides the retry policy. An optional sleep function may
// be supplied for deterministic tests.
func (s *MirrorSyncer) WithBackoff(maxRetries int, baseDelay, maxDelay time.Duration, sleep func(time.Duration)) *MirrorSyncer {
	s.maxRetries = maxRetries
	s.baseDelay = baseDelay
	s.maxDelay = maxDelay
	if sleep != nil {
		s.sleep = sleep
	}
	return s
}

// SyncBatch processes checksums against the mirror. Items already present
// in the index snapshot are linked pre-existing without a network call;
// the rest are imported with throttle-aware retries. One item exhausting
// its retries never aborts the batch.
func (s *MirrorSyncer) SyncBatch(ctx context.Context, checksums []string, index MirrorIndex, progress SyncProgress) (*SyncSummary, error) {
	summary := &SyncSummary{}

	for _, checksum := range checksums {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		status := s.syncOne(ctx, checksum, index)
		switch status {
		case model.LinkImported:
			summary.Imported++
		case model.LinkPreExisting:
			summary.Skipped++
		default:
			summary.Failed++
		}

		if progress != nil {
			progress(checksum, status)
		}
	}

	return summary, nil
}

// syncOne brings a single checksum to a terminal link status.
func (s *MirrorSyncer) syncOne(ctx context.Context, checksum string, index MirrorIndex) model.LinkStatus {
	if index.Contains(checksum) {
		s.setLink(&model.MirrorLink{Checksum: checksum, Status: model.LinkPreExisting})
		s.logAction(checksum, model.ActionMirrorSkipped, "", "already present in mirror storage scan")
		return model.LinkPreExisting
	}

	canonicalPath, displayName, err := s.lookup(checksum)
	if err != nil {
		s.fail(checksum, "", err)
		return model.LinkFailed
	}

	delay := s.baseDelay
	for attempt := 0; ; attempt++ {
		itemKey, attachmentKey, err := s.importer.Import(ctx, canonicalPath, displayName)
		if err == nil {
			s.setLink(&model.MirrorLink{
				Checksum:      checksum,
				ItemKey:       itemKey,
				AttachmentKey: attachmentKey,
				Status:        model.LinkImported,
			})
			s.logAction(checksum, model.ActionMirrorImported, canonicalPath, "item="+itemKey)
			return model.LinkImported
		}

		if IsRateLimited(err) && attempt < s.maxRetries {
			wait := delay
			// A Retry-After hint from the server overrides a shorter
			// exponential step.
			var throttled *RateLimitError
			if errors.As(err, &throttled) && throttled.RetryAfter > wait {
				wait = throttled.RetryAfter
			}
			if wait > s.maxDelay {
				wait = s.maxDelay
			}
			s.logger.Debug("mirror throttled, backing off",
				"checksum", checksum, "attempt", attempt+1, "delay", wait)
			s.sleep(wait)
			delay = wait * 2
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
			continue
		}

		s.fail(checksum, canonicalPath, err)
		return model.LinkFailed
	}
}

// lookup resolves the canonical path and display name for a checksum.
func (s *MirrorSyncer) lookup(checksum string) (string, string, error) {
	file, err := s.catalog.GetCanonicalFile(checksum)
	if err != nil {
		return "", "", fmt.Errorf("looking up canonical file: %w", err)
	}
	if file == nil {
		return "", "", fmt.Errorf("checksum not in catalog: %s", checksum)
	}
	if _, err := os.Stat(file.CanonicalPath); err != nil {
		return "", "", fmt.Errorf("canonical file missing on disk: %w", err)
	}

	displayName := file.DisplayName
	if displayName == "" {
		displayName = file.Checksum[:8] + ".pdf"
	}
	return file.CanonicalPath, displayName, nil
}

func (s *MirrorSyncer) fail(checksum, canonicalPath string, cause error) {
	s.logger.Warn("mirror import failed", "checksum", checksum, "error", cause)
	s.setLink(&model.MirrorLink{
		Checksum:     checksum,
		Status:       model.LinkFailed,
		ErrorMessage: cause.Error(),
	})
	s.logAction(checksum, model.ActionFailed, canonicalPath, "mirror sync error: "+cause.Error())
}

func (s *MirrorSyncer) setLink(link *model.MirrorLink) {
	if err := s.catalog.SetMirrorLink(link); err != nil {
		s.logger.Error("recording mirror link failed", "checksum", link.Checksum, "error", err)
	}
}

// logAction appends to the ingest log. Log failures never propagate.
func (s *MirrorSyncer) logAction(checksum, action, sourcePath, detail string) {
	if err := s.catalog.LogAction(checksum, action, sourcePath, detail); err != nil {
		s.logger.Warn("ingest log write failed", "checksum", checksum, "error", err)
	}
}
