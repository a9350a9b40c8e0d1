package collection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MirrorIndex is a point-in-time snapshot of the mirror's local cache:
// checksum -> one observed file path. Built by scanning the cache tree,
// so duplicate detection against the mirror never needs credentials or
// network access. Callers cache it for the duration of a batch.
type MirrorIndex map[string]string

// Contains reports whether the checksum appears in the snapshot.
func (i MirrorIndex) Contains(checksum string) bool {
	_, ok := i[checksum]
	return ok
}

// RateLimitError indicates the mirror API asked us to slow down.
// The sync layer retries these with backoff; everything else fails the item.
type RateLimitError struct {
	RetryAfter time.Duration // zero if the server gave no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("mirror API rate limited (retry after %s)", e.RetryAfter)
	}
	return "mirror API rate limited"
}

// IsRateLimited reports whether err is (or wraps) a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// Importer creates mirror entries via the remote API. It is the only
// network-calling operation in the core; retry policy lives in
// MirrorSyncer, never inside Import.
type Importer interface {
	// Import creates a bibliographic entry titled displayName and attaches
	// the canonical file to it. Returns the mirror item key and, when the
	// attachment step reports one, the attachment key.
	Import(ctx context.Context, canonicalPath, displayName string) (itemKey, attachmentKey string, err error)
}
