package collection

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ScanResult is one discovered and hashed PDF.
type ScanResult struct {
	Path      string
	Checksum  string
	SizeBytes int64
}

// ScanFailure records a file that could not be hashed. Per-file failures
// never abort a scan.
type ScanFailure struct {
	Path   string
	Reason string
}

// ProgressFunc is invoked once per completed unit of work so long batches
// can be monitored without polling.
type ProgressFunc func(completed, total int)

// DiscoverPDFs recursively enumerates PDF files under the given roots,
// deduplicating by absolute path, and returns them in lexicographic
// order for reproducibility. A missing or unreadable root is an
// operational error and aborts the scan.
func DiscoverPDFs(roots []string) ([]string, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one scan root is required")
	}

	seen := make(map[string]bool)
	var discovered []string

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("scan root not accessible: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("scan root is not a directory: %s", root)
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(path), ".pdf") {
				return nil
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", path, err)
			}
			if seen[abs] {
				return nil
			}
			seen[abs] = true
			discovered = append(discovered, abs)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}

	sort.Strings(discovered)
	return discovered, nil
}

// HashFiles hashes the given files with a bounded worker pool. Unreadable
// and zero-byte files are reported as failures, not errors; only
// cancellation aborts the batch. Results come back in input order.
func HashFiles(ctx context.Context, paths []string, hasher Hasher, workers int, progress ProgressFunc) ([]ScanResult, []ScanFailure, error) {
	if workers < 1 {
		workers = 1
	}

	results := make([]*ScanResult, len(paths))
	var (
		mu        sync.Mutex
		failures  []ScanFailure
		completed int
	)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for i, path := range paths {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			result, failure := hashOne(path, hasher)

			mu.Lock()
			if failure != nil {
				failures = append(failures, *failure)
			} else {
				results[i] = result
			}
			completed++
			done := completed
			mu.Unlock()

			if progress != nil {
				progress(done, len(paths))
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	hashed := make([]ScanResult, 0, len(paths))
	for _, result := range results {
		if result != nil {
			hashed = append(hashed, *result)
		}
	}
	return hashed, failures, nil
}

func hashOne(path string, hasher Hasher) (*ScanResult, *ScanFailure) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ScanFailure{Path: path, Reason: fmt.Sprintf("stat: %v", err)}
	}
	if info.Size() == 0 {
		return nil, &ScanFailure{Path: path, Reason: "zero-byte PDF"}
	}

	checksum, err := hasher.HashFile(path)
	if err != nil {
		return nil, &ScanFailure{Path: path, Reason: err.Error()}
	}

	return &ScanResult{Path: path, Checksum: checksum, SizeBytes: info.Size()}, nil
}

// ScanPDFs discovers and hashes every PDF under the given roots.
func ScanPDFs(ctx context.Context, roots []string, hasher Hasher, workers int, progress ProgressFunc) ([]ScanResult, []ScanFailure, error) {
	paths, err := DiscoverPDFs(roots)
	if err != nil {
		return nil, nil, err
	}
	return HashFiles(ctx, paths, hasher, workers, progress)
}
