// Package mirror talks to the Zotero mirror: a read-only scan of its
// local storage cache for duplicate detection, and a Web API client for
// imports.
package mirror

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pdfkeep/internal/collection"
)

// ScanStorage hashes every PDF under the mirror's local storage
// directory and returns a checksum index. The layout is one directory
// per attachment with the file inside; when the same content appears
// under several attachments, the lexicographically first path wins. A
// missing storage directory is an empty mirror, not an error.
func ScanStorage(ctx context.Context, storageDir string, hasher collection.Hasher, logger collection.Logger) (collection.MirrorIndex, error) {
	index := collection.MirrorIndex{}

	info, err := os.Stat(storageDir)
	if os.IsNotExist(err) {
		return index, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return index, nil
	}

	var paths []string
	err = filepath.WalkDir(storageDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	for _, path := range paths {
		checksum, err := hasher.HashFile(path)
		if err != nil {
			// The cache can contain partially synced files; skip them.
			logger.Debug("skipping unreadable mirror file", "path", path, "error", err)
			continue
		}
		if _, ok := index[checksum]; !ok {
			index[checksum] = path
		}
	}

	return index, nil
}
