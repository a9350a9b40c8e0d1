// Package app is the application layer between the CLI and the
// collection engines. It constructs all dependencies from config,
// exposes one method per command, and manages the catalog lifecycle on
// Close.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"pdfkeep/internal/catalog"
	"pdfkeep/internal/collection"
	"pdfkeep/internal/config"
	"pdfkeep/internal/hashing"
	"pdfkeep/internal/mirror"
	"pdfkeep/internal/model"
	"pdfkeep/internal/pdf"
	"pdfkeep/internal/store"
)

// Options control how the App is wired.
type Options struct {
	// ReadOnly wires the app for inspection-only commands: no library
	// directories are created, no log file is opened, and a missing
	// sqlite catalog is replaced by an empty in-memory one instead of
	// being created on disk.
	ReadOnly bool
}

// App wires config into a ready-to-use set of engines.
// The caller must call Close when done.
type App struct {
	cfg     *config.Config
	catalog collection.Catalog
	store   *store.FilesystemStore
	logger  *slog.Logger
	logFile *os.File

	ingest  *collection.IngestEngine
	rectify *collection.RectifyEngine
	syncer  *collection.MirrorSyncer
	scan    collection.MirrorScanFunc
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Ingest", "Rectify").
func NewApp(cfg *config.Config, operation string, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z") + "-" + operation

	var (
		logger  *slog.Logger
		logFile *os.File
		err     error
	)
	if opts.ReadOnly {
		logger = slog.New(&keepHandler{w: os.Stderr, opID: opID})
	} else {
		logger, logFile, err = newLogger(cfg.LogDir, opID)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
	}
	adapter := &slogAdapter{l: logger}

	hasher := hashing.NewSHA256Hasher()

	var fsStore *store.FilesystemStore
	if opts.ReadOnly {
		fsStore = store.OpenFilesystemStore(cfg.LibraryRoot, hasher)
	} else {
		fsStore, err = store.NewFilesystemStore(cfg.LibraryRoot, hasher)
		if err != nil {
			closeFile(logFile)
			return nil, fmt.Errorf("creating canonical store: %w", err)
		}
	}

	cat, err := openCatalog(cfg, opts)
	if err != nil {
		closeFile(logFile)
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	var scan collection.MirrorScanFunc
	if cfg.Mirror.StorageDir != "" {
		storageDir := cfg.Mirror.StorageDir
		scan = func(ctx context.Context) (collection.MirrorIndex, error) {
			return mirror.ScanStorage(ctx, storageDir, hasher, adapter)
		}
	}

	var syncer *collection.MirrorSyncer
	if cfg.Mirror.SyncEnabled() && !opts.ReadOnly {
		importer, err := mirror.NewZoteroClient(cfg.Mirror.LibraryID, cfg.Mirror.LibraryType, cfg.Mirror.APIKey)
		if err != nil {
			cat.Close()
			closeFile(logFile)
			return nil, fmt.Errorf("creating mirror client: %w", err)
		}
		syncer = collection.NewMirrorSyncer(cat, importer, adapter)
	}

	deps := collection.Deps{
		Catalog:     cat,
		Store:       fsStore,
		Hasher:      hasher,
		Syncer:      syncer,
		MirrorScan:  scan,
		PageCount:   pdf.PageCount,
		DisplayName: collection.GenerateDisplayName,
		MachineID:   cfg.MachineID,
		Workers:     cfg.Workers,
		Logger:      adapter,
	}

	return &App{
		cfg:     cfg,
		catalog: cat,
		store:   fsStore,
		logger:  logger,
		logFile: logFile,
		ingest:  collection.NewIngestEngine(deps),
		rectify: collection.NewRectifyEngine(deps),
		syncer:  syncer,
		scan:    scan,
	}, nil
}

// openCatalog builds the catalog per config. In read-only mode a missing
// sqlite database file must not be created, so an empty in-memory
// catalog stands in for it.
func openCatalog(cfg *config.Config, opts Options) (collection.Catalog, error) {
	if opts.ReadOnly && cfg.Catalog.Type == "sqlite" && cfg.Catalog.Path != "" {
		if _, err := os.Stat(cfg.Catalog.Path); os.IsNotExist(err) {
			return catalog.NewMemoryCatalog(nil), nil
		}
	}
	return catalog.NewCatalogFromConfig(cfg.Catalog)
}

// Ingest runs an ingest batch over the given roots, defaulting to the
// configured inbox directory.
func (a *App) Ingest(ctx context.Context, roots []string, opts collection.IngestOptions, progress collection.ProgressFunc) (*collection.IngestSummary, error) {
	roots, err := a.resolveRoots(roots, "inbox_dir")
	if err != nil {
		return nil, err
	}
	return a.ingest.IngestBatch(ctx, roots, opts, progress)
}

// Rectify runs a reconciliation pass over the given roots, defaulting to
// the configured scan roots.
func (a *App) Rectify(ctx context.Context, roots []string, opts collection.RectifyOptions, progress collection.ProgressFunc) (*collection.RectifySummary, error) {
	roots, err := a.resolveRoots(roots, "scan_roots")
	if err != nil {
		return nil, err
	}
	return a.rectify.Rectify(ctx, roots, opts, progress)
}

// Sync pushes every unlinked canonical file to the mirror.
func (a *App) Sync(ctx context.Context, progress collection.SyncProgress) (*collection.SyncSummary, error) {
	if a.syncer == nil {
		return nil, fmt.Errorf("mirror sync is not configured: set mirror.library_id and mirror.api_key")
	}
	if a.scan == nil {
		return nil, fmt.Errorf("mirror sync requires mirror.storage_dir to be set")
	}

	unlinked, err := a.catalog.UnlinkedToMirror()
	if err != nil {
		return nil, fmt.Errorf("computing mirror gap: %w", err)
	}
	if len(unlinked) == 0 {
		return &collection.SyncSummary{}, nil
	}

	index, err := a.scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning mirror storage: %w", err)
	}

	return a.syncer.SyncBatch(ctx, unlinked, index, progress)
}

// Status returns catalog statistics with the given number of recent log
// entries.
func (a *App) Status(recentLimit int) (*model.Statistics, error) {
	return a.catalog.Statistics(recentLimit)
}

// RecentLog returns the most recent ingest log entries.
func (a *App) RecentLog(limit int) ([]model.LogEntry, error) {
	stats, err := a.catalog.Statistics(limit)
	if err != nil {
		return nil, err
	}
	return stats.RecentActions, nil
}

// Close releases the catalog and log file.
func (a *App) Close() error {
	err := a.catalog.Close()
	closeFile(a.logFile)
	return err
}

func (a *App) resolveRoots(roots []string, configKey string) ([]string, error) {
	if len(roots) > 0 {
		return roots, nil
	}
	switch configKey {
	case "inbox_dir":
		if a.cfg.InboxDir != "" {
			return []string{a.cfg.InboxDir}, nil
		}
	case "scan_roots":
		if len(a.cfg.ScanRoots) > 0 {
			return a.cfg.ScanRoots, nil
		}
	}
	return nil, fmt.Errorf("no paths given and %s is not configured", configKey)
}

func closeFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}
