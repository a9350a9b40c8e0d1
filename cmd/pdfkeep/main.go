package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pdfkeep/internal/app"
	"pdfkeep/internal/collection"
	"pdfkeep/internal/config"
	"pdfkeep/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// exitCode is 2 when a command completed but some files failed.
var exitCode int

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Ingest", "Rectify").
func newApp(operation string, opts app.Options) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:           "pdfkeep",
	Short:         "Content-addressed PDF collection manager",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		machineID := uuid.New().String()
		cfg := config.NewConfig(machineID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Machine ID:   %s\n", machineID)
		fmt.Printf("Library Root: %s\n", cfg.LibraryRoot)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Machine ID:     %s\n", cfg.MachineID)
		fmt.Printf("Library Root:   %s\n", cfg.LibraryRoot)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Inbox Dir:      %s\n", cfg.InboxDir)
		fmt.Printf("Scan Roots:     %v\n", cfg.ScanRoots)
		fmt.Printf("Workers:        %d\n", cfg.Workers)
		fmt.Printf("Catalog:        %s (%s)\n", cfg.Catalog.Type, cfg.Catalog.Path)
		fmt.Printf("Mirror Storage: %s\n", cfg.Mirror.StorageDir)
		fmt.Printf("Mirror Sync:    %v\n", cfg.Mirror.SyncEnabled())
		return nil
	},
}

// ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest [PATH...]",
	Short: "Ingest PDFs into the canonical library",
	Long: `Ingest hashes every PDF under the given paths (default: the configured
inbox directory), copies unseen content into the canonical store, records
it in the catalog, and imports it into the mirror.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		skipMirror, _ := cmd.Flags().GetBool("skip-mirror")

		a, err := newApp("Ingest", app.Options{ReadOnly: dryRun})
		if err != nil {
			return err
		}
		defer a.Close()

		opts := collection.IngestOptions{DryRun: dryRun, SkipMirror: skipMirror}
		summary, err := a.Ingest(cmd.Context(), args, opts, progressLine)
		if err != nil {
			return err
		}

		fmt.Printf("Scanned:         %d\n", summary.Scanned)
		fmt.Printf("New:             %d\n", summary.New)
		fmt.Printf("Duplicates:      %d\n", summary.Duplicate)
		fmt.Printf("Mirror imported: %d\n", summary.MirrorImported)
		fmt.Printf("Mirror existing: %d\n", summary.MirrorExisting)
		fmt.Printf("Failed:          %d\n", summary.Failed)
		printFailures(summary.Failures)

		if summary.Failed > 0 {
			exitCode = 2
		}
		return nil
	},
}

// rectify command
var rectifyCmd = &cobra.Command{
	Use:   "rectify [PATH...]",
	Short: "Reconcile scattered copies with the library and the mirror",
	Long: `Rectify scans the given paths (default: the configured scan roots),
reports duplicates, copies content missing from the canonical store in
both directions (local scans and the mirror's cache), and imports
anything the mirror lacks. Safe to re-run; a second pass reports zero
new actions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, _ := cmd.Flags().GetBool("report")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		skipMirror, _ := cmd.Flags().GetBool("skip-mirror")

		readOnly := report || dryRun
		a, err := newApp("Rectify", app.Options{ReadOnly: readOnly})
		if err != nil {
			return err
		}
		defer a.Close()

		opts := collection.RectifyOptions{Report: report, DryRun: dryRun, SkipMirror: skipMirror}
		summary, err := a.Rectify(cmd.Context(), args, opts, progressLine)
		if err != nil {
			return err
		}

		if readOnly {
			fmt.Println("Report only; no changes were made.")
		}
		fmt.Printf("Scanned dirs:       %d\n", summary.ScannedDirectories)
		fmt.Printf("Files found:        %d\n", summary.TotalFilesFound)
		fmt.Printf("Unique PDFs:        %d\n", summary.UniquePDFs)
		fmt.Printf("Duplicate files:    %d\n", summary.DuplicateFiles)
		fmt.Printf("Already canonical:  %d\n", summary.CanonicalAlready)
		fmt.Printf("New canonical:      %d\n", summary.CanonicalNew)
		fmt.Printf("Only in mirror:     %d\n", summary.ReverseMissing)
		fmt.Printf("Copied to library:  %d\n", summary.CopiedToCanonical)
		fmt.Printf("Mirror existing:    %d\n", summary.MirrorExisting)
		fmt.Printf("Mirror to import:   %d\n", summary.MirrorToImport)
		fmt.Printf("Mirror imported:    %d\n", summary.ImportedToMirror)
		fmt.Printf("Failed:             %d\n", summary.Failed)

		if len(summary.DuplicateGroups) > 0 {
			fmt.Printf("\nDuplicate groups:\n")
			for checksum, paths := range summary.DuplicateGroups {
				fmt.Printf("  %s\n", checksum[:12])
				for _, p := range paths {
					fmt.Printf("    %s\n", p)
				}
			}
		}
		printFailures(summary.Failures)

		if summary.Failed > 0 {
			exitCode = 2
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import unlinked canonical files into the mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Sync", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.Sync(cmd.Context(), func(checksum string, status model.LinkStatus) {
			fmt.Printf("%s  %s\n", checksum[:12], status)
		})
		if err != nil {
			return err
		}

		fmt.Printf("Imported: %d\n", summary.Imported)
		fmt.Printf("Existing: %d\n", summary.Skipped)
		fmt.Printf("Failed:   %d\n", summary.Failed)

		if summary.Failed > 0 {
			exitCode = 2
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View library statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Status", app.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Status(5)
		if err != nil {
			return err
		}

		fmt.Printf("Canonical files:  %d\n", stats.CanonicalFiles)
		fmt.Printf("Total size:       %s\n", formatBytes(stats.TotalBytes))
		fmt.Printf("Source sightings: %d\n", stats.SourceSightings)
		fmt.Printf("Mirror linked:    %d\n", stats.Linked)
		fmt.Printf("Mirror unlinked:  %d\n", stats.Unlinked)
		fmt.Printf("Log entries:      %d\n", stats.LogEntries)

		if len(stats.RecentActions) > 0 {
			fmt.Printf("\nRecent activity:\n")
			for _, e := range stats.RecentActions {
				printLogEntry(e)
			}
		}
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the ingest log",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("Log", app.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.RecentLog(limit)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No log entries.")
			return nil
		}
		for _, e := range entries {
			printLogEntry(e)
		}
		return nil
	},
}

func printLogEntry(e model.LogEntry) {
	checksum := e.Checksum
	if len(checksum) > 12 {
		checksum = checksum[:12]
	}
	fmt.Printf("%s  %-17s  %s  %s\n",
		e.Timestamp.Format("2006-01-02 15:04:05"),
		e.Action,
		checksum,
		e.Detail,
	)
}

func printFailures(failures []collection.Failure) {
	if len(failures) == 0 {
		return
	}
	fmt.Printf("\nFailures:\n")
	for _, f := range failures {
		fmt.Printf("  %s: %s\n", f.Path, f.Reason)
	}
}

func progressLine(completed, total int) {
	fmt.Fprintf(os.Stderr, "\rHashing %d/%d", completed, total)
	if completed == total {
		fmt.Fprintln(os.Stderr)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	ingestCmd.Flags().Bool("dry-run", false, "Report what would happen without changing anything")
	ingestCmd.Flags().Bool("skip-mirror", false, "Skip the mirror import step")

	rectifyCmd.Flags().Bool("report", false, "Compute and report gaps without changing anything")
	rectifyCmd.Flags().Bool("dry-run", false, "Alias for --report")
	rectifyCmd.Flags().Bool("skip-mirror", false, "Skip the mirror gap analysis and sync")

	logCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(rectifyCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
}
