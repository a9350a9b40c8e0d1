package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for pdfkeep.
type Config struct {
	MachineID   string        `toml:"machine_id"`
	LibraryRoot string        `toml:"library_root"`
	LogDir      string        `toml:"log_dir"`
	ScanRoots   []string      `toml:"scan_roots"`
	InboxDir    string        `toml:"inbox_dir"`
	Workers     int           `toml:"workers"`
	Catalog     CatalogConfig `toml:"catalog"`
	Mirror      MirrorConfig  `toml:"mirror"`
}

// CatalogConfig represents configuration for the catalog database.
// This uses a tagged union pattern - the Type field determines which
// other fields are relevant.
type CatalogConfig struct {
	Type string `toml:"type"`           // "sqlite" or "memory"
	Path string `toml:"path,omitempty"` // only used for type=sqlite
}

// MirrorConfig holds the mirror's local cache location and remote API
// credentials. Credentials are optional: their absence disables mirror
// sync, it is not an error.
type MirrorConfig struct {
	StorageDir  string `toml:"storage_dir"`
	LibraryID   string `toml:"library_id,omitempty"`
	APIKey      string `toml:"api_key,omitempty"`
	LibraryType string `toml:"library_type,omitempty"` // "user" (default) or "group"
}

// SyncEnabled reports whether remote mirror sync is configured.
func (m MirrorConfig) SyncEnabled() bool {
	return m.LibraryID != "" && m.APIKey != ""
}

// DefaultWorkers is the hashing worker pool size when workers is unset.
const DefaultWorkers = 4

// NewConfig creates a Config with the provided identity and default paths
// under baseDir.
func NewConfig(machineID, baseDir string) *Config {
	libraryRoot := filepath.Join(baseDir, "library")
	homeDir, _ := os.UserHomeDir()
	return &Config{
		MachineID:   machineID,
		LibraryRoot: libraryRoot,
		LogDir:      filepath.Join(baseDir, "log"),
		InboxDir:    filepath.Join(baseDir, "inbox"),
		Workers:     DefaultWorkers,
		Catalog: CatalogConfig{
			Type: "sqlite",
			Path: filepath.Join(libraryRoot, "db", "catalog.db"),
		},
		Mirror: MirrorConfig{
			StorageDir:  filepath.Join(homeDir, "Zotero", "storage"),
			LibraryType: "user",
		},
	}
}

// Validate checks the settings every command needs. Invalid configuration
// is an operational error and aborts the command.
func (c *Config) Validate() error {
	if c.MachineID == "" {
		return fmt.Errorf("machine_id must be set")
	}
	if c.LibraryRoot == "" {
		return fmt.Errorf("library_root must be set")
	}
	if c.Catalog.Type == "" {
		return fmt.Errorf("catalog.type must be set")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Mirror.LibraryType == "" {
		cfg.Mirror.LibraryType = "user"
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
