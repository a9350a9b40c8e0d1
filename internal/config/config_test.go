package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigRoundTrip(t *testing.T) {
	cfg := NewConfig("machine-123", "/data/pdfkeep")
	cfg.ScanRoots = []string{"/archive/papers", "/downloads"}
	cfg.Mirror.LibraryID = "7"
	cfg.Mirror.APIKey = "secret"

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.MachineID != "machine-123" {
		t.Errorf("MachineID = %s", got.MachineID)
	}
	if got.LibraryRoot != cfg.LibraryRoot {
		t.Errorf("LibraryRoot = %s, want %s", got.LibraryRoot, cfg.LibraryRoot)
	}
	if len(got.ScanRoots) != 2 {
		t.Errorf("ScanRoots = %v", got.ScanRoots)
	}
	if got.Catalog.Type != "sqlite" || got.Catalog.Path == "" {
		t.Errorf("Catalog = %+v", got.Catalog)
	}
	if !got.Mirror.SyncEnabled() {
		t.Error("SyncEnabled = false after round trip")
	}
}

func TestReadAppliesDefaults(t *testing.T) {
	raw := `
machine_id = "m1"
library_root = "/lib"

[catalog]
type = "sqlite"
path = "/lib/db/catalog.db"

[mirror]
storage_dir = "/home/u/Zotero/storage"
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if cfg.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want default %d", cfg.Workers, DefaultWorkers)
	}
	if cfg.Mirror.LibraryType != "user" {
		t.Errorf("LibraryType = %q, want user", cfg.Mirror.LibraryType)
	}
	if cfg.Mirror.SyncEnabled() {
		t.Error("SyncEnabled = true without credentials")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing machine id", func(c *Config) { c.MachineID = "" }, true},
		{"missing library root", func(c *Config) { c.LibraryRoot = "" }, true},
		{"missing catalog type", func(c *Config) { c.Catalog.Type = "" }, true},
		{"negative workers", func(c *Config) { c.Workers = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("m1", "/data")
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "pdfkeep.toml")
	cfg := NewConfig("m1", "/data")

	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}

	read, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile: %v", err)
	}
	if read.MachineID != "m1" {
		t.Errorf("MachineID = %s", read.MachineID)
	}

	// A second init must refuse to clobber the existing file.
	if err := Init(path, cfg); err == nil {
		t.Error("Init overwrote an existing config")
	}
}
