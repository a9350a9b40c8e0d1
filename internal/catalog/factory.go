package catalog

import (
	"fmt"

	"pdfkeep/internal/collection"
	"pdfkeep/internal/config"
)

// NewCatalogFromConfig creates a Catalog implementation based on the
// catalog config type.
func NewCatalogFromConfig(cfg config.CatalogConfig) (collection.Catalog, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite catalog requires path to be set")
		}
		return NewSQLiteCatalog(cfg.Path, nil)
	case "memory":
		return NewMemoryCatalog(nil), nil
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.Type)
	}
}
