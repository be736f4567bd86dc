package cmd

import (
	"context"
	"fmt"

	"github.com/cyclops-relay/cyclops/internal/config"
	"github.com/cyclops-relay/cyclops/internal/core/store"
)

// openStore opens the configured store and brings its schema up to date.
// Callers own the returned store and must Close it.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("open store: configuration is required")
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store (%s): %w", storeLocation(cfg.Store), err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return db, nil
}

// storeLocation names the store for error messages without leaking tokens.
func storeLocation(cfg config.StoreConfig) string {
	if cfg.URL != "" {
		return "remote"
	}
	if cfg.Path != "" {
		return cfg.Path
	}
	return "unset"
}
