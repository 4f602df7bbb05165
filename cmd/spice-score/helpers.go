package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/config"
	"github.com/Veraticus/the-spice-must-score/internal/dataset"
	"github.com/Veraticus/the-spice-must-score/internal/merchant"
	"github.com/Veraticus/the-spice-must-score/internal/model"
	"github.com/Veraticus/the-spice-must-score/internal/serving"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, common.NewUserError("Configuration is invalid", err)
	}
	return cfg, nil
}

// openStore opens the artifact store with its catalog attached. The returned
// cleanup closes the catalog.
func openStore(ctx context.Context, cfg *config.Config) (*artifacts.Store, *artifacts.Catalog, func(), error) {
	catalog, err := artifacts.OpenCatalog(ctx, cfg.CatalogFile())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	cleanup := func() {
		if err := catalog.Close(); err != nil {
			slog.Error("Failed to close catalog", "error", err)
		}
	}

	store, err := artifacts.NewStore(cfg.ModelsDir, artifacts.WithCatalog(catalog))
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("failed to open model store: %w", err)
	}
	return store, catalog, cleanup, nil
}

// openRegistry loads version (latest when empty) into a registry.
func openRegistry(ctx context.Context, cfg *config.Config, version string) (*serving.Registry, func(), error) {
	store, _, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	loader := serving.NewLoader(store, cfg.Embedding, merchant.WithIndexKind(cfg.IndexKind))
	registry := serving.NewRegistry(nil)
	if _, err := registry.Reload(ctx, loader, version); err != nil {
		closeStore()
		return nil, nil, common.NewUserError("No trained models found; run 'spice-score train' first", err)
	}

	cleanup := func() {
		if err := registry.Close(); err != nil {
			slog.Error("Failed to release models", "error", err)
		}
		closeStore()
	}
	return registry, cleanup, nil
}

func loadRecords(ctx context.Context, path string) ([]model.Record, error) {
	if path == "" {
		return nil, common.NewUserError("A data file is required (--data)", common.ErrMissingConfig)
	}
	records, err := dataset.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	slog.Info("Loaded transactions", "path", path, "count", len(records))
	return records, nil
}

func readIDFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path) //nolint:gosec // user-provided path
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("Failed to close id file", "error", err)
		}
	}()
	return dataset.ReadIDs(f)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func writeLine(w io.Writer, s string) {
	if _, err := fmt.Fprintln(w, s); err != nil {
		slog.Error("failed to write output", "error", err)
	}
}
