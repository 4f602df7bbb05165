package serving

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/the-spice-must-score/internal/anomaly"
	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/category"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/embedding"
	"github.com/Veraticus/the-spice-must-score/internal/merchant"
)

// Loader reconstructs bundles from an artifact store.
type Loader struct {
	store        *artifacts.Store
	embeddingCfg embedding.Config
	matcherOpts  []merchant.Option
}

// NewLoader creates a loader. embeddingCfg supplies the runtime settings
// (cache dir) that are not part of the saved engine state.
func NewLoader(store *artifacts.Store, embeddingCfg embedding.Config, matcherOpts ...merchant.Option) *Loader {
	return &Loader{store: store, embeddingCfg: embeddingCfg, matcherOpts: matcherOpts}
}

// Load reads version, or the latest version when empty. Missing or broken
// component artifacts leave that component nil; only the absence of any
// version at all is an error.
func (l *Loader) Load(ctx context.Context, version string) (*Bundle, error) {
	if version == "" {
		latest, err := l.store.LatestVersion()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve latest version: %w", err)
		}
		if latest == "" {
			return nil, fmt.Errorf("%w: no model versions in %s", common.ErrArtifactMissing, l.store.Root())
		}
		version = latest
	}

	b := &Bundle{Version: version}
	if m, err := l.store.LoadManifest(version); err != nil {
		slog.Warn("manifest unavailable", "version", version, "error", err)
	} else {
		b.Manifest = m
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.Embedding = l.loadEmbedding(version)
		if b.Embedding != nil {
			b.Merchants = l.loadMerchants(version, b.Embedding)
		}
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.Categories = l.loadCategories(version)
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.Anomalies = l.loadAnomalies(version)
		return nil
	})

	if err := g.Wait(); err != nil {
		if closeErr := b.Close(); closeErr != nil {
			slog.Warn("failed to close partially loaded bundle", "error", closeErr)
		}
		return nil, err
	}

	r := b.Readiness()
	slog.Info("model bundle loaded",
		"version", version,
		"embedding", r.Embedding,
		"merchants", r.Merchants,
		"categories", r.Categories,
		"anomalies", r.Anomalies)
	return b, nil
}

func (l *Loader) loadEmbedding(version string) *embedding.Engine {
	a, ok := l.store.LoadArtifact(embedding.ArtifactName, version)
	if !ok {
		return nil
	}
	engine, err := embedding.Restore(a.Blob, l.embeddingCfg)
	if err != nil {
		slog.Warn("failed to restore embedding engine", "version", version, "error", err)
		return nil
	}
	return engine
}

func (l *Loader) loadMerchants(version string, engine *embedding.Engine) *merchant.Matcher {
	a, ok := l.store.LoadArtifact(merchant.ArtifactName, version)
	if !ok {
		return nil
	}
	m, err := merchant.Restore(a.Blob, engine, l.matcherOpts...)
	if err != nil {
		slog.Warn("failed to restore merchant matcher", "version", version, "error", err)
		return nil
	}
	return m
}

func (l *Loader) loadCategories(version string) *category.Classifier {
	a, ok := l.store.LoadArtifact(category.ArtifactName, version)
	if !ok {
		return nil
	}
	c, err := category.Restore(a.Blob)
	if err != nil {
		slog.Warn("failed to restore category classifier", "version", version, "error", err)
		return nil
	}
	return c
}

func (l *Loader) loadAnomalies(version string) *anomaly.Scorer {
	a, ok := l.store.LoadArtifact(anomaly.ArtifactName, version)
	if !ok {
		return nil
	}
	s, err := anomaly.Restore(a.Blob)
	if err != nil {
		slog.Warn("failed to restore anomaly scorer", "version", version, "error", err)
		return nil
	}
	return s
}
