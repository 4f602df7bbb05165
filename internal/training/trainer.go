// Package training runs the offline batch pass that fits every component
// on a set of records and writes them out as a new artifact version.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-spice-must-score/internal/anomaly"
	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/category"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/dataset"
	"github.com/Veraticus/the-spice-must-score/internal/embedding"
	"github.com/Veraticus/the-spice-must-score/internal/features"
	"github.com/Veraticus/the-spice-must-score/internal/merchant"
	"github.com/Veraticus/the-spice-must-score/internal/model"
)

// Stage names a step of the training pass.
type Stage string

// Training stages in the order TrainAll runs them.
const (
	StageEmbedding  Stage = "embedding"
	StageMerchants  Stage = "merchants"
	StageCategories Stage = "categories"
	StageAnomalies  Stage = "anomalies"
	StageManifest   Stage = "manifest"
)

// Stages lists every stage TrainAll reports.
var Stages = []Stage{StageEmbedding, StageMerchants, StageCategories, StageAnomalies, StageManifest}

const (
	// DefaultMerchantMinCount is how often a merchant must appear to become canonical.
	DefaultMerchantMinCount = 2
	// DefaultRebuildMinCount is the stricter threshold used when rebuilding the index alone.
	DefaultRebuildMinCount = 3

	manifestMerchantSample = 20
)

// Options configures a training pass.
type Options struct {
	Embedding        embedding.Config
	IndexKind        string
	Anomaly          anomaly.Options
	MaxTextFeatures  int
	MerchantMinCount int
	// Keep is how many versions survive cleanup after training; zero disables cleanup.
	Keep int
}

// DefaultOptions returns the standard training settings.
func DefaultOptions() Options {
	return Options{
		Embedding:        embedding.Config{Mode: embedding.ModeAuto},
		IndexKind:        merchant.IndexChromem,
		Anomaly:          anomaly.DefaultOptions(),
		MaxTextFeatures:  features.DefaultMaxTextFeatures,
		MerchantMinCount: DefaultMerchantMinCount,
		Keep:             artifacts.DefaultKeep,
	}
}

// ProgressFunc is told when each stage starts.
type ProgressFunc func(stage Stage)

// Result describes a completed training pass.
type Result struct {
	Manifest           *artifacts.Manifest
	CategoryMetrics    *category.Metrics
	AnomalyMetrics     *anomaly.Metrics
	Version            string
	DataHash           string
	EmbeddingStrategy  string
	CanonicalMerchants []string
	Records            int
	Removed            int
}

// Trainer writes trained components into an artifact store.
type Trainer struct {
	store    *artifacts.Store
	progress ProgressFunc
	opts     Options
}

// NewTrainer creates a trainer. progress may be nil.
func NewTrainer(store *artifacts.Store, opts Options, progress ProgressFunc) *Trainer {
	if opts.MerchantMinCount <= 0 {
		opts.MerchantMinCount = DefaultMerchantMinCount
	}
	if opts.IndexKind == "" {
		opts.IndexKind = merchant.IndexChromem
	}
	if opts.MaxTextFeatures <= 0 {
		opts.MaxTextFeatures = features.DefaultMaxTextFeatures
	}
	if opts.Anomaly.Contamination == 0 {
		opts.Anomaly = anomaly.DefaultOptions()
	}
	if progress == nil {
		progress = func(Stage) {}
	}
	return &Trainer{store: store, opts: opts, progress: progress}
}

// blob is one trained component ready to be written.
type blob struct {
	meta artifacts.Metadata
	name string
	data []byte
}

// TrainAll fits the embedding engine, merchant index, category classifier
// and anomaly scorer, then saves them as a fresh version. Category and
// anomaly training are skipped, not fatal, when the data cannot support them.
func (t *Trainer) TrainAll(ctx context.Context, records []model.Record) (*Result, error) {
	if len(records) == 0 {
		return nil, common.InsufficientData("transactions", 0, 1)
	}

	dataHash, err := dataset.Hash(records)
	if err != nil {
		return nil, fmt.Errorf("failed to hash training data: %w", err)
	}
	slog.Info("starting training", "records", len(records), "data_hash", dataHash)

	res := &Result{Records: len(records), DataHash: dataHash}
	metrics := map[string]any{
		"training_samples": len(records),
		"data_hash":        dataHash,
	}
	var blobs []blob

	// Embeddings
	t.progress(StageEmbedding)
	engine, err := embedding.New(t.opts.Embedding)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			slog.Warn("failed to close embedding engine", "error", closeErr)
		}
	}()
	if err := engine.Fit(embeddingCorpus(records)); err != nil {
		return nil, fmt.Errorf("failed to fit embeddings: %w", err)
	}
	engineBlob, err := engine.MarshalState()
	if err != nil {
		return nil, err
	}
	res.EmbeddingStrategy = engine.StrategyName()
	blobs = append(blobs, blob{
		name: embedding.ArtifactName,
		data: engineBlob,
		meta: artifacts.Metadata{"strategy": engine.StrategyName(), "embedding_dim": engine.Dimension()},
	})
	metrics["embedding"] = map[string]any{"strategy": engine.StrategyName(), "dimension": engine.Dimension()}

	// Merchants
	t.progress(StageMerchants)
	matcherBlob, canonical, err := t.buildMerchants(engine, records, t.opts.MerchantMinCount)
	if err != nil {
		return nil, err
	}
	res.CanonicalMerchants = canonical
	blobs = append(blobs, blob{
		name: merchant.ArtifactName,
		data: matcherBlob,
		meta: artifacts.Metadata{"n_canonical_merchants": len(canonical), "min_count": t.opts.MerchantMinCount},
	})
	metrics["merchant"] = map[string]any{"n_canonical_merchants": len(canonical)}

	// Categories
	t.progress(StageCategories)
	classifier := category.NewClassifier(features.NewExtractor(t.opts.MaxTextFeatures))
	catMetrics, err := classifier.Train(records)
	switch {
	case errors.Is(err, common.ErrInsufficientData):
		common.LogError(err, "skipping category classifier", common.Fields{"records": len(records)})
		metrics["category"] = map[string]any{"error": err.Error()}
	case err != nil:
		return nil, fmt.Errorf("failed to train category classifier: %w", err)
	default:
		classifierBlob, err := classifier.MarshalState()
		if err != nil {
			return nil, err
		}
		res.CategoryMetrics = catMetrics
		blobs = append(blobs, blob{name: category.ArtifactName, data: classifierBlob, meta: catMetrics.Map()})
		metrics["category"] = catMetrics.Map()
	}

	// Anomalies
	t.progress(StageAnomalies)
	scorer := anomaly.NewScorer()
	anomMetrics, err := scorer.Train(records, t.opts.Anomaly)
	switch {
	case errors.Is(err, common.ErrInsufficientData):
		common.LogError(err, "skipping anomaly scorer", common.Fields{"records": len(records)})
		metrics["anomaly"] = map[string]any{"error": err.Error()}
	case err != nil:
		return nil, fmt.Errorf("failed to train anomaly scorer: %w", err)
	default:
		scorerBlob, err := scorer.MarshalState()
		if err != nil {
			return nil, err
		}
		res.AnomalyMetrics = anomMetrics
		blobs = append(blobs, blob{name: anomaly.ArtifactName, data: scorerBlob, meta: anomMetrics.Map()})
		metrics["anomaly"] = anomMetrics.Map()
	}

	// Everything is trained; only now does a version directory appear.
	t.progress(StageManifest)
	version, err := t.store.CreateVersion()
	if err != nil {
		return nil, err
	}
	res.Version = version
	for _, b := range blobs {
		if err := t.store.SaveArtifact(b.name, b.data, version, b.meta); err != nil {
			return nil, fmt.Errorf("failed to save %s: %w", b.name, err)
		}
	}

	categories := []string{}
	if classifier.IsTrained() {
		categories = classifier.Categories()
	}
	extra := map[string]any{
		"categories":          categories,
		"canonical_merchants": sample(canonical, manifestMerchantSample),
	}
	manifest, err := t.store.SaveManifest(ctx, version, dataHash, metrics, extra)
	if err != nil {
		return nil, err
	}
	res.Manifest = manifest

	if err := t.cleanup(ctx, res); err != nil {
		return nil, err
	}

	common.LogInfo("training complete", common.Fields{
		"version":    version,
		"merchants":  len(canonical),
		"categories": res.CategoryMetrics != nil,
		"anomalies":  res.AnomalyMetrics != nil,
	})
	return res, nil
}

// RebuildMerchants recomputes the canonical merchant index against the
// embedding engine of the latest version. The result is written as a new
// version that carries the other components over unchanged.
func (t *Trainer) RebuildMerchants(ctx context.Context, records []model.Record, minCount int) (*Result, error) {
	if minCount <= 0 {
		minCount = DefaultRebuildMinCount
	}

	from, err := t.store.LatestVersion()
	if err != nil {
		return nil, err
	}
	if from == "" {
		return nil, fmt.Errorf("%w: no trained version to rebuild from", common.ErrArtifactMissing)
	}
	a, ok := t.store.LoadArtifact(embedding.ArtifactName, from)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no embedding engine", common.ErrArtifactMissing, from)
	}
	engine, err := embedding.Restore(a.Blob, t.opts.Embedding)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			slog.Warn("failed to close embedding engine", "error", closeErr)
		}
	}()

	t.progress(StageMerchants)
	matcherBlob, canonical, err := t.buildMerchants(engine, records, minCount)
	if err != nil {
		return nil, err
	}
	if len(canonical) == 0 {
		return nil, common.InsufficientData(fmt.Sprintf("merchants seen at least %d times", minCount), 0, 1)
	}

	t.progress(StageManifest)
	prev, err := t.store.LoadManifest(from)
	if err != nil {
		slog.Warn("previous manifest unavailable", "version", from, "error", err)
		prev = &artifacts.Manifest{Metrics: map[string]any{}}
	}

	version, err := t.store.CreateVersion()
	if err != nil {
		return nil, err
	}
	for _, name := range []string{embedding.ArtifactName, category.ArtifactName, anomaly.ArtifactName} {
		if err := t.store.CopyArtifact(name, from, version); err != nil {
			if errors.Is(err, common.ErrArtifactMissing) {
				slog.Warn("artifact not carried over", "name", name, "from", from)
				continue
			}
			return nil, err
		}
	}
	if err := t.store.SaveArtifact(merchant.ArtifactName, matcherBlob, version, artifacts.Metadata{
		"n_canonical_merchants": len(canonical),
		"min_count":             minCount,
		"rebuilt_from":          from,
	}); err != nil {
		return nil, err
	}

	metrics := make(map[string]any, len(prev.Metrics)+1)
	for k, v := range prev.Metrics {
		metrics[k] = v
	}
	metrics["merchant"] = map[string]any{"n_canonical_merchants": len(canonical), "min_count": minCount}

	extra := make(map[string]any, len(prev.Extra)+2)
	for k, v := range prev.Extra {
		extra[k] = v
	}
	extra["canonical_merchants"] = sample(canonical, manifestMerchantSample)
	extra["rebuilt_from"] = from

	manifest, err := t.store.SaveManifest(ctx, version, prev.DataHash, metrics, extra)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Manifest:           manifest,
		Version:            version,
		DataHash:           prev.DataHash,
		EmbeddingStrategy:  engine.StrategyName(),
		CanonicalMerchants: canonical,
		Records:            len(records),
	}
	if err := t.cleanup(ctx, res); err != nil {
		return nil, err
	}

	slog.Info("merchant index rebuilt", "version", version, "from", from, "merchants", len(canonical))
	return res, nil
}

func (t *Trainer) buildMerchants(engine *embedding.Engine, records []model.Record, minCount int) ([]byte, []string, error) {
	raw := make([]string, 0, len(records))
	for _, r := range records {
		if r.Merchant != "" {
			raw = append(raw, r.Merchant)
		}
	}
	canonical := merchant.BuildCanonicalMerchants(raw, minCount)

	matcher := merchant.NewMatcher(engine, merchant.WithIndexKind(t.opts.IndexKind))
	if err := matcher.BuildIndex(canonical); err != nil {
		return nil, nil, fmt.Errorf("failed to build merchant index: %w", err)
	}
	data, err := matcher.MarshalState()
	if err != nil {
		return nil, nil, err
	}
	return data, canonical, nil
}

func (t *Trainer) cleanup(ctx context.Context, res *Result) error {
	if t.opts.Keep <= 0 {
		return nil
	}
	removed, err := t.store.CleanupOldVersions(ctx, t.opts.Keep)
	if err != nil {
		return fmt.Errorf("failed to clean up old versions: %w", err)
	}
	res.Removed = removed
	return nil
}

// embeddingCorpus is every merchant followed by every description.
func embeddingCorpus(records []model.Record) []string {
	texts := make([]string, 0, 2*len(records))
	for _, r := range records {
		if r.Merchant != "" {
			texts = append(texts, r.Merchant)
		}
	}
	for _, r := range records {
		if r.Description != "" {
			texts = append(texts, r.Description)
		}
	}
	return texts
}

func sample(names []string, n int) []string {
	if len(names) <= n {
		return append([]string{}, names...)
	}
	return append([]string{}, names[:n]...)
}
