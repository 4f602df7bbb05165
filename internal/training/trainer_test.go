package training

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-spice-must-score/internal/anomaly"
	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/category"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/embedding"
	"github.com/Veraticus/the-spice-must-score/internal/merchant"
	"github.com/Veraticus/the-spice-must-score/internal/model"
	"github.com/Veraticus/the-spice-must-score/internal/serving"
)

var merchantsByCategory = map[string][]string{
	"Groceries": {"Tesco", "Sainsbury"},
	"Transport": {"TfL", "Uber Trip"},
	"Dining":    {"Pret", "Costa Coffee"},
	"Bills":     {"Thames Water", "Octopus Energy"},
}

func trainingRecords(perClass int) []model.Record {
	var records []model.Record
	for _, cat := range []string{"Groceries", "Transport", "Dining", "Bills"} {
		names := merchantsByCategory[cat]
		for i := 0; i < perClass; i++ {
			records = append(records, model.Record{
				ID:          fmt.Sprintf("%s-%d", cat, i),
				Merchant:    names[i%len(names)],
				Description: "card payment",
				Amount:      float64(5 + (i*7)%40),
				Direction:   model.DirectionDebit,
				Date:        fmt.Sprintf("2024-02-%02d", 1+i%28),
				Category:    cat,
			})
		}
	}
	return append(records, model.Record{
		ID:          "salary",
		Merchant:    "Employer",
		Description: "SALARY PAYMENT",
		Amount:      2500,
		Direction:   model.DirectionCredit,
		Date:        "2024-02-28",
	})
}

// newStore returns a store whose clock advances a second per version.
func newStore(t *testing.T) *artifacts.Store {
	t.Helper()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store, err := artifacts.NewStore(t.TempDir(), artifacts.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	require.NoError(t, err)
	return store
}

func frequencyOptions() Options {
	opts := DefaultOptions()
	opts.Embedding = embedding.Config{Mode: embedding.ModeFrequency}
	return opts
}

func TestTrainAllWritesLoadableVersion(t *testing.T) {
	store := newStore(t)
	var stages []Stage
	trainer := NewTrainer(store, frequencyOptions(), func(s Stage) { stages = append(stages, s) })

	res, err := trainer.TrainAll(context.Background(), trainingRecords(15))
	require.NoError(t, err)

	assert.Equal(t, Stages, stages)
	assert.Equal(t, 61, res.Records)
	assert.Len(t, res.DataHash, 16)
	assert.Equal(t, embedding.StrategyFrequency, res.EmbeddingStrategy)
	assert.Len(t, res.CanonicalMerchants, 8)
	require.NotNil(t, res.CategoryMetrics)
	assert.True(t, res.CategoryMetrics.Calibrated)
	require.NotNil(t, res.AnomalyMetrics)
	assert.Equal(t, 60, res.AnomalyMetrics.NSamples)

	latest, err := store.LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, res.Version, latest)

	manifest, err := store.LoadManifest(res.Version)
	require.NoError(t, err)
	assert.Equal(t, res.DataHash, manifest.DataHash)
	assert.Equal(t, []any{"Bills", "Dining", "Groceries", "Transport"}, manifest.Extra["categories"])
	assert.Len(t, manifest.Extra["canonical_merchants"], 8)
	samples, ok := manifest.MetricFloat("training_samples")
	require.True(t, ok)
	assert.InDelta(t, 61.0, samples, 1e-9)

	bundle, err := serving.NewLoader(store, embedding.Config{}).Load(context.Background(), "")
	require.NoError(t, err)
	defer func() { _ = bundle.Close() }()

	assert.Equal(t, serving.Readiness{
		Version:    res.Version,
		Embedding:  embedding.StrategyFrequency,
		Merchants:  true,
		Categories: true,
		Anomalies:  true,
	}, bundle.Readiness())

	m, err := bundle.NormaliseMerchant(serving.MerchantRequest{Raw: "TESCO STORES 1234"})
	require.NoError(t, err)
	assert.True(t, m.Matched)
	assert.Equal(t, "tesco", m.Canonical)

	preds, err := bundle.PredictCategories([]serving.CategoryRequest{
		{Record: model.Record{Merchant: "Tesco", Description: "card payment", Amount: 12, Date: "2024-03-02"}},
	})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "Groceries", preds[0].Chosen)
	assert.Len(t, preds[0].Top, category.DefaultTopK)

	scores, err := bundle.ScoreAnomalies(serving.AnomalyRequest{
		Transactions: []model.Record{{ID: "salary", Amount: 2500, Direction: model.DirectionCredit}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.LabelNormal, scores[0].Label)
}

func TestTrainAllIsRepeatable(t *testing.T) {
	records := trainingRecords(15)
	load := func() *serving.Bundle {
		store := newStore(t)
		_, err := NewTrainer(store, frequencyOptions(), nil).TrainAll(context.Background(), records)
		require.NoError(t, err)
		b, err := serving.NewLoader(store, embedding.Config{}).Load(context.Background(), "")
		require.NoError(t, err)
		return b
	}
	first, second := load(), load()

	req := serving.AnomalyRequest{Transactions: records}
	a, err := first.ScoreAnomalies(req)
	require.NoError(t, err)
	b, err := second.ScoreAnomalies(req)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	reqs := []serving.CategoryRequest{{Record: records[0]}, {Record: records[20]}}
	p1, err := first.PredictCategories(reqs)
	require.NoError(t, err)
	p2, err := second.PredictCategories(reqs)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestTrainAllSkipsUnsupportedComponents(t *testing.T) {
	var records []model.Record
	for i := 0; i < 12; i++ {
		records = append(records, model.Record{
			ID:       fmt.Sprintf("t%d", i),
			Merchant: "Tesco",
			Amount:   float64(10 + i),
			Category: "Groceries",
		})
	}
	store := newStore(t)
	res, err := NewTrainer(store, frequencyOptions(), nil).TrainAll(context.Background(), records)
	require.NoError(t, err)

	assert.Nil(t, res.CategoryMetrics)
	require.NotNil(t, res.AnomalyMetrics)
	assert.Contains(t, res.Manifest.Metrics["category"], "error")
	assert.Equal(t, []string{}, res.Manifest.Extra["categories"])

	_, ok := store.LoadArtifact(category.ArtifactName, res.Version)
	assert.False(t, ok)

	bundle, err := serving.NewLoader(store, embedding.Config{}).Load(context.Background(), res.Version)
	require.NoError(t, err)
	assert.False(t, bundle.Readiness().Categories)
	_, err = bundle.PredictCategories([]serving.CategoryRequest{{Record: records[0]}})
	assert.ErrorIs(t, err, common.ErrNotTrained)
}

func TestTrainAllRejectsEmptyInput(t *testing.T) {
	store := newStore(t)
	_, err := NewTrainer(store, frequencyOptions(), nil).TrainAll(context.Background(), nil)
	assert.ErrorIs(t, err, common.ErrInsufficientData)

	versions, err := store.Versions()
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestRebuildMerchants(t *testing.T) {
	store := newStore(t)
	trainer := NewTrainer(store, frequencyOptions(), nil)
	trained, err := trainer.TrainAll(context.Background(), trainingRecords(15))
	require.NoError(t, err)

	extra := []model.Record{
		{Merchant: "Greggs"}, {Merchant: "Greggs"}, {Merchant: "Greggs"},
		{Merchant: "Tesco"}, {Merchant: "Tesco"}, {Merchant: "Tesco"},
		{Merchant: "Argos"},
	}
	rebuilt, err := trainer.RebuildMerchants(context.Background(), extra, 0)
	require.NoError(t, err)

	assert.NotEqual(t, trained.Version, rebuilt.Version)
	assert.Equal(t, []string{"greggs", "tesco"}, rebuilt.CanonicalMerchants)
	assert.Equal(t, trained.Version, rebuilt.Manifest.Extra["rebuilt_from"])
	assert.Equal(t, trained.DataHash, rebuilt.Manifest.DataHash)

	for _, name := range []string{embedding.ArtifactName, category.ArtifactName, anomaly.ArtifactName} {
		before, ok := store.LoadArtifact(name, trained.Version)
		require.True(t, ok, name)
		after, ok := store.LoadArtifact(name, rebuilt.Version)
		require.True(t, ok, name)
		assert.Equal(t, before.Blob, after.Blob, name)
	}

	// The source version is untouched.
	a, ok := store.LoadArtifact(merchant.ArtifactName, trained.Version)
	require.True(t, ok)
	m, err := merchant.Restore(a.Blob, nil)
	require.NoError(t, err)
	assert.Len(t, m.Names(), 8)
}

func TestRebuildMerchantsNeedsTrainedVersion(t *testing.T) {
	_, err := NewTrainer(newStore(t), frequencyOptions(), nil).RebuildMerchants(context.Background(), nil, 3)
	assert.ErrorIs(t, err, common.ErrArtifactMissing)
}
