package serving

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-spice-must-score/internal/anomaly"
	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/category"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/embedding"
	"github.com/Veraticus/the-spice-must-score/internal/merchant"
	"github.com/Veraticus/the-spice-must-score/internal/model"
)

func frequencyConfig() embedding.Config {
	return embedding.Config{Mode: embedding.ModeFrequency}
}

func merchantBundle(t *testing.T, version string) *Bundle {
	t.Helper()
	engine, err := embedding.New(frequencyConfig())
	require.NoError(t, err)
	require.NoError(t, engine.Fit([]string{"tesco", "amazon"}))
	m := merchant.NewMatcher(engine, merchant.WithIndexKind(merchant.IndexFlat))
	require.NoError(t, m.BuildIndex([]string{"tesco", "amazon"}))
	return &Bundle{Version: version, Embedding: engine, Merchants: m}
}

func TestRegistryWithoutBundle(t *testing.T) {
	r := NewRegistry(nil)
	assert.Nil(t, r.Current())

	_, err := r.NormaliseMerchant(MerchantRequest{Raw: "TESCO"})
	assert.ErrorIs(t, err, common.ErrNotTrained)
	_, err = r.PredictCategories([]CategoryRequest{{}})
	assert.ErrorIs(t, err, common.ErrNotTrained)
	_, err = r.ScoreAnomalies(AnomalyRequest{})
	assert.ErrorIs(t, err, common.ErrNotTrained)
	assert.NoError(t, r.Close())
}

func TestRegistrySwapKeepsOldBundleUsable(t *testing.T) {
	first := merchantBundle(t, "v20240301_090000")
	second := merchantBundle(t, "v20240302_090000")

	r := NewRegistry(first)
	held := r.Current()

	old := r.Swap(second)
	assert.Same(t, first, old)
	assert.Equal(t, "v20240302_090000", r.Current().Version)

	// A caller still holding the old pointer keeps getting answers from it.
	res, err := held.NormaliseMerchant(MerchantRequest{Raw: "TESCO STORES 1234"})
	require.NoError(t, err)
	assert.Equal(t, "tesco", res.Canonical)

	require.NoError(t, r.Close())
	assert.Nil(t, r.Current())
}

func TestBundleRoutesToMissingComponents(t *testing.T) {
	b := merchantBundle(t, "v20240301_090000")

	readiness := b.Readiness()
	assert.Equal(t, embedding.StrategyFrequency, readiness.Embedding)
	assert.True(t, readiness.Merchants)
	assert.False(t, readiness.Categories)
	assert.False(t, readiness.Anomalies)

	_, err := b.PredictCategories([]CategoryRequest{{Record: model.Record{Merchant: "Tesco"}}})
	assert.ErrorIs(t, err, common.ErrNotTrained)
	_, err = b.ScoreAnomalies(AnomalyRequest{Transactions: []model.Record{{ID: "a", Amount: 10}}})
	assert.ErrorIs(t, err, common.ErrNotTrained)
}

func TestNormaliseMerchantDefaultsMinScore(t *testing.T) {
	b := merchantBundle(t, "v1")

	res, err := b.NormaliseMerchant(MerchantRequest{Raw: "COMPLETELY UNKNOWN SHOP"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, "completely unknown", res.Canonical)
}

func TestNormaliseMerchantExplicitZeroMinScore(t *testing.T) {
	b := merchantBundle(t, "v1")
	zero := 0.0

	res, err := b.NormaliseMerchant(MerchantRequest{Raw: "COMPLETELY UNKNOWN SHOP", MinScore: &zero})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Contains(t, []string{"tesco", "amazon"}, res.Canonical)
}

func categoryBundle(t *testing.T) *Bundle {
	t.Helper()
	var records []model.Record
	for _, cat := range []string{"Groceries", "Transport", "Dining", "Bills", "Fuel"} {
		for i := 0; i < 4; i++ {
			records = append(records, model.Record{
				ID:          fmt.Sprintf("%s-%d", cat, i),
				Merchant:    cat + " merchant",
				Description: "card payment",
				Amount:      float64(10 + i),
				Direction:   model.DirectionDebit,
				Date:        fmt.Sprintf("2024-02-%02d", 1+i),
				Category:    cat,
			})
		}
	}
	c := category.NewClassifier(nil)
	_, err := c.Train(records)
	require.NoError(t, err)
	return &Bundle{Version: "v1", Categories: c}
}

func TestPredictCategoriesHonoursPerRequestTopK(t *testing.T) {
	b := categoryBundle(t)

	preds, err := b.PredictCategories([]CategoryRequest{
		{Record: model.Record{Merchant: "Fuel merchant"}, ReturnTopK: 1},
		{Record: model.Record{Merchant: "Dining merchant"}, ReturnTopK: 4},
		{Record: model.Record{Merchant: "Bills merchant"}},
	})
	require.NoError(t, err)
	require.Len(t, preds, 3)

	assert.Len(t, preds[0].Top, 1)
	assert.Len(t, preds[1].Top, 4)
	assert.Len(t, preds[2].Top, category.DefaultTopK)
	for _, p := range preds {
		assert.Equal(t, p.Chosen, p.Top[0].Category)
	}
}

func TestLoaderWithoutVersions(t *testing.T) {
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = NewLoader(store, frequencyConfig()).Load(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrArtifactMissing)
}

func TestLoaderLeavesBrokenComponentsNil(t *testing.T) {
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	version, err := store.CreateVersion()
	require.NoError(t, err)

	b := merchantBundle(t, version)
	engineBlob, err := b.Embedding.MarshalState()
	require.NoError(t, err)
	matcherBlob, err := b.Merchants.MarshalState()
	require.NoError(t, err)

	require.NoError(t, store.SaveArtifact(embedding.ArtifactName, engineBlob, version, nil))
	require.NoError(t, store.SaveArtifact(merchant.ArtifactName, matcherBlob, version, nil))
	require.NoError(t, store.SaveArtifact(anomaly.ArtifactName, []byte("not a gob stream"), version, nil))

	r := NewRegistry(nil)
	_, err = r.Reload(context.Background(), NewLoader(store, frequencyConfig()), "")
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	loaded := r.Current()
	require.NotNil(t, loaded)
	assert.Equal(t, version, loaded.Version)
	assert.Nil(t, loaded.Manifest)
	assert.Nil(t, loaded.Anomalies)
	assert.Nil(t, loaded.Categories)

	readiness := loaded.Readiness()
	assert.True(t, readiness.Merchants)
	assert.False(t, readiness.Anomalies)

	res, err := r.NormaliseMerchant(MerchantRequest{Raw: "AMAZON MARKETPLACE"})
	require.NoError(t, err)
	assert.Equal(t, "amazon", res.Canonical)

	_, err = r.PredictCategories([]CategoryRequest{{Record: model.Record{Merchant: "Tesco"}}})
	assert.ErrorIs(t, err, common.ErrNotTrained)
}
