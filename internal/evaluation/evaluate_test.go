package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-spice-must-score/internal/anomaly"
	"github.com/Veraticus/the-spice-must-score/internal/category"
	"github.com/Veraticus/the-spice-must-score/internal/embedding"
	"github.com/Veraticus/the-spice-must-score/internal/merchant"
	"github.com/Veraticus/the-spice-must-score/internal/model"
	"github.com/Veraticus/the-spice-must-score/internal/serving"
)

func merchantBundle(t *testing.T) *serving.Bundle {
	t.Helper()
	engine, err := embedding.New(embedding.Config{Mode: embedding.ModeFrequency})
	require.NoError(t, err)
	require.NoError(t, engine.Fit([]string{"Tesco", "Pret", "Costa Coffee"}))

	m := merchant.NewMatcher(engine, merchant.WithIndexKind(merchant.IndexFlat))
	require.NoError(t, m.BuildIndex([]string{"Tesco", "Pret", "Costa Coffee"}))
	return &serving.Bundle{Version: "v20240301_090000", Embedding: engine, Merchants: m}
}

func groceries() []model.Record {
	records := make([]model.Record, 0, 20)
	for i := 0; i < 19; i++ {
		records = append(records, model.Record{
			ID:       fmt.Sprintf("g-%02d", i),
			Merchant: "Tesco",
			Amount:   20,
			Date:     "2024-03-10",
			Category: "Groceries",
		})
	}
	return append(records, model.Record{ID: "outlier", Merchant: "Tesco", Amount: 200, Date: "2024-03-10", Category: "Groceries"})
}

func TestEvaluateMerchants(t *testing.T) {
	b := merchantBundle(t)
	m := EvaluateMerchants(b, []MerchantCase{
		{Raw: "TESCO STORES 1234", Expected: "Tesco"},
		{Raw: "PRET A MANGER", Expected: "Pret"},
		{Raw: "costa", Expected: "Tesco"},
		{Raw: "", Expected: "Tesco"},
	})

	assert.Empty(t, m.Error)
	assert.Equal(t, 3, m.TotalSamples)
	assert.Equal(t, 2, m.Top1Correct)
	assert.Equal(t, 3, m.Top3Correct)
	assert.InDelta(t, 0.6667, m.Top1Accuracy, 1e-9)
	assert.InDelta(t, 1.0, m.Top3Accuracy, 1e-9)

	assert.Equal(t, "No test data provided", EvaluateMerchants(b, nil).Error)
	assert.Equal(t, "No valid test samples", EvaluateMerchants(b, []MerchantCase{{Raw: "x"}}).Error)
}

func TestMerchantCases(t *testing.T) {
	cases := MerchantCases([]model.Record{
		{Merchant: "Tesco", Description: "TESCO STORES 1234"},
		{Merchant: "Pret"},
	})
	assert.Equal(t, []MerchantCase{{Raw: "TESCO STORES 1234", Expected: "Tesco"}}, cases)
}

func TestEvaluateCategories(t *testing.T) {
	names := map[string][]string{
		"Groceries": {"Tesco", "Sainsbury"},
		"Transport": {"TfL", "Uber Trip"},
		"Dining":    {"Pret", "Costa Coffee"},
		"Bills":     {"Thames Water", "Octopus Energy"},
	}
	var records []model.Record
	for cat, merchants := range names {
		for i := 0; i < 4; i++ {
			records = append(records, model.Record{
				Merchant:    merchants[i%2],
				Description: "card payment",
				Amount:      float64(10 + i),
				Date:        "2024-02-05",
				Category:    cat,
			})
		}
	}

	c := category.NewClassifier(nil)
	_, err := c.Train(records)
	require.NoError(t, err)

	m := EvaluateCategories(&serving.Bundle{Categories: c}, append(records, model.Record{Merchant: "unlabelled"}))
	assert.Empty(t, m.Error)
	assert.Equal(t, 16, m.TotalSamples)
	assert.GreaterOrEqual(t, m.Top1Accuracy, 0.75)
	assert.GreaterOrEqual(t, m.Top3Accuracy, m.Top1Accuracy)
	assert.LessOrEqual(t, m.MinConfidence, m.MeanConfidence)
	assert.LessOrEqual(t, m.MeanConfidence, m.MaxConfidence)
	assert.LessOrEqual(t, m.MaxConfidence, 1.0)

	missing := EvaluateCategories(&serving.Bundle{}, records)
	assert.Contains(t, missing.Error, "not trained")
}

func TestEvaluateAnomalies(t *testing.T) {
	s := anomaly.NewScorer()
	_, err := s.Train(groceries(), anomaly.DefaultOptions())
	require.NoError(t, err)
	b := &serving.Bundle{Anomalies: s}

	m := EvaluateAnomalies(b, groceries(), []string{"outlier", "g-missing"})
	assert.Empty(t, m.Error)
	assert.Equal(t, 20, m.TotalSamples)
	assert.Equal(t, 19, m.NormalCount)
	assert.Equal(t, 1, m.SevereCount+m.SuspiciousCount)
	assert.InDelta(t, 0.05, m.FlaggedRate, 1e-9)
	assert.Greater(t, m.MaxScore, m.MedianScore)
	assert.Equal(t, 2, m.KnownAnomalies)
	require.NotNil(t, m.Precision)
	require.NotNil(t, m.Recall)
	assert.InDelta(t, 1.0, *m.Precision, 1e-9)
	assert.InDelta(t, 0.5, *m.Recall, 1e-9)

	noKnown := EvaluateAnomalies(b, groceries(), nil)
	assert.Nil(t, noKnown.Precision)

	assert.Equal(t, "No test data provided", EvaluateAnomalies(b, nil, nil).Error)
}

func TestReportWrite(t *testing.T) {
	b := merchantBundle(t)
	records := []model.Record{
		{ID: "1", Merchant: "Tesco", Description: "TESCO STORES 1234", Amount: 10},
		{ID: "2", Merchant: "Pret", Description: "PRET A MANGER", Amount: 4},
	}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	report := Evaluate(b, records, nil, now)

	require.NotNil(t, report.Merchants)
	assert.InDelta(t, 1.0, report.Merchants.Top1Accuracy, 1e-9)
	assert.Equal(t, "No test data provided", report.Categories.Error)
	assert.Contains(t, report.Anomalies.Error, "not trained")

	md := report.Markdown()
	assert.Contains(t, md, "**Version:** v20240301_090000")
	assert.Contains(t, md, "| Top-1 Accuracy | 100.0% |")
	assert.Contains(t, md, "## Category Classification\n\nNo test data provided\n")

	dir := filepath.Join(t.TempDir(), "eval")
	require.NoError(t, report.Write(dir))

	data, err := os.ReadFile(filepath.Join(dir, jsonReportFile))
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 2, decoded.Merchants.TotalSamples)
	assert.True(t, now.Equal(decoded.GeneratedAt))

	written, err := os.ReadFile(filepath.Join(dir, markdownReportFile))
	require.NoError(t, err)
	assert.Equal(t, md, string(written))
}
