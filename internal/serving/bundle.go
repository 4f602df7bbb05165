// Package serving assembles trained components into an immutable bundle and
// routes inference requests to them.
package serving

import (
	"fmt"

	"github.com/Veraticus/the-spice-must-score/internal/anomaly"
	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/category"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/embedding"
	"github.com/Veraticus/the-spice-must-score/internal/merchant"
	"github.com/Veraticus/the-spice-must-score/internal/model"
)

// Bundle is one loaded model version. Any component may be nil when its
// artifact was absent or unreadable. A bundle is never mutated after load.
type Bundle struct {
	Manifest   *artifacts.Manifest
	Embedding  *embedding.Engine
	Merchants  *merchant.Matcher
	Categories *category.Classifier
	Anomalies  *anomaly.Scorer
	Version    string
}

// Readiness reports which capabilities a bundle can serve.
type Readiness struct {
	Version    string `json:"version"`
	Embedding  string `json:"embedding,omitempty"`
	Merchants  bool   `json:"merchants"`
	Categories bool   `json:"categories"`
	Anomalies  bool   `json:"anomalies"`
}

// Readiness returns per-capability flags so callers can degrade selectively.
func (b *Bundle) Readiness() Readiness {
	r := Readiness{Version: b.Version}
	if b.Embedding != nil {
		r.Embedding = b.Embedding.StrategyName()
	}
	r.Merchants = b.Merchants != nil && b.Merchants.IsReady()
	r.Categories = b.Categories != nil && b.Categories.IsTrained()
	r.Anomalies = b.Anomalies != nil && b.Anomalies.IsTrained()
	return r
}

// Close releases embedding model resources.
func (b *Bundle) Close() error {
	if b.Embedding == nil {
		return nil
	}
	return b.Embedding.Close()
}

// MerchantRequest asks for the canonical form of a raw merchant string.
type MerchantRequest struct {
	Raw             string  `json:"raw"`
	HintMerchant    string  `json:"hintMerchant,omitempty"`
	HintDescription string  `json:"hintDescription,omitempty"`
	// MinScore is the similarity needed to adopt a match; nil uses the default.
	MinScore *float64 `json:"minScore,omitempty"`
}

// CategoryRequest is a transaction plus how many ranked categories to return.
type CategoryRequest struct {
	model.Record
	ReturnTopK int `json:"returnTopK,omitempty"`
}

// AnomalyRequest scores a batch of transactions.
type AnomalyRequest struct {
	Transactions []model.Record `json:"transactions"`
	IgnoreIDs    []string       `json:"ignoreIds,omitempty"`
}

// NormaliseMerchant resolves req against the canonical merchant index.
func (b *Bundle) NormaliseMerchant(req MerchantRequest) (model.MerchantResult, error) {
	if b.Merchants == nil {
		return model.MerchantResult{}, fmt.Errorf("merchant matcher: %w", common.ErrNotTrained)
	}
	minScore := merchant.DefaultMinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	return b.Merchants.Normalise(req.Raw, req.HintMerchant, req.HintDescription, minScore)
}

// PredictCategories ranks categories for each request. Each prediction keeps
// as many ranked categories as its own request asked for.
func (b *Bundle) PredictCategories(reqs []CategoryRequest) ([]model.CategoryPrediction, error) {
	if b.Categories == nil {
		return nil, fmt.Errorf("category classifier: %w", common.ErrNotTrained)
	}
	if len(reqs) == 0 {
		return []model.CategoryPrediction{}, nil
	}

	records := make([]model.Record, len(reqs))
	widest := 0
	for i, req := range reqs {
		records[i] = req.Record
		widest = max(widest, requestedTopK(req))
	}

	predictions, err := b.Categories.Predict(records, widest)
	if err != nil {
		return nil, err
	}
	for i := range predictions {
		predictions[i].Top = predictions[i].Top.TopN(requestedTopK(reqs[i]))
	}
	return predictions, nil
}

func requestedTopK(req CategoryRequest) int {
	if req.ReturnTopK <= 0 {
		return category.DefaultTopK
	}
	return req.ReturnTopK
}

// ScoreAnomalies scores every transaction in req.
func (b *Bundle) ScoreAnomalies(req AnomalyRequest) ([]model.AnomalyResult, error) {
	if b.Anomalies == nil {
		return nil, fmt.Errorf("anomaly scorer: %w", common.ErrNotTrained)
	}
	ignore := make(map[string]bool, len(req.IgnoreIDs))
	for _, id := range req.IgnoreIDs {
		ignore[id] = true
	}
	return b.Anomalies.Score(req.Transactions, ignore)
}
