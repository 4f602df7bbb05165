// Package anomaly flags unusual debit transactions with an isolation forest
// over amount-derived features, and explains each score against the most
// specific spending baseline available.
package anomaly

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/model"
)

// ArtifactName is the blob name of a saved scorer.
const ArtifactName = "anomaly_scorer"

const (
	stateSchema        = "anomaly_scorer"
	stateSchemaVersion = 1

	// DefaultContamination is the expected share of outliers in training data.
	DefaultContamination = 0.05
	// DefaultEstimators is the number of isolation trees.
	DefaultEstimators = 100

	// SuspiciousThreshold and SevereThreshold bound the label bands.
	SuspiciousThreshold = 0.6
	SevereThreshold     = 0.8

	minTrainingDebits = 10
	forestSeed        = 42
)

// Options configures Train.
type Options struct {
	Contamination float64
	Estimators    int
}

// DefaultOptions returns the standard training settings.
func DefaultOptions() Options {
	return Options{Contamination: DefaultContamination, Estimators: DefaultEstimators}
}

// Metrics summarises a training run.
type Metrics struct {
	NSamples           int
	NAnomaliesDetected int
	AnomalyRate        float64
	NCategories        int
	NMerchants         int
}

// Map renders the metrics for a manifest.
func (m Metrics) Map() map[string]any {
	return map[string]any{
		"n_samples":            m.NSamples,
		"n_anomalies_detected": m.NAnomaliesDetected,
		"anomaly_rate":         m.AnomalyRate,
		"n_categories":         m.NCategories,
		"n_merchants":          m.NMerchants,
	}
}

// Scorer is either untrained or trained; a trained scorer is read-only.
type Scorer struct {
	forest     *isolationForest
	byCategory map[string]Baseline
	byMerchant map[string]Baseline
	global     GlobalBaseline
}

// NewScorer returns an untrained scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// IsTrained reports whether Score can be called.
func (s *Scorer) IsTrained() bool {
	return s.forest != nil
}

// Global returns the all-debits baseline.
func (s *Scorer) Global() GlobalBaseline {
	return s.global
}

// Train fits baselines and the forest on the debit records.
func (s *Scorer) Train(records []model.Record, opts Options) (*Metrics, error) {
	if opts.Contamination == 0 {
		opts.Contamination = DefaultContamination
	}
	if opts.Contamination < 0 || opts.Contamination > 0.5 {
		return nil, fmt.Errorf("%w: contamination must be in (0, 0.5], got %v", common.ErrInvalidConfig, opts.Contamination)
	}
	if opts.Estimators <= 0 {
		opts.Estimators = DefaultEstimators
	}

	debits := make([]model.Record, 0, len(records))
	for _, r := range records {
		if r.IsDebit() {
			debits = append(debits, r)
		}
	}
	if len(debits) < minTrainingDebits {
		return nil, common.InsufficientData("debit transactions", len(debits), minTrainingDebits)
	}

	amounts := make([]float64, len(debits))
	categories := make([]string, len(debits))
	merchants := make([]string, len(debits))
	for i, r := range debits {
		amounts[i] = r.Amount
		categories[i] = r.Category
		merchants[i] = r.Merchant
	}

	s.global = newGlobalBaseline(amounts)
	s.byCategory = groupBaselines(categories, amounts)
	s.byMerchant = groupBaselines(merchants, amounts)

	x := make([][]float64, len(debits))
	for i, r := range debits {
		x[i] = s.featureRow(r)
	}
	s.forest = fitForest(x, opts.Estimators, opts.Contamination, forestSeed)

	detected := 0
	for _, row := range x {
		if s.forest.decision(row) < 0 {
			detected++
		}
	}

	metrics := &Metrics{
		NSamples:           len(debits),
		NAnomaliesDetected: detected,
		AnomalyRate:        float64(detected) / float64(len(debits)),
		NCategories:        len(s.byCategory),
		NMerchants:         len(s.byMerchant),
	}
	slog.Info("anomaly scorer trained",
		"samples", metrics.NSamples,
		"anomalies", metrics.NAnomaliesDetected,
		"categories", metrics.NCategories,
		"merchants", metrics.NMerchants)
	return metrics, nil
}

// featureRow is [log1p(amount), z vs global, z vs category (0 if none), day/31 (0 if no date)].
func (s *Scorer) featureRow(r model.Record) []float64 {
	row := []float64{
		math.Log1p(math.Max(r.Amount, 0)),
		s.global.zScore(r.Amount),
		0,
		0,
	}
	if b, ok := s.byCategory[r.Category]; ok && r.Category != "" {
		row[2] = b.zScore(r.Amount)
	}
	if t, ok := r.ParsedDate(); ok {
		row[3] = float64(t.Day()) / 31.0
	}
	return row
}

// Score rates each record. Ignored ids and credits are passed through as
// NORMAL without consulting the model.
func (s *Scorer) Score(records []model.Record, ignoreIDs map[string]bool) ([]model.AnomalyResult, error) {
	if !s.IsTrained() {
		return nil, fmt.Errorf("anomaly scorer: %w", common.ErrNotTrained)
	}

	results := make([]model.AnomalyResult, len(records))
	for i, r := range records {
		switch {
		case ignoreIDs[r.ID]:
			results[i] = skipped(r.ID, "Skipped (in ignore list)")
		case r.IsCredit():
			results[i] = skipped(r.ID, "Credit transactions not scored")
		default:
			results[i] = s.scoreOne(r)
		}
	}
	return results, nil
}

func skipped(id, note string) model.AnomalyResult {
	return model.AnomalyResult{
		ID:    id,
		Label: model.LabelNormal,
		Why:   model.AnomalyExplanation{Notes: note},
	}
}

func (s *Scorer) scoreOne(r model.Record) model.AnomalyResult {
	raw := -s.forest.decision(s.featureRow(r))
	score := math.Max(0, math.Min(1, raw+0.5))

	label := model.LabelNormal
	switch {
	case score >= SevereThreshold:
		label = model.LabelSevere
	case score >= SuspiciousThreshold:
		label = model.LabelSuspicious
	}

	return model.AnomalyResult{
		ID:    r.ID,
		Score: score,
		Label: label,
		Why:   s.explain(r, score),
	}
}

type scorerState struct {
	Forest     *isolationForest
	ByCategory map[string]Baseline
	ByMerchant map[string]Baseline
	Global     GlobalBaseline
}

// MarshalState serialises the forest and baselines.
func (s *Scorer) MarshalState() ([]byte, error) {
	if !s.IsTrained() {
		return nil, fmt.Errorf("anomaly scorer: %w", common.ErrNotTrained)
	}
	return artifacts.EncodeState(stateSchema, stateSchemaVersion, scorerState{
		Forest:     s.forest,
		ByCategory: s.byCategory,
		ByMerchant: s.byMerchant,
		Global:     s.global,
	})
}

// Restore rebuilds a trained scorer.
func Restore(blob []byte) (*Scorer, error) {
	var state scorerState
	if err := artifacts.DecodeState(blob, stateSchema, stateSchemaVersion, &state); err != nil {
		return nil, err
	}
	if state.Forest == nil || len(state.Forest.Trees) == 0 {
		return nil, fmt.Errorf("%w: anomaly scorer without trees", common.ErrInvalidArtifact)
	}

	s := &Scorer{
		forest:     state.Forest,
		byCategory: state.ByCategory,
		byMerchant: state.ByMerchant,
		global:     state.Global,
	}
	if s.byCategory == nil {
		s.byCategory = map[string]Baseline{}
	}
	if s.byMerchant == nil {
		s.byMerchant = map[string]Baseline{}
	}
	return s, nil
}
