// Package category predicts spending categories for transactions with a
// multinomial logistic regression over extracted features, calibrating
// probabilities when there is enough data to hold some out.
package category

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/features"
	"github.com/Veraticus/the-spice-must-score/internal/model"
)

// ArtifactName is the blob name of a saved classifier.
const ArtifactName = "category_classifier"

const (
	stateSchema        = "category_classifier"
	stateSchemaVersion = 1

	// DefaultTopK is the number of ranked categories Predict returns.
	DefaultTopK = 3

	minTrainingSamples     = 10
	minCalibrationSamples  = 50
	minCalibrationPerClass = 5
	maxFolds               = 5
)

// probabilisticModel is what Predict needs from a fitted model.
type probabilisticModel interface {
	predictProba(x []float64) []float64
	coefficients() [][]float64
}

// Metrics summarises a training run.
type Metrics struct {
	CVAccuracyMean   *float64
	CVAccuracyStd    *float64
	NSamples         int
	NClasses         int
	NFeatures        int
	CalibrationFolds int
	Calibrated       bool
}

// Map renders the metrics for a manifest. Unavailable cross-validation scores are nil.
func (m Metrics) Map() map[string]any {
	out := map[string]any{
		"n_samples":         m.NSamples,
		"n_classes":         m.NClasses,
		"n_features":        m.NFeatures,
		"calibrated":        m.Calibrated,
		"calibration_folds": m.CalibrationFolds,
		"cv_accuracy_mean":  nil,
	}
	if m.CVAccuracyMean != nil {
		out["cv_accuracy_mean"] = *m.CVAccuracyMean
	}
	if m.CVAccuracyStd != nil {
		out["cv_accuracy_std"] = *m.CVAccuracyStd
	}
	return out
}

// Classifier predicts categories. It is not safe to Train concurrently with
// Predict; a trained classifier may be shared by many readers.
type Classifier struct {
	extractor *features.Extractor
	model     probabilisticModel
	classes   []string
	cfg       trainConfig
}

// NewClassifier returns an untrained classifier. A nil extractor is created
// and fitted during Train.
func NewClassifier(extractor *features.Extractor) *Classifier {
	return &Classifier{extractor: extractor, cfg: defaultTrainConfig()}
}

// IsTrained reports whether Predict can be called.
func (c *Classifier) IsTrained() bool {
	return c.model != nil && len(c.classes) > 0
}

// Categories returns the class names in label-index order.
func (c *Classifier) Categories() []string {
	if len(c.classes) > 0 {
		return append([]string(nil), c.classes...)
	}
	if c.extractor != nil {
		return c.extractor.Categories()
	}
	return nil
}

// Train fits the classifier on labelled records; unlabelled ones are ignored.
func (c *Classifier) Train(records []model.Record) (*Metrics, error) {
	labelled := make([]model.Record, 0, len(records))
	for _, r := range records {
		if r.Category != "" {
			labelled = append(labelled, r)
		}
	}
	if len(labelled) < minTrainingSamples {
		return nil, common.InsufficientData("labelled transactions", len(labelled), minTrainingSamples)
	}

	classes, y := encodeLabels(labelled)
	if len(classes) < 2 {
		return nil, common.InsufficientData("categories", len(classes), 2)
	}

	if c.extractor == nil {
		c.extractor = features.NewExtractor(features.DefaultMaxTextFeatures)
	}
	if err := c.extractor.Fit(labelled); err != nil {
		return nil, err
	}
	x, err := c.extractor.Transform(labelled, features.AllBlocks())
	if err != nil {
		return nil, fmt.Errorf("extracting features: %w", err)
	}

	slog.Info("training category classifier",
		"samples", len(labelled),
		"classes", len(classes),
		"features", len(x[0]))

	counts := make([]int, len(classes))
	for _, label := range y {
		counts[label]++
	}
	minCount := counts[0]
	for _, n := range counts[1:] {
		minCount = min(minCount, n)
	}

	metrics := &Metrics{NSamples: len(labelled), NClasses: len(classes), NFeatures: len(x[0])}

	if len(labelled) >= minCalibrationSamples && minCount >= minCalibrationPerClass {
		folds := min(maxFolds, minCount)
		c.model = fitCalibrated(x, y, len(classes), folds, c.cfg)
		metrics.Calibrated = true
		metrics.CalibrationFolds = folds
	} else {
		c.model = fitLogistic(x, y, len(classes), balancedWeights(y, len(classes)), c.cfg)
	}
	c.classes = classes

	if mean, std, ok := crossValidate(x, y, len(classes), c.cfg); ok {
		metrics.CVAccuracyMean = &mean
		metrics.CVAccuracyStd = &std
	} else {
		slog.Warn("cross-validation unavailable", "classes", len(classes))
	}

	slog.Info("category classifier trained", "calibrated", metrics.Calibrated, "folds", metrics.CalibrationFolds)
	return metrics, nil
}

func encodeLabels(records []model.Record) ([]string, []int) {
	seen := make(map[string]bool)
	var classes []string
	for _, r := range records {
		if !seen[r.Category] {
			seen[r.Category] = true
			classes = append(classes, r.Category)
		}
	}
	sort.Strings(classes)

	index := make(map[string]int, len(classes))
	for i, name := range classes {
		index[name] = i
	}
	y := make([]int, len(records))
	for i, r := range records {
		y[i] = index[r.Category]
	}
	return classes, y
}

// crossValidate scores the uncalibrated model with min(5, classes) stratified
// folds. It reports false when the folds cannot be formed.
func crossValidate(x [][]float64, y []int, numClasses int, cfg trainConfig) (float64, float64, bool) {
	folds := min(maxFolds, numClasses)
	if folds < 2 || folds > len(y) {
		return 0, 0, false
	}

	var scores []float64
	for _, held := range stratifiedFolds(y, numClasses, folds) {
		if len(held) == 0 {
			return 0, 0, false
		}
		trainX, trainY := splitFold(x, y, held)
		if len(trainY) == 0 {
			return 0, 0, false
		}
		m := fitLogistic(trainX, trainY, numClasses, balancedWeights(trainY, numClasses), cfg)

		correct := 0
		for _, idx := range held {
			if argmax(m.predictProba(x[idx])) == y[idx] {
				correct++
			}
		}
		scores = append(scores, float64(correct)/float64(len(held)))
	}

	var mean float64
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	return mean, math.Sqrt(variance / float64(len(scores))), true
}

// Predict ranks categories for each record.
func (c *Classifier) Predict(records []model.Record, topK int) ([]model.CategoryPrediction, error) {
	if !c.IsTrained() {
		return nil, fmt.Errorf("category classifier: %w", common.ErrNotTrained)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	x, err := c.extractor.Transform(records, features.AllBlocks())
	if err != nil {
		return nil, fmt.Errorf("extracting features: %w", err)
	}

	names := c.extractor.FeatureNames(features.AllBlocks())
	coef := c.model.coefficients()

	predictions := make([]model.CategoryPrediction, len(records))
	for i, r := range records {
		if len(x[i]) != len(coef[0]) {
			return nil, fmt.Errorf("%w: feature width %d does not match model width %d",
				common.ErrInvalidArtifact, len(x[i]), len(coef[0]))
		}

		proba := c.model.predictProba(x[i])
		ranked := make(model.CategoryProbabilities, len(proba))
		for j, p := range proba {
			ranked[j] = model.CategoryProbability{Category: c.classes[j], Probability: p, Index: j}
		}
		ranked.Sort()

		chosen := ranked[0]
		predictions[i] = model.CategoryPrediction{
			Top:        ranked.TopN(topK),
			Chosen:     chosen.Category,
			Confidence: chosen.Probability,
			Why:        explain(r, x[i], coef[chosen.Index], names, ranked),
		}
	}
	return predictions, nil
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

const (
	modelKindLogistic   = "logistic"
	modelKindCalibrated = "calibrated"
)

type classifierState struct {
	Logistic   *logisticModel
	Calibrated *calibratedModel
	Extractor  features.State
	Kind       string
	Classes    []string
}

// MarshalState serialises the model, label encoder and extractor together.
func (c *Classifier) MarshalState() ([]byte, error) {
	if !c.IsTrained() {
		return nil, fmt.Errorf("category classifier: %w", common.ErrNotTrained)
	}

	state := classifierState{Classes: c.classes, Extractor: c.extractor.State()}
	switch m := c.model.(type) {
	case *logisticModel:
		state.Kind = modelKindLogistic
		state.Logistic = m
	case *calibratedModel:
		state.Kind = modelKindCalibrated
		state.Calibrated = m
	default:
		return nil, fmt.Errorf("unsupported model type %T", c.model)
	}
	return artifacts.EncodeState(stateSchema, stateSchemaVersion, state)
}

// Restore rebuilds a trained classifier from saved state.
func Restore(blob []byte) (*Classifier, error) {
	var state classifierState
	if err := artifacts.DecodeState(blob, stateSchema, stateSchemaVersion, &state); err != nil {
		return nil, err
	}

	extractor, err := features.FromState(state.Extractor)
	if err != nil {
		return nil, err
	}

	c := NewClassifier(extractor)
	c.classes = state.Classes

	switch state.Kind {
	case modelKindLogistic:
		if state.Logistic == nil {
			return nil, fmt.Errorf("%w: missing logistic model", common.ErrInvalidArtifact)
		}
		c.model = state.Logistic
	case modelKindCalibrated:
		if state.Calibrated == nil || len(state.Calibrated.Folds) == 0 {
			return nil, fmt.Errorf("%w: missing calibrated model", common.ErrInvalidArtifact)
		}
		c.model = state.Calibrated
	default:
		return nil, fmt.Errorf("%w: unknown classifier kind %q", common.ErrInvalidArtifact, state.Kind)
	}

	if len(c.model.coefficients()) != len(c.classes) {
		return nil, fmt.Errorf("%w: %d classes but %d coefficient rows",
			common.ErrInvalidArtifact, len(c.classes), len(c.model.coefficients()))
	}
	if width := extractor.Dimension(features.AllBlocks()); width != len(c.model.coefficients()[0]) {
		return nil, fmt.Errorf("%w: extractor width %d does not match model width %d",
			common.ErrInvalidArtifact, width, len(c.model.coefficients()[0]))
	}
	return c, nil
}
