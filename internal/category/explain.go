package category

import (
	"math"
	"sort"
	"strings"

	"github.com/Veraticus/the-spice-must-score/internal/features"
	"github.com/Veraticus/the-spice-must-score/internal/model"
)

const (
	maxExplanationItems   = 5
	contributionThreshold = 0.01
	highConfidence        = 0.8
	moderateConfidence    = 0.5
	ambiguityGap          = 0.1
)

func explain(r model.Record, x, coef []float64, names []string, ranked model.CategoryProbabilities) model.CategoryExplanation {
	tokens := features.ExtractTokens(r.Text())
	if len(tokens) > maxExplanationItems {
		tokens = tokens[:maxExplanationItems]
	}
	if tokens == nil {
		tokens = []string{}
	}

	return model.CategoryExplanation{
		TopTokens:   tokens,
		TopFeatures: topFeatures(x, coef, names),
		Notes:       notes(r, ranked),
	}
}

// topFeatures names the largest-magnitude value*coefficient terms for the
// chosen class, skipping anything at or below the contribution threshold.
func topFeatures(x, coef []float64, names []string) []string {
	order := make([]int, len(x))
	contrib := make([]float64, len(x))
	for i := range x {
		order[i] = i
		contrib[i] = math.Abs(x[i] * coef[i])
	}
	sort.SliceStable(order, func(a, b int) bool {
		return contrib[order[a]] > contrib[order[b]]
	})

	out := []string{}
	for _, i := range order {
		if len(out) == maxExplanationItems || contrib[i] <= contributionThreshold {
			break
		}
		if i < len(names) {
			out = append(out, strings.TrimPrefix(names[i], features.TextFeaturePrefix))
		}
	}
	return out
}

func notes(r model.Record, ranked model.CategoryProbabilities) string {
	var parts []string

	switch confidence := ranked[0].Probability; {
	case confidence > highConfidence:
		parts = append(parts, "High confidence prediction")
	case confidence > moderateConfidence:
		parts = append(parts, "Moderate confidence")
	default:
		parts = append(parts, "Low confidence - consider manual review")
	}

	if len(ranked) > 1 && ranked[0].Probability-ranked[1].Probability < ambiguityGap {
		parts = append(parts, "Multiple categories are similarly likely")
	}

	if strings.TrimSpace(r.Text()) == "" {
		parts = append(parts, "No merchant or description text")
	}
	if !features.HasTemporalSignal(r) {
		parts = append(parts, "Date missing or unparseable")
	}

	return strings.Join(parts, "; ")
}
