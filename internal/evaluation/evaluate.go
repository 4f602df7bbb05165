// Package evaluation measures a loaded model bundle against labelled data
// and renders the results as JSON and Markdown reports.
package evaluation

import (
	"math"
	"sort"
	"strings"

	"github.com/Veraticus/the-spice-must-score/internal/merchant"
	"github.com/Veraticus/the-spice-must-score/internal/model"
	"github.com/Veraticus/the-spice-must-score/internal/serving"
)

// MerchantCase is a raw statement string and the canonical name it should resolve to.
type MerchantCase struct {
	Raw      string `json:"raw"`
	Expected string `json:"expectedCanonical"`
}

// MerchantCases derives cases from records: the description is the raw
// input and the merchant is the expected answer.
func MerchantCases(records []model.Record) []MerchantCase {
	cases := make([]MerchantCase, 0, len(records))
	for _, r := range records {
		if r.Description == "" || r.Merchant == "" {
			continue
		}
		cases = append(cases, MerchantCase{Raw: r.Description, Expected: r.Merchant})
	}
	return cases
}

// MerchantMetrics summarises merchant normalisation accuracy.
type MerchantMetrics struct {
	Error        string  `json:"error,omitempty"`
	TotalSamples int     `json:"total_samples"`
	Top1Correct  int     `json:"top1_correct"`
	Top3Correct  int     `json:"top3_correct"`
	Top1Accuracy float64 `json:"top1_accuracy"`
	Top3Accuracy float64 `json:"top3_accuracy"`
}

// CategoryMetrics summarises classifier accuracy and confidence.
type CategoryMetrics struct {
	Error          string  `json:"error,omitempty"`
	TotalSamples   int     `json:"total_samples"`
	Top1Correct    int     `json:"top1_correct"`
	Top3Correct    int     `json:"top3_correct"`
	Top1Accuracy   float64 `json:"top1_accuracy"`
	Top3Accuracy   float64 `json:"top3_accuracy"`
	MeanConfidence float64 `json:"mean_confidence"`
	MinConfidence  float64 `json:"min_confidence"`
	MaxConfidence  float64 `json:"max_confidence"`
}

// AnomalyMetrics summarises label counts, score distribution and, when
// known anomalies are supplied, precision and recall.
type AnomalyMetrics struct {
	Precision       *float64 `json:"precision,omitempty"`
	Recall          *float64 `json:"recall,omitempty"`
	Error           string   `json:"error,omitempty"`
	TotalSamples    int      `json:"total_samples"`
	NormalCount     int      `json:"normal_count"`
	SuspiciousCount int      `json:"suspicious_count"`
	SevereCount     int      `json:"severe_count"`
	KnownAnomalies  int      `json:"known_anomalies,omitempty"`
	FlaggedRate     float64  `json:"flagged_rate"`
	MeanScore       float64  `json:"mean_score"`
	MedianScore     float64  `json:"median_score"`
	MaxScore        float64  `json:"max_score"`
}

// EvaluateMerchants counts how often the expected canonical is the chosen
// match (top-1) or among the first three candidates (top-3).
func EvaluateMerchants(b *serving.Bundle, cases []MerchantCase) MerchantMetrics {
	if len(cases) == 0 {
		return MerchantMetrics{Error: "No test data provided"}
	}

	var m MerchantMetrics
	for _, c := range cases {
		if c.Raw == "" || c.Expected == "" {
			continue
		}
		res, err := b.NormaliseMerchant(serving.MerchantRequest{Raw: c.Raw})
		if err != nil {
			return MerchantMetrics{Error: err.Error()}
		}

		expected := canonicalKey(c.Expected)
		m.TotalSamples++
		if canonicalKey(res.Canonical) == expected {
			m.Top1Correct++
			m.Top3Correct++
			continue
		}
		for _, cand := range res.Candidates {
			if canonicalKey(cand.Canonical) == expected {
				m.Top3Correct++
				break
			}
		}
	}

	if m.TotalSamples == 0 {
		return MerchantMetrics{Error: "No valid test samples"}
	}
	m.Top1Accuracy = ratio(m.Top1Correct, m.TotalSamples)
	m.Top3Accuracy = ratio(m.Top3Correct, m.TotalSamples)
	return m
}

// canonicalKey compares names the way the index stores them.
func canonicalKey(name string) string {
	if n := merchant.NormalizeMerchantText(name); n != "" {
		return n
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// EvaluateCategories scores labelled records; unlabelled ones are ignored.
func EvaluateCategories(b *serving.Bundle, records []model.Record) CategoryMetrics {
	reqs := make([]serving.CategoryRequest, 0, len(records))
	for _, r := range records {
		if r.Category != "" {
			reqs = append(reqs, serving.CategoryRequest{Record: r, ReturnTopK: 3})
		}
	}
	if len(reqs) == 0 {
		return CategoryMetrics{Error: "No test data provided"}
	}

	preds, err := b.PredictCategories(reqs)
	if err != nil {
		return CategoryMetrics{Error: err.Error()}
	}

	m := CategoryMetrics{TotalSamples: len(preds), MinConfidence: math.Inf(1)}
	var total float64
	for i, p := range preds {
		truth := reqs[i].Category
		total += p.Confidence
		m.MinConfidence = math.Min(m.MinConfidence, p.Confidence)
		m.MaxConfidence = math.Max(m.MaxConfidence, p.Confidence)

		if p.Chosen == truth {
			m.Top1Correct++
			m.Top3Correct++
			continue
		}
		for _, c := range p.Top {
			if c.Category == truth {
				m.Top3Correct++
				break
			}
		}
	}

	m.Top1Accuracy = ratio(m.Top1Correct, m.TotalSamples)
	m.Top3Accuracy = ratio(m.Top3Correct, m.TotalSamples)
	m.MeanConfidence = round4(total / float64(m.TotalSamples))
	m.MinConfidence = round4(m.MinConfidence)
	m.MaxConfidence = round4(m.MaxConfidence)
	return m
}

// EvaluateAnomalies scores records and compares flagged ids with knownIDs.
func EvaluateAnomalies(b *serving.Bundle, records []model.Record, knownIDs []string) AnomalyMetrics {
	if len(records) == 0 {
		return AnomalyMetrics{Error: "No test data provided"}
	}

	results, err := b.ScoreAnomalies(serving.AnomalyRequest{Transactions: records})
	if err != nil {
		return AnomalyMetrics{Error: err.Error()}
	}

	m := AnomalyMetrics{TotalSamples: len(results)}
	scores := make([]float64, len(results))
	flagged := make(map[string]bool)
	var total float64
	for i, r := range results {
		scores[i] = r.Score
		total += r.Score
		switch r.Label {
		case model.LabelSevere:
			m.SevereCount++
		case model.LabelSuspicious:
			m.SuspiciousCount++
		default:
			m.NormalCount++
		}
		if r.Flagged() {
			flagged[r.ID] = true
		}
	}

	sort.Float64s(scores)
	m.FlaggedRate = ratio(m.SuspiciousCount+m.SevereCount, len(results))
	m.MeanScore = round4(total / float64(len(results)))
	m.MedianScore = round4(median(scores))
	m.MaxScore = round4(scores[len(scores)-1])

	if len(knownIDs) > 0 {
		known := make(map[string]bool, len(knownIDs))
		for _, id := range knownIDs {
			known[id] = true
		}
		truePositives := 0
		for id := range flagged {
			if known[id] {
				truePositives++
			}
		}

		var precision float64
		if len(flagged) > 0 {
			precision = round4(float64(truePositives) / float64(len(flagged)))
		}
		recall := round4(float64(truePositives) / float64(len(known)))

		m.KnownAnomalies = len(known)
		m.Precision = &precision
		m.Recall = &recall
	}
	return m
}

func ratio(n, d int) float64 {
	return round4(float64(n) / float64(d))
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}

func median(sorted []float64) float64 {
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
