package anomaly

import (
	"math"
	"sort"
)

const (
	minStd        = 1.0
	minGroupCount = 3
)

// Baseline summarises the amounts of a group of debits.
type Baseline struct {
	Mean  float64
	Std   float64
	Count int
}

// GlobalBaseline also carries the median of all debits.
type GlobalBaseline struct {
	Baseline
	Median float64
}

func newBaseline(amounts []float64) Baseline {
	var mean float64
	for _, a := range amounts {
		mean += a
	}
	mean /= float64(len(amounts))

	var variance float64
	for _, a := range amounts {
		variance += (a - mean) * (a - mean)
	}
	std := math.Sqrt(variance / float64(len(amounts)))

	return Baseline{Mean: mean, Std: math.Max(std, minStd), Count: len(amounts)}
}

func newGlobalBaseline(amounts []float64) GlobalBaseline {
	sorted := append([]float64(nil), amounts...)
	sort.Float64s(sorted)

	var median float64
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		median = sorted[mid]
	} else {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return GlobalBaseline{Baseline: newBaseline(amounts), Median: median}
}

// groupBaselines builds a baseline per non-empty key with at least minGroupCount members.
func groupBaselines(keys []string, amounts []float64) map[string]Baseline {
	groups := make(map[string][]float64)
	for i, key := range keys {
		if key != "" {
			groups[key] = append(groups[key], amounts[i])
		}
	}

	out := make(map[string]Baseline)
	for key, group := range groups {
		if len(group) >= minGroupCount {
			out[key] = newBaseline(group)
		}
	}
	return out
}

func (b Baseline) zScore(amount float64) float64 {
	return (amount - b.Mean) / b.Std
}
