package anomaly

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-spice-must-score/internal/model"
)

const residualNoteThreshold = 100

// baselineFor prefers the category baseline, then the merchant's, then the global one.
func (s *Scorer) baselineFor(r model.Record) (Baseline, string) {
	if b, ok := s.byCategory[r.Category]; ok && r.Category != "" {
		return b, fmt.Sprintf("Based on %d similar %s transactions", b.Count, r.Category)
	}
	if b, ok := s.byMerchant[r.Merchant]; ok && r.Merchant != "" {
		return b, fmt.Sprintf("Based on %d transactions from %s", b.Count, r.Merchant)
	}
	return s.global.Baseline, "Using global baseline (limited category/merchant data)"
}

func (s *Scorer) explain(r model.Record, score float64) model.AnomalyExplanation {
	b, provenance := s.baselineFor(r)

	baseline := decimal.NewFromFloat(b.Mean)
	residual := decimal.NewFromFloat(r.Amount).Sub(baseline)

	var parts []string
	switch {
	case score >= SevereThreshold:
		parts = append(parts, "Highly unusual transaction")
	case score >= SuspiciousThreshold:
		parts = append(parts, "Moderately unusual transaction")
	default:
		parts = append(parts, "Transaction appears normal")
	}

	if residual.Abs().GreaterThan(decimal.NewFromInt(residualNoteThreshold)) {
		direction := "above"
		if residual.IsNegative() {
			direction = "below"
		}
		parts = append(parts, fmt.Sprintf("Amount is £%s %s baseline", residual.Abs().StringFixed(2), direction))
	}
	parts = append(parts, provenance)

	return model.AnomalyExplanation{
		Baseline: baseline.Round(2).InexactFloat64(),
		Residual: residual.Round(2).InexactFloat64(),
		Notes:    strings.Join(parts, "; "),
	}
}
