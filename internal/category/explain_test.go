package category

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/the-spice-must-score/internal/model"
)

func TestTopFeatures(t *testing.T) {
	names := []string{"tfidf_tesco", "tfidf_card payment", "log_amount", "is_debit", "day_of_week", "is_weekend", "month_sin"}
	x := []float64{0.8, 0.6, 3.0, 1.0, 0.5, 0.0, 0.5}
	coef := []float64{2.0, -0.5, 0.05, 0.001, -0.02, 4.0, 0.01}

	// |contributions| = 1.6, 0.3, 0.15, 0.001, 0.01, 0, 0.005
	assert.Equal(t, []string{"tesco", "card payment", "log_amount"}, topFeatures(x, coef, names))
}

func TestNotes(t *testing.T) {
	dated := model.Record{Merchant: "Tesco", Date: "2024-01-01"}

	tests := []struct {
		name   string
		ranked model.CategoryProbabilities
		want   string
	}{
		{
			name:   "high",
			ranked: model.CategoryProbabilities{{Probability: 0.9}, {Probability: 0.1}},
			want:   "High confidence prediction",
		},
		{
			name:   "moderate",
			ranked: model.CategoryProbabilities{{Probability: 0.6}, {Probability: 0.4}},
			want:   "Moderate confidence",
		},
		{
			name:   "low and ambiguous",
			ranked: model.CategoryProbabilities{{Probability: 0.45}, {Probability: 0.4}, {Probability: 0.15}},
			want:   "Low confidence - consider manual review; Multiple categories are similarly likely",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, notes(dated, tt.ranked))
		})
	}
}
