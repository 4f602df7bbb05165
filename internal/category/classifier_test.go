package category

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/features"
	"github.com/Veraticus/the-spice-must-score/internal/model"
)

var categoryMerchants = map[string][]string{
	"Groceries": {"Tesco", "Sainsbury"},
	"Transport": {"TfL", "Uber Trip"},
	"Dining":    {"Pret", "Costa Coffee"},
	"Bills":     {"Thames Water", "Octopus Energy"},
}

// labelledRecords builds perClass records for each of the four categories.
func labelledRecords(perClass int) []model.Record {
	var records []model.Record
	for _, cat := range []string{"Groceries", "Transport", "Dining", "Bills"} {
		merchants := categoryMerchants[cat]
		for i := 0; i < perClass; i++ {
			records = append(records, model.Record{
				ID:          fmt.Sprintf("%s-%d", cat, i),
				Merchant:    merchants[i%len(merchants)],
				Description: "card payment",
				Amount:      float64(5 + (i*7)%40),
				Direction:   model.DirectionDebit,
				Date:        fmt.Sprintf("2024-02-%02d", 1+i%28),
				Category:    cat,
			})
		}
	}
	return records
}

func TestTrainRequiresTenLabelledRows(t *testing.T) {
	records := labelledRecords(2)
	records = append(records, model.Record{Merchant: "Tesco", Amount: 3})

	_, err := NewClassifier(nil).Train(records)
	assert.ErrorIs(t, err, common.ErrInsufficientData)
}

func TestTrainRequiresTwoClasses(t *testing.T) {
	var records []model.Record
	for i := 0; i < 12; i++ {
		records = append(records, model.Record{Merchant: "Tesco", Amount: 10, Category: "Groceries"})
	}
	_, err := NewClassifier(nil).Train(records)
	assert.ErrorIs(t, err, common.ErrInsufficientData)
}

func TestPredictBeforeTrain(t *testing.T) {
	_, err := NewClassifier(nil).Predict([]model.Record{{Merchant: "Tesco"}}, 3)
	assert.ErrorIs(t, err, common.ErrNotTrained)

	_, err = NewClassifier(nil).MarshalState()
	assert.ErrorIs(t, err, common.ErrNotTrained)
}

func TestCalibrationEngagedOnLargeBalancedCorpus(t *testing.T) {
	c := NewClassifier(nil)
	metrics, err := c.Train(labelledRecords(15))
	require.NoError(t, err)

	assert.True(t, metrics.Calibrated)
	assert.Equal(t, 5, metrics.CalibrationFolds)
	assert.Equal(t, 60, metrics.NSamples)
	assert.Equal(t, 4, metrics.NClasses)
	require.NotNil(t, metrics.CVAccuracyMean)
	assert.GreaterOrEqual(t, *metrics.CVAccuracyMean, 0.0)
	assert.LessOrEqual(t, *metrics.CVAccuracyMean, 1.0)
	assert.Equal(t, []string{"Bills", "Dining", "Groceries", "Transport"}, c.Categories())
}

func TestCalibrationSkippedOnSmallCorpus(t *testing.T) {
	metrics, err := NewClassifier(nil).Train(labelledRecords(4))
	require.NoError(t, err)

	assert.False(t, metrics.Calibrated)
	assert.Zero(t, metrics.CalibrationFolds)
	assert.Equal(t, 16, metrics.NSamples)

	m := metrics.Map()
	assert.Equal(t, false, m["calibrated"])
	assert.Contains(t, m, "cv_accuracy_mean")
}

func TestPredictProbabilities(t *testing.T) {
	for _, perClass := range []int{4, 15} {
		t.Run(fmt.Sprintf("per class %d", perClass), func(t *testing.T) {
			c := NewClassifier(nil)
			_, err := c.Train(labelledRecords(perClass))
			require.NoError(t, err)

			preds, err := c.Predict([]model.Record{
				{Merchant: "Tesco", Description: "card payment", Amount: 20, Date: "2024-02-10"},
				{Merchant: "TfL", Description: "card payment", Amount: 3, Date: "2024-02-11"},
				{Amount: 12},
			}, 4)
			require.NoError(t, err)
			require.Len(t, preds, 3)

			for _, p := range preds {
				require.Len(t, p.Top, 4)
				var sum float64
				for i, cp := range p.Top {
					sum += cp.Probability
					if i > 0 {
						assert.LessOrEqual(t, cp.Probability, p.Top[i-1].Probability)
					}
				}
				assert.InDelta(t, 1.0, sum, 1e-9)
				assert.Equal(t, p.Top[0].Category, p.Chosen)
				assert.Equal(t, p.Top[0].Probability, p.Confidence)
				assert.NotEmpty(t, p.Why.Notes)
			}

			assert.Equal(t, "Groceries", preds[0].Chosen)
			assert.Equal(t, "Transport", preds[1].Chosen)
			assert.Contains(t, preds[0].Why.TopTokens, "tesco")
			assert.Contains(t, preds[2].Why.Notes, "No merchant or description text")
			assert.Contains(t, preds[2].Why.Notes, "Date missing or unparseable")
		})
	}
}

func TestPredictDefaultTopK(t *testing.T) {
	c := NewClassifier(nil)
	_, err := c.Train(labelledRecords(4))
	require.NoError(t, err)

	preds, err := c.Predict([]model.Record{{Merchant: "Pret"}}, 0)
	require.NoError(t, err)
	assert.Len(t, preds[0].Top, DefaultTopK)
}

func TestTrainingIsDeterministic(t *testing.T) {
	query := []model.Record{{Merchant: "Costa Coffee", Amount: 4, Date: "2024-02-03"}}

	first := NewClassifier(nil)
	_, err := first.Train(labelledRecords(15))
	require.NoError(t, err)
	second := NewClassifier(nil)
	_, err = second.Train(labelledRecords(15))
	require.NoError(t, err)

	a, err := first.Predict(query, 4)
	require.NoError(t, err)
	b, err := second.Predict(query, 4)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStateRoundTrip(t *testing.T) {
	for _, perClass := range []int{4, 15} {
		t.Run(fmt.Sprintf("per class %d", perClass), func(t *testing.T) {
			c := NewClassifier(nil)
			_, err := c.Train(labelledRecords(perClass))
			require.NoError(t, err)

			blob, err := c.MarshalState()
			require.NoError(t, err)
			restored, err := Restore(blob)
			require.NoError(t, err)
			assert.True(t, restored.IsTrained())

			query := labelledRecords(2)
			want, err := c.Predict(query, 3)
			require.NoError(t, err)
			got, err := restored.Predict(query, 3)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	_, err := Restore([]byte("garbage"))
	assert.ErrorIs(t, err, common.ErrInvalidArtifact)
}

func TestTiesBrokenByClassIndex(t *testing.T) {
	extractor := features.NewExtractor(0)
	width := extractor.Dimension(features.AllBlocks())

	weights := make([][]float64, 3)
	for i := range weights {
		weights[i] = make([]float64, width)
	}
	c := NewClassifier(extractor)
	c.classes = []string{"Alpha", "Beta", "Gamma"}
	c.model = &logisticModel{Weights: weights, Intercept: make([]float64, 3)}

	preds, err := c.Predict([]model.Record{{Merchant: "anything", Amount: 10, Date: "2024-05-01"}}, 3)
	require.NoError(t, err)

	p := preds[0]
	assert.Equal(t, "Alpha", p.Chosen)
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, []string{p.Top[0].Category, p.Top[1].Category, p.Top[2].Category})
	assert.InDelta(t, 1.0/3.0, p.Confidence, 1e-12)
	assert.Equal(t, "Low confidence - consider manual review; Multiple categories are similarly likely", p.Why.Notes)
	assert.Empty(t, p.Why.TopFeatures)
}
