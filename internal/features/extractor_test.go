package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-spice-must-score/internal/model"
)

func trainingRecords() []model.Record {
	return []model.Record{
		{Merchant: "Tesco", Description: "groceries", Amount: 42.10, Category: "Groceries", Date: "2024-01-15"},
		{Merchant: "Tesco", Description: "groceries", Amount: 12.00, Category: "Groceries", Date: "2024-01-20"},
		{Merchant: "TfL", Description: "travel", Amount: 2.80, Category: "Transport", Date: "2024-01-16"},
		{Merchant: "TfL", Description: "travel", Amount: 3.10, Category: "Transport", Date: "2024-01-17"},
		{Merchant: "Acme Payroll", Amount: 2500, Direction: model.DirectionCredit, Category: "Salary", Date: "2024-01-31"},
	}
}

func TestFitTransformShape(t *testing.T) {
	e := NewExtractor(0)
	require.NoError(t, e.Fit(trainingRecords()))
	require.True(t, e.IsFitted())

	rows, err := e.Transform(trainingRecords(), AllBlocks())
	require.NoError(t, err)
	require.Len(t, rows, 5)

	names := e.FeatureNames(AllBlocks())
	assert.Len(t, rows[0], len(names))
	assert.Equal(t, e.Dimension(AllBlocks()), len(names))
	assert.Equal(t, []string{"tfidf_groceries", "tfidf_tesco", "tfidf_tesco groceries", "tfidf_tfl", "tfidf_tfl travel", "tfidf_travel"},
		names[:6])
	assert.Equal(t, []string{"log_amount", "is_debit", "day_of_week", "is_weekend", "is_month_start", "is_month_end", "month_sin"},
		names[6:])
}

func TestFitExtendsCategories(t *testing.T) {
	e := NewExtractor(0)
	require.NoError(t, e.Fit(trainingRecords()))

	cats := e.Categories()
	assert.Equal(t, DefaultCategories, cats[:len(DefaultCategories)])
	assert.Equal(t, "Salary", cats[len(cats)-1])
	assert.Len(t, cats, len(DefaultCategories)+1)
}

func TestNumericAndTemporalBlocks(t *testing.T) {
	e := NewExtractor(0)

	rows, err := e.Transform([]model.Record{
		// Saturday 30 March 2024
		{Amount: 99, Date: "2024-03-30T10:15:00Z"},
		{Amount: 5, Direction: model.DirectionCredit, Date: "2024-06-02"},
		{Amount: -20, Date: "not a date"},
	}, Blocks{Numeric: true, Temporal: true})
	require.NoError(t, err)

	assert.InDelta(t, math.Log1p(99), rows[0][0], 1e-12)
	assert.Equal(t, 1.0, rows[0][1])
	assert.InDelta(t, 5.0/6.0, rows[0][2], 1e-12)
	assert.Equal(t, 1.0, rows[0][3], "weekend")
	assert.Equal(t, 0.0, rows[0][4])
	assert.Equal(t, 1.0, rows[0][5], "month end")
	assert.InDelta(t, math.Sin(2*math.Pi*3/12), rows[0][6], 1e-12)

	assert.Equal(t, 0.0, rows[1][1], "credit")
	assert.Equal(t, 1.0, rows[1][4], "month start")

	assert.Equal(t, 0.0, rows[2][0], "negative amounts clamp to zero")
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, rows[2][2:])
}

func TestTransformWithoutFitOmitsText(t *testing.T) {
	e := NewExtractor(0)
	rows, err := e.Transform([]model.Record{{Merchant: "Tesco", Amount: 1}}, AllBlocks())
	require.NoError(t, err)
	assert.Len(t, rows[0], 7)

	_, err = e.Transform([]model.Record{{Merchant: "Tesco"}}, Blocks{Text: true})
	assert.ErrorIs(t, err, ErrNoFeatures)
}

func TestTransformNoBlocks(t *testing.T) {
	_, err := NewExtractor(0).Transform(nil, Blocks{})
	assert.ErrorIs(t, err, ErrNoFeatures)
}

func TestExtractTokens(t *testing.T) {
	assert.Equal(t, []string{"card", "payment", "tesco", "stores"}, ExtractTokens("CARD PAYMENT to TESCO-STORES at 12"))
	assert.Empty(t, ExtractTokens(""))
	assert.Empty(t, ExtractTokens("the and of"))
}

func TestStateRoundTrip(t *testing.T) {
	e := NewExtractor(50)
	require.NoError(t, e.Fit(trainingRecords()))

	restored, err := FromState(e.State())
	require.NoError(t, err)

	want, err := e.Transform(trainingRecords(), AllBlocks())
	require.NoError(t, err)
	got, err := restored.Transform(trainingRecords(), AllBlocks())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, e.Categories(), restored.Categories())
	assert.Equal(t, e.FeatureNames(AllBlocks()), restored.FeatureNames(AllBlocks()))
}
