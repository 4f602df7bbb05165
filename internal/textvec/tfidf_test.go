package textvec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-spice-must-score/internal/common"
)

func TestPreprocess(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"TESCO Stores #123", "tesco stores 123"},
		{"  Amazon.co.uk*Mktp  ", "amazon co uk mktp"},
		{"", ""},
		{"café", "caf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Preprocess(tt.in), tt.in)
	}
}

func TestAnalyze(t *testing.T) {
	v := New(DefaultConfig())
	assert.Equal(t, []string{"tesco", "stores", "tesco stores"}, v.Analyze("Tesco Stores"))
	assert.Equal(t, []string{"uk"}, v.Analyze("a uk 1"), "single characters are dropped")
}

func TestFitVocabularyAndIDF(t *testing.T) {
	v := New(Config{MinDF: 1, MaxDF: 1.0, NGramMin: 1, NGramMax: 1})
	require.NoError(t, v.Fit([]string{"tesco", "amazon", "tesco express"}))

	assert.Equal(t, []string{"amazon", "express", "tesco"}, v.Terms())

	rows, err := v.Transform([]string{"tesco", "unknown words"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1}, rows[0])
	assert.Equal(t, []float64{0, 0, 0}, rows[1])

	// idf(tesco) = ln(4/3)+1, idf(express) = ln(4/2)+1
	rows, err = v.Transform([]string{"tesco express"})
	require.NoError(t, err)
	tescoIDF := math.Log(4.0/3.0) + 1
	expressIDF := math.Log(2.0) + 1
	norm := math.Hypot(tescoIDF, expressIDF)
	assert.InDelta(t, expressIDF/norm, rows[0][1], 1e-12)
	assert.InDelta(t, tescoIDF/norm, rows[0][2], 1e-12)
}

func TestFitPruning(t *testing.T) {
	docs := []string{"coffee shop", "coffee beans", "coffee shop", "rent"}

	v := New(Config{MinDF: 2, MaxDF: 0.95, NGramMin: 1, NGramMax: 2})
	require.NoError(t, v.Fit(docs))
	assert.Equal(t, []string{"coffee", "coffee shop", "shop"}, v.Terms())

	v = New(Config{MinDF: 1, MaxDF: 0.5, NGramMin: 1, NGramMax: 1})
	require.NoError(t, v.Fit(docs))
	assert.NotContains(t, v.Terms(), "coffee", "appears in 75% of documents")

	v = New(Config{MinDF: 1, MaxDF: 1.0, MaxFeatures: 2, NGramMin: 1, NGramMax: 1})
	require.NoError(t, v.Fit(docs))
	assert.Equal(t, []string{"coffee", "shop"}, v.Terms())
}

func TestFitEmptyVocabulary(t *testing.T) {
	v := New(Config{MinDF: 2, MaxDF: 1.0, NGramMin: 1, NGramMax: 1})
	require.NoError(t, v.Fit([]string{"one", "two"}))
	assert.True(t, v.IsFitted())
	assert.Zero(t, v.Len())

	rows, err := v.Transform([]string{"one"})
	require.NoError(t, err)
	assert.Empty(t, rows[0])

	assert.Error(t, New(DefaultConfig()).Fit(nil))
}

func TestTransformRequiresFit(t *testing.T) {
	_, err := New(DefaultConfig()).Transform([]string{"x"})
	assert.ErrorIs(t, err, common.ErrNotTrained)
}

func TestStateRoundTrip(t *testing.T) {
	v := New(DefaultConfig())
	require.NoError(t, v.Fit([]string{"netflix subscription", "spotify subscription", "tfl travel"}))

	restored, err := FromState(v.State())
	require.NoError(t, err)

	docs := []string{"netflix", "tfl travel card"}
	want, err := v.Transform(docs)
	require.NoError(t, err)
	got, err := restored.Transform(docs)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = FromState(State{Terms: []string{"a"}})
	assert.ErrorIs(t, err, common.ErrInvalidArtifact)
}
