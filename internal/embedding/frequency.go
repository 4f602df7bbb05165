package embedding

import (
	"fmt"

	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/textvec"
)

// frequencyStrategy embeds with word 1-2 gram TF-IDF, padded or truncated to dim.
type frequencyStrategy struct {
	vectorizer *textvec.Vectorizer
	dim        int
}

func newFrequencyStrategy(cfg Config) *frequencyStrategy {
	return &frequencyStrategy{
		vectorizer: textvec.New(textvec.Config{
			MinDF:       1,
			MaxDF:       1.0,
			MaxFeatures: cfg.MaxFeatures,
			NGramMin:    1,
			NGramMax:    2,
		}),
		dim: cfg.Dimension,
	}
}

func (f *frequencyStrategy) Name() string {
	return StrategyFrequency
}

func (f *frequencyStrategy) Dimension() int {
	return f.dim
}

func (f *frequencyStrategy) Ready() bool {
	return f.vectorizer.IsFitted()
}

func (f *frequencyStrategy) Close() error {
	return nil
}

// Fit learns the vocabulary from texts.
func (f *frequencyStrategy) Fit(texts []string) error {
	if err := f.vectorizer.Fit(texts); err != nil {
		return fmt.Errorf("fitting frequency embeddings: %w", err)
	}
	return nil
}

func (f *frequencyStrategy) Embed(texts []string) ([][]float32, error) {
	if !f.vectorizer.IsFitted() {
		return nil, fmt.Errorf("frequency embeddings: %w", common.ErrNotTrained)
	}

	rows, err := f.vectorizer.Transform(texts)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(rows))
	for i, row := range rows {
		vec := make([]float32, f.dim)
		for j := 0; j < len(row) && j < f.dim; j++ {
			vec[j] = float32(row[j])
		}
		out[i] = vec
	}
	return out, nil
}
