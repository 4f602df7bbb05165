package merchant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/philippgille/chromem-go"
)

// Index kinds.
const (
	IndexChromem = "chromem"
	IndexFlat    = "flat"
)

// Index scores a unit-length query against every canonical vector. Scores
// are cosine similarities in canonical-name order.
type Index interface {
	Kind() string
	Len() int
	Scores(query []float32) ([]float64, error)
}

// flatIndex keeps the normalised matrix in memory and scores by brute force.
type flatIndex struct {
	rows [][]float64
}

func newFlatIndex(vectors [][]float32) *flatIndex {
	rows := make([][]float64, len(vectors))
	for i, v := range vectors {
		rows[i] = unit64(v)
	}
	return &flatIndex{rows: rows}
}

func (f *flatIndex) Kind() string { return IndexFlat }

func (f *flatIndex) Len() int { return len(f.rows) }

func (f *flatIndex) Scores(query []float32) ([]float64, error) {
	q := unit64(query)
	scores := make([]float64, len(f.rows))
	for i, row := range f.rows {
		if len(row) != len(q) {
			return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(q), len(row))
		}
		var dot float64
		for j := range row {
			dot += row[j] * q[j]
		}
		scores[i] = dot
	}
	return scores, nil
}

// chromemIndex stores vectors in an in-memory chromem-go collection. Document
// ids are the canonical positions.
type chromemIndex struct {
	collection *chromem.Collection
	n          int
}

var errEmbeddingsPrecomputed = errors.New("merchant index only accepts precomputed embeddings")

func newChromemIndex(vectors [][]float32) (*chromemIndex, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection("canonical_merchants", nil,
		func(_ context.Context, _ string) ([]float32, error) {
			return nil, errEmbeddingsPrecomputed
		})
	if err != nil {
		return nil, fmt.Errorf("creating chromem collection: %w", err)
	}

	docs := make([]chromem.Document, len(vectors))
	for i, v := range vectors {
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(i),
			Embedding: unit32(v),
		}
	}
	if err := collection.AddDocuments(context.Background(), docs, 1); err != nil {
		return nil, fmt.Errorf("adding merchant vectors: %w", err)
	}

	return &chromemIndex{collection: collection, n: len(vectors)}, nil
}

func (c *chromemIndex) Kind() string { return IndexChromem }

func (c *chromemIndex) Len() int { return c.n }

func (c *chromemIndex) Scores(query []float32) ([]float64, error) {
	scores := make([]float64, c.n)
	if c.n == 0 {
		return scores, nil
	}

	results, err := c.collection.QueryEmbedding(context.Background(), unit32(query), c.n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying merchant index: %w", err)
	}

	for _, r := range results {
		i, convErr := strconv.Atoi(r.ID)
		if convErr != nil || i < 0 || i >= c.n {
			return nil, fmt.Errorf("unexpected document id %q in merchant index", r.ID)
		}
		s := float64(r.Similarity)
		// Zero vectors come back as NaN after chromem's own normalisation
		if math.IsNaN(s) {
			s = 0
		}
		scores[i] = s
	}
	return scores, nil
}

func unit64(v []float32) []float64 {
	out := make([]float64, len(v))
	var norm float64
	for i, x := range v {
		out[i] = float64(x)
		norm += out[i] * out[i]
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}

func unit32(v []float32) []float32 {
	u := unit64(v)
	out := make([]float32, len(u))
	for i, x := range u {
		out[i] = float32(x)
	}
	return out
}
