// Package textvec turns short free-text fields into TF-IDF vectors over word
// n-grams.
package textvec

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/Veraticus/the-spice-must-score/internal/common"
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9\s]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Preprocess lowercases text, replaces punctuation with spaces and collapses whitespace.
func Preprocess(text string) string {
	text = strings.ToLower(text)
	text = nonAlnum.ReplaceAllString(text, " ")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Config controls vocabulary construction.
type Config struct {
	// MinDF is the minimum number of documents a term must appear in.
	MinDF int
	// MaxDF is the maximum fraction of documents a term may appear in.
	MaxDF float64
	// MaxFeatures caps the vocabulary by total term frequency; 0 means no cap.
	MaxFeatures int
	NGramMin    int
	NGramMax    int
}

// DefaultConfig keeps every unigram and bigram.
func DefaultConfig() Config {
	return Config{MinDF: 1, MaxDF: 1.0, NGramMin: 1, NGramMax: 2}
}

func (c Config) normalized() Config {
	if c.MinDF < 1 {
		c.MinDF = 1
	}
	if c.MaxDF <= 0 || c.MaxDF > 1 {
		c.MaxDF = 1.0
	}
	if c.NGramMin < 1 {
		c.NGramMin = 1
	}
	if c.NGramMax < c.NGramMin {
		c.NGramMax = c.NGramMin
	}
	return c
}

// Vectorizer is a fitted (or unfitted) TF-IDF model. Rows produced by
// Transform are L2-normalised; all-zero rows stay zero.
type Vectorizer struct {
	vocab  map[string]int
	terms  []string
	idf    []float64
	cfg    Config
	fitted bool
}

// New returns an unfitted vectorizer.
func New(cfg Config) *Vectorizer {
	return &Vectorizer{cfg: cfg.normalized()}
}

// Config returns the effective configuration.
func (v *Vectorizer) Config() Config {
	return v.cfg
}

// IsFitted reports whether Fit has run.
func (v *Vectorizer) IsFitted() bool {
	return v.fitted
}

// Len is the number of output columns.
func (v *Vectorizer) Len() int {
	return len(v.terms)
}

// Terms returns the vocabulary in column order.
func (v *Vectorizer) Terms() []string {
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}

// Analyze splits text into the n-grams used as vocabulary terms.
func (v *Vectorizer) Analyze(text string) []string {
	var tokens []string
	for _, tok := range strings.Fields(Preprocess(text)) {
		if len(tok) >= 2 {
			tokens = append(tokens, tok)
		}
	}

	var grams []string
	for n := v.cfg.NGramMin; n <= v.cfg.NGramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			grams = append(grams, strings.Join(tokens[i:i+n], " "))
		}
	}
	return grams
}

// Fit learns the vocabulary and inverse document frequencies. A corpus that
// leaves no terms after pruning yields an empty, but fitted, vectorizer.
func (v *Vectorizer) Fit(docs []string) error {
	if len(docs) == 0 {
		return common.InsufficientData("documents", 0, 1)
	}

	docFreq := make(map[string]int)
	termFreq := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, gram := range v.Analyze(doc) {
			termFreq[gram]++
			if !seen[gram] {
				seen[gram] = true
				docFreq[gram]++
			}
		}
	}

	n := len(docs)
	maxDocCount := v.cfg.MaxDF * float64(n)

	kept := make([]string, 0, len(docFreq))
	for term, df := range docFreq {
		if df < v.cfg.MinDF || float64(df) > maxDocCount {
			continue
		}
		kept = append(kept, term)
	}

	if v.cfg.MaxFeatures > 0 && len(kept) > v.cfg.MaxFeatures {
		sort.Slice(kept, func(i, j int) bool {
			if termFreq[kept[i]] != termFreq[kept[j]] {
				return termFreq[kept[i]] > termFreq[kept[j]]
			}
			return kept[i] < kept[j]
		})
		kept = kept[:v.cfg.MaxFeatures]
	}
	sort.Strings(kept)

	v.terms = kept
	v.vocab = make(map[string]int, len(kept))
	v.idf = make([]float64, len(kept))
	for i, term := range kept {
		v.vocab[term] = i
		v.idf[i] = math.Log(float64(1+n)/float64(1+docFreq[term])) + 1
	}
	v.fitted = true
	return nil
}

// Transform vectorises docs against the fitted vocabulary.
func (v *Vectorizer) Transform(docs []string) ([][]float64, error) {
	if !v.fitted {
		return nil, fmt.Errorf("tf-idf vectorizer: %w", common.ErrNotTrained)
	}

	rows := make([][]float64, len(docs))
	for i, doc := range docs {
		row := make([]float64, len(v.terms))
		for _, gram := range v.Analyze(doc) {
			if idx, ok := v.vocab[gram]; ok {
				row[idx]++
			}
		}

		var norm float64
		for j := range row {
			row[j] *= v.idf[j]
			norm += row[j] * row[j]
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range row {
				row[j] /= norm
			}
		}
		rows[i] = row
	}
	return rows, nil
}

// FitTransform is Fit followed by Transform on the same documents.
func (v *Vectorizer) FitTransform(docs []string) ([][]float64, error) {
	if err := v.Fit(docs); err != nil {
		return nil, err
	}
	return v.Transform(docs)
}

// State is the serialisable form of a Vectorizer.
type State struct {
	Terms  []string
	IDF    []float64
	Config Config
	Fitted bool
}

// State captures the vectorizer for persistence.
func (v *Vectorizer) State() State {
	idf := make([]float64, len(v.idf))
	copy(idf, v.idf)
	return State{Config: v.cfg, Terms: v.Terms(), IDF: idf, Fitted: v.fitted}
}

// FromState rebuilds a vectorizer from a saved State.
func FromState(s State) (*Vectorizer, error) {
	if len(s.Terms) != len(s.IDF) {
		return nil, fmt.Errorf("%w: %d terms but %d idf weights", common.ErrInvalidArtifact, len(s.Terms), len(s.IDF))
	}
	v := New(s.Config)
	v.fitted = s.Fitted
	v.terms = append([]string(nil), s.Terms...)
	v.idf = append([]float64(nil), s.IDF...)
	v.vocab = make(map[string]int, len(s.Terms))
	for i, term := range s.Terms {
		v.vocab[term] = i
	}
	return v, nil
}
