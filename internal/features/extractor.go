// Package features turns transaction records into numeric feature vectors
// for the category classifier.
package features

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/Veraticus/the-spice-must-score/internal/model"
	"github.com/Veraticus/the-spice-must-score/internal/textvec"
)

// DefaultMaxTextFeatures caps the TF-IDF vocabulary.
const DefaultMaxTextFeatures = 100

// DefaultCategories seeds the category vocabulary before training data is seen.
var DefaultCategories = []string{
	"Groceries",
	"Transport",
	"Rent",
	"Utilities",
	"Entertainment",
	"Dining",
	"Health",
	"Shopping",
	"Bills",
	"Income",
	"Transfer",
	"Other",
}

var (
	numericFeatureNames  = []string{"log_amount", "is_debit"}
	temporalFeatureNames = []string{"day_of_week", "is_weekend", "is_month_start", "is_month_end", "month_sin"}
)

// TextFeaturePrefix marks TF-IDF columns in FeatureNames.
const TextFeaturePrefix = "tfidf_"

// ErrNoFeatures is returned when Transform is asked for no blocks at all.
var ErrNoFeatures = errors.New("no features selected")

// Blocks selects which feature groups Transform emits.
type Blocks struct {
	Text     bool
	Numeric  bool
	Temporal bool
}

// AllBlocks selects every feature group.
func AllBlocks() Blocks {
	return Blocks{Text: true, Numeric: true, Temporal: true}
}

// Extractor converts records to feature rows. The text block only exists
// once Fit has learned a vocabulary.
type Extractor struct {
	vectorizer      *textvec.Vectorizer
	categories      []string
	maxTextFeatures int
}

// NewExtractor returns an unfitted extractor.
func NewExtractor(maxTextFeatures int) *Extractor {
	if maxTextFeatures <= 0 {
		maxTextFeatures = DefaultMaxTextFeatures
	}
	return &Extractor{
		categories:      append([]string(nil), DefaultCategories...),
		maxTextFeatures: maxTextFeatures,
	}
}

// IsFitted reports whether Fit has run.
func (e *Extractor) IsFitted() bool {
	return e.vectorizer != nil && e.vectorizer.IsFitted()
}

// Categories returns the known category names: the defaults plus any seen during Fit.
func (e *Extractor) Categories() []string {
	return append([]string(nil), e.categories...)
}

// Fit learns the text vocabulary from merchant and description fields.
func (e *Extractor) Fit(records []model.Record) error {
	vec := textvec.New(textvec.Config{
		MinDF:       2,
		MaxDF:       0.95,
		MaxFeatures: e.maxTextFeatures,
		NGramMin:    1,
		NGramMax:    2,
	})
	if err := vec.Fit(combinedText(records)); err != nil {
		return fmt.Errorf("fitting text features: %w", err)
	}
	e.vectorizer = vec
	slog.Debug("fitted text features", "terms", vec.Len())

	known := make(map[string]bool, len(e.categories))
	for _, c := range e.categories {
		known[c] = true
	}
	for _, r := range records {
		if r.Category != "" && !known[r.Category] {
			known[r.Category] = true
			e.categories = append(e.categories, r.Category)
		}
	}
	return nil
}

// Transform returns one row per record with the selected blocks concatenated
// in text, numeric, temporal order.
func (e *Extractor) Transform(records []model.Record, blocks Blocks) ([][]float64, error) {
	useText := blocks.Text && e.IsFitted()
	if !useText && !blocks.Numeric && !blocks.Temporal {
		return nil, ErrNoFeatures
	}

	var text [][]float64
	if useText {
		var err error
		text, err = e.vectorizer.Transform(combinedText(records))
		if err != nil {
			return nil, err
		}
	}

	rows := make([][]float64, len(records))
	for i, r := range records {
		row := make([]float64, 0, e.Dimension(blocks))
		if useText {
			row = append(row, text[i]...)
		}
		if blocks.Numeric {
			row = append(row, numeric(r)...)
		}
		if blocks.Temporal {
			row = append(row, temporal(r)...)
		}
		rows[i] = row
	}
	return rows, nil
}

// Dimension is the row width Transform produces for blocks.
func (e *Extractor) Dimension(blocks Blocks) int {
	n := 0
	if blocks.Text && e.IsFitted() {
		n += e.vectorizer.Len()
	}
	if blocks.Numeric {
		n += len(numericFeatureNames)
	}
	if blocks.Temporal {
		n += len(temporalFeatureNames)
	}
	return n
}

// FeatureNames labels the columns Transform produces for blocks.
func (e *Extractor) FeatureNames(blocks Blocks) []string {
	var names []string
	if blocks.Text && e.IsFitted() {
		for _, term := range e.vectorizer.Terms() {
			names = append(names, TextFeaturePrefix+term)
		}
	}
	if blocks.Numeric {
		names = append(names, numericFeatureNames...)
	}
	if blocks.Temporal {
		names = append(names, temporalFeatureNames...)
	}
	return names
}

// TextFeatureNames returns the bare vocabulary terms.
func (e *Extractor) TextFeatureNames() []string {
	if !e.IsFitted() {
		return nil
	}
	return e.vectorizer.Terms()
}

func combinedText(records []model.Record) []string {
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = textvec.Preprocess(r.Text())
	}
	return texts
}

func numeric(r model.Record) []float64 {
	isDebit := 0.0
	if r.IsDebit() {
		isDebit = 1
	}
	return []float64{math.Log1p(math.Max(r.Amount, 0)), isDebit}
}

func temporal(r model.Record) []float64 {
	out := make([]float64, len(temporalFeatureNames))
	t, ok := r.ParsedDate()
	if !ok {
		return out
	}

	// Monday = 0
	dow := (int(t.Weekday()) + 6) % 7
	out[0] = float64(dow) / 6.0
	if dow >= 5 {
		out[1] = 1
	}
	if t.Day() <= 3 {
		out[2] = 1
	}
	if t.Day() >= 28 {
		out[3] = 1
	}
	out[4] = math.Sin(2 * math.Pi * float64(t.Month()) / 12)
	return out
}

// HasTemporalSignal reports whether r carries a parseable date.
func HasTemporalSignal(r model.Record) bool {
	_, ok := r.ParsedDate()
	return ok
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "of": true, "with": true, "by": true,
}

// ExtractTokens returns the significant words of text: longer than two
// characters and not a stopword.
func ExtractTokens(text string) []string {
	var tokens []string
	for _, tok := range strings.Fields(textvec.Preprocess(text)) {
		if len(tok) > 2 && !stopwords[tok] {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// State is the serialisable form of an Extractor.
type State struct {
	Vectorizer      *textvec.State
	Categories      []string
	MaxTextFeatures int
}

// State captures the extractor for persistence.
func (e *Extractor) State() State {
	s := State{Categories: e.Categories(), MaxTextFeatures: e.maxTextFeatures}
	if e.vectorizer != nil {
		vs := e.vectorizer.State()
		s.Vectorizer = &vs
	}
	return s
}

// FromState rebuilds an extractor.
func FromState(s State) (*Extractor, error) {
	e := NewExtractor(s.MaxTextFeatures)
	if len(s.Categories) > 0 {
		e.categories = append([]string(nil), s.Categories...)
	}
	if s.Vectorizer != nil {
		vec, err := textvec.FromState(*s.Vectorizer)
		if err != nil {
			return nil, err
		}
		e.vectorizer = vec
	}
	return e, nil
}
