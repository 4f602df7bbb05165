// Package merchant maps raw merchant strings onto a list of canonical
// merchant names by nearest-neighbour search over text embeddings.
package merchant

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/embedding"
	"github.com/Veraticus/the-spice-must-score/internal/model"
)

// ArtifactName is the blob name of a saved matcher.
const ArtifactName = "merchant_matcher"

const (
	stateSchema        = "merchant_matcher"
	stateSchemaVersion = 1

	// DefaultTopK is the number of matches Search returns by default.
	DefaultTopK = 5
	// DefaultMinScore is the similarity a match needs to be adopted.
	DefaultMinScore = 0.3
	// maxCandidates is how many alternatives Normalise reports.
	maxCandidates = 3
)

// Matcher normalises merchant strings against a canonical index.
type Matcher struct {
	engine    *embedding.Engine
	index     Index
	names     []string
	vectors   [][]float32
	indexKind string
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithIndexKind forces the flat or chromem index. The default tries chromem first.
func WithIndexKind(kind string) Option {
	return func(m *Matcher) {
		m.indexKind = kind
	}
}

// NewMatcher returns a matcher with an empty index.
func NewMatcher(engine *embedding.Engine, opts ...Option) *Matcher {
	m := &Matcher{engine: engine, indexKind: IndexChromem}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsReady reports whether the index holds any canonical names.
func (m *Matcher) IsReady() bool {
	return m.index != nil && len(m.names) > 0
}

// Names returns the canonical names in index order.
func (m *Matcher) Names() []string {
	return append([]string(nil), m.names...)
}

// IndexKind reports which index implementation is serving searches.
func (m *Matcher) IndexKind() string {
	if m.index == nil {
		return ""
	}
	return m.index.Kind()
}

// BuildIndex replaces the index with the given canonical names.
func (m *Matcher) BuildIndex(names []string) error {
	if len(names) == 0 {
		slog.Warn("no canonical merchants provided")
		m.names, m.vectors, m.index = nil, nil, nil
		return nil
	}
	if m.engine == nil {
		return fmt.Errorf("merchant index: %w", common.ErrEngineUnavailable)
	}

	normalized := make([]string, len(names))
	for i, name := range names {
		normalized[i] = NormalizeMerchantText(name)
	}
	vectors, err := m.engine.Embed(normalized)
	if err != nil {
		return fmt.Errorf("embedding canonical merchants: %w", err)
	}

	return m.install(append([]string(nil), names...), vectors)
}

func (m *Matcher) install(names []string, vectors [][]float32) error {
	if len(names) != len(vectors) {
		return fmt.Errorf("%w: %d names but %d vectors", common.ErrInvalidArtifact, len(names), len(vectors))
	}

	var index Index
	if m.indexKind == IndexChromem {
		ci, err := newChromemIndex(vectors)
		if err != nil {
			slog.Warn("chromem index unavailable, using flat index", "error", err)
		} else {
			index = ci
		}
	}
	if index == nil {
		index = newFlatIndex(vectors)
	}

	m.names = names
	m.vectors = vectors
	m.index = index
	slog.Info("built merchant index", "merchants", len(names), "index", index.Kind())
	return nil
}

func combineQuery(query, hintMerchant, hintDescription string) string {
	combined := NormalizeMerchantText(query)
	if hintMerchant != "" {
		combined += " " + NormalizeMerchantText(hintMerchant)
	}
	if hintDescription != "" {
		combined += " " + NormalizeMerchantText(hintDescription)
	}
	return combined
}

// Search returns up to topK canonical merchants for query, best first. Scores
// are clamped to [0,1]; equal scores keep index order.
func (m *Matcher) Search(query, hintMerchant, hintDescription string, topK int) ([]model.MerchantMatch, error) {
	if !m.IsReady() {
		return []model.MerchantMatch{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	combined := combineQuery(query, hintMerchant, hintDescription)
	vectors, err := m.engine.Embed([]string{combined})
	if err != nil {
		return nil, fmt.Errorf("embedding merchant query: %w", err)
	}

	scores := make([]float64, len(m.names))
	if !isZero(vectors[0]) {
		scores, err = m.index.Scores(vectors[0])
		if err != nil {
			return nil, err
		}
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
		scores[i] = clamp01(scores[i])
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	if topK < len(order) {
		order = order[:topK]
	}

	queryTokens := strings.Fields(combined)
	matches := make([]model.MerchantMatch, 0, len(order))
	for _, i := range order {
		matches = append(matches, model.MerchantMatch{
			Canonical:     m.names[i],
			Score:         scores[i],
			MatchedTokens: sharedTokens(queryTokens, m.names[i]),
		})
	}
	return matches, nil
}

// Normalise picks the canonical name for raw. When nothing scores at least
// minScore the normalised raw text is returned with Matched false.
func (m *Matcher) Normalise(raw, hintMerchant, hintDescription string, minScore float64) (model.MerchantResult, error) {
	matches, err := m.Search(raw, hintMerchant, hintDescription, DefaultTopK)
	if err != nil {
		return model.MerchantResult{}, err
	}

	fallback := NormalizeMerchantText(raw)
	if fallback == "" {
		fallback = raw
	}

	if len(matches) == 0 {
		return model.MerchantResult{
			Canonical:  fallback,
			Candidates: []model.MerchantCandidate{},
			Why: model.MerchantExplanation{
				MatchedTokens: []string{},
				Notes:         "No canonical merchants in index",
			},
		}, nil
	}

	best := matches[0]
	candidates := make([]model.MerchantCandidate, 0, maxCandidates)
	for _, match := range matches {
		if len(candidates) == maxCandidates {
			break
		}
		candidates = append(candidates, model.MerchantCandidate{Canonical: match.Canonical, Score: match.Score})
	}

	if best.Score < minScore {
		return model.MerchantResult{
			Canonical:  fallback,
			Score:      best.Score,
			Candidates: candidates,
			Why: model.MerchantExplanation{
				MatchedTokens: best.MatchedTokens,
				Notes: fmt.Sprintf("Best match below threshold (%.2f < %s)",
					best.Score, strconv.FormatFloat(minScore, 'f', -1, 64)),
			},
		}, nil
	}

	return model.MerchantResult{
		Canonical:  best.Canonical,
		Score:      best.Score,
		Candidates: candidates,
		Matched:    true,
		Why: model.MerchantExplanation{
			MatchedTokens: best.MatchedTokens,
			Notes:         fmt.Sprintf("Matched with score %.2f", best.Score),
		},
	}, nil
}

type matcherState struct {
	Names     []string
	Vectors   [][]float32
	IndexKind string
}

// MarshalState serialises the canonical names and their raw embeddings.
func (m *Matcher) MarshalState() ([]byte, error) {
	return artifacts.EncodeState(stateSchema, stateSchemaVersion, matcherState{
		Names:     m.names,
		Vectors:   m.vectors,
		IndexKind: m.IndexKind(),
	})
}

// Restore rebuilds a matcher and its index from saved state.
func Restore(blob []byte, engine *embedding.Engine, opts ...Option) (*Matcher, error) {
	var state matcherState
	if err := artifacts.DecodeState(blob, stateSchema, stateSchemaVersion, &state); err != nil {
		return nil, err
	}

	m := NewMatcher(engine, opts...)
	if len(state.Names) == 0 {
		return m, nil
	}
	if err := m.install(state.Names, state.Vectors); err != nil {
		return nil, err
	}
	return m, nil
}

func sharedTokens(queryTokens []string, canonical string) []string {
	canonicalTokens := make(map[string]bool)
	for _, tok := range strings.Fields(NormalizeMerchantText(canonical)) {
		canonicalTokens[tok] = true
	}

	shared := []string{}
	seen := make(map[string]bool)
	for _, tok := range queryTokens {
		if canonicalTokens[tok] && !seen[tok] {
			seen[tok] = true
			shared = append(shared, tok)
		}
	}
	return shared
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}
