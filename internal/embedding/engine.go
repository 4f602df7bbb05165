// Package embedding converts text into fixed-width vectors, using a local
// ONNX sentence model when one is available and TF-IDF statistics otherwise.
package embedding

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/textvec"
)

// ArtifactName is the blob name of a saved engine.
const ArtifactName = "embedding_engine"

const (
	stateSchema        = "embedding_engine"
	stateSchemaVersion = 1

	// DefaultModel is the sentence model used by the semantic strategy.
	DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"
	// DefaultDimension is the width of frequency-strategy vectors.
	DefaultDimension = 384
)

// Mode selects how the engine picks its strategy.
type Mode string

// Mode constants.
const (
	ModeAuto      Mode = "auto"
	ModeSemantic  Mode = "semantic"
	ModeFrequency Mode = "frequency"
)

// Strategy names recorded in saved state.
const (
	StrategySemantic  = "semantic"
	StrategyFrequency = "frequency"
)

// Config holds engine construction options.
type Config struct {
	Mode        Mode
	Model       string
	CacheDir    string
	Dimension   int
	MaxFeatures int
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Dimension <= 0 {
		c.Dimension = DefaultDimension
	}
	if c.MaxFeatures <= 0 {
		c.MaxFeatures = DefaultDimension
	}
	return c
}

// Strategy is one way of turning preprocessed text into vectors.
type Strategy interface {
	Name() string
	Embed(texts []string) ([][]float32, error)
	Dimension() int
	Ready() bool
	Close() error
}

// Engine embeds text with the strategy chosen at construction time.
type Engine struct {
	strategy Strategy
	cfg      Config
}

// New picks a strategy according to cfg.Mode.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	switch cfg.Mode {
	case ModeSemantic:
		s, err := newSemanticStrategy(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrEngineUnavailable, err)
		}
		return &Engine{strategy: s, cfg: cfg}, nil
	case ModeFrequency:
		return &Engine{strategy: newFrequencyStrategy(cfg), cfg: cfg}, nil
	case ModeAuto:
		s, err := newSemanticStrategy(cfg)
		if err == nil {
			return &Engine{strategy: s, cfg: cfg}, nil
		}
		slog.Warn("semantic embeddings unavailable, falling back to term frequency", "model", cfg.Model, "error", err)
		return &Engine{strategy: newFrequencyStrategy(cfg), cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding mode %q", common.ErrInvalidConfig, cfg.Mode)
	}
}

// StrategyName reports which strategy is active.
func (e *Engine) StrategyName() string {
	return e.strategy.Name()
}

// Dimension is the width of vectors returned by Embed.
func (e *Engine) Dimension() int {
	return e.strategy.Dimension()
}

// IsReady reports whether Embed can be called.
func (e *Engine) IsReady() bool {
	return e.strategy.Ready()
}

// Fit trains the frequency strategy on texts. Semantic engines need no fitting.
func (e *Engine) Fit(texts []string) error {
	f, ok := e.strategy.(*frequencyStrategy)
	if !ok {
		return nil
	}
	return f.Fit(texts)
}

// Embed returns one vector per text. An empty input yields an empty result.
func (e *Engine) Embed(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	cleaned := make([]string, len(texts))
	for i, text := range texts {
		cleaned[i] = textvec.Preprocess(text)
	}
	return e.strategy.Embed(cleaned)
}

// Close releases model resources.
func (e *Engine) Close() error {
	return e.strategy.Close()
}

type engineState struct {
	Vectorizer *textvec.State
	Strategy   string
	Model      string
	Dimension  int
}

// MarshalState serialises the engine for the artifact store.
func (e *Engine) MarshalState() ([]byte, error) {
	state := engineState{
		Strategy:  e.strategy.Name(),
		Model:     e.cfg.Model,
		Dimension: e.strategy.Dimension(),
	}
	if f, ok := e.strategy.(*frequencyStrategy); ok {
		vs := f.vectorizer.State()
		state.Vectorizer = &vs
	}
	return artifacts.EncodeState(stateSchema, stateSchemaVersion, state)
}

// Restore rebuilds an engine from saved state. A semantic engine whose model
// can no longer be loaded fails with common.ErrEngineUnavailable.
func Restore(blob []byte, cfg Config) (*Engine, error) {
	var state engineState
	if err := artifacts.DecodeState(blob, stateSchema, stateSchemaVersion, &state); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	cfg.Model = state.Model
	cfg.Dimension = state.Dimension

	switch state.Strategy {
	case StrategySemantic:
		cfg.Mode = ModeSemantic
		s, err := newSemanticStrategy(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: restoring %s: %w", common.ErrEngineUnavailable, state.Model, err)
		}
		return &Engine{strategy: s, cfg: cfg}, nil
	case StrategyFrequency:
		if state.Vectorizer == nil {
			return nil, fmt.Errorf("%w: frequency engine without vectorizer", common.ErrInvalidArtifact)
		}
		vec, err := textvec.FromState(*state.Vectorizer)
		if err != nil {
			return nil, err
		}
		cfg.Mode = ModeFrequency
		return &Engine{strategy: &frequencyStrategy{vectorizer: vec, dim: state.Dimension}, cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding strategy %q", common.ErrInvalidArtifact, state.Strategy)
	}
}

// errSemanticUnavailable is returned by builds without the ONNX runtime.
var errSemanticUnavailable = errors.New("semantic embeddings require a cgo build")
