//go:build cgo

package embedding

import (
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

var modelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.AllMiniLML6V2: 384,
}

// semanticStrategy wraps a local fastembed ONNX model.
type semanticStrategy struct {
	model *fastembed.FlagEmbedding
	dim   int
	mu    sync.RWMutex
}

func newSemanticStrategy(cfg Config) (Strategy, error) {
	model, ok := modelMapping[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
		if _, known := modelDimensions[model]; !known {
			return nil, fmt.Errorf("unsupported embedding model %q", cfg.Model)
		}
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            128,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}

	return &semanticStrategy{model: flagEmbed, dim: modelDimensions[model]}, nil
}

func (s *semanticStrategy) Name() string {
	return StrategySemantic
}

func (s *semanticStrategy) Dimension() int {
	return s.dim
}

func (s *semanticStrategy) Ready() bool {
	return true
}

func (s *semanticStrategy) Embed(texts []string) ([][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vectors, err := s.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("semantic embedding failed: %w", err)
	}
	return vectors, nil
}

func (s *semanticStrategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model != nil {
		err := s.model.Destroy()
		s.model = nil
		return err
	}
	return nil
}
