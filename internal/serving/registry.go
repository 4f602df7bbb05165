package serving

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/model"
)

// Registry holds the bundle currently serving requests. Callers that already
// hold a bundle keep using it after a swap.
type Registry struct {
	current atomic.Pointer[Bundle]
}

// NewRegistry creates a registry serving b, which may be nil.
func NewRegistry(b *Bundle) *Registry {
	r := &Registry{}
	if b != nil {
		r.current.Store(b)
	}
	return r
}

// Current returns the serving bundle, or nil before the first load.
func (r *Registry) Current() *Bundle {
	return r.current.Load()
}

// Swap installs b and returns the bundle it replaced. The old bundle is not
// closed; the caller decides when in-flight requests have drained.
func (r *Registry) Swap(b *Bundle) *Bundle {
	return r.current.Swap(b)
}

// Reload loads version through l and swaps it in. On failure the current
// bundle keeps serving.
func (r *Registry) Reload(ctx context.Context, l *Loader, version string) (*Bundle, error) {
	b, err := l.Load(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("reload failed: %w", err)
	}
	old := r.Swap(b)
	if old != nil {
		slog.Info("model bundle replaced", "from", old.Version, "to", b.Version)
	}
	return old, nil
}

// Close tears down the current bundle.
func (r *Registry) Close() error {
	b := r.current.Swap(nil)
	if b == nil {
		return nil
	}
	return b.Close()
}

func (r *Registry) bundle() (*Bundle, error) {
	b := r.Current()
	if b == nil {
		return nil, fmt.Errorf("no model loaded: %w", common.ErrNotTrained)
	}
	return b, nil
}

// NormaliseMerchant routes to the current bundle.
func (r *Registry) NormaliseMerchant(req MerchantRequest) (model.MerchantResult, error) {
	b, err := r.bundle()
	if err != nil {
		return model.MerchantResult{}, err
	}
	return b.NormaliseMerchant(req)
}

// PredictCategories routes to the current bundle.
func (r *Registry) PredictCategories(reqs []CategoryRequest) ([]model.CategoryPrediction, error) {
	b, err := r.bundle()
	if err != nil {
		return nil, err
	}
	return b.PredictCategories(reqs)
}

// ScoreAnomalies routes to the current bundle.
func (r *Registry) ScoreAnomalies(req AnomalyRequest) ([]model.AnomalyResult, error) {
	b, err := r.bundle()
	if err != nil {
		return nil, err
	}
	return b.ScoreAnomalies(req)
}
