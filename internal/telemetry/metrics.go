// Package telemetry exports training results as Prometheus metrics in the
// textfile format read by node_exporter's textfile collector.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Veraticus/the-spice-must-score/internal/training"
)

// Metrics holds the gauges describing the most recent training run.
//
// Metrics:
//   - spice_score_training_records - records in the training set
//   - spice_score_training_timestamp_seconds - when the version was written
//   - spice_score_canonical_merchants - size of the merchant index
//   - spice_score_component_trained{component} - 1 when the component was trained
//   - spice_score_category_cv_accuracy - mean cross-validated accuracy
//   - spice_score_category_classes - number of categories learned
//   - spice_score_anomaly_rate - share of training debits flagged as outliers
//   - spice_score_versions_removed - versions deleted by retention after training
type Metrics struct {
	registry *prometheus.Registry

	Records            prometheus.Gauge
	Timestamp          prometheus.Gauge
	CanonicalMerchants prometheus.Gauge
	ComponentTrained   *prometheus.GaugeVec
	CVAccuracy         prometheus.Gauge
	Classes            prometheus.Gauge
	AnomalyRate        prometheus.Gauge
	VersionsRemoved    prometheus.Gauge
}

// NewMetrics registers the gauges on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Records: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spice_score_training_records",
			Help: "Number of records in the most recent training set",
		}),
		Timestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spice_score_training_timestamp_seconds",
			Help: "Unix time the most recent model version was written",
		}),
		CanonicalMerchants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spice_score_canonical_merchants",
			Help: "Number of canonical merchants in the index",
		}),
		ComponentTrained: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spice_score_component_trained",
			Help: "Whether a component was trained in the most recent version",
		}, []string{"component"}),
		CVAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spice_score_category_cv_accuracy",
			Help: "Mean cross-validated accuracy of the category classifier",
		}),
		Classes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spice_score_category_classes",
			Help: "Number of categories the classifier learned",
		}),
		AnomalyRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spice_score_anomaly_rate",
			Help: "Share of training debits the anomaly scorer flags",
		}),
		VersionsRemoved: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spice_score_versions_removed",
			Help: "Model versions removed by retention after training",
		}),
	}
}

// Observe records a training result.
func (m *Metrics) Observe(res *training.Result, at time.Time) {
	m.Records.Set(float64(res.Records))
	m.Timestamp.Set(float64(at.Unix()))
	m.CanonicalMerchants.Set(float64(len(res.CanonicalMerchants)))
	m.VersionsRemoved.Set(float64(res.Removed))

	m.ComponentTrained.WithLabelValues("embedding").Set(1)
	m.ComponentTrained.WithLabelValues("merchants").Set(1)
	m.ComponentTrained.WithLabelValues("categories").Set(boolGauge(res.CategoryMetrics != nil))
	m.ComponentTrained.WithLabelValues("anomalies").Set(boolGauge(res.AnomalyMetrics != nil))

	if res.CategoryMetrics != nil {
		m.Classes.Set(float64(res.CategoryMetrics.NClasses))
		if res.CategoryMetrics.CVAccuracyMean != nil {
			m.CVAccuracy.Set(*res.CategoryMetrics.CVAccuracyMean)
		}
	}
	if res.AnomalyMetrics != nil {
		m.AnomalyRate.Set(res.AnomalyMetrics.AnomalyRate)
	}
}

// WriteTextfile writes all gauges to path, creating its directory.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
