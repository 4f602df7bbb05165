package evaluation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-score/internal/model"
	"github.com/Veraticus/the-spice-must-score/internal/serving"
)

const (
	jsonReportFile     = "metrics.json"
	markdownReportFile = "metrics.md"
)

// Report combines the three evaluations. Nil sections were not evaluated.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Merchants   *MerchantMetrics `json:"merchant_normalisation"`
	Categories  *CategoryMetrics `json:"category_classification"`
	Anomalies   *AnomalyMetrics  `json:"anomaly_detection"`
	Version     string           `json:"version,omitempty"`
}

// Evaluate runs all three evaluations against b. Merchant cases are derived
// from the records' descriptions and merchants.
func Evaluate(b *serving.Bundle, records []model.Record, knownAnomalyIDs []string, now time.Time) *Report {
	merchants := EvaluateMerchants(b, MerchantCases(records))
	categories := EvaluateCategories(b, records)
	anomalies := EvaluateAnomalies(b, records, knownAnomalyIDs)
	return &Report{
		GeneratedAt: now,
		Version:     b.Version,
		Merchants:   &merchants,
		Categories:  &categories,
		Anomalies:   &anomalies,
	}
}

// Markdown renders the report as tables.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Model Evaluation Metrics\n\n")
	fmt.Fprintf(&b, "**Generated:** %s\n\n", r.GeneratedAt.Format(time.RFC3339))
	if r.Version != "" {
		fmt.Fprintf(&b, "**Version:** %s\n\n", r.Version)
	}

	b.WriteString("## Merchant Normalisation\n")
	switch {
	case r.Merchants == nil:
		b.WriteString("\nNot evaluated\n\n")
	case r.Merchants.Error != "":
		fmt.Fprintf(&b, "\n%s\n\n", r.Merchants.Error)
	default:
		writeTable(&b, [][2]string{
			{"Total Samples", fmt.Sprint(r.Merchants.TotalSamples)},
			{"Top-1 Accuracy", percent(r.Merchants.Top1Accuracy)},
			{"Top-3 Accuracy", percent(r.Merchants.Top3Accuracy)},
		})
	}

	b.WriteString("## Category Classification\n")
	switch {
	case r.Categories == nil:
		b.WriteString("\nNot evaluated\n\n")
	case r.Categories.Error != "":
		fmt.Fprintf(&b, "\n%s\n\n", r.Categories.Error)
	default:
		writeTable(&b, [][2]string{
			{"Total Samples", fmt.Sprint(r.Categories.TotalSamples)},
			{"Top-1 Accuracy", percent(r.Categories.Top1Accuracy)},
			{"Top-3 Accuracy", percent(r.Categories.Top3Accuracy)},
			{"Mean Confidence", percent(r.Categories.MeanConfidence)},
		})
	}

	b.WriteString("## Anomaly Detection\n")
	switch {
	case r.Anomalies == nil:
		b.WriteString("\nNot evaluated\n\n")
	case r.Anomalies.Error != "":
		fmt.Fprintf(&b, "\n%s\n\n", r.Anomalies.Error)
	default:
		rows := [][2]string{
			{"Total Samples", fmt.Sprint(r.Anomalies.TotalSamples)},
			{"Flagged Rate", percent(r.Anomalies.FlaggedRate)},
			{"Normal", fmt.Sprint(r.Anomalies.NormalCount)},
			{"Suspicious", fmt.Sprint(r.Anomalies.SuspiciousCount)},
			{"Severe", fmt.Sprint(r.Anomalies.SevereCount)},
		}
		if r.Anomalies.Precision != nil && r.Anomalies.Recall != nil {
			rows = append(rows,
				[2]string{"Precision", percent(*r.Anomalies.Precision)},
				[2]string{"Recall", percent(*r.Anomalies.Recall)})
		}
		writeTable(&b, rows)
	}

	return b.String()
}

func writeTable(b *strings.Builder, rows [][2]string) {
	b.WriteString("\n| Metric | Value |\n|--------|-------|\n")
	for _, row := range rows {
		fmt.Fprintf(b, "| %s | %s |\n", row[0], row[1])
	}
	b.WriteString("\n")
}

func percent(x float64) string {
	return fmt.Sprintf("%.1f%%", x*100)
}

// Write stores metrics.json and metrics.md under dir.
func (r *Report) Write(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	jsonPath := filepath.Join(dir, jsonReportFile)
	if err := os.WriteFile(jsonPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", jsonPath, err)
	}

	mdPath := filepath.Join(dir, markdownReportFile)
	if err := os.WriteFile(mdPath, []byte(r.Markdown()), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", mdPath, err)
	}

	slog.Info("wrote evaluation report", "json", jsonPath, "markdown", mdPath)
	return nil
}
