package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-spice-must-score/internal/cli"
	"github.com/Veraticus/the-spice-must-score/internal/telemetry"
	"github.com/Veraticus/the-spice-must-score/internal/training"
)

func trainCmd() *cobra.Command {
	var (
		dataPath   string
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train every model component and save a new version",
		Long: `Train fits the embedding engine, merchant index, category classifier and
anomaly scorer on a labelled transaction file (CSV, spice SQLite database or OFX)
and writes them to a fresh model version. Old versions beyond models.keep are removed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			records, err := loadRecords(ctx, dataPath)
			if err != nil {
				return err
			}

			store, _, cleanup, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			var progress training.ProgressFunc
			var bar *cli.StageProgress
			if !noProgress {
				bar = cli.NewStageProgress(os.Stderr, len(training.Stages), "Training")
				progress = func(stage training.Stage) { bar.Stage(string(stage)) }
			}

			res, err := training.NewTrainer(store, cfg.TrainingOptions(), progress).TrainAll(ctx, records)
			if bar != nil {
				bar.Finish()
			}
			if err != nil {
				return fmt.Errorf("training failed: %w", err)
			}

			if cfg.MetricsTextfile != "" {
				m := telemetry.NewMetrics()
				m.Observe(res, time.Now())
				if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
					return err
				}
			}

			writeLine(cmd.OutOrStdout(), renderTrainingResult(res))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "training data (.csv, .db, .ofx)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "hide the progress bar")
	return cmd
}

func renderTrainingResult(res *training.Result) string {
	var lines []string
	lines = append(lines,
		fmt.Sprintf("Version:     %s", cli.BoldStyle.Render(res.Version)),
		fmt.Sprintf("Records:     %d", res.Records),
		fmt.Sprintf("Data hash:   %s", res.DataHash),
		fmt.Sprintf("Embeddings:  %s", res.EmbeddingStrategy),
		fmt.Sprintf("Merchants:   %d canonical", len(res.CanonicalMerchants)),
	)

	if res.CategoryMetrics != nil {
		line := fmt.Sprintf("Categories:  %d classes", res.CategoryMetrics.NClasses)
		if res.CategoryMetrics.CVAccuracyMean != nil {
			line += fmt.Sprintf(", CV accuracy %.1f%%", *res.CategoryMetrics.CVAccuracyMean*100)
		}
		lines = append(lines, line)
	} else {
		lines = append(lines, cli.FormatWarning("Categories:  skipped"))
	}

	if res.AnomalyMetrics != nil {
		lines = append(lines, fmt.Sprintf("Anomalies:   %d flagged of %d debits",
			res.AnomalyMetrics.NAnomaliesDetected, res.AnomalyMetrics.NSamples))
	} else {
		lines = append(lines, cli.FormatWarning("Anomalies:   skipped"))
	}

	if res.Removed > 0 {
		lines = append(lines, cli.SubtleStyle.Render(fmt.Sprintf("Removed %d old version(s)", res.Removed)))
	}

	return cli.RenderBox(cli.FormatSuccess("Training complete"), strings.Join(lines, "\n"))
}
