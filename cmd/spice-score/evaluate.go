package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-spice-must-score/internal/cli"
	"github.com/Veraticus/the-spice-must-score/internal/evaluation"
)

func evaluateCmd() *cobra.Command {
	var (
		dataPath      string
		knownPath     string
		outDir        string
		modelVersion  string
		printMarkdown bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Measure a model version against labelled transactions",
		Long: `Evaluate runs merchant normalisation, category prediction and anomaly scoring
over a labelled transaction file and writes metrics.json and metrics.md.

--known-anomalies names a file of transaction ids (one per line) that are real
anomalies; with it the report includes precision and recall.`,
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
			known, err := readIDFile(knownPath)
			if err != nil {
				return err
			}

			registry, cleanup, err := openRegistry(ctx, cfg, modelVersion)
			if err != nil {
				return err
			}
			defer cleanup()

			report := evaluation.Evaluate(registry.Current(), records, known, time.Now())
			if err := report.Write(outDir); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if printMarkdown {
				writeLine(out, report.Markdown())
			}
			writeLine(out, cli.FormatSuccess(fmt.Sprintf("Evaluated %s; report written to %s", report.Version, outDir)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "labelled transaction data (.csv, .db, .ofx)")
	cmd.Flags().StringVar(&knownPath, "known-anomalies", "", "file of known anomalous transaction ids")
	cmd.Flags().StringVarP(&outDir, "out", "o", "reports", "report output directory")
	cmd.Flags().StringVar(&modelVersion, "model-version", "", "model version to evaluate (default: latest)")
	cmd.Flags().BoolVar(&printMarkdown, "print", false, "also print the Markdown report")
	return cmd
}
