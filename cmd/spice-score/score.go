package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-spice-must-score/internal/cli"
	"github.com/Veraticus/the-spice-must-score/internal/model"
	"github.com/Veraticus/the-spice-must-score/internal/serving"
)

func scoreCmd() *cobra.Command {
	var (
		dataPath     string
		ignorePath   string
		ignoreIDs    []string
		modelVersion string
		flaggedOnly  bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score transactions for anomalies",
		Long: `Score rates how unusual each debit in --data is compared with the spending
baselines learned at training time. Credits and ignored ids are returned unscored.`,
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
			fromFile, err := readIDFile(ignorePath)
			if err != nil {
				return err
			}

			registry, cleanup, err := openRegistry(ctx, cfg, modelVersion)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := registry.ScoreAnomalies(serving.AnomalyRequest{
				Transactions: records,
				IgnoreIDs:    append(ignoreIDs, fromFile...),
			})
			if err != nil {
				return err
			}

			if flaggedOnly {
				results = flagged(results)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), results)
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				writeLine(out, cli.FormatSuccess("Nothing unusual"))
				return nil
			}
			writeLine(out, cli.RenderTable([]string{"ID", "Label", "Score", "Baseline", "Notes"}, scoreRows(results)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "transactions to score (.csv, .db, .ofx)")
	cmd.Flags().StringSliceVar(&ignoreIDs, "ignore", nil, "transaction ids to skip")
	cmd.Flags().StringVar(&ignorePath, "ignore-file", "", "file of transaction ids to skip, one per line")
	cmd.Flags().BoolVar(&flaggedOnly, "flagged", false, "only show SUSPICIOUS and SEVERE results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().StringVar(&modelVersion, "model-version", "", "model version to use (default: latest)")
	return cmd
}

func flagged(results []model.AnomalyResult) []model.AnomalyResult {
	out := results[:0:0]
	for _, r := range results {
		if r.Flagged() {
			out = append(out, r)
		}
	}
	return out
}

func scoreRows(results []model.AnomalyResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.ID,
			cli.FormatLabel(r.Label),
			cli.FormatScore(r.Score),
			fmt.Sprintf("£%.2f", r.Why.Baseline),
			r.Why.Notes,
		})
	}
	return rows
}
