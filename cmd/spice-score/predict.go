package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-spice-must-score/internal/cli"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/model"
	"github.com/Veraticus/the-spice-must-score/internal/serving"
)

func predictCmd() *cobra.Command {
	var (
		dataPath     string
		modelVersion string
		single       model.Record
		direction    string
		topK         int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict spending categories",
		Long: `Predict ranks categories for every transaction in --data, or for a single
transaction described by --merchant, --description, --amount and --date.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var records []model.Record
			switch {
			case dataPath != "":
				if records, err = loadRecords(ctx, dataPath); err != nil {
					return err
				}
			case single.Merchant != "" || single.Description != "":
				single.Direction = model.Direction(strings.ToUpper(direction))
				records = []model.Record{single}
			default:
				return common.NewUserError("Provide --data or --merchant/--description", common.ErrMissingConfig)
			}

			registry, cleanup, err := openRegistry(ctx, cfg, modelVersion)
			if err != nil {
				return err
			}
			defer cleanup()

			reqs := make([]serving.CategoryRequest, len(records))
			for i, r := range records {
				reqs[i] = serving.CategoryRequest{Record: r, ReturnTopK: topK}
			}
			predictions, err := registry.PredictCategories(reqs)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), predictions)
			}
			writeLine(cmd.OutOrStdout(), cli.RenderTable(
				[]string{"ID", "Transaction", "Category", "Confidence", "Alternatives"},
				predictionRows(records, predictions),
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "transactions to classify (.csv, .db, .ofx)")
	cmd.Flags().StringVar(&single.Merchant, "merchant", "", "merchant of a single transaction")
	cmd.Flags().StringVar(&single.Description, "description", "", "description of a single transaction")
	cmd.Flags().Float64Var(&single.Amount, "amount", 0, "amount of a single transaction")
	cmd.Flags().StringVar(&single.Date, "date", "", "date of a single transaction (YYYY-MM-DD)")
	cmd.Flags().StringVar(&direction, "direction", string(model.DirectionDebit), "DEBIT or CREDIT")
	cmd.Flags().IntVar(&topK, "top-k", 3, "number of ranked categories to return")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().StringVar(&modelVersion, "model-version", "", "model version to use (default: latest)")
	return cmd
}

func predictionRows(records []model.Record, predictions []model.CategoryPrediction) [][]string {
	rows := make([][]string, 0, len(predictions))
	for i, p := range predictions {
		var alts []string
		for _, alt := range p.Top {
			if alt.Category == p.Chosen {
				continue
			}
			alts = append(alts, fmt.Sprintf("%s %.0f%%", alt.Category, alt.Probability*100))
		}
		rows = append(rows, []string{
			records[i].ID,
			truncate(records[i].Text(), 40),
			cli.BoldStyle.Render(p.Chosen),
			fmt.Sprintf("%.0f%%", p.Confidence*100),
			cli.SubtleStyle.Render(strings.Join(alts, ", ")),
		})
	}
	return rows
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
