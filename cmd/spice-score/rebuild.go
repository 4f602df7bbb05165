package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-spice-must-score/internal/cli"
	"github.com/Veraticus/the-spice-must-score/internal/training"
)

func rebuildMerchantsCmd() *cobra.Command {
	var (
		dataPath string
		minCount int
	)

	cmd := &cobra.Command{
		Use:   "rebuild-merchants",
		Short: "Rebuild the canonical merchant index against the latest embeddings",
		Long: `Rebuild-merchants recomputes the canonical merchant list from a transaction file
and re-indexes it with the embedding engine of the latest version. The result is a new
version; the category classifier and anomaly scorer are carried over unchanged.`,
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

			bar := cli.NewStageProgress(os.Stderr, 2, "Rebuilding")
			trainer := training.NewTrainer(store, cfg.TrainingOptions(), func(stage training.Stage) {
				bar.Stage(string(stage))
			})
			res, err := trainer.RebuildMerchants(ctx, records, minCount)
			bar.Finish()
			if err != nil {
				return fmt.Errorf("rebuild failed: %w", err)
			}

			writeLine(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"Indexed %d canonical merchants into %s", len(res.CanonicalMerchants), res.Version)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "transaction data (.csv, .db, .ofx)")
	cmd.Flags().IntVar(&minCount, "min-count", training.DefaultRebuildMinCount, "occurrences a merchant needs to become canonical")
	return cmd
}
