package main

import (
	"github.com/spf13/cobra"

	"github.com/Veraticus/the-spice-must-score/internal/serving"
)

func normaliseCmd() *cobra.Command {
	var (
		req          serving.MerchantRequest
		minScore     float64
		modelVersion string
	)

	cmd := &cobra.Command{
		Use:     "normalise <raw merchant>",
		Aliases: []string{"normalize"},
		Short:   "Resolve a raw merchant string to its canonical name",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("min-score") {
				minScore = cfg.MinScore
			}
			req.MinScore = &minScore

			registry, cleanup, err := openRegistry(ctx, cfg, modelVersion)
			if err != nil {
				return err
			}
			defer cleanup()

			req.Raw = args[0]
			result, err := registry.NormaliseMerchant(req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&req.HintMerchant, "hint-merchant", "", "merchant field from the bank feed")
	cmd.Flags().StringVar(&req.HintDescription, "hint-description", "", "description field from the bank feed")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "similarity needed to adopt a canonical name")
	cmd.Flags().StringVar(&modelVersion, "model-version", "", "model version to use (default: latest)")
	return cmd
}
