package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-spice-must-score/internal/cli"
	"github.com/Veraticus/the-spice-must-score/internal/serving"
)

func statusCmd() *cobra.Command {
	var (
		modelVersion string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which capabilities the loaded models can serve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			registry, cleanup, err := openRegistry(ctx, cfg, modelVersion)
			if err != nil {
				return err
			}
			defer cleanup()

			b := registry.Current()
			readiness := b.Readiness()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), readiness)
			}
			writeLine(cmd.OutOrStdout(), renderStatus(b, readiness))
			return nil
		},
	}

	cmd.Flags().StringVar(&modelVersion, "model-version", "", "model version to inspect (default: latest)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func renderStatus(b *serving.Bundle, r serving.Readiness) string {
	embedding := cli.FormatReady(false)
	if r.Embedding != "" {
		embedding = cli.SuccessStyle.Render(r.Embedding)
	}

	lines := []string{
		fmt.Sprintf("Version:     %s", cli.BoldStyle.Render(r.Version)),
		fmt.Sprintf("Embeddings:  %s", embedding),
		fmt.Sprintf("Merchants:   %s", cli.FormatReady(r.Merchants)),
		fmt.Sprintf("Categories:  %s", cli.FormatReady(r.Categories)),
		fmt.Sprintf("Anomalies:   %s", cli.FormatReady(r.Anomalies)),
	}
	if b.Manifest != nil {
		lines = append(lines, cli.SubtleStyle.Render(fmt.Sprintf("Trained %s on data %s",
			b.Manifest.CreatedAt.Local().Format("2006-01-02 15:04"), b.Manifest.DataHash)))
	}
	return cli.RenderBox(cli.ChartIcon+" Model status", strings.Join(lines, "\n"))
}
