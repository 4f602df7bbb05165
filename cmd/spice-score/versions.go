package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/cli"
)

func versionsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List trained model versions",
		Long: `Versions lists the model versions on disk, newest first. With --all it also
shows versions that retention has already removed, as recorded in the catalog.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, catalog, cleanup, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := catalog.List(ctx)
			if err != nil {
				return err
			}
			onDisk, err := store.Versions()
			if err != nil {
				return err
			}

			rows := versionRows(entries, onDisk, all)
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				writeLine(out, cli.FormatInfo("No model versions yet"))
				return nil
			}
			writeLine(out, cli.FormatTitle("Model versions"))
			writeLine(out, cli.RenderTable([]string{"Version", "Created", "Data hash", "Samples", "Status"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include versions removed by retention")
	return cmd
}

func versionRows(entries []artifacts.CatalogEntry, onDisk []string, all bool) [][]string {
	present := make(map[string]bool, len(onDisk))
	for _, v := range onDisk {
		present[v] = true
	}

	var rows [][]string
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Version] = true
		status := cli.SuccessStyle.Render("available")
		if e.RemovedAt != nil || !present[e.Version] {
			if !all {
				continue
			}
			status = cli.SubtleStyle.Render("removed")
		}
		samples := ""
		if n, ok := e.Metrics["training_samples"]; ok {
			samples = fmt.Sprint(n)
		}
		rows = append(rows, []string{e.Version, e.CreatedAt.Local().Format("2006-01-02 15:04"), e.DataHash, samples, status})
	}

	// Versions written before the catalog existed.
	for i := len(onDisk) - 1; i >= 0; i-- {
		if v := onDisk[i]; !seen[v] {
			rows = append(rows, []string{v, "", "", "", cli.WarningStyle.Render("uncatalogued")})
		}
	}
	return rows
}
