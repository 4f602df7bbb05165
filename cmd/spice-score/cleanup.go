package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/cli"
	"github.com/Veraticus/the-spice-must-score/internal/common"
)

func cleanupCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete all but the newest model versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keep < 1 {
				return common.NewUserError("--keep must be at least 1", common.ErrInvalidConfig)
			}
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, _, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			removed, err := store.CleanupOldVersions(ctx, keep)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if removed == 0 {
				writeLine(out, cli.FormatInfo(fmt.Sprintf("Nothing to remove; %d or fewer versions on disk", keep)))
				return nil
			}
			writeLine(out, cli.FormatSuccess(fmt.Sprintf("Removed %d version(s), kept the newest %d", removed, keep)))
			return nil
		},
	}

	cmd.Flags().IntVarP(&keep, "keep", "k", artifacts.DefaultKeep, "number of versions to keep")
	return cmd
}
