package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Checkpoint the WAL into the snapshot and rebuild every index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, teardown, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer teardown()

			if _, errv := e.Vacuum(ctx).Unwrap(); errv != nil {
				return fmt.Errorf("vacuum: %s", errv.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render("vacuum complete"))
			return nil
		},
	}
}
