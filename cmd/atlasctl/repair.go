package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair-relationships",
		Short: "Rebuild the hierarchy and dependency indexes from the durable store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, teardown, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer teardown()

			if _, errv := e.RepairRelationships(ctx).Unwrap(); errv != nil {
				return fmt.Errorf("repair-relationships: %s", errv.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render("relationships repaired"))
			return nil
		},
	}
}
