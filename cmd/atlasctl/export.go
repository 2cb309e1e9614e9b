package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Force an immediate backup export",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, teardown, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer teardown()

			res := e.Export(ctx)
			manifest, errv := res.Unwrap()
			if errv != nil {
				return fmt.Errorf("export: %s", errv.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render(fmt.Sprintf(
				"exported %d records (schema v%d, %s)", manifest.RecordCount, manifest.SchemaVersion, manifest.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))))
			return nil
		},
	}
}
