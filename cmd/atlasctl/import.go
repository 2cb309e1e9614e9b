package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/atlasengine/atlas/internal/backup"
)

func newImportCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore the store from a backup manifest file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var manifest *backup.Manifest
			var err error
			switch {
			case path != "":
				manifest, err = backup.ReadManifest(path)
			case !term.IsTerminal(int(os.Stdin.Fd())):
				// Piped input: atlasctl export ... | atlasctl import
				path = "stdin"
				manifest, err = backup.DecodeManifest(cmd.InOrStdin())
			default:
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: no input specified.\n\n")
				fmt.Fprintf(cmd.ErrOrStderr(), "Usage:\n")
				fmt.Fprintf(cmd.ErrOrStderr(), "  atlasctl import -f backups/atlas-backup-<ts>.json\n")
				fmt.Fprintf(cmd.ErrOrStderr(), "  cat backup.json | atlasctl import\n")
				return fmt.Errorf("--file is required when stdin is a terminal")
			}
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}

			e, teardown, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer teardown()

			res := e.Import(ctx, manifest)
			if _, errv := res.Unwrap(); errv != nil {
				return fmt.Errorf("import: %s", errv.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render(fmt.Sprintf("imported %d records from %s", manifest.RecordCount, path)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "path to an atlas-backup-*.json manifest")
	return cmd
}
