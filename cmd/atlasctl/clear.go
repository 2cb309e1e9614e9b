package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func newClearAllCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear-all",
		Short: "Irreversibly wipe every task, dependency, project, knowledge, and whiteboard entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				confirmed := false
				err := huh.NewForm(
					huh.NewGroup(
						huh.NewConfirm().
							Title("This deletes the entire store. Continue?").
							Affirmative("Clear everything").
							Negative("Cancel").
							Value(&confirmed),
					),
				).Run()
				if err != nil {
					if err == huh.ErrUserAborted {
						fmt.Fprintln(cmd.OutOrStdout(), styleWarn.Render("clear-all cancelled"))
						return nil
					}
					return fmt.Errorf("confirm prompt: %w", err)
				}
				if !confirmed {
					fmt.Fprintln(cmd.OutOrStdout(), styleWarn.Render("clear-all cancelled"))
					return nil
				}
			}

			ctx := cmd.Context()
			e, teardown, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer teardown()

			if _, errv := e.ClearAll(ctx).Unwrap(); errv != nil {
				return fmt.Errorf("clear-all: %s", errv.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), styleFail.Render("store cleared"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the interactive confirmation")
	return cmd
}
