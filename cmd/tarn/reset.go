package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate every table",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("this deletes all data; re-run with --yes to confirm")
		}

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.bridge.Reset(ctx); err != nil {
			return err
		}
		printSuccess("All tables reset")
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "confirm destructive reset")
}
