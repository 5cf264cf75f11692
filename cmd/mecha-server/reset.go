package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var resetConfirmed bool

var resetCMD = &cobra.Command{
	Use:   "reset",
	Short: "delete the saved progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetConfirmed {
			return errors.New("reset deletes all progress; pass --yes to confirm")
		}

		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := a.slot.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear save: %w", err)
		}
		if a.ledger != nil {
			if err := a.ledger.DeleteSlot(ctx, a.slot.Key()); err != nil {
				return fmt.Errorf("failed to clear event ledger: %w", err)
			}
		}

		a.log.Info("progress reset", "slot", a.slot.Key())
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", a.slot.Key())
		return nil
	},
}

func init() {
	resetCMD.Flags().BoolVarP(&resetConfirmed, "yes", "y", false, "confirm the reset")
	rootCmd.AddCommand(resetCMD)
}
