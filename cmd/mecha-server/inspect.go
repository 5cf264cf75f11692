package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mechafrog/ptm/server/internal/engine"
	"github.com/mechafrog/ptm/server/internal/events"
	"github.com/mechafrog/ptm/server/internal/infra/storage"
	"github.com/mechafrog/ptm/server/internal/platform/logger"
	"github.com/mechafrog/ptm/server/internal/platform/metrics"
)

var (
	inspectEvents int
	inspectRecap  time.Duration
)

var inspectCMD = &cobra.Command{
	Use:   "inspect",
	Short: "print the saved progress and any problems found loading it",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		eng := engine.NewEngine(a.economy(), a.slot, engine.Options{
			Logger:  logger.Discard(),
			Metrics: metrics.NewCollector(),
			Events:  events.NewEventLog(nil, events.Options{}),
		})
		diags, found := eng.Load(ctx)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "slot:  %s\n", a.slot.Key())
		fmt.Fprintf(out, "found: %t\n", found)
		for _, d := range diags {
			fmt.Fprintf(out, "  ignored %s\n", d)
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(eng.View()); err != nil {
			return err
		}

		if inspectEvents > 0 && a.ledger != nil {
			stored, err := a.ledger.ListBySlot(ctx, a.slot.Key(), inspectEvents)
			if err != nil {
				return fmt.Errorf("failed to read event ledger: %w", err)
			}
			fmt.Fprintf(out, "last %d events:\n", len(stored))
			for _, e := range stored {
				fmt.Fprintf(out, "  #%d %s %s %v\n", e.Seq, e.Timestamp.Format(time.RFC3339), e.EventType, e.Payload)
			}
		}
		if inspectRecap > 0 && a.ledger != nil {
			recap, err := storage.NewReconstructor(a.ledger).GenerateRecap(ctx, a.slot.Key(), time.Now().Add(-inspectRecap))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "recap of the last %s:\n", inspectRecap)
			if err := enc.Encode(recap); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	inspectCMD.Flags().IntVarP(&inspectEvents, "events", "n", 0, "also print the last n ledger events")
	inspectCMD.Flags().DurationVar(&inspectRecap, "recap", 0, "also summarize ledger events from this far back, e.g. 24h")
	rootCmd.AddCommand(inspectCMD)
}
