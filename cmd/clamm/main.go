package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "clamm",
		Short:        "Concentrated-liquidity pool simulator",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	simulateCmd := &cobra.Command{
		Use:   "simulate [scenario.json...]",
		Short: "Run scenario files against in-memory pools",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("sink", "none", "event sink (none, jsonl, postgres)")
	simulateCmd.Flags().String("out", "./data/events.jsonl", "events JSONL path")
	simulateCmd.Flags().String("views-out", "", "final pool views JSONL path")
	simulateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	simulateCmd.Flags().Bool("migrate", true, "create the events table if missing")
	simulateCmd.Flags().Duration("pg-timeout", 30*time.Second, "timeout per event batch write")
	simulateCmd.Flags().Uint("retry-attempts", 5, "attempts per event batch write")
	simulateCmd.Flags().Duration("retry-delay", 200*time.Millisecond, "delay between write attempts")
	simulateCmd.Flags().Int("workers", 4, "scenarios run concurrently")
	simulateCmd.Flags().Uint16("fee", 3000, "default pool fee in ppm")
	simulateCmd.Flags().Int32("tick-spacing", 60, "default pool tick spacing")
	simulateCmd.Flags().Uint16("community-fee", 0, "default community fee in thousandths")

	root.AddCommand(simulateCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Convert between ticks, sqrt prices and prices",
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("tick", "", "tick index")
	quoteCmd.Flags().String("sqrt-price", "", "Q64.96 sqrt price, decimal or 0x hex")
	quoteCmd.Flags().String("price", "", "price of token0 in token1 units")
	quoteCmd.Flags().Int32("tick-spacing", 0, "also print the nearest usable ticks for this spacing")
	quoteCmd.MarkFlagsMutuallyExclusive("tick", "sqrt-price", "price")
	quoteCmd.MarkFlagsOneRequired("tick", "sqrt-price", "price")

	root.AddCommand(quoteCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
