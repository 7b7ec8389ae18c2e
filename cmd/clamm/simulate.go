package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/defistate/defistate-clamm/cmd/clamm/config"
	"github.com/defistate/defistate-clamm/protocols/clamm"
	"github.com/defistate/defistate-clamm/protocols/clamm/pool"
	"github.com/defistate/defistate-clamm/scenario"
	"github.com/defistate/defistate-clamm/sinks/jsonl"
	"github.com/defistate/defistate-clamm/sinks/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runSimulate(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := newZapLogger(logger)

	scenarios, err := scenario.Load(args...)
	if err != nil {
		return err
	}
	defaults := pool.Defaults{Fee: cfg.Fee, TickSpacing: cfg.TickSpacing, CommunityFee: cfg.CommunityFee}
	for i := range scenarios {
		scenarios[i].Pool.ApplyDefaults(defaults)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, closeSink, err := openSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	registry := prometheus.NewRegistry()
	runner, err := scenario.NewRunner(scenario.Config{
		Workers:  cfg.Workers,
		Registry: registry,
		Logger:   log,
		Sink:     sink,
	})
	if err != nil {
		return err
	}

	logger.Info("simulation start",
		zap.Int("scenarios", len(scenarios)),
		zap.Int("workers", cfg.Workers),
		zap.String("sink", cfg.Sink),
	)

	results, err := runner.Run(ctx, scenarios)
	if err != nil {
		return err
	}

	views := make([]clamm.PoolView, 0, len(results))
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
		views = append(views, res.View)
	}
	if cfg.ViewsOut != "" {
		if err := jsonl.New(cfg.ViewsOut).WriteViews(views); err != nil {
			return err
		}
	}

	printResults(cmd, results)
	logOperations(logger, registry)

	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	return nil
}

func openSink(ctx context.Context, cfg config.Config, log zapLogger) (pool.EventSink, func(), error) {
	switch cfg.Sink {
	case config.SinkJSONL:
		return jsonl.New(cfg.Out), func() {}, nil
	case config.SinkPostgres:
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      cfg.PGDSN,
			Attempts: cfg.RetryAttempts,
			Delay:    cfg.RetryDelay,
			Timeout:  cfg.PGTimeout,
			Logger:   log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Migrate {
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return store, store.Close, nil
	}
	return nil, func() {}, nil
}

func printResults(cmd *cobra.Command, results []scenario.Result) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tSTEPS\tEVENTS\tTICK\tLIQUIDITY\tSTATUS")
	for _, res := range results {
		status := "ok"
		if res.Err != nil {
			status = res.Err.Error()
		}
		liquidity := "-"
		if res.View.Liquidity != nil {
			liquidity = res.View.Liquidity.String()
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n", res.Name, res.Steps, res.Events, res.View.Tick, liquidity, status)
	}
	w.Flush()
}

// logOperations logs the pool operation counters gathered during the run.
func logOperations(logger *zap.Logger, registry *prometheus.Registry) {
	families, err := registry.Gather()
	if err != nil {
		logger.Warn("gather metrics", zap.Error(err))
		return
	}
	for _, family := range families {
		if family.GetName() != "clamm_pool_operations_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			fields := make([]zap.Field, 0, len(m.GetLabel())+1)
			for _, label := range m.GetLabel() {
				fields = append(fields, zap.String(label.GetName(), label.GetValue()))
			}
			fields = append(fields, zap.Float64("count", m.GetCounter().GetValue()))
			logger.Info("pool operations", fields...)
		}
	}
}
