package main

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/nunnr/gephiserver/internal/api"
	"github.com/nunnr/gephiserver/internal/config"
	"github.com/nunnr/gephiserver/internal/engine"
	"github.com/nunnr/gephiserver/internal/pipeline"
	"github.com/nunnr/gephiserver/internal/store"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the HTTP render server",
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", "", "Address to listen on (overrides config)")
	serveCmd.Flags().Int("queue-capacity", 0, "Render jobs admitted at once, counting the running one")
	serveCmd.Flags().String("trace-exporter", "", "Where render spans go: none or stdout")
	serveCmd.Flags().Bool("seed", false, "Store the demo graph when the database has no graphs")
	bindFlag(serveCmd, "listen-addr", config.KeyListenAddr)
	bindFlag(serveCmd, "queue-capacity", config.KeyQueueCapacity)
	bindFlag(serveCmd, "trace-exporter", config.KeyTraceExporter)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("gephiserver: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"queue_capacity", cfg.QueueCapacity,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer db.Close()

	ctx := cmd.Context()
	if seed, _ := cmd.Flags().GetBool("seed"); seed {
		if err := seedIfEmpty(ctx, db); err != nil {
			return err
		}
	}
	if err := db.CheckSchema(ctx); err != nil {
		return errors.WithHint(errors.Wrap(err, "check graph tables"),
			"run gephiserver seed or start with --seed to create the demo graph")
	}

	reg, err := pipeline.NewDefaultRegistry(db)
	if err != nil {
		return err
	}

	tracingOpts, shutdownTracing, err := newTracing(cfg.TraceExporter, os.Stderr)
	if err != nil {
		return err
	}

	opts := append([]engine.Option{engine.WithRecorder(db)}, tracingOpts...)
	sched, err := engine.NewScheduler(engine.Config{
		Capacity:    cfg.QueueCapacity,
		SyncTimeout: cfg.SyncTimeout,
		ResultTTL:   cfg.ResultTTL,
	}, logger, opts...)
	if err != nil {
		return errors.Wrap(err, "start scheduler")
	}

	srv := api.NewServer(cfg.ListenAddr, db, reg, sched, logger,
		api.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		api.WithShutdownTimeout(cfg.ShutdownTimeout),
	)
	runErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := sched.Shutdown(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown", "error", err)
	}
	// Flushes spans of jobs that finished during the drain.
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown", "error", err)
	}
	return runErr
}

// seedIfEmpty stores the demo graph unless the database already has graphs.
func seedIfEmpty(ctx context.Context, db *store.SQLiteStore) error {
	graphs, err := db.ListGraphs(ctx)
	if err != nil {
		return errors.Wrap(err, "list graphs")
	}
	if len(graphs) > 0 {
		return nil
	}
	_, err = store.Seed(ctx, db)
	return err
}
