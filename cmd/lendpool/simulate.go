package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nftLend/internal/config"
	"nftLend/internal/scenario"
	"nftLend/internal/storage"
	"nftLend/internal/storage/postgres"
)

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	file, err := scenario.Load(cfg.Scenario)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sinks []storage.Storage
	if cfg.Journal != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Journal))
	}

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, store.Journal(ctx))
	}

	buffer := storage.NewBuffer(cfg.BatchSize, logger, sinks...)
	runner, err := scenario.NewRunner(file, buffer, logger)
	if err != nil {
		return err
	}

	logger.Info("simulate start",
		zap.String("scenario", cfg.Scenario),
		zap.Int("steps", len(file.Steps)),
		zap.String("journal", cfg.Journal),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Int("batch_size", cfg.BatchSize),
	)

	report, runErr := runner.Run(ctx)
	if err := buffer.Flush(); err != nil {
		logger.Error("flush journal", zap.Error(err), zap.Int("pending", buffer.Pending()))
		if runErr == nil {
			runErr = err
		}
	}

	if store != nil {
		if err := store.UpsertPools(ctx, runner.Factory().Records()); err != nil {
			return fmt.Errorf("upsert pools: %w", err)
		}
		if n := len(report.Steps); n > 0 {
			if err := store.SaveState(ctx, cfg.RunName, report.Steps[n-1].Time); err != nil {
				return fmt.Errorf("save state: %w", err)
			}
		}
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	logger.Info("simulate done",
		zap.Int("steps", len(report.Steps)),
		zap.Int("pools", len(report.Pools)),
		zap.Bool("ok", runErr == nil),
	)
	return runErr
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
