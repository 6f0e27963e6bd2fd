package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "lendpool",
		Short:        "NFT-collateralized lending pools",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a lending scenario and journal its events",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("scenario", "", "scenario YAML/JSON file")
	simulateCmd.Flags().String("journal", "./data/pool_events.jsonl", "output event journal JSONL")
	simulateCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for pools and events")
	simulateCmd.Flags().String("run-name", "simulate", "state name recorded in Postgres")
	simulateCmd.Flags().Int("batch-size", 100, "events per journal write")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	activityCmd := &cobra.Command{
		Use:   "activity",
		Short: "Roll the event journal up into per-pool activity windows",
		RunE:  runActivity,
	}

	activityCmd.Flags().String("in", "./data/pool_events.jsonl", "input event journal JSONL")
	activityCmd.Flags().Duration("window", time.Hour, "aggregation window (e.g. 15m, 1h, 24h)")
	activityCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	activityCmd.Flags().Int("batch-size", 1000, "windows per DB write")
	activityCmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	activityCmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	activityCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(activityCmd)

	signCmd := &cobra.Command{
		Use:   "sign-quote",
		Short: "Sign a price quote with the oracle key",
		RunE:  runSignQuote,
	}

	signCmd.Flags().String("oracle-key", "", "oracle private key (hex)")
	signCmd.Flags().String("collection", "", "collection address")
	signCmd.Flags().String("price", "", "price in ether units (e.g. 0.25)")
	signCmd.Flags().Uint64("deadline", 0, "quote deadline (unix seconds), 0 means now + ttl")
	signCmd.Flags().Duration("ttl", 20*time.Minute, "quote lifetime when no deadline is given")
	signCmd.Flags().Uint64("chain-id", 1, "chain id bound into the quote")
	signCmd.Flags().String("rpc", "", "optional RPC URL for chain id and head time")
	signCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(signCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify-quote",
		Short: "Check a signed price quote",
		RunE:  runVerifyQuote,
	}

	verifyCmd.Flags().String("oracle", "", "expected oracle address")
	verifyCmd.Flags().String("collection", "", "collection address")
	verifyCmd.Flags().String("price", "", "price in ether units (e.g. 0.25)")
	verifyCmd.Flags().Uint64("deadline", 0, "quote deadline (unix seconds)")
	verifyCmd.Flags().String("signature", "", "65-byte signature (hex)")
	verifyCmd.Flags().Uint64("chain-id", 1, "chain id bound into the quote")
	verifyCmd.Flags().Uint64("now", 0, "evaluation time (unix seconds), 0 means chain head or wall clock")
	verifyCmd.Flags().String("rpc", "", "optional RPC URL for chain id and head time")
	verifyCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(verifyCmd)

	nftsCmd := &cobra.Command{
		Use:   "list-nfts",
		Short: "List the tokens of a collection held by an owner",
		RunE:  runListNFTs,
	}

	nftsCmd.Flags().String("rpc", "", "RPC URL")
	nftsCmd.Flags().String("collection", "", "ERC-721 collection address")
	nftsCmd.Flags().String("owner", "", "holder address")
	nftsCmd.Flags().Uint64("from", 0, "first token id (or owner index) to scan")
	nftsCmd.Flags().Uint64("to", 5000, "scan bound (exclusive)")
	nftsCmd.Flags().Uint64("page-size", 500, "ids per page")
	nftsCmd.Flags().Int("max-retries", 3, "maximum retry attempts per call")
	nftsCmd.Flags().Duration("retry-backoff", 200*time.Millisecond, "initial retry backoff")
	nftsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(nftsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
