package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nftLend/internal/chain"
	"nftLend/internal/config"
	"nftLend/internal/interest"
	"nftLend/internal/oracle"
)

type quoteOutput struct {
	Collection string `json:"collection"`
	Price      string `json:"price"`
	PriceWei   string `json:"price_wei"`
	Deadline   uint64 `json:"deadline"`
	ChainID    uint64 `json:"chain_id"`
	Oracle     string `json:"oracle"`
	Signature  string `json:"signature,omitempty"`
	Valid      *bool  `json:"valid,omitempty"`
	Error      string `json:"error,omitempty"`
}

// chainView resolves the chain id and current time, preferring the RPC
// endpoint when one is configured.
func chainView(ctx context.Context, rpcURL string, chainID uint64, logger *zap.Logger) (uint64, uint64, error) {
	now := uint64(time.Now().Unix())
	if rpcURL == "" {
		return chainID, now, nil
	}
	client, err := chain.NewClient(ctx, rpcURL)
	if err != nil {
		return 0, 0, fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("chain id: %w", err)
	}
	head, err := client.HeadTime(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("head time: %w", err)
	}
	if id.Uint64() != chainID {
		logger.Warn("chain id from rpc overrides flag",
			zap.Uint64("flag", chainID),
			zap.Uint64("rpc", id.Uint64()),
		)
	}
	return id.Uint64(), head, nil
}

func runSignQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.OracleKey == "" {
		return fmt.Errorf("oracle key is required")
	}
	key, err := crypto.HexToECDSA(cfg.OracleKey)
	if err != nil {
		return fmt.Errorf("parse oracle key: %w", err)
	}
	if !common.IsHexAddress(cfg.Collection) {
		return fmt.Errorf("invalid collection address: %s", cfg.Collection)
	}
	collection := common.HexToAddress(cfg.Collection)
	price, err := interest.ParseWad(cfg.Price)
	if err != nil {
		return fmt.Errorf("parse price: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainID, now, err := chainView(ctx, cfg.RPCURL, cfg.ChainID, logger)
	if err != nil {
		return err
	}
	deadline := cfg.Deadline
	if deadline == 0 {
		deadline = now + uint64(cfg.TTL.Seconds())
	}

	quote, err := oracle.Sign(key, price, deadline, chainID, collection)
	if err != nil {
		return err
	}

	logger.Info("quote signed",
		zap.String("collection", collection.Hex()),
		zap.String("price", price.String()),
		zap.Uint64("deadline", deadline),
		zap.Uint64("chain_id", chainID),
	)

	return printJSON(cmd, quoteOutput{
		Collection: collection.Hex(),
		Price:      interest.FormatWad(price, 18),
		PriceWei:   price.String(),
		Deadline:   deadline,
		ChainID:    chainID,
		Oracle:     crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Signature:  hexutil.Encode(quote.Signature()),
	})
}

func runVerifyQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !common.IsHexAddress(cfg.Oracle) {
		return fmt.Errorf("invalid oracle address: %s", cfg.Oracle)
	}
	if !common.IsHexAddress(cfg.Collection) {
		return fmt.Errorf("invalid collection address: %s", cfg.Collection)
	}
	if cfg.Signature == "" {
		return fmt.Errorf("signature is required")
	}
	oracleAddr := common.HexToAddress(cfg.Oracle)
	collection := common.HexToAddress(cfg.Collection)
	price, err := interest.ParseWad(cfg.Price)
	if err != nil {
		return fmt.Errorf("parse price: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainID, now, err := chainView(ctx, cfg.RPCURL, cfg.ChainID, logger)
	if err != nil {
		return err
	}
	if cfg.Now != 0 {
		now = cfg.Now
	}

	quote, err := oracle.Quote{Price: price, Deadline: cfg.Deadline}.WithSignature(cfg.Signature)
	if err != nil {
		return err
	}

	out := quoteOutput{
		Collection: collection.Hex(),
		Price:      interest.FormatWad(price, 18),
		PriceWei:   price.String(),
		Deadline:   cfg.Deadline,
		ChainID:    chainID,
		Oracle:     oracleAddr.Hex(),
	}
	verr := oracle.Verify(quote, collection, chainID, oracleAddr, now)
	valid := verr == nil
	out.Valid = &valid
	if verr != nil {
		out.Error = verr.Error()
		if signer, rerr := oracle.Recover(quote, collection, chainID); rerr == nil {
			logger.Info("quote rejected", zap.String("signer", signer.Hex()), zap.Error(verr))
		}
	}
	if err := printJSON(cmd, out); err != nil {
		return err
	}
	return verr
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
