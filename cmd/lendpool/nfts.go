package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nftLend/internal/chain"
	"nftLend/internal/config"
	"nftLend/internal/nft"
)

type ownedOutput struct {
	Collection string   `json:"collection"`
	Name       string   `json:"name"`
	Symbol     string   `json:"symbol"`
	Owner      string   `json:"owner"`
	Tokens     []string `json:"tokens"`
}

func runListNFTs(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadNFTs(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !common.IsHexAddress(cfg.Collection) {
		return fmt.Errorf("invalid collection address: %s", cfg.Collection)
	}
	if !common.IsHexAddress(cfg.Owner) {
		return fmt.Errorf("invalid owner address: %s", cfg.Owner)
	}
	collection := common.HexToAddress(cfg.Collection)
	owner := common.HexToAddress(cfg.Owner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	scanner := nft.NewScanner(chainClient, nft.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBackoff,
		MaxDelay:   nft.DefaultRetryPolicy.MaxDelay,
	}, logger)

	logger.Info("list nfts start",
		zap.String("collection", collection.Hex()),
		zap.String("owner", owner.Hex()),
		zap.Uint64("from", cfg.From),
		zap.Uint64("to", cfg.To),
		zap.Uint64("page_size", cfg.PageSize),
	)

	meta, err := scanner.FetchMeta(ctx, collection)
	if err != nil {
		logger.Warn("fetch collection meta", zap.Error(err))
	}
	tokens, err := scanner.Scan(ctx, collection, owner, cfg.From, cfg.To, cfg.PageSize)
	if err != nil {
		return fmt.Errorf("scan owned tokens: %w", err)
	}

	ids := make([]string, 0, len(tokens))
	for _, id := range tokens {
		ids = append(ids, id.String())
	}
	return printJSON(cmd, ownedOutput{
		Collection: collection.Hex(),
		Name:       meta.Name,
		Symbol:     meta.Symbol,
		Owner:      owner.Hex(),
		Tokens:     ids,
	})
}
