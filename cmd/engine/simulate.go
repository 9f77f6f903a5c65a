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

	"liquidityEngine/internal/chain"
	"liquidityEngine/internal/config"
	"liquidityEngine/internal/engine"
	"liquidityEngine/internal/oracle"
	"liquidityEngine/internal/simulate"
	"liquidityEngine/internal/storage"
	"liquidityEngine/internal/storage/kafka"
	"liquidityEngine/internal/storage/postgres"
	"liquidityEngine/internal/storage/redis"
	"liquidityEngine/internal/transfer"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sinks storage.MultiSink
	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
	}

	runCfg := simulate.RunConfig{
		StopOnError:  cfg.StopOnError,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		runCfg.Store = store
		sinks = append(sinks, store)
	}

	if cfg.RedisAddr != "" {
		client, err := redis.Dial(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		runCfg.Cache = redis.NewCache(client, cfg.RedisTTL, logger)
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	if cfg.OracleFeed != "" {
		if !common.IsHexAddress(cfg.OracleFeed) {
			return fmt.Errorf("invalid oracle feed address: %s", cfg.OracleFeed)
		}
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()

		chainID, err := chainClient.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("get chain id: %w", err)
		}
		feed := oracle.NewChainlinkFeed(chainClient, common.HexToAddress(cfg.OracleFeed), cfg.MaxRetries, cfg.RetryBackoff, logger)
		price, err := feed.LatestPrice(ctx)
		if err != nil {
			return fmt.Errorf("read oracle feed: %w", err)
		}
		head, err := chainClient.LatestBlockTime(ctx)
		if err != nil {
			return fmt.Errorf("read head block: %w", err)
		}
		var lag uint64
		if head > price.PublishTime {
			lag = head - price.PublishTime
		}
		logger.Info("oracle feed connected",
			zap.String("feed", cfg.OracleFeed),
			zap.String("chain_id", chainID.String()),
			zap.Int64("mantissa", price.Mantissa),
			zap.Int32("exponent", price.Exponent),
			zap.Uint64("lag_seconds", lag),
		)
		runCfg.Feed = feed
	}

	ledger := transfer.NewLedger(logger)
	eng := engine.New(ledger, sinks, logger)
	runner := simulate.NewRunner(runCfg, eng, ledger, logger)

	logger.Info("simulate start",
		zap.String("input", cfg.Input),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.Bool("stop_on_error", cfg.StopOnError),
	)

	_, err = runner.Run(ctx, cfg.Input)
	return err
}
