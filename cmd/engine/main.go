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
		Use:          "engine",
		Short:        "Concentrated liquidity engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a JSONL scenario of operations against the engine",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("in", "", "input operations JSONL")
	simulateCmd.Flags().String("out", "./data/events.jsonl", "output engine events JSONL (empty disables)")
	simulateCmd.Flags().String("pg-dsn", "", "Postgres DSN for pool state and events")
	simulateCmd.Flags().String("redis-addr", "", "Redis address for pool snapshots")
	simulateCmd.Flags().String("redis-password", "", "Redis password")
	simulateCmd.Flags().Int("redis-db", 0, "Redis database")
	simulateCmd.Flags().Duration("redis-ttl", 10*time.Minute, "pool snapshot TTL")
	simulateCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers (comma-separated)")
	simulateCmd.Flags().String("kafka-topic", "engine-events", "Kafka topic for engine events")
	simulateCmd.Flags().String("rpc", "", "RPC URL for the oracle price feed")
	simulateCmd.Flags().String("oracle-feed", "", "AggregatorV3 price feed address")
	simulateCmd.Flags().Bool("stop-on-error", false, "abort on the first failing operation")
	simulateCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	simulateCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate engine events into window metrics",
		RunE:  runAggregate,
	}

	aggregateCmd.Flags().String("in", "", "input engine events JSONL")
	aggregateCmd.Flags().String("window", "5m", "aggregation window (e.g. 1m, 5m, 1h)")
	aggregateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	aggregateCmd.Flags().Int("batch-size", 1000, "batch size for DB writes")
	aggregateCmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	aggregateCmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	aggregateCmd.Flags().String("token-decimals", "", "token decimals by mint (comma-separated mint=decimals)")
	aggregateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(aggregateCmd)

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

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
