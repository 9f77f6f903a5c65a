package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func simulateFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
	flags.String("in", "", "")
	flags.String("out", "", "")
	flags.String("kafka-brokers", "", "")
	flags.String("rpc", "", "")
	flags.String("oracle-feed", "", "")
	flags.Int("max-retries", 0, "")
	if err := flags.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return flags
}

func TestLoadSimulatePrecedence(t *testing.T) {
	t.Setenv("ENGINE_OUT", "env.jsonl")
	t.Setenv("ENGINE_KAFKA_BROKERS", "a:9092, ,b:9092")
	t.Setenv("ENGINE_MAX_RETRIES", "7")

	cfg, err := LoadSimulate("", simulateFlags(t, "--in", "ops.jsonl", "--max-retries", "2"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Input != "ops.jsonl" || cfg.Out != "env.jsonl" {
		t.Fatalf("unexpected paths: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.MaxRetries != 2 {
		t.Fatalf("flag should win over env, got %d", cfg.MaxRetries)
	}
	if cfg.KafkaTopic != "engine-events" || cfg.RedisTTL != 10*time.Minute || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadSimulateValidation(t *testing.T) {
	if _, err := LoadSimulate("", simulateFlags(t)); err == nil {
		t.Fatalf("expected missing input error")
	}
	if _, err := LoadSimulate("", simulateFlags(t, "--in", "ops.jsonl", "--oracle-feed", "0x01")); err == nil {
		t.Fatalf("expected oracle feed without rpc error")
	}
}

func TestLoadAggregateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `in: events.jsonl
pg-dsn: postgres://localhost/engine
window: 1m
recompute-from: "1970-01-01T00:01:40Z"
token-decimals:
  "0x1000000000000000000000000000000000000001": 6
  "0x2000000000000000000000000000000000000002": 18
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadAggregate(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Window != time.Minute || cfg.RecomputeFrom != 100 || cfg.BatchSize != 1000 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.TokenDecimals["0x1000000000000000000000000000000000000001"] != "6" || len(cfg.TokenDecimals) != 2 {
		t.Fatalf("unexpected decimals: %v", cfg.TokenDecimals)
	}
}

func TestLoadAggregateFromEnv(t *testing.T) {
	t.Setenv("ENGINE_IN", "events.jsonl")
	t.Setenv("ENGINE_PG_DSN", "postgres://localhost/engine")
	t.Setenv("ENGINE_TOKEN_DECIMALS", "0xaa=6, 0xbb = 18,broken")
	t.Setenv("ENGINE_RECOMPUTE_FROM", "3600")

	cfg, err := LoadAggregate("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Window != 5*time.Minute || cfg.RecomputeFrom != 3600 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.TokenDecimals) != 2 || cfg.TokenDecimals["0xbb"] != "18" {
		t.Fatalf("unexpected decimals: %v", cfg.TokenDecimals)
	}

	t.Setenv("ENGINE_WINDOW", "1500ms")
	if _, err := LoadAggregate("", nil); err == nil {
		t.Fatalf("expected fractional window error")
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "42", want: 42},
		{in: "2024-01-01T00:00:00Z", want: 1704067200},
		{in: "yesterday", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %d err %v, want %d", tc.in, got, err, tc.want)
		}
	}
}
