package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "delex",
		Short:        "Client for the DeLex exchange and lending service",
		SilenceUsage: true,
	}

	// Zero flag defaults leave the defaults to config.Load.
	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("rpc", "", "primary RPC URL")
	flags.StringSlice("rpc-fallback", nil, "fallback RPC URLs (comma-separated)")
	flags.Uint64("chain-id", 0, "required chain id (default 11155111)")
	flags.String("chain-name", "", "chain name offered to the wallet")
	flags.String("explorer", "", "block explorer base URL")
	flags.String("exchange", "", "exchange/lending service address")
	flags.StringSlice("tokens", nil, "tokens as SYMBOL=0xaddress (comma-separated)")
	flags.String("private-key", "", "hex private key")
	flags.String("keystore", "", "keystore JSON file")
	flags.String("keystore-password", "", "keystore password")
	flags.Duration("call-timeout", 0, "per-call timeout (default 15s)")
	flags.Duration("confirm-timeout", 0, "receipt wait timeout (default 3m)")
	flags.Duration("poll-interval", 0, "pool refresh interval (default 15s)")
	flags.Int("max-concurrency", 0, "concurrent pool reads (default 8)")
	flags.Float64("rpc-rate", 0, "RPC requests per second (default 20)")
	flags.Int("rpc-burst", 0, "RPC burst (default 10)")
	flags.Int("max-retries", 0, "read retry attempts (default 3)")
	flags.Duration("retry-backoff", 0, "initial read retry backoff (default 500ms)")
	flags.Uint64("slippage-bps", 0, "swap slippage tolerance in basis points (default 500)")
	flags.String("out", "", "JSONL journal path")
	flags.String("pg-dsn", "", "Postgres DSN for the journal")
	flags.String("state-file", "", "local state file for generation tracking")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newPoolsCmd(),
		newPositionsCmd(),
		newQuoteCmd(),
		newDebugCmd(),
		newWatchCmd(),
	)
	root.AddCommand(newIntentCmds()...)
	return root
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

const readyPollInterval = 100 * time.Millisecond
