package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != DefaultChainID {
		t.Fatalf("chain id mismatch: %d", cfg.ChainID)
	}
	if cfg.SlippageBps != 500 {
		t.Fatalf("slippage default mismatch: %d", cfg.SlippageBps)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Fatalf("poll interval mismatch: %s", cfg.PollInterval)
	}
	if len(cfg.Tokens) != 2 {
		t.Fatalf("expected default tokens, got %v", cfg.Tokens)
	}
	if len(cfg.RPCURLs()) == 0 {
		t.Fatalf("expected fallback rpc urls")
	}
}

func TestLoadFlagsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "delex.yaml")
	content := []byte("chain-id: 31337\nrpc: http://127.0.0.1:8545\ntokens:\n  - usdc=0x1111111111111111111111111111111111111111\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Uint64("slippage-bps", 500, "")
	if err := flags.Parse([]string{"--slippage-bps=100"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != 31337 {
		t.Fatalf("chain id mismatch: %d", cfg.ChainID)
	}
	if cfg.SlippageBps != 100 {
		t.Fatalf("flag should win: %d", cfg.SlippageBps)
	}
	if urls := cfg.RPCURLs(); urls[0] != "http://127.0.0.1:8545" {
		t.Fatalf("primary rpc should come first: %v", urls)
	}

	tokens, err := ParseTokens(cfg.Tokens)
	if err != nil {
		t.Fatalf("parse tokens: %v", err)
	}
	if len(tokens) != 1 || tokens[0].Symbol != "USDC" {
		t.Fatalf("token mismatch: %+v", tokens)
	}
}

func TestValidateRejectsSlippage(t *testing.T) {
	cfg := Config{
		ChainID:        1,
		RPCURL:         "http://localhost:8545",
		SlippageBps:    10_000,
		MaxConcurrency: 1,
		CallTimeout:    time.Second,
		Exchange:       DefaultExchange,
		Tokens:         defaultTokens,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected slippage error")
	}
}

func TestParseTokensErrors(t *testing.T) {
	if _, err := ParseTokens([]string{"TKNA"}); err == nil {
		t.Fatalf("expected error for missing address")
	}
	if _, err := ParseTokens([]string{"A=0x1111111111111111111111111111111111111111", "a=0x2222222222222222222222222222222222222222"}); err == nil {
		t.Fatalf("expected error for duplicate symbol")
	}
	if _, err := ParseTokens([]string{"A=0xnothex"}); err == nil {
		t.Fatalf("expected error for bad address")
	}
	if _, err := ParseTokens(nil); err == nil {
		t.Fatalf("expected error for empty token list")
	}
}
