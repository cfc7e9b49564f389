package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"delex/internal/failure"
	"delex/internal/model"
	"delex/internal/orchestrator"
)

func TestParsePoolID(t *testing.T) {
	want := common.HexToHash("0x01")
	for _, in := range []string{"0x01", "1", "0x1", " 01 "} {
		got, err := parsePoolID(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s", in, got.Hex())
		}
	}
	for _, in := range []string{"", "0x", "0xzz", "0x" + strings.Repeat("ab", 33)} {
		if _, err := parsePoolID(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestResolveToken(t *testing.T) {
	tokenA := common.HexToAddress("0x14070c3D2567938F797De6F7ed21a58990586080")
	e := &env{tokens: []model.TokenMeta{{Symbol: "TKNA", Address: tokenA}}}

	got, err := e.resolveToken("tkna")
	if err != nil || got != tokenA {
		t.Fatalf("symbol lookup: got %s err %v", got.Hex(), err)
	}
	got, err = e.resolveToken(tokenA.Hex())
	if err != nil || got != tokenA {
		t.Fatalf("address lookup: got %s err %v", got.Hex(), err)
	}
	if _, err := e.resolveToken("TKNZ"); err == nil {
		t.Fatalf("expected unknown symbol error")
	}
	if got := e.symbol(tokenA); got != "TKNA" {
		t.Fatalf("symbol: got %s", got)
	}
}

func TestDescribeFailure(t *testing.T) {
	err := describeFailure(failure.Reverted(orchestrator.ReasonPoolExists, nil))
	if err.Error() != "a pool for this token pair already exists" {
		t.Fatalf("unexpected message: %v", err)
	}

	err = describeFailure(failure.New(failure.WrongNetwork, "switch chain", nil))
	if !errors.Is(err, failure.ErrWrongNetwork) {
		t.Fatalf("expected wrapped WrongNetwork, got %v", err)
	}

	plain := errors.New("plain")
	if describeFailure(plain) != plain {
		t.Fatalf("unclassified errors must pass through")
	}
}

func TestIntentCommandsRegistered(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"pools", "positions", "quote", "debug", "watch", "swap", "add-liquidity",
		"remove-liquidity", "create-pool", "deposit", "borrow", "repay", "withdraw", "faucet"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %s not registered: %v", name, err)
		}
	}
}
