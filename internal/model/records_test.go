package model

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestSnapshotRecordStringAmounts(t *testing.T) {
	huge, _ := new(big.Int).SetString("1000000000000000000000000000000", 10)
	snap := &Snapshot{
		Generation: 7,
		FetchedAt:  time.Unix(1700000000, 0),
		FetchedAtSession: Session{
			Account:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
			HasAccount: true,
			ChainID:    11155111,
			HasChain:   true,
			Connected:  true,
		},
		Pools: []Pool{{
			ID:       common.HexToHash("0x01"),
			TokenA:   common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
			TokenB:   common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
			ReserveA: huge,
		}},
	}

	rec := NewSnapshotRecord(snap)
	if rec.ChainID != 11155111 || rec.Generation != 7 {
		t.Fatalf("header mismatch: %+v", rec)
	}
	if len(rec.Pools) != 1 {
		t.Fatalf("expected one pool, got %d", len(rec.Pools))
	}
	if rec.Pools[0].ReserveA != huge.String() {
		t.Fatalf("reserve mismatch: %s", rec.Pools[0].ReserveA)
	}
	if rec.Pools[0].ReserveB != "0" {
		t.Fatalf("nil reserve should encode as 0, got %q", rec.Pools[0].ReserveB)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	pools, ok := decoded["pools"].([]interface{})
	if !ok || len(pools) != 1 {
		t.Fatalf("pools missing")
	}
	if _, ok := pools[0].(map[string]interface{})["reserve_a"].(string); !ok {
		t.Fatalf("reserve_a should be string")
	}
}

func TestPositionIsEmpty(t *testing.T) {
	if !(Position{}).IsEmpty() {
		t.Fatalf("zero position should be empty")
	}
	p := Position{CollateralA: big.NewInt(0), BorrowedB: big.NewInt(1)}
	if p.IsEmpty() {
		t.Fatalf("position with debt should not be empty")
	}
}

func TestPoolSideLookup(t *testing.T) {
	a := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	b := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	p := Pool{TokenA: a, TokenB: b}

	if side, ok := p.SideOf(b); !ok || side != SideB {
		t.Fatalf("token b side mismatch")
	}
	if _, ok := p.SideOf(common.Address{}); ok {
		t.Fatalf("unknown token should not resolve")
	}
	if !p.HasPair(b, a) {
		t.Fatalf("pair lookup should be order-insensitive")
	}
	if p.Reserve(SideA).Sign() != 0 {
		t.Fatalf("nil reserve should read as zero")
	}
}
