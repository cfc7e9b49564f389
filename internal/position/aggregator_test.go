package position

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"delex/internal/model"
)

var (
	account = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	tokenA  = common.HexToAddress("0x14070c3D2567938F797De6F7ed21a58990586080")
	tokenB  = common.HexToAddress("0xDf7d6E11E069Bc19CDDB4Ad008aA6DC8607f40f9")
	pool1   = common.HexToHash("0x01")
	pool2   = common.HexToHash("0x02")
	pool3   = common.HexToHash("0x03")
)

var tokens = []model.TokenMeta{
	{Symbol: "TKNA", Address: tokenA, Decimals: 18},
	{Symbol: "TKNB", Address: tokenB, Decimals: 18},
}

type fakeSource struct {
	balances   map[common.Address]*big.Int
	balanceErr error
	shares     map[common.Hash]*big.Int
	positions  map[common.Hash]model.Position
	failPool   common.Hash
	reads      atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		balances: map[common.Address]*big.Int{tokenA: big.NewInt(10), tokenB: big.NewInt(20)},
		shares:   map[common.Hash]*big.Int{pool1: big.NewInt(5)},
		positions: map[common.Hash]model.Position{
			pool1: {CollateralA: big.NewInt(100), BorrowedB: big.NewInt(50)},
			pool2: {CollateralA: big.NewInt(0), CollateralB: big.NewInt(0), BorrowedA: big.NewInt(0), BorrowedB: big.NewInt(0)},
		},
	}
}

func (f *fakeSource) BalanceOf(_ context.Context, token, _ common.Address) (*big.Int, error) {
	f.reads.Add(1)
	if f.balanceErr != nil && token == tokenB {
		return nil, f.balanceErr
	}
	return f.balances[token], nil
}

func (f *fakeSource) UserShares(_ context.Context, id common.Hash, _ common.Address) (*big.Int, error) {
	f.reads.Add(1)
	if id == f.failPool {
		return nil, errors.New("shares unavailable")
	}
	if s, ok := f.shares[id]; ok {
		return s, nil
	}
	return new(big.Int), nil
}

func (f *fakeSource) GetUserPosition(_ context.Context, _ common.Address, id common.Hash) (model.Position, error) {
	f.reads.Add(1)
	if id == f.failPool {
		return model.Position{}, errors.New("position unavailable")
	}
	return f.positions[id], nil
}

func snapshot(gen uint64) *model.Snapshot {
	return &model.Snapshot{
		Generation: gen,
		Pools:      []model.Pool{{ID: pool1}, {ID: pool2}, {ID: pool3}},
	}
}

func TestAggregateOmitsEmptyPositions(t *testing.T) {
	src := newFakeSource()
	agg := NewAggregator(2, zap.NewNop())

	p, err := agg.Aggregate(context.Background(), src, snapshot(1), account, tokens)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if p.Account != account || p.Generation != 1 {
		t.Fatalf("unexpected key: %s %d", p.Account.Hex(), p.Generation)
	}
	if p.Balances["TKNA"].Int64() != 10 || p.Balances["TKNB"].Int64() != 20 {
		t.Fatalf("unexpected balances: %v", p.Balances)
	}
	if len(p.Liquidity) != 1 || p.Liquidity[0].PoolID != pool1 {
		t.Fatalf("unexpected liquidity: %+v", p.Liquidity)
	}

	if len(p.Positions) != 1 {
		t.Fatalf("expected one position, got %d", len(p.Positions))
	}
	entry := p.Positions[0]
	if entry.Position.PoolID != pool1 || entry.Position.Account != account {
		t.Fatalf("unexpected position: %+v", entry.Position)
	}
	if entry.Health.Uncapped || entry.Health.Value.String() != "1500000000000000000" {
		t.Fatalf("unexpected health: %+v", entry.Health)
	}
}

func TestAggregateCachesByAccountAndGeneration(t *testing.T) {
	src := newFakeSource()
	agg := NewAggregator(4, zap.NewNop())

	first, err := agg.Aggregate(context.Background(), src, snapshot(1), account, tokens)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	reads := src.reads.Load()

	again, err := agg.Aggregate(context.Background(), src, snapshot(1), account, tokens)
	if err != nil {
		t.Fatalf("aggregate again: %v", err)
	}
	if again != first || src.reads.Load() != reads {
		t.Fatalf("same key must be served from cache")
	}

	next, err := agg.Aggregate(context.Background(), src, snapshot(2), account, tokens)
	if err != nil {
		t.Fatalf("aggregate next: %v", err)
	}
	if next == first {
		t.Fatalf("new generation must recompute")
	}
	if got := src.reads.Load(); got != 2*reads {
		t.Fatalf("expected a full re-read, got %d reads after %d", got, reads)
	}

	other := common.HexToAddress("0xb0b0000000000000000000000000000000000000")
	if _, ok := agg.Cached(other, 2); ok {
		t.Fatalf("other account must miss")
	}

	agg.Invalidate()
	if _, ok := agg.Cached(account, 2); ok {
		t.Fatalf("invalidate must drop the cache")
	}
}

func TestAggregateBalanceFailureIsFatal(t *testing.T) {
	src := newFakeSource()
	src.balanceErr = errors.New("rpc down")
	agg := NewAggregator(4, zap.NewNop())

	_, err := agg.Aggregate(context.Background(), src, snapshot(1), account, tokens)
	if !errors.Is(err, src.balanceErr) {
		t.Fatalf("expected balance error, got %v", err)
	}
	if _, ok := agg.Cached(account, 1); ok {
		t.Fatalf("failed aggregation must not be cached")
	}
}

func TestAggregatePoolFailureIsExcluded(t *testing.T) {
	src := newFakeSource()
	src.failPool = pool1
	agg := NewAggregator(4, zap.NewNop())

	p, err := agg.Aggregate(context.Background(), src, snapshot(1), account, tokens)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(p.Positions) != 0 || len(p.Liquidity) != 0 {
		t.Fatalf("failed pool must be excluded: %+v %+v", p.Positions, p.Liquidity)
	}
	if len(p.Balances) != 2 {
		t.Fatalf("unexpected balances: %v", p.Balances)
	}
}

func TestAggregateRequiresSnapshot(t *testing.T) {
	if _, err := NewAggregator(1, nil).Aggregate(context.Background(), newFakeSource(), nil, account, tokens); err == nil {
		t.Fatalf("expected error without snapshot")
	}
}
