package quote

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"delex/internal/model"
)

var (
	tokenA = common.HexToAddress("0x14070c3D2567938F797De6F7ed21a58990586080")
	tokenB = common.HexToAddress("0xDf7d6E11E069Bc19CDDB4Ad008aA6DC8607f40f9")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), WAD)
}

func pool(reserveA, reserveB *big.Int) model.Pool {
	return model.Pool{
		ID:       common.HexToHash("0x01"),
		TokenA:   tokenA,
		TokenB:   tokenB,
		ReserveA: reserveA,
		ReserveB: reserveB,
	}
}

func TestQuoteSwapScenario(t *testing.T) {
	out, err := QuoteSwap(pool(ether(1000), ether(1000)), tokenA, ether(100))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	low, _ := new(big.Int).SetString("90660000000000000000", 10)
	high, _ := new(big.Int).SetString("90670000000000000000", 10)
	if out.Cmp(low) < 0 || out.Cmp(high) >= 0 {
		t.Fatalf("expected ~90.66e18, got %s", out)
	}
	if got := FormatFixed(out, 18, 2); got != "90.66" {
		t.Fatalf("formatted quote mismatch: %s", got)
	}
}

func TestQuoteSwapDirection(t *testing.T) {
	p := pool(ether(1000), ether(4000))
	outB, err := QuoteSwap(p, tokenA, ether(1))
	if err != nil {
		t.Fatalf("quote a->b: %v", err)
	}
	outA, err := QuoteSwap(p, tokenB, ether(1))
	if err != nil {
		t.Fatalf("quote b->a: %v", err)
	}
	if outB.Cmp(outA) <= 0 {
		t.Fatalf("selling the scarce token should pay more: %s <= %s", outB, outA)
	}
}

func TestQuoteSwapEdges(t *testing.T) {
	p := pool(ether(10), ether(10))
	for _, amount := range []*big.Int{nil, big.NewInt(0)} {
		out, err := QuoteSwap(p, tokenA, amount)
		if err != nil || out.Sign() != 0 {
			t.Fatalf("zero input should quote 0, got %v %v", out, err)
		}
	}
	for _, empty := range []model.Pool{pool(big.NewInt(0), ether(10)), pool(ether(10), nil)} {
		out, err := QuoteSwap(empty, tokenA, ether(1))
		if err != nil || out.Sign() != 0 {
			t.Fatalf("empty reserve should quote 0, got %v %v", out, err)
		}
	}
	if _, err := QuoteSwap(p, common.HexToAddress("0xdead"), ether(1)); !errors.Is(err, ErrTokenNotInPool) {
		t.Fatalf("expected ErrTokenNotInPool, got %v", err)
	}
	if _, err := QuoteSwap(p, tokenA, big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	if _, err := QuoteSwap(pool(huge, huge), tokenA, huge); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestQuoteSwapFeeAlwaysReducesOutput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	limit := new(big.Int).Mul(big.NewInt(1_000_000), WAD)
	for i := 0; i < 500; i++ {
		rIn := new(big.Int).Add(new(big.Int).Rand(rng, limit), big.NewInt(1))
		rOut := new(big.Int).Add(new(big.Int).Rand(rng, limit), big.NewInt(1))
		in := new(big.Int).Add(new(big.Int).Rand(rng, limit), big.NewInt(1))

		out, err := AmountOut(in, rIn, rOut)
		if err != nil {
			t.Fatalf("amount out: %v", err)
		}
		// out < in*rOut/rIn, compared without division.
		lhs := new(big.Int).Mul(out, rIn)
		rhs := new(big.Int).Mul(in, rOut)
		if lhs.Cmp(rhs) >= 0 {
			t.Fatalf("fee did not reduce output: in=%s rIn=%s rOut=%s out=%s", in, rIn, rOut, out)
		}
		if out.Cmp(rOut) >= 0 {
			t.Fatalf("output drained the pool: %s >= %s", out, rOut)
		}
	}
}

func TestMinReceived(t *testing.T) {
	if got := MinReceived(ether(100), DefaultSlippageBps); got.Cmp(ether(95)) != 0 {
		t.Fatalf("5%% slippage mismatch: %s", got)
	}
	if got := MinReceived(ether(100), 0); got.Cmp(ether(100)) != 0 {
		t.Fatalf("zero slippage should keep amount: %s", got)
	}
	if got := MinReceived(ether(100), BpsDenominator); got.Sign() != 0 {
		t.Fatalf("full slippage should be 0: %s", got)
	}
}

func TestUtilization(t *testing.T) {
	p := pool(ether(100), big.NewInt(0))
	p.TotalBorrowedA = ether(25)
	p.TotalBorrowedB = ether(5)

	if got := Utilization(p, model.SideA); got.Cmp(ether(25)) != 0 {
		t.Fatalf("expected 25%%, got %s", FormatPercent(got))
	}
	if got := Utilization(p, model.SideB); got.Sign() != 0 {
		t.Fatalf("zero reserve must give 0, got %s", got)
	}

	p.TotalBorrowedA = ether(500)
	if got := Utilization(p, model.SideA); got.Cmp(ether(100)) != 0 {
		t.Fatalf("utilization must cap at 100, got %s", got)
	}
}

func TestUtilizationRange(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		p := pool(big.NewInt(rng.Int63n(1000)), big.NewInt(rng.Int63n(1000)))
		p.TotalBorrowedA = big.NewInt(rng.Int63n(2000))
		p.TotalBorrowedB = big.NewInt(rng.Int63n(2000))
		for _, side := range []model.Side{model.SideA, model.SideB} {
			u := Utilization(p, side)
			if u.Sign() < 0 || u.Cmp(ether(100)) > 0 {
				t.Fatalf("utilization out of range: %s", u)
			}
			if p.Reserve(side).Sign() == 0 && u.Sign() != 0 {
				t.Fatalf("zero reserve must give 0")
			}
		}
	}
}

func TestTVLAndAPY(t *testing.T) {
	p := pool(ether(3), ether(4))
	p.InterestRateB = ether(5)
	if got := TVL(p); got.Cmp(ether(7)) != 0 {
		t.Fatalf("tvl mismatch: %s", got)
	}
	if got := BorrowAPY(p, model.SideB); FormatPercent(got) != "5.00%" {
		t.Fatalf("apy mismatch: %s", FormatPercent(got))
	}
	if got := BorrowAPY(p, model.SideA); got.Sign() != 0 {
		t.Fatalf("missing rate should be 0, got %s", got)
	}
}

func TestHealth(t *testing.T) {
	for _, coll := range []*big.Int{nil, big.NewInt(0), ether(10)} {
		h := Health(model.Position{CollateralA: coll})
		if !h.Uncapped || h.Value != nil || h.Liquidatable() {
			t.Fatalf("no debt must be uncapped, got %+v", h)
		}
	}

	h := Health(model.Position{CollateralA: ether(100), CollateralB: ether(100), BorrowedA: ether(100)})
	if h.Uncapped || h.Value.Cmp(new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17))) != 0 {
		t.Fatalf("expected 1.5, got %+v", h)
	}
	if h.Liquidatable() {
		t.Fatalf("1.5 is not liquidatable")
	}

	h = Health(model.Position{CollateralA: ether(100), BorrowedB: ether(80)})
	if !h.Liquidatable() {
		t.Fatalf("0.9375 should be liquidatable, got %s", FormatUnits(h.Value, 18))
	}
}

func TestStatsAndTiers(t *testing.T) {
	high := pool(ether(600), ether(600))
	high.ID = common.HexToHash("0x03")
	high.TotalBorrowedA = ether(1)
	medium := pool(ether(60), ether(60))
	medium.ID = common.HexToHash("0x02")
	medium.InterestRateB = ether(9)
	low := pool(ether(10), ether(10))
	low.ID = common.HexToHash("0x01")
	low.InterestRateA = ether(3)
	snap := &model.Snapshot{Pools: []model.Pool{low, high, medium}}

	st := SnapshotStats(snap)
	if st.PoolCount != 3 || st.TotalTVL.Cmp(ether(1340)) != 0 || st.TotalBorrowed.Cmp(ether(1)) != 0 {
		t.Fatalf("stats mismatch: %+v", st)
	}
	if LiquidityTier(high) != TierHigh || LiquidityTier(medium) != TierMedium || LiquidityTier(low) != TierLow {
		t.Fatalf("tier mismatch")
	}

	filtered := FilterPools(snap.Pools, FilterHighLiquidity)
	if len(filtered) != 2 {
		t.Fatalf("expected 2 high-liquidity pools, got %d", len(filtered))
	}

	byTVL := SortPools(snap.Pools, SortTVL)
	if byTVL[0].ID != high.ID || byTVL[2].ID != low.ID {
		t.Fatalf("tvl sort mismatch")
	}
	byAPY := SortPools(snap.Pools, SortAPY)
	if byAPY[0].ID != medium.ID || byAPY[1].ID != low.ID {
		t.Fatalf("apy sort mismatch")
	}
	byID := SortPools(snap.Pools, SortID)
	if byID[0].ID != low.ID || byID[2].ID != high.ID {
		t.Fatalf("id sort mismatch")
	}
	if snap.Pools[0].ID != low.ID {
		t.Fatalf("sort must not modify its input")
	}

	if _, err := ParseSortKey("volume"); err == nil {
		t.Fatalf("expected unknown sort key error")
	}
	if f, err := ParseFilter(""); err != nil || f != FilterAll {
		t.Fatalf("empty filter should be all")
	}
}

func TestFindPool(t *testing.T) {
	snap := &model.Snapshot{Pools: []model.Pool{pool(ether(1), ether(1))}}
	if _, ok := FindPool(snap, tokenB, tokenA); !ok {
		t.Fatalf("pair lookup should ignore order")
	}
	if _, ok := FindPool(snap, tokenA, common.HexToAddress("0xdead")); ok {
		t.Fatalf("unexpected pool for unknown pair")
	}
	if _, ok := FindPool(nil, tokenA, tokenB); ok {
		t.Fatalf("nil snapshot has no pools")
	}
}

func TestFormatAndParseUnits(t *testing.T) {
	raw, err := ParseUnits("1.5", 18)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if raw.String() != "1500000000000000000" {
		t.Fatalf("parse mismatch: %s", raw)
	}
	if got := FormatUnits(raw, 18); got != "1.5" {
		t.Fatalf("format mismatch: %s", got)
	}
	if got := FormatUnits(nil, 18); got != "0" {
		t.Fatalf("nil should format as 0, got %s", got)
	}
	for _, bad := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		if _, err := ParseUnits(bad, 18); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
