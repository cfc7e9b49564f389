package quote

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"delex/internal/model"
)

// Stats are totals across a snapshot.
type Stats struct {
	TotalTVL      *big.Int
	TotalBorrowed *big.Int
	PoolCount     int
}

// SnapshotStats sums TVL and borrows across every pool.
func SnapshotStats(snap *model.Snapshot) Stats {
	st := Stats{TotalTVL: new(big.Int), TotalBorrowed: new(big.Int)}
	if snap == nil {
		return st
	}
	for _, p := range snap.Pools {
		st.TotalTVL.Add(st.TotalTVL, TVL(p))
		st.TotalBorrowed.Add(st.TotalBorrowed, p.Borrowed(model.SideA))
		st.TotalBorrowed.Add(st.TotalBorrowed, p.Borrowed(model.SideB))
	}
	st.PoolCount = len(snap.Pools)
	return st
}

// Tier buckets pools by TVL.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	default:
		return "low"
	}
}

var (
	highTVL   = new(big.Int).Mul(big.NewInt(1000), WAD)
	mediumTVL = new(big.Int).Mul(big.NewInt(100), WAD)
)

// LiquidityTier is High above 1000 tokens of TVL, Medium above 100.
func LiquidityTier(pool model.Pool) Tier {
	tvl := TVL(pool)
	switch {
	case tvl.Cmp(highTVL) > 0:
		return TierHigh
	case tvl.Cmp(mediumTVL) > 0:
		return TierMedium
	default:
		return TierLow
	}
}

// Filter selects pools for listing.
type Filter string

const (
	FilterAll           Filter = "all"
	FilterHighLiquidity Filter = "high-liquidity"
)

// SortKey orders pools for listing.
type SortKey string

const (
	SortTVL SortKey = "tvl"
	SortAPY SortKey = "apy"
	SortID  SortKey = "id"
)

// ParseFilter validates a filter name.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterHighLiquidity:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// ParseSortKey validates a sort key.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "", SortTVL:
		return SortTVL, nil
	case SortAPY, SortID:
		return k, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", s)
	}
}

// FilterPools returns the pools matching f. High liquidity means more than
// 100 tokens of TVL.
func FilterPools(pools []model.Pool, f Filter) []model.Pool {
	out := make([]model.Pool, 0, len(pools))
	for _, p := range pools {
		if f == FilterHighLiquidity && TVL(p).Cmp(mediumTVL) <= 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// SortPools returns a sorted copy. TVL and APY sort descending, APY by the
// higher of the two sides; ties fall back to pool id.
func SortPools(pools []model.Pool, key SortKey) []model.Pool {
	out := append([]model.Pool(nil), pools...)
	byID := func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 }

	sort.SliceStable(out, func(i, j int) bool {
		switch key {
		case SortTVL:
			if c := TVL(out[i]).Cmp(TVL(out[j])); c != 0 {
				return c > 0
			}
		case SortAPY:
			if c := maxAPY(out[i]).Cmp(maxAPY(out[j])); c != 0 {
				return c > 0
			}
		}
		return byID(i, j)
	})
	return out
}

func maxAPY(p model.Pool) *big.Int {
	a, b := p.InterestRate(model.SideA), p.InterestRate(model.SideB)
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// FindPool returns the pool trading x against y in either order.
func FindPool(snap *model.Snapshot, x, y common.Address) (model.Pool, bool) {
	if snap == nil {
		return model.Pool{}, false
	}
	for _, p := range snap.Pools {
		if p.HasPair(x, y) {
			return p, true
		}
	}
	return model.Pool{}, false
}
