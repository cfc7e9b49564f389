package quote

import (
	"math/big"

	"delex/internal/model"
)

// CollateralFactorPercent is the share of collateral value that may back a
// loan.
const CollateralFactorPercent = 75

var (
	hundred     = big.NewInt(100)
	hundredWAD  = new(big.Int).Mul(hundred, WAD)
	collateralF = big.NewInt(CollateralFactorPercent)
)

// Utilization returns borrowed/reserve*100 for one side as a WAD percentage
// capped at 100. It is 0 when the reserve is 0.
func Utilization(pool model.Pool, side model.Side) *big.Int {
	reserve := pool.Reserve(side)
	borrowed := pool.Borrowed(side)
	if reserve.Sign() <= 0 || borrowed.Sign() <= 0 {
		return new(big.Int)
	}
	u := new(big.Int).Mul(borrowed, hundredWAD)
	u.Quo(u, reserve)
	if u.Cmp(hundredWAD) > 0 {
		u.Set(hundredWAD)
	}
	return u
}

// BorrowAPY returns the service's interest rate for one side. The service
// reports it as an 18-decimal percentage, so it is already a WAD percent.
func BorrowAPY(pool model.Pool, side model.Side) *big.Int {
	return new(big.Int).Set(pool.InterestRate(side))
}

// TVL sums both reserves 1:1. Tokens are not price weighted; this matches the
// service's own dashboard and is a known limitation.
func TVL(pool model.Pool) *big.Int {
	return new(big.Int).Add(pool.Reserve(model.SideA), pool.Reserve(model.SideB))
}

// HealthFactor is collateral*0.75/borrowed in WAD. Uncapped is set when
// nothing is borrowed; Value is nil in that case.
type HealthFactor struct {
	Value    *big.Int
	Uncapped bool
}

// Liquidatable reports whether the position is below 1.0.
func (h HealthFactor) Liquidatable() bool {
	return !h.Uncapped && h.Value != nil && h.Value.Cmp(WAD) < 0
}

// Health computes the health factor of a position. Collateral and debt are
// summed across both tokens 1:1, like TVL.
func Health(pos model.Position) HealthFactor {
	borrowed := pos.TotalBorrowed()
	if borrowed.Sign() <= 0 {
		return HealthFactor{Uncapped: true}
	}
	v := new(big.Int).Mul(pos.TotalCollateral(), collateralF)
	v.Mul(v, WAD)
	v.Quo(v, new(big.Int).Mul(hundred, borrowed))
	return HealthFactor{Value: v}
}
