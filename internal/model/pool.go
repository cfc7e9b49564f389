package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Side selects one of the two tokens of a pool.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideB {
		return "B"
	}
	return "A"
}

// Pool is the state of one two-token trading/lending market as reported by
// getPoolInfo. Amounts are raw 18-decimal integers.
//
// TotalBorrowedX <= ReserveX is expected but not enforced by the service, so
// nothing in this module relies on it.
type Pool struct {
	ID             common.Hash
	TokenA         common.Address
	TokenB         common.Address
	ReserveA       *big.Int
	ReserveB       *big.Int
	TotalLiquidity *big.Int
	TotalBorrowedA *big.Int
	TotalBorrowedB *big.Int
	InterestRateA  *big.Int
	InterestRateB  *big.Int
}

// Reserve returns the reserve for a side, never nil.
func (p Pool) Reserve(side Side) *big.Int {
	if side == SideB {
		return orZero(p.ReserveB)
	}
	return orZero(p.ReserveA)
}

// Borrowed returns the outstanding borrow for a side, never nil.
func (p Pool) Borrowed(side Side) *big.Int {
	if side == SideB {
		return orZero(p.TotalBorrowedB)
	}
	return orZero(p.TotalBorrowedA)
}

// InterestRate returns the interest rate for a side, never nil.
func (p Pool) InterestRate(side Side) *big.Int {
	if side == SideB {
		return orZero(p.InterestRateB)
	}
	return orZero(p.InterestRateA)
}

// Token returns the token address for a side.
func (p Pool) Token(side Side) common.Address {
	if side == SideB {
		return p.TokenB
	}
	return p.TokenA
}

// SideOf reports which side token sits on.
func (p Pool) SideOf(token common.Address) (Side, bool) {
	switch token {
	case p.TokenA:
		return SideA, true
	case p.TokenB:
		return SideB, true
	default:
		return SideA, false
	}
}

// HasPair reports whether the pool trades x against y in either order.
func (p Pool) HasPair(x, y common.Address) bool {
	return (p.TokenA == x && p.TokenB == y) || (p.TokenA == y && p.TokenB == x)
}

// Clone returns a deep copy so snapshots never share big.Int pointers.
func (p Pool) Clone() Pool {
	out := p
	out.ReserveA = cloneInt(p.ReserveA)
	out.ReserveB = cloneInt(p.ReserveB)
	out.TotalLiquidity = cloneInt(p.TotalLiquidity)
	out.TotalBorrowedA = cloneInt(p.TotalBorrowedA)
	out.TotalBorrowedB = cloneInt(p.TotalBorrowedB)
	out.InterestRateA = cloneInt(p.InterestRateA)
	out.InterestRateB = cloneInt(p.InterestRateB)
	return out
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
