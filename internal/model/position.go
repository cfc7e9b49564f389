package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position is an account's collateral and debt in one pool.
type Position struct {
	Account     common.Address
	PoolID      common.Hash
	CollateralA *big.Int
	CollateralB *big.Int
	BorrowedA   *big.Int
	BorrowedB   *big.Int
}

// IsEmpty reports whether every field is zero; empty positions are not
// meaningful and are never retained.
func (p Position) IsEmpty() bool {
	for _, v := range []*big.Int{p.CollateralA, p.CollateralB, p.BorrowedA, p.BorrowedB} {
		if v != nil && v.Sign() != 0 {
			return false
		}
	}
	return true
}

// TotalCollateral sums both collateral sides 1:1.
func (p Position) TotalCollateral() *big.Int {
	return new(big.Int).Add(orZero(p.CollateralA), orZero(p.CollateralB))
}

// TotalBorrowed sums both borrow sides 1:1.
func (p Position) TotalBorrowed() *big.Int {
	return new(big.Int).Add(orZero(p.BorrowedA), orZero(p.BorrowedB))
}

// LiquidityShare is an account's LP share balance in one pool.
type LiquidityShare struct {
	PoolID common.Hash
	Shares *big.Int
}

// Balance maps token symbol to the raw balance of the active account.
type Balance map[string]*big.Int
