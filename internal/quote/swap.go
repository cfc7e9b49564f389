// Package quote derives prices and risk metrics from a pool snapshot. All
// functions are pure; amounts are raw 18-decimal integers and ratios are
// WAD (1e18) fixed point.
package quote

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"delex/internal/model"
)

// Swap fee of 0.3%, applied as amountIn * 997 / 1000.
const (
	FeeNumerator   = 997
	FeeDenominator = 1000
)

// Slippage is expressed in basis points.
const (
	BpsDenominator     = 10_000
	DefaultSlippageBps = 500
)

var (
	// ErrTokenNotInPool is returned when tokenIn is neither side of the pool.
	ErrTokenNotInPool = errors.New("token is not part of the pool")
	// ErrOverflow is returned when an intermediate product leaves 256 bits,
	// where the contract itself would revert.
	ErrOverflow = errors.New("amount exceeds 256 bits")
	// ErrNegativeAmount is returned for negative inputs.
	ErrNegativeAmount = errors.New("amount must not be negative")
)

var (
	feeNumerator   = uint256.NewInt(FeeNumerator)
	feeDenominator = uint256.NewInt(FeeDenominator)
)

// WAD is 1e18.
var WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// QuoteSwap returns the output amount the constant-product pool pays for
// amountIn of tokenIn:
//
//	amountOut = amountIn*997*reserveOut / (reserveIn*1000 + amountIn*997)
//
// It is 0 when either reserve or amountIn is 0.
func QuoteSwap(pool model.Pool, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	side, ok := pool.SideOf(tokenIn)
	if !ok {
		return nil, ErrTokenNotInPool
	}
	other := model.SideB
	if side == model.SideB {
		other = model.SideA
	}
	return AmountOut(amountIn, pool.Reserve(side), pool.Reserve(other))
}

// AmountOut is the exchange's getAmountOut computed locally with 256-bit
// wrapping checks.
func AmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	in, err := toUint256(amountIn)
	if err != nil {
		return nil, err
	}
	rIn, err := toUint256(reserveIn)
	if err != nil {
		return nil, err
	}
	rOut, err := toUint256(reserveOut)
	if err != nil {
		return nil, err
	}
	if in.IsZero() || rIn.IsZero() || rOut.IsZero() {
		return new(big.Int), nil
	}

	inWithFee, o1 := new(uint256.Int).MulOverflow(in, feeNumerator)
	numerator, o2 := new(uint256.Int).MulOverflow(inWithFee, rOut)
	scaledIn, o3 := new(uint256.Int).MulOverflow(rIn, feeDenominator)
	denominator, o4 := new(uint256.Int).AddOverflow(scaledIn, inWithFee)
	if o1 || o2 || o3 || o4 {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Div(numerator, denominator).ToBig(), nil
}

// MinReceived applies the slippage tolerance to a quoted output:
// amountOut * (10000 - slippageBps) / 10000. A tolerance of 100% or more
// yields 0.
func MinReceived(amountOut *big.Int, slippageBps uint64) *big.Int {
	if amountOut == nil || amountOut.Sign() <= 0 || slippageBps >= BpsDenominator {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amountOut, new(big.Int).SetUint64(BpsDenominator-slippageBps))
	return out.Quo(out, big.NewInt(BpsDenominator))
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}
