package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"delex/internal/model"
)

// TokenStatus is the per-token part of a diagnostics report.
type TokenStatus struct {
	Meta    model.TokenMeta
	Balance *big.Int
	Err     error
}

// Diagnostics summarizes what the binding can see.
type Diagnostics struct {
	Exchange  common.Address
	Owner     common.Address
	Account   common.Address
	PoolCount int
	PoolsErr  error
	Tokens    []TokenStatus
}

// Diagnose gathers owner, pool count and the balance of account in every
// token. Individual failures are recorded, not returned.
func (b *Binding) Diagnose(ctx context.Context, account common.Address) Diagnostics {
	d := Diagnostics{
		Exchange: b.cfg.Exchange,
		Owner:    b.owner,
		Account:  account,
	}
	if ids, err := b.GetAllPools(ctx); err != nil {
		d.PoolsErr = err
	} else {
		d.PoolCount = len(ids)
	}
	for _, tb := range b.tokens {
		status := TokenStatus{Meta: tb.meta}
		if account != (common.Address{}) {
			status.Balance, status.Err = b.BalanceOf(ctx, tb.meta.Address, account)
		}
		d.Tokens = append(d.Tokens, status)
	}
	return d
}
