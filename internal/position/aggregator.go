// Package position cross-references a pool snapshot with one account's
// balances, LP shares and lending positions.
package position

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"delex/internal/model"
	"delex/internal/quote"
)

// Source is the ledger surface the aggregator reads.
type Source interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	UserShares(ctx context.Context, poolID common.Hash, account common.Address) (*big.Int, error)
	GetUserPosition(ctx context.Context, account common.Address, poolID common.Hash) (model.Position, error)
}

// Entry is a non-empty lending position with its health factor.
type Entry struct {
	Position model.Position
	Health   quote.HealthFactor
}

// Portfolio is everything one account holds under one snapshot generation.
type Portfolio struct {
	Account    common.Address
	Generation uint64
	Balances   model.Balance
	Liquidity  []model.LiquidityShare
	Positions  []Entry
}

type cacheKey struct {
	account    common.Address
	generation uint64
}

// Aggregator builds portfolios. The last result is cached by
// (account, generation); any other key recomputes from scratch.
type Aggregator struct {
	maxConcurrency int
	logger         *zap.Logger

	mu     sync.Mutex
	key    cacheKey
	cached *Portfolio
}

// NewAggregator creates an aggregator with bounded read fan-out.
func NewAggregator(maxConcurrency int, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &Aggregator{maxConcurrency: maxConcurrency, logger: logger}
}

// Invalidate drops the cached portfolio.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
}

// Cached returns the last portfolio if it matches account and generation.
func (a *Aggregator) Cached(account common.Address, generation uint64) (*Portfolio, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cached == nil || a.key != (cacheKey{account, generation}) {
		return nil, false
	}
	return a.cached, true
}

// Aggregate reads every token balance and, for each pool of snap, the
// account's shares and position. A failed balance read fails the whole
// aggregation; a failed per-pool read leaves that pool out.
func (a *Aggregator) Aggregate(ctx context.Context, src Source, snap *model.Snapshot, account common.Address, tokens []model.TokenMeta) (*Portfolio, error) {
	if snap == nil {
		return nil, fmt.Errorf("no snapshot")
	}
	if p, ok := a.Cached(account, snap.Generation); ok {
		return p, nil
	}

	balances := make([]*big.Int, len(tokens))
	shares := make([]*big.Int, len(snap.Pools))
	positions := make([]*model.Position, len(snap.Pools))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrency)
	for i, tok := range tokens {
		i, tok := i, tok
		g.Go(func() error {
			bal, err := src.BalanceOf(gctx, tok.Address, account)
			if err != nil {
				return fmt.Errorf("balance %s: %w", tok.Symbol, err)
			}
			balances[i] = bal
			return nil
		})
	}
	for i, pool := range snap.Pools {
		i, id := i, pool.ID
		g.Go(func() error {
			s, err := src.UserShares(gctx, id, account)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.logger.Warn("user shares fetch failed", zap.String("pool", id.Hex()), zap.Error(err))
				return nil
			}
			shares[i] = s
			return nil
		})
		g.Go(func() error {
			pos, err := src.GetUserPosition(gctx, account, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.logger.Warn("position fetch failed", zap.String("pool", id.Hex()), zap.Error(err))
				return nil
			}
			pos.Account = account
			pos.PoolID = id
			positions[i] = &pos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p := &Portfolio{
		Account:    account,
		Generation: snap.Generation,
		Balances:   make(model.Balance, len(tokens)),
	}
	for i, tok := range tokens {
		p.Balances[tok.Symbol] = balances[i]
	}
	for i, pool := range snap.Pools {
		if s := shares[i]; s != nil && s.Sign() > 0 {
			p.Liquidity = append(p.Liquidity, model.LiquidityShare{PoolID: pool.ID, Shares: s})
		}
		if pos := positions[i]; pos != nil && !pos.IsEmpty() {
			p.Positions = append(p.Positions, Entry{Position: *pos, Health: quote.Health(*pos)})
		}
	}

	a.mu.Lock()
	a.key = cacheKey{account, snap.Generation}
	a.cached = p
	a.mu.Unlock()

	a.logger.Debug("portfolio aggregated",
		zap.String("account", account.Hex()),
		zap.Uint64("generation", snap.Generation),
		zap.Int("positions", len(p.Positions)),
		zap.Int("liquidity", len(p.Liquidity)),
	)
	return p, nil
}
