// Package ledger is the typed call surface to the DeLex exchange/lending
// contract and its tokens. It does no caching; every call is rate limited,
// bounded by a timeout and normalized into failure kinds.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"delex/internal/failure"
	"delex/internal/model"
)

// Backend is the RPC surface the binding needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Signer supplies the account and transaction options for writes.
type Signer interface {
	Address() common.Address
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// Config controls addresses and call behavior.
type Config struct {
	Exchange       common.Address
	Tokens         []model.TokenMeta
	CallTimeout    time.Duration
	ConfirmTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	RPCRate        float64
	RPCBurst       int
}

type tokenBinding struct {
	meta     model.TokenMeta
	contract *bind.BoundContract
}

// Binding is a fully initialized set of contract bindings. A Binding only
// exists once every contract answered its probe.
type Binding struct {
	cfg      Config
	backend  Backend
	signer   Signer
	exchange *bind.BoundContract
	tokens   []tokenBinding
	byAddr   map[common.Address]int
	owner    common.Address
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *Metrics
}

// Bind constructs and probes the exchange binding and one binding per token.
// signer may be nil for read-only use. Any probe failure returns
// BindingNotReady and no binding.
func Bind(ctx context.Context, cfg Config, backend Backend, signer Signer, logger *zap.Logger, metrics *Metrics) (*Binding, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		return nil, failure.New(failure.BindingNotReady, "no backend", nil)
	}
	if len(cfg.Tokens) == 0 {
		return nil, failure.New(failure.BindingNotReady, "no tokens configured", nil)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 3 * time.Minute
	}

	exchangeABI, err := ExchangeABI()
	if err != nil {
		return nil, fmt.Errorf("parse exchange abi: %w", err)
	}
	tokenABI, err := TokenABI()
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}

	limit := rate.Inf
	if cfg.RPCRate > 0 {
		limit = rate.Limit(cfg.RPCRate)
	}
	burst := cfg.RPCBurst
	if burst <= 0 {
		burst = 1
	}

	b := &Binding{
		cfg:      cfg,
		backend:  backend,
		signer:   signer,
		exchange: bind.NewBoundContract(cfg.Exchange, exchangeABI, backend, backend, backend),
		byAddr:   make(map[common.Address]int, len(cfg.Tokens)),
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
		metrics:  metrics,
	}

	owner, err := b.Owner(ctx)
	if err != nil {
		return nil, failure.New(failure.BindingNotReady, "exchange probe failed", err)
	}
	b.owner = owner

	for _, tok := range cfg.Tokens {
		if _, dup := b.byAddr[tok.Address]; dup {
			return nil, failure.Newf(failure.BindingNotReady, "token %s listed twice", tok.Address.Hex())
		}
		tb := tokenBinding{
			meta:     tok,
			contract: bind.NewBoundContract(tok.Address, tokenABI, backend, backend, backend),
		}
		name, err := b.callString(ctx, tb.contract, "name")
		if err != nil {
			return nil, failure.New(failure.BindingNotReady, fmt.Sprintf("token %s probe failed", tok.Symbol), err)
		}
		symbol, err := b.callString(ctx, tb.contract, "symbol")
		if err != nil {
			return nil, failure.New(failure.BindingNotReady, fmt.Sprintf("token %s probe failed", tok.Symbol), err)
		}
		tb.meta.Name = name
		if tb.meta.Symbol == "" {
			tb.meta.Symbol = symbol
		} else if symbol != tb.meta.Symbol {
			logger.Warn("token symbol differs from configuration",
				zap.String("token", tok.Address.Hex()),
				zap.String("configured", tb.meta.Symbol),
				zap.String("onchain", symbol),
			)
		}
		tb.meta.Decimals = model.TokenDecimals
		b.byAddr[tok.Address] = len(b.tokens)
		b.tokens = append(b.tokens, tb)
	}

	logger.Info("ledger bound",
		zap.String("exchange", cfg.Exchange.Hex()),
		zap.String("owner", owner.Hex()),
		zap.Int("tokens", len(b.tokens)),
	)
	return b, nil
}

// Ready reports whether the binding set is usable. A nil binding is not.
func (b *Binding) Ready() bool {
	return b != nil && b.exchange != nil
}

// Spender is the exchange address that token allowances are granted to.
func (b *Binding) Spender() common.Address {
	return b.cfg.Exchange
}

// Account returns the signer address, or the zero address when read-only.
func (b *Binding) Account() common.Address {
	if b.signer == nil {
		return common.Address{}
	}
	return b.signer.Address()
}

// Tokens returns the token metadata in configuration order.
func (b *Binding) Tokens() []model.TokenMeta {
	out := make([]model.TokenMeta, len(b.tokens))
	for i, tb := range b.tokens {
		out[i] = tb.meta
	}
	return out
}

// Token looks up token metadata by address.
func (b *Binding) Token(addr common.Address) (model.TokenMeta, bool) {
	idx, ok := b.byAddr[addr]
	if !ok {
		return model.TokenMeta{}, false
	}
	return b.tokens[idx].meta, true
}

// Symbol returns the token symbol for addr, or its short hex form.
func (b *Binding) Symbol(addr common.Address) string {
	if meta, ok := b.Token(addr); ok {
		return meta.Symbol
	}
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

func (b *Binding) token(addr common.Address) (*bind.BoundContract, error) {
	idx, ok := b.byAddr[addr]
	if !ok {
		return nil, failure.Newf(failure.BindingNotReady, "token %s is not bound", addr.Hex())
	}
	return b.tokens[idx].contract, nil
}

// Owner reads the exchange owner.
func (b *Binding) Owner(ctx context.Context) (common.Address, error) {
	out, err := b.call(ctx, b.exchange, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(out[0])
}

// GetAllPools lists every pool id.
func (b *Binding) GetAllPools(ctx context.Context) ([]common.Hash, error) {
	out, err := b.call(ctx, b.exchange, "getAllPools")
	if err != nil {
		return nil, err
	}
	return asHashes(out[0])
}

// GetPoolInfo reads one pool.
func (b *Binding) GetPoolInfo(ctx context.Context, id common.Hash) (model.Pool, error) {
	out, err := b.call(ctx, b.exchange, "getPoolInfo", id)
	if err != nil {
		return model.Pool{}, err
	}
	if len(out) != 9 {
		return model.Pool{}, fmt.Errorf("getPoolInfo: expected 9 values, got %d", len(out))
	}
	tokenA, err := asAddress(out[0])
	if err != nil {
		return model.Pool{}, fmt.Errorf("getPoolInfo tokenA: %w", err)
	}
	tokenB, err := asAddress(out[1])
	if err != nil {
		return model.Pool{}, fmt.Errorf("getPoolInfo tokenB: %w", err)
	}
	nums, err := bigInts(out[2:], "reserveA", "reserveB", "totalLiquidity", "totalBorrowedA", "totalBorrowedB", "interestRateA", "interestRateB")
	if err != nil {
		return model.Pool{}, fmt.Errorf("getPoolInfo: %w", err)
	}
	return model.Pool{
		ID:             id,
		TokenA:         tokenA,
		TokenB:         tokenB,
		ReserveA:       nums[0],
		ReserveB:       nums[1],
		TotalLiquidity: nums[2],
		TotalBorrowedA: nums[3],
		TotalBorrowedB: nums[4],
		InterestRateA:  nums[5],
		InterestRateB:  nums[6],
	}, nil
}

// GetAmountOut asks the service for its own swap quote.
func (b *Binding) GetAmountOut(ctx context.Context, amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	out, err := b.call(ctx, b.exchange, "getAmountOut", amountIn, reserveIn, reserveOut)
	if err != nil {
		return nil, err
	}
	return asBigInt(out[0])
}

// UserShares reads the LP shares of account in a pool.
func (b *Binding) UserShares(ctx context.Context, poolID common.Hash, account common.Address) (*big.Int, error) {
	out, err := b.call(ctx, b.exchange, "userShares", poolID, account)
	if err != nil {
		return nil, err
	}
	return asBigInt(out[0])
}

// GetUserPosition reads the collateral and debt of account in a pool.
func (b *Binding) GetUserPosition(ctx context.Context, account common.Address, poolID common.Hash) (model.Position, error) {
	out, err := b.call(ctx, b.exchange, "getUserPosition", account, poolID)
	if err != nil {
		return model.Position{}, err
	}
	nums, err := bigInts(out, "collateralA", "collateralB", "borrowedA", "borrowedB")
	if err != nil {
		return model.Position{}, fmt.Errorf("getUserPosition: %w", err)
	}
	return model.Position{
		Account:     account,
		PoolID:      poolID,
		CollateralA: nums[0],
		CollateralB: nums[1],
		BorrowedA:   nums[2],
		BorrowedB:   nums[3],
	}, nil
}

// BalanceOf reads a token balance.
func (b *Binding) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	contract, err := b.token(token)
	if err != nil {
		return nil, err
	}
	out, err := b.call(ctx, contract, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return asBigInt(out[0])
}

// Allowance reads how much spender may move on behalf of owner.
func (b *Binding) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	contract, err := b.token(token)
	if err != nil {
		return nil, err
	}
	out, err := b.call(ctx, contract, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBigInt(out[0])
}

// Approve grants spender an allowance of amount.
func (b *Binding) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	contract, err := b.token(token)
	if err != nil {
		return nil, err
	}
	return b.transact(ctx, contract, "approve", spender, amount)
}

// Faucet mints test tokens to the signer.
func (b *Binding) Faucet(ctx context.Context, token common.Address) (*types.Transaction, error) {
	contract, err := b.token(token)
	if err != nil {
		return nil, err
	}
	return b.transact(ctx, contract, "faucet")
}

func (b *Binding) CreatePool(ctx context.Context, tokenA, tokenB common.Address) (*types.Transaction, error) {
	return b.transact(ctx, b.exchange, "createPool", tokenA, tokenB)
}

func (b *Binding) AddLiquidity(ctx context.Context, poolID common.Hash, amountA, amountB *big.Int) (*types.Transaction, error) {
	return b.transact(ctx, b.exchange, "addLiquidity", poolID, amountA, amountB)
}

func (b *Binding) RemoveLiquidity(ctx context.Context, poolID common.Hash, shares *big.Int) (*types.Transaction, error) {
	return b.transact(ctx, b.exchange, "removeLiquidity", poolID, shares)
}

func (b *Binding) Swap(ctx context.Context, poolID common.Hash, tokenIn common.Address, amountIn, minAmountOut *big.Int) (*types.Transaction, error) {
	return b.transact(ctx, b.exchange, "swap", poolID, tokenIn, amountIn, minAmountOut)
}

func (b *Binding) DepositCollateral(ctx context.Context, poolID common.Hash, token common.Address, amount *big.Int) (*types.Transaction, error) {
	return b.transact(ctx, b.exchange, "depositCollateral", poolID, token, amount)
}

func (b *Binding) Borrow(ctx context.Context, poolID common.Hash, token common.Address, amount *big.Int) (*types.Transaction, error) {
	return b.transact(ctx, b.exchange, "borrow", poolID, token, amount)
}

func (b *Binding) Repay(ctx context.Context, poolID common.Hash, token common.Address, amount *big.Int) (*types.Transaction, error) {
	return b.transact(ctx, b.exchange, "repay", poolID, token, amount)
}

func (b *Binding) WithdrawCollateral(ctx context.Context, poolID common.Hash, token common.Address, amount *big.Int) (*types.Transaction, error) {
	return b.transact(ctx, b.exchange, "withdrawCollateral", poolID, token, amount)
}

// WaitMined blocks until tx is mined or the confirm timeout passes. A mined
// but failed transaction is CallReverted.
func (b *Binding) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConfirmTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := bind.WaitMined(ctx, b.backend, tx)
	err = failure.Normalize(err)
	if err == nil && receipt.Status != types.ReceiptStatusSuccessful {
		err = failure.Reverted("transaction reverted", nil)
	}
	b.metrics.observe("waitMined", err, time.Since(start))
	if err != nil {
		return receipt, err
	}
	return receipt, nil
}

func (b *Binding) callString(ctx context.Context, contract *bind.BoundContract, method string) (string, error) {
	out, err := b.call(ctx, contract, method)
	if err != nil {
		return "", err
	}
	return asString(out[0])
}

// call runs a read-only method with retries.
func (b *Binding) call(ctx context.Context, contract *bind.BoundContract, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := withRetry(ctx, b.cfg.MaxRetries, b.cfg.RetryBackoff, func(ctx context.Context) error {
		return b.invoke(ctx, method, func(callCtx context.Context) error {
			results := []interface{}{}
			opts := &bind.CallOpts{Context: callCtx, From: b.Account()}
			if err := contract.Call(opts, &results, method, params...); err != nil {
				return err
			}
			if len(results) == 0 {
				return fmt.Errorf("%s: empty result", method)
			}
			out = results
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transact sends a write once. Writes are never retried.
func (b *Binding) transact(ctx context.Context, contract *bind.BoundContract, method string, params ...interface{}) (*types.Transaction, error) {
	if b.signer == nil {
		return nil, failure.New(failure.WalletUnavailable, "no signer for "+method, nil)
	}
	var tx *types.Transaction
	err := b.invoke(ctx, method, func(callCtx context.Context) error {
		opts, err := b.signer.TransactOpts(callCtx)
		if err != nil {
			return err
		}
		tx, err = contract.Transact(opts, method, params...)
		return err
	})
	if err != nil {
		return nil, err
	}
	b.logger.Info("transaction sent", zap.String("method", method), zap.String("tx", tx.Hash().Hex()))
	return tx, nil
}

func (b *Binding) invoke(ctx context.Context, method string, fn func(context.Context) error) error {
	if err := b.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return failure.Normalize(ctx.Err())
		}
		return failure.New(failure.NetworkTimeout, "rate limit wait", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = failure.New(failure.NetworkTimeout, method+" timed out", err)
	}
	err = failure.Normalize(err)
	b.metrics.observe(method, err, time.Since(start))
	if err != nil {
		b.logger.Debug("ledger call failed", zap.String("method", method), zap.Error(err))
	}
	return err
}
