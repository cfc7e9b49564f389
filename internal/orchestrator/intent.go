package orchestrator

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"delex/internal/failure"
	"delex/internal/model"
	"delex/internal/quote"
)

// Kind is the action an intent performs.
type Kind string

const (
	KindSwap            Kind = "swap"
	KindAddLiquidity    Kind = "addLiquidity"
	KindRemoveLiquidity Kind = "removeLiquidity"
	KindCreatePool      Kind = "createPool"
	KindDeposit         Kind = "deposit"
	KindBorrow          Kind = "borrow"
	KindRepay           Kind = "repay"
	KindWithdraw        Kind = "withdraw"
	KindFaucet          Kind = "faucet"
)

// Status is the progress of an intent.
type Status int

const (
	Pending Status = iota
	Approving
	Submitted
	Confirmed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Approving:
		return "approving"
	case Submitted:
		return "submitted"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == Confirmed || s == Failed
}

// Params are the action arguments. Only the fields of the intent's kind are
// set.
type Params struct {
	PoolID       common.Hash
	TokenA       common.Address
	TokenB       common.Address
	Token        common.Address
	Amount       *big.Int
	AmountA      *big.Int
	AmountB      *big.Int
	Shares       *big.Int
	MinAmountOut *big.Int
}

// Intent is one user-initiated write. It is immutable once built; progress
// is tracked by the orchestrator.
type Intent struct {
	ID                string
	Kind              Kind
	Account           common.Address
	ChainID           uint64
	Params            Params
	RequiredAllowance map[common.Address]*big.Int
	CreatedAt         time.Time
}

// Tokens returns every token the intent moves, in address order. Intents on
// the same (account, token) pair are serialized.
func (in Intent) Tokens() []common.Address {
	seen := make(map[common.Address]struct{})
	add := func(a common.Address) {
		if a != (common.Address{}) {
			seen[a] = struct{}{}
		}
	}
	for tok := range in.RequiredAllowance {
		add(tok)
	}
	add(in.Params.Token)
	add(in.Params.TokenA)
	add(in.Params.TokenB)

	out := make([]common.Address, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sortAddresses(out)
	return out
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
}

// Builder creates intents for one account against the latest snapshot.
type Builder struct {
	Account     common.Address
	ChainID     uint64
	Snapshot    *model.Snapshot
	SlippageBps uint64
}

func (b Builder) intent(kind Kind, p Params, allowance map[common.Address]*big.Int) Intent {
	return Intent{
		ID:                uuid.NewString(),
		Kind:              kind,
		Account:           b.Account,
		ChainID:           b.ChainID,
		Params:            p,
		RequiredAllowance: allowance,
		CreatedAt:         time.Now().UTC(),
	}
}

func (b Builder) pool(id common.Hash) (model.Pool, error) {
	p, ok := b.Snapshot.Pool(id)
	if !ok {
		return model.Pool{}, fmt.Errorf("pool %s is not in the current snapshot", id.Hex())
	}
	return p, nil
}

func positive(name string, v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}

// Swap quotes amountIn against the snapshot and sets MinAmountOut from the
// slippage tolerance.
func (b Builder) Swap(poolID common.Hash, tokenIn common.Address, amountIn *big.Int) (Intent, error) {
	if err := positive("amount in", amountIn); err != nil {
		return Intent{}, err
	}
	pool, err := b.pool(poolID)
	if err != nil {
		return Intent{}, err
	}
	out, err := quote.QuoteSwap(pool, tokenIn, amountIn)
	if err != nil {
		return Intent{}, fmt.Errorf("quote swap: %w", err)
	}
	if out.Sign() == 0 {
		return Intent{}, fmt.Errorf("swap of %s would receive nothing", amountIn)
	}
	in := b.intent(KindSwap, Params{
		PoolID:       poolID,
		Token:        tokenIn,
		Amount:       new(big.Int).Set(amountIn),
		MinAmountOut: quote.MinReceived(out, b.SlippageBps),
	}, map[common.Address]*big.Int{tokenIn: new(big.Int).Set(amountIn)})
	return in, nil
}

// AddLiquidity needs an allowance for both pool tokens.
func (b Builder) AddLiquidity(poolID common.Hash, amountA, amountB *big.Int) (Intent, error) {
	if err := positive("amount A", amountA); err != nil {
		return Intent{}, err
	}
	if err := positive("amount B", amountB); err != nil {
		return Intent{}, err
	}
	pool, err := b.pool(poolID)
	if err != nil {
		return Intent{}, err
	}
	return b.intent(KindAddLiquidity, Params{
		PoolID:  poolID,
		TokenA:  pool.TokenA,
		TokenB:  pool.TokenB,
		AmountA: new(big.Int).Set(amountA),
		AmountB: new(big.Int).Set(amountB),
	}, map[common.Address]*big.Int{
		pool.TokenA: new(big.Int).Set(amountA),
		pool.TokenB: new(big.Int).Set(amountB),
	}), nil
}

// RemoveLiquidity burns LP shares; no allowance is needed.
func (b Builder) RemoveLiquidity(poolID common.Hash, shares *big.Int) (Intent, error) {
	if err := positive("shares", shares); err != nil {
		return Intent{}, err
	}
	pool, err := b.pool(poolID)
	if err != nil {
		return Intent{}, err
	}
	return b.intent(KindRemoveLiquidity, Params{
		PoolID: poolID,
		TokenA: pool.TokenA,
		TokenB: pool.TokenB,
		Shares: new(big.Int).Set(shares),
	}, nil), nil
}

// CreatePool refuses pairs the snapshot already lists, the same check the
// contract makes.
func (b Builder) CreatePool(tokenA, tokenB common.Address) (Intent, error) {
	if tokenA == tokenB {
		return Intent{}, fmt.Errorf("pool tokens must differ")
	}
	if _, exists := quote.FindPool(b.Snapshot, tokenA, tokenB); exists {
		return Intent{}, failure.Reverted(ReasonPoolExists, nil)
	}
	return b.intent(KindCreatePool, Params{TokenA: tokenA, TokenB: tokenB}, nil), nil
}

// ReasonPoolExists is the service's revert reason for a duplicate pair.
const ReasonPoolExists = "Pool exists"

// Lending builds deposit, borrow, repay and withdraw intents. Deposit and
// repay move tokens into the service and need an allowance.
func (b Builder) Lending(kind Kind, poolID common.Hash, token common.Address, amount *big.Int) (Intent, error) {
	switch kind {
	case KindDeposit, KindBorrow, KindRepay, KindWithdraw:
	default:
		return Intent{}, fmt.Errorf("%s is not a lending action", kind)
	}
	if err := positive("amount", amount); err != nil {
		return Intent{}, err
	}
	pool, err := b.pool(poolID)
	if err != nil {
		return Intent{}, err
	}
	if _, ok := pool.SideOf(token); !ok {
		return Intent{}, fmt.Errorf("token %s is not part of pool %s", token.Hex(), poolID.Hex())
	}

	var allowance map[common.Address]*big.Int
	if kind == KindDeposit || kind == KindRepay {
		allowance = map[common.Address]*big.Int{token: new(big.Int).Set(amount)}
	}
	return b.intent(kind, Params{PoolID: poolID, Token: token, Amount: new(big.Int).Set(amount)}, allowance), nil
}

// Faucet requests test tokens.
func (b Builder) Faucet(token common.Address) (Intent, error) {
	if token == (common.Address{}) {
		return Intent{}, fmt.Errorf("token is required")
	}
	return b.intent(KindFaucet, Params{Token: token}, nil), nil
}
