// Package orchestrator runs every value-moving write through one state
// machine: check allowance, approve when short, submit, wait for the
// receipt.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"delex/internal/failure"
	"delex/internal/model"
	"delex/internal/pubsub"
	"delex/internal/registry"
)

// Ledger is the write surface the orchestrator drives.
type Ledger interface {
	Spender() common.Address
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	CreatePool(ctx context.Context, tokenA, tokenB common.Address) (*types.Transaction, error)
	AddLiquidity(ctx context.Context, poolID common.Hash, amountA, amountB *big.Int) (*types.Transaction, error)
	RemoveLiquidity(ctx context.Context, poolID common.Hash, shares *big.Int) (*types.Transaction, error)
	Swap(ctx context.Context, poolID common.Hash, tokenIn common.Address, amountIn, minAmountOut *big.Int) (*types.Transaction, error)
	DepositCollateral(ctx context.Context, poolID common.Hash, token common.Address, amount *big.Int) (*types.Transaction, error)
	Borrow(ctx context.Context, poolID common.Hash, token common.Address, amount *big.Int) (*types.Transaction, error)
	Repay(ctx context.Context, poolID common.Hash, token common.Address, amount *big.Int) (*types.Transaction, error)
	WithdrawCollateral(ctx context.Context, poolID common.Hash, token common.Address, amount *big.Int) (*types.Transaction, error)
	Faucet(ctx context.Context, token common.Address) (*types.Transaction, error)
}

// Refresher is triggered after a confirmed intent.
type Refresher interface {
	Refresh(ctx context.Context) (*model.Snapshot, error)
}

// Journal records finished intents.
type Journal interface {
	PutIntent(ctx context.Context, rec model.IntentRecord) error
}

// Update is one observable transition.
type Update struct {
	IntentID string
	Kind     Kind
	Status   Status
	TxHash   common.Hash
	Err      error
}

// Outcome is the final state of an intent.
type Outcome struct {
	IntentID string
	Status   Status
	TxHashes []common.Hash
	Err      error
}

// Config wires optional collaborators.
type Config struct {
	Refresher Refresher
	Journal   Journal
	// Session, when set, is checked before each submission; an intent built
	// for another account or chain fails instead of being sent.
	Session func() model.Session
	// Retain bounds how many finished intents are remembered for
	// idempotent re-entry.
	Retain int
}

type tracked struct {
	intent Intent
	status Status
	txs    []common.Hash
	err    error
	done   chan struct{}
}

type lockKey struct {
	account common.Address
	token   common.Address
}

// tokenLock is dropped from the map once no intent holds or waits for it.
type tokenLock struct {
	sem  *semaphore.Weighted
	refs int
}

// Orchestrator executes intents.
type Orchestrator struct {
	ledger  Ledger
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	updates *pubsub.Hub[Update]

	mu       sync.Mutex
	intents  map[string]*tracked
	finished []string
	locks    map[lockKey]*tokenLock
}

// New creates an orchestrator over ledger.
func New(ledger Ledger, cfg Config, logger *zap.Logger, metrics *Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retain <= 0 {
		cfg.Retain = 256
	}
	return &Orchestrator{
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		updates: pubsub.NewHub[Update](),
		intents: make(map[string]*tracked),
		locks:   make(map[lockKey]*tokenLock),
	}
}

// Subscribe returns every transition of every intent.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Update, func()) {
	return o.updates.Subscribe(buffer)
}

// Status returns the current status of a known intent.
func (o *Orchestrator) Status(id string) (Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.intents[id]
	if !ok {
		return Pending, false
	}
	return t.status, true
}

// Execute runs the intent to Confirmed or Failed. Executing an intent ID
// that is already running waits for that run; executing a finished one
// returns its stored outcome. Nothing is ever resubmitted.
func (o *Orchestrator) Execute(ctx context.Context, in Intent) (Outcome, error) {
	if in.ID == "" {
		return Outcome{}, fmt.Errorf("intent has no id")
	}

	o.mu.Lock()
	if t, ok := o.intents[in.ID]; ok {
		o.mu.Unlock()
		select {
		case <-t.done:
		case <-ctx.Done():
			return o.outcome(t), ctx.Err()
		}
		out := o.outcome(t)
		return out, out.Err
	}
	t := &tracked{intent: in, status: Pending, done: make(chan struct{})}
	o.intents[in.ID] = t
	o.mu.Unlock()

	o.transition(t, Pending, common.Hash{})
	err := o.run(ctx, t)
	if err != nil {
		err = failure.Normalize(err)
		o.fail(t, err)
	} else {
		o.transition(t, Confirmed, common.Hash{})
	}
	o.finish(ctx, t)

	out := o.outcome(t)
	return out, out.Err
}

func (o *Orchestrator) run(ctx context.Context, t *tracked) error {
	in := t.intent
	if err := o.checkSession(in); err != nil {
		return err
	}

	release, err := o.acquire(ctx, in)
	if err != nil {
		return err
	}
	defer release()

	if err := o.ensureAllowances(ctx, t); err != nil {
		return err
	}
	if err := o.checkSession(in); err != nil {
		return err
	}

	tx, err := o.submit(ctx, in)
	if err != nil {
		return err
	}
	o.transition(t, Submitted, tx.Hash())

	if _, err := o.ledger.WaitMined(ctx, tx); err != nil {
		return err
	}
	return nil
}

// ensureAllowances approves every token whose allowance is short of the
// requirement. Tokens already covered are skipped.
func (o *Orchestrator) ensureAllowances(ctx context.Context, t *tracked) error {
	in := t.intent
	tokens := make([]common.Address, 0, len(in.RequiredAllowance))
	for tok := range in.RequiredAllowance {
		tokens = append(tokens, tok)
	}
	sortAddresses(tokens)

	spender := o.ledger.Spender()
	approving := false
	for _, tok := range tokens {
		required := in.RequiredAllowance[tok]
		if required == nil || required.Sign() <= 0 {
			continue
		}
		current, err := o.ledger.Allowance(ctx, tok, in.Account, spender)
		if err != nil {
			return fmt.Errorf("allowance %s: %w", tok.Hex(), err)
		}
		if current.Cmp(required) >= 0 {
			o.metrics.approvalSkipped(in.Kind)
			o.logger.Debug("allowance sufficient",
				zap.String("intent", in.ID),
				zap.String("token", tok.Hex()),
				zap.String("allowance", current.String()),
			)
			continue
		}

		if !approving {
			o.transition(t, Approving, common.Hash{})
			approving = true
		}
		tx, err := o.ledger.Approve(ctx, tok, spender, required)
		if err != nil {
			return fmt.Errorf("approve %s: %w", tok.Hex(), err)
		}
		o.recordTx(t, tx.Hash())
		if _, err := o.ledger.WaitMined(ctx, tx); err != nil {
			return fmt.Errorf("approve %s: %w", tok.Hex(), err)
		}
	}
	return nil
}

func (o *Orchestrator) submit(ctx context.Context, in Intent) (*types.Transaction, error) {
	p := in.Params
	switch in.Kind {
	case KindSwap:
		return o.ledger.Swap(ctx, p.PoolID, p.Token, p.Amount, p.MinAmountOut)
	case KindAddLiquidity:
		return o.ledger.AddLiquidity(ctx, p.PoolID, p.AmountA, p.AmountB)
	case KindRemoveLiquidity:
		return o.ledger.RemoveLiquidity(ctx, p.PoolID, p.Shares)
	case KindCreatePool:
		return o.ledger.CreatePool(ctx, p.TokenA, p.TokenB)
	case KindDeposit:
		return o.ledger.DepositCollateral(ctx, p.PoolID, p.Token, p.Amount)
	case KindBorrow:
		return o.ledger.Borrow(ctx, p.PoolID, p.Token, p.Amount)
	case KindRepay:
		return o.ledger.Repay(ctx, p.PoolID, p.Token, p.Amount)
	case KindWithdraw:
		return o.ledger.WithdrawCollateral(ctx, p.PoolID, p.Token, p.Amount)
	case KindFaucet:
		return o.ledger.Faucet(ctx, p.Token)
	default:
		return nil, fmt.Errorf("unknown intent kind %q", in.Kind)
	}
}

func (o *Orchestrator) checkSession(in Intent) error {
	if o.cfg.Session == nil {
		return nil
	}
	s := o.cfg.Session()
	switch {
	case !s.Live():
		return failure.New(failure.WalletUnavailable, "session is not connected", nil)
	case s.Account != in.Account:
		return failure.Newf(failure.WalletUnavailable, "intent is for %s but %s is active", in.Account.Hex(), s.Account.Hex())
	case in.ChainID != 0 && s.ChainID != in.ChainID:
		return failure.Newf(failure.WrongNetwork, "intent is for chain %d but chain %d is active", in.ChainID, s.ChainID)
	}
	return nil
}

// acquire takes the (account, token) locks of the intent in address order so
// two intents can never hold each other's tokens. Waiters are served in
// arrival order.
func (o *Orchestrator) acquire(ctx context.Context, in Intent) (func(), error) {
	tokens := in.Tokens()
	held := make([]lockKey, 0, len(tokens))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			o.unlock(held[i], true)
		}
	}
	for _, tok := range tokens {
		key := lockKey{account: in.Account, token: tok}
		if err := o.lock(key).Acquire(ctx, 1); err != nil {
			o.unlock(key, false)
			release()
			return nil, err
		}
		held = append(held, key)
	}
	return release, nil
}

func (o *Orchestrator) lock(key lockKey) *semaphore.Weighted {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[key]
	if !ok {
		l = &tokenLock{sem: semaphore.NewWeighted(1)}
		o.locks[key] = l
	}
	l.refs++
	return l.sem
}

func (o *Orchestrator) unlock(key lockKey, acquired bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := o.locks[key]
	if acquired {
		l.sem.Release(1)
	}
	l.refs--
	if l.refs == 0 {
		delete(o.locks, key)
	}
}

func (o *Orchestrator) transition(t *tracked, status Status, tx common.Hash) {
	o.mu.Lock()
	t.status = status
	if tx != (common.Hash{}) {
		t.txs = append(t.txs, tx)
	}
	o.mu.Unlock()

	o.metrics.transition(t.intent.Kind, status)
	fields := []zap.Field{
		zap.String("intent", t.intent.ID),
		zap.String("kind", string(t.intent.Kind)),
		zap.String("status", status.String()),
	}
	if tx != (common.Hash{}) {
		fields = append(fields, zap.String("tx", tx.Hex()))
	}
	o.logger.Info("intent transition", fields...)
	o.updates.Publish(Update{IntentID: t.intent.ID, Kind: t.intent.Kind, Status: status, TxHash: tx})
}

// recordTx attaches a transaction hash to the current status.
func (o *Orchestrator) recordTx(t *tracked, tx common.Hash) {
	o.mu.Lock()
	t.txs = append(t.txs, tx)
	status := t.status
	o.mu.Unlock()

	o.logger.Info("intent transaction",
		zap.String("intent", t.intent.ID),
		zap.String("status", status.String()),
		zap.String("tx", tx.Hex()),
	)
	o.updates.Publish(Update{IntentID: t.intent.ID, Kind: t.intent.Kind, Status: status, TxHash: tx})
}

func (o *Orchestrator) fail(t *tracked, err error) {
	o.mu.Lock()
	t.status = Failed
	t.err = err
	o.mu.Unlock()

	o.metrics.transition(t.intent.Kind, Failed)
	o.logger.Warn("intent failed",
		zap.String("intent", t.intent.ID),
		zap.String("kind", string(t.intent.Kind)),
		zap.String("failure", failure.KindOf(err).String()),
		zap.Error(err),
	)
	o.updates.Publish(Update{IntentID: t.intent.ID, Kind: t.intent.Kind, Status: Failed, Err: err})
}

// finish journals the intent, refreshes the registry after a confirmation
// and releases waiters.
func (o *Orchestrator) finish(ctx context.Context, t *tracked) {
	o.mu.Lock()
	o.finished = append(o.finished, t.intent.ID)
	for len(o.finished) > o.cfg.Retain {
		delete(o.intents, o.finished[0])
		o.finished = o.finished[1:]
	}
	o.mu.Unlock()
	close(t.done)

	if o.cfg.Journal != nil {
		if err := o.cfg.Journal.PutIntent(ctx, o.record(t)); err != nil {
			o.logger.Warn("journal intent failed", zap.String("intent", t.intent.ID), zap.Error(err))
		}
	}

	if o.outcome(t).Status == Confirmed && o.cfg.Refresher != nil {
		if _, err := o.cfg.Refresher.Refresh(ctx); err != nil && !errors.Is(err, registry.ErrStale) {
			o.logger.Warn("refresh after confirmation failed", zap.String("intent", t.intent.ID), zap.Error(err))
		}
	}
}

func (o *Orchestrator) outcome(t *tracked) Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Outcome{
		IntentID: t.intent.ID,
		Status:   t.status,
		TxHashes: append([]common.Hash(nil), t.txs...),
		Err:      t.err,
	}
}

func (o *Orchestrator) record(t *tracked) model.IntentRecord {
	out := o.outcome(t)
	rec := model.IntentRecord{
		ID:        t.intent.ID,
		Kind:      string(t.intent.Kind),
		Status:    out.Status.String(),
		ChainID:   t.intent.ChainID,
		Account:   t.intent.Account.Hex(),
		TxHashes:  make([]string, 0, len(out.TxHashes)),
		CreatedAt: t.intent.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	if t.intent.Params.PoolID != (common.Hash{}) {
		rec.PoolID = t.intent.Params.PoolID.Hex()
	}
	for _, h := range out.TxHashes {
		rec.TxHashes = append(rec.TxHashes, h.Hex())
	}
	if out.Err != nil {
		rec.ErrorKind = failure.KindOf(out.Err).String()
		rec.Error = out.Err.Error()
	}
	return rec
}

// Close drops every subscriber.
func (o *Orchestrator) Close() {
	o.updates.Close()
}
