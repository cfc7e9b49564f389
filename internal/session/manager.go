// Package session owns the active account/chain pair and tells subscribers
// whenever it changes.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"delex/internal/failure"
	"delex/internal/model"
	"delex/internal/pubsub"
	"delex/internal/wallet"
)

// Wallet is the wallet surface the session needs.
type Wallet interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	SwitchChain(ctx context.Context, chainID uint64) error
	AddChain(def wallet.ChainDefinition) error
	Subscribe() (<-chan wallet.Event, func())
}

// Reason says why the session changed.
type Reason int

const (
	Connected Reason = iota
	Disconnected
	AccountChanged
	ChainChanged
)

func (r Reason) String() string {
	switch r {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case AccountChanged:
		return "account_changed"
	case ChainChanged:
		return "chain_changed"
	default:
		return "unknown"
	}
}

// Change is published on every session replacement.
type Change struct {
	Session model.Session
	Reason  Reason
}

// Manager owns the current Session. The session value is replaced
// atomically, never mutated.
type Manager struct {
	wallet   Wallet
	required wallet.ChainDefinition
	current  atomic.Pointer[model.Session]
	changes  *pubsub.Hub[Change]
	logger   *zap.Logger

	mu sync.Mutex // serializes Connect, Disconnect and wallet events
}

// NewManager creates a disconnected manager. required is the chain every
// connection is switched to.
func NewManager(w Wallet, required wallet.ChainDefinition, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		wallet:   w,
		required: required,
		changes:  pubsub.NewHub[Change](),
		logger:   logger,
	}
	m.current.Store(&model.Session{})
	return m
}

// Current returns the latest session.
func (m *Manager) Current() model.Session {
	return *m.current.Load()
}

// RequiredChainID is the chain the session connects to.
func (m *Manager) RequiredChainID() uint64 {
	return m.required.ChainID
}

// Subscribe returns session changes. The channel keeps the newest changes if
// the subscriber falls behind.
func (m *Manager) Subscribe() (<-chan Change, func()) {
	return m.changes.Subscribe(8)
}

// Connect requests account access and switches the wallet to the required
// chain, adding its definition first when the wallet does not know it.
func (m *Manager) Connect(ctx context.Context) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.wallet == nil {
		return m.Current(), failure.New(failure.WalletUnavailable, "no wallet", nil)
	}

	accounts, err := m.wallet.RequestAccounts(ctx)
	if err != nil {
		return m.Current(), failure.Normalize(err)
	}
	if len(accounts) == 0 {
		return m.Current(), failure.New(failure.UserRejected, "no account returned", nil)
	}

	if err := m.switchChain(ctx); err != nil {
		return m.Current(), err
	}

	next := model.Session{
		Account:    accounts[0],
		HasAccount: true,
		ChainID:    m.required.ChainID,
		HasChain:   true,
		Connected:  true,
	}
	m.publish(next, Connected)
	return next, nil
}

func (m *Manager) switchChain(ctx context.Context) error {
	err := m.wallet.SwitchChain(ctx, m.required.ChainID)
	if errors.Is(err, wallet.ErrUnrecognizedChain) {
		m.logger.Info("adding chain to wallet", zap.Uint64("chain_id", m.required.ChainID))
		if addErr := m.wallet.AddChain(m.required); addErr != nil {
			return failure.New(failure.WrongNetwork, "add chain", addErr)
		}
		err = m.wallet.SwitchChain(ctx, m.required.ChainID)
	}
	if err == nil {
		return nil
	}
	switch failure.KindOf(err) {
	case failure.UserRejected, failure.WrongNetwork, failure.NetworkTimeout:
		return err
	}
	return failure.New(failure.WrongNetwork, "switch chain", err)
}

// Disconnect clears the session.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Current().Connected {
		return
	}
	m.publish(model.Session{}, Disconnected)
}

// Run applies wallet notifications until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if m.wallet == nil {
		return failure.New(failure.WalletUnavailable, "no wallet", nil)
	}
	events, unsubscribe := m.wallet.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.apply(ev)
		}
	}
}

func (m *Manager) apply(ev wallet.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.Current()
	if !cur.Connected {
		return
	}

	switch ev.Kind {
	case wallet.AccountsChanged:
		if len(ev.Accounts) == 0 {
			m.publish(model.Session{}, Disconnected)
			return
		}
		if ev.Accounts[0] == cur.Account {
			return
		}
		next := cur
		next.Account = ev.Accounts[0]
		m.publish(next, AccountChanged)
	case wallet.ChainChanged:
		if ev.ChainID == cur.ChainID {
			return
		}
		next := cur
		next.ChainID = ev.ChainID
		m.publish(next, ChainChanged)
	}
}

func (m *Manager) publish(next model.Session, reason Reason) {
	m.current.Store(&next)
	m.logger.Info("session changed", zap.String("reason", reason.String()), zap.Stringer("session", next))
	m.changes.Publish(Change{Session: next, Reason: reason})
}

// Close drops every subscriber.
func (m *Manager) Close() {
	m.changes.Close()
}
