package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"delex/internal/failure"
	"delex/internal/pubsub"
	"delex/internal/wallet"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000000")
)

type fakeWallet struct {
	mu          sync.Mutex
	accounts    []common.Address
	accountsErr error
	known       map[uint64]bool
	switchErr   error
	added       []wallet.ChainDefinition
	events      *pubsub.Hub[wallet.Event]
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		accounts: []common.Address{alice},
		known:    map[uint64]bool{},
		events:   pubsub.NewHub[wallet.Event](),
	}
}

func (f *fakeWallet) RequestAccounts(context.Context) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts, f.accountsErr
}

func (f *fakeWallet) SwitchChain(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[id] {
		return wallet.ErrUnrecognizedChain
	}
	return f.switchErr
}

func (f *fakeWallet) AddChain(def wallet.ChainDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[def.ChainID] = true
	f.added = append(f.added, def)
	return nil
}

func (f *fakeWallet) Subscribe() (<-chan wallet.Event, func()) {
	return f.events.Subscribe(4)
}

var sepolia = wallet.ChainDefinition{ChainID: 11155111, Name: "Sepolia", RPCURLs: []string{"http://unused"}}

func nextChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for session change")
		return Change{}
	}
}

func TestConnectAddsUnknownChain(t *testing.T) {
	w := newFakeWallet()
	m := NewManager(w, sepolia, zap.NewNop())
	changes, unsubscribe := m.Subscribe()
	defer unsubscribe()

	s, err := m.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Live())
	assert.Equal(t, alice, s.Account)
	assert.Equal(t, uint64(11155111), s.ChainID)
	require.Len(t, w.added, 1)

	c := nextChange(t, changes)
	assert.Equal(t, Connected, c.Reason)
	assert.Equal(t, s, m.Current())
}

func TestConnectFailureKinds(t *testing.T) {
	m := NewManager(nil, sepolia, zap.NewNop())
	_, err := m.Connect(context.Background())
	assert.ErrorIs(t, err, failure.ErrWalletUnavailable)

	w := newFakeWallet()
	w.accountsErr = errors.New("MetaMask Tx Signature: User denied transaction signature.")
	m = NewManager(w, sepolia, zap.NewNop())
	_, err = m.Connect(context.Background())
	assert.ErrorIs(t, err, failure.ErrUserRejected)
	assert.False(t, m.Current().Connected)

	w = newFakeWallet()
	w.known[sepolia.ChainID] = true
	w.switchErr = errors.New("rpc unreachable")
	m = NewManager(w, sepolia, zap.NewNop())
	_, err = m.Connect(context.Background())
	assert.ErrorIs(t, err, failure.ErrWrongNetwork)
	assert.False(t, m.Current().Connected)
}

func TestRunAppliesWalletEvents(t *testing.T) {
	w := newFakeWallet()
	m := NewManager(w, sepolia, zap.NewNop())
	_, err := m.Connect(context.Background())
	require.NoError(t, err)

	changes, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	require.Eventually(t, func() bool { return w.events.Len() == 1 }, time.Second, 5*time.Millisecond)

	w.events.Publish(wallet.Event{Kind: wallet.AccountsChanged, Accounts: []common.Address{bob}})
	c := nextChange(t, changes)
	assert.Equal(t, AccountChanged, c.Reason)
	assert.Equal(t, bob, c.Session.Account)

	w.events.Publish(wallet.Event{Kind: wallet.ChainChanged, ChainID: 1})
	c = nextChange(t, changes)
	assert.Equal(t, ChainChanged, c.Reason)
	assert.Equal(t, uint64(1), c.Session.ChainID)

	w.events.Publish(wallet.Event{Kind: wallet.AccountsChanged})
	c = nextChange(t, changes)
	assert.Equal(t, Disconnected, c.Reason)
	assert.False(t, m.Current().Connected)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDisconnectPublishesOnce(t *testing.T) {
	w := newFakeWallet()
	w.known[sepolia.ChainID] = true
	m := NewManager(w, sepolia, zap.NewNop())
	_, err := m.Connect(context.Background())
	require.NoError(t, err)

	changes, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.Disconnect()
	m.Disconnect()
	c := nextChange(t, changes)
	assert.Equal(t, Disconnected, c.Reason)
	select {
	case extra := <-changes:
		t.Fatalf("unexpected second change %+v", extra)
	default:
	}
	assert.Empty(t, w.added)
}
