package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"delex/internal/failure"
)

type chainService struct {
	id uint64
}

func (s *chainService) ChainId() hexutil.Uint64 {
	return hexutil.Uint64(s.id)
}

func newChainServer(t *testing.T, id uint64) string {
	t.Helper()
	server := rpc.NewServer()
	if err := server.RegisterName("eth", &chainService{id: id}); err != nil {
		t.Fatalf("register: %v", err)
	}
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})
	return httpServer.URL
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestLoadKey(t *testing.T) {
	if _, err := LoadKey("", "", ""); !errors.Is(err, failure.ErrWalletUnavailable) {
		t.Fatalf("expected wallet unavailable for empty key, got %v", err)
	}
	if _, err := LoadKey("0xnothex", "", ""); !errors.Is(err, failure.ErrWalletUnavailable) {
		t.Fatalf("expected wallet unavailable for bad key, got %v", err)
	}

	key := newKey(t)
	loaded, err := LoadKey("0x"+hex.EncodeToString(crypto.FromECDSA(key)), "", "")
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if got, want := crypto.PubkeyToAddress(loaded.PublicKey), crypto.PubkeyToAddress(key.PublicKey); got != want {
		t.Fatalf("address mismatch: got %s want %s", got.Hex(), want.Hex())
	}
}

func TestRequestAccountsWithoutKey(t *testing.T) {
	w := NewKeyWallet(nil, nil, zap.NewNop())
	if _, err := w.RequestAccounts(context.Background()); !errors.Is(err, failure.ErrWalletUnavailable) {
		t.Fatalf("expected wallet unavailable, got %v", err)
	}
}

func TestSwitchChainNeedsDefinition(t *testing.T) {
	w := NewKeyWallet(newKey(t), nil, zap.NewNop())
	defer w.Close()

	events, unsubscribe := w.Subscribe()
	defer unsubscribe()

	if err := w.SwitchChain(context.Background(), 31337); !errors.Is(err, ErrUnrecognizedChain) {
		t.Fatalf("expected unrecognized chain, got %v", err)
	}

	url := newChainServer(t, 31337)
	if err := w.AddChain(ChainDefinition{ChainID: 31337, Name: "local", RPCURLs: []string{url}}); err != nil {
		t.Fatalf("add chain: %v", err)
	}
	if err := w.SwitchChain(context.Background(), 31337); err != nil {
		t.Fatalf("switch chain: %v", err)
	}

	if id, ok := w.ChainID(); !ok || id != 31337 {
		t.Fatalf("unexpected chain: %d %v", id, ok)
	}

	select {
	case ev := <-events:
		if ev.Kind != ChainChanged || ev.ChainID != 31337 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected chain changed event")
	}
}

func TestSwitchChainRejectsMismatchedRPC(t *testing.T) {
	url := newChainServer(t, 1)
	w := NewKeyWallet(newKey(t), []ChainDefinition{{ChainID: 11155111, RPCURLs: []string{url}}}, zap.NewNop())
	defer w.Close()

	if err := w.SwitchChain(context.Background(), 11155111); !errors.Is(err, failure.ErrWrongNetwork) {
		t.Fatalf("expected wrong network, got %v", err)
	}
	if _, ok := w.ChainID(); ok {
		t.Fatalf("chain should stay unset")
	}
}

func TestTransactOptsFollowsAccountAccess(t *testing.T) {
	url := newChainServer(t, 31337)
	w := NewKeyWallet(newKey(t), []ChainDefinition{{ChainID: 31337, RPCURLs: []string{url}}}, zap.NewNop())
	defer w.Close()
	if err := w.SwitchChain(context.Background(), 31337); err != nil {
		t.Fatalf("switch chain: %v", err)
	}

	if _, err := w.TransactOpts(context.Background()); !errors.Is(err, failure.ErrWalletUnavailable) {
		t.Fatalf("expected wallet unavailable before account access, got %v", err)
	}

	accounts, err := w.RequestAccounts(context.Background())
	if err != nil {
		t.Fatalf("request accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0] != w.Address() {
		t.Fatalf("unexpected accounts: %v", accounts)
	}

	opts, err := w.TransactOpts(context.Background())
	if err != nil {
		t.Fatalf("transact opts: %v", err)
	}
	if opts.From != w.Address() {
		t.Fatalf("unexpected sender: %s", opts.From.Hex())
	}

	events, unsubscribe := w.Subscribe()
	defer unsubscribe()
	w.SetAccounts(nil)

	ev := <-events
	if ev.Kind != AccountsChanged || len(ev.Accounts) != 0 {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if _, err := w.TransactOpts(context.Background()); !errors.Is(err, failure.ErrWalletUnavailable) {
		t.Fatalf("expected wallet unavailable after disconnect, got %v", err)
	}
}
