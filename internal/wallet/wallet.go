// Package wallet holds the local signing key and the chain the key is
// currently pointed at. It plays the role of an injected browser wallet:
// account access, chain switching and change notifications.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"delex/internal/chain"
	"delex/internal/failure"
	"delex/internal/pubsub"
)

// ErrUnrecognizedChain is returned by SwitchChain for a chain that was never
// added.
var ErrUnrecognizedChain = errors.New("unrecognized chain")

// ChainDefinition describes a network the wallet can switch to.
type ChainDefinition struct {
	ChainID      uint64
	Name         string
	RPCURLs      []string
	NativeSymbol string
	ExplorerURLs []string
}

// EventKind distinguishes wallet notifications.
type EventKind int

const (
	AccountsChanged EventKind = iota
	ChainChanged
)

func (k EventKind) String() string {
	if k == ChainChanged {
		return "chainChanged"
	}
	return "accountsChanged"
}

// Event is a wallet notification. Accounts is empty when the wallet locked or
// revoked access.
type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  uint64
}

// LoadKey reads a private key from a hex string or, when keystorePath is
// set, from an encrypted keystore file. No key at all is WalletUnavailable.
func LoadKey(hexKey, keystorePath, password string) (*ecdsa.PrivateKey, error) {
	if keystorePath != "" {
		data, err := os.ReadFile(keystorePath)
		if err != nil {
			return nil, failure.New(failure.WalletUnavailable, "read keystore", err)
		}
		key, err := keystore.DecryptKey(data, password)
		if err != nil {
			return nil, failure.New(failure.WalletUnavailable, "decrypt keystore", err)
		}
		return key.PrivateKey, nil
	}

	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, failure.New(failure.WalletUnavailable, "no private key or keystore configured", nil)
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, failure.New(failure.WalletUnavailable, "parse private key", err)
	}
	return key, nil
}

// KeyWallet is a wallet backed by a single ECDSA key.
type KeyWallet struct {
	mu       sync.Mutex
	key      *ecdsa.PrivateKey
	address  common.Address
	accounts []common.Address
	chains   map[uint64]ChainDefinition
	client   *chain.Client
	chainID  uint64
	events   *pubsub.Hub[Event]
	logger   *zap.Logger
}

// NewKeyWallet creates a wallet that knows the given chains. key may be nil,
// in which case every request fails with WalletUnavailable.
func NewKeyWallet(key *ecdsa.PrivateKey, chains []ChainDefinition, logger *zap.Logger) *KeyWallet {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &KeyWallet{
		key:    key,
		chains: make(map[uint64]ChainDefinition, len(chains)),
		events: pubsub.NewHub[Event](),
		logger: logger,
	}
	if key != nil {
		w.address = crypto.PubkeyToAddress(key.PublicKey)
	}
	for _, def := range chains {
		w.chains[def.ChainID] = def
	}
	return w
}

// RequestAccounts grants access to the key's account.
func (w *KeyWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure.Normalize(err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.key == nil {
		return nil, failure.ErrWalletUnavailable
	}
	w.accounts = []common.Address{w.address}
	return append([]common.Address(nil), w.accounts...), nil
}

// Accounts returns the currently exposed accounts.
func (w *KeyWallet) Accounts() []common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]common.Address(nil), w.accounts...)
}

// SetAccounts replaces the exposed accounts and notifies subscribers. An
// empty list means the wallet revoked access.
func (w *KeyWallet) SetAccounts(accounts []common.Address) {
	w.mu.Lock()
	w.accounts = append([]common.Address(nil), accounts...)
	w.mu.Unlock()
	w.events.Publish(Event{Kind: AccountsChanged, Accounts: append([]common.Address(nil), accounts...)})
}

// AddChain registers a chain definition.
func (w *KeyWallet) AddChain(def ChainDefinition) error {
	if def.ChainID == 0 {
		return fmt.Errorf("chain id is required")
	}
	if len(def.RPCURLs) == 0 {
		return fmt.Errorf("chain %d: at least one rpc url is required", def.ChainID)
	}
	w.mu.Lock()
	w.chains[def.ChainID] = def
	w.mu.Unlock()
	w.logger.Info("chain added", zap.Uint64("chain_id", def.ChainID), zap.String("name", def.Name))
	return nil
}

// SwitchChain connects to chainID through the first of its RPC URLs that
// reports the right eth_chainId.
func (w *KeyWallet) SwitchChain(ctx context.Context, chainID uint64) error {
	w.mu.Lock()
	def, ok := w.chains[chainID]
	current := w.chainID
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("chain %d: %w", chainID, ErrUnrecognizedChain)
	}
	if current == chainID && w.Client() != nil {
		return nil
	}

	client, err := chain.DialChain(ctx, def.RPCURLs, chainID)
	if err != nil {
		return failure.New(failure.WrongNetwork, fmt.Sprintf("switch to chain %d", chainID), err)
	}

	w.mu.Lock()
	old := w.client
	w.client = client
	w.chainID = chainID
	w.mu.Unlock()
	if old != nil {
		old.Close()
	}

	w.logger.Info("chain switched", zap.Uint64("chain_id", chainID), zap.String("rpc", client.URL()))
	w.events.Publish(Event{Kind: ChainChanged, ChainID: chainID})
	return nil
}

// ChainID returns the active chain, if any.
func (w *KeyWallet) ChainID() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID, w.client != nil
}

// Client returns the RPC client of the active chain, or nil.
func (w *KeyWallet) Client() *chain.Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client
}

// Subscribe returns wallet notifications until unsubscribe is called.
func (w *KeyWallet) Subscribe() (<-chan Event, func()) {
	return w.events.Subscribe(8)
}

// Address returns the signing account.
func (w *KeyWallet) Address() common.Address {
	return w.address
}

// TransactOpts returns signing options for the active chain. Signing is
// refused once the wallet no longer exposes the key's account.
func (w *KeyWallet) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.key == nil {
		return nil, failure.ErrWalletUnavailable
	}
	if len(w.accounts) == 0 || w.accounts[0] != w.address {
		return nil, failure.New(failure.WalletUnavailable, "account access not granted", nil)
	}
	if w.client == nil {
		return nil, failure.New(failure.WrongNetwork, "no active chain", nil)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, new(big.Int).SetUint64(w.chainID))
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// Close drops the RPC connection and all subscribers.
func (w *KeyWallet) Close() {
	w.mu.Lock()
	client := w.client
	w.client = nil
	w.chainID = 0
	w.mu.Unlock()
	if client != nil {
		client.Close()
	}
	w.events.Close()
}
