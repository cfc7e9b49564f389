package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"delex/internal/app"
	"delex/internal/chain"
	"delex/internal/config"
	"delex/internal/ledger"
	"delex/internal/model"
	"delex/internal/orchestrator"
	"delex/internal/registry"
	"delex/internal/session"
	"delex/internal/storage"
	"delex/internal/storage/postgres"
	"delex/internal/wallet"
)

// env is what every command starts from.
type env struct {
	cfg      config.Config
	logger   *zap.Logger
	out      io.Writer
	exchange common.Address
	tokens   []model.TokenMeta

	metrics         *prometheus.Registry
	ledgerMetrics   *ledger.Metrics
	registryMetrics *registry.Metrics
	orchMetrics     *orchestrator.Metrics
}

func setup(cmd *cobra.Command) (*env, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	exchange, err := config.ParseAddress(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}
	tokenCfgs, err := config.ParseTokens(cfg.Tokens)
	if err != nil {
		return nil, err
	}
	tokens := make([]model.TokenMeta, 0, len(tokenCfgs))
	for _, tc := range tokenCfgs {
		tokens = append(tokens, model.TokenMeta{Symbol: tc.Symbol, Address: tc.Address, Decimals: model.TokenDecimals})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &env{
		cfg:             cfg,
		logger:          logger,
		out:             cmd.OutOrStdout(),
		exchange:        exchange,
		tokens:          tokens,
		metrics:         reg,
		ledgerMetrics:   ledger.NewMetrics(reg),
		registryMetrics: registry.NewMetrics(reg),
		orchMetrics:     orchestrator.NewMetrics(reg),
	}, nil
}

func (e *env) chainDefinition() wallet.ChainDefinition {
	def := wallet.ChainDefinition{
		ChainID:      e.cfg.ChainID,
		Name:         e.cfg.ChainName,
		RPCURLs:      e.cfg.RPCURLs(),
		NativeSymbol: "ETH",
	}
	if e.cfg.Explorer != "" {
		def.ExplorerURLs = []string{e.cfg.Explorer}
	}
	return def
}

func (e *env) ledgerConfig() ledger.Config {
	return ledger.Config{
		Exchange:       e.exchange,
		Tokens:         e.tokens,
		CallTimeout:    e.cfg.CallTimeout,
		ConfirmTimeout: e.cfg.ConfirmTimeout,
		MaxRetries:     e.cfg.MaxRetries,
		RetryBackoff:   e.cfg.RetryBackoff,
		RPCRate:        e.cfg.RPCRate,
		RPCBurst:       e.cfg.RPCBurst,
	}
}

// readLedger dials the chain and binds without a signer.
func (e *env) readLedger(ctx context.Context) (*ledger.Binding, *chain.Client, error) {
	client, err := chain.DialChain(ctx, e.cfg.RPCURLs(), e.cfg.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rpc: %w", err)
	}
	b, err := ledger.Bind(ctx, e.ledgerConfig(), client.Backend(), nil, e.logger.Named("ledger"), e.ledgerMetrics)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return b, client, nil
}

// loadSnapshot runs one registry refresh against b.
func (e *env) loadSnapshot(ctx context.Context, b *ledger.Binding, account common.Address) (*model.Snapshot, error) {
	reg := registry.New(registry.Config{MaxConcurrency: e.cfg.MaxConcurrency}, e.logger.Named("registry"), e.registryMetrics)
	defer reg.Close()
	reg.SetSource(b, model.Session{
		Account:    account,
		HasAccount: account != (common.Address{}),
		ChainID:    e.cfg.ChainID,
		HasChain:   true,
	})
	return reg.Refresh(ctx)
}

// journal opens the configured sinks and state store. Both are nil when
// nothing is configured.
func (e *env) journal(ctx context.Context) (storage.Sink, storage.StateStore, func(), error) {
	var sinks storage.Fanout
	var state storage.StateStore
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if e.cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(e.cfg.Out))
	}
	if e.cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, e.cfg.PGDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		sinks = append(sinks, store)
		state = &storage.DBStateStore{Store: store, Name: fmt.Sprintf("delex:%d:%s", e.cfg.ChainID, e.exchange.Hex())}
	}
	if e.cfg.StateFile != "" {
		state = &storage.FileStateStore{Path: e.cfg.StateFile}
	}

	if len(sinks) == 0 {
		return nil, state, closeAll, nil
	}
	return sinks, state, closeAll, nil
}

// live is a connected wallet session driving the reactive pipeline.
type live struct {
	wallet   *wallet.KeyWallet
	sessions *session.Manager
	runtime  *app.Runtime
	cancel   context.CancelFunc
	group    *errgroup.Group
	closers  []func()
}

// connect loads the key, connects the session on the required chain and
// waits for the first committed snapshot.
func (e *env) connect(ctx context.Context) (*live, error) {
	key, err := wallet.LoadKey(e.cfg.PrivateKey, e.cfg.Keystore, e.cfg.KeystorePassword)
	if err != nil {
		return nil, err
	}
	w := wallet.NewKeyWallet(key, nil, e.logger.Named("wallet"))
	mgr := session.NewManager(w, e.chainDefinition(), e.logger.Named("session"))

	sink, state, closeJournal, err := e.journal(ctx)
	if err != nil {
		w.Close()
		return nil, err
	}

	binder := func(ctx context.Context, s model.Session) (app.Ledger, error) {
		client := w.Client()
		if client == nil {
			return nil, fmt.Errorf("wallet has no active chain")
		}
		b, err := ledger.Bind(ctx, e.ledgerConfig(), client.Backend(), w, e.logger.Named("ledger"), e.ledgerMetrics)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	reg := registry.New(registry.Config{MaxConcurrency: e.cfg.MaxConcurrency}, e.logger.Named("registry"), e.registryMetrics)
	rt := app.New(app.Config{
		RequiredChainID: e.cfg.ChainID,
		PollInterval:    e.cfg.PollInterval,
		MaxConcurrency:  e.cfg.MaxConcurrency,
		SlippageBps:     e.cfg.SlippageBps,
		Sink:            sink,
		State:           state,
	}, mgr, binder, reg, e.logger.Named("app"), e.orchMetrics)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return ignoreCanceled(mgr.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(rt.Run(gctx)) })

	l := &live{
		wallet:   w,
		sessions: mgr,
		runtime:  rt,
		cancel:   cancel,
		group:    g,
		closers:  []func(){closeJournal, reg.Close, mgr.Close, w.Close},
	}

	if _, err := mgr.Connect(ctx); err != nil {
		l.Close()
		return nil, err
	}
	if err := waitReady(ctx, rt); err != nil {
		l.Close()
		return nil, err
	}
	e.logger.Info("session ready",
		zap.String("account", w.Address().Hex()),
		zap.Uint64("chain_id", e.cfg.ChainID),
		zap.Int("pools", rt.Snapshot().Len()),
	)
	return l, nil
}

// Close stops the pipeline and releases the wallet and journal.
func (l *live) Close() {
	l.cancel()
	_ = l.group.Wait()
	l.runtime.Close()
	for _, c := range l.closers {
		c()
	}
}

func waitReady(ctx context.Context, rt *app.Runtime) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		if rt.Snapshot() != nil {
			return nil
		}
		if err := rt.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resolveToken accepts a configured symbol or a hex address.
func (e *env) resolveToken(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	for _, t := range e.tokens {
		if strings.EqualFold(t.Symbol, input) {
			return t.Address, nil
		}
	}
	addr, err := config.ParseAddress(input)
	if err != nil {
		return common.Address{}, fmt.Errorf("token %q is neither a configured symbol nor an address", input)
	}
	return addr, nil
}

func (e *env) symbol(addr common.Address) string {
	for _, t := range e.tokens {
		if t.Address == addr {
			return t.Symbol
		}
	}
	hex := addr.Hex()
	return hex[:6] + "…" + hex[len(hex)-4:]
}

func parsePoolID(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "0x") {
		input = "0x" + input
	}
	if len(input)%2 == 1 {
		input = "0x0" + input[2:]
	}
	raw, err := hexutil.Decode(input)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid pool id %q: %w", input, err)
	}
	if len(raw) == 0 || len(raw) > common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid pool id %q", input)
	}
	return common.BytesToHash(raw), nil
}
