// Package app wires the session, ledger binding, pool registry, position
// aggregator and orchestrator into one reactive pipeline: every session
// change rebinds and refreshes, every committed snapshot recomputes the
// portfolio.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"delex/internal/failure"
	"delex/internal/model"
	"delex/internal/orchestrator"
	"delex/internal/position"
	"delex/internal/pubsub"
	"delex/internal/registry"
	"delex/internal/session"
	"delex/internal/storage"
)

// Ledger is everything the pipeline reads and writes through one binding.
// *ledger.Binding satisfies it.
type Ledger interface {
	registry.PoolSource
	position.Source
	orchestrator.Ledger
	Tokens() []model.TokenMeta
}

// Binder creates a ledger binding for a live session.
type Binder func(ctx context.Context, s model.Session) (Ledger, error)

// Sessions is the session owner the pipeline follows.
type Sessions interface {
	Current() model.Session
	Subscribe() (<-chan session.Change, func())
}

// Config holds pipeline settings.
type Config struct {
	RequiredChainID uint64
	PollInterval    time.Duration
	MaxConcurrency  int
	SlippageBps     uint64
	// Sink journals committed snapshots and finished intents. Optional.
	Sink storage.Sink
	// State persists the last committed generation. Optional.
	State storage.StateStore
}

// Runtime is the reactive pipeline.
type Runtime struct {
	cfg       Config
	sessions  Sessions
	bind      Binder
	registry  *registry.Registry
	poller    *registry.Poller
	positions *position.Aggregator
	logger    *zap.Logger
	metrics   *orchestrator.Metrics

	portfolios *pubsub.Hub[*position.Portfolio]

	mu        sync.Mutex
	ledger    Ledger
	attached  model.Session
	orch      *orchestrator.Orchestrator
	portfolio *position.Portfolio
	err       error
}

// New creates a runtime. Nothing happens until Run.
func New(cfg Config, sessions Sessions, bind Binder, reg *registry.Registry, logger *zap.Logger, metrics *orchestrator.Metrics) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		cfg:        cfg,
		sessions:   sessions,
		bind:       bind,
		registry:   reg,
		poller:     registry.NewPoller(reg, cfg.PollInterval, logger.Named("poller")),
		positions:  position.NewAggregator(cfg.MaxConcurrency, logger.Named("positions")),
		logger:     logger,
		metrics:    metrics,
		portfolios: pubsub.NewHub[*position.Portfolio](),
	}
}

// Run follows session changes and committed snapshots until ctx is done.
// A session that is already live when Run starts is attached immediately.
func (r *Runtime) Run(ctx context.Context) error {
	if r.cfg.State != nil {
		gen, ok, err := r.cfg.State.Load(ctx)
		if err != nil {
			r.logger.Warn("load state failed", zap.Error(err))
		} else if ok {
			r.registry.StartGeneration(gen)
			r.logger.Info("resuming generations", zap.Uint64("generation", gen))
		}
	}

	changes, unsubscribeSessions := r.sessions.Subscribe()
	defer unsubscribeSessions()
	snapshots, unsubscribeSnapshots := r.registry.Subscribe()
	defer unsubscribeSnapshots()
	defer r.poller.Stop()

	if cur := r.sessions.Current(); cur.Live() {
		r.handle(ctx, session.Change{Session: cur, Reason: session.Connected})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch, ok := <-changes:
			if !ok {
				return nil
			}
			r.handle(ctx, ch)
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			r.onSnapshot(ctx, snap)
		}
	}
}

// handle brings the pipeline in line with the session as it is now. The
// change only names the trigger: a change dropped while an earlier one was
// being handled is covered by the next, since the current session is read
// here.
func (r *Runtime) handle(ctx context.Context, ch session.Change) {
	cur := r.sessions.Current()
	r.logger.Info("session change", zap.String("reason", ch.Reason.String()), zap.Stringer("session", cur))

	switch {
	case !cur.Live():
		r.teardown(nil)
		return
	case !cur.OnChain(r.cfg.RequiredChainID):
		r.teardown(r.wrongNetwork(cur))
		return
	}

	r.mu.Lock()
	prev, bound := r.attached, r.ledger != nil
	r.mu.Unlock()
	switch {
	case bound && prev == cur:
		return
	case bound && prev.ChainID == cur.ChainID:
		r.poller.Stop()
		r.positions.Invalidate()
	default:
		r.teardown(nil)
	}
	r.attach(ctx, cur)
}

func (r *Runtime) wrongNetwork(s model.Session) error {
	return failure.Newf(failure.WrongNetwork, "chain %d is active, %d is required", s.ChainID, r.cfg.RequiredChainID)
}

// teardown stops polling and drops every piece of derived state.
func (r *Runtime) teardown(cause error) {
	r.poller.Stop()
	r.registry.Reset()
	r.positions.Invalidate()

	r.mu.Lock()
	r.ledger = nil
	r.attached = model.Session{}
	r.orch = nil
	r.portfolio = nil
	r.err = cause
	r.mu.Unlock()

	if cause != nil {
		r.logger.Warn("pipeline halted", zap.Error(cause))
	}
}

func (r *Runtime) attach(ctx context.Context, s model.Session) {
	led, err := r.bind(ctx, s)
	if err != nil {
		r.teardown(failure.Normalize(err))
		return
	}

	orch := orchestrator.New(led, orchestrator.Config{
		Refresher: r.registry,
		Journal:   r.cfg.Sink,
		Session:   r.sessions.Current,
	}, r.logger.Named("orchestrator"), r.metrics)

	r.mu.Lock()
	r.ledger = led
	r.attached = s
	r.orch = orch
	r.portfolio = nil
	r.err = nil
	r.mu.Unlock()

	r.registry.SetSource(led, s)
	if _, err := r.registry.Refresh(ctx); err != nil && !errors.Is(err, registry.ErrStale) {
		r.logger.Warn("initial refresh failed", zap.Error(err))
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}
	r.poller.Start(ctx)
}

func (r *Runtime) onSnapshot(ctx context.Context, snap *model.Snapshot) {
	if snap == nil {
		return
	}
	if r.cfg.Sink != nil {
		if err := r.cfg.Sink.PutSnapshot(ctx, model.NewSnapshotRecord(snap)); err != nil {
			r.logger.Warn("journal snapshot failed", zap.Uint64("generation", snap.Generation), zap.Error(err))
		}
	}
	if r.cfg.State != nil {
		if err := r.cfg.State.Save(ctx, snap.Generation); err != nil {
			r.logger.Warn("save state failed", zap.Error(err))
		}
	}

	r.mu.Lock()
	led := r.ledger
	r.mu.Unlock()
	cur := r.sessions.Current()
	if led == nil || !cur.Live() || snap.FetchedAtSession.Account != cur.Account {
		return
	}

	p, err := r.positions.Aggregate(ctx, led, snap, cur.Account, led.Tokens())
	if err != nil {
		r.logger.Warn("aggregate positions failed", zap.Uint64("generation", snap.Generation), zap.Error(err))
		return
	}
	if committed := r.registry.Snapshot(); committed == nil || committed.Generation != snap.Generation {
		r.logger.Debug("discarding portfolio for superseded snapshot", zap.Uint64("generation", snap.Generation))
		return
	}

	r.mu.Lock()
	r.portfolio = p
	r.mu.Unlock()
	r.portfolios.Publish(p)
}

// Snapshot returns the committed pool snapshot, or nil.
func (r *Runtime) Snapshot() *model.Snapshot {
	return r.registry.Snapshot()
}

// Portfolio returns the latest portfolio, or nil.
func (r *Runtime) Portfolio() *position.Portfolio {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.portfolio
}

// SubscribePortfolio returns recomputed portfolios.
func (r *Runtime) SubscribePortfolio() (<-chan *position.Portfolio, func()) {
	return r.portfolios.Subscribe(4)
}

// Err returns why the pipeline is halted, or nil.
func (r *Runtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Ledger returns the active binding.
func (r *Runtime) Ledger() (Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ledger == nil {
		return nil, r.notReady()
	}
	return r.ledger, nil
}

func (r *Runtime) notReady() error {
	if r.err != nil {
		return r.err
	}
	return failure.New(failure.BindingNotReady, "no active binding", nil)
}

// Builder returns an intent builder for the active session and snapshot.
func (r *Runtime) Builder() orchestrator.Builder {
	s := r.sessions.Current()
	return orchestrator.Builder{
		Account:     s.Account,
		ChainID:     s.ChainID,
		Snapshot:    r.registry.Snapshot(),
		SlippageBps: r.cfg.SlippageBps,
	}
}

// Execute builds an intent against the current state and runs it.
func (r *Runtime) Execute(ctx context.Context, build func(orchestrator.Builder) (orchestrator.Intent, error)) (orchestrator.Outcome, error) {
	r.mu.Lock()
	orch := r.orch
	var notReady error
	if orch == nil {
		notReady = r.notReady()
	}
	r.mu.Unlock()
	if s := r.sessions.Current(); notReady == nil && s.Live() && !s.OnChain(r.cfg.RequiredChainID) {
		notReady = r.wrongNetwork(s)
	}
	if notReady != nil {
		return orchestrator.Outcome{Status: orchestrator.Failed, Err: notReady}, notReady
	}

	in, err := build(r.Builder())
	if err != nil {
		return orchestrator.Outcome{Status: orchestrator.Failed, Err: err}, err
	}
	return orch.Execute(ctx, in)
}

// SubscribeIntents returns intent transitions of the active orchestrator.
func (r *Runtime) SubscribeIntents(buffer int) (<-chan orchestrator.Update, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.orch == nil {
		return nil, nil, r.notReady()
	}
	ch, unsubscribe := r.orch.Subscribe(buffer)
	return ch, unsubscribe, nil
}

// Account is the active session account.
func (r *Runtime) Account() (common.Address, bool) {
	s := r.sessions.Current()
	return s.Account, s.Live()
}

// Close drops every portfolio subscriber.
func (r *Runtime) Close() {
	r.poller.Stop()
	r.portfolios.Close()
}
