// Package registry aggregates every pool into one generation-stamped
// snapshot and keeps slow refreshes from overwriting newer ones.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"delex/internal/failure"
	"delex/internal/model"
	"delex/internal/pubsub"
)

// ErrStale is returned by Refresh when a newer refresh or an invalidation
// started while it was in flight. Nothing was committed.
var ErrStale = errors.New("refresh superseded by a newer generation")

// PoolSource lists pools and reads one pool.
type PoolSource interface {
	GetAllPools(ctx context.Context) ([]common.Hash, error)
	GetPoolInfo(ctx context.Context, id common.Hash) (model.Pool, error)
}

// Config controls refresh fan-out.
type Config struct {
	MaxConcurrency int
}

type sourceState struct {
	src     PoolSource
	session model.Session
}

// Registry owns the committed Snapshot. Readers never lock: the snapshot is
// swapped in whole.
type Registry struct {
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics

	source    atomic.Pointer[sourceState]
	snapshot  atomic.Pointer[model.Snapshot]
	requested atomic.Uint64

	commitMu sync.Mutex
	updates  *pubsub.Hub[*model.Snapshot]
}

// New creates an empty registry.
func New(cfg Config, logger *zap.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		updates: pubsub.NewHub[*model.Snapshot](),
	}
}

// StartGeneration makes the next generation start after gen. Lower values
// are ignored so generations never go backwards.
func (r *Registry) StartGeneration(gen uint64) {
	for {
		cur := r.requested.Load()
		if gen <= cur || r.requested.CompareAndSwap(cur, gen) {
			return
		}
	}
}

// SetSource installs the binding that subsequent refreshes read from and
// fences out every refresh already in flight.
func (r *Registry) SetSource(src PoolSource, session model.Session) {
	r.source.Store(&sourceState{src: src, session: session})
	r.Invalidate()
}

// Invalidate makes every in-flight refresh stale without clearing the
// committed snapshot.
func (r *Registry) Invalidate() {
	r.requested.Add(1)
}

// Reset drops the source and the committed snapshot. Used on disconnect and
// chain change, where no previous pool data is valid.
func (r *Registry) Reset() {
	r.source.Store(nil)
	r.Invalidate()
	r.commitMu.Lock()
	r.snapshot.Store(nil)
	r.commitMu.Unlock()
	if r.metrics != nil {
		r.metrics.pools.Set(0)
	}
}

// Snapshot returns the committed snapshot, or nil before the first commit.
func (r *Registry) Snapshot() *model.Snapshot {
	return r.snapshot.Load()
}

// Generation returns the latest requested generation.
func (r *Registry) Generation() uint64 {
	return r.requested.Load()
}

// Subscribe returns committed snapshots.
func (r *Registry) Subscribe() (<-chan *model.Snapshot, func()) {
	return r.updates.Subscribe(4)
}

// Refresh lists every pool, fetches them concurrently and commits the result
// as a new snapshot, unless a newer generation was requested meanwhile.
// Pools that fail to load are left out.
func (r *Registry) Refresh(ctx context.Context) (*model.Snapshot, error) {
	state := r.source.Load()
	if state == nil || state.src == nil {
		return nil, failure.New(failure.BindingNotReady, "pool source not set", nil)
	}
	gen := r.requested.Add(1)
	start := time.Now()
	defer r.metrics.observeRefresh(start)

	ids, err := state.src.GetAllPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}

	results := make([]*model.Pool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			pool, err := state.src.GetPoolInfo(gctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.metrics.poolFailed()
				r.logger.Warn("pool fetch failed",
					zap.String("pool", id.Hex()),
					zap.Uint64("generation", gen),
					zap.Error(err),
				)
				return nil
			}
			pool.ID = id
			results[i] = &pool
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pools := make([]model.Pool, 0, len(results))
	for _, p := range results {
		if p != nil {
			pools = append(pools, p.Clone())
		}
	}
	snap := &model.Snapshot{
		Pools:            pools,
		FetchedAtSession: state.session,
		Generation:       gen,
		FetchedAt:        time.Now().UTC(),
	}

	r.commitMu.Lock()
	if r.requested.Load() != gen {
		r.commitMu.Unlock()
		r.metrics.staleDiscarded()
		r.logger.Debug("stale refresh discarded", zap.Uint64("generation", gen), zap.Uint64("requested", r.requested.Load()))
		return nil, ErrStale
	}
	r.snapshot.Store(snap)
	r.commitMu.Unlock()

	r.metrics.committed(len(pools))
	r.logger.Debug("snapshot committed",
		zap.Uint64("generation", gen),
		zap.Int("pools", len(pools)),
		zap.Int("listed", len(ids)),
	)
	r.updates.Publish(snap)
	return snap, nil
}

// Close drops every subscriber.
func (r *Registry) Close() {
	r.updates.Close()
}
