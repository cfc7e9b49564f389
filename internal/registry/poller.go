package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller refreshes a registry on a fixed interval. Refreshes run on the
// poller goroutine, so a slow refresh delays the next tick instead of
// overlapping it.
type Poller struct {
	registry *Registry
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a stopped poller.
func NewPoller(registry *Registry, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{registry: registry, interval: interval, logger: logger}
}

// Start begins polling. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop cancels polling, including a refresh in flight, and waits for the
// loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := p.registry.Refresh(ctx); err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, ErrStale):
				p.logger.Debug("poll superseded", zap.Error(err))
			default:
				p.logger.Warn("poll refresh failed", zap.Error(err))
			}
		}
	}
}
