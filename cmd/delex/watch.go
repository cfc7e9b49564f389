package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"delex/internal/quote"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session live, refreshing pools and positions",
		RunE:  runWatch,
	}
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	g, gctx := errgroup.WithContext(ctx)

	if e.cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              e.cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(e.metrics, promhttp.HandlerOpts{Registry: e.metrics}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			e.logger.Info("metrics listening", zap.String("addr", e.cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	portfolios, unsubscribe := l.runtime.SubscribePortfolio()
	defer unsubscribe()
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case p, ok := <-portfolios:
				if !ok {
					return nil
				}
				stats := quote.SnapshotStats(l.runtime.Snapshot())
				e.logger.Info("portfolio updated",
					zap.Uint64("generation", p.Generation),
					zap.Int("pools", stats.PoolCount),
					zap.String("total_tvl", quote.FormatFixed(stats.TotalTVL, 18, 2)),
					zap.Int("liquidity_positions", len(p.Liquidity)),
					zap.Int("lending_positions", len(p.Positions)),
				)
				for _, entry := range p.Positions {
					if entry.Health.Liquidatable() {
						e.logger.Warn("position at risk",
							zap.String("pool", entry.Position.PoolID.Hex()),
							zap.String("health", formatHealth(entry.Health)),
						)
					}
				}
			}
		}
	})

	if p := l.runtime.Portfolio(); p != nil {
		printPortfolio(e, p)
	}
	return ignoreCanceled(g.Wait())
}
