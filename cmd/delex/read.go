package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"delex/internal/config"
	"delex/internal/model"
	"delex/internal/position"
	"delex/internal/quote"
	"delex/internal/wallet"
)

func newPoolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "List pools with reserves, utilization and rates",
		RunE:  runPools,
	}
	cmd.Flags().String("sort", "tvl", "sort by tvl, apy or id")
	cmd.Flags().String("filter", "all", "all or high-liquidity")
	return cmd
}

func runPools(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	sortFlag, _ := cmd.Flags().GetString("sort")
	filterFlag, _ := cmd.Flags().GetString("filter")
	key, err := quote.ParseSortKey(sortFlag)
	if err != nil {
		return err
	}
	filter, err := quote.ParseFilter(filterFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, client, err := e.readLedger(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	snap, err := e.loadSnapshot(ctx, b, common.Address{})
	if err != nil {
		return err
	}

	stats := quote.SnapshotStats(snap)
	fmt.Fprintf(e.out, "pools: %d  total tvl: %s  total borrowed: %s\n\n",
		stats.PoolCount, quote.FormatFixed(stats.TotalTVL, 18, 2), quote.FormatFixed(stats.TotalBorrowed, 18, 2))

	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POOL\tPAIR\tRESERVE A\tRESERVE B\tTVL\tUTIL A\tUTIL B\tAPY A\tAPY B\tTIER")
	for _, p := range quote.SortPools(quote.FilterPools(snap.Pools, filter), key) {
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID.Hex(),
			e.symbol(p.TokenA), e.symbol(p.TokenB),
			quote.FormatFixed(p.ReserveA, 18, 4),
			quote.FormatFixed(p.ReserveB, 18, 4),
			quote.FormatFixed(quote.TVL(p), 18, 2),
			quote.FormatPercent(quote.Utilization(p, model.SideA)),
			quote.FormatPercent(quote.Utilization(p, model.SideB)),
			quote.FormatPercent(quote.BorrowAPY(p, model.SideA)),
			quote.FormatPercent(quote.BorrowAPY(p, model.SideB)),
			quote.LiquidityTier(p),
		)
	}
	return tw.Flush()
}

func newPositionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show balances, liquidity shares and lending positions",
		RunE:  runPositions,
	}
	cmd.Flags().String("account", "", "account address (defaults to the configured key)")
	return cmd
}

// accountFlag returns --account, or the configured key's address. ok is false
// when neither is available.
func accountFlag(cmd *cobra.Command, e *env) (common.Address, bool, error) {
	if raw, _ := cmd.Flags().GetString("account"); raw != "" {
		addr, err := config.ParseAddress(raw)
		if err != nil {
			return common.Address{}, false, fmt.Errorf("account: %w", err)
		}
		return addr, true, nil
	}
	key, err := wallet.LoadKey(e.cfg.PrivateKey, e.cfg.Keystore, e.cfg.KeystorePassword)
	if err != nil {
		return common.Address{}, false, nil
	}
	return crypto.PubkeyToAddress(key.PublicKey), true, nil
}

func runPositions(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	account, ok, err := accountFlag(cmd, e)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("an --account or a configured key is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, client, err := e.readLedger(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	snap, err := e.loadSnapshot(ctx, b, account)
	if err != nil {
		return err
	}
	p, err := position.NewAggregator(e.cfg.MaxConcurrency, e.logger.Named("positions")).Aggregate(ctx, b, snap, account, b.Tokens())
	if err != nil {
		return err
	}
	printPortfolio(e, p)
	return nil
}

func printPortfolio(e *env, p *position.Portfolio) {
	fmt.Fprintf(e.out, "account %s (generation %d)\n\n", p.Account.Hex(), p.Generation)

	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tBALANCE")
	for _, t := range e.tokens {
		fmt.Fprintf(tw, "%s\t%s\n", t.Symbol, quote.FormatUnits(p.Balances[t.Symbol], t.Decimals))
	}
	tw.Flush()

	if len(p.Liquidity) > 0 {
		fmt.Fprintln(e.out)
		tw = tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "POOL\tLP SHARES")
		for _, l := range p.Liquidity {
			fmt.Fprintf(tw, "%s\t%s\n", l.PoolID.Hex(), quote.FormatUnits(l.Shares, 18))
		}
		tw.Flush()
	}

	if len(p.Positions) > 0 {
		fmt.Fprintln(e.out)
		tw = tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "POOL\tCOLLATERAL A\tCOLLATERAL B\tBORROWED A\tBORROWED B\tHEALTH")
		for _, entry := range p.Positions {
			pos := entry.Position
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				pos.PoolID.Hex(),
				quote.FormatUnits(pos.CollateralA, 18),
				quote.FormatUnits(pos.CollateralB, 18),
				quote.FormatUnits(pos.BorrowedA, 18),
				quote.FormatUnits(pos.BorrowedB, 18),
				formatHealth(entry.Health),
			)
		}
		tw.Flush()
	}
}

func formatHealth(h quote.HealthFactor) string {
	if h.Uncapped {
		return "∞"
	}
	s := quote.FormatFixed(h.Value, 18, 2)
	if h.Liquidatable() {
		s += " (at risk)"
	}
	return s
}

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap against current reserves",
		RunE:  runQuote,
	}
	cmd.Flags().String("pool", "", "pool id")
	cmd.Flags().String("token-in", "", "input token symbol or address")
	cmd.Flags().String("amount", "", "input amount (decimal)")
	return cmd
}

func runQuote(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	poolFlag, _ := cmd.Flags().GetString("pool")
	tokenFlag, _ := cmd.Flags().GetString("token-in")
	amountFlag, _ := cmd.Flags().GetString("amount")
	poolID, err := parsePoolID(poolFlag)
	if err != nil {
		return err
	}
	tokenIn, err := e.resolveToken(tokenFlag)
	if err != nil {
		return err
	}
	amountIn, err := quote.ParseUnits(amountFlag, model.TokenDecimals)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, client, err := e.readLedger(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	p, err := b.GetPoolInfo(ctx, poolID)
	if err != nil {
		return err
	}
	out, err := quote.QuoteSwap(p, tokenIn, amountIn)
	if err != nil {
		return err
	}
	side, _ := p.SideOf(tokenIn)
	tokenOut := p.TokenB
	if side == model.SideB {
		tokenOut = p.TokenA
	}

	fmt.Fprintf(e.out, "in:           %s %s\n", quote.FormatUnits(amountIn, 18), e.symbol(tokenIn))
	fmt.Fprintf(e.out, "out:          %s %s\n", quote.FormatUnits(out, 18), e.symbol(tokenOut))
	fmt.Fprintf(e.out, "min received: %s %s (%d bps slippage)\n",
		quote.FormatUnits(quote.MinReceived(out, e.cfg.SlippageBps), 18), e.symbol(tokenOut), e.cfg.SlippageBps)

	reserveIn, reserveOut := p.Reserve(side), p.Reserve(1-side)
	onchain, err := b.GetAmountOut(ctx, amountIn, reserveIn, reserveOut)
	if err != nil {
		e.logger.Warn("on-chain quote failed", zap.Error(err))
		return nil
	}
	if onchain.Cmp(out) != 0 {
		e.logger.Warn("on-chain quote differs",
			zap.String("local", out.String()),
			zap.String("onchain", onchain.String()),
		)
	}
	return nil
}

func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Show connection and contract diagnostics",
		RunE:  runDebug,
	}
	cmd.Flags().String("account", "", "account address (defaults to the configured key)")
	return cmd
}

func runDebug(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	account, _, err := accountFlag(cmd, e)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, client, err := e.readLedger(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	block, err := client.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	d := b.Diagnose(ctx, account)

	fmt.Fprintf(e.out, "rpc:      %s\n", client.URL())
	fmt.Fprintf(e.out, "chain:    %d\n", e.cfg.ChainID)
	fmt.Fprintf(e.out, "block:    %d\n", block)
	fmt.Fprintf(e.out, "exchange: %s\n", d.Exchange.Hex())
	fmt.Fprintf(e.out, "owner:    %s\n", d.Owner.Hex())
	if d.PoolsErr != nil {
		fmt.Fprintf(e.out, "pools:    error: %v\n", d.PoolsErr)
	} else {
		fmt.Fprintf(e.out, "pools:    %d\n", d.PoolCount)
	}
	if account == (common.Address{}) {
		fmt.Fprintln(e.out, "account:  none")
	} else {
		fmt.Fprintf(e.out, "account:  %s\n", d.Account.Hex())
	}

	fmt.Fprintln(e.out)
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tNAME\tADDRESS\tBALANCE")
	for _, t := range d.Tokens {
		balance := "-"
		switch {
		case t.Err != nil:
			balance = "error: " + t.Err.Error()
		case account != (common.Address{}):
			balance = quote.FormatUnits(t.Balance, t.Meta.Decimals)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Meta.Symbol, t.Meta.Name, t.Meta.Address.Hex(), balance)
	}
	return tw.Flush()
}
