package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"delex/internal/failure"
	"delex/internal/model"
	"delex/internal/orchestrator"
	"delex/internal/quote"
)

type buildFunc func(e *env, flags *pflag.FlagSet, b orchestrator.Builder) (orchestrator.Intent, error)

type intentCmd struct {
	use   string
	short string
	flags []string
	build buildFunc
}

var flagHelp = map[string]string{
	"pool":     "pool id",
	"token":    "token symbol or address",
	"token-in": "input token symbol or address",
	"token-a":  "first token symbol or address",
	"token-b":  "second token symbol or address",
	"amount":   "amount (decimal)",
	"amount-a": "amount of the pool's token A (decimal)",
	"amount-b": "amount of the pool's token B (decimal)",
	"shares":   "LP shares to burn (decimal)",
}

func newIntentCmds() []*cobra.Command {
	defs := []intentCmd{
		{"swap", "Swap one pool token for the other", []string{"pool", "token-in", "amount"}, buildSwap},
		{"add-liquidity", "Add liquidity to a pool", []string{"pool", "amount-a", "amount-b"}, buildAddLiquidity},
		{"remove-liquidity", "Burn LP shares", []string{"pool", "shares"}, buildRemoveLiquidity},
		{"create-pool", "Create a pool for a token pair", []string{"token-a", "token-b"}, buildCreatePool},
		{"deposit", "Deposit collateral", []string{"pool", "token", "amount"}, lending(orchestrator.KindDeposit)},
		{"borrow", "Borrow against collateral", []string{"pool", "token", "amount"}, lending(orchestrator.KindBorrow)},
		{"repay", "Repay a loan", []string{"pool", "token", "amount"}, lending(orchestrator.KindRepay)},
		{"withdraw", "Withdraw collateral", []string{"pool", "token", "amount"}, lending(orchestrator.KindWithdraw)},
		{"faucet", "Request test tokens", []string{"token"}, buildFaucet},
	}

	cmds := make([]*cobra.Command, 0, len(defs))
	for _, def := range defs {
		def := def
		cmd := &cobra.Command{
			Use:   def.use,
			Short: def.short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runIntent(cmd, def.build)
			},
		}
		for _, name := range def.flags {
			cmd.Flags().String(name, "", flagHelp[name])
			_ = cmd.MarkFlagRequired(name)
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func runIntent(cmd *cobra.Command, build buildFunc) error {
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

	updates, unsubscribe, err := l.runtime.SubscribeIntents(16)
	if err != nil {
		return err
	}
	progress := make(chan struct{})
	go func() {
		defer close(progress)
		for u := range updates {
			if u.Status.Terminal() {
				continue
			}
			if u.TxHash != (common.Hash{}) {
				fmt.Fprintf(e.out, "%s: %s %s\n", u.Status, u.TxHash.Hex(), e.txLink(u.TxHash))
			} else {
				fmt.Fprintf(e.out, "%s\n", u.Status)
			}
		}
	}()

	out, err := l.runtime.Execute(ctx, func(b orchestrator.Builder) (orchestrator.Intent, error) {
		return build(e, cmd.Flags(), b)
	})
	unsubscribe()
	<-progress

	if err != nil {
		return describeFailure(err)
	}
	fmt.Fprintf(e.out, "%s: intent %s\n", out.Status, out.IntentID)
	for _, h := range out.TxHashes {
		fmt.Fprintf(e.out, "  %s\n", e.txLink(h))
	}
	return nil
}

func (e *env) txLink(h common.Hash) string {
	if e.cfg.Explorer == "" {
		return h.Hex()
	}
	return strings.TrimSuffix(e.cfg.Explorer, "/") + "/tx/" + h.Hex()
}

// describeFailure turns classified failures into the messages a user acts on.
func describeFailure(err error) error {
	var fe *failure.Error
	if !errors.As(err, &fe) {
		return err
	}
	switch {
	case fe.Kind == failure.CallReverted && fe.Reason == orchestrator.ReasonPoolExists:
		return fmt.Errorf("a pool for this token pair already exists")
	case fe.Kind == failure.InsufficientAllowance:
		return fmt.Errorf("token allowance is too low: %w", err)
	case fe.Kind == failure.WrongNetwork:
		return fmt.Errorf("wrong network, switch to the required chain: %w", err)
	case fe.Kind == failure.WalletUnavailable:
		return fmt.Errorf("no wallet available, configure --private-key or --keystore: %w", err)
	case fe.Kind == failure.UserRejected:
		return fmt.Errorf("request rejected: %w", err)
	}
	return err
}

func amountFlag(flags *pflag.FlagSet, name string) (*big.Int, error) {
	raw, _ := flags.GetString(name)
	v, err := quote.ParseUnits(raw, model.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return v, nil
}

func poolFlag(flags *pflag.FlagSet) (common.Hash, error) {
	raw, _ := flags.GetString("pool")
	return parsePoolID(raw)
}

func tokenFlag(e *env, flags *pflag.FlagSet, name string) (common.Address, error) {
	raw, _ := flags.GetString(name)
	addr, err := e.resolveToken(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("--%s: %w", name, err)
	}
	return addr, nil
}

func buildSwap(e *env, flags *pflag.FlagSet, b orchestrator.Builder) (orchestrator.Intent, error) {
	poolID, err := poolFlag(flags)
	if err != nil {
		return orchestrator.Intent{}, err
	}
	tokenIn, err := tokenFlag(e, flags, "token-in")
	if err != nil {
		return orchestrator.Intent{}, err
	}
	amount, err := amountFlag(flags, "amount")
	if err != nil {
		return orchestrator.Intent{}, err
	}
	return b.Swap(poolID, tokenIn, amount)
}

func buildAddLiquidity(_ *env, flags *pflag.FlagSet, b orchestrator.Builder) (orchestrator.Intent, error) {
	poolID, err := poolFlag(flags)
	if err != nil {
		return orchestrator.Intent{}, err
	}
	amountA, err := amountFlag(flags, "amount-a")
	if err != nil {
		return orchestrator.Intent{}, err
	}
	amountB, err := amountFlag(flags, "amount-b")
	if err != nil {
		return orchestrator.Intent{}, err
	}
	return b.AddLiquidity(poolID, amountA, amountB)
}

func buildRemoveLiquidity(_ *env, flags *pflag.FlagSet, b orchestrator.Builder) (orchestrator.Intent, error) {
	poolID, err := poolFlag(flags)
	if err != nil {
		return orchestrator.Intent{}, err
	}
	shares, err := amountFlag(flags, "shares")
	if err != nil {
		return orchestrator.Intent{}, err
	}
	return b.RemoveLiquidity(poolID, shares)
}

func buildCreatePool(e *env, flags *pflag.FlagSet, b orchestrator.Builder) (orchestrator.Intent, error) {
	tokenA, err := tokenFlag(e, flags, "token-a")
	if err != nil {
		return orchestrator.Intent{}, err
	}
	tokenB, err := tokenFlag(e, flags, "token-b")
	if err != nil {
		return orchestrator.Intent{}, err
	}
	return b.CreatePool(tokenA, tokenB)
}

func lending(kind orchestrator.Kind) buildFunc {
	return func(e *env, flags *pflag.FlagSet, b orchestrator.Builder) (orchestrator.Intent, error) {
		poolID, err := poolFlag(flags)
		if err != nil {
			return orchestrator.Intent{}, err
		}
		token, err := tokenFlag(e, flags, "token")
		if err != nil {
			return orchestrator.Intent{}, err
		}
		amount, err := amountFlag(flags, "amount")
		if err != nil {
			return orchestrator.Intent{}, err
		}
		return b.Lending(kind, poolID, token, amount)
	}
}

func buildFaucet(e *env, flags *pflag.FlagSet, b orchestrator.Builder) (orchestrator.Intent, error) {
	token, err := tokenFlag(e, flags, "token")
	if err != nil {
		return orchestrator.Intent{}, err
	}
	return b.Faucet(token)
}
