package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/adapt"
	"github.com/rustyeddy/autotrader/agent"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/internal/logging"
	"github.com/rustyeddy/autotrader/journal"
)

type replayOptions struct {
	csv     string
	noSinks bool
	flatten bool
}

func newReplayCmd(ro *rootOptions) *cobra.Command {
	o := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a bar CSV through the full pipeline as fast as possible",
		Long: `Replay drives the agent bar by bar from a CSV file. Every component runs
on the bar clock, so a replay of the same file and config is repeatable.

Example:
  autotrader replay --config autotrader.yaml --csv data/eurusd_h1.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ro.load()
			if err != nil {
				return err
			}
			if o.csv != "" {
				cfg.Data.CSV = o.csv
			}
			if cfg.Data.Source != "replay" {
				return fmt.Errorf("%w: replay needs data.source replay", config.ErrFatalConfig)
			}

			log, closer, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			return runReplay(cmd.Context(), cmd.OutOrStdout(), cfg, log, *o)
		},
	}

	cmd.Flags().StringVar(&o.csv, "csv", "", "Bar CSV to replay (overrides data.csv)")
	cmd.Flags().BoolVar(&o.noSinks, "no-journal", false, "Do not write the journal or external sinks")
	cmd.Flags().BoolVar(&o.flatten, "flatten", true, "Flatten open positions after the last bar")
	return cmd
}

// replayClock is the bar clock shared by every component during a replay.
type replayClock struct {
	ns atomic.Int64
}

func (c *replayClock) set(t time.Time) { c.ns.Store(t.UnixNano()) }
func (c *replayClock) now() time.Time  { return time.Unix(0, c.ns.Load()).UTC() }

// tradeTally collects closed trades from outcome events.
type tradeTally struct {
	mu     sync.Mutex
	trades []journal.TradeRecord
}

func (t *tradeTally) handle(e events.Event) {
	if o, ok := e.Data.(adapt.Outcome); ok {
		t.mu.Lock()
		t.trades = append(t.trades, journal.TradeFromOutcome(o))
		t.mu.Unlock()
	}
}

func (t *tradeTally) summary() journal.Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return journal.Summarize(t.trades)
}

func runReplay(ctx context.Context, out io.Writer, cfg *config.Config, log zerolog.Logger, o replayOptions) error {
	a, err := build(ctx, cfg, log, buildOptions{sinks: !o.noSinks})
	if err != nil {
		return err
	}
	defer a.Close()

	clock := &replayClock{}
	a.setClock(clock.now)
	tally := &tradeTally{}
	a.bus.Subscribe(tally.handle)

	var bars, failed int
	for ctx.Err() == nil {
		advanced := false
		for _, sym := range cfg.Agent.Symbols {
			b, ok := a.replay.Advance(sym)
			if !ok {
				continue
			}
			advanced = true
			bars++
			clock.set(b.Time)
			a.orders.PollOnce(ctx)
			if err := a.agent.Tick(ctx, sym); err != nil && !errors.Is(err, agent.ErrTickInProgress) {
				failed++
			}
		}
		if !advanced {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if o.flatten {
		res, err := a.agent.ApplyOverride(ctx, agent.Override{Action: agent.ActionFlattenAll, Reason: "end of replay"})
		if err != nil {
			log.Warn().Err(err).Msg("flatten at end of replay")
		}
		a.log.Info().Int("orders", len(res.Orders)).Msg("flattened at end of replay")
	}
	a.agent.PublishSnapshot(ctx)

	printReplay(out, bars, failed, a.agent.Snapshot(), tally.summary())
	return nil
}

func printReplay(w io.Writer, bars, failed int, snap agent.Snapshot, sum journal.Summary) {
	fmt.Fprintf(w, "Replay complete: %d bars, %d failed ticks\n", bars, failed)
	fmt.Fprintf(w, "  Balance: %.2f  Equity: %.2f  Realized: %.2f\n",
		snap.Account.Balance, snap.Account.Equity, snap.Account.RealizedPnL)
	fmt.Fprintf(w, "  Trades: %d (wins %d, losses %d)  Net PnL: %.2f  Profit factor: %.2f\n",
		sum.Trades, sum.Wins, sum.Losses, sum.NetPnL, sum.ProfitFactor)
	fmt.Fprintf(w, "  Risk per trade: %.4f  Daily PnL: %.2f  Halted: %t\n",
		snap.Risk.PerTradeRiskPct, snap.Risk.CurrentDailyPnL, snap.Risk.Halted)

	states := make([]execution.State, 0, len(snap.OrderStats))
	for s := range snap.OrderStats {
		states = append(states, s)
	}
	slices.Sort(states)
	fmt.Fprint(w, "  Orders:")
	for _, s := range states {
		fmt.Fprintf(w, " %s=%d", s, snap.OrderStats[s])
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, "  Weights:")
	for _, sw := range snap.Weights {
		fmt.Fprintf(w, " %s=%.3f", sw.StrategyID, sw.Weight)
	}
	fmt.Fprintln(w)
}
