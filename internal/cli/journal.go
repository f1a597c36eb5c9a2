package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/journal"
)

type journalOptions struct {
	db   string
	from string
	to   string
}

// window parses --from and --to (YYYY-MM-DD, UTC). --to is inclusive.
// Unset bounds cover all time.
func (o *journalOptions) window() (time.Time, time.Time, error) {
	start := time.Unix(0, 0).UTC()
	end := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	if o.from != "" {
		t, err := time.Parse("2006-01-02", o.from)
		if err != nil {
			return start, end, fmt.Errorf("bad --from: %w", err)
		}
		start = t
	}
	if o.to != "" {
		t, err := time.Parse("2006-01-02", o.to)
		if err != nil {
			return start, end, fmt.Errorf("bad --to: %w", err)
		}
		end = t.Add(24 * time.Hour)
	}
	return start, end, nil
}

func (o *journalOptions) open() (*journal.SQLite, error) {
	j, err := journal.NewSQLite(o.db)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func newJournalCmd() *cobra.Command {
	o := &journalOptions{}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the SQLite trade journal",
		Long: `Query orders, fills, trades and equity recorded by the agent.

Examples:
  autotrader journal summary --from 2024-01-01
  autotrader journal orders --state Failed
  autotrader journal order <order-id>`,
	}
	cmd.PersistentFlags().StringVarP(&o.db, "db", "d", "autotrader.db", "Path to SQLite journal")
	cmd.PersistentFlags().StringVar(&o.from, "from", "", "First day (YYYY-MM-DD, UTC)")
	cmd.PersistentFlags().StringVar(&o.to, "to", "", "Last day (YYYY-MM-DD, UTC)")

	cmd.AddCommand(
		newJournalSummaryCmd(o),
		newJournalOrdersCmd(o),
		newJournalOrderCmd(o),
		newJournalTradesCmd(o),
		newJournalEquityCmd(o),
	)
	return cmd
}

func newJournalSummaryCmd(o *journalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Win rate, profit factor and net PnL of closed trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := o.window()
			if err != nil {
				return err
			}
			j, err := o.open()
			if err != nil {
				return err
			}
			defer j.Close()

			s, err := j.Summarize(start, end)
			if err != nil {
				return fmt.Errorf("summarize: %w", err)
			}
			printSummary(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func printSummary(w io.Writer, s journal.Summary) {
	fmt.Fprintf(w, "Trades:        %d\n", s.Trades)
	fmt.Fprintf(w, "Wins/Losses:   %d/%d\n", s.Wins, s.Losses)
	fmt.Fprintf(w, "Win rate:      %.1f%%\n", s.WinRate*100)
	fmt.Fprintf(w, "Gross profit:  %.2f\n", s.GrossProfit)
	fmt.Fprintf(w, "Gross loss:    %.2f\n", s.GrossLoss)
	fmt.Fprintf(w, "Net PnL:       %.2f\n", s.NetPnL)
	fmt.Fprintf(w, "Profit factor: %.2f\n", s.ProfitFactor)
}

func newJournalOrdersCmd(o *journalOptions) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := o.window()
			if err != nil {
				return err
			}
			j, err := o.open()
			if err != nil {
				return err
			}
			defer j.Close()

			recs, err := j.ListOrders(start, end, state)
			if err != nil {
				return fmt.Errorf("query orders: %w", err)
			}
			w := cmd.OutOrStdout()
			for _, r := range recs {
				fmt.Fprintf(w, "%s  %-16s %-8s %-4s %10.2f/%-10.2f %-8s %s\n",
					r.UpdatedAt.Format(time.RFC3339), r.State, r.Symbol, r.Side,
					r.FilledQuantity, r.Quantity, r.Purpose, r.OrderID)
			}
			fmt.Fprintf(w, "%d orders\n", len(recs))
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only orders in this state")
	return cmd
}

func newJournalOrderCmd(o *journalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "order <order-id>",
		Short: "Show one order and its fills",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := o.open()
			if err != nil {
				return err
			}
			defer j.Close()

			r, err := j.GetOrder(args[0])
			if err != nil {
				return err
			}
			fills, err := j.ListFills(r.OrderID)
			if err != nil {
				return fmt.Errorf("query fills: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Order:      %s\n", r.OrderID)
			fmt.Fprintf(w, "Client ID:  %s\n", r.ClientOrderID)
			fmt.Fprintf(w, "Broker ID:  %s\n", r.BrokerOrderID)
			fmt.Fprintf(w, "Symbol:     %s %s %.2f (%s)\n", r.Symbol, r.Side, r.Quantity, r.Purpose)
			fmt.Fprintf(w, "State:      %s\n", r.State)
			fmt.Fprintf(w, "Filled:     %.2f @ %.5f\n", r.FilledQuantity, r.AvgFillPrice)
			fmt.Fprintf(w, "Attempts:   %d\n", r.Attempts)
			fmt.Fprintf(w, "Strategies: %s\n", strings.Join(r.Strategies, ", "))
			if r.LastError != "" {
				fmt.Fprintf(w, "Last error: %s\n", r.LastError)
			}
			for _, f := range fills {
				fmt.Fprintf(w, "  fill %s  %.2f @ %.5f  %s\n", f.FillID, f.Quantity, f.Price, f.Time.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newJournalTradesCmd(o *journalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trades",
		Short: "List closed trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := o.window()
			if err != nil {
				return err
			}
			j, err := o.open()
			if err != nil {
				return err
			}
			defer j.Close()

			recs, err := j.ListTradesClosedBetween(start, end)
			if err != nil {
				return fmt.Errorf("query trades: %w", err)
			}
			w := cmd.OutOrStdout()
			for _, t := range recs {
				fmt.Fprintf(w, "%s  %-8s %-5s %10.2f  %.5f -> %.5f  %10.2f  %-7s %s\n",
					t.CloseTime.Format(time.RFC3339), t.Symbol, t.Direction, t.Quantity,
					t.EntryPrice, t.ExitPrice, t.RealizedPnL, t.Result, strings.Join(t.Strategies, ","))
			}
			printSummary(w, journal.Summarize(recs))
			return nil
		},
	}
}

func newJournalEquityCmd(o *journalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "equity",
		Short: "Print the equity curve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := o.window()
			if err != nil {
				return err
			}
			j, err := o.open()
			if err != nil {
				return err
			}
			defer j.Close()

			snaps, err := j.ListEquityBetween(start, end)
			if err != nil {
				return fmt.Errorf("query equity: %w", err)
			}
			w := cmd.OutOrStdout()
			for _, e := range snaps {
				fmt.Fprintf(w, "%s  balance %.2f  equity %.2f  realized %.2f\n",
					e.Time.Format(time.RFC3339), e.Balance, e.Equity, e.RealizedPnL)
			}
			return nil
		},
	}
}
