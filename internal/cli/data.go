package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/market/oanda"
)

func newDataCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Market data tools",
	}

	oandaCmd := &cobra.Command{
		Use:   "oanda",
		Short: "OANDA dataset tools",
	}
	oandaCmd.AddCommand(newOandaCandlesCmd(ro))

	cmd.AddCommand(oandaCmd, newDataInspectCmd())
	return cmd
}

func newOandaCandlesCmd(ro *rootOptions) *cobra.Command {
	var (
		env         string
		token       string
		instruments string
		granularity string
		price       string
		fromStr     string
		toStr       string
		count       int
		outPath     string
		baseURL     string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "candles",
		Short: "Download OANDA candles to a bar CSV (time,symbol,open,high,low,close,volume)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(ro.EnvFiles...); err != nil {
				return err
			}
			if token == "" {
				token = strings.TrimSpace(os.Getenv(config.EnvOANDAToken))
			}
			if token == "" {
				return fmt.Errorf("missing token: set --token or env %s", config.EnvOANDAToken)
			}
			if outPath == "" {
				return fmt.Errorf("missing --out")
			}
			instList := splitCSV(instruments)
			if len(instList) == 0 {
				return fmt.Errorf("no instruments parsed from %q", instruments)
			}

			var from, to time.Time
			var err error
			if fromStr != "" {
				if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
					return fmt.Errorf("bad --from %q: %w", fromStr, err)
				}
			}
			if toStr != "" {
				if to, err = time.Parse(time.RFC3339, toStr); err != nil {
					return fmt.Errorf("bad --to %q: %w", toStr, err)
				}
			}
			if from.IsZero() && count <= 0 {
				return fmt.Errorf("set --from or --count")
			}

			client, err := oanda.NewClient(oanda.Config{Env: env, Token: token, Timeout: timeout})
			if err != nil {
				return err
			}
			if baseURL != "" {
				client.BaseURL = baseURL
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			var bars []market.Bar
			for _, inst := range instList {
				got, err := client.Candles(ctx, oanda.CandlesOptions{
					Instrument:  inst,
					Granularity: granularity,
					Price:       price,
					From:        from,
					To:          to,
					Count:       count,
				})
				if err != nil {
					return fmt.Errorf("%s: %w", inst, err)
				}
				bars = append(bars, got...)
			}

			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := market.WriteBarsCSV(f, bars); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bars to %s\n", len(bars), outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&env, "env", "practice", "OANDA environment: practice|live")
	cmd.Flags().StringVar(&token, "token", "", "OANDA API token (or env "+config.EnvOANDAToken+")")
	cmd.Flags().StringVar(&instruments, "instruments", "EUR_USD", "Comma-separated instruments (e.g. EUR_USD,USD_JPY)")
	cmd.Flags().StringVar(&granularity, "granularity", "H1", "Candle granularity (M1, M5, H1, D, ...)")
	cmd.Flags().StringVar(&price, "price", "M", "Price component: M (mid), B (bid) or A (ask)")
	cmd.Flags().StringVar(&fromStr, "from", "", "Start time, RFC3339")
	cmd.Flags().StringVar(&toStr, "to", "", "End time, RFC3339")
	cmd.Flags().IntVar(&count, "count", 0, "Number of candles when --from is not set")
	cmd.Flags().StringVar(&outPath, "out", "", "Output CSV path")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Override OANDA base URL (for testing)")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "HTTP timeout per request")
	return cmd
}

func newDataInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <bars.csv>",
		Short: "Show the symbols, bar counts and time range of a bar CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bars, err := market.LoadBarsCSV(args[0])
			if err != nil {
				return err
			}
			src := market.NewReplaySource(bars, 0)
			w := cmd.OutOrStdout()
			for _, sym := range src.Symbols() {
				var first, last market.Bar
				n := 0
				for {
					b, ok := src.Advance(sym)
					if !ok {
						break
					}
					if n == 0 {
						first = b
					}
					last = b
					n++
				}
				fmt.Fprintf(w, "%s: %d bars, %s .. %s\n", sym, n,
					first.Time.Format(time.RFC3339), last.Time.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
