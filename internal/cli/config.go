package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/config"
)

func newConfigCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate configuration files",
		Long: `Manage configuration files.

Subcommands:
  init     - Write an example configuration
  validate - Load and validate a configuration

Examples:
  autotrader config init -o autotrader.yaml
  autotrader config validate --config autotrader.yaml`,
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd(ro))
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Example().SaveToFile(output); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Created example configuration: %s\n", output)
			fmt.Fprintln(w, "Set the risk limits and symbols, then run:")
			fmt.Fprintf(w, "  autotrader run --config %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "autotrader.yaml", "Output config file path (.yaml or .json)")
	return cmd
}

func newConfigValidateCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				ro.ConfigPath = args[0]
			}
			cfg, err := ro.load()
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Configuration valid: %s\n", ro.ConfigPath)
			fmt.Fprintf(w, "  Symbols: %s (every %s)\n", strings.Join(cfg.Agent.Symbols, ", "), cfg.Agent.Interval)
			fmt.Fprintf(w, "  Strategies: %s\n", strings.Join(cfg.Strategies.Enabled, ", "))
			fmt.Fprintf(w, "  Risk: max position %.0f, %.2f%% per trade, daily loss limit %.2f\n",
				cfg.Risk.MaxPositionSize, cfg.Risk.PerTradeRiskPct*100, cfg.Risk.DailyLossLimit)
			fmt.Fprintf(w, "  Data: %s  Broker: %s  Journal: %s\n", cfg.Data.Source, cfg.Broker.Kind, cfg.Journal.Kind)
			return nil
		},
	}
}
