package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/config"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	ConfigPath string
	EnvFiles   []string
	LogLevel   string
}

func NewRootCmd() *cobra.Command {
	ro := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "autotrader",
		Short:         "Autotrader: autonomous strategy-fusion trading agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&ro.ConfigPath, "config", "c", "", "Path to config file (YAML or JSON)")
	cmd.PersistentFlags().StringSliceVar(&ro.EnvFiles, "env-file", []string{".env"}, "KEY=VALUE files loaded into the environment")
	cmd.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "", "Override log level: trace|debug|info|warn|error")

	cmd.AddCommand(
		newRunCmd(ro),
		newReplayCmd(ro),
		newConfigCmd(ro),
		newDataCmd(ro),
		newJournalCmd(),
		newVersionCmd(),
	)

	return cmd
}

// load reads the env files and the config file, then applies flag
// overrides.
func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadEnv(o.EnvFiles...); err != nil {
		return nil, err
	}
	if o.ConfigPath == "" {
		return nil, errors.New("missing --config")
	}
	cfg, err := config.LoadFromFile(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	return cfg, nil
}

func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, config.ErrFatalConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
