package cli

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/internal/logging"
	"github.com/rustyeddy/autotrader/server"
)

func newRunCmd(ro *rootOptions) *cobra.Command {
	var paused bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading agent until interrupted",
		Long: `Run the agent against the configured data source and broker.

The HTTP control surface (snapshot, pause/resume, overrides, /metrics and
the /ws event stream) is served while the agent runs. SIGINT or SIGTERM
stops ticking, cancels open entry orders and drains the journal.

Example:
  autotrader run --config autotrader.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ro.load()
			if err != nil {
				return err
			}
			if paused {
				cfg.Agent.StartPaused = true
			}

			log, closer, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg, log, buildOptions{sinks: true, processMetrics: true})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Error().Err(err).Msg("shutdown")
				}
			}()

			var wg sync.WaitGroup
			if cfg.Server.Enabled {
				srv := server.New(cfg.Server, a.agent, a.bus, a.registry, log)
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := srv.Run(ctx); err != nil {
						log.Error().Err(err).Msg("http server")
						stop()
					}
				}()
			}

			err = a.agent.Run(ctx)
			stop()
			wg.Wait()

			// final equity and snapshot for the journal and exporter
			a.agent.PublishSnapshot(context.Background())
			if err != nil {
				return fmt.Errorf("agent: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&paused, "paused", false, "Start paused: manage open positions but take no new entries")
	return cmd
}
