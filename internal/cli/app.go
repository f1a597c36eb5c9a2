package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/autotrader/adapt"
	"github.com/rustyeddy/autotrader/agent"
	"github.com/rustyeddy/autotrader/broker/paper"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/export"
	"github.com/rustyeddy/autotrader/fusion"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/market/oanda"
	"github.com/rustyeddy/autotrader/metrics"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/strategies"
)

// app is one fully wired agent with everything it owns.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	agent    *agent.Agent
	bus      *events.Bus
	paper    *paper.Broker
	risk     *risk.Manager
	orders   *execution.Manager
	adapt    *adapt.Controller
	replay   *market.ReplaySource // nil unless data.source is replay
	registry *prometheus.Registry
	exporter *export.RedisExporter
}

type buildOptions struct {
	// journal and external sinks are skipped when false
	sinks bool
	// process collectors are left out of the registry when false
	processMetrics bool
}

func build(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts buildOptions) (*app, error) {
	a := &app{cfg: cfg, log: log}

	a.registry = prometheus.NewRegistry()
	if opts.processMetrics {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	rec := metrics.New(a.registry)

	a.bus = events.NewBus(log)
	a.bus.Subscribe(rec.Handle)

	a.paper = paper.New(cfg.Broker.Paper, log)

	data, err := a.dataSource(cfg)
	if err != nil {
		return nil, err
	}

	a.risk, err = risk.NewManager(cfg.Risk, log)
	if err != nil {
		return nil, fmt.Errorf("risk: %w", err)
	}

	strats, err := strategies.Build(cfg.Strategies)
	if err != nil {
		return nil, fmt.Errorf("strategies: %w", err)
	}
	engine := strategies.NewEngine(log, strats...)

	initial := make(map[string]float64, len(strats))
	for _, id := range engine.IDs() {
		initial[id] = cfg.Strategies.InitialWeight(id)
	}
	a.adapt, err = adapt.NewController(cfg.Adapt, initial, a.risk, a.bus, log)
	if err != nil {
		return nil, fmt.Errorf("adapt: %w", err)
	}

	a.orders = execution.NewManager(cfg.Execution, a.paper, a.bus, log)

	if opts.sinks {
		if err := a.addSinks(ctx, cfg); err != nil {
			a.bus.Close()
			return nil, err
		}
	}

	deps := agent.Deps{
		Data:       data,
		Broker:     a.paper,
		Strategies: engine,
		Fuser:      fusion.New(cfg.Fusion, a.adapt),
		Risk:       a.risk,
		Orders:     a.orders,
		Adapt:      a.adapt,
		Bus:        a.bus,
		Metrics:    rec,
	}
	if a.exporter != nil {
		deps.Exporter = a.exporter
	}
	a.agent, err = agent.New(cfg.Agent, deps, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) dataSource(cfg *config.Config) (market.DataSource, error) {
	switch cfg.Data.Source {
	case "oanda":
		c, err := oanda.NewClient(cfg.Data.OANDA)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrFatalConfig, err)
		}
		src := oanda.NewSource(c, cfg.Data.OANDA.Granularity, cfg.Data.OANDA.Price)
		return observed{DataSource: src, fn: a.paper.ObserveBar}, nil
	default:
		bars, err := market.LoadBarsCSV(cfg.Data.CSV)
		if err != nil {
			return nil, fmt.Errorf("load bars: %w", err)
		}
		a.replay = market.NewReplaySource(bars, cfg.Data.Pace)
		a.replay.OnBar(a.paper.ObserveBar)
		have := a.replay.Symbols()
		for _, sym := range cfg.Agent.Symbols {
			if !slices.Contains(have, sym) {
				return nil, fmt.Errorf("%s has no bars for %s", cfg.Data.CSV, sym)
			}
			a.replay.Skip(sym, cfg.Data.Warmup)
		}
		return a.replay, nil
	}
}

func (a *app) addSinks(ctx context.Context, cfg *config.Config) error {
	switch cfg.Journal.Kind {
	case "sqlite", "csv":
		var (
			j   journal.Journal
			err error
		)
		if cfg.Journal.Kind == "sqlite" {
			j, err = journal.NewSQLite(cfg.Journal.Path)
		} else {
			j, err = journal.NewCSV(cfg.Journal.Path)
		}
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		a.bus.AddSink("journal", journal.NewSink(j), 0)
	}

	if cfg.Events.Kafka.Enabled {
		k, err := events.NewKafkaSink(cfg.Events.Kafka)
		if err != nil {
			return err
		}
		a.bus.AddSink("kafka", k, cfg.Events.Kafka.Queue)
	}

	if cfg.Export.Enabled {
		a.exporter = export.NewRedisExporter(cfg.Export, a.log)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.exporter.Ping(pctx); err != nil {
			a.log.Warn().Err(err).Str("addr", cfg.Export.Addr).Msg("redis unreachable, snapshots will retry")
		}
	}
	return nil
}

// setClock drives every component from one time source.
func (a *app) setClock(now func() time.Time) {
	a.agent.SetClock(now)
	a.risk.SetClock(now)
	a.orders.SetClock(now)
}

// Close detaches the agent, drains the sinks and closes the exporter.
func (a *app) Close() error {
	if a.agent != nil {
		a.agent.Close()
	}
	var errs []error
	if err := a.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.exporter != nil {
		if err := a.exporter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// observed feeds every latest bar to the paper broker before the agent
// sees it.
type observed struct {
	market.DataSource
	fn func(market.Bar)
}

func (o observed) GetBars(ctx context.Context, symbol string, n int) ([]market.Bar, error) {
	bars, err := o.DataSource.GetBars(ctx, symbol, n)
	if err == nil && len(bars) > 0 {
		o.fn(market.Last(bars))
	}
	return bars, err
}
