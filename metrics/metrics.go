// Package metrics records agent activity as Prometheus series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rustyeddy/autotrader/adapt"
	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/fusion"
	"github.com/rustyeddy/autotrader/risk"
)

const namespace = "autotrader"

type Recorder struct {
	ticks        *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	decisions    *prometheus.CounterVec
	vetoes       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	fills        *prometheus.CounterVec
	retries      *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	weights      *prometheus.GaugeVec
	dailyPnL     prometheus.Gauge
	equity       prometheus.Gauge
	riskPct      prometheus.Gauge
	halted       prometheus.Gauge
	paused       prometheus.Gauge
}

// New registers the agent series with reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Ticks by symbol and result (ok, skipped, error)",
			},
			[]string{"symbol", "result"},
		),
		tickDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_seconds",
				Help:      "Duration of one symbol tick",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"symbol"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Fused decisions by direction",
			},
			[]string{"symbol", "direction"},
		),
		vetoes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "risk_vetoes_total",
				Help:      "Risk vetoes by violation code",
			},
			[]string{"symbol", "code"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_transitions_total",
				Help:      "Order state transitions by target state",
			},
			[]string{"state"},
		),
		fills: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_fills_total",
				Help:      "Fills by symbol and side",
			},
			[]string{"symbol", "side"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submit_retries_total",
				Help:      "Order submit retries",
			},
			[]string{"symbol"},
		),
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trade_outcomes_total",
				Help:      "Trade outcomes by result",
			},
			[]string{"result"},
		),
		weights: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "strategy_weight",
				Help:      "Current fusion weight per strategy",
			},
			[]string{"strategy"},
		),
		dailyPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_pnl",
			Help:      "Realized PnL in the current session",
		}),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_equity",
			Help:      "Broker account equity",
		}),
		riskPct: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "per_trade_risk_pct",
			Help:      "Per-trade risk fraction",
		}),
		halted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "halted",
			Help:      "1 when new orders are halted",
		}),
		paused: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "paused",
			Help:      "1 when the agent is paused",
		}),
	}
}

func (r *Recorder) ObserveTick(symbol, result string, d time.Duration) {
	r.ticks.WithLabelValues(symbol, result).Inc()
	r.tickDuration.WithLabelValues(symbol).Observe(d.Seconds())
}

func (r *Recorder) SetEquity(v float64) {
	r.equity.Set(v)
}

func (r *Recorder) SetPaused(p bool) {
	r.paused.Set(b2f(p))
}

// SetProfile copies the risk profile gauges.
func (r *Recorder) SetProfile(p risk.Profile) {
	r.dailyPnL.Set(p.CurrentDailyPnL)
	r.riskPct.Set(p.PerTradeRiskPct)
	r.halted.Set(b2f(p.Halted))
}

func (r *Recorder) SetWeights(ws []adapt.StrategyWeight) {
	for _, w := range ws {
		r.weights.WithLabelValues(w.StrategyID).Set(w.Weight)
	}
}

// Handle updates series from a bus event. Subscribe it with
// events.Bus.Subscribe.
func (r *Recorder) Handle(e events.Event) {
	switch d := e.Data.(type) {
	case execution.Transition:
		r.transitions.WithLabelValues(string(d.To)).Inc()
	case execution.FillEvent:
		r.fills.WithLabelValues(d.Order.Symbol, string(d.Order.Side)).Inc()
	case execution.RetryEvent:
		r.retries.WithLabelValues(d.Order.Symbol).Inc()
	case fusion.Decision:
		r.decisions.WithLabelValues(d.Symbol, d.Direction.String()).Inc()
	case risk.Verdict:
		if d.Vetoed() {
			r.vetoes.WithLabelValues(d.Symbol, d.Code()).Inc()
		}
	case risk.Profile:
		r.SetProfile(d)
	case adapt.Outcome:
		r.outcomes.WithLabelValues(string(d.Result())).Inc()
	case adapt.Update:
		r.SetWeights(d.Weights)
		if d.RiskPct > 0 {
			r.riskPct.Set(d.RiskPct)
		}
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
