package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/market"
)

// Run ticks every symbol on its own goroutine, polls working orders and
// runs the session, decay and snapshot schedules until ctx is done. It then
// shuts execution down and returns.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info().Strs("symbols", a.cfg.Symbols).Dur("interval", a.cfg.Interval).Bool("push", a.cfg.Push).Msg("agent starting")
	if a.Metrics != nil {
		a.Metrics.SetPaused(a.paused.Load())
	}

	var wg sync.WaitGroup
	for _, sym := range a.cfg.Symbols {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runSymbol(ctx, sym)
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = a.Orders.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.runSchedule(ctx)
	}()

	<-ctx.Done()
	wg.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	err := a.Orders.Shutdown(sctx)
	a.log.Info().Err(err).Msg("agent stopped")
	return err
}

func (a *Agent) runSymbol(ctx context.Context, symbol string) {
	if a.cfg.Push {
		if sub, ok := a.Data.(market.Subscriber); ok {
			ch, err := sub.Subscribe(ctx, symbol)
			if err == nil {
				for range ch {
					a.tick(ctx, symbol)
				}
				return
			}
			a.log.Warn().Err(err).Str("symbol", symbol).Msg("subscribe failed, polling instead")
		}
	}

	a.tick(ctx, symbol)
	t := time.NewTicker(a.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.tick(ctx, symbol)
		}
	}
}

// tick runs Tick and drops errors; Tick already logs them.
func (a *Agent) tick(ctx context.Context, symbol string) {
	if err := a.Tick(ctx, symbol); errors.Is(err, ErrTickInProgress) {
		a.log.Debug().Str("symbol", symbol).Msg("tick skipped, previous still running")
	}
}

func (a *Agent) runSchedule(ctx context.Context) {
	session := time.NewTimer(time.Until(nextBoundary(a.now(), a.offset)))
	defer session.Stop()

	var decayC, snapC <-chan time.Time
	if a.cfg.DecayInterval > 0 {
		t := time.NewTicker(a.cfg.DecayInterval)
		defer t.Stop()
		decayC = t.C
	}
	if a.cfg.SnapshotInterval > 0 {
		t := time.NewTicker(a.cfg.SnapshotInterval)
		defer t.Stop()
		snapC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-session.C:
			a.ResetSession()
			session.Reset(time.Until(nextBoundary(a.now(), a.offset)))
		case <-decayC:
			ws := a.Adapt.Decay()
			if a.Metrics != nil {
				a.Metrics.SetWeights(ws)
			}
		case <-snapC:
			a.PublishSnapshot(ctx)
		}
	}
}

// PublishSnapshot refreshes the account, emits an equity event and hands
// the snapshot to the exporter.
func (a *Agent) PublishSnapshot(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.TickTimeout)
	defer cancel()

	if acct, err := a.refreshAccount(ctx); err != nil {
		a.log.Warn().Err(err).Msg("account refresh failed")
	} else {
		a.publish(events.KindEquity, "", "equity", acct)
	}

	snap := a.Snapshot()
	if a.Metrics != nil {
		a.Metrics.SetProfile(snap.Risk)
		a.Metrics.SetWeights(snap.Weights)
		a.Metrics.SetPaused(snap.Paused)
	}
	if a.Exporter != nil {
		if err := a.Exporter.Export(ctx, snap); err != nil {
			a.log.Warn().Err(err).Msg("snapshot export failed")
		}
	}
}
