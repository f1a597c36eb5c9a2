package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/autotrader/fusion"
	"github.com/rustyeddy/autotrader/internal/id"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/strategies"
)

// Profile is a snapshot of the process-wide risk state.
type Profile struct {
	MaxPositionSize float64           `json:"max_position_size"`
	PerTradeRiskPct float64           `json:"per_trade_risk_pct"`
	DailyLossLimit  float64           `json:"daily_loss_limit"`
	CurrentDailyPnL float64           `json:"current_daily_pnl"`
	CommittedRisk   float64           `json:"committed_risk"`
	Halted          bool              `json:"halted"`
	HaltReason      string            `json:"halt_reason,omitempty"`
	HaltedSymbols   map[string]string `json:"halted_symbols,omitempty"`
	OpenPositions   []Position        `json:"open_positions"`
	Reservations    int               `json:"reservations"`
	SessionStart    time.Time         `json:"session_start"`
}

// Proposal carries the market inputs for sizing a decision.
type Proposal struct {
	Entry  float64
	ATR    float64
	Equity float64
	// Multipliers from regime analysis; zero means 1.
	RiskMultiplier float64
	StopMultiplier float64
	TakeMultiplier float64
	// QuoteToAccount converts quote currency to account currency; zero means 1.
	QuoteToAccount float64
}

// Fill is an executed quantity reported back to the manager.
type Fill struct {
	Symbol        string
	Direction     strategies.Direction
	Quantity      float64
	Price         float64
	ReservationID string
	Strategies    []string
	Time          time.Time
}

// FillResult describes the effect of a fill on the position.
type FillResult struct {
	Realized       float64
	ClosedQuantity float64
	// Closed is true when the fill took the position to flat or through it.
	Closed bool
	// Strategies that opened the exposure this fill closed.
	Strategies []string
	Position   Position
}

// ExitIntent asks the caller to close a position.
type ExitIntent struct {
	Symbol     string
	Direction  strategies.Direction // side of the closing order
	Quantity   float64
	Price      float64
	Reason     string
	Strategies []string
}

const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
)

type reservation struct {
	id             string
	symbol         string
	direction      strategies.Direction
	quantity       float64
	stopDistance   float64
	takeMultiple   float64
	quoteToAccount float64
}

func (r *reservation) risk() float64 {
	return r.quantity * r.stopDistance * r.quoteToAccount
}

// Manager is the single serialized owner of the risk profile. Every
// exported method takes the mutex for a short critical section.
type Manager struct {
	mu  sync.Mutex
	cfg Config
	log zerolog.Logger
	now func() time.Time

	dailyPnL     float64
	lossHalted   bool
	haltReason   string
	symbolHalts  map[string]string
	positions    map[string]*Position
	reservations map[string]*reservation
	exiting      map[string]bool
	sessionStart time.Time
}

func NewManager(cfg Config, log zerolog.Logger) (*Manager, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	d := DefaultConfig()
	if cfg.StopMethod == "" {
		cfg.StopMethod = d.StopMethod
	}
	if cfg.StopATRMultiple <= 0 {
		cfg.StopATRMultiple = d.StopATRMultiple
	}
	if cfg.StopPct <= 0 {
		cfg.StopPct = d.StopPct
	}
	if cfg.StopPips <= 0 {
		cfg.StopPips = d.StopPips
	}
	if cfg.RewardRisk <= 0 {
		cfg.RewardRisk = d.RewardRisk
	}
	if cfg.LotStep <= 0 {
		cfg.LotStep = d.LotStep
	}

	m := &Manager{
		cfg:          cfg,
		log:          log.With().Str("component", "risk").Logger(),
		now:          time.Now,
		symbolHalts:  make(map[string]string),
		positions:    make(map[string]*Position),
		reservations: make(map[string]*reservation),
		exiting:      make(map[string]bool),
	}
	m.sessionStart = m.now().UTC()
	return m, nil
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Evaluate gates and sizes a decision. An approved open reserves its risk
// before returning, so concurrent evaluations see each other's commitments.
func (m *Manager) Evaluate(d fusion.Decision, p Proposal) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := Verdict{Symbol: d.Symbol, Direction: d.Direction, Entry: p.Entry}

	// 1. halts
	if m.breachedLocked() || m.haltReason != "" {
		vetoHalted(&v, m.dailyPnL, m.cfg.DailyLossLimit, m.haltReason)
		return v
	}
	if reason, ok := m.symbolHalts[d.Symbol]; ok {
		v.add(CodeSymbolHalted, fmt.Sprintf("%s halted: %s", d.Symbol, reason))
		return v
	}

	// 2. direction
	if d.Direction == strategies.Flat {
		v.add(CodeNoDirection, "decision is flat")
		return v
	}

	// 3. opposing exposure
	pos := m.positions[d.Symbol]
	if pos != nil && pos.Direction() == d.Direction.Opposite() {
		if m.cfg.HedgePolicy == HedgeCloseFirst {
			v.Approved = true
			v.Action = ActionClose
			v.Quantity = abs(pos.Quantity)
			return v
		}
		v.add(CodeOpposing, fmt.Sprintf("open %s position of %g", pos.Direction(), abs(pos.Quantity)))
		return v
	}
	if q := m.reservedLocked(d.Symbol, d.Direction.Opposite()); q > 0 {
		v.add(CodeOpposing, fmt.Sprintf("pending %s order for %g", d.Direction.Opposite(), q))
		return v
	}

	// 4. sizing
	if p.Entry <= 0 || p.Equity <= 0 {
		v.add(CodeInvalidProposal, fmt.Sprintf("entry %g and equity %g must be positive", p.Entry, p.Equity))
		return v
	}
	q2a := p.QuoteToAccount
	if q2a <= 0 {
		q2a = 1
	}

	dist := m.stopDistanceLocked(d.Symbol, p)
	if dist <= 0 || math.IsNaN(dist) || math.IsInf(dist, 0) {
		v.add(CodeNoStop, fmt.Sprintf("cannot derive stop distance (method %s, atr %g)", m.cfg.StopMethod, p.ATR))
		return v
	}
	if dist >= p.Entry && d.Direction == strategies.Long {
		v.add(CodeNoStop, fmt.Sprintf("stop distance %g at or beyond entry %g", dist, p.Entry))
		return v
	}

	riskPct := m.cfg.PerTradeRiskPct
	if p.RiskMultiplier > 0 {
		riskPct = min(riskPct*p.RiskMultiplier, MaxPerTradeRiskPct)
	}
	sign := d.Direction.Sign()
	size := Calculate(Inputs{
		Equity:         p.Equity,
		RiskPct:        riskPct,
		EntryPrice:     p.Entry,
		StopPrice:      p.Entry - sign*dist,
		QuoteToAccount: q2a,
	})
	qty := size.Units

	exposure := m.reservedLocked(d.Symbol, d.Direction)
	if pos != nil {
		exposure += abs(pos.Quantity)
	}
	if room := m.cfg.MaxPositionSize - exposure; qty > room {
		v.adjust(CodeClampMaxPosition, fmt.Sprintf("size %g clamped to %g (max %g, exposure %g)", qty, room, m.cfg.MaxPositionSize, exposure))
		qty = room
	}

	budget := m.cfg.DailyLossLimit + m.dailyPnL - m.committedLocked()
	if budgetQty := budget / (dist * q2a); qty > budgetQty {
		v.adjust(CodeClampDailyBudget, fmt.Sprintf("size %g clamped to %g (remaining budget %.2f)", qty, budgetQty, budget))
		qty = budgetQty
	}

	step := market.LotStep(d.Symbol, m.cfg.LotStep)
	qty = RoundDown(qty, step)
	if qty <= 0 {
		v.add(CodeSizeNonPositive, fmt.Sprintf("size rounds to %g (lot step %g)", qty, step))
		return v
	}
	if meta, ok := market.Instruments[d.Symbol]; ok && qty < meta.MinQuantity {
		v.add(CodeSizeNonPositive, fmt.Sprintf("size %g below minimum %g", qty, meta.MinQuantity))
		return v
	}

	r := &reservation{
		id:             id.New(),
		symbol:         d.Symbol,
		direction:      d.Direction,
		quantity:       qty,
		stopDistance:   dist,
		takeMultiple:   p.TakeMultiplier,
		quoteToAccount: q2a,
	}
	m.reservations[r.id] = r

	v.Approved = true
	v.Action = ActionOpen
	v.Quantity = qty
	v.StopDistance = dist
	v.StopPrice = p.Entry - sign*dist
	v.TakePrice = m.takeLocked(p.Entry, sign, dist, p.TakeMultiplier)
	v.RiskAmount = r.risk()
	v.RiskPct = RiskPct(v.RiskAmount, p.Equity)
	v.ReservationID = r.id
	return v
}

func (m *Manager) stopDistanceLocked(symbol string, p Proposal) float64 {
	var dist float64
	switch m.cfg.StopMethod {
	case StopPercent:
		dist = p.Entry * m.cfg.StopPct
	case StopPips:
		loc := -4
		if meta, ok := market.Instruments[symbol]; ok {
			loc = meta.PipLocation
		}
		dist = m.cfg.StopPips * PipSize(loc)
	default:
		if p.ATR > 0 {
			dist = p.ATR * m.cfg.StopATRMultiple
		} else {
			// no volatility estimate yet
			dist = p.Entry * m.cfg.StopPct
		}
	}
	if p.StopMultiplier > 0 {
		dist *= p.StopMultiplier
	}
	return dist
}

func (m *Manager) takeLocked(entry, sign, dist, mult float64) float64 {
	if mult <= 0 {
		mult = 1
	}
	take := entry + sign*m.cfg.RewardRisk*mult*dist
	if take <= 0 {
		take = entry * 0.05
	}
	return take
}

func (m *Manager) breachedLocked() bool {
	if m.dailyPnL <= -m.cfg.DailyLossLimit {
		if !m.lossHalted {
			m.lossHalted = true
			m.log.Warn().
				Float64("daily_pnl", m.dailyPnL).
				Float64("limit", m.cfg.DailyLossLimit).
				Msg("daily loss limit reached, halting new orders")
		}
	}
	return m.lossHalted
}

func (m *Manager) reservedLocked(symbol string, dir strategies.Direction) float64 {
	q := 0.0
	for _, r := range m.reservations {
		if r.symbol == symbol && r.direction == dir {
			q += r.quantity
		}
	}
	return q
}

func (m *Manager) committedLocked() float64 {
	total := 0.0
	for _, r := range m.reservations {
		total += r.risk()
	}
	for _, p := range m.positions {
		total += p.AtRisk()
	}
	return total
}

// Release drops what remains of a reservation. Unknown ids are ignored.
func (m *Manager) Release(reservationID string) {
	if reservationID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, reservationID)
}

// ApplyFill is the only way position quantity changes. Realized PnL is
// added to the daily total.
func (m *Manager) ApplyFill(f Fill) (FillResult, error) {
	if f.Quantity <= 0 || f.Price <= 0 {
		return FillResult{}, fmt.Errorf("invalid fill %g @ %g", f.Quantity, f.Price)
	}
	if f.Direction == strategies.Flat {
		return FillResult{}, fmt.Errorf("fill for %s has no direction", f.Symbol)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var dist, takeMult float64
	if r, ok := m.reservations[f.ReservationID]; ok {
		dist = r.stopDistance
		takeMult = r.takeMultiple
		r.quantity -= f.Quantity
		if r.quantity <= qtyEpsilon {
			delete(m.reservations, r.id)
		}
	}

	pos, ok := m.positions[f.Symbol]
	if !ok {
		pos = &Position{Symbol: f.Symbol}
		m.positions[f.Symbol] = pos
	}
	wasFlat := pos.Flat()
	before := pos.Direction()
	openers := pos.Strategies

	realized, closed := pos.apply(f.Quantity*f.Direction.Sign(), f.Price)
	res := FillResult{
		Realized:       realized,
		ClosedQuantity: closed,
	}
	if closed > 0 {
		res.Strategies = openers
		res.Closed = pos.Direction() != before
		m.dailyPnL += realized
		m.breachedLocked()
	}

	switch {
	case pos.Flat():
		delete(m.positions, f.Symbol)
		delete(m.exiting, f.Symbol)
	case wasFlat || pos.Direction() != before:
		pos.OpenedAt = f.Time
		pos.Strategies = append([]string(nil), f.Strategies...)
		m.protectLocked(pos, dist, takeMult)
		delete(m.exiting, f.Symbol)
	case closed == 0:
		pos.Strategies = mergeIDs(pos.Strategies, f.Strategies)
		if dist > 0 {
			m.protectLocked(pos, dist, takeMult)
		}
	}

	res.Position = *pos
	return res, nil
}

// protectLocked sets stop and take around the average entry.
func (m *Manager) protectLocked(pos *Position, dist, takeMult float64) {
	if dist <= 0 {
		dist = pos.AvgEntryPrice * m.cfg.StopPct
	}
	sign := pos.Direction().Sign()
	pos.StopPrice = pos.AvgEntryPrice - sign*dist
	pos.TakePrice = m.takeLocked(pos.AvgEntryPrice, sign, dist, takeMult)
}

// RecordRealized adds PnL that did not come through ApplyFill, such as fees.
func (m *Manager) RecordRealized(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL += pnl
	m.breachedLocked()
}

// ResetSession starts a new trading day: the daily PnL returns to zero and
// a daily loss halt is lifted. Manual halts stay in place.
func (m *Manager) ResetSession(at time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.dailyPnL
	m.dailyPnL = 0
	m.lossHalted = false
	m.sessionStart = at.UTC()
	m.log.Info().Float64("previous_pnl", prev).Time("session_start", m.sessionStart).Msg("risk session reset")
	return prev
}

// Halt stops all new orders until Unhalt.
func (m *Manager) Halt(reason string) {
	if reason == "" {
		reason = "manual"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltReason = reason
	m.log.Warn().Str("reason", reason).Msg("trading halted")
}

// Unhalt lifts a manual halt. A daily loss halt lasts until ResetSession.
func (m *Manager) Unhalt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltReason = ""
}

// HaltSymbol stops new orders for one symbol.
func (m *Manager) HaltSymbol(symbol, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbolHalts[symbol] = reason
	m.log.Warn().Str("symbol", symbol).Str("reason", reason).Msg("symbol halted")
}

func (m *Manager) UnhaltSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.symbolHalts, symbol)
}

func (m *Manager) PerTradeRiskPct() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.PerTradeRiskPct
}

// SetPerTradeRiskPct replaces the per-trade risk fraction.
func (m *Manager) SetPerTradeRiskPct(pct float64) error {
	if pct < MinPerTradeRiskPct || pct > MaxPerTradeRiskPct || math.IsNaN(pct) {
		return fmt.Errorf("per_trade_risk_pct %g out of range [%g, %g]", pct, MinPerTradeRiskPct, MaxPerTradeRiskPct)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.PerTradeRiskPct = pct
	return nil
}

// Override sets a risk parameter by its config name.
func (m *Manager) Override(param string, value float64) error {
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%s must be positive, got %g", param, value)
	}
	if param == "per_trade_risk_pct" {
		return m.SetPerTradeRiskPct(value)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch param {
	case "max_position_size":
		m.cfg.MaxPositionSize = value
	case "daily_loss_limit":
		m.cfg.DailyLossLimit = value
	case "reward_risk":
		m.cfg.RewardRisk = value
	case "trail_pct":
		if value >= 1 {
			return fmt.Errorf("trail_pct must be < 1, got %g", value)
		}
		m.cfg.TrailPct = value
	default:
		return fmt.Errorf("unknown risk parameter %q", param)
	}
	m.log.Info().Str("param", param).Float64("value", value).Msg("risk parameter overridden")
	return nil
}

// Mark updates unrealized PnL and trails the stop behind the best price.
func (m *Manager) Mark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return
	}
	pos.mark(price)

	if m.cfg.TrailPct <= 0 || pos.StopPrice <= 0 {
		return
	}
	switch pos.Direction() {
	case strategies.Long:
		if trail := price * (1 - m.cfg.TrailPct); trail > pos.StopPrice {
			pos.StopPrice = trail
		}
	case strategies.Short:
		if trail := price * (1 + m.cfg.TrailPct); trail < pos.StopPrice {
			pos.StopPrice = trail
		}
	}
}

// CheckExits returns an exit when the bar touched the position's stop or
// take level. An exit is reported once until the position changes or
// ClearExit is called.
func (m *Manager) CheckExits(b market.Bar) []ExitIntent {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[b.Symbol]
	if !ok || m.exiting[b.Symbol] {
		return nil
	}

	var reason string
	var price float64
	switch pos.Direction() {
	case strategies.Long:
		switch {
		case pos.StopPrice > 0 && b.Low <= pos.StopPrice:
			reason, price = ExitStopLoss, pos.StopPrice
		case pos.TakePrice > 0 && b.High >= pos.TakePrice:
			reason, price = ExitTakeProfit, pos.TakePrice
		}
	case strategies.Short:
		switch {
		case pos.StopPrice > 0 && b.High >= pos.StopPrice:
			reason, price = ExitStopLoss, pos.StopPrice
		case pos.TakePrice > 0 && b.Low <= pos.TakePrice:
			reason, price = ExitTakeProfit, pos.TakePrice
		}
	}
	if reason == "" {
		return nil
	}

	m.exiting[b.Symbol] = true
	return []ExitIntent{{
		Symbol:     b.Symbol,
		Direction:  pos.Direction().Opposite(),
		Quantity:   abs(pos.Quantity),
		Price:      price,
		Reason:     reason,
		Strategies: append([]string(nil), pos.Strategies...),
	}}
}

// ClearExit allows CheckExits to report symbol again, e.g. after a close
// order failed.
func (m *Manager) ClearExit(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.exiting, symbol)
}

// Position returns a copy of the position in symbol.
func (m *Manager) Position(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions sorted by symbol.
func (m *Manager) Positions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positionsLocked()
}

func (m *Manager) positionsLocked() []Position {
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Halted reports whether new orders are blocked for symbol.
func (m *Manager) Halted(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breachedLocked() || m.haltReason != "" {
		return true
	}
	_, ok := m.symbolHalts[symbol]
	return ok
}

func (m *Manager) Snapshot() Profile {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := Profile{
		MaxPositionSize: m.cfg.MaxPositionSize,
		PerTradeRiskPct: m.cfg.PerTradeRiskPct,
		DailyLossLimit:  m.cfg.DailyLossLimit,
		CurrentDailyPnL: m.dailyPnL,
		CommittedRisk:   m.committedLocked(),
		Halted:          m.breachedLocked() || m.haltReason != "",
		HaltReason:      m.haltReason,
		OpenPositions:   m.positionsLocked(),
		Reservations:    len(m.reservations),
		SessionStart:    m.sessionStart,
	}
	if m.lossHalted && p.HaltReason == "" {
		p.HaltReason = "daily loss limit"
	}
	if len(m.symbolHalts) > 0 {
		p.HaltedSymbols = make(map[string]string, len(m.symbolHalts))
		for k, v := range m.symbolHalts {
			p.HaltedSymbols[k] = v
		}
	}
	return p
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
