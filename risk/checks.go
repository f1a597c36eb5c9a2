package risk

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/autotrader/strategies"
)

// Violation codes.
const (
	CodeHalted           = "HALTED"
	CodeSymbolHalted     = "SYMBOL_HALTED"
	CodeNoDirection      = "NO_DIRECTION"
	CodeOpposing         = "OPPOSING_POSITION"
	CodeInvalidProposal  = "INVALID_PROPOSAL"
	CodeNoStop           = "NO_STOP"
	CodeSizeNonPositive  = "SIZE_NON_POSITIVE"
	CodeClampMaxPosition = "CLAMP_MAX_POSITION"
	CodeClampDailyBudget = "CLAMP_DAILY_BUDGET"
)

type Violation struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (v Violation) String() string {
	return v.Code + ": " + v.Msg
}

// Action is what an approved verdict asks the caller to do.
type Action int

const (
	ActionNone Action = iota
	// ActionOpen opens or adds to a position and holds a reservation.
	ActionOpen
	// ActionClose reduces an opposing position; it adds no new risk.
	ActionClose
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	}
	return "none"
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Verdict is the outcome of evaluating one decision.
type Verdict struct {
	Approved  bool                 `json:"approved"`
	Action    Action               `json:"action"`
	Symbol    string               `json:"symbol"`
	Direction strategies.Direction `json:"direction"`
	Quantity  float64              `json:"quantity"`

	Entry        float64 `json:"entry"`
	StopPrice    float64 `json:"stop_price"`
	TakePrice    float64 `json:"take_price"`
	StopDistance float64 `json:"stop_distance"`
	RiskAmount   float64 `json:"risk_amount"`
	RiskPct      float64 `json:"risk_pct"`

	ReservationID string `json:"reservation_id,omitempty"`

	// Adjustments records clamps applied to an approved size.
	Adjustments []Violation `json:"adjustments,omitempty"`
	Violations  []Violation `json:"violations,omitempty"`
}

func (v *Verdict) add(code, msg string) {
	v.Violations = append(v.Violations, Violation{Code: code, Msg: msg})
	v.Approved = false
	v.Action = ActionNone
}

func (v *Verdict) adjust(code, msg string) {
	v.Adjustments = append(v.Adjustments, Violation{Code: code, Msg: msg})
}

// Vetoed reports whether any check failed.
func (v Verdict) Vetoed() bool {
	return len(v.Violations) > 0
}

// Code returns the first violation code, or "" when approved.
func (v Verdict) Code() string {
	if len(v.Violations) == 0 {
		return ""
	}
	return v.Violations[0].Code
}

// Reason joins the violations for logs and events.
func (v Verdict) Reason() string {
	parts := make([]string, len(v.Violations))
	for i, vi := range v.Violations {
		parts[i] = vi.String()
	}
	return strings.Join(parts, "; ")
}

func vetoHalted(v *Verdict, pnl, limit float64, manual string) {
	if manual != "" {
		v.add(CodeHalted, "trading halted: "+manual)
		return
	}
	v.add(CodeHalted, fmt.Sprintf("daily pnl %.2f <= -%.2f limit", pnl, limit))
}
