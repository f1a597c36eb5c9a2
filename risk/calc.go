package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PlannedRisk computes the absolute account-currency loss if the stop is hit.
func PlannedRisk(units, entry, stop, quoteToAccountRate float64) float64 {
	// price move in quote currency per 1 unit of base
	move := abs(entry - stop)
	return abs(units) * move * quoteToAccountRate
}

func RR(entry, stop, takeProfit float64) float64 {
	risk := abs(entry - stop)
	reward := abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

func RiskPct(plannedRisk, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / equity
}

// EUR_USD → quote = USD → QuoteToAccount = 1.0
// USD_JPY → quote = JPY → QuoteToAccount = 1 / USDJPY_mid

type Inputs struct {
	Equity         float64
	RiskPct        float64 // 0.005
	EntryPrice     float64
	StopPrice      float64
	QuoteToAccount float64 // USD quote → 1.0, JPY quote → JPYUSD
}

type Result struct {
	Units        float64
	StopDistance float64
	RiskAmount   float64
}

// PipSize returns the pip size for a given pip location.
func PipSize(loc int) float64 {
	return math.Pow(10, float64(loc))
}

// Calculate sizes a position so that hitting the stop loses Equity × RiskPct:
// units = equity × riskPct / (|entry − stop| × quoteToAccount).
// Units is not rounded; see RoundDown.
func Calculate(in Inputs) Result {
	q2a := in.QuoteToAccount
	if q2a <= 0 {
		q2a = 1
	}
	dist := abs(in.EntryPrice - in.StopPrice)
	riskAmt := in.Equity * in.RiskPct

	res := Result{StopDistance: dist, RiskAmount: riskAmt}
	if dist <= 0 || riskAmt <= 0 {
		return res
	}
	res.Units = riskAmt / (dist * q2a)
	return res
}

// RoundDown truncates qty to a whole multiple of step using decimal
// arithmetic so 0.3 with step 0.1 stays 0.3.
func RoundDown(qty, step float64) float64 {
	if qty <= 0 {
		return 0
	}
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	return q.Div(s).Floor().Mul(s).InexactFloat64()
}
