package market

// InstrumentMeta carries the trading constraints of a symbol.
type InstrumentMeta struct {
	Name          string
	BaseCurrency  string
	QuoteCurrency string
	PipLocation   int
	LotStep       float64 // smallest quantity increment
	MinQuantity   float64
}

var Instruments = map[string]InstrumentMeta{
	"EUR_USD": {
		Name:          "EUR_USD",
		BaseCurrency:  "EUR",
		QuoteCurrency: "USD",
		PipLocation:   -4,
		LotStep:       1,
		MinQuantity:   1,
	},
	"USD_JPY": {
		Name:          "USD_JPY",
		BaseCurrency:  "USD",
		QuoteCurrency: "JPY",
		PipLocation:   -2,
		LotStep:       1,
		MinQuantity:   1,
	},
	"BTC_USD": {
		Name:          "BTC_USD",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USD",
		PipLocation:   -2,
		LotStep:       0.0001,
		MinQuantity:   0.0001,
	},
}

// LotStep returns the quantity increment for symbol, or fallback when the
// symbol is not in the table.
func LotStep(symbol string, fallback float64) float64 {
	if m, ok := Instruments[symbol]; ok && m.LotStep > 0 {
		return m.LotStep
	}
	return fallback
}
