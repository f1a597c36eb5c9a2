package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/market"
)

func candle(ts string, complete bool, o, h, l, c string) map[string]any {
	return map[string]any{
		"complete": complete,
		"time":     ts,
		"volume":   10,
		"mid":      map[string]string{"o": o, "h": h, "l": l, "c": c},
	}
}

func candleServer(t *testing.T, candles ...map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/instruments/EUR_USD/candles", r.URL.Path)
		require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.Equal(t, "M", r.URL.Query().Get("price"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"instrument":  "EUR_USD",
			"granularity": r.URL.Query().Get("granularity"),
			"candles":     candles,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCandlesMissingInputs(t *testing.T) {
	t.Parallel()

	opts := CandlesOptions{Instrument: "EUR_USD", Granularity: "M1"}
	tests := []struct {
		name   string
		client Client
		opts   CandlesOptions
		want   string
	}{
		{"missing token", Client{BaseURL: "http://example.com"}, opts, "missing token"},
		{"missing base url", Client{Token: "t"}, opts, "missing base url"},
		{"missing instrument", Client{Token: "t", BaseURL: "http://example.com"}, CandlesOptions{Granularity: "M1"}, "missing instrument"},
		{"missing granularity", Client{Token: "t", BaseURL: "http://example.com"}, CandlesOptions{Instrument: "EUR_USD"}, "missing granularity"},
		{"bid ask", Client{Token: "t", BaseURL: "http://example.com"}, CandlesOptions{Instrument: "EUR_USD", Granularity: "M1", Price: "BA"}, "not supported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.Candles(context.Background(), tt.opts)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCandlesSkipsIncomplete(t *testing.T) {
	t.Parallel()
	srv := candleServer(t,
		candle("2024-01-01T00:00:00Z", true, "1.1", "1.2", "1.0", "1.15"),
		candle("2024-01-01T00:01:00Z", false, "1.15", "1.16", "1.14", "1.15"),
	)
	c := Client{BaseURL: srv.URL, Token: "token"}

	bars, err := c.Candles(context.Background(), CandlesOptions{Instrument: "EUR_USD", Granularity: "M1", Count: 2})
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, market.Bar{
		Symbol: "EUR_USD",
		Time:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:   1.1, High: 1.2, Low: 1.0, Close: 1.15, Volume: 10,
	}, bars[0])

	bars, err = c.Candles(context.Background(), CandlesOptions{Instrument: "EUR_USD", Granularity: "M1", IncludeIncomplete: true})
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestCandlesHTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessage":"Insufficient authorization"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := Client{BaseURL: srv.URL, Token: "bad"}
	_, err := c.Candles(context.Background(), CandlesOptions{Instrument: "EUR_USD", Granularity: "M1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 401")
}

func TestSourceReturnsLastClosedBars(t *testing.T) {
	t.Parallel()
	srv := candleServer(t,
		candle("2024-01-01T00:00:00Z", true, "1.10", "1.12", "1.09", "1.11"),
		candle("2024-01-01T00:01:00Z", true, "1.11", "1.13", "1.10", "1.12"),
		candle("2024-01-01T00:02:00Z", true, "1.12", "1.14", "1.11", "1.13"),
		candle("2024-01-01T00:03:00Z", false, "1.13", "1.13", "1.13", "1.13"),
	)
	src := NewSource(&Client{BaseURL: srv.URL, Token: "token"}, "M1", "")

	bars, err := src.GetBars(context.Background(), "EUR_USD", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.12, bars[0].Close)
	assert.Equal(t, 1.13, bars[1].Close)
	require.NoError(t, market.ValidateWindow(bars))

	var buf bytes.Buffer
	require.NoError(t, market.WriteBarsCSV(&buf, bars))
	back, err := market.ReadBarsCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, bars, back)
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Env: "practice"})
	require.ErrorIs(t, err, ErrMissingToken)

	c, err := NewClient(Config{Env: "practice", Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, "https://api-fxpractice.oanda.com", c.BaseURL)

	_, err = NewClient(Config{Env: "sandbox", Token: "t"})
	require.Error(t, err)
}
