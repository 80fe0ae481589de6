package indicator

import (
	"errors"
	"testing"
	"time"

	"aegis/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trendCandles(n int, start, step float64) []market.Candle {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		c := start + step*float64(i)
		out[i] = market.Candle{
			OpenTime: base.Add(time.Duration(i) * 24 * time.Hour).UnixMilli(),
			Open:     c,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   1000,
		}
	}
	return out
}

func TestComputeInsufficientData(t *testing.T) {
	_, err := Compute("005930", trendCandles(59, 100, 1), Settings{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestComputeUptrend(t *testing.T) {
	snap, err := Compute("005930", trendCandles(80, 100, 1), Settings{})
	require.NoError(t, err)
	assert.Equal(t, 80, snap.Periods)
	assert.Equal(t, 179.0, snap.Price)
	assert.InDelta(t, 177.0, snap.MA5, 1e-6)
	assert.InDelta(t, 169.5, snap.MA20, 1e-6)
	assert.InDelta(t, 149.5, snap.MA60, 1e-6)
	assert.Greater(t, snap.MA20, snap.MA60)
	assert.Greater(t, snap.RSI, 70.0, "a monotonic rise saturates RSI")
	assert.InDelta(t, 2.0, snap.ATR, 0.05)
	// rolling VWAP over the last 20 bars equals their mean typical price
	assert.InDelta(t, 169.5, snap.VWAP, 1e-6)
}

func TestSessionVWAPUsesLastDayOnly(t *testing.T) {
	base := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, 0, 70)
	for i := 0; i < 68; i++ {
		candles = append(candles, market.Candle{OpenTime: base.Add(time.Duration(i) * time.Minute).UnixMilli(), High: 10, Low: 10, Close: 10, Volume: 1})
	}
	next := base.Add(24 * time.Hour)
	candles = append(candles,
		market.Candle{OpenTime: next.UnixMilli(), High: 20, Low: 20, Close: 20, Volume: 1},
		market.Candle{OpenTime: next.Add(time.Minute).UnixMilli(), High: 30, Low: 30, Close: 30, Volume: 3},
	)
	snap, err := Compute("X", candles, Settings{SessionVWAP: true})
	require.NoError(t, err)
	assert.InDelta(t, 27.5, snap.VWAP, 1e-6)
}

func TestComputeDeterministic(t *testing.T) {
	cs := trendCandles(90, 500, -2)
	a, err := Compute("A", cs, Settings{})
	require.NoError(t, err)
	b, err := Compute("A", cs, Settings{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
