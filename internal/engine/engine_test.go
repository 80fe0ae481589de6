package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"aegis/internal/ensemble"
	"aegis/internal/lifecycle"
	"aegis/internal/market"
	"aegis/internal/risk"
	"aegis/internal/scheduler"
	"aegis/internal/signal"
	"aegis/internal/store"
	"aegis/internal/store/auditlog"
	"aegis/internal/store/gormstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-10-16 是周五。
var tickAt = time.Date(2026, 10, 16, 10, 15, 0, 0, time.UTC)

type harness struct {
	feed   *market.MemoryFeed
	store  *gormstore.Store
	audit  *auditlog.Store
	now    time.Time
	limits risk.Limits
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{feed: market.NewMemoryFeed(), now: tickAt}
	st, err := gormstore.Open(gormstore.Options{Driver: "sqlite", Path: filepath.Join(dir, "signals.db"), Now: func() time.Time { return h.now }})
	require.NoError(t, err)
	al, err := auditlog.Open(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.CloseDB()
		_ = al.Close()
	})
	h.store, h.audit = st, al
	return h
}

func (h *harness) engine(t *testing.T, reg *ensemble.Registry, watchlist ...string) *Engine {
	t.Helper()
	sizer := risk.Sizer{
		FractionCap:   decimal.NewFromFloat(0.25),
		ATRMultiplier: decimal.NewFromInt(2),
		MinSamples:    20,
		PriorWinRate:  0.6,
		PriorPayoff:   1.5,
	}
	e, err := New(Deps{
		Candles:  h.feed,
		Market:   h.feed,
		Signals:  h.store,
		Risk:     h.store,
		Audit:    h.audit,
		Ensemble: ensemble.NewAggregator(reg),
		Gate:     risk.NewGate(h.limits, sizer),
		Session:  scheduler.NewSession(time.UTC, 9*time.Hour, 15*time.Hour+30*time.Minute, nil),
		Clock:    lifecycle.ClockFunc(func() time.Time { return h.now }),
	}, Config{
		Watchlist:      watchlist,
		CandleInterval: "1d",
		HistoryLimit:   120,
		Equity:         decimal.NewFromInt(10_000_000),
		KellyLookback:  30 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return e
}

// pullbackCandles 长期上涨后急跌：MA20>MA60，RSI 超卖，最后一根放量收在高位使价格高于 VWAP。
func pullbackCandles() []market.Candle {
	var out []market.Candle
	start := tickAt.AddDate(0, 0, -80)
	price := 100.0
	for i := 0; i < 80; i++ {
		if i > 0 && i <= 64 {
			price++
		} else if i > 64 {
			price -= 2
		}
		c := market.Candle{
			OpenTime: start.AddDate(0, 0, i).UnixMilli(),
			Open:     price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: 1,
		}
		if i == 79 {
			c.High, c.Low, c.Volume = price, price-24, 1_000_000
		}
		out = append(out, c)
	}
	return out
}

func equalRegistry() *ensemble.Registry { return ensemble.NewRegistry() }

func muteRegistry() *ensemble.Registry {
	reg := ensemble.NewRegistry()
	reg.SetDefault(ensemble.StaticWeighter{Label: "mute", W: ensemble.Weights{}})
	return reg
}

func TestRunTickEmitsStrongBuy(t *testing.T) {
	h := newHarness(t)
	h.feed.SetCandles("005930", pullbackCandles())
	h.feed.SetContext(market.Context{IndexCode: "0001", IndexChangeRate: 0.4, CapturedAt: tickAt}, nil)
	ctx := context.Background()

	rep, err := h.engine(t, equalRegistry(), "005930").RunTick(ctx, "tick-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Emitted)

	recs, err := h.store.List(ctx, store.Query{StockCode: "005930"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, signal.TypeStrongBuy, rec.Type)
	assert.Equal(t, 3, rec.Score)
	assert.Equal(t, 1, rec.Sub.MA)
	assert.Equal(t, 1, rec.Sub.VWAP)
	assert.Equal(t, 1, rec.Sub.RSI)
	assert.Equal(t, 134.0, rec.CurrentPrice)
	assert.Equal(t, signal.StatusPending, rec.Status)
	assert.Equal(t, "2026-10-16T10", rec.HourBucket)
	assert.Positive(t, rec.SuggestedShares)
	assert.Less(t, rec.StopLossPrice, 134.0)

	var mctx map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.MarketContext, &mctx))
	assert.Contains(t, mctx, "emission")

	st, err := h.store.LoadRiskState(ctx, "2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TradeCount)
}

func TestRunTickPricesEmissionAtLiveQuote(t *testing.T) {
	h := newHarness(t)
	h.feed.SetCandles("005930", pullbackCandles())
	// 最后收盘 134，VWAP 约 126；实时报价跌破 VWAP
	h.feed.SetPrice("005930", 120)
	ctx := context.Background()

	rep, err := h.engine(t, equalRegistry(), "005930").RunTick(ctx, "tick-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Emitted)

	recs, err := h.store.List(ctx, store.Query{StockCode: "005930"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 120.0, recs[0].CurrentPrice)
	assert.Equal(t, -1, recs[0].Sub.VWAP)
	assert.Contains(t, recs[0].Sub.VWAPReason, "120.00")

	fallback, err := h.audit.Recent(ctx, store.AuditQuery{Kind: store.AuditPriceFallback})
	require.NoError(t, err)
	assert.Empty(t, fallback)
}

func TestRunTickFallsBackToLastCloseWithoutQuote(t *testing.T) {
	h := newHarness(t)
	h.feed.SetCandles("005930", pullbackCandles())
	ctx := context.Background()

	rep, err := h.engine(t, equalRegistry(), "005930").RunTick(ctx, "tick-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Emitted)

	recs, err := h.store.List(ctx, store.Query{StockCode: "005930"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 134.0, recs[0].CurrentPrice)

	fallback, err := h.audit.Recent(ctx, store.AuditQuery{Kind: store.AuditPriceFallback})
	require.NoError(t, err)
	require.Len(t, fallback, 1)
	assert.Equal(t, "quote_fallback", fallback[0].Tag)
	assert.Equal(t, "tick-1", fallback[0].TickID)
}

func TestRunTickTreatsSameHourRepeatAsDuplicate(t *testing.T) {
	h := newHarness(t)
	h.feed.SetCandles("005930", pullbackCandles())
	e := h.engine(t, equalRegistry(), "005930")
	ctx := context.Background()

	_, err := e.RunTick(ctx, "tick-1")
	require.NoError(t, err)
	h.now = tickAt.Add(20 * time.Minute)
	rep, err := e.RunTick(ctx, "tick-2")
	require.NoError(t, err)
	assert.Zero(t, rep.Emitted)
	assert.Equal(t, 1, rep.Duplicates)

	st, err := h.store.LoadRiskState(ctx, "2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TradeCount, "duplicates do not count as trades")

	entries, err := h.audit.Recent(ctx, store.AuditQuery{Kind: store.AuditDuplicate})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tick-2", entries[0].TickID)
}

func TestBreakerRejectsBuyButAllowsHold(t *testing.T) {
	h := newHarness(t)
	h.limits = risk.Limits{MaxDailyTrades: 1}
	h.feed.SetCandles("005930", pullbackCandles())
	h.feed.SetCandles("000660", pullbackCandles())
	ctx := context.Background()
	require.NoError(t, h.store.AddTrade(ctx, "2026-10-16"))

	rep, err := h.engine(t, equalRegistry(), "005930").RunTick(ctx, "tick-buy")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Rejected)
	assert.Zero(t, rep.Emitted)

	st, err := h.store.LoadRiskState(ctx, "2026-10-16")
	require.NoError(t, err)
	assert.True(t, st.Tripped)
	assert.Contains(t, st.TripReason, risk.ReasonTradeCount)

	rep, err = h.engine(t, muteRegistry(), "000660").RunTick(ctx, "tick-hold")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Emitted)
	recs, err := h.store.List(ctx, store.Query{StockCode: "000660"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, signal.TypeHold, recs[0].Type)
	assert.Zero(t, recs[0].SuggestedShares)

	rejected, err := h.audit.Recent(ctx, store.AuditQuery{Kind: store.AuditRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "005930", rejected[0].StockCode)
	assert.Equal(t, risk.ReasonTradeCount, rejected[0].Tag)
}

func TestRunTickSkipsInsufficientHistoryAndFeedErrors(t *testing.T) {
	h := newHarness(t)
	h.feed.SetCandles("SHORT", pullbackCandles()[:30])
	h.feed.SetError("GONE", market.ErrUnknownSymbol)
	h.feed.SetCandles("005930", pullbackCandles())
	ctx := context.Background()

	rep, err := h.engine(t, equalRegistry(), "SHORT", "GONE", "005930").RunTick(ctx, "tick-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Evaluated)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, 1, rep.Emitted)

	skipped, err := h.audit.Recent(ctx, store.AuditQuery{Kind: store.AuditSkipped})
	require.NoError(t, err)
	tags := map[string]string{}
	for _, e := range skipped {
		tags[e.StockCode] = e.Tag
	}
	assert.Equal(t, map[string]string{"SHORT": "insufficient_data", "GONE": "unknown_symbol"}, tags)
}

func TestRunTickOutsideSessionIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.feed.SetCandles("005930", pullbackCandles())
	h.now = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC) // 周六
	rep, err := h.engine(t, equalRegistry(), "005930").RunTick(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, rep.SessionClosed)
	assert.Zero(t, rep.Evaluated)
	assert.NotEmpty(t, rep.TickID)
}

func TestRejectTag(t *testing.T) {
	assert.Equal(t, risk.ReasonDailyLoss, rejectTag(risk.ReasonDailyLoss+" (loss 5 > 3)"))
	assert.Equal(t, risk.ReasonInvalidPrice, rejectTag(risk.ReasonInvalidPrice))
}
