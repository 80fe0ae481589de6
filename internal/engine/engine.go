package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aegis/internal/analysis/indicator"
	"aegis/internal/ensemble"
	"aegis/internal/lifecycle"
	"aegis/internal/logger"
	"aegis/internal/market"
	"aegis/internal/risk"
	"aegis/internal/scheduler"
	"aegis/internal/signal"
	"aegis/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Config 描述一次发信号轮次需要的参数。
type Config struct {
	Watchlist      []string
	CandleInterval string
	HistoryLimit   int
	Indicator      indicator.Settings
	Concurrency    int
	Equity         decimal.Decimal
	KellyLookback  time.Duration
}

// Deps 汇总 Engine 的协作者。Audit 可为空；Quotes 为空且 Candles 能报价时复用 Candles。
type Deps struct {
	Candles  market.CandleSource
	Quotes   market.PriceFeed
	Market   market.ContextProvider
	Signals  store.SignalStore
	Risk     store.RiskStateStore
	Audit    store.AuditLog
	Scorer   *signal.Scorer
	Ensemble *ensemble.Aggregator
	Regime   ensemble.RegimeClassifier
	Gate     *risk.Gate
	Session  scheduler.Session
	Clock    lifecycle.Clock
}

// Engine 每个 tick 对观察名单打分、聚合、过风控并落库。
// 打分并发执行，风控与落库按名单顺序串行，保证熔断计数准确。
type Engine struct {
	deps Deps
	cfg  Config
}

// EmissionReport 汇总一次发信号轮次。
type EmissionReport struct {
	TickID        string        `json:"tick_id"`
	SessionClosed bool          `json:"session_closed,omitempty"`
	Regime        signal.Regime `json:"regime,omitempty"`
	Evaluated     int           `json:"evaluated"`
	Emitted       int           `json:"emitted"`
	Duplicates    int           `json:"duplicates"`
	Rejected      int           `json:"rejected"`
	Skipped       int           `json:"skipped"`
	Errors        int           `json:"errors"`
	Duration      time.Duration `json:"duration"`
}

func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Candles == nil || deps.Signals == nil || deps.Risk == nil {
		return nil, fmt.Errorf("engine: candles, signals and risk store are required")
	}
	if deps.Scorer == nil {
		deps.Scorer = signal.NewScorer(signal.ScorerConfig{})
	}
	if deps.Ensemble == nil {
		deps.Ensemble = ensemble.NewAggregator(nil)
	}
	if deps.Gate == nil {
		deps.Gate = risk.NewGate(risk.Limits{}, risk.Sizer{})
	}
	if deps.Clock == nil {
		deps.Clock = lifecycle.SystemClock
	}
	if deps.Quotes == nil {
		if pf, ok := deps.Candles.(market.PriceFeed); ok {
			deps.Quotes = pf
		}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 120
	}
	if strings.TrimSpace(cfg.CandleInterval) == "" {
		cfg.CandleInterval = "1d"
	}
	return &Engine{deps: deps, cfg: cfg}, nil
}

// candidate 是单只股票的打分结果；err 非空表示该股票被跳过。
type candidate struct {
	code   string
	snap   indicator.Snapshot
	sub    signal.SubScores
	result ensemble.Result
	err    error
	// quoteErr 非空表示实时报价不可用，价格退回最后一根 K 线收盘价。
	quoteErr error
}

// RunTick 执行一次发信号轮次。交易时段外直接返回；
// 只有 ErrStoreUnavailable 会中断轮次并返回错误。
func (e *Engine) RunTick(ctx context.Context, tickID string) (EmissionReport, error) {
	started := time.Now()
	if tickID == "" {
		tickID = uuid.NewString()
	}
	report := EmissionReport{TickID: tickID}
	now := e.deps.Clock.Now()
	if !e.deps.Session.IsOpen(now) {
		report.SessionClosed = true
		logger.Debugf("emission tick %s: session closed at %s", tickID, now.Format(time.RFC3339))
		return report, nil
	}

	mctx, emissionCtx := e.marketContext(ctx)
	regime := signal.RegimeNone
	if !e.deps.Regime.NeedsContext() || mctx != nil {
		var snap market.Context
		if mctx != nil {
			snap = *mctx
		}
		regime = e.deps.Regime.Classify(snap)
	}
	report.Regime = regime

	candidates := e.score(ctx, regime)
	report.Evaluated = len(candidates)

	date := e.deps.Session.Date(now)
	state, err := e.deps.Risk.LoadRiskState(ctx, date)
	if err != nil {
		report.Duration = time.Since(started)
		return report, fmt.Errorf("load risk state %s: %w", date, err)
	}
	edge, err := e.edge(ctx, now)
	if err != nil {
		report.Duration = time.Since(started)
		return report, err
	}
	tripSaved := state.Tripped

	for _, c := range candidates {
		if c.err != nil {
			report.Skipped++
			e.audit(ctx, store.AuditEntry{
				TS: now, TickID: tickID, StockCode: c.code, Kind: store.AuditSkipped,
				Tag: skipTag(c.err), Detail: c.err.Error(),
			})
			continue
		}
		if c.quoteErr != nil {
			logger.Event("quote unavailable, using last close", "stock", c.code, "price", c.snap.Price,
				"tag", "quote_fallback", "error", c.quoteErr)
			e.audit(ctx, store.AuditEntry{
				TS: now, TickID: tickID, StockCode: c.code, Kind: store.AuditPriceFallback,
				Tag: "quote_fallback", Detail: c.quoteErr.Error(),
				Payload: map[string]any{"price": c.snap.Price, "as_of": c.snap.AsOf},
			})
		}
		decision := e.deps.Gate.Evaluate(risk.Proposal{
			StockCode: c.code,
			Type:      c.result.Type,
			Score:     c.result.Score,
			Price:     c.snap.Price,
			ATR:       c.snap.ATR,
		}, &state, risk.SizingInput{Equity: e.cfg.Equity, Edge: edge})

		if state.Tripped && !tripSaved {
			if err := e.deps.Risk.SaveTrip(ctx, date, state.TripReason); err != nil {
				if errors.Is(err, store.ErrStoreUnavailable) {
					report.Duration = time.Since(started)
					return report, err
				}
				logger.Warnf("save breaker trip %s: %v", date, err)
			}
			tripSaved = true
			logger.Event("circuit breaker tripped", "session_date", date, "reason", state.TripReason,
				"trades", state.TradeCount, "realized_pnl", state.RealizedPnL.String())
		}
		if !decision.Allowed {
			report.Rejected++
			logger.Event("signal rejected", "stock", c.code, "type", string(c.result.Type),
				"score", c.result.Score, "tag", decision.Reason)
			e.audit(ctx, store.AuditEntry{
				TS: now, TickID: tickID, StockCode: c.code, Kind: store.AuditRejected,
				Tag: rejectTag(decision.Reason), Detail: decision.Reason,
				Payload: map[string]any{"signal_type": string(c.result.Type), "signal_score": c.result.Score, "price": c.snap.Price},
			})
			continue
		}

		rec := e.record(c, decision.Sizing, now, regime, emissionCtx)
		id, err := e.deps.Signals.Create(ctx, &rec)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrDuplicateSignal):
			report.Duplicates++
			logger.Event("duplicate signal", "stock", c.code, "type", string(rec.Type), "hour", rec.HourBucket, "tag", "duplicate_signal")
			e.audit(ctx, store.AuditEntry{
				TS: now, TickID: tickID, StockCode: c.code, Kind: store.AuditDuplicate,
				Tag: "duplicate_signal", Detail: rec.HourBucket,
				Payload: map[string]any{"signal_type": string(rec.Type)},
			})
			continue
		case errors.Is(err, store.ErrStoreUnavailable):
			report.Errors++
			report.Duration = time.Since(started)
			return report, err
		default:
			report.Errors++
			logger.Event("signal create failed", "stock", c.code, "type", string(rec.Type), "tag", "store_error", "error", err)
			e.audit(ctx, store.AuditEntry{
				TS: now, TickID: tickID, StockCode: c.code, Kind: store.AuditError,
				Tag: "store_error", Detail: err.Error(),
			})
			continue
		}
		report.Emitted++
		if rec.Type.Actionable() {
			state.RecordTrade()
			if err := e.deps.Risk.AddTrade(ctx, date); err != nil {
				if errors.Is(err, store.ErrStoreUnavailable) {
					report.Duration = time.Since(started)
					return report, err
				}
				logger.Warnf("count trade %s: %v", date, err)
			}
		}
		logger.Event("signal emitted",
			"signal_id", id, "stock", c.code, "type", string(rec.Type), "score", rec.Score,
			"ma", rec.Sub.MA, "vwap", rec.Sub.VWAP, "rsi", rec.Sub.RSI, "regime", string(regime),
			"price", rec.CurrentPrice, "shares", rec.SuggestedShares, "stop_loss", rec.StopLossPrice)
	}

	report.Duration = time.Since(started)
	logger.Event("emission tick",
		"tick_id", tickID, "evaluated", report.Evaluated, "emitted", report.Emitted,
		"duplicates", report.Duplicates, "rejected", report.Rejected, "skipped", report.Skipped,
		"errors", report.Errors, "duration_ms", report.Duration.Milliseconds())
	return report, nil
}

// score 并发拉取 K 线并打分，结果按观察名单顺序返回。
func (e *Engine) score(ctx context.Context, regime signal.Regime) []candidate {
	out := make([]candidate, len(e.cfg.Watchlist))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, code := range e.cfg.Watchlist {
		i, code := i, code
		g.Go(func() error {
			out[i] = e.scoreOne(gctx, code, regime)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Engine) scoreOne(ctx context.Context, code string, regime signal.Regime) candidate {
	c := candidate{code: code}
	candles, err := e.deps.Candles.FetchHistory(ctx, code, e.cfg.CandleInterval, e.cfg.HistoryLimit)
	if err != nil {
		c.err = fmt.Errorf("fetch history %s: %w", code, err)
		return c
	}
	snap, err := indicator.Compute(code, candles, e.indicatorSettings())
	if err != nil {
		c.err = err
		return c
	}
	// 发出价与 VWAP 比较都用实时报价，与验证时的取价口径一致。
	if quote, qerr := e.quote(ctx, code); qerr == nil {
		snap.Price = quote.Price
	} else {
		c.quoteErr = qerr
	}
	sub, err := e.deps.Scorer.Score(snap)
	if err != nil {
		c.err = err
		return c
	}
	c.snap = snap
	c.sub = sub
	c.result = e.deps.Ensemble.Aggregate(sub, regime)
	logger.Debugf("scored %s: ma=%d vwap=%d rsi=%d raw=%.2f -> %s (%s)",
		code, sub.MA, sub.VWAP, sub.RSI, c.result.Raw, c.result.Type, c.result.Weighter)
	return c
}

func (e *Engine) quote(ctx context.Context, code string) (market.Quote, error) {
	if e.deps.Quotes == nil {
		return market.Quote{}, market.ErrPriceFeedUnavailable
	}
	q, err := e.deps.Quotes.GetCurrentPrice(ctx, code)
	if err != nil {
		return market.Quote{}, err
	}
	if q.Price <= 0 {
		return market.Quote{}, market.ErrNoData
	}
	return q, nil
}

// indicatorSettings 日内周期使用当日 VWAP，日线及以上使用滚动窗口。
func (e *Engine) indicatorSettings() indicator.Settings {
	s := e.cfg.Indicator
	if scheduler.IsIntraday(e.cfg.CandleInterval) {
		s.SessionVWAP = true
		if s.Location == nil {
			s.Location = e.deps.Session.Location
		}
	}
	return s
}

func (e *Engine) marketContext(ctx context.Context) (*market.Context, json.RawMessage) {
	if e.deps.Market == nil {
		return nil, nil
	}
	snap, err := e.deps.Market.Snapshot(ctx)
	if err != nil {
		logger.Event("market context unavailable", "tag", "price_feed_unavailable", "error", err)
		return nil, nil
	}
	raw, err := json.Marshal(map[string]any{"emission": snap})
	if err != nil {
		return &snap, nil
	}
	return &snap, raw
}

// edge 从回看窗口内已关闭的信号估计胜率与盈亏比。
func (e *Engine) edge(ctx context.Context, now time.Time) (risk.Edge, error) {
	if e.cfg.KellyLookback <= 0 {
		return risk.Edge{}, nil
	}
	stats, err := e.deps.Signals.OutcomeStats(ctx, now.Add(-e.cfg.KellyLookback))
	if err != nil {
		if errors.Is(err, store.ErrStoreUnavailable) {
			return risk.Edge{}, err
		}
		logger.Warnf("outcome stats unavailable, using priors: %v", err)
		return risk.Edge{}, nil
	}
	return risk.EdgeFromOutcomes(stats.Samples, stats.Wins, stats.AvgWinPct, stats.AvgLossPct), nil
}

func (e *Engine) record(c candidate, sizing risk.Sizing, now time.Time, regime signal.Regime, mctx json.RawMessage) signal.Record {
	return signal.Record{
		StockCode:       c.code,
		Type:            c.result.Type,
		RecordedAt:      now,
		HourBucket:      e.deps.Session.HourBucket(now),
		Score:           c.result.Score,
		Sub:             c.sub,
		CurrentPrice:    c.snap.Price,
		Regime:          regime,
		Status:          signal.StatusPending,
		MarketContext:   mctx,
		SuggestedShares: sizing.Shares,
		StopLossPrice:   sizing.StopLoss.InexactFloat64(),
		KellyFraction:   sizing.KellyFraction.InexactFloat64(),
	}
}

func (e *Engine) audit(ctx context.Context, entry store.AuditEntry) {
	if e.deps.Audit == nil {
		return
	}
	if err := e.deps.Audit.Append(ctx, entry); err != nil {
		logger.Warnf("audit append %s %s: %v", entry.Kind, entry.StockCode, err)
	}
}

func skipTag(err error) string {
	switch {
	case errors.Is(err, signal.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, market.ErrUnknownSymbol):
		return "unknown_symbol"
	case errors.Is(err, market.ErrNoData):
		return "no_data"
	case errors.Is(err, market.ErrPriceFeedUnavailable):
		return "price_feed_unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "tick_timeout"
	default:
		return "scoring_error"
	}
}

// rejectTag 去掉原因中的数值细节，只保留分类。
func rejectTag(reason string) string {
	if i := strings.Index(reason, " ("); i > 0 {
		return reason[:i]
	}
	return reason
}
