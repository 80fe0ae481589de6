package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"aegis/internal/logger"
	"aegis/internal/market"
	"aegis/internal/risk"
	"aegis/internal/signal"
	"aegis/internal/store"

	"github.com/shopspring/decimal"
)

// PnLRecorder 接收已关闭信号的建议仓位盈亏，计入所属交易日的熔断状态。
type PnLRecorder interface {
	AddRealizedPnL(ctx context.Context, sessionDate string, pnl decimal.Decimal) error
}

type VerifierConfig struct {
	Horizons         signal.Horizons
	HoldBandPct      float64
	FailThresholdPct float64
	MaxStaleAttempts int
	Policy           FailurePolicy
}

// Verifier 计算时点收益，终点时判定结果并关闭记录。
type Verifier struct {
	store     store.SignalStore
	feed      market.PriceFeed
	marketCtx market.ContextProvider
	pnl       PnLRecorder
	session   func(int64) string
	clock     Clock
	cfg       VerifierConfig
}

// VerifierOption 可选依赖。
type VerifierOption func(*Verifier)

// WithContextProvider 在关闭时附加市场快照。
func WithContextProvider(p market.ContextProvider) VerifierOption {
	return func(v *Verifier) { v.marketCtx = p }
}

// WithPnLRecorder 把关闭时的盈亏写入 sessionDate(ms) 对应的交易日。
func WithPnLRecorder(r PnLRecorder, sessionDate func(ms int64) string) VerifierOption {
	return func(v *Verifier) {
		v.pnl = r
		v.session = sessionDate
	}
}

func WithClock(c Clock) VerifierOption {
	return func(v *Verifier) {
		if c != nil {
			v.clock = c
		}
	}
}

func NewVerifier(st store.SignalStore, feed market.PriceFeed, cfg VerifierConfig, opts ...VerifierOption) *Verifier {
	if cfg.HoldBandPct <= 0 {
		cfg.HoldBandPct = 1.0
	}
	if cfg.MaxStaleAttempts <= 0 {
		cfg.MaxStaleAttempts = 5
	}
	if cfg.Policy.DefaultTag == "" {
		cfg.Policy.DefaultTag = signal.TagWrongDirection
	}
	v := &Verifier{store: st, feed: feed, cfg: cfg, clock: SystemClock}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Result 描述一次 (记录, 时点) 的处理结果。
type Result struct {
	RecordID      int64
	StockCode     string
	Horizon       string
	Return        float64
	Stale         bool
	StaleAttempts int
	Outcome       *signal.Outcome
}

func (r Result) Closed() bool { return r.Outcome != nil }

// Verify 处理一个已认领的条目。记录级别的数据问题不会返回错误；
// 只有持久层错误与上下文取消会向上传播。
func (v *Verifier) Verify(ctx context.Context, item store.DueItem) (Result, error) {
	rec := item.Record
	res := Result{RecordID: rec.ID, StockCode: rec.StockCode, Horizon: item.Horizon.Label, StaleAttempts: rec.StaleAttempts}
	if rec.CurrentPrice <= 0 {
		return v.closeUnavailable(ctx, item, res, "emission price missing")
	}
	if stored, ok := rec.Returns[item.Horizon.Label]; ok && v.cfg.Horizons.IsTerminal(item.Horizon) {
		// 终点已写入但上次关闭失败，按已存收益重新判定，不再取价。
		res.Return = stored
		logger.Event("closing recorded terminal", "signal_id", rec.ID, "stock", rec.StockCode,
			"horizon", item.Horizon.Label, "return_pct", stored)
		return v.finish(ctx, rec, stored, res)
	}
	quote, err := v.feed.GetCurrentPrice(ctx, rec.StockCode)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if errors.Is(err, market.ErrUnknownSymbol) {
			return v.closeUnavailable(ctx, item, res, err.Error())
		}
		return v.markStale(ctx, item, res, err)
	}
	if quote.Price <= 0 {
		return v.markStale(ctx, item, res, market.ErrNoData)
	}

	ret := ReturnPct(rec.CurrentPrice, quote.Price)
	res.Return = ret
	if err := v.store.ApplyVerification(ctx, rec.ID, item.Horizon, ret); err != nil {
		if errors.Is(err, store.ErrRecordClosed) {
			logger.Event("signal already closed", "signal_id", rec.ID, "stock", rec.StockCode, "horizon", item.Horizon.Label)
			return res, nil
		}
		return res, err
	}
	logger.Event("horizon verified",
		"signal_id", rec.ID, "stock", rec.StockCode, "type", string(rec.Type),
		"horizon", item.Horizon.Label, "return_pct", ret, "price", quote.Price)

	if !v.cfg.Horizons.IsTerminal(item.Horizon) {
		return res, nil
	}
	return v.finish(ctx, rec, ret, res)
}

// finish 以终点收益判定并关闭记录。Close 失败时终点值已落库，
// 下一轮 FindDue 会把记录作为待关闭条目再次交回。
func (v *Verifier) finish(ctx context.Context, rec signal.Record, ret float64, res Result) (Result, error) {
	mfe, mae := ret, ret
	if rec.MFE != nil {
		mfe = math.Max(*rec.MFE, ret)
	}
	if rec.MAE != nil {
		mae = math.Min(*rec.MAE, ret)
	}
	outcome := v.Judge(rec.Type, ret, mfe, mae)
	outcome.CompletedAt = v.clock.Now()
	outcome.MarketContext = v.closingContext(ctx, rec)
	if err := v.store.Close(ctx, rec.ID, outcome); err != nil {
		if errors.Is(err, store.ErrRecordClosed) {
			return res, nil
		}
		return res, err
	}
	res.Outcome = &outcome
	logger.Event("signal closed",
		"signal_id", rec.ID, "stock", rec.StockCode, "type", string(rec.Type),
		"outcome", string(outcome.Status), "success", outcome.IsSuccess, "tag", outcome.FailureTag,
		"return_pct", ret, "mfe", mfe, "mae", mae)
	v.recordPnL(ctx, rec, ret, outcome.CompletedAt.UnixMilli())
	return res, nil
}

// Judge 终点判定：buy 类 r>0，sell 类 r<0，hold |r|<=hold_band。
// 失败且不利幅度达到 fail_threshold 时状态为 failed，否则 completed。
func (v *Verifier) Judge(t signal.Type, ret, mfe, mae float64) signal.Outcome {
	var success bool
	switch t.Direction() {
	case signal.DirectionLong:
		success = ret > 0
	case signal.DirectionShort:
		success = ret < 0
	default:
		success = math.Abs(ret) <= v.cfg.HoldBandPct
	}
	final := ret
	out := signal.Outcome{Status: signal.StatusCompleted, IsSuccess: success, FinalReturn: &final}
	if success {
		return out
	}
	out.FailureTag = v.cfg.Policy.Tag(t, ret, excursionFor(t, mfe, mae))
	if adverseMove(t, ret) >= v.cfg.FailThresholdPct {
		out.Status = signal.StatusFailed
	}
	return out
}

func adverseMove(t signal.Type, ret float64) float64 {
	switch t.Direction() {
	case signal.DirectionLong:
		return -ret
	case signal.DirectionShort:
		return ret
	default:
		return math.Abs(ret)
	}
}

func (v *Verifier) markStale(ctx context.Context, item store.DueItem, res Result, cause error) (Result, error) {
	n, err := v.store.MarkStale(ctx, item.Record.ID, item.Token)
	if err != nil {
		if errors.Is(err, store.ErrClaimLost) || errors.Is(err, store.ErrRecordClosed) {
			logger.Event("stale mark skipped", "signal_id", item.Record.ID, "stock", item.Record.StockCode, "error", err)
			return res, nil
		}
		return res, err
	}
	res.Stale = true
	res.StaleAttempts = n
	logger.Event("price unavailable",
		"signal_id", item.Record.ID, "stock", item.Record.StockCode, "horizon", item.Horizon.Label,
		"attempt", n, "max", v.cfg.MaxStaleAttempts, "tag", "price_feed_unavailable", "error", cause)
	if n < v.cfg.MaxStaleAttempts {
		return res, nil
	}
	return v.closeUnavailable(ctx, item, res, cause.Error())
}

func (v *Verifier) closeUnavailable(ctx context.Context, item store.DueItem, res Result, reason string) (Result, error) {
	outcome := signal.Outcome{
		Status:        signal.StatusFailed,
		FailureTag:    signal.TagDataUnavailable,
		CompletedAt:   v.clock.Now(),
		MarketContext: v.closingContext(ctx, item.Record),
	}
	if err := v.store.Close(ctx, item.Record.ID, outcome); err != nil {
		if errors.Is(err, store.ErrRecordClosed) {
			return res, nil
		}
		return res, err
	}
	res.Outcome = &outcome
	logger.Event("signal closed",
		"signal_id", item.Record.ID, "stock", item.Record.StockCode, "outcome", string(outcome.Status),
		"tag", outcome.FailureTag, "reason", reason)
	return res, nil
}

// closingContext 合并发出时与关闭时的市场快照；取不到快照时保留原值。
func (v *Verifier) closingContext(ctx context.Context, rec signal.Record) json.RawMessage {
	if v.marketCtx == nil {
		return nil
	}
	snap, err := v.marketCtx.Snapshot(ctx)
	if err != nil {
		logger.Debugf("market context unavailable on close id=%d: %v", rec.ID, err)
		return nil
	}
	merged := map[string]any{"closure": snap}
	if len(rec.MarketContext) > 0 {
		var prev map[string]json.RawMessage
		if json.Unmarshal(rec.MarketContext, &prev) == nil {
			if emission, ok := prev["emission"]; ok {
				merged["emission"] = emission
			} else {
				merged["emission"] = json.RawMessage(rec.MarketContext)
			}
		}
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil
	}
	return raw
}

func (v *Verifier) recordPnL(ctx context.Context, rec signal.Record, ret float64, closedAtMs int64) {
	if v.pnl == nil || v.session == nil {
		return
	}
	pnl := risk.PositionPnL(rec.Type, rec.SuggestedShares, rec.CurrentPrice, ret)
	if pnl.IsZero() {
		return
	}
	date := v.session(closedAtMs)
	if err := v.pnl.AddRealizedPnL(ctx, date, pnl); err != nil {
		logger.Warnf("record pnl failed id=%d date=%s: %v", rec.ID, date, err)
	}
}

// ReturnPct = (p - p0) / p0 * 100，保留 4 位小数。
func ReturnPct(entry, current float64) float64 {
	p0 := decimal.NewFromFloat(entry)
	if !p0.IsPositive() {
		return 0
	}
	p := decimal.NewFromFloat(current)
	return p.Sub(p0).Div(p0).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
}

func (r Result) String() string {
	return fmt.Sprintf("id=%d %s %s ret=%.4f stale=%v closed=%v", r.RecordID, r.StockCode, r.Horizon, r.Return, r.Stale, r.Closed())
}
