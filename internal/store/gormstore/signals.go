package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"aegis/internal/signal"
	"aegis/internal/store"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var openStatuses = []string{string(signal.StatusPending), string(signal.StatusTracking)}

// Create 插入新信号；同一 (stock_code, signal_type, hour_bucket) 已存在时返回 ErrDuplicateSignal。
func (s *Store) Create(ctx context.Context, rec *signal.Record) (int64, error) {
	if rec == nil {
		return 0, fmt.Errorf("signal record 不能为空")
	}
	if strings.TrimSpace(rec.StockCode) == "" || rec.Type == "" {
		return 0, fmt.Errorf("stock_code 与 signal_type 必填")
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}
	if rec.HourBucket == "" {
		rec.HourBucket = rec.RecordedAt.UTC().Format("2006-01-02T15")
	}
	if rec.Status == "" {
		rec.Status = signal.StatusPending
	}
	m := newSignalModel(*rec)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stock_code"}, {Name: "signal_type"}, {Name: "hour_bucket"}},
			DoNothing: true,
		}).
		Create(&m)
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("%s %s @%s: %w", rec.StockCode, rec.Type, rec.HourBucket, store.ErrDuplicateSignal)
	}
	rec.ID = m.ID
	return m.ID, nil
}

// FindDue 按 id 游标扫描未关闭、未被认领的记录，计算每条记录下一个未观测时点并逐条 CAS 认领。
// 终点已写入但未关闭的记录（写入后 Close 失败）以终点时点再次认领，由调用方重新判定并关闭。
// 只返回认领成功的条目；每条记录每次最多一个时点。
func (s *Store) FindDue(ctx context.Context, now time.Time, horizons signal.Horizons, opts store.ClaimOptions) ([]store.DueItem, error) {
	if len(horizons) == 0 {
		return nil, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = 200
	}
	if opts.Lease <= 0 {
		opts.Lease = 90 * time.Second
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("claim token 必填")
	}
	nowMs := toMillis(now)
	earliest := toMillis(now.Add(-horizons[0].Duration))
	until := now.Add(opts.Lease)
	page := opts.Limit * 2

	var (
		out    []store.DueItem
		cursor int64
	)
	for len(out) < opts.Limit {
		var rows []signalModel
		err := s.db.WithContext(ctx).
			Where("id > ?", cursor).
			Where("trace_completed_at IS NULL AND trace_status IN ?", openStatuses).
			Where("recorded_at <= ?", earliest).
			Where("(claim_token = '' OR claimed_until < ? OR claim_token = ?)", nowMs, opts.Token).
			Order("id ASC").
			Limit(page).
			Find(&rows).Error
		if err != nil {
			return out, classify(err)
		}
		for _, row := range rows {
			cursor = row.ID
			rec := toRecord(row)
			h, ok := horizons.NextDue(rec, now)
			recorded := false
			if !ok {
				if h, ok = horizons.ClosePending(rec); !ok {
					continue
				}
				recorded = true
			}
			claimed, err := s.claim(ctx, row.ID, h, recorded, opts.Token, until, now)
			if err != nil {
				return out, err
			}
			if !claimed {
				continue
			}
			rec.StaleAttempts = row.StaleAttempts
			out = append(out, store.DueItem{Record: rec, Horizon: h, Token: opts.Token, Until: until})
			if len(out) >= opts.Limit {
				break
			}
		}
		if len(rows) < page {
			break
		}
	}
	return out, nil
}

// ClaimForVerification 以比较并交换的方式认领 (id, horizon)：
// 记录未关闭、该时点未写入且当前无有效租约（或租约属于同一 token）时才成功。
func (s *Store) ClaimForVerification(ctx context.Context, id int64, horizon signal.Horizon, token string, until time.Time) (bool, error) {
	return s.claim(ctx, id, horizon, false, token, until, s.now())
}

// claim 的 recorded 表示认领已写入收益、等待关闭的时点。
func (s *Store) claim(ctx context.Context, id int64, horizon signal.Horizon, recorded bool, token string, until, now time.Time) (bool, error) {
	col, err := horizonColumn(horizon)
	if err != nil {
		return false, err
	}
	cond := col + " IS NULL"
	if recorded {
		cond = col + " IS NOT NULL"
	}
	res := s.db.WithContext(ctx).Model(&signalModel{}).
		Where("id = ? AND trace_completed_at IS NULL AND trace_status IN ?", id, openStatuses).
		Where(cond).
		Where("(claim_token = '' OR claimed_until < ? OR claim_token = ?)", toMillis(now), token).
		Updates(map[string]any{
			"claim_token":   token,
			"claim_horizon": horizon.Label,
			"claimed_until": toMillis(until),
		})
	if res.Error != nil {
		return false, classify(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ApplyVerification 写入时点收益并在同一条件写中更新 mfe/mae 与状态。
// 成功取价即清零 stale_attempts，连续失败次数按时点重新累计。
// 同值重复写入是 no-op；不同值返回 ErrHorizonConflict；已关闭返回 ErrRecordClosed。
func (s *Store) ApplyVerification(ctx context.Context, id int64, horizon signal.Horizon, value float64) error {
	col, err := horizonColumn(horizon)
	if err != nil {
		return err
	}
	v := round4(value)
	nowMs := toMillis(s.now())
	res := s.db.WithContext(ctx).Model(&signalModel{}).
		Where("id = ? AND trace_completed_at IS NULL", id).
		Where(col + " IS NULL").
		Updates(map[string]any{
			col:                v,
			"mfe":              gorm.Expr("CASE WHEN mfe IS NULL OR mfe < ? THEN ? ELSE mfe END", v, v),
			"mae":              gorm.Expr("CASE WHEN mae IS NULL OR mae > ? THEN ? ELSE mae END", v, v),
			"trace_status":     gorm.Expr("CASE WHEN trace_status = ? THEN ? ELSE trace_status END", string(signal.StatusPending), string(signal.StatusTracking)),
			"trace_started_at": gorm.Expr("COALESCE(trace_started_at, ?)", nowMs),
			"stale_attempts":   0,
			"claim_token":      "",
			"claim_horizon":    "",
			"claimed_until":    0,
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	row, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if prev := horizonValue(&row, horizon.Label); prev != nil {
		if math.Abs(*prev-v) < 1e-9 {
			return nil
		}
		return fmt.Errorf("id=%d %s has %.4f, got %.4f: %w", id, horizon.Label, *prev, v, store.ErrHorizonConflict)
	}
	if row.TraceCompletedAt != nil {
		return fmt.Errorf("id=%d: %w", id, store.ErrRecordClosed)
	}
	return fmt.Errorf("id=%d %s: %w", id, horizon.Label, store.ErrHorizonConflict)
}

// Close 冻结记录；只有 trace_completed_at 为空时才会写入。
func (s *Store) Close(ctx context.Context, id int64, outcome signal.Outcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("close requires a terminal status, got %q", outcome.Status)
	}
	completed := outcome.CompletedAt
	if completed.IsZero() {
		completed = s.now()
	}
	updates := map[string]any{
		"trace_status":       string(outcome.Status),
		"is_success":         outcome.IsSuccess,
		"failure_tag":        outcome.FailureTag,
		"trace_completed_at": toMillis(completed),
		"trace_started_at":   gorm.Expr("COALESCE(trace_started_at, ?)", toMillis(completed)),
		"claim_token":        "",
		"claim_horizon":      "",
		"claimed_until":      0,
	}
	if outcome.FinalReturn != nil {
		updates["final_return"] = round4(*outcome.FinalReturn)
	}
	if len(outcome.MarketContext) > 0 {
		updates["market_context"] = datatypes.JSON(outcome.MarketContext)
	}
	res := s.db.WithContext(ctx).Model(&signalModel{}).
		Where("id = ? AND trace_completed_at IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("id=%d: %w", id, store.ErrRecordClosed)
}

// MarkStale 记录一次取价失败并释放租约，返回累计次数。
func (s *Store) MarkStale(ctx context.Context, id int64, token string) (int, error) {
	res := s.db.WithContext(ctx).Model(&signalModel{}).
		Where("id = ? AND trace_completed_at IS NULL AND claim_token = ?", id, token).
		Updates(map[string]any{
			"stale_attempts": gorm.Expr("stale_attempts + 1"),
			"claim_token":    "",
			"claim_horizon":  "",
			"claimed_until":  0,
		})
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	row, err := s.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if res.RowsAffected == 0 {
		if row.TraceCompletedAt != nil {
			return row.StaleAttempts, fmt.Errorf("id=%d: %w", id, store.ErrRecordClosed)
		}
		return row.StaleAttempts, fmt.Errorf("id=%d: %w", id, store.ErrClaimLost)
	}
	return row.StaleAttempts, nil
}

// Release 放弃租约，不改变其他字段。
func (s *Store) Release(ctx context.Context, id int64, token string) error {
	err := s.db.WithContext(ctx).Model(&signalModel{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(map[string]any{
			"claim_token":   "",
			"claim_horizon": "",
			"claimed_until": 0,
		}).Error
	return classify(err)
}

func (s *Store) Get(ctx context.Context, id int64) (signal.Record, error) {
	row, err := s.load(ctx, id)
	if err != nil {
		return signal.Record{}, err
	}
	return toRecord(row), nil
}

func (s *Store) List(ctx context.Context, q store.Query) ([]signal.Record, error) {
	tx := s.db.WithContext(ctx).Model(&signalModel{})
	if code := strings.TrimSpace(q.StockCode); code != "" {
		tx = tx.Where("stock_code = ?", code)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, 0, len(q.Statuses))
		for _, st := range q.Statuses {
			statuses = append(statuses, string(st))
		}
		tx = tx.Where("trace_status IN ?", statuses)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("recorded_at >= ?", toMillis(q.Since))
	}
	if !q.Until.IsZero() {
		tx = tx.Where("recorded_at < ?", toMillis(q.Until))
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []signalModel
	if err := tx.Order("recorded_at DESC, id DESC").Limit(limit).Offset(q.Offset).Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]signal.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRecord(row))
	}
	return out, nil
}

// OutcomeStats 统计 since 之后关闭的记录；胜负只计 buy/sell 类且有终点收益的样本，收益按方向调整。
func (s *Store) OutcomeStats(ctx context.Context, since time.Time) (store.Stats, error) {
	var rows []signalModel
	err := s.db.WithContext(ctx).
		Select("id", "signal_type", "trace_status", "is_success", "failure_tag", "final_return").
		Where("trace_completed_at IS NOT NULL AND trace_completed_at >= ?", toMillis(since)).
		Find(&rows).Error
	if err != nil {
		return store.Stats{}, classify(err)
	}
	stats := store.Stats{Since: since, ByStatus: map[string]int{}, ByTag: map[string]int{}}
	var winSum, lossSum float64
	var losses int
	for _, row := range rows {
		stats.ByStatus[row.TraceStatus]++
		if row.FailureTag != "" {
			stats.ByTag[row.FailureTag]++
		}
		typ := signal.Type(row.SignalType)
		if !typ.Actionable() || row.FinalReturn == nil {
			continue
		}
		ret := *row.FinalReturn
		if typ.Direction() == signal.DirectionShort {
			ret = -ret
		}
		stats.Samples++
		if row.IsSuccess != nil && *row.IsSuccess {
			stats.Wins++
			winSum += ret
			continue
		}
		losses++
		lossSum += ret
	}
	if stats.Wins > 0 {
		stats.AvgWinPct = round4(winSum / float64(stats.Wins))
	}
	if losses > 0 {
		stats.AvgLossPct = round4(lossSum / float64(losses))
	}
	return stats, nil
}

func (s *Store) load(ctx context.Context, id int64) (signalModel, error) {
	var row signalModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return signalModel{}, classify(err)
	}
	return row, nil
}

func horizonColumn(h signal.Horizon) (string, error) {
	known, ok := signal.HorizonByLabel(h.Label)
	if !ok {
		return "", fmt.Errorf("unknown horizon %q", h.Label)
	}
	return known.Column, nil
}

func horizonValue(m *signalModel, label string) *float64 {
	switch label {
	case "5m":
		return m.Return5m
	case "10m":
		return m.Return10m
	case "30m":
		return m.Return30m
	case "60m":
		return m.Return60m
	case "1h":
		return m.Result1h
	case "1d":
		return m.Result1d
	}
	return nil
}

var horizonLabels = []string{"5m", "10m", "30m", "60m", "1h", "1d"}

func newSignalModel(rec signal.Record) signalModel {
	m := signalModel{
		StockCode:       strings.TrimSpace(rec.StockCode),
		SignalType:      string(rec.Type),
		HourBucket:      rec.HourBucket,
		RecordedAt:      toMillis(rec.RecordedAt),
		SignalScore:     rec.Score,
		MAScore:         rec.Sub.MA,
		VWAPScore:       rec.Sub.VWAP,
		RSIScore:        rec.Sub.RSI,
		MAReason:        rec.Sub.MAReason,
		VWAPReason:      rec.Sub.VWAPReason,
		RSIReason:       rec.Sub.RSIReason,
		CurrentPrice:    rec.CurrentPrice,
		Regime:          string(rec.Regime),
		TraceStatus:     string(rec.Status),
		SuggestedShares: rec.SuggestedShares,
		StopLossPrice:   rec.StopLossPrice,
		KellyFraction:   rec.KellyFraction,
	}
	if len(rec.MarketContext) > 0 {
		m.MarketContext = datatypes.JSON(rec.MarketContext)
	}
	return m
}

func toRecord(m signalModel) signal.Record {
	rec := signal.Record{
		ID:         m.ID,
		StockCode:  m.StockCode,
		Type:       signal.Type(m.SignalType),
		RecordedAt: fromMillis(m.RecordedAt),
		HourBucket: m.HourBucket,
		Score:      m.SignalScore,
		Sub: signal.SubScores{
			MA: m.MAScore, VWAP: m.VWAPScore, RSI: m.RSIScore,
			MAReason: m.MAReason, VWAPReason: m.VWAPReason, RSIReason: m.RSIReason,
		},
		CurrentPrice:     m.CurrentPrice,
		Regime:           signal.Regime(m.Regime),
		Returns:          make(map[string]float64),
		MFE:              m.MFE,
		MAE:              m.MAE,
		Status:           signal.TraceStatus(m.TraceStatus),
		TraceStartedAt:   fromMillisPtr(m.TraceStartedAt),
		TraceCompletedAt: fromMillisPtr(m.TraceCompletedAt),
		IsSuccess:        m.IsSuccess,
		FailureTag:       m.FailureTag,
		SuggestedShares:  m.SuggestedShares,
		StopLossPrice:    m.StopLossPrice,
		KellyFraction:    m.KellyFraction,
		StaleAttempts:    m.StaleAttempts,
	}
	for _, label := range horizonLabels {
		if v := horizonValue(&m, label); v != nil {
			rec.Returns[label] = *v
		}
	}
	if len(m.MarketContext) > 0 {
		rec.MarketContext = json.RawMessage(m.MarketContext)
	}
	return rec
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
