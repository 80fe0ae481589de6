package gormstore

import (
	"context"
	"fmt"
	"strings"

	"aegis/internal/risk"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) ensureRiskRow(ctx context.Context, date string) error {
	if strings.TrimSpace(date) == "" {
		return fmt.Errorf("session_date 必填")
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "session_date"}}, DoNothing: true}).
		Create(&riskStateModel{SessionDate: date}).Error
	return classify(err)
}

// LoadRiskState 读取当日熔断状态，不存在时创建空行。
func (s *Store) LoadRiskState(ctx context.Context, date string) (risk.CircuitBreakerState, error) {
	if err := s.ensureRiskRow(ctx, date); err != nil {
		return risk.CircuitBreakerState{}, err
	}
	var row riskStateModel
	if err := s.db.WithContext(ctx).Where("session_date = ?", date).Take(&row).Error; err != nil {
		return risk.CircuitBreakerState{}, classify(err)
	}
	return risk.CircuitBreakerState{
		SessionDate: row.SessionDate,
		RealizedPnL: decimal.NewFromFloat(row.RealizedPnL),
		TradeCount:  row.TradeCount,
		Tripped:     row.Tripped,
		TripReason:  row.TripReason,
	}, nil
}

// AddTrade 原子递增当日交易数。
func (s *Store) AddTrade(ctx context.Context, date string) error {
	if err := s.ensureRiskRow(ctx, date); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&riskStateModel{}).
		Where("session_date = ?", date).
		Update("trade_count", gorm.Expr("trade_count + 1")).Error
	return classify(err)
}

// AddRealizedPnL 原子累加当日已实现盈亏（亏损为负）。
func (s *Store) AddRealizedPnL(ctx context.Context, date string, pnl decimal.Decimal) error {
	if pnl.IsZero() {
		return nil
	}
	if err := s.ensureRiskRow(ctx, date); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&riskStateModel{}).
		Where("session_date = ?", date).
		Update("realized_pnl", gorm.Expr("realized_pnl + ?", pnl.InexactFloat64())).Error
	return classify(err)
}

// SaveTrip 只记录第一次触发的原因。
func (s *Store) SaveTrip(ctx context.Context, date, reason string) error {
	if err := s.ensureRiskRow(ctx, date); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&riskStateModel{}).
		Where("session_date = ? AND tripped = ?", date, false).
		Updates(map[string]any{"tripped": true, "trip_reason": reason}).Error
	return classify(err)
}

// ResetRiskState 在开盘时清零当日计数。
func (s *Store) ResetRiskState(ctx context.Context, date string) error {
	if err := s.ensureRiskRow(ctx, date); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&riskStateModel{}).
		Where("session_date = ?", date).
		Updates(map[string]any{
			"realized_pnl": 0,
			"trade_count":  0,
			"tripped":      false,
			"trip_reason":  "",
		}).Error
	return classify(err)
}
