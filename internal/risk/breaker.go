package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Limits 日内熔断阈值；0 表示不限制。
type Limits struct {
	MaxDailyLoss   decimal.Decimal
	MaxDailyTrades int
}

const (
	ReasonDailyLoss  = "circuit_breaker:daily_loss"
	ReasonTradeCount = "circuit_breaker:trade_count"
)

// CircuitBreakerState 是单个交易日的熔断计数，由调用方显式持有并传入 Gate。
type CircuitBreakerState struct {
	SessionDate string          `json:"session_date"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	TradeCount  int             `json:"trade_count"`
	Tripped     bool            `json:"tripped"`
	TripReason  string          `json:"trip_reason,omitempty"`
}

// ResetForSession 在新交易日开盘时清零。
func (s *CircuitBreakerState) ResetForSession(date string) {
	*s = CircuitBreakerState{SessionDate: date, RealizedPnL: decimal.Zero}
}

// Check 评估阈值，一旦触发当日保持触发状态。
func (s *CircuitBreakerState) Check(l Limits) bool {
	if s.Tripped {
		return true
	}
	if l.MaxDailyLoss.IsPositive() && s.RealizedPnL.Neg().GreaterThan(l.MaxDailyLoss) {
		s.Tripped = true
		s.TripReason = fmt.Sprintf("%s (loss %s > %s)", ReasonDailyLoss, s.RealizedPnL.Neg().StringFixed(0), l.MaxDailyLoss.StringFixed(0))
		return true
	}
	if l.MaxDailyTrades > 0 && s.TradeCount >= l.MaxDailyTrades {
		s.Tripped = true
		s.TripReason = fmt.Sprintf("%s (%d >= %d)", ReasonTradeCount, s.TradeCount, l.MaxDailyTrades)
		return true
	}
	return false
}

func (s *CircuitBreakerState) RecordTrade() { s.TradeCount++ }

func (s *CircuitBreakerState) RecordPnL(pnl decimal.Decimal) {
	s.RealizedPnL = s.RealizedPnL.Add(pnl)
}
