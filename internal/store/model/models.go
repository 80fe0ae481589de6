package model

import (
	"gorm.io/datatypes"
)

// SignalHistoryModel 对应 aegis_signal_history。时间列均为 Unix 毫秒。
type SignalHistoryModel struct {
	ID           int64   `gorm:"column:id;primaryKey;autoIncrement"`
	StockCode    string  `gorm:"column:stock_code;size:16;not null;uniqueIndex:idx_signal_hour,priority:1"`
	SignalType   string  `gorm:"column:signal_type;size:16;not null;uniqueIndex:idx_signal_hour,priority:2"`
	HourBucket   string  `gorm:"column:hour_bucket;size:16;not null;uniqueIndex:idx_signal_hour,priority:3"`
	RecordedAt   int64   `gorm:"column:recorded_at;not null;index"`
	SignalScore  int     `gorm:"column:signal_score"`
	MAScore      int     `gorm:"column:ma_score"`
	VWAPScore    int     `gorm:"column:vwap_score"`
	RSIScore     int     `gorm:"column:rsi_score"`
	MAReason     string  `gorm:"column:ma_reason"`
	VWAPReason   string  `gorm:"column:vwap_reason"`
	RSIReason    string  `gorm:"column:rsi_reason"`
	CurrentPrice float64 `gorm:"column:current_price"`
	Regime       string  `gorm:"column:regime;size:16"`

	Return5m  *float64 `gorm:"column:return_5m"`
	Return10m *float64 `gorm:"column:return_10m"`
	Return30m *float64 `gorm:"column:return_30m"`
	Return60m *float64 `gorm:"column:return_60m"`
	Result1h  *float64 `gorm:"column:result_1h"`
	Result1d  *float64 `gorm:"column:result_1d"`
	MFE       *float64 `gorm:"column:mfe"`
	MAE       *float64 `gorm:"column:mae"`

	TraceStatus      string `gorm:"column:trace_status;size:16;not null;index"`
	TraceStartedAt   *int64 `gorm:"column:trace_started_at"`
	TraceCompletedAt *int64 `gorm:"column:trace_completed_at;index"`

	IsSuccess     *bool          `gorm:"column:is_success"`
	FailureTag    string         `gorm:"column:failure_tag;size:32"`
	FinalReturn   *float64       `gorm:"column:final_return"`
	MarketContext datatypes.JSON `gorm:"column:market_context;type:TEXT"`

	SuggestedShares int64   `gorm:"column:suggested_shares"`
	StopLossPrice   float64 `gorm:"column:stop_loss_price"`
	KellyFraction   float64 `gorm:"column:kelly_fraction"`

	ClaimToken    string `gorm:"column:claim_token;size:64;not null;default:''"`
	ClaimHorizon  string `gorm:"column:claim_horizon;size:8;not null;default:''"`
	ClaimedUntil  int64  `gorm:"column:claimed_until;not null;default:0"`
	StaleAttempts int    `gorm:"column:stale_attempts;not null;default:0"`

	CreatedAt int64 `gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt int64 `gorm:"column:updated_at;autoUpdateTime:milli"`
}

func (SignalHistoryModel) TableName() string { return "aegis_signal_history" }

// RiskStateModel 每个交易日一行的熔断计数。
type RiskStateModel struct {
	SessionDate string  `gorm:"column:session_date;primaryKey;size:10"`
	RealizedPnL float64 `gorm:"column:realized_pnl;not null;default:0"`
	TradeCount  int     `gorm:"column:trade_count;not null;default:0"`
	Tripped     bool    `gorm:"column:tripped;not null;default:false"`
	TripReason  string  `gorm:"column:trip_reason"`
	UpdatedAt   int64   `gorm:"column:updated_at;autoUpdateTime:milli"`
}

func (RiskStateModel) TableName() string { return "aegis_risk_state" }
