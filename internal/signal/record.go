package signal

import (
	"encoding/json"
	"time"
)

// Record 是 aegis_signal_history 的领域视图。
type Record struct {
	ID           int64     `json:"id"`
	StockCode    string    `json:"stock_code"`
	Type         Type      `json:"signal_type"`
	RecordedAt   time.Time `json:"recorded_at"`
	HourBucket   string    `json:"hour_bucket"`
	Score        int       `json:"signal_score"`
	Sub          SubScores `json:"sub_scores"`
	CurrentPrice float64   `json:"current_price"`
	Regime       Regime    `json:"regime,omitempty"`

	// Returns 只包含已观测的时点（标签 → 百分比收益）。
	Returns map[string]float64 `json:"returns,omitempty"`
	MFE     *float64           `json:"mfe,omitempty"`
	MAE     *float64           `json:"mae,omitempty"`

	Status           TraceStatus `json:"trace_status"`
	TraceStartedAt   *time.Time  `json:"trace_started_at,omitempty"`
	TraceCompletedAt *time.Time  `json:"trace_completed_at,omitempty"`

	IsSuccess     *bool           `json:"is_success,omitempty"`
	FailureTag    string          `json:"failure_tag,omitempty"`
	MarketContext json.RawMessage `json:"market_context,omitempty"`

	SuggestedShares int64   `json:"suggested_shares"`
	StopLossPrice   float64 `json:"stop_loss_price"`
	KellyFraction   float64 `json:"kelly_fraction"`

	StaleAttempts int `json:"stale_attempts"`
}

// Closed 报告记录是否已冻结。
func (r Record) Closed() bool {
	return r.TraceCompletedAt != nil || r.Status.Terminal()
}

// Outcome 是终点时刻写入的结论。
type Outcome struct {
	Status     TraceStatus
	IsSuccess  bool
	FailureTag string
	// FinalReturn 为终点收益；数据不可用而关闭时为 nil。
	FinalReturn   *float64
	MarketContext json.RawMessage
	CompletedAt   time.Time
}
