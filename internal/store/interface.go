package store

import (
	"context"
	"time"

	"aegis/internal/risk"
	"aegis/internal/signal"

	"github.com/shopspring/decimal"
)

// ClaimOptions 控制 FindDue 的认领行为。
type ClaimOptions struct {
	// Token 标识本轮认领者；同一 token 可重复认领自己持有的记录。
	Token string
	Lease time.Duration
	Limit int
}

// DueItem 是已被当前调用方独占认领的 (记录, 时点)。
type DueItem struct {
	Record  signal.Record
	Horizon signal.Horizon
	Token   string
	Until   time.Time
}

// Query 用于列表查询。
type Query struct {
	StockCode string
	Statuses  []signal.TraceStatus
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// Stats 汇总已关闭的 buy/sell 类信号，供 Kelly 仓位使用。
type Stats struct {
	Since      time.Time      `json:"since"`
	Samples    int            `json:"samples"`
	Wins       int            `json:"wins"`
	AvgWinPct  float64        `json:"avg_win_pct"`
	AvgLossPct float64        `json:"avg_loss_pct"`
	ByStatus   map[string]int `json:"by_status"`
	ByTag      map[string]int `json:"by_failure_tag"`
}

func (s Stats) WinRate() float64 {
	if s.Samples == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Samples)
}

// SignalStore 独占信号记录的全部修改；协调全部通过条件写完成。
type SignalStore interface {
	Create(ctx context.Context, rec *signal.Record) (int64, error)
	FindDue(ctx context.Context, now time.Time, horizons signal.Horizons, opts ClaimOptions) ([]DueItem, error)
	ClaimForVerification(ctx context.Context, id int64, horizon signal.Horizon, token string, until time.Time) (bool, error)
	ApplyVerification(ctx context.Context, id int64, horizon signal.Horizon, value float64) error
	Close(ctx context.Context, id int64, outcome signal.Outcome) error
	MarkStale(ctx context.Context, id int64, token string) (int, error)
	Release(ctx context.Context, id int64, token string) error
	Get(ctx context.Context, id int64) (signal.Record, error)
	List(ctx context.Context, q Query) ([]signal.Record, error)
	OutcomeStats(ctx context.Context, since time.Time) (Stats, error)
	Ping(ctx context.Context) error
}

// RiskStateStore 持久化每个交易日的熔断计数，单次进程之间共享。
type RiskStateStore interface {
	LoadRiskState(ctx context.Context, sessionDate string) (risk.CircuitBreakerState, error)
	AddTrade(ctx context.Context, sessionDate string) error
	AddRealizedPnL(ctx context.Context, sessionDate string, pnl decimal.Decimal) error
	SaveTrip(ctx context.Context, sessionDate, reason string) error
	ResetRiskState(ctx context.Context, sessionDate string) error
}

// AuditEntry 记录被拒绝/跳过/重复的信号，保证没有信号被静默丢弃。
type AuditEntry struct {
	ID        int64          `json:"id"`
	TS        time.Time      `json:"ts"`
	TickID    string         `json:"tick_id,omitempty"`
	StockCode string         `json:"stock_code"`
	Kind      string         `json:"kind"` // rejected | skipped | duplicate | error
	Tag       string         `json:"tag"`
	Detail    string         `json:"detail,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// AuditQuery 过滤审计记录。
type AuditQuery struct {
	StockCode string
	Kind      string
	Limit     int
}

type AuditLog interface {
	Append(ctx context.Context, e AuditEntry) error
	Recent(ctx context.Context, q AuditQuery) ([]AuditEntry, error)
}

const (
	AuditRejected  = "rejected"
	AuditSkipped   = "skipped"
	AuditDuplicate = "duplicate"
	AuditError     = "error"
	// AuditPriceFallback 记录发出价退回 K 线收盘价的情况，信号仍照常处理。
	AuditPriceFallback = "price_fallback"
)
