package config

import (
	"strings"
	"time"
	_ "time/tzdata" // 容器镜像可能缺少 zoneinfo
)

// Config 是 AEGIS 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Store     StoreConfig     `toml:"store"`
	Market    MarketConfig    `toml:"market"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Ensemble  EnsembleConfig  `toml:"ensemble"`
	Risk      RiskConfig      `toml:"risk"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Verify    VerifyConfig    `toml:"verify"`
	Schedule  ScheduleConfig  `toml:"schedule"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // text | json
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

// StoreConfig 描述信号历史库与审计库。
type StoreConfig struct {
	Driver            string `toml:"driver"` // sqlite | postgres
	Path              string `toml:"path"`
	DSN               string `toml:"dsn"`
	AuditPath         string `toml:"audit_path"`
	ClaimLeaseSeconds int    `toml:"claim_lease_seconds"`
	MaxOpenConns      int    `toml:"max_open_conns"`
}

func (s StoreConfig) ClaimLease() time.Duration {
	return time.Duration(s.ClaimLeaseSeconds) * time.Second
}

// MarketConfig 描述交易日历、观察名单与行情源。
type MarketConfig struct {
	Timezone       string     `toml:"timezone"`
	SessionOpen    string     `toml:"session_open"`
	SessionClose   string     `toml:"session_close"`
	Holidays       []string   `toml:"holidays"`
	Watchlist      []string   `toml:"watchlist"`
	CandleInterval string     `toml:"candle_interval"`
	HistoryLimit   int        `toml:"history_limit"`
	IndexCode      string     `toml:"index_code"`
	Feed           FeedConfig `toml:"feed"`
}

// FeedConfig 行情源。kind=http 时通过 gjson 路径解析任意 JSON 接口。
type FeedConfig struct {
	Kind                   string            `toml:"kind"` // http | binance
	QuoteURL               string            `toml:"quote_url"`
	HistoryURL             string            `toml:"history_url"`
	IndexURL               string            `toml:"index_url"`
	Headers                map[string]string `toml:"headers"`
	PricePath              string            `toml:"price_path"`
	TimePath               string            `toml:"time_path"`
	ChangeRatePath         string            `toml:"change_rate_path"`
	CandlesPath            string            `toml:"candles_path"`
	CandleFields           CandleFieldPaths  `toml:"candle_fields"`
	TimeoutSeconds         int               `toml:"timeout_seconds"`
	RateLimitPerSecond     float64           `toml:"rate_limit_per_second"`
	BreakerThreshold       int               `toml:"breaker_threshold"`
	BreakerCooldownSeconds int               `toml:"breaker_cooldown_seconds"`
	BinanceRESTURL         string            `toml:"binance_rest_url"`
}

type CandleFieldPaths struct {
	OpenTime string `toml:"open_time"`
	Open     string `toml:"open"`
	High     string `toml:"high"`
	Low      string `toml:"low"`
	Close    string `toml:"close"`
	Volume   string `toml:"volume"`
}

type ScoringConfig struct {
	MinPeriods    int     `toml:"min_periods"`
	RSIPeriod     int     `toml:"rsi_period"`
	RSIOversold   float64 `toml:"rsi_oversold"`
	RSIOverbought float64 `toml:"rsi_overbought"`
	ATRPeriod     int     `toml:"atr_period"`
	Concurrency   int     `toml:"concurrency"`
}

// EnsembleConfig 控制 regime 识别与各 regime 的权重。
type EnsembleConfig struct {
	RegimeMode       string               `toml:"regime_mode"` // off | fixed | auto
	FixedRegime      string               `toml:"fixed_regime"`
	BullThresholdPct float64              `toml:"bull_threshold_pct"`
	BearThresholdPct float64              `toml:"bear_threshold_pct"`
	Weights          map[string]WeightSet `toml:"weights"`
	WeightsPath      string               `toml:"weights_path"`
}

type WeightSet struct {
	MA   float64 `toml:"ma"`
	VWAP float64 `toml:"vwap"`
	RSI  float64 `toml:"rsi"`
}

// RiskConfig 熔断与仓位建议参数。
type RiskConfig struct {
	MaxDailyLoss      float64 `toml:"max_daily_loss"`
	MaxDailyTrades    int     `toml:"max_daily_trades"`
	AccountEquity     float64 `toml:"account_equity"`
	KellyFractionCap  float64 `toml:"kelly_fraction_cap"`
	KellyLookbackDays int     `toml:"kelly_lookback_days"`
	KellyMinSamples   int     `toml:"kelly_min_samples"`
	PriorWinRate      float64 `toml:"prior_win_rate"`
	PriorPayoff       float64 `toml:"prior_payoff"`
	ATRMultiplier     float64 `toml:"atr_multiplier"`
}

type LifecycleConfig struct {
	Horizons           []string `toml:"horizons"`
	Workers            int      `toml:"workers"`
	TickTimeoutSeconds int      `toml:"tick_timeout_seconds"`
	BatchSize          int      `toml:"batch_size"`
}

func (l LifecycleConfig) TickTimeout() time.Duration {
	return time.Duration(l.TickTimeoutSeconds) * time.Second
}

// VerifyConfig 终局判定阈值与失败标签规则。
type VerifyConfig struct {
	HoldBandPct       float64             `toml:"hold_band_pct"`
	FailThresholdPct  float64             `toml:"fail_threshold_pct"`
	MaxStaleAttempts  int                 `toml:"max_stale_attempts"`
	DefaultFailureTag string              `toml:"default_failure_tag"`
	FailureRules      []FailureRuleConfig `toml:"failure_rules"`
}

// FailureRuleConfig 中未设置的条件不参与匹配。
type FailureRuleConfig struct {
	Tag             string   `toml:"tag"`
	AppliesTo       []string `toml:"applies_to"` // buy | sell | hold
	MinFavorablePct *float64 `toml:"min_favorable_pct"`
	MinAdversePct   *float64 `toml:"min_adverse_pct"`
	MaxAbsReturnPct *float64 `toml:"max_abs_return_pct"`
}

type ScheduleConfig struct {
	TickIntervalSeconds int    `toml:"tick_interval_seconds"`
	TickOffsetSeconds   int    `toml:"tick_offset_seconds"`
	SessionOpenCron     string `toml:"session_open_cron"`
	SessionCloseCron    string `toml:"session_close_cron"`
}

// Location 返回交易日历时区，解析失败时退回 UTC。
func (m MarketConfig) Location() *time.Location {
	name := strings.TrimSpace(m.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
