package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppHTTPAddr        = ":9992"
	defaultStoreDriver        = "sqlite"
	defaultStorePath          = "/data/aegis/signals.db"
	defaultAuditPath          = "/data/aegis/audit.db"
	defaultClaimLease         = 90
	defaultMaxOpenConns       = 4
	defaultTimezone           = "Asia/Seoul"
	defaultSessionOpen        = "09:00"
	defaultSessionClose       = "15:30"
	defaultCandleInterval     = "1d"
	defaultHistoryLimit       = 120
	defaultIndexCode          = "0001"
	defaultFeedKind           = "http"
	defaultFeedTimeout        = 5
	defaultFeedRate           = 10
	defaultBreakerThreshold   = 5
	defaultBreakerCooldown    = 30
	defaultMinPeriods         = 60
	defaultRSIPeriod          = 14
	defaultRSIOversold        = 30
	defaultRSIOverbought      = 70
	defaultATRPeriod          = 14
	defaultScoringConcurrency = 4
	defaultRegimeMode         = "off"
	defaultRegimeThreshold    = 0.5
	defaultKellyCap           = 0.25
	defaultKellyLookback      = 30
	defaultKellyMinSamples    = 20
	defaultPriorWinRate       = 0.5
	defaultPriorPayoff        = 1.0
	defaultATRMultiplier      = 2.0
	defaultWorkers            = 8
	defaultTickTimeout        = 50
	defaultBatchSize          = 200
	defaultHoldBandPct        = 1.0
	defaultFailThresholdPct   = 2.0
	defaultMaxStaleAttempts   = 5
	defaultFailureTag         = "wrong_direction"
	defaultTickInterval       = 60
	defaultTickOffset         = 2
	defaultSessionOpenCron    = "0 0 9 * * MON-FRI"
	defaultSessionCloseCron   = "0 35 15 * * MON-FRI"
)

// DefaultHorizons 默认验证周期，顺序即检查顺序。
var DefaultHorizons = []string{"5m", "10m", "30m", "60m", "1h", "1d"}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Scoring.applyDefaults(keys)
	c.Ensemble.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Lifecycle.applyDefaults(keys)
	c.Verify.applyDefaults(keys)
	c.Schedule.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, "text"),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver),
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.audit_path", &s.AuditPath, defaultAuditPath),
		intFieldDefault("store.claim_lease_seconds", &s.ClaimLeaseSeconds, defaultClaimLease),
		intFieldDefault("store.max_open_conns", &s.MaxOpenConns, defaultMaxOpenConns),
	)
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.timezone", &m.Timezone, defaultTimezone),
		stringFieldDefault("market.session_open", &m.SessionOpen, defaultSessionOpen),
		stringFieldDefault("market.session_close", &m.SessionClose, defaultSessionClose),
		stringFieldDefault("market.candle_interval", &m.CandleInterval, defaultCandleInterval),
		stringFieldDefault("market.index_code", &m.IndexCode, defaultIndexCode),
		intFieldDefault("market.history_limit", &m.HistoryLimit, defaultHistoryLimit),
	)
	m.Watchlist = normalizeCodes(m.Watchlist)
	m.Feed.applyDefaults(keys)
}

func (f *FeedConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.feed.kind", &f.Kind, defaultFeedKind),
		stringFieldDefault("market.feed.price_path", &f.PricePath, "price"),
		stringFieldDefault("market.feed.change_rate_path", &f.ChangeRatePath, "change_rate"),
		stringFieldDefault("market.feed.candles_path", &f.CandlesPath, "candles"),
		intFieldDefault("market.feed.timeout_seconds", &f.TimeoutSeconds, defaultFeedTimeout),
		intFieldDefault("market.feed.breaker_threshold", &f.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("market.feed.breaker_cooldown_seconds", &f.BreakerCooldownSeconds, defaultBreakerCooldown),
		floatFieldDefault("market.feed.rate_limit_per_second", &f.RateLimitPerSecond, defaultFeedRate),
	)
	f.Kind = strings.ToLower(strings.TrimSpace(f.Kind))
	cf := &f.CandleFields
	applyFieldDefaults(keys,
		stringFieldDefault("market.feed.candle_fields.open_time", &cf.OpenTime, "t"),
		stringFieldDefault("market.feed.candle_fields.open", &cf.Open, "o"),
		stringFieldDefault("market.feed.candle_fields.high", &cf.High, "h"),
		stringFieldDefault("market.feed.candle_fields.low", &cf.Low, "l"),
		stringFieldDefault("market.feed.candle_fields.close", &cf.Close, "c"),
		stringFieldDefault("market.feed.candle_fields.volume", &cf.Volume, "v"),
	)
}

func (s *ScoringConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("scoring.min_periods", &s.MinPeriods, defaultMinPeriods),
		intFieldDefault("scoring.rsi_period", &s.RSIPeriod, defaultRSIPeriod),
		floatFieldDefault("scoring.rsi_oversold", &s.RSIOversold, defaultRSIOversold),
		floatFieldDefault("scoring.rsi_overbought", &s.RSIOverbought, defaultRSIOverbought),
		intFieldDefault("scoring.atr_period", &s.ATRPeriod, defaultATRPeriod),
		intFieldDefault("scoring.concurrency", &s.Concurrency, defaultScoringConcurrency),
	)
}

func (e *EnsembleConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ensemble.regime_mode", &e.RegimeMode, defaultRegimeMode),
		floatFieldDefault("ensemble.bull_threshold_pct", &e.BullThresholdPct, defaultRegimeThreshold),
		floatFieldDefault("ensemble.bear_threshold_pct", &e.BearThresholdPct, defaultRegimeThreshold),
	)
	e.RegimeMode = strings.ToLower(strings.TrimSpace(e.RegimeMode))
	e.FixedRegime = strings.ToUpper(strings.TrimSpace(e.FixedRegime))
	if len(e.Weights) > 0 {
		normalized := make(map[string]WeightSet, len(e.Weights))
		for k, w := range e.Weights {
			normalized[strings.ToUpper(strings.TrimSpace(k))] = w
		}
		e.Weights = normalized
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.kelly_fraction_cap",
			need:  func() bool { return r.KellyFractionCap <= 0 || r.KellyFractionCap > 1 },
			apply: func() { r.KellyFractionCap = defaultKellyCap },
		},
		intFieldDefault("risk.kelly_lookback_days", &r.KellyLookbackDays, defaultKellyLookback),
		intFieldDefault("risk.kelly_min_samples", &r.KellyMinSamples, defaultKellyMinSamples),
		floatFieldDefault("risk.prior_win_rate", &r.PriorWinRate, defaultPriorWinRate),
		floatFieldDefault("risk.prior_payoff", &r.PriorPayoff, defaultPriorPayoff),
		floatFieldDefault("risk.atr_multiplier", &r.ATRMultiplier, defaultATRMultiplier),
	)
	if r.MaxDailyLoss < 0 {
		r.MaxDailyLoss = -r.MaxDailyLoss
	}
}

func (l *LifecycleConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "lifecycle.horizons",
			need:  func() bool { return len(l.Horizons) == 0 },
			apply: func() { l.Horizons = append([]string(nil), DefaultHorizons...) },
		},
		intFieldDefault("lifecycle.workers", &l.Workers, defaultWorkers),
		intFieldDefault("lifecycle.tick_timeout_seconds", &l.TickTimeoutSeconds, defaultTickTimeout),
		intFieldDefault("lifecycle.batch_size", &l.BatchSize, defaultBatchSize),
	)
	for i, h := range l.Horizons {
		l.Horizons[i] = strings.ToLower(strings.TrimSpace(h))
	}
}

func (v *VerifyConfig) applyDefaults(keys keySet) {
	if v == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("verify.hold_band_pct", &v.HoldBandPct, defaultHoldBandPct),
		floatFieldDefault("verify.fail_threshold_pct", &v.FailThresholdPct, defaultFailThresholdPct),
		intFieldDefault("verify.max_stale_attempts", &v.MaxStaleAttempts, defaultMaxStaleAttempts),
		stringFieldDefault("verify.default_failure_tag", &v.DefaultFailureTag, defaultFailureTag),
		fieldDefault{
			key:   "verify.failure_rules",
			need:  func() bool { return len(v.FailureRules) == 0 },
			apply: func() { v.FailureRules = DefaultFailureRules() },
		},
	)
}

func (s *ScheduleConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("schedule.tick_interval_seconds", &s.TickIntervalSeconds, defaultTickInterval),
		intFieldDefault("schedule.tick_offset_seconds", &s.TickOffsetSeconds, defaultTickOffset),
		stringFieldDefault("schedule.session_open_cron", &s.SessionOpenCron, defaultSessionOpenCron),
		stringFieldDefault("schedule.session_close_cron", &s.SessionCloseCron, defaultSessionCloseCron),
	)
}

// DefaultFailureRules 失败标签的默认规则，按顺序匹配，首个命中生效。
func DefaultFailureRules() []FailureRuleConfig {
	return []FailureRuleConfig{
		{Tag: "reversed_trend", AppliesTo: []string{"buy", "sell"}, MinFavorablePct: floatPtr(1.0)},
		{Tag: "external_shock", AppliesTo: []string{"buy", "sell"}, MinAdversePct: floatPtr(3.0)},
		{Tag: "no_movement", AppliesTo: []string{"buy", "sell"}, MaxAbsReturnPct: floatPtr(0.3)},
		{Tag: "unexpected_breakout", AppliesTo: []string{"hold"}},
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeCodes(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	out := make([]string, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func floatPtr(v float64) *float64 { return &v }
