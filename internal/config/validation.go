package config

import (
	"fmt"
	"strings"
	"time"

	"aegis/internal/signal"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Scoring.validate(); err != nil {
		return err
	}
	if err := c.Ensemble.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Lifecycle.validate(); err != nil {
		return err
	}
	if err := c.Verify.validate(); err != nil {
		return err
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case "sqlite":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(s.DSN) == "" {
			return fmt.Errorf("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", s.Driver)
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		return fmt.Errorf("market.timezone invalid: %w", err)
	}
	open, err := ParseClock(m.SessionOpen)
	if err != nil {
		return fmt.Errorf("market.session_open: %w", err)
	}
	closeAt, err := ParseClock(m.SessionClose)
	if err != nil {
		return fmt.Errorf("market.session_close: %w", err)
	}
	if closeAt <= open {
		return fmt.Errorf("market.session_close must be after session_open")
	}
	for _, day := range m.Holidays {
		if _, err := time.Parse(time.DateOnly, strings.TrimSpace(day)); err != nil {
			return fmt.Errorf("market.holidays contains invalid date %q", day)
		}
	}
	switch m.Feed.Kind {
	case "http":
		if strings.TrimSpace(m.Feed.QuoteURL) == "" {
			return fmt.Errorf("market.feed.quote_url is required for the http feed")
		}
	case "binance", "binance-futures":
	default:
		return fmt.Errorf("market.feed.kind must be http or binance, got %q", m.Feed.Kind)
	}
	return nil
}

func (s *ScoringConfig) validate() error {
	if s.RSIOversold >= s.RSIOverbought {
		return fmt.Errorf("scoring.rsi_oversold must be below rsi_overbought")
	}
	return nil
}

func (e *EnsembleConfig) validate() error {
	switch e.RegimeMode {
	case "off", "auto":
	case "fixed":
		if _, ok := signal.ParseRegime(e.FixedRegime); !ok {
			return fmt.Errorf("ensemble.fixed_regime must be BULL, BEAR or SIDEWAY")
		}
	default:
		return fmt.Errorf("ensemble.regime_mode must be off, fixed or auto")
	}
	for name, w := range e.Weights {
		if _, ok := signal.ParseRegime(name); !ok && name != "DEFAULT" {
			return fmt.Errorf("ensemble.weights contains unknown regime %q", name)
		}
		if w.MA < 0 || w.VWAP < 0 || w.RSI < 0 {
			return fmt.Errorf("ensemble.weights.%s must be non-negative", strings.ToLower(name))
		}
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxDailyTrades < 0 {
		return fmt.Errorf("risk.max_daily_trades must be >= 0")
	}
	if r.AccountEquity < 0 {
		return fmt.Errorf("risk.account_equity must be >= 0")
	}
	if r.PriorWinRate >= 1 {
		return fmt.Errorf("risk.prior_win_rate must be < 1")
	}
	return nil
}

func (l *LifecycleConfig) validate() error {
	if _, err := signal.ParseHorizons(l.Horizons); err != nil {
		return fmt.Errorf("lifecycle.horizons: %w", err)
	}
	return nil
}

func (v *VerifyConfig) validate() error {
	for i, rule := range v.FailureRules {
		if strings.TrimSpace(rule.Tag) == "" {
			return fmt.Errorf("verify.failure_rules[%d] missing tag", i)
		}
		for _, kind := range rule.AppliesTo {
			switch strings.ToLower(strings.TrimSpace(kind)) {
			case "buy", "sell", "hold":
			default:
				return fmt.Errorf("verify.failure_rules[%d].applies_to has unknown kind %q", i, kind)
			}
		}
	}
	return nil
}

// ParseClock 将 "HH:MM" 解析为当日偏移。
func ParseClock(value string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("expect HH:MM, got %q", value)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
