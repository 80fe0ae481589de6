package app

import (
	"fmt"
	"sort"
	"strings"

	"aegis/internal/config"
	"aegis/internal/ensemble"
	"aegis/internal/logger"
	"aegis/internal/risk"
	"aegis/internal/signal"
	"aegis/internal/store"
)

// StartupSummary 启动时打印的配置摘要。
type StartupSummary struct {
	Watchlist      []string
	CandleInterval string
	Session        string
	Horizons       []string
	Regime         string
	Weights        map[string]string
	Risk           RiskSummary
	Store          string
}

type RiskSummary struct {
	MaxDailyLoss   float64
	MaxDailyTrades int
	KellyCap       float64
	ATRMultiplier  float64
}

func buildStartupSummary(cfg *config.Config, horizons signal.Horizons, reg *ensemble.Registry) *StartupSummary {
	weights := map[string]string{}
	for _, regime := range []signal.Regime{signal.RegimeNone, signal.RegimeBull, signal.RegimeBear, signal.RegimeSideway} {
		w := reg.Resolve(regime)
		label := string(regime)
		if label == "" {
			label = "DEFAULT"
		}
		weights[label] = fmt.Sprintf("%s %s", w.Name(), w.Weights(regime))
	}
	return &StartupSummary{
		Watchlist:      cfg.Market.Watchlist,
		CandleInterval: cfg.Market.CandleInterval,
		Session:        fmt.Sprintf("%s-%s %s", cfg.Market.SessionOpen, cfg.Market.SessionClose, cfg.Market.Timezone),
		Horizons:       horizons.Labels(),
		Regime:         cfg.Ensemble.RegimeMode,
		Weights:        weights,
		Risk: RiskSummary{
			MaxDailyLoss:   cfg.Risk.MaxDailyLoss,
			MaxDailyTrades: cfg.Risk.MaxDailyTrades,
			KellyCap:       cfg.Risk.KellyFractionCap,
			ATRMultiplier:  cfg.Risk.ATRMultiplier,
		},
		Store: cfg.Store.Driver,
	}
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[行情 (MARKET)]")
	fmt.Printf("  观察名单: %s\n", formatList(s.Watchlist))
	fmt.Printf("  K线周期: %s\n", s.CandleInterval)
	fmt.Printf("  交易时段: %s\n", s.Session)
	fmt.Println()

	fmt.Println("[集成权重 (ENSEMBLE)]")
	fmt.Printf("  regime 模式: %s\n", s.Regime)
	keys := make([]string, 0, len(s.Weights))
	for k := range s.Weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-8s %s\n", k, s.Weights[k])
	}
	fmt.Println()

	fmt.Println("[风控 (RISK)]")
	fmt.Printf("  日亏损上限: %s\n", limitText(s.Risk.MaxDailyLoss))
	fmt.Printf("  日交易上限: %s\n", limitText(float64(s.Risk.MaxDailyTrades)))
	fmt.Printf("  Kelly 上限: %.2f  ATR 倍数: %.2f\n", s.Risk.KellyCap, s.Risk.ATRMultiplier)
	fmt.Println()

	fmt.Println("[验证 (LIFECYCLE)]")
	fmt.Printf("  验证时点: %s\n", formatList(s.Horizons))
	fmt.Printf("  存储: %s\n", s.Store)
	fmt.Println(strings.Repeat("=", 80))
}

// DailySummary 是收盘后的当日汇总。
type DailySummary struct {
	SessionDate string                   `json:"session_date"`
	Risk        risk.CircuitBreakerState `json:"risk"`
	Outcomes    store.Stats              `json:"outcomes"`
}

func (d DailySummary) Log() {
	logger.Event("daily summary",
		"session_date", d.SessionDate,
		"trades", d.Risk.TradeCount,
		"realized_pnl", d.Risk.RealizedPnL.StringFixed(0),
		"tripped", d.Risk.Tripped,
		"closed", d.Outcomes.Samples,
		"wins", d.Outcomes.Wins,
		"win_rate", fmt.Sprintf("%.2f", d.Outcomes.WinRate()),
		"by_status", d.Outcomes.ByStatus,
		"by_tag", d.Outcomes.ByTag)
}

func limitText(v float64) string {
	if v <= 0 {
		return "不限"
	}
	return fmt.Sprintf("%.0f", v)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
