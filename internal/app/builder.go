package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aegis/internal/analysis/indicator"
	"aegis/internal/config"
	"aegis/internal/engine"
	"aegis/internal/ensemble"
	"aegis/internal/gateway"
	"aegis/internal/lifecycle"
	"aegis/internal/logger"
	"aegis/internal/market"
	"aegis/internal/risk"
	"aegis/internal/scheduler"
	"aegis/internal/signal"
	"aegis/internal/store/auditlog"
	"aegis/internal/store/gormstore"

	"github.com/shopspring/decimal"
)

// AppBuilder 把配置装配成 App。各 *Fn 字段可在测试中替换。
type AppBuilder struct {
	cfg *config.Config

	feedFn  func(config.MarketConfig) (market.Feed, error)
	storeFn func(config.StoreConfig) (*gormstore.Store, error)
	auditFn func(string) (*auditlog.Store, error)
	clock   lifecycle.Clock
}

type AppBuilderOption func(*AppBuilder)

// WithFeed 使用给定行情源替代配置中的行情源。
func WithFeed(feed market.Feed) AppBuilderOption {
	return func(b *AppBuilder) {
		b.feedFn = func(config.MarketConfig) (market.Feed, error) { return feed, nil }
	}
}

func WithClock(c lifecycle.Clock) AppBuilderOption {
	return func(b *AppBuilder) { b.clock = c }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:     cfg,
		feedFn:  gateway.NewFeedFromConfig,
		storeFn: openSignalStore,
		auditFn: openAuditLog,
		clock:   lifecycle.SystemClock,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func openSignalStore(cfg config.StoreConfig) (*gormstore.Store, error) {
	return gormstore.Open(gormstore.Options{
		Driver:       cfg.Driver,
		Path:         cfg.Path,
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
	})
}

func openAuditLog(path string) (*auditlog.Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	return auditlog.Open(path)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	session, err := buildSession(cfg.Market)
	if err != nil {
		return nil, err
	}
	horizons, err := signal.ParseHorizons(cfg.Lifecycle.Horizons)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.horizons: %w", err)
	}
	feed, err := b.feedFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}
	signals, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("初始化信号库失败: %w", err)
	}
	audit, err := b.auditFn(cfg.Store.AuditPath)
	if err != nil {
		_ = signals.CloseDB()
		return nil, fmt.Errorf("初始化审计库失败: %w", err)
	}
	logger.Infof("✓ 信号库已就绪 driver=%s", cfg.Store.Driver)

	registry, weights, err := buildRegistry(cfg.Ensemble)
	if err != nil {
		_ = signals.CloseDB()
		_ = audit.Close()
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		session:  session,
		feed:     feed,
		signals:  signals,
		audit:    audit,
		weights:  weights,
		registry: registry,
		clock:    b.clock,
	}
	// 避免把类型化的 nil 指针装进接口。
	if audit != nil {
		a.auditLog = audit
	}

	a.engine, err = engine.New(engine.Deps{
		Candles:  feed,
		Quotes:   feed,
		Market:   feed,
		Signals:  signals,
		Risk:     signals,
		Audit:    a.auditLog,
		Scorer:   signal.NewScorer(signal.ScorerConfig{MinPeriods: cfg.Scoring.MinPeriods, RSIOversold: cfg.Scoring.RSIOversold, RSIOverbought: cfg.Scoring.RSIOverbought}),
		Ensemble: ensemble.NewAggregator(registry),
		Regime:   buildRegimeClassifier(cfg.Ensemble),
		Gate:     buildGate(cfg.Risk),
		Session:  session,
		Clock:    b.clock,
	}, engine.Config{
		Watchlist:      cfg.Market.Watchlist,
		CandleInterval: cfg.Market.CandleInterval,
		HistoryLimit:   cfg.Market.HistoryLimit,
		Indicator: indicator.Settings{
			MinPeriods: cfg.Scoring.MinPeriods,
			RSIPeriod:  cfg.Scoring.RSIPeriod,
			ATRPeriod:  cfg.Scoring.ATRPeriod,
			Location:   session.Location,
		},
		Concurrency:   cfg.Scoring.Concurrency,
		Equity:        decimal.NewFromFloat(cfg.Risk.AccountEquity),
		KellyLookback: time.Duration(cfg.Risk.KellyLookbackDays) * 24 * time.Hour,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	verifier := lifecycle.NewVerifier(signals, feed, lifecycle.VerifierConfig{
		Horizons:         horizons,
		HoldBandPct:      cfg.Verify.HoldBandPct,
		FailThresholdPct: cfg.Verify.FailThresholdPct,
		MaxStaleAttempts: cfg.Verify.MaxStaleAttempts,
		Policy:           lifecycle.PolicyFromConfig(cfg.Verify),
	},
		lifecycle.WithContextProvider(feed),
		lifecycle.WithPnLRecorder(signals, func(ms int64) string { return session.Date(time.UnixMilli(ms)) }),
		lifecycle.WithClock(b.clock),
	)
	a.lifecycle = lifecycle.NewScheduler(signals, verifier, lifecycle.SchedulerConfig{
		Horizons:    horizons,
		Workers:     cfg.Lifecycle.Workers,
		TickTimeout: cfg.Lifecycle.TickTimeout(),
		BatchSize:   cfg.Lifecycle.BatchSize,
		ClaimLease:  cfg.Store.ClaimLease(),
	}, b.clock)

	a.Summary = buildStartupSummary(cfg, horizons, registry)
	return a, nil
}

func buildSession(cfg config.MarketConfig) (scheduler.Session, error) {
	open, err := config.ParseClock(cfg.SessionOpen)
	if err != nil {
		return scheduler.Session{}, fmt.Errorf("market.session_open: %w", err)
	}
	closeAt, err := config.ParseClock(cfg.SessionClose)
	if err != nil {
		return scheduler.Session{}, fmt.Errorf("market.session_close: %w", err)
	}
	return scheduler.NewSession(cfg.Location(), open, closeAt, cfg.Holidays), nil
}

// buildRegistry 先注册配置里的权重，weights_path 存在时由文件覆盖并热加载。
func buildRegistry(cfg config.EnsembleConfig) (*ensemble.Registry, *ensemble.FileWeights, error) {
	reg := ensemble.NewRegistry()
	if len(cfg.Weights) > 0 {
		sets := make(map[string]ensemble.Weights, len(cfg.Weights))
		for key, w := range cfg.Weights {
			sets[key] = ensemble.Weights{MA: w.MA, VWAP: w.VWAP, RSI: w.RSI}
		}
		ensemble.RegisterWeightSets(reg, sets)
	}
	path := strings.TrimSpace(cfg.WeightsPath)
	if path == "" {
		return reg, nil, nil
	}
	fw, err := ensemble.LoadFileWeights(path, reg, true)
	if err != nil {
		return nil, nil, fmt.Errorf("加载权重文件失败: %w", err)
	}
	logger.Infof("✓ 权重文件已加载 %s (version=%d)", path, fw.Version())
	return reg, fw, nil
}

func buildRegimeClassifier(cfg config.EnsembleConfig) ensemble.RegimeClassifier {
	fixed, _ := signal.ParseRegime(cfg.FixedRegime)
	return ensemble.RegimeClassifier{
		Mode:             cfg.RegimeMode,
		Fixed:            fixed,
		BullThresholdPct: cfg.BullThresholdPct,
		BearThresholdPct: cfg.BearThresholdPct,
	}
}

func buildGate(cfg config.RiskConfig) *risk.Gate {
	return risk.NewGate(risk.Limits{
		MaxDailyLoss:   decimal.NewFromFloat(cfg.MaxDailyLoss),
		MaxDailyTrades: cfg.MaxDailyTrades,
	}, risk.Sizer{
		FractionCap:   decimal.NewFromFloat(cfg.KellyFractionCap),
		ATRMultiplier: decimal.NewFromFloat(cfg.ATRMultiplier),
		MinSamples:    cfg.KellyMinSamples,
		PriorWinRate:  cfg.PriorWinRate,
		PriorPayoff:   cfg.PriorPayoff,
	})
}
