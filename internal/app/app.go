package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aegis/internal/config"
	"aegis/internal/engine"
	"aegis/internal/ensemble"
	"aegis/internal/lifecycle"
	"aegis/internal/logger"
	"aegis/internal/market"
	"aegis/internal/scheduler"
	"aegis/internal/store"
	"aegis/internal/store/auditlog"
	"aegis/internal/store/gormstore"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→执行单次 tick 或常驻服务。
type App struct {
	cfg      *config.Config
	session  scheduler.Session
	clock    lifecycle.Clock
	feed     market.Feed
	signals  *gormstore.Store
	audit    *auditlog.Store
	auditLog store.AuditLog
	registry *ensemble.Registry
	weights  *ensemble.FileWeights

	engine    *engine.Engine
	lifecycle *lifecycle.Scheduler

	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// TickSummary 是一次完整 tick（发信号 + 验证）的结果。
type TickSummary struct {
	TickID        string                `json:"tick_id"`
	SessionClosed bool                  `json:"session_closed,omitempty"`
	Emission      engine.EmissionReport `json:"emission"`
	Verification  lifecycle.TickReport  `json:"verification"`
}

// Tick 先发出新信号，再推进到期验证。交易时段外是快速 no-op；
// 返回的错误只可能是 store.ErrStoreUnavailable 或上下文错误。
func (a *App) Tick(ctx context.Context) (TickSummary, error) {
	if a == nil || a.engine == nil {
		return TickSummary{}, fmt.Errorf("app not initialized")
	}
	sum := TickSummary{TickID: uuid.NewString()}
	now := a.clock.Now()
	if !a.session.IsOpen(now) {
		sum.SessionClosed = true
		logger.Debugf("tick %s skipped: outside trading session (%s)", sum.TickID, now.In(a.session.Location).Format(time.RFC3339))
		return sum, nil
	}
	emission, err := a.engine.RunTick(ctx, sum.TickID)
	sum.Emission = emission
	if err != nil {
		return sum, fmt.Errorf("emission: %w", err)
	}
	verification, err := a.lifecycle.Tick(ctx)
	sum.Verification = verification
	if err != nil {
		return sum, fmt.Errorf("verification: %w", err)
	}
	return sum, nil
}

// Serve 常驻运行：对齐到分钟的 tick、交易日 cron 任务与只读 HTTP 接口。
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	api, err := buildAPIServer(a)
	if err != nil {
		return err
	}
	jobs, err := newSessionJobs(ctx, a)
	if err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := api.Start(ctx); err != nil {
			return fmt.Errorf("api http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		interval := time.Duration(a.cfg.Schedule.TickIntervalSeconds) * time.Second
		offset := time.Duration(a.cfg.Schedule.TickOffsetSeconds) * time.Second
		ticker := scheduler.NewAlignedScheduler(interval, offset)
		return ticker.Run(ctx, func(ctx context.Context, _ time.Time) { a.serveTick(ctx) })
	})
	return group.Wait()
}

func (a *App) serveTick(ctx context.Context) {
	sum, err := a.Tick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrStoreUnavailable):
		logger.Event("tick aborted", "tick_id", sum.TickID, "tag", "store_unavailable", "error", err)
	case ctx.Err() != nil:
	default:
		logger.Errorf("tick %s failed: %v", sum.TickID, err)
	}
}

// Close 释放数据库连接。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.signals != nil {
		if err := a.signals.CloseDB(); err != nil {
			logger.Warnf("close signal store: %v", err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warnf("close audit log: %v", err)
		}
	}
}

// Store 暴露信号库，供 CLI 查询与测试使用。
func (a *App) Store() *gormstore.Store {
	if a == nil {
		return nil
	}
	return a.signals
}
