package app

import (
	"context"
	"fmt"
	"time"

	"aegis/internal/logger"
	"aegis/internal/pkg/circuit"
	apihttp "aegis/internal/transport/http/api"

	"github.com/robfig/cron/v3"
)

func buildAPIServer(a *App) (*apihttp.Server, error) {
	router := &apihttp.Router{
		Signals:     a.signals,
		Risk:        a.signals,
		Audit:       a.auditLog,
		SessionDate: a.session.Date,
		Now:         a.clock.Now,
	}
	if fb, ok := a.feed.(interface {
		Breaker() *circuit.CircuitBreaker
	}); ok {
		router.FeedStatus = fb.Breaker().Snapshot
	}
	server, err := apihttp.NewServer(apihttp.ServerConfig{Addr: a.cfg.App.HTTPAddr, Router: router})
	if err != nil {
		return nil, fmt.Errorf("初始化 API HTTP 失败: %w", err)
	}
	logger.Infof("✓ API HTTP 接口监听 %s", server.Addr())
	return server, nil
}

// sessionJobs 在交易日开盘时重置熔断状态，收盘后输出当日汇总。
type sessionJobs struct {
	cron *cron.Cron
}

func newSessionJobs(ctx context.Context, a *App) (*sessionJobs, error) {
	c := cron.New(cron.WithSeconds(), cron.WithLocation(a.session.Location))
	if _, err := c.AddFunc(a.cfg.Schedule.SessionOpenCron, func() { a.openSession(ctx) }); err != nil {
		return nil, fmt.Errorf("schedule.session_open_cron: %w", err)
	}
	if _, err := c.AddFunc(a.cfg.Schedule.SessionCloseCron, func() { a.closeSession(ctx) }); err != nil {
		return nil, fmt.Errorf("schedule.session_close_cron: %w", err)
	}
	return &sessionJobs{cron: c}, nil
}

func (j *sessionJobs) Start() {
	j.cron.Start()
	logger.Infof("session cron started (%d jobs)", len(j.cron.Entries()))
}

func (j *sessionJobs) Stop() {
	<-j.cron.Stop().Done()
}

func (a *App) openSession(ctx context.Context) {
	now := a.clock.Now()
	if !a.session.IsTradingDay(now) {
		return
	}
	date := a.session.Date(now)
	if err := a.signals.ResetRiskState(ctx, date); err != nil {
		logger.Event("risk reset failed", "session_date", date, "error", err)
		return
	}
	logger.Event("session opened", "session_date", date)
}

func (a *App) closeSession(ctx context.Context) {
	now := a.clock.Now()
	if !a.session.IsTradingDay(now) {
		return
	}
	sum, err := a.DailySummary(ctx, now)
	if err != nil {
		logger.Event("daily summary failed", "session_date", a.session.Date(now), "error", err)
		return
	}
	sum.Log()
}

// DailySummary 汇总 at 所在交易日的熔断计数与关闭结果。
func (a *App) DailySummary(ctx context.Context, at time.Time) (DailySummary, error) {
	date := a.session.Date(at)
	state, err := a.signals.LoadRiskState(ctx, date)
	if err != nil {
		return DailySummary{}, err
	}
	local := at.In(a.session.Location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	stats, err := a.signals.OutcomeStats(ctx, dayStart)
	if err != nil {
		return DailySummary{}, err
	}
	return DailySummary{SessionDate: date, Risk: state, Outcomes: stats}, nil
}
