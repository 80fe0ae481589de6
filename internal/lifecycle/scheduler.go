package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"aegis/internal/logger"
	"aegis/internal/signal"
	"aegis/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type SchedulerConfig struct {
	Horizons    signal.Horizons
	Workers     int
	TickTimeout time.Duration
	BatchSize   int
	ClaimLease  time.Duration
}

// Scheduler 每个 tick 认领到期条目并交给有界 worker 池验证。
// 记录间的协调完全依赖 store 的认领契约，多个进程并行运行也是安全的。
type Scheduler struct {
	store    store.SignalStore
	verifier *Verifier
	clock    Clock
	cfg      SchedulerConfig
}

// TickReport 汇总单次 tick。
type TickReport struct {
	TickID   string        `json:"tick_id"`
	Due      int           `json:"due"`
	Verified int           `json:"verified"`
	Closed   int           `json:"closed"`
	Stale    int           `json:"stale"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

func NewScheduler(st store.SignalStore, v *Verifier, cfg SchedulerConfig, clock Clock) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 50 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 90 * time.Second
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{store: st, verifier: v, clock: clock, cfg: cfg}
}

// Tick 执行一次验证轮次。没有到期条目时直接返回；
// 只有 ErrStoreUnavailable 会作为错误返回。
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	started := time.Now()
	report := TickReport{TickID: uuid.NewString()}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	items, err := s.store.FindDue(ctx, s.clock.Now(), s.cfg.Horizons, store.ClaimOptions{
		Token: report.TickID,
		Lease: s.cfg.ClaimLease,
		Limit: s.cfg.BatchSize,
	})
	report.Due = len(items)
	if err != nil && len(items) == 0 {
		report.Duration = time.Since(started)
		return report, err
	}
	if err != nil {
		// 已认领的部分照常处理，租约到期前不会被其他 worker 拿走。
		logger.Warnf("lifecycle tick %s: find due partially failed: %v", report.TickID, err)
	}
	if len(items) == 0 {
		report.Duration = time.Since(started)
		return report, nil
	}

	var (
		mu       sync.Mutex
		storeErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			res, verr := s.verifier.Verify(gctx, item)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case verr == nil:
				if res.Stale {
					report.Stale++
				} else {
					report.Verified++
				}
				if res.Closed() {
					report.Closed++
				}
				return nil
			case errors.Is(verr, store.ErrStoreUnavailable):
				report.Errors++
				if storeErr == nil {
					storeErr = verr
				}
				return verr
			default:
				report.Errors++
				logger.Event("verification failed",
					"signal_id", item.Record.ID, "stock", item.Record.StockCode,
					"horizon", item.Horizon.Label, "tag", errorTag(verr), "error", verr)
				return nil
			}
		})
	}
	_ = g.Wait()
	report.Duration = time.Since(started)
	logger.Event("lifecycle tick",
		"tick_id", report.TickID, "due", report.Due, "verified", report.Verified,
		"closed", report.Closed, "stale", report.Stale, "errors", report.Errors,
		"duration_ms", report.Duration.Milliseconds())
	if storeErr != nil {
		return report, storeErr
	}
	return report, err
}

func errorTag(err error) string {
	switch {
	case errors.Is(err, store.ErrHorizonConflict):
		return "horizon_conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return "tick_timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "verify_error"
	}
}
