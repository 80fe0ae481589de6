package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"aegis/internal/config"
	"aegis/internal/market"
	"aegis/internal/signal"
	"aegis/internal/store"
	"aegis/internal/store/gormstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store *gormstore.Store
	feed  *market.MemoryFeed
	now   time.Time
}

func (f *fixture) clock() Clock { return ClockFunc(func() time.Time { return f.now }) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{feed: market.NewMemoryFeed(), now: t0}
	st, err := gormstore.Open(gormstore.Options{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "signals.db"),
		Now:    func() time.Time { return f.now },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.CloseDB() })
	f.store = st
	return f
}

func (f *fixture) emit(t *testing.T, code string, typ signal.Type, price float64) int64 {
	t.Helper()
	id, err := f.store.Create(context.Background(), &signal.Record{
		StockCode: code, Type: typ, RecordedAt: t0, CurrentPrice: price,
		HourBucket: t0.Format("2006-01-02T15"),
	})
	require.NoError(t, err)
	return id
}

func horizons(t *testing.T, labels ...string) signal.Horizons {
	t.Helper()
	hs, err := signal.ParseHorizons(labels)
	require.NoError(t, err)
	return hs
}

func (f *fixture) scheduler(hs signal.Horizons, opts ...VerifierOption) *Scheduler {
	policy := PolicyFromConfig(config.VerifyConfig{FailureRules: config.DefaultFailureRules()})
	opts = append(opts, WithClock(f.clock()))
	v := NewVerifier(f.store, f.feed, VerifierConfig{
		Horizons: hs, HoldBandPct: 1, FailThresholdPct: 2, MaxStaleAttempts: 2, Policy: policy,
	}, opts...)
	return NewScheduler(f.store, v, SchedulerConfig{Horizons: hs, Workers: 4, TickTimeout: 10 * time.Second, ClaimLease: time.Minute}, f.clock())
}

func TestScenarioTerminalSixtyMinuteReturn(t *testing.T) {
	f := newFixture(t)
	id := f.emit(t, "005930", signal.TypeBuy, 10000)
	f.feed.SetPrice("005930", 10300)
	f.now = t0.Add(61 * time.Minute)

	rep, err := f.scheduler(horizons(t, "60m")).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Closed)

	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3.0, rec.Returns["60m"])
	assert.Equal(t, signal.StatusCompleted, rec.Status)
	require.NotNil(t, rec.IsSuccess)
	assert.True(t, *rec.IsSuccess)
	assert.Empty(t, rec.FailureTag)
}

func TestTickIsNoOpWhenNothingDue(t *testing.T) {
	f := newFixture(t)
	rep, err := f.scheduler(horizons(t, "5m", "1d")).Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Due)
	assert.NotEmpty(t, rep.TickID)

	f.emit(t, "005930", signal.TypeBuy, 10000)
	f.now = t0.Add(3 * time.Minute)
	rep, err = f.scheduler(horizons(t, "5m", "1d")).Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Due)
}

func TestHorizonsAreVerifiedInOrderAcrossTicks(t *testing.T) {
	f := newFixture(t)
	id := f.emit(t, "000660", signal.TypeSell, 20000)
	hs := horizons(t, "5m", "10m", "1d")
	sched := f.scheduler(hs)
	ctx := context.Background()

	f.now = t0.Add(11 * time.Minute)
	f.feed.SetPrice("000660", 19900)
	_, err := sched.Tick(ctx)
	require.NoError(t, err)
	f.feed.SetPrice("000660", 20100)
	_, err = sched.Tick(ctx)
	require.NoError(t, err)
	rep, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Due, "1d not due yet")

	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, -0.5, rec.Returns["5m"])
	assert.Equal(t, 0.5, rec.Returns["10m"])
	assert.Equal(t, signal.StatusTracking, rec.Status)
	assert.Equal(t, 0.5, *rec.MFE)
	assert.Equal(t, -0.5, *rec.MAE)

	f.now = t0.Add(25 * time.Hour)
	f.feed.SetPrice("000660", 20600)
	rep, err = sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Closed)
	rec, err = f.store.Get(ctx, id)
	require.NoError(t, err)
	// sell 信号上涨 3%，不利幅度超过阈值
	assert.Equal(t, signal.StatusFailed, rec.Status)
	assert.False(t, *rec.IsSuccess)
	assert.Equal(t, signal.TagExternalShock, rec.FailureTag)
}

func TestStaleAttemptsForceDataUnavailable(t *testing.T) {
	f := newFixture(t)
	id := f.emit(t, "123456", signal.TypeBuy, 5000)
	f.feed.SetError("123456", market.ErrNoData)
	f.now = t0.Add(6 * time.Minute)
	sched := f.scheduler(horizons(t, "5m", "1d"))
	ctx := context.Background()

	rep, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Stale)
	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.StaleAttempts)

	rep, err = sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Closed)
	rec, err = f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusFailed, rec.Status)
	assert.Equal(t, signal.TagDataUnavailable, rec.FailureTag)
	assert.NotNil(t, rec.TraceCompletedAt)
}

func TestUnknownSymbolClosesImmediately(t *testing.T) {
	f := newFixture(t)
	id := f.emit(t, "DELIST", signal.TypeBuy, 5000)
	f.feed.SetError("DELIST", fmt.Errorf("lookup: %w", market.ErrUnknownSymbol))
	f.now = t0.Add(6 * time.Minute)
	_, err := f.scheduler(horizons(t, "5m", "1d")).Tick(context.Background())
	require.NoError(t, err)
	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusFailed, rec.Status)
	assert.Equal(t, signal.TagDataUnavailable, rec.FailureTag)
}

// flakyCloseStore 让前 fails 次 Close 以 ErrStoreUnavailable 失败。
type flakyCloseStore struct {
	store.SignalStore
	mu    sync.Mutex
	fails int
}

func (s *flakyCloseStore) Close(ctx context.Context, id int64, outcome signal.Outcome) error {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return fmt.Errorf("%w: connection reset", store.ErrStoreUnavailable)
	}
	s.mu.Unlock()
	return s.SignalStore.Close(ctx, id, outcome)
}

func TestTerminalReturnLeftOpenIsClosedOnNextTick(t *testing.T) {
	f := newFixture(t)
	id := f.emit(t, "005930", signal.TypeBuy, 10000)
	f.feed.SetPrice("005930", 10300)
	f.now = t0.Add(61 * time.Minute)

	flaky := &flakyCloseStore{SignalStore: f.store, fails: 1}
	counting := &countingFeed{inner: f.feed, calls: map[string]int{}}
	hs := horizons(t, "60m")
	policy := PolicyFromConfig(config.VerifyConfig{FailureRules: config.DefaultFailureRules()})
	v := NewVerifier(flaky, counting, VerifierConfig{Horizons: hs, FailThresholdPct: 2, Policy: policy}, WithClock(f.clock()))
	sched := NewScheduler(flaky, v, SchedulerConfig{Horizons: hs, Workers: 2, ClaimLease: time.Minute}, f.clock())
	ctx := context.Background()

	rep, err := sched.Tick(ctx)
	require.True(t, errors.Is(err, store.ErrStoreUnavailable))
	assert.Equal(t, 1, rep.Errors)
	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3.0, rec.Returns["60m"])
	assert.Equal(t, signal.StatusTracking, rec.Status)
	assert.Nil(t, rec.TraceCompletedAt)

	// 已写入的终点收益决定结果，之后的价格变化不影响判定
	f.feed.SetPrice("005930", 9000)
	f.now = f.now.Add(time.Minute)
	rep, err = sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Closed)

	rec, err = f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusCompleted, rec.Status)
	require.NotNil(t, rec.IsSuccess)
	assert.True(t, *rec.IsSuccess)
	assert.NotNil(t, rec.TraceCompletedAt)

	counting.mu.Lock()
	assert.Equal(t, 1, counting.calls["005930"])
	counting.mu.Unlock()

	rep, err = sched.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Due)
}

// hookFeed 在第一次取价前执行 before。
type hookFeed struct {
	inner  market.PriceFeed
	once   sync.Once
	before func()
}

func (h *hookFeed) GetCurrentPrice(ctx context.Context, code string) (market.Quote, error) {
	h.once.Do(h.before)
	return h.inner.GetCurrentPrice(ctx, code)
}

func TestExpiredLeaseWorkerConflictIsNotFatal(t *testing.T) {
	f := newFixture(t)
	id := f.emit(t, "000660", signal.TypeBuy, 20000)
	f.feed.SetPrice("000660", 20200)
	hs := horizons(t, "5m", "1d")
	ctx := context.Background()

	f.now = t0.Add(6 * time.Minute)
	slow, err := f.store.FindDue(ctx, f.now, hs, store.ClaimOptions{Token: "slow", Lease: time.Minute})
	require.NoError(t, err)
	require.Len(t, slow, 1)

	// 租约过期后另一 worker 接手；取价期间原 worker 抢先写入了不同的值
	f.now = t0.Add(8 * time.Minute)
	feed := &hookFeed{inner: f.feed, before: func() {
		assert.NoError(t, f.store.ApplyVerification(ctx, id, slow[0].Horizon, 0.5))
	}}
	v := NewVerifier(f.store, feed, VerifierConfig{Horizons: hs}, WithClock(f.clock()))
	sched := NewScheduler(f.store, v, SchedulerConfig{Horizons: hs, Workers: 2, ClaimLease: time.Minute}, f.clock())

	rep, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Errors)
	assert.Zero(t, rep.Verified)

	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.Returns["5m"])
	assert.Equal(t, signal.StatusTracking, rec.Status)
	assert.Nil(t, rec.TraceCompletedAt)
}

func TestSuccessfulVerificationResetsStaleCount(t *testing.T) {
	f := newFixture(t)
	id := f.emit(t, "123456", signal.TypeBuy, 5000)
	f.feed.SetError("123456", market.ErrNoData)
	f.now = t0.Add(6 * time.Minute)
	sched := f.scheduler(horizons(t, "5m", "10m", "1d"))
	ctx := context.Background()

	_, err := sched.Tick(ctx)
	require.NoError(t, err)
	f.feed.SetPrice("123456", 5050)
	_, err = sched.Tick(ctx)
	require.NoError(t, err)
	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Returns["5m"])
	assert.Zero(t, rec.StaleAttempts)

	// 上限为 2：10m 第一次失败不会关闭记录
	f.now = t0.Add(11 * time.Minute)
	f.feed.SetError("123456", market.ErrNoData)
	rep, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Stale)
	assert.Zero(t, rep.Closed)
	rec, err = f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.StaleAttempts)
	assert.Equal(t, signal.StatusTracking, rec.Status)
}

type pnlRecorder struct {
	mu    sync.Mutex
	dates []string
	total decimal.Decimal
}

func (r *pnlRecorder) AddRealizedPnL(_ context.Context, date string, pnl decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dates = append(r.dates, date)
	r.total = r.total.Add(pnl)
	return nil
}

func TestClosedPositionFeedsRiskState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Create(ctx, &signal.Record{
		StockCode: "005930", Type: signal.TypeBuy, RecordedAt: t0, CurrentPrice: 10000,
		HourBucket: "2026-10-16T10", SuggestedShares: 10,
	})
	require.NoError(t, err)
	f.feed.SetPrice("005930", 9700)
	f.now = t0.Add(2 * time.Hour)

	rec := &pnlRecorder{}
	sessionDate := func(ms int64) string { return time.UnixMilli(ms).UTC().Format(time.DateOnly) }
	_, err = f.scheduler(horizons(t, "1h"), WithPnLRecorder(rec, sessionDate)).Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-10-16"}, rec.dates)
	assert.True(t, rec.total.Equal(decimal.NewFromInt(-3000)), rec.total.String())
	got, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusFailed, got.Status)
}

func TestConcurrentSchedulersVerifyEachItemOnce(t *testing.T) {
	f := newFixture(t)
	counting := &countingFeed{inner: f.feed, calls: map[string]int{}}
	hs := horizons(t, "5m", "1d")
	for i := 0; i < 20; i++ {
		code := fmt.Sprintf("%06d", i)
		f.emit(t, code, signal.TypeBuy, 1000)
		f.feed.SetPrice(code, 1010)
	}
	f.now = t0.Add(6 * time.Minute)

	build := func() *Scheduler {
		v := NewVerifier(f.store, counting, VerifierConfig{Horizons: hs}, WithClock(f.clock()))
		return NewScheduler(f.store, v, SchedulerConfig{Horizons: hs, Workers: 3}, f.clock())
	}
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := build().Tick(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	counting.mu.Lock()
	defer counting.mu.Unlock()
	assert.Len(t, counting.calls, 20)
	for code, n := range counting.calls {
		assert.Equal(t, 1, n, code)
	}
}

type countingFeed struct {
	inner market.PriceFeed
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingFeed) GetCurrentPrice(ctx context.Context, code string) (market.Quote, error) {
	c.mu.Lock()
	c.calls[code]++
	c.mu.Unlock()
	return c.inner.GetCurrentPrice(ctx, code)
}

type mockStore struct {
	mock.Mock
	store.SignalStore
}

func (m *mockStore) FindDue(ctx context.Context, now time.Time, hs signal.Horizons, opts store.ClaimOptions) ([]store.DueItem, error) {
	args := m.Called(ctx, now, hs, opts)
	items, _ := args.Get(0).([]store.DueItem)
	return items, args.Error(1)
}

func TestTickPropagatesStoreUnavailable(t *testing.T) {
	ms := &mockStore{}
	down := fmt.Errorf("%w: dial tcp: refused", store.ErrStoreUnavailable)
	ms.On("FindDue", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, down)
	hs := horizons(t, "5m")
	sched := NewScheduler(ms, NewVerifier(ms, market.NewMemoryFeed(), VerifierConfig{Horizons: hs}), SchedulerConfig{Horizons: hs}, nil)

	_, err := sched.Tick(context.Background())
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))
	ms.AssertExpectations(t)
}

func TestJudge(t *testing.T) {
	policy := PolicyFromConfig(config.VerifyConfig{FailureRules: config.DefaultFailureRules()})
	v := NewVerifier(nil, nil, VerifierConfig{HoldBandPct: 1, FailThresholdPct: 2, Policy: policy})
	cases := []struct {
		name     string
		typ      signal.Type
		ret      float64
		mfe, mae float64
		success  bool
		status   signal.TraceStatus
		tag      string
	}{
		{"buy up", signal.TypeBuy, 0.5, 0.5, 0, true, signal.StatusCompleted, ""},
		{"buy flat", signal.TypeStrongBuy, 0, 0.1, -0.1, false, signal.StatusCompleted, signal.TagNoMovement},
		{"buy reversed", signal.TypeBuy, -2.5, 1.8, -2.5, false, signal.StatusFailed, signal.TagReversedTrend},
		{"buy small loss", signal.TypeBuy, -1, 0.2, -1, false, signal.StatusCompleted, signal.TagWrongDirection},
		{"sell down", signal.TypeSell, -0.4, 0, -0.4, true, signal.StatusCompleted, ""},
		{"hold inside band", signal.TypeHold, 1, 1, 0, true, signal.StatusCompleted, ""},
		{"hold breakout", signal.TypeHold, -4, 0, -4, false, signal.StatusFailed, signal.TagUnexpectedBreakout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := v.Judge(tc.typ, tc.ret, tc.mfe, tc.mae)
			assert.Equal(t, tc.success, out.IsSuccess)
			assert.Equal(t, tc.status, out.Status)
			assert.Equal(t, tc.tag, out.FailureTag)
			require.NotNil(t, out.FinalReturn)
		})
	}
}

func TestReturnPct(t *testing.T) {
	assert.Equal(t, 3.0, ReturnPct(10000, 10300))
	assert.Equal(t, -1.2346, ReturnPct(81000, 80000))
	assert.Equal(t, 0.0, ReturnPct(0, 100))
}
