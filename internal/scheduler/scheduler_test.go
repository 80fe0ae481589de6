package scheduler

import (
	"context"
	"testing"
	"time"

	"aegis/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"5m":  5 * time.Minute,
		"60m": time.Hour,
		"1h":  time.Hour,
		"1d":  24 * time.Hour,
		" 1W": 7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "m", "0m", "-5m", "5x", "abc", "30s", "0d"} {
		_, ok := ParseIntervalDuration(bad)
		assert.False(t, ok, bad)
	}
	assert.True(t, IsIntraday("5m"))
	assert.False(t, IsIntraday("1d"))
	assert.False(t, IsIntraday("daily"))
}

func TestSessionWindow(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	s := NewSession(loc, 9*time.Hour, 15*time.Hour+30*time.Minute, []string{"2026-10-09"})

	at := func(day, clock string) time.Time {
		ts, err := time.ParseInLocation("2006-01-02 15:04", day+" "+clock, loc)
		require.NoError(t, err)
		return ts
	}
	assert.True(t, s.IsOpen(at("2026-10-16", "09:00")))
	assert.True(t, s.IsOpen(at("2026-10-16", "15:30")))
	assert.False(t, s.IsOpen(at("2026-10-16", "08:59")))
	assert.False(t, s.IsOpen(at("2026-10-16", "15:31")))
	assert.False(t, s.IsOpen(at("2026-10-17", "10:00")), "saturday")
	assert.False(t, s.IsOpen(at("2026-10-09", "10:00")), "holiday")

	utc := at("2026-10-16", "10:15").UTC()
	assert.Equal(t, "2026-10-16", s.Date(utc))
	assert.Equal(t, "2026-10-16T10", s.HourBucket(utc))
}

func TestAlignedNextTimes(t *testing.T) {
	s := &AlignedScheduler{Interval: time.Minute, Offset: 2 * time.Second}
	now := time.Date(2026, 10, 16, 1, 0, 30, 0, time.UTC)
	wake, wait := s.nextTimes(now)
	assert.Equal(t, time.Date(2026, 10, 16, 1, 1, 2, 0, time.UTC), wake)
	assert.Equal(t, 32*time.Second, wait)

	now = time.Date(2026, 10, 16, 1, 0, 1, 0, time.UTC)
	wake, _ = s.nextTimes(now)
	assert.Equal(t, time.Date(2026, 10, 16, 1, 0, 2, 0, time.UTC), wake)
}

func TestTrimUnclosed(t *testing.T) {
	open := time.Date(2026, 10, 16, 1, 0, 0, 0, time.UTC)
	candles := []market.Candle{
		{OpenTime: open.Add(-time.Minute).UnixMilli()},
		{OpenTime: open.UnixMilli()},
	}
	assert.Len(t, TrimUnclosed(candles, "1m", open.Add(30*time.Second)), 1)
	assert.Len(t, TrimUnclosed(candles, "1m", open.Add(time.Minute+5*time.Second)), 1, "inside grace")
	assert.Len(t, TrimUnclosed(candles, "1m", open.Add(2*time.Minute)), 2)
	assert.Len(t, TrimUnclosed(candles, "weird", open), 2)

	// CloseTime 优先于按周期推算
	withClose := []market.Candle{{OpenTime: open.UnixMilli(), CloseTime: open.Add(5*time.Minute - time.Millisecond).UnixMilli()}}
	assert.Len(t, TrimUnclosed(withClose, "1m", open.Add(2*time.Minute)), 0)
	assert.Empty(t, TrimUnclosed(nil, "1d", open))
}

func TestAlignedRunFiresOnBoundaries(t *testing.T) {
	now := time.Date(2026, 10, 16, 1, 0, 30, 0, time.UTC)
	var waits []time.Duration
	s := NewAlignedScheduler(time.Minute, 2*time.Second)
	s.now = func() time.Time { return now }
	s.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- now.Add(d)
		return ch
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var fired []time.Time
	err := s.Run(ctx, func(_ context.Context, at time.Time) {
		fired = append(fired, at)
		now = at.Add(time.Second)
		if len(fired) == 3 {
			cancel()
		}
	})
	require.NoError(t, err)
	require.Len(t, fired, 3)
	assert.Equal(t, time.Date(2026, 10, 16, 1, 1, 2, 0, time.UTC), fired[0])
	assert.Equal(t, time.Date(2026, 10, 16, 1, 2, 2, 0, time.UTC), fired[1])
	assert.Equal(t, []time.Duration{32 * time.Second, 59 * time.Second, 59 * time.Second}, waits)
}

func TestAlignedRunRejectsBadInterval(t *testing.T) {
	err := NewAlignedScheduler(0, 0).Run(context.Background(), func(context.Context, time.Time) {})
	assert.Error(t, err)
}
