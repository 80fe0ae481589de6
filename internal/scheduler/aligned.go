package scheduler

import (
	"context"
	"fmt"
	"time"

	"aegis/internal/logger"
)

// AlignedScheduler fires a task on wall-clock boundaries (e.g. every minute at :02).
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func NewAlignedScheduler(interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{Interval: interval, Offset: offset}
}

// Run blocks until ctx is done. task runs synchronously; boundaries that pass
// while it runs are skipped, never replayed.
func (s *AlignedScheduler) Run(ctx context.Context, task func(ctx context.Context, at time.Time)) error {
	if task == nil {
		return fmt.Errorf("aligned scheduler: nil task")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("aligned scheduler: invalid interval %s", s.Interval)
	}
	if s.Offset < 0 || s.Offset >= s.Interval {
		logger.Warnf("aligned scheduler: offset %s outside [0,%s), clamped", s.Offset, s.Interval)
		s.Offset = ((s.Offset % s.Interval) + s.Interval) % s.Interval
	}
	now, after := s.clock()
	logger.Infof("aligned scheduler started interval=%s offset=%s", s.Interval, s.Offset)

	if s.RunImmediately {
		task(ctx, now())
	}
	for ctx.Err() == nil {
		wakeAt, wait := s.nextTimes(now())
		select {
		case <-ctx.Done():
			continue
		case <-after(wait):
		}
		task(ctx, wakeAt)
		if over := now().Sub(wakeAt); over >= s.Interval {
			logger.Event("tick overran", "boundary", wakeAt.UTC().Format(time.RFC3339),
				"took", over.Truncate(time.Millisecond), "skipped", int(over/s.Interval))
		}
	}
	logger.Infof("aligned scheduler stopped: %v", ctx.Err())
	return nil
}

func (s *AlignedScheduler) clock() (func() time.Time, func(time.Duration) <-chan time.Time) {
	now, after := s.now, s.after
	if now == nil {
		now = time.Now
	}
	if after == nil {
		after = time.After
	}
	return now, after
}

func (s *AlignedScheduler) nextTimes(now time.Time) (wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	boundary := now.Truncate(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	if !wakeAt.After(now) {
		wakeAt = wakeAt.Add(s.Interval)
	}
	return wakeAt, wakeAt.Sub(now)
}
