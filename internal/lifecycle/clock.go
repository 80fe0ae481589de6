package lifecycle

import "time"

// Clock 让到期计算脱离墙钟，便于测试。
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock 使用 time.Now。
var SystemClock Clock = ClockFunc(time.Now)
