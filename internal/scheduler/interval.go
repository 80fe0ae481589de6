package scheduler

import (
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParseIntervalDuration 解析 K 线周期："5m" "60m" "1h" "1d" "1w"。
// 分钟/小时走 time.ParseDuration，日/周按自然日换算；非正数或无法解析返回 false。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(interval))
	if n, ok := strings.CutSuffix(s, "d"); ok {
		return multiple(n, day)
	}
	if n, ok := strings.CutSuffix(s, "w"); ok {
		return multiple(n, 7*day)
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < time.Minute || d%time.Minute != 0 {
		return 0, false
	}
	return d, true
}

// IsIntraday 报告周期是否短于一个交易日；无法解析的周期按日线处理。
func IsIntraday(interval string) bool {
	d, ok := ParseIntervalDuration(interval)
	return ok && d < day
}

func multiple(n string, unit time.Duration) (time.Duration, bool) {
	v, err := strconv.Atoi(n)
	if err != nil || v <= 0 {
		return 0, false
	}
	return time.Duration(v) * unit, true
}
