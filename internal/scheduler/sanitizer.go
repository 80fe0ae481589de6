package scheduler

import (
	"time"

	"aegis/internal/market"
)

// CandleGrace 收盘后仍按未完成处理的时长，覆盖行情源落盘延迟。
const CandleGrace = 10 * time.Second

// TrimUnclosed 去掉仍在形成中的最后一根 K 线。CandleSource 只返回已收盘的 K 线，
// 历史接口通常把当前这根一并返回。收盘时间优先取 CloseTime，缺失时按周期推算；
// 周期无法解析或没有时间戳时原样返回。
func TrimUnclosed(candles []market.Candle, interval string, now time.Time) []market.Candle {
	if len(candles) == 0 {
		return candles
	}
	last := candles[len(candles)-1]
	var closeAt time.Time
	switch {
	case last.CloseTime > 0:
		closeAt = time.UnixMilli(last.CloseTime)
	case last.OpenTime > 0:
		d, ok := ParseIntervalDuration(interval)
		if !ok {
			return candles
		}
		closeAt = last.OpenAt().Add(d)
	default:
		return candles
	}
	if now.Before(closeAt.Add(CandleGrace)) {
		return candles[:len(candles)-1]
	}
	return candles
}
