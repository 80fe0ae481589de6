package indicator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"aegis/internal/market"
)

// ErrInsufficientData 表示 K 线数量不足以计算长周期均线。
var ErrInsufficientData = errors.New("insufficient data")

// Settings 描述计算指标所需的最小配置。
type Settings struct {
	MinPeriods int
	RSIPeriod  int
	ATRPeriod  int
	// SessionVWAP 为 true 时只用最后一根 K 线所在交易日的数据计算 VWAP（分钟线），
	// 否则使用最近 VWAPWindow 根（日线）。
	SessionVWAP bool
	VWAPWindow  int
	Location    *time.Location
}

func (s Settings) withDefaults() Settings {
	if s.MinPeriods <= 0 {
		s.MinPeriods = 60
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.VWAPWindow <= 0 {
		s.VWAPWindow = 20
	}
	if s.Location == nil {
		s.Location = time.UTC
	}
	return s
}

// Snapshot 是单只股票在最新一根 K 线上的技术状态。
type Snapshot struct {
	Code    string    `json:"code"`
	Periods int       `json:"periods"`
	Price   float64   `json:"price"`
	MA5     float64   `json:"ma5"`
	MA20    float64   `json:"ma20"`
	MA60    float64   `json:"ma60"`
	VWAP    float64   `json:"vwap"`
	RSI     float64   `json:"rsi"`
	ATR     float64   `json:"atr"`
	AsOf    time.Time `json:"as_of"`
}

// Compute 计算均线/VWAP/RSI/ATR。K 线少于 MinPeriods 时返回 ErrInsufficientData。
func Compute(code string, candles []market.Candle, cfg Settings) (Snapshot, error) {
	cfg = cfg.withDefaults()
	snap := Snapshot{Code: code, Periods: len(candles)}
	need := cfg.MinPeriods
	if need < 60 {
		need = 60
	}
	if len(candles) < need || len(candles) <= cfg.RSIPeriod || len(candles) <= cfg.ATRPeriod {
		return snap, fmt.Errorf("%s: %w (need %d got %d)", code, ErrInsufficientData, need, len(candles))
	}
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	last := candles[len(candles)-1]
	snap.Price = last.Close
	snap.AsOf = last.OpenAt()
	snap.MA5 = lastValid(sanitizeSeries(talib.Sma(closes, 5)))
	snap.MA20 = lastValid(sanitizeSeries(talib.Sma(closes, 20)))
	snap.MA60 = lastValid(sanitizeSeries(talib.Sma(closes, 60)))
	snap.RSI = lastValid(sanitizeSeries(talib.Rsi(closes, cfg.RSIPeriod)))
	snap.ATR = lastValid(sanitizeSeries(talib.Atr(highs, lows, closes, cfg.ATRPeriod)))
	snap.VWAP = round4(vwap(vwapWindow(candles, cfg)))
	return snap, nil
}

func vwapWindow(candles []market.Candle, cfg Settings) []market.Candle {
	if !cfg.SessionVWAP {
		if len(candles) > cfg.VWAPWindow {
			return candles[len(candles)-cfg.VWAPWindow:]
		}
		return candles
	}
	day := candles[len(candles)-1].OpenAt().In(cfg.Location).Format(time.DateOnly)
	start := len(candles) - 1
	for start > 0 && candles[start-1].OpenAt().In(cfg.Location).Format(time.DateOnly) == day {
		start--
	}
	return candles[start:]
}

// vwap 使用典型价 (H+L+C)/3 加权；成交量为 0 时返回 0。
func vwap(candles []market.Candle) float64 {
	var pv, vol float64
	for _, c := range candles {
		if c.Volume <= 0 {
			continue
		}
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol <= 0 {
		return 0
	}
	return pv / vol
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, round4(v))
	}
	return out
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
