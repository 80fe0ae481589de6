package signal

import (
	"fmt"

	"aegis/internal/analysis/indicator"
)

// ErrInsufficientData 与 indicator 共用同一个哨兵，调用方只需判断一次。
var ErrInsufficientData = indicator.ErrInsufficientData

// SubScores 三个独立子分数，取值 {-1,0,1}。
type SubScores struct {
	MA         int    `json:"ma_score"`
	VWAP       int    `json:"vwap_score"`
	RSI        int    `json:"rsi_score"`
	MAReason   string `json:"ma_reason"`
	VWAPReason string `json:"vwap_reason"`
	RSIReason  string `json:"rsi_reason"`
}

func (s SubScores) Sum() int { return s.MA + s.VWAP + s.RSI }

type ScorerConfig struct {
	MinPeriods    int
	RSIOversold   float64
	RSIOverbought float64
}

// Scorer 把指标快照转为子分数，无副作用。
type Scorer struct {
	cfg ScorerConfig
}

func NewScorer(cfg ScorerConfig) *Scorer {
	if cfg.MinPeriods <= 0 {
		cfg.MinPeriods = 60
	}
	if cfg.RSIOversold <= 0 {
		cfg.RSIOversold = 30
	}
	if cfg.RSIOverbought <= 0 {
		cfg.RSIOverbought = 70
	}
	return &Scorer{cfg: cfg}
}

func (s *Scorer) Score(snap indicator.Snapshot) (SubScores, error) {
	if snap.Periods < s.cfg.MinPeriods {
		return SubScores{}, fmt.Errorf("%s: %w (periods=%d)", snap.Code, ErrInsufficientData, snap.Periods)
	}
	var out SubScores
	switch {
	case snap.MA20 > snap.MA60:
		out.MA, out.MAReason = 1, fmt.Sprintf("정배열 (MA20 %.2f > MA60 %.2f)", snap.MA20, snap.MA60)
	case snap.MA20 < snap.MA60:
		out.MA, out.MAReason = -1, fmt.Sprintf("역배열 (MA20 %.2f < MA60 %.2f)", snap.MA20, snap.MA60)
	default:
		out.MAReason = "MA20 = MA60"
	}
	switch {
	case snap.VWAP <= 0:
		out.VWAPReason = "VWAP 없음"
	case snap.Price > snap.VWAP:
		out.VWAP, out.VWAPReason = 1, fmt.Sprintf("VWAP 상회 (%.2f > %.2f)", snap.Price, snap.VWAP)
	case snap.Price < snap.VWAP:
		out.VWAP, out.VWAPReason = -1, fmt.Sprintf("VWAP 하회 (%.2f < %.2f)", snap.Price, snap.VWAP)
	default:
		out.VWAPReason = "VWAP 동일"
	}
	switch {
	case snap.RSI < s.cfg.RSIOversold:
		out.RSI, out.RSIReason = 1, fmt.Sprintf("과매도 (RSI %.1f)", snap.RSI)
	case snap.RSI > s.cfg.RSIOverbought:
		out.RSI, out.RSIReason = -1, fmt.Sprintf("과매수 (RSI %.1f)", snap.RSI)
	default:
		out.RSIReason = fmt.Sprintf("중립 (RSI %.1f)", snap.RSI)
	}
	return out, nil
}
