package ensemble

import (
	"fmt"

	"aegis/internal/signal"
)

// Weights 每个子分数的权重。
type Weights struct {
	MA   float64 `json:"ma" yaml:"ma" mapstructure:"ma"`
	VWAP float64 `json:"vwap" yaml:"vwap" mapstructure:"vwap"`
	RSI  float64 `json:"rsi" yaml:"rsi" mapstructure:"rsi"`
}

var EqualWeights = Weights{MA: 1, VWAP: 1, RSI: 1}

func (w Weights) Apply(sub signal.SubScores) float64 {
	return w.MA*float64(sub.MA) + w.VWAP*float64(sub.VWAP) + w.RSI*float64(sub.RSI)
}

func (w Weights) String() string {
	return fmt.Sprintf("ma=%.2f vwap=%.2f rsi=%.2f", w.MA, w.VWAP, w.RSI)
}

// ScoreWeighter 是可插拔的加权策略。
type ScoreWeighter interface {
	Name() string
	Weights(regime signal.Regime) Weights
}

// EqualWeighter 未配置 regime 模型时使用。
type EqualWeighter struct{}

func (EqualWeighter) Name() string                  { return "equal" }
func (EqualWeighter) Weights(signal.Regime) Weights { return EqualWeights }

// StaticWeighter 返回固定的一组权重。
type StaticWeighter struct {
	Label string
	W     Weights
}

func (s StaticWeighter) Name() string                  { return s.Label }
func (s StaticWeighter) Weights(signal.Regime) Weights { return s.W }
