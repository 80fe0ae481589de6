package ensemble

import (
	"math"

	"aegis/internal/signal"
)

const maxScore = 3

// Result 是一次聚合的结果。
type Result struct {
	Score    int           `json:"signal_score"`
	Type     signal.Type   `json:"signal_type"`
	Raw      float64       `json:"raw"`
	Regime   signal.Regime `json:"regime,omitempty"`
	Weighter string        `json:"weighter"`
	Weights  Weights       `json:"weights"`
}

// Aggregator 纯计算，持久化由调用方负责。
type Aggregator struct {
	registry *Registry
}

func NewAggregator(reg *Registry) *Aggregator {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Aggregator{registry: reg}
}

func (a *Aggregator) Aggregate(sub signal.SubScores, regime signal.Regime) Result {
	w := a.registry.Resolve(regime)
	weights := w.Weights(regime)
	raw := weights.Apply(sub)
	score := int(math.Round(raw))
	if score > maxScore {
		score = maxScore
	}
	if score < -maxScore {
		score = -maxScore
	}
	return Result{
		Score:    score,
		Type:     signal.TypeForScore(score),
		Raw:      raw,
		Regime:   regime,
		Weighter: w.Name(),
		Weights:  weights,
	}
}
