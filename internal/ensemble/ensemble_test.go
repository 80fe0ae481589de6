package ensemble

import (
	"os"
	"path/filepath"
	"testing"

	"aegis/internal/market"
	"aegis/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateEqualWeights(t *testing.T) {
	agg := NewAggregator(nil)
	res := agg.Aggregate(signal.SubScores{MA: 1, VWAP: 1, RSI: 1}, signal.RegimeNone)
	assert.Equal(t, 3, res.Score)
	assert.Equal(t, signal.TypeStrongBuy, res.Type)
	assert.Equal(t, "equal", res.Weighter)

	res = agg.Aggregate(signal.SubScores{MA: -1, VWAP: 1, RSI: 0}, signal.RegimeBull)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, signal.TypeHold, res.Type)
}

func TestAggregateUsesRegisteredWeighter(t *testing.T) {
	reg := NewRegistry()
	reg.Register(signal.RegimeBear, StaticWeighter{Label: "bear", W: Weights{MA: 2, VWAP: 1, RSI: 0.5}})
	agg := NewAggregator(reg)

	sub := signal.SubScores{MA: -1, VWAP: -1, RSI: 1}
	bear := agg.Aggregate(sub, signal.RegimeBear)
	// -2 -1 +0.5 = -2.5 → -3 (half away from zero)
	assert.Equal(t, -3, bear.Score)
	assert.Equal(t, signal.TypeStrongSell, bear.Type)
	assert.Equal(t, "bear", bear.Weighter)

	other := agg.Aggregate(sub, signal.RegimeBull)
	assert.Equal(t, -1, other.Score)
	assert.Equal(t, "equal", other.Weighter)
}

func TestAggregateClampsScore(t *testing.T) {
	reg := NewRegistry()
	reg.SetDefault(StaticWeighter{Label: "heavy", W: Weights{MA: 3, VWAP: 3, RSI: 3}})
	res := NewAggregator(reg).Aggregate(signal.SubScores{MA: 1, VWAP: 1, RSI: 1}, signal.RegimeNone)
	assert.Equal(t, 3, res.Score)
	assert.InDelta(t, 9.0, res.Raw, 1e-9)
}

func TestAggregateMappingHasNoGaps(t *testing.T) {
	weightSets := []Weights{EqualWeights, {MA: 0.5, VWAP: 0.5, RSI: 0.5}, {MA: 2, VWAP: 0, RSI: 1.25}}
	for _, w := range weightSets {
		reg := NewRegistry()
		reg.SetDefault(StaticWeighter{Label: "w", W: w})
		agg := NewAggregator(reg)
		for ma := -1; ma <= 1; ma++ {
			for vw := -1; vw <= 1; vw++ {
				for rsi := -1; rsi <= 1; rsi++ {
					res := agg.Aggregate(signal.SubScores{MA: ma, VWAP: vw, RSI: rsi}, signal.RegimeNone)
					assert.GreaterOrEqual(t, res.Score, -3)
					assert.LessOrEqual(t, res.Score, 3)
					assert.Equal(t, signal.TypeForScore(res.Score), res.Type)
				}
			}
		}
	}
}

func TestRegimeClassifier(t *testing.T) {
	auto := RegimeClassifier{Mode: RegimeModeAuto, BullThresholdPct: 0.5, BearThresholdPct: 0.5}
	assert.Equal(t, signal.RegimeBull, auto.Classify(market.Context{IndexChangeRate: 0.8}))
	assert.Equal(t, signal.RegimeBear, auto.Classify(market.Context{IndexChangeRate: -0.5}))
	assert.Equal(t, signal.RegimeSideway, auto.Classify(market.Context{IndexChangeRate: 0.1}))
	assert.True(t, auto.NeedsContext())

	fixed := RegimeClassifier{Mode: RegimeModeFixed, Fixed: signal.RegimeBear}
	assert.Equal(t, signal.RegimeBear, fixed.Classify(market.Context{IndexChangeRate: 3}))
	assert.Equal(t, signal.RegimeNone, RegimeClassifier{Mode: RegimeModeOff}.Classify(market.Context{}))
}

func TestFileWeightsLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.yaml")
	require.NoError(t, SaveWeightsFile(path, WeightsFile{Weights: map[string]Weights{
		"BULL":    {MA: 1.5, VWAP: 1, RSI: 0.5},
		"DEFAULT": {MA: 1, VWAP: 1, RSI: 1},
	}}))

	reg := NewRegistry()
	fw, err := LoadFileWeights(path, reg, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fw.Version())
	assert.Equal(t, "BULL", reg.Resolve(signal.RegimeBull).Name())
	assert.Equal(t, 1.5, reg.Resolve(signal.RegimeBull).Weights(signal.RegimeBull).MA)
	assert.Equal(t, "default", reg.Resolve(signal.RegimeBear).Name())

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("weights:\n  CRASH: {ma: 1}\n"), 0o644))
	_, err = ReadWeightsFile(bad)
	assert.Error(t, err)

	negative := filepath.Join(dir, "neg.yaml")
	require.NoError(t, os.WriteFile(negative, []byte("weights:\n  BEAR: {ma: -1}\n"), 0o644))
	_, err = ReadWeightsFile(negative)
	assert.Error(t, err)
}

func TestRegisterWeightSets(t *testing.T) {
	reg := NewRegistry()
	RegisterWeightSets(reg, map[string]Weights{"sideway": {MA: 0, VWAP: 1, RSI: 1}})
	w := reg.Resolve(signal.RegimeSideway)
	assert.Equal(t, "SIDEWAY", w.Name())
	assert.Equal(t, "equal", reg.Resolve(signal.RegimeBull).Name())
}
