package ensemble

import (
	"sync"

	"aegis/internal/signal"
)

// Registry 按 regime 保存 ScoreWeighter，新增策略无需修改 Aggregator。
type Registry struct {
	mu       sync.RWMutex
	byRegime map[signal.Regime]ScoreWeighter
	fallback ScoreWeighter
}

func NewRegistry() *Registry {
	return &Registry{
		byRegime: make(map[signal.Regime]ScoreWeighter),
		fallback: EqualWeighter{},
	}
}

// Register 为 regime 注册策略；RegimeNone 等价于 SetDefault。
func (r *Registry) Register(regime signal.Regime, w ScoreWeighter) {
	if w == nil {
		return
	}
	if regime == signal.RegimeNone {
		r.SetDefault(w)
		return
	}
	r.mu.Lock()
	r.byRegime[regime] = w
	r.mu.Unlock()
}

func (r *Registry) SetDefault(w ScoreWeighter) {
	if w == nil {
		return
	}
	r.mu.Lock()
	r.fallback = w
	r.mu.Unlock()
}

// Resolve 未命中时回落到默认策略。
func (r *Registry) Resolve(regime signal.Regime) ScoreWeighter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if w, ok := r.byRegime[regime]; ok {
		return w
	}
	return r.fallback
}

// Replace 原子替换全部注册项（文件热加载使用）。
func (r *Registry) Replace(byRegime map[signal.Regime]ScoreWeighter, fallback ScoreWeighter) {
	next := make(map[signal.Regime]ScoreWeighter, len(byRegime))
	for k, v := range byRegime {
		if v != nil {
			next[k] = v
		}
	}
	if fallback == nil {
		fallback = EqualWeighter{}
	}
	r.mu.Lock()
	r.byRegime = next
	r.fallback = fallback
	r.mu.Unlock()
}

// RegisterWeightSets 把 "BULL"/"BEAR"/"SIDEWAY"/"DEFAULT" 键的权重注册进来。
func RegisterWeightSets(r *Registry, sets map[string]Weights) {
	byRegime, fallback := buildWeighters(sets)
	for regime, w := range byRegime {
		r.Register(regime, w)
	}
	if fallback != nil {
		r.SetDefault(fallback)
	}
}

func buildWeighters(sets map[string]Weights) (map[signal.Regime]ScoreWeighter, ScoreWeighter) {
	byRegime := make(map[signal.Regime]ScoreWeighter, len(sets))
	var fallback ScoreWeighter
	for key, w := range sets {
		if regime, ok := signal.ParseRegime(key); ok {
			byRegime[regime] = StaticWeighter{Label: string(regime), W: w}
			continue
		}
		if key == "DEFAULT" || key == "default" {
			fallback = StaticWeighter{Label: "default", W: w}
		}
	}
	return byRegime, fallback
}
