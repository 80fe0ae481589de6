package lifecycle

import (
	"math"
	"strings"

	"aegis/internal/config"
	"aegis/internal/signal"
)

// FailureRule 中为 nil 的条件不参与匹配。
type FailureRule struct {
	Tag             string
	AppliesTo       []string
	MinFavorablePct *float64
	MinAdversePct   *float64
	MaxAbsReturnPct *float64
}

// FailurePolicy 按顺序匹配规则，第一条命中的规则给出失败标签。
type FailurePolicy struct {
	Rules      []FailureRule
	DefaultTag string
}

// PolicyFromConfig 把配置中的规则转换为策略。
func PolicyFromConfig(cfg config.VerifyConfig) FailurePolicy {
	p := FailurePolicy{DefaultTag: strings.TrimSpace(cfg.DefaultFailureTag)}
	if p.DefaultTag == "" {
		p.DefaultTag = signal.TagWrongDirection
	}
	for _, r := range cfg.FailureRules {
		p.Rules = append(p.Rules, FailureRule{
			Tag:             strings.TrimSpace(r.Tag),
			AppliesTo:       r.AppliesTo,
			MinFavorablePct: r.MinFavorablePct,
			MinAdversePct:   r.MinAdversePct,
			MaxAbsReturnPct: r.MaxAbsReturnPct,
		})
	}
	return p
}

// Excursion 是按信号方向调整后的最大有利/不利幅度（均为非负）。
type Excursion struct {
	Favorable float64
	Adverse   float64
}

func excursionFor(t signal.Type, mfe, mae float64) Excursion {
	switch t.Direction() {
	case signal.DirectionLong:
		return Excursion{Favorable: math.Max(mfe, 0), Adverse: math.Max(-mae, 0)}
	case signal.DirectionShort:
		return Excursion{Favorable: math.Max(-mae, 0), Adverse: math.Max(mfe, 0)}
	default:
		return Excursion{Adverse: math.Max(math.Abs(mfe), math.Abs(mae))}
	}
}

func (p FailurePolicy) Tag(t signal.Type, ret float64, ex Excursion) string {
	kind := t.Kind()
	for _, r := range p.Rules {
		if r.matches(kind, ret, ex) {
			return r.Tag
		}
	}
	return p.DefaultTag
}

func (r FailureRule) matches(kind string, ret float64, ex Excursion) bool {
	if len(r.AppliesTo) > 0 {
		hit := false
		for _, k := range r.AppliesTo {
			if strings.EqualFold(strings.TrimSpace(k), kind) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if r.MinFavorablePct != nil && ex.Favorable < *r.MinFavorablePct {
		return false
	}
	if r.MinAdversePct != nil && ex.Adverse < *r.MinAdversePct {
		return false
	}
	if r.MaxAbsReturnPct != nil && math.Abs(ret) > *r.MaxAbsReturnPct {
		return false
	}
	return true
}
