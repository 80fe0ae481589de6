package signal

import "strings"

// Type 是离散化后的信号类别。
type Type string

const (
	TypeStrongBuy  Type = "strong_buy"
	TypeBuy        Type = "buy"
	TypeHold       Type = "hold"
	TypeSell       Type = "sell"
	TypeStrongSell Type = "strong_sell"
)

// TypeForScore 将 ensemble 分数映射到信号类别，覆盖全部整数。
func TypeForScore(score int) Type {
	switch {
	case score >= 2:
		return TypeStrongBuy
	case score == 1:
		return TypeBuy
	case score == 0:
		return TypeHold
	case score == -1:
		return TypeSell
	default:
		return TypeStrongSell
	}
}

func ParseType(s string) (Type, bool) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeStrongBuy, TypeBuy, TypeHold, TypeSell, TypeStrongSell:
		return t, true
	}
	return "", false
}

// Direction 将信号折叠为多/空/观望三类。
type Direction int

const (
	DirectionFlat Direction = iota
	DirectionLong
	DirectionShort
)

func (t Type) Direction() Direction {
	switch t {
	case TypeStrongBuy, TypeBuy:
		return DirectionLong
	case TypeStrongSell, TypeSell:
		return DirectionShort
	default:
		return DirectionFlat
	}
}

// Kind 返回 buy / sell / hold，用于失败规则匹配。
func (t Type) Kind() string {
	switch t.Direction() {
	case DirectionLong:
		return "buy"
	case DirectionShort:
		return "sell"
	default:
		return "hold"
	}
}

func (t Type) Actionable() bool { return t.Direction() != DirectionFlat }

// TraceStatus 生命周期状态，只能单向推进。
type TraceStatus string

const (
	StatusPending   TraceStatus = "pending"
	StatusTracking  TraceStatus = "tracking"
	StatusCompleted TraceStatus = "completed"
	StatusFailed    TraceStatus = "failed"
)

func (s TraceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TraceStatus) Valid() bool { return s.rank() >= 0 }

func (s TraceStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusTracking:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// CanTransition 报告 from→to 是否合法（允许原地不动）。
func CanTransition(from, to TraceStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return from.rank() >= 0 && to.rank() > from.rank()
}

// Regime 是市场状态标签。
type Regime string

const (
	RegimeNone    Regime = ""
	RegimeBull    Regime = "BULL"
	RegimeBear    Regime = "BEAR"
	RegimeSideway Regime = "SIDEWAY"
)

func ParseRegime(s string) (Regime, bool) {
	switch r := Regime(strings.ToUpper(strings.TrimSpace(s))); r {
	case RegimeBull, RegimeBear, RegimeSideway:
		return r, true
	}
	return RegimeNone, false
}

// 失败标签。
const (
	TagReversedTrend      = "reversed_trend"
	TagExternalShock      = "external_shock"
	TagNoMovement         = "no_movement"
	TagWrongDirection     = "wrong_direction"
	TagUnexpectedBreakout = "unexpected_breakout"
	TagDataUnavailable    = "data_unavailable"
)
