package risk

import (
	"github.com/shopspring/decimal"

	"aegis/internal/signal"
)

// Edge 是历史胜率与盈亏比，样本不足时由 Sizer 退回先验值。
type Edge struct {
	WinRate float64
	Payoff  float64
	Samples int
}

// EdgeFromOutcomes 由已关闭信号的统计构造 Edge。avgLossPct 取正值或负值均可。
func EdgeFromOutcomes(samples, wins int, avgWinPct, avgLossPct float64) Edge {
	e := Edge{Samples: samples}
	if samples > 0 {
		e.WinRate = float64(wins) / float64(samples)
	}
	loss := decimal.NewFromFloat(avgLossPct).Abs()
	if loss.IsPositive() {
		e.Payoff = decimal.NewFromFloat(avgWinPct).Div(loss).InexactFloat64()
	}
	return e
}

type SizingInput struct {
	Equity decimal.Decimal
	Price  decimal.Decimal
	ATR    decimal.Decimal
	Edge   Edge
}

// Sizing 是附在记录上的建议值，不参与下单。
type Sizing struct {
	KellyFraction decimal.Decimal `json:"kelly_fraction"`
	Shares        int64           `json:"suggested_shares"`
	StopLoss      decimal.Decimal `json:"stop_loss_price"`
}

// Sizer 分数 Kelly + ATR 止损。
type Sizer struct {
	FractionCap   decimal.Decimal
	ATRMultiplier decimal.Decimal
	MinSamples    int
	PriorWinRate  float64
	PriorPayoff   float64
}

// Kelly 返回 f* = (p·b − (1−p)) / b，b<=0 时为 0。
func Kelly(p, b decimal.Decimal) decimal.Decimal {
	if !b.IsPositive() {
		return decimal.Zero
	}
	q := decimal.NewFromInt(1).Sub(p)
	return p.Mul(b).Sub(q).Div(b)
}

func (s Sizer) fraction(edge Edge) decimal.Decimal {
	p, b := edge.WinRate, edge.Payoff
	if edge.Samples < s.MinSamples {
		p, b = s.PriorWinRate, s.PriorPayoff
	}
	f := Kelly(decimal.NewFromFloat(p), decimal.NewFromFloat(b))
	if f.IsNegative() {
		return decimal.Zero
	}
	if f.GreaterThan(decimal.NewFromInt(1)) {
		f = decimal.NewFromInt(1)
	}
	return f.Mul(s.FractionCap).Round(4)
}

func (s Sizer) Size(t signal.Type, in SizingInput) Sizing {
	out := Sizing{KellyFraction: decimal.Zero, StopLoss: decimal.Zero}
	if !t.Actionable() || !in.Price.IsPositive() {
		return out
	}
	out.KellyFraction = s.fraction(in.Edge)
	if in.Equity.IsPositive() && out.KellyFraction.IsPositive() {
		out.Shares = in.Equity.Mul(out.KellyFraction).Div(in.Price).Floor().IntPart()
	}
	dist := in.ATR.Mul(s.ATRMultiplier)
	if dist.IsPositive() {
		if t.Direction() == signal.DirectionLong {
			out.StopLoss = in.Price.Sub(dist)
			if out.StopLoss.IsNegative() {
				out.StopLoss = decimal.Zero
			}
		} else {
			out.StopLoss = in.Price.Add(dist)
		}
		out.StopLoss = out.StopLoss.Round(2)
	}
	return out
}

// PositionPnL 估算建议仓位在 retPct 收益下的盈亏。
func PositionPnL(t signal.Type, shares int64, entry float64, retPct float64) decimal.Decimal {
	if shares <= 0 {
		return decimal.Zero
	}
	notional := decimal.NewFromInt(shares).Mul(decimal.NewFromFloat(entry))
	pnl := notional.Mul(decimal.NewFromFloat(retPct)).Div(decimal.NewFromInt(100))
	switch t.Direction() {
	case signal.DirectionLong:
		return pnl.Round(2)
	case signal.DirectionShort:
		return pnl.Neg().Round(2)
	default:
		return decimal.Zero
	}
}
