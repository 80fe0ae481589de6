package risk

import (
	"github.com/shopspring/decimal"

	"aegis/internal/signal"
)

// Proposal 是待评估的信号。
type Proposal struct {
	StockCode string
	Type      signal.Type
	Score     int
	Price     float64
	ATR       float64
}

// Decision 为 Allowed（附建议仓位）或 Rejected（附原因）。
type Decision struct {
	Allowed bool
	Reason  string
	Sizing  Sizing
}

func Allowed(s Sizing) Decision       { return Decision{Allowed: true, Sizing: s} }
func Rejected(reason string) Decision { return Decision{Reason: reason} }

const ReasonInvalidPrice = "invalid_price"

type Gate struct {
	limits Limits
	sizer  Sizer
}

func NewGate(limits Limits, sizer Sizer) *Gate {
	return &Gate{limits: limits, sizer: sizer}
}

func (g *Gate) Limits() Limits { return g.limits }

// Evaluate 熔断只拦截 buy/sell 类信号，hold 始终放行。
func (g *Gate) Evaluate(p Proposal, st *CircuitBreakerState, in SizingInput) Decision {
	if p.Price <= 0 {
		return Rejected(ReasonInvalidPrice)
	}
	if p.Type.Actionable() && st != nil && st.Check(g.limits) {
		return Rejected(st.TripReason)
	}
	if in.Price.IsZero() {
		in.Price = decimal.NewFromFloat(p.Price)
	}
	if in.ATR.IsZero() && p.ATR > 0 {
		in.ATR = decimal.NewFromFloat(p.ATR)
	}
	return Allowed(g.sizer.Size(p.Type, in))
}
