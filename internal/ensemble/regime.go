package ensemble

import (
	"aegis/internal/market"
	"aegis/internal/signal"
)

const (
	RegimeModeOff   = "off"
	RegimeModeFixed = "fixed"
	RegimeModeAuto  = "auto"
)

// RegimeClassifier 根据指数涨跌幅判断市场状态。
type RegimeClassifier struct {
	Mode             string
	Fixed            signal.Regime
	BullThresholdPct float64
	BearThresholdPct float64
}

func (c RegimeClassifier) Classify(ctx market.Context) signal.Regime {
	switch c.Mode {
	case RegimeModeFixed:
		return c.Fixed
	case RegimeModeAuto:
		switch {
		case ctx.IndexChangeRate >= c.BullThresholdPct:
			return signal.RegimeBull
		case ctx.IndexChangeRate <= -c.BearThresholdPct:
			return signal.RegimeBear
		default:
			return signal.RegimeSideway
		}
	default:
		return signal.RegimeNone
	}
}

// NeedsContext 报告是否必须先拉取市场快照。
func (c RegimeClassifier) NeedsContext() bool { return c.Mode == RegimeModeAuto }
