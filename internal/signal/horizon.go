package signal

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Horizon 是一个验证时点；Column 为其在 aegis_signal_history 中的列名。
type Horizon struct {
	Label    string
	Duration time.Duration
	Column   string
}

var knownHorizons = map[string]Horizon{
	"5m":  {Label: "5m", Duration: 5 * time.Minute, Column: "return_5m"},
	"10m": {Label: "10m", Duration: 10 * time.Minute, Column: "return_10m"},
	"30m": {Label: "30m", Duration: 30 * time.Minute, Column: "return_30m"},
	"60m": {Label: "60m", Duration: 60 * time.Minute, Column: "return_60m"},
	"1h":  {Label: "1h", Duration: time.Hour, Column: "result_1h"},
	"1d":  {Label: "1d", Duration: 24 * time.Hour, Column: "result_1d"},
}

// HorizonByLabel 查找已知的时点标签。
func HorizonByLabel(label string) (Horizon, bool) {
	h, ok := knownHorizons[strings.ToLower(strings.TrimSpace(label))]
	return h, ok
}

// Horizons 按截止时长升序排列；最后一个为终点。
type Horizons []Horizon

// ParseHorizons 校验标签并按时长排序，拒绝空列表与重复。
func ParseHorizons(labels []string) (Horizons, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("at least one horizon is required")
	}
	seen := make(map[string]struct{}, len(labels))
	out := make(Horizons, 0, len(labels))
	for _, raw := range labels {
		h, ok := HorizonByLabel(raw)
		if !ok {
			return nil, fmt.Errorf("unknown horizon %q", raw)
		}
		if _, dup := seen[h.Label]; dup {
			return nil, fmt.Errorf("duplicate horizon %q", h.Label)
		}
		seen[h.Label] = struct{}{}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Duration == out[j].Duration {
			return out[i].Label > out[j].Label
		}
		return out[i].Duration < out[j].Duration
	})
	return out, nil
}

func (hs Horizons) Terminal() Horizon {
	if len(hs) == 0 {
		return Horizon{}
	}
	return hs[len(hs)-1]
}

func (hs Horizons) IsTerminal(h Horizon) bool {
	return len(hs) > 0 && hs.Terminal().Label == h.Label
}

func (hs Horizons) Labels() []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Label
	}
	return out
}

// NextDue 返回记录下一个尚未观测的时点；ok=false 表示全部已观测或尚未到期。
func (hs Horizons) NextDue(rec Record, now time.Time) (Horizon, bool) {
	for _, h := range hs {
		if _, done := rec.Returns[h.Label]; done {
			continue
		}
		if now.Before(rec.RecordedAt.Add(h.Duration)) {
			return Horizon{}, false
		}
		return h, true
	}
	return Horizon{}, false
}

// ClosePending 报告终点收益已写入但记录仍未关闭的情况（写入与关闭之间失败），
// 返回终点时点供重新判定。
func (hs Horizons) ClosePending(rec Record) (Horizon, bool) {
	if len(hs) == 0 || rec.Closed() {
		return Horizon{}, false
	}
	h := hs.Terminal()
	if _, done := rec.Returns[h.Label]; !done {
		return Horizon{}, false
	}
	return h, true
}
