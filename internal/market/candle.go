package market

import "time"

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// OpenAt returns the candle open time (OpenTime is epoch milliseconds).
func (c Candle) OpenAt() time.Time {
	return time.UnixMilli(c.OpenTime)
}
