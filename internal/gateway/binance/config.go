package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	// IndexSymbol 作为市场快照的基准合约，如 BTCUSDT。
	IndexSymbol string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.IndexSymbol = strings.ToUpper(strings.TrimSpace(out.IndexSymbol))
	if out.IndexSymbol == "" {
		out.IndexSymbol = "BTCUSDT"
	}
	return out
}
