package gateway

import (
	"fmt"
	"strings"
	"time"

	"aegis/internal/config"
	"aegis/internal/gateway/binance"
	"aegis/internal/market"
	"aegis/internal/market/httpfeed"
)

// NewFeedFromConfig 按 market.feed.kind 构造行情源。
func NewFeedFromConfig(cfg config.MarketConfig) (market.Feed, error) {
	fc := cfg.Feed
	switch strings.ToLower(strings.TrimSpace(fc.Kind)) {
	case "", "http":
		return httpfeed.New(httpfeed.Options{
			QuoteURL:   fc.QuoteURL,
			HistoryURL: fc.HistoryURL,
			IndexURL:   fc.IndexURL,
			IndexCode:  cfg.IndexCode,
			Headers:    fc.Headers,
			Paths: httpfeed.Paths{
				Price:      fc.PricePath,
				Time:       fc.TimePath,
				ChangeRate: fc.ChangeRatePath,
				Candles:    fc.CandlesPath,
				OpenTime:   fc.CandleFields.OpenTime,
				Open:       fc.CandleFields.Open,
				High:       fc.CandleFields.High,
				Low:        fc.CandleFields.Low,
				Close:      fc.CandleFields.Close,
				Volume:     fc.CandleFields.Volume,
			},
			Timeout:          time.Duration(fc.TimeoutSeconds) * time.Second,
			RateLimit:        fc.RateLimitPerSecond,
			BreakerThreshold: fc.BreakerThreshold,
			BreakerCooldown:  time.Duration(fc.BreakerCooldownSeconds) * time.Second,
		})
	case "binance", "binance-futures":
		return binance.New(binance.Config{
			RESTBaseURL: fc.BinanceRESTURL,
			HTTPTimeout: time.Duration(fc.TimeoutSeconds) * time.Second,
			IndexSymbol: cfg.IndexCode,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported market feed: %s", fc.Kind)
	}
}
