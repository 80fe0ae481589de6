package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aegis/internal/market"
	"aegis/internal/scheduler"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	maxHistoryLimit = 1500
	// -1121 Invalid symbol.
	codeInvalidSymbol = -1121
)

// Source 基于 go-binance SDK 实现 market.Feed，用于 24h 市场的回放与演示。
type Source struct {
	cfg    Config
	client *futures.Client
}

var _ market.Feed = (*Source)(nil)

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

func (s *Source) GetCurrentPrice(ctx context.Context, code string) (market.Quote, error) {
	symbol := normalizeSymbol(code)
	if symbol == "" {
		return market.Quote{}, fmt.Errorf("symbol is required")
	}
	res, err := s.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return market.Quote{}, fmt.Errorf("%s: %w", code, classify(err))
	}
	if len(res) == 0 || res[0] == nil {
		return market.Quote{}, fmt.Errorf("%s: %w", code, market.ErrNoData)
	}
	price := parseFloat(res[0].MarkPrice)
	if price <= 0 {
		return market.Quote{}, fmt.Errorf("%s: %w", code, market.ErrNoData)
	}
	at := time.Now()
	if res[0].Time > 0 {
		at = time.UnixMilli(res[0].Time)
	}
	return market.Quote{Code: code, Price: price, At: at}, nil
}

func (s *Source) FetchHistory(ctx context.Context, code, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol := normalizeSymbol(code)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", code, classify(err))
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	out = scheduler.TrimUnclosed(out, interval, time.Now())
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", code, market.ErrNoData)
	}
	return out, nil
}

// Snapshot 用基准合约的 24h 涨跌幅近似指数变化率。
func (s *Source) Snapshot(ctx context.Context) (market.Context, error) {
	stats, err := s.client.NewListPriceChangeStatsService().Symbol(s.cfg.IndexSymbol).Do(ctx)
	if err != nil {
		return market.Context{}, classify(err)
	}
	if len(stats) == 0 || stats[0] == nil {
		return market.Context{}, market.ErrNoData
	}
	return market.Context{
		IndexCode:       s.cfg.IndexSymbol,
		IndexPrice:      parseFloat(stats[0].LastPrice),
		IndexChangeRate: parseFloat(stats[0].PriceChangePercent),
		CapturedAt:      time.Now(),
	}, nil
}

func classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == codeInvalidSymbol {
			return market.ErrUnknownSymbol
		}
		return fmt.Errorf("%w: %s", market.ErrPriceFeedUnavailable, apiErr.Message)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", market.ErrPriceFeedUnavailable, err)
}

// normalizeSymbol 去掉斜杠与合约后缀，ETH/USDT:USDT → ETHUSDT。
func normalizeSymbol(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "/", "")
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
