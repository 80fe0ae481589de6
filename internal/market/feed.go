package market

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoData means the feed answered but had nothing for the code (halt, no trades yet).
	ErrNoData = errors.New("market: no data")
	// ErrUnknownSymbol means the code is not listed any more; retrying will not help.
	ErrUnknownSymbol = errors.New("market: unknown symbol")
	// ErrPriceFeedUnavailable wraps transport level failures of a feed.
	ErrPriceFeedUnavailable = errors.New("market: price feed unavailable")
)

// Quote is the latest traded price of a stock.
type Quote struct {
	Code  string    `json:"code"`
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// PriceFeed returns current prices for verification.
type PriceFeed interface {
	GetCurrentPrice(ctx context.Context, code string) (Quote, error)
}

// CandleSource returns closed candles, oldest first.
type CandleSource interface {
	FetchHistory(ctx context.Context, code, interval string, limit int) ([]Candle, error)
}

// Context is the broad-market snapshot stored next to each signal.
type Context struct {
	IndexCode       string    `json:"index_code,omitempty"`
	IndexPrice      float64   `json:"index_price,omitempty"`
	IndexChangeRate float64   `json:"index_change_rate"`
	CapturedAt      time.Time `json:"captured_at"`
}

// ContextProvider snapshots the broad market.
type ContextProvider interface {
	Snapshot(ctx context.Context) (Context, error)
}

// Feed bundles everything the engine reads from the market.
type Feed interface {
	PriceFeed
	CandleSource
	ContextProvider
}
