package market

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryFeed is an in-process Feed used for replays and tests.
type MemoryFeed struct {
	mu      sync.RWMutex
	prices  map[string]Quote
	candles map[string][]Candle
	errs    map[string]error
	ctx     Context
	ctxErr  error
	nowFn   func() time.Time
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		prices:  make(map[string]Quote),
		candles: make(map[string][]Candle),
		errs:    make(map[string]error),
		nowFn:   time.Now,
	}
}

func (f *MemoryFeed) SetPrice(code string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code = normalizeCode(code)
	f.prices[code] = Quote{Code: code, Price: price, At: f.nowFn()}
	delete(f.errs, code)
}

// SetError makes every lookup for code fail with err until the next SetPrice.
func (f *MemoryFeed) SetError(code string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[normalizeCode(code)] = err
}

func (f *MemoryFeed) SetCandles(code string, candles []Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles[normalizeCode(code)] = append([]Candle(nil), candles...)
}

func (f *MemoryFeed) SetContext(c Context, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx = c
	f.ctxErr = err
}

func (f *MemoryFeed) GetCurrentPrice(ctx context.Context, code string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	code = normalizeCode(code)
	if err := f.errs[code]; err != nil {
		return Quote{}, err
	}
	q, ok := f.prices[code]
	if !ok || q.Price <= 0 {
		return Quote{}, ErrNoData
	}
	return q, nil
}

func (f *MemoryFeed) FetchHistory(ctx context.Context, code, interval string, limit int) ([]Candle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	code = normalizeCode(code)
	if err := f.errs[code]; err != nil {
		return nil, err
	}
	cs := f.candles[code]
	if len(cs) == 0 {
		return nil, ErrNoData
	}
	if limit > 0 && len(cs) > limit {
		cs = cs[len(cs)-limit:]
	}
	return append([]Candle(nil), cs...), nil
}

func (f *MemoryFeed) Snapshot(ctx context.Context) (Context, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ctx, f.ctxErr
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
