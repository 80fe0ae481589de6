package httpfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"aegis/internal/logger"
	"aegis/internal/market"
	"aegis/internal/pkg/circuit"
	"aegis/internal/scheduler"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Paths 是响应 JSON 中各字段的 gjson 路径。
type Paths struct {
	Price      string
	Time       string
	ChangeRate string
	Candles    string
	OpenTime   string
	Open       string
	High       string
	Low        string
	Close      string
	Volume     string
}

// Options 配置通用 JSON 行情源。URL 中 {code} {interval} {limit} 会被替换。
type Options struct {
	QuoteURL         string
	HistoryURL       string
	IndexURL         string
	IndexCode        string
	Headers          map[string]string
	Paths            Paths
	Timeout          time.Duration
	RateLimit        float64
	BreakerThreshold int
	BreakerCooldown  time.Duration
	HTTPClient       *http.Client
}

// Feed 通过任意 JSON 接口实现 market.Feed。
type Feed struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuit.CircuitBreaker
	now     func() time.Time
}

var _ market.Feed = (*Feed)(nil)

func New(opts Options) (*Feed, error) {
	if strings.TrimSpace(opts.QuoteURL) == "" {
		return nil, fmt.Errorf("httpfeed: quote url 必填")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	opts.Paths = opts.Paths.withDefaults()
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	burst := int(opts.RateLimit)
	if burst < 1 {
		burst = 1
	}
	return &Feed{
		now:     time.Now,
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), burst),
		breaker: circuit.NewCircuitBreaker("httpfeed", opts.BreakerThreshold, opts.BreakerCooldown),
	}, nil
}

func (p Paths) withDefaults() Paths {
	def := func(v *string, d string) {
		if strings.TrimSpace(*v) == "" {
			*v = d
		}
	}
	def(&p.Price, "price")
	def(&p.ChangeRate, "change_rate")
	def(&p.Candles, "candles")
	def(&p.OpenTime, "t")
	def(&p.Open, "o")
	def(&p.High, "h")
	def(&p.Low, "l")
	def(&p.Close, "c")
	def(&p.Volume, "v")
	return p
}

// Breaker 暴露熔断状态给健康检查。
func (f *Feed) Breaker() *circuit.CircuitBreaker { return f.breaker }

func (f *Feed) GetCurrentPrice(ctx context.Context, code string) (market.Quote, error) {
	body, err := f.fetch(ctx, expand(f.opts.QuoteURL, code, "", 0))
	if err != nil {
		return market.Quote{}, fmt.Errorf("%s: %w", code, err)
	}
	price := gjson.GetBytes(body, f.opts.Paths.Price)
	if !price.Exists() || price.Float() <= 0 {
		return market.Quote{}, fmt.Errorf("%s: %w", code, market.ErrNoData)
	}
	q := market.Quote{Code: code, Price: price.Float(), At: time.Now()}
	if f.opts.Paths.Time != "" {
		if at, ok := parseTime(gjson.GetBytes(body, f.opts.Paths.Time)); ok {
			q.At = at
		}
	}
	return q, nil
}

func (f *Feed) FetchHistory(ctx context.Context, code, interval string, limit int) ([]market.Candle, error) {
	if strings.TrimSpace(f.opts.HistoryURL) == "" {
		return nil, fmt.Errorf("httpfeed: history url 未配置")
	}
	body, err := f.fetch(ctx, expand(f.opts.HistoryURL, code, interval, limit))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", code, err)
	}
	arr := gjson.GetBytes(body, f.opts.Paths.Candles)
	if !arr.IsArray() {
		return nil, fmt.Errorf("%s: %w", code, market.ErrNoData)
	}
	p := f.opts.Paths
	out := make([]market.Candle, 0, len(arr.Array()))
	arr.ForEach(func(_, item gjson.Result) bool {
		at, ok := parseTime(item.Get(p.OpenTime))
		if !ok {
			return true
		}
		out = append(out, market.Candle{
			OpenTime: at.UnixMilli(),
			Open:     item.Get(p.Open).Float(),
			High:     item.Get(p.High).Float(),
			Low:      item.Get(p.Low).Float(),
			Close:    item.Get(p.Close).Float(),
			Volume:   item.Get(p.Volume).Float(),
		})
		return true
	})
	out = scheduler.TrimUnclosed(out, interval, f.now())
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", code, market.ErrNoData)
	}
	return out, nil
}

func (f *Feed) Snapshot(ctx context.Context) (market.Context, error) {
	if strings.TrimSpace(f.opts.IndexURL) == "" {
		return market.Context{CapturedAt: time.Now()}, nil
	}
	body, err := f.fetch(ctx, expand(f.opts.IndexURL, f.opts.IndexCode, "", 0))
	if err != nil {
		return market.Context{}, err
	}
	change := gjson.GetBytes(body, f.opts.Paths.ChangeRate)
	if !change.Exists() {
		return market.Context{}, fmt.Errorf("index %s: %w", f.opts.IndexCode, market.ErrNoData)
	}
	return market.Context{
		IndexCode:       f.opts.IndexCode,
		IndexPrice:      gjson.GetBytes(body, f.opts.Paths.Price).Float(),
		IndexChangeRate: change.Float(),
		CapturedAt:      time.Now(),
	}, nil
}

func (f *Feed) fetch(ctx context.Context, target string) ([]byte, error) {
	var body []byte
	err := f.breaker.Do(func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range f.opts.Headers {
			req.Header.Set(k, v)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", market.ErrPriceFeedUnavailable, err)
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return market.ErrUnknownSymbol
		case resp.StatusCode == http.StatusNoContent:
			return market.ErrNoData
		case resp.StatusCode >= 300:
			return fmt.Errorf("%w: status %d", market.ErrPriceFeedUnavailable, resp.StatusCode)
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("%w: %v", market.ErrPriceFeedUnavailable, err)
		}
		if !gjson.ValidBytes(raw) {
			return fmt.Errorf("%w: invalid json", market.ErrPriceFeedUnavailable)
		}
		body = raw
		return nil
	}, func(err error) bool { return errors.Is(err, market.ErrPriceFeedUnavailable) })
	if errors.Is(err, circuit.ErrOpen) {
		logger.Debugf("httpfeed breaker open, skip %s", target)
		return nil, fmt.Errorf("%w: %v", market.ErrPriceFeedUnavailable, err)
	}
	return body, err
}

func expand(tmpl, code, interval string, limit int) string {
	r := strings.NewReplacer(
		"{code}", url.PathEscape(code),
		"{interval}", url.QueryEscape(interval),
		"{limit}", strconv.Itoa(limit),
	)
	return r.Replace(tmpl)
}

// parseTime 接受秒/毫秒时间戳或 RFC3339 字符串。
func parseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.Number:
		n := v.Int()
		if n <= 0 {
			return time.Time{}, false
		}
		if n < 1e12 {
			return time.Unix(n, 0), true
		}
		return time.UnixMilli(n), true
	case gjson.String:
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			return t, true
		}
		if n, err := strconv.ParseInt(v.String(), 10, 64); err == nil && n > 0 {
			if n < 1e12 {
				return time.Unix(n, 0), true
			}
			return time.UnixMilli(n), true
		}
	}
	return time.Time{}, false
}
