package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aegis/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{RESTBaseURL: srv.URL, HTTPTimeout: time.Second})
}

func TestGetCurrentPriceUsesMarkPrice(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/premiumIndex", r.URL.Path)
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, `[{"symbol":"ETHUSDT","markPrice":"2450.10","time":1760590800000}]`)
	})
	q, err := src.GetCurrentPrice(context.Background(), "eth/usdt")
	require.NoError(t, err)
	assert.Equal(t, 2450.10, q.Price)
	assert.Equal(t, int64(1760590800000), q.At.UnixMilli())
}

func TestGetCurrentPriceUnknownSymbol(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	})
	_, err := src.GetCurrentPrice(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, market.ErrUnknownSymbol), err)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "ETHUSDT", normalizeSymbol("eth/usdt:usdt"))
	assert.Equal(t, "BTCUSDT", normalizeSymbol(" BTCUSDT "))
}
