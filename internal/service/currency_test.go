package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mcstore/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFXServer(t *testing.T, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/latest/EUR", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConvertUsesCachedRates(t *testing.T) {
	var hits int32
	srv := newFXServer(t, `{"result":"success","rates":{"USD":1.25,"EUR":1}}`, &hits)

	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	c := NewCurrencyConverter(srv.URL+"/latest", rc, time.Hour, srv.Client())
	ctx := context.Background()

	got, err := c.Convert(ctx, decimal.NewFromInt(8), "eur", "usd")
	require.NoError(t, err)
	assert.Equal(t, "10.00", got.StringFixed(2))

	got, err = c.Convert(ctx, decimal.NewFromInt(4), "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, "5.00", got.StringFixed(2))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	mr.FastForward(2 * time.Hour)
	_, err = c.Convert(ctx, decimal.NewFromInt(4), "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestConvertSameCurrencySkipsLookup(t *testing.T) {
	c := NewCurrencyConverter("http://127.0.0.1:0", nil, time.Hour, nil)

	got, err := c.Convert(context.Background(), decimal.RequireFromString("3.50"), "usd", "USD")
	require.NoError(t, err)
	assert.Equal(t, "3.5", got.String())
}

func TestConvertFailures(t *testing.T) {
	var hits int32
	tests := []struct {
		name string
		body string
	}{
		{"missing target", `{"result":"success","rates":{"GBP":0.8}}`},
		{"error result", `{"result":"error","error-type":"unsupported-code"}`},
		{"garbage", `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFXServer(t, tt.body, &hits)
			c := NewCurrencyConverter(srv.URL+"/latest", nil, time.Hour, srv.Client())

			_, err := c.Convert(context.Background(), decimal.NewFromInt(1), "EUR", "USD")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCurrencyConversion))
		})
	}
}
