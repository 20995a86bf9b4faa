package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mcstore/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fxResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"rates"`
}

// CurrencyConverter converts amounts with rates from a public FX API
type CurrencyConverter struct {
	apiURL     string
	cache      RateCache
	cacheTTL   time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewCurrencyConverter creates a converter. cache may be nil.
func NewCurrencyConverter(apiURL string, cache RateCache, cacheTTL time.Duration, httpClient *http.Client) *CurrencyConverter {
	if httpClient == nil {
		httpClient = util.NewHTTPClient(10 * time.Second)
	}
	return &CurrencyConverter{
		apiURL:     strings.TrimRight(apiURL, "/"),
		cache:      cache,
		cacheTTL:   cacheTTL,
		httpClient: httpClient,
		logger:     util.GetLogger(),
	}
}

// Convert returns amount expressed in the to currency
func (c *CurrencyConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	ctx, span := util.StartSpan(ctx, "CurrencyConverter.Convert")
	defer span.End()

	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}

	rates, err := c.rates(ctx, from)
	if err != nil {
		util.CurrencyConversionsTotal.WithLabelValues("error").Inc()
		c.logger.Error("Currency conversion failed",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
		return decimal.Zero, fmt.Errorf("%w: %v", ErrCurrencyConversion, err)
	}

	rate, ok := rates[to]
	if !ok || rate <= 0 {
		util.CurrencyConversionsTotal.WithLabelValues("error").Inc()
		return decimal.Zero, fmt.Errorf("%w: conversion rate from %s to %s not found", ErrCurrencyConversion, from, to)
	}

	return amount.Mul(decimal.NewFromFloat(rate)), nil
}

func (c *CurrencyConverter) rates(ctx context.Context, base string) (map[string]float64, error) {
	if c.cache != nil {
		rates, found, err := c.cache.GetRates(ctx, base)
		if err != nil {
			c.logger.Warn("FX rate cache read failed", zap.String("base", base), zap.Error(err))
		} else if found {
			util.CurrencyConversionsTotal.WithLabelValues("cached").Inc()
			return rates, nil
		}
	}

	rates, err := c.fetch(ctx, base)
	if err != nil {
		return nil, err
	}
	util.CurrencyConversionsTotal.WithLabelValues("fetched").Inc()

	if c.cache != nil {
		if err := c.cache.SetRates(ctx, base, rates, c.cacheTTL); err != nil {
			c.logger.Warn("FX rate cache write failed", zap.String("base", base), zap.Error(err))
		}
	}
	return rates, nil
}

func (c *CurrencyConverter) fetch(ctx context.Context, base string) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/"+base, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fx api returned status %d", resp.StatusCode)
	}

	var body fxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode fx response: %w", err)
	}
	if body.Result != "" && body.Result != "success" {
		return nil, fmt.Errorf("fx api result %q", body.Result)
	}
	if len(body.Rates) == 0 {
		return nil, fmt.Errorf("fx api returned no rates for %s", base)
	}
	return body.Rates, nil
}
