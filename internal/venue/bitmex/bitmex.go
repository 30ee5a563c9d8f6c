// Package bitmex adapts the BitMEX REST and realtime APIs.
package bitmex

import (
	"time"

	"venuelink/pkg/ratelimit"
)

const (
	Venue = "BITMEX"

	BaseURL        = "https://www.bitmex.com"
	TestnetBaseURL = "https://testnet.bitmex.com"
	WsURL          = "wss://ws.bitmex.com/realtime"
	TestnetWsURL   = "wss://ws.testnet.bitmex.com/realtime"

	_signatureExpiry = 60 * time.Second
)

// Realtime tables.
const (
	TableInstrument  = "instrument"
	TableQuote       = "quote"
	TableTrade       = "trade"
	TableOrderBookL2 = "orderBookL2"
	TableOrderBook25 = "orderBookL2_25"
	TableOrderBook10 = "orderBook10"
	TableOrder       = "order"
	TableExecution   = "execution"
	TableMargin      = "margin"
)

// Rate classes. The general class covers every request, the order class
// only order writes.
const (
	RateClassGeneral = "general"
	RateClassOrder   = "order"

	_generalPerMinute = 120
	_orderPerMinute   = 600
)

// NewLimiter builds the bucket registry for the documented request limits.
func NewLimiter(opts ...ratelimit.BucketOption) (*ratelimit.Registry, error) {
	general, err := ratelimit.NewBucket(_generalPerMinute, opts...)
	if err != nil {
		return nil, err
	}
	orders, err := ratelimit.NewBucket(_orderPerMinute, opts...)
	if err != nil {
		return nil, err
	}

	registry := ratelimit.NewRegistry(general)
	registry.Set(RateClassGeneral, general)
	registry.Set(RateClassOrder, orders)
	return registry, nil
}
