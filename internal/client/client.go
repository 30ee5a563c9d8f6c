// Package client declares the contracts venue adapters implement.
package client

import (
	"context"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
)

// DataClient streams market data for one venue onto the bus. Subscribe calls
// record intent and return once the frame is queued; acks arrive later.
type DataClient interface {
	Venue() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	SubscribeInstruments(ctx context.Context) error
	SubscribeQuotes(ctx context.Context, id model.InstrumentID) error
	SubscribeTrades(ctx context.Context, id model.InstrumentID) error
	SubscribeBookDeltas(ctx context.Context, id model.InstrumentID, bookType enum.BookType) error
	SubscribeBookDepth(ctx context.Context, id model.InstrumentID) error
	SubscribeMarkPrices(ctx context.Context, id model.InstrumentID) error
	SubscribeIndexPrices(ctx context.Context, id model.InstrumentID) error

	UnsubscribeInstruments(ctx context.Context) error
	UnsubscribeQuotes(ctx context.Context, id model.InstrumentID) error
	UnsubscribeTrades(ctx context.Context, id model.InstrumentID) error
	UnsubscribeBookDeltas(ctx context.Context, id model.InstrumentID) error
	UnsubscribeBookDepth(ctx context.Context, id model.InstrumentID) error
	UnsubscribeMarkPrices(ctx context.Context, id model.InstrumentID) error
	UnsubscribeIndexPrices(ctx context.Context, id model.InstrumentID) error
}

// ExecutionClient accepts order commands for one venue. Every method
// validates and enqueues; outcomes are published as order events.
type ExecutionClient interface {
	Venue() string
	SubmitOrder(cmd model.SubmitOrder) error
	CancelOrder(cmd model.CancelOrder) error
	ModifyOrder(cmd model.ModifyOrder) error
	QueryOrder(cmd model.QueryOrder) error
	QueryAccount(cmd model.QueryAccount) error
	BatchCancelOrders(cmd model.BatchCancelOrders) error
}
