package order

import (
	"context"

	"venuelink/internal/model"
)

// Delegator performs the venue round trip for each command. Returned events
// describe the venue's answer; errors become rejection events.
type Delegator interface {
	Submit(ctx context.Context, cmd model.SubmitOrder) (model.OrderEvent, error)
	Cancel(ctx context.Context, cmd model.CancelOrder) (model.OrderEvent, error)
	Modify(ctx context.Context, cmd model.ModifyOrder) (model.OrderEvent, error)
	Query(ctx context.Context, cmd model.QueryOrder) (model.OrderEvent, error)
	Account(ctx context.Context, cmd model.QueryAccount) (model.AccountState, error)
	BatchCancel(ctx context.Context, cmd model.BatchCancelOrders) ([]model.OrderEvent, error)
}

// Publisher is the bus side the usecase publishes on.
type Publisher interface {
	Publish(topic string, msg any) int
}
