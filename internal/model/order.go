package model

import (
	"github.com/google/uuid"

	"venuelink/internal/model/enum"
)

// NewClientOrderID returns a random client order id.
func NewClientOrderID() string {
	return "O-" + uuid.NewString()
}

// SubmitOrder asks a venue to place an order.
type SubmitOrder struct {
	ClientOrderID string
	InstrumentID  InstrumentID
	Side          enum.OrderSide
	Type          enum.OrderType
	TimeInForce   enum.TimeInForce
	Quantity      Quantity
	Price         Price
	PostOnly      bool
	ReduceOnly    bool
	TsInit        int64
}

// CancelOrder asks a venue to cancel an order. Cancels keyed by ClientOrderID
// are idempotent.
type CancelOrder struct {
	ClientOrderID string
	VenueOrderID  string
	InstrumentID  InstrumentID
	TsInit        int64
}

// ModifyOrder amends the price or quantity of a resting order.
type ModifyOrder struct {
	ClientOrderID string
	VenueOrderID  string
	InstrumentID  InstrumentID
	Quantity      Quantity
	Price         Price
	TsInit        int64
}

// QueryOrder requests an order status report.
type QueryOrder struct {
	ClientOrderID string
	VenueOrderID  string
	InstrumentID  InstrumentID
	TsInit        int64
}

// QueryAccount requests an account state.
type QueryAccount struct {
	AccountID string
	TsInit    int64
}

// BatchCancelOrders cancels several orders in one venue request.
type BatchCancelOrders struct {
	Cancels []CancelOrder
	TsInit  int64
}

// OrderEventKind names an execution event.
type OrderEventKind uint8

const (
	_order_event_beg OrderEventKind = iota
	OrderEventSubmitted
	OrderEventAccepted
	OrderEventRejected
	OrderEventCanceled
	OrderEventCancelRejected
	OrderEventUpdated
	OrderEventModifyRejected
	OrderEventFilled
	OrderEventStatusReport
	_order_event_end
)

func (k OrderEventKind) IsAvailable() bool {
	return k > _order_event_beg && k < _order_event_end
}

func (k OrderEventKind) String() string {
	switch k {
	case OrderEventSubmitted:
		return "OrderSubmitted"
	case OrderEventAccepted:
		return "OrderAccepted"
	case OrderEventRejected:
		return "OrderRejected"
	case OrderEventCanceled:
		return "OrderCanceled"
	case OrderEventCancelRejected:
		return "OrderCancelRejected"
	case OrderEventUpdated:
		return "OrderUpdated"
	case OrderEventModifyRejected:
		return "OrderModifyRejected"
	case OrderEventFilled:
		return "OrderFilled"
	case OrderEventStatusReport:
		return "OrderStatusReport"
	default:
		return "Unknown"
	}
}

// OrderEvent is published on the bus for every execution state change.
// Fields irrelevant to Kind are left zero.
type OrderEvent struct {
	Kind          OrderEventKind
	ClientOrderID string
	VenueOrderID  string
	InstrumentID  InstrumentID
	Status        enum.OrderStatus
	Side          enum.OrderSide
	Price         Price
	Quantity      Quantity
	FilledQty     Quantity
	LastPx        Price
	LastQty       Quantity
	TradeID       string
	Reason        string
	TsEvent       int64
	TsInit        int64
}

// Balance is one currency line of an account state.
type Balance struct {
	Currency string
	Total    float64
	Locked   float64
	Free     float64
}

// AccountState is a venue account snapshot.
type AccountState struct {
	AccountID string
	Venue     string
	Balances  []Balance
	Reported  bool
	TsEvent   int64
	TsInit    int64
}
