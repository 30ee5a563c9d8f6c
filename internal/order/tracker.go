package order

import (
	"slices"
	"strings"
	"sync"

	"github.com/yanun0323/errors"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
)

// Order is the local view of an order built from its events.
type Order struct {
	ClientOrderID string
	VenueOrderID  string
	InstrumentID  model.InstrumentID
	Side          enum.OrderSide
	Price         model.Price
	Quantity      model.Quantity
	FilledQty     model.Quantity
	Status        enum.OrderStatus
}

// Tracker keeps order state per client order id.
type Tracker struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

func NewTracker() *Tracker {
	return &Tracker{orders: make(map[string]*Order)}
}

func (t *Tracker) Order(clientOrderID string) (Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	o, ok := t.orders[clientOrderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Open lists orders that can still trade, sorted by client order id.
func (t *Tracker) Open() []Order {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Order, 0, len(t.orders))
	for _, o := range t.orders {
		if o.Status.IsOpen() {
			result = append(result, *o)
		}
	}
	slices.SortFunc(result, func(a, b Order) int { return strings.Compare(a.ClientOrderID, b.ClientOrderID) })
	return result
}

// Submit creates the order in Submitted state.
func (t *Tracker) Submit(cmd model.SubmitOrder) (Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.orders[cmd.ClientOrderID]; ok {
		return Order{}, errors.Wrap(exception.ErrOrderDuplicate, cmd.ClientOrderID)
	}
	o := &Order{
		ClientOrderID: cmd.ClientOrderID,
		InstrumentID:  cmd.InstrumentID,
		Side:          cmd.Side,
		Price:         cmd.Price,
		Quantity:      cmd.Quantity,
		Status:        enum.OrderStatusSubmitted,
	}
	t.orders[o.ClientOrderID] = o
	return *o, nil
}

// Apply folds ev into the order it names. Status reports for unknown orders
// create them so reconciled orders are tracked too.
func (t *Tracker) Apply(ev model.OrderEvent) (Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.orders[ev.ClientOrderID]
	if !ok {
		if ev.Kind != model.OrderEventStatusReport || ev.ClientOrderID == "" {
			return Order{}, errors.Wrap(exception.ErrOrderNotFound, ev.ClientOrderID).With("event", ev.Kind)
		}
		o = &Order{ClientOrderID: ev.ClientOrderID, InstrumentID: ev.InstrumentID, Side: ev.Side}
		t.orders[o.ClientOrderID] = o
	}

	if isTerminal(o.Status) && ev.Kind != model.OrderEventStatusReport {
		return *o, errors.Wrap(exception.ErrOrderInvalidTransition, ev.ClientOrderID).
			With("status", o.Status).
			With("event", ev.Kind)
	}
	if ev.VenueOrderID != "" {
		o.VenueOrderID = ev.VenueOrderID
	}

	switch ev.Kind {
	case model.OrderEventAccepted:
		o.Status = enum.OrderStatusAccepted
	case model.OrderEventRejected:
		o.Status = enum.OrderStatusRejected
	case model.OrderEventCanceled:
		o.Status = enum.OrderStatusCanceled
	case model.OrderEventUpdated:
		if ev.Price.Raw != 0 {
			o.Price = ev.Price
		}
		if ev.Quantity.IsPositive() {
			o.Quantity = ev.Quantity
		}
	case model.OrderEventFilled:
		if !ev.LastQty.IsPositive() {
			return *o, errors.Wrap(exception.ErrOrderInvalidTransition, "non-positive fill").With("client_order_id", ev.ClientOrderID)
		}
		o.FilledQty = o.FilledQty.Add(ev.LastQty)
		if o.FilledQty.Cmp(o.Quantity) >= 0 {
			o.Status = enum.OrderStatusFilled
		} else {
			o.Status = enum.OrderStatusPartiallyFilled
		}
	case model.OrderEventStatusReport:
		if ev.Status.IsAvailable() {
			o.Status = ev.Status
		}
		if ev.Quantity.IsPositive() {
			o.Quantity = ev.Quantity
		}
		if ev.FilledQty.IsPositive() {
			o.FilledQty = ev.FilledQty
		}
		if ev.Price.Raw != 0 {
			o.Price = ev.Price
		}
	}
	return *o, nil
}

func isTerminal(status enum.OrderStatus) bool {
	switch status {
	case enum.OrderStatusFilled, enum.OrderStatusCanceled, enum.OrderStatusRejected, enum.OrderStatusExpired:
		return true
	default:
		return false
	}
}
