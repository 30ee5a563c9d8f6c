package orderbook

import (
	"fmt"
	"slices"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
)

// BookPrice orders levels within a side: bids descending, asks ascending.
type BookPrice struct {
	Value model.Price
	Side  enum.OrderSide
}

func NewBookPrice(value model.Price, side enum.OrderSide) BookPrice {
	return BookPrice{Value: value, Side: side}
}

// Compare returns a negative number when p sits closer to the top of the
// book than o.
func (p BookPrice) Compare(o BookPrice) int {
	if p.Side == enum.OrderSideBuy {
		return o.Value.Cmp(p.Value)
	}
	return p.Value.Cmp(o.Value)
}

func (p BookPrice) String() string {
	return fmt.Sprintf("%s@%s", p.Side, p.Value)
}

// Level is one price level holding orders in arrival order.
type Level struct {
	Price  BookPrice
	orders []model.BookOrder
}

func newLevel(order model.BookOrder) *Level {
	return &Level{
		Price:  NewBookPrice(order.Price, order.Side),
		orders: []model.BookOrder{order},
	}
}

func (l *Level) clone() *Level {
	return &Level{Price: l.Price, orders: slices.Clone(l.orders)}
}

func (l *Level) Len() int {
	return len(l.orders)
}

func (l *Level) IsEmpty() bool {
	return len(l.orders) == 0
}

// First returns the oldest order at the level.
func (l *Level) First() (model.BookOrder, bool) {
	if len(l.orders) == 0 {
		return model.BookOrder{}, false
	}
	return l.orders[0], true
}

// Orders returns a copy of the orders in FIFO order.
func (l *Level) Orders() []model.BookOrder {
	return slices.Clone(l.orders)
}

// Size sums the order sizes.
func (l *Level) Size() model.Quantity {
	var size model.Quantity
	for _, o := range l.orders {
		size = size.Add(o.Size)
	}
	return size
}

// Exposure sums price * size over the orders.
func (l *Level) Exposure() float64 {
	var exposure float64
	for _, o := range l.orders {
		exposure += o.Exposure()
	}
	return exposure
}

func (l *Level) index(orderID uint64) int {
	return slices.IndexFunc(l.orders, func(o model.BookOrder) bool { return o.OrderID == orderID })
}

// add appends order, or replaces it in place when the id already rests here.
func (l *Level) add(order model.BookOrder) {
	if idx := l.index(order.OrderID); idx >= 0 {
		l.orders[idx] = order
		return
	}
	l.orders = append(l.orders, order)
}

// update replaces the order in place keeping its queue position. A zero size
// removes it.
func (l *Level) update(order model.BookOrder) {
	idx := l.index(order.OrderID)
	switch {
	case idx < 0 && order.Size.IsPositive():
		l.add(order)
	case idx < 0:
	case !order.Size.IsPositive():
		l.orders = slices.Delete(l.orders, idx, idx+1)
	default:
		l.orders[idx] = order
	}
}

func (l *Level) remove(orderID uint64) bool {
	idx := l.index(orderID)
	if idx < 0 {
		return false
	}
	l.orders = slices.Delete(l.orders, idx, idx+1)
	return true
}
