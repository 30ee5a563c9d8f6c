package orderbook

import (
	"slices"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
)

// Fill is one simulated execution.
type Fill struct {
	Price model.Price
	Size  model.Quantity
}

// Ladder is one side of the book. Levels are kept sorted best first and a
// cache maps order ids to their level.
type Ladder struct {
	side   enum.OrderSide
	levels []*Level
	cache  map[uint64]BookPrice
}

func NewLadder(side enum.OrderSide) *Ladder {
	return &Ladder{
		side:  side,
		cache: make(map[uint64]BookPrice),
	}
}

func (l *Ladder) Side() enum.OrderSide {
	return l.side
}

// Len returns the number of price levels.
func (l *Ladder) Len() int {
	return len(l.levels)
}

func (l *Ladder) IsEmpty() bool {
	return len(l.levels) == 0
}

func (l *Ladder) Clear() {
	l.levels = nil
	clear(l.cache)
}

// Top returns the best level or nil.
func (l *Ladder) Top() *Level {
	if len(l.levels) == 0 {
		return nil
	}
	return l.levels[0]
}

// Levels returns copies of up to depth levels best first, detached from later
// book updates. depth <= 0 returns all.
func (l *Ladder) Levels(depth int) []*Level {
	if depth <= 0 || depth > len(l.levels) {
		depth = len(l.levels)
	}
	out := make([]*Level, depth)
	for i, level := range l.levels[:depth] {
		out[i] = level.clone()
	}
	return out
}

// Contains reports whether orderID rests on this side.
func (l *Ladder) Contains(orderID uint64) bool {
	_, ok := l.cache[orderID]
	return ok
}

func (l *Ladder) find(price BookPrice) (int, bool) {
	return slices.BinarySearchFunc(l.levels, price, func(level *Level, target BookPrice) int {
		return level.Price.Compare(target)
	})
}

// Add appends order to the tail of its level.
func (l *Ladder) Add(order model.BookOrder) {
	if old, ok := l.cache[order.OrderID]; ok && old.Value.Cmp(order.Price) != 0 {
		l.Remove(order.OrderID)
	}
	price := NewBookPrice(order.Price, l.side)
	l.cache[order.OrderID] = price

	idx, found := l.find(price)
	if found {
		l.levels[idx].add(order)
		return
	}
	l.levels = slices.Insert(l.levels, idx, newLevel(order))
}

// Update changes an order in place, moves it when its price changed and
// inserts it when unknown. Zero size deletes.
func (l *Ladder) Update(order model.BookOrder) {
	if price, ok := l.cache[order.OrderID]; ok {
		if price.Value.Cmp(order.Price) == 0 {
			idx, found := l.find(price)
			if found {
				level := l.levels[idx]
				level.update(order)
				if !order.Size.IsPositive() {
					delete(l.cache, order.OrderID)
				}
				if level.IsEmpty() {
					l.levels = slices.Delete(l.levels, idx, idx+1)
				}
				return
			}
		}
		l.Remove(order.OrderID)
	}

	if order.Size.IsPositive() {
		l.Add(order)
	}
}

// Remove deletes orderID and reports whether it was present.
func (l *Ladder) Remove(orderID uint64) bool {
	price, ok := l.cache[orderID]
	if !ok {
		return false
	}
	delete(l.cache, orderID)

	idx, found := l.find(price)
	if !found {
		return false
	}
	level := l.levels[idx]
	removed := level.remove(orderID)
	if level.IsEmpty() {
		l.levels = slices.Delete(l.levels, idx, idx+1)
	}
	return removed
}

// RemoveLevel drops a whole level and its cached orders.
func (l *Ladder) RemoveLevel(price model.Price) (*Level, bool) {
	idx, found := l.find(NewBookPrice(price, l.side))
	if !found {
		return nil, false
	}
	level := l.levels[idx]
	for _, o := range level.orders {
		delete(l.cache, o.OrderID)
	}
	l.levels = slices.Delete(l.levels, idx, idx+1)
	return level, true
}

// Sizes sums every level size as a float.
func (l *Ladder) Sizes() float64 {
	var total float64
	for _, level := range l.levels {
		total += level.Size().Float64()
	}
	return total
}

func (l *Ladder) Exposures() float64 {
	var total float64
	for _, level := range l.levels {
		total += level.Exposure()
	}
	return total
}

// SimulateFills walks this side best first against an incoming order of the
// opposite side until its size is exhausted or its limit price is crossed.
func (l *Ladder) SimulateFills(order model.BookOrder) []Fill {
	var (
		fills  []Fill
		filled model.Quantity
	)
	target := order.Size

	for _, level := range l.levels {
		price := level.Price.Value
		if l.side == enum.OrderSideSell && price.Cmp(order.Price) > 0 {
			break
		}
		if l.side == enum.OrderSideBuy && price.Cmp(order.Price) < 0 {
			break
		}

		for _, resting := range level.orders {
			if filled.Add(resting.Size).Cmp(target) >= 0 {
				if remainder := target.Sub(filled); remainder.IsPositive() {
					fills = append(fills, Fill{Price: resting.Price, Size: remainder})
				}
				return fills
			}
			fills = append(fills, Fill{Price: resting.Price, Size: resting.Size})
			filled = filled.Add(resting.Size)
		}
	}
	return fills
}
