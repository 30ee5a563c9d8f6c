package orderbook

import (
	"venuelink/internal/model"
	"venuelink/internal/model/enum"
)

func (b *OrderBook) Bids(depth int) []*Level {
	return b.bids.Levels(depth)
}

func (b *OrderBook) Asks(depth int) []*Level {
	return b.asks.Levels(depth)
}

func (b *OrderBook) HasBid() bool {
	return !b.bids.IsEmpty()
}

func (b *OrderBook) HasAsk() bool {
	return !b.asks.IsEmpty()
}

func (b *OrderBook) BestBidPrice() (model.Price, bool) {
	if top := b.bids.Top(); top != nil {
		return top.Price.Value, true
	}
	return model.Price{}, false
}

func (b *OrderBook) BestAskPrice() (model.Price, bool) {
	if top := b.asks.Top(); top != nil {
		return top.Price.Value, true
	}
	return model.Price{}, false
}

// BestBidSize is the size of the first order at the best bid.
func (b *OrderBook) BestBidSize() (model.Quantity, bool) {
	return firstSize(b.bids)
}

// BestAskSize is the size of the first order at the best ask.
func (b *OrderBook) BestAskSize() (model.Quantity, bool) {
	return firstSize(b.asks)
}

func firstSize(l *Ladder) (model.Quantity, bool) {
	top := l.Top()
	if top == nil {
		return model.Quantity{}, false
	}
	first, ok := top.First()
	return first.Size, ok
}

func (b *OrderBook) Spread() (float64, bool) {
	bid, okBid := b.BestBidPrice()
	ask, okAsk := b.BestAskPrice()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask.Float64() - bid.Float64(), true
}

func (b *OrderBook) Midpoint() (float64, bool) {
	bid, okBid := b.BestBidPrice()
	ask, okAsk := b.BestAskPrice()
	if !okBid || !okAsk {
		return 0, false
	}
	return (ask.Float64() + bid.Float64()) / 2, true
}

// opposite returns the ladder an order of side would trade against.
func (b *OrderBook) opposite(side enum.OrderSide) *Ladder {
	if side == enum.OrderSideBuy {
		return b.asks
	}
	return b.bids
}

// AvgPxForQuantity returns the average price to fill qty on side, or zero
// when the opposite side is empty.
func (b *OrderBook) AvgPxForQuantity(qty model.Quantity, side enum.OrderSide) float64 {
	var (
		filled int64
		value  float64
	)
	for _, level := range b.opposite(side).levels {
		take := min(level.Size().Raw, qty.Raw-filled)
		filled += take
		value += level.Price.Value.Float64() * float64(take)
		if filled >= qty.Raw {
			break
		}
	}
	if filled == 0 {
		return 0
	}
	return value / float64(filled)
}

// QuantityForPrice sums opposite-side size available at or better than price.
func (b *OrderBook) QuantityForPrice(price model.Price, side enum.OrderSide) float64 {
	var total float64
	for _, level := range b.opposite(side).levels {
		if side == enum.OrderSideBuy && level.Price.Value.Cmp(price) > 0 {
			break
		}
		if side == enum.OrderSideSell && level.Price.Value.Cmp(price) < 0 {
			break
		}
		total += level.Size().Float64()
	}
	return total
}

// SimulateFills returns the price and quantity schedule order would realize
// against the current book.
func (b *OrderBook) SimulateFills(order model.BookOrder) []Fill {
	if !order.Side.IsAvailable() {
		return nil
	}
	return b.opposite(order.Side).SimulateFills(order)
}

// Snapshot renders the top n levels per side as a depth frame.
func (b *OrderBook) Snapshot(n int) model.Depth {
	return model.Depth{
		InstrumentID: b.instrumentID,
		Bids:         depthLevels(b.bids.Levels(n)),
		Asks:         depthLevels(b.asks.Levels(n)),
		Sequence:     b.sequence,
		TsEvent:      b.tsLast,
	}
}

func depthLevels(levels []*Level) []model.DepthLevel {
	result := make([]model.DepthLevel, 0, len(levels))
	for _, level := range levels {
		result = append(result, model.DepthLevel{
			Price: level.Price.Value,
			Size:  level.Size(),
			Count: uint32(level.Len()),
		})
	}
	return result
}
