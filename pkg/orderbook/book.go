package orderbook

import (
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
)

// OrderBook maintains both ladders of one instrument at a fixed granularity.
// It is not safe for concurrent use; the owning session applies frames
// serially.
type OrderBook struct {
	instrumentID model.InstrumentID
	bookType     enum.BookType

	bids *Ladder
	asks *Ladder

	sequence    uint64
	tsLast      int64
	updateCount uint64
}

func New(instrumentID model.InstrumentID, bookType enum.BookType) (*OrderBook, error) {
	if !bookType.IsAvailable() {
		return nil, errors.Wrap(exception.ErrBookInvalidForType, "unknown book type").With("book_type", bookType)
	}
	return &OrderBook{
		instrumentID: instrumentID,
		bookType:     bookType,
		bids:         NewLadder(enum.OrderSideBuy),
		asks:         NewLadder(enum.OrderSideSell),
	}, nil
}

func (b *OrderBook) InstrumentID() model.InstrumentID { return b.instrumentID }
func (b *OrderBook) BookType() enum.BookType          { return b.bookType }
func (b *OrderBook) Sequence() uint64                 { return b.sequence }
func (b *OrderBook) TsLast() int64                    { return b.tsLast }
func (b *OrderBook) UpdateCount() uint64              { return b.updateCount }

// Reset empties the book and its counters.
func (b *OrderBook) Reset() {
	b.bids.Clear()
	b.asks.Clear()
	b.sequence = 0
	b.tsLast = 0
	b.updateCount = 0
}

func (b *OrderBook) ladder(side enum.OrderSide) (*Ladder, error) {
	switch side {
	case enum.OrderSideBuy:
		return b.bids, nil
	case enum.OrderSideSell:
		return b.asks, nil
	default:
		return nil, errors.Wrap(exception.ErrInvalidArgument, "order side").With("side", side)
	}
}

// preProcess derives synthetic order ids for the aggregated granularities.
func (b *OrderBook) preProcess(order model.BookOrder) model.BookOrder {
	switch b.bookType {
	case enum.BookTypeL1MBP:
		order.OrderID = uint64(order.Side)
	case enum.BookTypeL2MBP:
		order.OrderID = uint64(order.Price.Raw)
	}
	return order
}

// Add inserts order. Top-of-book books only accept updates.
func (b *OrderBook) Add(order model.BookOrder, sequence uint64, tsEvent int64) error {
	if b.bookType == enum.BookTypeL1MBP {
		return errors.Wrap(exception.ErrBookInvalidForType, "add on L1 book").With("instrument", b.instrumentID)
	}
	ladder, err := b.ladder(order.Side)
	if err != nil {
		return err
	}
	ladder.Add(b.preProcess(order))
	b.increment(sequence, tsEvent)
	return nil
}

// Update replaces or inserts order.
func (b *OrderBook) Update(order model.BookOrder, sequence uint64, tsEvent int64) error {
	ladder, err := b.ladder(order.Side)
	if err != nil {
		return err
	}

	order = b.preProcess(order)
	if b.bookType == enum.BookTypeL1MBP {
		b.updateTop(order)
	} else {
		ladder.Update(order)
	}
	b.increment(sequence, tsEvent)
	return nil
}

// updateTop replaces a whole side of an L1 book and clears the opposite
// side when the new price crosses it.
func (b *OrderBook) updateTop(order model.BookOrder) {
	side, opposite := b.bids, b.asks
	if order.Side == enum.OrderSideSell {
		side, opposite = b.asks, b.bids
	}

	side.Clear()
	if order.Size.IsPositive() {
		side.Add(order)
	}

	if top := opposite.Top(); top != nil && crosses(order.Side, order.Price, top.Price.Value) {
		opposite.Clear()
	}
}

func crosses(side enum.OrderSide, price, oppositeTop model.Price) bool {
	if side == enum.OrderSideBuy {
		return price.Cmp(oppositeTop) > 0
	}
	return price.Cmp(oppositeTop) < 0
}

// Delete removes order. A missing order is an integrity error and leaves
// the book untouched.
func (b *OrderBook) Delete(order model.BookOrder, sequence uint64, tsEvent int64) error {
	ladder, err := b.ladder(order.Side)
	if err != nil {
		return err
	}

	order = b.preProcess(order)
	if !ladder.Remove(order.OrderID) {
		return errors.Wrap(exception.ErrBookOrderNotFound, "delete").
			With("instrument", b.instrumentID).
			With("order_id", order.OrderID).
			With("sequence", sequence)
	}
	b.increment(sequence, tsEvent)
	return nil
}

func (b *OrderBook) Clear(sequence uint64, tsEvent int64) {
	b.bids.Clear()
	b.asks.Clear()
	b.increment(sequence, tsEvent)
}

func (b *OrderBook) ClearBids(sequence uint64, tsEvent int64) {
	b.bids.Clear()
	b.increment(sequence, tsEvent)
}

func (b *OrderBook) ClearAsks(sequence uint64, tsEvent int64) {
	b.asks.Clear()
	b.increment(sequence, tsEvent)
}

// ClearStaleLevels removes levels overlapping the opposite top when the book
// is strictly crossed. side limits the cleanup to bids or asks; any other
// value clears both. It returns the removed levels, bids first.
func (b *OrderBook) ClearStaleLevels(side enum.OrderSide) []*Level {
	if b.bookType == enum.BookTypeL1MBP {
		return nil
	}

	bestBid, okBid := b.BestBidPrice()
	bestAsk, okAsk := b.BestAskPrice()
	if !okBid || !okAsk || bestBid.Cmp(bestAsk) <= 0 {
		return nil
	}

	clearBids := side != enum.OrderSideSell
	clearAsks := side != enum.OrderSideBuy

	var bidPrices, askPrices []model.Price
	if clearBids {
		for _, level := range b.bids.levels {
			if level.Price.Value.Cmp(bestAsk) < 0 {
				break
			}
			bidPrices = append(bidPrices, level.Price.Value)
		}
	}
	if clearAsks {
		for _, level := range b.asks.levels {
			if level.Price.Value.Cmp(bestBid) > 0 {
				break
			}
			askPrices = append(askPrices, level.Price.Value)
		}
	}

	removed := make([]*Level, 0, len(bidPrices)+len(askPrices))
	for _, price := range bidPrices {
		if level, ok := b.bids.RemoveLevel(price); ok {
			removed = append(removed, level)
		}
	}
	for _, price := range askPrices {
		if level, ok := b.asks.RemoveLevel(price); ok {
			removed = append(removed, level)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	b.increment(b.sequence, b.tsLast)
	logs.Infof("warn: orderbook %s: removed %d crossed levels (bids %d, asks %d), best bid %s > best ask %s",
		b.instrumentID, len(removed), len(bidPrices), len(askPrices), bestBid, bestAsk)
	return removed
}

// ApplyDelta dispatches one delta. Deltas without a side are resolved from
// the order id cache; unknown ids are skipped for updates and deletes.
func (b *OrderBook) ApplyDelta(delta model.BookDelta) error {
	if !delta.InstrumentID.IsZero() && delta.InstrumentID != b.instrumentID {
		return errors.Wrap(exception.ErrBookInstrument, delta.InstrumentID.String()).With("book", b.instrumentID)
	}

	order := delta.Order
	if delta.Action != enum.BookActionClear && !order.Side.IsAvailable() {
		switch {
		case b.bids.Contains(order.OrderID):
			order.Side = enum.OrderSideBuy
		case b.asks.Contains(order.OrderID):
			order.Side = enum.OrderSideSell
		case delta.Action == enum.BookActionDelete:
			return errors.Wrap(exception.ErrBookOrderNotFound, "delete").
				With("instrument", b.instrumentID).
				With("order_id", order.OrderID).
				With("sequence", delta.Sequence)
		default:
			return errors.Wrap(exception.ErrInvalidArgument, "delta without order side").With("order_id", order.OrderID)
		}
	}

	switch delta.Action {
	case enum.BookActionAdd:
		return b.Add(order, delta.Sequence, delta.TsEvent)
	case enum.BookActionUpdate:
		return b.Update(order, delta.Sequence, delta.TsEvent)
	case enum.BookActionDelete:
		return b.Delete(order, delta.Sequence, delta.TsEvent)
	case enum.BookActionClear:
		b.Clear(delta.Sequence, delta.TsEvent)
		return nil
	default:
		return errors.Wrap(exception.ErrInvalidArgument, "book action").With("action", delta.Action)
	}
}

// ApplyDeltas applies the batch in order and stops at the first error.
func (b *OrderBook) ApplyDeltas(deltas model.BookDeltas) error {
	for i := range deltas.Deltas {
		if err := b.ApplyDelta(deltas.Deltas[i]); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDepth replaces both sides with the depth snapshot and carries its
// sequence forward. Top-of-book books keep only the first level per side.
func (b *OrderBook) ApplyDepth(depth model.Depth) error {
	if !depth.InstrumentID.IsZero() && depth.InstrumentID != b.instrumentID {
		return errors.Wrap(exception.ErrBookInstrument, depth.InstrumentID.String()).With("book", b.instrumentID)
	}

	b.bids.Clear()
	b.asks.Clear()
	b.addDepthSide(b.bids, enum.OrderSideBuy, depth.Bids)
	b.addDepthSide(b.asks, enum.OrderSideSell, depth.Asks)
	b.increment(depth.Sequence, depth.TsEvent)
	return nil
}

func (b *OrderBook) addDepthSide(ladder *Ladder, side enum.OrderSide, levels []model.DepthLevel) {
	for _, level := range levels {
		if !level.Size.IsPositive() {
			continue
		}
		order := model.BookOrder{
			Side:    side,
			Price:   level.Price,
			Size:    level.Size,
			OrderID: uint64(level.Price.Raw),
		}
		ladder.Add(b.preProcess(order))
		if b.bookType == enum.BookTypeL1MBP {
			return
		}
	}
}

// UpdateQuoteTick replaces the top of both sides with the quote.
func (b *OrderBook) UpdateQuoteTick(quote model.Quote) error {
	if b.bookType == enum.BookTypeL3MBO {
		return errors.Wrap(exception.ErrBookInvalidForType, "quote tick on L3 book").With("instrument", b.instrumentID)
	}
	if quote.BidPrice.Cmp(quote.AskPrice) > 0 {
		logs.Infof("warn: orderbook %s: crossed quote bid %s ask %s", b.instrumentID, quote.BidPrice, quote.AskPrice)
	}

	b.replaceTop(model.BookOrder{Side: enum.OrderSideBuy, Price: quote.BidPrice, Size: quote.BidSize})
	b.replaceTop(model.BookOrder{Side: enum.OrderSideSell, Price: quote.AskPrice, Size: quote.AskSize})
	b.increment(b.sequence+1, quote.TsEvent)
	return nil
}

// UpdateTradeTick sets both tops to the traded price and size.
func (b *OrderBook) UpdateTradeTick(trade model.Trade) error {
	if b.bookType == enum.BookTypeL3MBO {
		return errors.Wrap(exception.ErrBookInvalidForType, "trade tick on L3 book").With("instrument", b.instrumentID)
	}

	b.replaceTop(model.BookOrder{Side: enum.OrderSideBuy, Price: trade.Price, Size: trade.Size})
	b.replaceTop(model.BookOrder{Side: enum.OrderSideSell, Price: trade.Price, Size: trade.Size})
	b.increment(b.sequence+1, trade.TsEvent)
	return nil
}

func (b *OrderBook) replaceTop(order model.BookOrder) {
	ladder := b.bids
	if order.Side == enum.OrderSideSell {
		ladder = b.asks
	}
	if top := ladder.Top(); top != nil {
		if first, ok := top.First(); ok {
			ladder.Remove(first.OrderID)
		}
	}
	if order.Size.IsPositive() {
		ladder.Add(b.preProcess(order))
	}
}

func (b *OrderBook) increment(sequence uint64, tsEvent int64) {
	if sequence < b.sequence {
		logs.Infof("warn: orderbook %s: sequence went backwards, old: %d, new: %d", b.instrumentID, b.sequence, sequence)
	}
	if tsEvent < b.tsLast {
		logs.Infof("warn: orderbook %s: timestamp went backwards, old: %d, new: %d", b.instrumentID, b.tsLast, tsEvent)
	}
	b.sequence = sequence
	b.tsLast = tsEvent
	b.updateCount++
}

// CheckIntegrity verifies granularity limits, side ordering and that the
// book is not crossed. A locked book (bid == ask) is accepted.
func (b *OrderBook) CheckIntegrity() error {
	switch b.bookType {
	case enum.BookTypeL1MBP:
		if b.bids.Len() > 1 || b.asks.Len() > 1 {
			return errors.Wrap(exception.ErrBookTooManyLevels, b.instrumentID.String()).
				With("bids", b.bids.Len()).
				With("asks", b.asks.Len())
		}
	case enum.BookTypeL2MBP:
		for _, ladder := range []*Ladder{b.bids, b.asks} {
			for _, level := range ladder.levels {
				if level.Len() > 1 {
					return errors.Wrap(exception.ErrBookTooManyOrders, b.instrumentID.String()).
						With("level", level.Price).
						With("orders", level.Len())
				}
			}
		}
	}

	for _, ladder := range []*Ladder{b.bids, b.asks} {
		for i := 1; i < len(ladder.levels); i++ {
			if ladder.levels[i-1].Price.Compare(ladder.levels[i].Price) >= 0 {
				return errors.Wrap(exception.ErrBookUnordered, b.instrumentID.String()).With("level", ladder.levels[i].Price)
			}
		}
	}

	bid, okBid := b.BestBidPrice()
	ask, okAsk := b.BestAskPrice()
	if okBid && okAsk && bid.Cmp(ask) > 0 {
		return errors.Wrap(exception.ErrBookCrossed, b.instrumentID.String()).
			With("bid", bid).
			With("ask", ask)
	}
	return nil
}
