package orderbook

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
)

var _instrument = model.NewInstrumentID("BTC-USD", "TEST")

func px(v float64) model.Price {
	return model.NewPrice(v, 2)
}

func qty(v float64) model.Quantity {
	return model.NewQuantity(v, 4)
}

func bid(price, size float64, id uint64) model.BookOrder {
	return model.BookOrder{Side: enum.OrderSideBuy, Price: px(price), Size: qty(size), OrderID: id}
}

func ask(price, size float64, id uint64) model.BookOrder {
	return model.BookOrder{Side: enum.OrderSideSell, Price: px(price), Size: qty(size), OrderID: id}
}

func newBook(t *testing.T, bookType enum.BookType) *OrderBook {
	t.Helper()
	b, err := New(_instrument, bookType)
	require.NoError(t, err)
	return b
}

func TestNewRejectsUnknownBookType(t *testing.T) {
	_, err := New(_instrument, enum.BookType(0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBookInvalidForType))
}

func TestDeleteMissingOrderLeavesBookUntouched(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)

	err := b.ApplyDelta(model.BookDelta{
		InstrumentID: _instrument,
		Action:       enum.BookActionDelete,
		Order:        model.BookOrder{Side: enum.OrderSideBuy, Price: px(100), OrderID: 999},
		Sequence:     7,
		TsEvent:      70,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBookOrderNotFound))
	assert.True(t, errors.Is(err, exception.ErrIntegrity))

	assert.Zero(t, b.Sequence())
	assert.Zero(t, b.TsLast())
	assert.Zero(t, b.UpdateCount())
	assert.False(t, b.HasBid())
	assert.False(t, b.HasAsk())
}

func TestDeleteWithoutSideOnUnknownOrder(t *testing.T) {
	b := newBook(t, enum.BookTypeL3MBO)

	err := b.ApplyDelta(model.BookDelta{
		Action: enum.BookActionDelete,
		Order:  model.BookOrder{OrderID: 999},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBookOrderNotFound))
	assert.Zero(t, b.UpdateCount())
}

func TestApplyDepthClearsPriorState(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)
	require.NoError(t, b.Add(bid(99, 1, 0), 1, 10))
	require.NoError(t, b.Add(bid(98, 2, 0), 2, 20))
	require.NoError(t, b.Add(ask(101, 1, 0), 3, 30))

	depth := model.Depth{
		InstrumentID: _instrument,
		Bids:         []model.DepthLevel{{Price: px(95), Size: qty(3)}},
		Asks:         []model.DepthLevel{{Price: px(96), Size: qty(4)}, {Price: px(97), Size: qty(5)}},
		Sequence:     10,
		TsEvent:      100,
	}
	require.NoError(t, b.ApplyDepth(depth))

	require.Len(t, b.Bids(0), 1)
	require.Len(t, b.Asks(0), 2)
	bestBid, ok := b.BestBidPrice()
	require.True(t, ok)
	assert.Equal(t, px(95).Raw, bestBid.Raw)
	bestAsk, ok := b.BestAskPrice()
	require.True(t, ok)
	assert.Equal(t, px(96).Raw, bestAsk.Raw)
	assert.Equal(t, uint64(10), b.Sequence())
	assert.Equal(t, int64(100), b.TsLast())
	require.NoError(t, b.CheckIntegrity())
}

func TestApplyDepthIsIdempotent(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)
	depth := model.Depth{
		InstrumentID: _instrument,
		Bids:         []model.DepthLevel{{Price: px(99), Size: qty(1)}, {Price: px(98), Size: qty(2)}},
		Asks:         []model.DepthLevel{{Price: px(100), Size: qty(3)}},
		Sequence:     5,
	}

	require.NoError(t, b.ApplyDepth(depth))
	first := b.Snapshot(10)
	require.NoError(t, b.ApplyDepth(depth))
	second := b.Snapshot(10)

	assert.Equal(t, first.Bids, second.Bids)
	assert.Equal(t, first.Asks, second.Asks)
	assert.Equal(t, first.Sequence, second.Sequence)
}

func TestApplyDeltaInstrumentMismatch(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)
	err := b.ApplyDelta(model.BookDelta{
		InstrumentID: model.NewInstrumentID("ETH-USD", "TEST"),
		Action:       enum.BookActionAdd,
		Order:        bid(1, 1, 0),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBookInstrument))
	assert.Zero(t, b.UpdateCount())
}

func TestL2AggregatesByPrice(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)
	require.NoError(t, b.Add(bid(100, 1, 1), 1, 1))
	require.NoError(t, b.Update(bid(100, 3, 2), 2, 2))

	levels := b.Bids(0)
	require.Len(t, levels, 1)
	assert.Equal(t, 1, levels[0].Len())
	assert.Equal(t, qty(3).Raw, levels[0].Size().Raw)

	require.NoError(t, b.Update(bid(100, 0, 0), 3, 3))
	assert.False(t, b.HasBid())
	require.NoError(t, b.CheckIntegrity())
}

func TestL3KeepsQueuePosition(t *testing.T) {
	b := newBook(t, enum.BookTypeL3MBO)
	require.NoError(t, b.Add(bid(100, 1, 1), 1, 1))
	require.NoError(t, b.Add(bid(100, 2, 2), 2, 2))
	require.NoError(t, b.Add(bid(100, 3, 3), 3, 3))

	require.NoError(t, b.Update(bid(100, 5, 2), 4, 4))
	orders := b.Bids(1)[0].Orders()
	require.Len(t, orders, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{orders[0].OrderID, orders[1].OrderID, orders[2].OrderID})
	assert.Equal(t, qty(5).Raw, orders[1].Size.Raw)

	// a price change moves the order to the tail of the new level
	require.NoError(t, b.Update(bid(101, 5, 1), 5, 5))
	levels := b.Bids(0)
	require.Len(t, levels, 2)
	assert.Equal(t, px(101).Raw, levels[0].Price.Value.Raw)
	assert.Equal(t, 2, levels[1].Len())

	require.NoError(t, b.Delete(bid(100, 0, 3), 6, 6))
	assert.Equal(t, 1, b.Bids(0)[1].Len())
	require.NoError(t, b.CheckIntegrity())
}

func TestL1UpdateReplacesTop(t *testing.T) {
	b := newBook(t, enum.BookTypeL1MBP)

	err := b.Add(bid(100, 1, 0), 1, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBookInvalidForType))

	require.NoError(t, b.Update(bid(100, 1, 0), 1, 1))
	require.NoError(t, b.Update(ask(101, 1, 0), 2, 2))
	require.NoError(t, b.Update(bid(100.5, 2, 0), 3, 3))

	assert.Len(t, b.Bids(0), 1)
	size, ok := b.BestBidSize()
	require.True(t, ok)
	assert.Equal(t, qty(2).Raw, size.Raw)

	// a bid through the ask clears the stale ask
	require.NoError(t, b.Update(bid(102, 1, 0), 4, 4))
	assert.False(t, b.HasAsk())
	require.NoError(t, b.CheckIntegrity())
}

func TestQuoteTick(t *testing.T) {
	b := newBook(t, enum.BookTypeL1MBP)
	require.NoError(t, b.UpdateQuoteTick(model.Quote{
		BidPrice: px(99), AskPrice: px(101), BidSize: qty(1), AskSize: qty(2), TsEvent: 5,
	}))
	require.NoError(t, b.UpdateQuoteTick(model.Quote{
		BidPrice: px(99.5), AskPrice: px(100.5), BidSize: qty(3), AskSize: qty(4), TsEvent: 6,
	}))

	spread, ok := b.Spread()
	require.True(t, ok)
	assert.InDelta(t, 1.0, spread, 1e-9)
	mid, ok := b.Midpoint()
	require.True(t, ok)
	assert.InDelta(t, 100.0, mid, 1e-9)
	assert.Equal(t, uint64(2), b.UpdateCount())
	require.NoError(t, b.CheckIntegrity())

	l3 := newBook(t, enum.BookTypeL3MBO)
	err := l3.UpdateQuoteTick(model.Quote{BidPrice: px(1), AskPrice: px(2)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBookInvalidForType))
	err = l3.UpdateTradeTick(model.Trade{Price: px(1), Size: qty(1)})
	assert.True(t, errors.Is(err, exception.ErrBookInvalidForType))
}

func TestTradeTick(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)
	require.NoError(t, b.UpdateTradeTick(model.Trade{Price: px(100), Size: qty(1), TsEvent: 1}))

	bestBid, _ := b.BestBidPrice()
	bestAsk, _ := b.BestAskPrice()
	assert.Equal(t, bestBid.Raw, bestAsk.Raw)
	require.NoError(t, b.CheckIntegrity())
}

func TestCheckIntegrityDetectsCrossed(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)
	require.NoError(t, b.Add(bid(101, 1, 0), 1, 1))
	require.NoError(t, b.Add(ask(101, 1, 0), 2, 2))
	require.NoError(t, b.CheckIntegrity(), "locked book is accepted")

	require.NoError(t, b.Add(ask(100, 1, 0), 3, 3))
	err := b.CheckIntegrity()
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBookCrossed))
}

func TestCheckIntegrityTooManyOrders(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)
	// bypass the price-derived ids
	b.bids.Add(bid(100, 1, 1))
	b.bids.Add(bid(100, 1, 2))

	err := b.CheckIntegrity()
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBookTooManyOrders))
}

func TestCheckIntegrityTooManyLevels(t *testing.T) {
	b := newBook(t, enum.BookTypeL1MBP)
	b.bids.Add(bid(100, 1, 1))
	b.bids.Add(bid(99, 1, 2))

	err := b.CheckIntegrity()
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBookTooManyLevels))
}

func TestClearStaleLevels(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)
	require.NoError(t, b.Add(bid(103, 1, 0), 1, 1))
	require.NoError(t, b.Add(bid(102, 1, 0), 2, 2))
	require.NoError(t, b.Add(bid(99, 1, 0), 3, 3))
	require.NoError(t, b.Add(ask(100, 1, 0), 4, 4))
	require.NoError(t, b.Add(ask(101, 1, 0), 5, 5))

	removed := b.ClearStaleLevels(enum.OrderSideBuy)
	require.Len(t, removed, 2)

	bestBid, _ := b.BestBidPrice()
	assert.Equal(t, px(99).Raw, bestBid.Raw)
	assert.Equal(t, 2, b.asks.Len())
	require.NoError(t, b.CheckIntegrity())

	assert.Nil(t, b.ClearStaleLevels(enum.OrderSide(0)))
}

func TestApplyDeltasSnapshot(t *testing.T) {
	b := newBook(t, enum.BookTypeL3MBO)
	require.NoError(t, b.Add(bid(50, 1, 77), 1, 1))

	deltas := model.BookDeltas{
		InstrumentID: _instrument,
		Deltas: []model.BookDelta{
			model.NewClearDelta(_instrument, 2, 2, 2),
			{InstrumentID: _instrument, Action: enum.BookActionAdd, Order: bid(99, 1, 1), Sequence: 2},
			{InstrumentID: _instrument, Action: enum.BookActionAdd, Order: ask(100, 2, 2), Sequence: 2},
			{InstrumentID: _instrument, Action: enum.BookActionUpdate, Order: model.BookOrder{Price: px(100), Size: qty(5), OrderID: 2}, Sequence: 3},
		},
	}
	require.True(t, deltas.IsSnapshot())
	require.NoError(t, b.ApplyDeltas(deltas))

	assert.False(t, b.bids.Contains(77))
	size, ok := b.BestAskSize()
	require.True(t, ok)
	assert.Equal(t, qty(5).Raw, size.Raw, "side resolved from the order cache")
	assert.Equal(t, uint64(3), b.Sequence())
}

func TestSimulateFills(t *testing.T) {
	b := newBook(t, enum.BookTypeL3MBO)
	require.NoError(t, b.Add(ask(100, 1, 1), 1, 1))
	require.NoError(t, b.Add(ask(100, 2, 2), 2, 2))
	require.NoError(t, b.Add(ask(101, 3, 3), 3, 3))
	require.NoError(t, b.Add(ask(105, 4, 4), 4, 4))

	fills := b.SimulateFills(bid(101, 5, 99))
	require.Len(t, fills, 3)
	assert.Equal(t, px(100).Raw, fills[0].Price.Raw)
	assert.Equal(t, qty(1).Raw, fills[0].Size.Raw)
	assert.Equal(t, qty(2).Raw, fills[1].Size.Raw)
	assert.Equal(t, px(101).Raw, fills[2].Price.Raw)
	assert.Equal(t, qty(2).Raw, fills[2].Size.Raw)

	// the limit stops the walk before 105
	fills = b.SimulateFills(bid(101, 100, 99))
	require.Len(t, fills, 3)
	var total int64
	for _, f := range fills {
		total += f.Size.Raw
	}
	assert.Equal(t, qty(6).Raw, total)

	assert.Empty(t, b.SimulateFills(bid(99, 1, 99)))
}

func TestAvgPxAndQuantityForPrice(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)
	require.NoError(t, b.Add(ask(100, 1, 0), 1, 1))
	require.NoError(t, b.Add(ask(102, 1, 0), 2, 2))
	require.NoError(t, b.Add(bid(99, 2, 0), 3, 3))

	assert.InDelta(t, 101.0, b.AvgPxForQuantity(qty(2), enum.OrderSideBuy), 1e-9)
	assert.InDelta(t, 100.0, b.AvgPxForQuantity(qty(0.5), enum.OrderSideBuy), 1e-9)
	assert.InDelta(t, 99.0, b.AvgPxForQuantity(qty(1), enum.OrderSideSell), 1e-9)

	assert.InDelta(t, 1.0, b.QuantityForPrice(px(101), enum.OrderSideBuy), 1e-9)
	assert.InDelta(t, 2.0, b.QuantityForPrice(px(102), enum.OrderSideBuy), 1e-9)
	assert.InDelta(t, 0.0, b.QuantityForPrice(px(100), enum.OrderSideSell), 1e-9)

	empty := newBook(t, enum.BookTypeL2MBP)
	assert.Zero(t, empty.AvgPxForQuantity(qty(1), enum.OrderSideBuy))
}

func TestResetAndPprint(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)
	require.NoError(t, b.Add(bid(99, 1, 0), 1, 1))
	require.NoError(t, b.Add(ask(100, 2, 0), 2, 2))

	out := b.Pprint(5)
	assert.Contains(t, out, "BTC-USD.TEST")
	assert.Contains(t, out, "99")

	b.Reset()
	assert.False(t, b.HasBid())
	assert.False(t, b.HasAsk())
	assert.Zero(t, b.Sequence())
	assert.Zero(t, b.UpdateCount())
}

func TestRandomL2DeltasKeepIntegrity(t *testing.T) {
	b := newBook(t, enum.BookTypeL2MBP)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := range 2000 {
		// bids on 1..100, asks on 101..200 so the book never crosses
		side := enum.OrderSideBuy
		price := float64(1 + rng.IntN(100))
		if rng.IntN(2) == 0 {
			side = enum.OrderSideSell
			price += 100
		}
		order := model.BookOrder{Side: side, Price: px(price), Size: qty(float64(rng.IntN(5)))}

		var err error
		switch rng.IntN(3) {
		case 0:
			if order.Size.IsPositive() {
				err = b.Add(order, uint64(i), int64(i))
			}
		case 1:
			err = b.Update(order, uint64(i), int64(i))
		default:
			err = b.Delete(order, uint64(i), int64(i))
			if errors.Is(err, exception.ErrBookOrderNotFound) {
				err = nil
			}
		}
		require.NoError(t, err)
		require.NoError(t, b.CheckIntegrity())

		bestBid, okBid := b.BestBidPrice()
		bestAsk, okAsk := b.BestAskPrice()
		if okBid && okAsk {
			require.Negative(t, bestBid.Cmp(bestAsk))
		}
	}
}
