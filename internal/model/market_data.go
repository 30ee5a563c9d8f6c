package model

import "venuelink/internal/model/enum"

// Record flags carried by book deltas.
const (
	FlagLast     uint8 = 1 << 7
	FlagTOB      uint8 = 1 << 6
	FlagSnapshot uint8 = 1 << 5
)

// Quote is a top-of-book tick.
type Quote struct {
	InstrumentID InstrumentID
	BidPrice     Price
	AskPrice     Price
	BidSize      Quantity
	AskSize      Quantity
	TsEvent      int64
	TsInit       int64
}

// Trade is a venue print.
type Trade struct {
	InstrumentID  InstrumentID
	Price         Price
	Size          Quantity
	AggressorSide enum.AggressorSide
	TradeID       string
	TsEvent       int64
	TsInit        int64
}

// BookOrder is a resting order. For L2 books OrderID is the raw price, for L1
// books it is the side.
type BookOrder struct {
	Side    enum.OrderSide
	Price   Price
	Size    Quantity
	OrderID uint64
}

// Exposure returns price * size.
func (o BookOrder) Exposure() float64 {
	return o.Price.Float64() * o.Size.Float64()
}

// BookDelta is one mutation of a book.
type BookDelta struct {
	InstrumentID InstrumentID
	Action       enum.BookAction
	Order        BookOrder
	Flags        uint8
	Sequence     uint64
	TsEvent      int64
	TsInit       int64
}

// NewClearDelta builds the delta that empties a book before a snapshot.
func NewClearDelta(id InstrumentID, sequence uint64, tsEvent, tsInit int64) BookDelta {
	return BookDelta{
		InstrumentID: id,
		Action:       enum.BookActionClear,
		Flags:        FlagSnapshot,
		Sequence:     sequence,
		TsEvent:      tsEvent,
		TsInit:       tsInit,
	}
}

// BookDeltas is a batch of deltas for one instrument.
type BookDeltas struct {
	InstrumentID InstrumentID
	Deltas       []BookDelta
	Sequence     uint64
	TsEvent      int64
	TsInit       int64
}

// IsSnapshot reports whether the batch starts with a snapshot clear.
func (d BookDeltas) IsSnapshot() bool {
	return len(d.Deltas) > 0 && d.Deltas[0].Flags&FlagSnapshot != 0
}

// DepthLevel is one aggregated level of a depth frame.
type DepthLevel struct {
	Price Price
	Size  Quantity
	Count uint32
}

// Depth is a top-N snapshot of both sides, best level first.
type Depth struct {
	InstrumentID InstrumentID
	Bids         []DepthLevel
	Asks         []DepthLevel
	Sequence     uint64
	TsEvent      int64
	TsInit       int64
}

// MarkPrice is a venue mark price update.
type MarkPrice struct {
	InstrumentID InstrumentID
	Value        Price
	TsEvent      int64
	TsInit       int64
}

// IndexPrice is a venue index price update.
type IndexPrice struct {
	InstrumentID InstrumentID
	Value        Price
	TsEvent      int64
	TsInit       int64
}
