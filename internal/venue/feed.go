// Package venue holds the plumbing shared by venue adapters: the feed that
// turns session messages into bus events and keeps cached books current.
package venue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/internal/bus"
	"venuelink/internal/cache"
	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
	"venuelink/pkg/orderbook"
	"venuelink/pkg/websocket"
)

// Decoder turns one session message into bus events.
type Decoder interface {
	Decode(msg websocket.Message) ([]bus.Event, error)
	// IsBook reports whether msg carries book deltas or depth. Book messages
	// are decoded and applied on the reader so integrity errors reach the
	// session.
	IsBook(msg websocket.Message) bool
}

// Feed connects a session to the bus and the cache.
type Feed struct {
	name      string
	decoder   Decoder
	publisher *bus.MessageBus
	queue     *bus.Queue
	cache     *cache.Cache

	resolveCrossed bool
	deriveQuotes   bool
	dropped        atomic.Uint64

	mu     sync.Mutex
	quotes map[model.InstrumentID]model.Quote
}

// FeedOption customizes a Feed.
type FeedOption func(*Feed)

// WithCrossedResolution trims the stale side of a book crossed by a delta
// batch instead of reporting an integrity error. The side opposite to the
// last delta is considered stale.
func WithCrossedResolution() FeedOption {
	return func(f *Feed) { f.resolveCrossed = true }
}

// WithDerivedQuotes publishes a quote from the book top whenever it changes,
// for venues without a quote stream.
func WithDerivedQuotes() FeedOption {
	return func(f *Feed) { f.deriveQuotes = true }
}

// WithQueue hands events to q instead of publishing on the caller. The pump
// waits for room, the session reader drops and counts what does not fit.
func WithQueue(q *bus.Queue) FeedOption {
	return func(f *Feed) { f.queue = q }
}

func NewFeed(name string, decoder Decoder, publisher *bus.MessageBus, c *cache.Cache, opts ...FeedOption) *Feed {
	f := &Feed{
		name:      name,
		decoder:   decoder,
		publisher: publisher,
		cache:     c,
		quotes:    make(map[model.InstrumentID]model.Quote),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OnMessage is installed as the session hook. Book frames are applied to
// the cached book and published immediately.
func (f *Feed) OnMessage(msg websocket.Message) error {
	if !f.decoder.IsBook(msg) {
		return nil
	}

	events, err := f.decoder.Decode(msg)
	if err != nil {
		return err
	}
	var quotes []bus.Event
	for _, e := range events {
		quote, changed, err := f.applyBook(e.Payload)
		if err != nil {
			return err
		}
		if changed {
			quotes = append(quotes, bus.Event{Topic: bus.QuotesTopic(quote.InstrumentID), Payload: quote})
		}
	}
	f.offer(events)
	f.offer(quotes)
	return nil
}

// Dropped returns the number of book events the queue had no room for.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// Run drains session events until the channel closes or ctx ends. Book
// messages were already handled by OnMessage.
func (f *Feed) Run(ctx context.Context, events <-chan websocket.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				logs.Infof("feed %s: session events closed", f.name)
				return
			}
			if f.decoder.IsBook(msg) {
				continue
			}
			decoded, err := f.decoder.Decode(msg)
			if err != nil {
				logs.Errorf("feed %s: decode %s message, topic: %s, err: %+v", f.name, msg.Kind, msg.Topic, err)
				continue
			}
			f.publish(ctx, decoded)
		}
	}
}

// offer publishes from the session reader, which must never block.
func (f *Feed) offer(events []bus.Event) {
	if f.queue == nil {
		f.direct(events)
		return
	}
	for _, e := range events {
		if err := f.queue.TryPublish(e); err != nil {
			if f.dropped.Add(1) == 1 || errors.Is(err, exception.ErrBusQueueClosed) {
				logs.Infof("warn: feed %s: drop %s, err: %+v", f.name, e.Topic, err)
			}
		}
	}
}

func (f *Feed) publish(ctx context.Context, events []bus.Event) {
	if f.queue == nil {
		f.direct(events)
		return
	}
	for _, e := range events {
		if err := f.queue.Publish(ctx, e); err != nil {
			logs.Infof("warn: feed %s: drop %s, err: %+v", f.name, e.Topic, err)
			return
		}
	}
}

func (f *Feed) direct(events []bus.Event) {
	for _, e := range events {
		f.publisher.Publish(e.Topic, e.Payload)
	}
}

func (f *Feed) applyBook(payload any) (model.Quote, bool, error) {
	var (
		id       model.InstrumentID
		apply    func(*orderbook.OrderBook) error
		lastSide enum.OrderSide
		ts       [2]int64
	)
	switch v := payload.(type) {
	case model.BookDeltas:
		id = v.InstrumentID
		apply = func(b *orderbook.OrderBook) error { return b.ApplyDeltas(v) }
		if n := len(v.Deltas); n != 0 {
			lastSide = v.Deltas[n-1].Order.Side
		}
		ts = [2]int64{v.TsEvent, v.TsInit}
	case model.Depth:
		id = v.InstrumentID
		apply = func(b *orderbook.OrderBook) error { return b.ApplyDepth(v) }
		ts = [2]int64{v.TsEvent, v.TsInit}
	default:
		return model.Quote{}, false, nil
	}

	if !f.cache.HasBook(id) {
		return model.Quote{}, false, nil
	}

	var (
		quote model.Quote
		top   bool
	)
	err := f.cache.WithBook(id, func(b *orderbook.OrderBook) error {
		if err := apply(b); err != nil {
			return errors.Wrap(err, "apply book frame").With("instrument", id)
		}
		if f.resolveCrossed && lastSide.IsAvailable() {
			if removed := b.ClearStaleLevels(lastSide.Opposite()); len(removed) != 0 {
				logs.Infof("warn: feed %s: removed %d crossed levels, instrument: %s", f.name, len(removed), id)
			}
		}
		if err := b.CheckIntegrity(); err != nil {
			return err
		}
		if f.deriveQuotes {
			quote, top = topOfBook(b, ts[0], ts[1])
		}
		return nil
	})
	if err != nil || !top {
		return model.Quote{}, false, err
	}
	return quote, f.quoteChanged(quote), nil
}

func topOfBook(b *orderbook.OrderBook, tsEvent, tsInit int64) (model.Quote, bool) {
	bid, okBid := b.BestBidPrice()
	ask, okAsk := b.BestAskPrice()
	if !okBid || !okAsk {
		return model.Quote{}, false
	}
	bidSize, _ := b.BestBidSize()
	askSize, _ := b.BestAskSize()
	return model.Quote{
		InstrumentID: b.InstrumentID(),
		BidPrice:     bid,
		AskPrice:     ask,
		BidSize:      bidSize,
		AskSize:      askSize,
		TsEvent:      tsEvent,
		TsInit:       tsInit,
	}, true
}

func (f *Feed) quoteChanged(q model.Quote) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	last, ok := f.quotes[q.InstrumentID]
	if ok && last.BidPrice == q.BidPrice && last.AskPrice == q.AskPrice &&
		last.BidSize == q.BidSize && last.AskSize == q.AskSize {
		return false
	}
	f.quotes[q.InstrumentID] = q
	return true
}
