// Package cache holds the latest market state per instrument.
package cache

import (
	"slices"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/internal/bus"
	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
	"venuelink/pkg/orderbook"
	"venuelink/pkg/xrate"
)

type currencyPair struct {
	from, to string
}

type Cache struct {
	mu          sync.RWMutex
	instruments map[model.InstrumentID]model.Instrument
	quotes      map[model.InstrumentID]model.Quote
	books       map[model.InstrumentID]*orderbook.OrderBook
	markXRates  map[currencyPair]float64
}

func New() *Cache {
	return &Cache{
		instruments: make(map[model.InstrumentID]model.Instrument),
		quotes:      make(map[model.InstrumentID]model.Quote),
		books:       make(map[model.InstrumentID]*orderbook.OrderBook),
		markXRates:  make(map[currencyPair]float64),
	}
}

// Attach subscribes the cache to quote and instrument topics of every venue.
func (c *Cache) Attach(b *bus.MessageBus) error {
	if err := b.Subscribe(bus.AllQuotesPattern, "cache", func(_ string, msg any) {
		if quote, ok := msg.(model.Quote); ok {
			c.UpdateQuote(quote)
		}
	}, 100); err != nil {
		return errors.Wrap(err, "subscribe quotes")
	}

	if err := b.Subscribe("data.instruments.*.*", "cache", func(_ string, msg any) {
		if instrument, ok := msg.(model.Instrument); ok {
			c.AddInstrument(instrument)
		}
	}, 100); err != nil {
		return errors.Wrap(err, "subscribe instruments")
	}
	return nil
}

func (c *Cache) AddInstrument(instrument model.Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments[instrument.ID] = instrument
}

func (c *Cache) Instrument(id model.InstrumentID) (model.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	instrument, ok := c.instruments[id]
	return instrument, ok
}

// Instruments lists the instruments of venue, or of every venue when venue
// is empty, sorted by id.
func (c *Cache) Instruments(venue string) []model.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]model.Instrument, 0, len(c.instruments))
	for id, instrument := range c.instruments {
		if venue == "" || id.Venue == venue {
			result = append(result, instrument)
		}
	}
	slices.SortFunc(result, func(a, b model.Instrument) int {
		switch {
		case a.ID.String() < b.ID.String():
			return -1
		case a.ID.String() > b.ID.String():
			return 1
		default:
			return 0
		}
	})
	return result
}

// UpdateQuote stores quote unless an equal or newer one is already cached.
func (c *Cache) UpdateQuote(quote model.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.quotes[quote.InstrumentID]; ok && last.TsEvent > quote.TsEvent {
		return
	}
	c.quotes[quote.InstrumentID] = quote
}

func (c *Cache) Quote(id model.InstrumentID) (model.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	quote, ok := c.quotes[id]
	return quote, ok
}

// AddBook hands ownership of book to the cache. An existing book for the
// same instrument is replaced.
func (c *Cache) AddBook(book *orderbook.OrderBook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[book.InstrumentID()] = book
}

func (c *Cache) HasBook(id model.InstrumentID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.books[id]
	return ok
}

// WithBook runs fn on the book of id while holding the cache lock, so
// writers and readers never observe a partially applied frame.
func (c *Cache) WithBook(id model.InstrumentID, fn func(*orderbook.OrderBook) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	book, ok := c.books[id]
	if !ok {
		return errors.Wrap(exception.ErrInvalidArgument, "no book for instrument").With("instrument", id)
	}
	return fn(book)
}

// XRate resolves the rate from one currency to another using the latest
// quotes cached for venue.
func (c *Cache) XRate(venue, from, to string, priceType enum.PriceType) (float64, bool) {
	if from == to {
		return 1, true
	}

	bids, asks := c.quoteTable(venue)
	rate, ok, err := xrate.Rate(from, to, priceType, bids, asks)
	if err != nil {
		logs.Errorf("calculate xrate %s/%s on %s, err: %+v", from, to, venue, err)
		return 0, false
	}
	return rate, ok
}

func (c *Cache) quoteTable(venue string) (bids, asks map[string]float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bids = make(map[string]float64)
	asks = make(map[string]float64)
	for id, quote := range c.quotes {
		if id.Venue != venue {
			continue
		}
		base, quoteCcy, ok := c.currencies(id)
		if !ok {
			continue
		}
		pair := base + "/" + quoteCcy
		bids[pair] = quote.BidPrice.Float64()
		asks[pair] = quote.AskPrice.Float64()
	}
	return bids, asks
}

func (c *Cache) currencies(id model.InstrumentID) (string, string, bool) {
	if instrument, ok := c.instruments[id]; ok && instrument.BaseCurrency != "" && instrument.QuoteCurrency != "" {
		return instrument.BaseCurrency, instrument.QuoteCurrency, true
	}
	return id.Currencies()
}

// SetMarkXRate stores a mark rate and its inverse.
func (c *Cache) SetMarkXRate(from, to string, rate float64) error {
	if rate <= 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "mark xrate must be positive").With("rate", rate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.markXRates[currencyPair{from, to}] = rate
	c.markXRates[currencyPair{to, from}] = 1 / rate
	return nil
}

func (c *Cache) MarkXRate(from, to string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rate, ok := c.markXRates[currencyPair{from, to}]
	return rate, ok
}

// ClearMarkXRate removes only the from->to direction.
func (c *Cache) ClearMarkXRate(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markXRates, currencyPair{from, to})
}

func (c *Cache) ClearMarkXRates() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.markXRates)
}
