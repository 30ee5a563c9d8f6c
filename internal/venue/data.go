package venue

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/internal/cache"
	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
	"venuelink/pkg/orderbook"
	"venuelink/pkg/websocket"
)

// Stream is a market data stream a DataClient can subscribe to.
type Stream uint8

const (
	_stream_beg Stream = iota
	StreamInstruments
	StreamQuotes
	StreamTrades
	StreamBookDeltas
	StreamBookDepth
	StreamMarkPrices
	StreamIndexPrices
	_stream_end
)

func (s Stream) IsAvailable() bool {
	return s > _stream_beg && s < _stream_end
}

func (s Stream) String() string {
	switch s {
	case StreamInstruments:
		return "instruments"
	case StreamQuotes:
		return "quotes"
	case StreamTrades:
		return "trades"
	case StreamBookDeltas:
		return "book_deltas"
	case StreamBookDepth:
		return "book_depth"
	case StreamMarkPrices:
		return "mark_prices"
	case StreamIndexPrices:
		return "index_prices"
	default:
		return "unknown"
	}
}

// ParseStream resolves a stream by its String form.
func ParseStream(name string) (Stream, bool) {
	for s := _stream_beg + 1; s < _stream_end; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// Router maps a stream onto the venue channel and symbol carrying it. An
// empty symbol subscribes the whole channel.
type Router interface {
	Route(stream Stream, id model.InstrumentID, bookType enum.BookType) (channel, symbol string, err error)
}

// BookRouter is implemented by routers whose streams other than book
// deltas are served from a cached book, e.g. quotes derived from the book top.
type BookRouter interface {
	Router
	NeedsBook(stream Stream) bool
}

// DataClient implements client.DataClient over one session. Streams that
// share a venue channel share its subscription through the registry's
// reference counts.
type DataClient struct {
	venue   string
	session *websocket.Session
	feed    *Feed
	cache   *cache.Cache
	router  Router

	mu     sync.Mutex
	books  map[model.InstrumentID]enum.BookType
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDataClient(venue string, session *websocket.Session, feed *Feed, c *cache.Cache, router Router) *DataClient {
	return &DataClient{
		venue:   venue,
		session: session,
		feed:    feed,
		cache:   c,
		router:  router,
		books:   make(map[model.InstrumentID]enum.BookType),
	}
}

func (d *DataClient) Venue() string {
	return d.venue
}

// Session exposes the underlying session for stats.
func (d *DataClient) Session() *websocket.Session {
	return d.session
}

func (d *DataClient) Feed() *Feed {
	return d.feed
}

// Connect connects the session and starts the feed pump.
func (d *DataClient) Connect(ctx context.Context) error {
	if err := d.session.Connect(ctx); err != nil {
		return errors.Wrap(err, "connect data client").With("venue", d.venue)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		return nil
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		d.feed.Run(pumpCtx, d.session.Events())
	}(d.done)

	logs.Infof("%s data client connected", d.venue)
	return nil
}

// Disconnect closes the session and waits for the pump to drain.
func (d *DataClient) Disconnect(ctx context.Context) error {
	err := d.session.Close(ctx)

	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		select {
		case <-done:
		case <-ctx.Done():
			cancel()
		}
		cancel()
	}
	return err
}

func (d *DataClient) IsConnected() bool {
	return d.session.State() == websocket.StateConnected
}

func (d *DataClient) subscribe(ctx context.Context, stream Stream, id model.InstrumentID, bookType enum.BookType) error {
	if !id.IsZero() && id.Venue != d.venue {
		return errors.Wrap(exception.ErrInvalidArgument, "instrument of another venue").With("instrument", id).With("venue", d.venue)
	}
	channel, symbol, err := d.router.Route(stream, id, bookType)
	if err != nil {
		return err
	}
	if br, ok := d.router.(BookRouter); ok && br.NeedsBook(stream) {
		if err := d.ensureBook(id, enum.BookTypeL2MBP); err != nil {
			return err
		}
	}
	if symbol == "" {
		return d.session.Subscribe(ctx, channel)
	}
	return d.session.Subscribe(ctx, channel, symbol)
}

func (d *DataClient) unsubscribe(ctx context.Context, stream Stream, id model.InstrumentID, bookType enum.BookType) error {
	channel, symbol, err := d.router.Route(stream, id, bookType)
	if err != nil {
		return err
	}
	if symbol == "" {
		return d.session.Unsubscribe(ctx, channel)
	}
	return d.session.Unsubscribe(ctx, channel, symbol)
}

func (d *DataClient) SubscribeInstruments(ctx context.Context) error {
	return d.subscribe(ctx, StreamInstruments, model.InstrumentID{}, 0)
}

func (d *DataClient) SubscribeQuotes(ctx context.Context, id model.InstrumentID) error {
	return d.subscribe(ctx, StreamQuotes, id, 0)
}

func (d *DataClient) SubscribeTrades(ctx context.Context, id model.InstrumentID) error {
	return d.subscribe(ctx, StreamTrades, id, 0)
}

// SubscribeBookDeltas creates the cached book before subscribing so the
// first snapshot has somewhere to land.
func (d *DataClient) SubscribeBookDeltas(ctx context.Context, id model.InstrumentID, bookType enum.BookType) error {
	if err := d.ensureBook(id, bookType); err != nil {
		return err
	}

	d.mu.Lock()
	d.books[id] = bookType
	d.mu.Unlock()

	return d.subscribe(ctx, StreamBookDeltas, id, bookType)
}

func (d *DataClient) SubscribeBookDepth(ctx context.Context, id model.InstrumentID) error {
	if err := d.ensureBook(id, enum.BookTypeL2MBP); err != nil {
		return err
	}
	return d.subscribe(ctx, StreamBookDepth, id, enum.BookTypeL2MBP)
}

func (d *DataClient) ensureBook(id model.InstrumentID, bookType enum.BookType) error {
	if d.cache.HasBook(id) {
		return nil
	}
	book, err := orderbook.New(id, bookType)
	if err != nil {
		return err
	}
	d.cache.AddBook(book)
	return nil
}

func (d *DataClient) SubscribeMarkPrices(ctx context.Context, id model.InstrumentID) error {
	return d.subscribe(ctx, StreamMarkPrices, id, 0)
}

func (d *DataClient) SubscribeIndexPrices(ctx context.Context, id model.InstrumentID) error {
	return d.subscribe(ctx, StreamIndexPrices, id, 0)
}

func (d *DataClient) UnsubscribeInstruments(ctx context.Context) error {
	return d.unsubscribe(ctx, StreamInstruments, model.InstrumentID{}, 0)
}

func (d *DataClient) UnsubscribeQuotes(ctx context.Context, id model.InstrumentID) error {
	return d.unsubscribe(ctx, StreamQuotes, id, 0)
}

func (d *DataClient) UnsubscribeTrades(ctx context.Context, id model.InstrumentID) error {
	return d.unsubscribe(ctx, StreamTrades, id, 0)
}

func (d *DataClient) UnsubscribeBookDeltas(ctx context.Context, id model.InstrumentID) error {
	d.mu.Lock()
	bookType, ok := d.books[id]
	delete(d.books, id)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return d.unsubscribe(ctx, StreamBookDeltas, id, bookType)
}

func (d *DataClient) UnsubscribeBookDepth(ctx context.Context, id model.InstrumentID) error {
	return d.unsubscribe(ctx, StreamBookDepth, id, enum.BookTypeL2MBP)
}

func (d *DataClient) UnsubscribeMarkPrices(ctx context.Context, id model.InstrumentID) error {
	return d.unsubscribe(ctx, StreamMarkPrices, id, 0)
}

func (d *DataClient) UnsubscribeIndexPrices(ctx context.Context, id model.InstrumentID) error {
	return d.unsubscribe(ctx, StreamIndexPrices, id, 0)
}
