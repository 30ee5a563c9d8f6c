package dydx

import (
	"context"
	"time"

	"github.com/yanun0323/errors"

	"venuelink/internal/bus"
	"venuelink/internal/cache"
	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/internal/venue"
	"venuelink/pkg/exception"
	"venuelink/pkg/websocket"
)

// Router maps streams onto indexer channels. Quotes come from the book top.
type Router struct{}

func (Router) Route(stream venue.Stream, id model.InstrumentID, bookType enum.BookType) (string, string, error) {
	switch stream {
	case venue.StreamInstruments, venue.StreamMarkPrices, venue.StreamIndexPrices:
		return ChannelMarkets, "", nil
	case venue.StreamTrades:
		return ChannelTrades, id.Symbol, nil
	case venue.StreamQuotes:
		return ChannelOrderbook, id.Symbol, nil
	case venue.StreamBookDeltas:
		if bookType != enum.BookTypeL2MBP {
			return "", "", errors.Wrap(exception.ErrInvalidArgument, "dydx books are L2").With("book_type", bookType)
		}
		return ChannelOrderbook, id.Symbol, nil
	default:
		return "", "", errors.Wrap(exception.ErrInvalidArgument, "unsupported stream").With("stream", stream)
	}
}

func (Router) NeedsBook(stream venue.Stream) bool {
	return stream == venue.StreamQuotes
}

// DataConfig configures the indexer data client.
type DataConfig struct {
	URL    string
	Dialer websocket.Dialer
	Tuning websocket.Tuning
	// OnStateChange observes session transitions.
	OnStateChange func(from, to websocket.State)
	// Queue, when set, carries feed events to the bus.
	Queue *bus.Queue
}

// DataClient adds the subaccount stream to the generic data client.
type DataClient struct {
	*venue.DataClient
}

// NewDataClient wires a session and feed around decoder. Pass the decoder
// shared with the delegator.
func NewDataClient(cfg DataConfig, decoder *Decoder, publisher *bus.MessageBus, c *cache.Cache) (*DataClient, error) {
	if cfg.URL == "" {
		cfg.URL = WsURL
	}
	opts := []venue.FeedOption{venue.WithCrossedResolution(), venue.WithDerivedQuotes()}
	if cfg.Queue != nil {
		opts = append(opts, venue.WithQueue(cfg.Queue))
	}
	feed := venue.NewFeed(Venue, decoder, publisher, c, opts...)

	wsCfg := websocket.Config{
		Name:                  "dydx",
		URL:                   cfg.URL,
		Codec:                 Codec{},
		Dialer:                cfg.Dialer,
		ChunkSize:             1,
		OnMessage:             feed.OnMessage,
		ResnapshotOnIntegrity: true,
		OnStateChange:         cfg.OnStateChange,
	}
	cfg.Tuning.Apply(&wsCfg)

	session, err := websocket.NewSession(wsCfg)
	if err != nil {
		return nil, err
	}
	return &DataClient{DataClient: venue.NewDataClient(Venue, session, feed, c, Router{})}, nil
}

// SubscribeSubaccount streams orders, fills and balances of one subaccount.
func (d *DataClient) SubscribeSubaccount(ctx context.Context, address string, number int) error {
	return d.Session().Subscribe(ctx, ChannelSubaccounts, subaccountID(address, number))
}

func (d *DataClient) UnsubscribeSubaccount(ctx context.Context, address string, number int) error {
	return d.Session().Unsubscribe(ctx, ChannelSubaccounts, subaccountID(address, number))
}

// NewSharedDecoder builds the decoder shared by the data client and the
// delegator.
func NewSharedDecoder(markets *Markets) *Decoder {
	return NewDecoder(markets, NewClientIDs(), func() int64 { return time.Now().UnixNano() })
}
